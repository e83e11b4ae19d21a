package kv

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mkrupp/booksy/internal/infra/logging"
)

const (
	lockDir       = ".locks"
	lockRetryWait = 10 * time.Millisecond
)

// FileSystemStoreConfig holds configuration for the filesystem-based store.
type FileSystemStoreConfig struct {
	// Basedir is the directory holding one file per key
	Basedir string `env:"BASEDIR" default:"var/storage/kv"`
}

// FileSystemStore implements Store with one file per key below a base directory.
// Locks are advisory flocks and are honored across processes on the same host.
type FileSystemStore struct {
	cfg FileSystemStoreConfig
	log logging.Logger
}

var _ Store = (*FileSystemStore)(nil)

// NewFileSystemStore creates the base directory if needed and returns the store.
func NewFileSystemStore(ctx context.Context, cfg FileSystemStoreConfig) (*FileSystemStore, error) {
	log := logging.GetLogger("repo.kv.filesystem_store").With(
		logging.Group("store", "basedir", cfg.Basedir),
	)

	store := &FileSystemStore{
		cfg: cfg,
		log: log,
	}

	if err := store.initStorage(ctx); err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	return store, nil
}

func (s *FileSystemStore) initStorage(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			s.log.ErrorContext(ctx, "init storage failed", "error", err)
		} else {
			s.log.DebugContext(ctx, "init storage")
		}
	}()

	if err := os.MkdirAll(filepath.Join(s.cfg.Basedir, lockDir), 0o755); err != nil {
		return fmt.Errorf("mkdir all: %w", err)
	}

	return nil
}

// GetFilename returns the path of the file holding key.
func (s *FileSystemStore) GetFilename(key string) string {
	return filepath.Join(s.cfg.Basedir, key)
}

func (s *FileSystemStore) Get(ctx context.Context, key string) (value []byte, found bool, err error) {
	if err := ValidateKey(key); err != nil {
		return nil, false, err
	}

	filename := s.GetFilename(key)

	defer func() {
		log := s.log.With(logging.Group("kv", "key", key, "filename", filename))
		if err != nil {
			log.ErrorContext(ctx, "get failed", "error", err)
		} else {
			log.DebugContext(ctx, "get", "found", found, "size", len(value))
		}
	}()

	value, err = os.ReadFile(filename)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("read file: %w", err)
	}

	return value, true, nil
}

func (s *FileSystemStore) Set(ctx context.Context, key string, value []byte) (err error) {
	if err := ValidateKey(key); err != nil {
		return err
	}

	filename := s.GetFilename(key)

	defer func() {
		log := s.log.With(logging.Group("kv", "key", key, "filename", filename))
		if err != nil {
			log.ErrorContext(ctx, "set failed", "error", err)
		} else {
			log.DebugContext(ctx, "set", "size", len(value))
		}
	}()

	// Write to a sibling temp file and rename, so readers never see a partial value.
	file, err := os.CreateTemp(s.cfg.Basedir, "."+key+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}

	tmpname := file.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpname)
		}
	}()

	if _, err := file.Write(value); err != nil {
		_ = file.Close()

		return fmt.Errorf("write: %w", err)
	} else if err := file.Sync(); err != nil {
		_ = file.Close()

		return fmt.Errorf("sync: %w", err)
	} else if err := file.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}

	if err := os.Chmod(tmpname, 0o644); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}

	if err := os.Rename(tmpname, filename); err != nil {
		return fmt.Errorf("rename: %w", err)
	}

	return nil
}

func (s *FileSystemStore) Delete(ctx context.Context, key string) (err error) {
	if err := ValidateKey(key); err != nil {
		return err
	}

	filename := s.GetFilename(key)

	defer func() {
		log := s.log.With(logging.Group("kv", "key", key, "filename", filename))
		if err != nil {
			log.ErrorContext(ctx, "delete failed", "error", err)
		} else {
			log.DebugContext(ctx, "deleted")
		}
	}()

	if err := os.Remove(filename); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove: %w", err)
	}

	return nil
}

func (s *FileSystemStore) Lock(ctx context.Context, key string) (release func(), err error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	lockfile := filepath.Join(s.cfg.Basedir, lockDir, key+".lock")
	log := s.log.With(logging.Group("kv", "key", key, "lockfile", lockfile))

	defer func() {
		if err != nil {
			log.ErrorContext(ctx, "lock failed", "error", err)
		} else {
			log.DebugContext(ctx, "lock acquired")
		}
	}()

	file, err := os.OpenFile(lockfile, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	for {
		err = syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			break
		}

		if !errors.Is(err, syscall.EWOULDBLOCK) && !errors.Is(err, syscall.EINTR) {
			_ = file.Close()

			return nil, fmt.Errorf("flock: %w", err)
		}

		select {
		case <-ctx.Done():
			_ = file.Close()

			return nil, fmt.Errorf("flock: %w", errors.Join(ErrLockTimeout, ctx.Err()))
		case <-time.After(lockRetryWait):
		}
	}

	return func() {
		_ = syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		_ = file.Close()

		log.DebugContext(ctx, "lock released")
	}, nil
}

func (s *FileSystemStore) Close() error {
	return nil
}
