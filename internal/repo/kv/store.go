package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidKey     = errors.New("invalid key")
	ErrUnknownBackend = errors.New("unknown storage backend")
	ErrLockTimeout    = errors.New("lock timeout")
)

const (
	BackendMemory     = "memory"
	BackendFilesystem = "filesystem"
	BackendSQLite     = "sqlite"
	BackendRedis      = "redis"
)

// Store is a string-keyed persistent key-value store.
type Store interface {
	// Get returns the value stored under key.
	// The boolean is false if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set creates or replaces the value stored under key.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Lock acquires an exclusive lock on key and returns a function releasing it.
	// The lock only guards cooperating callers and does not block Get or Set.
	Lock(ctx context.Context, key string) (func(), error)

	// Close releases any resources held by the store.
	Close() error
}

// StoreFactory is a function that creates a new Store instance.
type StoreFactory func(ctx context.Context) (Store, error)

// Config selects and configures a storage backend.
type Config struct {
	Backend    string                `env:"BACKEND" default:"filesystem"`
	Filesystem FileSystemStoreConfig `envPrefix:"FS_"`
	SQLite     SQLiteStoreConfig     `envPrefix:"SQLITE_"`
	Redis      RedisStoreConfig      `envPrefix:"REDIS_"`
}

// NewStoreFactory returns a factory building the backend named by cfg.Backend.
func NewStoreFactory(cfg Config) StoreFactory {
	return func(ctx context.Context) (Store, error) {
		switch strings.ToLower(cfg.Backend) {
		case BackendMemory:
			return NewMemoryStore(), nil
		case BackendFilesystem:
			return NewFileSystemStore(ctx, cfg.Filesystem)
		case BackendSQLite:
			return NewSQLiteStore(ctx, cfg.SQLite)
		case BackendRedis:
			return NewRedisStore(ctx, cfg.Redis)
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
		}
	}
}

// ValidateKey rejects keys that cannot be stored by every backend.
func ValidateKey(key string) error {
	switch {
	case key == "":
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	case key == "." || key == "..":
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	case strings.ContainsAny(key, "/\\\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidKey, key)
	}

	return nil
}
