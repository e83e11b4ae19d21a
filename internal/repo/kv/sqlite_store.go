package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/mkrupp/booksy/internal/infra/logging"
	"github.com/mkrupp/booksy/internal/repo/kv/migrations"
)

// goose keeps its base FS and dialect in package globals.
var gooseLock sync.Mutex

// SQLiteStoreConfig holds configuration for the SQLite store.
type SQLiteStoreConfig struct {
	// DatabasePath is the filesystem path to the SQLite database file
	DatabasePath string `env:"DATABASE_PATH" default:"var/storage/booksy.db"`
}

// SQLiteStore implements Store on a single SQLite table.
type SQLiteStore struct {
	db        *sql.DB
	log       logging.Logger
	locks     *keyLocks
	writeLock *sync.Mutex // go-sqlite does not support concurrent writes
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens the database and applies pending schema migrations.
func NewSQLiteStore(ctx context.Context, cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	log := logging.GetLogger("repo.kv.sqlite_store").With(
		logging.Group("db", "path", cfg.DatabasePath),
	)

	db, err := sql.Open("sqlite", cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := initializeDB(ctx, db); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("initialize db: %w", err)
	}

	log.DebugContext(ctx, "database ready")

	return &SQLiteStore{
		db:        db,
		log:       log,
		locks:     newKeyLocks(),
		writeLock: new(sync.Mutex),
	}, nil
}

func initializeDB(ctx context.Context, db *sql.DB) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping db: %w", err)
	}

	db.SetConnMaxLifetime(5 * time.Minute)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}

	gooseLock.Lock()
	defer gooseLock.Unlock()

	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (value []byte, found bool, err error) {
	if err := ValidateKey(key); err != nil {
		return nil, false, err
	}

	err = s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	} else if err != nil {
		s.log.ErrorContext(ctx, "get failed", "key", key, "error", err)

		return nil, false, fmt.Errorf("query value: %w", err)
	}

	if value == nil {
		value = []byte{}
	}

	return value, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	if value == nil {
		value = []byte{}
	}

	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key,
		value,
		time.Now().Unix(),
	)
	if err != nil {
		s.log.ErrorContext(ctx, "set failed", "key", key, "error", err)

		return fmt.Errorf("upsert value: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		s.log.ErrorContext(ctx, "delete failed", "key", key, "error", err)

		return fmt.Errorf("delete value: %w", err)
	}

	return nil
}

// Lock is process-local; separate processes sharing one database file are not coordinated.
func (s *SQLiteStore) Lock(ctx context.Context, key string) (func(), error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	unlock, err := s.locks.lock(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}

	return unlock, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}

	return nil
}
