package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mkrupp/booksy/internal/infra/logging"
)

// RedisStoreConfig holds configuration for the Redis store.
type RedisStoreConfig struct {
	Addr     string `env:"ADDR" default:"localhost:6379"`
	Password string `env:"PASSWORD" default:""`
	DB       int    `env:"DB" default:"0"`
	// KeyPrefix namespaces all keys written by the store
	KeyPrefix string `env:"KEY_PREFIX" default:""`
	// LockTTL bounds how long a crashed holder can keep a lock
	LockTTL time.Duration `env:"LOCK_TTL" default:"10s"`
	// LockRetry is the wait between lock attempts
	LockRetry time.Duration `env:"LOCK_RETRY" default:"20ms"`
}

// releaseLockLua deletes the lock only if it still holds our token.
var releaseLockLua = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore implements Store on a Redis server.
// Locks use SET NX with a random token and are honored across hosts.
type RedisStore struct {
	rdb redis.UniversalClient
	cfg RedisStoreConfig
	log logging.Logger
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to the configured server and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisStoreConfig) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()

		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewRedisStoreWithClient(rdb, cfg), nil
}

// NewRedisStoreWithClient wraps an existing client. The store takes ownership of rdb.
func NewRedisStoreWithClient(rdb redis.UniversalClient, cfg RedisStoreConfig) *RedisStore {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Second
	}

	if cfg.LockRetry <= 0 {
		cfg.LockRetry = 20 * time.Millisecond
	}

	return &RedisStore{
		rdb: rdb,
		cfg: cfg,
		log: logging.GetLogger("repo.kv.redis_store").With(
			logging.Group("redis", "addr", cfg.Addr, "prefix", cfg.KeyPrefix),
		),
	}
}

func (s *RedisStore) key(key string) string {
	return s.cfg.KeyPrefix + key
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ValidateKey(key); err != nil {
		return nil, false, err
	}

	value, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	} else if err != nil {
		s.log.ErrorContext(ctx, "get failed", "key", key, "error", err)

		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	if value == nil {
		value = []byte{}
	}

	return value, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	if err := s.rdb.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		s.log.ErrorContext(ctx, "set failed", "key", key, "error", err)

		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	if err := s.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		s.log.ErrorContext(ctx, "delete failed", "key", key, "error", err)

		return fmt.Errorf("redis del: %w", err)
	}

	return nil
}

func (s *RedisStore) Lock(ctx context.Context, key string) (release func(), err error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	lockKey := s.key(key) + ":lock"
	log := s.log.With(logging.Group("kv", "key", key, "lockkey", lockKey))

	defer func() {
		if err != nil {
			log.ErrorContext(ctx, "lock failed", "error", err)
		} else {
			log.DebugContext(ctx, "lock acquired")
		}
	}()

	token, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("lock token: %w", err)
	}

	for {
		ok, err := s.rdb.SetNX(ctx, lockKey, token.String(), s.cfg.LockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("redis setnx: %w", err)
		}

		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("lock %s: %w", key, errors.Join(ErrLockTimeout, ctx.Err()))
		case <-time.After(s.cfg.LockRetry):
		}
	}

	return func() {
		// The caller's context may already be cancelled; release regardless.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.LockTTL)
		defer cancel()

		if err := releaseLockLua.Run(releaseCtx, s.rdb, []string{lockKey}, token.String()).Err(); err != nil {
			log.WarnContext(ctx, "lock release failed", "error", err)
		} else {
			log.DebugContext(ctx, "lock released")
		}
	}, nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	if err := s.rdb.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}

	return nil
}
