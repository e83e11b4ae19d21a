package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mkrupp/booksy/internal/domain"
	"github.com/mkrupp/booksy/internal/repo/kv"
)

// Repository persists the single active session of a storage scope.
type Repository interface {
	// Load returns the stored session. The boolean is false if no session is stored.
	// A stored value that cannot be decoded or lacks a uid yields domain.ErrMalformedSession.
	Load(ctx context.Context) (domain.Session, bool, error)

	// Save replaces the stored session.
	Save(ctx context.Context, session domain.Session) error

	// Delete removes the stored session. Deleting a missing session is not an error.
	Delete(ctx context.Context) error
}

// KVRepository implements Repository on a kv.Store.
type KVRepository struct {
	store kv.Store
	key   string
}

var _ Repository = (*KVRepository)(nil)

// NewKVRepository returns a repository storing the session under key.
func NewKVRepository(store kv.Store, key string) *KVRepository {
	return &KVRepository{
		store: store,
		key:   key,
	}
}

func (r *KVRepository) Load(ctx context.Context) (domain.Session, bool, error) {
	var session domain.Session

	data, found, err := r.store.Get(ctx, r.key)
	if err != nil {
		return session, false, fmt.Errorf("get session: %w", err)
	} else if !found {
		return session, false, nil
	}

	if err := json.Unmarshal(data, &session); err != nil {
		return domain.Session{}, true, fmt.Errorf("decode session: %w", errors.Join(domain.ErrMalformedSession, err))
	}

	if session.UID == "" {
		return domain.Session{}, true, fmt.Errorf("decode session: %w: missing uid", domain.ErrMalformedSession)
	}

	return session, true, nil
}

func (r *KVRepository) Save(ctx context.Context, session domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	if err := r.store.Set(ctx, r.key, data); err != nil {
		return fmt.Errorf("set session: %w", err)
	}

	return nil
}

func (r *KVRepository) Delete(ctx context.Context) error {
	if err := r.store.Delete(ctx, r.key); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	return nil
}
