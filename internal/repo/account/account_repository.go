package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mkrupp/booksy/internal/domain"
	"github.com/mkrupp/booksy/internal/infra/logging"
	"github.com/mkrupp/booksy/internal/repo/kv"
)

// Repository persists the account collection as one JSON array under a single key.
type Repository interface {
	// Init writes an empty collection if the key does not exist yet.
	Init(ctx context.Context) error

	// List returns all accounts in stored order. A missing key yields an empty list.
	// A stored value that cannot be decoded yields domain.ErrMalformedAccounts.
	List(ctx context.Context) ([]domain.Account, error)

	// Save replaces the whole collection.
	Save(ctx context.Context, accounts []domain.Account) error

	// Lock guards a List/Save cycle against concurrent writers.
	Lock(ctx context.Context) (func(), error)
}

// KVRepository implements Repository on a kv.Store.
type KVRepository struct {
	store kv.Store
	key   string
	log   logging.Logger
}

var _ Repository = (*KVRepository)(nil)

// NewKVRepository returns a repository storing accounts under key.
func NewKVRepository(store kv.Store, key string) *KVRepository {
	return &KVRepository{
		store: store,
		key:   key,
		log:   logging.GetLogger("repo.account.kv_repository").With("key", key),
	}
}

func (r *KVRepository) Init(ctx context.Context) error {
	unlock, err := r.Lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	_, found, err := r.store.Get(ctx, r.key)
	if err != nil {
		return fmt.Errorf("get accounts: %w", err)
	}

	if found {
		return nil
	}

	if err := r.store.Set(ctx, r.key, []byte("[]")); err != nil {
		return fmt.Errorf("init accounts: %w", err)
	}

	r.log.DebugContext(ctx, "accounts initialized")

	return nil
}

func (r *KVRepository) List(ctx context.Context) ([]domain.Account, error) {
	data, found, err := r.store.Get(ctx, r.key)
	if err != nil {
		return nil, fmt.Errorf("get accounts: %w", err)
	}

	accounts := []domain.Account{}
	if !found {
		return accounts, nil
	}

	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", errors.Join(domain.ErrMalformedAccounts, err))
	}

	if accounts == nil {
		accounts = []domain.Account{}
	}

	return accounts, nil
}

func (r *KVRepository) Save(ctx context.Context, accounts []domain.Account) error {
	if accounts == nil {
		accounts = []domain.Account{}
	}

	data, err := json.Marshal(accounts)
	if err != nil {
		return fmt.Errorf("encode accounts: %w", err)
	}

	if err := r.store.Set(ctx, r.key, data); err != nil {
		return fmt.Errorf("set accounts: %w", err)
	}

	r.log.DebugContext(ctx, "accounts saved", "count", len(accounts))

	return nil
}

func (r *KVRepository) Lock(ctx context.Context) (func(), error) {
	unlock, err := r.store.Lock(ctx, r.key)
	if err != nil {
		return nil, fmt.Errorf("lock accounts: %w", err)
	}

	return unlock, nil
}

// FindByEmail returns the index of the account with exactly email, or -1.
func FindByEmail(accounts []domain.Account, email string) int {
	for i := range accounts {
		if accounts[i].Email == email {
			return i
		}
	}

	return -1
}

// FindByUID returns the index of the account with uid, or -1.
func FindByUID(accounts []domain.Account, uid string) int {
	for i := range accounts {
		if accounts[i].UID == uid {
			return i
		}
	}

	return -1
}
