package kv

import (
	"bytes"
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps all values in process memory.
// It is used in tests and for throwaway CLI sessions.
type MemoryStore struct {
	m      sync.RWMutex
	values map[string][]byte
	locks  *keyLocks
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string][]byte),
		locks:  newKeyLocks(),
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ValidateKey(key); err != nil {
		return nil, false, err
	}

	s.m.RLock()
	defer s.m.RUnlock()

	value, ok := s.values[key]
	if !ok {
		return nil, false, nil
	}

	return bytes.Clone(value), true, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	s.m.Lock()
	defer s.m.Unlock()

	if value == nil {
		value = []byte{}
	}

	s.values[key] = bytes.Clone(value)

	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	s.m.Lock()
	defer s.m.Unlock()

	delete(s.values, key)

	return nil
}

func (s *MemoryStore) Lock(ctx context.Context, key string) (func(), error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	unlock, err := s.locks.lock(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}

	return unlock, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
