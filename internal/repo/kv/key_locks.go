package kv

import (
	"context"
	"sync"
)

// keyLocks hands out one in-process mutex per key.
type keyLocks struct {
	m     sync.Mutex
	locks map[string]chan struct{}
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]chan struct{})}
}

func (kl *keyLocks) lock(ctx context.Context, key string) (func(), error) {
	kl.m.Lock()
	ch, ok := kl.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		kl.locks[key] = ch
	}
	kl.m.Unlock()

	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once

	return func() {
		once.Do(func() { <-ch })
	}, nil
}
