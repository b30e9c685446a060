// Package memkv is an in-memory kv.Backend for tests and ephemeral profiles.
package memkv

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/matheus3301/portalchat/internal/kv"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("memkv: closed")

// Backend keeps values in a map guarded by a mutex.
type Backend struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

// New returns an empty backend.
func New() *Backend {
	return &Backend{data: make(map[string][]byte)}
}

func (b *Backend) Describe() string { return "memory" }

func (b *Backend) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, false, ErrClosed
	}
	v, ok := b.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (b *Backend) Set(_ context.Context, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.data[key] = append([]byte(nil), value...)
	return nil
}

func (b *Backend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	delete(b.data, key)
	return nil
}

func (b *Backend) Keys(_ context.Context, prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}
	var keys []string
	for k := range b.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Update holds the write lock for the whole read-modify-write.
func (b *Backend) Update(_ context.Context, key string, fn func(old []byte, ok bool) ([]byte, error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	old, ok := b.data[key]
	next, err := fn(append([]byte(nil), old...), ok)
	if err != nil {
		return err
	}
	b.data[key] = append([]byte(nil), next...)
	return nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

var (
	_ kv.Backend = (*Backend)(nil)
	_ kv.Updater = (*Backend)(nil)
)
