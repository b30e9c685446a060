// Package pebblekv stores kv entries in a Pebble LSM directory.
package pebblekv

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/matheus3301/portalchat/internal/kv"
)

// Backend wraps a pebble.DB. Pebble holds an exclusive directory lock, so
// one process owns the data and Update only has to serialize goroutines.
type Backend struct {
	db   *pebble.DB
	path string
	mu   sync.Mutex
}

// Open opens (or creates) a Pebble database at path.
func Open(path string) (*Backend, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble %s: %w", path, err)
	}
	return &Backend{db: db, path: path}, nil
}

func (b *Backend) Describe() string { return "pebble:" + b.path }

func (b *Backend) Get(_ context.Context, key string) ([]byte, bool, error) {
	value, closer, err := b.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	out := append([]byte(nil), value...)
	if err := closer.Close(); err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (b *Backend) Set(_ context.Context, key string, value []byte) error {
	return b.db.Set([]byte(key), value, pebble.Sync)
}

func (b *Backend) Delete(_ context.Context, key string) error {
	return b.db.Delete([]byte(key), pebble.Sync)
}

func (b *Backend) Keys(_ context.Context, prefix string) ([]string, error) {
	opts := &pebble.IterOptions{LowerBound: []byte(prefix)}
	if upper := prefixUpperBound([]byte(prefix)); upper != nil {
		opts.UpperBound = upper
	}
	iter, err := b.db.NewIter(opts)
	if err != nil {
		return nil, err
	}
	var keys []string
	for iter.First(); iter.Valid(); iter.Next() {
		keys = append(keys, string(iter.Key()))
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (b *Backend) Update(ctx context.Context, key string, fn func(old []byte, ok bool) ([]byte, error)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	old, found, err := b.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("read %q: %w", key, err)
	}
	next, err := fn(old, found)
	if err != nil {
		return err
	}
	return b.Set(ctx, key, next)
}

func (b *Backend) Close() error {
	return b.db.Close()
}

// prefixUpperBound returns the smallest key greater than every key with
// the given prefix, or nil when no such key exists.
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

var (
	_ kv.Backend = (*Backend)(nil)
	_ kv.Updater = (*Backend)(nil)
)
