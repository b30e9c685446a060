package kv

import (
	"context"
	"errors"
)

// ErrSkipWrite is returned from an update function to leave the stored value untouched.
var ErrSkipWrite = errors.New("kv: skip write")

// Backend is a string-keyed byte store. It is the only persistence primitive
// the messaging components rely on.
type Backend interface {
	// Get returns the stored bytes and whether the key exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Keys lists keys starting with prefix in ascending order.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Updater is implemented by backends that can perform an atomic
// read-modify-write of a single key. fn may be called more than once.
type Updater interface {
	Update(ctx context.Context, key string, fn func(old []byte, ok bool) ([]byte, error)) error
}

// Describer is implemented by backends that can name themselves for status output.
type Describer interface {
	Describe() string
}

// Describe returns a short backend name.
func Describe(b Backend) string {
	if d, ok := b.(Describer); ok {
		return d.Describe()
	}
	return "unknown"
}
