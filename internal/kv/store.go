package kv

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"reflect"
	"sync"

	"github.com/matheus3301/portalchat/internal/bus"
	"go.uber.org/zap"
)

// errEncode marks an update aborted by an encode failure that apply has
// already recorded.
var errEncode = errors.New("kv: encode failed")

// Recorder counts storage failures. Implemented by the metrics package.
type Recorder interface {
	StorageError(op string)
}

// Store is the fail-soft persistence adapter. Reads that fail for any reason
// yield the caller's default and writes that fail are dropped; neither ever
// surfaces an error to the caller.
type Store struct {
	backend  Backend
	codec    Codec
	bus      *bus.Bus
	logger   *zap.Logger
	recorder Recorder
	stripes  [64]sync.Mutex
}

// New creates a store over backend. A nil codec selects JSON; a nil logger
// discards log output; a nil bus disables storage.changed events.
func New(backend Backend, codec Codec, b *bus.Bus, logger *zap.Logger) *Store {
	if codec == nil {
		codec = JSON
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		backend: backend,
		codec:   codec,
		bus:     b,
		logger:  logger,
	}
}

// WithRecorder attaches a failure counter.
func (s *Store) WithRecorder(r Recorder) *Store {
	s.recorder = r
	return s
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend { return s.backend }

// Codec returns the value codec.
func (s *Store) Codec() Codec { return s.codec }

// Get decodes the value under key into dst, which must be a non-nil pointer.
// It returns false and leaves dst untouched when the key is missing, the
// backend fails, or the stored bytes do not decode into dst's type.
func (s *Store) Get(ctx context.Context, key string, dst any) bool {
	data, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		s.fail("get", key, err)
		return false
	}
	if !ok || len(data) == 0 {
		return false
	}
	return s.decodeInto(key, data, dst)
}

// Set encodes v and stores it under key. Failures are logged and dropped.
func (s *Store) Set(ctx context.Context, key string, v any) {
	data, err := s.codec.Marshal(v)
	if err != nil {
		s.fail("encode", key, err)
		return
	}
	if err := s.backend.Set(ctx, key, data); err != nil {
		s.fail("set", key, err)
		return
	}
	s.changed(key)
}

// Remove deletes key. Failures are logged and dropped.
func (s *Store) Remove(ctx context.Context, key string) {
	if err := s.backend.Delete(ctx, key); err != nil {
		s.fail("delete", key, err)
		return
	}
	s.changed(key)
}

// Keys lists keys with the given prefix, or nil if the backend fails.
func (s *Store) Keys(ctx context.Context, prefix string) []string {
	keys, err := s.backend.Keys(ctx, prefix)
	if err != nil {
		s.fail("keys", prefix, err)
		return nil
	}
	return keys
}

// Update loads the value under key into dst (zeroed first; missing or
// corrupt data leaves it zero and exists false), calls fn, and writes dst
// back when fn returns true. Reports whether a write happened.
//
// Backends implementing Updater perform the whole cycle atomically. For
// the others, updates within this process are serialized per key.
func (s *Store) Update(ctx context.Context, key string, dst any, fn func(exists bool) bool) bool {
	if u, ok := s.backend.(Updater); ok {
		err := u.Update(ctx, key, func(old []byte, found bool) ([]byte, error) {
			return s.apply(key, old, found, dst, fn)
		})
		if errors.Is(err, ErrSkipWrite) || errors.Is(err, errEncode) {
			return false
		}
		if err != nil {
			s.fail("update", key, err)
			return false
		}
		s.changed(key)
		return true
	}

	mu := s.stripe(key)
	mu.Lock()
	defer mu.Unlock()

	old, found, err := s.backend.Get(ctx, key)
	if err != nil {
		// Never overwrite a value that could not be read.
		s.fail("get", key, err)
		return false
	}
	data, err := s.apply(key, old, found, dst, fn)
	if err != nil {
		return false
	}
	if err := s.backend.Set(ctx, key, data); err != nil {
		s.fail("set", key, err)
		return false
	}
	s.changed(key)
	return true
}

func (s *Store) apply(key string, old []byte, found bool, dst any, fn func(bool) bool) ([]byte, error) {
	v := reflect.ValueOf(dst).Elem()
	v.Set(reflect.Zero(v.Type()))
	exists := found && len(old) > 0 && s.decodeInto(key, old, dst)
	if !fn(exists) {
		return nil, ErrSkipWrite
	}
	data, err := s.codec.Marshal(dst)
	if err != nil {
		s.fail("encode", key, err)
		return nil, fmt.Errorf("%w: %v", errEncode, err)
	}
	return data, nil
}

func (s *Store) decodeInto(key string, data []byte, dst any) bool {
	target := reflect.ValueOf(dst)
	if target.Kind() != reflect.Pointer || target.IsNil() {
		s.logger.Error("kv destination must be a non-nil pointer", zap.String("key", key))
		return false
	}
	tmp := reflect.New(target.Elem().Type())
	if err := s.codec.Unmarshal(data, tmp.Interface()); err != nil {
		s.fail("decode", key, err)
		return false
	}
	target.Elem().Set(tmp.Elem())
	return true
}

func (s *Store) stripe(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.stripes[h.Sum32()%uint32(len(s.stripes))]
}

func (s *Store) changed(key string) {
	s.bus.Emit(bus.KindStorageChanged, bus.StorageChange{Key: key})
}

func (s *Store) fail(op, key string, err error) {
	s.logger.Warn("storage operation failed", zap.String("op", op), zap.String("key", key), zap.Error(err))
	if s.recorder != nil {
		s.recorder.StorageError(op)
	}
}

// Load returns the value under key, or def when it is missing or unreadable.
func Load[T any](ctx context.Context, s *Store, key string, def T) T {
	var v T
	if !s.Get(ctx, key, &v) {
		return def
	}
	return v
}
