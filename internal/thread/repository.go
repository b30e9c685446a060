package thread

import (
	"context"
	"strings"

	"github.com/matheus3301/portalchat/internal/kv"
)

// KeyPrefix namespaces thread blobs in the store.
const KeyPrefix = "portal.chat.thread:"

// Key returns the storage key for the thread between a and b. Both
// participants map to the same key regardless of order or case.
func Key(a, b string) string {
	x, y := Normalize(a), Normalize(b)
	if y < x {
		x, y = y, x
	}
	return KeyPrefix + x + "|" + y
}

// Participants splits a thread key back into its two identifiers.
func Participants(key string) (string, string, bool) {
	rest, ok := strings.CutPrefix(key, KeyPrefix)
	if !ok {
		return "", "", false
	}
	a, b, ok := strings.Cut(rest, "|")
	return a, b, ok
}

// Repository stores threads as whole ordered message sequences.
type Repository interface {
	// Load returns the thread, or an empty slice when it is missing or unreadable.
	Load(ctx context.Context, a, b string) []Message
	// Save replaces the whole thread.
	Save(ctx context.Context, a, b string, msgs []Message)
	// Append adds m to the end of the thread.
	Append(ctx context.Context, a, b string, m Message)
	// Update passes the current thread to fn and stores the returned slice
	// when fn reports a change. It returns the resulting thread.
	Update(ctx context.Context, a, b string, fn func(msgs []Message) ([]Message, bool)) []Message
	// Partners lists everyone me has a stored thread with.
	Partners(ctx context.Context, me string) []string
}

// KVRepository keeps each thread as one value in a kv.Store.
type KVRepository struct {
	store *kv.Store
}

// NewKVRepository creates a repository over s.
func NewKVRepository(s *kv.Store) *KVRepository {
	return &KVRepository{store: s}
}

func (r *KVRepository) Load(ctx context.Context, a, b string) []Message {
	msgs := kv.Load(ctx, r.store, Key(a, b), []Message{})
	if msgs == nil {
		return []Message{}
	}
	return msgs
}

func (r *KVRepository) Save(ctx context.Context, a, b string, msgs []Message) {
	if msgs == nil {
		msgs = []Message{}
	}
	r.store.Set(ctx, Key(a, b), msgs)
}

// Append goes through Store.Update so appends from this process never
// overwrite one another. Cross-process safety depends on the backend.
func (r *KVRepository) Append(ctx context.Context, a, b string, m Message) {
	r.Update(ctx, a, b, func(msgs []Message) ([]Message, bool) {
		return append(msgs, m), true
	})
}

func (r *KVRepository) Update(ctx context.Context, a, b string, fn func(msgs []Message) ([]Message, bool)) []Message {
	var msgs []Message
	r.store.Update(ctx, Key(a, b), &msgs, func(bool) bool {
		next, changed := fn(msgs)
		if changed {
			msgs = next
		}
		return changed
	})
	if msgs == nil {
		return []Message{}
	}
	return msgs
}

func (r *KVRepository) Partners(ctx context.Context, me string) []string {
	self := Normalize(me)
	var out []string
	for _, key := range r.store.Keys(ctx, KeyPrefix) {
		a, b, ok := Participants(key)
		if !ok {
			continue
		}
		switch self {
		case a:
			out = append(out, b)
		case b:
			out = append(out, a)
		}
	}
	return out
}

var _ Repository = (*KVRepository)(nil)
