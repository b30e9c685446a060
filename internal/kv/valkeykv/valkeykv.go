// Package valkeykv stores kv entries in Valkey (or Redis) so several
// processes can share one message store, and carries the cross-process
// change signal over Valkey pub/sub.
package valkeykv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/matheus3301/portalchat/internal/kv"
	"github.com/valkey-io/valkey-go"
)

// DefaultChannel is the pub/sub channel used by the relay.
const DefaultChannel = "portalchat:events"

// maxUpdateAttempts bounds optimistic WATCH/MULTI retries.
const maxUpdateAttempts = 16

// ErrContention is returned when an update keeps losing the WATCH race.
var ErrContention = errors.New("valkeykv: too much contention")

// Backend stores values under namespace-prefixed keys.
type Backend struct {
	client    valkey.Client
	addr      string
	namespace string
	channel   string
}

// Open connects to the Valkey server at addr. namespace is prepended to
// every key; empty means "portalchat:".
func Open(addr, namespace string) (*Backend, error) {
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
	if err != nil {
		return nil, fmt.Errorf("connect valkey %s: %w", addr, err)
	}
	if namespace == "" {
		namespace = "portalchat:"
	}
	return &Backend{client: client, addr: addr, namespace: namespace, channel: DefaultChannel}, nil
}

func (b *Backend) Describe() string { return "valkey:" + b.addr }

func (b *Backend) key(k string) string { return b.namespace + k }

func (b *Backend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := b.client.Do(ctx, b.client.B().Get().Key(b.key(key)).Build()).AsBytes()
	if valkey.IsValkeyNil(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (b *Backend) Set(ctx context.Context, key string, value []byte) error {
	return b.client.Do(ctx, b.client.B().Set().Key(b.key(key)).Value(valkey.BinaryString(value)).Build()).Error()
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	return b.client.Do(ctx, b.client.B().Del().Key(b.key(key)).Build()).Error()
}

func (b *Backend) Keys(ctx context.Context, prefix string) ([]string, error) {
	pattern := escapeGlob(b.key(prefix)) + "*"
	var keys []string
	var cursor uint64
	for {
		entry, err := b.client.Do(ctx, b.client.B().Scan().Cursor(cursor).Match(pattern).Count(200).Build()).AsScanEntry()
		if err != nil {
			return nil, err
		}
		for _, k := range entry.Elements {
			keys = append(keys, strings.TrimPrefix(k, b.namespace))
		}
		cursor = entry.Cursor
		if cursor == 0 {
			break
		}
	}
	return dedupeSorted(keys), nil
}

// Update uses WATCH/MULTI/EXEC and retries when another client modified
// the key between the read and the write.
func (b *Backend) Update(ctx context.Context, key string, fn func(old []byte, ok bool) ([]byte, error)) error {
	full := b.key(key)
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		committed := false
		err := b.client.Dedicated(func(c valkey.DedicatedClient) error {
			if err := c.Do(ctx, c.B().Watch().Key(full).Build()).Error(); err != nil {
				return err
			}
			old, err := c.Do(ctx, c.B().Get().Key(full).Build()).AsBytes()
			found := true
			if valkey.IsValkeyNil(err) {
				found, err = false, nil
			}
			if err != nil {
				return err
			}
			next, err := fn(old, found)
			if err != nil {
				_ = c.Do(ctx, c.B().Unwatch().Build()).Error()
				return err
			}
			resps := c.DoMulti(ctx,
				c.B().Multi().Build(),
				c.B().Set().Key(full).Value(valkey.BinaryString(next)).Build(),
				c.B().Exec().Build(),
			)
			for _, r := range resps[:2] {
				if err := r.Error(); err != nil {
					return err
				}
			}
			if err := resps[2].Error(); err != nil {
				if valkey.IsValkeyNil(err) {
					return nil
				}
				return err
			}
			committed = true
			return nil
		})
		if err != nil {
			return err
		}
		if committed {
			return nil
		}
	}
	return fmt.Errorf("update %q: %w", key, ErrContention)
}

// Publish sends payload to every process subscribed to the relay channel.
func (b *Backend) Publish(ctx context.Context, payload []byte) error {
	return b.client.Do(ctx, b.client.B().Publish().Channel(b.channel).Message(valkey.BinaryString(payload)).Build()).Error()
}

// Subscribe blocks delivering relay payloads to fn until ctx is done.
func (b *Backend) Subscribe(ctx context.Context, fn func(payload []byte)) error {
	err := b.client.Receive(ctx, b.client.B().Subscribe().Channel(b.channel).Build(), func(msg valkey.PubSubMessage) {
		fn([]byte(msg.Message))
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (b *Backend) Close() error {
	b.client.Close()
	return nil
}

func escapeGlob(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// dedupeSorted sorts keys and drops duplicates; SCAN may return a key twice.
func dedupeSorted(keys []string) []string {
	if len(keys) == 0 {
		return keys
	}
	sort.Strings(keys)
	out := keys[:1]
	for _, k := range keys[1:] {
		if k != out[len(out)-1] {
			out = append(out, k)
		}
	}
	return out
}

var (
	_ kv.Backend = (*Backend)(nil)
	_ kv.Updater = (*Backend)(nil)
)
