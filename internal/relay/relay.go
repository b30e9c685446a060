package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/portalchat/internal/bus"
	"github.com/matheus3301/portalchat/internal/kv"
	"github.com/matheus3301/portalchat/internal/thread"
	"go.uber.org/zap"
)

// Transport moves encoded events between processes.
type Transport interface {
	Publish(ctx context.Context, payload []byte) error
	// Subscribe calls fn for every payload until ctx is done.
	Subscribe(ctx context.Context, fn func(payload []byte)) error
}

// Recorder counts relayed events. Implemented by the metrics package.
type Recorder interface {
	RelayEvent(direction string)
}

// Namespaces are the event prefixes forwarded to other processes.
var Namespaces = []string{"message.", "thread.", "unread.", "roster.", "storage."}

const resubscribeDelay = time.Second

type envelope struct {
	ID      string    `json:"id" cbor:"id"`
	Kind    string    `json:"kind" cbor:"kind"`
	Origin  string    `json:"origin" cbor:"origin"`
	At      time.Time `json:"at" cbor:"at"`
	Payload []byte    `json:"payload,omitempty" cbor:"payload,omitempty"`
}

// Bridge forwards local bus events to a transport and republishes events
// from other processes on the local bus with their origin set.
type Bridge struct {
	transport Transport
	bus       *bus.Bus
	codec     kv.Codec
	origin    string
	logger    *zap.Logger
	recorder  Recorder
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a bridge with a fresh origin id. A nil codec selects JSON.
func New(t Transport, b *bus.Bus, codec kv.Codec, logger *zap.Logger) *Bridge {
	if codec == nil {
		codec = kv.JSON
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		transport: t,
		bus:       b,
		codec:     codec,
		origin:    uuid.NewString(),
		logger:    logger,
	}
}

// WithRecorder attaches an event counter.
func (r *Bridge) WithRecorder(rec Recorder) *Bridge {
	r.recorder = rec
	return r
}

// Origin returns this process's origin id.
func (r *Bridge) Origin() string { return r.origin }

// Start begins relaying in both directions.
func (r *Bridge) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{}, 2)
	ch, unsub := r.bus.SubscribeMany(256, Namespaces...)

	go func() {
		defer func() { r.done <- struct{}{} }()
		defer unsub()
		for {
			select {
			case evt := <-ch:
				if evt.Remote() {
					continue
				}
				if err := r.forward(ctx, evt); err != nil {
					r.logger.Warn("failed to relay event", zap.String("kind", evt.Kind), zap.Error(err))
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		defer func() { r.done <- struct{}{} }()
		for {
			err := r.transport.Subscribe(ctx, r.receive)
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("relay subscription ended, retrying", zap.Error(err))
			select {
			case <-time.After(resubscribeDelay):
			case <-ctx.Done():
				return
			}
		}
	}()
	r.logger.Info("relay started", zap.String("origin", r.origin), zap.String("codec", r.codec.Name()))
}

// Stop stops relaying and waits for both directions to finish.
func (r *Bridge) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	<-r.done
}

func (r *Bridge) forward(ctx context.Context, evt bus.Event) error {
	env := envelope{
		ID:     uuid.NewString(),
		Kind:   evt.Kind,
		Origin: r.origin,
		At:     evt.Timestamp.UTC(),
	}
	if evt.Payload != nil {
		data, err := r.codec.Marshal(evt.Payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
		env.Payload = data
	}
	data, err := r.codec.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := r.transport.Publish(ctx, data); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	r.record("out")
	return nil
}

func (r *Bridge) receive(data []byte) {
	var env envelope
	if err := r.codec.Unmarshal(data, &env); err != nil {
		r.logger.Debug("dropping undecodable relay message", zap.Error(err))
		return
	}
	if env.Origin == r.origin || env.Origin == "" {
		return
	}
	payload, err := r.decodePayload(env.Kind, env.Payload)
	if err != nil {
		r.logger.Debug("dropping relay event", zap.String("kind", env.Kind), zap.Error(err))
		return
	}
	r.record("in")
	r.bus.Publish(bus.Event{
		Kind:      env.Kind,
		Timestamp: env.At,
		Origin:    env.Origin,
		Payload:   payload,
	})
}

func (r *Bridge) decodePayload(kind string, data []byte) (any, error) {
	switch kind {
	case bus.KindMessageNew, bus.KindMessageDelivered:
		return decodeAs[thread.Message](r.codec, data)
	case bus.KindMessageRead:
		return decodeAs[bus.ReadReceipt](r.codec, data)
	case bus.KindThreadOpened, bus.KindThreadClosed:
		return decodeAs[bus.ThreadFocus](r.codec, data)
	case bus.KindUnreadTotal:
		return decodeAs[bus.UnreadTotal](r.codec, data)
	case bus.KindStorageChanged:
		return decodeAs[bus.StorageChange](r.codec, data)
	case bus.KindRosterChanged:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
}

func decodeAs[T any](codec kv.Codec, data []byte) (T, error) {
	var v T
	if len(data) == 0 {
		return v, fmt.Errorf("missing payload")
	}
	err := codec.Unmarshal(data, &v)
	return v, err
}

func (r *Bridge) record(direction string) {
	if r.recorder != nil {
		r.recorder.RelayEvent(direction)
	}
}
