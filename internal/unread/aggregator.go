package unread

import (
	"context"
	"strings"

	"github.com/matheus3301/portalchat/internal/bus"
	"github.com/matheus3301/portalchat/internal/roster"
	"github.com/matheus3301/portalchat/internal/thread"
	"github.com/matheus3301/portalchat/internal/tracker"
	"go.uber.org/zap"
)

// Aggregator republishes one user's unread total whenever a thread, the
// watermarks or the roster change.
type Aggregator struct {
	counter *Counter
	bus     bus.Notifier
	me      string
	logger  *zap.Logger
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewAggregator creates an aggregator for me.
func NewAggregator(c *Counter, n bus.Notifier, me string, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{counter: c, bus: n, me: me, logger: logger}
}

// Start publishes the current total and then follows bus events.
func (a *Aggregator) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan struct{})
	ch, unsub := a.bus.Subscribe("", 256)

	a.counter.Publish(ctx, a.me)

	go func() {
		defer close(a.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				if a.relevant(evt) {
					a.counter.Publish(ctx, a.me)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the aggregator and waits for its goroutine to exit.
func (a *Aggregator) Stop() {
	if a.cancel != nil {
		a.cancel()
		<-a.done
	}
}

func (a *Aggregator) relevant(evt bus.Event) bool {
	switch p := evt.Payload.(type) {
	case thread.Message:
		return p.IsFor(a.me) || p.IsFrom(a.me)
	case bus.ReadReceipt:
		return thread.Same(p.Reader, a.me)
	case bus.ThreadFocus:
		return thread.Same(p.User, a.me)
	case bus.StorageChange:
		return a.relevantKey(p.Key)
	}
	return evt.Kind == bus.KindRosterChanged
}

func (a *Aggregator) relevantKey(key string) bool {
	me := thread.Normalize(a.me)
	switch {
	case strings.HasPrefix(key, SlotKeyPrefix):
		return false
	case key == tracker.WatermarkKey(me):
		return true
	case roster.IsRosterKey(key):
		return true
	}
	x, y, ok := thread.Participants(key)
	return ok && (x == me || y == me)
}
