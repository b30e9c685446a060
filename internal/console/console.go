package console

import (
	"context"
	"sync"

	"github.com/matheus3301/portalchat/internal/alert"
	"github.com/matheus3301/portalchat/internal/bus"
	"github.com/matheus3301/portalchat/internal/clock"
	"github.com/matheus3301/portalchat/internal/receipt"
	"github.com/matheus3301/portalchat/internal/roster"
	"github.com/matheus3301/portalchat/internal/thread"
	"github.com/matheus3301/portalchat/internal/tracker"
	"github.com/matheus3301/portalchat/internal/unread"
	"go.uber.org/zap"
)

// Deps are the shared components a console is built from.
type Deps struct {
	Repo    thread.Repository
	Roster  *roster.Resolver
	Tracker *tracker.Tracker
	Counter *unread.Counter
	Bus     bus.Notifier
	Clock   clock.Clock
	Logger  *zap.Logger
	// Alerts builds the alerter for a user. Nil disables alerts.
	Alerts func(me string) *alert.Alerter
}

// Console is one user's view of the messaging store: it sends, reads and
// reacts to new-message events addressed to that user.
type Console struct {
	me      string
	deps    Deps
	agg     *unread.Aggregator
	alerter *alert.Alerter
	logger  *zap.Logger

	mu    sync.Mutex
	focus alert.Focus

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a console for me. It does nothing until Start.
func New(me string, deps Deps) *Console {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	logger := deps.Logger.With(zap.String("user", me))
	c := &Console{
		me:     thread.Normalize(me),
		deps:   deps,
		logger: logger,
		focus:  alert.Focus{Visible: true},
	}
	c.agg = unread.NewAggregator(deps.Counter, deps.Bus, c.me, logger)
	if deps.Alerts != nil {
		c.alerter = deps.Alerts(c.me)
	}
	return c
}

// Me returns the console's user.
func (c *Console) Me() string { return c.me }

// Start delivers messages that arrived while the console was not running
// and then follows new-message events.
func (c *Console) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	msgs, unsubMsgs := c.deps.Bus.SubscribeQueue(bus.KindMessageNew)
	changes, unsubChanges := c.deps.Bus.Subscribe(bus.KindStorageChanged, 64)

	c.deliverPending(ctx)
	c.agg.Start(ctx)

	go func() {
		defer close(c.done)
		defer unsubChanges()
		defer unsubMsgs()
		for {
			select {
			case evt := <-msgs:
				c.handleEvent(ctx, evt)
			case evt := <-changes:
				c.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
	c.logger.Info("console started")
}

// Stop stops event processing.
func (c *Console) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.agg.Stop()
	c.logger.Info("console stopped")
}

// Send appends a message from this user to the thread with to and announces it.
func (c *Console) Send(ctx context.Context, to, text string, att *thread.Attachment) (thread.Message, error) {
	m, err := thread.New(c.me, to, text, att, c.deps.Clock.Now())
	if err != nil {
		return thread.Message{}, err
	}
	c.deps.Repo.Append(ctx, c.me, to, m)
	c.logger.Debug("message sent", zap.String("id", m.ID), zap.String("to", m.To))
	c.deps.Bus.Publish(bus.Event{Kind: bus.KindMessageNew, Timestamp: m.At, Payload: m})
	return m, nil
}

// Thread returns the conversation with partner.
func (c *Console) Thread(ctx context.Context, partner string) []thread.Message {
	return c.deps.Repo.Load(ctx, c.me, partner)
}

// Open focuses the thread with partner and marks its inbound messages read.
func (c *Console) Open(ctx context.Context, partner string) []string {
	c.mu.Lock()
	c.focus.Partner = thread.Normalize(partner)
	c.mu.Unlock()
	return c.deps.Tracker.Open(ctx, c.me, partner)
}

// Close clears the focused thread.
func (c *Console) Close() {
	c.mu.Lock()
	partner := c.focus.Partner
	c.focus.Partner = ""
	c.mu.Unlock()
	if partner != "" {
		c.deps.Tracker.Close(c.me, partner)
	}
}

// SetVisible records whether the console is in view. Becoming visible with
// a thread focused counts as opening it again.
func (c *Console) SetVisible(ctx context.Context, visible bool) {
	c.mu.Lock()
	was := c.focus.Visible
	c.focus.Visible = visible
	partner := c.focus.Partner
	c.mu.Unlock()
	if visible && !was && partner != "" {
		c.deps.Tracker.Open(ctx, c.me, partner)
	}
}

// Focus returns the current focus.
func (c *Console) Focus() alert.Focus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.focus
}

// Roster returns everyone this user can message.
func (c *Console) Roster(ctx context.Context) []roster.Person {
	return c.deps.Roster.Partners(ctx, c.me)
}

// Unread returns the unread count for partner.
func (c *Console) Unread(ctx context.Context, partner string) int {
	return c.deps.Counter.Count(ctx, c.me, partner)
}

// UnreadCounts returns unread counts per roster partner.
func (c *Console) UnreadCounts(ctx context.Context) map[string]int {
	return c.deps.Counter.Counts(ctx, c.me)
}

// TotalUnread returns the badge value.
func (c *Console) TotalUnread(ctx context.Context) int {
	return c.deps.Counter.Total(ctx, c.me)
}

func (c *Console) handleEvent(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case bus.KindMessageNew:
		m, ok := evt.Payload.(thread.Message)
		if !ok || !m.IsFor(c.me) {
			return
		}
		c.receive(ctx, m)
	case bus.KindStorageChanged:
		if sc, ok := evt.Payload.(bus.StorageChange); ok && evt.Remote() && roster.IsRosterKey(sc.Key) {
			c.deps.Roster.Invalidate()
		}
	}
}

func (c *Console) receive(ctx context.Context, m thread.Message) {
	c.deps.Tracker.MarkDelivered(ctx, c.me, m)

	focus := c.Focus()
	if c.alerter != nil {
		c.alerter.OnMessage(c.me, m, focus)
	}
	if focus.Sees(m.From) {
		c.deps.Tracker.Open(ctx, c.me, m.From)
	}
}

func (c *Console) deliverPending(ctx context.Context) {
	for _, partner := range c.deps.Repo.Partners(ctx, c.me) {
		for _, m := range c.deps.Repo.Load(ctx, c.me, partner) {
			if m.IsFor(c.me) && receipt.Of(m) == receipt.Sent {
				c.deps.Tracker.MarkDelivered(ctx, c.me, m)
			}
		}
	}
}
