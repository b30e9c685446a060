package unread

import (
	"context"
	"fmt"
	"strings"

	"github.com/matheus3301/portalchat/internal/bus"
	"github.com/matheus3301/portalchat/internal/kv"
	"github.com/matheus3301/portalchat/internal/roster"
	"github.com/matheus3301/portalchat/internal/thread"
	"github.com/matheus3301/portalchat/internal/tracker"
	"go.uber.org/zap"
)

// SlotKeyPrefix namespaces the published unread totals.
const SlotKeyPrefix = "portal.chat.unread:"

// SlotKey returns the key holding me's last published total.
func SlotKey(me string) string {
	return SlotKeyPrefix + thread.Normalize(me)
}

// Mode selects how unread messages are recognized.
type Mode string

const (
	// Watermark counts inbound messages sent after the thread was last opened.
	Watermark Mode = "watermark"
	// Receipts counts inbound messages without a readAt.
	Receipts Mode = "receipts"
)

// ParseMode resolves a configured mode name. Empty selects Watermark.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", Watermark:
		return Watermark, nil
	case Receipts:
		return Receipts, nil
	default:
		return "", fmt.Errorf("unknown unread mode %q: want watermark or receipts", s)
	}
}

// Counter computes unread counts.
type Counter struct {
	repo    thread.Repository
	roster  *roster.Resolver
	tracker *tracker.Tracker
	store   *kv.Store
	bus     bus.Notifier
	mode    Mode
	logger  *zap.Logger
}

// NewCounter creates a counter.
func NewCounter(repo thread.Repository, r *roster.Resolver, t *tracker.Tracker, s *kv.Store, n bus.Notifier, mode Mode, logger *zap.Logger) *Counter {
	if mode == "" {
		mode = Watermark
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Counter{repo: repo, roster: r, tracker: t, store: s, bus: n, mode: mode, logger: logger}
}

// Mode returns the counting mode.
func (c *Counter) Mode() Mode { return c.mode }

// Count returns how many messages from partner me has not read.
func (c *Counter) Count(ctx context.Context, me, partner string) int {
	msgs := c.repo.Load(ctx, me, partner)
	if c.mode == Receipts {
		n := 0
		for _, m := range msgs {
			if m.IsFrom(partner) && m.IsFor(me) && m.ReadAt == nil {
				n++
			}
		}
		return n
	}

	mark, ok := c.tracker.Watermark(ctx, me, partner)
	n := 0
	for _, m := range msgs {
		if !m.IsFrom(partner) {
			continue
		}
		if !ok || m.At.After(mark) {
			n++
		}
	}
	return n
}

// Counts returns the unread count for every roster partner of me.
func (c *Counter) Counts(ctx context.Context, me string) map[string]int {
	out := make(map[string]int)
	for _, p := range c.roster.Partners(ctx, me) {
		out[thread.Normalize(p.Email)] = c.Count(ctx, me, p.Email)
	}
	return out
}

// Total sums the unread counts over me's roster partners.
func (c *Counter) Total(ctx context.Context, me string) int {
	total := 0
	for _, n := range c.Counts(ctx, me) {
		total += n
	}
	return total
}

// Publish recomputes me's total, stores it in the unread slot and announces
// it when it differs from the stored value. It returns the total.
func (c *Counter) Publish(ctx context.Context, me string) int {
	total := c.Total(ctx, me)
	var prev int
	wrote := c.store.Update(ctx, SlotKey(me), &prev, func(exists bool) bool {
		if exists && prev == total {
			return false
		}
		prev = total
		return true
	})
	if wrote {
		c.logger.Debug("unread total", zap.String("user", me), zap.Int("total", total))
		if c.bus != nil {
			c.bus.Publish(bus.Event{Kind: bus.KindUnreadTotal, Payload: bus.UnreadTotal{User: me, Total: total}})
		}
	}
	return total
}

// Published returns the last total written to me's unread slot.
func (c *Counter) Published(ctx context.Context, me string) int {
	return kv.Load(ctx, c.store, SlotKey(me), 0)
}
