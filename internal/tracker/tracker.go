package tracker

import (
	"context"
	"time"

	"github.com/matheus3301/portalchat/internal/bus"
	"github.com/matheus3301/portalchat/internal/clock"
	"github.com/matheus3301/portalchat/internal/kv"
	"github.com/matheus3301/portalchat/internal/receipt"
	"github.com/matheus3301/portalchat/internal/thread"
	"go.uber.org/zap"
)

// WatermarkKeyPrefix namespaces the per-viewer read watermarks.
const WatermarkKeyPrefix = "portal.chat.lastRead:"

// WatermarkKey returns the key holding me's partner -> last-opened map.
func WatermarkKey(me string) string {
	return WatermarkKeyPrefix + thread.Normalize(me)
}

// Tracker moves messages through SENT -> DELIVERED -> READ and keeps the
// read watermarks.
type Tracker struct {
	repo   thread.Repository
	store  *kv.Store
	bus    bus.Notifier
	clock  clock.Clock
	logger *zap.Logger
}

// New creates a tracker. A nil clock uses the wall clock.
func New(repo thread.Repository, s *kv.Store, n bus.Notifier, c clock.Clock, logger *zap.Logger) *Tracker {
	if c == nil {
		c = clock.Real()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{repo: repo, store: s, bus: n, clock: c, logger: logger}
}

// MarkDelivered records that me's client observed m. It does nothing unless
// m is addressed to me and still SENT. Reports whether the thread changed.
func (t *Tracker) MarkDelivered(ctx context.Context, me string, m thread.Message) bool {
	if !m.IsFor(me) {
		return false
	}
	now := t.clock.Now()
	var delivered thread.Message
	changed := false
	t.repo.Update(ctx, m.From, m.To, func(msgs []thread.Message) ([]thread.Message, bool) {
		changed = false
		for i := range msgs {
			if msgs[i].ID != m.ID {
				continue
			}
			if receipt.Deliver(&msgs[i], now) {
				delivered = msgs[i]
				changed = true
			}
			break
		}
		return msgs, changed
	})
	if !changed {
		return false
	}
	t.logger.Debug("message delivered", zap.String("id", m.ID), zap.String("to", me))
	t.publish(bus.KindMessageDelivered, delivered)
	return true
}

// Open records that me opened the thread with partner. The watermark is
// bumped before any per-message readAt is written, so unread counts drop
// to zero as soon as this is called. Returns the ids marked read.
func (t *Tracker) Open(ctx context.Context, me, partner string) []string {
	now := t.clock.Now()
	t.bumpWatermark(ctx, me, partner, now)

	var ids []string
	t.repo.Update(ctx, me, partner, func(msgs []thread.Message) ([]thread.Message, bool) {
		ids = ids[:0]
		for i := range msgs {
			if !msgs[i].IsFor(me) || !msgs[i].IsFrom(partner) {
				continue
			}
			if receipt.MarkRead(&msgs[i], now) {
				ids = append(ids, msgs[i].ID)
			}
		}
		return msgs, len(ids) > 0
	})

	if len(ids) > 0 {
		t.logger.Debug("messages read", zap.String("reader", me), zap.String("partner", partner), zap.Int("count", len(ids)))
		t.publish(bus.KindMessageRead, bus.ReadReceipt{Reader: me, Partner: partner, IDs: ids})
	}
	t.publish(bus.KindThreadOpened, bus.ThreadFocus{User: me, Partner: partner})
	return ids
}

// Close announces that me no longer has a thread focused.
func (t *Tracker) Close(me, partner string) {
	t.publish(bus.KindThreadClosed, bus.ThreadFocus{User: me, Partner: partner})
}

// Watermark returns when me last opened the thread with partner.
func (t *Tracker) Watermark(ctx context.Context, me, partner string) (time.Time, bool) {
	marks := t.Watermarks(ctx, me)
	at, ok := marks[thread.Normalize(partner)]
	return at, ok
}

// Watermarks returns all of me's watermarks keyed by normalized partner.
func (t *Tracker) Watermarks(ctx context.Context, me string) map[string]time.Time {
	marks := kv.Load(ctx, t.store, WatermarkKey(me), map[string]time.Time{})
	if marks == nil {
		return map[string]time.Time{}
	}
	return marks
}

func (t *Tracker) bumpWatermark(ctx context.Context, me, partner string, now time.Time) {
	var marks map[string]time.Time
	t.store.Update(ctx, WatermarkKey(me), &marks, func(bool) bool {
		if marks == nil {
			marks = make(map[string]time.Time)
		}
		key := thread.Normalize(partner)
		// The watermark never moves backwards.
		if prev, ok := marks[key]; ok && !now.After(prev) {
			return false
		}
		marks[key] = now
		return true
	})
}

func (t *Tracker) publish(kind string, payload any) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(bus.Event{Kind: kind, Timestamp: t.clock.Now(), Payload: payload})
}
