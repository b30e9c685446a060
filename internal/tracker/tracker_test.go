package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/matheus3301/portalchat/internal/bus"
	"github.com/matheus3301/portalchat/internal/clock"
	"github.com/matheus3301/portalchat/internal/kv"
	"github.com/matheus3301/portalchat/internal/kv/memkv"
	"github.com/matheus3301/portalchat/internal/thread"
)

func testTracker(t *testing.T) (*Tracker, *thread.KVRepository, *clock.Fake, *bus.Bus) {
	t.Helper()
	b := bus.New()
	store := kv.New(memkv.New(), nil, nil, nil)
	repo := thread.NewKVRepository(store)
	fc := clock.NewFake(time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC))
	return New(repo, store, b, fc, nil), repo, fc, b
}

func sendAt(t *testing.T, repo *thread.KVRepository, from, to, text string, at time.Time) thread.Message {
	t.Helper()
	m, err := thread.New(from, to, text, nil, at)
	if err != nil {
		t.Fatal(err)
	}
	repo.Append(context.Background(), from, to, m)
	return m
}

func waitEvent(t *testing.T, ch <-chan bus.Event, kind string) bus.Event {
	t.Helper()
	for {
		select {
		case evt := <-ch:
			if evt.Kind == kind {
				return evt
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %s", kind)
		}
	}
}

func TestMarkDelivered(t *testing.T) {
	ctx := context.Background()
	tr, repo, fc, b := testTracker(t)
	ch, unsub := b.Subscribe("message.", 8)
	defer unsub()

	m := sendAt(t, repo, "alice@x", "bob@y", "hello", fc.Now())
	fc.Advance(2 * time.Second)

	if tr.MarkDelivered(ctx, "alice@x", m) {
		t.Error("sender marked own message delivered")
	}
	if !tr.MarkDelivered(ctx, "BOB@y", m) {
		t.Fatal("recipient MarkDelivered reported no change")
	}
	if tr.MarkDelivered(ctx, "bob@y", m) {
		t.Error("second MarkDelivered reported a change")
	}

	got := repo.Load(ctx, "alice@x", "bob@y")[0]
	if got.DeliveredAt == nil || !got.DeliveredAt.Equal(fc.Now()) {
		t.Errorf("deliveredAt = %v, want %v", got.DeliveredAt, fc.Now())
	}
	if got.ReadAt != nil {
		t.Error("readAt set by delivery")
	}

	evt := waitEvent(t, ch, bus.KindMessageDelivered)
	if p, ok := evt.Payload.(thread.Message); !ok || p.ID != m.ID || p.DeliveredAt == nil {
		t.Errorf("payload = %#v", evt.Payload)
	}
}

func TestOpenMarksInboundRead(t *testing.T) {
	ctx := context.Background()
	tr, repo, fc, b := testTracker(t)
	ch, unsub := b.SubscribeMany(8, "message.", "thread.")
	defer unsub()

	in1 := sendAt(t, repo, "alice@x", "bob@y", "one", fc.Now())
	out := sendAt(t, repo, "bob@y", "alice@x", "reply", fc.Now().Add(time.Second))
	fc.Advance(time.Second)
	in2 := sendAt(t, repo, "alice@x", "bob@y", "two", fc.Now())
	tr.MarkDelivered(ctx, "bob@y", in1)
	fc.Advance(time.Minute)

	ids := tr.Open(ctx, "bob@y", "alice@x")
	if len(ids) != 2 || ids[0] != in1.ID || ids[1] != in2.ID {
		t.Errorf("Open() ids = %v, want [%s %s]", ids, in1.ID, in2.ID)
	}

	for _, m := range repo.Load(ctx, "bob@y", "alice@x") {
		switch m.ID {
		case out.ID:
			if m.ReadAt != nil {
				t.Error("own message marked read")
			}
		default:
			if m.ReadAt == nil || !m.ReadAt.Equal(fc.Now()) {
				t.Errorf("message %s readAt = %v", m.Text, m.ReadAt)
			}
		}
	}

	read := waitEvent(t, ch, bus.KindMessageRead).Payload.(bus.ReadReceipt)
	if read.Reader != "bob@y" || len(read.IDs) != 2 {
		t.Errorf("read receipt = %+v", read)
	}
	focus := waitEvent(t, ch, bus.KindThreadOpened).Payload.(bus.ThreadFocus)
	if focus.User != "bob@y" || focus.Partner != "alice@x" {
		t.Errorf("focus = %+v", focus)
	}

	if ids := tr.Open(ctx, "bob@y", "alice@x"); len(ids) != 0 {
		t.Errorf("second Open() ids = %v, want none", ids)
	}
}

func TestWatermark(t *testing.T) {
	ctx := context.Background()
	tr, _, fc, _ := testTracker(t)

	if _, ok := tr.Watermark(ctx, "bob@y", "alice@x"); ok {
		t.Fatal("watermark present before open")
	}
	tr.Open(ctx, "bob@y", "Alice@X")
	first := fc.Now()
	at, ok := tr.Watermark(ctx, "BOB@y", "alice@x")
	if !ok || !at.Equal(first) {
		t.Errorf("Watermark() = %v, %v; want %v", at, ok, first)
	}

	// A clock step backwards never rewinds the watermark.
	fc.Set(first.Add(-time.Hour))
	tr.Open(ctx, "bob@y", "alice@x")
	if at, _ := tr.Watermark(ctx, "bob@y", "alice@x"); !at.Equal(first) {
		t.Errorf("watermark rewound to %v", at)
	}

	fc.Set(first.Add(time.Hour))
	tr.Open(ctx, "bob@y", "alice@x")
	if at, _ := tr.Watermark(ctx, "bob@y", "alice@x"); !at.Equal(first.Add(time.Hour)) {
		t.Errorf("watermark = %v, want %v", at, first.Add(time.Hour))
	}
	if marks := tr.Watermarks(ctx, "bob@y"); len(marks) != 1 {
		t.Errorf("Watermarks() = %v", marks)
	}
}

func TestTimestampsNeverRegress(t *testing.T) {
	ctx := context.Background()
	tr, repo, fc, _ := testTracker(t)

	m := sendAt(t, repo, "alice@x", "bob@y", "hi", fc.Now())
	// Recipient clock runs behind the sender's.
	fc.Set(m.At.Add(-5 * time.Minute))
	tr.MarkDelivered(ctx, "bob@y", m)
	fc.Set(m.At.Add(-10 * time.Minute))
	tr.Open(ctx, "bob@y", "alice@x")

	got := repo.Load(ctx, "alice@x", "bob@y")[0]
	if got.DeliveredAt == nil || got.DeliveredAt.Before(got.At) {
		t.Errorf("deliveredAt %v before at %v", got.DeliveredAt, got.At)
	}
	if got.ReadAt == nil || got.ReadAt.Before(*got.DeliveredAt) {
		t.Errorf("readAt %v before deliveredAt %v", got.ReadAt, got.DeliveredAt)
	}
}
