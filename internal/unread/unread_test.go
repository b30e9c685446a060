package unread

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/matheus3301/portalchat/internal/bus"
	"github.com/matheus3301/portalchat/internal/clock"
	"github.com/matheus3301/portalchat/internal/kv"
	"github.com/matheus3301/portalchat/internal/kv/memkv"
	"github.com/matheus3301/portalchat/internal/roster"
	"github.com/matheus3301/portalchat/internal/thread"
	"github.com/matheus3301/portalchat/internal/tracker"
)

type fixture struct {
	bus     *bus.Bus
	clock   *clock.Fake
	repo    *thread.KVRepository
	tracker *tracker.Tracker
	counter *Counter
}

func newFixture(t *testing.T, mode Mode) *fixture {
	t.Helper()
	b := bus.New()
	store := kv.New(memkv.New(), nil, b, nil)
	fc := clock.NewFake(time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC))
	repo := thread.NewKVRepository(store)
	r := roster.NewResolver(store, b)
	r.WriteDirectory(context.Background(), []roster.Person{
		{Name: "Me", Email: "me@x"},
		{Name: "Ann", Email: "ann@x"},
		{Name: "Ben", Email: "ben@x"},
		{Name: "Cid", Email: "cid@x"},
	})
	tr := tracker.New(repo, store, b, fc, nil)
	return &fixture{
		bus:     b,
		clock:   fc,
		repo:    repo,
		tracker: tr,
		counter: NewCounter(repo, r, tr, store, b, mode, nil),
	}
}

func (f *fixture) send(t *testing.T, from, to string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		f.clock.Advance(time.Second)
		m, err := thread.New(from, to, fmt.Sprintf("%s #%d", from, i), nil, f.clock.Now())
		if err != nil {
			t.Fatal(err)
		}
		f.repo.Append(context.Background(), from, to, m)
	}
}

func TestTotalSumsPartners(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Watermark)
	f.send(t, "me@x", "ann@x", 3) // outbound only
	f.send(t, "ben@x", "me@x", 2)
	f.send(t, "cid@x", "me@x", 5)

	counts := f.counter.Counts(ctx, "me@x")
	if counts["ann@x"] != 0 || counts["ben@x"] != 2 || counts["cid@x"] != 5 {
		t.Errorf("Counts() = %v", counts)
	}
	if got := f.counter.Total(ctx, "me@x"); got != 7 {
		t.Errorf("Total() = %d, want 7", got)
	}
}

func TestOpenTwiceKeepsZero(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Watermark)
	f.send(t, "ben@x", "me@x", 2)

	for i := 0; i < 2; i++ {
		f.tracker.Open(ctx, "me@x", "ben@x")
		if got := f.counter.Count(ctx, "me@x", "ben@x"); got != 0 {
			t.Errorf("Count() after open %d = %d, want 0", i+1, got)
		}
	}
}

func TestWatermarkCountsNewerMessages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Watermark)
	f.send(t, "ben@x", "me@x", 2)
	f.tracker.Open(ctx, "me@x", "ben@x")
	f.send(t, "ben@x", "me@x", 1)

	if got := f.counter.Count(ctx, "me@x", "ben@x"); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}
	// Ben's view is unaffected by my watermark.
	f.send(t, "me@x", "ben@x", 1)
	if got := f.counter.Count(ctx, "ben@x", "me@x"); got != 1 {
		t.Errorf("Count(ben) = %d, want 1", got)
	}
}

func TestReceiptsMode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Receipts)
	f.send(t, "cid@x", "me@x", 3)

	if got := f.counter.Count(ctx, "me@x", "cid@x"); got != 3 {
		t.Fatalf("Count() = %d, want 3", got)
	}
	f.tracker.Open(ctx, "me@x", "cid@x")
	if got := f.counter.Count(ctx, "me@x", "cid@x"); got != 0 {
		t.Errorf("Count() after open = %d, want 0", got)
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": Watermark, "watermark": Watermark, " Receipts ": Receipts} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseMode("both"); err == nil {
		t.Error("ParseMode(both) succeeded")
	}
}

func TestPublishWritesSlotOnChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Watermark)
	ch, unsub := f.bus.Subscribe("unread.", 8)
	defer unsub()

	f.send(t, "ben@x", "me@x", 2)
	if got := f.counter.Publish(ctx, "me@x"); got != 2 {
		t.Fatalf("Publish() = %d, want 2", got)
	}
	if got := f.counter.Published(ctx, "me@x"); got != 2 {
		t.Errorf("Published() = %d, want 2", got)
	}
	select {
	case evt := <-ch:
		total, ok := evt.Payload.(bus.UnreadTotal)
		if !ok || total.Total != 2 || total.User != "me@x" {
			t.Errorf("payload = %#v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no unread.total event")
	}

	f.counter.Publish(ctx, "me@x")
	select {
	case evt := <-ch:
		t.Errorf("unexpected event for unchanged total: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAggregatorFollowsChanges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Watermark)
	ch, unsub := f.bus.Subscribe("unread.", 16)
	defer unsub()

	agg := NewAggregator(f.counter, f.bus, "me@x", nil)
	agg.Start(ctx)
	defer agg.Stop()

	expect := func(want int) {
		t.Helper()
		deadline := time.After(2 * time.Second)
		for {
			select {
			case evt := <-ch:
				if evt.Payload.(bus.UnreadTotal).Total == want {
					return
				}
			case <-deadline:
				t.Fatalf("no unread.total of %d", want)
			}
		}
	}

	expect(0)
	f.send(t, "ann@x", "me@x", 1)
	expect(1)
	f.tracker.Open(ctx, "me@x", "ann@x")
	expect(0)
}
