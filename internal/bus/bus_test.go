package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindMessageNew, Timestamp: time.Now(), Payload: "test"})

	select {
	case evt := <-ch:
		if evt.Kind != KindMessageNew {
			t.Errorf("got kind %q, want %s", evt.Kind, KindMessageNew)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("unread.", 10)
	defer unsub()

	b.Emit(KindMessageRead, nil)
	b.Emit(KindUnreadTotal, UnreadTotal{User: "bob@y", Total: 3})

	select {
	case evt := <-ch:
		if evt.Kind != KindUnreadTotal {
			t.Errorf("got kind %q, want %s", evt.Kind, KindUnreadTotal)
		}
		if evt.Payload.(UnreadTotal).Total != 3 {
			t.Errorf("payload = %+v, want total 3", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEmitFillsTimestamp(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("", 1)
	defer unsub()

	b.Emit(KindStorageChanged, StorageChange{Key: "k"})
	evt := <-ch
	if evt.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
	if evt.Remote() {
		t.Error("local event reported as remote")
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 10)
	unsub()
	unsub()

	b.Emit(KindMessageNew, nil)

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("thread.", 1)
	defer unsub()

	b.Publish(Event{Kind: "thread.one"})
	b.Publish(Event{Kind: "thread.two"})

	evt := <-ch
	if evt.Kind != "thread.one" {
		t.Errorf("got %q, want thread.one", evt.Kind)
	}
}

func TestSubscribeMany(t *testing.T) {
	b := New()
	ch, unsub := b.SubscribeMany(10, "message.", "roster.")
	defer unsub()

	b.Emit(KindStorageChanged, nil)
	b.Emit(KindRosterChanged, nil)
	b.Emit(KindMessageDelivered, nil)

	var got []string
	for len(got) < 2 {
		select {
		case evt := <-ch:
			got = append(got, evt.Kind)
		case <-time.After(time.Second):
			t.Fatalf("timeout, got %v", got)
		}
	}
	if got[0] != KindRosterChanged || got[1] != KindMessageDelivered {
		t.Errorf("got %v, want [roster.changed message.delivered]", got)
	}
}

func TestPublishOnNilBus(t *testing.T) {
	var b *Bus
	b.Emit(KindMessageNew, nil)
}

func TestSubscribeQueueKeepsBurst(t *testing.T) {
	b := New()
	ch, unsub := b.SubscribeQueue("message.")
	defer unsub()

	const n = 1000
	for i := 0; i < n; i++ {
		b.Emit(KindMessageNew, i)
	}
	b.Emit(KindUnreadTotal, nil)

	for i := 0; i < n; i++ {
		select {
		case evt := <-ch:
			if evt.Payload.(int) != i {
				t.Fatalf("event %d payload = %v, want in-order delivery", i, evt.Payload)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout after %d of %d events", i, n)
		}
	}
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeQueueUnsubscribe(t *testing.T) {
	b := New()
	_, unsub := b.SubscribeQueue("")
	unsub()
	unsub()

	done := make(chan struct{})
	go func() {
		b.Emit(KindMessageNew, nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked after unsubscribe")
	}
}
