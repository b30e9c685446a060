package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/portalchat/internal/bus"
	"github.com/matheus3301/portalchat/internal/kv"
	"github.com/matheus3301/portalchat/internal/thread"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorders(t *testing.T) {
	m := New(bus.New(), nil)
	var rec kv.Recorder = m
	rec.StorageError("set")
	rec.StorageError("set")
	m.RelayEvent("in")

	if got := testutil.ToFloat64(m.StorageErrors.WithLabelValues("set")); got != 2 {
		t.Errorf("storage errors = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RelayEvents.WithLabelValues("in")); got != 1 {
		t.Errorf("relay events = %v, want 1", got)
	}
}

func TestObservesBusEvents(t *testing.T) {
	b := bus.New()
	m := New(b, nil)
	m.Start(context.Background())
	defer func() { _ = m.Stop(context.Background()) }()

	b.Emit(bus.KindMessageNew, thread.Message{ID: "1"})
	b.Emit(bus.KindMessageRead, bus.ReadReceipt{IDs: []string{"1", "2", "3"}})
	b.Emit(bus.KindUnreadTotal, bus.UnreadTotal{User: "Bob@Y", Total: 4})
	b.Publish(bus.Event{Kind: bus.KindMessageNew, Origin: "elsewhere", Payload: thread.Message{ID: "2"}})

	deadline := time.Now().Add(2 * time.Second)
	for {
		read := testutil.ToFloat64(m.Messages.WithLabelValues(bus.KindMessageRead))
		unread := testutil.ToFloat64(m.Unread.WithLabelValues("bob@y"))
		if read == 3 && unread == 4 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("read = %v, unread = %v", read, unread)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := testutil.ToFloat64(m.Messages.WithLabelValues(bus.KindMessageNew)); got != 1 {
		t.Errorf("message.new = %v, want 1 (remote events skipped)", got)
	}
}

func TestServe(t *testing.T) {
	m := New(bus.New(), nil)
	if err := m.Serve(""); err != nil || m.Addr() != "" {
		t.Fatalf("Serve(\"\") = %v, addr %q", err, m.Addr())
	}
	if err := m.Serve("127.0.0.1:0"); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = m.Stop(context.Background()) }()
	m.StorageError("get")

	resp, err := http.Get("http://" + m.Addr() + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `portalchat_storage_errors_total{op="get"} 1`) {
		t.Errorf("metrics output missing storage counter:\n%s", body)
	}
}
