package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/matheus3301/portalchat/internal/bus"
	"github.com/matheus3301/portalchat/internal/thread"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds the daemon's Prometheus collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	StorageErrors *prometheus.CounterVec
	RelayEvents   *prometheus.CounterVec
	Messages      *prometheus.CounterVec
	Unread        *prometheus.GaugeVec

	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
	server *http.Server
	addr   string
}

// New registers the collectors.
func New(b *bus.Bus, logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		StorageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portalchat",
			Name:      "storage_errors_total",
			Help:      "Storage operations that failed and were swallowed.",
		}, []string{"op"}),
		RelayEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portalchat",
			Name:      "relay_events_total",
			Help:      "Events relayed to or from other processes.",
		}, []string{"direction"}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portalchat",
			Name:      "message_events_total",
			Help:      "Message lifecycle events raised in this process.",
		}, []string{"kind"}),
		Unread: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "portalchat",
			Name:      "unread_messages",
			Help:      "Last published unread total per user.",
		}, []string{"user"}),
		bus:    b,
		logger: logger,
	}
	m.Registry.MustRegister(
		m.StorageErrors,
		m.RelayEvents,
		m.Messages,
		m.Unread,
		collectors.NewGoCollector(),
	)
	return m
}

// StorageError implements kv.Recorder.
func (m *Metrics) StorageError(op string) {
	m.StorageErrors.WithLabelValues(op).Inc()
}

// RelayEvent implements relay.Recorder.
func (m *Metrics) RelayEvent(direction string) {
	m.RelayEvents.WithLabelValues(direction).Inc()
}

// Start follows bus events to update the message and unread series.
func (m *Metrics) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	ch, unsub := m.bus.SubscribeMany(256, "message.", "unread.")

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				m.observe(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (m *Metrics) observe(evt bus.Event) {
	if evt.Remote() {
		return
	}
	switch p := evt.Payload.(type) {
	case bus.UnreadTotal:
		m.Unread.WithLabelValues(thread.Normalize(p.User)).Set(float64(p.Total))
	case bus.ReadReceipt:
		m.Messages.WithLabelValues(evt.Kind).Add(float64(len(p.IDs)))
	default:
		m.Messages.WithLabelValues(evt.Kind).Inc()
	}
}

// Serve exposes /metrics on addr. An empty addr disables the listener.
func (m *Metrics) Serve(addr string) error {
	if addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on metrics address: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	m.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	m.addr = ln.Addr().String()
	go func() {
		if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("metrics server error", zap.Error(err))
		}
	}()
	m.logger.Info("metrics listening", zap.String("addr", m.addr))
	return nil
}

// Addr returns the listener address, or "" when not serving.
func (m *Metrics) Addr() string { return m.addr }

// Stop stops the event loop and the listener.
func (m *Metrics) Stop(ctx context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}
