package daemon

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/portalchat/internal/api"
	"github.com/matheus3301/portalchat/internal/bus"
	"github.com/matheus3301/portalchat/internal/client"
	"github.com/matheus3301/portalchat/internal/clock"
	"github.com/matheus3301/portalchat/internal/config"
	"github.com/matheus3301/portalchat/internal/console"
	"github.com/matheus3301/portalchat/internal/kv"
	"github.com/matheus3301/portalchat/internal/kv/memkv"
	"github.com/matheus3301/portalchat/internal/lock"
	"github.com/matheus3301/portalchat/internal/profile"
	"github.com/matheus3301/portalchat/internal/roster"
	"github.com/matheus3301/portalchat/internal/thread"
	"github.com/matheus3301/portalchat/internal/tracker"
	"github.com/matheus3301/portalchat/internal/unread"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	grpcstatus "google.golang.org/grpc/status"
)

const (
	admin = "admin@portal.local"
	staff = "staff@portal.local"
)

// shortTempDir keeps socket paths under the 104-char Unix socket limit on macOS.
func shortTempDir(t *testing.T, pattern string) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", pattern)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func startChatServer(t *testing.T) *client.Client {
	t.Helper()
	socketPath := filepath.Join(shortTempDir(t, "pc-test-*"), "d.sock")

	logger := zap.NewNop()
	b := bus.New()
	store := kv.New(memkv.New(), kv.JSON, b, logger)
	repo := thread.NewKVRepository(store)
	r := roster.NewResolver(store, b)
	tr := tracker.New(repo, store, b, clock.Real(), logger)
	counter := unread.NewCounter(repo, r, tr, store, b, unread.Watermark, logger)
	hub := console.NewHub(console.Deps{
		Repo:    repo,
		Roster:  r,
		Tracker: tr,
		Counter: counter,
		Bus:     b,
		Clock:   clock.Real(),
		Logger:  logger,
	})
	hub.Start(context.Background())
	t.Cleanup(hub.Stop)

	chatSvc := api.NewChatService(api.Info{Profile: "test", Backend: "memory", Codec: "json"}, hub, r, counter, b)

	grpcSrv := grpc.NewServer()
	api.RegisterChatServer(grpcSrv, chatSvc)
	hs := health.NewServer()
	hs.SetServingStatus(api.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcSrv, hs)

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = grpcSrv.Serve(listener) }()
	t.Cleanup(grpcSrv.GracefulStop)

	c, err := client.New(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestChatOverSocket(t *testing.T) {
	c := startChatServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping error = %v", err)
	}

	st, err := c.Chat.Status(ctx, &api.StatusRequest{})
	if err != nil {
		t.Fatalf("Status error = %v", err)
	}
	if st.Profile != "test" || st.Backend != "memory" || st.UnreadMode != "watermark" {
		t.Errorf("status = %+v", st)
	}

	sent, err := c.Chat.Send(ctx, &api.SendRequest{User: admin, To: staff, Text: "hello"})
	if err != nil {
		t.Fatalf("Send error = %v", err)
	}
	if sent.Message.From != admin || sent.Message.State != "SENT" {
		t.Errorf("sent message = %+v", sent.Message)
	}

	list, err := c.Chat.ListThread(ctx, &api.ListThreadRequest{User: staff, Partner: admin})
	if err != nil {
		t.Fatalf("ListThread error = %v", err)
	}
	if len(list.Messages) != 1 || list.Messages[0].Text != "hello" {
		t.Fatalf("thread = %+v, want one hello", list.Messages)
	}
	if list.Unread != 1 {
		t.Errorf("unread = %d, want 1", list.Unread)
	}

	total, err := c.Chat.Unread(ctx, &api.UnreadRequest{User: staff})
	if err != nil {
		t.Fatalf("Unread error = %v", err)
	}
	if total.Total != 1 || total.Counts[admin] != 1 {
		t.Errorf("unread = %+v, want 1 from %s", total, admin)
	}

	opened, err := c.Chat.OpenThread(ctx, &api.OpenThreadRequest{User: staff, Partner: admin})
	if err != nil {
		t.Fatalf("OpenThread error = %v", err)
	}
	if len(opened.MarkedRead) != 1 || opened.MarkedRead[0] != sent.Message.ID {
		t.Errorf("marked read = %v, want [%s]", opened.MarkedRead, sent.Message.ID)
	}
	if opened.Unread != 0 {
		t.Errorf("unread after open = %d, want 0", opened.Unread)
	}

	list, err = c.Chat.ListThread(ctx, &api.ListThreadRequest{User: admin, Partner: staff})
	if err != nil {
		t.Fatalf("ListThread error = %v", err)
	}
	if got := list.Messages[0].State; got != "READ" {
		t.Errorf("sender sees state %q, want READ", got)
	}

	people, err := c.Chat.Roster(ctx, &api.RosterRequest{User: admin})
	if err != nil {
		t.Fatalf("Roster error = %v", err)
	}
	if len(people.People) != 1 || people.People[0].Username != "sam.portal" {
		t.Errorf("roster = %+v, want only sam.portal", people.People)
	}
}

func TestInvalidArguments(t *testing.T) {
	c := startChatServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tests := []struct {
		name string
		call func() error
	}{
		{"send to self", func() error {
			_, err := c.Chat.Send(ctx, &api.SendRequest{User: admin, To: " ADMIN@portal.local", Text: "hi"})
			return err
		}},
		{"empty message", func() error {
			_, err := c.Chat.Send(ctx, &api.SendRequest{User: admin, To: staff, Text: "   "})
			return err
		}},
		{"missing user", func() error {
			_, err := c.Chat.ListThread(ctx, &api.ListThreadRequest{Partner: staff})
			return err
		}},
		{"missing partner", func() error {
			_, err := c.Chat.OpenThread(ctx, &api.OpenThreadRequest{User: admin})
			return err
		}},
		{"empty directory", func() error {
			_, err := c.Chat.ImportDirectory(ctx, &api.ImportDirectoryRequest{People: []roster.Person{{Name: "No Email"}}})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if code := grpcstatus.Code(err); code != codes.InvalidArgument {
				t.Errorf("code = %v (%v), want InvalidArgument", code, err)
			}
		})
	}
}

func TestWatchEvents(t *testing.T) {
	c := startChatServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := c.Chat.WatchEvents(ctx, &api.WatchEventsRequest{User: staff, Kinds: []string{bus.KindMessageNew}})
	if err != nil {
		t.Fatalf("WatchEvents error = %v", err)
	}
	// Give the server time to subscribe.
	time.Sleep(50 * time.Millisecond)

	if _, err := c.Chat.Send(ctx, &api.SendRequest{User: admin, To: staff, Text: "ping"}); err != nil {
		t.Fatalf("Send error = %v", err)
	}

	env, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv error = %v", err)
	}
	if env.Kind != bus.KindMessageNew || env.Profile != "test" {
		t.Errorf("envelope = %+v", env)
	}
	payload, err := api.UnmarshalPayload(env.Payload)
	if err != nil {
		t.Fatalf("UnmarshalPayload error = %v", err)
	}
	if payload["text"] != "ping" {
		t.Errorf("payload text = %v, want ping", payload["text"])
	}
}

func testParams(t *testing.T) Params {
	t.Helper()
	t.Setenv(profile.EnvHome, shortTempDir(t, "pc-home-*"))
	cfg := config.Default()
	cfg.Storage.Backend = "memory"
	cfg.Alerts.Enabled = false
	return Params{ProfileName: "test", Config: cfg, Logger: zap.NewNop()}
}

func TestModuleLifecycle(t *testing.T) {
	p := testParams(t)

	app := fx.New(Module(p), fx.NopLogger)
	if err := app.Err(); err != nil {
		t.Fatalf("fx.New error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("Start error = %v", err)
	}

	if _, err := lock.Acquire(profile.Dir(p.ProfileName)); err == nil {
		t.Error("expected profile lock to be held while running")
	} else {
		var held *lock.LockHeldError
		if !errors.As(err, &held) {
			t.Errorf("lock error = %v, want LockHeldError", err)
		}
	}

	c, err := client.New(profile.SocketPath(p.ProfileName))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping error = %v", err)
	}
	st, err := c.Chat.Status(ctx, &api.StatusRequest{})
	if err != nil {
		t.Fatalf("Status error = %v", err)
	}
	if st.Backend != "memory" || st.Codec != "json" || st.RelayOrigin != "" {
		t.Errorf("status = %+v", st)
	}

	if err := app.Stop(ctx); err != nil {
		t.Fatalf("Stop error = %v", err)
	}
	if _, err := os.Stat(profile.SocketPath(p.ProfileName)); !os.IsNotExist(err) {
		t.Errorf("socket still present after stop: %v", err)
	}
	lk, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		t.Fatalf("lock not released: %v", err)
	}
	_ = lk.Release()
}

func TestProvideBackend(t *testing.T) {
	tests := []struct {
		backend string
		want    string
		wantErr bool
	}{
		{backend: "memory", want: "memory"},
		{backend: "SQLite", want: "sqlite:"},
		{backend: "pebble", want: "pebble:"},
		{backend: "floppy", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			p := testParams(t)
			p.Config.Storage.Backend = tt.backend
			if err := profile.EnsureDir(p.ProfileName); err != nil {
				t.Fatal(err)
			}
			b, err := provideBackend(p, p.Config, nil, zap.NewNop())
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("provideBackend error = %v", err)
			}
			defer func() { _ = b.Close() }()
			if got := kv.Describe(b); len(got) < len(tt.want) || got[:len(tt.want)] != tt.want {
				t.Errorf("Describe = %q, want prefix %q", got, tt.want)
			}
		})
	}
}

func TestProvideConfigOverride(t *testing.T) {
	p := testParams(t)
	p.Config.Unread.Mode = "sometimes"
	if _, err := provideConfig(p); err == nil {
		t.Error("expected validation error for unknown unread mode")
	}
}
