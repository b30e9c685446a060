package daemon

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/matheus3301/portalchat/internal/alert"
	"github.com/matheus3301/portalchat/internal/api"
	"github.com/matheus3301/portalchat/internal/bus"
	"github.com/matheus3301/portalchat/internal/clock"
	"github.com/matheus3301/portalchat/internal/config"
	"github.com/matheus3301/portalchat/internal/console"
	"github.com/matheus3301/portalchat/internal/kv"
	"github.com/matheus3301/portalchat/internal/kv/memkv"
	"github.com/matheus3301/portalchat/internal/kv/pebblekv"
	"github.com/matheus3301/portalchat/internal/kv/sqlitekv"
	"github.com/matheus3301/portalchat/internal/kv/valkeykv"
	"github.com/matheus3301/portalchat/internal/lock"
	"github.com/matheus3301/portalchat/internal/logging"
	"github.com/matheus3301/portalchat/internal/metrics"
	"github.com/matheus3301/portalchat/internal/profile"
	"github.com/matheus3301/portalchat/internal/relay"
	"github.com/matheus3301/portalchat/internal/roster"
	"github.com/matheus3301/portalchat/internal/thread"
	"github.com/matheus3301/portalchat/internal/tracker"
	"github.com/matheus3301/portalchat/internal/unread"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	SocketPath  string         // optional override for testing; empty = use default
	Config      *config.Config // optional; nil = load from disk and environment
	Logger      *zap.Logger    // optional; nil = log to the profile log file
	Debug       bool
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideBackend,
			provideCodec,
			provideMetrics,
			provideStore,
			provideRepository,
			provideRoster,
			provideTracker,
			provideCounter,
			provideHub,
			provideRelay,
			provideChatService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if p.Config != nil {
		return p.Config, p.Config.Validate()
	}
	if err := config.LoadEnvFile(profile.EnvFilePath()); err != nil {
		return nil, err
	}
	cfg, err := config.LoadOrDefault(profile.ConfigPath())
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	if p.Logger != nil {
		return p.Logger, nil
	}
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName, p.Debug)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideBackend takes the lock so the store is only opened by the lock holder.
func provideBackend(p Params, cfg *config.Config, _ *lock.Lock, logger *zap.Logger) (kv.Backend, error) {
	switch strings.ToLower(cfg.Storage.Backend) {
	case "memory":
		logger.Warn("using in-memory storage; messages are lost on exit")
		return memkv.New(), nil
	case "sqlite":
		path := profile.SQLitePath(p.ProfileName)
		db, result, err := sqlitekv.OpenMigrated(path)
		if err != nil {
			return nil, err
		}
		if result.Changed {
			logger.Info("migrations applied", zap.Uint("version", result.Version))
		} else {
			logger.Info("migrations up to date", zap.Uint("version", result.Version))
		}
		logger.Info("store initialized", zap.String("path", path))
		return db, nil
	case "pebble":
		dir := profile.PebbleDir(p.ProfileName)
		b, err := pebblekv.Open(dir)
		if err != nil {
			return nil, err
		}
		logger.Info("store initialized", zap.String("path", dir))
		return b, nil
	case "valkey":
		b, err := valkeykv.Open(cfg.Storage.ValkeyAddr, "")
		if err != nil {
			return nil, err
		}
		logger.Info("store initialized", zap.String("addr", cfg.Storage.ValkeyAddr))
		return b, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func provideCodec(cfg *config.Config) (kv.Codec, error) {
	return kv.CodecByName(strings.ToLower(cfg.Storage.Codec))
}

func provideMetrics(b *bus.Bus, logger *zap.Logger) *metrics.Metrics {
	return metrics.New(b, logger)
}

func provideStore(backend kv.Backend, codec kv.Codec, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *kv.Store {
	return kv.New(backend, codec, b, logger).WithRecorder(m)
}

func provideRepository(s *kv.Store) thread.Repository {
	return thread.NewKVRepository(s)
}

func provideRoster(s *kv.Store, b *bus.Bus) *roster.Resolver {
	return roster.NewResolver(s, b)
}

func provideTracker(repo thread.Repository, s *kv.Store, b *bus.Bus, logger *zap.Logger) *tracker.Tracker {
	return tracker.New(repo, s, b, clock.Real(), logger)
}

func provideCounter(cfg *config.Config, repo thread.Repository, r *roster.Resolver, t *tracker.Tracker, s *kv.Store, b *bus.Bus, logger *zap.Logger) (*unread.Counter, error) {
	mode, err := unread.ParseMode(cfg.Unread.Mode)
	if err != nil {
		return nil, err
	}
	return unread.NewCounter(repo, r, t, s, b, mode, logger), nil
}

func provideHub(cfg *config.Config, repo thread.Repository, r *roster.Resolver, t *tracker.Tracker, c *unread.Counter, b *bus.Bus, logger *zap.Logger) *console.Hub {
	deps := console.Deps{
		Repo:    repo,
		Roster:  r,
		Tracker: t,
		Counter: c,
		Bus:     b,
		Clock:   clock.Real(),
		Logger:  logger,
	}
	if cfg.Alerts.Enabled {
		deps.Alerts = alertFactory(cfg.Alerts, r, logger)
	}
	return console.NewHub(deps)
}

func alertFactory(cfg config.Alerts, r *roster.Resolver, logger *zap.Logger) func(string) *alert.Alerter {
	return func(me string) *alert.Alerter {
		opts := alert.Options{
			PerMinute: cfg.PerMinute,
			Name: func(id string) string {
				if p, ok := r.Lookup(context.Background(), id); ok {
					return p.Name
				}
				return ""
			},
		}
		if cfg.Command != "" {
			cmd := alert.Command{Name: cfg.Command}
			opts.Desktop, opts.Requester = cmd, cmd
		} else {
			l := alert.Log{Logger: logger.With(zap.String("user", me))}
			opts.Desktop, opts.Requester = l, l
		}
		if cfg.Bell {
			opts.Chime = alert.Bell{W: os.Stderr}
		}
		return alert.New(opts, logger.With(zap.String("user", me)))
	}
}

// provideRelay returns nil unless the backend can carry events between processes.
func provideRelay(backend kv.Backend, codec kv.Codec, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *relay.Bridge {
	t, ok := backend.(relay.Transport)
	if !ok {
		return nil
	}
	return relay.New(t, b, codec, logger).WithRecorder(m)
}

func provideChatService(p Params, backend kv.Backend, codec kv.Codec, hub *console.Hub, r *roster.Resolver, c *unread.Counter, rb *relay.Bridge, b *bus.Bus) *api.ChatService {
	info := api.Info{
		Profile: p.ProfileName,
		Backend: kv.Describe(backend),
		Codec:   codec.Name(),
	}
	if rb != nil {
		info.RelayOrigin = rb.Origin()
	}
	return api.NewChatService(info, hub, r, c, b)
}

func registerLifecycle(lc fx.Lifecycle, cfg *config.Config, srv *Server, lk *lock.Lock, backend kv.Backend, hub *console.Hub, rb *relay.Bridge, m *metrics.Metrics, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := m.Serve(cfg.Metrics.Addr); err != nil {
				return err
			}
			m.Start(context.Background())

			if rb != nil {
				rb.Start(context.Background())
			}
			hub.Start(context.Background())

			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			hub.Stop()
			if rb != nil {
				rb.Stop()
			}
			if err := m.Stop(ctx); err != nil {
				logger.Warn("error stopping metrics", zap.Error(err))
			}
			if err := backend.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
