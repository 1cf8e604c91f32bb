package daemon

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/matheus3301/courier/internal/api"
	"github.com/matheus3301/courier/internal/bus"
	"github.com/matheus3301/courier/internal/config"
	"github.com/matheus3301/courier/internal/delivery"
	"github.com/matheus3301/courier/internal/fanout"
	"github.com/matheus3301/courier/internal/logging"
	"github.com/matheus3301/courier/internal/presence"
	"github.com/matheus3301/courier/internal/receipt"
	"github.com/matheus3301/courier/internal/registry"
	"github.com/matheus3301/courier/internal/relay"
	"github.com/matheus3301/courier/internal/session"
	"github.com/matheus3301/courier/internal/store"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NodeID identifies this process among the nodes sharing a relay.
type NodeID string

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(cfg *config.Config) fx.Option {
	return fx.Module("daemon",
		fx.Supply(cfg),
		fx.Provide(
			provideNodeID,
			provideLogger,
			provideStore,
			provideBackends,
			providePresence,
			provideBus,
			provideRelay,
			provideRegistry,
			provideDispatcher,
			provideCoordinator,
			provideReceipts,
			provideSessionManager,
			provideRouter,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideNodeID(cfg *config.Config) NodeID {
	if cfg.NodeID != "" {
		return NodeID(cfg.NodeID)
	}
	return NodeID(uuid.NewString())
}

func provideLogger(cfg *config.Config, id NodeID) (*zap.Logger, error) {
	return logging.New(cfg.Log.Level, cfg.Log.File, string(id))
}

func provideStore(cfg *config.Config, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", cfg.Store.Path))
	return db, nil
}

// Backends holds the shared clients for the configured presence and relay
// backends. A field is nil when no component uses that backend.
type Backends struct {
	Redis *redis.Client
	NATS  *nats.Conn
}

func (b *Backends) Close() {
	if b.NATS != nil {
		b.NATS.Close()
	}
	if b.Redis != nil {
		_ = b.Redis.Close()
	}
}

func provideBackends(cfg *config.Config, logger *zap.Logger) (*Backends, error) {
	b := &Backends{}
	if cfg.Presence.Backend == presence.BackendRedis || cfg.Relay.Backend == relay.BackendRedis {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		b.Redis = redis.NewClient(opts)
		logger.Info("redis client configured", zap.String("addr", opts.Addr))
	}
	if cfg.Relay.Backend == relay.BackendNATS {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name(cfg.NATS.Name),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				logger.Warn("nats disconnected", zap.Error(err))
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				logger.Info("nats reconnected", zap.String("url", redactURL(nc.ConnectedUrl())))
			}),
		)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		b.NATS = nc
		logger.Info("nats connected", zap.String("url", redactURL(nc.ConnectedUrl())))
	}
	return b, nil
}

func providePresence(cfg *config.Config, b *Backends, logger *zap.Logger) *presence.Tracker {
	var st presence.Store
	switch cfg.Presence.Backend {
	case presence.BackendRedis:
		st = presence.NewRedis(b.Redis, cfg.Presence.KeyPrefix)
	default:
		st = presence.NewMemory(nil)
	}
	return presence.NewTracker(st, cfg.Presence.OnlineTTL.Std(), cfg.Presence.OfflineTTL.Std(), logger)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideRelay(cfg *config.Config, b *Backends, eb *bus.Bus, logger *zap.Logger) relay.Relay {
	switch cfg.Relay.Backend {
	case relay.BackendRedis:
		return relay.NewRedis(b.Redis, cfg.Relay.Prefix, logger)
	case relay.BackendNATS:
		return relay.NewNATS(b.NATS, cfg.Relay.Prefix, logger)
	default:
		return relay.NewMemory(eb, cfg.Relay.Buffer)
	}
}

func provideRegistry(logger *zap.Logger) *registry.Registry {
	return registry.New(logger)
}

func provideDispatcher(id NodeID, reg *registry.Registry, rl relay.Relay, logger *zap.Logger) *fanout.Dispatcher {
	return fanout.New(string(id), reg, rl, logger)
}

func provideCoordinator(db *store.DB, d *fanout.Dispatcher, p *presence.Tracker, logger *zap.Logger) *delivery.Coordinator {
	return delivery.New(db, d, p, logger)
}

func provideReceipts(db *store.DB, d *fanout.Dispatcher, logger *zap.Logger) *receipt.Tracker {
	return receipt.New(db, d, logger)
}

func provideSessionManager(cfg *config.Config, id NodeID, reg *registry.Registry, rl relay.Relay, coord *delivery.Coordinator, receipts *receipt.Tracker, p *presence.Tracker, logger *zap.Logger) *session.Manager {
	sc := cfg.Session
	return session.NewManager(session.Deps{
		NodeID:   string(id),
		Registry: reg,
		Relay:    rl,
		Convs:    coord,
		Receipts: receipts,
		Logger:   logger,
	}, session.Options{
		OutboundBuffer:     sc.OutboundBuffer,
		PingInterval:       sc.PingInterval.Std(),
		PresenceRefresh:    p.RefreshInterval(),
		ResubscribeBackoff: sc.ResubscribeBackoff.Std(),
	})
}

func provideRouter(cfg *config.Config, db *store.DB, coord *delivery.Coordinator, receipts *receipt.Tracker, mgr *session.Manager, logger *zap.Logger) http.Handler {
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	ws := session.WebsocketOptions{
		WriteTimeout:   cfg.Session.WriteTimeout.Std(),
		PongWait:       cfg.Session.PongWait.Std(),
		MaxMessageSize: cfg.Session.MaxMessageBytes,
	}
	return api.NewRouter(logger, db.Health, cfg.Server.CORSOrigins,
		api.NewConversationService(coord),
		api.NewMessageService(coord, receipts),
		api.NewPresenceService(coord),
		api.NewSessionService(mgr, ws, logger),
	)
}

func registerLifecycle(lc fx.Lifecycle, cfg *config.Config, b *Backends, db *store.DB, srv *Server, mgr *session.Manager, reg *registry.Registry, rl relay.Relay, p *presence.Tracker, id NodeID, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			logger.Info("daemon starting",
				zap.String("node", string(id)),
				zap.String("relay", cfg.Relay.Backend),
				zap.String("presence", cfg.Presence.Backend))

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			// Sessions first so every device gets its offline transition
			// while the store and backends are still up.
			if err := mgr.Shutdown(ctx); err != nil {
				logger.Warn("sessions did not drain", zap.Error(err))
			}
			srv.Stop(ctx)
			reg.Close()
			if err := rl.Close(); err != nil {
				logger.Warn("error closing relay", zap.Error(err))
			}
			if err := p.Close(); err != nil {
				logger.Warn("error closing presence", zap.Error(err))
			}
			b.Close()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}

// redactURL strips credentials from a backend URL before it is logged.
func redactURL(u string) string {
	if at := strings.LastIndex(u, "@"); at >= 0 {
		if scheme := strings.Index(u, "://"); scheme >= 0 && scheme < at {
			return u[:scheme+3] + "***" + u[at:]
		}
	}
	return u
}
