/*
app.go - Dependency wiring shared by the server and dormctl

PURPOSE:
  Turns a config.Config into a running set of domain components: the
  table gateway, the settings cache, locks, notification sinks and the
  occupancy, billing, pricing and settings services.

WIRING:
  STORE_DRIVER  sqlite   -> store/sqlite      (single connection)
                postgres -> store/postgres    (lib/pq + sqlx)
                memory   -> gateway/memory    (demo / tests)
  REDIS_ADDR    set      -> settings cache and locks in Redis
                empty    -> in-process cache and locks
  NOTIFY_WEBHOOK_URL set -> log sink + webhook sink

  Saving settings invalidates the cache and re-syncs room prices.

SEE ALSO:
  - cmd/server/main.go
  - cmd/dormctl/main.go
*/
package app

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/warp/dorm-engine/billing"
	"github.com/warp/dorm-engine/config"
	"github.com/warp/dorm-engine/dorm"
	"github.com/warp/dorm-engine/gateway"
	"github.com/warp/dorm-engine/gateway/memory"
	"github.com/warp/dorm-engine/lock"
	"github.com/warp/dorm-engine/notify"
	"github.com/warp/dorm-engine/occupancy"
	"github.com/warp/dorm-engine/pricing"
	"github.com/warp/dorm-engine/repairs"
	"github.com/warp/dorm-engine/settings"
	"github.com/warp/dorm-engine/store/postgres"
	"github.com/warp/dorm-engine/store/sqlite"
	"go.uber.org/zap"
)

// LockPrefix namespaces lock keys in Redis.
const LockPrefix = "dorm:lock:"

// App is the assembled engine.
type App struct {
	Gateway   gateway.Gateway
	Clock     dorm.Clock
	Settings  *settings.Service
	Provider  settings.Provider
	Occupancy *occupancy.Manager
	Billing   *billing.Engine
	Pricing   *pricing.Synchronizer
	Repairs   *repairs.Service

	// Reset wipes every table. Nil when the store cannot be reset.
	Reset func(ctx context.Context) error
	// Migrate applies the schema. Nil for the memory driver.
	Migrate func(ctx context.Context) error

	closers []func() error
}

// Build opens the store and wires every component.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &App{Clock: dorm.SystemClock{}}

	if err := a.openStore(ctx, cfg); err != nil {
		return nil, err
	}

	var (
		kv     settings.KVStore = settings.NewLocalKVStore()
		locker lock.Locker      = lock.NewLocal()
	)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			a.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		a.closers = append(a.closers, client.Close)
		kv = settings.NewRedisKVStore(client)
		locker = lock.NewRedis(client, LockPrefix, lock.WithTTL(cfg.LockTTL), lock.WithLogger(log))
		log.Info("using redis for settings cache and locks", zap.String("addr", cfg.RedisAddr))
	}

	var sink notify.Sink = notify.NewLogSink(log.Named("events"))
	if cfg.NotifyWebhookURL != "" {
		sink = notify.Multi{sink, notify.NewWebhookSink(cfg.NotifyWebhookURL, log)}
	}

	cached := settings.NewCachedProvider(settings.NewGatewayProvider(a.Gateway), kv, cfg.SettingsCacheTTL, log)
	a.Provider = cached
	a.Settings = settings.NewService(a.Gateway, a.Clock, cached, log)
	a.Occupancy = occupancy.NewManager(a.Gateway, a.Clock,
		occupancy.WithLocker(locker),
		occupancy.WithNotifier(sink),
		occupancy.WithLogger(log.Named("occupancy")),
	)
	a.Billing = billing.NewEngine(a.Gateway, a.Clock, cached,
		billing.WithLocker(locker),
		billing.WithNotifier(sink),
		billing.WithLogger(log.Named("billing")),
	)
	a.Pricing = pricing.NewSynchronizer(a.Gateway, a.Clock, cached,
		pricing.WithLocker(locker),
		pricing.WithNotifier(sink),
		pricing.WithLogger(log.Named("pricing")),
	)
	a.Repairs = repairs.NewService(a.Gateway, a.Clock,
		repairs.WithLocker(locker),
		repairs.WithNotifier(sink),
		repairs.WithLogger(log.Named("repairs")),
	)
	a.Settings.OnChange(a.Pricing.OnSettingsChanged)

	if a.Reset != nil {
		reset := a.Reset
		a.Reset = func(ctx context.Context) error {
			if err := reset(ctx); err != nil {
				return err
			}
			return cached.Invalidate(ctx)
		}
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg *config.Config) error {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return err
		}
		a.Gateway = s
		a.closers = append(a.closers, s.Close)
		a.Reset = func(context.Context) error { return s.Reset() }
		a.Migrate = func(context.Context) error { return s.Migrate() }
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return err
		}
		a.Gateway = s
		a.closers = append(a.closers, s.Close)
		a.Reset = s.Reset
		a.Migrate = s.Migrate
	case config.DriverMemory:
		m := memory.New()
		a.Gateway = m
		a.Reset = func(context.Context) error {
			m.Reset()
			return nil
		}
	default:
		return fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
	return nil
}

// Close releases the store and Redis connections.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
