// Package bootstrap wires the scheduler's storage, locking, directory and
// notification backends from config. Every binary builds its App here.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-queue-scheduler/internal/api"
	"github.com/hackgods/clinic-queue-scheduler/internal/appointment"
	"github.com/hackgods/clinic-queue-scheduler/internal/clock"
	"github.com/hackgods/clinic-queue-scheduler/internal/config"
	"github.com/hackgods/clinic-queue-scheduler/internal/db"
	"github.com/hackgods/clinic-queue-scheduler/internal/locking"
	"github.com/hackgods/clinic-queue-scheduler/internal/metrics"
	"github.com/hackgods/clinic-queue-scheduler/internal/notify"
	"github.com/hackgods/clinic-queue-scheduler/internal/provider"
	redisclient "github.com/hackgods/clinic-queue-scheduler/internal/redis"
)

// demo providers loaded into the in-memory directory
const memoryProviders = 3

type App struct {
	Config    config.Config
	Logger    zerolog.Logger
	Service   *appointment.Service
	Directory provider.Directory
	Registry  *prometheus.Registry
	Metrics   *metrics.SchedulerMetrics
	Checks    []api.Check

	PgPool *pgxpool.Pool // nil with the memory store
	Redis  *redis.Client // nil when nothing needs Redis

	closers []func()
}

func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*App, error) {
	app := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
	}
	app.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	app.Metrics = metrics.NewSchedulerMetrics(app.Registry)

	if err := app.connect(ctx); err != nil {
		app.Close()
		return nil, err
	}

	var repo appointment.Repository
	switch cfg.Store {
	case config.StorePostgres:
		repo = appointment.NewPgRepository(app.PgPool)
		var dir provider.Directory = provider.NewPgDirectory(app.PgPool)
		if app.Redis != nil && cfg.ScheduleCacheTTL > 0 {
			dir = provider.NewCachedDirectory(dir, app.Redis, cfg.ScheduleCacheTTL, logger)
		}
		app.Directory = dir
	default:
		repo = appointment.NewMemoryRepository()
		profiles := provider.FakeProfiles(gofakeit.New(1), memoryProviders)
		for _, p := range profiles {
			logger.Info().
				Str("provider_id", p.ID.String()).
				Str("name", p.Name).
				Str("specialty", p.Specialty).
				Msg("in-memory provider")
		}
		app.Directory = provider.NewStaticDirectory(profiles...)
	}

	var locker locking.Locker
	switch cfg.LockBackend {
	case config.LockRedis:
		locker = redisclient.NewDayLocker(app.Redis, cfg.LockTTL, cfg.LockWait)
	default:
		locker = locking.NewKeyedLocker(cfg.LockWait)
	}

	notifiers := notify.Multi{notify.NewLogNotifier(logger)}
	if app.Redis != nil {
		notifiers = append(notifiers, notify.NewRedisNotifier(app.Redis))
	}

	app.Service = appointment.NewService(appointment.Dependencies{
		Repo:      repo,
		Locker:    locker,
		Directory: app.Directory,
		Notifier:  notifiers,
		Clock:     clock.System(cfg.Location),
		Logger:    logger,
		Metrics:   app.Metrics,
	}, appointment.Config{
		CancelLeadTime:    cfg.CancelLeadTime,
		AvgServiceMinutes: cfg.AvgServiceMinutes,
	})

	return app, nil
}

func (a *App) connect(ctx context.Context) error {
	cfg := a.Config

	if cfg.Store == config.StorePostgres {
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PostgresMaxConn)
		cancel()
		if err != nil {
			return fmt.Errorf("postgres connection error: %w", err)
		}
		a.PgPool = pool
		a.closers = append(a.closers, pool.Close)
		a.Checks = append(a.Checks, api.Check{Name: "postgres", Critical: true, Ping: pool.Ping})
		a.Logger.Info().Msg("connected to Postgres")
	}

	if cfg.UsesRedis() {
		rdb, err := redisclient.NewRedisClient(ctx, redisclient.ClientConfig{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
			PoolSize: cfg.RedisPoolSize,
		})
		if err != nil {
			return fmt.Errorf("redis connection error: %w", err)
		}
		a.Redis = rdb
		a.closers = append(a.closers, func() {
			if err := rdb.Close(); err != nil {
				a.Logger.Warn().Err(err).Msg("error closing redis")
			}
		})
		a.Checks = append(a.Checks, api.Check{
			Name:     "redis",
			Critical: cfg.LockBackend == config.LockRedis,
			Ping:     func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
		a.Logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")
	}
	return nil
}

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
