// Package app wires the store, locks, notification adapters, service and
// scheduler from config for every binary.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-lifecycle/internal/api"
	"github.com/hackgods/appointment-lifecycle/internal/appointment"
	"github.com/hackgods/appointment-lifecycle/internal/config"
	"github.com/hackgods/appointment-lifecycle/internal/db"
	"github.com/hackgods/appointment-lifecycle/internal/lifecycle"
	"github.com/hackgods/appointment-lifecycle/internal/notify"
	redisclient "github.com/hackgods/appointment-lifecycle/internal/redis"
)

const webhookTimeout = 10 * time.Second

type App struct {
	Config    config.Config
	Logger    zerolog.Logger
	Repo      appointment.Repository
	Service   *appointment.Service
	Scheduler *lifecycle.Scheduler
	Registry  *prometheus.Registry

	pool     *pgxpool.Pool
	redis    *redis.Client
	workflow *notify.Workflow
}

// Build connects every configured dependency. On error, whatever was
// already opened is closed.
func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger) (_ *App, err error) {
	a := &App{Config: cfg, Logger: logger, Registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		a.pool, err = db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{})
		cancel()
		if err != nil {
			return nil, fmt.Errorf("postgres connection: %w", err)
		}
		if err = db.Migrate(ctx, a.pool); err != nil {
			return nil, err
		}
		a.Repo = appointment.NewPgRepository(a.pool)
		logger.Info().Msg("connected to postgres")
	default:
		a.Repo = appointment.NewMemoryRepository()
		logger.Warn().Msg("using in-memory store, data is lost on exit")
	}

	providerLocker := redisclient.NewLocalLocker(cfg.ProviderLockTTL)
	jobLocker := redisclient.NewLocalLocker(cfg.JobLockTTL)
	if cfg.RedisAddr != "" {
		a.redis, err = redisclient.NewRedisClient(ctx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, fmt.Errorf("redis connection: %w", err)
		}
		providerLocker = redisclient.NewRedisLocker(a.redis, cfg.ProviderLockTTL)
		jobLocker = redisclient.NewRedisLocker(a.redis, cfg.JobLockTTL)
		logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to redis")
	} else {
		logger.Warn().Msg("redis not configured, locks are process-local")
	}

	var publishers []notify.Publisher
	if cfg.WebhookURL != "" {
		publishers = append(publishers, notify.NewWebhookPublisher(cfg.WebhookURL, webhookTimeout))
	}
	if cfg.AMQPURL != "" {
		pub, perr := notify.NewAMQPPublisher(cfg.AMQPURL, logger)
		if perr != nil {
			return nil, fmt.Errorf("amqp publisher: %w", perr)
		}
		publishers = append(publishers, pub)
	}
	a.workflow = notify.NewWorkflow(logger, webhookTimeout, publishers...)

	var channel notify.Channel
	if cfg.UseLogChannel() {
		channel = notify.NewLogChannel(logger)
	} else {
		channel = notify.NewHTTPChannel(notify.HTTPChannelConfig{
			EmailURL: cfg.EmailURL,
			VoiceURL: cfg.VoiceURL,
			Token:    cfg.ChannelToken,
			Timeout:  cfg.ChannelTimeout,
		}, logger)
	}

	rules := appointment.Rules{
		SlotBuffer:      cfg.SlotBuffer,
		DuplicateWindow: cfg.DuplicateWindow,
		DailyQuota:      cfg.DailyQuota,
	}
	a.Service = appointment.NewService(a.Repo, providerLocker, a.workflow, rules, time.Now, logger)

	jobs := lifecycle.DefaultConfig()
	jobs.ReminderInterval = cfg.ReminderInterval
	jobs.SurveyInterval = cfg.SurveyInterval
	jobs.VoiceInterval = cfg.VoiceInterval
	jobs.CleanupInterval = cfg.CleanupInterval
	jobs.ChannelTimeout = cfg.ChannelTimeout
	jobs.SurveyURL = cfg.SurveyURL
	a.Scheduler = lifecycle.New(a.Repo, channel, a.workflow, jobs, logger,
		lifecycle.WithLocker(jobLocker),
		lifecycle.WithMetrics(lifecycle.NewMetrics(a.Registry)),
	)

	return a, nil
}

// Pingers returns readiness checks for the connected dependencies. Nil
// entries mean the dependency is not in use.
func (a *App) Pingers() (postgres, redisPing api.Pinger) {
	if a.pool != nil {
		postgres = a.pool
	}
	if a.redis != nil {
		rdb := a.redis
		redisPing = api.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}
	return postgres, redisPing
}

// RouterConfig describes the HTTP surface over this app.
func (a *App) RouterConfig(version string) api.RouterConfig {
	pg, rd := a.Pingers()
	return api.RouterConfig{
		Service:   a.Service,
		Scheduler: a.Scheduler,
		Postgres:  pg,
		Redis:     rd,
		Gatherer:  a.Registry,
		Logger:    a.Logger,
		Env:       a.Config.Env,
		Version:   version,
	}
}

func (a *App) Close() error {
	var errs []error
	if a.workflow != nil {
		errs = append(errs, a.workflow.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.pool != nil {
		a.pool.Close()
	}
	return errors.Join(errs...)
}
