// Package app wires configuration into the running components.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"signalpush/internal/api"
	"signalpush/internal/gateway"
	"signalpush/internal/repository"
	"signalpush/internal/resolver"
	"signalpush/internal/service/dispatch"
	"signalpush/pkg/config"
	"signalpush/pkg/db"
	"signalpush/pkg/mq"
	"signalpush/pkg/outbox"
	"signalpush/pkg/redis"
	"signalpush/pkg/util"
)

// App holds the long-lived clients and the services built on them.
type App struct {
	Config        *config.Config
	DB            *pgxpool.Pool
	Redis         *goredis.Client
	Publisher     *mq.Publisher
	Notifications *repository.NotificationRepository
	Dispatch      *dispatch.Service

	outbox *outbox.Repository
	logger *zap.Logger
}

// New connects to the database and optional backends and builds the
// dispatch pipeline. Redis and RabbitMQ are skipped when unconfigured.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	pool, err := db.NewConnection(ctx, cfg.DB, log)
	if err != nil {
		return nil, fmt.Errorf("failed to init DB: %w", err)
	}

	a := &App{Config: cfg, DB: pool, logger: log}

	a.Notifications = repository.NewNotificationRepository(pool, log)

	if cfg.MQ.URL != "" {
		publisher, err := mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to init MQ publisher: %w", err)
		}
		a.Publisher = publisher
		a.outbox = outbox.NewRepository(pool)
		a.Notifications.WithOutbox(a.outbox)
		log.Info("Outbox events enabled", zap.String("exchange", mq.ExchangeName))
	}

	if cfg.Redis.Addr != "" {
		rdb, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			// the deduper fails open, so a missing redis is not fatal
			log.Warn("Redis unavailable, idempotency keys disabled", zap.Error(err))
		} else {
			a.Redis = rdb
		}
	}

	gw, err := gateway.New(ctx, cfg.Gateway, log)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to init push gateway: %w", err)
	}

	directory := repository.NewRecipientRepository(pool, log)
	a.Dispatch = dispatch.NewService(a.Notifications, resolver.New(directory, log), gw, log).
		WithRetry(cfg.Dispatch.RetryMax, config.Duration(cfg.Dispatch.RetryDelay, 500*time.Millisecond))

	return a, nil
}

// Router builds the HTTP router over the dispatch service.
func (a *App) Router() *api.Router {
	opts := api.Options{
		JWTSecret:          a.Config.Auth.JWTSecret,
		RateLimitPerMinute: a.Config.Server.RateLimitPerMinute,
	}
	if a.Redis != nil {
		opts.Deduper = util.NewDeduperWithLogger(a.Redis,
			config.Duration(a.Config.Redis.IdempotencyTTL, 24*time.Hour), a.logger)
	}

	handler := api.NewNotificationHandler(a.Dispatch, a.logger)
	return api.NewRouter(handler, a.Notifications, opts, a.logger)
}

// StartOutbox runs the outbox dispatcher until ctx ends. It returns at once
// when no broker is configured.
func (a *App) StartOutbox(ctx context.Context) {
	if a.Publisher == nil {
		return
	}
	mqCfg := a.Config.MQ
	outbox.NewDispatcher(a.outbox, a.Publisher, a.logger).
		WithInterval(config.Duration(mqCfg.OutboxInterval, time.Second)).
		WithBatchSize(mqCfg.OutboxBatch).
		WithMaxRetries(mqCfg.OutboxRetries).
		Start(ctx)
}

func (a *App) Close() {
	if a.Publisher != nil {
		a.Publisher.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
