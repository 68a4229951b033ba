package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/reliefops/reliefops/internal/app"
	"github.com/reliefops/reliefops/internal/dispatch"
	"github.com/reliefops/reliefops/internal/inventory"
	"github.com/reliefops/reliefops/internal/observability"
	"github.com/reliefops/reliefops/internal/platform/cache"
	"github.com/reliefops/reliefops/internal/platform/db"
	"github.com/reliefops/reliefops/internal/shared"
	"github.com/reliefops/reliefops/jobs"
)

// runtime holds the wired services shared by every subcommand.
type runtime struct {
	ledger    *inventory.Service
	desk      *dispatch.Service
	metrics   *observability.Metrics
	pool      *pgxpool.Pool
	redis     *redis.Client
	publisher *jobs.Client
	closers   []func() error
}

func (rt *runtime) Close(logger *slog.Logger) {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			logger.Warn("close resource", slog.Any("error", err))
		}
	}
}

func (rt *runtime) readiness() map[string]app.ReadinessCheck {
	checks := make(map[string]app.ReadinessCheck)
	if rt.pool != nil {
		checks["postgres"] = rt.pool.Ping
	}
	if rt.redis != nil {
		client := rt.redis
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}
	return checks
}

// wire connects the configured stores and builds the ledger and dispatch
// services on top of them.
func wire(ctx context.Context, cfg *app.Config, logger *slog.Logger) (*runtime, error) {
	rt := &runtime{metrics: observability.NewMetrics()}

	var (
		ledgerRepo inventory.RepositoryPort
		deskRepo   dispatch.RepositoryPort
		idem       inventory.IdempotencyPort
		auditor    inventory.AuditPort
	)
	if cfg.UsesMemoryStore() {
		ledgerRepo = inventory.NewMemoryRepository()
		deskRepo = dispatch.NewMemoryRepository()
		idem = shared.NewMemoryIdempotency()
		auditor = shared.SlogAuditor{Logger: logger}
		logger.Warn("using in-memory store, state is lost on restart")
	} else {
		if cfg.MigrateOnStart {
			if err := db.Migrate(ctx, cfg.PGDSN); err != nil {
				return nil, err
			}
		}
		pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
		if err != nil {
			return nil, err
		}
		rt.pool = pool
		rt.closers = append(rt.closers, func() error { pool.Close(); return nil })
		ledgerRepo = inventory.NewRepository(pool)
		deskRepo = dispatch.NewRepository(pool)
		idem = shared.NewIdempotencyStore(pool)
		auditor = shared.NewAuditLogger(pool)
	}

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, running without summary cache and background jobs", slog.Any("error", err))
	} else {
		rt.redis = redisClient
		rt.closers = append(rt.closers, redisClient.Close)
		rt.publisher = jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		rt.closers = append(rt.closers, rt.publisher.Close)
	}

	var (
		ledgerEvents inventory.EventPublisher
		deskEvents   dispatch.EventPublisher
	)
	if rt.publisher != nil {
		ledgerEvents = rt.publisher
		deskEvents = rt.publisher
	}

	rt.ledger = inventory.NewService(ledgerRepo, auditor, idem, inventory.ServiceConfig{AlertThreshold: cfg.AlertThreshold}, ledgerEvents, logger).
		WithRecorder(rt.metrics)
	if rt.redis != nil {
		rt.ledger.WithSummaryCache(inventory.NewSummaryCache(rt.redis, cfg.SummaryCacheTTL))
	}
	rt.desk = dispatch.NewService(deskRepo, dispatch.NewInventoryAdapter(rt.ledger), deskEvents, auditor, logger).
		WithRecorder(rt.metrics)
	return rt, nil
}

// inspector opens a queue inspector when redis is reachable.
func (rt *runtime) inspector(cfg *app.Config) (*asynq.Inspector, error) {
	if rt.redis == nil {
		return nil, errors.New("redis unavailable")
	}
	insp := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	rt.closers = append(rt.closers, insp.Close)
	return insp, nil
}

func usageError(format string, args ...any) error {
	return fmt.Errorf("usage: "+format, args...)
}
