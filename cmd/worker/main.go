package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/reliefops/reliefops/internal/app"
	"github.com/reliefops/reliefops/internal/dispatch"
	"github.com/reliefops/reliefops/internal/inventory"
	jobmetrics "github.com/reliefops/reliefops/internal/jobs"
	"github.com/reliefops/reliefops/internal/platform/cache"
	"github.com/reliefops/reliefops/internal/platform/db"
	"github.com/reliefops/reliefops/internal/shared"
	"github.com/reliefops/reliefops/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if cfg.UsesMemoryStore() {
		logger.Error("worker requires the postgres store; in-memory state is not shared across processes")
		os.Exit(1)
	}

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(cache.Options(cfg.RedisAddr))
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}

	metrics := jobmetrics.NewMetrics(prometheus.DefaultRegisterer)

	// The worker only reads the ledger; it never publishes events itself.
	ledger := inventory.NewService(inventory.NewRepository(pool), shared.NewAuditLogger(pool), nil, inventory.ServiceConfig{AlertThreshold: cfg.AlertThreshold}, nil, logger)
	deskRepo := dispatch.NewRepository(pool)

	lowStockJob := jobs.NewLowStockAlertJob(ledger, logger, metrics)
	notifyJob := jobs.NewNotifyLogisticsJob(deskRepo, logger, metrics)
	reconcileJob := jobs.NewLedgerReconcileJob(ledger, redisClient, logger, metrics)

	reconcileTask, err := jobs.NewLedgerReconcileTask(time.Now().UTC())
	if err != nil {
		logger.Error("build reconcile task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskStockLowAlert, Handler: lowStockJob.Handle},
			{Type: jobs.TaskNotifyLogistics, Handler: notifyJob.Handle},
			{Type: jobs.TaskLedgerReconcile, Handler: reconcileJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ReconcileCron, Task: reconcileTask, Options: []asynq.Option{asynq.MaxRetry(1), asynq.Unique(30 * time.Minute)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.Int("concurrency", cfg.WorkerConcurrency), slog.String("reconcile_cron", cfg.ReconcileCron))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
