package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/reliefops/reliefops/internal/inventory"
	jobmetrics "github.com/reliefops/reliefops/internal/jobs"
	"github.com/reliefops/reliefops/internal/shared"
)

// Reconciler replays the movement log against stored balances.
type Reconciler interface {
	Reconcile(ctx context.Context) (inventory.ReconcileReport, error)
}

// releaseLock deletes the lock only while it still carries our token.
var releaseLock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LedgerReconcileJob checks that every record equals the replay of its
// movements. Only one worker runs it at a time.
type LedgerReconcileJob struct {
	Ledger  Reconciler
	Redis   *redis.Client
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	LockTTL time.Duration
}

// NewLedgerReconcileJob initialises the reconciliation handler.
func NewLedgerReconcileJob(ledger Reconciler, client *redis.Client, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerReconcileJob {
	return &LedgerReconcileJob{Ledger: ledger, Redis: client, Logger: logger, Metrics: metrics, LockTTL: 10 * time.Minute}
}

// Handle processes TaskLedgerReconcile tasks.
func (j *LedgerReconcileJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Ledger == nil {
		return errors.New("ledger reconcile: handler not configured")
	}
	var payload LedgerReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	logger := logOrDefault(j.Logger)

	release, ok, err := j.acquire(ctx)
	if err != nil {
		return err
	}
	if !ok {
		logger.Info("ledger reconcile already running elsewhere")
		j.Metrics.AddSkipped(TaskLedgerReconcile)
		return nil
	}
	defer release()

	tracker := j.Metrics.Track(TaskLedgerReconcile)
	defer func() { err = tracker.End(err) }()

	start := time.Now()
	report, err := j.Ledger.Reconcile(ctx)
	if err != nil {
		logger.Error("ledger reconcile failed", slog.Any("error", err))
		return err
	}
	j.Metrics.SetLedgerDrift(len(report.Drift))
	for _, d := range report.Drift {
		logger.Error("ledger drift",
			slog.Int64("inventory_id", d.InventoryID),
			slog.Int64("stored_quantity", d.StoredQty),
			slog.Int64("replayed_quantity", d.ReplayedQty),
			slog.Int64("stored_locked", d.StoredLocked),
			slog.Int64("replayed_locked", d.ReplayedLocked),
		)
	}
	logger.Info("ledger reconcile completed",
		slog.Int("records", report.Records),
		slog.Int("movements", report.Movements),
		slog.Int("drift", len(report.Drift)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

// acquire takes the cluster-wide reconcile lock. Without redis the job runs
// unguarded.
func (j *LedgerReconcileJob) acquire(ctx context.Context) (func(), bool, error) {
	if j.Redis == nil {
		return func() {}, true, nil
	}
	key := shared.LedgerLockKey("reconcile")
	token := uuid.NewString()
	ok, err := j.Redis.SetNX(ctx, key, token, j.LockTTL).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return func() {
		if err := releaseLock.Run(context.WithoutCancel(ctx), j.Redis, []string{key}, token).Err(); err != nil {
			logOrDefault(j.Logger).Warn("release reconcile lock", slog.Any("error", err))
		}
	}, true, nil
}
