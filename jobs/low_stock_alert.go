package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/reliefops/reliefops/internal/inventory"
	jobmetrics "github.com/reliefops/reliefops/internal/jobs"
	"github.com/reliefops/reliefops/internal/shared"
)

// RecordReader loads the current state of an inventory record.
type RecordReader interface {
	GetRecord(ctx context.Context, id int64) (inventory.Record, error)
}

// LowStockAlertJob raises an operator alert for a record below its threshold.
// Alerts for records that recovered before the job ran are dropped.
type LowStockAlertJob struct {
	Ledger  RecordReader
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLowStockAlertJob initialises the low stock alert handler.
func NewLowStockAlertJob(ledger RecordReader, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockAlertJob {
	return &LowStockAlertJob{Ledger: ledger, Logger: logger, Metrics: metrics}
}

// Handle processes TaskStockLowAlert tasks.
func (j *LowStockAlertJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Ledger == nil {
		return errors.New("low stock alert: handler not configured")
	}
	var evt inventory.LowStockEvent
	if err := json.Unmarshal(t.Payload(), &evt); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskStockLowAlert)
	defer func() { err = tracker.End(err) }()

	logger := logOrDefault(j.Logger).With(
		slog.Int64("material_id", evt.MaterialID),
		slog.Int64("inventory_id", evt.InventoryID),
		slog.String("location", evt.Location),
	)

	rec, err := j.Ledger.GetRecord(ctx, evt.InventoryID)
	if errors.Is(err, shared.ErrNotFound) {
		logger.Warn("low stock alert for unknown record")
		return nil
	}
	if err != nil {
		return err
	}
	if rec.Available() >= rec.AlertThreshold {
		logger.Info("stock recovered before alert", slog.Int64("available", rec.Available()))
		return nil
	}

	logger.Warn("stock below alert threshold",
		slog.Int64("available", rec.Available()),
		slog.Int64("threshold", rec.AlertThreshold),
		slog.String("cause", evt.Cause),
	)
	j.Metrics.AddLowStockAlert(evt.MaterialID)
	return nil
}

func logOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
