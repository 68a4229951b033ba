package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/reliefops/reliefops/internal/dispatch"
	jobmetrics "github.com/reliefops/reliefops/internal/jobs"
	"github.com/reliefops/reliefops/internal/shared"
)

// TaskReader loads committed dispatch tasks.
type TaskReader interface {
	GetTask(ctx context.Context, id int64) (dispatch.DispatchTask, error)
}

// NotifyLogisticsJob hands committed dispatch tasks to the logistics desk.
type NotifyLogisticsJob struct {
	Tasks   TaskReader
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewNotifyLogisticsJob initialises the logistics notification handler.
func NewNotifyLogisticsJob(tasks TaskReader, logger *slog.Logger, metrics *jobmetrics.Metrics) *NotifyLogisticsJob {
	return &NotifyLogisticsJob{Tasks: tasks, Logger: logger, Metrics: metrics}
}

// Handle processes TaskNotifyLogistics tasks.
func (j *NotifyLogisticsJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Tasks == nil {
		return errors.New("notify logistics: handler not configured")
	}
	var evt dispatch.TaskCreatedEvent
	if err := json.Unmarshal(t.Payload(), &evt); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskNotifyLogistics)
	defer func() { err = tracker.End(err) }()

	task, err := j.Tasks.GetTask(ctx, evt.TaskID)
	if errors.Is(err, shared.ErrNotFound) {
		// Published events always follow a commit, so a missing task will not appear later.
		logOrDefault(j.Logger).Error("dispatch task missing", slog.Int64("task_id", evt.TaskID), slog.String("code", evt.Code))
		return errors.Join(err, asynq.SkipRetry)
	}
	if err != nil {
		return err
	}

	logOrDefault(j.Logger).Info("dispatch task handed to logistics",
		slog.String("code", task.Code),
		slog.Int64("request_id", task.RequestID),
		slog.String("urgency", string(evt.Urgency)),
		slog.String("target_area", evt.TargetArea),
		slog.Int("allocations", len(task.Allocations)),
		slog.Int64("total", task.Total()),
	)
	j.Metrics.AddLogisticsNotification(string(evt.Urgency))
	return nil
}
