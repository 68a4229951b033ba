package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/reliefops/reliefops/internal/dispatch"
	"github.com/reliefops/reliefops/internal/inventory"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical serves the most urgent dispatch work first.
	QueueCritical = "critical"

	// TaskStockLowAlert reports a record that fell below its alert threshold.
	TaskStockLowAlert = "stock:low_alert"
	// TaskNotifyLogistics hands a committed dispatch task to logistics.
	TaskNotifyLogistics = "dispatch:notify_logistics"
	// TaskLedgerReconcile replays the movement log against stored balances.
	TaskLedgerReconcile = "ledger:reconcile"
)

// NewLowStockAlertTask constructs an Asynq task for a low stock event.
func NewLowStockAlertTask(evt inventory.LowStockEvent) (*asynq.Task, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockLowAlert, body, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// NewNotifyLogisticsTask constructs an Asynq task for a committed dispatch
// task. The task code doubles as the Asynq task id so a retried publish is
// not delivered twice.
func NewNotifyLogisticsTask(evt dispatch.TaskCreatedEvent) (*asynq.Task, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	queue := QueueDefault
	if evt.Urgency == dispatch.UrgencyL3 {
		queue = QueueCritical
	}
	return asynq.NewTask(TaskNotifyLogistics, body,
		asynq.Queue(queue),
		asynq.TaskID("notify:"+evt.Code),
		asynq.MaxRetry(10),
	), nil
}

// LedgerReconcilePayload carries scheduling metadata.
type LedgerReconcilePayload struct {
	RequestedAt time.Time `json:"requested_at"`
}

// NewLedgerReconcileTask constructs an Asynq task for ledger reconciliation.
func NewLedgerReconcileTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(LedgerReconcilePayload{RequestedAt: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerReconcile, body, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}
