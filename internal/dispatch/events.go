package dispatch

import (
	"context"
	"time"
)

// TaskCreatedEvent is handed to logistics once a task is committed.
type TaskCreatedEvent struct {
	TaskID      int64        `json:"task_id"`
	Code        string       `json:"code"`
	RequestID   int64        `json:"request_id"`
	MaterialID  int64        `json:"material_id"`
	Urgency     Urgency      `json:"urgency_level"`
	TargetArea  string       `json:"target_area"`
	Allocations []Allocation `json:"allocations"`
	At          time.Time    `json:"at"`
}

// EventPublisher hands dispatch events to background processing.
type EventPublisher interface {
	PublishTaskCreated(ctx context.Context, evt TaskCreatedEvent) error
}
