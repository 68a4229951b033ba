package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/reliefops/reliefops/internal/dispatch"
	"github.com/reliefops/reliefops/internal/inventory"
)

// Enqueuer is the part of *asynq.Client the publisher needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Client submits jobs to the queue. It publishes ledger and dispatch events.
type Client struct {
	client Enqueuer
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// PublishLowStock enqueues a stock:low_alert task.
func (c *Client) PublishLowStock(ctx context.Context, evt inventory.LowStockEvent) error {
	task, err := NewLowStockAlertTask(evt)
	if err != nil {
		return fmt.Errorf("jobs: build low stock task: %w", err)
	}
	if _, err := c.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("jobs: enqueue low stock alert: %w", err)
	}
	return nil
}

// PublishTaskCreated enqueues a dispatch:notify_logistics task. A task that is
// already queued counts as published.
func (c *Client) PublishTaskCreated(ctx context.Context, evt dispatch.TaskCreatedEvent) error {
	task, err := NewNotifyLogisticsTask(evt)
	if err != nil {
		return fmt.Errorf("jobs: build notify task: %w", err)
	}
	_, err = c.client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("jobs: enqueue logistics notification: %w", err)
	}
	return nil
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
