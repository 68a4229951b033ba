package inventory

import (
	"context"
	"time"
)

// LowStockEvent is raised when a record's available quantity falls below its alert threshold.
type LowStockEvent struct {
	MaterialID  int64     `json:"material_id"`
	InventoryID int64     `json:"inventory_id"`
	Location    string    `json:"location"`
	Available   int64     `json:"available"`
	Threshold   int64     `json:"threshold"`
	Cause       string    `json:"cause"`
	At          time.Time `json:"at"`
}

// EventPublisher hands ledger events to background processing.
type EventPublisher interface {
	PublishLowStock(ctx context.Context, evt LowStockEvent) error
}

// crossedThreshold reports whether available moved from at-or-above the
// threshold to below it.
func crossedThreshold(before, after Record) bool {
	if after.AlertThreshold <= 0 {
		return false
	}
	return before.Available() >= after.AlertThreshold && after.Available() < after.AlertThreshold
}
