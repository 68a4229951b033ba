package inventory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReplayAllMovementTypes(t *testing.T) {
	movements := []Movement{
		{Type: MovementInbound, InventoryID: 1, Quantity: 100},
		{Type: MovementOutbound, InventoryID: 1, Quantity: 30},
		{Type: MovementTransfer, InventoryID: 1, CounterInventoryID: 2, Quantity: 20},
		{Type: MovementLock, InventoryID: 1, Quantity: 15},
		{Type: MovementLock, InventoryID: 2, Quantity: 5},
		{Type: MovementUnlock, InventoryID: 1, Quantity: 5},
		{Type: MovementShip, InventoryID: 2, Quantity: 5},
	}
	got := Replay(movements)
	require.Equal(t, Balance{Quantity: 50, Locked: 10}, got[1])
	require.Equal(t, Balance{Quantity: 15, Locked: 0}, got[2])
}

func TestReconcileReportsDrift(t *testing.T) {
	movements := []Movement{
		{Type: MovementInbound, InventoryID: 1, Quantity: 10},
		{Type: MovementInbound, InventoryID: 3, Quantity: 4},
	}
	records := []Record{
		{ID: 1, Quantity: 10},
		{ID: 2, Quantity: 7, LockedQuantity: 1},
	}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	report := Reconcile(records, movements, now)

	require.False(t, report.Clean())
	require.Equal(t, now, report.CheckedAt)
	require.Equal(t, []Drift{
		{InventoryID: 2, StoredQty: 7, StoredLocked: 1},
		{InventoryID: 3, ReplayedQty: 4},
	}, report.Drift)
}
