package shared

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKind(t *testing.T) {
	cases := []struct {
		err  error
		kind string
	}{
		{nil, ""},
		{&StockError{InventoryID: 1, Requested: 5, Available: 2}, "InsufficientStock"},
		{fmt.Errorf("lock: %w", &StockError{}), "InsufficientStock"},
		{&TransitionError{Entity: "demand_request", ID: 3, From: "Completed", Action: "audit"}, "InvalidStateTransition"},
		{fmt.Errorf("%w: allocated 7, requested 5", ErrAllocationExceedsRequest), "AllocationExceedsRequest"},
		{fmt.Errorf("material %w", ErrNotFound), "NotFound"},
		{Validationf("qty must be positive"), "Validation"},
		{ErrIdempotencyConflict, "IdempotencyConflict"},
		{ErrInvariantViolation, "InvariantViolation"},
		{errors.New("boom"), "Internal"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.kind, Kind(tc.err), "%v", tc.err)
	}
}

func TestRetryableOnlyForStock(t *testing.T) {
	require.True(t, Retryable(&StockError{}))
	require.False(t, Retryable(&TransitionError{}))
	require.False(t, Retryable(Validationf("bad")))
	require.False(t, Retryable(nil))
}

func TestErrorMessages(t *testing.T) {
	require.Equal(t, "insufficient stock on inventory 4: requested 10, available 3",
		(&StockError{InventoryID: 4, Requested: 10, Available: 3}).Error())
	require.Equal(t, "demand_request 9: cannot dispatch from status Pending",
		(&TransitionError{Entity: "demand_request", ID: 9, From: "Pending", Action: "dispatch"}).Error())
	require.Equal(t, "validation failed: qty 0", Validationf("qty %d", 0).Error())
}

func TestPagination(t *testing.T) {
	p := NewPagination(0, 0, 45)
	require.Equal(t, Pagination{Page: 1, PerPage: 20, Total: 45, TotalPages: 3}, p)
	require.Zero(t, p.Offset())

	p = NewPagination(3, 1000, 450)
	require.Equal(t, 200, p.PerPage)
	require.Equal(t, 400, p.Offset())
}

func TestPageOf(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	require.Equal(t, []int{1, 2}, PageOf(items, 1, 2))
	require.Equal(t, []int{5}, PageOf(items, 3, 2))
	require.Empty(t, PageOf(items, 4, 2))
	require.Equal(t, items, PageOf(items, 0, 0))
}

func TestMemoryIdempotency(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryIdempotency()

	require.NoError(t, store.CheckAndInsert(ctx, "inbound:R-1", "inventory"))
	require.ErrorIs(t, store.CheckAndInsert(ctx, "inbound:R-1", "inventory"), ErrIdempotencyConflict)
	require.NoError(t, store.Delete(ctx, "inbound:R-1"))
	require.NoError(t, store.CheckAndInsert(ctx, "inbound:R-1", "inventory"))

	require.Error(t, store.CheckAndInsert(ctx, "", "inventory"))
	require.Error(t, store.CheckAndInsert(ctx, "k", ""))
}

func TestSlogAuditor(t *testing.T) {
	var buf bytes.Buffer
	auditor := SlogAuditor{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	err := auditor.Record(context.Background(), AuditLog{ActorID: 7, Action: "dispatch:create_task", Entity: "dispatch_task", EntityID: "12"})
	require.NoError(t, err)
	require.Contains(t, buf.String(), "action=dispatch:create_task")
	require.Contains(t, buf.String(), "entity_id=12")

	require.Error(t, auditor.Record(context.Background(), AuditLog{Action: "x"}))
}

func TestLedgerLockKey(t *testing.T) {
	require.Equal(t, "reliefops:ledger:reconcile:lock", LedgerLockKey("reconcile"))
}
