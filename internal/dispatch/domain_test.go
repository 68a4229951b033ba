package dispatch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reliefops/reliefops/internal/shared"
)

func TestParseUrgency(t *testing.T) {
	cases := []struct {
		raw  string
		want Urgency
	}{
		{"L1", UrgencyL1},
		{"l2", UrgencyL2},
		{" L3 ", UrgencyL3},
		{"low", UrgencyL1},
		{"Medium", UrgencyL1},
		{"HIGH", UrgencyL2},
		{"critical", UrgencyL3},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := ParseUrgency(tc.raw)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}

	for _, raw := range []string{"", "L4", "urgent", "3"} {
		_, err := ParseUrgency(raw)
		require.ErrorIs(t, err, shared.ErrValidation, raw)
	}
}

func TestParseAuditAction(t *testing.T) {
	for raw, want := range map[string]AuditAction{
		"approve":  ActionApprove,
		"APPROVED": ActionApprove,
		"Reject":   ActionReject,
		"rejected": ActionReject,
	} {
		got, err := ParseAuditAction(raw)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseAuditAction("maybe")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestStatusPredicates(t *testing.T) {
	cases := []struct {
		status                          Status
		audit, dispatch, done, terminal bool
	}{
		{StatusPending, true, false, false, false},
		{StatusApproved, false, true, false, false},
		{StatusRejected, false, false, false, true},
		{StatusDispatching, false, false, true, false},
		{StatusCompleted, false, false, false, true},
	}
	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			require.True(t, tc.status.IsValid())
			require.Equal(t, tc.audit, tc.status.CanAudit())
			require.Equal(t, tc.dispatch, tc.status.CanDispatch())
			require.Equal(t, tc.done, tc.status.CanComplete())
			require.Equal(t, tc.terminal, tc.status.Terminal())
		})
	}
	require.False(t, Status("SHIPPED").IsValid())
}

func TestCreateRequestBodyUrgencyPrecedence(t *testing.T) {
	in, err := CreateRequestBody{MaterialID: 1, Quantity: 1, Urgency: "", Priority: "critical"}.input()
	require.NoError(t, err)
	require.Equal(t, UrgencyL3, in.Urgency)

	in, err = CreateRequestBody{MaterialID: 1, Quantity: 1, UrgencyLevel: "L1", Urgency: "high", Priority: "critical"}.input()
	require.NoError(t, err)
	require.Equal(t, UrgencyL1, in.Urgency)

	_, err = CreateRequestBody{MaterialID: 1, Quantity: 1}.input()
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestNormalizeAllocations(t *testing.T) {
	out, err := normalizeAllocations([]Allocation{{InventoryID: 9, Quantity: 1}, {InventoryID: 3, Quantity: 2}})
	require.NoError(t, err)
	require.Equal(t, []Allocation{{InventoryID: 3, Quantity: 2}, {InventoryID: 9, Quantity: 1}}, out)

	_, err = normalizeAllocations(nil)
	require.ErrorIs(t, err, ErrNoAllocations)
	_, err = normalizeAllocations([]Allocation{{InventoryID: 1, Quantity: 0}})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = normalizeAllocations([]Allocation{{InventoryID: 1, Quantity: 1}, {InventoryID: 1, Quantity: 2}})
	require.ErrorIs(t, err, shared.ErrValidation)
}
