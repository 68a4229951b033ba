package allocation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPlanSingleLocation(t *testing.T) {
	plan := PlanFor([]Candidate{{InventoryID: 1, Location: "L", Available: 100}}, 40)
	require.Equal(t, []Line{{InventoryID: 1, Location: "L", Quantity: 40}}, plan.Lines)
	require.True(t, plan.Complete())
	require.Equal(t, int64(40), plan.Planned)
}

func TestPlanLargestAvailableFirst(t *testing.T) {
	candidates := []Candidate{
		{InventoryID: 1, Location: "A", Available: 10},
		{InventoryID: 2, Location: "B", Available: 50},
		{InventoryID: 3, Location: "C", Available: 30},
	}
	plan := PlanFor(candidates, 70)
	require.Equal(t, []Line{
		{InventoryID: 2, Location: "B", Quantity: 50},
		{InventoryID: 3, Location: "C", Quantity: 20},
	}, plan.Lines)
	require.Zero(t, plan.Shortfall)
}

func TestPlanTieBreaksOnLowestID(t *testing.T) {
	candidates := []Candidate{
		{InventoryID: 9, Location: "Z", Available: 20},
		{InventoryID: 4, Location: "Y", Available: 20},
		{InventoryID: 7, Location: "X", Available: 20},
	}
	plan := PlanFor(candidates, 30)
	require.Equal(t, []Line{
		{InventoryID: 4, Location: "Y", Quantity: 20},
		{InventoryID: 7, Location: "X", Quantity: 10},
	}, plan.Lines)
}

func TestPlanPartialWhenShort(t *testing.T) {
	candidates := []Candidate{
		{InventoryID: 1, Location: "A", Available: 5},
		{InventoryID: 2, Location: "B", Available: 0},
		{InventoryID: 3, Location: "C", Available: -2},
	}
	plan := PlanFor(candidates, 12)
	require.Equal(t, []Line{{InventoryID: 1, Location: "A", Quantity: 5}}, plan.Lines)
	require.Equal(t, int64(5), plan.Planned)
	require.Equal(t, int64(7), plan.Shortfall)
	require.False(t, plan.Complete())
}

func TestPlanEmptyInputs(t *testing.T) {
	require.Empty(t, PlanFor(nil, 10).Lines)
	require.Equal(t, int64(10), PlanFor(nil, 10).Shortfall)
	require.Empty(t, PlanFor([]Candidate{{InventoryID: 1, Available: 3}}, 0).Lines)
}

func TestPlanIsDeterministicAndPure(t *testing.T) {
	candidates := []Candidate{
		{InventoryID: 3, Location: "C", Available: 8},
		{InventoryID: 1, Location: "A", Available: 8},
		{InventoryID: 2, Location: "B", Available: 12},
	}
	snapshot := append([]Candidate(nil), candidates...)

	first := PlanFor(candidates, 25)
	second := PlanFor(candidates, 25)
	require.Equal(t, first, second)
	require.Equal(t, snapshot, candidates)

	var sum int64
	for _, line := range first.Lines {
		require.Positive(t, line.Quantity)
		sum += line.Quantity
	}
	require.Equal(t, first.Planned, sum)
	require.LessOrEqual(t, sum, first.Requested)
}
