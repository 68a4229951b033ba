// Package allocation proposes which inventory records should fulfil a
// request. Plans are advisory; the dispatch committer re-validates them
// against the ledger.
package allocation

import "sort"

// Candidate is one inventory record eligible for allocation.
type Candidate struct {
	InventoryID int64  `json:"inventory_id"`
	Location    string `json:"location"`
	Available   int64  `json:"available"`
}

// Line is one proposed draw from a record.
type Line struct {
	InventoryID int64  `json:"inventory_id"`
	Location    string `json:"location"`
	Quantity    int64  `json:"quantity"`
}

// Plan is the planner output. Shortfall is Requested minus Planned.
type Plan struct {
	Lines     []Line `json:"lines"`
	Requested int64  `json:"requested"`
	Planned   int64  `json:"planned"`
	Shortfall int64  `json:"shortfall"`
}

// Complete reports whether the plan covers the whole request.
func (p Plan) Complete() bool {
	return p.Shortfall == 0
}

// PlanFor greedily draws from the candidates with the most available stock,
// breaking ties by the lowest inventory id. It never fails: when stock is
// short it returns the partial plan and the shortfall. The input slice is
// left untouched, and equal inputs always give equal plans.
func PlanFor(candidates []Candidate, requested int64) Plan {
	plan := Plan{Lines: []Line{}, Requested: requested}
	if requested <= 0 {
		return plan
	}

	pool := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Available > 0 {
			pool = append(pool, c)
		}
	}
	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].Available != pool[j].Available {
			return pool[i].Available > pool[j].Available
		}
		return pool[i].InventoryID < pool[j].InventoryID
	})

	remaining := requested
	for _, c := range pool {
		if remaining == 0 {
			break
		}
		take := min(c.Available, remaining)
		plan.Lines = append(plan.Lines, Line{InventoryID: c.InventoryID, Location: c.Location, Quantity: take})
		remaining -= take
	}
	plan.Planned = requested - remaining
	plan.Shortfall = remaining
	return plan
}
