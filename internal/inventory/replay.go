package inventory

import (
	"sort"
	"time"
)

// Balance is the pair of figures a movement log determines for one record.
type Balance struct {
	Quantity int64 `json:"quantity"`
	Locked   int64 `json:"locked"`
}

// Replay folds movements into per-record balances.
func Replay(movements []Movement) map[int64]Balance {
	out := make(map[int64]Balance)
	for _, m := range movements {
		b := out[m.InventoryID]
		switch m.Type {
		case MovementInbound:
			b.Quantity += m.Quantity
		case MovementOutbound:
			b.Quantity -= m.Quantity
		case MovementTransfer:
			b.Quantity -= m.Quantity
			to := out[m.CounterInventoryID]
			to.Quantity += m.Quantity
			out[m.CounterInventoryID] = to
		case MovementLock:
			b.Locked += m.Quantity
		case MovementUnlock:
			b.Locked -= m.Quantity
		case MovementShip:
			b.Quantity -= m.Quantity
			b.Locked -= m.Quantity
		}
		out[m.InventoryID] = b
	}
	return out
}

// Reconcile compares stored records with the balances replayed from movements.
func Reconcile(records []Record, movements []Movement, now time.Time) ReconcileReport {
	replayed := Replay(movements)
	report := ReconcileReport{Records: len(records), Movements: len(movements), CheckedAt: now}
	seen := make(map[int64]bool, len(records))
	for _, rec := range records {
		seen[rec.ID] = true
		b := replayed[rec.ID]
		if b.Quantity != rec.Quantity || b.Locked != rec.LockedQuantity {
			report.Drift = append(report.Drift, Drift{
				InventoryID:    rec.ID,
				StoredQty:      rec.Quantity,
				ReplayedQty:    b.Quantity,
				StoredLocked:   rec.LockedQuantity,
				ReplayedLocked: b.Locked,
			})
		}
	}
	for id, b := range replayed {
		if seen[id] || (b.Quantity == 0 && b.Locked == 0) {
			continue
		}
		report.Drift = append(report.Drift, Drift{InventoryID: id, ReplayedQty: b.Quantity, ReplayedLocked: b.Locked})
	}
	sort.Slice(report.Drift, func(i, j int) bool { return report.Drift[i].InventoryID < report.Drift[j].InventoryID })
	return report
}
