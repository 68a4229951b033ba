package dispatch

import (
	"context"
	"fmt"

	"github.com/reliefops/reliefops/internal/allocation"
	"github.com/reliefops/reliefops/internal/inventory"
)

// InventoryAdapter adapts the inventory.Service to the LedgerPort interface
// required by the dispatch service.
type InventoryAdapter struct {
	service *inventory.Service
}

// NewInventoryAdapter creates a new inventory adapter
func NewInventoryAdapter(service *inventory.Service) *InventoryAdapter {
	return &InventoryAdapter{service: service}
}

// MaterialExists fails with a not found error for unknown materials.
func (a *InventoryAdapter) MaterialExists(ctx context.Context, materialID int64) error {
	if a.service == nil {
		return fmt.Errorf("inventory service not initialized")
	}
	_, err := a.service.GetMaterial(ctx, materialID)
	return err
}

// Candidates snapshots the records of a material as planner input.
func (a *InventoryAdapter) Candidates(ctx context.Context, materialID int64) ([]allocation.Candidate, error) {
	if a.service == nil {
		return nil, fmt.Errorf("inventory service not initialized")
	}
	records, err := a.service.Query(ctx, materialID)
	if err != nil {
		return nil, err
	}
	out := make([]allocation.Candidate, 0, len(records))
	for _, rec := range records {
		out = append(out, allocation.Candidate{
			InventoryID: rec.ID,
			Location:    rec.Location,
			Available:   rec.Available(),
		})
	}
	return out, nil
}

// Lock reserves one allocation.
func (a *InventoryAdapter) Lock(ctx context.Context, req LockRequest) error {
	if a.service == nil {
		return fmt.Errorf("inventory service not initialized")
	}
	_, err := a.service.Lock(ctx, inventory.LockInput{
		InventoryID: req.InventoryID,
		MaterialID:  req.MaterialID,
		Qty:         req.Qty,
		Ref:         req.Ref,
		OperatorID:  req.OperatorID,
	})
	return err
}

// Unlock releases one allocation.
func (a *InventoryAdapter) Unlock(ctx context.Context, req LockRequest) error {
	if a.service == nil {
		return fmt.Errorf("inventory service not initialized")
	}
	_, err := a.service.Unlock(ctx, inventory.UnlockInput{
		InventoryID: req.InventoryID,
		Qty:         req.Qty,
		Ref:         req.Ref,
		OperatorID:  req.OperatorID,
	})
	return err
}

// Ship consumes reserved stock for delivered allocations.
func (a *InventoryAdapter) Ship(ctx context.Context, ref string, operatorID int64, allocs []Allocation) error {
	if a.service == nil {
		return fmt.Errorf("inventory service not initialized")
	}
	lines := make([]inventory.ShipLine, 0, len(allocs))
	for _, alloc := range allocs {
		lines = append(lines, inventory.ShipLine{InventoryID: alloc.InventoryID, Qty: alloc.Quantity})
	}
	if _, err := a.service.ShipReserved(ctx, inventory.ShipInput{Lines: lines, Ref: ref, OperatorID: operatorID}); err != nil {
		return fmt.Errorf("ship reserved stock: %w", err)
	}
	return nil
}
