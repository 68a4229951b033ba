package inventory

import (
	"fmt"
	"time"

	"github.com/reliefops/reliefops/internal/shared"
)

// MovementType enumerates ledger movements.
type MovementType string

const (
	// MovementInbound adds on-hand stock.
	MovementInbound MovementType = "INBOUND"
	// MovementOutbound removes unreserved stock.
	MovementOutbound MovementType = "OUTBOUND"
	// MovementTransfer moves on-hand stock between two locations.
	MovementTransfer MovementType = "TRANSFER"
	// MovementLock reserves stock for a dispatch task.
	MovementLock MovementType = "LOCK"
	// MovementUnlock releases a reservation.
	MovementUnlock MovementType = "UNLOCK"
	// MovementShip consumes reserved stock on delivery.
	MovementShip MovementType = "SHIP"
)

// IsValid reports whether t is a known movement type.
func (t MovementType) IsValid() bool {
	switch t {
	case MovementInbound, MovementOutbound, MovementTransfer, MovementLock, MovementUnlock, MovementShip:
		return true
	default:
		return false
	}
}

// DefaultAlertThreshold is applied to records created without an explicit threshold.
const DefaultAlertThreshold int64 = 10

// Material is a catalogued relief item.
type Material struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Category    string     `json:"category"`
	Specs       string     `json:"specs"`
	Unit        string     `json:"unit"`
	BatchNum    string     `json:"batch_num"`
	Description string     `json:"description"`
	MinStock    int64      `json:"min_stock"`
	ExpiryDate  *time.Time `json:"expiry_date,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// MaterialListItem decorates a material with its on-hand total.
type MaterialListItem struct {
	Material
	TotalQuantity int64 `json:"total_quantity"`
}

// Record is the stock of one material at one location.
type Record struct {
	ID             int64     `json:"id"`
	MaterialID     int64     `json:"material_id"`
	Location       string    `json:"location"`
	Quantity       int64     `json:"quantity"`
	LockedQuantity int64     `json:"locked_quantity"`
	AlertThreshold int64     `json:"alert_threshold"`
	Version        int64     `json:"version"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Available returns the unreserved on-hand quantity.
func (r Record) Available() int64 {
	return r.Quantity - r.LockedQuantity
}

// Check verifies 0 <= locked <= quantity.
func (r Record) Check() error {
	if r.Quantity < 0 || r.LockedQuantity < 0 || r.LockedQuantity > r.Quantity {
		return fmt.Errorf("%w: inventory %d quantity=%d locked=%d", shared.ErrInvariantViolation, r.ID, r.Quantity, r.LockedQuantity)
	}
	return nil
}

// Movement is one append-only ledger entry.
type Movement struct {
	ID                 int64        `json:"id"`
	Type               MovementType `json:"type"`
	MaterialID         int64        `json:"material_id"`
	InventoryID        int64        `json:"inventory_id"`
	CounterInventoryID int64        `json:"counter_inventory_id,omitempty"`
	Location           string       `json:"location"`
	ToLocation         string       `json:"to_location,omitempty"`
	Quantity           int64        `json:"quantity"`
	OperatorID         int64        `json:"operator_id"`
	Ref                string       `json:"ref,omitempty"`
	Remark             string       `json:"remark,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
}

// MaterialInput carries create and update fields for a material.
type MaterialInput struct {
	Name        string
	Category    string
	Specs       string
	Unit        string
	BatchNum    string
	Description string
	MinStock    int64
	ExpiryDate  *time.Time
	OperatorID  int64
}

// InboundInput receives stock at a location.
type InboundInput struct {
	Code       string
	MaterialID int64
	Location   string
	Qty        int64
	OperatorID int64
	Remark     string
}

// OutboundInput issues unreserved stock from a location.
type OutboundInput struct {
	MaterialID int64
	Location   string
	Qty        int64
	OperatorID int64
	Remark     string
}

// TransferInput moves stock between two locations of one material.
type TransferInput struct {
	MaterialID int64
	From       string
	To         string
	Qty        int64
	OperatorID int64
	Remark     string
}

// TransferResult holds both endpoints after a transfer.
type TransferResult struct {
	From Record `json:"from"`
	To   Record `json:"to"`
}

// LockInput reserves stock on a record. MaterialID, when set, must match the record.
type LockInput struct {
	InventoryID int64
	MaterialID  int64
	Qty         int64
	Ref         string
	OperatorID  int64
}

// UnlockInput releases a reservation.
type UnlockInput struct {
	InventoryID int64
	Qty         int64
	Ref         string
	OperatorID  int64
}

// ShipLine is one reserved quantity to consume.
type ShipLine struct {
	InventoryID int64
	Qty         int64
}

// ShipInput consumes reservations made for a dispatch task.
type ShipInput struct {
	Lines      []ShipLine
	Ref        string
	OperatorID int64
}

// MaterialFilter pages the material catalogue.
type MaterialFilter struct {
	Search   string
	Page     int
	PageSize int
}

// RecordFilter pages inventory records.
type RecordFilter struct {
	MaterialID int64
	Page       int
	PageSize   int
}

// MovementFilter narrows movement listings.
type MovementFilter struct {
	MaterialID  int64
	InventoryID int64
	Type        MovementType
	Ref         string
	Limit       int
}

// MaterialSummary aggregates stock of one material across locations.
type MaterialSummary struct {
	MaterialID int64  `json:"material_id"`
	Name       string `json:"name"`
	OnHand     int64  `json:"on_hand"`
	Locked     int64  `json:"locked"`
	Available  int64  `json:"available"`
	Locations  int    `json:"locations"`
	LowStock   bool   `json:"low_stock"`
}

// Drift describes a record whose stored figures disagree with its movements.
type Drift struct {
	InventoryID    int64 `json:"inventory_id"`
	StoredQty      int64 `json:"stored_quantity"`
	ReplayedQty    int64 `json:"replayed_quantity"`
	StoredLocked   int64 `json:"stored_locked"`
	ReplayedLocked int64 `json:"replayed_locked"`
}

// ReconcileReport is the outcome of replaying the movement log.
type ReconcileReport struct {
	Records   int       `json:"records"`
	Movements int       `json:"movements"`
	Drift     []Drift   `json:"drift"`
	CheckedAt time.Time `json:"checked_at"`
}

// Clean reports whether no drift was found.
func (r ReconcileReport) Clean() bool {
	return len(r.Drift) == 0
}

var (
	// ErrRecordNotFound indicates an unknown inventory record.
	ErrRecordNotFound = fmt.Errorf("inventory record %w", shared.ErrNotFound)
	// ErrMaterialNotFound indicates an unknown material.
	ErrMaterialNotFound = fmt.Errorf("material %w", shared.ErrNotFound)
	// ErrDuplicateMaterial rejects a second material with the same name and batch.
	ErrDuplicateMaterial = fmt.Errorf("%w: material with this name and batch already exists", shared.ErrValidation)
	// ErrMaterialInUse blocks deleting a material that still has inventory.
	ErrMaterialInUse = fmt.Errorf("%w: material has inventory records", shared.ErrValidation)
	// ErrInvalidQuantity rejects non-positive quantities.
	ErrInvalidQuantity = fmt.Errorf("%w: quantity must be positive", shared.ErrValidation)
	// ErrLocationRequired rejects blank locations.
	ErrLocationRequired = fmt.Errorf("%w: location required", shared.ErrValidation)
	// ErrSameLocation rejects transfers onto themselves.
	ErrSameLocation = fmt.Errorf("%w: source and destination location must differ", shared.ErrValidation)
	// ErrMaterialMismatch rejects a reservation whose record holds another material.
	ErrMaterialMismatch = fmt.Errorf("%w: inventory record holds a different material", shared.ErrValidation)
)
