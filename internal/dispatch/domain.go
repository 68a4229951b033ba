package dispatch

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/reliefops/reliefops/internal/shared"
)

// ============================================================================
// REQUEST STATUS
// ============================================================================

// Status represents the lifecycle of a demand request.
type Status string

const (
	StatusPending     Status = "PENDING"     // Awaiting audit
	StatusApproved    Status = "APPROVED"    // Audited, ready for allocation
	StatusRejected    Status = "REJECTED"    // Audited and refused, terminal
	StatusDispatching Status = "DISPATCHING" // Stock reserved, task handed to logistics
	StatusCompleted   Status = "COMPLETED"   // Delivery confirmed, terminal
)

// IsValid checks if the status is valid
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusDispatching, StatusCompleted:
		return true
	default:
		return false
	}
}

// CanAudit checks if the request may be approved or rejected
func (s Status) CanAudit() bool {
	return s == StatusPending
}

// CanDispatch checks if a dispatch task may be created
func (s Status) CanDispatch() bool {
	return s == StatusApproved
}

// CanComplete checks if delivery may be confirmed
func (s Status) CanComplete() bool {
	return s == StatusDispatching
}

// Terminal reports whether no further transition exists.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusCompleted
}

// ============================================================================
// URGENCY
// ============================================================================

// Urgency ranks how soon a request must be served. L3 is the most urgent.
type Urgency string

const (
	UrgencyL1 Urgency = "L1"
	UrgencyL2 Urgency = "L2"
	UrgencyL3 Urgency = "L3"
)

var urgencyLabels = map[string]Urgency{
	"l1":       UrgencyL1,
	"l2":       UrgencyL2,
	"l3":       UrgencyL3,
	"low":      UrgencyL1,
	"medium":   UrgencyL1,
	"high":     UrgencyL2,
	"critical": UrgencyL3,
}

// ParseUrgency accepts L1/L2/L3 in any case and the legacy labels
// low, medium, high and critical. Anything else is a validation error.
func ParseUrgency(raw string) (Urgency, error) {
	if u, ok := urgencyLabels[fold(raw)]; ok {
		return u, nil
	}
	return "", shared.Validationf("unknown urgency level %q", raw)
}

// fold trims and case-folds a label. Casers keep state, so each call gets its own.
func fold(raw string) string {
	return cases.Fold().String(strings.TrimSpace(raw))
}

// IsValid checks if the urgency is one of the canonical levels.
func (u Urgency) IsValid() bool {
	return u == UrgencyL1 || u == UrgencyL2 || u == UrgencyL3
}

// ============================================================================
// AUDIT ACTION
// ============================================================================

// AuditAction is the verdict of an audit.
type AuditAction string

const (
	ActionApprove AuditAction = "approve"
	ActionReject  AuditAction = "reject"
)

// ParseAuditAction folds case and accepts past-tense spellings.
func ParseAuditAction(raw string) (AuditAction, error) {
	switch fold(raw) {
	case "approve", "approved":
		return ActionApprove, nil
	case "reject", "rejected":
		return ActionReject, nil
	default:
		return "", shared.Validationf("unknown audit action %q", raw)
	}
}

// ============================================================================
// ENTITIES
// ============================================================================

// DemandRequest is a request for a quantity of one material.
type DemandRequest struct {
	ID           int64      `json:"id"`
	MaterialID   int64      `json:"material_id"`
	Quantity     int64      `json:"quantity"`
	UrgencyLevel Urgency    `json:"urgency_level"`
	TargetArea   string     `json:"target_area"`
	Description  string     `json:"description"`
	Status       Status     `json:"status"`
	AuditRemark  string     `json:"audit_remark,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Allocation reserves a quantity from one inventory record.
type Allocation struct {
	InventoryID int64 `json:"inventory_id"`
	Quantity    int64 `json:"quantity"`
}

// DispatchTask is the immutable record of reserved allocations for a request.
type DispatchTask struct {
	ID          int64        `json:"id"`
	Code        string       `json:"code"`
	RequestID   int64        `json:"request_id"`
	Allocations []Allocation `json:"allocations"`
	OperatorID  int64        `json:"operator_id"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Total sums the allocated quantities.
func (t DispatchTask) Total() int64 {
	var total int64
	for _, a := range t.Allocations {
		total += a.Quantity
	}
	return total
}

// StatusLog is one entry of a request's transition trail.
type StatusLog struct {
	ID         int64     `json:"id"`
	RequestID  int64     `json:"request_id"`
	PrevStatus Status    `json:"prev_status,omitempty"`
	NextStatus Status    `json:"next_status"`
	Action     string    `json:"action"`
	OperatorID int64     `json:"operator_id"`
	Remark     string    `json:"remark,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ============================================================================
// INPUTS
// ============================================================================

// CreateRequestInput opens a demand request.
type CreateRequestInput struct {
	MaterialID  int64
	Quantity    int64
	Urgency     Urgency
	TargetArea  string
	Description string
	OperatorID  int64
}

// AuditInput carries an audit verdict.
type AuditInput struct {
	Action     string
	Remark     string
	OperatorID int64
}

// CreateTaskInput asks the committer to reserve allocations for a request.
type CreateTaskInput struct {
	RequestID   int64
	Allocations []Allocation
	OperatorID  int64
}

// ConfirmInput records delivery of a dispatching request.
type ConfirmInput struct {
	OperatorID int64
	Remark     string
}

// RequestFilter pages demand requests.
type RequestFilter struct {
	Status   Status
	Page     int
	PageSize int
}

// TaskFilter pages dispatch tasks.
type TaskFilter struct {
	RequestID int64
	Page      int
	PageSize  int
}

// ============================================================================
// ERRORS
// ============================================================================

var (
	// ErrRequestNotFound indicates an unknown demand request.
	ErrRequestNotFound = fmt.Errorf("demand request %w", shared.ErrNotFound)
	// ErrTaskNotFound indicates an unknown dispatch task.
	ErrTaskNotFound = fmt.Errorf("dispatch task %w", shared.ErrNotFound)
	// ErrNoAllocations rejects an empty allocation list.
	ErrNoAllocations = fmt.Errorf("%w: at least one allocation required", shared.ErrValidation)
)

func transitionError(req DemandRequest, action string) error {
	return &shared.TransitionError{Entity: "demand request", ID: req.ID, From: string(req.Status), Action: action}
}
