package dispatch

import "strings"

// CreateRequestBody is the JSON body of POST /dispatch/requests. Clients send
// the urgency under any of three names; the first non-empty one wins.
type CreateRequestBody struct {
	MaterialID   int64  `json:"material_id" validate:"required,gt=0"`
	Quantity     int64  `json:"quantity" validate:"required,gt=0"`
	UrgencyLevel string `json:"urgency_level"`
	Urgency      string `json:"urgency"`
	Priority     string `json:"priority"`
	TargetArea   string `json:"target_area" validate:"max=200"`
	Description  string `json:"description"`
	OperatorID   int64  `json:"operator_id" validate:"gte=0"`
}

func (b CreateRequestBody) input() (CreateRequestInput, error) {
	raw := firstNonEmpty(b.UrgencyLevel, b.Urgency, b.Priority)
	urgency, err := ParseUrgency(raw)
	if err != nil {
		return CreateRequestInput{}, err
	}
	return CreateRequestInput{
		MaterialID:  b.MaterialID,
		Quantity:    b.Quantity,
		Urgency:     urgency,
		TargetArea:  b.TargetArea,
		Description: b.Description,
		OperatorID:  b.OperatorID,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// AuditBody is the JSON body of POST /dispatch/requests/{id}/audit.
type AuditBody struct {
	Action     string `json:"action" validate:"required"`
	Remark     string `json:"remark" validate:"max=500"`
	OperatorID int64  `json:"operator_id" validate:"gte=0"`
}

// AllocationBody is one line of a task creation body.
type AllocationBody struct {
	InventoryID int64 `json:"inventory_id" validate:"required,gt=0"`
	Quantity    int64 `json:"quantity" validate:"required,gt=0"`
}

// CreateTaskBody is the JSON body of POST /dispatch/tasks.
type CreateTaskBody struct {
	RequestID   int64            `json:"request_id" validate:"required,gt=0"`
	Allocations []AllocationBody `json:"allocations" validate:"required,min=1,dive"`
	OperatorID  int64            `json:"operator_id" validate:"gte=0"`
}

func (b CreateTaskBody) input() CreateTaskInput {
	allocs := make([]Allocation, 0, len(b.Allocations))
	for _, a := range b.Allocations {
		allocs = append(allocs, Allocation{InventoryID: a.InventoryID, Quantity: a.Quantity})
	}
	return CreateTaskInput{RequestID: b.RequestID, Allocations: allocs, OperatorID: b.OperatorID}
}

// CreateTaskResponse answers a successful task creation.
type CreateTaskResponse struct {
	TaskID int64  `json:"task_id"`
	Code   string `json:"code"`
}

// ConfirmBody is the JSON body of POST /dispatch/requests/{id}/confirm-delivery.
type ConfirmBody struct {
	OperatorID int64  `json:"operator_id" validate:"gte=0"`
	Remark     string `json:"remark" validate:"max=500"`
}
