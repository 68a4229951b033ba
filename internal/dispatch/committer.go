package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/reliefops/reliefops/internal/shared"
)

// Commit outcomes reported to the Recorder.
const (
	OutcomeCommitted    = "committed"
	OutcomeRejected     = "rejected"
	OutcomeInsufficient = "insufficient_stock"
	OutcomeFailed       = "failed"
)

// CreateDispatchTask reserves the given allocations and moves the request to
// Dispatching. Either every allocation is locked and the task exists, or no
// lock remains and the request is unchanged.
func (s *Service) CreateDispatchTask(ctx context.Context, input CreateTaskInput) (task DispatchTask, err error) {
	defer func() { s.observeCommit(err) }()

	allocs, err := normalizeAllocations(input.Allocations)
	if err != nil {
		return DispatchTask{}, err
	}
	code := s.newCode()

	var (
		req   DemandRequest
		taken []LockRequest
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		req, err = tx.GetRequestForUpdate(ctx, input.RequestID)
		if err != nil {
			return err
		}
		if !req.Status.CanDispatch() {
			return transitionError(req, "dispatch")
		}
		var total int64
		for _, a := range allocs {
			total += a.Quantity
		}
		if total > req.Quantity {
			return fmt.Errorf("%w: allocated %d, requested %d", shared.ErrAllocationExceedsRequest, total, req.Quantity)
		}

		for _, a := range allocs {
			lock := LockRequest{
				InventoryID: a.InventoryID,
				MaterialID:  req.MaterialID,
				Qty:         a.Quantity,
				Ref:         code,
				OperatorID:  input.OperatorID,
			}
			if err := s.ledger.Lock(ctx, lock); err != nil {
				return fmt.Errorf("lock inventory %d: %w", a.InventoryID, err)
			}
			taken = append(taken, lock)
		}

		now := s.now()
		task, err = tx.InsertTask(ctx, DispatchTask{
			Code:        code,
			RequestID:   req.ID,
			Allocations: allocs,
			OperatorID:  input.OperatorID,
			CreatedAt:   now,
		})
		if err != nil {
			return err
		}
		prev := req.Status
		req.Status = StatusDispatching
		req.UpdatedAt = now
		if req, err = tx.UpdateRequest(ctx, req); err != nil {
			return err
		}
		return tx.InsertStatusLog(ctx, StatusLog{
			RequestID:  req.ID,
			PrevStatus: prev,
			NextStatus: StatusDispatching,
			Action:     "dispatch",
			OperatorID: input.OperatorID,
			Remark:     code,
		})
	})
	if err != nil {
		s.releaseLocks(ctx, taken)
		return DispatchTask{}, fmt.Errorf("dispatch: create task for request %d: %w", input.RequestID, err)
	}

	s.logger.Info("dispatch task created",
		slog.Int64("request_id", req.ID),
		slog.String("code", task.Code),
		slog.Int("allocations", len(task.Allocations)),
		slog.Int64("total", task.Total()))
	s.recordAudit(ctx, input.OperatorID, "dispatch:create_task", req.ID, map[string]any{
		"code":  task.Code,
		"total": task.Total(),
	})
	s.publishTaskCreated(ctx, req, task)
	return task, nil
}

// normalizeAllocations validates allocations and orders them by inventory id,
// the order locks are taken in.
func normalizeAllocations(in []Allocation) ([]Allocation, error) {
	if len(in) == 0 {
		return nil, ErrNoAllocations
	}
	out := make([]Allocation, len(in))
	copy(out, in)
	seen := make(map[int64]struct{}, len(out))
	for _, a := range out {
		if a.InventoryID <= 0 {
			return nil, shared.Validationf("inventory_id required")
		}
		if a.Quantity <= 0 {
			return nil, shared.Validationf("allocation for inventory %d must be positive", a.InventoryID)
		}
		if _, dup := seen[a.InventoryID]; dup {
			return nil, shared.Validationf("inventory %d allocated twice", a.InventoryID)
		}
		seen[a.InventoryID] = struct{}{}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InventoryID < out[j].InventoryID })
	return out, nil
}

// releaseLocks undoes taken reservations newest first. It runs even when the
// caller's context is already cancelled.
func (s *Service) releaseLocks(ctx context.Context, taken []LockRequest) {
	if len(taken) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for i := len(taken) - 1; i >= 0; i-- {
		lock := taken[i]
		if err := s.ledger.Unlock(ctx, lock); err != nil {
			s.logger.Error("dispatch: release reservation",
				slog.Int64("inventory_id", lock.InventoryID),
				slog.Int64("qty", lock.Qty),
				slog.String("ref", lock.Ref),
				slog.Any("error", err))
		}
	}
}

func (s *Service) publishTaskCreated(ctx context.Context, req DemandRequest, task DispatchTask) {
	if s.events == nil {
		return
	}
	evt := TaskCreatedEvent{
		TaskID:      task.ID,
		Code:        task.Code,
		RequestID:   req.ID,
		MaterialID:  req.MaterialID,
		Urgency:     req.UrgencyLevel,
		TargetArea:  req.TargetArea,
		Allocations: task.Allocations,
		At:          task.CreatedAt,
	}
	if err := s.events.PublishTaskCreated(ctx, evt); err != nil {
		s.logger.Warn("dispatch: publish task created", slog.String("code", task.Code), slog.Any("error", err))
	}
}

func (s *Service) observeCommit(err error) {
	if s.recorder == nil {
		return
	}
	s.recorder.ObserveCommit(commitOutcome(err))
}

func commitOutcome(err error) string {
	switch {
	case err == nil:
		return OutcomeCommitted
	case errors.Is(err, shared.ErrInsufficientStock):
		return OutcomeInsufficient
	case errors.Is(err, shared.ErrValidation),
		errors.Is(err, shared.ErrNotFound),
		errors.Is(err, shared.ErrInvalidStateTransition),
		errors.Is(err, shared.ErrAllocationExceedsRequest):
		return OutcomeRejected
	default:
		return OutcomeFailed
	}
}
