package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reliefops/reliefops/internal/allocation"
	"github.com/reliefops/reliefops/internal/shared"
)

// RepositoryPort abstracts persistence of requests, tasks and status logs.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetRequest(ctx context.Context, id int64) (DemandRequest, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]DemandRequest, int, error)
	GetTask(ctx context.Context, id int64) (DispatchTask, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]DispatchTask, int, error)
	ListStatusLog(ctx context.Context, requestID int64) ([]StatusLog, error)
}

// TxRepository exposes transactional operations. GetRequestForUpdate holds
// the request exclusively until the transaction ends.
type TxRepository interface {
	InsertRequest(ctx context.Context, req DemandRequest) (DemandRequest, error)
	GetRequestForUpdate(ctx context.Context, id int64) (DemandRequest, error)
	UpdateRequest(ctx context.Context, req DemandRequest) (DemandRequest, error)
	InsertTask(ctx context.Context, task DispatchTask) (DispatchTask, error)
	TasksByRequest(ctx context.Context, requestID int64) ([]DispatchTask, error)
	InsertStatusLog(ctx context.Context, log StatusLog) error
}

// LedgerPort is the slice of the stock ledger dispatch depends on.
type LedgerPort interface {
	MaterialExists(ctx context.Context, materialID int64) error
	Candidates(ctx context.Context, materialID int64) ([]allocation.Candidate, error)
	Lock(ctx context.Context, req LockRequest) error
	Unlock(ctx context.Context, req LockRequest) error
	Ship(ctx context.Context, ref string, operatorID int64, allocs []Allocation) error
}

// LockRequest reserves or releases one allocation on the ledger.
type LockRequest struct {
	InventoryID int64
	MaterialID  int64
	Qty         int64
	Ref         string
	OperatorID  int64
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Recorder receives committer outcomes for metrics.
type Recorder interface {
	ObserveCommit(outcome string)
}

// Service drives demand requests through their lifecycle.
type Service struct {
	repo     RepositoryPort
	ledger   LedgerPort
	events   EventPublisher
	audit    AuditPort
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time
	newCode  func() string
}

// NewService constructs a dispatch service.
func NewService(repo RepositoryPort, ledger LedgerPort, events EventPublisher, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		repo:    repo,
		ledger:  ledger,
		events:  events,
		audit:   audit,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		newCode: func() string { return uuid.NewString() },
	}
}

// WithRecorder attaches a metrics recorder.
func (s *Service) WithRecorder(r Recorder) *Service {
	s.recorder = r
	return s
}

// CreateRequest opens a Pending demand request.
func (s *Service) CreateRequest(ctx context.Context, input CreateRequestInput) (DemandRequest, error) {
	switch {
	case input.MaterialID <= 0:
		return DemandRequest{}, shared.Validationf("material_id required")
	case input.Quantity <= 0:
		return DemandRequest{}, shared.Validationf("quantity must be positive")
	case !input.Urgency.IsValid():
		return DemandRequest{}, shared.Validationf("unknown urgency level %q", input.Urgency)
	}
	if err := s.ledger.MaterialExists(ctx, input.MaterialID); err != nil {
		return DemandRequest{}, fmt.Errorf("dispatch: create request: %w", err)
	}

	var created DemandRequest
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		now := s.now()
		var err error
		created, err = tx.InsertRequest(ctx, DemandRequest{
			MaterialID:   input.MaterialID,
			Quantity:     input.Quantity,
			UrgencyLevel: input.Urgency,
			TargetArea:   strings.TrimSpace(input.TargetArea),
			Description:  input.Description,
			Status:       StatusPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		if err != nil {
			return err
		}
		return tx.InsertStatusLog(ctx, StatusLog{
			RequestID:  created.ID,
			NextStatus: StatusPending,
			Action:     "create",
			OperatorID: input.OperatorID,
		})
	})
	if err != nil {
		return DemandRequest{}, fmt.Errorf("dispatch: create request: %w", err)
	}
	s.recordAudit(ctx, input.OperatorID, "dispatch:create_request", created.ID, map[string]any{
		"material_id": created.MaterialID,
		"quantity":    created.Quantity,
		"urgency":     created.UrgencyLevel,
	})
	return created, nil
}

// Audit approves or rejects a Pending request.
func (s *Service) Audit(ctx context.Context, id int64, input AuditInput) (DemandRequest, error) {
	action, err := ParseAuditAction(input.Action)
	if err != nil {
		return DemandRequest{}, err
	}
	next := StatusApproved
	if action == ActionReject {
		next = StatusRejected
	}

	var updated DemandRequest
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.GetRequestForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !req.Status.CanAudit() {
			return transitionError(req, string(action))
		}
		prev := req.Status
		req.Status = next
		req.AuditRemark = input.Remark
		req.UpdatedAt = s.now()
		if updated, err = tx.UpdateRequest(ctx, req); err != nil {
			return err
		}
		return tx.InsertStatusLog(ctx, StatusLog{
			RequestID:  req.ID,
			PrevStatus: prev,
			NextStatus: next,
			Action:     string(action),
			OperatorID: input.OperatorID,
			Remark:     input.Remark,
		})
	})
	if err != nil {
		return DemandRequest{}, fmt.Errorf("dispatch: audit request %d: %w", id, err)
	}
	s.recordAudit(ctx, input.OperatorID, "dispatch:"+string(action), id, map[string]any{"remark": input.Remark})
	return updated, nil
}

// SuggestAllocation plans an allocation for an Approved request over a
// fresh ledger snapshot. The plan is advisory.
func (s *Service) SuggestAllocation(ctx context.Context, id int64) (allocation.Plan, error) {
	req, err := s.repo.GetRequest(ctx, id)
	if err != nil {
		return allocation.Plan{}, fmt.Errorf("dispatch: suggest allocation: %w", err)
	}
	if !req.Status.CanDispatch() {
		return allocation.Plan{}, fmt.Errorf("dispatch: suggest allocation: %w", transitionError(req, "allocate"))
	}
	candidates, err := s.ledger.Candidates(ctx, req.MaterialID)
	if err != nil {
		return allocation.Plan{}, fmt.Errorf("dispatch: suggest allocation: %w", err)
	}
	plan := allocation.PlanFor(candidates, req.Quantity)
	if !plan.Complete() {
		s.logger.Info("allocation plan short",
			slog.Int64("request_id", id),
			slog.Int64("requested", plan.Requested),
			slog.Int64("shortfall", plan.Shortfall))
	}
	return plan, nil
}

// ConfirmDelivery ships the reserved stock of a Dispatching request and
// completes it.
func (s *Service) ConfirmDelivery(ctx context.Context, id int64, input ConfirmInput) (DemandRequest, error) {
	var (
		updated DemandRequest
		shipped bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.GetRequestForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !req.Status.CanComplete() {
			return transitionError(req, "complete")
		}
		tasks, err := tx.TasksByRequest(ctx, req.ID)
		if err != nil {
			return err
		}

		prev := req.Status
		now := s.now()
		req.Status = StatusCompleted
		req.UpdatedAt = now
		req.CompletedAt = &now
		if updated, err = tx.UpdateRequest(ctx, req); err != nil {
			return err
		}
		if err := tx.InsertStatusLog(ctx, StatusLog{
			RequestID:  req.ID,
			PrevStatus: prev,
			NextStatus: StatusCompleted,
			Action:     "complete",
			OperatorID: input.OperatorID,
			Remark:     input.Remark,
		}); err != nil {
			return err
		}

		// Shipping is irreversible, so it goes last.
		codes, lines := mergeTasks(tasks)
		if len(lines) == 0 {
			return nil
		}
		if err := s.ledger.Ship(ctx, strings.Join(codes, ","), input.OperatorID, lines); err != nil {
			return err
		}
		shipped = true
		return nil
	})
	if err != nil {
		if shipped {
			s.logger.Error("dispatch: stock shipped but completion not committed",
				slog.Int64("request_id", id), slog.Any("error", err))
		}
		return DemandRequest{}, fmt.Errorf("dispatch: confirm delivery %d: %w", id, err)
	}
	s.recordAudit(ctx, input.OperatorID, "dispatch:complete", id, nil)
	return updated, nil
}

func mergeTasks(tasks []DispatchTask) ([]string, []Allocation) {
	codes := make([]string, 0, len(tasks))
	totals := make(map[int64]int64)
	var order []int64
	for _, t := range tasks {
		codes = append(codes, t.Code)
		for _, a := range t.Allocations {
			if _, ok := totals[a.InventoryID]; !ok {
				order = append(order, a.InventoryID)
			}
			totals[a.InventoryID] += a.Quantity
		}
	}
	lines := make([]Allocation, 0, len(order))
	for _, id := range order {
		lines = append(lines, Allocation{InventoryID: id, Quantity: totals[id]})
	}
	return codes, lines
}

// GetRequest loads one demand request.
func (s *Service) GetRequest(ctx context.Context, id int64) (DemandRequest, error) {
	return s.repo.GetRequest(ctx, id)
}

// ListRequests pages demand requests, optionally by status.
func (s *Service) ListRequests(ctx context.Context, filter RequestFilter) ([]DemandRequest, shared.Pagination, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, shared.Pagination{}, shared.Validationf("unknown status %q", filter.Status)
	}
	filter.Page, filter.PageSize = shared.NormalizePage(filter.Page, filter.PageSize)
	items, total, err := s.repo.ListRequests(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(filter.Page, filter.PageSize, total), nil
}

// GetTask loads one dispatch task.
func (s *Service) GetTask(ctx context.Context, id int64) (DispatchTask, error) {
	return s.repo.GetTask(ctx, id)
}

// ListTasks pages dispatch tasks.
func (s *Service) ListTasks(ctx context.Context, filter TaskFilter) ([]DispatchTask, shared.Pagination, error) {
	filter.Page, filter.PageSize = shared.NormalizePage(filter.Page, filter.PageSize)
	items, total, err := s.repo.ListTasks(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(filter.Page, filter.PageSize, total), nil
}

// ListStatusLog returns the transition trail of a request, oldest first.
func (s *Service) ListStatusLog(ctx context.Context, requestID int64) ([]StatusLog, error) {
	if _, err := s.repo.GetRequest(ctx, requestID); err != nil {
		return nil, err
	}
	return s.repo.ListStatusLog(ctx, requestID)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "demand_request",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("dispatch: audit", slog.String("action", action), slog.Any("error", err))
	}
}
