package inventory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/reliefops/reliefops/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	CreateMaterial(ctx context.Context, m Material) (Material, error)
	UpdateMaterial(ctx context.Context, m Material) (Material, error)
	GetMaterial(ctx context.Context, id int64) (Material, error)
	DeleteMaterial(ctx context.Context, id int64) error
	ListMaterials(ctx context.Context, filter MaterialFilter) ([]MaterialListItem, int, error)

	GetRecord(ctx context.Context, id int64) (Record, error)
	ListRecords(ctx context.Context, filter RecordFilter) ([]Record, int, error)
	RecordsByMaterial(ctx context.Context, materialID int64) ([]Record, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	Summaries(ctx context.Context) ([]MaterialSummary, error)
	// LedgerSnapshot returns every record and movement as of one point in time.
	LedgerSnapshot(ctx context.Context) ([]Record, []Movement, error)
}

// TxRepository exposes transactional operations used by service. Every
// ForUpdate call holds the record exclusively until the transaction ends.
type TxRepository interface {
	GetRecordForUpdate(ctx context.Context, id int64) (Record, error)
	FindRecordForUpdate(ctx context.Context, materialID int64, location string) (Record, error)
	EnsureRecordForUpdate(ctx context.Context, materialID int64, location string, threshold int64) (Record, error)
	SaveRecord(ctx context.Context, rec Record) (Record, error)
	InsertMovement(ctx context.Context, m Movement) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards inbound receipts carrying a client code.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Recorder receives ledger operation outcomes for metrics.
type Recorder interface {
	ObserveLedgerOp(op string, err error)
}

// Service coordinates inventory operations.
type Service struct {
	repo           RepositoryPort
	audit          AuditPort
	idempotency    IdempotencyPort
	events         EventPublisher
	logger         *slog.Logger
	cache          *SummaryCache
	recorder       Recorder
	alertThreshold int64
	now            func() time.Time
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	AlertThreshold int64
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem IdempotencyPort, cfg ServiceConfig, events EventPublisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	threshold := cfg.AlertThreshold
	if threshold <= 0 {
		threshold = DefaultAlertThreshold
	}
	return &Service{
		repo:           repo,
		audit:          audit,
		idempotency:    idem,
		events:         events,
		logger:         logger,
		alertThreshold: threshold,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// WithSummaryCache attaches the redis backed summary cache.
func (s *Service) WithSummaryCache(c *SummaryCache) *Service {
	s.cache = c
	return s
}

// WithRecorder attaches a metrics recorder.
func (s *Service) WithRecorder(r Recorder) *Service {
	s.recorder = r
	return s
}

// CreateMaterial registers a new material.
func (s *Service) CreateMaterial(ctx context.Context, input MaterialInput) (Material, error) {
	m, err := materialFromInput(input)
	if err != nil {
		return Material{}, err
	}
	created, err := s.repo.CreateMaterial(ctx, m)
	if err != nil {
		return Material{}, fmt.Errorf("inventory: create material: %w", err)
	}
	s.recordAudit(ctx, input.OperatorID, "material:create", "material", created.ID, map[string]any{"name": created.Name})
	return created, nil
}

// UpdateMaterial edits the administrative fields of a material.
func (s *Service) UpdateMaterial(ctx context.Context, id int64, input MaterialInput) (Material, error) {
	m, err := materialFromInput(input)
	if err != nil {
		return Material{}, err
	}
	m.ID = id
	updated, err := s.repo.UpdateMaterial(ctx, m)
	if err != nil {
		return Material{}, fmt.Errorf("inventory: update material %d: %w", id, err)
	}
	s.bumpCache(ctx)
	s.recordAudit(ctx, input.OperatorID, "material:update", "material", id, nil)
	return updated, nil
}

// GetMaterial loads one material.
func (s *Service) GetMaterial(ctx context.Context, id int64) (Material, error) {
	return s.repo.GetMaterial(ctx, id)
}

// DeleteMaterial removes a material that has never been stocked.
func (s *Service) DeleteMaterial(ctx context.Context, id, operatorID int64) error {
	if err := s.repo.DeleteMaterial(ctx, id); err != nil {
		return fmt.Errorf("inventory: delete material %d: %w", id, err)
	}
	s.recordAudit(ctx, operatorID, "material:delete", "material", id, nil)
	return nil
}

// ListMaterials pages the catalogue together with on-hand totals.
func (s *Service) ListMaterials(ctx context.Context, filter MaterialFilter) ([]MaterialListItem, shared.Pagination, error) {
	filter.Page, filter.PageSize = shared.NormalizePage(filter.Page, filter.PageSize)
	filter.Search = strings.TrimSpace(filter.Search)
	items, total, err := s.repo.ListMaterials(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(filter.Page, filter.PageSize, total), nil
}

// Inbound receives stock, creating the record on first receipt.
func (s *Service) Inbound(ctx context.Context, input InboundInput) (rec Record, err error) {
	defer func() { s.observe("inbound", err) }()
	location := strings.TrimSpace(input.Location)
	switch {
	case input.MaterialID <= 0:
		return Record{}, shared.Validationf("material_id required")
	case location == "":
		return Record{}, ErrLocationRequired
	case input.Qty <= 0:
		return Record{}, ErrInvalidQuantity
	}

	key := ""
	if code := strings.TrimSpace(input.Code); code != "" && s.idempotency != nil {
		key = "inbound:" + code
		if err := s.idempotency.CheckAndInsert(ctx, key, "inventory"); err != nil {
			return Record{}, fmt.Errorf("inventory: inbound %s: %w", code, err)
		}
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.EnsureRecordForUpdate(ctx, input.MaterialID, location, s.alertThreshold)
		if err != nil {
			return err
		}
		if current.Quantity > math.MaxInt64-input.Qty {
			return shared.Validationf("inbound of %d overflows inventory %d", input.Qty, current.ID)
		}
		current.Quantity += input.Qty
		if rec, err = tx.SaveRecord(ctx, current); err != nil {
			return err
		}
		return tx.InsertMovement(ctx, Movement{
			Type:        MovementInbound,
			MaterialID:  rec.MaterialID,
			InventoryID: rec.ID,
			Location:    rec.Location,
			Quantity:    input.Qty,
			OperatorID:  input.OperatorID,
			Ref:         input.Code,
			Remark:      input.Remark,
		})
	})
	if err != nil {
		if key != "" {
			if delErr := s.idempotency.Delete(context.WithoutCancel(ctx), key); delErr != nil {
				s.logger.Warn("inventory: release idempotency key", slog.String("key", key), slog.Any("error", delErr))
			}
		}
		return Record{}, fmt.Errorf("inventory: inbound: %w", err)
	}
	s.afterCommit(ctx, input.OperatorID, MovementInbound, input.Qty, rec)
	return rec, nil
}

// Outbound issues unreserved stock. Reserved quantity is never touched.
func (s *Service) Outbound(ctx context.Context, input OutboundInput) (rec Record, err error) {
	defer func() { s.observe("outbound", err) }()
	location := strings.TrimSpace(input.Location)
	switch {
	case input.MaterialID <= 0:
		return Record{}, shared.Validationf("material_id required")
	case location == "":
		return Record{}, ErrLocationRequired
	case input.Qty <= 0:
		return Record{}, ErrInvalidQuantity
	}

	var before Record
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.FindRecordForUpdate(ctx, input.MaterialID, location)
		if errors.Is(err, ErrRecordNotFound) {
			return &shared.StockError{Requested: input.Qty}
		}
		if err != nil {
			return err
		}
		if input.Qty > current.Available() {
			return &shared.StockError{InventoryID: current.ID, Requested: input.Qty, Available: current.Available()}
		}
		before = current
		current.Quantity -= input.Qty
		if rec, err = tx.SaveRecord(ctx, current); err != nil {
			return err
		}
		return tx.InsertMovement(ctx, Movement{
			Type:        MovementOutbound,
			MaterialID:  rec.MaterialID,
			InventoryID: rec.ID,
			Location:    rec.Location,
			Quantity:    input.Qty,
			OperatorID:  input.OperatorID,
			Remark:      input.Remark,
		})
	})
	if err != nil {
		return Record{}, fmt.Errorf("inventory: outbound: %w", err)
	}
	s.afterCommit(ctx, input.OperatorID, MovementOutbound, input.Qty, rec)
	s.checkLowStock(ctx, before, rec, MovementOutbound)
	return rec, nil
}

// Transfer moves on-hand stock between two locations of one material.
// Endpoints are acquired in ascending location order.
func (s *Service) Transfer(ctx context.Context, input TransferInput) (res TransferResult, err error) {
	defer func() { s.observe("transfer", err) }()
	from := strings.TrimSpace(input.From)
	to := strings.TrimSpace(input.To)
	switch {
	case input.MaterialID <= 0:
		return TransferResult{}, shared.Validationf("material_id required")
	case from == "" || to == "":
		return TransferResult{}, ErrLocationRequired
	case from == to:
		return TransferResult{}, ErrSameLocation
	case input.Qty <= 0:
		return TransferResult{}, ErrInvalidQuantity
	}

	var before Record
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var src, dst Record
		acquireSrc := func() error {
			rec, err := tx.FindRecordForUpdate(ctx, input.MaterialID, from)
			if errors.Is(err, ErrRecordNotFound) {
				return &shared.StockError{Requested: input.Qty}
			}
			src = rec
			return err
		}
		acquireDst := func() error {
			rec, err := tx.EnsureRecordForUpdate(ctx, input.MaterialID, to, s.alertThreshold)
			dst = rec
			return err
		}
		steps := []func() error{acquireSrc, acquireDst}
		if to < from {
			steps[0], steps[1] = steps[1], steps[0]
		}
		for _, step := range steps {
			if err := step(); err != nil {
				return err
			}
		}

		if input.Qty > src.Available() {
			return &shared.StockError{InventoryID: src.ID, Requested: input.Qty, Available: src.Available()}
		}
		if dst.Quantity > math.MaxInt64-input.Qty {
			return shared.Validationf("transfer of %d overflows inventory %d", input.Qty, dst.ID)
		}
		before = src
		src.Quantity -= input.Qty
		dst.Quantity += input.Qty
		var err error
		if res.From, err = tx.SaveRecord(ctx, src); err != nil {
			return err
		}
		if res.To, err = tx.SaveRecord(ctx, dst); err != nil {
			return err
		}
		return tx.InsertMovement(ctx, Movement{
			Type:               MovementTransfer,
			MaterialID:         input.MaterialID,
			InventoryID:        res.From.ID,
			CounterInventoryID: res.To.ID,
			Location:           from,
			ToLocation:         to,
			Quantity:           input.Qty,
			OperatorID:         input.OperatorID,
			Remark:             input.Remark,
		})
	})
	if err != nil {
		return TransferResult{}, fmt.Errorf("inventory: transfer: %w", err)
	}
	s.afterCommit(ctx, input.OperatorID, MovementTransfer, input.Qty, res.From, res.To)
	s.checkLowStock(ctx, before, res.From, MovementTransfer)
	return res, nil
}

// Lock reserves qty on a record against concurrent use.
func (s *Service) Lock(ctx context.Context, input LockInput) (rec Record, err error) {
	defer func() { s.observe("lock", err) }()
	if input.InventoryID <= 0 {
		return Record{}, shared.Validationf("inventory_id required")
	}
	if input.Qty <= 0 {
		return Record{}, ErrInvalidQuantity
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetRecordForUpdate(ctx, input.InventoryID)
		if err != nil {
			return err
		}
		if input.MaterialID != 0 && current.MaterialID != input.MaterialID {
			return fmt.Errorf("%w: inventory %d holds material %d, want %d", ErrMaterialMismatch, current.ID, current.MaterialID, input.MaterialID)
		}
		if input.Qty > current.Available() {
			return &shared.StockError{InventoryID: current.ID, Requested: input.Qty, Available: current.Available()}
		}
		current.LockedQuantity += input.Qty
		if rec, err = tx.SaveRecord(ctx, current); err != nil {
			return err
		}
		return tx.InsertMovement(ctx, Movement{
			Type:        MovementLock,
			MaterialID:  rec.MaterialID,
			InventoryID: rec.ID,
			Location:    rec.Location,
			Quantity:    input.Qty,
			OperatorID:  input.OperatorID,
			Ref:         input.Ref,
		})
	})
	if err != nil {
		return Record{}, fmt.Errorf("inventory: lock: %w", err)
	}
	s.afterCommit(ctx, input.OperatorID, MovementLock, input.Qty, rec)
	return rec, nil
}

// Unlock releases a reservation. Releasing more than is locked is a
// bookkeeping bug and reported as an invariant violation.
func (s *Service) Unlock(ctx context.Context, input UnlockInput) (rec Record, err error) {
	defer func() { s.observe("unlock", err) }()
	if input.InventoryID <= 0 {
		return Record{}, shared.Validationf("inventory_id required")
	}
	if input.Qty <= 0 {
		return Record{}, ErrInvalidQuantity
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetRecordForUpdate(ctx, input.InventoryID)
		if err != nil {
			return err
		}
		if current.LockedQuantity < input.Qty {
			return fmt.Errorf("%w: unlock %d from inventory %d with %d locked", shared.ErrInvariantViolation, input.Qty, current.ID, current.LockedQuantity)
		}
		current.LockedQuantity -= input.Qty
		if rec, err = tx.SaveRecord(ctx, current); err != nil {
			return err
		}
		return tx.InsertMovement(ctx, Movement{
			Type:        MovementUnlock,
			MaterialID:  rec.MaterialID,
			InventoryID: rec.ID,
			Location:    rec.Location,
			Quantity:    input.Qty,
			OperatorID:  input.OperatorID,
			Ref:         input.Ref,
		})
	})
	if err != nil {
		if errors.Is(err, shared.ErrInvariantViolation) {
			s.logger.Error("inventory: unlock invariant violated",
				slog.Int64("inventory_id", input.InventoryID),
				slog.Int64("qty", input.Qty),
				slog.String("ref", input.Ref),
				slog.Any("error", err))
		}
		return Record{}, fmt.Errorf("inventory: unlock: %w", err)
	}
	s.afterCommit(ctx, input.OperatorID, MovementUnlock, input.Qty, rec)
	return rec, nil
}

// ShipReserved consumes reserved stock for every line in one transaction.
// Records are acquired in (material, location) order, the same order
// Transfer uses, so the two never wait on each other in a cycle.
func (s *Service) ShipReserved(ctx context.Context, input ShipInput) (out []Record, err error) {
	defer func() { s.observe("ship", err) }()
	if len(input.Lines) == 0 {
		return nil, shared.Validationf("ship requires at least one line")
	}
	type target struct {
		line ShipLine
		rec  Record
	}
	targets := make([]target, 0, len(input.Lines))
	seen := make(map[int64]bool, len(input.Lines))
	for _, line := range input.Lines {
		if line.Qty <= 0 {
			return nil, ErrInvalidQuantity
		}
		if seen[line.InventoryID] {
			return nil, shared.Validationf("inventory %d listed twice", line.InventoryID)
		}
		seen[line.InventoryID] = true
		rec, err := s.repo.GetRecord(ctx, line.InventoryID)
		if err != nil {
			return nil, fmt.Errorf("inventory: ship: %w", err)
		}
		targets = append(targets, target{line: line, rec: rec})
	}
	sort.Slice(targets, func(i, j int) bool {
		a, b := targets[i].rec, targets[j].rec
		if a.MaterialID != b.MaterialID {
			return a.MaterialID < b.MaterialID
		}
		return a.Location < b.Location
	})

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		out = out[:0]
		for _, t := range targets {
			current, err := tx.GetRecordForUpdate(ctx, t.line.InventoryID)
			if err != nil {
				return err
			}
			if current.LockedQuantity < t.line.Qty {
				return fmt.Errorf("%w: ship %d from inventory %d with %d locked", shared.ErrInvariantViolation, t.line.Qty, current.ID, current.LockedQuantity)
			}
			current.Quantity -= t.line.Qty
			current.LockedQuantity -= t.line.Qty
			saved, err := tx.SaveRecord(ctx, current)
			if err != nil {
				return err
			}
			if err := tx.InsertMovement(ctx, Movement{
				Type:        MovementShip,
				MaterialID:  saved.MaterialID,
				InventoryID: saved.ID,
				Location:    saved.Location,
				Quantity:    t.line.Qty,
				OperatorID:  input.OperatorID,
				Ref:         input.Ref,
			}); err != nil {
				return err
			}
			out = append(out, saved)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, shared.ErrInvariantViolation) {
			s.logger.Error("inventory: ship invariant violated", slog.String("ref", input.Ref), slog.Any("error", err))
		}
		return nil, fmt.Errorf("inventory: ship: %w", err)
	}
	var total int64
	for _, line := range input.Lines {
		total += line.Qty
	}
	s.afterCommit(ctx, input.OperatorID, MovementShip, total, out...)
	return out, nil
}

// Query returns a consistent snapshot of every record of a material, ordered by id.
func (s *Service) Query(ctx context.Context, materialID int64) ([]Record, error) {
	if materialID <= 0 {
		return nil, shared.Validationf("material_id required")
	}
	records, err := s.repo.RecordsByMaterial(ctx, materialID)
	if err != nil {
		return nil, fmt.Errorf("inventory: query material %d: %w", materialID, err)
	}
	return records, nil
}

// GetRecord loads one inventory record.
func (s *Service) GetRecord(ctx context.Context, id int64) (Record, error) {
	return s.repo.GetRecord(ctx, id)
}

// ListRecords pages inventory records, optionally for one material.
func (s *Service) ListRecords(ctx context.Context, filter RecordFilter) ([]Record, shared.Pagination, error) {
	filter.Page, filter.PageSize = shared.NormalizePage(filter.Page, filter.PageSize)
	records, total, err := s.repo.ListRecords(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return records, shared.NewPagination(filter.Page, filter.PageSize, total), nil
}

// ListMovements returns movements newest first.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if filter.Type != "" && !filter.Type.IsValid() {
		return nil, shared.Validationf("unknown movement type %q", filter.Type)
	}
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 200
	}
	return s.repo.ListMovements(ctx, filter)
}

// Summary returns per-material totals, served from cache when configured.
func (s *Service) Summary(ctx context.Context) ([]MaterialSummary, error) {
	if s.cache == nil {
		return s.repo.Summaries(ctx)
	}
	return s.cache.Summaries(ctx, s.repo.Summaries)
}

// Reconcile replays the movement log against stored records.
func (s *Service) Reconcile(ctx context.Context) (ReconcileReport, error) {
	records, movements, err := s.repo.LedgerSnapshot(ctx)
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("inventory: reconcile snapshot: %w", err)
	}
	report := Reconcile(records, movements, s.now())
	if !report.Clean() {
		s.logger.Error("inventory: ledger drift detected",
			slog.Int("drifted", len(report.Drift)),
			slog.Int("records", report.Records),
			slog.Int("movements", report.Movements))
	}
	return report, nil
}

func (s *Service) afterCommit(ctx context.Context, operatorID int64, typ MovementType, qty int64, records ...Record) {
	s.bumpCache(ctx)
	ids := make([]int64, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID)
	}
	entityID := ""
	if len(ids) > 0 {
		entityID = strconv.FormatInt(ids[0], 10)
	}
	s.recordAuditID(ctx, operatorID, "inventory:"+strings.ToLower(string(typ)), "inventory_record", entityID, map[string]any{
		"inventory_ids": ids,
		"qty":           qty,
	})
}

func (s *Service) checkLowStock(ctx context.Context, before, after Record, cause MovementType) {
	if s.events == nil || !crossedThreshold(before, after) {
		return
	}
	evt := LowStockEvent{
		MaterialID:  after.MaterialID,
		InventoryID: after.ID,
		Location:    after.Location,
		Available:   after.Available(),
		Threshold:   after.AlertThreshold,
		Cause:       string(cause),
		At:          s.now(),
	}
	if err := s.events.PublishLowStock(ctx, evt); err != nil {
		s.logger.Warn("inventory: publish low stock", slog.Int64("inventory_id", after.ID), slog.Any("error", err))
	}
}

func (s *Service) bumpCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn("inventory: bump summary cache", slog.Any("error", err))
	}
}

func (s *Service) observe(op string, err error) {
	if s.recorder != nil {
		s.recorder.ObserveLedgerOp(op, err)
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entity string, id int64, meta map[string]any) {
	s.recordAuditID(ctx, actorID, action, entity, strconv.FormatInt(id, 10), meta)
}

func (s *Service) recordAuditID(ctx context.Context, actorID int64, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil || entityID == "" {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: entity, EntityID: entityID, Meta: meta}); err != nil {
		s.logger.Warn("inventory: audit", slog.String("action", action), slog.Any("error", err))
	}
}

func materialFromInput(input MaterialInput) (Material, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return Material{}, shared.Validationf("material name required")
	}
	if input.MinStock < 0 {
		return Material{}, shared.Validationf("min_stock must be >= 0")
	}
	return Material{
		Name:        name,
		Category:    strings.TrimSpace(input.Category),
		Specs:       strings.TrimSpace(input.Specs),
		Unit:        strings.TrimSpace(input.Unit),
		BatchNum:    strings.TrimSpace(input.BatchNum),
		Description: input.Description,
		MinStock:    input.MinStock,
		ExpiryDate:  input.ExpiryDate,
	}, nil
}
