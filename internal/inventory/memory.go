package inventory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/reliefops/reliefops/internal/platform/rowlock"
	"github.com/reliefops/reliefops/internal/shared"
)

type recordKey struct {
	materialID int64
	location   string
}

// reservation is a record id handed out before the record is committed.
// refs counts the open transactions that claimed it.
type reservation struct {
	id   int64
	refs int
}

// MemoryRepository is an in-process RepositoryPort. Each record has its own
// exclusive lock held for the whole transaction; staged writes become visible
// to readers atomically at commit.
type MemoryRepository struct {
	rows *rowlock.Table[int64]

	mu        sync.RWMutex
	materials map[int64]Material
	records   map[int64]Record
	byKey     map[recordKey]int64
	reserved  map[recordKey]*reservation
	movements []Movement

	nextMaterial int64
	nextRecord   int64
	nextMovement int64

	now        func() time.Time
	beforeSave func(Record) error
}

// NewMemoryRepository constructs an empty store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		rows:      rowlock.New[int64](),
		materials: make(map[int64]Material),
		records:   make(map[int64]Record),
		byKey:     make(map[recordKey]int64),
		reserved:  make(map[recordKey]*reservation),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithTx runs fn with exclusive record access and applies its writes on success.
func (r *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryTx{
		repo:   r,
		held:   make(map[int64]func()),
		staged: make(map[int64]Record),
		fresh:  make(map[int64]recordKey),
		claims: make(map[recordKey]struct{}),
	}
	defer tx.release()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

func (r *MemoryRepository) CreateMaterial(_ context.Context, m Material) (Material, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.duplicateMaterial(m) {
		return Material{}, ErrDuplicateMaterial
	}
	r.nextMaterial++
	now := r.now()
	m.ID = r.nextMaterial
	m.CreatedAt = now
	m.UpdatedAt = now
	r.materials[m.ID] = m
	return m, nil
}

func (r *MemoryRepository) UpdateMaterial(_ context.Context, m Material) (Material, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.materials[m.ID]
	if !ok {
		return Material{}, ErrMaterialNotFound
	}
	if r.duplicateMaterial(m) {
		return Material{}, ErrDuplicateMaterial
	}
	m.CreatedAt = existing.CreatedAt
	m.UpdatedAt = r.now()
	r.materials[m.ID] = m
	return m, nil
}

func (r *MemoryRepository) duplicateMaterial(m Material) bool {
	for id, other := range r.materials {
		if id != m.ID && other.Name == m.Name && other.BatchNum == m.BatchNum {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) GetMaterial(_ context.Context, id int64) (Material, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.materials[id]
	if !ok {
		return Material{}, ErrMaterialNotFound
	}
	return m, nil
}

func (r *MemoryRepository) DeleteMaterial(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.materials[id]; !ok {
		return ErrMaterialNotFound
	}
	for k := range r.byKey {
		if k.materialID == id {
			return ErrMaterialInUse
		}
	}
	for k := range r.reserved {
		if k.materialID == id {
			return ErrMaterialInUse
		}
	}
	delete(r.materials, id)
	return nil
}

func (r *MemoryRepository) ListMaterials(_ context.Context, filter MaterialFilter) ([]MaterialListItem, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	totals := make(map[int64]int64)
	for _, rec := range r.records {
		totals[rec.MaterialID] += rec.Quantity
	}
	needle := strings.ToLower(filter.Search)
	items := make([]MaterialListItem, 0, len(r.materials))
	for _, m := range r.materials {
		if needle != "" && !strings.Contains(strings.ToLower(m.Name), needle) && !strings.Contains(strings.ToLower(m.Category), needle) {
			continue
		}
		items = append(items, MaterialListItem{Material: m, TotalQuantity: totals[m.ID]})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return shared.PageOf(items, filter.Page, filter.PageSize), len(items), nil
}

func (r *MemoryRepository) GetRecord(_ context.Context, id int64) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return rec, nil
}

func (r *MemoryRepository) ListRecords(_ context.Context, filter RecordFilter) ([]Record, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := r.recordsLocked(filter.MaterialID)
	return shared.PageOf(out, filter.Page, filter.PageSize), len(out), nil
}

func (r *MemoryRepository) RecordsByMaterial(_ context.Context, materialID int64) ([]Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recordsLocked(materialID), nil
}

func (r *MemoryRepository) recordsLocked(materialID int64) []Record {
	out := make([]Record, 0)
	for _, rec := range r.records {
		if materialID != 0 && rec.MaterialID != materialID {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *MemoryRepository) ListMovements(_ context.Context, filter MovementFilter) ([]Movement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Movement, 0)
	for i := len(r.movements) - 1; i >= 0; i-- {
		m := r.movements[i]
		if filter.MaterialID != 0 && m.MaterialID != filter.MaterialID {
			continue
		}
		if filter.InventoryID != 0 && m.InventoryID != filter.InventoryID && m.CounterInventoryID != filter.InventoryID {
			continue
		}
		if filter.Type != "" && m.Type != filter.Type {
			continue
		}
		if filter.Ref != "" && m.Ref != filter.Ref {
			continue
		}
		out = append(out, m)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (r *MemoryRepository) Summaries(_ context.Context) ([]MaterialSummary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byMaterial := make(map[int64]*MaterialSummary)
	for _, rec := range r.records {
		sum, ok := byMaterial[rec.MaterialID]
		if !ok {
			sum = &MaterialSummary{MaterialID: rec.MaterialID, Name: r.materials[rec.MaterialID].Name}
			byMaterial[rec.MaterialID] = sum
		}
		sum.OnHand += rec.Quantity
		sum.Locked += rec.LockedQuantity
		sum.Locations++
	}
	out := make([]MaterialSummary, 0, len(byMaterial))
	for _, sum := range byMaterial {
		sum.Available = sum.OnHand - sum.Locked
		if minStock := r.materials[sum.MaterialID].MinStock; minStock > 0 {
			sum.LowStock = sum.Available < minStock
		}
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MaterialID < out[j].MaterialID })
	return out, nil
}

func (r *MemoryRepository) LedgerSnapshot(_ context.Context) ([]Record, []Movement, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	movements := make([]Movement, len(r.movements))
	copy(movements, r.movements)
	return r.recordsLocked(0), movements, nil
}

type memoryTx struct {
	repo      *MemoryRepository
	held      map[int64]func()
	order     []int64
	staged    map[int64]Record
	fresh     map[int64]recordKey
	claims    map[recordKey]struct{}
	movements []Movement
}

func (tx *memoryTx) acquire(ctx context.Context, id int64) error {
	if _, ok := tx.held[id]; ok {
		return nil
	}
	unlock, err := tx.repo.rows.Lock(ctx, id)
	if err != nil {
		return fmt.Errorf("inventory: lock record %d: %w", id, err)
	}
	tx.held[id] = unlock
	tx.order = append(tx.order, id)
	return nil
}

func (tx *memoryTx) current(id int64) (Record, bool) {
	if rec, ok := tx.staged[id]; ok {
		return rec, true
	}
	tx.repo.mu.RLock()
	defer tx.repo.mu.RUnlock()
	rec, ok := tx.repo.records[id]
	return rec, ok
}

func (tx *memoryTx) GetRecordForUpdate(ctx context.Context, id int64) (Record, error) {
	if _, ok := tx.current(id); !ok {
		return Record{}, ErrRecordNotFound
	}
	if err := tx.acquire(ctx, id); err != nil {
		return Record{}, err
	}
	rec, _ := tx.current(id)
	return rec, nil
}

func (tx *memoryTx) FindRecordForUpdate(ctx context.Context, materialID int64, location string) (Record, error) {
	k := recordKey{materialID: materialID, location: location}
	for id, fk := range tx.fresh {
		if fk == k {
			return tx.staged[id], nil
		}
	}
	tx.repo.mu.RLock()
	id, ok := tx.repo.byKey[k]
	tx.repo.mu.RUnlock()
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	return tx.GetRecordForUpdate(ctx, id)
}

func (tx *memoryTx) EnsureRecordForUpdate(ctx context.Context, materialID int64, location string, threshold int64) (Record, error) {
	k := recordKey{materialID: materialID, location: location}
	r := tx.repo
	r.mu.Lock()
	if _, ok := r.materials[materialID]; !ok {
		r.mu.Unlock()
		return Record{}, ErrMaterialNotFound
	}
	id, ok := r.byKey[k]
	if !ok {
		res, ok := r.reserved[k]
		if !ok {
			r.nextRecord++
			res = &reservation{id: r.nextRecord}
			r.reserved[k] = res
		}
		if _, claimed := tx.claims[k]; !claimed {
			res.refs++
			tx.claims[k] = struct{}{}
		}
		id = res.id
	}
	r.mu.Unlock()

	if err := tx.acquire(ctx, id); err != nil {
		return Record{}, err
	}
	if rec, ok := tx.current(id); ok {
		return rec, nil
	}
	rec := Record{
		ID:             id,
		MaterialID:     materialID,
		Location:       location,
		AlertThreshold: threshold,
		UpdatedAt:      r.now(),
	}
	tx.fresh[id] = k
	tx.staged[id] = rec
	return rec, nil
}

func (tx *memoryTx) SaveRecord(_ context.Context, rec Record) (Record, error) {
	if _, ok := tx.held[rec.ID]; !ok {
		return Record{}, fmt.Errorf("%w: save of unlocked inventory %d", shared.ErrInvariantViolation, rec.ID)
	}
	if err := rec.Check(); err != nil {
		return Record{}, err
	}
	if hook := tx.repo.beforeSave; hook != nil {
		if err := hook(rec); err != nil {
			return Record{}, err
		}
	}
	rec.Version++
	rec.UpdatedAt = tx.repo.now()
	tx.staged[rec.ID] = rec
	return rec, nil
}

func (tx *memoryTx) InsertMovement(_ context.Context, m Movement) error {
	if !m.Type.IsValid() {
		return fmt.Errorf("inventory: unknown movement type %q", m.Type)
	}
	if m.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	tx.movements = append(tx.movements, m)
	return nil
}

func (tx *memoryTx) commit() error {
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range tx.staged {
		if err := rec.Check(); err != nil {
			return err
		}
	}
	for id, rec := range tx.staged {
		r.records[id] = rec
		if k, ok := tx.fresh[id]; ok {
			r.byKey[k] = id
			delete(r.reserved, k)
		}
	}
	now := r.now()
	for _, m := range tx.movements {
		r.nextMovement++
		m.ID = r.nextMovement
		m.CreatedAt = now
		r.movements = append(r.movements, m)
	}
	return nil
}

func (tx *memoryTx) release() {
	tx.dropClaims()
	for i := len(tx.order) - 1; i >= 0; i-- {
		tx.held[tx.order[i]]()
	}
	tx.held = nil
	tx.order = nil
}

// dropClaims forgets reservations no open transaction still needs, so a
// rolled-back create leaves nothing behind.
func (tx *memoryTx) dropClaims() {
	if len(tx.claims) == 0 {
		return
	}
	r := tx.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range tx.claims {
		res, ok := r.reserved[k]
		if !ok {
			continue
		}
		if res.refs--; res.refs <= 0 {
			delete(r.reserved, k)
		}
	}
	tx.claims = nil
}
