package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/reliefops/reliefops/internal/platform/rowlock"
	"github.com/reliefops/reliefops/internal/shared"
)

// MemoryRepository is an in-process RepositoryPort. A transaction holds the
// requests it reads for update until it ends; its writes are applied together
// at commit.
type MemoryRepository struct {
	rows *rowlock.Table[int64]

	mu       sync.RWMutex
	requests map[int64]DemandRequest
	tasks    []DispatchTask
	logs     []StatusLog

	nextRequest int64
	nextTask    int64
	nextLog     int64

	now        func() time.Time
	failCommit func() error
}

// NewMemoryRepository constructs an empty store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		rows:     rowlock.New[int64](),
		requests: make(map[int64]DemandRequest),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithTx runs fn and applies its writes when it succeeds.
func (r *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryTx{repo: r, held: make(map[int64]func()), staged: make(map[int64]DemandRequest)}
	defer tx.release()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

func (r *MemoryRepository) GetRequest(_ context.Context, id int64) (DemandRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.requests[id]
	if !ok {
		return DemandRequest{}, ErrRequestNotFound
	}
	return req, nil
}

func (r *MemoryRepository) ListRequests(_ context.Context, filter RequestFilter) ([]DemandRequest, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DemandRequest, 0, len(r.requests))
	for _, req := range r.requests {
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return shared.PageOf(out, filter.Page, filter.PageSize), len(out), nil
}

func (r *MemoryRepository) GetTask(_ context.Context, id int64) (DispatchTask, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.tasks {
		if t.ID == id {
			return t, nil
		}
	}
	return DispatchTask{}, ErrTaskNotFound
}

func (r *MemoryRepository) ListTasks(_ context.Context, filter TaskFilter) ([]DispatchTask, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DispatchTask, 0)
	for i := len(r.tasks) - 1; i >= 0; i-- {
		if filter.RequestID != 0 && r.tasks[i].RequestID != filter.RequestID {
			continue
		}
		out = append(out, r.tasks[i])
	}
	return shared.PageOf(out, filter.Page, filter.PageSize), len(out), nil
}

func (r *MemoryRepository) ListStatusLog(_ context.Context, requestID int64) ([]StatusLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]StatusLog, 0)
	for _, l := range r.logs {
		if l.RequestID == requestID {
			out = append(out, l)
		}
	}
	return out, nil
}

type memoryTx struct {
	repo   *MemoryRepository
	held   map[int64]func()
	order  []int64
	staged map[int64]DemandRequest
	tasks  []DispatchTask
	logs   []StatusLog
}

func (tx *memoryTx) InsertRequest(_ context.Context, req DemandRequest) (DemandRequest, error) {
	r := tx.repo
	r.mu.Lock()
	r.nextRequest++
	req.ID = r.nextRequest
	r.mu.Unlock()
	tx.staged[req.ID] = req
	return req, nil
}

func (tx *memoryTx) GetRequestForUpdate(ctx context.Context, id int64) (DemandRequest, error) {
	if req, ok := tx.staged[id]; ok {
		return req, nil
	}
	if _, err := tx.repo.GetRequest(ctx, id); err != nil {
		return DemandRequest{}, err
	}
	if _, ok := tx.held[id]; !ok {
		unlock, err := tx.repo.rows.Lock(ctx, id)
		if err != nil {
			return DemandRequest{}, fmt.Errorf("dispatch: lock request %d: %w", id, err)
		}
		tx.held[id] = unlock
		tx.order = append(tx.order, id)
	}
	// Re-read under the lock; the previous holder may have committed.
	return tx.repo.GetRequest(ctx, id)
}

func (tx *memoryTx) UpdateRequest(_ context.Context, req DemandRequest) (DemandRequest, error) {
	_, fresh := tx.staged[req.ID]
	if _, ok := tx.held[req.ID]; !ok && !fresh {
		return DemandRequest{}, fmt.Errorf("%w: update of unlocked request %d", shared.ErrInvariantViolation, req.ID)
	}
	tx.staged[req.ID] = req
	return req, nil
}

func (tx *memoryTx) InsertTask(_ context.Context, task DispatchTask) (DispatchTask, error) {
	r := tx.repo
	r.mu.Lock()
	for _, t := range r.tasks {
		if t.Code == task.Code {
			r.mu.Unlock()
			return DispatchTask{}, fmt.Errorf("dispatch: duplicate task code %s", task.Code)
		}
	}
	r.nextTask++
	task.ID = r.nextTask
	r.mu.Unlock()
	allocs := make([]Allocation, len(task.Allocations))
	copy(allocs, task.Allocations)
	task.Allocations = allocs
	tx.tasks = append(tx.tasks, task)
	return task, nil
}

func (tx *memoryTx) TasksByRequest(_ context.Context, requestID int64) ([]DispatchTask, error) {
	r := tx.repo
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DispatchTask, 0)
	for _, t := range r.tasks {
		if t.RequestID == requestID {
			out = append(out, t)
		}
	}
	for _, t := range tx.tasks {
		if t.RequestID == requestID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (tx *memoryTx) InsertStatusLog(_ context.Context, log StatusLog) error {
	tx.logs = append(tx.logs, log)
	return nil
}

func (tx *memoryTx) commit() error {
	r := tx.repo
	if r.failCommit != nil {
		if err := r.failCommit(); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, req := range tx.staged {
		r.requests[id] = req
	}
	r.tasks = append(r.tasks, tx.tasks...)
	now := r.now()
	for _, l := range tx.logs {
		r.nextLog++
		l.ID = r.nextLog
		l.CreatedAt = now
		r.logs = append(r.logs, l)
	}
	return nil
}

func (tx *memoryTx) release() {
	for i := len(tx.order) - 1; i >= 0; i-- {
		tx.held[tx.order[i]]()
	}
	tx.held = nil
	tx.order = nil
}
