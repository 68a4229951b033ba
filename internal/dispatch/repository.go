package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reliefops/reliefops/internal/platform/db"
)

// Repository persists requests, tasks and status logs in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a read-committed transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithLockingTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const requestColumns = `id, material_id, quantity, urgency_level, target_area, description, status, audit_remark, created_at, updated_at, completed_at`

func scanRequest(row pgx.Row) (DemandRequest, error) {
	var req DemandRequest
	err := row.Scan(&req.ID, &req.MaterialID, &req.Quantity, &req.UrgencyLevel, &req.TargetArea, &req.Description,
		&req.Status, &req.AuditRemark, &req.CreatedAt, &req.UpdatedAt, &req.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return DemandRequest{}, ErrRequestNotFound
	}
	return req, err
}

func (r *Repository) GetRequest(ctx context.Context, id int64) (DemandRequest, error) {
	return scanRequest(r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM demand_requests WHERE id=$1`, id))
}

func (r *Repository) ListRequests(ctx context.Context, filter RequestFilter) ([]DemandRequest, int, error) {
	status := string(filter.Status)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM demand_requests WHERE ($1 = '' OR status = $1)`, status).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+requestColumns+` FROM demand_requests
WHERE ($1 = '' OR status = $1)
ORDER BY id DESC
LIMIT $2 OFFSET $3`, status, filter.PageSize, (filter.Page-1)*filter.PageSize)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := make([]DemandRequest, 0)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, req)
	}
	return out, total, rows.Err()
}

const taskColumns = `id, code, request_id, operator_id, created_at`

func (r *Repository) GetTask(ctx context.Context, id int64) (DispatchTask, error) {
	tasks, err := loadTasks(ctx, r.pool, `SELECT `+taskColumns+` FROM dispatch_tasks WHERE id=$1`, id)
	if err != nil {
		return DispatchTask{}, err
	}
	if len(tasks) == 0 {
		return DispatchTask{}, ErrTaskNotFound
	}
	return tasks[0], nil
}

func (r *Repository) ListTasks(ctx context.Context, filter TaskFilter) ([]DispatchTask, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dispatch_tasks WHERE ($1 = 0 OR request_id = $1)`, filter.RequestID).Scan(&total); err != nil {
		return nil, 0, err
	}
	tasks, err := loadTasks(ctx, r.pool, `SELECT `+taskColumns+` FROM dispatch_tasks
WHERE ($1 = 0 OR request_id = $1)
ORDER BY id DESC
LIMIT $2 OFFSET $3`, filter.RequestID, filter.PageSize, (filter.Page-1)*filter.PageSize)
	if err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

// loadTasks runs a task query and attaches each task's allocations in line order.
func loadTasks(ctx context.Context, q querier, sql string, args ...any) ([]DispatchTask, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	tasks := make([]DispatchTask, 0)
	for rows.Next() {
		var t DispatchTask
		if err := rows.Scan(&t.ID, &t.Code, &t.RequestID, &t.OperatorID, &t.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		tasks = append(tasks, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return tasks, nil
	}

	ids := make([]int64, len(tasks))
	index := make(map[int64]int, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
		index[t.ID] = i
		tasks[i].Allocations = make([]Allocation, 0)
	}
	lines, err := q.Query(ctx, `SELECT task_id, inventory_id, quantity FROM dispatch_task_allocations
WHERE task_id = ANY($1)
ORDER BY task_id, line_no`, ids)
	if err != nil {
		return nil, err
	}
	defer lines.Close()
	for lines.Next() {
		var (
			taskID int64
			a      Allocation
		)
		if err := lines.Scan(&taskID, &a.InventoryID, &a.Quantity); err != nil {
			return nil, err
		}
		i := index[taskID]
		tasks[i].Allocations = append(tasks[i].Allocations, a)
	}
	return tasks, lines.Err()
}

func (r *Repository) ListStatusLog(ctx context.Context, requestID int64) ([]StatusLog, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, request_id, prev_status, next_status, action, operator_id, remark, created_at
FROM dispatch_status_logs
WHERE request_id=$1
ORDER BY id`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]StatusLog, 0)
	for rows.Next() {
		var l StatusLog
		if err := rows.Scan(&l.ID, &l.RequestID, &l.PrevStatus, &l.NextStatus, &l.Action, &l.OperatorID, &l.Remark, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (t *txRepo) InsertRequest(ctx context.Context, req DemandRequest) (DemandRequest, error) {
	return scanRequest(t.tx.QueryRow(ctx, `INSERT INTO demand_requests (material_id, quantity, urgency_level, target_area, description, status)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING `+requestColumns,
		req.MaterialID, req.Quantity, req.UrgencyLevel, req.TargetArea, req.Description, req.Status))
}

func (t *txRepo) GetRequestForUpdate(ctx context.Context, id int64) (DemandRequest, error) {
	return scanRequest(t.tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM demand_requests WHERE id=$1 FOR UPDATE`, id))
}

func (t *txRepo) UpdateRequest(ctx context.Context, req DemandRequest) (DemandRequest, error) {
	return scanRequest(t.tx.QueryRow(ctx, `UPDATE demand_requests
SET status=$2, audit_remark=$3, completed_at=$4, updated_at=NOW()
WHERE id=$1
RETURNING `+requestColumns,
		req.ID, req.Status, req.AuditRemark, req.CompletedAt))
}

func (t *txRepo) InsertTask(ctx context.Context, task DispatchTask) (DispatchTask, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO dispatch_tasks (code, request_id, operator_id)
VALUES ($1, $2, $3)
RETURNING id, created_at`, task.Code, task.RequestID, task.OperatorID).Scan(&task.ID, &task.CreatedAt)
	if err != nil {
		return DispatchTask{}, fmt.Errorf("insert dispatch task: %w", err)
	}
	batch := &pgx.Batch{}
	for i, a := range task.Allocations {
		batch.Queue(`INSERT INTO dispatch_task_allocations (task_id, line_no, inventory_id, quantity) VALUES ($1, $2, $3, $4)`,
			task.ID, i+1, a.InventoryID, a.Quantity)
	}
	results := t.tx.SendBatch(ctx, batch)
	for range task.Allocations {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return DispatchTask{}, fmt.Errorf("insert allocation: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return DispatchTask{}, err
	}
	return task, nil
}

func (t *txRepo) TasksByRequest(ctx context.Context, requestID int64) ([]DispatchTask, error) {
	return loadTasks(ctx, t.tx, `SELECT `+taskColumns+` FROM dispatch_tasks WHERE request_id=$1 ORDER BY id`, requestID)
}

func (t *txRepo) InsertStatusLog(ctx context.Context, log StatusLog) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO dispatch_status_logs (request_id, prev_status, next_status, action, operator_id, remark)
VALUES ($1, $2, $3, $4, $5, $6)`,
		log.RequestID, log.PrevStatus, log.NextStatus, log.Action, log.OperatorID, log.Remark)
	return err
}
