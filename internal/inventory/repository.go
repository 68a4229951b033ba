package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reliefops/reliefops/internal/platform/db"
	"github.com/reliefops/reliefops/internal/shared"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a read-committed transaction so that
// row locks always observe the latest committed record.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithLockingTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const materialColumns = `id, name, category, specs, unit, batch_num, description, min_stock, expiry_date, created_at, updated_at`

func scanMaterial(row pgx.Row) (Material, error) {
	var m Material
	err := row.Scan(&m.ID, &m.Name, &m.Category, &m.Specs, &m.Unit, &m.BatchNum, &m.Description, &m.MinStock, &m.ExpiryDate, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Material{}, ErrMaterialNotFound
	}
	return m, err
}

func (r *Repository) CreateMaterial(ctx context.Context, m Material) (Material, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO materials (name, category, specs, unit, batch_num, description, min_stock, expiry_date)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING `+materialColumns,
		m.Name, m.Category, m.Specs, m.Unit, m.BatchNum, m.Description, m.MinStock, m.ExpiryDate)
	created, err := scanMaterial(row)
	if err != nil {
		return Material{}, mapPgError(err)
	}
	return created, nil
}

func (r *Repository) UpdateMaterial(ctx context.Context, m Material) (Material, error) {
	row := r.pool.QueryRow(ctx, `UPDATE materials SET name=$2, category=$3, specs=$4, unit=$5, batch_num=$6, description=$7, min_stock=$8, expiry_date=$9, updated_at=NOW()
WHERE id=$1
RETURNING `+materialColumns,
		m.ID, m.Name, m.Category, m.Specs, m.Unit, m.BatchNum, m.Description, m.MinStock, m.ExpiryDate)
	updated, err := scanMaterial(row)
	if err != nil {
		return Material{}, mapPgError(err)
	}
	return updated, nil
}

func (r *Repository) GetMaterial(ctx context.Context, id int64) (Material, error) {
	return scanMaterial(r.pool.QueryRow(ctx, `SELECT `+materialColumns+` FROM materials WHERE id=$1`, id))
}

func (r *Repository) DeleteMaterial(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM materials WHERE id=$1`, id)
	if isForeignKeyViolation(err) {
		return ErrMaterialInUse
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMaterialNotFound
	}
	return nil
}

func (r *Repository) ListMaterials(ctx context.Context, filter MaterialFilter) ([]MaterialListItem, int, error) {
	search := ""
	if filter.Search != "" {
		search = "%" + strings.ToLower(filter.Search) + "%"
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM materials
WHERE ($1 = '' OR LOWER(name) LIKE $1 OR LOWER(category) LIKE $1)`, search).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit := filter.PageSize
	offset := (filter.Page - 1) * filter.PageSize
	rows, err := r.pool.Query(ctx, `SELECT m.id, m.name, m.category, m.specs, m.unit, m.batch_num, m.description, m.min_stock, m.expiry_date, m.created_at, m.updated_at,
       COALESCE(SUM(ir.quantity), 0)::BIGINT
FROM materials m
LEFT JOIN inventory_records ir ON ir.material_id = m.id
WHERE ($1 = '' OR LOWER(m.name) LIKE $1 OR LOWER(m.category) LIKE $1)
GROUP BY m.id
ORDER BY m.id
LIMIT $2 OFFSET $3`, search, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []MaterialListItem
	for rows.Next() {
		var it MaterialListItem
		if err := rows.Scan(&it.ID, &it.Name, &it.Category, &it.Specs, &it.Unit, &it.BatchNum, &it.Description, &it.MinStock, &it.ExpiryDate, &it.CreatedAt, &it.UpdatedAt, &it.TotalQuantity); err != nil {
			return nil, 0, err
		}
		items = append(items, it)
	}
	return items, total, rows.Err()
}

const recordColumns = `id, material_id, location, quantity, locked_quantity, alert_threshold, version, updated_at`

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.MaterialID, &rec.Location, &rec.Quantity, &rec.LockedQuantity, &rec.AlertThreshold, &rec.Version, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrRecordNotFound
	}
	return rec, err
}

func collectRecords(rows pgx.Rows) ([]Record, error) {
	defer rows.Close()
	out := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *Repository) GetRecord(ctx context.Context, id int64) (Record, error) {
	return scanRecord(r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM inventory_records WHERE id=$1`, id))
}

func (r *Repository) ListRecords(ctx context.Context, filter RecordFilter) ([]Record, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM inventory_records WHERE ($1 = 0 OR material_id = $1)`, filter.MaterialID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+recordColumns+` FROM inventory_records
WHERE ($1 = 0 OR material_id = $1)
ORDER BY id
LIMIT $2 OFFSET $3`, filter.MaterialID, filter.PageSize, (filter.Page-1)*filter.PageSize)
	if err != nil {
		return nil, 0, err
	}
	records, err := collectRecords(rows)
	return records, total, err
}

func (r *Repository) RecordsByMaterial(ctx context.Context, materialID int64) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+recordColumns+` FROM inventory_records WHERE material_id=$1 ORDER BY id`, materialID)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

const movementColumns = `id, movement_type, material_id, inventory_id, COALESCE(counter_inventory_id, 0), location, to_location, quantity, operator_id, ref, remark, created_at`

func collectMovements(rows pgx.Rows) ([]Movement, error) {
	defer rows.Close()
	out := make([]Movement, 0)
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.Type, &m.MaterialID, &m.InventoryID, &m.CounterInventoryID, &m.Location, &m.ToLocation, &m.Quantity, &m.OperatorID, &m.Ref, &m.Remark, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+movementColumns+` FROM stock_movements
WHERE ($1 = 0 OR material_id = $1)
  AND ($2 = 0 OR inventory_id = $2 OR counter_inventory_id = $2)
  AND ($3 = '' OR movement_type = $3)
  AND ($4 = '' OR ref = $4)
ORDER BY id DESC
LIMIT $5`, filter.MaterialID, filter.InventoryID, string(filter.Type), filter.Ref, filter.Limit)
	if err != nil {
		return nil, err
	}
	return collectMovements(rows)
}

func (r *Repository) Summaries(ctx context.Context) ([]MaterialSummary, error) {
	rows, err := r.pool.Query(ctx, `SELECT m.id, m.name, SUM(ir.quantity)::BIGINT, SUM(ir.locked_quantity)::BIGINT, COUNT(ir.id), m.min_stock
FROM inventory_records ir
JOIN materials m ON m.id = ir.material_id
GROUP BY m.id, m.name, m.min_stock
ORDER BY m.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]MaterialSummary, 0)
	for rows.Next() {
		var (
			s        MaterialSummary
			minStock int64
		)
		if err := rows.Scan(&s.MaterialID, &s.Name, &s.OnHand, &s.Locked, &s.Locations, &minStock); err != nil {
			return nil, err
		}
		s.Available = s.OnHand - s.Locked
		s.LowStock = minStock > 0 && s.Available < minStock
		out = append(out, s)
	}
	return out, rows.Err()
}

// LedgerSnapshot reads records and movements inside one repeatable-read
// transaction so both come from the same snapshot.
func (r *Repository) LedgerSnapshot(ctx context.Context) ([]Record, []Movement, error) {
	var (
		records   []Record
		movements []Movement
	)
	err := db.WithSnapshotTx(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT `+recordColumns+` FROM inventory_records ORDER BY id`)
		if err != nil {
			return err
		}
		if records, err = collectRecords(rows); err != nil {
			return err
		}
		rows, err = tx.Query(ctx, `SELECT `+movementColumns+` FROM stock_movements ORDER BY id`)
		if err != nil {
			return err
		}
		movements, err = collectMovements(rows)
		return err
	})
	return records, movements, err
}

func (t *txRepo) GetRecordForUpdate(ctx context.Context, id int64) (Record, error) {
	return scanRecord(t.tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM inventory_records WHERE id=$1 FOR UPDATE`, id))
}

func (t *txRepo) FindRecordForUpdate(ctx context.Context, materialID int64, location string) (Record, error) {
	return scanRecord(t.tx.QueryRow(ctx, `SELECT `+recordColumns+` FROM inventory_records WHERE material_id=$1 AND location=$2 FOR UPDATE`, materialID, location))
}

func (t *txRepo) EnsureRecordForUpdate(ctx context.Context, materialID int64, location string, threshold int64) (Record, error) {
	_, err := t.tx.Exec(ctx, `INSERT INTO inventory_records (material_id, location, alert_threshold)
VALUES ($1, $2, $3)
ON CONFLICT (material_id, location) DO NOTHING`, materialID, location, threshold)
	if isForeignKeyViolation(err) {
		return Record{}, ErrMaterialNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return t.FindRecordForUpdate(ctx, materialID, location)
}

func (t *txRepo) SaveRecord(ctx context.Context, rec Record) (Record, error) {
	if err := rec.Check(); err != nil {
		return Record{}, err
	}
	saved, err := scanRecord(t.tx.QueryRow(ctx, `UPDATE inventory_records
SET quantity=$2, locked_quantity=$3, version=version+1, updated_at=NOW()
WHERE id=$1
RETURNING `+recordColumns, rec.ID, rec.Quantity, rec.LockedQuantity))
	if err != nil {
		return Record{}, mapPgError(err)
	}
	return saved, nil
}

func (t *txRepo) InsertMovement(ctx context.Context, m Movement) error {
	var counter *int64
	if m.CounterInventoryID != 0 {
		counter = &m.CounterInventoryID
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO stock_movements
(movement_type, material_id, inventory_id, counter_inventory_id, location, to_location, quantity, operator_id, ref, remark)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		string(m.Type), m.MaterialID, m.InventoryID, counter, m.Location, m.ToLocation, m.Quantity, m.OperatorID, m.Ref, m.Remark)
	return mapPgError(err)
}

func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgUniqueViolation:
		if pgErr.TableName == "materials" {
			return ErrDuplicateMaterial
		}
	case pgCheckViolation:
		return fmt.Errorf("%w: %s", shared.ErrInvariantViolation, pgErr.ConstraintName)
	}
	return err
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}
