package fiscalyear

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns a Postgres-backed Repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) GetActive(ctx context.Context, tenantID uuid.UUID) (FinancialYear, error) {
	fy, err := r.scanYear(ctx, r.db, `SELECT id, tenant_id, name, start_date, end_date, closed, created_at, updated_at
FROM financial_years WHERE tenant_id=$1 AND is_active ORDER BY start_date DESC LIMIT 1`, tenantID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FinancialYear{}, ErrNoActiveYear
		}
		return FinancialYear{}, err
	}
	fy.Locks, err = r.loadLocks(ctx, r.db, fy.ID)
	return fy, err
}

func (r *repository) Get(ctx context.Context, tenantID, yearID uuid.UUID) (FinancialYear, error) {
	fy, err := r.scanYear(ctx, r.db, `SELECT id, tenant_id, name, start_date, end_date, closed, created_at, updated_at
FROM financial_years WHERE id=$1 AND tenant_id=$2`, yearID, tenantID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FinancialYear{}, ErrYearNotFound
		}
		return FinancialYear{}, err
	}
	fy.Locks, err = r.loadLocks(ctx, r.db, fy.ID)
	return fy, err
}

// AppendLock serializes on the year row so concurrent lock requests cannot
// both pass the overlap check.
func (r *repository) AppendLock(ctx context.Context, yearID uuid.UUID, lock LockedPeriod) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var closed bool
	if err := tx.QueryRow(ctx, `SELECT closed FROM financial_years WHERE id=$1 FOR UPDATE`, yearID).Scan(&closed); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrYearNotFound
		}
		return err
	}
	if closed {
		return ErrYearClosed
	}
	var overlapping int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM locked_periods
WHERE year_id=$1 AND from_date <= $3 AND to_date >= $2`, yearID, lock.From, lock.To).Scan(&overlapping); err != nil {
		return err
	}
	if overlapping > 0 {
		return ErrPeriodOverlap
	}
	if _, err := tx.Exec(ctx, `INSERT INTO locked_periods (id, year_id, from_date, to_date, reason, created_at)
VALUES ($1,$2,$3,$4,$5,$6)`, lock.ID, yearID, lock.From, lock.To, lock.Reason, lock.CreatedAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *repository) scanYear(ctx context.Context, q queryer, sql string, args ...any) (FinancialYear, error) {
	var fy FinancialYear
	err := q.QueryRow(ctx, sql, args...).
		Scan(&fy.ID, &fy.TenantID, &fy.Name, &fy.StartDate, &fy.EndDate, &fy.Closed, &fy.CreatedAt, &fy.UpdatedAt)
	return fy, err
}

func (r *repository) loadLocks(ctx context.Context, q queryer, yearID uuid.UUID) ([]LockedPeriod, error) {
	rows, err := q.Query(ctx, `SELECT id, from_date, to_date, reason, created_at
FROM locked_periods WHERE year_id=$1 ORDER BY from_date ASC`, yearID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var locks []LockedPeriod
	for rows.Next() {
		var lp LockedPeriod
		var from, to time.Time
		if err := rows.Scan(&lp.ID, &from, &to, &lp.Reason, &lp.CreatedAt); err != nil {
			return nil, err
		}
		lp.From = day(from)
		lp.To = day(to)
		locks = append(locks, lp)
	}
	return locks, rows.Err()
}
