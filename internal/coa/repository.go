package coa

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/saral-erp/saral-erp/internal/money"
)

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns a Postgres-backed Repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

func (r *repository) InsertGroup(ctx context.Context, g AccountGroup) error {
	_, err := r.db.Exec(ctx, `INSERT INTO account_groups (id, tenant_id, name, name_folded, parent_id, nature, level, is_system, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		g.ID, g.TenantID, g.Name, FoldName(g.Name), g.ParentID, g.Nature, g.Level, g.System, g.Active, g.CreatedAt, g.UpdatedAt)
	if isUniqueViolation(err, "uq_account_groups_name") {
		return ErrDuplicateName
	}
	return err
}

func (r *repository) UpdateGroup(ctx context.Context, g AccountGroup) error {
	cmd, err := r.db.Exec(ctx, `UPDATE account_groups SET name=$3, name_folded=$4, parent_id=$5, level=$6, is_active=$7, updated_at=$8
WHERE id=$1 AND tenant_id=$2`,
		g.ID, g.TenantID, g.Name, FoldName(g.Name), g.ParentID, g.Level, g.Active, g.UpdatedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrGroupNotFound
	}
	return nil
}

func (r *repository) GetGroup(ctx context.Context, tenantID, groupID uuid.UUID) (AccountGroup, error) {
	var g AccountGroup
	err := r.db.QueryRow(ctx, `SELECT id, tenant_id, name, parent_id, nature, level, is_system, is_active, created_at, updated_at
FROM account_groups WHERE id=$1 AND tenant_id=$2`, groupID, tenantID).
		Scan(&g.ID, &g.TenantID, &g.Name, &g.ParentID, &g.Nature, &g.Level, &g.System, &g.Active, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AccountGroup{}, ErrGroupNotFound
		}
		return AccountGroup{}, err
	}
	return g, nil
}

func (r *repository) DeleteGroup(ctx context.Context, tenantID, groupID uuid.UUID) error {
	cmd, err := r.db.Exec(ctx, `DELETE FROM account_groups WHERE id=$1 AND tenant_id=$2`, groupID, tenantID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrGroupNotFound
	}
	return nil
}

func (r *repository) CountGroupChildren(ctx context.Context, tenantID, groupID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM account_groups WHERE tenant_id=$1 AND parent_id=$2`, tenantID, groupID).Scan(&n)
	return n, err
}

func (r *repository) CountGroupLedgers(ctx context.Context, tenantID, groupID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM ledgers WHERE tenant_id=$1 AND group_id=$2`, tenantID, groupID).Scan(&n)
	return n, err
}

// ShiftSubtreeLevels adjusts levels of every descendant after a reparent.
func (r *repository) ShiftSubtreeLevels(ctx context.Context, tenantID, rootID uuid.UUID, delta int) error {
	_, err := r.db.Exec(ctx, `WITH RECURSIVE subtree AS (
  SELECT id FROM account_groups WHERE tenant_id=$1 AND parent_id=$2
  UNION ALL
  SELECT g.id FROM account_groups g JOIN subtree s ON g.parent_id = s.id
)
UPDATE account_groups SET level = level + $3, updated_at = NOW()
WHERE id IN (SELECT id FROM subtree)`, tenantID, rootID, delta)
	return err
}

func (r *repository) GroupNameTaken(ctx context.Context, tenantID uuid.UUID, folded string) (bool, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM account_groups WHERE tenant_id=$1 AND name_folded=$2`, tenantID, folded).Scan(&n)
	return n > 0, err
}

func (r *repository) InsertLedger(ctx context.Context, l Ledger) error {
	_, err := r.db.Exec(ctx, `INSERT INTO ledgers (id, tenant_id, name, name_folded, group_id, nature, opening_amount, opening_side, balance, currency, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		l.ID, l.TenantID, l.Name, FoldName(l.Name), l.GroupID, l.Nature,
		l.OpeningBalance.Amount.String(), l.OpeningSide, l.Balance.Amount.String(), l.Balance.Currency,
		l.Active, l.CreatedAt, l.UpdatedAt)
	if isUniqueViolation(err, "uq_ledgers_name") {
		return ErrDuplicateName
	}
	return err
}

func (r *repository) UpdateLedger(ctx context.Context, l Ledger) error {
	cmd, err := r.db.Exec(ctx, `UPDATE ledgers SET name=$3, name_folded=$4, is_active=$5, updated_at=$6
WHERE id=$1 AND tenant_id=$2`,
		l.ID, l.TenantID, l.Name, FoldName(l.Name), l.Active, l.UpdatedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrLedgerNotFound
	}
	return nil
}

const ledgerColumns = `id, tenant_id, name, group_id, nature, opening_amount::text, opening_side, balance::text, currency, is_active, created_at, updated_at`

func scanLedger(row pgx.Row) (Ledger, error) {
	var l Ledger
	var opening, balance, currency string
	err := row.Scan(&l.ID, &l.TenantID, &l.Name, &l.GroupID, &l.Nature,
		&opening, &l.OpeningSide, &balance, &currency, &l.Active, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return Ledger{}, err
	}
	openingDec, err := decimal.NewFromString(opening)
	if err != nil {
		return Ledger{}, err
	}
	balanceDec, err := decimal.NewFromString(balance)
	if err != nil {
		return Ledger{}, err
	}
	l.OpeningBalance = money.Money{Amount: openingDec, Currency: currency}
	l.Balance = money.Money{Amount: balanceDec, Currency: currency}
	return l, nil
}

func (r *repository) GetLedger(ctx context.Context, tenantID, ledgerID uuid.UUID) (Ledger, error) {
	l, err := scanLedger(r.db.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM ledgers WHERE id=$1 AND tenant_id=$2`, ledgerID, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Ledger{}, ErrLedgerNotFound
		}
		return Ledger{}, err
	}
	return l, nil
}

func (r *repository) collectLedgers(rows pgx.Rows) ([]Ledger, error) {
	defer rows.Close()
	var out []Ledger
	for rows.Next() {
		l, err := scanLedger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *repository) ListLedgers(ctx context.Context, tenantID uuid.UUID) ([]Ledger, error) {
	rows, err := r.db.Query(ctx, `SELECT `+ledgerColumns+` FROM ledgers WHERE tenant_id=$1 ORDER BY name ASC`, tenantID)
	if err != nil {
		return nil, err
	}
	return r.collectLedgers(rows)
}

func (r *repository) ResolveLedgers(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]Ledger, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, `SELECT `+ledgerColumns+` FROM ledgers WHERE tenant_id=$1 AND id = ANY($2)`, tenantID, ids)
	if err != nil {
		return nil, err
	}
	return r.collectLedgers(rows)
}

func (r *repository) LedgerNameTaken(ctx context.Context, tenantID uuid.UUID, folded string) (bool, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM ledgers WHERE tenant_id=$1 AND name_folded=$2`, tenantID, folded).Scan(&n)
	return n > 0, err
}

func (r *repository) Tenants(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT tenant_id FROM ledgers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}
