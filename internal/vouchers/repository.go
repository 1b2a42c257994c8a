package vouchers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/saral-erp/saral-erp/internal/coa"
	"github.com/saral-erp/saral-erp/internal/events"
	"github.com/saral-erp/saral-erp/internal/fiscalyear"
	"github.com/saral-erp/saral-erp/internal/money"
	"github.com/saral-erp/saral-erp/internal/shared"
)

// ListFilter narrows List results.
type ListFilter struct {
	FiscalYearID *uuid.UUID
	Type         *VoucherType
	Status       *VoucherStatus
	Limit        int
}

// Repository encapsulates voucher persistence. Posting flows run inside
// WithTx; everything a posting touches (number counter, ledger balances,
// outbox) is reachable from TxRepository so the whole unit commits or rolls
// back together.
type Repository interface {
	Get(ctx context.Context, tenantID, voucherID uuid.UUID) (Voucher, error)
	List(ctx context.Context, tenantID uuid.UUID, f ListFilter) ([]Voucher, error)
	// ListPosted returns vouchers whose lines are part of ledger history:
	// Posted and Reversed both count, since a reversed voucher's effect
	// stands and is offset by its reversal voucher.
	ListPosted(ctx context.Context, tenantID uuid.UUID, through time.Time) ([]Voucher, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the operations available inside a posting transaction.
type TxRepository interface {
	InsertVoucher(ctx context.Context, v Voucher) error
	UpdateVoucherHeader(ctx context.Context, v Voucher) error
	ReplaceLines(ctx context.Context, voucherID uuid.UUID, lines []Line) error
	GetVoucherForUpdate(ctx context.Context, tenantID, voucherID uuid.UUID) (Voucher, error)

	// NextVoucherNumber increments the per (tenant, fiscal year, type)
	// counter and returns the new value. The counter row is the single
	// serialization point for a sequence; an aborted transaction rolls
	// the increment back.
	NextVoucherNumber(ctx context.Context, tenantID, fiscalYearID uuid.UUID, vt VoucherType) (int64, error)

	// Ledger operations needed within posting transactions; row queries
	// duplicate the coa repository because they must run on this tx.
	GetLedgerForUpdate(ctx context.Context, tenantID, ledgerID uuid.UUID) (coa.Ledger, error)
	SetLedgerBalance(ctx context.Context, ledgerID uuid.UUID, balance money.Money) error

	// GetYearForShare re-reads the fiscal year and its locks on this tx,
	// share-locking the year row. AppendLock takes the same row FOR UPDATE,
	// so a lock landing concurrently either commits before the posting sees
	// the year (and the date check fails) or waits until the posting commits.
	GetYearForShare(ctx context.Context, tenantID, yearID uuid.UUID) (fiscalyear.FinancialYear, error)

	LinkSource(ctx context.Context, tenantID uuid.UUID, module string, sourceID, voucherID uuid.UUID) error
	InsertOutbox(ctx context.Context, rec events.Record) error
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns a Postgres-backed Repository.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const voucherColumns = `id, tenant_id, fiscal_year_id, type, number, date, reference, narration, source_module, source_id, status, reversal_of_id, reversed_by_id, posted_at, created_at, updated_at`

func scanVoucher(row pgx.Row) (Voucher, error) {
	var v Voucher
	err := row.Scan(&v.ID, &v.TenantID, &v.FiscalYearID, &v.Type, &v.Number, &v.Date,
		&v.Reference, &v.Narration, &v.SourceModule, &v.SourceID, &v.Status,
		&v.ReversalOfID, &v.ReversedByID, &v.PostedAt, &v.CreatedAt, &v.UpdatedAt)
	return v, err
}

func (r *repository) Get(ctx context.Context, tenantID, voucherID uuid.UUID) (Voucher, error) {
	v, err := scanVoucher(r.db.QueryRow(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE id=$1 AND tenant_id=$2`, voucherID, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Voucher{}, ErrVoucherNotFound
		}
		return Voucher{}, err
	}
	v.Lines, err = loadLines(ctx, r.db, v.ID)
	return v, err
}

func (r *repository) List(ctx context.Context, tenantID uuid.UUID, f ListFilter) ([]Voucher, error) {
	sql := `SELECT ` + voucherColumns + ` FROM vouchers WHERE tenant_id=$1`
	args := []any{tenantID}
	if f.FiscalYearID != nil {
		args = append(args, *f.FiscalYearID)
		sql += fmt.Sprintf(` AND fiscal_year_id=$%d`, len(args))
	}
	if f.Type != nil {
		args = append(args, *f.Type)
		sql += fmt.Sprintf(` AND type=$%d`, len(args))
	}
	if f.Status != nil {
		args = append(args, *f.Status)
		sql += fmt.Sprintf(` AND status=$%d`, len(args))
	}
	sql += ` ORDER BY date DESC, number DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Voucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Lines, err = loadLines(ctx, r.db, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *repository) ListPosted(ctx context.Context, tenantID uuid.UUID, through time.Time) ([]Voucher, error) {
	rows, err := r.db.Query(ctx, `SELECT `+voucherColumns+` FROM vouchers
WHERE tenant_id=$1 AND status IN ('POSTED','REVERSED') AND date <= $2 ORDER BY date ASC, number ASC`, tenantID, through)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Voucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Lines, err = loadLines(ctx, r.db, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return mapConflict(err)
	}
	return mapConflict(tx.Commit(ctx))
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) InsertVoucher(ctx context.Context, v Voucher) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO vouchers (`+voucherColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		v.ID, v.TenantID, v.FiscalYearID, v.Type, v.Number, v.Date,
		v.Reference, v.Narration, v.SourceModule, v.SourceID, v.Status,
		v.ReversalOfID, v.ReversedByID, v.PostedAt, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return err
	}
	return insertLines(ctx, r.tx, v.ID, v.Lines)
}

func (r *txRepository) UpdateVoucherHeader(ctx context.Context, v Voucher) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE vouchers SET number=$3, date=$4, reference=$5, narration=$6, status=$7,
reversal_of_id=$8, reversed_by_id=$9, posted_at=$10, updated_at=$11
WHERE id=$1 AND tenant_id=$2`,
		v.ID, v.TenantID, v.Number, v.Date, v.Reference, v.Narration, v.Status,
		v.ReversalOfID, v.ReversedByID, v.PostedAt, v.UpdatedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrVoucherNotFound
	}
	return nil
}

func (r *txRepository) ReplaceLines(ctx context.Context, voucherID uuid.UUID, lines []Line) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM voucher_lines WHERE voucher_id=$1`, voucherID); err != nil {
		return err
	}
	return insertLines(ctx, r.tx, voucherID, lines)
}

func (r *txRepository) GetVoucherForUpdate(ctx context.Context, tenantID, voucherID uuid.UUID) (Voucher, error) {
	v, err := scanVoucher(r.tx.QueryRow(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE id=$1 AND tenant_id=$2 FOR UPDATE`, voucherID, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Voucher{}, ErrVoucherNotFound
		}
		return Voucher{}, err
	}
	v.Lines, err = loadLines(ctx, r.tx, v.ID)
	return v, err
}

func (r *txRepository) NextVoucherNumber(ctx context.Context, tenantID, fiscalYearID uuid.UUID, vt VoucherType) (int64, error) {
	var number int64
	err := r.tx.QueryRow(ctx, `INSERT INTO voucher_counters (tenant_id, fiscal_year_id, voucher_type, last_number)
VALUES ($1,$2,$3,1)
ON CONFLICT (tenant_id, fiscal_year_id, voucher_type)
DO UPDATE SET last_number = voucher_counters.last_number + 1
RETURNING last_number`, tenantID, fiscalYearID, vt).Scan(&number)
	return number, err
}

// GetLedgerForUpdate locks the ledger row for the remainder of the posting
// transaction. Scan logic mirrors the coa repository but must run here on
// the open tx.
func (r *txRepository) GetLedgerForUpdate(ctx context.Context, tenantID, ledgerID uuid.UUID) (coa.Ledger, error) {
	var l coa.Ledger
	var opening, balance, currency string
	err := r.tx.QueryRow(ctx, `SELECT id, tenant_id, name, group_id, nature, opening_amount::text, opening_side, balance::text, currency, is_active, created_at, updated_at
FROM ledgers WHERE id=$1 AND tenant_id=$2 FOR UPDATE`, ledgerID, tenantID).
		Scan(&l.ID, &l.TenantID, &l.Name, &l.GroupID, &l.Nature,
			&opening, &l.OpeningSide, &balance, &currency, &l.Active, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return coa.Ledger{}, coa.ErrLedgerNotFound
		}
		return coa.Ledger{}, err
	}
	openingDec, err := decimal.NewFromString(opening)
	if err != nil {
		return coa.Ledger{}, err
	}
	balanceDec, err := decimal.NewFromString(balance)
	if err != nil {
		return coa.Ledger{}, err
	}
	l.OpeningBalance = money.Money{Amount: openingDec, Currency: currency}
	l.Balance = money.Money{Amount: balanceDec, Currency: currency}
	return l, nil
}

func (r *txRepository) SetLedgerBalance(ctx context.Context, ledgerID uuid.UUID, balance money.Money) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE ledgers SET balance=$2, currency=$3, updated_at=NOW() WHERE id=$1`,
		ledgerID, balance.Amount.String(), balance.Currency)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return coa.ErrLedgerNotFound
	}
	return nil
}

func (r *txRepository) GetYearForShare(ctx context.Context, tenantID, yearID uuid.UUID) (fiscalyear.FinancialYear, error) {
	var fy fiscalyear.FinancialYear
	err := r.tx.QueryRow(ctx, `SELECT id, tenant_id, name, start_date, end_date, closed, created_at, updated_at
FROM financial_years WHERE id=$1 AND tenant_id=$2 FOR SHARE`, yearID, tenantID).
		Scan(&fy.ID, &fy.TenantID, &fy.Name, &fy.StartDate, &fy.EndDate, &fy.Closed, &fy.CreatedAt, &fy.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fiscalyear.FinancialYear{}, fiscalyear.ErrYearNotFound
		}
		return fiscalyear.FinancialYear{}, err
	}
	rows, err := r.tx.Query(ctx, `SELECT id, from_date, to_date, reason, created_at
FROM locked_periods WHERE year_id=$1 ORDER BY from_date ASC`, fy.ID)
	if err != nil {
		return fiscalyear.FinancialYear{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var lp fiscalyear.LockedPeriod
		if err := rows.Scan(&lp.ID, &lp.From, &lp.To, &lp.Reason, &lp.CreatedAt); err != nil {
			return fiscalyear.FinancialYear{}, err
		}
		fy.Locks = append(fy.Locks, lp)
	}
	return fy, rows.Err()
}

func (r *txRepository) LinkSource(ctx context.Context, tenantID uuid.UUID, module string, sourceID, voucherID uuid.UUID) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO source_links (tenant_id, module, source_id, voucher_id) VALUES ($1,$2,$3,$4)`,
		tenantID, module, sourceID, voucherID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.ConstraintName == "uq_source_links" {
			return ErrSourceAlreadyLinked
		}
		return err
	}
	return nil
}

func (r *txRepository) InsertOutbox(ctx context.Context, rec events.Record) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO outbox (id, event_type, payload, created_at) VALUES ($1,$2,$3,$4)`,
		rec.ID, rec.EventType, rec.Payload, rec.CreatedAt)
	return err
}

type execQueryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func insertLines(ctx context.Context, q execQueryer, voucherID uuid.UUID, lines []Line) error {
	for _, line := range lines {
		if _, err := q.Exec(ctx, `INSERT INTO voucher_lines (id, voucher_id, ledger_id, line_no, side, amount, currency, particulars)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			line.ID, voucherID, line.LedgerID, line.LineNo, line.Side,
			line.Amount.Amount.String(), line.Amount.Currency, line.Particulars); err != nil {
			return err
		}
	}
	return nil
}

func loadLines(ctx context.Context, q execQueryer, voucherID uuid.UUID) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, voucher_id, ledger_id, line_no, side, amount::text, currency, particulars
FROM voucher_lines WHERE voucher_id=$1 ORDER BY line_no ASC`, voucherID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var line Line
		var amount, currency string
		if err := rows.Scan(&line.ID, &line.VoucherID, &line.LedgerID, &line.LineNo, &line.Side, &amount, &currency, &line.Particulars); err != nil {
			return nil, err
		}
		dec, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, err
		}
		line.Amount = money.Money{Amount: dec, Currency: currency}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// mapConflict translates Postgres serialization and deadlock failures into
// the retryable conflict sentinel.
func mapConflict(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return fmt.Errorf("%w: %s", shared.ErrConcurrencyConflict, pgErr.Message)
	}
	return err
}
