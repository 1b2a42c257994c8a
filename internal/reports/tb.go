package reports

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/saral-erp/saral-erp/internal/coa"
	"github.com/saral-erp/saral-erp/internal/money"
	"github.com/saral-erp/saral-erp/internal/vouchers"
)

var (
	// ErrTrialBalanceMismatch indicates total debits != total credits. An
	// upstream invariant was violated; the mismatch is surfaced, never
	// corrected.
	ErrTrialBalanceMismatch = errors.New("reports: trial balance mismatch")
	// ErrBalanceDrift indicates a stored ledger balance disagrees with
	// recomputation from posted history.
	ErrBalanceDrift = errors.New("reports: ledger balance drift")
)

// LedgerSource lists ledgers for a tenant. Satisfied by coa.Service.
type LedgerSource interface {
	ListLedgers(ctx context.Context, tenantID uuid.UUID) ([]coa.Ledger, error)
}

// VoucherSource lists vouchers whose lines are part of ledger history.
// Satisfied by vouchers.Repository.
type VoucherSource interface {
	ListPosted(ctx context.Context, tenantID uuid.UUID, through time.Time) ([]vouchers.Voucher, error)
}

// Row is one ledger's closing position as of the report date.
type Row struct {
	LedgerID uuid.UUID
	Name     string
	Nature   coa.Nature
	Debit    money.Money
	Credit   money.Money
}

// TrialBalance is the aggregate debit/credit check across all ledgers.
type TrialBalance struct {
	AsOf        time.Time
	Rows        []Row
	DebitTotal  money.Money
	CreditTotal money.Money
}

// Reporter recomputes ledger positions from opening balances plus posted
// line history and asserts the fundamental accounting equation.
type Reporter struct {
	ledgers  LedgerSource
	vouchers VoucherSource
	cache    *Cache
	logger   *slog.Logger
}

func NewReporter(ledgers LedgerSource, vouchers VoucherSource, logger *slog.Logger) *Reporter {
	return &Reporter{ledgers: ledgers, vouchers: vouchers, logger: logger}
}

// WithCache serves AsOf results from the versioned cache. Mismatch checks
// always run on the freshly computed value before it is cached.
func (r *Reporter) WithCache(c *Cache) {
	r.cache = c
}

// signedAsOf folds a ledger's history up to the date into the signed
// representation used everywhere: positive means the natural side.
func signedAsOf(l coa.Ledger, deltas []money.Money) (money.Money, error) {
	total := coa.SignedOpening(l.OpeningBalance, l.OpeningSide, l.Nature)
	var err error
	for _, d := range deltas {
		total, err = total.Add(d)
		if err != nil {
			return money.Money{}, err
		}
	}
	return total, nil
}

func (r *Reporter) recompute(ctx context.Context, tenantID uuid.UUID, through time.Time) (map[uuid.UUID]money.Money, []coa.Ledger, error) {
	ledgers, err := r.ledgers.ListLedgers(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}
	posted, err := r.vouchers.ListPosted(ctx, tenantID, through)
	if err != nil {
		return nil, nil, err
	}
	deltas := make(map[uuid.UUID][]money.Money)
	nature := make(map[uuid.UUID]coa.Nature, len(ledgers))
	for _, l := range ledgers {
		nature[l.ID] = l.Nature
	}
	for _, v := range posted {
		for _, line := range v.Lines {
			n, ok := nature[line.LedgerID]
			if !ok {
				return nil, nil, fmt.Errorf("%w: posted line references unknown ledger %s", ErrBalanceDrift, line.LedgerID)
			}
			deltas[line.LedgerID] = append(deltas[line.LedgerID], vouchers.Delta(line.Side, line.Amount, n))
		}
	}
	balances := make(map[uuid.UUID]money.Money, len(ledgers))
	for _, l := range ledgers {
		signed, err := signedAsOf(l, deltas[l.ID])
		if err != nil {
			return nil, nil, err
		}
		balances[l.ID] = signed
	}
	return balances, ledgers, nil
}

// AsOf sums every ledger's closing balance as of the date into debit-side
// and credit-side totals. A mismatch is a fatal internal-consistency error.
func (r *Reporter) AsOf(ctx context.Context, tenantID uuid.UUID, date time.Time) (TrialBalance, error) {
	if r.cache == nil {
		return r.compute(ctx, tenantID, date)
	}
	key, err := r.cache.BuildKey(ctx, keyTrialBalance(tenantID, date))
	if err != nil {
		return TrialBalance{}, err
	}
	var tb TrialBalance
	err = r.cache.FetchJSON(ctx, key, &tb, func(ctx context.Context) (interface{}, error) {
		return r.compute(ctx, tenantID, date)
	})
	return tb, err
}

func (r *Reporter) compute(ctx context.Context, tenantID uuid.UUID, date time.Time) (TrialBalance, error) {
	balances, ledgers, err := r.recompute(ctx, tenantID, date)
	if err != nil {
		return TrialBalance{}, err
	}
	tb := TrialBalance{AsOf: date}
	for _, l := range ledgers {
		signed := balances[l.ID]
		row := Row{LedgerID: l.ID, Name: l.Name, Nature: l.Nature}
		side := l.Nature.NormalSide()
		if signed.Sign() < 0 {
			side = side.Opposite()
		}
		if side == coa.Debit {
			row.Debit = signed.Abs()
			if tb.DebitTotal, err = tb.DebitTotal.Add(row.Debit); err != nil {
				return TrialBalance{}, err
			}
		} else {
			row.Credit = signed.Abs()
			if tb.CreditTotal, err = tb.CreditTotal.Add(row.Credit); err != nil {
				return TrialBalance{}, err
			}
		}
		tb.Rows = append(tb.Rows, row)
	}
	sort.Slice(tb.Rows, func(i, j int) bool { return tb.Rows[i].Name < tb.Rows[j].Name })
	if !tb.DebitTotal.Amount.Equal(tb.CreditTotal.Amount) {
		if r.logger != nil {
			r.logger.Error("trial balance mismatch",
				slog.String("tenant", tenantID.String()),
				slog.String("debit", tb.DebitTotal.StringFixed()),
				slog.String("credit", tb.CreditTotal.StringFixed()))
		}
		return tb, fmt.Errorf("%w: debit %s credit %s", ErrTrialBalanceMismatch, tb.DebitTotal.StringFixed(), tb.CreditTotal.StringFixed())
	}
	return tb, nil
}

// VerifyBalances checks every stored ledger balance against recomputation
// from full history. Drift means an upstream bug; it is reported, not
// repaired.
func (r *Reporter) VerifyBalances(ctx context.Context, tenantID uuid.UUID, now time.Time) error {
	balances, ledgers, err := r.recompute(ctx, tenantID, now)
	if err != nil {
		return err
	}
	var drifted []string
	for _, l := range ledgers {
		if !l.Balance.Amount.Equal(balances[l.ID].Amount) {
			drifted = append(drifted, fmt.Sprintf("%s stored=%s derived=%s", l.Name, l.Balance.StringFixed(), balances[l.ID].StringFixed()))
		}
	}
	if len(drifted) > 0 {
		if r.logger != nil {
			r.logger.Error("ledger balance drift", slog.Any("ledgers", drifted))
		}
		return fmt.Errorf("%w: %v", ErrBalanceDrift, drifted)
	}
	return nil
}
