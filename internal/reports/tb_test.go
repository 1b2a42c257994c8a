package reports

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saral-erp/saral-erp/internal/coa"
	"github.com/saral-erp/saral-erp/internal/events"
	"github.com/saral-erp/saral-erp/internal/fiscalyear"
	"github.com/saral-erp/saral-erp/internal/money"
	"github.com/saral-erp/saral-erp/internal/vouchers"
)

type fixture struct {
	reporter *Reporter
	svc      *vouchers.Service
	coaRepo  *coa.MemoryRepository
	coaSvc   *coa.Service
	tenantID uuid.UUID
	cash     coa.Ledger
	capital  coa.Ledger
	sales    coa.Ledger
	rent     coa.Ledger
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tenantID := uuid.New()

	yearRepo := fiscalyear.NewMemoryRepository()
	yearRepo.Put(fiscalyear.FinancialYear{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Name:      "FY 2025-26",
		StartDate: date(2025, time.April, 1),
		EndDate:   date(2026, time.March, 31),
	})
	years := fiscalyear.NewManager(yearRepo, nil)

	coaRepo := coa.NewMemoryRepository()
	coaSvc := coa.NewService(coaRepo, nil)
	mkGroup := func(name string, nature coa.Nature) coa.AccountGroup {
		g, err := coaSvc.CreateGroup(context.Background(), coa.CreateGroupInput{
			TenantID: tenantID, Name: name, Nature: nature,
		})
		require.NoError(t, err)
		return g
	}
	assets := mkGroup("Assets", coa.Asset)
	liabilities := mkGroup("Liabilities", coa.Liability)
	income := mkGroup("Income", coa.Income)
	expenses := mkGroup("Expenses", coa.Expense)

	mkLedger := func(name string, groupID uuid.UUID, opening string, side coa.Side) coa.Ledger {
		l, err := coaSvc.CreateLedger(context.Background(), coa.CreateLedgerInput{
			TenantID:    tenantID,
			Name:        name,
			GroupID:     groupID,
			Opening:     money.MustNew(opening, "INR"),
			OpeningSide: side,
		})
		require.NoError(t, err)
		return l
	}
	// Balanced openings: 1000 debit against 1000 credit.
	cash := mkLedger("Cash", assets.ID, "1000.00", coa.Debit)
	capital := mkLedger("Capital", liabilities.ID, "1000.00", coa.Credit)
	sales := mkLedger("Sales", income.ID, "0.00", coa.Credit)
	rent := mkLedger("Rent", expenses.ID, "0.00", coa.Debit)

	voucherRepo := vouchers.NewMemoryRepository(yearRepo, coaRepo, events.NewMemoryOutbox())
	svc := vouchers.NewService(voucherRepo, years, coaSvc, nil, nil)

	return &fixture{
		reporter: NewReporter(coaSvc, voucherRepo, nil),
		svc:      svc,
		coaRepo:  coaRepo,
		coaSvc:   coaSvc,
		tenantID: tenantID,
		cash:     cash,
		capital:  capital,
		sales:    sales,
		rent:     rent,
	}
}

func (f *fixture) post(t *testing.T, day time.Time, debitID, creditID uuid.UUID, amount string) vouchers.Voucher {
	t.Helper()
	v, err := f.svc.Create(context.Background(), vouchers.CreateInput{
		TenantID:        f.tenantID,
		Type:            vouchers.TypeJournal,
		Date:            day,
		Narration:       "test posting",
		PostImmediately: true,
		Lines: []vouchers.LineInput{
			{LedgerID: debitID, Side: coa.Debit, Amount: money.MustNew(amount, "INR")},
			{LedgerID: creditID, Side: coa.Credit, Amount: money.MustNew(amount, "INR")},
		},
	})
	require.NoError(t, err)
	return v
}

func rowByName(tb TrialBalance, name string) Row {
	for _, row := range tb.Rows {
		if row.Name == name {
			return row
		}
	}
	return Row{}
}

func TestTrialBalanceBalancesAfterPostings(t *testing.T) {
	f := newFixture(t)
	f.post(t, date(2025, time.May, 10), f.cash.ID, f.sales.ID, "400.00")
	f.post(t, date(2025, time.May, 20), f.rent.ID, f.cash.ID, "150.00")

	tb, err := f.reporter.AsOf(context.Background(), f.tenantID, date(2025, time.May, 31))
	require.NoError(t, err)

	assert.True(t, tb.DebitTotal.Equal(tb.CreditTotal))
	assert.Equal(t, "1400.00", tb.DebitTotal.StringFixed())

	assert.Equal(t, "1250.00", rowByName(tb, "Cash").Debit.StringFixed())
	assert.Equal(t, "1000.00", rowByName(tb, "Capital").Credit.StringFixed())
	assert.Equal(t, "400.00", rowByName(tb, "Sales").Credit.StringFixed())
	assert.Equal(t, "150.00", rowByName(tb, "Rent").Debit.StringFixed())

	// Rows come back sorted by ledger name.
	for i := 1; i < len(tb.Rows); i++ {
		assert.LessOrEqual(t, tb.Rows[i-1].Name, tb.Rows[i].Name)
	}
}

func TestTrialBalanceHonorsAsOfDate(t *testing.T) {
	f := newFixture(t)
	f.post(t, date(2025, time.May, 10), f.cash.ID, f.sales.ID, "400.00")
	f.post(t, date(2025, time.July, 10), f.cash.ID, f.sales.ID, "600.00")

	tb, err := f.reporter.AsOf(context.Background(), f.tenantID, date(2025, time.June, 30))
	require.NoError(t, err)
	assert.Equal(t, "400.00", rowByName(tb, "Sales").Credit.StringFixed())

	tb, err = f.reporter.AsOf(context.Background(), f.tenantID, date(2025, time.July, 31))
	require.NoError(t, err)
	assert.Equal(t, "1000.00", rowByName(tb, "Sales").Credit.StringFixed())
}

func TestNegativeSignedBalanceLandsOnOppositeColumn(t *testing.T) {
	f := newFixture(t)
	// Credit cash for more than it holds: the asset swings to the credit side.
	f.post(t, date(2025, time.May, 10), f.rent.ID, f.cash.ID, "1200.00")

	tb, err := f.reporter.AsOf(context.Background(), f.tenantID, date(2025, time.May, 31))
	require.NoError(t, err)

	row := rowByName(tb, "Cash")
	assert.True(t, row.Debit.IsZero())
	assert.Equal(t, "200.00", row.Credit.StringFixed())
	assert.True(t, tb.DebitTotal.Equal(tb.CreditTotal))
}

func TestReversalNetsToOpeningPosition(t *testing.T) {
	f := newFixture(t)
	v := f.post(t, date(2025, time.May, 10), f.cash.ID, f.sales.ID, "400.00")

	_, err := f.svc.Reverse(context.Background(), vouchers.ReverseInput{
		TenantID:     f.tenantID,
		VoucherID:    v.ID,
		ReversalDate: date(2025, time.May, 15),
		Reason:       "entered twice",
	})
	require.NoError(t, err)

	tb, err := f.reporter.AsOf(context.Background(), f.tenantID, date(2025, time.May, 31))
	require.NoError(t, err)
	assert.Equal(t, "1000.00", rowByName(tb, "Cash").Debit.StringFixed())
	assert.True(t, rowByName(tb, "Sales").Credit.IsZero())
	assert.True(t, tb.DebitTotal.Equal(tb.CreditTotal))
}

func TestVerifyBalancesDetectsDrift(t *testing.T) {
	f := newFixture(t)
	f.post(t, date(2025, time.May, 10), f.cash.ID, f.sales.ID, "400.00")

	now := date(2025, time.May, 31)
	require.NoError(t, f.reporter.VerifyBalances(context.Background(), f.tenantID, now))

	// Corrupt the stored projection behind the posting path's back.
	require.NoError(t, f.coaRepo.SetBalance(f.cash.ID, money.MustNew("9999.00", "INR")))
	err := f.reporter.VerifyBalances(context.Background(), f.tenantID, now)
	require.ErrorIs(t, err, ErrBalanceDrift)
}

func TestMismatchedOpeningsSurfaceAsError(t *testing.T) {
	f := newFixture(t)
	// A lone extra debit opening breaks the equation.
	_, err := f.coaSvc.CreateLedger(context.Background(), coa.CreateLedgerInput{
		TenantID:    f.tenantID,
		Name:        "Orphan",
		GroupID:     f.cash.GroupID,
		Opening:     money.MustNew("50.00", "INR"),
		OpeningSide: coa.Debit,
	})
	require.NoError(t, err)

	_, err = f.reporter.AsOf(context.Background(), f.tenantID, date(2025, time.May, 31))
	require.ErrorIs(t, err, ErrTrialBalanceMismatch)
}
