package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saral-erp/saral-erp/internal/coa"
	"github.com/saral-erp/saral-erp/internal/events"
	"github.com/saral-erp/saral-erp/internal/fiscalyear"
	"github.com/saral-erp/saral-erp/internal/money"
	"github.com/saral-erp/saral-erp/internal/reports"
	"github.com/saral-erp/saral-erp/internal/vouchers"
)

type captureSink struct {
	events []events.VoucherPosted
	err    error
}

func (s *captureSink) Deliver(ctx context.Context, evt events.VoucherPosted) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, evt)
	return nil
}

func TestVoucherPostedHandlerDeliversToSink(t *testing.T) {
	sink := &captureSink{}
	h := NewVoucherPostedHandler(sink, nil, nil)

	evt := events.VoucherPosted{
		VoucherID:     uuid.New(),
		TenantID:      uuid.New(),
		VoucherType:   "JOURNAL",
		VoucherNumber: 7,
		TotalAmount:   "500.00",
		Currency:      "INR",
	}
	payload, err := json.Marshal(evt)
	require.NoError(t, err)

	err = h.Handle(context.Background(), asynq.NewTask(events.TaskTypeVoucherPosted, payload))
	require.NoError(t, err)
	require.Len(t, sink.events, 1)
	assert.Equal(t, evt.VoucherID, sink.events[0].VoucherID)
	assert.Equal(t, int64(7), sink.events[0].VoucherNumber)
}

func TestVoucherPostedHandlerDropsMalformedPayload(t *testing.T) {
	sink := &captureSink{}
	h := NewVoucherPostedHandler(sink, nil, nil)

	err := h.Handle(context.Background(), asynq.NewTask(events.TaskTypeVoucherPosted, []byte("{not json")))
	require.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, sink.events)
}

func TestVoucherPostedHandlerPropagatesSinkError(t *testing.T) {
	sinkErr := errors.New("downstream unavailable")
	h := NewVoucherPostedHandler(&captureSink{err: sinkErr}, nil, nil)

	payload, err := json.Marshal(events.VoucherPosted{VoucherID: uuid.New()})
	require.NoError(t, err)
	err = h.Handle(context.Background(), asynq.NewTask(events.TaskTypeVoucherPosted, payload))
	require.ErrorIs(t, err, sinkErr)
}

func seedBalancedTenant(t *testing.T, coaRepo *coa.MemoryRepository) uuid.UUID {
	t.Helper()
	tenantID := uuid.New()
	svc := coa.NewService(coaRepo, nil)
	assets, err := svc.CreateGroup(context.Background(), coa.CreateGroupInput{
		TenantID: tenantID, Name: "Assets", Nature: coa.Asset,
	})
	require.NoError(t, err)
	liabilities, err := svc.CreateGroup(context.Background(), coa.CreateGroupInput{
		TenantID: tenantID, Name: "Liabilities", Nature: coa.Liability,
	})
	require.NoError(t, err)
	_, err = svc.CreateLedger(context.Background(), coa.CreateLedgerInput{
		TenantID: tenantID, Name: "Cash", GroupID: assets.ID,
		Opening: money.MustNew("100.00", "INR"), OpeningSide: coa.Debit,
	})
	require.NoError(t, err)
	_, err = svc.CreateLedger(context.Background(), coa.CreateLedgerInput{
		TenantID: tenantID, Name: "Capital", GroupID: liabilities.ID,
		Opening: money.MustNew("100.00", "INR"), OpeningSide: coa.Credit,
	})
	require.NoError(t, err)
	return tenantID
}

func TestTrialBalanceIntegrityJob(t *testing.T) {
	coaRepo := coa.NewMemoryRepository()
	tenantID := seedBalancedTenant(t, coaRepo)

	voucherRepo := vouchers.NewMemoryRepository(fiscalyear.NewMemoryRepository(), coaRepo, events.NewMemoryOutbox())
	reporter := reports.NewReporter(coa.NewService(coaRepo, nil), voucherRepo, nil)
	job := NewTrialBalanceIntegrityJob(reporter, coaRepo, nil, nil)
	job.now = func() time.Time { return time.Date(2025, time.June, 30, 0, 0, 0, 0, time.UTC) }

	err := job.Handle(context.Background(), NewTrialBalanceIntegrityTask())
	require.NoError(t, err)

	// Corrupt one stored balance; the scan must fail on that tenant.
	ledgers, err := coaRepo.ListLedgers(context.Background(), tenantID)
	require.NoError(t, err)
	require.NotEmpty(t, ledgers)
	require.NoError(t, coaRepo.SetBalance(ledgers[0].ID, money.MustNew("42.00", "INR")))

	err = job.Handle(context.Background(), NewTrialBalanceIntegrityTask())
	require.Error(t, err)
	assert.ErrorIs(t, err, reports.ErrBalanceDrift)
}
