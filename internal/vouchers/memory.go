package vouchers

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/saral-erp/saral-erp/internal/coa"
	"github.com/saral-erp/saral-erp/internal/events"
	"github.com/saral-erp/saral-erp/internal/fiscalyear"
	"github.com/saral-erp/saral-erp/internal/money"
)

type counterKey struct {
	tenant uuid.UUID
	year   uuid.UUID
	vt     VoucherType
}

type linkKey struct {
	tenant uuid.UUID
	module string
	source uuid.UUID
}

// MemoryRepository is an in-process Repository for tests and embedded
// setups. WithTx stages every mutation and applies it only when the closure
// succeeds, matching the all-or-nothing discipline of the Postgres
// implementation: a failed posting consumes no number and moves no balance.
// One mutex serializes transactions, which is the coarsest correct
// realization of the row-lock model.
type MemoryRepository struct {
	mu       sync.Mutex
	vouchers map[uuid.UUID]Voucher
	counters map[counterKey]int64
	links    map[linkKey]uuid.UUID
	years    *fiscalyear.MemoryRepository
	ledgers  *coa.MemoryRepository
	outbox   *events.MemoryOutbox
}

func NewMemoryRepository(years *fiscalyear.MemoryRepository, ledgers *coa.MemoryRepository, outbox *events.MemoryOutbox) *MemoryRepository {
	return &MemoryRepository{
		vouchers: make(map[uuid.UUID]Voucher),
		counters: make(map[counterKey]int64),
		links:    make(map[linkKey]uuid.UUID),
		years:    years,
		ledgers:  ledgers,
		outbox:   outbox,
	}
}

func cloneVoucher(v Voucher) Voucher {
	v.Lines = append([]Line(nil), v.Lines...)
	if v.ReversalOfID != nil {
		id := *v.ReversalOfID
		v.ReversalOfID = &id
	}
	if v.ReversedByID != nil {
		id := *v.ReversedByID
		v.ReversedByID = &id
	}
	if v.PostedAt != nil {
		t := *v.PostedAt
		v.PostedAt = &t
	}
	return v
}

func (r *MemoryRepository) Get(ctx context.Context, tenantID, voucherID uuid.UUID) (Voucher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.vouchers[voucherID]
	if !ok || v.TenantID != tenantID {
		return Voucher{}, ErrVoucherNotFound
	}
	return cloneVoucher(v), nil
}

func (r *MemoryRepository) List(ctx context.Context, tenantID uuid.UUID, f ListFilter) ([]Voucher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Voucher
	for _, v := range r.vouchers {
		if v.TenantID != tenantID {
			continue
		}
		if f.FiscalYearID != nil && v.FiscalYearID != *f.FiscalYearID {
			continue
		}
		if f.Type != nil && v.Type != *f.Type {
			continue
		}
		if f.Status != nil && v.Status != *f.Status {
			continue
		}
		out = append(out, cloneVoucher(v))
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (r *MemoryRepository) ListPosted(ctx context.Context, tenantID uuid.UUID, through time.Time) ([]Voucher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Voucher
	for _, v := range r.vouchers {
		if v.TenantID != tenantID {
			continue
		}
		if v.Status != StatusPosted && v.Status != StatusReversed {
			continue
		}
		if v.Date.After(through) {
			continue
		}
		out = append(out, cloneVoucher(v))
	}
	return out, nil
}

func (r *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &memTx{
		repo:     r,
		vouchers: make(map[uuid.UUID]Voucher),
		counters: make(map[counterKey]int64),
		balances: make(map[uuid.UUID]money.Money),
		links:    make(map[linkKey]uuid.UUID),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

type memTx struct {
	repo     *MemoryRepository
	vouchers map[uuid.UUID]Voucher
	counters map[counterKey]int64
	balances map[uuid.UUID]money.Money
	links    map[linkKey]uuid.UUID
	outbox   []events.Record
}

func (t *memTx) commit() error {
	for id, v := range t.vouchers {
		t.repo.vouchers[id] = cloneVoucher(v)
	}
	for key, n := range t.counters {
		t.repo.counters[key] = n
	}
	for key, id := range t.links {
		t.repo.links[key] = id
	}
	for id, balance := range t.balances {
		if err := t.repo.ledgers.SetBalance(id, balance); err != nil {
			return err
		}
	}
	for _, rec := range t.outbox {
		t.repo.outbox.Append(rec)
	}
	return nil
}

func (t *memTx) InsertVoucher(ctx context.Context, v Voucher) error {
	t.vouchers[v.ID] = cloneVoucher(v)
	return nil
}

func (t *memTx) UpdateVoucherHeader(ctx context.Context, v Voucher) error {
	current, err := t.loadVoucher(v.TenantID, v.ID)
	if err != nil {
		return err
	}
	lines := current.Lines
	updated := cloneVoucher(v)
	updated.Lines = lines
	t.vouchers[v.ID] = updated
	return nil
}

func (t *memTx) ReplaceLines(ctx context.Context, voucherID uuid.UUID, lines []Line) error {
	for id, v := range t.vouchers {
		if id == voucherID {
			v.Lines = append([]Line(nil), lines...)
			t.vouchers[id] = v
			return nil
		}
	}
	v, ok := t.repo.vouchers[voucherID]
	if !ok {
		return ErrVoucherNotFound
	}
	v = cloneVoucher(v)
	v.Lines = append([]Line(nil), lines...)
	t.vouchers[voucherID] = v
	return nil
}

func (t *memTx) loadVoucher(tenantID, voucherID uuid.UUID) (Voucher, error) {
	if v, ok := t.vouchers[voucherID]; ok {
		if v.TenantID != tenantID {
			return Voucher{}, ErrVoucherNotFound
		}
		return v, nil
	}
	v, ok := t.repo.vouchers[voucherID]
	if !ok || v.TenantID != tenantID {
		return Voucher{}, ErrVoucherNotFound
	}
	return v, nil
}

func (t *memTx) GetVoucherForUpdate(ctx context.Context, tenantID, voucherID uuid.UUID) (Voucher, error) {
	v, err := t.loadVoucher(tenantID, voucherID)
	if err != nil {
		return Voucher{}, err
	}
	return cloneVoucher(v), nil
}

func (t *memTx) NextVoucherNumber(ctx context.Context, tenantID, fiscalYearID uuid.UUID, vt VoucherType) (int64, error) {
	key := counterKey{tenant: tenantID, year: fiscalYearID, vt: vt}
	current, ok := t.counters[key]
	if !ok {
		current = t.repo.counters[key]
	}
	current++
	t.counters[key] = current
	return current, nil
}

func (t *memTx) GetLedgerForUpdate(ctx context.Context, tenantID, ledgerID uuid.UUID) (coa.Ledger, error) {
	l, err := t.repo.ledgers.GetLedger(ctx, tenantID, ledgerID)
	if err != nil {
		return coa.Ledger{}, err
	}
	if staged, ok := t.balances[ledgerID]; ok {
		l.Balance = staged
	}
	return l, nil
}

func (t *memTx) SetLedgerBalance(ctx context.Context, ledgerID uuid.UUID, balance money.Money) error {
	t.balances[ledgerID] = balance
	return nil
}

// GetYearForShare reads the year as of now, so a lock appended after the
// draft was validated is visible to the posting.
func (t *memTx) GetYearForShare(ctx context.Context, tenantID, yearID uuid.UUID) (fiscalyear.FinancialYear, error) {
	return t.repo.years.Get(ctx, tenantID, yearID)
}

func (t *memTx) LinkSource(ctx context.Context, tenantID uuid.UUID, module string, sourceID, voucherID uuid.UUID) error {
	key := linkKey{tenant: tenantID, module: module, source: sourceID}
	if _, ok := t.links[key]; ok {
		return ErrSourceAlreadyLinked
	}
	if _, ok := t.repo.links[key]; ok {
		return ErrSourceAlreadyLinked
	}
	t.links[key] = voucherID
	return nil
}

func (t *memTx) InsertOutbox(ctx context.Context, rec events.Record) error {
	t.outbox = append(t.outbox, rec)
	return nil
}
