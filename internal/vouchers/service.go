package vouchers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/saral-erp/saral-erp/internal/coa"
	"github.com/saral-erp/saral-erp/internal/events"
	"github.com/saral-erp/saral-erp/internal/fiscalyear"
	"github.com/saral-erp/saral-erp/internal/shared"
)

// AuditPort records audit trail entries for lifecycle transitions.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// YearSource resolves fiscal years. Satisfied by fiscalyear.Manager.
type YearSource interface {
	GetActive(ctx context.Context, tenantID uuid.UUID) (fiscalyear.FinancialYear, error)
	Get(ctx context.Context, tenantID, yearID uuid.UUID) (fiscalyear.FinancialYear, error)
}

// LedgerResolver batch-validates line targets. Satisfied by coa.Service.
type LedgerResolver interface {
	Resolve(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]coa.Ledger, []uuid.UUID, error)
}

// Service is the voucher state machine: it validates, creates, posts,
// reverses, and cancels vouchers. Post and Reverse run as single atomic
// units spanning number assignment, balance deltas, status transition, and
// outbox staging.
type Service struct {
	repo       Repository
	years      YearSource
	ledgers    LedgerResolver
	audit      AuditPort
	tracker    BalanceTracker
	logger     *slog.Logger
	validate   *validator.Validate
	now        func() time.Time
	retryLimit int
}

func NewService(repo Repository, years YearSource, ledgers LedgerResolver, audit AuditPort, logger *slog.Logger) *Service {
	return &Service{
		repo:       repo,
		years:      years,
		ledgers:    ledgers,
		audit:      audit,
		logger:     logger,
		validate:   validator.New(),
		now:        time.Now,
		retryLimit: 3,
	}
}

// WithNow overrides the clock, for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithRetryLimit bounds automatic retries on concurrency conflicts.
func (s *Service) WithRetryLimit(n int) {
	if n > 0 {
		s.retryLimit = n
	}
}

// Get loads a voucher with its lines.
func (s *Service) Get(ctx context.Context, tenantID, voucherID uuid.UUID) (Voucher, error) {
	return s.repo.Get(ctx, tenantID, voucherID)
}

// List returns vouchers matching the filter.
func (s *Service) List(ctx context.Context, tenantID uuid.UUID, f ListFilter) ([]Voucher, error) {
	return s.repo.List(ctx, tenantID, f)
}

// Create validates the draft and persists it; with PostImmediately the
// posting happens inside the same transaction, so a failed post leaves no
// voucher behind.
func (s *Service) Create(ctx context.Context, in CreateInput) (Voucher, error) {
	if err := s.structValidate(in); err != nil {
		return Voucher{}, err
	}
	if !in.Type.Valid() {
		return Voucher{}, &ValidationError{Violations: []string{fmt.Sprintf("unknown voucher type %q", in.Type)}}
	}
	fy, err := s.years.GetActive(ctx, in.TenantID)
	if err != nil {
		return Voucher{}, err
	}
	if err := s.checkDate(fy, in.Date); err != nil {
		return Voucher{}, err
	}
	draft := Voucher{
		ID:           uuid.New(),
		TenantID:     in.TenantID,
		FiscalYearID: fy.ID,
		Type:         in.Type,
		Date:         in.Date,
		Reference:    in.Reference,
		Narration:    in.Narration,
		SourceModule: in.SourceModule,
		SourceID:     in.SourceID,
		Status:       StatusDraft,
	}
	draft.Lines = buildLines(draft.ID, in.Lines)
	now := s.now()
	draft.CreatedAt = now
	draft.UpdatedAt = now
	if err := s.validateLines(ctx, in.TenantID, draft.Lines); err != nil {
		return Voucher{}, err
	}

	var out Voucher
	err = s.withRetry(ctx, func(ctx context.Context, tx TxRepository) error {
		v := draft
		if err := tx.InsertVoucher(ctx, v); err != nil {
			return err
		}
		if v.SourceModule != "" && v.SourceID != uuid.Nil {
			if err := tx.LinkSource(ctx, v.TenantID, v.SourceModule, v.SourceID, v.ID); err != nil {
				return err
			}
		}
		if in.PostImmediately {
			if err := s.postLocked(ctx, tx, &v); err != nil {
				return err
			}
		}
		out = v
		return nil
	})
	if err != nil {
		return Voucher{}, err
	}
	s.recordAudit(ctx, in.ActorID, out, "voucher.create", map[string]any{
		"type":   string(out.Type),
		"status": string(out.Status),
		"number": out.Number,
	})
	return out, nil
}

// Update replaces a draft's date, narration, reference, and lines. Drafts
// are freely mutable; everything past Draft is immutable.
func (s *Service) Update(ctx context.Context, in UpdateInput) (Voucher, error) {
	if err := s.structValidate(in); err != nil {
		return Voucher{}, err
	}
	if err := s.validateLines(ctx, in.TenantID, buildLines(in.VoucherID, in.Lines)); err != nil {
		return Voucher{}, err
	}
	var out Voucher
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		v, err := tx.GetVoucherForUpdate(ctx, in.TenantID, in.VoucherID)
		if err != nil {
			return err
		}
		if v.Status != StatusDraft {
			return ErrNotDraft
		}
		fy, err := s.years.Get(ctx, in.TenantID, v.FiscalYearID)
		if err != nil {
			return err
		}
		if err := s.checkDate(fy, in.Date); err != nil {
			return err
		}
		v.Date = in.Date
		v.Reference = in.Reference
		v.Narration = in.Narration
		v.Lines = buildLines(v.ID, in.Lines)
		v.UpdatedAt = s.now()
		if err := tx.UpdateVoucherHeader(ctx, v); err != nil {
			return err
		}
		if err := tx.ReplaceLines(ctx, v.ID, v.Lines); err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return Voucher{}, err
	}
	s.recordAudit(ctx, in.ActorID, out, "voucher.update", nil)
	return out, nil
}

// Post transitions a draft to Posted: assigns the voucher number, applies
// every line's delta to its ledger, and stages the VoucherPosted event, all
// in one transaction. Invariants are re-checked against stored state before
// anything mutates.
func (s *Service) Post(ctx context.Context, tenantID, voucherID, actorID uuid.UUID) (Voucher, error) {
	var out Voucher
	err := s.withRetry(ctx, func(ctx context.Context, tx TxRepository) error {
		v, err := tx.GetVoucherForUpdate(ctx, tenantID, voucherID)
		if err != nil {
			return err
		}
		switch v.Status {
		case StatusDraft:
		case StatusCancelled:
			return ErrNotDraft
		default:
			return ErrAlreadyPosted
		}
		if err := s.revalidateStored(v); err != nil {
			return err
		}
		if err := s.postLocked(ctx, tx, &v); err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return Voucher{}, err
	}
	s.recordAudit(ctx, actorID, out, "voucher.post", map[string]any{"number": out.Number})
	return out, nil
}

// Reverse posts a mirror voucher with every line's side flipped and marks
// the original Reversed, linking both records. The original is never
// rewritten beyond the status flip and the link.
func (s *Service) Reverse(ctx context.Context, in ReverseInput) (Voucher, error) {
	if err := s.structValidate(in); err != nil {
		return Voucher{}, err
	}
	fy, err := s.years.GetActive(ctx, in.TenantID)
	if err != nil {
		return Voucher{}, err
	}
	if err := s.checkDate(fy, in.ReversalDate); err != nil {
		return Voucher{}, err
	}
	var out Voucher
	err = s.withRetry(ctx, func(ctx context.Context, tx TxRepository) error {
		orig, err := tx.GetVoucherForUpdate(ctx, in.TenantID, in.VoucherID)
		if err != nil {
			return err
		}
		switch orig.Status {
		case StatusPosted:
		case StatusReversed:
			return ErrAlreadyReversed
		default:
			return ErrNotPosted
		}
		now := s.now()
		rev := Voucher{
			ID:           uuid.New(),
			TenantID:     orig.TenantID,
			FiscalYearID: fy.ID,
			Type:         orig.Type,
			Date:         in.ReversalDate,
			Reference:    orig.Reference,
			Narration:    reversalNarration(orig, in.Reason),
			Status:       StatusDraft,
			ReversalOfID: &orig.ID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		rev.Lines = flipLines(rev.ID, orig.Lines)
		if err := tx.InsertVoucher(ctx, rev); err != nil {
			return err
		}
		if err := s.postLocked(ctx, tx, &rev); err != nil {
			return err
		}
		orig.Status = StatusReversed
		orig.ReversedByID = &rev.ID
		orig.UpdatedAt = now
		if err := tx.UpdateVoucherHeader(ctx, orig); err != nil {
			return err
		}
		out = rev
		return nil
	})
	if err != nil {
		return Voucher{}, err
	}
	s.recordAudit(ctx, in.ActorID, out, "voucher.reverse", map[string]any{
		"reversal_of": in.VoucherID.String(),
		"reason":      in.Reason,
	})
	return out, nil
}

// Cancel tombstones a draft. Ledger balances were never touched, so nothing
// is unapplied.
func (s *Service) Cancel(ctx context.Context, tenantID, voucherID, actorID uuid.UUID) error {
	var out Voucher
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		v, err := tx.GetVoucherForUpdate(ctx, tenantID, voucherID)
		if err != nil {
			return err
		}
		if v.Status != StatusDraft {
			return ErrNotDraft
		}
		v.Status = StatusCancelled
		v.UpdatedAt = s.now()
		if err := tx.UpdateVoucherHeader(ctx, v); err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, out, "voucher.cancel", nil)
	return nil
}

// postLocked performs the posting steps on a loaded, validated voucher
// inside an open transaction. Mutates v on success. The year and its locks
// are re-read on this tx: a period lock committed after any pre-transaction
// check cannot slip a posting into the locked range.
func (s *Service) postLocked(ctx context.Context, tx TxRepository, v *Voucher) error {
	fy, err := tx.GetYearForShare(ctx, v.TenantID, v.FiscalYearID)
	if err != nil {
		return err
	}
	if err := s.checkDate(fy, v.Date); err != nil {
		return err
	}
	number, err := tx.NextVoucherNumber(ctx, v.TenantID, v.FiscalYearID, v.Type)
	if err != nil {
		return err
	}
	ledgers, err := s.tracker.ApplyPosting(ctx, tx, *v)
	if err != nil {
		return err
	}
	now := s.now()
	v.Number = number
	v.Status = StatusPosted
	v.PostedAt = &now
	v.UpdatedAt = now
	if err := tx.UpdateVoucherHeader(ctx, *v); err != nil {
		return err
	}
	evt, err := buildVoucherPosted(*v, ledgers, now)
	if err != nil {
		return err
	}
	rec, err := events.NewVoucherPostedRecord(evt)
	if err != nil {
		return err
	}
	return tx.InsertOutbox(ctx, rec)
}

func buildVoucherPosted(v Voucher, ledgers map[uuid.UUID]coa.Ledger, at time.Time) (events.VoucherPosted, error) {
	debit, _, err := Totals(v.Lines)
	if err != nil {
		return events.VoucherPosted{}, err
	}
	evt := events.VoucherPosted{
		VoucherID:     v.ID,
		TenantID:      v.TenantID,
		VoucherType:   string(v.Type),
		VoucherDate:   v.Date,
		VoucherNumber: v.Number,
		TotalAmount:   debit.StringFixed(),
		Currency:      debit.Currency,
		OccurredAt:    at,
	}
	for _, line := range v.Lines {
		evt.Lines = append(evt.Lines, events.VoucherPostedLine{
			LedgerID:   line.LedgerID,
			LedgerName: ledgers[line.LedgerID].Name,
			Amount:     line.Amount.StringFixed(),
			Currency:   line.Amount.Currency,
			Side:       string(line.Side),
		})
	}
	return evt, nil
}

func reversalNarration(orig Voucher, reason string) string {
	return fmt.Sprintf("Reversal of %s #%d: %s", orig.Type, orig.Number, reason)
}

// checkDate enforces invariant 4: the date falls inside the fiscal year and
// outside every locked period.
func (s *Service) checkDate(fy fiscalyear.FinancialYear, date time.Time) error {
	if !fy.Contains(date) {
		return fiscalyear.ErrDateOutOfYear
	}
	if fy.IsLocked(date) {
		return fiscalyear.ErrPeriodLocked
	}
	return nil
}

// validateLines runs the line-level invariants: at least two lines, strictly
// positive amounts in one currency, balanced debit/credit totals, and every
// ledger resolvable, same-tenant, and active.
func (s *Service) validateLines(ctx context.Context, tenantID uuid.UUID, lines []Line) error {
	ve := &ValidationError{}
	if len(lines) < 2 {
		ve.add("voucher requires at least two lines, got %d", len(lines))
	}
	currency := ""
	for _, line := range lines {
		if !line.Amount.IsPositive() {
			ve.add("line %d amount must be positive, got %s", line.LineNo, line.Amount.StringFixed())
		}
		if currency == "" {
			currency = line.Amount.Currency
		} else if line.Amount.Currency != currency {
			ve.add("line %d currency %q differs from %q", line.LineNo, line.Amount.Currency, currency)
		}
	}
	debit, credit, err := Totals(lines)
	if err != nil {
		return err
	}
	if !debit.Equal(credit) {
		ve.add("Debit(%s) != Credit(%s)", debit.StringFixed(), credit.StringFixed())
	}

	ids := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.LedgerID)
	}
	found, missing, err := s.ledgers.Resolve(ctx, tenantID, ids)
	if err != nil {
		return err
	}
	for _, id := range missing {
		ve.add("ledger %s not found", id)
	}
	for _, l := range found {
		if !l.Active {
			ve.add("ledger %s is inactive", l.Name)
		}
	}
	if ve.empty() {
		return nil
	}
	return ve
}

// revalidateStored re-checks the structural invariants on the stored lines
// before posting, guarding against stale or hand-edited drafts.
func (s *Service) revalidateStored(v Voucher) error {
	ve := &ValidationError{}
	if len(v.Lines) < 2 {
		ve.add("voucher requires at least two lines, got %d", len(v.Lines))
	}
	for _, line := range v.Lines {
		if !line.Amount.IsPositive() {
			ve.add("line %d amount must be positive", line.LineNo)
		}
	}
	debit, credit, err := Totals(v.Lines)
	if err != nil {
		return err
	}
	if !debit.Equal(credit) {
		ve.add("Debit(%s) != Credit(%s)", debit.StringFixed(), credit.StringFixed())
	}
	if ve.empty() {
		return nil
	}
	return ve
}

func (s *Service) structValidate(in any) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		ve := &ValidationError{}
		for _, fe := range fieldErrs {
			ve.add("%s fails %q", fe.Namespace(), fe.Tag())
		}
		return ve
	}
	return err
}

// withRetry re-runs the transaction on concurrency conflicts, a bounded
// number of times.
func (s *Service) withRetry(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	var err error
	for attempt := 0; attempt < s.retryLimit; attempt++ {
		err = s.repo.WithTx(ctx, fn)
		if err == nil || !errors.Is(err, shared.ErrConcurrencyConflict) {
			return err
		}
		if s.logger != nil {
			s.logger.Warn("posting conflict, retrying", slog.Int("attempt", attempt+1))
		}
	}
	return err
}

func (s *Service) recordAudit(ctx context.Context, actorID uuid.UUID, v Voucher, action string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		TenantID: v.TenantID,
		Action:   action,
		Entity:   "voucher",
		EntityID: v.ID.String(),
		Meta:     meta,
		At:       s.now(),
	})
}
