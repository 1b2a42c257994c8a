package vouchers

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/saral-erp/saral-erp/internal/coa"
	"github.com/saral-erp/saral-erp/internal/money"
)

var (
	// ErrVoucherNotFound indicates the voucher does not exist for the tenant.
	ErrVoucherNotFound = errors.New("vouchers: voucher not found")
	// ErrAlreadyPosted indicates Post was called on a non-draft voucher.
	ErrAlreadyPosted = errors.New("vouchers: already posted")
	// ErrAlreadyReversed indicates a second reversal attempt.
	ErrAlreadyReversed = errors.New("vouchers: already reversed")
	// ErrNotDraft indicates the operation requires a draft voucher.
	ErrNotDraft = errors.New("vouchers: voucher is not a draft")
	// ErrNotPosted indicates the operation requires a posted voucher.
	ErrNotPosted = errors.New("vouchers: voucher is not posted")
	// ErrSourceAlreadyLinked indicates the source document already produced a voucher.
	ErrSourceAlreadyLinked = errors.New("vouchers: source already linked")
)

// VoucherType tags the business document class. Numbering sequences are kept
// per (tenant, fiscal year, type).
type VoucherType string

const (
	TypeJournal    VoucherType = "JOURNAL"
	TypePayment    VoucherType = "PAYMENT"
	TypeReceipt    VoucherType = "RECEIPT"
	TypeContra     VoucherType = "CONTRA"
	TypeSales      VoucherType = "SALES"
	TypePurchase   VoucherType = "PURCHASE"
	TypeDebitNote  VoucherType = "DEBIT_NOTE"
	TypeCreditNote VoucherType = "CREDIT_NOTE"
)

// Valid reports whether t is a known voucher type.
func (t VoucherType) Valid() bool {
	switch t {
	case TypeJournal, TypePayment, TypeReceipt, TypeContra, TypeSales, TypePurchase, TypeDebitNote, TypeCreditNote:
		return true
	}
	return false
}

// VoucherStatus enumerates lifecycle states. Draft moves to Posted exactly
// once; Posted moves to Reversed at most once; Cancelled is terminal and
// reachable only from Draft.
type VoucherStatus string

const (
	StatusDraft     VoucherStatus = "DRAFT"
	StatusPosted    VoucherStatus = "POSTED"
	StatusCancelled VoucherStatus = "CANCELLED"
	StatusReversed  VoucherStatus = "REVERSED"
)

// Line is one leg of a voucher. Amount is strictly positive; the sign of the
// effect on the ledger comes from Side against the ledger's nature.
type Line struct {
	ID          uuid.UUID
	VoucherID   uuid.UUID
	LedgerID    uuid.UUID
	LineNo      int
	Side        coa.Side
	Amount      money.Money
	Particulars string
}

// Voucher is an atomic financial transaction of two or more balanced lines.
// Posted vouchers are immutable; a reversal is a brand-new voucher linked
// back to the original.
type Voucher struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	FiscalYearID uuid.UUID
	Type         VoucherType
	Number       int64
	Date         time.Time
	Reference    string
	Narration    string
	SourceModule string
	SourceID     uuid.UUID
	Status       VoucherStatus
	Lines        []Line
	ReversalOfID *uuid.UUID
	ReversedByID *uuid.UUID
	PostedAt     *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Totals returns the debit and credit sums of the lines.
func Totals(lines []Line) (debit, credit money.Money, err error) {
	for _, line := range lines {
		switch line.Side {
		case coa.Debit:
			debit, err = debit.Add(line.Amount)
		case coa.Credit:
			credit, err = credit.Add(line.Amount)
		default:
			err = fmt.Errorf("vouchers: line %d has unknown side %q", line.LineNo, line.Side)
		}
		if err != nil {
			return money.Money{}, money.Money{}, err
		}
	}
	return debit, credit, nil
}

// Delta is the signed effect of a line on a ledger of the given nature:
// positive when the side agrees with the nature's normal side.
func Delta(side coa.Side, amount money.Money, nature coa.Nature) money.Money {
	if side == nature.NormalSide() {
		return amount
	}
	return amount.Neg()
}

// ValidationError collects human-readable invariant violations. The
// operation that produced it performed no mutation.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) add(format string, args ...any) {
	e.Violations = append(e.Violations, fmt.Sprintf(format, args...))
}

func (e *ValidationError) empty() bool { return e == nil || len(e.Violations) == 0 }

func (e *ValidationError) Error() string {
	return "vouchers: validation failed: " + strings.Join(e.Violations, "; ")
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
