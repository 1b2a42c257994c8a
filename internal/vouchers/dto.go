package vouchers

import (
	"time"

	"github.com/google/uuid"

	"github.com/saral-erp/saral-erp/internal/coa"
	"github.com/saral-erp/saral-erp/internal/money"
)

// LineInput describes one requested voucher line.
type LineInput struct {
	LedgerID    uuid.UUID   `validate:"required"`
	Side        coa.Side    `validate:"required,oneof=DEBIT CREDIT"`
	Amount      money.Money `validate:"required"`
	Particulars string      `validate:"max=500"`
}

// CreateInput groups the fields to create a voucher draft, optionally
// posting it in the same operation.
type CreateInput struct {
	TenantID        uuid.UUID   `validate:"required"`
	Type            VoucherType `validate:"required"`
	Date            time.Time   `validate:"required"`
	Reference       string      `validate:"max=100"`
	Narration       string      `validate:"max=1000"`
	SourceModule    string      `validate:"max=50"`
	SourceID        uuid.UUID
	ActorID         uuid.UUID
	PostImmediately bool
	Lines           []LineInput `validate:"required,min=2,dive"`
}

// UpdateInput replaces a draft's mutable fields.
type UpdateInput struct {
	TenantID  uuid.UUID `validate:"required"`
	VoucherID uuid.UUID `validate:"required"`
	Date      time.Time `validate:"required"`
	Reference string    `validate:"max=100"`
	Narration string    `validate:"max=1000"`
	ActorID   uuid.UUID
	Lines     []LineInput `validate:"required,min=2,dive"`
}

// ReverseInput wraps parameters for reversing a posted voucher.
type ReverseInput struct {
	TenantID     uuid.UUID `validate:"required"`
	VoucherID    uuid.UUID `validate:"required"`
	ReversalDate time.Time `validate:"required"`
	Reason       string    `validate:"required,max=500"`
	ActorID      uuid.UUID
}

func buildLines(voucherID uuid.UUID, inputs []LineInput) []Line {
	out := make([]Line, 0, len(inputs))
	for idx, in := range inputs {
		out = append(out, Line{
			ID:          uuid.New(),
			VoucherID:   voucherID,
			LedgerID:    in.LedgerID,
			LineNo:      idx + 1,
			Side:        in.Side,
			Amount:      in.Amount,
			Particulars: in.Particulars,
		})
	}
	return out
}

// flipLines mirrors every line onto the opposite side, preserving order and
// magnitudes. The heart of a reversal.
func flipLines(voucherID uuid.UUID, lines []Line) []Line {
	out := make([]Line, 0, len(lines))
	for _, line := range lines {
		out = append(out, Line{
			ID:          uuid.New(),
			VoucherID:   voucherID,
			LedgerID:    line.LedgerID,
			LineNo:      line.LineNo,
			Side:        line.Side.Opposite(),
			Amount:      line.Amount,
			Particulars: line.Particulars,
		})
	}
	return out
}
