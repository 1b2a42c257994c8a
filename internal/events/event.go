package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TaskTypeVoucherPosted doubles as the outbox event type and the asynq task
// type carrying the payload to subscribers.
const TaskTypeVoucherPosted = "ledger:voucher_posted"

// VoucherPostedLine is one leg of a posted voucher as seen by subscribers.
type VoucherPostedLine struct {
	LedgerID   uuid.UUID `json:"ledger_id"`
	LedgerName string    `json:"ledger_name"`
	Amount     string    `json:"amount"`
	Currency   string    `json:"currency"`
	Side       string    `json:"side"`
}

// VoucherPosted is the immutable notification emitted after a voucher
// reaches Posted. Delivered at least once; consumers must tolerate repeats.
type VoucherPosted struct {
	VoucherID     uuid.UUID           `json:"voucher_id"`
	TenantID      uuid.UUID           `json:"tenant_id"`
	VoucherType   string              `json:"voucher_type"`
	VoucherDate   time.Time           `json:"voucher_date"`
	VoucherNumber int64               `json:"voucher_number"`
	TotalAmount   string              `json:"total_amount"`
	Currency      string              `json:"currency"`
	Lines         []VoucherPostedLine `json:"lines"`
	OccurredAt    time.Time           `json:"occurred_at"`
}

// Record is one staged outbox row. Rows are written inside the posting
// transaction and shipped by the Dispatcher after commit.
type Record struct {
	ID        uuid.UUID
	EventType string
	Payload   []byte
	CreatedAt time.Time
	SentAt    *time.Time
}

// NewVoucherPostedRecord marshals the event into an outbox row.
func NewVoucherPostedRecord(evt VoucherPosted) (Record, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return Record{}, err
	}
	return Record{
		ID:        uuid.New(),
		EventType: TaskTypeVoucherPosted,
		Payload:   payload,
		CreatedAt: evt.OccurredAt,
	}, nil
}
