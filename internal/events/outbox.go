package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Outbox reads staged event rows for delivery.
type Outbox interface {
	Unsent(ctx context.Context, limit int) ([]Record, error)
	MarkSent(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// OutboxStore is the Postgres-backed Outbox. The voucher repository inserts
// rows inside the posting transaction; this store only reads and marks them.
type OutboxStore struct {
	db *pgxpool.Pool
}

func NewOutboxStore(db *pgxpool.Pool) *OutboxStore {
	return &OutboxStore{db: db}
}

func (s *OutboxStore) Unsent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.Query(ctx, `SELECT id, event_type, payload, created_at, sent_at
FROM outbox WHERE sent_at IS NULL ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.EventType, &rec.Payload, &rec.CreatedAt, &rec.SentAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *OutboxStore) MarkSent(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx, `UPDATE outbox SET sent_at=$2 WHERE id = ANY($1)`, ids, at)
	return err
}

// MemoryOutbox holds staged rows in process, for tests and embedded setups.
type MemoryOutbox struct {
	mu   sync.Mutex
	rows []Record
}

func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{}
}

// Append stages a record; called by the in-memory voucher repository at
// commit time.
func (m *MemoryOutbox) Append(rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, rec)
}

func (m *MemoryOutbox) Unsent(ctx context.Context, limit int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, rec := range m.rows {
		if rec.SentAt == nil {
			out = append(out, rec)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryOutbox) MarkSent(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		for i := range m.rows {
			if m.rows[i].ID == id {
				t := at
				m.rows[i].SentAt = &t
			}
		}
	}
	return nil
}

// All returns a snapshot of every staged record, for assertions in tests.
func (m *MemoryOutbox) All() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.rows...)
}
