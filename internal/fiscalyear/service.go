package fiscalyear

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Repository loads and mutates fiscal years. AppendLock must perform the
// overlap check and the insert as one serialized unit so that two concurrent
// lock requests cannot both succeed on intersecting ranges.
type Repository interface {
	GetActive(ctx context.Context, tenantID uuid.UUID) (FinancialYear, error)
	Get(ctx context.Context, tenantID, yearID uuid.UUID) (FinancialYear, error)
	AppendLock(ctx context.Context, yearID uuid.UUID, lock LockedPeriod) error
}

// Manager owns fiscal-year boundaries and period locks.
type Manager struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

func NewManager(repo Repository, logger *slog.Logger) *Manager {
	return &Manager{repo: repo, logger: logger, now: time.Now}
}

// WithNow overrides the clock, for tests.
func (m *Manager) WithNow(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// GetActive returns the tenant's active fiscal year.
func (m *Manager) GetActive(ctx context.Context, tenantID uuid.UUID) (FinancialYear, error) {
	return m.repo.GetActive(ctx, tenantID)
}

// Get returns a fiscal year by id, scoped to the tenant.
func (m *Manager) Get(ctx context.Context, tenantID, yearID uuid.UUID) (FinancialYear, error) {
	return m.repo.Get(ctx, tenantID, yearID)
}

// IsWithinYear reports whether date falls inside the year bounds.
func (m *Manager) IsWithinYear(fy FinancialYear, date time.Time) bool {
	return fy.Contains(date)
}

// IsLocked reports whether date is inside a locked period or the year is
// closed.
func (m *Manager) IsLocked(fy FinancialYear, date time.Time) bool {
	return fy.IsLocked(date)
}

// LockPeriod appends a lock to the year. Fails with ErrPeriodOverlap when the
// range intersects an existing lock; effective for all posting checks as soon
// as it returns.
func (m *Manager) LockPeriod(ctx context.Context, tenantID, yearID uuid.UUID, from, to time.Time, reason string) (LockedPeriod, error) {
	if day(to).Before(day(from)) {
		return LockedPeriod{}, ErrInvalidRange
	}
	fy, err := m.repo.Get(ctx, tenantID, yearID)
	if err != nil {
		return LockedPeriod{}, err
	}
	if !within(from, fy.StartDate, fy.EndDate) || !within(to, fy.StartDate, fy.EndDate) {
		return LockedPeriod{}, ErrDateOutOfYear
	}
	lock := LockedPeriod{
		ID:        uuid.New(),
		From:      day(from),
		To:        day(to),
		Reason:    reason,
		CreatedAt: m.now(),
	}
	if err := m.repo.AppendLock(ctx, yearID, lock); err != nil {
		return LockedPeriod{}, err
	}
	if m.logger != nil {
		m.logger.Info("period locked",
			slog.String("year", fy.Name),
			slog.Time("from", lock.From),
			slog.Time("to", lock.To),
			slog.String("reason", reason))
	}
	return lock, nil
}
