package fiscalyear

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrYearNotFound indicates no fiscal year matched the lookup.
	ErrYearNotFound = errors.New("fiscalyear: not found")
	// ErrNoActiveYear indicates the tenant has no active fiscal year.
	ErrNoActiveYear = errors.New("fiscalyear: no active year")
	// ErrYearClosed indicates the year is closed for all posting.
	ErrYearClosed = errors.New("fiscalyear: year closed")
	// ErrPeriodOverlap indicates a new lock intersects an existing one.
	ErrPeriodOverlap = errors.New("fiscalyear: locked periods overlap")
	// ErrPeriodLocked indicates the date falls in a locked period.
	ErrPeriodLocked = errors.New("fiscalyear: period locked")
	// ErrDateOutOfYear indicates the date falls outside the year bounds.
	ErrDateOutOfYear = errors.New("fiscalyear: date outside year")
	// ErrInvalidRange indicates from/to are malformed.
	ErrInvalidRange = errors.New("fiscalyear: invalid period range")
)

// LockedPeriod is an inclusive date range inside a fiscal year where posting
// is forbidden.
type LockedPeriod struct {
	ID        uuid.UUID
	From      time.Time
	To        time.Time
	Reason    string
	CreatedAt time.Time
}

// FinancialYear is an accounting period boundary for one tenant. Locks never
// overlap each other.
type FinancialYear struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Name      string
	StartDate time.Time
	EndDate   time.Time
	Closed    bool
	Locks     []LockedPeriod
	CreatedAt time.Time
	UpdatedAt time.Time
}

// day strips the time-of-day component; all period math is whole-day.
func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func within(d, from, to time.Time) bool {
	d = day(d)
	return !d.Before(day(from)) && !d.After(day(to))
}

// Contains reports whether date falls inside [StartDate, EndDate].
func (fy FinancialYear) Contains(date time.Time) bool {
	return within(date, fy.StartDate, fy.EndDate)
}

// IsLocked reports whether date is inside any locked period or the year is
// closed.
func (fy FinancialYear) IsLocked(date time.Time) bool {
	if fy.Closed {
		return true
	}
	for _, lp := range fy.Locks {
		if within(date, lp.From, lp.To) {
			return true
		}
	}
	return false
}

// Overlaps reports whether the [from,to] range intersects lp.
func (lp LockedPeriod) Overlaps(from, to time.Time) bool {
	return !day(to).Before(day(lp.From)) && !day(from).After(day(lp.To))
}
