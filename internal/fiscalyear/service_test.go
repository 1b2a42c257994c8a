package fiscalyear

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func seedYear(t *testing.T, repo *MemoryRepository, tenantID uuid.UUID, closed bool) FinancialYear {
	t.Helper()
	fy := FinancialYear{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Name:      "FY 2025-26",
		StartDate: date(2025, time.April, 1),
		EndDate:   date(2026, time.March, 31),
		Closed:    closed,
	}
	repo.Put(fy)
	return fy
}

func TestGetActivePicksLatestOpenYear(t *testing.T) {
	repo := NewMemoryRepository()
	tenantID := uuid.New()
	old := FinancialYear{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Name:      "FY 2024-25",
		StartDate: date(2024, time.April, 1),
		EndDate:   date(2025, time.March, 31),
		Closed:    true,
	}
	repo.Put(old)
	current := seedYear(t, repo, tenantID, false)

	m := NewManager(repo, nil)
	fy, err := m.GetActive(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, current.ID, fy.ID)

	_, err = m.GetActive(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrNoActiveYear)
}

func TestContainsIsInclusiveOfBounds(t *testing.T) {
	repo := NewMemoryRepository()
	fy := seedYear(t, repo, uuid.New(), false)
	m := NewManager(repo, nil)

	assert.True(t, m.IsWithinYear(fy, fy.StartDate))
	assert.True(t, m.IsWithinYear(fy, fy.EndDate))
	assert.True(t, m.IsWithinYear(fy, date(2025, time.September, 15)))
	assert.False(t, m.IsWithinYear(fy, date(2025, time.March, 31)))
	assert.False(t, m.IsWithinYear(fy, date(2026, time.April, 1)))
}

func TestLockPeriodEffectiveImmediately(t *testing.T) {
	repo := NewMemoryRepository()
	tenantID := uuid.New()
	fy := seedYear(t, repo, tenantID, false)
	m := NewManager(repo, nil)

	_, err := m.LockPeriod(context.Background(), tenantID, fy.ID,
		date(2025, time.April, 1), date(2025, time.June, 30), "Q1 close")
	require.NoError(t, err)

	fy, err = m.Get(context.Background(), tenantID, fy.ID)
	require.NoError(t, err)
	assert.True(t, m.IsLocked(fy, date(2025, time.May, 10)))
	assert.True(t, m.IsLocked(fy, date(2025, time.June, 30)))
	assert.False(t, m.IsLocked(fy, date(2025, time.July, 1)))
}

func TestLockPeriodRejectsOverlap(t *testing.T) {
	repo := NewMemoryRepository()
	tenantID := uuid.New()
	fy := seedYear(t, repo, tenantID, false)
	m := NewManager(repo, nil)

	_, err := m.LockPeriod(context.Background(), tenantID, fy.ID,
		date(2025, time.April, 1), date(2025, time.June, 30), "Q1 close")
	require.NoError(t, err)

	// Touching the June boundary is still an overlap.
	_, err = m.LockPeriod(context.Background(), tenantID, fy.ID,
		date(2025, time.June, 30), date(2025, time.September, 30), "Q2 close")
	require.ErrorIs(t, err, ErrPeriodOverlap)

	// Adjacent but disjoint is fine.
	_, err = m.LockPeriod(context.Background(), tenantID, fy.ID,
		date(2025, time.July, 1), date(2025, time.September, 30), "Q2 close")
	require.NoError(t, err)
}

func TestLockPeriodValidation(t *testing.T) {
	repo := NewMemoryRepository()
	tenantID := uuid.New()
	fy := seedYear(t, repo, tenantID, false)
	m := NewManager(repo, nil)

	_, err := m.LockPeriod(context.Background(), tenantID, fy.ID,
		date(2025, time.June, 30), date(2025, time.April, 1), "backwards")
	require.ErrorIs(t, err, ErrInvalidRange)

	_, err = m.LockPeriod(context.Background(), tenantID, fy.ID,
		date(2025, time.March, 1), date(2025, time.April, 30), "outside")
	require.ErrorIs(t, err, ErrDateOutOfYear)

	_, err = m.LockPeriod(context.Background(), tenantID, uuid.New(),
		date(2025, time.April, 1), date(2025, time.April, 30), "missing year")
	require.ErrorIs(t, err, ErrYearNotFound)
}

func TestClosedYearLocksEveryDate(t *testing.T) {
	repo := NewMemoryRepository()
	tenantID := uuid.New()
	fy := seedYear(t, repo, tenantID, true)
	m := NewManager(repo, nil)

	assert.True(t, m.IsLocked(fy, date(2025, time.August, 1)))

	_, err := m.LockPeriod(context.Background(), tenantID, fy.ID,
		date(2025, time.April, 1), date(2025, time.April, 30), "closed year")
	require.ErrorIs(t, err, ErrYearClosed)
}
