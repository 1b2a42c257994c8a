package fiscalyear

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository used by tests and embedded
// setups. Mutations are guarded by a single mutex so the overlap check and
// the append are one atomic step, matching the Postgres row-lock discipline.
type MemoryRepository struct {
	mu    sync.RWMutex
	years map[uuid.UUID]*FinancialYear
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{years: make(map[uuid.UUID]*FinancialYear)}
}

// Put inserts or replaces a fiscal year. Test/seed helper.
func (r *MemoryRepository) Put(fy FinancialYear) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := fy
	cp.Locks = append([]LockedPeriod(nil), fy.Locks...)
	r.years[fy.ID] = &cp
}

func (r *MemoryRepository) GetActive(ctx context.Context, tenantID uuid.UUID) (FinancialYear, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *FinancialYear
	for _, fy := range r.years {
		if fy.TenantID != tenantID || fy.Closed {
			continue
		}
		if best == nil || fy.StartDate.After(best.StartDate) {
			best = fy
		}
	}
	if best == nil {
		return FinancialYear{}, ErrNoActiveYear
	}
	return cloneYear(best), nil
}

func (r *MemoryRepository) Get(ctx context.Context, tenantID, yearID uuid.UUID) (FinancialYear, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fy, ok := r.years[yearID]
	if !ok || fy.TenantID != tenantID {
		return FinancialYear{}, ErrYearNotFound
	}
	return cloneYear(fy), nil
}

func (r *MemoryRepository) AppendLock(ctx context.Context, yearID uuid.UUID, lock LockedPeriod) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	fy, ok := r.years[yearID]
	if !ok {
		return ErrYearNotFound
	}
	if fy.Closed {
		return ErrYearClosed
	}
	for _, existing := range fy.Locks {
		if existing.Overlaps(lock.From, lock.To) {
			return ErrPeriodOverlap
		}
	}
	fy.Locks = append(fy.Locks, lock)
	return nil
}

func cloneYear(fy *FinancialYear) FinancialYear {
	cp := *fy
	cp.Locks = append([]LockedPeriod(nil), fy.Locks...)
	return cp
}
