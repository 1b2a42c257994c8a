package coa

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/saral-erp/saral-erp/internal/money"
)

// MemoryRepository is an in-process Repository for tests and embedded setups.
type MemoryRepository struct {
	mu      sync.RWMutex
	groups  map[uuid.UUID]*AccountGroup
	ledgers map[uuid.UUID]*Ledger
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		groups:  make(map[uuid.UUID]*AccountGroup),
		ledgers: make(map[uuid.UUID]*Ledger),
	}
}

func (r *MemoryRepository) InsertGroup(ctx context.Context, g AccountGroup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := g
	r.groups[g.ID] = &cp
	return nil
}

func (r *MemoryRepository) UpdateGroup(ctx context.Context, g AccountGroup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.groups[g.ID]; !ok {
		return ErrGroupNotFound
	}
	cp := g
	r.groups[g.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetGroup(ctx context.Context, tenantID, groupID uuid.UUID) (AccountGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[groupID]
	if !ok || g.TenantID != tenantID {
		return AccountGroup{}, ErrGroupNotFound
	}
	return *g, nil
}

func (r *MemoryRepository) DeleteGroup(ctx context.Context, tenantID, groupID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[groupID]
	if !ok || g.TenantID != tenantID {
		return ErrGroupNotFound
	}
	delete(r.groups, groupID)
	return nil
}

func (r *MemoryRepository) CountGroupChildren(ctx context.Context, tenantID, groupID uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, g := range r.groups {
		if g.TenantID == tenantID && g.ParentID != nil && *g.ParentID == groupID {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) CountGroupLedgers(ctx context.Context, tenantID, groupID uuid.UUID) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, l := range r.ledgers {
		if l.TenantID == tenantID && l.GroupID == groupID {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) ShiftSubtreeLevels(ctx context.Context, tenantID, rootID uuid.UUID, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Collect the subtree breadth-first off the parent pointers.
	frontier := []uuid.UUID{rootID}
	for len(frontier) > 0 {
		var next []uuid.UUID
		for _, g := range r.groups {
			if g.TenantID != tenantID || g.ParentID == nil {
				continue
			}
			for _, p := range frontier {
				if *g.ParentID == p {
					g.Level += delta
					next = append(next, g.ID)
				}
			}
		}
		frontier = next
	}
	return nil
}

func (r *MemoryRepository) GroupNameTaken(ctx context.Context, tenantID uuid.UUID, folded string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, g := range r.groups {
		if g.TenantID == tenantID && FoldName(g.Name) == folded {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) InsertLedger(ctx context.Context, l Ledger) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := l
	r.ledgers[l.ID] = &cp
	return nil
}

func (r *MemoryRepository) UpdateLedger(ctx context.Context, l Ledger) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	curr, ok := r.ledgers[l.ID]
	if !ok {
		return ErrLedgerNotFound
	}
	// Balance is owned by the posting path; keep the stored projection.
	l.Balance = curr.Balance
	cp := l
	r.ledgers[l.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetLedger(ctx context.Context, tenantID, ledgerID uuid.UUID) (Ledger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.ledgers[ledgerID]
	if !ok || l.TenantID != tenantID {
		return Ledger{}, ErrLedgerNotFound
	}
	return *l, nil
}

func (r *MemoryRepository) ListLedgers(ctx context.Context, tenantID uuid.UUID) ([]Ledger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Ledger
	for _, l := range r.ledgers {
		if l.TenantID == tenantID {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (r *MemoryRepository) ResolveLedgers(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]Ledger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Ledger
	for _, id := range ids {
		if l, ok := r.ledgers[id]; ok && l.TenantID == tenantID {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (r *MemoryRepository) LedgerNameTaken(ctx context.Context, tenantID uuid.UUID, folded string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, l := range r.ledgers {
		if l.TenantID == tenantID && FoldName(l.Name) == folded {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) Tenants(ctx context.Context) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, l := range r.ledgers {
		if !seen[l.TenantID] {
			seen[l.TenantID] = true
			out = append(out, l.TenantID)
		}
	}
	return out, nil
}

// SetBalance overwrites a ledger's cached balance. Reserved for the voucher
// posting path, which owns balance mutations.
func (r *MemoryRepository) SetBalance(ledgerID uuid.UUID, balance money.Money) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.ledgers[ledgerID]
	if !ok {
		return ErrLedgerNotFound
	}
	l.Balance = balance
	return nil
}
