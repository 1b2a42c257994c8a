package coa

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"

	"github.com/saral-erp/saral-erp/internal/money"
)

// Repository persists account groups and ledgers.
type Repository interface {
	InsertGroup(ctx context.Context, g AccountGroup) error
	UpdateGroup(ctx context.Context, g AccountGroup) error
	GetGroup(ctx context.Context, tenantID, groupID uuid.UUID) (AccountGroup, error)
	DeleteGroup(ctx context.Context, tenantID, groupID uuid.UUID) error
	CountGroupChildren(ctx context.Context, tenantID, groupID uuid.UUID) (int, error)
	CountGroupLedgers(ctx context.Context, tenantID, groupID uuid.UUID) (int, error)
	ShiftSubtreeLevels(ctx context.Context, tenantID, rootID uuid.UUID, delta int) error
	GroupNameTaken(ctx context.Context, tenantID uuid.UUID, folded string) (bool, error)

	InsertLedger(ctx context.Context, l Ledger) error
	UpdateLedger(ctx context.Context, l Ledger) error
	GetLedger(ctx context.Context, tenantID, ledgerID uuid.UUID) (Ledger, error)
	ListLedgers(ctx context.Context, tenantID uuid.UUID) ([]Ledger, error)
	ResolveLedgers(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]Ledger, error)
	LedgerNameTaken(ctx context.Context, tenantID uuid.UUID, folded string) (bool, error)

	Tenants(ctx context.Context) ([]uuid.UUID, error)
}

// FoldName normalizes a name for per-tenant uniqueness comparison.
func FoldName(name string) string {
	return cases.Fold().String(name)
}

// Service owns the chart of accounts for all tenants.
type Service struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// WithNow overrides the clock, for tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateGroupInput carries the fields for a new account group.
type CreateGroupInput struct {
	TenantID uuid.UUID
	Name     string
	ParentID *uuid.UUID
	Nature   Nature
	System   bool
}

// CreateGroup adds a node to the account tree. With a parent, nature is
// inherited and must not conflict; roots sit at level 1.
func (s *Service) CreateGroup(ctx context.Context, in CreateGroupInput) (AccountGroup, error) {
	taken, err := s.repo.GroupNameTaken(ctx, in.TenantID, FoldName(in.Name))
	if err != nil {
		return AccountGroup{}, err
	}
	if taken {
		return AccountGroup{}, ErrDuplicateName
	}
	level := 1
	nature := in.Nature
	if in.ParentID != nil {
		parent, err := s.repo.GetGroup(ctx, in.TenantID, *in.ParentID)
		if err != nil {
			return AccountGroup{}, err
		}
		if !parent.Active {
			return AccountGroup{}, ErrGroupInactive
		}
		if nature != "" && nature != parent.Nature {
			return AccountGroup{}, ErrNatureMismatch
		}
		nature = parent.Nature
		level = parent.Level + 1
	}
	if !nature.Valid() {
		return AccountGroup{}, ErrNatureMismatch
	}
	now := s.now()
	g := AccountGroup{
		ID:        uuid.New(),
		TenantID:  in.TenantID,
		Name:      in.Name,
		ParentID:  in.ParentID,
		Nature:    nature,
		Level:     level,
		System:    in.System,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.InsertGroup(ctx, g); err != nil {
		return AccountGroup{}, err
	}
	return g, nil
}

// ReparentGroup moves a group under a new parent. Rejects moves that would
// make the new parent a descendant of the node. Nature never changes.
func (s *Service) ReparentGroup(ctx context.Context, tenantID, groupID uuid.UUID, newParentID *uuid.UUID) (AccountGroup, error) {
	g, err := s.repo.GetGroup(ctx, tenantID, groupID)
	if err != nil {
		return AccountGroup{}, err
	}
	newLevel := 1
	if newParentID != nil {
		if *newParentID == groupID {
			return AccountGroup{}, ErrGroupCycle
		}
		parent, err := s.repo.GetGroup(ctx, tenantID, *newParentID)
		if err != nil {
			return AccountGroup{}, err
		}
		// Walk the ancestor chain of the new parent; meeting the node
		// means the parent lives inside the node's subtree.
		cursor := parent
		for cursor.ParentID != nil {
			if *cursor.ParentID == groupID {
				return AccountGroup{}, ErrGroupCycle
			}
			cursor, err = s.repo.GetGroup(ctx, tenantID, *cursor.ParentID)
			if err != nil {
				return AccountGroup{}, err
			}
		}
		newLevel = parent.Level + 1
	}
	delta := newLevel - g.Level
	g.ParentID = newParentID
	g.Level = newLevel
	g.UpdatedAt = s.now()
	if err := s.repo.UpdateGroup(ctx, g); err != nil {
		return AccountGroup{}, err
	}
	if delta != 0 {
		if err := s.repo.ShiftSubtreeLevels(ctx, tenantID, groupID, delta); err != nil {
			return AccountGroup{}, err
		}
	}
	return g, nil
}

// DeleteGroup removes an empty, non-system group.
func (s *Service) DeleteGroup(ctx context.Context, tenantID, groupID uuid.UUID) error {
	g, err := s.repo.GetGroup(ctx, tenantID, groupID)
	if err != nil {
		return err
	}
	if g.System {
		return ErrSystemGroup
	}
	children, err := s.repo.CountGroupChildren(ctx, tenantID, groupID)
	if err != nil {
		return err
	}
	ledgers, err := s.repo.CountGroupLedgers(ctx, tenantID, groupID)
	if err != nil {
		return err
	}
	if children > 0 || ledgers > 0 {
		return ErrGroupInUse
	}
	return s.repo.DeleteGroup(ctx, tenantID, groupID)
}

// CreateLedgerInput carries the fields for a new ledger.
type CreateLedgerInput struct {
	TenantID    uuid.UUID
	Name        string
	GroupID     uuid.UUID
	Opening     money.Money
	OpeningSide Side
}

// CreateLedger registers a ledger under an active group. The cached balance
// starts at the signed opening value.
func (s *Service) CreateLedger(ctx context.Context, in CreateLedgerInput) (Ledger, error) {
	taken, err := s.repo.LedgerNameTaken(ctx, in.TenantID, FoldName(in.Name))
	if err != nil {
		return Ledger{}, err
	}
	if taken {
		return Ledger{}, ErrDuplicateName
	}
	group, err := s.repo.GetGroup(ctx, in.TenantID, in.GroupID)
	if err != nil {
		return Ledger{}, err
	}
	if !group.Active {
		return Ledger{}, ErrGroupInactive
	}
	side := in.OpeningSide
	if side == "" {
		side = group.Nature.NormalSide()
	}
	opening := in.Opening.Abs()
	now := s.now()
	l := Ledger{
		ID:             uuid.New(),
		TenantID:       in.TenantID,
		Name:           in.Name,
		GroupID:        in.GroupID,
		Nature:         group.Nature,
		OpeningBalance: opening,
		OpeningSide:    side,
		Balance:        SignedOpening(opening, side, group.Nature),
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.InsertLedger(ctx, l); err != nil {
		return Ledger{}, err
	}
	return l, nil
}

// DeactivateLedger stops the ledger from being targeted by new voucher
// lines. Existing posted history is untouched.
func (s *Service) DeactivateLedger(ctx context.Context, tenantID, ledgerID uuid.UUID) error {
	l, err := s.repo.GetLedger(ctx, tenantID, ledgerID)
	if err != nil {
		return err
	}
	if !l.Active {
		return nil
	}
	l.Active = false
	l.UpdatedAt = s.now()
	return s.repo.UpdateLedger(ctx, l)
}

// Resolve batch-validates ledger ids for the tenant, returning the found
// ledgers keyed by id and the ids with no match. Callers treat any missing
// id as a hard validation failure.
func (s *Service) Resolve(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) (map[uuid.UUID]Ledger, []uuid.UUID, error) {
	ledgers, err := s.repo.ResolveLedgers(ctx, tenantID, ids)
	if err != nil {
		return nil, nil, err
	}
	found := make(map[uuid.UUID]Ledger, len(ledgers))
	for _, l := range ledgers {
		found[l.ID] = l
	}
	var missing []uuid.UUID
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	return found, missing, nil
}

// ListLedgers returns every ledger for the tenant.
func (s *Service) ListLedgers(ctx context.Context, tenantID uuid.UUID) ([]Ledger, error) {
	return s.repo.ListLedgers(ctx, tenantID)
}
