package coa

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saral-erp/saral-erp/internal/money"
)

func newTestService() (*Service, *MemoryRepository) {
	repo := NewMemoryRepository()
	return NewService(repo, nil), repo
}

func mustGroup(t *testing.T, s *Service, tenantID uuid.UUID, name string, parentID *uuid.UUID, nature Nature) AccountGroup {
	t.Helper()
	g, err := s.CreateGroup(context.Background(), CreateGroupInput{
		TenantID: tenantID,
		Name:     name,
		ParentID: parentID,
		Nature:   nature,
	})
	require.NoError(t, err)
	return g
}

func TestCreateGroupInheritsNatureAndLevel(t *testing.T) {
	s, _ := newTestService()
	tenantID := uuid.New()

	root := mustGroup(t, s, tenantID, "Assets", nil, Asset)
	assert.Equal(t, 1, root.Level)

	child, err := s.CreateGroup(context.Background(), CreateGroupInput{
		TenantID: tenantID,
		Name:     "Current Assets",
		ParentID: &root.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, Asset, child.Nature)
	assert.Equal(t, 2, child.Level)

	_, err = s.CreateGroup(context.Background(), CreateGroupInput{
		TenantID: tenantID,
		Name:     "Bogus",
		ParentID: &root.ID,
		Nature:   Liability,
	})
	require.ErrorIs(t, err, ErrNatureMismatch)
}

func TestGroupNameUniquePerTenantCaseInsensitive(t *testing.T) {
	s, _ := newTestService()
	tenantID := uuid.New()
	mustGroup(t, s, tenantID, "Assets", nil, Asset)

	_, err := s.CreateGroup(context.Background(), CreateGroupInput{
		TenantID: tenantID,
		Name:     "ASSETS",
		Nature:   Asset,
	})
	require.ErrorIs(t, err, ErrDuplicateName)

	// A different tenant can reuse the name.
	_, err = s.CreateGroup(context.Background(), CreateGroupInput{
		TenantID: uuid.New(),
		Name:     "Assets",
		Nature:   Asset,
	})
	require.NoError(t, err)
}

func TestReparentRejectsCycles(t *testing.T) {
	s, _ := newTestService()
	tenantID := uuid.New()
	a := mustGroup(t, s, tenantID, "A", nil, Asset)
	b := mustGroup(t, s, tenantID, "B", &a.ID, "")
	c := mustGroup(t, s, tenantID, "C", &b.ID, "")

	_, err := s.ReparentGroup(context.Background(), tenantID, a.ID, &c.ID)
	require.ErrorIs(t, err, ErrGroupCycle)

	_, err = s.ReparentGroup(context.Background(), tenantID, a.ID, &a.ID)
	require.ErrorIs(t, err, ErrGroupCycle)
}

func TestReparentShiftsSubtreeLevels(t *testing.T) {
	s, repo := newTestService()
	tenantID := uuid.New()
	a := mustGroup(t, s, tenantID, "A", nil, Asset)
	b := mustGroup(t, s, tenantID, "B", &a.ID, "")
	c := mustGroup(t, s, tenantID, "C", &b.ID, "")

	// Hoist B to a root; C must follow from level 3 to 2.
	moved, err := s.ReparentGroup(context.Background(), tenantID, b.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, moved.Level)

	got, err := repo.GetGroup(context.Background(), tenantID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Level)
}

func TestDeleteGroupGuards(t *testing.T) {
	s, _ := newTestService()
	tenantID := uuid.New()
	a := mustGroup(t, s, tenantID, "A", nil, Asset)
	b := mustGroup(t, s, tenantID, "B", &a.ID, "")

	err := s.DeleteGroup(context.Background(), tenantID, a.ID)
	require.ErrorIs(t, err, ErrGroupInUse)

	require.NoError(t, s.DeleteGroup(context.Background(), tenantID, b.ID))
	require.NoError(t, s.DeleteGroup(context.Background(), tenantID, a.ID))

	sys, err := s.CreateGroup(context.Background(), CreateGroupInput{
		TenantID: tenantID,
		Name:     "Retained Earnings",
		Nature:   Liability,
		System:   true,
	})
	require.NoError(t, err)
	err = s.DeleteGroup(context.Background(), tenantID, sys.ID)
	require.ErrorIs(t, err, ErrSystemGroup)
}

func TestCreateLedgerSignedOpening(t *testing.T) {
	s, _ := newTestService()
	tenantID := uuid.New()
	assets := mustGroup(t, s, tenantID, "Assets", nil, Asset)

	// Opening on the natural side stays positive.
	cash, err := s.CreateLedger(context.Background(), CreateLedgerInput{
		TenantID:    tenantID,
		Name:        "Cash",
		GroupID:     assets.ID,
		Opening:     money.MustNew("500.00", "INR"),
		OpeningSide: Debit,
	})
	require.NoError(t, err)
	assert.Equal(t, "500.00", cash.Balance.StringFixed())
	assert.Equal(t, Debit, cash.BalanceSide())

	// Opening on the opposite side flips the sign.
	overdraft, err := s.CreateLedger(context.Background(), CreateLedgerInput{
		TenantID:    tenantID,
		Name:        "Overdrawn Account",
		GroupID:     assets.ID,
		Opening:     money.MustNew("200.00", "INR"),
		OpeningSide: Credit,
	})
	require.NoError(t, err)
	assert.Equal(t, "-200.00", overdraft.Balance.StringFixed())
	assert.Equal(t, Credit, overdraft.BalanceSide())
	assert.Equal(t, "200.00", overdraft.BalanceAbs().StringFixed())
}

func TestLedgerNameUniqueAndDeactivate(t *testing.T) {
	s, _ := newTestService()
	tenantID := uuid.New()
	assets := mustGroup(t, s, tenantID, "Assets", nil, Asset)

	cash, err := s.CreateLedger(context.Background(), CreateLedgerInput{
		TenantID: tenantID,
		Name:     "Cash",
		GroupID:  assets.ID,
	})
	require.NoError(t, err)

	_, err = s.CreateLedger(context.Background(), CreateLedgerInput{
		TenantID: tenantID,
		Name:     "cash",
		GroupID:  assets.ID,
	})
	require.ErrorIs(t, err, ErrDuplicateName)

	require.NoError(t, s.DeactivateLedger(context.Background(), tenantID, cash.ID))
	// Idempotent.
	require.NoError(t, s.DeactivateLedger(context.Background(), tenantID, cash.ID))

	got, _, err := s.Resolve(context.Background(), tenantID, []uuid.UUID{cash.ID})
	require.NoError(t, err)
	assert.False(t, got[cash.ID].Active)
}

func TestResolveReportsMissingIDs(t *testing.T) {
	s, _ := newTestService()
	tenantID := uuid.New()
	assets := mustGroup(t, s, tenantID, "Assets", nil, Asset)
	cash, err := s.CreateLedger(context.Background(), CreateLedgerInput{
		TenantID: tenantID,
		Name:     "Cash",
		GroupID:  assets.ID,
	})
	require.NoError(t, err)

	ghost := uuid.New()
	found, missing, err := s.Resolve(context.Background(), tenantID, []uuid.UUID{cash.ID, ghost, ghost})
	require.NoError(t, err)
	assert.Len(t, found, 1)
	assert.Equal(t, []uuid.UUID{ghost}, missing)

	// Another tenant's ledger is invisible.
	_, missing, err = s.Resolve(context.Background(), uuid.New(), []uuid.UUID{cash.ID})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{cash.ID}, missing)
}
