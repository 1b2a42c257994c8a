package coa

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/saral-erp/saral-erp/internal/money"
)

var (
	// ErrGroupNotFound indicates the account group does not exist for the tenant.
	ErrGroupNotFound = errors.New("coa: account group not found")
	// ErrLedgerNotFound indicates the ledger does not exist for the tenant.
	ErrLedgerNotFound = errors.New("coa: ledger not found")
	// ErrDuplicateName indicates the name is already taken within the tenant.
	ErrDuplicateName = errors.New("coa: name already in use")
	// ErrGroupCycle indicates a reparent would make the tree cyclic.
	ErrGroupCycle = errors.New("coa: reparent would create a cycle")
	// ErrGroupInactive indicates the group cannot take new ledgers.
	ErrGroupInactive = errors.New("coa: account group inactive")
	// ErrLedgerInactive indicates the ledger cannot take new postings.
	ErrLedgerInactive = errors.New("coa: ledger inactive")
	// ErrSystemGroup indicates the group is system-owned and undeletable.
	ErrSystemGroup = errors.New("coa: system group cannot be deleted")
	// ErrGroupInUse indicates the group still has children or ledgers.
	ErrGroupInUse = errors.New("coa: group has children or ledgers")
	// ErrNatureMismatch indicates the requested nature conflicts with the parent's.
	ErrNatureMismatch = errors.New("coa: nature must match parent group")
)

// Side is one of the two legs of double-entry bookkeeping.
type Side string

const (
	Debit  Side = "DEBIT"
	Credit Side = "CREDIT"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Debit {
		return Credit
	}
	return Debit
}

// Valid reports whether s is a known side.
func (s Side) Valid() bool { return s == Debit || s == Credit }

// Nature classifies an account group.
type Nature string

const (
	Asset     Nature = "ASSET"
	Liability Nature = "LIABILITY"
	Income    Nature = "INCOME"
	Expense   Nature = "EXPENSE"
)

// Valid reports whether n is a known nature.
func (n Nature) Valid() bool {
	switch n {
	case Asset, Liability, Income, Expense:
		return true
	}
	return false
}

// NormalSide is the side a ledger of this nature grows on: assets and
// expenses grow with debits, liabilities and income with credits.
func (n Nature) NormalSide() Side {
	if n == Asset || n == Expense {
		return Debit
	}
	return Credit
}

// AccountGroup is a node in the tenant's account tree. Nature is fixed at
// creation and survives reparenting.
type AccountGroup struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Name      string
	ParentID  *uuid.UUID
	Nature    Nature
	Level     int
	System    bool
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Ledger is an account tracking a running balance. Balance is a cached
// projection of opening plus all posted lines, held as one signed amount:
// positive means the ledger sits on its nature's normal side, negative the
// opposite. The displayed side is derived from the sign, never stored.
type Ledger struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	Name           string
	GroupID        uuid.UUID
	Nature         Nature
	OpeningBalance money.Money
	OpeningSide    Side
	Balance        money.Money
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SignedOpening converts an opening magnitude plus side into the signed
// representation relative to the nature's normal side.
func SignedOpening(opening money.Money, side Side, nature Nature) money.Money {
	if side == nature.NormalSide() {
		return opening
	}
	return opening.Neg()
}

// BalanceSide derives the displayed side from the balance sign.
func (l Ledger) BalanceSide() Side {
	if l.Balance.Sign() < 0 {
		return l.Nature.NormalSide().Opposite()
	}
	return l.Nature.NormalSide()
}

// BalanceAbs is the displayed magnitude.
func (l Ledger) BalanceAbs() money.Money { return l.Balance.Abs() }
