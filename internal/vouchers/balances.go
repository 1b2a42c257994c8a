package vouchers

import (
	"bytes"
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/saral-erp/saral-erp/internal/coa"
	"github.com/saral-erp/saral-erp/internal/money"
)

// BalanceTracker applies voucher line deltas to ledger balances inside the
// posting transaction. Each ledger row is locked, read, and written exactly
// once per posting; the incremental update adds the same signed deltas a
// full recomputation from line history would fold, so the cached balance can
// never drift from the derivable value.
type BalanceTracker struct{}

// ApplyPosting locks every referenced ledger, applies the net signed delta,
// and returns the ledgers as loaded (pre-update balances replaced with the
// new ones) keyed by id so the caller can build the posted event.
func (BalanceTracker) ApplyPosting(ctx context.Context, tx TxRepository, v Voucher) (map[uuid.UUID]coa.Ledger, error) {
	byLedger := make(map[uuid.UUID][]Line)
	order := make([]uuid.UUID, 0, len(v.Lines))
	for _, line := range v.Lines {
		if _, seen := byLedger[line.LedgerID]; !seen {
			order = append(order, line.LedgerID)
		}
		byLedger[line.LedgerID] = append(byLedger[line.LedgerID], line)
	}
	// Lock ledgers in a stable order so two concurrent postings touching
	// the same pair cannot deadlock.
	sort.Slice(order, func(i, j int) bool {
		return bytes.Compare(order[i][:], order[j][:]) < 0
	})

	out := make(map[uuid.UUID]coa.Ledger, len(order))
	for _, ledgerID := range order {
		ledger, err := tx.GetLedgerForUpdate(ctx, v.TenantID, ledgerID)
		if err != nil {
			return nil, err
		}
		// Reversal lines mirror posted history, not new activity: a ledger
		// deactivated since the original posting must still unwind, or its
		// balance is stranded forever.
		if !ledger.Active && v.ReversalOfID == nil {
			return nil, &ValidationError{Violations: []string{"ledger " + ledger.Name + " is inactive"}}
		}
		delta := money.Zero(ledger.Balance.Currency)
		for _, line := range byLedger[ledgerID] {
			delta, err = delta.Add(Delta(line.Side, line.Amount, ledger.Nature))
			if err != nil {
				return nil, err
			}
		}
		newBalance, err := ledger.Balance.Add(delta)
		if err != nil {
			return nil, err
		}
		if err := tx.SetLedgerBalance(ctx, ledger.ID, newBalance); err != nil {
			return nil, err
		}
		ledger.Balance = newBalance
		out[ledger.ID] = ledger
	}
	return out, nil
}
