package storage

import (
	"context"

	"github.com/cfd-ledger/internal/models"
)

// LedgerBalanceOracle derives holder balances from the purchase ledger: balance is the sum
// of tokens credited and first acquisition is the earliest purchase.
type LedgerBalanceOracle struct {
	ledger Ledger
}

// NewLedgerBalanceOracle creates a balance oracle over ledger
func NewLedgerBalanceOracle(ledger Ledger) *LedgerBalanceOracle {
	return &LedgerBalanceOracle{ledger: ledger}
}

// HolderAccount returns the holder's position
func (o *LedgerBalanceOracle) HolderAccount(ctx context.Context, holder string) (*models.HolderAccount, error) {
	return o.ledger.HolderPosition(ctx, holder)
}
