package service

import (
	"context"

	"github.com/cfd-ledger/internal/models"
)

// BalanceOracle supplies holder balances and first-acquisition timestamps.
// The core treats its answers as read-only input.
type BalanceOracle interface {
	HolderAccount(ctx context.Context, holder string) (*models.HolderAccount, error)
}

// StatusCache caches the phase snapshot the sale status is rendered from.
// Set must refuse a snapshot read before the latest Invalidate.
type StatusCache interface {
	Get(ctx context.Context) (phases []*models.Phase, version int64, ok bool, err error)
	Set(ctx context.Context, version int64, phases []*models.Phase) (bool, error)
	Invalidate(ctx context.Context) error
}
