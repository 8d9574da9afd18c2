package storage

import (
	"context"
	"errors"

	"github.com/cfd-ledger/internal/models"
)

var (
	// ErrNotFound is returned when a requested row does not exist
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicate is returned when an insert violates a uniqueness constraint
	ErrDuplicate = errors.New("storage: duplicate key")
)

// Ledger is the authoritative store for phases, purchases and dividend accruals.
// Read methods see committed state only. All writes go through InTx.
type Ledger interface {
	// Phases returns every phase ordered by ordinal
	Phases(ctx context.Context) ([]*models.Phase, error)
	Phase(ctx context.Context, ordinal int) (*models.Phase, error)

	PurchaseByTxRef(ctx context.Context, txRef string) (*models.PurchaseRecord, error)
	PurchasesByHolder(ctx context.Context, holder string) ([]*models.PurchaseRecord, error)

	// HolderPosition sums the tokens credited to holder. A holder without purchases
	// gets a zero balance and a zero FirstAcquisition.
	HolderPosition(ctx context.Context, holder string) (*models.HolderAccount, error)
	// HolderPositions returns the position of every holder with at least one purchase, ordered by address
	HolderPositions(ctx context.Context) ([]*models.HolderAccount, error)

	// DividendAccount returns the holder's accrual entry, or an empty one
	DividendAccount(ctx context.Context, holder string) (*models.DividendAccount, error)
	ClaimsByHolder(ctx context.Context, holder string) ([]*models.DividendClaim, error)
	Distribution(ctx context.Context, cycle string) (*models.Distribution, error)

	// InTx runs fn in a single transaction. Writes commit only when fn returns nil.
	InTx(ctx context.Context, fn func(tx LedgerTx) error) error
}

// LedgerTx is the write side of the ledger, valid only inside InTx
type LedgerTx interface {
	// LockPhase reads a phase and holds it exclusively until the transaction ends
	LockPhase(ctx context.Context, ordinal int) (*models.Phase, error)
	SavePhase(ctx context.Context, phase *models.Phase) error
	InsertPhase(ctx context.Context, phase *models.Phase) error

	PurchaseByTxRef(ctx context.Context, txRef string) (*models.PurchaseRecord, error)
	InsertPurchase(ctx context.Context, record *models.PurchaseRecord) error

	Claim(ctx context.Context, holder, cycle string) (*models.DividendClaim, error)
	InsertClaim(ctx context.Context, claim *models.DividendClaim) error

	// LockDividendAccount returns the holder's accrual entry (empty when absent) and holds it
	// exclusively until the transaction ends
	LockDividendAccount(ctx context.Context, holder string) (*models.DividendAccount, error)
	SaveDividendAccount(ctx context.Context, account *models.DividendAccount) error

	InsertDistribution(ctx context.Context, distribution *models.Distribution) error
}
