package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/cfd-ledger/internal/models"
	"github.com/shopspring/decimal"
)

// MemoryLedger is an in-process Ledger. Transactions are serialized by a single writer
// lock and their writes are staged until the transaction function returns nil.
type MemoryLedger struct {
	mu    sync.RWMutex
	state *memState
}

type claimKey struct {
	holder string
	cycle  string
}

type memState struct {
	phases        map[int]*models.Phase
	purchases     map[string]*models.PurchaseRecord // keyed by tx ref
	purchaseOrder []string
	claims        map[claimKey]*models.DividendClaim
	claimOrder    []claimKey
	accounts      map[string]*models.DividendAccount
	distributions map[string]*models.Distribution
}

func newMemState() *memState {
	return &memState{
		phases:        make(map[int]*models.Phase),
		purchases:     make(map[string]*models.PurchaseRecord),
		claims:        make(map[claimKey]*models.DividendClaim),
		accounts:      make(map[string]*models.DividendAccount),
		distributions: make(map[string]*models.Distribution),
	}
}

// NewMemoryLedger creates an empty in-memory ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{state: newMemState()}
}

// Phases returns every phase ordered by ordinal
func (l *MemoryLedger) Phases(ctx context.Context) ([]*models.Phase, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	phases := make([]*models.Phase, 0, len(l.state.phases))
	for _, p := range l.state.phases {
		phases = append(phases, p.Clone())
	}
	sort.Slice(phases, func(i, j int) bool { return phases[i].Ordinal < phases[j].Ordinal })
	return phases, nil
}

// Phase returns a phase by ordinal
func (l *MemoryLedger) Phase(ctx context.Context, ordinal int) (*models.Phase, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p, ok := l.state.phases[ordinal]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

// PurchaseByTxRef returns the purchase recorded for txRef
func (l *MemoryLedger) PurchaseByTxRef(ctx context.Context, txRef string) (*models.PurchaseRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	r, ok := l.state.purchases[txRef]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

// PurchasesByHolder returns the holder's purchases in commit order
func (l *MemoryLedger) PurchasesByHolder(ctx context.Context, holder string) ([]*models.PurchaseRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var records []*models.PurchaseRecord
	for _, ref := range l.state.purchaseOrder {
		if r := l.state.purchases[ref]; r.Holder == holder {
			records = append(records, r.Clone())
		}
	}
	return records, nil
}

// HolderPosition sums the tokens credited to holder
func (l *MemoryLedger) HolderPosition(ctx context.Context, holder string) (*models.HolderAccount, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if pos, ok := l.positions()[holder]; ok {
		return pos, nil
	}
	return &models.HolderAccount{Address: holder, Balance: decimal.Zero}, nil
}

// HolderPositions returns every holder position ordered by address
func (l *MemoryLedger) HolderPositions(ctx context.Context) ([]*models.HolderAccount, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	byHolder := l.positions()
	positions := make([]*models.HolderAccount, 0, len(byHolder))
	for _, pos := range byHolder {
		positions = append(positions, pos)
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i].Address < positions[j].Address })
	return positions, nil
}

// positions must be called with the read lock held
func (l *MemoryLedger) positions() map[string]*models.HolderAccount {
	byHolder := make(map[string]*models.HolderAccount)
	for _, ref := range l.state.purchaseOrder {
		r := l.state.purchases[ref]
		pos, ok := byHolder[r.Holder]
		if !ok {
			pos = &models.HolderAccount{Address: r.Holder, Balance: decimal.Zero, FirstAcquisition: r.CreatedAt}
			byHolder[r.Holder] = pos
		}
		pos.Balance = pos.Balance.Add(r.TokensCredited)
		if r.CreatedAt.Before(pos.FirstAcquisition) {
			pos.FirstAcquisition = r.CreatedAt
		}
	}
	return byHolder
}

// DividendAccount returns the holder's accrual entry, or an empty one
func (l *MemoryLedger) DividendAccount(ctx context.Context, holder string) (*models.DividendAccount, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if a, ok := l.state.accounts[holder]; ok {
		return a.Clone(), nil
	}
	return models.NewDividendAccount(holder), nil
}

// ClaimsByHolder returns the holder's claims in commit order
func (l *MemoryLedger) ClaimsByHolder(ctx context.Context, holder string) ([]*models.DividendClaim, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var claims []*models.DividendClaim
	for _, key := range l.state.claimOrder {
		if key.holder == holder {
			claims = append(claims, l.state.claims[key].Clone())
		}
	}
	return claims, nil
}

// Distribution returns the distribution recorded for cycle
func (l *MemoryLedger) Distribution(ctx context.Context, cycle string) (*models.Distribution, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	d, ok := l.state.distributions[cycle]
	if !ok {
		return nil, ErrNotFound
	}
	return d.Clone(), nil
}

// InTx runs fn holding the writer lock. Staged writes are applied only if fn returns nil.
func (l *MemoryLedger) InTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tx := &memTx{base: l.state, staged: newMemState()}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// memTx reads through its staged writes to the committed state
type memTx struct {
	base   *memState
	staged *memState
}

func (tx *memTx) LockPhase(ctx context.Context, ordinal int) (*models.Phase, error) {
	if p, ok := tx.staged.phases[ordinal]; ok {
		return p.Clone(), nil
	}
	if p, ok := tx.base.phases[ordinal]; ok {
		return p.Clone(), nil
	}
	return nil, ErrNotFound
}

func (tx *memTx) SavePhase(ctx context.Context, phase *models.Phase) error {
	if _, err := tx.LockPhase(ctx, phase.Ordinal); err != nil {
		return err
	}
	tx.staged.phases[phase.Ordinal] = phase.Clone()
	return nil
}

func (tx *memTx) InsertPhase(ctx context.Context, phase *models.Phase) error {
	if _, err := tx.LockPhase(ctx, phase.Ordinal); err == nil {
		return ErrDuplicate
	}
	tx.staged.phases[phase.Ordinal] = phase.Clone()
	return nil
}

func (tx *memTx) PurchaseByTxRef(ctx context.Context, txRef string) (*models.PurchaseRecord, error) {
	if r, ok := tx.staged.purchases[txRef]; ok {
		return r.Clone(), nil
	}
	if r, ok := tx.base.purchases[txRef]; ok {
		return r.Clone(), nil
	}
	return nil, ErrNotFound
}

func (tx *memTx) InsertPurchase(ctx context.Context, record *models.PurchaseRecord) error {
	if _, err := tx.PurchaseByTxRef(ctx, record.TxRef); err == nil {
		return ErrDuplicate
	}
	tx.staged.purchases[record.TxRef] = record.Clone()
	tx.staged.purchaseOrder = append(tx.staged.purchaseOrder, record.TxRef)
	return nil
}

func (tx *memTx) Claim(ctx context.Context, holder, cycle string) (*models.DividendClaim, error) {
	key := claimKey{holder: holder, cycle: cycle}
	if c, ok := tx.staged.claims[key]; ok {
		return c.Clone(), nil
	}
	if c, ok := tx.base.claims[key]; ok {
		return c.Clone(), nil
	}
	return nil, ErrNotFound
}

func (tx *memTx) InsertClaim(ctx context.Context, claim *models.DividendClaim) error {
	if _, err := tx.Claim(ctx, claim.Holder, claim.Cycle); err == nil {
		return ErrDuplicate
	}
	key := claimKey{holder: claim.Holder, cycle: claim.Cycle}
	tx.staged.claims[key] = claim.Clone()
	tx.staged.claimOrder = append(tx.staged.claimOrder, key)
	return nil
}

func (tx *memTx) LockDividendAccount(ctx context.Context, holder string) (*models.DividendAccount, error) {
	if a, ok := tx.staged.accounts[holder]; ok {
		return a.Clone(), nil
	}
	if a, ok := tx.base.accounts[holder]; ok {
		return a.Clone(), nil
	}
	return models.NewDividendAccount(holder), nil
}

func (tx *memTx) SaveDividendAccount(ctx context.Context, account *models.DividendAccount) error {
	tx.staged.accounts[account.Holder] = account.Clone()
	return nil
}

func (tx *memTx) InsertDistribution(ctx context.Context, distribution *models.Distribution) error {
	if _, ok := tx.staged.distributions[distribution.Cycle]; ok {
		return ErrDuplicate
	}
	if _, ok := tx.base.distributions[distribution.Cycle]; ok {
		return ErrDuplicate
	}
	tx.staged.distributions[distribution.Cycle] = distribution.Clone()
	return nil
}

func (tx *memTx) commit() {
	for k, v := range tx.staged.phases {
		tx.base.phases[k] = v
	}
	for k, v := range tx.staged.purchases {
		tx.base.purchases[k] = v
	}
	tx.base.purchaseOrder = append(tx.base.purchaseOrder, tx.staged.purchaseOrder...)
	for k, v := range tx.staged.claims {
		tx.base.claims[k] = v
	}
	tx.base.claimOrder = append(tx.base.claimOrder, tx.staged.claimOrder...)
	for k, v := range tx.staged.accounts {
		tx.base.accounts[k] = v
	}
	for k, v := range tx.staged.distributions {
		tx.base.distributions[k] = v
	}
}
