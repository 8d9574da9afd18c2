package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cfd-ledger/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Numeric columns are read as text and scanned into decimal.Decimal so no precision
// is lost through float conversion.
const phaseColumns = `
	ordinal, name, description, contract_address,
	token_price::text, total_tokens::text, tokens_sold::text, amount_raised::text,
	supply_percentage::text, start_time, end_time,
	min_purchase::text, max_purchase::text, bonus_percentage::text,
	is_active, is_completed, created_at, updated_at`

const purchaseColumns = `
	id, tx_ref, holder_address, phase_ordinal,
	amount_paid::text, base_tokens::text, bonus_tokens::text, tokens_credited::text,
	COALESCE(referrer_address, ''), created_at`

const claimColumns = `id, holder_address, cycle, amount::text, claimed_at`

const accountColumns = `holder_address, available::text, total_received::text, last_distribution, updated_at`

// PostgresLedger is the Postgres implementation of Ledger
type PostgresLedger struct {
	db *PostgresDB
}

// NewPostgresLedger creates a new Postgres-backed ledger
func NewPostgresLedger(db *PostgresDB) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func scanPhase(row pgx.Row) (*models.Phase, error) {
	var p models.Phase
	err := row.Scan(
		&p.Ordinal, &p.Name, &p.Description, &p.ContractAddress,
		&p.TokenPrice, &p.TotalTokens, &p.TokensSold, &p.AmountRaised,
		&p.SupplyPercentage, &p.StartTime, &p.EndTime,
		&p.MinPurchase, &p.MaxPurchase, &p.BonusPercentage,
		&p.IsActive, &p.IsCompleted, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPurchase(row pgx.Row) (*models.PurchaseRecord, error) {
	var r models.PurchaseRecord
	err := row.Scan(
		&r.ID, &r.TxRef, &r.Holder, &r.PhaseOrdinal,
		&r.AmountPaid, &r.BaseTokens, &r.BonusTokens, &r.TokensCredited,
		&r.Referrer, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func scanClaim(row pgx.Row) (*models.DividendClaim, error) {
	var c models.DividendClaim
	if err := row.Scan(&c.ID, &c.Holder, &c.Cycle, &c.Amount, &c.ClaimedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanAccount(row pgx.Row) (*models.DividendAccount, error) {
	var a models.DividendAccount
	if err := row.Scan(&a.Holder, &a.Available, &a.TotalReceived, &a.LastDistribution, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// notFound maps pgx.ErrNoRows to ErrNotFound and wraps anything else
func notFound(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// duplicate maps unique violations to ErrDuplicate and wraps anything else
func duplicate(err error, op string) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w", op, ErrDuplicate)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// Phases returns every phase ordered by ordinal
func (l *PostgresLedger) Phases(ctx context.Context) ([]*models.Phase, error) {
	rows, err := l.db.Pool().Query(ctx, `SELECT `+phaseColumns+` FROM sale_phases ORDER BY ordinal`)
	if err != nil {
		return nil, fmt.Errorf("failed to query phases: %w", err)
	}
	defer rows.Close()

	var phases []*models.Phase
	for rows.Next() {
		p, err := scanPhase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan phase: %w", err)
		}
		phases = append(phases, p)
	}
	return phases, rows.Err()
}

// Phase returns a phase by ordinal
func (l *PostgresLedger) Phase(ctx context.Context, ordinal int) (*models.Phase, error) {
	p, err := scanPhase(l.db.Pool().QueryRow(ctx, `SELECT `+phaseColumns+` FROM sale_phases WHERE ordinal = $1`, ordinal))
	if err != nil {
		return nil, notFound(err, "get phase")
	}
	return p, nil
}

// PurchaseByTxRef returns the purchase recorded for txRef
func (l *PostgresLedger) PurchaseByTxRef(ctx context.Context, txRef string) (*models.PurchaseRecord, error) {
	return purchaseByTxRef(ctx, l.db.Pool(), txRef)
}

func purchaseByTxRef(ctx context.Context, q querier, txRef string) (*models.PurchaseRecord, error) {
	r, err := scanPurchase(q.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE tx_ref = $1`, txRef))
	if err != nil {
		return nil, notFound(err, "get purchase")
	}
	return r, nil
}

// PurchasesByHolder returns the holder's purchases oldest first
func (l *PostgresLedger) PurchasesByHolder(ctx context.Context, holder string) ([]*models.PurchaseRecord, error) {
	query := `SELECT ` + purchaseColumns + ` FROM purchases WHERE holder_address = $1 ORDER BY created_at, id`
	rows, err := l.db.Pool().Query(ctx, query, holder)
	if err != nil {
		return nil, fmt.Errorf("failed to query purchases: %w", err)
	}
	defer rows.Close()

	var records []*models.PurchaseRecord
	for rows.Next() {
		r, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// HolderPosition sums the tokens credited to holder
func (l *PostgresLedger) HolderPosition(ctx context.Context, holder string) (*models.HolderAccount, error) {
	query := `
		SELECT COALESCE(SUM(tokens_credited), 0)::text, MIN(created_at)
		FROM purchases
		WHERE holder_address = $1
	`
	pos := &models.HolderAccount{Address: holder}
	var first *time.Time
	if err := l.db.Pool().QueryRow(ctx, query, holder).Scan(&pos.Balance, &first); err != nil {
		return nil, fmt.Errorf("failed to get holder position: %w", err)
	}
	if first != nil {
		pos.FirstAcquisition = *first
	}
	return pos, nil
}

// HolderPositions returns every holder position ordered by address
func (l *PostgresLedger) HolderPositions(ctx context.Context) ([]*models.HolderAccount, error) {
	query := `
		SELECT holder_address, SUM(tokens_credited)::text, MIN(created_at)
		FROM purchases
		GROUP BY holder_address
		ORDER BY holder_address
	`
	rows, err := l.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query holder positions: %w", err)
	}
	defer rows.Close()

	var positions []*models.HolderAccount
	for rows.Next() {
		pos := &models.HolderAccount{}
		if err := rows.Scan(&pos.Address, &pos.Balance, &pos.FirstAcquisition); err != nil {
			return nil, fmt.Errorf("failed to scan holder position: %w", err)
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

// DividendAccount returns the holder's accrual entry, or an empty one
func (l *PostgresLedger) DividendAccount(ctx context.Context, holder string) (*models.DividendAccount, error) {
	a, err := scanAccount(l.db.Pool().QueryRow(ctx, `SELECT `+accountColumns+` FROM dividend_accounts WHERE holder_address = $1`, holder))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.NewDividendAccount(holder), nil
		}
		return nil, fmt.Errorf("failed to get dividend account: %w", err)
	}
	return a, nil
}

// ClaimsByHolder returns the holder's claims oldest first
func (l *PostgresLedger) ClaimsByHolder(ctx context.Context, holder string) ([]*models.DividendClaim, error) {
	query := `SELECT ` + claimColumns + ` FROM dividend_claims WHERE holder_address = $1 ORDER BY claimed_at, id`
	rows, err := l.db.Pool().Query(ctx, query, holder)
	if err != nil {
		return nil, fmt.Errorf("failed to query claims: %w", err)
	}
	defer rows.Close()

	var claims []*models.DividendClaim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		claims = append(claims, c)
	}
	return claims, rows.Err()
}

// Distribution returns the distribution recorded for cycle
func (l *PostgresLedger) Distribution(ctx context.Context, cycle string) (*models.Distribution, error) {
	query := `
		SELECT id, cycle, profit::text, pool::text, distributed::text, remainder::text, holder_count, created_at
		FROM dividend_distributions
		WHERE cycle = $1
	`
	var d models.Distribution
	err := l.db.Pool().QueryRow(ctx, query, cycle).Scan(
		&d.ID, &d.Cycle, &d.Profit, &d.Pool, &d.Distributed, &d.Remainder, &d.HolderCount, &d.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err, "get distribution")
	}
	return &d, nil
}

// InTx runs fn inside a READ COMMITTED transaction. Row locks taken through LockPhase
// and LockDividendAccount serialize competing writers.
func (l *PostgresLedger) InTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	tx, err := l.db.Pool().BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // no-op after commit
	}()

	if err := fn(&pgLedgerTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return duplicate(err, "commit transaction")
	}
	return nil
}

type pgLedgerTx struct {
	tx pgx.Tx
}

func (t *pgLedgerTx) LockPhase(ctx context.Context, ordinal int) (*models.Phase, error) {
	query := `SELECT ` + phaseColumns + ` FROM sale_phases WHERE ordinal = $1 FOR UPDATE`
	p, err := scanPhase(t.tx.QueryRow(ctx, query, ordinal))
	if err != nil {
		return nil, notFound(err, "lock phase")
	}
	return p, nil
}

func (t *pgLedgerTx) SavePhase(ctx context.Context, phase *models.Phase) error {
	query := `
		UPDATE sale_phases
		SET tokens_sold = $2, amount_raised = $3, is_active = $4, is_completed = $5, updated_at = $6
		WHERE ordinal = $1
	`
	tag, err := t.tx.Exec(ctx, query,
		phase.Ordinal,
		phase.TokensSold,
		phase.AmountRaised,
		phase.IsActive,
		phase.IsCompleted,
		phase.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save phase %d: %w", phase.Ordinal, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgLedgerTx) InsertPhase(ctx context.Context, phase *models.Phase) error {
	query := `
		INSERT INTO sale_phases (
			ordinal, name, description, contract_address,
			token_price, total_tokens, tokens_sold, amount_raised, supply_percentage,
			start_time, end_time, min_purchase, max_purchase, bonus_percentage,
			is_active, is_completed, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`
	_, err := t.tx.Exec(ctx, query,
		phase.Ordinal,
		phase.Name,
		phase.Description,
		phase.ContractAddress,
		phase.TokenPrice,
		phase.TotalTokens,
		phase.TokensSold,
		phase.AmountRaised,
		phase.SupplyPercentage,
		phase.StartTime,
		phase.EndTime,
		phase.MinPurchase,
		phase.MaxPurchase,
		phase.BonusPercentage,
		phase.IsActive,
		phase.IsCompleted,
		phase.CreatedAt,
		phase.UpdatedAt,
	)
	if err != nil {
		return duplicate(err, "insert phase")
	}
	return nil
}

func (t *pgLedgerTx) PurchaseByTxRef(ctx context.Context, txRef string) (*models.PurchaseRecord, error) {
	return purchaseByTxRef(ctx, t.tx, txRef)
}

func (t *pgLedgerTx) InsertPurchase(ctx context.Context, record *models.PurchaseRecord) error {
	query := `
		INSERT INTO purchases (
			id, tx_ref, holder_address, phase_ordinal,
			amount_paid, base_tokens, bonus_tokens, tokens_credited,
			referrer_address, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10)
	`
	_, err := t.tx.Exec(ctx, query,
		record.ID,
		record.TxRef,
		record.Holder,
		record.PhaseOrdinal,
		record.AmountPaid,
		record.BaseTokens,
		record.BonusTokens,
		record.TokensCredited,
		record.Referrer,
		record.CreatedAt,
	)
	if err != nil {
		return duplicate(err, "insert purchase")
	}
	return nil
}

func (t *pgLedgerTx) Claim(ctx context.Context, holder, cycle string) (*models.DividendClaim, error) {
	query := `SELECT ` + claimColumns + ` FROM dividend_claims WHERE holder_address = $1 AND cycle = $2`
	c, err := scanClaim(t.tx.QueryRow(ctx, query, holder, cycle))
	if err != nil {
		return nil, notFound(err, "get claim")
	}
	return c, nil
}

func (t *pgLedgerTx) InsertClaim(ctx context.Context, claim *models.DividendClaim) error {
	query := `
		INSERT INTO dividend_claims (id, holder_address, cycle, amount, claimed_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := t.tx.Exec(ctx, query, claim.ID, claim.Holder, claim.Cycle, claim.Amount, claim.ClaimedAt)
	if err != nil {
		return duplicate(err, "insert claim")
	}
	return nil
}

func (t *pgLedgerTx) LockDividendAccount(ctx context.Context, holder string) (*models.DividendAccount, error) {
	// Materialize the row first so there is something to lock
	_, err := t.tx.Exec(ctx, `
		INSERT INTO dividend_accounts (holder_address, available, total_received, updated_at)
		VALUES ($1, 0, 0, NOW())
		ON CONFLICT (holder_address) DO NOTHING
	`, holder)
	if err != nil {
		return nil, fmt.Errorf("failed to create dividend account: %w", err)
	}

	query := `SELECT ` + accountColumns + ` FROM dividend_accounts WHERE holder_address = $1 FOR UPDATE`
	a, err := scanAccount(t.tx.QueryRow(ctx, query, holder))
	if err != nil {
		return nil, fmt.Errorf("failed to lock dividend account: %w", err)
	}
	return a, nil
}

func (t *pgLedgerTx) SaveDividendAccount(ctx context.Context, account *models.DividendAccount) error {
	query := `
		INSERT INTO dividend_accounts (holder_address, available, total_received, last_distribution, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (holder_address) DO UPDATE SET
			available = EXCLUDED.available,
			total_received = EXCLUDED.total_received,
			last_distribution = EXCLUDED.last_distribution,
			updated_at = EXCLUDED.updated_at
	`
	_, err := t.tx.Exec(ctx, query,
		account.Holder,
		account.Available,
		account.TotalReceived,
		account.LastDistribution,
		account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save dividend account: %w", err)
	}
	return nil
}

func (t *pgLedgerTx) InsertDistribution(ctx context.Context, d *models.Distribution) error {
	query := `
		INSERT INTO dividend_distributions (id, cycle, profit, pool, distributed, remainder, holder_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := t.tx.Exec(ctx, query,
		d.ID, d.Cycle, d.Profit, d.Pool, d.Distributed, d.Remainder, d.HolderCount, d.CreatedAt,
	)
	if err != nil {
		return duplicate(err, "insert distribution")
	}
	return nil
}

var (
	_ Ledger = (*PostgresLedger)(nil)
	_ Ledger = (*MemoryLedger)(nil)
)
