package service

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/cfd-ledger/internal/errors"
	"github.com/cfd-ledger/internal/logging"
	"github.com/cfd-ledger/internal/models"
	"github.com/cfd-ledger/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PayoutLedger records dividend claims, at most one per holder per cycle
type PayoutLedger struct {
	ledger     storage.Ledger
	calculator *DividendCalculator
	logger     *logging.Logger
}

// NewPayoutLedger creates a new payout ledger
func NewPayoutLedger(ledger storage.Ledger, calculator *DividendCalculator) *PayoutLedger {
	return &PayoutLedger{
		ledger:     ledger,
		calculator: calculator,
		logger:     logging.GetGlobalLogger().WithField("component", "PayoutLedger"),
	}
}

// Claim pays out everything holder has available for the cycle containing now.
// A holder who already claimed in that cycle gets ALREADY_CLAIMED, whatever is left.
func (l *PayoutLedger) Claim(ctx context.Context, holder string, now time.Time) (*models.DividendClaim, error) {
	cycle := models.CycleFor(now)
	normalized, err := normalizeHolder("holderAddress", holder)
	if err != nil {
		return nil, err
	}

	claimed, err := l.claimedIn(ctx, normalized, cycle)
	if err != nil {
		return nil, err
	}
	if claimed {
		l.logger.WithFields(map[string]interface{}{
			"holder": normalized,
			"cycle":  cycle,
		}).Warn("Claim rejected: cycle already claimed")
		return nil, errors.NewAlreadyClaimedError(normalized, cycle)
	}

	amount, err := l.calculator.ComputeClaimable(ctx, normalized, cycle, now)
	if err != nil {
		l.logger.WithError(err).WithFields(map[string]interface{}{
			"holder": holder,
			"cycle":  cycle,
		}).Warn("Claim rejected")
		return nil, err
	}
	return l.RecordClaim(ctx, normalized, cycle, amount, now)
}

// claimedIn reports whether holder already has a claim recorded for cycle
func (l *PayoutLedger) claimedIn(ctx context.Context, holder, cycle string) (bool, error) {
	claims, err := l.ledger.ClaimsByHolder(ctx, holder)
	if err != nil {
		return false, errors.NewDatabaseError("list claims", err)
	}
	for _, c := range claims {
		if c.Cycle == cycle {
			return true, nil
		}
	}
	return false, nil
}

// RecordClaim writes the claim and debits the holder's available dividends in one transaction.
// A second claim for the same (holder, cycle) fails with ALREADY_CLAIMED and changes nothing.
func (l *PayoutLedger) RecordClaim(ctx context.Context, holder, cycle string, amount decimal.Decimal, now time.Time) (*models.DividendClaim, error) {
	holder, err := normalizeHolder("holderAddress", holder)
	if err != nil {
		return nil, err
	}
	if _, err := models.ParseCycle(cycle); err != nil {
		return nil, errors.NewValidationError("cycle", err.Error())
	}
	if !amount.IsPositive() {
		return nil, errors.NewValidationError("amount", "must be positive")
	}

	claim := &models.DividendClaim{
		ID:        uuid.New().String(),
		Holder:    holder,
		Cycle:     cycle,
		Amount:    amount,
		ClaimedAt: now.UTC(),
	}

	err = l.ledger.InTx(ctx, func(tx storage.LedgerTx) error {
		// Locking the account first serializes concurrent claims by the same holder
		account, err := tx.LockDividendAccount(ctx, holder)
		if err != nil {
			return errors.NewDatabaseError("lock dividend account", err)
		}

		if _, err := tx.Claim(ctx, holder, cycle); err == nil {
			return errors.NewAlreadyClaimedError(holder, cycle)
		} else if !stderrors.Is(err, storage.ErrNotFound) {
			return errors.NewDatabaseError("get claim", err)
		}

		if !account.Available.IsPositive() {
			return errors.NewNothingToClaimError(holder)
		}
		if amount.GreaterThan(account.Available) {
			return errors.NewValidationError("amount", "exceeds available dividends "+account.Available.String())
		}

		if err := tx.InsertClaim(ctx, claim); err != nil {
			if stderrors.Is(err, storage.ErrDuplicate) {
				return errors.NewAlreadyClaimedError(holder, cycle)
			}
			return errors.NewDatabaseError("insert claim", err)
		}

		account.Available = account.Available.Sub(amount)
		account.TotalReceived = account.TotalReceived.Add(amount)
		account.UpdatedAt = now.UTC()
		if err := tx.SaveDividendAccount(ctx, account); err != nil {
			return errors.NewDatabaseError("save dividend account", err)
		}
		return nil
	})
	if err != nil {
		if stderrors.Is(err, storage.ErrDuplicate) {
			err = errors.NewAlreadyClaimedError(holder, cycle)
		}
		return nil, ledgerError("record claim", err)
	}

	l.logger.WithFields(map[string]interface{}{
		"holder": holder,
		"cycle":  cycle,
		"amount": amount.String(),
	}).Info("Dividend claim recorded")

	return claim, nil
}

// Claims returns the holder's claim history
func (l *PayoutLedger) Claims(ctx context.Context, holder string) ([]*models.DividendClaim, error) {
	holder, err := normalizeHolder("holderAddress", holder)
	if err != nil {
		return nil, err
	}
	claims, err := l.ledger.ClaimsByHolder(ctx, holder)
	if err != nil {
		return nil, errors.NewDatabaseError("list claims", err)
	}
	return claims, nil
}
