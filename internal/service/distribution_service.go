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

// payoutScale is the precision of credited dividends; shares are floored to it
const payoutScale = 8

// DistributionService credits a cycle's profit pool to eligible holders.
// It is the event that populates availableDividends for later claims.
type DistributionService struct {
	ledger     storage.Ledger
	calculator *DividendCalculator
	logger     *logging.Logger
}

// NewDistributionService creates a new distribution service
func NewDistributionService(ledger storage.Ledger, calculator *DividendCalculator) *DistributionService {
	return &DistributionService{
		ledger:     ledger,
		calculator: calculator,
		logger:     logging.GetGlobalLogger().WithField("component", "DistributionService"),
	}
}

// SplitPool divides pool among holders in proportion to balance/totalSupply, flooring each
// share to payoutScale digits. Holders with no balance receive nothing. The returned
// remainder is the part of pool not credited to anyone.
func SplitPool(pool decimal.Decimal, holders []*models.HolderAccount, totalSupply decimal.Decimal) ([]models.DividendCredit, decimal.Decimal) {
	credits := make([]models.DividendCredit, 0, len(holders))
	distributed := decimal.Zero
	if !pool.IsPositive() || !totalSupply.IsPositive() {
		return credits, pool
	}

	for _, h := range holders {
		if !h.Balance.IsPositive() {
			continue
		}
		share, _ := pool.Mul(h.Balance).QuoRem(totalSupply, payoutScale)
		if !share.IsPositive() {
			continue
		}
		credits = append(credits, models.DividendCredit{Holder: h.Address, Amount: share})
		distributed = distributed.Add(share)
	}
	return credits, pool.Sub(distributed)
}

// Distribute credits profit × distributionShare for cycle to every holder eligible at now.
// Each cycle can be distributed once.
func (s *DistributionService) Distribute(ctx context.Context, cycle string, profit decimal.Decimal, now time.Time) (*models.Distribution, error) {
	if _, err := models.ParseCycle(cycle); err != nil {
		return nil, errors.NewValidationError("cycle", err.Error())
	}
	if !profit.IsPositive() {
		return nil, errors.NewValidationError("profit", "must be positive")
	}

	if _, err := s.ledger.Distribution(ctx, cycle); err == nil {
		return nil, errors.NewAlreadyDistributedError(cycle)
	} else if !stderrors.Is(err, storage.ErrNotFound) {
		return nil, errors.NewDatabaseError("get distribution", err)
	}

	positions, err := s.ledger.HolderPositions(ctx)
	if err != nil {
		return nil, errors.NewDatabaseError("list holder positions", err)
	}

	eligible := make([]*models.HolderAccount, 0, len(positions))
	for _, pos := range positions {
		account, err := s.calculator.holderAccount(ctx, pos.Address)
		if err != nil {
			return nil, err
		}
		if s.calculator.eligible(account, now) {
			eligible = append(eligible, account)
		}
	}

	policy := s.calculator.Policy()
	pool := profit.Mul(policy.DistributionShare)
	credits, remainder := SplitPool(pool, eligible, policy.TotalSupply)

	distribution := &models.Distribution{
		ID:          uuid.New().String(),
		Cycle:       cycle,
		Profit:      profit,
		Pool:        pool,
		Distributed: pool.Sub(remainder),
		Remainder:   remainder,
		HolderCount: len(credits),
		CreatedAt:   now.UTC(),
	}

	err = s.ledger.InTx(ctx, func(tx storage.LedgerTx) error {
		if err := tx.InsertDistribution(ctx, distribution); err != nil {
			if stderrors.Is(err, storage.ErrDuplicate) {
				return errors.NewAlreadyDistributedError(cycle)
			}
			return errors.NewDatabaseError("insert distribution", err)
		}

		creditedAt := now.UTC()
		for _, credit := range credits {
			account, err := tx.LockDividendAccount(ctx, credit.Holder)
			if err != nil {
				return errors.NewDatabaseError("lock dividend account", err)
			}
			account.Available = account.Available.Add(credit.Amount)
			account.LastDistribution = &creditedAt
			account.UpdatedAt = creditedAt
			if err := tx.SaveDividendAccount(ctx, account); err != nil {
				return errors.NewDatabaseError("save dividend account", err)
			}
		}
		return nil
	})
	if err != nil {
		if stderrors.Is(err, storage.ErrDuplicate) {
			err = errors.NewAlreadyDistributedError(cycle)
		}
		return nil, ledgerError("distribute", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"cycle":       cycle,
		"profit":      profit.String(),
		"pool":        pool.String(),
		"distributed": distribution.Distributed.String(),
		"remainder":   remainder.String(),
		"holders":     len(credits),
	}).Info("Dividends distributed")

	return distribution, nil
}
