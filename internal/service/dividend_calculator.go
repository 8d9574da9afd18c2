package service

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/cfd-ledger/internal/errors"
	"github.com/cfd-ledger/internal/logging"
	"github.com/cfd-ledger/internal/models"
	"github.com/cfd-ledger/internal/storage"
	"github.com/shopspring/decimal"
)

var monthsPerYear = decimal.NewFromInt(12)

// DividendPolicy holds the profit-sharing constants
type DividendPolicy struct {
	TotalSupply          decimal.Decimal
	DistributionShare    decimal.Decimal
	MinimumHoldingPeriod time.Duration
}

// DefaultDividendPolicy returns 21M supply, 60% of profit to holders and a 30 day holding period
func DefaultDividendPolicy() DividendPolicy {
	return DividendPolicy{
		TotalSupply:          DefaultTotalSupply,
		DistributionShare:    decimal.RequireFromString("0.6"),
		MinimumHoldingPeriod: 30 * 24 * time.Hour,
	}
}

// DividendCalculator computes eligibility, projections and claimable amounts
type DividendCalculator struct {
	ledger storage.Ledger
	oracle BalanceOracle
	policy DividendPolicy
	logger *logging.Logger
}

// NewDividendCalculator creates a new dividend calculator
func NewDividendCalculator(ledger storage.Ledger, oracle BalanceOracle, policy DividendPolicy) *DividendCalculator {
	return &DividendCalculator{
		ledger: ledger,
		oracle: oracle,
		policy: policy,
		logger: logging.GetGlobalLogger().WithField("component", "DividendCalculator"),
	}
}

// Policy returns the calculator's policy constants
func (c *DividendCalculator) Policy() DividendPolicy {
	return c.policy
}

// ProjectPayout estimates a holder's payout. It is advisory and never written to the ledger.
// A zero balance or zero supply yields a zero projection.
func (c *DividendCalculator) ProjectPayout(holderBalance, totalSupply, monthlyProfit, distributionShare decimal.Decimal) models.Projection {
	projection := models.Projection{
		UserPercentage:  decimal.Zero,
		MonthlyDividend: decimal.Zero,
		YearlyDividend:  decimal.Zero,
	}
	if !holderBalance.IsPositive() || !totalSupply.IsPositive() {
		return projection
	}

	// Multiply before dividing so the only rounding is the final division
	monthly := monthlyProfit.Mul(distributionShare).Mul(holderBalance).DivRound(totalSupply, tokenScale)
	projection.UserPercentage = holderBalance.Mul(hundred).DivRound(totalSupply, tokenScale)
	projection.MonthlyDividend = monthly
	projection.YearlyDividend = monthly.Mul(monthsPerYear)
	return projection
}

// IsEligible reports whether now - firstAcquisition >= minimumHoldingPeriod
func IsEligible(firstAcquisition, now time.Time, minimumHoldingPeriod time.Duration) bool {
	return now.Sub(firstAcquisition) >= minimumHoldingPeriod
}

// DaysHolding returns the number of whole days since firstAcquisition, zero when unknown
func DaysHolding(firstAcquisition, now time.Time) int {
	if firstAcquisition.IsZero() || now.Before(firstAcquisition) {
		return 0
	}
	return int(now.Sub(firstAcquisition) / (24 * time.Hour))
}

// eligible applies IsEligible to a holder account; holders that never acquired are not eligible
func (c *DividendCalculator) eligible(account *models.HolderAccount, now time.Time) bool {
	return account.HasAcquired() && IsEligible(account.FirstAcquisition, now, c.policy.MinimumHoldingPeriod)
}

func (c *DividendCalculator) holderAccount(ctx context.Context, holder string) (*models.HolderAccount, error) {
	account, err := c.oracle.HolderAccount(ctx, holder)
	if err != nil {
		var catErr *errors.CategorizedError
		if stderrors.As(err, &catErr) {
			return nil, catErr
		}
		return nil, errors.NewProviderError("balance oracle", err)
	}
	return account, nil
}

// Project returns the projection for holder's current balance and the given monthly profit
func (c *DividendCalculator) Project(ctx context.Context, holder string, monthlyProfit decimal.Decimal) (models.Projection, error) {
	holder, err := normalizeHolder("holderAddress", holder)
	if err != nil {
		return models.Projection{}, err
	}
	if monthlyProfit.IsNegative() {
		return models.Projection{}, errors.NewValidationError("monthlyProfit", "must not be negative")
	}

	account, err := c.holderAccount(ctx, holder)
	if err != nil {
		return models.Projection{}, err
	}
	return c.ProjectPayout(account.Balance, c.policy.TotalSupply, monthlyProfit, c.policy.DistributionShare), nil
}

// Info summarizes holder's dividend position at now
func (c *DividendCalculator) Info(ctx context.Context, holder string, now time.Time) (*models.DividendInfo, error) {
	holder, err := normalizeHolder("holderAddress", holder)
	if err != nil {
		return nil, err
	}

	account, err := c.holderAccount(ctx, holder)
	if err != nil {
		return nil, err
	}
	accrual, err := c.ledger.DividendAccount(ctx, holder)
	if err != nil {
		return nil, errors.NewDatabaseError("get dividend account", err)
	}

	return &models.DividendInfo{
		Holder:             holder,
		Balance:            account.Balance,
		IsEligible:         c.eligible(account, now),
		DaysHolding:        DaysHolding(account.FirstAcquisition, now),
		AvailableDividends: accrual.Available,
		TotalReceived:      accrual.TotalReceived,
		LastDistribution:   accrual.LastDistribution,
	}, nil
}

// ComputeClaimable returns the amount holder may claim in cycle at now.
// It fails with NOT_ELIGIBLE inside the holding period and NOTHING_TO_CLAIM without accruals.
func (c *DividendCalculator) ComputeClaimable(ctx context.Context, holder, cycle string, now time.Time) (decimal.Decimal, error) {
	holder, err := normalizeHolder("holderAddress", holder)
	if err != nil {
		return decimal.Zero, err
	}
	if _, err := models.ParseCycle(cycle); err != nil {
		return decimal.Zero, errors.NewValidationError("cycle", err.Error())
	}

	account, err := c.holderAccount(ctx, holder)
	if err != nil {
		return decimal.Zero, err
	}
	if !c.eligible(account, now) {
		days := DaysHolding(account.FirstAcquisition, now)
		c.logger.WithFields(map[string]interface{}{
			"holder":      holder,
			"daysHolding": days,
		}).Debug("Holder inside minimum holding period")
		return decimal.Zero, errors.NewNotEligibleError(holder, days)
	}

	accrual, err := c.ledger.DividendAccount(ctx, holder)
	if err != nil {
		return decimal.Zero, errors.NewDatabaseError("get dividend account", err)
	}
	if !accrual.Available.IsPositive() {
		return decimal.Zero, errors.NewNothingToClaimError(holder)
	}
	return accrual.Available, nil
}
