package service

import (
	"time"

	"github.com/cfd-ledger/internal/models"
	"github.com/shopspring/decimal"
)

// DefaultTotalSupply is the fixed token supply
var DefaultTotalSupply = decimal.NewFromInt(21_000_000)

// DefaultPhases returns the standard three-tier catalogue with consecutive six month
// windows beginning at start. Each window ends one second before the next one opens.
func DefaultPhases(start time.Time) []*models.Phase {
	start = start.UTC()
	tiers := []struct {
		name        string
		description string
		price       string
		total       int64
		supplyPct   int64
		bonus       int64
		maxPurchase int64
	}{
		{"Phase 1 - Early Bird", "First sale phase with the deepest discount", "0.01", 1_680_000, 8, 20, 1000},
		{"Phase 2 - Public Sale", "Second sale phase open to the general public", "0.05", 4_200_000, 20, 10, 500},
		{"Phase 3 - Final Sale", "Final sale phase after launch", "1.00", 2_100_000, 10, 0, 100},
	}

	phases := make([]*models.Phase, 0, len(tiers))
	windowStart := start
	for i, tier := range tiers {
		windowEnd := windowStart.AddDate(0, 6, 0)
		phases = append(phases, &models.Phase{
			Ordinal:          i + 1,
			Name:             tier.name,
			Description:      tier.description,
			TokenPrice:       decimal.RequireFromString(tier.price),
			TotalTokens:      decimal.NewFromInt(tier.total),
			TokensSold:       decimal.Zero,
			AmountRaised:     decimal.Zero,
			SupplyPercentage: decimal.NewFromInt(tier.supplyPct),
			StartTime:        windowStart,
			EndTime:          windowEnd.Add(-time.Second),
			MinPurchase:      decimal.RequireFromString("0.01"),
			MaxPurchase:      decimal.NewFromInt(tier.maxPurchase),
			BonusPercentage:  decimal.NewFromInt(tier.bonus),
		})
		windowStart = windowEnd
	}
	return phases
}
