package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cfd-ledger/internal/errors"
	"github.com/cfd-ledger/internal/models"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitPool(t *testing.T) {
	holders := []*models.HolderAccount{
		{Address: alice, Balance: decimal.NewFromInt(1)},
		{Address: bob, Balance: decimal.NewFromInt(2)},
		{Address: "0x00000000000000000000000000000000000000c3", Balance: decimal.Zero},
	}

	credits, remainder := SplitPool(decimal.NewFromInt(1), holders, decimal.NewFromInt(3))

	require.Len(t, credits, 2)
	assertDecimal(t, "0.33333333", credits[0].Amount)
	assertDecimal(t, "0.66666666", credits[1].Amount)
	assertDecimal(t, "0.00000001", remainder)
}

func TestSplitPool_Degenerate(t *testing.T) {
	holders := []*models.HolderAccount{{Address: alice, Balance: decimal.NewFromInt(1)}}

	credits, remainder := SplitPool(decimal.Zero, holders, decimal.NewFromInt(3))
	assert.Empty(t, credits)
	assert.True(t, remainder.IsZero())

	credits, remainder = SplitPool(decimal.NewFromInt(5), holders, decimal.Zero)
	assert.Empty(t, credits)
	assertDecimal(t, "5", remainder)
}

// Credits plus remainder always reconstruct the pool and no holder is over-credited
func TestSplitPool_Conserves(t *testing.T) {
	properties := gopter.NewProperties(nil)
	supply := decimal.NewFromInt(21_000_000)

	properties.Property("sum(credits) + remainder == pool", prop.ForAll(
		func(balances []int64, poolCents int64) bool {
			pool := decimal.New(poolCents, -2)
			holders := make([]*models.HolderAccount, len(balances))
			byAddress := make(map[string]decimal.Decimal, len(balances))
			for i, b := range balances {
				address := fmt.Sprintf("holder-%d", i)
				holders[i] = &models.HolderAccount{Address: address, Balance: decimal.NewFromInt(b)}
				byAddress[address] = holders[i].Balance
			}

			credits, remainder := SplitPool(pool, holders, supply)
			total := remainder
			for _, c := range credits {
				exact := pool.Mul(byAddress[c.Holder]).Div(supply)
				if c.Amount.GreaterThan(exact) {
					return false
				}
				total = total.Add(c.Amount)
			}
			return total.Equal(pool) && !remainder.IsNegative()
		},
		gen.SliceOfN(10, gen.Int64Range(1, 2_000_000)),
		gen.Int64Range(1, 1_000_000_000),
	))

	properties.TestingRun(t)
}

func TestDistribute_CreditsEligibleHolders(t *testing.T) {
	sale := newTestSale(t)
	ctx := context.Background()
	sale.buy(t, alice, 1, "10", "tx-alice", saleStart.Add(time.Hour))
	// bob buys too late to be eligible in March
	sale.buy(t, bob, 1, "10", "tx-bob", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))

	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	d, err := sale.distribution.Distribute(ctx, "2026-03", decimal.NewFromInt(21_000_000), now)
	require.NoError(t, err)

	assertDecimal(t, "12600000", d.Pool)
	assertDecimal(t, "720", d.Distributed)
	assertDecimal(t, "12599280", d.Remainder)
	assert.Equal(t, 1, d.HolderCount)

	account, err := sale.ledger.DividendAccount(ctx, alice)
	require.NoError(t, err)
	assertDecimal(t, "720", account.Available)
	require.NotNil(t, account.LastDistribution)
	assert.True(t, account.LastDistribution.Equal(now))

	bobAccount, err := sale.ledger.DividendAccount(ctx, bob)
	require.NoError(t, err)
	assert.True(t, bobAccount.Available.IsZero())

	stored, err := sale.ledger.Distribution(ctx, "2026-03")
	require.NoError(t, err)
	assert.Equal(t, d.ID, stored.ID)
}

func TestDistribute_OncePerCycle(t *testing.T) {
	sale := newTestSale(t)
	ctx := context.Background()
	sale.buy(t, alice, 1, "10", "tx", saleStart.Add(time.Hour))
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	_, err := sale.distribution.Distribute(ctx, "2026-03", decimal.NewFromInt(1000), now)
	require.NoError(t, err)

	_, err = sale.distribution.Distribute(ctx, "2026-03", decimal.NewFromInt(1000), now)
	assertCode(t, err, errors.CodeAlreadyDistributed)

	account, err := sale.ledger.DividendAccount(ctx, alice)
	require.NoError(t, err)
	assertDecimal(t, "0.03428571", account.Available)
}

func TestDistribute_Validation(t *testing.T) {
	sale := newTestSale(t)
	ctx := context.Background()

	_, err := sale.distribution.Distribute(ctx, "March", decimal.NewFromInt(1000), saleStart)
	assertCode(t, err, errors.CodeValidation)

	_, err = sale.distribution.Distribute(ctx, "2026-03", decimal.Zero, saleStart)
	assertCode(t, err, errors.CodeValidation)
}
