package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cfd-ledger/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	holderA = "0x00000000000000000000000000000000000000a1"
	holderB = "0x00000000000000000000000000000000000000b2"
	errStop = errors.New("stop")
	saleT0  = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
)

func testPhase(ordinal int) *models.Phase {
	start := saleT0.AddDate(0, 2*(ordinal-1), 0)
	return &models.Phase{
		Ordinal:          ordinal,
		Name:             "Phase",
		TokenPrice:       decimal.RequireFromString("0.01"),
		TotalTokens:      decimal.NewFromInt(2_100_000),
		TokensSold:       decimal.Zero,
		AmountRaised:     decimal.Zero,
		SupplyPercentage: decimal.NewFromInt(10),
		StartTime:        start,
		EndTime:          start.AddDate(0, 2, 0).Add(-time.Second),
		MinPurchase:      decimal.NewFromInt(10),
		MaxPurchase:      decimal.NewFromInt(10_000),
		BonusPercentage:  decimal.NewFromInt(20),
		CreatedAt:        saleT0,
		UpdatedAt:        saleT0,
	}
}

func testPurchase(holder string, ordinal int, tokens int64, at time.Time) *models.PurchaseRecord {
	return &models.PurchaseRecord{
		ID:             uuid.NewString(),
		TxRef:          uuid.NewString(),
		Holder:         holder,
		PhaseOrdinal:   ordinal,
		AmountPaid:     decimal.NewFromInt(10),
		BaseTokens:     decimal.NewFromInt(tokens),
		BonusTokens:    decimal.Zero,
		TokensCredited: decimal.NewFromInt(tokens),
		CreatedAt:      at,
	}
}

func seedPhases(t *testing.T, ledger Ledger, ordinals ...int) {
	t.Helper()
	err := ledger.InTx(testContext(t), func(tx LedgerTx) error {
		for _, o := range ordinals {
			if err := tx.InsertPhase(context.Background(), testPhase(o)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

// testLedgerContract exercises behavior every Ledger implementation must share.
// newLedger must return an empty ledger.
func testLedgerContract(t *testing.T, newLedger func(t *testing.T) Ledger) {
	t.Run("phases round trip in ordinal order", func(t *testing.T) {
		ledger := newLedger(t)
		seedPhases(t, ledger, 3, 1, 2)

		phases, err := ledger.Phases(testContext(t))
		require.NoError(t, err)
		require.Len(t, phases, 3)
		for i, p := range phases {
			assert.Equal(t, i+1, p.Ordinal)
			assert.True(t, p.TokenPrice.Equal(decimal.RequireFromString("0.01")))
			assert.True(t, p.StartTime.Equal(testPhase(i+1).StartTime))
		}

		_, err = ledger.Phase(testContext(t), 2)
		assert.NoError(t, err)
		_, err = ledger.Phase(testContext(t), 3)
		assert.NoError(t, err)
	})

	t.Run("missing rows report ErrNotFound", func(t *testing.T) {
		ledger := newLedger(t)
		ctx := testContext(t)

		_, err := ledger.Phase(ctx, 1)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = ledger.PurchaseByTxRef(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = ledger.Distribution(ctx, "2026-01")
		assert.ErrorIs(t, err, ErrNotFound)

		err = ledger.InTx(ctx, func(tx LedgerTx) error {
			_, err := tx.LockPhase(ctx, 1)
			return err
		})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("duplicate phase is rejected", func(t *testing.T) {
		ledger := newLedger(t)
		seedPhases(t, ledger, 1)

		err := ledger.InTx(testContext(t), func(tx LedgerTx) error {
			return tx.InsertPhase(context.Background(), testPhase(1))
		})
		assert.ErrorIs(t, err, ErrDuplicate)
	})

	t.Run("failed transaction leaves no trace", func(t *testing.T) {
		ledger := newLedger(t)
		seedPhases(t, ledger, 1)
		ctx := testContext(t)
		record := testPurchase(holderA, 1, 100, saleT0)

		err := ledger.InTx(ctx, func(tx LedgerTx) error {
			phase, err := tx.LockPhase(ctx, 1)
			if err != nil {
				return err
			}
			phase.TokensSold = phase.TokensSold.Add(record.TokensCredited)
			if err := tx.SavePhase(ctx, phase); err != nil {
				return err
			}
			if err := tx.InsertPurchase(ctx, record); err != nil {
				return err
			}
			return errStop
		})
		assert.ErrorIs(t, err, errStop)

		phase, err := ledger.Phase(ctx, 1)
		require.NoError(t, err)
		assert.True(t, phase.TokensSold.IsZero())
		_, err = ledger.PurchaseByTxRef(ctx, record.TxRef)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("purchases aggregate into positions", func(t *testing.T) {
		ledger := newLedger(t)
		seedPhases(t, ledger, 1)
		ctx := testContext(t)

		first := testPurchase(holderA, 1, 100, saleT0.Add(48*time.Hour))
		second := testPurchase(holderA, 1, 50, saleT0.Add(72*time.Hour))
		other := testPurchase(holderB, 1, 25, saleT0.Add(24*time.Hour))
		err := ledger.InTx(ctx, func(tx LedgerTx) error {
			for _, r := range []*models.PurchaseRecord{first, second, other} {
				if err := tx.InsertPurchase(ctx, r); err != nil {
					return err
				}
			}
			return nil
		})
		require.NoError(t, err)

		pos, err := ledger.HolderPosition(ctx, holderA)
		require.NoError(t, err)
		assert.True(t, pos.Balance.Equal(decimal.NewFromInt(150)))
		assert.True(t, pos.FirstAcquisition.Equal(first.CreatedAt))

		none, err := ledger.HolderPosition(ctx, "0x00000000000000000000000000000000000000c3")
		require.NoError(t, err)
		assert.True(t, none.Balance.IsZero())
		assert.False(t, none.HasAcquired())

		positions, err := ledger.HolderPositions(ctx)
		require.NoError(t, err)
		require.Len(t, positions, 2)
		assert.Equal(t, holderA, positions[0].Address)
		assert.Equal(t, holderB, positions[1].Address)

		records, err := ledger.PurchasesByHolder(ctx, holderA)
		require.NoError(t, err)
		assert.Len(t, records, 2)

		stored, err := ledger.PurchaseByTxRef(ctx, first.TxRef)
		require.NoError(t, err)
		assert.Equal(t, first.Holder, stored.Holder)
		assert.Empty(t, stored.Referrer)
	})

	t.Run("duplicate tx ref is rejected", func(t *testing.T) {
		ledger := newLedger(t)
		seedPhases(t, ledger, 1)
		ctx := testContext(t)
		record := testPurchase(holderA, 1, 100, saleT0)

		insert := func(r *models.PurchaseRecord) error {
			return ledger.InTx(ctx, func(tx LedgerTx) error { return tx.InsertPurchase(ctx, r) })
		}
		require.NoError(t, insert(record))

		replay := testPurchase(holderB, 1, 5, saleT0)
		replay.TxRef = record.TxRef
		assert.ErrorIs(t, insert(replay), ErrDuplicate)
	})

	t.Run("one claim per holder and cycle", func(t *testing.T) {
		ledger := newLedger(t)
		ctx := testContext(t)
		claim := &models.DividendClaim{
			ID:        uuid.NewString(),
			Holder:    holderA,
			Cycle:     "2026-03",
			Amount:    decimal.NewFromInt(12),
			ClaimedAt: saleT0,
		}
		insert := func(c *models.DividendClaim) error {
			return ledger.InTx(ctx, func(tx LedgerTx) error { return tx.InsertClaim(ctx, c) })
		}

		require.NoError(t, insert(claim))
		again := claim.Clone()
		again.ID = uuid.NewString()
		assert.ErrorIs(t, insert(again), ErrDuplicate)

		nextCycle := claim.Clone()
		nextCycle.ID = uuid.NewString()
		nextCycle.Cycle = "2026-04"
		assert.NoError(t, insert(nextCycle))

		claims, err := ledger.ClaimsByHolder(ctx, holderA)
		require.NoError(t, err)
		assert.Len(t, claims, 2)

		err = ledger.InTx(ctx, func(tx LedgerTx) error {
			got, err := tx.Claim(ctx, holderA, "2026-03")
			if err != nil {
				return err
			}
			assert.True(t, got.Amount.Equal(decimal.NewFromInt(12)))
			return nil
		})
		assert.NoError(t, err)
	})

	t.Run("dividend accounts start empty and persist", func(t *testing.T) {
		ledger := newLedger(t)
		ctx := testContext(t)

		empty, err := ledger.DividendAccount(ctx, holderA)
		require.NoError(t, err)
		assert.True(t, empty.Available.IsZero())
		assert.Nil(t, empty.LastDistribution)

		credited := saleT0.Add(time.Hour)
		err = ledger.InTx(ctx, func(tx LedgerTx) error {
			account, err := tx.LockDividendAccount(ctx, holderA)
			if err != nil {
				return err
			}
			account.Available = account.Available.Add(decimal.RequireFromString("7.5"))
			account.LastDistribution = &credited
			account.UpdatedAt = credited
			return tx.SaveDividendAccount(ctx, account)
		})
		require.NoError(t, err)

		account, err := ledger.DividendAccount(ctx, holderA)
		require.NoError(t, err)
		assert.True(t, account.Available.Equal(decimal.RequireFromString("7.5")))
		require.NotNil(t, account.LastDistribution)
		assert.True(t, account.LastDistribution.Equal(credited))
	})

	t.Run("one distribution per cycle", func(t *testing.T) {
		ledger := newLedger(t)
		ctx := testContext(t)
		d := &models.Distribution{
			ID:          uuid.NewString(),
			Cycle:       "2026-03",
			Profit:      decimal.NewFromInt(1000),
			Pool:        decimal.NewFromInt(600),
			Distributed: decimal.NewFromInt(600),
			Remainder:   decimal.Zero,
			HolderCount: 1,
			CreatedAt:   saleT0,
		}
		insert := func(d *models.Distribution) error {
			return ledger.InTx(ctx, func(tx LedgerTx) error { return tx.InsertDistribution(ctx, d) })
		}

		require.NoError(t, insert(d))
		again := d.Clone()
		again.ID = uuid.NewString()
		assert.ErrorIs(t, insert(again), ErrDuplicate)

		stored, err := ledger.Distribution(ctx, "2026-03")
		require.NoError(t, err)
		assert.True(t, stored.Pool.Equal(decimal.NewFromInt(600)))
		assert.Equal(t, 1, stored.HolderCount)
	})

	t.Run("concurrent writers do not lose updates", func(t *testing.T) {
		ledger := newLedger(t)
		seedPhases(t, ledger, 1)
		ctx := testContext(t)

		const writers = 20
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := ledger.InTx(ctx, func(tx LedgerTx) error {
					phase, err := tx.LockPhase(ctx, 1)
					if err != nil {
						return err
					}
					phase.TokensSold = phase.TokensSold.Add(decimal.NewFromInt(1))
					return tx.SavePhase(ctx, phase)
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		phase, err := ledger.Phase(ctx, 1)
		require.NoError(t, err)
		assert.True(t, phase.TokensSold.Equal(decimal.NewFromInt(writers)), "tokensSold = %s", phase.TokensSold)
	})
}
