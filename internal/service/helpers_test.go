package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cfd-ledger/internal/errors"
	"github.com/cfd-ledger/internal/models"
	"github.com/cfd-ledger/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	saleStart = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	alice     = "0x00000000000000000000000000000000000000a1"
	bob       = "0x00000000000000000000000000000000000000b2"
)

// testSale wires every service over one in-memory ledger
type testSale struct {
	ledger       *storage.MemoryLedger
	cache        *fakeStatusCache
	registry     *PhaseRegistry
	recorder     *PurchaseRecorder
	calculator   *DividendCalculator
	payouts      *PayoutLedger
	distribution *DistributionService
}

func newTestSale(t *testing.T) *testSale {
	t.Helper()
	s := newUnprovisionedSale()
	_, err := s.registry.Provision(context.Background(), DefaultPhases(saleStart), saleStart)
	require.NoError(t, err)
	return s
}

func newUnprovisionedSale() *testSale {
	ledger := storage.NewMemoryLedger()
	cache := &fakeStatusCache{}
	registry := NewPhaseRegistry(ledger, cache)
	calculator := NewDividendCalculator(ledger, storage.NewLedgerBalanceOracle(ledger), DefaultDividendPolicy())
	return &testSale{
		ledger:       ledger,
		cache:        cache,
		registry:     registry,
		recorder:     NewPurchaseRecorder(ledger, registry),
		calculator:   calculator,
		payouts:      NewPayoutLedger(ledger, calculator),
		distribution: NewDistributionService(ledger, calculator),
	}
}

func (s *testSale) buy(t *testing.T, holder string, phase int, amount string, txRef string, at time.Time) *PurchaseResult {
	t.Helper()
	result, err := s.recorder.ApplyPurchase(context.Background(), PurchaseEvent{
		HolderAddress: holder,
		PhaseOrdinal:  phase,
		AmountPaid:    decimal.RequireFromString(amount),
		ExternalTxRef: txRef,
		ObservedAt:    at,
	})
	require.NoError(t, err)
	return result
}

func (s *testSale) phase(t *testing.T, ordinal int) *models.Phase {
	t.Helper()
	p, err := s.ledger.Phase(context.Background(), ordinal)
	require.NoError(t, err)
	return p
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, code), "want %s, got %v", code, err)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

type fakeStatusCache struct {
	mu            sync.Mutex
	phases        []*models.Phase
	version       int64
	sets          int
	invalidations int
	// beforeSet runs once, between the ledger read and the write-back
	beforeSet func()
}

func (c *fakeStatusCache) Get(ctx context.Context) ([]*models.Phase, int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phases, c.version, c.phases != nil, nil
}

func (c *fakeStatusCache) Set(ctx context.Context, version int64, phases []*models.Phase) (bool, error) {
	c.mu.Lock()
	hook := c.beforeSet
	c.beforeSet = nil
	c.mu.Unlock()
	if hook != nil {
		hook()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if version != c.version {
		return false, nil
	}
	c.phases = phases
	c.sets++
	return true, nil
}

func (c *fakeStatusCache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phases = nil
	c.version++
	c.invalidations++
	return nil
}

func (c *fakeStatusCache) counts() (sets, invalidations int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sets, c.invalidations
}
