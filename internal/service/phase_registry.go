package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/cfd-ledger/internal/errors"
	"github.com/cfd-ledger/internal/logging"
	"github.com/cfd-ledger/internal/models"
	"github.com/cfd-ledger/internal/storage"
	"github.com/cfd-ledger/internal/types"
	"github.com/shopspring/decimal"
)

// PhaseCount is the fixed number of sale phases
const PhaseCount = 3

// PhaseRegistry owns the sale phases and their counters.
// Counter mutations happen only inside a ledger transaction that holds the phase row lock.
type PhaseRegistry struct {
	ledger storage.Ledger
	cache  StatusCache
	logger *logging.Logger
}

// NewPhaseRegistry creates a new phase registry. cache may be nil.
func NewPhaseRegistry(ledger storage.Ledger, cache StatusCache) *PhaseRegistry {
	return &PhaseRegistry{
		ledger: ledger,
		cache:  cache,
		logger: logging.GetGlobalLogger().WithField("component", "PhaseRegistry"),
	}
}

// GetActivePhase returns the phase whose window contains now and that is not completed.
// It returns (nil, nil) between phases.
func (r *PhaseRegistry) GetActivePhase(ctx context.Context, now time.Time) (*models.Phase, error) {
	phases, err := r.ledger.Phases(ctx)
	if err != nil {
		return nil, errors.NewDatabaseError("list phases", err)
	}
	for _, p := range phases {
		if p.AcceptsPurchases(now) && !p.SoldOut() {
			return p, nil
		}
	}
	return nil, nil
}

// Phases returns every phase ordered by ordinal
func (r *PhaseRegistry) Phases(ctx context.Context) ([]*models.Phase, error) {
	phases, err := r.ledger.Phases(ctx)
	if err != nil {
		return nil, errors.NewDatabaseError("list phases", err)
	}
	return phases, nil
}

// Phase returns one phase by ordinal, or PHASE_NOT_FOUND
func (r *PhaseRegistry) Phase(ctx context.Context, ordinal int) (*models.Phase, error) {
	phase, err := r.ledger.Phase(ctx, ordinal)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return nil, errors.NewPhaseNotFoundError(ordinal)
		}
		return nil, errors.NewDatabaseError("get phase", err)
	}
	return phase, nil
}

// ReserveCapacity checks tokensSold + tokens <= totalTokens and, on success, increments the
// counters and persists them through tx. On failure nothing is mutated.
// The caller must have obtained phase through tx.LockPhase.
func (r *PhaseRegistry) ReserveCapacity(ctx context.Context, tx storage.LedgerTx, phase *models.Phase, tokens, amountPaid decimal.Decimal) (decimal.Decimal, error) {
	if !tokens.IsPositive() {
		return decimal.Zero, errors.NewValidationError("tokens", "must be positive")
	}

	newSold := phase.TokensSold.Add(tokens)
	if newSold.GreaterThan(phase.TotalTokens) {
		return decimal.Zero, errors.NewCapacityExceededError(phase.Ordinal, tokens.String(), phase.TokensRemaining().String())
	}

	phase.TokensSold = newSold
	phase.AmountRaised = phase.AmountRaised.Add(amountPaid)
	phase.UpdatedAt = time.Now().UTC()
	if err := tx.SavePhase(ctx, phase); err != nil {
		return decimal.Zero, errors.NewDatabaseError("save phase counters", err)
	}
	return newSold, nil
}

// TransitionIfComplete moves phase to the state the state machine yields at now and
// persists the flags if they changed. It is idempotent. A sold out phase becomes completed.
// Activating a phase retires any earlier phase still flagged active.
func (r *PhaseRegistry) TransitionIfComplete(ctx context.Context, tx storage.LedgerTx, phase *models.Phase, now time.Time) error {
	next := phase.NextState(now)
	if next == types.PhaseStateActive && !phase.IsActive {
		if err := r.retireEarlierPhases(ctx, tx, phase.Ordinal, now); err != nil {
			return err
		}
	}

	if !phase.SetState(next) {
		return nil
	}
	phase.UpdatedAt = now.UTC()
	if err := tx.SavePhase(ctx, phase); err != nil {
		return errors.NewDatabaseError("save phase state", err)
	}

	r.logger.WithFields(map[string]interface{}{
		"phase":      phase.Ordinal,
		"state":      next,
		"tokensSold": phase.TokensSold.String(),
	}).Info("Phase state changed")
	return nil
}

func (r *PhaseRegistry) retireEarlierPhases(ctx context.Context, tx storage.LedgerTx, ordinal int, now time.Time) error {
	for earlier := 1; earlier < ordinal; earlier++ {
		p, err := tx.LockPhase(ctx, earlier)
		if err != nil {
			if stderrors.Is(err, storage.ErrNotFound) {
				continue
			}
			return errors.NewDatabaseError("lock phase", err)
		}
		if !p.IsActive {
			continue
		}

		next := p.NextState(now)
		if next != types.PhaseStateCompleted {
			return errors.NewInternalError(fmt.Sprintf("phase %d is still open while phase %d activates", earlier, ordinal), nil)
		}
		p.SetState(next)
		p.UpdatedAt = now.UTC()
		if err := tx.SavePhase(ctx, p); err != nil {
			return errors.NewDatabaseError("save phase state", err)
		}
	}
	return nil
}

// Provision inserts the phases that do not exist yet. Existing phases are never overwritten.
// It returns the number of phases inserted.
func (r *PhaseRegistry) Provision(ctx context.Context, phases []*models.Phase, now time.Time) (int, error) {
	if err := ValidatePhaseSet(phases); err != nil {
		return 0, err
	}

	inserted := 0
	err := r.ledger.InTx(ctx, func(tx storage.LedgerTx) error {
		inserted = 0
		for _, p := range phases {
			_, err := tx.LockPhase(ctx, p.Ordinal)
			if err == nil {
				continue
			}
			if !stderrors.Is(err, storage.ErrNotFound) {
				return errors.NewDatabaseError("lock phase", err)
			}

			fresh := p.Clone()
			fresh.TokensSold = decimal.Zero
			fresh.AmountRaised = decimal.Zero
			fresh.IsActive, fresh.IsCompleted = false, false
			fresh.SetState(fresh.NextState(now))
			fresh.CreatedAt = now.UTC()
			fresh.UpdatedAt = now.UTC()
			if err := tx.InsertPhase(ctx, fresh); err != nil {
				return errors.NewDatabaseError("insert phase", err)
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, ledgerError("provision phases", err)
	}

	r.logger.WithField("inserted", inserted).Info("Phases provisioned")
	r.invalidateStatus(ctx)
	return inserted, nil
}

// ValidatePhaseSet checks a full phase catalogue: ordinals 1..PhaseCount in order,
// sane prices and bounds, and ordered non-overlapping windows.
func ValidatePhaseSet(phases []*models.Phase) error {
	if len(phases) != PhaseCount {
		return errors.NewValidationError("phases", fmt.Sprintf("expected %d phases, got %d", PhaseCount, len(phases)))
	}

	for i, p := range phases {
		field := fmt.Sprintf("phases[%d]", i)
		switch {
		case p.Ordinal != i+1:
			return errors.NewValidationError(field+".ordinal", fmt.Sprintf("expected %d, got %d", i+1, p.Ordinal))
		case p.Name == "":
			return errors.NewValidationError(field+".name", "required")
		case !p.TokenPrice.IsPositive():
			return errors.NewValidationError(field+".tokenPrice", "must be positive")
		case !p.TotalTokens.IsPositive():
			return errors.NewValidationError(field+".totalTokens", "must be positive")
		case !p.MinPurchase.IsPositive():
			return errors.NewValidationError(field+".minPurchase", "must be positive")
		case p.MaxPurchase.LessThan(p.MinPurchase):
			return errors.NewValidationError(field+".maxPurchase", "must not be below minPurchase")
		case p.BonusPercentage.IsNegative():
			return errors.NewValidationError(field+".bonusPercentage", "must not be negative")
		case !p.StartTime.Before(p.EndTime):
			return errors.NewValidationError(field+".endDate", "must be after startDate")
		}
		if p.ContractAddress != "" {
			if _, err := types.NormalizeAddress(p.ContractAddress); err != nil {
				return errors.NewInvalidAddressError(field+".contractAddress", p.ContractAddress)
			}
		}
		if i > 0 && !p.StartTime.After(phases[i-1].EndTime) {
			return errors.NewValidationError(field+".startDate", "must be after the previous phase ends")
		}
	}
	return nil
}

// Status returns the sale status at now. Phases come from the cache when possible;
// the status is always rendered at now.
func (r *PhaseRegistry) Status(ctx context.Context, now time.Time) (*models.SaleStatus, error) {
	phases, err := r.statusPhases(ctx)
	if err != nil {
		return nil, err
	}
	return models.BuildSaleStatus(phases, now), nil
}

func (r *PhaseRegistry) statusPhases(ctx context.Context) ([]*models.Phase, error) {
	if r.cache == nil {
		return r.Phases(ctx)
	}

	cached, version, ok, err := r.cache.Get(ctx)
	if err != nil {
		r.logger.WithError(err).Warn("Failed to read sale status cache")
		return r.Phases(ctx)
	}
	if ok {
		return cached, nil
	}

	phases, err := r.Phases(ctx)
	if err != nil {
		return nil, err
	}
	stored, err := r.cache.Set(ctx, version, phases)
	if err != nil {
		r.logger.WithError(err).Warn("Failed to write sale status cache")
	} else if !stored {
		r.logger.Debug("Sale status changed while reading; snapshot not cached")
	}
	return phases, nil
}

// CloseExpired completes every phase whose window has elapsed at now.
// Each phase is closed in its own transaction. It returns the ordinals closed.
func (r *PhaseRegistry) CloseExpired(ctx context.Context, now time.Time) ([]int, error) {
	phases, err := r.ledger.Phases(ctx)
	if err != nil {
		return nil, errors.NewDatabaseError("list phases", err)
	}

	var closed []int
	for _, candidate := range phases {
		if candidate.IsCompleted || candidate.NextState(now) != types.PhaseStateCompleted {
			continue
		}

		changed := false
		err := r.ledger.InTx(ctx, func(tx storage.LedgerTx) error {
			p, err := tx.LockPhase(ctx, candidate.Ordinal)
			if err != nil {
				return errors.NewDatabaseError("lock phase", err)
			}
			changed = p.SetState(p.NextState(now))
			if !changed {
				return nil
			}
			p.UpdatedAt = now.UTC()
			if err := tx.SavePhase(ctx, p); err != nil {
				return errors.NewDatabaseError("save phase state", err)
			}
			return nil
		})
		if err != nil {
			return closed, ledgerError("close phase", err)
		}
		if changed {
			closed = append(closed, candidate.Ordinal)
		}
	}

	if len(closed) > 0 {
		r.logger.WithField("phases", closed).Info("Expired phases closed")
		r.invalidateStatus(ctx)
	}
	return closed, nil
}

// invalidateStatus drops the cached status. Cache failures are logged and never surfaced.
func (r *PhaseRegistry) invalidateStatus(ctx context.Context) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Invalidate(ctx); err != nil {
		r.logger.WithError(err).Warn("Failed to invalidate sale status cache")
	}
}
