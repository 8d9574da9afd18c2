package service

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/cfd-ledger/internal/errors"
	"github.com/cfd-ledger/internal/logging"
	"github.com/cfd-ledger/internal/models"
	"github.com/cfd-ledger/internal/storage"
	"github.com/cfd-ledger/internal/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PurchaseEvent is a purchase confirmed on-chain, handed over by the confirmation collaborator
type PurchaseEvent struct {
	HolderAddress   string          `json:"holderAddress"`
	PhaseOrdinal    int             `json:"phaseOrdinal"`
	AmountPaid      decimal.Decimal `json:"amountPaid"`
	ExternalTxRef   string          `json:"externalTxRef"`
	ReferrerAddress string          `json:"referrerAddress,omitempty"`
	// ObservedAt is the instant the purchase is evaluated against the phase window.
	// Zero means now.
	ObservedAt time.Time `json:"-"`
}

// PurchaseResult is the outcome of ApplyPurchase
type PurchaseResult struct {
	Record *models.PurchaseRecord `json:"purchase"`
	// Replayed is true when ExternalTxRef had already been applied; Record is the original
	Replayed bool `json:"replayed"`
	// PhaseTokensSold is the phase counter right after this purchase; zero on replay
	PhaseTokensSold decimal.Decimal `json:"phaseTokensSold"`
}

// errAlreadyRecorded aborts the transaction when a concurrent writer recorded the same tx ref
var errAlreadyRecorded = stderrors.New("purchase already recorded")

// PurchaseRecorder applies confirmed purchase events to the ledger exactly once
type PurchaseRecorder struct {
	ledger   storage.Ledger
	registry *PhaseRegistry
	logger   *logging.Logger
}

// NewPurchaseRecorder creates a new purchase recorder
func NewPurchaseRecorder(ledger storage.Ledger, registry *PhaseRegistry) *PurchaseRecorder {
	return &PurchaseRecorder{
		ledger:   ledger,
		registry: registry,
		logger:   logging.GetGlobalLogger().WithField("component", "PurchaseRecorder"),
	}
}

// Purchases returns the holder's purchase history in commit order
func (p *PurchaseRecorder) Purchases(ctx context.Context, holder string) ([]*models.PurchaseRecord, error) {
	holder, err := normalizeHolder("holderAddress", holder)
	if err != nil {
		return nil, err
	}
	records, err := p.ledger.PurchasesByHolder(ctx, holder)
	if err != nil {
		return nil, errors.NewDatabaseError("list purchases", err)
	}
	return records, nil
}

// CalculateTokens splits a payment into base and bonus tokens at the given price
func CalculateTokens(amountPaid, tokenPrice, bonusPercentage decimal.Decimal) (base, bonus, total decimal.Decimal) {
	base = amountPaid.DivRound(tokenPrice, tokenScale)
	bonus = base.Mul(bonusPercentage).DivRound(hundred, tokenScale)
	return base, bonus, base.Add(bonus)
}

var hundred = decimal.NewFromInt(100)

// ApplyPurchase validates event against its phase and records it atomically.
// Replaying a known ExternalTxRef returns the original record with Replayed set.
// Every rejection leaves the ledger untouched.
func (p *PurchaseRecorder) ApplyPurchase(ctx context.Context, event PurchaseEvent) (*PurchaseResult, error) {
	txRef := normalizeTxRef(event.ExternalTxRef)
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"component": "PurchaseRecorder",
		"txRef":     txRef,
		"phase":     event.PhaseOrdinal,
	})

	if txRef == "" {
		return nil, errors.NewValidationError("externalTxRef", "required")
	}

	if existing, err := p.ledger.PurchaseByTxRef(ctx, txRef); err == nil {
		logger.Debug("Purchase replayed")
		return &PurchaseResult{Record: existing, Replayed: true}, nil
	} else if !stderrors.Is(err, storage.ErrNotFound) {
		return nil, errors.NewDatabaseError("get purchase", err)
	}

	holder, err := normalizeHolder("holderAddress", event.HolderAddress)
	if err != nil {
		return nil, err
	}
	referrer, err := normalizeReferrer(event.ReferrerAddress)
	if err != nil {
		return nil, err
	}
	if !event.AmountPaid.IsPositive() {
		return nil, errors.NewValidationError("amountPaid", "must be positive")
	}

	now := event.ObservedAt
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	var (
		record  *models.PurchaseRecord
		newSold decimal.Decimal
	)
	err = p.ledger.InTx(ctx, func(tx storage.LedgerTx) error {
		phase, err := tx.LockPhase(ctx, event.PhaseOrdinal)
		if err != nil {
			if stderrors.Is(err, storage.ErrNotFound) {
				return errors.NewPhaseNotFoundError(event.PhaseOrdinal)
			}
			return errors.NewDatabaseError("lock phase", err)
		}

		if reason := inactiveReason(phase, now); reason != "" {
			return errors.NewPhaseInactiveError(phase.Ordinal, reason)
		}
		if event.AmountPaid.LessThan(phase.MinPurchase) || event.AmountPaid.GreaterThan(phase.MaxPurchase) {
			return errors.NewAmountOutOfBoundsError(phase.Ordinal, event.AmountPaid.String(), phase.MinPurchase.String(), phase.MaxPurchase.String())
		}

		base, bonus, total := CalculateTokens(event.AmountPaid, phase.TokenPrice, phase.BonusPercentage)

		// Capacity is the last check before the record is written
		newSold, err = p.registry.ReserveCapacity(ctx, tx, phase, total, event.AmountPaid)
		if err != nil {
			return err
		}

		record = &models.PurchaseRecord{
			ID:             uuid.New().String(),
			TxRef:          txRef,
			Holder:         holder,
			PhaseOrdinal:   phase.Ordinal,
			AmountPaid:     event.AmountPaid,
			BaseTokens:     base,
			BonusTokens:    bonus,
			TokensCredited: total,
			Referrer:       referrer,
			CreatedAt:      now,
		}
		if err := tx.InsertPurchase(ctx, record); err != nil {
			if stderrors.Is(err, storage.ErrDuplicate) {
				return errAlreadyRecorded
			}
			return errors.NewDatabaseError("insert purchase", err)
		}

		return p.registry.TransitionIfComplete(ctx, tx, phase, now)
	})

	if stderrors.Is(err, errAlreadyRecorded) || stderrors.Is(err, storage.ErrDuplicate) {
		existing, getErr := p.ledger.PurchaseByTxRef(ctx, txRef)
		if getErr != nil {
			return nil, errors.NewDatabaseError("get purchase", getErr)
		}
		logger.Debug("Purchase replayed after concurrent insert")
		return &PurchaseResult{Record: existing, Replayed: true}, nil
	}
	if err != nil {
		err = ledgerError("apply purchase", err)
		logger.WithError(err).WithField("holder", holder).Warn("Purchase rejected")
		return nil, err
	}

	p.registry.invalidateStatus(ctx)

	logger.WithFields(map[string]interface{}{
		"holder":          holder,
		"amountPaid":      record.AmountPaid.String(),
		"tokensCredited":  record.TokensCredited.String(),
		"phaseTokensSold": newSold.String(),
	}).Info("Purchase recorded")

	return &PurchaseResult{Record: record, PhaseTokensSold: newSold}, nil
}

// inactiveReason explains why phase does not accept purchases at now, or returns ""
func inactiveReason(phase *models.Phase, now time.Time) string {
	switch {
	case phase.IsCompleted:
		return "phase completed"
	case now.Before(phase.StartTime):
		return "phase has not started"
	case now.After(phase.EndTime):
		return "phase has ended"
	case phase.SoldOut():
		return "phase sold out"
	default:
		return ""
	}
}

// normalizeTxRef trims the reference and lowercases hex transaction hashes
func normalizeTxRef(ref string) string {
	ref = strings.TrimSpace(ref)
	if strings.HasPrefix(ref, "0x") || strings.HasPrefix(ref, "0X") {
		return strings.ToLower(ref)
	}
	return ref
}

// normalizeReferrer returns "" for an absent or zero referrer
func normalizeReferrer(address string) (string, error) {
	if strings.TrimSpace(address) == "" {
		return "", nil
	}
	normalized, err := types.NormalizeAddress(address)
	if err != nil {
		return "", errors.NewInvalidAddressError("referrerAddress", address)
	}
	if types.IsZeroAddress(normalized) {
		return "", nil
	}
	return normalized, nil
}
