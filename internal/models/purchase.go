package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseRecord is one accepted purchase. Records are immutable once written.
type PurchaseRecord struct {
	ID             string          `json:"id"`
	TxRef          string          `json:"externalTxRef"`
	Holder         string          `json:"holderAddress"`
	PhaseOrdinal   int             `json:"phaseOrdinal"`
	AmountPaid     decimal.Decimal `json:"amountPaid"`
	BaseTokens     decimal.Decimal `json:"baseTokens"`
	BonusTokens    decimal.Decimal `json:"bonusTokens"`
	TokensCredited decimal.Decimal `json:"tokensCredited"`
	Referrer       string          `json:"referrerAddress,omitempty"` // empty when no referrer
	CreatedAt      time.Time       `json:"createdAt"`
}

// Clone returns a copy of the record
func (r *PurchaseRecord) Clone() *PurchaseRecord {
	c := *r
	return &c
}

// HolderAccount is a holder's balance as reported by a balance oracle.
// FirstAcquisition is zero when the holder never acquired tokens.
type HolderAccount struct {
	Address          string          `json:"address"`
	Balance          decimal.Decimal `json:"balance"`
	FirstAcquisition time.Time       `json:"firstAcquisition"`
}

// HasAcquired reports whether the holder ever acquired tokens
func (h *HolderAccount) HasAcquired() bool {
	return !h.FirstAcquisition.IsZero()
}
