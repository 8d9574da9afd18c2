package models

import (
	"time"

	"github.com/cfd-ledger/internal/types"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Phase represents one sale tier
type Phase struct {
	Ordinal          int             `json:"ordinal"`
	Name             string          `json:"name"`
	Description      string          `json:"description"`
	ContractAddress  string          `json:"contractAddress,omitempty"`
	TokenPrice       decimal.Decimal `json:"tokenPrice"`
	TotalTokens      decimal.Decimal `json:"totalTokens"`
	TokensSold       decimal.Decimal `json:"tokensSold"`
	AmountRaised     decimal.Decimal `json:"amountRaised"`
	SupplyPercentage decimal.Decimal `json:"supplyPercentage"`
	StartTime        time.Time       `json:"startDate"`
	EndTime          time.Time       `json:"endDate"`
	MinPurchase      decimal.Decimal `json:"minPurchase"`
	MaxPurchase      decimal.Decimal `json:"maxPurchase"`
	BonusPercentage  decimal.Decimal `json:"bonusPercentage"`
	IsActive         bool            `json:"isActive"`
	IsCompleted      bool            `json:"isCompleted"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// Clone returns a copy of the phase
func (p *Phase) Clone() *Phase {
	c := *p
	return &c
}

// TokensRemaining returns the unsold capacity
func (p *Phase) TokensRemaining() decimal.Decimal {
	remaining := p.TotalTokens.Sub(p.TokensSold)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// Progress returns tokensSold/totalTokens as a percentage
func (p *Phase) Progress() decimal.Decimal {
	if !p.TotalTokens.IsPositive() {
		return decimal.Zero
	}
	return p.TokensSold.Mul(hundred).DivRound(p.TotalTokens, 8)
}

// SoldOut reports whether the phase cap has been reached
func (p *Phase) SoldOut() bool {
	return p.TokensSold.GreaterThanOrEqual(p.TotalTokens)
}

// ContainsTime reports whether t falls inside the phase window (both ends inclusive)
func (p *Phase) ContainsTime(t time.Time) bool {
	return !t.Before(p.StartTime) && !t.After(p.EndTime)
}

// AcceptsPurchases reports whether the phase is open for purchases at now
func (p *Phase) AcceptsPurchases(now time.Time) bool {
	return !p.IsCompleted && p.ContainsTime(now)
}

// State returns the stored lifecycle state
func (p *Phase) State() types.PhaseState {
	switch {
	case p.IsCompleted:
		return types.PhaseStateCompleted
	case p.IsActive:
		return types.PhaseStateActive
	default:
		return types.PhaseStatePending
	}
}

// NextState is the phase state machine: Pending -> Active -> Completed.
// Completed is terminal. A phase completes when it sells out or its window elapses.
func (p *Phase) NextState(now time.Time) types.PhaseState {
	switch {
	case p.IsCompleted, p.SoldOut(), now.After(p.EndTime):
		return types.PhaseStateCompleted
	case !now.Before(p.StartTime):
		return types.PhaseStateActive
	default:
		return types.PhaseStatePending
	}
}

// SetState writes the flags for state. It reports whether anything changed.
func (p *Phase) SetState(state types.PhaseState) bool {
	active := state == types.PhaseStateActive
	completed := state == types.PhaseStateCompleted
	if p.IsActive == active && p.IsCompleted == completed {
		return false
	}
	p.IsActive = active
	p.IsCompleted = completed
	return true
}

// PhaseStatus is the read model published to UI/API consumers
type PhaseStatus struct {
	Ordinal         int             `json:"ordinal"`
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	TokenPrice      decimal.Decimal `json:"tokenPrice"`
	BonusPercentage decimal.Decimal `json:"bonusPercentage"`
	TokensSold      decimal.Decimal `json:"tokensSold"`
	TotalTokens     decimal.Decimal `json:"totalTokens"`
	TokensRemaining decimal.Decimal `json:"tokensRemaining"`
	AmountRaised    decimal.Decimal `json:"amountRaised"`
	Progress        decimal.Decimal `json:"progress"`
	MinPurchase     decimal.Decimal `json:"minPurchase"`
	MaxPurchase     decimal.Decimal `json:"maxPurchase"`
	StartDate       time.Time       `json:"startDate"`
	EndDate         time.Time       `json:"endDate"`
	IsActive        bool            `json:"isActive"`
	IsCompleted     bool            `json:"isCompleted"`
}

// StatusAt builds the published view of the phase as of now.
// Flags reflect the state the phase is in at now, which may be ahead of the stored flags
// until the next purchase or close-out writes them.
func (p *Phase) StatusAt(now time.Time) PhaseStatus {
	state := p.NextState(now)
	return PhaseStatus{
		Ordinal:         p.Ordinal,
		Name:            p.Name,
		Description:     p.Description,
		TokenPrice:      p.TokenPrice,
		BonusPercentage: p.BonusPercentage,
		TokensSold:      p.TokensSold,
		TotalTokens:     p.TotalTokens,
		TokensRemaining: p.TokensRemaining(),
		AmountRaised:    p.AmountRaised,
		Progress:        p.Progress(),
		MinPurchase:     p.MinPurchase,
		MaxPurchase:     p.MaxPurchase,
		StartDate:       p.StartTime,
		EndDate:         p.EndTime,
		IsActive:        state == types.PhaseStateActive,
		IsCompleted:     state == types.PhaseStateCompleted,
	}
}

// OverallStatus aggregates all phases
type OverallStatus struct {
	TotalTokensSold decimal.Decimal `json:"totalTokensSold"`
	TotalTokens     decimal.Decimal `json:"totalTokens"`
	TotalRaised     decimal.Decimal `json:"totalRaised"`
	OverallProgress decimal.Decimal `json:"overallProgress"`
}

// SaleStatus is the full status document served by the status endpoint
type SaleStatus struct {
	CurrentPhase *PhaseStatus  `json:"phase"`
	Phases       []PhaseStatus `json:"phases"`
	Overall      OverallStatus `json:"overall"`
	GeneratedAt  time.Time     `json:"generatedAt"`
}

// BuildSaleStatus assembles the status document from phases ordered by ordinal
func BuildSaleStatus(phases []*Phase, now time.Time) *SaleStatus {
	status := &SaleStatus{
		Phases:      make([]PhaseStatus, 0, len(phases)),
		GeneratedAt: now.UTC(),
		Overall: OverallStatus{
			TotalTokensSold: decimal.Zero,
			TotalTokens:     decimal.Zero,
			TotalRaised:     decimal.Zero,
			OverallProgress: decimal.Zero,
		},
	}

	for _, p := range phases {
		ps := p.StatusAt(now)
		status.Phases = append(status.Phases, ps)
		if ps.IsActive && status.CurrentPhase == nil {
			current := ps
			status.CurrentPhase = &current
		}
		status.Overall.TotalTokensSold = status.Overall.TotalTokensSold.Add(p.TokensSold)
		status.Overall.TotalTokens = status.Overall.TotalTokens.Add(p.TotalTokens)
		status.Overall.TotalRaised = status.Overall.TotalRaised.Add(p.AmountRaised)
	}

	if status.Overall.TotalTokens.IsPositive() {
		status.Overall.OverallProgress = status.Overall.TotalTokensSold.Mul(hundred).DivRound(status.Overall.TotalTokens, 8)
	}
	return status
}
