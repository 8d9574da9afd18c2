package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CycleLayout is the time layout of a distribution cycle identifier
const CycleLayout = "2006-01"

// CycleFor returns the distribution cycle (calendar month, UTC) containing t
func CycleFor(t time.Time) string {
	return t.UTC().Format(CycleLayout)
}

// ParseCycle validates a cycle identifier and returns the first instant of the month
func ParseCycle(cycle string) (time.Time, error) {
	start, err := time.Parse(CycleLayout, cycle)
	if err != nil {
		return time.Time{}, fmt.Errorf("cycle %q must be formatted as YYYY-MM", cycle)
	}
	return start, nil
}

// DividendAccount is the accrual ledger entry for one holder.
// Available is credited by distributions and debited by claims.
type DividendAccount struct {
	Holder           string          `json:"holderAddress"`
	Available        decimal.Decimal `json:"availableDividends"`
	TotalReceived    decimal.Decimal `json:"totalReceived"`
	LastDistribution *time.Time      `json:"lastDistribution"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// NewDividendAccount returns an empty account for holder
func NewDividendAccount(holder string) *DividendAccount {
	return &DividendAccount{
		Holder:        holder,
		Available:     decimal.Zero,
		TotalReceived: decimal.Zero,
	}
}

// Clone returns a deep copy of the account
func (a *DividendAccount) Clone() *DividendAccount {
	c := *a
	if a.LastDistribution != nil {
		t := *a.LastDistribution
		c.LastDistribution = &t
	}
	return &c
}

// DividendClaim is one payout event. At most one claim exists per (holder, cycle).
type DividendClaim struct {
	ID        string          `json:"id"`
	Holder    string          `json:"holderAddress"`
	Cycle     string          `json:"cycle"`
	Amount    decimal.Decimal `json:"amountClaimed"`
	ClaimedAt time.Time       `json:"claimedAt"`
}

// Clone returns a copy of the claim
func (c *DividendClaim) Clone() *DividendClaim {
	cp := *c
	return &cp
}

// Distribution records one profit distribution cycle
type Distribution struct {
	ID          string          `json:"id"`
	Cycle       string          `json:"cycle"`
	Profit      decimal.Decimal `json:"profit"`
	Pool        decimal.Decimal `json:"pool"`
	Distributed decimal.Decimal `json:"distributed"`
	Remainder   decimal.Decimal `json:"remainder"`
	HolderCount int             `json:"holderCount"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Clone returns a copy of the distribution
func (d *Distribution) Clone() *Distribution {
	c := *d
	return &c
}

// DividendCredit is one holder's share of a distribution
type DividendCredit struct {
	Holder string
	Amount decimal.Decimal
}

// Projection is an advisory payout estimate. It is never a ledger entry.
type Projection struct {
	UserPercentage  decimal.Decimal `json:"userPercentage"`
	MonthlyDividend decimal.Decimal `json:"monthlyDividend"`
	YearlyDividend  decimal.Decimal `json:"yearlyDividend"`
}

// DividendInfo summarizes a holder's dividend position
type DividendInfo struct {
	Holder             string          `json:"holderAddress"`
	Balance            decimal.Decimal `json:"balance"`
	IsEligible         bool            `json:"isEligible"`
	DaysHolding        int             `json:"daysHolding"`
	AvailableDividends decimal.Decimal `json:"availableDividends"`
	TotalReceived      decimal.Decimal `json:"totalReceived"`
	LastDistribution   *time.Time      `json:"lastDistribution"`
}
