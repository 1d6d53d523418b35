package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DebtBreakdown splits a trove's entire debt into its components.
type DebtBreakdown struct {
	Principal             decimal.Decimal
	AccruedInterest       decimal.Decimal
	AccruedManagementFees decimal.Decimal
	EntireDebt            decimal.Decimal
}

// RankedTrove is a trove annotated with its place in the redemption queue.
type RankedTrove struct {
	Trove Trove
	Debt  DebtBreakdown
	// Position is 1-based; position 1 is redeemed against first.
	Position int
	// CumulativeDebt is the entire debt of every trove ranked ahead of this one.
	CumulativeDebt decimal.Decimal
}

// DebtInFrontResult is a point-in-time estimate of how much debt must be
// redeemed before a target trove is hit.
type DebtInFrontResult struct {
	CollateralType CollateralType
	TroveID        string
	InterestRate   float64
	TargetDebt     DebtBreakdown
	DebtInFront    decimal.Decimal
	TrovesAhead    int
	Ahead          []RankedTrove
	NextBehind     *RankedTrove
	// Scanned is the number of distinct troves compared.
	Scanned int
	Pages   int
	// LowerBound is set when the listing was cut short, in which case
	// DebtInFront and TrovesAhead are undercounts.
	LowerBound     bool
	LastCalculated time.Time
}

// DebtInFrontOptions controls a debt-in-front lookup.
type DebtInFrontOptions struct {
	// Fresh bypasses any cached estimate.
	Fresh bool
	// PrincipalOnly counts recorded debt without accrued interest or fees.
	// Principal-only results are neither cached nor persisted.
	PrincipalOnly bool
}

// QueueView is the full redemption queue for one collateral type.
type QueueView struct {
	CollateralType CollateralType
	Troves         []RankedTrove
	TotalDebt      decimal.Decimal
	Pages          int
	LowerBound     bool
	CalculatedAt   time.Time
}

// QueueSnapshot is the persisted summary of a DebtInFrontResult.
type QueueSnapshot struct {
	ID             string
	CollateralType CollateralType
	TroveID        string
	InterestRate   float64
	TargetDebt     decimal.Decimal
	DebtInFront    decimal.Decimal
	TrovesAhead    int
	LowerBound     bool
	CalculatedAt   time.Time
}

// SnapshotFromResult condenses r into a QueueSnapshot without an ID.
func SnapshotFromResult(r DebtInFrontResult) QueueSnapshot {
	return QueueSnapshot{
		CollateralType: r.CollateralType,
		TroveID:        r.TroveID,
		InterestRate:   r.InterestRate,
		TargetDebt:     r.TargetDebt.EntireDebt,
		DebtInFront:    r.DebtInFront,
		TrovesAhead:    r.TrovesAhead,
		LowerBound:     r.LowerBound,
		CalculatedAt:   r.LastCalculated,
	}
}

// WatchedTrove is a trove tracked by the monitor. An alert fires when the
// debt in front of it drops below AlertThreshold.
type WatchedTrove struct {
	CollateralType CollateralType
	TroveID        string
	Label          string
	AlertThreshold decimal.Decimal
	CreatedAt      time.Time
}

// Ref returns the trove reference for w.
func (w WatchedTrove) Ref() TroveRef {
	return TroveRef{CollateralType: w.CollateralType, ID: w.TroveID}
}
