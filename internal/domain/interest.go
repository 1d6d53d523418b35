package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RatePeriod is a reconstructed segment over which a trove's rate and
// management fee were constant. A zero End marks the open period that runs
// up to the evaluation time.
type RatePeriod struct {
	Start         time.Time
	End           time.Time
	InterestRate  float64
	ManagementFee float64
	StartingDebt  decimal.Decimal
}

// IsOpen reports whether the period is still running.
func (p RatePeriod) IsOpen() bool {
	return p.End.IsZero()
}

// Accrual is the interest and fees accrued over one or more rate periods.
type Accrual struct {
	Interest       decimal.Decimal
	ManagementFees decimal.Decimal
	Total          decimal.Decimal
}

// InterestInfo is a display-ready summary of a trove's live debt.
type InterestInfo struct {
	RecordedDebt    decimal.Decimal
	AccruedInterest decimal.Decimal
	EntireDebt      decimal.Decimal
	DaysSinceUpdate int
	// AccruedManagementFees is set only for batch members.
	AccruedManagementFees *decimal.Decimal
	BatchManager          string
	BatchManagerName      string
	// Segmented is true when the figures were replayed from the timeline.
	Segmented bool
	Periods   int
}
