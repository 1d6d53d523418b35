package redemption

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultStaleAfter is how long a debt-in-front estimate is considered fresh.
const DefaultStaleAfter = 5 * time.Minute

var (
	billion  = decimal.NewFromInt(1_000_000_000)
	million  = decimal.NewFromInt(1_000_000)
	thousand = decimal.NewFromInt(1_000)
)

// FormatDebtAmount renders amount with a K, M or B suffix and two decimals.
func FormatDebtAmount(amount decimal.Decimal) string {
	abs := amount.Abs()
	switch {
	case abs.GreaterThanOrEqual(billion):
		return amount.Div(billion).StringFixed(2) + "B"
	case abs.GreaterThanOrEqual(million):
		return amount.Div(million).StringFixed(2) + "M"
	case abs.GreaterThanOrEqual(thousand):
		return amount.Div(thousand).StringFixed(2) + "K"
	default:
		return amount.StringFixed(2)
	}
}

// IsCalculationStale reports whether an estimate calculated at
// lastCalculated is older than maxAge at now. A non-positive maxAge means
// DefaultStaleAfter.
func IsCalculationStale(lastCalculated time.Time, maxAge time.Duration, now time.Time) bool {
	if maxAge <= 0 {
		maxAge = DefaultStaleAfter
	}
	return now.Sub(lastCalculated) > maxAge
}
