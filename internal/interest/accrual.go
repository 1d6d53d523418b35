// Package interest computes interest and management fee accrual on trove
// debt. Accrual is linear within a rate period; historical delegate rate
// changes are replayed as consecutive periods whose ending debt carries
// forward.
package interest

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/troveview/internal/domain"
)

// SecondsPerYear is the accrual year length, 365.25 days.
const SecondsPerYear = 31_557_600

var (
	// rateScale converts "percent per year" into "fraction per second".
	rateScale = decimal.NewFromInt(100 * SecondsPerYear)
)

// CalculateAccruedInterest returns the interest owed on principal at
// annualRatePercent between start and end. An end before start, or a zero
// start, accrues nothing.
func CalculateAccruedInterest(principal decimal.Decimal, annualRatePercent float64, start, end time.Time) (decimal.Decimal, error) {
	if err := validatePrincipal(principal); err != nil {
		return decimal.Zero, err
	}
	if err := validateRate("interest rate", annualRatePercent); err != nil {
		return decimal.Zero, err
	}
	return accrue(principal, annualRatePercent, start, end), nil
}

// CalculateManagementFees returns the batch management fee owed on
// principal between start and end. It uses the same linear formula as
// CalculateAccruedInterest with the fee rate.
func CalculateManagementFees(principal decimal.Decimal, feeRatePercent float64, start, end time.Time) (decimal.Decimal, error) {
	if err := validatePrincipal(principal); err != nil {
		return decimal.Zero, err
	}
	if err := validateRate("management fee", feeRatePercent); err != nil {
		return decimal.Zero, err
	}
	return accrue(principal, feeRatePercent, start, end), nil
}

// CalculateEntireDebt sums principal, accrued interest and accrued fees.
func CalculateEntireDebt(principal, accruedInterest, accruedFees decimal.Decimal) decimal.Decimal {
	return principal.Add(accruedInterest).Add(accruedFees)
}

// Breakdown returns the live debt of t at now. When includeAccrued is false
// only the recorded principal is reported. A trove with no LastUpdate has
// nothing accrued.
func Breakdown(t domain.Trove, now time.Time, includeAccrued bool) (domain.DebtBreakdown, error) {
	out := domain.DebtBreakdown{
		Principal:             t.RecordedDebt,
		AccruedInterest:       decimal.Zero,
		AccruedManagementFees: decimal.Zero,
		EntireDebt:            t.RecordedDebt,
	}
	if err := validatePrincipal(t.RecordedDebt); err != nil {
		return out, fmt.Errorf("trove %s: %w", t.ID, err)
	}
	if !includeAccrued {
		return out, nil
	}

	accrued, err := CalculateAccruedInterest(t.RecordedDebt, t.InterestRate, t.LastUpdate, now)
	if err != nil {
		return out, fmt.Errorf("trove %s: %w", t.ID, err)
	}
	out.AccruedInterest = accrued

	if t.IsBatchMember() {
		fees, err := CalculateManagementFees(t.RecordedDebt, t.ManagementFee(), t.LastUpdate, now)
		if err != nil {
			return out, fmt.Errorf("trove %s: %w", t.ID, err)
		}
		out.AccruedManagementFees = fees
	}

	out.EntireDebt = CalculateEntireDebt(out.Principal, out.AccruedInterest, out.AccruedManagementFees)
	return out, nil
}

// accrue applies the linear formula to already validated inputs.
func accrue(principal decimal.Decimal, ratePercent float64, start, end time.Time) decimal.Decimal {
	if start.IsZero() {
		return decimal.Zero
	}
	elapsed := end.Sub(start)
	if elapsed <= 0 || ratePercent == 0 || principal.IsZero() {
		return decimal.Zero
	}
	seconds := decimal.New(int64(elapsed), -9)
	return principal.
		Mul(decimal.NewFromFloat(ratePercent)).
		Mul(seconds).
		Div(rateScale)
}

func validateRate(name string, rate float64) error {
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		return fmt.Errorf("interest: %w: %s is not finite", domain.ErrInvalidInput, name)
	}
	if rate < 0 {
		return fmt.Errorf("interest: %w: %s %v is negative", domain.ErrInvalidInput, name, rate)
	}
	return nil
}

func validatePrincipal(principal decimal.Decimal) error {
	if principal.IsNegative() {
		return fmt.Errorf("interest: %w: principal %s is negative", domain.ErrInvalidInput, principal.String())
	}
	return nil
}
