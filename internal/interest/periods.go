package interest

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/troveview/internal/domain"
)

// BuildRatePeriodsFromTimeline reconstructs the rate periods since the last
// borrower-initiated checkpoint. Every batch manager event after the
// checkpoint starts a new period, and the debt at the end of each period
// (starting debt plus its interest and fee) becomes the next period's
// starting debt. The returned slice is empty when events is empty.
func BuildRatePeriodsFromTimeline(
	events []domain.TimelineEvent,
	currentDebt decimal.Decimal,
	currentRate, currentFee float64,
) ([]domain.RatePeriod, error) {
	if len(events) == 0 {
		return []domain.RatePeriod{}, nil
	}
	if err := validatePrincipal(currentDebt); err != nil {
		return nil, err
	}
	if err := validateRate("interest rate", currentRate); err != nil {
		return nil, err
	}
	if err := validateRate("management fee", currentFee); err != nil {
		return nil, err
	}

	sorted := make([]domain.TimelineEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].At().Before(sorted[j].At())
	})

	// Without any borrower operation the earliest event stands in for the
	// checkpoint.
	checkpoint := 0
	for i, ev := range sorted {
		switch ev.(type) {
		case domain.OrdinaryEvent:
			checkpoint = i
		case domain.BatchManagerEvent:
		default:
			return nil, fmt.Errorf("interest: %w: %T", domain.ErrUnknownEvent, ev)
		}
	}

	var boundaries []domain.BatchManagerEvent
	for _, ev := range sorted[checkpoint+1:] {
		if bm, ok := ev.(domain.BatchManagerEvent); ok {
			boundaries = append(boundaries, bm)
		}
	}

	start := sorted[checkpoint].At()
	if len(boundaries) == 0 {
		return []domain.RatePeriod{{
			Start:         start,
			InterestRate:  currentRate,
			ManagementFee: currentFee,
			StartingDebt:  currentDebt,
		}}, nil
	}

	running := domain.RatePeriod{
		Start:         start,
		InterestRate:  sorted[checkpoint].State().InterestRate,
		ManagementFee: feeInForce(sorted[:checkpoint+1], currentFee),
		StartingDebt:  currentDebt,
	}
	if err := validatePeriod(running); err != nil {
		return nil, err
	}

	periods := make([]domain.RatePeriod, 0, len(boundaries)+1)
	for _, b := range boundaries {
		running.End = b.Timestamp
		endingDebt := running.StartingDebt.Add(periodAccrual(running, b.Timestamp).Total)
		periods = append(periods, running)

		running = domain.RatePeriod{
			Start:         b.Timestamp,
			InterestRate:  b.StateAfter.InterestRate,
			ManagementFee: b.ManagementFee,
			StartingDebt:  endingDebt,
		}
		if err := validatePeriod(running); err != nil {
			return nil, fmt.Errorf("batch event %s: %w", b.TxHash, err)
		}
	}
	return append(periods, running), nil
}

// CalculateSegmentedInterest accumulates interest and fees over periods in
// order. An open period is evaluated up to now.
func CalculateSegmentedInterest(periods []domain.RatePeriod, now time.Time) (domain.Accrual, error) {
	total := domain.Accrual{
		Interest:       decimal.Zero,
		ManagementFees: decimal.Zero,
		Total:          decimal.Zero,
	}
	for i, p := range periods {
		if err := validatePeriod(p); err != nil {
			return domain.Accrual{}, fmt.Errorf("period %d: %w", i, err)
		}
		end := p.End
		if p.IsOpen() {
			end = now
		}
		acc := periodAccrual(p, end)
		total.Interest = total.Interest.Add(acc.Interest)
		total.ManagementFees = total.ManagementFees.Add(acc.ManagementFees)
	}
	total.Total = total.Interest.Add(total.ManagementFees)
	return total, nil
}

func periodAccrual(p domain.RatePeriod, end time.Time) domain.Accrual {
	i := accrue(p.StartingDebt, p.InterestRate, p.Start, end)
	f := accrue(p.StartingDebt, p.ManagementFee, p.Start, end)
	return domain.Accrual{Interest: i, ManagementFees: f, Total: i.Add(f)}
}

func validatePeriod(p domain.RatePeriod) error {
	if err := validatePrincipal(p.StartingDebt); err != nil {
		return err
	}
	if err := validateRate("interest rate", p.InterestRate); err != nil {
		return err
	}
	return validateRate("management fee", p.ManagementFee)
}

// feeInForce returns the fee of the latest batch event in history, or
// fallback when the trove never saw one.
func feeInForce(history []domain.TimelineEvent, fallback float64) float64 {
	for i := len(history) - 1; i >= 0; i-- {
		if bm, ok := history[i].(domain.BatchManagerEvent); ok {
			return bm.ManagementFee
		}
	}
	return fallback
}
