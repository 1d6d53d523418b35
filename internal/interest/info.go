package interest

import (
	"time"

	"github.com/alanyoungcy/troveview/internal/domain"
)

const day = 24 * time.Hour

// GenerateInterestInfo summarizes t at now assuming its current rate held
// since LastUpdate.
func GenerateInterestInfo(t domain.Trove, now time.Time) (domain.InterestInfo, error) {
	b, err := Breakdown(t, now, true)
	if err != nil {
		return domain.InterestInfo{}, err
	}

	info := domain.InterestInfo{
		RecordedDebt:    b.Principal,
		AccruedInterest: b.AccruedInterest,
		EntireDebt:      b.EntireDebt,
		DaysSinceUpdate: daysSince(t.LastUpdate, now),
		Periods:         1,
	}
	if t.IsBatchMember() {
		fees := b.AccruedManagementFees
		info.AccruedManagementFees = &fees
		info.BatchManager = t.Batch.Manager
	}
	return info, nil
}

// GenerateInterestInfoWithTimeline summarizes t at now by replaying rate
// changes from events. It falls back to GenerateInterestInfo when no rate
// periods can be built.
func GenerateInterestInfoWithTimeline(t domain.Trove, events []domain.TimelineEvent, now time.Time) (domain.InterestInfo, error) {
	periods, err := BuildRatePeriodsFromTimeline(events, t.RecordedDebt, t.InterestRate, t.ManagementFee())
	if err != nil {
		return domain.InterestInfo{}, err
	}
	if len(periods) == 0 {
		return GenerateInterestInfo(t, now)
	}

	acc, err := CalculateSegmentedInterest(periods, now)
	if err != nil {
		return domain.InterestInfo{}, err
	}

	info := domain.InterestInfo{
		RecordedDebt:    t.RecordedDebt,
		AccruedInterest: acc.Interest,
		EntireDebt:      CalculateEntireDebt(t.RecordedDebt, acc.Interest, acc.ManagementFees),
		DaysSinceUpdate: daysSince(t.LastUpdate, now),
		Segmented:       true,
		Periods:         len(periods),
	}
	if t.IsBatchMember() {
		fees := acc.ManagementFees
		info.AccruedManagementFees = &fees
		info.BatchManager = t.Batch.Manager
	}
	return info, nil
}

func daysSince(t, now time.Time) int {
	if t.IsZero() || now.Before(t) {
		return 0
	}
	return int(now.Sub(t) / day)
}
