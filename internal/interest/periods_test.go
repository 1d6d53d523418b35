package interest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/troveview/internal/domain"
)

func ordinary(at time.Time, debt string, rate float64) domain.OrdinaryEvent {
	return domain.OrdinaryEvent{
		TxHash:     "0x" + at.Format("150405"),
		Operation:  "adjustTrove",
		Timestamp:  at,
		StateAfter: domain.TroveState{Debt: dec(debt), InterestRate: rate},
	}
}

func batchChange(at time.Time, rate, fee float64) domain.BatchManagerEvent {
	return domain.BatchManagerEvent{
		TxHash:        "0xb" + at.Format("150405"),
		Manager:       "0x1111111111111111111111111111111111111111",
		Timestamp:     at,
		StateAfter:    domain.TroveState{InterestRate: rate},
		ManagementFee: fee,
	}
}

type unknownEvent struct {
	domain.OrdinaryEvent
}

func TestBuildRatePeriodsFromTimeline_Empty(t *testing.T) {
	periods, err := BuildRatePeriodsFromTimeline(nil, dec("1000"), 5, 0)
	require.NoError(t, err)
	assert.NotNil(t, periods)
	assert.Empty(t, periods)
}

func TestBuildRatePeriodsFromTimeline_NoRateChanges(t *testing.T) {
	events := []domain.TimelineEvent{
		ordinary(t0.Add(-48*time.Hour), "500", 7),
		ordinary(t0, "1000", 5),
	}
	periods, err := BuildRatePeriodsFromTimeline(events, dec("1000"), 5, 0)
	require.NoError(t, err)
	require.Len(t, periods, 1)

	p := periods[0]
	assert.True(t, p.IsOpen())
	assert.Equal(t, t0, p.Start)
	assert.Equal(t, 5.0, p.InterestRate)
	assertDecimal(t, "1000", p.StartingDebt)
}

func TestBuildRatePeriodsFromTimeline_CarriesDebtForward(t *testing.T) {
	events := []domain.TimelineEvent{
		// deliberately out of order
		batchChange(t0.Add(year), 10, 1),
		ordinary(t0, "1000", 5),
		batchChange(t0.Add(-time.Hour), 4, 1),
	}
	periods, err := BuildRatePeriodsFromTimeline(events, dec("1000"), 10, 1)
	require.NoError(t, err)
	require.Len(t, periods, 2)

	first, second := periods[0], periods[1]
	assert.Equal(t, t0, first.Start)
	assert.Equal(t, t0.Add(year), first.End)
	assert.Equal(t, 5.0, first.InterestRate)
	assert.Equal(t, 1.0, first.ManagementFee, "fee in force at the checkpoint")
	assertDecimal(t, "1000", first.StartingDebt)

	assert.Equal(t, first.End, second.Start, "periods are contiguous")
	assert.True(t, second.IsOpen())
	assert.Equal(t, 10.0, second.InterestRate)
	// 1000 + 50 interest + 10 fee
	assertDecimal(t, "1060", second.StartingDebt)

	acc, err := CalculateSegmentedInterest(periods, t0.Add(2*year))
	require.NoError(t, err)
	assertDecimal(t, "156", acc.Interest)
	assertDecimal(t, "20.6", acc.ManagementFees)
	assertDecimal(t, "176.6", acc.Total)
}

func TestBuildRatePeriodsFromTimeline_OnlyBatchEvents(t *testing.T) {
	events := []domain.TimelineEvent{
		batchChange(t0, 4, 0.5),
		batchChange(t0.Add(year), 6, 0.25),
	}
	periods, err := BuildRatePeriodsFromTimeline(events, dec("100"), 6, 0.25)
	require.NoError(t, err)
	require.Len(t, periods, 2)
	assert.Equal(t, 4.0, periods[0].InterestRate)
	assert.Equal(t, 0.5, periods[0].ManagementFee)
	assert.Equal(t, 0.25, periods[1].ManagementFee)
}

func TestBuildRatePeriodsFromTimeline_UnknownEvent(t *testing.T) {
	events := []domain.TimelineEvent{
		ordinary(t0, "1000", 5),
		unknownEvent{ordinary(t0.Add(time.Hour), "1000", 5)},
	}
	_, err := BuildRatePeriodsFromTimeline(events, dec("1000"), 5, 0)
	assert.ErrorIs(t, err, domain.ErrUnknownEvent)
}

func TestBuildRatePeriodsFromTimeline_InvalidBatchRate(t *testing.T) {
	events := []domain.TimelineEvent{
		ordinary(t0, "1000", 5),
		batchChange(t0.Add(time.Hour), -1, 0),
	}
	_, err := BuildRatePeriodsFromTimeline(events, dec("1000"), 5, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCalculateSegmentedInterest_SinglePeriodMatchesDirect(t *testing.T) {
	events := []domain.TimelineEvent{ordinary(t0, "4321.5", 3.9)}
	periods, err := BuildRatePeriodsFromTimeline(events, dec("4321.5"), 3.9, 0)
	require.NoError(t, err)
	require.Len(t, periods, 1)

	now := t0.Add(137 * 24 * time.Hour)
	acc, err := CalculateSegmentedInterest(periods, now)
	require.NoError(t, err)

	direct, err := CalculateAccruedInterest(dec("4321.5"), 3.9, t0, now)
	require.NoError(t, err)
	assert.True(t, direct.Equal(acc.Interest), "segmented %s direct %s", acc.Interest, direct)
	assert.True(t, acc.ManagementFees.IsZero())
}

func TestCalculateSegmentedInterest_Empty(t *testing.T) {
	acc, err := CalculateSegmentedInterest(nil, t0)
	require.NoError(t, err)
	assert.True(t, acc.Total.IsZero())
}
