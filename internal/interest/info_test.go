package interest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/troveview/internal/domain"
)

func TestGenerateInterestInfo(t *testing.T) {
	trove := domain.Trove{ID: "1", RecordedDebt: dec("1000"), InterestRate: 5, LastUpdate: t0}

	info, err := GenerateInterestInfo(trove, t0.Add(year))
	require.NoError(t, err)
	assertDecimal(t, "1000", info.RecordedDebt)
	assertDecimal(t, "50", info.AccruedInterest)
	assertDecimal(t, "1050", info.EntireDebt)
	assert.Equal(t, 365, info.DaysSinceUpdate)
	assert.Nil(t, info.AccruedManagementFees)
	assert.False(t, info.Segmented)
}

func TestGenerateInterestInfo_BatchMember(t *testing.T) {
	trove := domain.Trove{
		ID:           "2",
		RecordedDebt: dec("1000"),
		InterestRate: 5,
		LastUpdate:   t0,
		Batch:        &domain.BatchMembership{Manager: "0xmgr", ManagementFee: 2},
	}

	info, err := GenerateInterestInfo(trove, t0.Add(year))
	require.NoError(t, err)
	require.NotNil(t, info.AccruedManagementFees)
	assertDecimal(t, "20", *info.AccruedManagementFees)
	assertDecimal(t, "1070", info.EntireDebt)
	assert.Equal(t, "0xmgr", info.BatchManager)
}

func TestGenerateInterestInfoWithTimeline_FallsBack(t *testing.T) {
	trove := domain.Trove{ID: "3", RecordedDebt: dec("1000"), InterestRate: 5, LastUpdate: t0}

	withTimeline, err := GenerateInterestInfoWithTimeline(trove, nil, t0.Add(year))
	require.NoError(t, err)
	plain, err := GenerateInterestInfo(trove, t0.Add(year))
	require.NoError(t, err)
	assert.Equal(t, plain, withTimeline)
}

func TestGenerateInterestInfoWithTimeline_Segmented(t *testing.T) {
	trove := domain.Trove{
		ID:           "4",
		RecordedDebt: dec("1000"),
		InterestRate: 10,
		LastUpdate:   t0,
		Batch:        &domain.BatchMembership{Manager: "0xmgr", ManagementFee: 1},
	}
	events := []domain.TimelineEvent{
		ordinary(t0, "1000", 5),
		batchChange(t0.Add(year), 10, 1),
	}

	info, err := GenerateInterestInfoWithTimeline(trove, events, t0.Add(2*year))
	require.NoError(t, err)
	assert.True(t, info.Segmented)
	assert.Equal(t, 2, info.Periods)
	assertDecimal(t, "156", info.AccruedInterest)
	require.NotNil(t, info.AccruedManagementFees)
	assertDecimal(t, "20.6", *info.AccruedManagementFees)
	assertDecimal(t, "1176.6", info.EntireDebt)
	assert.Equal(t, 730, info.DaysSinceUpdate)
}

func TestDaysSince(t *testing.T) {
	assert.Equal(t, 0, daysSince(time.Time{}, t0))
	assert.Equal(t, 0, daysSince(t0.Add(time.Hour), t0))
	assert.Equal(t, 1, daysSince(t0, t0.Add(47*time.Hour)))
}
