package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/troveview/internal/batch"
	"github.com/alanyoungcy/troveview/internal/domain"
)

type troveFixture struct {
	chain *fakeChain
	cache *memCache
	snaps *memSnapshots
	bus   *memBus
	svc   *TroveService
}

func newTroveFixture(t *testing.T) troveFixture {
	t.Helper()
	chain := &fakeChain{troves: []domain.Trove{
		mkTrove("target", 5, "1000"),
		mkTrove("a", 3, "200"),
		mkTrove("b", 4, "300"),
		mkTrove("c", 6, "400"),
	}}
	reg, err := batch.Parse(`
[[manager]]
address = "0x1111111111111111111111111111111111111111"
name = "Steady Rates"
`)
	require.NoError(t, err)
	registry, err := batch.NewRegistry(reg)
	require.NoError(t, err)

	f := troveFixture{chain: chain, cache: newMemCache(), snaps: &memSnapshots{}, bus: newMemBus()}
	f.svc = NewTroveService(chain, newEstimator(chain), f.cache, f.snaps, f.bus, registry, 5*time.Minute, discardLogger())
	f.svc.clock = func() time.Time { return now }
	return f
}

var targetRef = domain.TroveRef{CollateralType: domain.CollateralWETH, ID: "target"}

func TestDebtInFrontRecordsFreshResult(t *testing.T) {
	f := newTroveFixture(t)

	res, err := f.svc.DebtInFront(context.Background(), targetRef, domain.DebtInFrontOptions{})
	require.NoError(t, err)
	assert.True(t, res.DebtInFront.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, 2, res.TrovesAhead)

	cached, err := f.cache.Get(context.Background(), targetRef)
	require.NoError(t, err)
	assert.True(t, cached.DebtInFront.Equal(res.DebtInFront))
	assert.Equal(t, 1, f.snaps.count())

	msgs := f.bus.messages(domain.ChannelQueueUpdates)
	require.Len(t, msgs, 1)
	var update QueueUpdate
	require.NoError(t, json.Unmarshal(msgs[0], &update))
	assert.Equal(t, "target", update.TroveID)
	assert.Equal(t, 2, update.TrovesAhead)
	assert.Len(t, f.bus.streamed[domain.StreamSnapshots], 1)
}

func TestDebtInFrontUsesCacheUntilStale(t *testing.T) {
	f := newTroveFixture(t)
	ctx := context.Background()

	_, err := f.svc.DebtInFront(ctx, targetRef, domain.DebtInFrontOptions{})
	require.NoError(t, err)
	list, _ := f.chain.calls()
	require.Equal(t, 1, list)

	f.svc.clock = func() time.Time { return now.Add(299 * time.Second) }
	_, err = f.svc.DebtInFront(ctx, targetRef, domain.DebtInFrontOptions{})
	require.NoError(t, err)
	list, _ = f.chain.calls()
	assert.Equal(t, 1, list, "fresh cache entry must be served")

	f.svc.clock = func() time.Time { return now.Add(301 * time.Second) }
	_, err = f.svc.DebtInFront(ctx, targetRef, domain.DebtInFrontOptions{})
	require.NoError(t, err)
	list, _ = f.chain.calls()
	assert.Equal(t, 2, list, "stale cache entry must be recomputed")

	_, err = f.svc.DebtInFront(ctx, targetRef, domain.DebtInFrontOptions{Fresh: true})
	require.NoError(t, err)
	list, _ = f.chain.calls()
	assert.Equal(t, 3, list)
}

func TestDebtInFrontPrincipalOnlyIsNotRecorded(t *testing.T) {
	f := newTroveFixture(t)
	stale := mkTrove("a", 3, "200")
	stale.LastUpdate = now.Add(-365 * 24 * time.Hour)
	f.chain.setTrove(stale)

	res, err := f.svc.DebtInFront(context.Background(), targetRef, domain.DebtInFrontOptions{PrincipalOnly: true})
	require.NoError(t, err)
	assert.True(t, res.DebtInFront.Equal(decimal.NewFromInt(500)))
	assert.Zero(t, f.snaps.count())
	assert.Empty(t, f.bus.messages(domain.ChannelQueueUpdates))

	full, err := f.svc.DebtInFront(context.Background(), targetRef, domain.DebtInFrontOptions{Fresh: true})
	require.NoError(t, err)
	assert.True(t, full.DebtInFront.GreaterThan(decimal.NewFromInt(500)))
}

func TestDebtInFrontCollapsesConcurrentRequests(t *testing.T) {
	f := newTroveFixture(t)
	f.chain.block = make(chan struct{})

	var wg sync.WaitGroup
	results := make([]domain.DebtInFrontResult, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := f.svc.DebtInFront(context.Background(), targetRef, domain.DebtInFrontOptions{Fresh: true})
			assert.NoError(t, err)
			results[i] = r
		}()
	}
	// Give the goroutines a chance to join the in-flight call.
	time.Sleep(50 * time.Millisecond)
	close(f.chain.block)
	wg.Wait()

	list, _ := f.chain.calls()
	assert.Less(t, list, 5)
	for _, r := range results {
		assert.True(t, r.DebtInFront.Equal(decimal.NewFromInt(500)))
	}
}

func TestDebtInFrontSharedCallSurvivesCallerCancel(t *testing.T) {
	f := newTroveFixture(t)
	f.chain.block = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := f.svc.DebtInFront(ctx, targetRef, domain.DebtInFrontOptions{Fresh: true})
		first <- err
	}()

	type outcome struct {
		res domain.DebtInFrontResult
		err error
	}
	second := make(chan outcome, 1)
	time.Sleep(20 * time.Millisecond)
	go func() {
		r, err := f.svc.DebtInFront(context.Background(), targetRef, domain.DebtInFrontOptions{Fresh: true})
		second <- outcome{r, err}
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	close(f.chain.block)
	got := <-second
	require.NoError(t, got.err)
	assert.True(t, got.res.DebtInFront.Equal(decimal.NewFromInt(500)))
}

func TestDebtInFrontValidation(t *testing.T) {
	f := newTroveFixture(t)

	_, err := f.svc.DebtInFront(context.Background(), domain.TroveRef{CollateralType: "DOGE", ID: "1"}, domain.DebtInFrontOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.svc.DebtInFront(context.Background(), domain.TroveRef{CollateralType: domain.CollateralWETH}, domain.DebtInFrontOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.svc.DebtInFront(context.Background(), domain.TroveRef{CollateralType: domain.CollateralWETH, ID: "missing"}, domain.DebtInFrontOptions{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInterestInfo(t *testing.T) {
	f := newTroveFixture(t)
	member := mkTrove("member", 5, "1000")
	member.LastUpdate = now.Add(-2 * 24 * time.Hour)
	member.Batch = &domain.BatchMembership{Manager: "0x1111111111111111111111111111111111111111", ManagementFee: 1}
	f.chain.setTrove(member)

	ref := domain.TroveRef{CollateralType: domain.CollateralWETH, ID: "member"}
	info, err := f.svc.InterestInfo(context.Background(), ref)
	require.NoError(t, err)
	assert.False(t, info.Segmented, "missing timeline falls back to the current rate")
	assert.Equal(t, 2, info.DaysSinceUpdate)
	assert.Equal(t, "Steady Rates", info.BatchManagerName)
	require.NotNil(t, info.AccruedManagementFees)
	assert.True(t, info.AccruedManagementFees.IsPositive())

	f.chain.timelines = map[string][]domain.TimelineEvent{
		"member": {domain.OrdinaryEvent{
			Operation:  "adjustTroveInterestRate",
			Timestamp:  member.LastUpdate,
			StateAfter: domain.TroveState{Debt: member.RecordedDebt, InterestRate: 5},
		}},
	}
	info, err = f.svc.InterestInfo(context.Background(), ref)
	require.NoError(t, err)
	assert.True(t, info.Segmented)
	assert.Equal(t, 1, info.Periods)
}

func TestQueueAndHistory(t *testing.T) {
	f := newTroveFixture(t)
	ctx := context.Background()

	view, err := f.svc.Queue(ctx, domain.CollateralWETH)
	require.NoError(t, err)
	require.Len(t, view.Troves, 4)
	assert.Equal(t, "a", view.Troves[0].Trove.ID)
	assert.True(t, view.TotalDebt.Equal(decimal.NewFromInt(1900)))

	_, err = f.svc.Queue(ctx, "DOGE")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.svc.DebtInFront(ctx, targetRef, domain.DebtInFrontOptions{})
	require.NoError(t, err)
	hist, err := f.svc.History(ctx, targetRef, domain.ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, 2, hist[0].TrovesAhead)

	assert.Len(t, f.svc.BatchManagers(), 1)
}
