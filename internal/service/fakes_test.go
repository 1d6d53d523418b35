package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/troveview/internal/domain"
	"github.com/alanyoungcy/troveview/internal/redemption"
)

var now = time.Unix(1_750_000_000, 0).UTC()

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mkTrove(id string, rate float64, debt string) domain.Trove {
	return domain.Trove{
		ID:             id,
		CollateralType: domain.CollateralWETH,
		Status:         domain.TroveStatusOpen,
		RecordedDebt:   decimal.RequireFromString(debt),
		InterestRate:   rate,
		LastUpdate:     now,
	}
}

// fakeChain serves as both TroveSource and TroveReader.
type fakeChain struct {
	mu        sync.Mutex
	troves    []domain.Trove
	timelines map[string][]domain.TimelineEvent
	getErr    error
	listCalls int
	getCalls  int
	// block, when set, holds ListOpenTroves until closed.
	block chan struct{}
}

func (f *fakeChain) ListOpenTroves(_ context.Context, _ domain.CollateralType, req domain.PageRequest) (domain.TrovePage, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	start := min(req.Offset, len(f.troves))
	end := min(start+req.Limit, len(f.troves))
	return domain.TrovePage{Troves: append([]domain.Trove(nil), f.troves[start:end]...)}, nil
}

func (f *fakeChain) GetTrove(_ context.Context, ref domain.TroveRef) (domain.Trove, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return domain.Trove{}, f.getErr
	}
	for _, t := range f.troves {
		if t.ID == ref.ID {
			return t, nil
		}
	}
	return domain.Trove{}, fmt.Errorf("fake: %w", domain.ErrNotFound)
}

func (f *fakeChain) GetTimeline(_ context.Context, ref domain.TroveRef) ([]domain.TimelineEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	events, ok := f.timelines[ref.ID]
	if !ok {
		return nil, fmt.Errorf("fake: %w", domain.ErrFetchFailed)
	}
	return events, nil
}

func (f *fakeChain) setTrove(t domain.Trove) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.troves {
		if f.troves[i].ID == t.ID {
			f.troves[i] = t
			return
		}
	}
	f.troves = append(f.troves, t)
}

func (f *fakeChain) calls() (list, get int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls, f.getCalls
}

func newEstimator(src domain.TroveSource) *redemption.Estimator {
	return redemption.NewEstimator(src, redemption.Config{
		PageSize: 10,
		MaxPages: 5,
		Clock:    func() time.Time { return now },
	}, discardLogger())
}

type memCache struct {
	mu      sync.Mutex
	results map[domain.TroveRef]domain.DebtInFrontResult
}

func newMemCache() *memCache {
	return &memCache{results: map[domain.TroveRef]domain.DebtInFrontResult{}}
}

func (m *memCache) Get(_ context.Context, ref domain.TroveRef) (domain.DebtInFrontResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[ref]
	if !ok {
		return domain.DebtInFrontResult{}, domain.ErrNotFound
	}
	return r, nil
}

func (m *memCache) Set(_ context.Context, r domain.DebtInFrontResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[domain.TroveRef{CollateralType: r.CollateralType, ID: r.TroveID}] = r
	return nil
}

func (m *memCache) Invalidate(_ context.Context, ref domain.TroveRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.results, ref)
	return nil
}

type memSnapshots struct {
	mu    sync.Mutex
	snaps []domain.QueueSnapshot
}

func (m *memSnapshots) Insert(_ context.Context, s domain.QueueSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = append(m.snaps, s)
	return nil
}

func (m *memSnapshots) Latest(_ context.Context, ref domain.TroveRef) (domain.QueueSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.snaps) - 1; i >= 0; i-- {
		if m.snaps[i].CollateralType == ref.CollateralType && m.snaps[i].TroveID == ref.ID {
			return m.snaps[i], nil
		}
	}
	return domain.QueueSnapshot{}, domain.ErrNotFound
}

func (m *memSnapshots) ListByTrove(_ context.Context, ref domain.TroveRef, _ domain.ListOpts) ([]domain.QueueSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.QueueSnapshot
	for i := len(m.snaps) - 1; i >= 0; i-- {
		if m.snaps[i].TroveID == ref.ID {
			out = append(out, m.snaps[i])
		}
	}
	return out, nil
}

func (m *memSnapshots) ListBefore(context.Context, time.Time, int) ([]domain.QueueSnapshot, error) {
	return nil, nil
}

func (m *memSnapshots) DeleteByIDs(context.Context, []string) (int64, error) {
	return 0, nil
}

func (m *memSnapshots) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snaps)
}

type memBus struct {
	mu        sync.Mutex
	published map[string][][]byte
	streamed  map[string][][]byte
}

func newMemBus() *memBus {
	return &memBus{published: map[string][][]byte{}, streamed: map[string][][]byte{}}
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *memBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streamed[stream] = append(b.streamed[stream], payload)
	return nil
}

func (b *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func (b *memBus) messages(channel string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published[channel]
}

type memWatchlist struct {
	items []domain.WatchedTrove
}

func (m *memWatchlist) Add(_ context.Context, w domain.WatchedTrove) error {
	m.items = append(m.items, w)
	return nil
}

func (m *memWatchlist) Remove(context.Context, domain.TroveRef) error { return nil }

func (m *memWatchlist) List(context.Context) ([]domain.WatchedTrove, error) {
	return m.items, nil
}

type memAudit struct {
	mu     sync.Mutex
	events []string
}

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (m *memAudit) ListByTrove(context.Context, domain.TroveRef, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (m *memAudit) all() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

type heldLock struct{}

func (heldLock) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}
