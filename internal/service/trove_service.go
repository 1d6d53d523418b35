package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/troveview/internal/batch"
	"github.com/alanyoungcy/troveview/internal/domain"
	"github.com/alanyoungcy/troveview/internal/interest"
	"github.com/alanyoungcy/troveview/internal/redemption"
)

// calculateTimeout bounds a shared debt-in-front calculation.
const calculateTimeout = 2 * time.Minute

// QueueUpdate is published on domain.ChannelQueueUpdates whenever a fresh
// debt-in-front estimate is computed.
type QueueUpdate struct {
	Event          string          `json:"event"`
	CollateralType string          `json:"collateral_type"`
	TroveID        string          `json:"trove_id"`
	InterestRate   float64         `json:"interest_rate"`
	DebtInFront    decimal.Decimal `json:"debt_in_front"`
	TrovesAhead    int             `json:"troves_ahead"`
	LowerBound     bool            `json:"lower_bound"`
	CalculatedAt   time.Time       `json:"calculated_at"`
}

// TroveService answers interest and redemption-queue questions about single
// troves, caching and recording debt-in-front results.
type TroveService struct {
	reader     domain.TroveReader
	estimator  *redemption.Estimator
	cache      domain.DebtCache
	snapshots  domain.SnapshotStore
	bus        domain.SignalBus
	registry   *batch.Registry
	staleAfter time.Duration
	clock      func() time.Time
	flight     singleflight.Group
	logger     *slog.Logger
}

// NewTroveService creates a TroveService. cache, snapshots, bus and registry
// may be nil.
func NewTroveService(
	reader domain.TroveReader,
	estimator *redemption.Estimator,
	cache domain.DebtCache,
	snapshots domain.SnapshotStore,
	bus domain.SignalBus,
	registry *batch.Registry,
	staleAfter time.Duration,
	logger *slog.Logger,
) *TroveService {
	if staleAfter <= 0 {
		staleAfter = redemption.DefaultStaleAfter
	}
	return &TroveService{
		reader:     reader,
		estimator:  estimator,
		cache:      cache,
		snapshots:  snapshots,
		bus:        bus,
		registry:   registry,
		staleAfter: staleAfter,
		clock:      time.Now,
		logger:     logger.With(slog.String("component", "trove_service")),
	}
}

// StaleAfter returns the age at which a cached estimate is recomputed.
func (s *TroveService) StaleAfter() time.Duration {
	return s.staleAfter
}

// InterestInfo returns the live debt summary for a trove. The timeline is
// replayed when available; a timeline fetch failure degrades to the
// single-rate projection.
func (s *TroveService) InterestInfo(ctx context.Context, ref domain.TroveRef) (domain.InterestInfo, error) {
	if err := validateRef(ref); err != nil {
		return domain.InterestInfo{}, err
	}
	trove, err := s.reader.GetTrove(ctx, ref)
	if err != nil {
		return domain.InterestInfo{}, fmt.Errorf("trove_service: get trove: %w", err)
	}
	now := s.clock()

	var info domain.InterestInfo
	events, err := s.reader.GetTimeline(ctx, ref)
	if err != nil {
		if ctx.Err() != nil {
			return domain.InterestInfo{}, ctx.Err()
		}
		s.logger.WarnContext(ctx, "timeline unavailable, using current rate",
			slog.String("collateral", string(ref.CollateralType)),
			slog.String("trove_id", ref.ID),
			slog.String("error", err.Error()),
		)
		info, err = interest.GenerateInterestInfo(trove, now)
	} else {
		info, err = interest.GenerateInterestInfoWithTimeline(trove, events, now)
	}
	if err != nil {
		return domain.InterestInfo{}, fmt.Errorf("trove_service: interest info %s/%s: %w", ref.CollateralType, ref.ID, err)
	}

	if info.BatchManager != "" && s.registry != nil {
		info.BatchManagerName = s.registry.Name(info.BatchManager)
	}
	return info, nil
}

// DebtInFront returns the debt ahead of a trove in the redemption queue.
// A cached estimate younger than the staleness window is returned unless
// opts.Fresh is set. Concurrent lookups of the same trove share one
// calculation.
func (s *TroveService) DebtInFront(ctx context.Context, ref domain.TroveRef, opts domain.DebtInFrontOptions) (domain.DebtInFrontResult, error) {
	if err := validateRef(ref); err != nil {
		return domain.DebtInFrontResult{}, err
	}

	if !opts.Fresh && !opts.PrincipalOnly && s.cache != nil {
		cached, err := s.cache.Get(ctx, ref)
		switch {
		case err == nil && !redemption.IsCalculationStale(cached.LastCalculated, s.staleAfter, s.clock()):
			return cached, nil
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			s.logger.WarnContext(ctx, "debt cache read failed",
				slog.String("trove_id", ref.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	// The shared calculation outlives any single caller, so it runs on a
	// detached context. Each caller still stops waiting on its own ctx.
	key := fmt.Sprintf("%s:%s:%t", ref.CollateralType, ref.ID, opts.PrincipalOnly)
	ch := s.flight.DoChan(key, func() (any, error) {
		calcCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), calculateTimeout)
		defer cancel()
		return s.calculate(calcCtx, ref, !opts.PrincipalOnly)
	})
	select {
	case <-ctx.Done():
		return domain.DebtInFrontResult{}, fmt.Errorf("trove_service: debt in front %s/%s: %w", ref.CollateralType, ref.ID, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return domain.DebtInFrontResult{}, res.Err
		}
		return res.Val.(domain.DebtInFrontResult), nil
	}
}

func (s *TroveService) calculate(ctx context.Context, ref domain.TroveRef, includeAccrued bool) (domain.DebtInFrontResult, error) {
	trove, err := s.reader.GetTrove(ctx, ref)
	if err != nil {
		return domain.DebtInFrontResult{}, fmt.Errorf("trove_service: get trove: %w", err)
	}
	result, err := s.estimator.CalculateDebtInFront(ctx, trove, includeAccrued)
	if err != nil {
		return domain.DebtInFrontResult{}, fmt.Errorf("trove_service: debt in front: %w", err)
	}
	if includeAccrued {
		s.record(ctx, result)
	}
	return result, nil
}

// record caches, persists and publishes result. Failures are logged only.
func (s *TroveService) record(ctx context.Context, result domain.DebtInFrontResult) {
	logErr := func(msg string, err error) {
		s.logger.WarnContext(ctx, msg,
			slog.String("collateral", string(result.CollateralType)),
			slog.String("trove_id", result.TroveID),
			slog.String("error", err.Error()),
		)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, result); err != nil {
			logErr("debt cache write failed", err)
		}
	}
	if s.snapshots != nil {
		if err := s.snapshots.Insert(ctx, domain.SnapshotFromResult(result)); err != nil {
			logErr("snapshot insert failed", err)
		}
	}
	if s.bus == nil {
		return
	}

	payload, err := json.Marshal(QueueUpdate{
		Event:          "debt_in_front",
		CollateralType: string(result.CollateralType),
		TroveID:        result.TroveID,
		InterestRate:   result.InterestRate,
		DebtInFront:    result.DebtInFront,
		TrovesAhead:    result.TrovesAhead,
		LowerBound:     result.LowerBound,
		CalculatedAt:   result.LastCalculated,
	})
	if err != nil {
		logErr("marshal queue update failed", err)
		return
	}
	if err := s.bus.Publish(ctx, domain.ChannelQueueUpdates, payload); err != nil {
		logErr("publish queue update failed", err)
	}
	if err := s.bus.StreamAppend(ctx, domain.StreamSnapshots, payload); err != nil {
		logErr("append snapshot stream failed", err)
	}
}

// Queue returns the full redemption queue for collateral.
func (s *TroveService) Queue(ctx context.Context, collateral domain.CollateralType) (domain.QueueView, error) {
	if !collateral.Valid() {
		return domain.QueueView{}, fmt.Errorf("trove_service: %w: unknown collateral type %q", domain.ErrInvalidInput, collateral)
	}
	view, err := s.estimator.RankQueue(ctx, collateral)
	if err != nil {
		return domain.QueueView{}, fmt.Errorf("trove_service: queue: %w", err)
	}
	return view, nil
}

// History returns stored debt-in-front snapshots for a trove, newest first.
func (s *TroveService) History(ctx context.Context, ref domain.TroveRef, opts domain.ListOpts) ([]domain.QueueSnapshot, error) {
	if err := validateRef(ref); err != nil {
		return nil, err
	}
	if s.snapshots == nil {
		return nil, nil
	}
	snaps, err := s.snapshots.ListByTrove(ctx, ref, opts)
	if err != nil {
		return nil, fmt.Errorf("trove_service: history: %w", err)
	}
	return snaps, nil
}

// BatchManagers lists the known batch managers.
func (s *TroveService) BatchManagers() []domain.BatchManager {
	if s.registry == nil {
		return nil
	}
	return s.registry.All()
}

func validateRef(ref domain.TroveRef) error {
	if !ref.CollateralType.Valid() {
		return fmt.Errorf("trove_service: %w: unknown collateral type %q", domain.ErrInvalidInput, ref.CollateralType)
	}
	if ref.ID == "" {
		return fmt.Errorf("trove_service: %w: trove id is required", domain.ErrInvalidInput)
	}
	return nil
}
