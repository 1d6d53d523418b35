package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/troveview/internal/domain"
	"github.com/alanyoungcy/troveview/internal/notify"
)

const monitorLockKey = "monitor"

var hundred = decimal.NewFromInt(100)

// MonitorConfig tunes the watchlist monitor.
type MonitorConfig struct {
	Interval time.Duration
	Workers  int
	// DropAlertPct raises a sharp_drop alert when debt in front falls by at
	// least this percentage between cycles. Zero disables it.
	DropAlertPct float64
	LockTTL      time.Duration
	// RetryMaxElapsed bounds the backoff for one trove within a cycle.
	RetryMaxElapsed time.Duration
	// Static troves are watched in addition to the stored watchlist.
	Static []domain.WatchedTrove
}

func (c *MonitorConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.LockTTL <= 0 {
		c.LockTTL = c.Interval
	}
	if c.RetryMaxElapsed <= 0 {
		c.RetryMaxElapsed = time.Minute
	}
}

// Monitor periodically recomputes debt in front of every watched trove and
// alerts when one becomes exposed to redemption.
type Monitor struct {
	troves    *TroveService
	watchlist domain.WatchlistStore
	snapshots domain.SnapshotStore
	locks     domain.LockManager
	audit     domain.AuditStore
	notifier  *notify.Notifier
	bus       domain.SignalBus
	pool      pond.Pool
	cfg       MonitorConfig
	newRetry  func() backoff.BackOff
	logger    *slog.Logger

	mu       sync.Mutex
	last     map[domain.TroveRef]decimal.Decimal
	below    map[domain.TroveRef]bool
	lastAt   time.Time
	lastErrs int
	watched  int
}

// NewMonitor creates a Monitor. Every dependency except troves may be nil.
func NewMonitor(
	troves *TroveService,
	watchlist domain.WatchlistStore,
	snapshots domain.SnapshotStore,
	locks domain.LockManager,
	audit domain.AuditStore,
	notifier *notify.Notifier,
	bus domain.SignalBus,
	cfg MonitorConfig,
	logger *slog.Logger,
) *Monitor {
	cfg.applyDefaults()
	m := &Monitor{
		troves:    troves,
		watchlist: watchlist,
		snapshots: snapshots,
		locks:     locks,
		audit:     audit,
		notifier:  notifier,
		bus:       bus,
		pool:      pond.NewPool(cfg.Workers, pond.WithQueueSize(cfg.Workers*16)),
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "monitor")),
		last:      make(map[domain.TroveRef]decimal.Decimal),
		below:     make(map[domain.TroveRef]bool),
	}
	m.newRetry = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 2 * time.Second
		b.MaxInterval = 30 * time.Second
		b.MaxElapsedTime = m.cfg.RetryMaxElapsed
		return b
	}
	return m
}

// Run executes a cycle immediately and then on every interval until ctx is
// cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.pool.StopAndWait()

	m.logger.InfoContext(ctx, "monitor started",
		slog.Duration("interval", m.cfg.Interval),
		slog.Int("workers", m.cfg.Workers),
	)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		if err := m.RunCycle(ctx); err != nil && ctx.Err() == nil {
			m.logger.ErrorContext(ctx, "monitor cycle failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunCycle checks every watched trove once. It is a no-op when another
// instance holds the monitor lock.
func (m *Monitor) RunCycle(ctx context.Context) error {
	if m.locks != nil {
		unlock, err := m.locks.Acquire(ctx, monitorLockKey, m.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			m.logger.DebugContext(ctx, "monitor lock held elsewhere, skipping cycle")
			return nil
		}
		if err != nil {
			return fmt.Errorf("monitor: acquire lock: %w", err)
		}
		defer unlock()
	}

	watched, err := m.Watched(ctx)
	if err != nil {
		return err
	}

	var failures atomic.Int32
	group := m.pool.NewGroupContext(ctx)
	for _, w := range watched {
		group.Submit(func() {
			if err := m.checkTrove(ctx, w); err != nil {
				failures.Add(1)
				m.logger.WarnContext(ctx, "watched trove check failed",
					slog.String("collateral", string(w.CollateralType)),
					slog.String("trove_id", w.TroveID),
					slog.String("error", err.Error()),
				)
			}
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		return fmt.Errorf("monitor: cycle: %w", err)
	}

	m.mu.Lock()
	m.lastAt = time.Now().UTC()
	m.lastErrs = int(failures.Load())
	m.watched = len(watched)
	m.mu.Unlock()

	if n := failures.Load(); n > 0 && m.notifier.Enabled() {
		msg := fmt.Sprintf("%d of %d watched troves could not be checked", n, len(watched))
		if err := m.notifier.Notify(ctx, notify.EventMonitorError, "Monitor cycle errors", msg); err != nil {
			m.logger.WarnContext(ctx, "notify monitor errors failed", slog.String("error", err.Error()))
		}
	}

	m.logger.InfoContext(ctx, "monitor cycle complete",
		slog.Int("watched", len(watched)),
		slog.Int("failures", int(failures.Load())),
	)
	return nil
}

// Watched merges the static watchlist with the stored one. Stored entries
// win over static ones for the same trove.
func (m *Monitor) Watched(ctx context.Context) ([]domain.WatchedTrove, error) {
	byRef := make(map[domain.TroveRef]int)
	var out []domain.WatchedTrove
	add := func(w domain.WatchedTrove) {
		if i, ok := byRef[w.Ref()]; ok {
			out[i] = w
			return
		}
		byRef[w.Ref()] = len(out)
		out = append(out, w)
	}

	for _, w := range m.cfg.Static {
		add(w)
	}
	if m.watchlist != nil {
		stored, err := m.watchlist.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("monitor: list watchlist: %w", err)
		}
		for _, w := range stored {
			add(w)
		}
	}
	return out, nil
}

// Status reports the most recent cycle.
func (m *Monitor) Status() (lastAt time.Time, lastErrs, watched int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastAt, m.lastErrs, m.watched
}

func (m *Monitor) checkTrove(ctx context.Context, w domain.WatchedTrove) error {
	ref := w.Ref()
	prev := m.previous(ctx, ref)

	var result domain.DebtInFrontResult
	op := func() error {
		var err error
		result, err = m.troves.DebtInFront(ctx, ref, domain.DebtInFrontOptions{Fresh: true})
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notifyRetry := func(err error, wait time.Duration) {
		m.logger.DebugContext(ctx, "retrying trove check",
			slog.String("trove_id", ref.ID),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(m.newRetry(), ctx), notifyRetry); err != nil {
		return err
	}

	m.mu.Lock()
	m.last[ref] = result.DebtInFront
	wasBelow := m.below[ref]
	m.below[ref] = belowThreshold(w, result)
	m.mu.Unlock()

	alert, ok := evaluateAlert(w, result, prev, m.cfg.DropAlertPct, wasBelow)
	if !ok {
		return nil
	}
	m.raise(ctx, alert)
	return nil
}

// previous returns the last known debt in front of ref, consulting stored
// snapshots after a restart.
func (m *Monitor) previous(ctx context.Context, ref domain.TroveRef) *decimal.Decimal {
	m.mu.Lock()
	d, ok := m.last[ref]
	m.mu.Unlock()
	if ok {
		return &d
	}
	if m.snapshots == nil {
		return nil
	}
	snap, err := m.snapshots.Latest(ctx, ref)
	if err != nil {
		return nil
	}
	return &snap.DebtInFront
}

func (m *Monitor) raise(ctx context.Context, alert domain.RedemptionAlert) {
	m.logger.WarnContext(ctx, "redemption risk",
		slog.String("kind", string(alert.Kind)),
		slog.String("collateral", string(alert.Trove.CollateralType)),
		slog.String("trove_id", alert.Trove.ID),
		slog.String("debt_in_front", alert.DebtInFront.String()),
	)

	if m.notifier.Enabled() {
		if err := m.notifier.NotifyAlert(ctx, alert); err != nil {
			m.logger.WarnContext(ctx, "notify alert failed", slog.String("error", err.Error()))
		}
	}
	if m.audit != nil {
		detail := map[string]any{
			"alert_id":      alert.ID,
			"kind":          string(alert.Kind),
			"collateral":    string(alert.Trove.CollateralType),
			"trove_id":      alert.Trove.ID,
			"debt_in_front": alert.DebtInFront.String(),
			"threshold":     alert.AlertThreshold.String(),
			"troves_ahead":  alert.TrovesAhead,
		}
		if alert.PreviousDebt != nil {
			detail["previous_debt"] = alert.PreviousDebt.String()
		}
		if err := m.audit.Log(ctx, notify.EventRedemptionRisk, detail); err != nil {
			m.logger.WarnContext(ctx, "audit alert failed", slog.String("error", err.Error()))
		}
	}
	if m.bus != nil {
		if payload, err := json.Marshal(alert); err == nil {
			if err := m.bus.Publish(ctx, domain.ChannelAlerts, payload); err != nil {
				m.logger.WarnContext(ctx, "publish alert failed", slog.String("error", err.Error()))
			}
		}
	}
}

// evaluateAlert decides whether result warrants an alert. A below-threshold
// alert fires once when the trove crosses under its threshold; a sharp drop
// fires whenever the decline since prev reaches dropPct.
func evaluateAlert(
	w domain.WatchedTrove,
	result domain.DebtInFrontResult,
	prev *decimal.Decimal,
	dropPct float64,
	alreadyBelow bool,
) (domain.RedemptionAlert, bool) {
	alert := domain.RedemptionAlert{
		ID:             uuid.NewString(),
		Trove:          w.Ref(),
		Label:          w.Label,
		DebtInFront:    result.DebtInFront,
		PreviousDebt:   prev,
		AlertThreshold: w.AlertThreshold,
		TrovesAhead:    result.TrovesAhead,
		LowerBound:     result.LowerBound,
		RaisedAt:       result.LastCalculated,
	}

	if belowThreshold(w, result) && !alreadyBelow {
		alert.Kind = domain.AlertBelowThreshold
		return alert, true
	}
	if dropPct > 0 && prev != nil && prev.IsPositive() {
		drop := prev.Sub(result.DebtInFront).Div(*prev).Mul(hundred)
		if drop.GreaterThanOrEqual(decimal.NewFromFloat(dropPct)) {
			alert.Kind = domain.AlertSharpDrop
			return alert, true
		}
	}
	return domain.RedemptionAlert{}, false
}

func belowThreshold(w domain.WatchedTrove, result domain.DebtInFrontResult) bool {
	return w.AlertThreshold.IsPositive() && result.DebtInFront.LessThan(w.AlertThreshold)
}

// retryable reports whether err is worth another attempt.
func retryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrUnauthorized):
		return false
	default:
		return true
	}
}
