package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/troveview/internal/domain"
	"github.com/alanyoungcy/troveview/internal/notify"
)

// SnapshotArchiver moves queue snapshots older than the retention window to
// cold storage.
type SnapshotArchiver struct {
	archiver  domain.Archiver
	retention time.Duration
	notifier  *notify.Notifier
	clock     func() time.Time
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
}

// NewSnapshotArchiver creates a SnapshotArchiver. notifier may be nil.
func NewSnapshotArchiver(archiver domain.Archiver, retention time.Duration, notifier *notify.Notifier, logger *slog.Logger) *SnapshotArchiver {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &SnapshotArchiver{
		archiver:  archiver,
		retention: retention,
		notifier:  notifier,
		clock:     time.Now,
		logger:    logger.With(slog.String("component", "snapshot_archiver")),
	}
}

// Run executes a single archive pass and returns the number of snapshots
// moved. Overlapping calls return immediately with zero.
func (a *SnapshotArchiver) Run(ctx context.Context) (int64, error) {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		a.logger.WarnContext(ctx, "archive run already in progress, skipping")
		return 0, nil
	}
	a.running = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	cutoff := a.clock().UTC().Add(-a.retention)
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Duration("retention", a.retention),
	)

	n, err := a.archiver.ArchiveSnapshots(ctx, cutoff)
	if err != nil {
		return n, fmt.Errorf("snapshot_archiver: archive before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	a.logger.InfoContext(ctx, "archive run complete", slog.Int64("archived", n))
	if n > 0 && a.notifier.Enabled() {
		msg := fmt.Sprintf("Archived %d snapshots older than %s", n, cutoff.Format(time.RFC3339))
		if err := a.notifier.Notify(ctx, notify.EventArchive, "Snapshot archive", msg); err != nil {
			a.logger.WarnContext(ctx, "notify archive failed", slog.String("error", err.Error()))
		}
	}
	return n, nil
}

// RunCron runs the archiver on a standard five-field cron schedule
// ("minute hour day-of-month month day-of-week") until ctx is cancelled.
func (a *SnapshotArchiver) RunCron(ctx context.Context, spec string) error {
	logger := cronLogger{a.logger}
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))

	_, err := c.AddFunc(spec, func() {
		if _, err := a.Run(ctx); err != nil {
			a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("snapshot_archiver: parse cron %q: %w", spec, err)
	}

	c.Start()
	a.logger.InfoContext(ctx, "archiver cron started", slog.String("cron", spec))

	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append([]any{slog.String("error", err.Error())}, keysAndValues...)...)
}
