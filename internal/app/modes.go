package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/troveview/internal/domain"
	"github.com/alanyoungcy/troveview/internal/server"
	"github.com/alanyoungcy/troveview/internal/server/handler"
	"github.com/alanyoungcy/troveview/internal/server/ws"
)

// ServerMode starts the HTTP API and WebSocket hub.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return ignoreCanceled(g.Wait())
}

// MonitorMode runs the watchlist monitor loop without an HTTP surface.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return deps.Monitor.Run(ctx)
	})
	return ignoreCanceled(g.Wait())
}

// ArchiveMode runs the snapshot archiver on its cron schedule.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.Archival == nil {
		return errors.New("archive mode: archiver unavailable (postgres and s3 are required)")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return deps.Archival.RunCron(ctx, a.cfg.Archive.Cron)
	})
	return ignoreCanceled(g.Wait())
}

// FullMode runs the HTTP server, the monitor and the archiver together.
// The first to fail cancels the others.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	if deps.Archival == nil {
		return errors.New("full mode: archiver unavailable (postgres and s3 are required)")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return deps.Monitor.Run(ctx)
	})
	g.Go(func() error {
		return deps.Archival.RunCron(ctx, a.cfg.Archive.Cron)
	})
	a.startHTTPServer(ctx, g, deps)
	return ignoreCanceled(g.Wait())
}

// startHTTPServer adds the WebSocket hub and HTTP server goroutines to g. The
// server is shut down gracefully when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	var hub *ws.Hub
	statusFn := func() domain.ServiceStatus {
		return a.status(deps, hub.ClientCount)
	}
	hub = ws.NewHub(deps.SignalBus, statusFn, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:               a.cfg.Server.Port,
		CORSOrigins:        a.cfg.Server.CORSOrigins,
		APIKeys:            a.cfg.Server.APIKeys,
		RateLimitPerMinute: a.cfg.Server.RateLimitPerMinute,
		Limiter:            deps.RateLimiter,
	}, server.Handlers{
		Health:    handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Status:    handler.NewStatusHandler(statusFn),
		Troves:    handler.NewTroveHandler(deps.Troves, a.logger),
		Queue:     handler.NewQueueHandler(deps.Troves, a.logger),
		Watchlist: handler.NewWatchlistHandler(deps.Monitor, deps.WatchlistStore, a.logger),
		Alerts:    handler.NewAlertHandler(deps.AuditStore, a.logger),
		Archive:   handler.NewArchiveHandler(deps.Archiver, a.logger),
		Batch:     handler.NewBatchHandler(deps.Troves),
	}, hub, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// ignoreCanceled treats a cancelled context as a clean shutdown.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
