package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantive/signalbridge/internal/metrics"
	"github.com/quantive/signalbridge/internal/server"
	"github.com/quantive/signalbridge/internal/server/handler"
	"github.com/quantive/signalbridge/internal/server/ws"
)

// ServeMode runs the HTTP API, the WebSocket hub, the notification watcher,
// and the trade archival sweep. It blocks until the context is cancelled.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startServer(ctx, g, deps)
	a.startWatcher(ctx, g, deps)
	a.startArchiver(ctx, g, deps)

	return waitGroup(g)
}

// ReconcileMode runs only the broker reconciliation loop.
func (a *App) ReconcileMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting reconcile mode")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.reconcileLoop(ctx, deps)
	})
	return waitGroup(g)
}

// FullMode runs the HTTP API, WebSocket hub, notification watcher, the
// reconciliation loop, and the trade archival sweep.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startServer(ctx, g, deps)
	a.startWatcher(ctx, g, deps)
	a.startArchiver(ctx, g, deps)

	if a.cfg.Reconcile.Enabled {
		g.Go(func() error {
			return a.reconcileLoop(ctx, deps)
		})
	}

	return waitGroup(g)
}

// startServer registers the HTTP server and WebSocket hub goroutines when the
// server is enabled in the configuration.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "http server disabled")
		return
	}

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		err := hub.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.logger),
		Signals:   handler.NewSignalHandler(deps.Orchestrator, deps.Guard, a.cfg.Server.SignalTimeout.Duration, a.logger),
		Positions: handler.NewPositionHandler(deps.Ledger, a.logger),
		Trades:    handler.NewTradeHandler(deps.TradeStore, a.logger),
		Audit:     handler.NewAuditHandler(deps.AuditStore, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// startArchiver registers the trade archival sweep when archival is enabled.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
	g.Go(func() error {
		err := deps.Archiver.Run(ctx, a.cfg.Archive.Interval.Duration, retention)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
}

// startWatcher registers the notification watcher goroutine when any sender
// is configured.
func (a *App) startWatcher(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Watcher == nil {
		return
	}
	g.Go(func() error {
		err := deps.Watcher.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
}

// reconcileLoop periodically reconciles every active activation against its
// broker, publishes the reports, and counts discrepancies.
func (a *App) reconcileLoop(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Reconcile.Interval.Duration
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.logger.InfoContext(ctx, "reconciliation loop started",
		slog.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.reconcileOnce(ctx, deps)
		}
	}
}

// reconcileOnce runs one reconciliation sweep.
func (a *App) reconcileOnce(ctx context.Context, deps *Dependencies) {
	reports, err := deps.Ledger.SyncAll(ctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "reconciliation sweep failed",
			slog.String("error", err.Error()))
		return
	}

	discrepancies := 0
	for _, r := range reports {
		if r.Discrepancy {
			discrepancies++
			metrics.IncDiscrepancy()
		}
	}

	a.logger.InfoContext(ctx, "reconciliation sweep complete",
		slog.Int("activations", len(reports)),
		slog.Int("discrepancies", discrepancies))

	if len(reports) == 0 {
		return
	}
	payload, err := json.Marshal(reports)
	if err != nil {
		a.logger.ErrorContext(ctx, "reconciliation report marshal failed",
			slog.String("error", err.Error()))
		return
	}
	if err := deps.SignalBus.Publish(ctx, "reconciliation", payload); err != nil {
		a.logger.WarnContext(ctx, "reconciliation report publish failed",
			slog.String("error", err.Error()))
	}
}

// waitGroup blocks on the errgroup, treating context cancellation as a clean
// shutdown.
func waitGroup(g *errgroup.Group) error {
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
