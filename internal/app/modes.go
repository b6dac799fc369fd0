package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/veilbet/veilbet/internal/archive"
	"github.com/veilbet/veilbet/internal/resolver"
	"github.com/veilbet/veilbet/internal/server"
	"github.com/veilbet/veilbet/internal/server/handler"
	"github.com/veilbet/veilbet/internal/server/ws"
)

// ServerMode runs the HTTP and WebSocket API only. Lifecycle transitions
// still happen through the API, but no background worker advances markets.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// ResolverMode runs the resolution worker only: it locks markets past their
// deadline, requests resolution, and fulfils decryption requests with the
// in-process committee oracle.
func (a *App) ResolverMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting resolver mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startResolver(ctx, g, deps); err != nil {
		return err
	}
	return g.Wait()
}

// ArchiveMode runs the settlement archiver on its cron schedule.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startArchiver(ctx, g, deps); err != nil {
		return err
	}
	return g.Wait()
}

// FullMode runs everything: API server, resolution worker, and, when
// enabled, the settlement archiver.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	if a.cfg.Resolver.Enabled {
		if err := a.startResolver(ctx, g, deps); err != nil {
			return err
		}
	}
	if a.cfg.Archive.Enabled {
		if err := a.startArchiver(ctx, g, deps); err != nil {
			return err
		}
	}

	return g.Wait()
}

// startHTTPServer builds the handler set, WebSocket hub, and HTTP server,
// and registers their goroutines on the group.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(a.logger),
		Status:     handler.NewStatusHandler(a.cfg.Mode),
		Markets:    handler.NewMarketHandler(deps.Markets, a.logger),
		Bets:       handler.NewBetHandler(deps.Markets, a.logger),
		Positions:  handler.NewPositionHandler(deps.Markets, a.logger),
		Resolution: handler.NewResolutionHandler(deps.Resolution, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimitPerMin: a.cfg.Server.RateLimitPerMin,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown failed", slog.String("error", err.Error()))
		}
		return ctx.Err()
	})
}

// startResolver builds the resolution worker and registers its goroutine.
func (a *App) startResolver(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if deps.Operator == nil {
		return fmt.Errorf("app: resolver requires an operator key")
	}
	if deps.Oracle == nil {
		return fmt.Errorf("app: resolver requires committee member keys")
	}

	worker := resolver.NewWorker(
		deps.Resolution,
		deps.Engine,
		deps.Oracle,
		deps.SignalBus,
		deps.LockManager,
		deps.Operator.Address(),
		a.logger,
	)
	if d := a.cfg.Resolver.PollInterval.Duration; d > 0 {
		worker.SetPollInterval(d)
	}
	if d := a.cfg.Resolver.LockTTL.Duration; d > 0 {
		worker.SetLockTTL(d)
	}
	if d := a.cfg.Resolver.DedupTTL.Duration; d > 0 {
		worker.SetDedupTTL(d)
	}

	g.Go(func() error {
		return worker.Run(ctx)
	})
	return nil
}

// startArchiver builds the cron-scheduled settlement archiver and registers
// its goroutine.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("app: archive mode requires S3 storage")
	}

	arch := archive.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
	cronExpr := a.cfg.Archive.Cron

	g.Go(func() error {
		return arch.RunCron(ctx, cronExpr)
	})
	return nil
}
