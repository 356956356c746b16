package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/edgeprofiler/internal/feed"
	signals "github.com/alanyoungcy/edgeprofiler/internal/orderflow"
	"github.com/alanyoungcy/edgeprofiler/internal/profile"
	"github.com/alanyoungcy/edgeprofiler/internal/server"
	"github.com/alanyoungcy/edgeprofiler/internal/server/handler"
	"github.com/alanyoungcy/edgeprofiler/internal/server/ws"
	"github.com/alanyoungcy/edgeprofiler/internal/service"
)

// LiveMode consumes the feed, analyzes every update and serves the API when
// enabled.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting live mode",
		slog.String("feed", a.cfg.Feed.Source),
		slog.String("symbol", a.cfg.Feed.Symbol),
	)

	g, ctx := errgroup.WithContext(ctx)
	svc := a.profileService(deps)
	a.startFeed(ctx, g, deps, svc)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svc)
	}
	return g.Wait()
}

// ServerMode serves cached snapshots and history without consuming a feed.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, a.profileService(deps))
	return g.Wait()
}

// ArchiveMode runs a single archive pass and returns.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode",
		slog.Int("retention_days", a.cfg.Archive.RetentionDays),
	)

	if deps.Archiver == nil {
		return errors.New("app: archive mode requires s3")
	}
	n, err := a.archiveService(deps).RunOnce(ctx)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "archive mode complete", slog.Int64("archived", n))
	return nil
}

// FullMode is LiveMode plus periodic archival.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	svc := a.profileService(deps)
	a.startFeed(ctx, g, deps, svc)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svc)
	}
	if deps.Archiver != nil {
		archiver := a.archiveService(deps)
		g.Go(func() error {
			return archiver.Run(ctx, a.cfg.ArchiveInterval())
		})
	}
	return g.Wait()
}

func (a *App) profileService(deps *Dependencies) *service.ProfileService {
	ac := a.cfg.Analysis
	analyzer := profile.NewAnalyzer(profile.Config{
		ValueAreaFraction: ac.ValueAreaFraction,
		NarrowHalfWidth:   ac.NarrowHalfWidth,
		WideHalfWidth:     ac.WideHalfWidth,
		ProximityWindow:   ac.ProximityWindow,
	})
	detector := signals.NewDetector(signals.Config{
		ImbalanceRatio:     ac.ImbalanceRatio,
		ImbalanceMinVolume: ac.ImbalanceMinVolume,
		StackedLevels:      ac.StackedLevels,
		HighActivityVolume: ac.HighActivityVolume,
	})

	return service.NewProfileService(analyzer, detector, deps.SnapshotCache, deps.SignalBus, a.logger,
		service.WithSnapshotStore(deps.SnapshotStore, a.cfg.PersistInterval()),
		service.WithNotifier(deps.Notifier),
		service.WithRateLimiter(deps.RateLimiter),
		service.WithMaxCandles(a.cfg.Feed.MaxCandles),
	)
}

func (a *App) archiveService(deps *Dependencies) *service.ArchiveService {
	return service.NewArchiveService(deps.Archiver, a.cfg.Archive.RetentionDays, deps.Notifier, a.logger)
}

// startFeed runs the configured candle source into svc.
func (a *App) startFeed(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *service.ProfileService) {
	switch a.cfg.Feed.Source {
	case "bus":
		f := feed.NewBusFeed(deps.SignalBus, a.cfg.Feed.BusChannel, a.cfg.Feed.Symbol, svc.HandleUpdate, a.logger)
		g.Go(func() error {
			return f.Run(ctx)
		})
	default:
		f := feed.NewOrderflowFeed(a.cfg.Feed.URL, a.cfg.Feed.Symbol, svc.HandleUpdate, a.logger)
		g.Go(func() error {
			defer f.Close()
			return f.Run(ctx)
		})
	}
}

// startHTTPServer runs the API and the WebSocket hub in g and shuts the
// server down when ctx ends.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *service.ProfileService) {
	hub := ws.NewHub(deps.Subscriber, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: a.startedAt,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(a.logger, deps.HealthChecks...),
		Status:  handler.NewStatusHandler(a.cfg.Mode, a.startedAt, svc, hub.ClientCount),
		Profile: handler.NewProfileHandler(svc, a.logger),
	}
	if deps.SignalBus != nil {
		handlers.Stream = handler.NewStreamHandler(deps.SignalBus, a.logger)
	}
	if deps.BlobReader != nil {
		handlers.Archive = handler.NewArchiveHandler(deps.BlobReader, a.logger)
	}
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.RateWindow(),
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		if err := srv.Start(); err != nil {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
