package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/predator/internal/domain"
	"github.com/alanyoungcy/predator/internal/engine"
	"github.com/alanyoungcy/predator/internal/feed"
	"github.com/alanyoungcy/predator/internal/server"
	"github.com/alanyoungcy/predator/internal/server/handler"
	"github.com/alanyoungcy/predator/internal/server/ws"
	"github.com/alanyoungcy/predator/internal/service"
)

const (
	leaseRole     = "engine"
	shutdownGrace = 5 * time.Second
)

// running is what the engine side of a mode exposes to the HTTP layer.
type running struct {
	engine    *engine.Engine
	chain     *feed.Supervisor
	orderBook *feed.Supervisor
}

// FullMode runs the engine, its feeds, every configured sink and the API in
// one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	run, err := a.startEngine(ctx, g, deps)
	if err != nil {
		return err
	}
	a.startSinks(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps, run)
	return g.Wait()
}

// EngineMode runs the engine, its feeds and the API. Journal, export and
// alerts are left to a sinks process on the shared bus.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting engine mode")

	g, ctx := errgroup.WithContext(ctx)
	run, err := a.startEngine(ctx, g, deps)
	if err != nil {
		return err
	}
	a.startHTTPServer(ctx, g, deps, run)
	return g.Wait()
}

// SinksMode consumes the shared bus into the journal, the object-store
// export and the notification channels.
func (a *App) SinksMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sinks mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startSinks(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps, nil)
	return g.Wait()
}

// startEngine builds the engine and its two supervised feeds and starts them
// on g. With redis.lease set it first claims the engine lease and keeps it
// renewed; losing it stops the group.
func (a *App) startEngine(ctx context.Context, g *errgroup.Group, deps *Dependencies) (*running, error) {
	if a.cfg.Redis.Lease && deps.Leases != nil {
		if err := a.holdLease(ctx, g, deps.Leases); err != nil {
			return nil, err
		}
	}

	healthPub := service.NewFeedHealthPublisher(deps.Bus, a.logger)
	hook := feed.WithHealthHook(func(h domain.FeedHealth) {
		deps.Metrics.ObserveFeed(h)
		healthPub.Hook(h)
	})

	run := &running{}
	opts := []engine.Option{
		engine.WithObserver(deps.Metrics),
		engine.WithEvidenceHealth(func() domain.FeedHealth { return run.chain.Health() }),
	}
	if deps.Snapshots != nil {
		opts = append(opts, engine.WithSnapshotCache(deps.Snapshots))
	}
	eng := engine.New(engineConfig(a.cfg), deps.Bus, a.logger, opts...)
	run.engine = eng

	// Chain evidence.
	var chainProviders []feed.Provider
	for _, p := range a.cfg.Chain.Providers {
		chainProviders = append(chainProviders, feed.NewChainProvider(feed.ChainConfig{
			Name:          p.Name,
			URL:           p.URL,
			Token:         common.HexToAddress(a.cfg.Asset.TokenAddress),
			TokenDecimals: uint8(a.cfg.Asset.TokenDecimals),
			Pending:       a.cfg.Chain.Pending,
			PendingFilter: eng.PendingCandidate,
		}, eng.OnTransfer, eng.OnPending, a.logger))
	}
	run.chain = feed.NewSupervisor(
		supervisorConfig("chain", a.cfg.Chain.Backoff, a.cfg.Whale.StaleAfter.Duration),
		chainProviders, a.logger, hook)

	// Market data.
	onBook := func(s domain.OrderBookSnapshot) { eng.OnSnapshot(s) }
	var bookProviders []feed.Provider
	for _, p := range a.cfg.OrderBook.Providers {
		bookProviders = append(bookProviders,
			feed.NewOrderBookWS(p.Name, p.URL, p.Subscribe, onBook, eng.OnTrade, a.logger))
	}
	if a.cfg.OrderBook.FromBus {
		bookProviders = append(bookProviders, feed.NewBusFeeder(deps.Bus, onBook, eng.OnTrade, a.logger))
	}
	run.orderBook = feed.NewSupervisor(
		supervisorConfig("orderbook", a.cfg.OrderBook.Backoff, a.cfg.OrderBook.StaleAfter.Duration),
		bookProviders, a.logger, hook)

	g.Go(func() error { return eng.Run(ctx) })
	g.Go(func() error { return run.chain.Run(ctx) })
	g.Go(func() error { return run.orderBook.Run(ctx) })

	a.logger.InfoContext(ctx, "engine started",
		slog.Int("chain_providers", len(chainProviders)),
		slog.Int("orderbook_providers", len(bookProviders)),
		slog.Int("whales", len(a.cfg.Whale.Addresses)),
	)
	return run, nil
}

// holdLease claims the engine role and renews it at a third of its TTL.
func (a *App) holdLease(ctx context.Context, g *errgroup.Group, leases domain.LeaseManager) error {
	ttl := a.cfg.Redis.LeaseTTL.Duration
	lease, err := leases.Acquire(ctx, leaseRole, ttl)
	if errors.Is(err, domain.ErrLeaseHeld) {
		return fmt.Errorf("app: another engine holds the lease: %w", err)
	}
	if err != nil {
		return fmt.Errorf("app: acquire lease: %w", err)
	}
	a.logger.InfoContext(ctx, "engine lease acquired", slog.Duration("ttl", ttl))

	g.Go(func() error {
		defer lease.Release()
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := lease.Renew(ctx); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("app: renew lease: %w", err)
				}
			}
		}
	})
	return nil
}

// startSinks starts whichever of the journal, export and alert consumers are
// configured.
func (a *App) startSinks(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	var exporter service.Exporter
	if deps.Exporter != nil {
		exporter = deps.Exporter
		g.Go(func() error {
			return deps.Exporter.Run(ctx, a.cfg.S3.ExportInterval.Duration)
		})
	}

	if deps.Journal != nil || exporter != nil {
		journal := service.NewJournalService(deps.Bus, deps.Journal, exporter,
			a.cfg.Supabase.PollInterval.Duration, a.logger)
		g.Go(func() error { return journal.Run(ctx) })
	} else {
		a.logger.InfoContext(ctx, "journal disabled: neither supabase nor s3 configured")
	}

	if deps.Notifier.Enabled() {
		alerts := service.NewAlertService(deps.Bus, deps.Notifier, a.logger)
		g.Go(func() error { return alerts.Run(ctx) })
	} else {
		a.logger.InfoContext(ctx, "alerts disabled: no notification channel configured")
	}
}

// startHTTPServer serves the API on g. run is nil in sinks mode, which then
// exposes only health, journal and metrics.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, run *running) {
	if !a.cfg.Server.Enabled {
		return
	}

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(a.cfg.Mode, time.Now().UTC(), deps.Checks, a.logger),
		Metrics: deps.Metrics.Handler(),
	}
	if deps.Journal != nil {
		handlers.Journal = handler.NewJournalHandler(deps.Journal, a.logger)
	}

	var status ws.StatusFunc
	if run != nil {
		handlers.State = handler.NewStateHandler(run.engine.Machine(), a.logger)
		handlers.Signals = handler.NewSignalHandler(run.engine)
		handlers.Feeds = handler.NewFeedHandler(run.chain, run.orderBook)
		status = run.engine.Machine().Snapshot
	}

	var hub *ws.Hub
	if a.cfg.Server.WebSocket {
		hub = ws.NewHub(deps.Bus, status, a.logger)
		g.Go(func() error { return hub.Run(ctx) })
	}

	srv := server.NewServer(server.Config{
		Port:         a.cfg.Server.Port,
		CORSOrigins:  a.cfg.Server.CORSOrigins,
		APIKey:       a.cfg.Server.APIKey,
		ProtectReads: a.cfg.Server.ProtectReads,
		RateLimit:    a.cfg.Server.RateLimit,
		RateBurst:    a.cfg.Server.RateBurst,
	}, handlers, hub, a.logger)

	g.Go(func() error { return srv.Run(ctx, shutdownGrace) })
}
