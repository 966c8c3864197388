package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbot/internal/books"
	"github.com/alanyoungcy/arbot/internal/config"
	"github.com/alanyoungcy/arbot/internal/detector"
	"github.com/alanyoungcy/arbot/internal/domain"
	"github.com/alanyoungcy/arbot/internal/events"
	"github.com/alanyoungcy/arbot/internal/executor"
	"github.com/alanyoungcy/arbot/internal/pipeline"
	"github.com/alanyoungcy/arbot/internal/platform/backoff"
	"github.com/alanyoungcy/arbot/internal/platform/kalshi"
	"github.com/alanyoungcy/arbot/internal/platform/polymarket"
	"github.com/alanyoungcy/arbot/internal/resolver"
	"github.com/alanyoungcy/arbot/internal/server"
	"github.com/alanyoungcy/arbot/internal/server/handler"
	"github.com/alanyoungcy/arbot/internal/server/ws"
)

// shutdownGrace bounds server drain on exit.
const shutdownGrace = 10 * time.Second

// runEngine runs the streaming pipeline: venue clients, resolver,
// detector, and — when execute is true — the execution coordinator.
func (a *App) runEngine(ctx context.Context, deps *Dependencies, execute bool) error {
	logger := a.logger
	bus := events.NewBus()
	bookStore := books.NewStore()

	res := resolver.New(deps.PolyREST, deps.KalshiREST, deps.MappingStore,
		a.cfg.Arbitrage.SimilarityThreshold, logger)
	if err := res.LoadIndex(ctx); err != nil {
		logger.Warn("mapping index load failed, starting empty", slog.String("error", err.Error()))
	}

	det := detector.New(detector.Config{
		Threshold:       a.cfg.Arbitrage.Threshold,
		MinLiquidity:    a.cfg.Arbitrage.MinLiquidity,
		MaxPositionSize: a.cfg.Arbitrage.MaxPositionSize,
		PolyFeeRate:     a.cfg.Polymarket.FeeRate,
		KalshiFeeRate:   a.cfg.Kalshi.FeeRate,
	}, res, deps.OpportunityStore, bus, deps.SignalBus, logger)

	policy := backoff.Default()
	polyWS := polymarket.NewWSClient(a.cfg.Polymarket.WsURL, policy, logger)
	kalshiWS := kalshi.NewWSClient(a.cfg.Kalshi.WsURL, a.cfg.Kalshi.ApiKey, policy, logger)

	onBook := func(book domain.OrderBook) {
		bookStore.Put(book)
		if err := deps.BookCache.SetSnapshot(ctx, book); err != nil {
			logger.Debug("book mirror write failed", slog.String("error", err.Error()))
		}
		det.OnBook(book)
	}
	polyWS.OnBook(onBook)
	kalshiWS.OnBook(onBook)

	for _, c := range []struct {
		venue string
		fatal func(func(error))
		drop  func(func(string))
	}{
		{"polymarket", polyWS.OnFatal, polyWS.OnDisconnected},
		{"kalshi", kalshiWS.OnFatal, kalshiWS.OnDisconnected},
	} {
		venue := c.venue
		c.drop(func(reason string) {
			logger.Warn("venue stream dropped",
				slog.String("venue", venue),
				slog.String("reason", reason),
			)
		})
		c.fatal(func(err error) {
			logger.Error("venue stream gave up",
				slog.String("venue", venue),
				slog.String("error", err.Error()),
			)
		})
	}

	var coord *executor.Coordinator
	if execute {
		coord = executor.New(deps.OpportunityStore, deps.TradeStore, deps.MappingStore,
			deps.PolyREST, deps.KalshiREST, bus, deps.SignalBus,
			a.cfg.Arbitrage.MaxPositionSize, logger)
		a.attachAutoExecute(ctx, bus, coord, deps.Runtime)
	}

	deps.Notifier.AttachTo(bus)

	g, gctx := errgroup.WithContext(ctx)

	// Venue streams.
	g.Go(func() error {
		if err := polyWS.Connect(gctx); err != nil {
			logger.Error("polymarket connect failed", slog.String("error", err.Error()))
		}
		<-gctx.Done()
		polyWS.Disconnect()
		return gctx.Err()
	})
	g.Go(func() error {
		if err := kalshiWS.Connect(gctx); err != nil {
			logger.Error("kalshi connect failed", slog.String("error", err.Error()))
		}
		<-gctx.Done()
		kalshiWS.Disconnect()
		return gctx.Err()
	})

	// Detector persist/publish loop.
	g.Go(func() error { return det.Run(gctx) })

	// Periodic market sync; the first pass runs immediately so the
	// subscription bootstrap happens at start.
	g.Go(func() error { return a.runSync(gctx, res, det, polyWS, kalshiWS) })

	// Websocket hub and HTTP server.
	hub := ws.NewHub(deps.SignalBus, logger)
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error {
		return a.serveHTTP(gctx, deps, res, coord, hub)
	})

	// Archiver.
	if deps.BlobWriter != nil {
		arch := pipeline.NewArchiver(deps.OpportunityStore, deps.TradeStore,
			deps.BlobWriter, a.cfg.Archive.RetentionDays, logger)
		g.Go(func() error { return arch.Run(gctx) })
	}

	return g.Wait()
}

// runServer serves the HTTP/websocket surface over existing data only.
func (a *App) runServer(ctx context.Context, deps *Dependencies) error {
	res := resolver.New(deps.PolyREST, deps.KalshiREST, deps.MappingStore,
		a.cfg.Arbitrage.SimilarityThreshold, a.logger)
	if err := res.LoadIndex(ctx); err != nil {
		a.logger.Warn("mapping index load failed", slog.String("error", err.Error()))
	}

	g, gctx := errgroup.WithContext(ctx)
	hub := ws.NewHub(deps.SignalBus, a.logger)
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return a.serveHTTP(gctx, deps, res, nil, hub) })
	return g.Wait()
}

// runSync triggers the resolver on its interval and re-bootstraps the
// detector's subscriptions after every pass, including a failed one.
func (a *App) runSync(ctx context.Context, res *resolver.Resolver, det *detector.Detector, poly, kalshi detector.BookSubscriber) error {
	syncOnce := func() {
		if _, err := res.Sync(ctx); err != nil {
			a.logger.Error("market sync failed, prior mappings remain",
				slog.String("error", err.Error()),
			)
			// Still bootstrap from whatever the index already holds.
		}
		det.Bootstrap(poly, kalshi)
	}

	syncOnce()

	if a.cfg.Arbitrage.SyncIntervalMinutes <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(time.Duration(a.cfg.Arbitrage.SyncIntervalMinutes) * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			syncOnce()
		}
	}
}

// attachAutoExecute subscribes the coordinator to opportunity events. The
// flag is re-read per event, and the coordinator re-checks its own guards,
// so flipping auto-execute mid-flight is safe.
func (a *App) attachAutoExecute(ctx context.Context, bus *events.Bus, coord *executor.Coordinator, runtime *config.Runtime) {
	bus.Subscribe(events.TypeOpportunity, func(e events.Event) error {
		opp, ok := e.Payload.(domain.Opportunity)
		if !ok || !runtime.AutoExecute() {
			return nil
		}
		go func() {
			if _, err := coord.Execute(ctx, opp.ID); err != nil {
				a.logger.Warn("auto-execute failed",
					slog.String("opportunity_id", opp.ID),
					slog.String("error", err.Error()),
				)
			}
		}()
		return nil
	})
}

// serveHTTP builds the handler set and runs the API server until the
// context is cancelled.
func (a *App) serveHTTP(ctx context.Context, deps *Dependencies, res *resolver.Resolver, coord *executor.Coordinator, hub *ws.Hub) error {
	var runner handler.ExecutionRunner
	if coord != nil {
		runner = coord
	}
	var syncer handler.MarketSyncer
	if a.cfg.Mode != "server" {
		syncer = res
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
	}, server.Handlers{
		Health:        handler.NewHealthHandler(a.logger),
		Opportunities: handler.NewOpportunityHandler(deps.OpportunityStore, runner, deps.Runtime, a.logger),
		Markets:       handler.NewMarketHandler(res, syncer, a.logger),
		Trades:        handler.NewTradeHandler(deps.TradeStore, a.logger),
		Config:        handler.NewConfigHandler(a.cfg, deps.Runtime, a.logger),
	}, hub, a.logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("server shutdown", slog.String("error", err.Error()))
		}
		return ctx.Err()
	}
}
