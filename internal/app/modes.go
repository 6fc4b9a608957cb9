package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/veilmarket/internal/domain"
	"github.com/alanyoungcy/veilmarket/internal/engine"
	"github.com/alanyoungcy/veilmarket/internal/executor"
	"github.com/alanyoungcy/veilmarket/internal/pipeline"
	"github.com/alanyoungcy/veilmarket/internal/platform/gateway"
	"github.com/alanyoungcy/veilmarket/internal/server"
	"github.com/alanyoungcy/veilmarket/internal/server/handler"
	"github.com/alanyoungcy/veilmarket/internal/server/ws"
	"github.com/alanyoungcy/veilmarket/internal/service"
)

// ledger bundles the in-process engine with the services built around it.
// One ledger is shared by every subsystem a mode starts.
type ledger struct {
	engine      *engine.Engine
	markets     *service.MarketService
	betting     *service.BettingService
	reveals     *service.RevealService
	settlements *service.SettlementService
}

// buildLedger creates the engine, rehydrates it from the stores and wires
// the service layer on top.
func (a *App) buildLedger(ctx context.Context, deps *Dependencies) (*ledger, error) {
	eng, err := engine.New(deps.Coprocessor, deps.Vault, engine.Params{
		Owner:      a.cfg.OwnerAddress(),
		Oracle:     a.cfg.OracleAuthority(),
		StakeScale: a.cfg.Market.StakeScale,
	})
	if err != nil {
		return nil, fmt.Errorf("build ledger: %w", err)
	}
	if err := service.Rehydrate(ctx, eng, deps.MarketStore, deps.BetStore, deps.PoolStore, deps.SettingsStore, a.logger); err != nil {
		return nil, fmt.Errorf("build ledger: %w", err)
	}

	emitter := service.MultiEmitter{
		service.NewBusEmitter(deps.SignalBus, a.logger),
		deps.Notifier,
	}

	return &ledger{
		engine:      eng,
		markets:     service.NewMarketService(eng, deps.MarketStore, deps.SettingsStore, deps.MarketCache, deps.AuditStore, emitter, a.logger),
		betting:     service.NewBettingService(eng, deps.MarketStore, deps.BetStore, deps.PoolStore, deps.Vault, deps.MarketCache, deps.AuditStore, emitter, a.logger),
		reveals:     service.NewRevealService(eng, deps.MarketStore, deps.BetStore, deps.MarketCache, deps.AuditStore, emitter, a.logger),
		settlements: service.NewSettlementService(eng, deps.BetStore, deps.PoolStore, deps.AuditStore, emitter, a.logger),
	}, nil
}

// ServerMode runs the HTTP and WebSocket API without the background
// workers. Reveals still complete if another instance runs executor mode
// against the same stores.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	led, err := a.buildLedger(ctx, deps)
	if err != nil {
		return fmt.Errorf("server mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startDecryptionFeed(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps, led)
	return g.Wait()
}

// ExecutorMode runs only the reveal executor: it watches for requested
// reveals, decrypts their handles and submits the verified plaintexts.
func (a *App) ExecutorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting executor mode")

	if !a.cfg.Executor.Enabled {
		a.logger.WarnContext(ctx, "executor.enabled is false, but executor mode always runs the executor")
	}

	led, err := a.buildLedger(ctx, deps)
	if err != nil {
		return fmt.Errorf("executor mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startDecryptionFeed(ctx, g, deps)
	a.startRevealExecutor(ctx, g, deps, led)
	return g.Wait()
}

// ArchiveMode runs only the settlement archival loop. It needs Postgres,
// Redis and object storage but no coprocessor.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: object storage is not wired")
	}
	if !a.cfg.Archive.Enabled {
		a.logger.WarnContext(ctx, "archive.enabled is false, but archive mode always runs archival")
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startArchiver(ctx, g, deps)
	return g.Wait()
}

// FullMode runs every subsystem in one process: the API server, the reveal
// executor and, when enabled, the settlement archiver.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	led, err := a.buildLedger(ctx, deps)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startDecryptionFeed(ctx, g, deps)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, led)
	}
	if a.cfg.Executor.Enabled {
		a.startRevealExecutor(ctx, g, deps, led)
	}
	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		a.startArchiver(ctx, g, deps)
	}
	return g.Wait()
}

// startDecryptionFeed connects the coprocessor's push feed when the
// gateway backend has one configured. Ready signals are republished on the
// bus so every executor instance can cut its retry backoff short. A failed
// connect is not fatal; the executor's poll sweep covers the gap.
func (a *App) startDecryptionFeed(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Feed == nil {
		return
	}
	deps.Feed.RepublishTo(deps.SignalBus)
	if err := deps.Feed.Connect(ctx); err != nil {
		a.logger.WarnContext(ctx, "decryption feed connect failed, reveals rely on polling",
			slog.String("error", err.Error()),
		)
		return
	}
	g.Go(func() error {
		<-ctx.Done()
		_ = deps.Feed.Close()
		return ctx.Err()
	})
}

// startRevealExecutor adds the reveal executor to the errgroup. It wakes
// on the ledger's own reveal-request events and on the coprocessor feed's
// ready signals, with the configured poll interval as the safety net.
func (a *App) startRevealExecutor(ctx context.Context, g *errgroup.Group, deps *Dependencies, led *ledger) {
	exec := executor.NewExecutor(
		deps.SignalBus,
		led.engine,
		led.reveals,
		deps.Decrypter,
		deps.LockManager,
		executor.Config{
			DedupTTL:     a.cfg.Executor.DedupTTL.Duration,
			PollInterval: a.cfg.Executor.PollInterval.Duration,
			WakeChannels: []string{
				service.EventChannel(domain.EventDecryptionRequested),
				service.EventChannel(domain.EventVolumeDecryptionRequested),
				gateway.DecryptionReadyChannel,
			},
		},
		a.logger,
	)
	g.Go(func() error {
		return exec.Run(ctx)
	})
}

// startArchiver adds the settlement archival loop to the errgroup.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	arch := pipeline.NewArchiver(
		deps.Archiver,
		deps.LockManager,
		a.cfg.Archive.RetentionDays,
		a.cfg.Archive.Interval.Duration,
		a.cfg.Archive.Schedule,
		a.logger,
	)
	g.Go(func() error {
		return arch.RunLoop(ctx)
	})
}

// startHTTPServer adds the API server and its WebSocket hub to the
// errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, led *ledger) {
	hub := ws.NewHub(deps.SignalBus, led.engine, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(a.logger),
		Markets:     handler.NewMarketHandler(led.markets, a.logger),
		Bets:        handler.NewBetHandler(led.betting, a.logger),
		Reveals:     handler.NewRevealHandler(led.reveals, a.logger),
		Settlements: handler.NewSettlementHandler(led.settlements, a.logger),
		Accounts:    handler.NewAccountHandler(led.betting, a.logger),
		Admin:       handler.NewAdminHandler(led.markets, led.settlements, led.engine, a.cfg.Mode, a.logger),
		Audit:       handler.NewAuditHandler(deps.AuditStore, a.logger),
		Events:      handler.NewEventsHandler(deps.SignalBus, service.EventStream, a.logger),
	}
	if a.cfg.Server.DevEndpoints {
		handlers.Dev = handler.NewDevHandler(deps.Encryptor, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimitPerMin: a.cfg.Server.RateLimitPerMin,
		DevEndpoints:    a.cfg.Server.DevEndpoints,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
