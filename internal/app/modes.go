package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/arenaclash/arenad/internal/battle"
	"github.com/arenaclash/arenad/internal/chain"
	"github.com/arenaclash/arenad/internal/indexer"
	"github.com/arenaclash/arenad/internal/matchmaking"
	qnats "github.com/arenaclash/arenad/internal/queue/nats"
	"github.com/arenaclash/arenad/internal/settlement"
)

// MatchmakerMode runs the matchmaking engine and the battle lifecycle: queue
// ticks produce match groups, groups become battles, and lifecycle events
// stream out through the websocket hub.
func (a *App) MatchmakerMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)
	a.startMatchmaker(ctx, g, deps)
	a.startHub(ctx, g, deps)
	return g.Wait()
}

// IndexerMode runs only chain ingestion. Decoded events land on the durable
// queue for a settlement deployment to apply.
func (a *App) IndexerMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)
	if err := a.startIndexer(ctx, g, deps); err != nil {
		return err
	}
	return g.Wait()
}

// SettlementMode runs the two job processors plus, when configured, the
// cold-storage archiver.
func (a *App) SettlementMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)
	if err := a.startSettlement(ctx, g, deps); err != nil {
		return err
	}
	return g.Wait()
}

// FullMode runs every component in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)
	a.startMatchmaker(ctx, g, deps)
	a.startHub(ctx, g, deps)
	if err := a.startIndexer(ctx, g, deps); err != nil {
		return err
	}
	if err := a.startSettlement(ctx, g, deps); err != nil {
		return err
	}
	return g.Wait()
}

func (a *App) startMatchmaker(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	mm := a.cfg.Matchmaking
	engine := matchmaking.NewEngine(matchmaking.Config{
		BaseEloRange:     mm.BaseEloRange,
		MaxEloRange:      mm.MaxEloRange,
		ExpandRatePerSec: mm.ExpandRatePerSec,
		MinGroupSize:     mm.MinGroupSize,
		MaxGroupSize:     mm.MaxGroupSize,
		FairnessWindow:   mm.FairnessWindow.Duration,
		ForceMatchAfter:  mm.ForceMatchAfter.Duration,
	}, a.logger)

	lifecycle := battle.NewLifecycle(deps.Battles, deps.Enqueuer, deps.Hub, battle.Config{
		BScore: a.cfg.Battle.BScore,
		FeeBps: a.cfg.Battle.FeeBps,
	}, a.logger)

	scheduler := matchmaking.NewScheduler(engine, lifecycle.HandleMatchFound, mm.TickInterval.Duration, a.logger)
	g.Go(func() error { return scheduler.Run(ctx) })
}

func (a *App) startIndexer(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if deps.Chain == nil {
		return fmt.Errorf("app: indexer requires a chain connection")
	}
	if !common.IsHexAddress(a.cfg.Chain.FactoryAddress) {
		return fmt.Errorf("app: invalid factory address %q", a.cfg.Chain.FactoryAddress)
	}
	factory := common.HexToAddress(a.cfg.Chain.FactoryAddress)

	registry := indexer.NewRegistry()
	registry.Register(chain.MarketCreatedTopic,
		indexer.NewMarketCreatedHandler(a.cfg.Chain.ChainID, factory, deps.Enqueuer, a.logger))
	registry.Register(chain.TradeTopic,
		indexer.NewTradeHandler(a.cfg.Chain.ChainID, deps.Enqueuer, a.logger))

	ix := indexer.New(indexer.Config{
		ChainID:       a.cfg.Chain.ChainID,
		GenesisBlock:  a.cfg.Chain.GenesisBlock,
		Confirmations: a.cfg.Chain.Confirmations,
		ChunkSize:     a.cfg.Chain.ChunkSize,
		PollInterval:  a.cfg.Chain.PollInterval.Duration,
		PassTimeout:   a.cfg.Chain.PassTimeout.Duration,
	}, deps.Chain, registry, deps.Checkpoints, deps.Markets, a.logger)

	g.Go(func() error { return ix.Run(ctx) })
	return nil
}

func (a *App) startSettlement(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if deps.Market == nil {
		return fmt.Errorf("app: settlement requires a signing chain client")
	}

	contractProc := settlement.NewContractProcessor(deps.Battles, deps.Market, a.logger)
	eventProc := settlement.NewEventProcessor(deps.Battles, deps.Predictions, deps.Markets, deps.Market, a.logger)

	contractConsumer := qnats.NewConsumer(deps.Queue, qnats.SettlementStream, "settlement-contract", contractProc.Handle, a.logger)
	eventConsumer := qnats.NewConsumer(deps.Queue, qnats.EventStream, "settlement-events", eventProc.Handle, a.logger)

	g.Go(func() error { return contractConsumer.Run(ctx) })
	g.Go(func() error { return eventConsumer.Run(ctx) })

	if deps.Archiver != nil {
		g.Go(func() error { return deps.Archiver.Run(ctx) })
	}
	return nil
}

// startHub runs the websocket hub and, when enabled, the HTTP listener that
// exposes it at /ws.
func (a *App) startHub(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error { return deps.Hub.Run(ctx) })

	if !a.cfg.Server.Enabled {
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", deps.Hub.HandleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		a.logger.Info("websocket server listening", slog.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: websocket server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	})
}
