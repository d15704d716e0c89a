package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/arenaclash/arenad/internal/domain"
)

// Source is the chain RPC surface the indexer reads from. *chain.Client
// satisfies it through the embedded ethclient.
type Source interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
}

// Config tunes one chain's ingestion loop.
type Config struct {
	ChainID       int64
	GenesisBlock  int64
	Confirmations int64
	ChunkSize     int64
	PollInterval  time.Duration
	PassTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 500
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 60 * time.Second
	}
	if c.PassTimeout <= 0 {
		c.PassTimeout = 2 * time.Minute
	}
	return c
}

const (
	resubscribeBase = time.Second
	resubscribeMax  = 30 * time.Second
)

// Indexer walks confirmed blocks in fixed chunks, filters them through the
// handler registry's topic set, and checkpoints after each chunk. Two
// triggers drive it, a new-head subscription and a poll ticker, but the
// in-flight guard guarantees only one pass runs at a time.
type Indexer struct {
	cfg         Config
	source      Source
	registry    *Registry
	checkpoints domain.CheckpointStore
	markets     domain.MarketCache
	logger      *slog.Logger

	inFlight atomic.Bool
}

// New builds an Indexer. markets may be nil when no dynamic handler is
// registered.
func New(cfg Config, source Source, registry *Registry, checkpoints domain.CheckpointStore, markets domain.MarketCache, logger *slog.Logger) *Indexer {
	return &Indexer{
		cfg:         cfg.withDefaults(),
		source:      source,
		registry:    registry,
		checkpoints: checkpoints,
		markets:     markets,
		logger:      logger.With(slog.String("component", "indexer"), slog.Int64("chain_id", cfg.ChainID)),
	}
}

// Run blocks until ctx is cancelled, driving passes from both triggers.
func (ix *Indexer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ix.subscribeLoop(ctx) })
	g.Go(func() error { return ix.pollLoop(ctx) })
	return g.Wait()
}

// Trigger runs one pass unless another is already in flight. A pass that
// fails only logs: the checkpoint makes the next trigger resume exactly where
// the failed one stopped.
func (ix *Indexer) Trigger(ctx context.Context) {
	if !ix.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer ix.inFlight.Store(false)

	passCtx, cancel := context.WithTimeout(ctx, ix.cfg.PassTimeout)
	defer cancel()

	if err := ix.ingest(passCtx); err != nil && !errors.Is(err, context.Canceled) {
		ix.logger.Error("ingestion pass failed", slog.String("error", err.Error()))
	}
}

// pollLoop is the fallback trigger for HTTP endpoints and missed heads.
func (ix *Indexer) pollLoop(ctx context.Context) error {
	ticker := time.NewTicker(ix.cfg.PollInterval)
	defer ticker.Stop()

	ix.Trigger(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			ix.Trigger(ctx)
		}
	}
}

// subscribeLoop is the fast path: each new head triggers a pass. Subscription
// failures back off exponentially up to resubscribeMax; a delivered head
// resets the backoff.
func (ix *Indexer) subscribeLoop(ctx context.Context) error {
	backoff := resubscribeBase
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		heads := make(chan *types.Header, 8)
		sub, err := ix.source.SubscribeNewHead(ctx, heads)
		if err != nil {
			ix.logger.Warn("head subscription unavailable, polling only",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", backoff))
			if err := sleepCtx(ctx, backoff); err != nil {
				return err
			}
			backoff = min(backoff*2, resubscribeMax)
			continue
		}

		err = ix.consumeHeads(ctx, sub, heads, &backoff)
		sub.Unsubscribe()
		if err != nil {
			return err
		}
	}
}

func (ix *Indexer) consumeHeads(ctx context.Context, sub ethereum.Subscription, heads <-chan *types.Header, backoff *time.Duration) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			ix.logger.Warn("head subscription dropped", slog.String("error", fmt.Sprint(err)))
			return nil
		case head := <-heads:
			*backoff = resubscribeBase
			ix.logger.Debug("new head", slog.Uint64("block", head.Number.Uint64()))
			ix.Trigger(ctx)
		}
	}
}

// ingest is one pass: resume from checkpoint+1 (or genesis), stop at
// head-confirmations, process in chunks, checkpoint each chunk.
func (ix *Indexer) ingest(ctx context.Context) error {
	from := ix.cfg.GenesisBlock
	checkpoint, ok, err := ix.checkpoints.Get(ctx, ix.cfg.ChainID)
	if err != nil {
		return fmt.Errorf("indexer: load checkpoint: %w", err)
	}
	if ok {
		from = checkpoint + 1
	}

	height, err := ix.source.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("indexer: block height: %w", err)
	}
	head := int64(height) - ix.cfg.Confirmations
	if from > head {
		return nil
	}

	for start := from; start <= head; start += ix.cfg.ChunkSize {
		end := start + ix.cfg.ChunkSize - 1
		if end > head {
			end = head
		}
		if err := ix.processChunk(ctx, start, end); err != nil {
			return err
		}
		if err := ix.checkpoints.Set(ctx, ix.cfg.ChainID, end); err != nil {
			return fmt.Errorf("indexer: save checkpoint %d: %w", end, err)
		}
	}
	return nil
}

func (ix *Indexer) processChunk(ctx context.Context, from, to int64) error {
	addrs, err := ix.filterAddresses(ctx)
	if err != nil {
		return err
	}

	logs, err := ix.source.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: big.NewInt(from),
		ToBlock:   big.NewInt(to),
		Addresses: addrs,
		Topics:    [][]common.Hash{ix.registry.Topics()},
	})
	if err != nil {
		return fmt.Errorf("indexer: filter logs [%d,%d]: %w", from, to, err)
	}
	sort.Slice(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	timestamps := make(map[uint64]time.Time)
	for _, lg := range logs {
		if err := ix.dispatch(ctx, lg, timestamps); err != nil {
			return err
		}
	}
	if len(logs) > 0 {
		ix.logger.Info("chunk processed",
			slog.Int64("from", from),
			slog.Int64("to", to),
			slog.Int("logs", len(logs)))
	}
	return nil
}

// dispatch routes one log to its handler. Malformed logs (ErrBadLog) are
// skipped; any other handler error aborts the pass before the chunk
// checkpoints, so nothing is lost.
func (ix *Indexer) dispatch(ctx context.Context, lg types.Log, timestamps map[uint64]time.Time) error {
	if len(lg.Topics) == 0 {
		return nil
	}
	h, ok := ix.registry.Lookup(lg.Topics[0])
	if !ok {
		return nil
	}
	if h.Address != nil && lg.Address != *h.Address {
		return nil
	}

	ts, err := ix.blockTimestamp(ctx, lg.BlockNumber, timestamps)
	if err != nil {
		return err
	}

	err = h.Handle(ctx, LogContext{
		Log:       lg,
		Timestamp: ts,
		TxInput: func(ctx context.Context) ([]byte, error) {
			tx, _, err := ix.source.TransactionByHash(ctx, lg.TxHash)
			if err != nil {
				return nil, fmt.Errorf("indexer: tx %s: %w", lg.TxHash.Hex(), err)
			}
			return tx.Data(), nil
		},
	})
	if err != nil {
		if errors.Is(err, domain.ErrBadLog) {
			ix.logger.Warn("skipping malformed log",
				slog.String("handler", h.Name),
				slog.String("tx", lg.TxHash.Hex()),
				slog.Uint64("log_index", uint64(lg.Index)),
				slog.String("error", err.Error()))
			return nil
		}
		return err
	}
	return nil
}

// filterAddresses is the static handler set plus, when a dynamic handler is
// registered, the current market addresses from the cache. A cache read
// failure degrades to the static set rather than failing the pass.
func (ix *Indexer) filterAddresses(ctx context.Context) ([]common.Address, error) {
	addrs := ix.registry.StaticAddresses()
	if !ix.registry.HasDynamic() || ix.markets == nil {
		return addrs, nil
	}

	markets, err := ix.markets.Markets(ctx, ix.cfg.ChainID)
	if err != nil {
		ix.logger.Warn("market cache unavailable, static filter only", slog.String("error", err.Error()))
		return addrs, nil
	}
	for _, m := range markets {
		addrs = append(addrs, common.HexToAddress(m))
	}
	return addrs, nil
}

func (ix *Indexer) blockTimestamp(ctx context.Context, block uint64, cache map[uint64]time.Time) (time.Time, error) {
	if ts, ok := cache[block]; ok {
		return ts, nil
	}
	header, err := ix.source.HeaderByNumber(ctx, new(big.Int).SetUint64(block))
	if err != nil {
		return time.Time{}, fmt.Errorf("indexer: header %d: %w", block, err)
	}
	ts := time.Unix(int64(header.Time), 0).UTC()
	cache[block] = ts
	return ts, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
