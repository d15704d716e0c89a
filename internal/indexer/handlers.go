package indexer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/arenaclash/arenad/internal/chain"
	"github.com/arenaclash/arenad/internal/domain"
)

// NewMarketCreatedHandler builds the static handler for the factory's
// MarketCreated event. Decoded events are handed to the event-apply processor
// as durable jobs keyed by (txHash, logIndex), so replays after a checkpoint
// rollback dedup in the queue.
func NewMarketCreatedHandler(chainID int64, factory common.Address, queue domain.JobEnqueuer, logger *slog.Logger) Handler {
	return Handler{
		Name:    "market_created",
		Address: &factory,
		Handle: func(ctx context.Context, lc LogContext) error {
			if len(lc.Log.Topics) != 3 {
				return fmt.Errorf("indexer: market_created topics %d: %w", len(lc.Log.Topics), domain.ErrBadLog)
			}
			job := domain.MarketCreatedJob{
				ChainID:       chainID,
				MatchKey:      lc.Log.Topics[1].Hex(),
				MarketAddress: common.BytesToAddress(lc.Log.Topics[2].Bytes()).Hex(),
				TxHash:        lc.Log.TxHash.Hex(),
				LogIndex:      int64(lc.Log.Index),
				BlockNumber:   int64(lc.Log.BlockNumber),
				Timestamp:     lc.Timestamp,
			}
			if err := queue.EnqueueMarketCreated(ctx, job); err != nil {
				return fmt.Errorf("indexer: enqueue market created: %w", err)
			}
			logger.Info("market created event",
				slog.String("market", job.MarketAddress),
				slog.Uint64("block", lc.Log.BlockNumber))
			return nil
		},
	}
}

// NewTradeHandler builds the dynamic handler for market Trade events. The
// trade direction is not part of the event, so it is recovered from the
// originating transaction's function selector.
func NewTradeHandler(chainID int64, queue domain.JobEnqueuer, logger *slog.Logger) Handler {
	return Handler{
		Name:    "trade",
		Dynamic: true,
		Handle: func(ctx context.Context, lc LogContext) error {
			if len(lc.Log.Topics) != 3 {
				return fmt.Errorf("indexer: trade topics %d: %w", len(lc.Log.Topics), domain.ErrBadLog)
			}
			vals, err := chain.MarketABI.Events["Trade"].Inputs.NonIndexed().Unpack(lc.Log.Data)
			if err != nil || len(vals) != 2 {
				return fmt.Errorf("indexer: trade data: %v: %w", err, domain.ErrBadLog)
			}
			shares, sharesOK := vals[0].(*big.Int)
			cost, costOK := vals[1].(*big.Int)
			if !sharesOK || !costOK {
				return fmt.Errorf("indexer: trade amounts: %w", domain.ErrBadLog)
			}

			input, err := lc.TxInput(ctx)
			if err != nil {
				return fmt.Errorf("indexer: trade tx input: %w", err)
			}
			side, err := tradeSide(input)
			if err != nil {
				return err
			}

			job := domain.TradeJob{
				ChainID:       chainID,
				MarketAddress: lc.Log.Address.Hex(),
				Trader:        common.BytesToAddress(lc.Log.Topics[1].Bytes()).Hex(),
				Outcome:       int(new(big.Int).SetBytes(lc.Log.Topics[2].Bytes()).Int64()),
				Side:          side,
				Shares:        chain.FromWei(shares),
				Cost:          chain.FromWei(cost),
				TxHash:        lc.Log.TxHash.Hex(),
				LogIndex:      int64(lc.Log.Index),
				BlockNumber:   int64(lc.Log.BlockNumber),
				Timestamp:     lc.Timestamp,
			}
			if err := queue.EnqueueTrade(ctx, job); err != nil {
				return fmt.Errorf("indexer: enqueue trade: %w", err)
			}
			logger.Debug("trade event",
				slog.String("market", job.MarketAddress),
				slog.String("side", string(job.Side)),
				slog.Uint64("block", lc.Log.BlockNumber))
			return nil
		},
	}
}

func tradeSide(input []byte) (domain.TradeSide, error) {
	if len(input) < 4 {
		return "", fmt.Errorf("indexer: trade tx input %d bytes: %w", len(input), domain.ErrBadLog)
	}
	switch {
	case bytes.Equal(input[:4], chain.BuySelector):
		return domain.TradeBuy, nil
	case bytes.Equal(input[:4], chain.SellSelector):
		return domain.TradeSell, nil
	default:
		return "", fmt.Errorf("indexer: trade selector %x: %w", input[:4], domain.ErrBadLog)
	}
}
