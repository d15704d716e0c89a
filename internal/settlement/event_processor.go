package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/arenaclash/arenad/internal/domain"
	"github.com/arenaclash/arenad/internal/queue/nats"
)

// EventProcessor consumes decoded chain events. MarketCreated events register
// the market in the cache and land its address on the battle; Trade events
// append to the prediction ledger and fold into per-outcome aggregates. Both
// paths are idempotent: jobs dedup by (txHash, logIndex) at enqueue time and
// the trade ledger enforces the same key as a unique constraint.
type EventProcessor struct {
	battles  domain.BattleStore
	trades   domain.PredictionStore
	markets  domain.MarketCache
	contract domain.MarketContract
	logger   *slog.Logger
}

// NewEventProcessor builds an EventProcessor. contract is the price oracle
// for recorded trades and may be nil, in which case prices fall back to the
// fill's cost-per-share.
func NewEventProcessor(battles domain.BattleStore, trades domain.PredictionStore, markets domain.MarketCache, contract domain.MarketContract, logger *slog.Logger) *EventProcessor {
	return &EventProcessor{
		battles:  battles,
		trades:   trades,
		markets:  markets,
		contract: contract,
		logger:   logger.With(slog.String("component", "settlement_events")),
	}
}

// Handle is the queue MsgHandler for the events stream.
func (p *EventProcessor) Handle(ctx context.Context, subject string, data []byte) error {
	switch nats.SubjectKind(subject) {
	case "market":
		var job domain.MarketCreatedJob
		if err := json.Unmarshal(data, &job); err != nil {
			p.logger.Error("dropping undecodable market job", slog.String("error", err.Error()))
			return nil
		}
		return p.applyMarketCreated(ctx, job)
	case "trade":
		var job domain.TradeJob
		if err := json.Unmarshal(data, &job); err != nil {
			p.logger.Error("dropping undecodable trade job", slog.String("error", err.Error()))
			return nil
		}
		return p.applyTrade(ctx, job)
	default:
		p.logger.Warn("ignoring unknown event subject", slog.String("subject", subject))
		return nil
	}
}

func (p *EventProcessor) applyMarketCreated(ctx context.Context, job domain.MarketCreatedJob) error {
	battle, err := p.battles.GetByMatchKey(ctx, job.MatchKey)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// A market for a match this deployment never created.
			p.logger.Warn("market created for unknown match key",
				slog.String("match_key", job.MatchKey),
				slog.String("market", job.MarketAddress))
			return nil
		}
		return fmt.Errorf("settlement: resolve match key %s: %w", job.MatchKey, err)
	}

	if err := p.markets.AddMarket(ctx, job.ChainID, job.MarketAddress, battle.ID); err != nil {
		return fmt.Errorf("settlement: register market %s: %w", job.MarketAddress, err)
	}

	patch := domain.OnchainMetadata{MarketAddress: job.MarketAddress, MarketTxHash: job.TxHash}
	if err := p.battles.MergeOnchainMetadata(ctx, battle.ID, patch); err != nil {
		return fmt.Errorf("settlement: patch battle %s: %w", battle.ID, err)
	}

	p.logger.Info("market registered",
		slog.String("battle_id", battle.ID),
		slog.String("market", job.MarketAddress))
	return nil
}

func (p *EventProcessor) applyTrade(ctx context.Context, job domain.TradeJob) error {
	battleID, err := p.markets.BattleID(ctx, job.MarketAddress)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Trade on a market that never mapped to a battle here.
			p.logger.Warn("trade on unknown market", slog.String("market", job.MarketAddress))
			return nil
		}
		return fmt.Errorf("settlement: resolve market %s: %w", job.MarketAddress, err)
	}

	trade := domain.PredictionTrade{
		BattleID:      battleID,
		MarketAddress: job.MarketAddress,
		Trader:        job.Trader,
		Outcome:       job.Outcome,
		Side:          job.Side,
		Shares:        job.Shares,
		Cost:          job.Cost,
		Price:         p.tradePrice(ctx, job),
		TxHash:        job.TxHash,
		LogIndex:      job.LogIndex,
		BlockNumber:   job.BlockNumber,
		Timestamp:     job.Timestamp,
	}
	if err := p.trades.ApplyTrade(ctx, trade); err != nil {
		return fmt.Errorf("settlement: apply trade %s:%d: %w", job.TxHash, job.LogIndex, err)
	}

	p.logger.Debug("trade recorded",
		slog.String("battle_id", battleID),
		slog.Int("outcome", job.Outcome),
		slog.String("side", string(job.Side)))
	return nil
}

// tradePrice asks the market for the current marginal share cost. The quote
// is informational, so a failed call falls back to the fill's own average
// price instead of blocking the ledger.
func (p *EventProcessor) tradePrice(ctx context.Context, job domain.TradeJob) float64 {
	if p.contract != nil {
		price, err := p.contract.QuoteBuy(ctx, job.MarketAddress, job.Outcome)
		if err == nil {
			return price
		}
		p.logger.Warn("price quote failed, using fill average",
			slog.String("market", job.MarketAddress),
			slog.String("error", err.Error()))
	}
	if job.Shares > 0 {
		return job.Cost / job.Shares
	}
	return 0
}
