// Package settlement holds the two durable job processors: the contract-call
// processor that drives market creation and outcome proposal on chain, and
// the event-apply processor that folds decoded chain events back into battle
// state and the trade ledger.
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

// ContractProcessor consumes create/propose jobs and performs the on-chain
// calls. Jobs are deduped by match ID at enqueue time; the processor adds a
// second idempotence layer by skipping work whose tx hash is already recorded
// in the battle's onchain metadata, so redeliveries never double-spend.
type ContractProcessor struct {
	battles  domain.BattleStore
	contract domain.MarketContract
	logger   *slog.Logger
}

// NewContractProcessor builds a ContractProcessor.
func NewContractProcessor(battles domain.BattleStore, contract domain.MarketContract, logger *slog.Logger) *ContractProcessor {
	return &ContractProcessor{
		battles:  battles,
		contract: contract,
		logger:   logger.With(slog.String("component", "settlement_contract")),
	}
}

// Handle is the queue MsgHandler. Undecodable payloads are acked with an
// error log: redelivery cannot fix them.
func (p *ContractProcessor) Handle(ctx context.Context, subject string, data []byte) error {
	switch nats.SubjectKind(subject) {
	case "create":
		var job domain.CreateMarketJob
		if err := json.Unmarshal(data, &job); err != nil {
			p.logger.Error("dropping undecodable create job", slog.String("error", err.Error()))
			return nil
		}
		return p.createMarket(ctx, job)
	case "propose":
		var job domain.ProposeOutcomeJob
		if err := json.Unmarshal(data, &job); err != nil {
			p.logger.Error("dropping undecodable propose job", slog.String("error", err.Error()))
			return nil
		}
		return p.proposeOutcome(ctx, job)
	default:
		p.logger.Warn("ignoring unknown settlement subject", slog.String("subject", subject))
		return nil
	}
}

func (p *ContractProcessor) createMarket(ctx context.Context, job domain.CreateMarketJob) error {
	battle, err := p.battles.GetByID(ctx, job.BattleID)
	if err != nil {
		return fmt.Errorf("settlement: load battle %s: %w", job.BattleID, err)
	}
	if battle.Metadata.Onchain.MarketTxHash != "" {
		p.logger.Info("market already created, skipping",
			slog.String("battle_id", job.BattleID),
			slog.String("tx", battle.Metadata.Onchain.MarketTxHash))
		return nil
	}

	txHash, market, err := p.contract.CreateMarket(ctx, job.MatchID, job.OutcomesCount, job.BScore, job.FeeBps)
	if err != nil {
		return fmt.Errorf("settlement: create market for %s: %w", job.MatchID, err)
	}

	patch := domain.OnchainMetadata{MarketTxHash: txHash, MarketAddress: market}
	if err := p.battles.MergeOnchainMetadata(ctx, job.BattleID, patch); err != nil {
		// The market exists on chain; the indexer's MarketCreated path
		// will land the same metadata, so this is not retried.
		p.logger.Error("market created but metadata patch failed",
			slog.String("battle_id", job.BattleID),
			slog.String("tx", txHash),
			slog.String("error", err.Error()))
		return nil
	}

	p.logger.Info("market created",
		slog.String("battle_id", job.BattleID),
		slog.String("market", market),
		slog.String("tx", txHash))
	return nil
}

func (p *ContractProcessor) proposeOutcome(ctx context.Context, job domain.ProposeOutcomeJob) error {
	battle, err := p.battles.GetByID(ctx, job.BattleID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			p.logger.Error("propose job for unknown battle", slog.String("battle_id", job.BattleID))
			return nil
		}
		return fmt.Errorf("settlement: load battle %s: %w", job.BattleID, err)
	}
	if battle.Metadata.Onchain.OutcomeTxHash != "" {
		p.logger.Info("outcome already proposed, skipping",
			slog.String("battle_id", job.BattleID),
			slog.String("tx", battle.Metadata.Onchain.OutcomeTxHash))
		return nil
	}

	txHash, err := p.contract.ProposeOutcome(ctx, job.MatchID, job.Outcome, job.DataHash, job.CodeCommitHash)
	if err != nil {
		return fmt.Errorf("settlement: propose outcome for %s: %w", job.MatchID, err)
	}

	patch := domain.OnchainMetadata{OutcomeTxHash: txHash}
	if err := p.battles.MergeOnchainMetadata(ctx, job.BattleID, patch); err != nil {
		p.logger.Error("outcome proposed but metadata patch failed",
			slog.String("battle_id", job.BattleID),
			slog.String("tx", txHash),
			slog.String("error", err.Error()))
		return nil
	}

	p.logger.Info("outcome proposed",
		slog.String("battle_id", job.BattleID),
		slog.Int("outcome", job.Outcome),
		slog.String("tx", txHash))
	return nil
}
