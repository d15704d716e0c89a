package domain

import (
	"context"
	"time"
)

// BattleStore persists battles, their players, results, and the user lock
// rows those transitions touch. Transition methods implement the conditional
// update pattern: each runs in a single transaction guarded by
// WHERE status = <expected>, and returns (nil, nil) when the guard does not
// match so duplicate signals are safe no-ops.
type BattleStore interface {
	// CreateWithPlayers inserts the battle in MATCHING plus one player row
	// per group member, atomically.
	CreateWithPlayers(ctx context.Context, battle Battle, players []BattlePlayer) (Battle, error)

	GetByID(ctx context.Context, id string) (Battle, error)

	// GetByMatchKey resolves a battle through its on-chain match key.
	GetByMatchKey(ctx context.Context, matchKey string) (Battle, error)
	ListPlayers(ctx context.Context, battleID string) ([]BattlePlayer, error)

	// SetPlayerStatus flips one player's readiness flag.
	SetPlayerStatus(ctx context.Context, battleID, userID string, status PlayerStatus) error

	// Start moves MATCHING->RUNNING, stamps startedAt, marks players
	// PLAYING, and locks every player's user row to IN_BATTLE.
	Start(ctx context.Context, battleID string, startedAt time.Time) (*Battle, error)

	// Finish moves RUNNING->FINISHED and applies the whole FinishUpdate:
	// endedAt, per-player ranks and elo deltas, user unlocks, and the
	// result plus metrics rows.
	Finish(ctx context.Context, battleID string, fin FinishUpdate) (*Battle, error)

	// Cancel moves MATCHING->CANCELLED and unlocks all players.
	Cancel(ctx context.Context, battleID string) (*Battle, error)

	// MergeOnchainMetadata patches the metadata's onchain sub-object,
	// preserving fields the patch leaves empty.
	MergeOnchainMetadata(ctx context.Context, battleID string, patch OnchainMetadata) error

	// ListFinishedBefore returns finished battles whose end time is older
	// than cutoff, for cold-storage archival.
	ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]Battle, error)

	GetResult(ctx context.Context, battleID string) (BattleResult, error)
}

// CheckpointStore persists the last processed block per chain. It is the sole
// source of truth for where ingestion resumes.
type CheckpointStore interface {
	// Get returns the checkpoint and whether one exists for the chain.
	Get(ctx context.Context, chainID int64) (int64, bool, error)
	Set(ctx context.Context, chainID int64, block int64) error
}

// PredictionStore persists the trade ledger and per-outcome aggregates.
type PredictionStore interface {
	// ApplyTrade inserts the trade and folds it into the outcome aggregate
	// in one transaction. A trade whose (txHash, logIndex) already exists
	// is skipped entirely, so replaying a chunk is idempotent.
	ApplyTrade(ctx context.Context, trade PredictionTrade) error

	ListTrades(ctx context.Context, battleID string) ([]PredictionTrade, error)
	ListChoices(ctx context.Context, battleID string) ([]PredictionChoice, error)
}
