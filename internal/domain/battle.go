// Package domain defines the core entities of the trading-battle platform and
// the store, cache, queue, and chain interfaces their collaborators implement.
package domain

import "time"

// BattleStatus is the battle state machine's finite state. The only legal
// transitions are MATCHING->RUNNING->FINISHED and MATCHING->CANCELLED; both
// FINISHED and CANCELLED are terminal.
type BattleStatus string

const (
	BattleMatching  BattleStatus = "MATCHING"
	BattleRunning   BattleStatus = "RUNNING"
	BattleFinished  BattleStatus = "FINISHED"
	BattleCancelled BattleStatus = "CANCELLED"
)

// PlayerStatus tracks a single player's progress within one battle.
type PlayerStatus string

const (
	PlayerWaiting  PlayerStatus = "WAITING"
	PlayerReady    PlayerStatus = "READY"
	PlayerPlaying  PlayerStatus = "PLAYING"
	PlayerFinished PlayerStatus = "FINISHED"
)

// OnchainMetadata is the on-chain settlement progress for a battle. It is
// merge-patched field by field as settlement jobs complete; empty fields in a
// patch leave the stored value untouched.
type OnchainMetadata struct {
	MarketAddress string `json:"marketAddress,omitempty"`
	MarketTxHash  string `json:"marketTxHash,omitempty"`
	OutcomeTxHash string `json:"outcomeTxHash,omitempty"`
}

// BattleMetadata is the JSON metadata column on a battle row. MatchKey is
// the keccak hash of the match ID used as the bytes32 identifier on chain;
// decoded MarketCreated events join back to their battle through it.
type BattleMetadata struct {
	MatchID  string          `json:"matchId"`
	MatchKey string          `json:"matchKey,omitempty"`
	AvgElo   float64         `json:"avgElo"`
	Forced   bool            `json:"forced"`
	Onchain  OnchainMetadata `json:"onchain"`
}

// Battle is the aggregate root owned by the lifecycle service. It is only
// mutated inside the battle store's transactions.
type Battle struct {
	ID         string
	Status     BattleStatus
	MaxPlayers int
	Metadata   BattleMetadata
	StartedAt  *time.Time
	EndedAt    *time.Time
	CreatedAt  time.Time
}

// BattlePlayer is one player's membership row in a battle. Slot is the 1-based
// position assigned from the match group's player order at creation time; it
// never changes and maps to the on-chain outcome index as slot-1.
type BattlePlayer struct {
	BattleID    string
	UserID      string
	Slot        int
	Status      PlayerStatus
	EloSnapshot int
	FinishedAt  *time.Time
}

// MetricKind identifies a per-player performance metric.
type MetricKind string

// MetricROI is the return-on-investment metric used for ranking.
const MetricROI MetricKind = "ROI"

// BattleMetric is a single per-player metric recorded at finish time.
type BattleMetric struct {
	BattleID string
	UserID   string
	Slot     int
	Kind     MetricKind
	Value    float64
}

// BattleResult is the finalized outcome record, created once when a battle
// finishes and immutable thereafter. OutcomeIndex is the zero-based on-chain
// outcome (winning slot minus one).
type BattleResult struct {
	BattleID       string
	WinnerUserID   string
	WinningSlot    int
	OutcomeIndex   int
	DataHash       string
	CodeCommitHash string
	FinishedAt     time.Time
}

// PlayerRank is the computed standing of one player at finish time. EloDelta
// is applied as an increment to both the user's elo and rank points.
type PlayerRank struct {
	UserID   string
	Slot     int
	Rank     int
	EloDelta int
}

// BattleOutcome carries everything finish needs: the raw metrics to rank on
// and the result hashes forwarded to the on-chain outcome proposal.
type BattleOutcome struct {
	Metrics        []BattleMetric
	DataHash       string
	CodeCommitHash string
}

// FinishUpdate is the full set of writes applied atomically when a battle
// transitions RUNNING->FINISHED.
type FinishUpdate struct {
	EndedAt time.Time
	Ranks   []PlayerRank
	Result  BattleResult
	Metrics []BattleMetric
}
