package domain

import (
	"context"
	"fmt"
	"time"
)

// CreateMarketJob asks the contract-call processor to deploy a prediction
// market for a freshly created battle.
type CreateMarketJob struct {
	MatchID       string  `json:"matchId"`
	BattleID      string  `json:"battleId"`
	OutcomesCount int     `json:"outcomesCount"`
	BScore        float64 `json:"bScore"`
	FeeBps        int     `json:"feeBps"`
}

// ID is the deterministic job ID: duplicate enqueue attempts for the same
// match collapse to a single execution.
func (j CreateMarketJob) ID() string { return "create:" + j.MatchID }

// ProposeOutcomeJob asks the contract-call processor to propose the winning
// outcome for a finished battle.
type ProposeOutcomeJob struct {
	MatchID        string `json:"matchId"`
	BattleID       string `json:"battleId"`
	Outcome        int    `json:"outcome"`
	DataHash       string `json:"dataHash"`
	CodeCommitHash string `json:"codeCommitHash"`
}

func (j ProposeOutcomeJob) ID() string { return "propose:" + j.MatchID }

// MarketCreatedJob carries a decoded MarketCreated event from the indexer to
// the event-apply processor. MatchKey is the on-chain bytes32 match
// identifier (hex), resolved to a battle through battle metadata.
type MarketCreatedJob struct {
	ChainID       int64     `json:"chainId"`
	MatchKey      string    `json:"matchKey"`
	MarketAddress string    `json:"marketAddress"`
	TxHash        string    `json:"txHash"`
	LogIndex      int64     `json:"logIndex"`
	BlockNumber   int64     `json:"blockNumber"`
	Timestamp     time.Time `json:"timestamp"`
}

func (j MarketCreatedJob) ID() string { return fmt.Sprintf("mkt:%s:%d", j.TxHash, j.LogIndex) }

// TradeJob carries a decoded Trade event from the indexer to the event-apply
// processor.
type TradeJob struct {
	ChainID       int64     `json:"chainId"`
	MarketAddress string    `json:"marketAddress"`
	Trader        string    `json:"trader"`
	Outcome       int       `json:"outcome"`
	Side          TradeSide `json:"side"`
	Shares        float64   `json:"shares"`
	Cost          float64   `json:"cost"`
	TxHash        string    `json:"txHash"`
	LogIndex      int64     `json:"logIndex"`
	BlockNumber   int64     `json:"blockNumber"`
	Timestamp     time.Time `json:"timestamp"`
}

func (j TradeJob) ID() string { return fmt.Sprintf("trade:%s:%d", j.TxHash, j.LogIndex) }

// JobEnqueuer is the producing side of the durable job queue collaborator.
// Implementations must honor each job's ID for at-least-once dedup and apply
// their own retry/backoff policy on the consuming side.
type JobEnqueuer interface {
	EnqueueCreateMarket(ctx context.Context, job CreateMarketJob) error
	EnqueueProposeOutcome(ctx context.Context, job ProposeOutcomeJob) error
	EnqueueMarketCreated(ctx context.Context, job MarketCreatedJob) error
	EnqueueTrade(ctx context.Context, job TradeJob) error
}
