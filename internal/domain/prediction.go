package domain

import "time"

// TradeSide distinguishes buy from sell fills. The side is recovered from the
// originating transaction's function selector, not from the event itself.
type TradeSide string

const (
	TradeBuy  TradeSide = "buy"
	TradeSell TradeSide = "sell"
)

// PredictionTrade is one row of the append-only trade ledger, derived from a
// decoded on-chain Trade event. (TxHash, LogIndex) is the dedup key that
// makes replays idempotent.
type PredictionTrade struct {
	ID            int64
	BattleID      string
	MarketAddress string
	Trader        string
	Outcome       int
	Side          TradeSide
	Shares        float64
	Cost          float64
	Price         float64
	TxHash        string
	LogIndex      int64
	BlockNumber   int64
	Timestamp     time.Time
}

// PredictionChoice is the upserted per-outcome aggregate over the trade
// ledger: cumulative volume and net shares plus the latest observed price.
type PredictionChoice struct {
	BattleID    string
	Outcome     int
	Volume      float64
	Shares      float64
	TradeCount  int64
	LatestPrice float64
	UpdatedAt   time.Time
}
