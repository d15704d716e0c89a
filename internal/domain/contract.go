package domain

import "context"

// MarketContract is the on-chain prediction-market collaborator. bScore is
// the LMSR liquidity parameter; it is opaque here and only forwarded to the
// contract.
type MarketContract interface {
	// CreateMarket deploys a market for the match via the factory and
	// returns the creation tx hash and the new market's address.
	CreateMarket(ctx context.Context, matchID string, outcomesCount int, bScore float64, feeBps int) (txHash, marketAddress string, err error)

	// ProposeOutcome submits the winning outcome index with the result
	// hashes and returns the proposal tx hash.
	ProposeOutcome(ctx context.Context, matchID string, outcome int, dataHash, codeCommitHash string) (txHash string, err error)

	// QuoteBuy returns the current cost of one share of the given outcome,
	// used as the price oracle when recording trades.
	QuoteBuy(ctx context.Context, marketAddress string, outcome int) (float64, error)
}
