package domain

import "context"

// MarketCache tracks the open set of known market contract addresses per
// chain and the market->battle mapping, both populated by the MarketCreated
// apply job. These are rebuildable caches: losing them only costs a chain
// rescan, so implementations are best-effort and lock-free.
type MarketCache interface {
	// AddMarket records addr as a known market on chainID and maps it to
	// battleID.
	AddMarket(ctx context.Context, chainID int64, addr, battleID string) error

	// Markets returns every known market address on the chain. An empty
	// result is valid and simply omits the dynamic filter for a pass.
	Markets(ctx context.Context, chainID int64) ([]string, error)

	// BattleID resolves a market address to its battle. Returns
	// ErrNotFound for markets created by a process this one doesn't know.
	BattleID(ctx context.Context, addr string) (string, error)
}
