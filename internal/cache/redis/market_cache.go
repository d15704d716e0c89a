package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/arenaclash/arenad/internal/domain"
)

// MarketCache implements domain.MarketCache using a per-chain address set
// plus a market-to-battle index. Entries have no TTL: the data is tiny and
// rebuildable from chain history, so eviction only costs a rescan.
//
// Key schema:
//
//	chain:{chainId}:markets  - set of known market contract addresses
//	market:battle:{address}  - string value of the battle ID
type MarketCache struct {
	rdb *redis.Client
}

// NewMarketCache creates a MarketCache backed by the given Client.
func NewMarketCache(c *Client) *MarketCache {
	return &MarketCache{rdb: c.Underlying()}
}

func marketSetKey(chainID int64) string  { return fmt.Sprintf("chain:%d:markets", chainID) }
func marketBattleKey(addr string) string { return "market:battle:" + strings.ToLower(addr) }

// AddMarket records the market address on the chain's set and maps it to its
// battle. Both writes go through one pipeline.
func (mc *MarketCache) AddMarket(ctx context.Context, chainID int64, addr, battleID string) error {
	pipe := mc.rdb.TxPipeline()
	pipe.SAdd(ctx, marketSetKey(chainID), strings.ToLower(addr))
	pipe.Set(ctx, marketBattleKey(addr), battleID, 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: add market %s: %w", addr, err)
	}
	return nil
}

// Markets returns every known market address on the chain.
func (mc *MarketCache) Markets(ctx context.Context, chainID int64) ([]string, error) {
	addrs, err := mc.rdb.SMembers(ctx, marketSetKey(chainID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list markets chain %d: %w", chainID, err)
	}
	return addrs, nil
}

// BattleID resolves a market address to its battle, or domain.ErrNotFound.
func (mc *MarketCache) BattleID(ctx context.Context, addr string) (string, error) {
	id, err := mc.rdb.Get(ctx, marketBattleKey(addr)).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis: battle for market %s: %w", addr, err)
	}
	return id, nil
}
