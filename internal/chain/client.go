package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/ethclient"
)

// Client is the chain RPC source. It embeds ethclient.Client, so it exposes
// the filter, subscription, and transaction lookups the indexer needs
// directly. Dial it over a websocket endpoint when the new-head subscription
// fast path is wanted; over plain HTTP only the slow-poll trigger works.
type Client struct {
	*ethclient.Client
	chainID *big.Int
}

// Dial connects to the RPC endpoint and verifies the chain ID matches the
// configured one.
func Dial(ctx context.Context, url string, wantChainID int64) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", url, err)
	}

	id, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("chain: chain id: %w", err)
	}
	if wantChainID != 0 && id.Int64() != wantChainID {
		eth.Close()
		return nil, fmt.Errorf("chain: endpoint serves chain %d, config expects %d", id.Int64(), wantChainID)
	}

	return &Client{Client: eth, chainID: id}, nil
}

// ChainID returns the connected chain's ID.
func (c *Client) ChainIDInt() int64 {
	return c.chainID.Int64()
}
