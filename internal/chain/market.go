package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// receiptPollInterval is how often a pending settlement transaction is
// re-checked for its receipt.
const receiptPollInterval = 2 * time.Second

// MarketClient implements domain.MarketContract against the prediction-market
// factory. Writes are signed locally and waited to inclusion so callers get
// the final tx hash and, for creation, the deployed market address.
type MarketClient struct {
	client  *Client
	factory common.Address
	key     *ecdsa.PrivateKey
	from    common.Address
	logger  *slog.Logger
}

// NewMarketClient creates a MarketClient from a hex-encoded private key and
// the factory contract address.
func NewMarketClient(client *Client, factoryAddr, privateKeyHex string, logger *slog.Logger) (*MarketClient, error) {
	if !common.IsHexAddress(factoryAddr) {
		return nil, fmt.Errorf("chain: invalid factory address %q", factoryAddr)
	}

	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("chain: invalid private key: %w", err)
	}

	return &MarketClient{
		client:  client,
		factory: common.HexToAddress(factoryAddr),
		key:     key,
		from:    ethcrypto.PubkeyToAddress(key.PublicKey),
		logger:  logger.With(slog.String("component", "market_client")),
	}, nil
}

// CreateMarket calls createMarket on the factory and returns the tx hash plus
// the deployed market's address, recovered from the MarketCreated log in the
// receipt.
func (m *MarketClient) CreateMarket(ctx context.Context, matchID string, outcomesCount int, bScore float64, feeBps int) (string, string, error) {
	data, err := FactoryABI.Pack("createMarket",
		MatchKey(matchID),
		big.NewInt(int64(outcomesCount)),
		ToWei(bScore),
		big.NewInt(int64(feeBps)),
	)
	if err != nil {
		return "", "", fmt.Errorf("chain: pack createMarket: %w", err)
	}

	receipt, err := m.sendAndWait(ctx, data)
	if err != nil {
		return "", "", fmt.Errorf("chain: createMarket %s: %w", matchID, err)
	}

	for _, lg := range receipt.Logs {
		if len(lg.Topics) == 3 && lg.Topics[0] == MarketCreatedTopic && lg.Address == m.factory {
			market := common.BytesToAddress(lg.Topics[2].Bytes())
			m.logger.Info("market created on chain",
				slog.String("match_id", matchID),
				slog.String("market", market.Hex()),
				slog.String("tx", receipt.TxHash.Hex()),
			)
			return receipt.TxHash.Hex(), market.Hex(), nil
		}
	}
	return "", "", fmt.Errorf("chain: createMarket %s: no MarketCreated log in receipt %s", matchID, receipt.TxHash.Hex())
}

// ProposeOutcome submits the winning outcome with the result hashes.
func (m *MarketClient) ProposeOutcome(ctx context.Context, matchID string, outcome int, dataHash, codeCommitHash string) (string, error) {
	data, err := FactoryABI.Pack("proposeOutcome",
		MatchKey(matchID),
		big.NewInt(int64(outcome)),
		common.HexToHash(dataHash),
		common.HexToHash(codeCommitHash),
	)
	if err != nil {
		return "", fmt.Errorf("chain: pack proposeOutcome: %w", err)
	}

	receipt, err := m.sendAndWait(ctx, data)
	if err != nil {
		return "", fmt.Errorf("chain: proposeOutcome %s: %w", matchID, err)
	}

	m.logger.Info("outcome proposed on chain",
		slog.String("match_id", matchID),
		slog.Int("outcome", outcome),
		slog.String("tx", receipt.TxHash.Hex()),
	)
	return receipt.TxHash.Hex(), nil
}

// QuoteBuy returns the current cost of one share of the outcome on the given
// market, used as its price oracle.
func (m *MarketClient) QuoteBuy(ctx context.Context, marketAddress string, outcome int) (float64, error) {
	market := common.HexToAddress(marketAddress)
	data, err := MarketABI.Pack("quoteBuy", big.NewInt(int64(outcome)), ToWei(1))
	if err != nil {
		return 0, fmt.Errorf("chain: pack quoteBuy: %w", err)
	}

	out, err := m.client.CallContract(ctx, ethereum.CallMsg{To: &market, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("chain: quoteBuy %s/%d: %w", marketAddress, outcome, err)
	}

	vals, err := MarketABI.Unpack("quoteBuy", out)
	if err != nil || len(vals) != 1 {
		return 0, fmt.Errorf("chain: unpack quoteBuy: %w", err)
	}
	cost, ok := vals[0].(*big.Int)
	if !ok {
		return 0, errors.New("chain: quoteBuy returned unexpected type")
	}
	return FromWei(cost), nil
}

// sendAndWait signs and sends a factory call, then polls for the receipt
// until inclusion or ctx expiry. A reverted transaction is an error.
func (m *MarketClient) sendAndWait(ctx context.Context, calldata []byte) (*types.Receipt, error) {
	nonce, err := m.client.PendingNonceAt(ctx, m.from)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := m.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}
	gasLimit, err := m.client.EstimateGas(ctx, ethereum.CallMsg{
		From: m.from,
		To:   &m.factory,
		Data: calldata,
	})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &m.factory,
		Data:     calldata,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(m.client.chainID), m.key)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	if err := m.client.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}

	hash := signed.Hash()
	for {
		receipt, err := m.client.TransactionReceipt(ctx, hash)
		if err == nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return nil, fmt.Errorf("tx %s reverted", hash.Hex())
			}
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("receipt %s: %w", hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(receiptPollInterval):
		}
	}
}
