// Package chain wraps go-ethereum: the RPC client the indexer ingests from
// and the prediction-market contract client the settlement jobs call.
package chain

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Factory and market ABIs, limited to the surface the backend touches. The
// contracts themselves are an opaque collaborator; these fragments only pin
// down the call and event encodings.
const (
	factoryABIJSON = `[
		{"type":"function","name":"createMarket","stateMutability":"nonpayable",
		 "inputs":[{"name":"matchId","type":"bytes32"},{"name":"outcomesCount","type":"uint256"},
		           {"name":"bScore","type":"uint256"},{"name":"feeBps","type":"uint256"}],
		 "outputs":[{"name":"market","type":"address"}]},
		{"type":"function","name":"proposeOutcome","stateMutability":"nonpayable",
		 "inputs":[{"name":"matchId","type":"bytes32"},{"name":"outcome","type":"uint256"},
		           {"name":"dataHash","type":"bytes32"},{"name":"codeCommitHash","type":"bytes32"}],
		 "outputs":[]},
		{"type":"event","name":"MarketCreated","anonymous":false,
		 "inputs":[{"name":"matchId","type":"bytes32","indexed":true},
		           {"name":"market","type":"address","indexed":true},
		           {"name":"outcomesCount","type":"uint256","indexed":false}]}
	]`

	marketABIJSON = `[
		{"type":"function","name":"buyShares","stateMutability":"nonpayable",
		 "inputs":[{"name":"outcome","type":"uint256"},{"name":"shares","type":"uint256"}],"outputs":[]},
		{"type":"function","name":"sellShares","stateMutability":"nonpayable",
		 "inputs":[{"name":"outcome","type":"uint256"},{"name":"shares","type":"uint256"}],"outputs":[]},
		{"type":"function","name":"quoteBuy","stateMutability":"view",
		 "inputs":[{"name":"outcome","type":"uint256"},{"name":"shares","type":"uint256"}],
		 "outputs":[{"name":"cost","type":"uint256"}]},
		{"type":"event","name":"Trade","anonymous":false,
		 "inputs":[{"name":"trader","type":"address","indexed":true},
		           {"name":"outcome","type":"uint256","indexed":true},
		           {"name":"shares","type":"uint256","indexed":false},
		           {"name":"cost","type":"uint256","indexed":false}]}
	]`
)

var (
	// FactoryABI and MarketABI are parsed once at package init.
	FactoryABI = mustParseABI(factoryABIJSON)
	MarketABI  = mustParseABI(marketABIJSON)

	// MarketCreatedTopic and TradeTopic are the topic0 event signature
	// hashes the indexer's handler registry is keyed by.
	MarketCreatedTopic = FactoryABI.Events["MarketCreated"].ID
	TradeTopic         = MarketABI.Events["Trade"].ID

	// BuySelector and SellSelector distinguish trade direction from the
	// originating transaction's input data.
	BuySelector  = MarketABI.Methods["buyShares"].ID
	SellSelector = MarketABI.Methods["sellShares"].ID
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// MatchKey derives the bytes32 on-chain match identifier from an off-chain
// match ID. Battles carry it in their metadata so decoded MarketCreated
// events can be joined back to their battle.
func MatchKey(matchID string) common.Hash {
	return crypto.Keccak256Hash([]byte(matchID))
}

// weiUnit is the fixed-point scale of contract share/cost amounts.
var weiUnit = new(big.Float).SetFloat64(1e18)

// FromWei converts an 18-decimal fixed-point amount to a float64.
func FromWei(v *big.Int) float64 {
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v), weiUnit).Float64()
	return f
}

// ToWei converts a float64 amount to its 18-decimal fixed-point encoding.
func ToWei(v float64) *big.Int {
	f := new(big.Float).Mul(new(big.Float).SetFloat64(v), weiUnit)
	out, _ := f.Int(nil)
	return out
}
