package indexer

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arenaclash/arenad/internal/chain"
	"github.com/arenaclash/arenad/internal/domain"
)

var (
	testFactory = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	testMarket  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testTrader  = common.HexToAddress("0x00000000000000000000000000000000000000b1")
)

type fakeSource struct {
	height  uint64
	logs    []types.Log
	txs     map[common.Hash]*types.Transaction
	queries []ethereum.FilterQuery
}

func (s *fakeSource) BlockNumber(context.Context) (uint64, error) { return s.height, nil }

func (s *fakeSource) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	s.queries = append(s.queries, q)
	var out []types.Log
	for _, lg := range s.logs {
		if lg.BlockNumber >= q.FromBlock.Uint64() && lg.BlockNumber <= q.ToBlock.Uint64() {
			out = append(out, lg)
		}
	}
	return out, nil
}

func (s *fakeSource) HeaderByNumber(_ context.Context, n *big.Int) (*types.Header, error) {
	return &types.Header{Number: n, Time: 1700000000 + n.Uint64()}, nil
}

func (s *fakeSource) TransactionByHash(_ context.Context, h common.Hash) (*types.Transaction, bool, error) {
	tx, ok := s.txs[h]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	return tx, false, nil
}

func (s *fakeSource) SubscribeNewHead(context.Context, chan<- *types.Header) (ethereum.Subscription, error) {
	return nil, errors.New("subscriptions not supported")
}

type fakeCheckpoints struct {
	blocks map[int64]int64
	sets   []int64
	setErr error
}

func newFakeCheckpoints() *fakeCheckpoints {
	return &fakeCheckpoints{blocks: make(map[int64]int64)}
}

func (c *fakeCheckpoints) Get(_ context.Context, chainID int64) (int64, bool, error) {
	b, ok := c.blocks[chainID]
	return b, ok, nil
}

func (c *fakeCheckpoints) Set(_ context.Context, chainID, block int64) error {
	if c.setErr != nil {
		return c.setErr
	}
	if block > c.blocks[chainID] {
		c.blocks[chainID] = block
	}
	c.sets = append(c.sets, block)
	return nil
}

type fakeEnqueuer struct {
	created []domain.MarketCreatedJob
	trades  []domain.TradeJob
	err     error
}

func (q *fakeEnqueuer) EnqueueCreateMarket(context.Context, domain.CreateMarketJob) error { return nil }
func (q *fakeEnqueuer) EnqueueProposeOutcome(context.Context, domain.ProposeOutcomeJob) error {
	return nil
}

func (q *fakeEnqueuer) EnqueueMarketCreated(_ context.Context, job domain.MarketCreatedJob) error {
	if q.err != nil {
		return q.err
	}
	q.created = append(q.created, job)
	return nil
}

func (q *fakeEnqueuer) EnqueueTrade(_ context.Context, job domain.TradeJob) error {
	if q.err != nil {
		return q.err
	}
	q.trades = append(q.trades, job)
	return nil
}

type fakeMarkets struct {
	markets []string
}

func (m *fakeMarkets) AddMarket(context.Context, int64, string, string) error { return nil }
func (m *fakeMarkets) Markets(context.Context, int64) ([]string, error)       { return m.markets, nil }
func (m *fakeMarkets) BattleID(context.Context, string) (string, error) {
	return "", domain.ErrNotFound
}

func testRegistry(queue domain.JobEnqueuer) *Registry {
	r := NewRegistry()
	r.Register(chain.MarketCreatedTopic, NewMarketCreatedHandler(31337, testFactory, queue, slog.Default()))
	r.Register(chain.TradeTopic, NewTradeHandler(31337, queue, slog.Default()))
	return r
}

func marketCreatedLog(block uint64, index uint) types.Log {
	data, _ := chain.FactoryABI.Events["MarketCreated"].Inputs.NonIndexed().Pack(big.NewInt(2))
	return types.Log{
		Address:     testFactory,
		Topics:      []common.Hash{chain.MarketCreatedTopic, chain.MatchKey("m-1"), common.BytesToHash(testMarket.Bytes())},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.HexToHash("0x1111"),
		Index:       index,
	}
}

func tradeLog(block uint64, index uint, tx common.Hash) types.Log {
	data, _ := chain.MarketABI.Events["Trade"].Inputs.NonIndexed().Pack(chain.ToWei(4), chain.ToWei(2))
	return types.Log{
		Address:     testMarket,
		Topics:      []common.Hash{chain.TradeTopic, common.BytesToHash(testTrader.Bytes()), common.BigToHash(big.NewInt(1))},
		Data:        data,
		BlockNumber: block,
		TxHash:      tx,
		Index:       index,
	}
}

func tradeTx(selector []byte) *types.Transaction {
	input := append(append([]byte{}, selector...), make([]byte, 64)...)
	return types.NewTx(&types.LegacyTx{To: &testMarket, Data: input})
}

func newTestIndexer(src *fakeSource, cps *fakeCheckpoints, queue *fakeEnqueuer, markets domain.MarketCache) *Indexer {
	cfg := Config{ChainID: 31337, GenesisBlock: 100, Confirmations: 2, ChunkSize: 10}
	return New(cfg, src, testRegistry(queue), cps, markets, slog.Default())
}

func TestIngestWalksChunksAndCheckpoints(t *testing.T) {
	src := &fakeSource{height: 135}
	cps := newFakeCheckpoints()
	queue := &fakeEnqueuer{}
	ix := newTestIndexer(src, cps, queue, &fakeMarkets{})

	require.NoError(t, ix.ingest(context.Background()))

	// Genesis 100 through head 133 (135 - 2 confirmations) in chunks of 10.
	assert.Equal(t, []int64{109, 119, 129, 133}, cps.sets)
	assert.Equal(t, int64(133), cps.blocks[31337])
}

func TestIngestResumesAfterCheckpoint(t *testing.T) {
	src := &fakeSource{height: 150}
	cps := newFakeCheckpoints()
	cps.blocks[31337] = 140
	queue := &fakeEnqueuer{}
	ix := newTestIndexer(src, cps, queue, &fakeMarkets{})

	require.NoError(t, ix.ingest(context.Background()))

	require.NotEmpty(t, src.queries)
	assert.Equal(t, int64(141), src.queries[0].FromBlock.Int64())
	assert.Equal(t, int64(148), src.queries[0].ToBlock.Int64())
}

func TestIngestNoopBeforeConfirmationDepth(t *testing.T) {
	src := &fakeSource{height: 101}
	cps := newFakeCheckpoints()
	ix := newTestIndexer(src, cps, &fakeEnqueuer{}, &fakeMarkets{})

	require.NoError(t, ix.ingest(context.Background()))
	assert.Empty(t, cps.sets)
	assert.Empty(t, src.queries)
}

func TestCheckpointNeverRegressesAcrossPasses(t *testing.T) {
	src := &fakeSource{height: 120}
	cps := newFakeCheckpoints()
	ix := newTestIndexer(src, cps, &fakeEnqueuer{}, &fakeMarkets{})

	require.NoError(t, ix.ingest(context.Background()))
	first := cps.blocks[31337]

	src.queries = nil
	require.NoError(t, ix.ingest(context.Background()))

	if len(src.queries) > 0 {
		assert.Equal(t, first+1, src.queries[0].FromBlock.Int64())
	}
	assert.GreaterOrEqual(t, cps.blocks[31337], first)
}

func TestMarketCreatedDecoded(t *testing.T) {
	src := &fakeSource{height: 112, logs: []types.Log{marketCreatedLog(105, 3)}}
	cps := newFakeCheckpoints()
	queue := &fakeEnqueuer{}
	ix := newTestIndexer(src, cps, queue, &fakeMarkets{})

	require.NoError(t, ix.ingest(context.Background()))

	require.Len(t, queue.created, 1)
	job := queue.created[0]
	assert.Equal(t, int64(31337), job.ChainID)
	assert.Equal(t, chain.MatchKey("m-1").Hex(), job.MatchKey)
	assert.Equal(t, testMarket.Hex(), job.MarketAddress)
	assert.Equal(t, int64(105), job.BlockNumber)
	assert.Equal(t, int64(3), job.LogIndex)
	assert.Equal(t, time.Unix(1700000105, 0).UTC(), job.Timestamp)
}

func TestTradeSideFromSelector(t *testing.T) {
	buyTx := common.HexToHash("0xaaaa")
	sellTx := common.HexToHash("0xbbbb")
	src := &fakeSource{
		height: 112,
		logs:   []types.Log{tradeLog(106, 0, buyTx), tradeLog(107, 0, sellTx)},
		txs: map[common.Hash]*types.Transaction{
			buyTx:  tradeTx(chain.BuySelector),
			sellTx: tradeTx(chain.SellSelector),
		},
	}
	cps := newFakeCheckpoints()
	queue := &fakeEnqueuer{}
	ix := newTestIndexer(src, cps, queue, &fakeMarkets{markets: []string{testMarket.Hex()}})

	require.NoError(t, ix.ingest(context.Background()))

	require.Len(t, queue.trades, 2)
	assert.Equal(t, domain.TradeBuy, queue.trades[0].Side)
	assert.Equal(t, domain.TradeSell, queue.trades[1].Side)
	assert.Equal(t, 1, queue.trades[0].Outcome)
	assert.InDelta(t, 4.0, queue.trades[0].Shares, 1e-9)
	assert.InDelta(t, 2.0, queue.trades[0].Cost, 1e-9)
	assert.Equal(t, testTrader.Hex(), queue.trades[0].Trader)
}

func TestMalformedLogSkippedWithoutAbortingPass(t *testing.T) {
	bad := marketCreatedLog(105, 0)
	bad.Topics = bad.Topics[:2] // missing market address topic
	src := &fakeSource{height: 112, logs: []types.Log{bad, marketCreatedLog(106, 1)}}
	cps := newFakeCheckpoints()
	queue := &fakeEnqueuer{}
	ix := newTestIndexer(src, cps, queue, &fakeMarkets{})

	require.NoError(t, ix.ingest(context.Background()))

	assert.Len(t, queue.created, 1)
	assert.Equal(t, int64(110), cps.blocks[31337])
}

func TestEnqueueFailureAbortsBeforeCheckpoint(t *testing.T) {
	src := &fakeSource{height: 112, logs: []types.Log{marketCreatedLog(105, 0)}}
	cps := newFakeCheckpoints()
	queue := &fakeEnqueuer{err: errors.New("queue down")}
	ix := newTestIndexer(src, cps, queue, &fakeMarkets{})

	err := ix.ingest(context.Background())
	require.Error(t, err)
	assert.Empty(t, cps.sets)

	// Queue recovers: the same pass range replays and nothing is lost.
	queue.err = nil
	require.NoError(t, ix.ingest(context.Background()))
	assert.Len(t, queue.created, 1)
}

func TestUnknownTopicIgnored(t *testing.T) {
	unknown := types.Log{
		Address:     testFactory,
		Topics:      []common.Hash{common.HexToHash("0xdead")},
		BlockNumber: 105,
	}
	src := &fakeSource{height: 112, logs: []types.Log{unknown}}
	cps := newFakeCheckpoints()
	queue := &fakeEnqueuer{}
	ix := newTestIndexer(src, cps, queue, &fakeMarkets{})

	require.NoError(t, ix.ingest(context.Background()))
	assert.Empty(t, queue.created)
	assert.Empty(t, queue.trades)
	assert.Equal(t, int64(110), cps.blocks[31337])
}

func TestDynamicAddressesJoinFilter(t *testing.T) {
	src := &fakeSource{height: 112}
	cps := newFakeCheckpoints()
	ix := newTestIndexer(src, cps, &fakeEnqueuer{}, &fakeMarkets{markets: []string{testMarket.Hex()}})

	require.NoError(t, ix.ingest(context.Background()))

	require.NotEmpty(t, src.queries)
	assert.Contains(t, src.queries[0].Addresses, testFactory)
	assert.Contains(t, src.queries[0].Addresses, testMarket)
	assert.Equal(t, [][]common.Hash{{chain.MarketCreatedTopic, chain.TradeTopic}}, src.queries[0].Topics)
}

func TestTriggerGuardSkipsOverlappingPass(t *testing.T) {
	src := &fakeSource{height: 120}
	cps := newFakeCheckpoints()
	ix := newTestIndexer(src, cps, &fakeEnqueuer{}, &fakeMarkets{})

	ix.inFlight.Store(true)
	ix.Trigger(context.Background())
	assert.Empty(t, src.queries)

	ix.inFlight.Store(false)
	ix.Trigger(context.Background())
	assert.NotEmpty(t, src.queries)
}
