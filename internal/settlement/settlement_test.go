package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arenaclash/arenad/internal/domain"
)

type fakeBattles struct {
	byID       map[string]domain.Battle
	byMatchKey map[string]domain.Battle
	patches    map[string][]domain.OnchainMetadata
	patchErr   error
}

func newFakeBattles() *fakeBattles {
	return &fakeBattles{
		byID:       make(map[string]domain.Battle),
		byMatchKey: make(map[string]domain.Battle),
		patches:    make(map[string][]domain.OnchainMetadata),
	}
}

func (f *fakeBattles) add(b domain.Battle) {
	f.byID[b.ID] = b
	if b.Metadata.MatchKey != "" {
		f.byMatchKey[b.Metadata.MatchKey] = b
	}
}

func (f *fakeBattles) GetByID(_ context.Context, id string) (domain.Battle, error) {
	b, ok := f.byID[id]
	if !ok {
		return domain.Battle{}, domain.ErrNotFound
	}
	return b, nil
}

func (f *fakeBattles) GetByMatchKey(_ context.Context, key string) (domain.Battle, error) {
	b, ok := f.byMatchKey[key]
	if !ok {
		return domain.Battle{}, domain.ErrNotFound
	}
	return b, nil
}

func (f *fakeBattles) MergeOnchainMetadata(_ context.Context, battleID string, patch domain.OnchainMetadata) error {
	if f.patchErr != nil {
		return f.patchErr
	}
	f.patches[battleID] = append(f.patches[battleID], patch)
	return nil
}

func (f *fakeBattles) CreateWithPlayers(context.Context, domain.Battle, []domain.BattlePlayer) (domain.Battle, error) {
	return domain.Battle{}, errors.New("not implemented")
}

func (f *fakeBattles) ListPlayers(context.Context, string) ([]domain.BattlePlayer, error) {
	return nil, nil
}

func (f *fakeBattles) SetPlayerStatus(context.Context, string, string, domain.PlayerStatus) error {
	return nil
}

func (f *fakeBattles) Start(context.Context, string, time.Time) (*domain.Battle, error) {
	return nil, nil
}

func (f *fakeBattles) Finish(context.Context, string, domain.FinishUpdate) (*domain.Battle, error) {
	return nil, nil
}

func (f *fakeBattles) Cancel(context.Context, string) (*domain.Battle, error) { return nil, nil }

func (f *fakeBattles) ListFinishedBefore(context.Context, time.Time, int) ([]domain.Battle, error) {
	return nil, nil
}

func (f *fakeBattles) GetResult(context.Context, string) (domain.BattleResult, error) {
	return domain.BattleResult{}, domain.ErrNotFound
}

type fakeContract struct {
	createCalls  int
	proposeCalls int
	createErr    error
	quote        float64
	quoteErr     error
}

func (f *fakeContract) CreateMarket(context.Context, string, int, float64, int) (string, string, error) {
	f.createCalls++
	if f.createErr != nil {
		return "", "", f.createErr
	}
	return "0xtx-create", "0xmarket", nil
}

func (f *fakeContract) ProposeOutcome(context.Context, string, int, string, string) (string, error) {
	f.proposeCalls++
	return "0xtx-propose", nil
}

func (f *fakeContract) QuoteBuy(context.Context, string, int) (float64, error) {
	if f.quoteErr != nil {
		return 0, f.quoteErr
	}
	return f.quote, nil
}

type fakeMarketCache struct {
	mapping map[string]string
	added   []string
}

func newFakeMarketCache() *fakeMarketCache {
	return &fakeMarketCache{mapping: make(map[string]string)}
}

func (f *fakeMarketCache) AddMarket(_ context.Context, _ int64, addr, battleID string) error {
	f.mapping[addr] = battleID
	f.added = append(f.added, addr)
	return nil
}

func (f *fakeMarketCache) Markets(context.Context, int64) ([]string, error) { return nil, nil }

func (f *fakeMarketCache) BattleID(_ context.Context, addr string) (string, error) {
	id, ok := f.mapping[addr]
	if !ok {
		return "", domain.ErrNotFound
	}
	return id, nil
}

type fakePredictions struct {
	trades []domain.PredictionTrade
}

func (f *fakePredictions) ApplyTrade(_ context.Context, t domain.PredictionTrade) error {
	for _, prev := range f.trades {
		if prev.TxHash == t.TxHash && prev.LogIndex == t.LogIndex {
			return nil
		}
	}
	f.trades = append(f.trades, t)
	return nil
}

func (f *fakePredictions) ListTrades(context.Context, string) ([]domain.PredictionTrade, error) {
	return f.trades, nil
}

func (f *fakePredictions) ListChoices(context.Context, string) ([]domain.PredictionChoice, error) {
	return nil, nil
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestCreateMarketJobCallsContractAndPatches(t *testing.T) {
	battles := newFakeBattles()
	battles.add(domain.Battle{ID: "b-1"})
	contract := &fakeContract{}
	p := NewContractProcessor(battles, contract, slog.Default())

	job := domain.CreateMarketJob{MatchID: "m-1", BattleID: "b-1", OutcomesCount: 3}
	err := p.Handle(context.Background(), "arena.settle.create.m-1", mustJSON(t, job))

	require.NoError(t, err)
	assert.Equal(t, 1, contract.createCalls)
	require.Len(t, battles.patches["b-1"], 1)
	assert.Equal(t, "0xtx-create", battles.patches["b-1"][0].MarketTxHash)
	assert.Equal(t, "0xmarket", battles.patches["b-1"][0].MarketAddress)
}

func TestCreateMarketSkipsWhenAlreadyCreated(t *testing.T) {
	battles := newFakeBattles()
	battles.add(domain.Battle{
		ID:       "b-1",
		Metadata: domain.BattleMetadata{Onchain: domain.OnchainMetadata{MarketTxHash: "0xexisting"}},
	})
	contract := &fakeContract{}
	p := NewContractProcessor(battles, contract, slog.Default())

	job := domain.CreateMarketJob{MatchID: "m-1", BattleID: "b-1"}
	err := p.Handle(context.Background(), "arena.settle.create.m-1", mustJSON(t, job))

	require.NoError(t, err)
	assert.Zero(t, contract.createCalls)
	assert.Empty(t, battles.patches["b-1"])
}

func TestCreateMarketRetriesOnContractFailure(t *testing.T) {
	battles := newFakeBattles()
	battles.add(domain.Battle{ID: "b-1"})
	contract := &fakeContract{createErr: errors.New("rpc down")}
	p := NewContractProcessor(battles, contract, slog.Default())

	job := domain.CreateMarketJob{MatchID: "m-1", BattleID: "b-1"}
	err := p.Handle(context.Background(), "arena.settle.create.m-1", mustJSON(t, job))
	require.Error(t, err)

	contract.createErr = nil
	require.NoError(t, p.Handle(context.Background(), "arena.settle.create.m-1", mustJSON(t, job)))
	assert.Len(t, battles.patches["b-1"], 1)
}

func TestProposeOutcomeSkipsWhenAlreadyProposed(t *testing.T) {
	battles := newFakeBattles()
	battles.add(domain.Battle{
		ID:       "b-1",
		Metadata: domain.BattleMetadata{Onchain: domain.OnchainMetadata{OutcomeTxHash: "0xdone"}},
	})
	contract := &fakeContract{}
	p := NewContractProcessor(battles, contract, slog.Default())

	job := domain.ProposeOutcomeJob{MatchID: "m-1", BattleID: "b-1", Outcome: 1}
	err := p.Handle(context.Background(), "arena.settle.propose.m-1", mustJSON(t, job))

	require.NoError(t, err)
	assert.Zero(t, contract.proposeCalls)
}

func TestProposeOutcomePatchesTxHash(t *testing.T) {
	battles := newFakeBattles()
	battles.add(domain.Battle{ID: "b-1"})
	contract := &fakeContract{}
	p := NewContractProcessor(battles, contract, slog.Default())

	job := domain.ProposeOutcomeJob{MatchID: "m-1", BattleID: "b-1", Outcome: 2}
	err := p.Handle(context.Background(), "arena.settle.propose.m-1", mustJSON(t, job))

	require.NoError(t, err)
	assert.Equal(t, 1, contract.proposeCalls)
	require.Len(t, battles.patches["b-1"], 1)
	assert.Equal(t, "0xtx-propose", battles.patches["b-1"][0].OutcomeTxHash)
}

func TestUndecodablePayloadAcked(t *testing.T) {
	p := NewContractProcessor(newFakeBattles(), &fakeContract{}, slog.Default())
	err := p.Handle(context.Background(), "arena.settle.create.m-1", []byte("{not json"))
	assert.NoError(t, err)
}

func TestMarketCreatedRegistersAndPatches(t *testing.T) {
	battles := newFakeBattles()
	battles.add(domain.Battle{ID: "b-1", Metadata: domain.BattleMetadata{MatchKey: "0xkey"}})
	cache := newFakeMarketCache()
	p := NewEventProcessor(battles, &fakePredictions{}, cache, &fakeContract{}, slog.Default())

	job := domain.MarketCreatedJob{ChainID: 31337, MatchKey: "0xkey", MarketAddress: "0xmarket", TxHash: "0xtx"}
	err := p.Handle(context.Background(), "arena.events.market.0xtx.0", mustJSON(t, job))

	require.NoError(t, err)
	assert.Equal(t, []string{"0xmarket"}, cache.added)
	assert.Equal(t, "b-1", cache.mapping["0xmarket"])
	require.Len(t, battles.patches["b-1"], 1)
	assert.Equal(t, "0xmarket", battles.patches["b-1"][0].MarketAddress)
	assert.Equal(t, "0xtx", battles.patches["b-1"][0].MarketTxHash)
}

func TestMarketCreatedUnknownMatchKeyIsNoop(t *testing.T) {
	cache := newFakeMarketCache()
	p := NewEventProcessor(newFakeBattles(), &fakePredictions{}, cache, &fakeContract{}, slog.Default())

	job := domain.MarketCreatedJob{MatchKey: "0xstranger", MarketAddress: "0xmarket"}
	err := p.Handle(context.Background(), "arena.events.market.0xtx.0", mustJSON(t, job))

	require.NoError(t, err)
	assert.Empty(t, cache.added)
}

func TestTradeAppliedWithQuotedPrice(t *testing.T) {
	battles := newFakeBattles()
	cache := newFakeMarketCache()
	cache.mapping["0xmarket"] = "b-1"
	ledger := &fakePredictions{}
	p := NewEventProcessor(battles, ledger, cache, &fakeContract{quote: 0.42}, slog.Default())

	job := domain.TradeJob{
		MarketAddress: "0xmarket", Trader: "0xtrader", Outcome: 1,
		Side: domain.TradeBuy, Shares: 4, Cost: 2,
		TxHash: "0xtx", LogIndex: 7,
	}
	err := p.Handle(context.Background(), "arena.events.trade.0xtx.7", mustJSON(t, job))

	require.NoError(t, err)
	require.Len(t, ledger.trades, 1)
	assert.Equal(t, "b-1", ledger.trades[0].BattleID)
	assert.InDelta(t, 0.42, ledger.trades[0].Price, 1e-9)
	assert.Equal(t, int64(7), ledger.trades[0].LogIndex)
}

func TestTradePriceFallsBackToFillAverage(t *testing.T) {
	cache := newFakeMarketCache()
	cache.mapping["0xmarket"] = "b-1"
	ledger := &fakePredictions{}
	p := NewEventProcessor(newFakeBattles(), ledger, cache, &fakeContract{quoteErr: errors.New("rpc down")}, slog.Default())

	job := domain.TradeJob{MarketAddress: "0xmarket", Side: domain.TradeBuy, Shares: 4, Cost: 2, TxHash: "0xtx"}
	err := p.Handle(context.Background(), "arena.events.trade.0xtx.0", mustJSON(t, job))

	require.NoError(t, err)
	require.Len(t, ledger.trades, 1)
	assert.InDelta(t, 0.5, ledger.trades[0].Price, 1e-9)
}

func TestTradeOnUnknownMarketIsNoop(t *testing.T) {
	ledger := &fakePredictions{}
	p := NewEventProcessor(newFakeBattles(), ledger, newFakeMarketCache(), &fakeContract{}, slog.Default())

	job := domain.TradeJob{MarketAddress: "0xghost", TxHash: "0xtx"}
	err := p.Handle(context.Background(), "arena.events.trade.0xtx.0", mustJSON(t, job))

	require.NoError(t, err)
	assert.Empty(t, ledger.trades)
}

func TestTradeReplayDedupsByTxAndLogIndex(t *testing.T) {
	cache := newFakeMarketCache()
	cache.mapping["0xmarket"] = "b-1"
	ledger := &fakePredictions{}
	p := NewEventProcessor(newFakeBattles(), ledger, cache, &fakeContract{quote: 0.5}, slog.Default())

	job := domain.TradeJob{MarketAddress: "0xmarket", Side: domain.TradeBuy, Shares: 1, Cost: 1, TxHash: "0xtx", LogIndex: 3}
	payload := mustJSON(t, job)
	require.NoError(t, p.Handle(context.Background(), "arena.events.trade.0xtx.3", payload))
	require.NoError(t, p.Handle(context.Background(), "arena.events.trade.0xtx.3", payload))

	assert.Len(t, ledger.trades, 1)
}
