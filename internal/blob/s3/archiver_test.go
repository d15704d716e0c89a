package s3blob

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arenaclash/arenad/internal/domain"
)

type fakeObjects struct {
	objects map[string][]byte
	puts    int
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: make(map[string][]byte)}
}

func (f *fakeObjects) Put(_ context.Context, key string, data io.Reader, _ string) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.objects[key] = buf
	f.puts++
	return nil
}

func (f *fakeObjects) Exists(_ context.Context, key string) (bool, error) {
	_, ok := f.objects[key]
	return ok, nil
}

type fakeArchiveBattles struct {
	finished []domain.Battle
	players  map[string][]domain.BattlePlayer
	results  map[string]domain.BattleResult
}

func (f *fakeArchiveBattles) ListFinishedBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.Battle, error) {
	var out []domain.Battle
	for _, b := range f.finished {
		if b.EndedAt != nil && b.EndedAt.Before(cutoff) && len(out) < limit {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeArchiveBattles) ListPlayers(_ context.Context, battleID string) ([]domain.BattlePlayer, error) {
	return f.players[battleID], nil
}

func (f *fakeArchiveBattles) GetResult(_ context.Context, battleID string) (domain.BattleResult, error) {
	r, ok := f.results[battleID]
	if !ok {
		return domain.BattleResult{}, domain.ErrNotFound
	}
	return r, nil
}

func (f *fakeArchiveBattles) CreateWithPlayers(context.Context, domain.Battle, []domain.BattlePlayer) (domain.Battle, error) {
	return domain.Battle{}, nil
}

func (f *fakeArchiveBattles) GetByID(context.Context, string) (domain.Battle, error) {
	return domain.Battle{}, domain.ErrNotFound
}

func (f *fakeArchiveBattles) GetByMatchKey(context.Context, string) (domain.Battle, error) {
	return domain.Battle{}, domain.ErrNotFound
}

func (f *fakeArchiveBattles) SetPlayerStatus(context.Context, string, string, domain.PlayerStatus) error {
	return nil
}

func (f *fakeArchiveBattles) Start(context.Context, string, time.Time) (*domain.Battle, error) {
	return nil, nil
}

func (f *fakeArchiveBattles) Finish(context.Context, string, domain.FinishUpdate) (*domain.Battle, error) {
	return nil, nil
}

func (f *fakeArchiveBattles) Cancel(context.Context, string) (*domain.Battle, error) {
	return nil, nil
}

func (f *fakeArchiveBattles) MergeOnchainMetadata(context.Context, string, domain.OnchainMetadata) error {
	return nil
}

type fakeArchiveTrades struct {
	trades  map[string][]domain.PredictionTrade
	choices map[string][]domain.PredictionChoice
}

func (f *fakeArchiveTrades) ApplyTrade(context.Context, domain.PredictionTrade) error { return nil }

func (f *fakeArchiveTrades) ListTrades(_ context.Context, battleID string) ([]domain.PredictionTrade, error) {
	return f.trades[battleID], nil
}

func (f *fakeArchiveTrades) ListChoices(_ context.Context, battleID string) ([]domain.PredictionChoice, error) {
	return f.choices[battleID], nil
}

func settledBattle(id string, endedAt time.Time) domain.Battle {
	return domain.Battle{
		ID:     id,
		Status: domain.BattleFinished,
		Metadata: domain.BattleMetadata{
			MatchID: "m-" + id,
		},
		EndedAt: &endedAt,
	}
}

func TestArchiveSettledWritesFullRecord(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	ended := now.Add(-60 * 24 * time.Hour)

	battles := &fakeArchiveBattles{
		finished: []domain.Battle{settledBattle("b-1", ended)},
		players: map[string][]domain.BattlePlayer{
			"b-1": {{BattleID: "b-1", UserID: "u-1", Slot: 1}, {BattleID: "b-1", UserID: "u-2", Slot: 2}},
		},
		results: map[string]domain.BattleResult{
			"b-1": {BattleID: "b-1", WinnerUserID: "u-2", WinningSlot: 2, OutcomeIndex: 1},
		},
	}
	trades := &fakeArchiveTrades{
		trades:  map[string][]domain.PredictionTrade{"b-1": {{BattleID: "b-1", TxHash: "0xtx"}}},
		choices: map[string][]domain.PredictionChoice{"b-1": {{BattleID: "b-1", Outcome: 1}}},
	}
	objects := newFakeObjects()

	a := NewArchiver(objects, battles, trades, ArchiverConfig{Retention: 30 * 24 * time.Hour}, slog.Default())
	a.now = func() time.Time { return now }

	n, err := a.ArchiveSettled(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	key := "archive/battles/2026-06/b-1.json"
	raw, ok := objects.objects[key]
	require.True(t, ok, "expected object at %s", key)

	var rec archiveRecord
	require.NoError(t, json.Unmarshal(raw, &rec))
	assert.Equal(t, "b-1", rec.Battle.ID)
	assert.Len(t, rec.Players, 2)
	require.NotNil(t, rec.Result)
	assert.Equal(t, 1, rec.Result.OutcomeIndex)
	assert.Len(t, rec.Trades, 1)
	assert.Len(t, rec.Choices, 1)
}

func TestArchiveSettledSkipsRecentAndExisting(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	old := now.Add(-60 * 24 * time.Hour)
	recent := now.Add(-24 * time.Hour)

	battles := &fakeArchiveBattles{
		finished: []domain.Battle{settledBattle("b-old", old), settledBattle("b-new", recent)},
		players:  map[string][]domain.BattlePlayer{},
		results:  map[string]domain.BattleResult{},
	}
	trades := &fakeArchiveTrades{}
	objects := newFakeObjects()

	a := NewArchiver(objects, battles, trades, ArchiverConfig{Retention: 30 * 24 * time.Hour}, slog.Default())
	a.now = func() time.Time { return now }

	n, err := a.ArchiveSettled(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, objects.puts)

	// Second sweep finds the object already archived.
	n, err = a.ArchiveSettled(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, objects.puts)
}
