package matchmaking

import (
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arenaclash/arenad/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{
		BaseEloRange:     50,
		MaxEloRange:      400,
		ExpandRatePerSec: 2,
		MinGroupSize:     2,
		MaxGroupSize:     4,
		FairnessWindow:   2 * time.Second,
		ForceMatchAfter:  15 * time.Second,
	}
}

func newTestEngine(t *testing.T, cfg Config, now time.Time) *Engine {
	t.Helper()
	e := NewEngine(cfg, slog.Default())
	e.SetClock(func() time.Time { return now })
	n := 0
	e.SetMatchIDFunc(func() string {
		n++
		return fmt.Sprintf("match-%d", n)
	})
	return e
}

func add(t *testing.T, e *Engine, user string, elo int, joined time.Time) {
	t.Helper()
	require.NoError(t, e.AddPlayer(domain.MatchCandidate{UserID: user, Elo: elo, JoinedAt: joined}))
}

func TestMatchGroupsByEloProximity(t *testing.T) {
	e := newTestEngine(t, testConfig(), t0.Add(time.Second))
	add(t, e, "a", 1000, t0)
	add(t, e, "b", 1030, t0)
	add(t, e, "c", 2000, t0)

	groups := e.Match()
	require.Len(t, groups, 1)
	assert.Equal(t, "match-1", groups[0].MatchID)
	assert.False(t, groups[0].Forced)
	assert.InDelta(t, 1015, groups[0].AvgElo, 0.001)

	ids := []string{groups[0].Players[0].UserID, groups[0].Players[1].UserID}
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestMatchConservation(t *testing.T) {
	e := newTestEngine(t, testConfig(), t0.Add(time.Second))
	add(t, e, "a", 1000, t0)
	add(t, e, "b", 1010, t0)
	add(t, e, "c", 3000, t0)

	groups := e.Match()
	require.Len(t, groups, 1)

	// Matched candidates are gone, unmatched ones are still waiting.
	queue := e.Queue()
	require.Len(t, queue, 1)
	assert.Equal(t, "c", queue[0].UserID)
}

func TestMatchDeterministic(t *testing.T) {
	run := func() []domain.MatchGroup {
		e := newTestEngine(t, testConfig(), t0.Add(3*time.Second))
		add(t, e, "a", 1200, t0)
		add(t, e, "b", 1190, t0)
		add(t, e, "c", 1210, t0)
		add(t, e, "d", 1500, t0)
		add(t, e, "e", 1505, t0)
		return e.Match()
	}

	first := run()
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, run())
	}
}

func TestNoMatchForSingleCandidate(t *testing.T) {
	// A lone candidate is never matched, even past the force threshold:
	// forcing requires at least two members.
	e := newTestEngine(t, testConfig(), t0.Add(16*time.Second))
	add(t, e, "a", 1000, t0)

	assert.Nil(t, e.Match())
	assert.Len(t, e.Queue(), 1)
}

func TestToleranceExpandsWithWait(t *testing.T) {
	cfg := testConfig()
	cfg.ExpandRatePerSec = 2 // tolerance at 16s: 50 + 32 = 82

	// 80 points apart: outside the base range, inside the expanded one.
	e := newTestEngine(t, cfg, t0.Add(16*time.Second))
	add(t, e, "a", 1000, t0)
	add(t, e, "b", 1080, t0.Add(time.Second))

	groups := e.Match()
	require.Len(t, groups, 1)
	assert.False(t, groups[0].Forced, "size met minGroupSize, so not forced")

	// Same pair matched early is out of tolerance.
	e2 := newTestEngine(t, cfg, t0.Add(2*time.Second))
	add(t, e2, "a", 1000, t0)
	add(t, e2, "b", 1080, t0.Add(time.Second))
	assert.Nil(t, e2.Match())
}

func TestForcedMatchBelowMinSize(t *testing.T) {
	cfg := testConfig()
	cfg.MinGroupSize = 3

	e := newTestEngine(t, cfg, t0.Add(20*time.Second))
	add(t, e, "a", 1000, t0)
	add(t, e, "b", 1020, t0.Add(time.Second))

	groups := e.Match()
	require.Len(t, groups, 1)
	assert.True(t, groups[0].Forced)
	assert.Len(t, groups[0].Players, 2)
}

func TestNoForcedMatchBeforeThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.MinGroupSize = 3

	e := newTestEngine(t, cfg, t0.Add(5*time.Second))
	add(t, e, "a", 1000, t0)
	add(t, e, "b", 1020, t0)

	assert.Nil(t, e.Match())
	assert.Len(t, e.Queue(), 2)
}

func TestLongWaitersSortFirst(t *testing.T) {
	cfg := testConfig()
	cfg.MaxGroupSize = 2

	// "old" has waited far past the fairness window, so it anchors first
	// even though "low1"/"low2" have lower elo.
	e := newTestEngine(t, cfg, t0.Add(30*time.Second))
	add(t, e, "low1", 900, t0.Add(29*time.Second))
	add(t, e, "low2", 905, t0.Add(29*time.Second))
	add(t, e, "old", 1000, t0)
	add(t, e, "near-old", 1010, t0)

	groups := e.Match()
	require.Len(t, groups, 2)
	first := []string{groups[0].Players[0].UserID, groups[0].Players[1].UserID}
	assert.Contains(t, first, "old")
}

func TestGroupRespectsMaxSize(t *testing.T) {
	cfg := testConfig()
	cfg.MaxGroupSize = 3

	e := newTestEngine(t, cfg, t0.Add(time.Second))
	for i := 0; i < 5; i++ {
		add(t, e, fmt.Sprintf("u%d", i), 1000+i, t0)
	}

	groups := e.Match()
	require.NotEmpty(t, groups)
	for _, g := range groups {
		assert.LessOrEqual(t, len(g.Players), 3)
	}
}

func TestBoundedUnfairness(t *testing.T) {
	cfg := testConfig()
	e := newTestEngine(t, cfg, t0.Add(4*time.Second))
	elos := []int{1000, 1020, 1035, 1050, 1200, 1215}
	for i, elo := range elos {
		add(t, e, fmt.Sprintf("u%d", i), elo, t0)
	}

	tol := cfg.BaseEloRange + 4*cfg.ExpandRatePerSec
	for _, g := range e.Match() {
		if g.Forced {
			continue
		}
		// Each member joined within tolerance of the then-current average.
		sum := float64(g.Players[0].Elo)
		for i := 1; i < len(g.Players); i++ {
			avg := sum / float64(i)
			diff := float64(g.Players[i].Elo) - avg
			if diff < 0 {
				diff = -diff
			}
			assert.LessOrEqual(t, diff, tol)
			sum += float64(g.Players[i].Elo)
		}
	}
}

func TestAddDuplicateRejected(t *testing.T) {
	e := newTestEngine(t, testConfig(), t0)
	add(t, e, "a", 1000, t0)
	err := e.AddPlayer(domain.MatchCandidate{UserID: "a", Elo: 1100, JoinedAt: t0})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestRemovePlayer(t *testing.T) {
	e := newTestEngine(t, testConfig(), t0)
	add(t, e, "a", 1000, t0)
	assert.True(t, e.RemovePlayer("a"))
	assert.False(t, e.RemovePlayer("a"))
	assert.Empty(t, e.Queue())
}
