package battle

import (
	"sort"

	"github.com/arenaclash/arenad/internal/domain"
	"github.com/arenaclash/arenad/internal/elo"
)

// rankPlayers orders players by their ROI metric, best first, and computes
// the elo delta each one earns. Metrics of other kinds are ignored for
// ranking. Equal ROI values tie-break by slot ascending; players with no ROI
// metric rank after everyone who has one, also by slot.
func rankPlayers(players []domain.BattlePlayer, metrics []domain.BattleMetric) []domain.PlayerRank {
	roi := make(map[int]float64, len(metrics))
	hasROI := make(map[int]bool, len(metrics))
	for _, m := range metrics {
		if m.Kind != domain.MetricROI {
			continue
		}
		roi[m.Slot] = m.Value
		hasROI[m.Slot] = true
	}

	ordered := make([]domain.BattlePlayer, len(players))
	copy(ordered, players)
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if hasROI[a.Slot] != hasROI[b.Slot] {
			return hasROI[a.Slot]
		}
		if roi[a.Slot] != roi[b.Slot] {
			return roi[a.Slot] > roi[b.Slot]
		}
		return a.Slot < b.Slot
	})

	n := len(ordered)
	ranks := make([]domain.PlayerRank, 0, n)
	for i, p := range ordered {
		ranks = append(ranks, domain.PlayerRank{
			UserID:   p.UserID,
			Slot:     p.Slot,
			Rank:     i + 1,
			EloDelta: eloDelta(p, i+1, players),
		})
	}
	return ranks
}

// eloDelta computes one player's rating change against the average snapshot
// rating of everyone else in the battle.
func eloDelta(p domain.BattlePlayer, rank int, players []domain.BattlePlayer) int {
	n := len(players)
	if n < 2 {
		return 0
	}
	var oppSum float64
	for _, o := range players {
		if o.UserID == p.UserID {
			continue
		}
		oppSum += float64(o.EloSnapshot)
	}
	oppAvg := oppSum / float64(n-1)
	return elo.Delta(float64(p.EloSnapshot), oppAvg, elo.ActualScore(rank, n))
}
