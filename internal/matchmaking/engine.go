// Package matchmaking implements the in-memory matchmaking queue and the
// elo-proximity grouping algorithm, plus the tick scheduler that drives it.
package matchmaking

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arenaclash/arenad/internal/domain"
)

// Config holds the matching algorithm parameters.
type Config struct {
	// BaseEloRange is the starting elo tolerance around a group's average.
	BaseEloRange float64
	// MaxEloRange caps the tolerance however long a candidate has waited.
	MaxEloRange float64
	// ExpandRatePerSec widens the tolerance per second of anchor wait time.
	ExpandRatePerSec float64
	MinGroupSize     int
	MaxGroupSize     int
	// FairnessWindow is the wait-time difference beyond which queue order is
	// decided by wait time alone instead of elo.
	FairnessWindow time.Duration
	// ForceMatchAfter is the anchor wait beyond which an undersized group of
	// at least two players is accepted anyway.
	ForceMatchAfter time.Duration
}

// Engine is the in-memory matchmaking queue. A process restart loses the
// queue; clients are expected to re-enqueue.
type Engine struct {
	cfg Config

	mu    sync.Mutex
	queue []domain.MatchCandidate

	// Injectable for deterministic tests. Match is otherwise fully
	// deterministic for a given queue snapshot and config.
	now        func() time.Time
	newMatchID func() string

	logger *slog.Logger
}

// NewEngine creates an Engine with the given config.
func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:        cfg,
		now:        time.Now,
		newMatchID: uuid.NewString,
		logger:     logger.With(slog.String("component", "matchmaking_engine")),
	}
}

// SetClock overrides the engine's time source. Test hook.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// SetMatchIDFunc overrides match ID generation. Test hook.
func (e *Engine) SetMatchIDFunc(fn func() string) { e.newMatchID = fn }

// AddPlayer enqueues a candidate. A user already waiting is rejected with
// ErrAlreadyExists.
func (e *Engine) AddPlayer(c domain.MatchCandidate) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, q := range e.queue {
		if q.UserID == c.UserID {
			return domain.ErrAlreadyExists
		}
	}
	e.queue = append(e.queue, c)
	e.logger.Debug("candidate enqueued",
		slog.String("user_id", c.UserID),
		slog.Int("elo", c.Elo),
		slog.Int("queue_len", len(e.queue)),
	)
	return nil
}

// RemovePlayer drops a waiting candidate. Returns false if the user was not
// in the queue.
func (e *Engine) RemovePlayer(userID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, q := range e.queue {
		if q.UserID == userID {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			return true
		}
	}
	return false
}

// Queue returns a snapshot of the waiting candidates.
func (e *Engine) Queue() []domain.MatchCandidate {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]domain.MatchCandidate, len(e.queue))
	copy(out, e.queue)
	return out
}

// Match runs one matching pass and returns the accepted groups. Members of
// accepted groups are removed from the queue; everyone else stays for the
// next tick.
//
// The pass sorts candidates by (wait-time bucket, elo), then scans left to
// right treating each unmatched candidate as an anchor. The anchor's elo
// tolerance widens with its wait time, and subsequent candidates join while
// they stay within tolerance of the group's evolving average elo.
func (e *Engine) Match() []domain.MatchGroup {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if len(e.queue) < 2 {
		return nil
	}

	sorted := make([]domain.MatchCandidate, len(e.queue))
	copy(sorted, e.queue)
	sortCandidates(sorted, now, e.cfg.FairnessWindow)

	matched := make(map[string]bool, len(sorted))
	var groups []domain.MatchGroup

	for i, anchor := range sorted {
		if matched[anchor.UserID] {
			continue
		}

		wait := now.Sub(anchor.JoinedAt)
		tol := e.cfg.BaseEloRange + wait.Seconds()*e.cfg.ExpandRatePerSec
		if tol > e.cfg.MaxEloRange {
			tol = e.cfg.MaxEloRange
		}

		group := []domain.MatchCandidate{anchor}
		sum := float64(anchor.Elo)

		for _, cand := range sorted[i+1:] {
			if len(group) >= e.cfg.MaxGroupSize {
				break
			}
			if matched[cand.UserID] {
				continue
			}
			avg := sum / float64(len(group))
			diff := float64(cand.Elo) - avg
			if diff < 0 {
				diff = -diff
			}
			if diff > tol {
				continue
			}
			group = append(group, cand)
			sum += float64(cand.Elo)
		}

		forced := false
		if len(group) < e.cfg.MinGroupSize {
			if len(group) < 2 || wait < e.cfg.ForceMatchAfter {
				continue
			}
			forced = true
		}

		for _, m := range group {
			matched[m.UserID] = true
		}
		groups = append(groups, domain.MatchGroup{
			MatchID:   e.newMatchID(),
			Players:   group,
			AvgElo:    sum / float64(len(group)),
			CreatedAt: now,
			Forced:    forced,
		})
	}

	if len(groups) == 0 {
		return nil
	}

	remaining := e.queue[:0]
	for _, q := range e.queue {
		if !matched[q.UserID] {
			remaining = append(remaining, q)
		}
	}
	e.queue = remaining

	for _, g := range groups {
		e.logger.Info("match found",
			slog.String("match_id", g.MatchID),
			slog.Int("players", len(g.Players)),
			slog.Float64("avg_elo", g.AvgElo),
			slog.Bool("forced", g.Forced),
		)
	}
	return groups
}

// sortCandidates orders the snapshot for scanning: when two candidates' wait
// times differ by more than the fairness window the longer waiter comes
// first, otherwise lower elo comes first. The sort is stable so equal keys
// keep enqueue order, keeping Match deterministic.
func sortCandidates(cs []domain.MatchCandidate, now time.Time, window time.Duration) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		wa := now.Sub(a.JoinedAt)
		wb := now.Sub(b.JoinedAt)
		diff := wa - wb
		if diff < 0 {
			diff = -diff
		}
		if diff > window {
			return wa > wb
		}
		return a.Elo < b.Elo
	})
}
