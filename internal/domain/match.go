package domain

import "time"

// MatchCandidate is a player waiting in the matchmaking queue. Candidates are
// ephemeral: they live only in the engine's in-memory queue and are discarded
// once matched or removed.
type MatchCandidate struct {
	UserID   string
	Elo      int
	JoinedAt time.Time
}

// MatchGroup is the product of one matching pass: a set of candidates grouped
// by elo proximity. Forced marks groups accepted below the minimum size
// because the anchor waited past the force threshold. Groups are consumed
// immediately by the battle lifecycle and never persisted.
type MatchGroup struct {
	MatchID   string
	Players   []MatchCandidate
	AvgElo    float64
	CreatedAt time.Time
	Forced    bool
}
