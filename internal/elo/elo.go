// Package elo implements the rating math used to settle battles: classic Elo
// expected scores and rating deltas. All functions are pure.
package elo

import "math"

// DefaultK is the K-factor applied to every rating update.
const DefaultK = 32

// ExpectedScore returns the probability, under the Elo model, that a player
// rated rating beats an opponent rated opponent. The result is in (0, 1).
func ExpectedScore(rating, opponent float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (opponent-rating)/400.0))
}

// Delta computes the rounded rating change for a player given the actual
// result (1 win, 0.5 draw, 0 loss) against an opponent of the given average
// rating.
func Delta(rating, opponentAvg, actual float64) int {
	return DeltaK(rating, opponentAvg, actual, DefaultK)
}

// DeltaK is Delta with an explicit K-factor.
func DeltaK(rating, opponentAvg, actual float64, k float64) int {
	return int(math.Round(k * (actual - ExpectedScore(rating, opponentAvg))))
}

// ActualScore maps a 1-based rank among n players onto the [0, 1] result
// scale: rank 1 scores 1, rank n scores 0, intermediate ranks interpolate
// linearly. With n < 2 the score is 0.5 (nothing was decided).
func ActualScore(rank, n int) float64 {
	if n < 2 {
		return 0.5
	}
	return float64(n-rank) / float64(n-1)
}
