package elo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpectedScoreSymmetry(t *testing.T) {
	a := ExpectedScore(1200, 1000)
	b := ExpectedScore(1000, 1200)
	assert.InDelta(t, 1.0, a+b, 1e-9)
	assert.Greater(t, a, 0.5)
}

func TestExpectedScoreEqualRatings(t *testing.T) {
	assert.InDelta(t, 0.5, ExpectedScore(1500, 1500), 1e-9)
}

func TestDeltaZeroSumForEqualRatings(t *testing.T) {
	win := Delta(1000, 1000, 1)
	loss := Delta(1000, 1000, 0)
	assert.Equal(t, 16, win)
	assert.Equal(t, -16, loss)
}

func TestDeltaUpsetPaysMore(t *testing.T) {
	underdog := Delta(1000, 1400, 1)
	favorite := Delta(1400, 1000, 1)
	assert.Greater(t, underdog, favorite)
}

func TestActualScore(t *testing.T) {
	assert.Equal(t, 1.0, ActualScore(1, 3))
	assert.Equal(t, 0.5, ActualScore(2, 3))
	assert.Equal(t, 0.0, ActualScore(3, 3))
	assert.Equal(t, 0.5, ActualScore(1, 1))
}
