package matchmaking

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/arenaclash/arenad/internal/domain"
)

// GroupHandler consumes one accepted match group. The scheduler calls it once
// per group, in emission order; an error is logged and does not stop the tick
// loop or fail the remaining groups.
type GroupHandler func(ctx context.Context, group domain.MatchGroup) error

// Scheduler drives the engine on a fixed tick. An in-flight guard keeps ticks
// from overlapping: a tick arriving while one is still running is dropped.
type Scheduler struct {
	engine   *Engine
	handler  GroupHandler
	interval time.Duration
	inFlight atomic.Bool
	logger   *slog.Logger
}

// NewScheduler creates a Scheduler ticking at the given interval.
func NewScheduler(engine *Engine, handler GroupHandler, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		engine:   engine,
		handler:  handler,
		interval: interval,
		logger:   logger.With(slog.String("component", "matchmaking_scheduler")),
	}
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("matchmaking scheduler starting", slog.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("matchmaking scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one matching pass unless one is already in flight.
func (s *Scheduler) Tick(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer s.inFlight.Store(false)

	for _, group := range s.engine.Match() {
		if err := s.handler(ctx, group); err != nil {
			s.logger.Error("match group handling failed",
				slog.String("match_id", group.MatchID),
				slog.String("error", err.Error()),
			)
		}
	}
}
