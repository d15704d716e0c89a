// Package battle implements the battle lifecycle: the MATCHING -> RUNNING ->
// FINISHED state machine (with MATCHING -> CANCELLED as the only other
// terminal edge), its transactional side effects, and the on-chain settlement
// jobs it enqueues.
package battle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/arenaclash/arenad/internal/chain"
	"github.com/arenaclash/arenad/internal/domain"
)

// Config holds the prediction-market parameters forwarded to market-creation
// jobs.
type Config struct {
	BScore float64
	FeeBps int
}

// Lifecycle orchestrates battle transitions. Every transition runs as one
// conditional-update transaction in the store: under concurrent signals
// exactly one caller wins and the rest observe a nil battle, which is logged
// at warn and treated as "already transitioned", never as an error.
type Lifecycle struct {
	store  domain.BattleStore
	queue  domain.JobEnqueuer
	events domain.EventPublisher
	cfg    Config

	now   func() time.Time
	newID func() string

	logger *slog.Logger
}

// NewLifecycle creates a Lifecycle. events may be nil when no presentation
// layer is attached.
func NewLifecycle(store domain.BattleStore, queue domain.JobEnqueuer, events domain.EventPublisher, cfg Config, logger *slog.Logger) *Lifecycle {
	return &Lifecycle{
		store:  store,
		queue:  queue,
		events: events,
		cfg:    cfg,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: logger.With(slog.String("component", "battle_lifecycle")),
	}
}

// SetClock overrides the time source. Test hook.
func (l *Lifecycle) SetClock(now func() time.Time) { l.now = now }

// SetIDFunc overrides battle ID generation. Test hook.
func (l *Lifecycle) SetIDFunc(fn func() string) { l.newID = fn }

// HandleMatchFound is the inbound edge from the matchmaking scheduler.
func (l *Lifecycle) HandleMatchFound(ctx context.Context, group domain.MatchGroup) error {
	_, err := l.Create(ctx, group)
	return err
}

// Create transactionally inserts the battle in MATCHING together with one
// player row per group member; slot is the 1-based index in group order and
// the elo snapshot is the elo at match time. After commit a market-creation
// job is enqueued best-effort: an enqueue failure is logged, not returned,
// because the battle exists and can still be settled by a manual retry.
func (l *Lifecycle) Create(ctx context.Context, group domain.MatchGroup) (*domain.Battle, error) {
	battle := domain.Battle{
		ID:         l.newID(),
		Status:     domain.BattleMatching,
		MaxPlayers: len(group.Players),
		Metadata: domain.BattleMetadata{
			MatchID:  group.MatchID,
			MatchKey: chain.MatchKey(group.MatchID).Hex(),
			AvgElo:   group.AvgElo,
			Forced:   group.Forced,
		},
		CreatedAt: l.now(),
	}

	players := make([]domain.BattlePlayer, 0, len(group.Players))
	for i, c := range group.Players {
		players = append(players, domain.BattlePlayer{
			BattleID:    battle.ID,
			UserID:      c.UserID,
			Slot:        i + 1,
			Status:      domain.PlayerWaiting,
			EloSnapshot: c.Elo,
		})
	}

	created, err := l.store.CreateWithPlayers(ctx, battle, players)
	if err != nil {
		return nil, fmt.Errorf("battle: create %s: %w", group.MatchID, err)
	}

	if err := l.queue.EnqueueCreateMarket(ctx, domain.CreateMarketJob{
		MatchID:       group.MatchID,
		BattleID:      created.ID,
		OutcomesCount: len(group.Players),
		BScore:        l.cfg.BScore,
		FeeBps:        l.cfg.FeeBps,
	}); err != nil {
		l.logger.Error("market creation enqueue failed, battle remains settleable manually",
			slog.String("battle_id", created.ID),
			slog.String("match_id", group.MatchID),
			slog.String("error", err.Error()),
		)
	}

	l.publish(ctx, domain.EventBattleCreated, created, group.Players)

	l.logger.Info("battle created",
		slog.String("battle_id", created.ID),
		slog.String("match_id", group.MatchID),
		slog.Int("players", len(players)),
		slog.Bool("forced", group.Forced),
	)
	return &created, nil
}

// MarkReady flips one player's readiness flag ahead of start.
func (l *Lifecycle) MarkReady(ctx context.Context, battleID, userID string) error {
	if err := l.store.SetPlayerStatus(ctx, battleID, userID, domain.PlayerReady); err != nil {
		return fmt.Errorf("battle: mark ready %s/%s: %w", battleID, userID, err)
	}
	return nil
}

// Start transitions MATCHING -> RUNNING: stamps startedAt, marks the players
// PLAYING, and locks each player's user row to IN_BATTLE, all in one
// transaction. Requires every player READY or already PLAYING. Duplicate
// start signals observe a nil result.
func (l *Lifecycle) Start(ctx context.Context, battleID string) (*domain.Battle, error) {
	players, err := l.store.ListPlayers(ctx, battleID)
	if err != nil {
		return nil, fmt.Errorf("battle: start %s: list players: %w", battleID, err)
	}
	for _, p := range players {
		if p.Status != domain.PlayerReady && p.Status != domain.PlayerPlaying {
			l.logger.Warn("start refused, player not ready",
				slog.String("battle_id", battleID),
				slog.String("user_id", p.UserID),
				slog.String("status", string(p.Status)),
			)
			return nil, nil
		}
	}

	started, err := l.store.Start(ctx, battleID, l.now())
	if err != nil {
		return nil, fmt.Errorf("battle: start %s: %w", battleID, err)
	}
	if started == nil {
		l.logger.Warn("start skipped, battle not in MATCHING", slog.String("battle_id", battleID))
		return nil, nil
	}

	l.publish(ctx, domain.EventBattleStarted, *started, nil)

	l.logger.Info("battle started", slog.String("battle_id", battleID))
	return started, nil
}

// Finish transitions RUNNING -> FINISHED in one transaction: stamps endedAt,
// ranks the players on their ROI metrics, applies elo deltas (to both elo and
// rank points), unlocks all players back to ACTIVE, and persists the result
// with its metrics. A duplicate finish observes status != RUNNING and is a
// nil no-op, so elo deltas are never applied twice.
//
// After commit, the outcome-proposal job is enqueued fire-and-forget: the
// transition never fails or blocks on it.
func (l *Lifecycle) Finish(ctx context.Context, battleID string, outcome domain.BattleOutcome) (*domain.Battle, error) {
	players, err := l.store.ListPlayers(ctx, battleID)
	if err != nil {
		return nil, fmt.Errorf("battle: finish %s: list players: %w", battleID, err)
	}
	if len(players) == 0 {
		l.logger.Warn("finish skipped, battle unknown", slog.String("battle_id", battleID))
		return nil, nil
	}

	ranks := rankPlayers(players, outcome.Metrics)
	winner := ranks[0]
	endedAt := l.now()

	fin := domain.FinishUpdate{
		EndedAt: endedAt,
		Ranks:   ranks,
		Result: domain.BattleResult{
			BattleID:       battleID,
			WinnerUserID:   winner.UserID,
			WinningSlot:    winner.Slot,
			OutcomeIndex:   winner.Slot - 1,
			DataHash:       outcome.DataHash,
			CodeCommitHash: outcome.CodeCommitHash,
			FinishedAt:     endedAt,
		},
		Metrics: outcome.Metrics,
	}

	finished, err := l.store.Finish(ctx, battleID, fin)
	if err != nil {
		return nil, fmt.Errorf("battle: finish %s: %w", battleID, err)
	}
	if finished == nil {
		l.logger.Warn("finish skipped, battle not in RUNNING", slog.String("battle_id", battleID))
		return nil, nil
	}

	go l.proposeOutcome(*finished, fin.Result)

	l.publish(ctx, domain.EventBattleFinished, *finished, nil)

	l.logger.Info("battle finished",
		slog.String("battle_id", battleID),
		slog.String("winner", winner.UserID),
		slog.Int("outcome_index", fin.Result.OutcomeIndex),
	)
	return finished, nil
}

// Cancel transitions MATCHING -> CANCELLED and unlocks all players. No
// on-chain interaction.
func (l *Lifecycle) Cancel(ctx context.Context, battleID string) (*domain.Battle, error) {
	cancelled, err := l.store.Cancel(ctx, battleID)
	if err != nil {
		return nil, fmt.Errorf("battle: cancel %s: %w", battleID, err)
	}
	if cancelled == nil {
		l.logger.Warn("cancel skipped, battle not in MATCHING", slog.String("battle_id", battleID))
		return nil, nil
	}

	l.publish(ctx, domain.EventBattleCancelled, *cancelled, nil)

	l.logger.Info("battle cancelled", slog.String("battle_id", battleID))
	return cancelled, nil
}

// proposeOutcome enqueues the on-chain outcome proposal after the finish
// transaction has committed. It runs detached from the caller's context;
// errors are logged only.
func (l *Lifecycle) proposeOutcome(battle domain.Battle, result domain.BattleResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := l.queue.EnqueueProposeOutcome(ctx, domain.ProposeOutcomeJob{
		MatchID:        battle.Metadata.MatchID,
		BattleID:       battle.ID,
		Outcome:        result.OutcomeIndex,
		DataHash:       result.DataHash,
		CodeCommitHash: result.CodeCommitHash,
	}); err != nil {
		l.logger.Error("outcome proposal enqueue failed",
			slog.String("battle_id", battle.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (l *Lifecycle) publish(ctx context.Context, typ domain.BattleEventType, b domain.Battle, players []domain.MatchCandidate) {
	if l.events == nil {
		return
	}
	ev := domain.BattleEvent{
		Type:     typ,
		BattleID: b.ID,
		MatchID:  b.Metadata.MatchID,
		Status:   b.Status,
		At:       l.now(),
	}
	for _, p := range players {
		ev.Players = append(ev.Players, p.UserID)
	}
	l.events.Publish(ctx, ev)
}
