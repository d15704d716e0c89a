package domain

import (
	"context"
	"time"
)

// BattleEventType names an outward lifecycle notification.
type BattleEventType string

const (
	EventBattleCreated   BattleEventType = "battle.created"
	EventBattleStarted   BattleEventType = "battle.started"
	EventBattleFinished  BattleEventType = "battle.finished"
	EventBattleCancelled BattleEventType = "battle.cancelled"
)

// BattleEvent is the notification emitted after each committed lifecycle
// transition, consumed by the presentation layer.
type BattleEvent struct {
	Type     BattleEventType `json:"type"`
	BattleID string          `json:"battleId"`
	MatchID  string          `json:"matchId,omitempty"`
	Status   BattleStatus    `json:"status"`
	Players  []string        `json:"players,omitempty"`
	At       time.Time       `json:"at"`
}

// EventPublisher broadcasts lifecycle events outward. Publishing is
// best-effort: failures are the publisher's to log, never the lifecycle's to
// propagate.
type EventPublisher interface {
	Publish(ctx context.Context, ev BattleEvent)
}
