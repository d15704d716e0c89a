package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arenaclash/arenad/internal/domain"
)

// Enqueuer implements domain.JobEnqueuer. Every publish carries the job's
// deterministic ID as the JetStream message ID, so a duplicate enqueue inside
// the dedup window is absorbed by the stream instead of producing a second
// execution.
type Enqueuer struct {
	js jetstream.JetStream
}

// NewEnqueuer creates an Enqueuer on the given client.
func NewEnqueuer(c *Client) *Enqueuer {
	return &Enqueuer{js: c.JetStream()}
}

func (e *Enqueuer) publish(ctx context.Context, subject, id string, job any) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("nats: marshal job %s: %w", id, err)
	}
	if _, err := e.js.Publish(ctx, subject, data, jetstream.WithMsgID(id)); err != nil {
		return fmt.Errorf("nats: publish %s: %w", id, err)
	}
	return nil
}

// EnqueueCreateMarket publishes a market-creation job keyed create:{matchId}.
func (e *Enqueuer) EnqueueCreateMarket(ctx context.Context, job domain.CreateMarketJob) error {
	return e.publish(ctx, subjectSettlementCreate+"."+job.MatchID, job.ID(), job)
}

// EnqueueProposeOutcome publishes an outcome-proposal job keyed
// propose:{matchId}.
func (e *Enqueuer) EnqueueProposeOutcome(ctx context.Context, job domain.ProposeOutcomeJob) error {
	return e.publish(ctx, subjectSettlementPropose+"."+job.MatchID, job.ID(), job)
}

// EnqueueMarketCreated publishes a decoded MarketCreated event keyed by
// (txHash, logIndex).
func (e *Enqueuer) EnqueueMarketCreated(ctx context.Context, job domain.MarketCreatedJob) error {
	subject := fmt.Sprintf("%s.%s.%d", subjectEventMarket, job.TxHash, job.LogIndex)
	return e.publish(ctx, subject, job.ID(), job)
}

// EnqueueTrade publishes a decoded Trade event keyed by (txHash, logIndex).
func (e *Enqueuer) EnqueueTrade(ctx context.Context, job domain.TradeJob) error {
	subject := fmt.Sprintf("%s.%s.%d", subjectEventTrade, job.TxHash, job.LogIndex)
	return e.publish(ctx, subject, job.ID(), job)
}
