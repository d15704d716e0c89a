// Package nats implements the durable job queue on NATS JetStream. Jobs are
// published with deterministic message IDs so duplicate enqueue attempts
// collapse inside the stream's dedup window, and consumed through durable
// explicit-ack consumers whose BackOff list provides the retry policy.
package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	// SettlementStream holds contract-call jobs (create market, propose
	// outcome).
	SettlementStream = "ARENA_SETTLEMENT"
	// EventStream holds decoded on-chain events awaiting read-model apply.
	EventStream = "ARENA_EVENTS"

	subjectSettlementCreate  = "arena.settle.create"
	subjectSettlementPropose = "arena.settle.propose"
	subjectEventMarket       = "arena.events.market"
	subjectEventTrade        = "arena.events.trade"

	// dedupWindow bounds how long a job ID suppresses re-publishes.
	dedupWindow = 2 * time.Hour
)

// ClientConfig holds NATS connection parameters.
type ClientConfig struct {
	URL  string
	Name string
}

// Client wraps the NATS connection and its JetStream context.
type Client struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// New connects to NATS and initializes JetStream.
func New(cfg ClientConfig) (*Client, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats: connect %s: %w", cfg.URL, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats: jetstream: %w", err)
	}

	return &Client{nc: nc, js: js}, nil
}

// JetStream returns the JetStream context.
func (c *Client) JetStream() jetstream.JetStream {
	return c.js
}

// Close drains and closes the connection.
func (c *Client) Close() {
	_ = c.nc.Drain()
}

// EnsureStreams creates the job streams if they do not exist.
func (c *Client) EnsureStreams(ctx context.Context) error {
	streams := []jetstream.StreamConfig{
		{
			Name:       SettlementStream,
			Subjects:   []string{"arena.settle.>"},
			Storage:    jetstream.FileStorage,
			Retention:  jetstream.WorkQueuePolicy,
			Duplicates: dedupWindow,
			Replicas:   1,
		},
		{
			Name:       EventStream,
			Subjects:   []string{"arena.events.>"},
			Storage:    jetstream.FileStorage,
			Retention:  jetstream.WorkQueuePolicy,
			Duplicates: dedupWindow,
			Replicas:   1,
		},
	}

	for _, sc := range streams {
		if _, err := c.js.CreateOrUpdateStream(ctx, sc); err != nil {
			return fmt.Errorf("nats: ensure stream %s: %w", sc.Name, err)
		}
	}
	return nil
}
