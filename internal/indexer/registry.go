// Package indexer implements the chain-log ingestion loop: a websocket
// new-head fast path plus a slow-poll fallback, both funneling into a single
// non-overlapping pass that walks confirmed blocks in chunks, dispatches logs
// through a topic0-keyed handler registry, and checkpoints per chunk.
package indexer

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// LogContext is one matched log plus the block- and transaction-level data
// handlers may need. TxInput is lazy: only handlers that discriminate on the
// calling function's selector pay for the transaction lookup.
type LogContext struct {
	Log       types.Log
	Timestamp time.Time
	TxInput   func(ctx context.Context) ([]byte, error)
}

// HandlerFunc decodes and dispatches one log. Returning an error wrapping
// domain.ErrBadLog marks the log malformed: it is logged and skipped without
// aborting the pass. Any other error aborts the pass before the chunk
// checkpoints, so the chunk is retried on the next trigger.
type HandlerFunc func(ctx context.Context, lc LogContext) error

// Handler is one registered event type. Static handlers pin a single
// well-known contract address; dynamic handlers watch the open set of market
// addresses discovered at runtime through the market cache.
type Handler struct {
	Name    string
	Address *common.Address
	Dynamic bool
	Handle  HandlerFunc
}

// Registry maps topic0 event-signature hashes to handlers. Logs with an
// unregistered topic0 are ignored, which keeps the indexer forward-compatible
// with event types it does not yet know.
type Registry struct {
	handlers map[common.Hash]Handler
	order    []common.Hash
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[common.Hash]Handler)}
}

// Register adds a handler for the given topic0, replacing any previous one.
func (r *Registry) Register(topic common.Hash, h Handler) {
	if _, exists := r.handlers[topic]; !exists {
		r.order = append(r.order, topic)
	}
	r.handlers[topic] = h
}

// Lookup returns the handler for a topic0.
func (r *Registry) Lookup(topic common.Hash) (Handler, bool) {
	h, ok := r.handlers[topic]
	return h, ok
}

// Topics returns every registered topic0 in registration order.
func (r *Registry) Topics() []common.Hash {
	out := make([]common.Hash, len(r.order))
	copy(out, r.order)
	return out
}

// StaticAddresses returns the fixed contract addresses of static handlers.
func (r *Registry) StaticAddresses() []common.Address {
	var out []common.Address
	for _, topic := range r.order {
		if h := r.handlers[topic]; h.Address != nil {
			out = append(out, *h.Address)
		}
	}
	return out
}

// HasDynamic reports whether any handler watches the dynamic address set.
func (r *Registry) HasDynamic() bool {
	for _, h := range r.handlers {
		if h.Dynamic {
			return true
		}
	}
	return false
}
