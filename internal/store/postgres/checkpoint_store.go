package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CheckpointStore implements domain.CheckpointStore: one last-block row per
// chain.
type CheckpointStore struct {
	pool *pgxpool.Pool
}

// NewCheckpointStore creates a CheckpointStore backed by the given pool.
func NewCheckpointStore(pool *pgxpool.Pool) *CheckpointStore {
	return &CheckpointStore{pool: pool}
}

// Get returns the chain's checkpoint and whether one exists.
func (s *CheckpointStore) Get(ctx context.Context, chainID int64) (int64, bool, error) {
	var block int64
	err := s.pool.QueryRow(ctx,
		`SELECT last_block FROM indexer_checkpoints WHERE chain_id = $1`,
		chainID,
	).Scan(&block)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("postgres: get checkpoint chain %d: %w", chainID, err)
	}
	return block, true, nil
}

// Set upserts the chain's checkpoint. GREATEST keeps the checkpoint from
// regressing if a stale pass races a newer one.
func (s *CheckpointStore) Set(ctx context.Context, chainID, block int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO indexer_checkpoints (chain_id, last_block, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (chain_id) DO UPDATE
		SET last_block = GREATEST(indexer_checkpoints.last_block, EXCLUDED.last_block),
		    updated_at = NOW()`,
		chainID, block,
	)
	if err != nil {
		return fmt.Errorf("postgres: set checkpoint chain %d: %w", chainID, err)
	}
	return nil
}
