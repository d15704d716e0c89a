package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arenaclash/arenad/internal/domain"
)

// PredictionStore implements domain.PredictionStore: the append-only trade
// ledger and the per-outcome aggregates derived from it.
type PredictionStore struct {
	pool *pgxpool.Pool
}

// NewPredictionStore creates a PredictionStore backed by the given pool.
func NewPredictionStore(pool *pgxpool.Pool) *PredictionStore {
	return &PredictionStore{pool: pool}
}

// ApplyTrade inserts the trade and folds it into the outcome aggregate in one
// transaction. The (tx_hash, log_index) unique constraint makes replays
// no-ops: when the insert conflicts, the aggregate is left untouched too.
func (s *PredictionStore) ApplyTrade(ctx context.Context, t domain.PredictionTrade) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin apply trade: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO prediction_trades
			(battle_id, market_address, trader, outcome, side,
			 shares, cost, price, tx_hash, log_index, block_number, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (tx_hash, log_index) DO NOTHING
		RETURNING id`,
		t.BattleID, t.MarketAddress, t.Trader, t.Outcome, t.Side,
		t.Shares, t.Cost, t.Price, t.TxHash, t.LogIndex, t.BlockNumber, t.Timestamp,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		// Duplicate delivery of the same log.
		return nil
	}
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s:%d: %w", t.TxHash, t.LogIndex, err)
	}

	// Sells reduce the outstanding share count.
	shares := t.Shares
	if t.Side == domain.TradeSell {
		shares = -shares
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO prediction_choices
			(battle_id, outcome, volume, shares, trade_count, latest_price, updated_at)
		VALUES ($1, $2, $3, $4, 1, $5, $6)
		ON CONFLICT (battle_id, outcome) DO UPDATE
		SET volume       = prediction_choices.volume + EXCLUDED.volume,
		    shares       = prediction_choices.shares + EXCLUDED.shares,
		    trade_count  = prediction_choices.trade_count + 1,
		    latest_price = EXCLUDED.latest_price,
		    updated_at   = EXCLUDED.updated_at`,
		t.BattleID, t.Outcome, t.Cost, shares, t.Price, t.Timestamp,
	); err != nil {
		return fmt.Errorf("postgres: upsert choice: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit apply trade: %w", err)
	}
	return nil
}

// ListTrades returns a battle's trade ledger in chain order.
func (s *PredictionStore) ListTrades(ctx context.Context, battleID string) ([]domain.PredictionTrade, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, battle_id, market_address, trader, outcome, side,
			shares, cost, price, tx_hash, log_index, block_number, ts
		FROM prediction_trades
		WHERE battle_id = $1
		ORDER BY block_number, log_index`,
		battleID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades %s: %w", battleID, err)
	}
	defer rows.Close()

	var trades []domain.PredictionTrade
	for rows.Next() {
		var t domain.PredictionTrade
		if err := rows.Scan(&t.ID, &t.BattleID, &t.MarketAddress, &t.Trader, &t.Outcome, &t.Side,
			&t.Shares, &t.Cost, &t.Price, &t.TxHash, &t.LogIndex, &t.BlockNumber, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ListChoices returns a battle's per-outcome aggregates ordered by outcome.
func (s *PredictionStore) ListChoices(ctx context.Context, battleID string) ([]domain.PredictionChoice, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT battle_id, outcome, volume, shares, trade_count, latest_price, updated_at
		FROM prediction_choices
		WHERE battle_id = $1
		ORDER BY outcome`,
		battleID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list choices %s: %w", battleID, err)
	}
	defer rows.Close()

	var choices []domain.PredictionChoice
	for rows.Next() {
		var c domain.PredictionChoice
		if err := rows.Scan(&c.BattleID, &c.Outcome, &c.Volume, &c.Shares, &c.TradeCount, &c.LatestPrice, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan choice: %w", err)
		}
		choices = append(choices, c)
	}
	return choices, rows.Err()
}
