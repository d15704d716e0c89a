package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arenaclash/arenad/internal/domain"
)

// BattleStore implements domain.BattleStore using PostgreSQL. Every lifecycle
// transition is a single transaction whose first statement is a conditional
// UPDATE ... WHERE status = <expected> RETURNING; no returned row means a
// concurrent caller already transitioned the battle and the method reports
// (nil, nil).
type BattleStore struct {
	pool *pgxpool.Pool
}

// NewBattleStore creates a BattleStore backed by the given connection pool.
func NewBattleStore(pool *pgxpool.Pool) *BattleStore {
	return &BattleStore{pool: pool}
}

const battleSelectCols = `id, status, max_players, metadata, started_at, ended_at, created_at`

func scanBattle(row pgx.Row) (domain.Battle, error) {
	var (
		b    domain.Battle
		meta []byte
	)
	if err := row.Scan(&b.ID, &b.Status, &b.MaxPlayers, &meta, &b.StartedAt, &b.EndedAt, &b.CreatedAt); err != nil {
		return domain.Battle{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &b.Metadata); err != nil {
			return domain.Battle{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return b, nil
}

// CreateWithPlayers inserts the battle and all its player rows atomically.
func (s *BattleStore) CreateWithPlayers(ctx context.Context, battle domain.Battle, players []domain.BattlePlayer) (domain.Battle, error) {
	meta, err := json.Marshal(battle.Metadata)
	if err != nil {
		return domain.Battle{}, fmt.Errorf("postgres: encode metadata: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Battle{}, fmt.Errorf("postgres: begin create battle: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	created, err := scanBattle(tx.QueryRow(ctx, `
		INSERT INTO battles (id, status, max_players, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+battleSelectCols,
		battle.ID, battle.Status, battle.MaxPlayers, meta, battle.CreatedAt,
	))
	if err != nil {
		return domain.Battle{}, fmt.Errorf("postgres: insert battle: %w", err)
	}

	for _, p := range players {
		if _, err := tx.Exec(ctx, `
			INSERT INTO users (id) VALUES ($1)
			ON CONFLICT (id) DO NOTHING`,
			p.UserID,
		); err != nil {
			return domain.Battle{}, fmt.Errorf("postgres: ensure user %s: %w", p.UserID, err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO battle_players (battle_id, user_id, slot, status, elo_snapshot)
			VALUES ($1, $2, $3, $4, $5)`,
			p.BattleID, p.UserID, p.Slot, p.Status, p.EloSnapshot,
		); err != nil {
			return domain.Battle{}, fmt.Errorf("postgres: insert player %s: %w", p.UserID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Battle{}, fmt.Errorf("postgres: commit create battle: %w", err)
	}
	return created, nil
}

// GetByID returns one battle or domain.ErrNotFound.
func (s *BattleStore) GetByID(ctx context.Context, id string) (domain.Battle, error) {
	b, err := scanBattle(s.pool.QueryRow(ctx,
		`SELECT `+battleSelectCols+` FROM battles WHERE id = $1`, id,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Battle{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Battle{}, fmt.Errorf("postgres: get battle %s: %w", id, err)
	}
	return b, nil
}

// GetByMatchKey resolves a battle through its on-chain match key.
func (s *BattleStore) GetByMatchKey(ctx context.Context, matchKey string) (domain.Battle, error) {
	b, err := scanBattle(s.pool.QueryRow(ctx,
		`SELECT `+battleSelectCols+` FROM battles WHERE metadata->>'matchKey' = $1`, matchKey,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Battle{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Battle{}, fmt.Errorf("postgres: get battle by match key %s: %w", matchKey, err)
	}
	return b, nil
}

// ListPlayers returns a battle's players ordered by slot.
func (s *BattleStore) ListPlayers(ctx context.Context, battleID string) ([]domain.BattlePlayer, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT battle_id, user_id, slot, status, elo_snapshot, finished_at
		FROM battle_players WHERE battle_id = $1 ORDER BY slot`,
		battleID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list players %s: %w", battleID, err)
	}
	defer rows.Close()

	var players []domain.BattlePlayer
	for rows.Next() {
		var p domain.BattlePlayer
		if err := rows.Scan(&p.BattleID, &p.UserID, &p.Slot, &p.Status, &p.EloSnapshot, &p.FinishedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan player: %w", err)
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

// SetPlayerStatus updates one player's status.
func (s *BattleStore) SetPlayerStatus(ctx context.Context, battleID, userID string, status domain.PlayerStatus) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE battle_players SET status = $3
		WHERE battle_id = $1 AND user_id = $2`,
		battleID, userID, status,
	)
	if err != nil {
		return fmt.Errorf("postgres: set player status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Start performs the MATCHING->RUNNING transition: conditional battle update,
// players to PLAYING, and user rows locked to IN_BATTLE, all in one
// transaction.
func (s *BattleStore) Start(ctx context.Context, battleID string, startedAt time.Time) (*domain.Battle, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin start battle: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	b, err := scanBattle(tx.QueryRow(ctx, `
		UPDATE battles SET status = $2, started_at = $3
		WHERE id = $1 AND status = $4
		RETURNING `+battleSelectCols,
		battleID, domain.BattleRunning, startedAt, domain.BattleMatching,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: start battle %s: %w", battleID, err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE battle_players SET status = $2 WHERE battle_id = $1`,
		battleID, domain.PlayerPlaying,
	); err != nil {
		return nil, fmt.Errorf("postgres: mark players playing: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE users SET status = $2
		WHERE id IN (SELECT user_id FROM battle_players WHERE battle_id = $1)`,
		battleID, domain.UserInBattle,
	); err != nil {
		return nil, fmt.Errorf("postgres: lock users: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit start battle: %w", err)
	}
	return &b, nil
}

// Finish performs the RUNNING->FINISHED transition and applies the whole
// FinishUpdate atomically: ranks and elo deltas on player and user rows, user
// unlocks, and the result plus metrics inserts.
func (s *BattleStore) Finish(ctx context.Context, battleID string, fin domain.FinishUpdate) (*domain.Battle, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin finish battle: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	b, err := scanBattle(tx.QueryRow(ctx, `
		UPDATE battles SET status = $2, ended_at = $3
		WHERE id = $1 AND status = $4
		RETURNING `+battleSelectCols,
		battleID, domain.BattleFinished, fin.EndedAt, domain.BattleRunning,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: finish battle %s: %w", battleID, err)
	}

	for _, r := range fin.Ranks {
		if _, err := tx.Exec(ctx, `
			UPDATE battle_players
			SET status = $3, rank = $4, elo_delta = $5, finished_at = $6
			WHERE battle_id = $1 AND user_id = $2`,
			battleID, r.UserID, domain.PlayerFinished, r.Rank, r.EloDelta, fin.EndedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: rank player %s: %w", r.UserID, err)
		}
		// rank_points moves in lockstep with elo until they are separated.
		if _, err := tx.Exec(ctx, `
			UPDATE users
			SET elo = elo + $2, rank_points = rank_points + $2, status = $3
			WHERE id = $1`,
			r.UserID, r.EloDelta, domain.UserActive,
		); err != nil {
			return nil, fmt.Errorf("postgres: apply elo delta %s: %w", r.UserID, err)
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO battle_results
			(battle_id, winner_user_id, winning_slot, outcome_index, data_hash, code_commit_hash, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		fin.Result.BattleID, fin.Result.WinnerUserID, fin.Result.WinningSlot,
		fin.Result.OutcomeIndex, fin.Result.DataHash, fin.Result.CodeCommitHash, fin.Result.FinishedAt,
	); err != nil {
		return nil, fmt.Errorf("postgres: insert result: %w", err)
	}

	for _, m := range fin.Metrics {
		if _, err := tx.Exec(ctx, `
			INSERT INTO battle_metrics (battle_id, user_id, slot, kind, value)
			VALUES ($1, $2, $3, $4, $5)`,
			battleID, m.UserID, m.Slot, m.Kind, m.Value,
		); err != nil {
			return nil, fmt.Errorf("postgres: insert metric: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit finish battle: %w", err)
	}
	return &b, nil
}

// Cancel performs the MATCHING->CANCELLED transition and unlocks all players.
func (s *BattleStore) Cancel(ctx context.Context, battleID string) (*domain.Battle, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin cancel battle: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	b, err := scanBattle(tx.QueryRow(ctx, `
		UPDATE battles SET status = $2
		WHERE id = $1 AND status = $3
		RETURNING `+battleSelectCols,
		battleID, domain.BattleCancelled, domain.BattleMatching,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: cancel battle %s: %w", battleID, err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE users SET status = $2
		WHERE id IN (SELECT user_id FROM battle_players WHERE battle_id = $1)`,
		battleID, domain.UserActive,
	); err != nil {
		return nil, fmt.Errorf("postgres: unlock users: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit cancel battle: %w", err)
	}
	return &b, nil
}

// MergeOnchainMetadata merge-patches the metadata's onchain sub-object.
// Only the patch's non-empty fields are written; everything else in the
// metadata, including sibling onchain keys, is preserved.
func (s *BattleStore) MergeOnchainMetadata(ctx context.Context, battleID string, patch domain.OnchainMetadata) error {
	fields := map[string]string{}
	if patch.MarketAddress != "" {
		fields["marketAddress"] = patch.MarketAddress
	}
	if patch.MarketTxHash != "" {
		fields["marketTxHash"] = patch.MarketTxHash
	}
	if patch.OutcomeTxHash != "" {
		fields["outcomeTxHash"] = patch.OutcomeTxHash
	}
	if len(fields) == 0 {
		return nil
	}

	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("postgres: encode onchain patch: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE battles
		SET metadata = jsonb_set(
			metadata, '{onchain}',
			COALESCE(metadata->'onchain', '{}'::jsonb) || $2::jsonb
		)
		WHERE id = $1`,
		battleID, data,
	)
	if err != nil {
		return fmt.Errorf("postgres: merge onchain metadata %s: %w", battleID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListFinishedBefore returns finished battles ended before cutoff, oldest
// first, for the cold-storage archiver.
func (s *BattleStore) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Battle, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+battleSelectCols+` FROM battles
		WHERE status = $1 AND ended_at < $2
		ORDER BY ended_at ASC
		LIMIT $3`,
		domain.BattleFinished, cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list finished battles: %w", err)
	}
	defer rows.Close()

	var battles []domain.Battle
	for rows.Next() {
		b, err := scanBattle(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan battle: %w", err)
		}
		battles = append(battles, b)
	}
	return battles, rows.Err()
}

// GetResult returns a battle's finalized result or domain.ErrNotFound.
func (s *BattleStore) GetResult(ctx context.Context, battleID string) (domain.BattleResult, error) {
	var r domain.BattleResult
	err := s.pool.QueryRow(ctx, `
		SELECT battle_id, winner_user_id, winning_slot, outcome_index,
			data_hash, code_commit_hash, finished_at
		FROM battle_results WHERE battle_id = $1`,
		battleID,
	).Scan(&r.BattleID, &r.WinnerUserID, &r.WinningSlot, &r.OutcomeIndex,
		&r.DataHash, &r.CodeCommitHash, &r.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.BattleResult{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.BattleResult{}, fmt.Errorf("postgres: get result %s: %w", battleID, err)
	}
	return r, nil
}
