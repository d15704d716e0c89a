package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/arenaclash/arenad/internal/domain"
)

// ObjectStore is the narrow blob surface the archiver needs. Store satisfies
// it; tests substitute an in-memory fake.
type ObjectStore interface {
	Put(ctx context.Context, key string, data io.Reader, contentType string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// ArchiverConfig tunes the cold-storage sweep.
type ArchiverConfig struct {
	// Retention is how long a finished battle stays hot before it is
	// eligible for archival.
	Retention time.Duration

	// Interval between sweeps.
	Interval time.Duration

	// BatchSize caps how many battles one sweep archives.
	BatchSize int
}

func (c ArchiverConfig) withDefaults() ArchiverConfig {
	if c.Retention <= 0 {
		c.Retention = 30 * 24 * time.Hour
	}
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	return c
}

// Archiver snapshots settled battles, their trade ledger, and their outcome
// aggregates to object storage. Archival is additive: rows are not deleted
// from the primary store here, that is a separate explicit step once the
// archive is verified.
type Archiver struct {
	blobs   ObjectStore
	battles domain.BattleStore
	trades  domain.PredictionStore
	cfg     ArchiverConfig
	logger  *slog.Logger

	now func() time.Time
}

// NewArchiver creates an Archiver.
func NewArchiver(blobs ObjectStore, battles domain.BattleStore, trades domain.PredictionStore, cfg ArchiverConfig, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobs:   blobs,
		battles: battles,
		trades:  trades,
		cfg:     cfg.withDefaults(),
		logger:  logger.With(slog.String("component", "archiver")),
		now:     time.Now,
	}
}

// archiveRecord is one battle's complete settled state as stored in the
// archive object.
type archiveRecord struct {
	Battle  domain.Battle             `json:"battle"`
	Players []domain.BattlePlayer     `json:"players"`
	Result  *domain.BattleResult      `json:"result,omitempty"`
	Trades  []domain.PredictionTrade  `json:"trades,omitempty"`
	Choices []domain.PredictionChoice `json:"choices,omitempty"`
}

// Run sweeps on the configured interval until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := a.ArchiveSettled(ctx)
			if err != nil {
				a.logger.Error("archive sweep failed", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				a.logger.Info("archive sweep complete", slog.Int("battles", n))
			}
		}
	}
}

// ArchiveSettled archives every finished battle older than the retention
// cutoff, up to BatchSize, skipping battles whose archive object already
// exists. Returns how many new objects were written.
func (a *Archiver) ArchiveSettled(ctx context.Context) (int, error) {
	cutoff := a.now().Add(-a.cfg.Retention)
	battles, err := a.battles.ListFinishedBefore(ctx, cutoff, a.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: list settled battles: %w", err)
	}

	archived := 0
	for _, b := range battles {
		key := archiveKey(b)
		exists, err := a.blobs.Exists(ctx, key)
		if err != nil {
			return archived, err
		}
		if exists {
			continue
		}
		if err := a.archiveOne(ctx, b, key); err != nil {
			return archived, err
		}
		archived++
	}
	return archived, nil
}

func (a *Archiver) archiveOne(ctx context.Context, b domain.Battle, key string) error {
	rec := archiveRecord{Battle: b}

	players, err := a.battles.ListPlayers(ctx, b.ID)
	if err != nil {
		return fmt.Errorf("s3blob: archive %s players: %w", b.ID, err)
	}
	rec.Players = players

	result, err := a.battles.GetResult(ctx, b.ID)
	switch {
	case err == nil:
		rec.Result = &result
	case !errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("s3blob: archive %s result: %w", b.ID, err)
	}

	rec.Trades, err = a.trades.ListTrades(ctx, b.ID)
	if err != nil {
		return fmt.Errorf("s3blob: archive %s trades: %w", b.ID, err)
	}
	rec.Choices, err = a.trades.ListChoices(ctx, b.ID)
	if err != nil {
		return fmt.Errorf("s3blob: archive %s choices: %w", b.ID, err)
	}

	buf, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("s3blob: archive %s marshal: %w", b.ID, err)
	}
	if err := a.blobs.Put(ctx, key, bytes.NewReader(buf), "application/json"); err != nil {
		return err
	}

	a.logger.Info("battle archived", slog.String("battle_id", b.ID), slog.String("key", key))
	return nil
}

// archiveKey partitions archive objects by the battle's end month:
//
//	archive/battles/2026-08/<battle-id>.json
func archiveKey(b domain.Battle) string {
	month := "unknown"
	if b.EndedAt != nil {
		month = b.EndedAt.Format("2006-01")
	}
	return fmt.Sprintf("archive/battles/%s/%s.json", month, b.ID)
}
