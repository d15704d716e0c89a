package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/arenaclash/arenad/internal/blob/s3"
	"github.com/arenaclash/arenad/internal/cache/redis"
	"github.com/arenaclash/arenad/internal/chain"
	"github.com/arenaclash/arenad/internal/config"
	"github.com/arenaclash/arenad/internal/domain"
	"github.com/arenaclash/arenad/internal/notify"
	qnats "github.com/arenaclash/arenad/internal/queue/nats"
	"github.com/arenaclash/arenad/internal/store/postgres"
)

// Dependencies bundles every concrete dependency the application modes need.
// It is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	Battles     domain.BattleStore
	Checkpoints domain.CheckpointStore
	Predictions domain.PredictionStore

	// Cache
	Markets domain.MarketCache

	// Queue
	Queue    *qnats.Client
	Enqueuer domain.JobEnqueuer

	// Chain. Nil in matchmaker mode; Market additionally requires a
	// signing key.
	Chain  *chain.Client
	Market *chain.MarketClient

	// Presentation
	Hub *notify.Hub

	// Cold storage. Nil unless s3.enabled.
	Archiver *s3blob.Archiver
}

// needsChain returns true for modes that talk to the chain RPC.
func needsChain(mode string) bool {
	switch mode {
	case "indexer", "settlement", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function to be
// called on shutdown.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Battles = postgres.NewBattleStore(pool)
	deps.Checkpoints = postgres.NewCheckpointStore(pool)
	deps.Predictions = postgres.NewPredictionStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.Markets = redis.NewMarketCache(redisClient)

	// --- NATS JetStream ---
	natsClient, err := qnats.New(qnats.ClientConfig{
		URL:  cfg.NATS.URL,
		Name: "arenad-" + cfg.Mode,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: nats: %w", err)
	}
	closers = append(closers, natsClient.Close)

	if err := natsClient.EnsureStreams(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: nats streams: %w", err)
	}
	deps.Queue = natsClient
	deps.Enqueuer = qnats.NewEnqueuer(natsClient)

	// --- Chain ---
	if needsChain(cfg.Mode) {
		chainClient, err := chain.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.ChainID)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: chain: %w", err)
		}
		closers = append(closers, chainClient.Close)
		deps.Chain = chainClient

		if cfg.Chain.PrivateKey != "" {
			market, err := chain.NewMarketClient(chainClient, cfg.Chain.FactoryAddress, cfg.Chain.PrivateKey, logger)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: market client: %w", err)
			}
			deps.Market = market
		}
	}

	// --- S3 archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewStore(s3Client),
			deps.Battles,
			deps.Predictions,
			s3blob.ArchiverConfig{
				Retention: cfg.S3.ArchiveRetention.Duration,
				Interval:  cfg.S3.ArchiveInterval.Duration,
				BatchSize: cfg.S3.ArchiveBatchSize,
			},
			logger,
		)
	}

	// --- Websocket hub ---
	deps.Hub = notify.NewHub(logger)

	return deps, cleanup, nil
}
