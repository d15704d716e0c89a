package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ARENAD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ARENAD_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "ARENAD_CHAIN_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "ARENAD_CHAIN_ID")
	setStr(&cfg.Chain.FactoryAddress, "ARENAD_CHAIN_FACTORY_ADDRESS")
	setStr(&cfg.Chain.PrivateKey, "ARENAD_CHAIN_PRIVATE_KEY")
	setInt64(&cfg.Chain.GenesisBlock, "ARENAD_CHAIN_GENESIS_BLOCK")
	setInt64(&cfg.Chain.Confirmations, "ARENAD_CHAIN_CONFIRMATIONS")
	setInt64(&cfg.Chain.ChunkSize, "ARENAD_CHAIN_CHUNK_SIZE")
	setDuration(&cfg.Chain.PollInterval, "ARENAD_CHAIN_POLL_INTERVAL")
	setDuration(&cfg.Chain.PassTimeout, "ARENAD_CHAIN_PASS_TIMEOUT")

	// ── Matchmaking ──
	setDuration(&cfg.Matchmaking.TickInterval, "ARENAD_MATCHMAKING_TICK_INTERVAL")
	setFloat64(&cfg.Matchmaking.BaseEloRange, "ARENAD_MATCHMAKING_BASE_ELO_RANGE")
	setFloat64(&cfg.Matchmaking.MaxEloRange, "ARENAD_MATCHMAKING_MAX_ELO_RANGE")
	setFloat64(&cfg.Matchmaking.ExpandRatePerSec, "ARENAD_MATCHMAKING_EXPAND_RATE_PER_SEC")
	setInt(&cfg.Matchmaking.MinGroupSize, "ARENAD_MATCHMAKING_MIN_GROUP_SIZE")
	setInt(&cfg.Matchmaking.MaxGroupSize, "ARENAD_MATCHMAKING_MAX_GROUP_SIZE")
	setDuration(&cfg.Matchmaking.FairnessWindow, "ARENAD_MATCHMAKING_FAIRNESS_WINDOW")
	setDuration(&cfg.Matchmaking.ForceMatchAfter, "ARENAD_MATCHMAKING_FORCE_MATCH_AFTER")

	// ── Battle ──
	setFloat64(&cfg.Battle.BScore, "ARENAD_BATTLE_B_SCORE")
	setInt(&cfg.Battle.FeeBps, "ARENAD_BATTLE_FEE_BPS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ARENAD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ARENAD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARENAD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARENAD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARENAD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARENAD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARENAD_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ARENAD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ARENAD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ARENAD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ARENAD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARENAD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARENAD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARENAD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ARENAD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ARENAD_REDIS_TLS_ENABLED")

	// ── NATS ──
	setStr(&cfg.NATS.URL, "ARENAD_NATS_URL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ARENAD_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ARENAD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARENAD_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARENAD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARENAD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARENAD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ARENAD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ARENAD_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.ArchiveRetention, "ARENAD_S3_ARCHIVE_RETENTION")
	setDuration(&cfg.S3.ArchiveInterval, "ARENAD_S3_ARCHIVE_INTERVAL")
	setInt(&cfg.S3.ArchiveBatchSize, "ARENAD_S3_ARCHIVE_BATCH_SIZE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ARENAD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "ARENAD_SERVER_PORT")

	// ── Top-level ──
	setStr(&cfg.Mode, "ARENAD_MODE")
	setStr(&cfg.LogLevel, "ARENAD_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
