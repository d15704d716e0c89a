// Package config defines the top-level configuration for arenad and provides
// validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by ARENAD_* environment variables.
type Config struct {
	Chain       ChainConfig       `toml:"chain"`
	Matchmaking MatchmakingConfig `toml:"matchmaking"`
	Battle      BattleConfig      `toml:"battle"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	NATS        NATSConfig        `toml:"nats"`
	S3          S3Config          `toml:"s3"`
	Server      ServerConfig      `toml:"server"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// ChainConfig holds the RPC endpoint, contract addresses, and ingestion
// parameters for one chain.
type ChainConfig struct {
	RPCURL         string `toml:"rpc_url"`
	ChainID        int64  `toml:"chain_id"`
	FactoryAddress string `toml:"factory_address"`
	// PrivateKey signs the factory and market calls; only settlement
	// deployments need it.
	PrivateKey    string   `toml:"private_key"`
	GenesisBlock  int64    `toml:"genesis_block"`
	Confirmations int64    `toml:"confirmations"`
	ChunkSize     int64    `toml:"chunk_size"`
	PollInterval  duration `toml:"poll_interval"`
	PassTimeout   duration `toml:"pass_timeout"`
}

// MatchmakingConfig holds the queue grouping parameters.
type MatchmakingConfig struct {
	TickInterval     duration `toml:"tick_interval"`
	BaseEloRange     float64  `toml:"base_elo_range"`
	MaxEloRange      float64  `toml:"max_elo_range"`
	ExpandRatePerSec float64  `toml:"expand_rate_per_sec"`
	MinGroupSize     int      `toml:"min_group_size"`
	MaxGroupSize     int      `toml:"max_group_size"`
	FairnessWindow   duration `toml:"fairness_window"`
	ForceMatchAfter  duration `toml:"force_match_after"`
}

// BattleConfig holds the prediction-market parameters attached to each
// battle's market.
type BattleConfig struct {
	BScore float64 `toml:"b_score"`
	FeeBps int     `toml:"fee_bps"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// NATSConfig holds NATS JetStream connection parameters.
type NATSConfig struct {
	URL string `toml:"url"`
}

// S3Config holds parameters for the S3-compatible archive store.
type S3Config struct {
	Enabled          bool     `toml:"enabled"`
	Endpoint         string   `toml:"endpoint"`
	Region           string   `toml:"region"`
	Bucket           string   `toml:"bucket"`
	AccessKey        string   `toml:"access_key"`
	SecretKey        string   `toml:"secret_key"`
	UseSSL           bool     `toml:"use_ssl"`
	ForcePathStyle   bool     `toml:"force_path_style"`
	ArchiveRetention duration `toml:"archive_retention"`
	ArchiveInterval  duration `toml:"archive_interval"`
	ArchiveBatchSize int      `toml:"archive_batch_size"`
}

// ServerConfig holds the websocket notification server parameters.
type ServerConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// duration wraps time.Duration to support TOML string decoding (e.g. "500ms",
// "5m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for the TOML decoder.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			ChainID:       84532,
			Confirmations: 5,
			ChunkSize:     500,
			PollInterval:  duration{60 * time.Second},
			PassTimeout:   duration{2 * time.Minute},
		},
		Matchmaking: MatchmakingConfig{
			TickInterval:     duration{500 * time.Millisecond},
			BaseEloRange:     100,
			MaxEloRange:      400,
			ExpandRatePerSec: 5,
			MinGroupSize:     2,
			MaxGroupSize:     8,
			FairnessWindow:   duration{10 * time.Second},
			ForceMatchAfter:  duration{60 * time.Second},
		},
		Battle: BattleConfig{
			BScore: 100,
			FeeBps: 200,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "arenad",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		NATS: NATSConfig{
			URL: "nats://localhost:4222",
		},
		S3: S3Config{
			Region:           "us-east-1",
			UseSSL:           true,
			ArchiveRetention: duration{30 * 24 * time.Hour},
			ArchiveInterval:  duration{time.Hour},
			ArchiveBatchSize: 100,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8080,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"matchmaker": true,
	"indexer":    true,
	"settlement": true,
	"full":       true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: matchmaker, indexer, settlement, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Chain — indexer and settlement modes talk to the chain.
	needsChain := c.Mode == "indexer" || c.Mode == "settlement" || c.Mode == "full"
	if needsChain {
		if c.Chain.RPCURL == "" {
			errs = append(errs, "chain: rpc_url must not be empty for mode "+c.Mode)
		}
		if c.Chain.ChainID <= 0 {
			errs = append(errs, "chain: chain_id must be positive")
		}
		if c.Chain.FactoryAddress == "" {
			errs = append(errs, "chain: factory_address must not be empty for mode "+c.Mode)
		}
	}
	if (c.Mode == "settlement" || c.Mode == "full") && c.Chain.PrivateKey == "" {
		errs = append(errs, "chain: private_key is required for mode "+c.Mode)
	}
	if c.Chain.Confirmations < 0 {
		errs = append(errs, "chain: confirmations must be >= 0")
	}
	if c.Chain.ChunkSize < 1 {
		errs = append(errs, "chain: chunk_size must be >= 1")
	}

	// Matchmaking
	if c.Matchmaking.TickInterval.Duration <= 0 {
		errs = append(errs, "matchmaking: tick_interval must be > 0")
	}
	if c.Matchmaking.MinGroupSize < 2 {
		errs = append(errs, "matchmaking: min_group_size must be >= 2")
	}
	if c.Matchmaking.MaxGroupSize < c.Matchmaking.MinGroupSize {
		errs = append(errs, "matchmaking: max_group_size must be >= min_group_size")
	}
	if c.Matchmaking.BaseEloRange <= 0 {
		errs = append(errs, "matchmaking: base_elo_range must be > 0")
	}
	if c.Matchmaking.MaxEloRange < c.Matchmaking.BaseEloRange {
		errs = append(errs, "matchmaking: max_elo_range must be >= base_elo_range")
	}

	// Battle
	if c.Battle.BScore <= 0 {
		errs = append(errs, "battle: b_score must be > 0")
	}
	if c.Battle.FeeBps < 0 || c.Battle.FeeBps > 10000 {
		errs = append(errs, fmt.Sprintf("battle: fee_bps must be 0-10000, got %d", c.Battle.FeeBps))
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// NATS
	if c.NATS.URL == "" {
		errs = append(errs, "nats: url must not be empty")
	}

	// S3 — only when archival is enabled.
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when enabled")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
