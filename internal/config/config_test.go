package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Chain.RPCURL = "wss://rpc.example.org"
	cfg.Chain.FactoryAddress = "0x00000000000000000000000000000000000000f1"
	cfg.Chain.PrivateKey = "deadbeef"
	return cfg
}

func TestValidateAcceptsFilledConfig(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidateRequiresChainForIndexer(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "indexer"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chain: rpc_url")
	assert.Contains(t, err.Error(), "chain: factory_address")
}

func TestValidateMatchmakerNeedsNoChain(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "matchmaker"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadMode(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "turbo"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateRejectsInvertedGroupSizes(t *testing.T) {
	cfg := validConfig()
	cfg.Matchmaking.MinGroupSize = 6
	cfg.Matchmaking.MaxGroupSize = 4

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_group_size")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ARENAD_CHAIN_RPC_URL", "wss://override.example.org")
	t.Setenv("ARENAD_MATCHMAKING_TICK_INTERVAL", "250ms")
	t.Setenv("ARENAD_POSTGRES_RUN_MIGRATIONS", "false")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "wss://override.example.org", cfg.Chain.RPCURL)
	assert.Equal(t, 250*time.Millisecond, cfg.Matchmaking.TickInterval.Duration)
	assert.False(t, cfg.Postgres.RunMigrations)
}
