package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider_DefaultsAndEnv(t *testing.T) {
	t.Setenv("ACCOUNTD_RPC_URL", "http://localhost:8545")
	t.Setenv("ACCOUNTD_DATABASE_URL", "postgres://localhost/accountd")
	t.Setenv("ACCOUNTD_CHAIN_ID", "137")

	cfg, err := Provider(SetupViper(nil))
	require.NoError(t, err)

	assert.Equal(t, uint64(137), cfg.ChainID)
	assert.Equal(t, "http://localhost:8545", cfg.RPCURL)
	assert.Equal(t, "postgres://localhost/accountd", cfg.DatabaseURL)

	// Defaults.
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 5*time.Minute, cfg.SimulationFreshness)
	assert.Equal(t, uint64(1), cfg.ConfirmationDepth)
	assert.Equal(t, 4*time.Second, cfg.EventPollInterval)
	assert.Equal(t, 3, cfg.ExecutionRetryLimit)
	assert.Equal(t, 0.25, cfg.GasPriceDriftTolerance)
	assert.False(t, cfg.Debug)
}

func TestProvider_RequiresRPCAndDatabase(t *testing.T) {
	t.Setenv("ACCOUNTD_DATABASE_URL", "postgres://localhost/accountd")
	_, err := Provider(SetupViper(nil))
	require.ErrorContains(t, err, "rpc_url")

	t.Setenv("ACCOUNTD_RPC_URL", "http://localhost:8545")
	t.Setenv("ACCOUNTD_DATABASE_URL", "")
	_, err = Provider(SetupViper(nil))
	require.ErrorContains(t, err, "database_url")
}
