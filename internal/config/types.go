package config

import "time"

// RuntimeConfig is the resolved configuration for one running instance.
type RuntimeConfig struct {
	// Chain
	ChainID uint64
	RPCURL  string

	// RelayerKey is the hex-encoded private key of the EOA that submits
	// execution transactions.
	RelayerKey string

	// EventPollInterval paces the confirmed-log poller.
	EventPollInterval time.Duration

	// Backing services
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string

	// A simulation older than this window is stale and must be redone
	// before execution.
	SimulationFreshness time.Duration

	// Receipt confirmation
	ConfirmationDepth   uint64
	ReceiptTimeout      time.Duration
	ReceiptPollInterval time.Duration

	// Job handling
	ExecutionRetryLimit int
	RecoveryLockTTL     time.Duration
	RecoveryInterval    time.Duration

	// Paymaster
	GasPriceDriftTolerance float64
	PriceCacheTTL          time.Duration

	// TokensFile points at the YAML token metadata registry.
	TokensFile string

	Debug bool
}
