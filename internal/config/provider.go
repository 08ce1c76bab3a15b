package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Provider creates RuntimeConfig for Wire dependency injection.
func Provider(v *viper.Viper) (*RuntimeConfig, error) {
	cfg := &RuntimeConfig{
		ChainID:                v.GetUint64("chain_id"),
		RPCURL:                 v.GetString("rpc_url"),
		RelayerKey:             v.GetString("relayer_key"),
		EventPollInterval:      v.GetDuration("event_poll_interval"),
		DatabaseURL:            v.GetString("database_url"),
		RedisAddr:              v.GetString("redis_addr"),
		RedisPassword:          v.GetString("redis_password"),
		SimulationFreshness:    v.GetDuration("simulation_freshness"),
		ConfirmationDepth:      v.GetUint64("confirmation_depth"),
		ReceiptTimeout:         v.GetDuration("receipt_timeout"),
		ReceiptPollInterval:    v.GetDuration("receipt_poll_interval"),
		ExecutionRetryLimit:    v.GetInt("execution_retry_limit"),
		RecoveryLockTTL:        v.GetDuration("recovery_lock_ttl"),
		RecoveryInterval:       v.GetDuration("recovery_interval"),
		GasPriceDriftTolerance: v.GetFloat64("gas_price_drift_tolerance"),
		PriceCacheTTL:          v.GetDuration("price_cache_ttl"),
		TokensFile:             v.GetString("tokens_file"),
		Debug:                  v.GetBool("debug"),
	}

	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc_url is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database_url is required")
	}

	return cfg, nil
}

// SetupViper creates and configures a viper instance.
func SetupViper(flags *pflag.FlagSet) *viper.Viper {
	v := viper.New()

	v.SetConfigName("accountd")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/accountd")

	v.SetEnvPrefix("ACCOUNTD")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))

	v.SetDefault("chain_id", 1)
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("simulation_freshness", "5m")
	v.SetDefault("confirmation_depth", 1)
	v.SetDefault("receipt_timeout", "5m")
	v.SetDefault("receipt_poll_interval", "2s")
	v.SetDefault("event_poll_interval", "4s")
	v.SetDefault("execution_retry_limit", 3)
	v.SetDefault("recovery_lock_ttl", "1m")
	v.SetDefault("recovery_interval", "5m")
	v.SetDefault("gas_price_drift_tolerance", 0.25)
	v.SetDefault("price_cache_ttl", "1m")
	v.SetDefault("debug", false)

	// Read config file if present; env vars and defaults cover the rest.
	_ = v.ReadInConfig()

	if flags != nil {
		_ = v.BindPFlags(flags)
	}

	return v
}
