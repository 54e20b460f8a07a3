// Package config loads the mirror's settings from a YAML file, a .env file and
// MIRROR_* environment variables.
package config

import (
	"time"

	"solana-twin-mirror/internal/domain"
)

// Config is the complete process configuration.
type Config struct {
	Solana    SolanaConfig    `mapstructure:"solana"`
	Custodian CustodianConfig `mapstructure:"custodian"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Journal   JournalConfig   `mapstructure:"journal"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Recover   RecoverConfig   `mapstructure:"recover"`
}

// SolanaConfig holds ledger endpoint settings.
type SolanaConfig struct {
	RPCURL       string        `mapstructure:"rpc_url" validate:"required,url"`
	WSURL        string        `mapstructure:"ws_url" validate:"required,url"`
	RateLimitRPS float64       `mapstructure:"rate_limit_rps" validate:"gte=0"`
	RateBurst    int           `mapstructure:"rate_burst" validate:"gte=0"`
	MaxRetries   int           `mapstructure:"max_retries" validate:"gte=0,lte=20"`
	Timeout      time.Duration `mapstructure:"timeout"`
	ConfirmPoll  time.Duration `mapstructure:"confirm_poll"`
}

// CustodianConfig holds the fee payer and token authority key.
type CustodianConfig struct {
	// PrivateKey is a base58 ed25519 seed (32 bytes) or full secret key (64 bytes).
	PrivateKey string `mapstructure:"private_key" validate:"required"`
}

// DatabaseConfig selects the state store.
type DatabaseConfig struct {
	PostgresDSN string `mapstructure:"postgres_dsn"`
	UseMemory   bool   `mapstructure:"use_memory"`
	Migrate     bool   `mapstructure:"migrate"`
}

// JournalConfig configures the optional ClickHouse task journal.
type JournalConfig struct {
	ClickHouseDSN string `mapstructure:"clickhouse_dsn"`
}

// QueueConfig holds the task retry policy.
type QueueConfig struct {
	MaxAttempts        int           `mapstructure:"max_attempts" validate:"min=1,max=32"`
	InitialBackoff     time.Duration `mapstructure:"initial_backoff" validate:"gt=0"`
	MaxBackoff         time.Duration `mapstructure:"max_backoff" validate:"gt=0"`
	AttemptTimeout     time.Duration `mapstructure:"attempt_timeout" validate:"gt=0"`
	DeployStallWarning time.Duration `mapstructure:"deploy_stall_warning" validate:"gt=0"`
}

// RegistryConfig points at the public token list.
type RegistryConfig struct {
	TokenListURL string        `mapstructure:"token_list_url" validate:"omitempty,url"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// LogConfig configures logrus.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
	File   string `mapstructure:"file"`
}

// MetricsConfig configures the /metrics and /health listener.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// RecoverConfig configures the recovery tool.
type RecoverConfig struct {
	RentReserve  uint64        `mapstructure:"rent_reserve"`
	MinReclaim   uint64        `mapstructure:"min_reclaim"`
	SweepDelay   time.Duration `mapstructure:"sweep_delay"`
	DrainAddress string        `mapstructure:"drain_address"`
}

// Default token list location.
const DefaultTokenListURL = "https://cdn.jsdelivr.net/gh/solana-labs/token-list@main/src/tokens/solana.tokenlist.json"

// defaults maps every config key to its default. Keys must be listed here for
// MIRROR_* environment overrides to reach Unmarshal.
var defaults = map[string]interface{}{
	"solana.rpc_url":            "https://api.mainnet-beta.solana.com",
	"solana.ws_url":             "wss://api.mainnet-beta.solana.com",
	"solana.rate_limit_rps":     10.0,
	"solana.rate_burst":         5,
	"solana.max_retries":        3,
	"solana.timeout":            30 * time.Second,
	"solana.confirm_poll":       time.Second,
	"custodian.private_key":     "",
	"database.postgres_dsn":     "",
	"database.use_memory":       false,
	"database.migrate":          true,
	"journal.clickhouse_dsn":    "",
	"queue.max_attempts":        8,
	"queue.initial_backoff":     3 * time.Second,
	"queue.max_backoff":         2 * time.Minute,
	"queue.attempt_timeout":     60 * time.Second,
	"queue.deploy_stall_warning": 2 * time.Minute,
	"registry.token_list_url":   DefaultTokenListURL,
	"registry.timeout":          10 * time.Second,
	"log.level":                 "info",
	"log.format":                "json",
	"log.file":                  "",
	"metrics.addr":              ":9090",
	"recover.rent_reserve":      domain.DefaultRentReserve,
	"recover.min_reclaim":       uint64(10_000_000),
	"recover.sweep_delay":       500 * time.Millisecond,
	"recover.drain_address":     "",
}
