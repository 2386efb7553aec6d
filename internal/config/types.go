package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Chain          ChainConfig          `yaml:"chain"`
	Verification   VerificationConfig   `yaml:"verification"`
	Catalog        CatalogConfig        `yaml:"catalog"`
	Storage        StorageConfig        `yaml:"storage"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RoutePrefix        string   `yaml:"route_prefix"` // Optional prefix for all routes (e.g., "/api")
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`  // debug, info, warn, error
	Format      string `yaml:"format"` // json, console
	Environment string `yaml:"environment"`
}

// ChainConfig holds Solana RPC configuration for the chain reader.
type ChainConfig struct {
	Network        string   `yaml:"network"` // mainnet-beta, devnet, testnet
	RPCURL         string   `yaml:"rpc_url"`
	LookupRetries  int      `yaml:"lookup_retries"`  // attempts per verification (default: 2)
	RetryDelay     Duration `yaml:"retry_delay"`     // fixed delay between attempts (default: 2s)
	RequestTimeout Duration `yaml:"request_timeout"` // per-RPC-call deadline (default: 10s)
}

// VerificationConfig holds the expected payment tuple the engine checks
// transactions against.
//
// DevModeSkipVerification fully disables payment verification and the replay
// invariant. Every request is accepted without touching the chain or the
// ledger. It exists for local development only; validation logs a prominent
// warning whenever it is set.
type VerificationConfig struct {
	RecipientAddress        string `yaml:"recipient_address"`
	Asset                   string `yaml:"asset"`            // asset identifier, native coin is "SOL"
	AmountLamports          int64  `yaml:"amount_lamports"`  // default price in smallest units
	DevModeSkipVerification bool   `yaml:"dev_mode_skip_verification"`
}

// CatalogConfig holds the query catalog configuration.
type CatalogConfig struct {
	Path     string                   `yaml:"path"`     // optional standalone datasets YAML file
	Datasets map[string]DatasetConfig `yaml:"datasets"` // inline definitions (merged over file)
}

// DatasetConfig defines a single purchasable dataset.
// All monetary amounts use atomic units (int64) for precision.
type DatasetConfig struct {
	DatasetID     string            `yaml:"dataset_id"`
	Description   string            `yaml:"description"`
	Query         string            `yaml:"query"` // canned SQL forwarded to the analytics backend
	PriceLamports int64             `yaml:"price_lamports"`
	Asset         string            `yaml:"asset"`
	Metadata      map[string]string `yaml:"metadata"`
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`    // Maximum number of open connections (default: 25)
	MaxIdleConns    int      `yaml:"max_idle_conns"`    // Maximum number of idle connections (default: 5)
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"` // Maximum lifetime of connections (default: 5m)
}

// StorageConfig holds the signature ledger backend configuration.
type StorageConfig struct {
	Backend                    string             `yaml:"backend"` // "memory", "postgres", or "mongodb"
	PostgresURL                string             `yaml:"postgres_url"`
	MongoDBURL                 string             `yaml:"mongodb_url"`
	MongoDBDatabase            string             `yaml:"mongodb_database"`
	PostgresPool               PostgresPoolConfig `yaml:"postgres_pool"`
	PaymentSignaturesTableName string             `yaml:"payment_signatures_table_name"` // default: "payment_signatures"
}

// RateLimitConfig holds request rate limiting configuration.
type RateLimitConfig struct {
	Enabled     bool     `yaml:"enabled"`
	PerIPLimit  int      `yaml:"per_ip_limit"`
	PerIPWindow Duration `yaml:"per_ip_window"`
}

// CircuitBreakerConfig holds circuit breaker configuration.
type CircuitBreakerConfig struct {
	Enabled  bool                 `yaml:"enabled"`
	ChainRPC BreakerServiceConfig `yaml:"chain_rpc"`
	Database BreakerServiceConfig `yaml:"database"`
}

// BreakerServiceConfig configures a single circuit breaker.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`
	Interval            Duration `yaml:"interval"`
	Timeout             Duration `yaml:"timeout"`
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"`
	FailureRatio        float64  `yaml:"failure_ratio"`
	MinRequests         uint32   `yaml:"min_requests"`
}
