package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
// All env vars use QUERYGATE_ prefix for namespace isolation.
func (c *Config) applyEnvOverrides() {
	// Server config
	setIfEnv(&c.Server.Address, "QUERYGATE_SERVER_ADDRESS")
	setIfEnv(&c.Server.RoutePrefix, "QUERYGATE_ROUTE_PREFIX")
	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}

	// Logging config
	setIfEnv(&c.Logging.Level, "QUERYGATE_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "QUERYGATE_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "QUERYGATE_ENVIRONMENT")

	// Chain config
	setIfEnv(&c.Chain.Network, "QUERYGATE_CHAIN_NETWORK")
	setIfEnv(&c.Chain.RPCURL, "QUERYGATE_CHAIN_RPC_URL")
	setIntIfEnv(&c.Chain.LookupRetries, "QUERYGATE_CHAIN_LOOKUP_RETRIES")
	setDurationIfEnv(&c.Chain.RetryDelay, "QUERYGATE_CHAIN_RETRY_DELAY")
	setDurationIfEnv(&c.Chain.RequestTimeout, "QUERYGATE_CHAIN_REQUEST_TIMEOUT")

	// Verification config
	setIfEnv(&c.Verification.RecipientAddress, "QUERYGATE_RECIPIENT_ADDRESS")
	setIfEnv(&c.Verification.Asset, "QUERYGATE_ASSET")
	setInt64IfEnv(&c.Verification.AmountLamports, "QUERYGATE_AMOUNT_LAMPORTS")
	setBoolIfEnv(&c.Verification.DevModeSkipVerification, "QUERYGATE_DEV_MODE_SKIP_VERIFICATION")

	// Catalog config
	setIfEnv(&c.Catalog.Path, "QUERYGATE_CATALOG_PATH")

	// Storage config
	setIfEnv(&c.Storage.Backend, "QUERYGATE_STORAGE_BACKEND")
	setIfEnv(&c.Storage.PostgresURL, "QUERYGATE_STORAGE_POSTGRES_URL")
	setIfEnv(&c.Storage.MongoDBURL, "QUERYGATE_STORAGE_MONGODB_URL")
	setIfEnv(&c.Storage.MongoDBDatabase, "QUERYGATE_STORAGE_MONGODB_DATABASE")
	setIfEnv(&c.Storage.PaymentSignaturesTableName, "QUERYGATE_STORAGE_TABLE_NAME")
	setIntIfEnv(&c.Storage.PostgresPool.MaxOpenConns, "QUERYGATE_STORAGE_MAX_OPEN_CONNS")
	setIntIfEnv(&c.Storage.PostgresPool.MaxIdleConns, "QUERYGATE_STORAGE_MAX_IDLE_CONNS")
	setDurationIfEnv(&c.Storage.PostgresPool.ConnMaxLifetime, "QUERYGATE_STORAGE_CONN_MAX_LIFETIME")

	// Rate limit config
	setBoolIfEnv(&c.RateLimit.Enabled, "QUERYGATE_RATE_LIMIT_ENABLED")
	setIntIfEnv(&c.RateLimit.PerIPLimit, "QUERYGATE_RATE_LIMIT_PER_IP")
	setDurationIfEnv(&c.RateLimit.PerIPWindow, "QUERYGATE_RATE_LIMIT_WINDOW")

	// Circuit breaker config
	setBoolIfEnv(&c.CircuitBreaker.Enabled, "QUERYGATE_CIRCUIT_BREAKER_ENABLED")
}

// setIfEnv sets target to the env value when the variable is present and non-empty.
func setIfEnv(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			*target = true
		case "0", "false", "no", "off":
			*target = false
		}
	}
}

func setIntIfEnv(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func setInt64IfEnv(target *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*target = n
		}
	}
}

func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			target.Duration = dur
		}
	}
}

// normalizeRoutePrefix ensures the prefix starts with / and doesn't end with /.
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" || prefix == "/" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return strings.TrimSuffix(prefix, "/")
}
