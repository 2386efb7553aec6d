package config

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog/log"
)

// finalize validates the configuration and fills derived fields.
// It is called after file parsing and env overrides.
func (c *Config) finalize() error {
	if c.Storage.Backend != "memory" && c.Storage.Backend != "postgres" && c.Storage.Backend != "mongodb" {
		return fmt.Errorf("config: unknown storage backend %q (expected memory, postgres, or mongodb)", c.Storage.Backend)
	}
	if c.Storage.Backend == "postgres" && c.Storage.PostgresURL == "" {
		return fmt.Errorf("config: storage backend is postgres but postgres_url is empty")
	}
	if c.Storage.Backend == "mongodb" && (c.Storage.MongoDBURL == "" || c.Storage.MongoDBDatabase == "") {
		return fmt.Errorf("config: storage backend is mongodb but mongodb_url or mongodb_database is empty")
	}
	if c.Storage.PaymentSignaturesTableName == "" {
		c.Storage.PaymentSignaturesTableName = "payment_signatures"
	}

	if c.Chain.LookupRetries <= 0 {
		c.Chain.LookupRetries = 2
	}
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("config: chain rpc_url is required")
	}

	// The dev-mode bypass disables the replay invariant entirely. It must be
	// impossible to enable it by accident and not notice: log a warning block
	// at startup and skip the payment-tuple validation below.
	if c.Verification.DevModeSkipVerification {
		log.Warn().Msg("==================================================================")
		log.Warn().Msg("DEV MODE: payment verification is DISABLED")
		log.Warn().Msg("Every request will be accepted without an on-chain payment check.")
		log.Warn().Msg("The signature replay invariant is NOT enforced.")
		log.Warn().Msg("Never run with QUERYGATE_DEV_MODE_SKIP_VERIFICATION in production.")
		log.Warn().Msg("==================================================================")
		return nil
	}

	if c.Verification.RecipientAddress == "" {
		return fmt.Errorf("config: verification recipient_address is required")
	}
	if _, err := solana.PublicKeyFromBase58(c.Verification.RecipientAddress); err != nil {
		return fmt.Errorf("config: invalid recipient_address: %w", err)
	}
	if c.Verification.AmountLamports <= 0 && len(c.Catalog.Datasets) == 0 {
		return fmt.Errorf("config: verification amount_lamports must be positive")
	}
	if c.Verification.Asset == "" {
		c.Verification.Asset = "SOL"
	}

	// Fill dataset defaults from the global payment tuple.
	for id, ds := range c.Catalog.Datasets {
		if ds.DatasetID == "" {
			ds.DatasetID = id
		}
		if ds.PriceLamports <= 0 {
			ds.PriceLamports = c.Verification.AmountLamports
		}
		if ds.Asset == "" {
			ds.Asset = c.Verification.Asset
		}
		if ds.PriceLamports <= 0 {
			return fmt.Errorf("config: dataset %q has no price and no global amount_lamports is set", id)
		}
		c.Catalog.Datasets[id] = ds
	}

	return nil
}
