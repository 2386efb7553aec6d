package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/querygate/server/internal/catalog"
	"github.com/querygate/server/internal/chain"
	"github.com/querygate/server/internal/circuitbreaker"
	"github.com/querygate/server/internal/config"
	"github.com/querygate/server/internal/dbpool"
	"github.com/querygate/server/internal/gate"
	"github.com/querygate/server/internal/httpserver"
	"github.com/querygate/server/internal/ledger"
	"github.com/querygate/server/internal/lifecycle"
	"github.com/querygate/server/internal/logger"
	"github.com/querygate/server/internal/metrics"
	"github.com/querygate/server/internal/verify"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "querygate:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "querygate",
		Environment: cfg.Logging.Environment,
	})

	resources := lifecycle.NewManager()
	defer func() {
		if err := resources.Close(); err != nil {
			appLogger.Error().Err(err).Msg("shutdown.resource_close_failed")
		}
	}()

	metricsCollector := metrics.New(prometheus.DefaultRegisterer)

	store, err := buildStore(cfg, metricsCollector, resources, appLogger)
	if err != nil {
		return fmt.Errorf("init signature ledger: %w", err)
	}

	// Fail closed: refuse to start if the ledger is unreachable. Serving
	// without it would mean adjudicating payments with no replay protection.
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = store.Ping(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("signature ledger unreachable: %w", err)
	}

	catalogRepo, err := catalog.NewRepository(cfg.Catalog)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	breakers := circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker)
	reader := chain.NewReader(rpc.New(cfg.Chain.RPCURL), cfg.Chain, breakers, metricsCollector)

	var recipient solana.PublicKey
	if cfg.Verification.RecipientAddress != "" {
		recipient, err = solana.PublicKeyFromBase58(cfg.Verification.RecipientAddress)
		if err != nil {
			return fmt.Errorf("parse recipient address: %w", err)
		}
	}

	verifier := verify.NewService(reader, store, recipient, cfg.Chain.Network, metricsCollector)
	paymentGate := gate.New(verifier, metricsCollector, cfg.Verification.DevModeSkipVerification)

	server := httpserver.New(cfg, catalogRepo, store, paymentGate, metricsCollector, appLogger)

	errCh := make(chan error, 1)
	go func() {
		appLogger.Info().
			Str("address", cfg.Server.Address).
			Str("network", cfg.Chain.Network).
			Str("storage_backend", cfg.Storage.Backend).
			Msg("server.starting")
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
	case sig := <-stop:
		appLogger.Info().Str("signal", sig.String()).Msg("server.shutdown_requested")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}

	return nil
}

// buildStore selects the signature ledger backend and registers it for
// ordered cleanup.
func buildStore(cfg *config.Config, m *metrics.Metrics, resources *lifecycle.Manager, appLogger zerolog.Logger) (ledger.Store, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		pool, err := dbpool.NewSharedPool(cfg.Storage.PostgresURL, cfg.Storage.PostgresPool)
		if err != nil {
			return nil, err
		}
		resources.Register("postgres-pool", pool)
		store, err := ledger.NewPostgresStoreWithDB(pool.DB(), cfg.Storage.PaymentSignaturesTableName, m)
		if err != nil {
			return nil, err
		}
		return store, nil

	case "mongodb":
		store, err := ledger.NewMongoDBStore(cfg.Storage.MongoDBURL, cfg.Storage.MongoDBDatabase, m)
		if err != nil {
			return nil, err
		}
		resources.Register("mongodb-store", store)
		return store, nil

	case "memory":
		appLogger.Warn().Msg("storage.memory_backend: replay protection does not survive restarts, do not use in production")
		store := ledger.NewMemoryStore()
		resources.Register("memory-store", store)
		return store, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
