package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"context"

	"github.com/querygate/server/internal/metrics"
)

// PostgresStore implements Store using PostgreSQL.
// The primary-key constraint on signature is what makes InsertFirstUse a
// single atomic conditional insert.
type PostgresStore struct {
	db        *sql.DB
	ownsDB    bool
	tableName string
	metrics   *metrics.Metrics
}

// NewPostgresStoreWithDB creates a PostgreSQL-backed ledger using an existing
// connection pool (shared via dbpool). The pool's lifecycle belongs to the
// caller; Close is a no-op.
func NewPostgresStoreWithDB(db *sql.DB, tableName string, m *metrics.Metrics) (*PostgresStore, error) {
	if tableName == "" {
		tableName = "payment_signatures"
	}
	store := &PostgresStore{
		db:        db,
		ownsDB:    false,
		tableName: tableName,
		metrics:   m,
	}
	if err := store.createTable(); err != nil {
		return nil, err
	}
	return store, nil
}

// createTable creates the payment_signatures table if it doesn't exist.
// The PRIMARY KEY on signature enforces the replay invariant at the storage
// layer; nothing in application memory is trusted to do so.
func (s *PostgresStore) createTable() error {
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			signature        TEXT PRIMARY KEY,
			network          TEXT NOT NULL,
			asset            TEXT NOT NULL,
			amount           BIGINT NOT NULL,
			sender_address   TEXT NOT NULL DEFAULT '',
			receiver_address TEXT NOT NULL,
			api_endpoint     TEXT NOT NULL,
			first_used_at    TIMESTAMPTZ NOT NULL,
			usage_count      BIGINT NOT NULL DEFAULT 1,
			ip_address       TEXT NOT NULL DEFAULT '',
			user_agent       TEXT NOT NULL DEFAULT ''
		)
	`, s.tableName)
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create payment signatures table: %w", err)
	}
	return nil
}

// Lookup retrieves a payment signature record by primary key.
func (s *PostgresStore) Lookup(ctx context.Context, signature string) (*PaymentSignature, error) {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	start := time.Now()
	defer func() { s.metrics.ObserveDBQuery("lookup", "postgres", time.Since(start)) }()

	query := fmt.Sprintf(`
		SELECT signature, network, asset, amount, sender_address, receiver_address,
		       api_endpoint, first_used_at, usage_count, ip_address, user_agent
		FROM %s
		WHERE signature = $1
	`, s.tableName)

	var rec PaymentSignature
	err := s.db.QueryRowContext(ctx, query, signature).Scan(
		&rec.Signature,
		&rec.Network,
		&rec.Asset,
		&rec.Amount,
		&rec.SenderAddress,
		&rec.ReceiverAddress,
		&rec.APIEndpoint,
		&rec.FirstUsedAt,
		&rec.UsageCount,
		&rec.IPAddress,
		&rec.UserAgent,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query payment signature: %w", err)
	}
	return &rec, nil
}

// InsertFirstUse records first use of a signature.
// ON CONFLICT DO NOTHING plus the RowsAffected check turns the primary-key
// constraint into the replay signal: zero rows affected means a concurrent
// request won the race, reported as ErrDuplicateSignature.
func (s *PostgresStore) InsertFirstUse(ctx context.Context, rec PaymentSignature) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	start := time.Now()
	defer func() { s.metrics.ObserveDBQuery("insert_first_use", "postgres", time.Since(start)) }()

	query := fmt.Sprintf(`
		INSERT INTO %s (signature, network, asset, amount, sender_address, receiver_address,
		                api_endpoint, first_used_at, usage_count, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, $10)
		ON CONFLICT (signature) DO NOTHING
	`, s.tableName)

	result, err := s.db.ExecContext(ctx, query,
		rec.Signature,
		rec.Network,
		rec.Asset,
		rec.Amount,
		rec.SenderAddress,
		rec.ReceiverAddress,
		rec.APIEndpoint,
		rec.FirstUsedAt.UTC(),
		rec.IPAddress,
		rec.UserAgent,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateSignature
		}
		return fmt.Errorf("insert payment signature: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDuplicateSignature
	}
	return nil
}

// IncrementUsage atomically bumps the reuse counter for a signature.
func (s *PostgresStore) IncrementUsage(ctx context.Context, signature string) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()

	start := time.Now()
	defer func() { s.metrics.ObserveDBQuery("increment_usage", "postgres", time.Since(start)) }()

	query := fmt.Sprintf(`UPDATE %s SET usage_count = usage_count + 1 WHERE signature = $1`, s.tableName)
	result, err := s.db.ExecContext(ctx, query, signature)
	if err != nil {
		return fmt.Errorf("increment usage count: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping checks connectivity to the database.
func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := withQueryTimeout(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

// Close releases the database handle when this store owns it.
func (s *PostgresStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}
