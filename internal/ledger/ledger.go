package ledger

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Lookup when the signature has never been recorded.
var ErrNotFound = errors.New("ledger: signature not found")

// ErrDuplicateSignature is returned by InsertFirstUse when a row for the
// signature already exists. Callers must treat it exactly like a Lookup hit
// (route to the replay path), never as a fatal error: it is the normal
// outcome for the loser of a race between two requests presenting the same
// signature concurrently.
var ErrDuplicateSignature = errors.New("ledger: signature already recorded")

// PaymentSignature is the durable first-use record for a verified payment.
//
// For a given signature at most one row exists. FirstUsedAt and the financial
// fields are write-once at creation; only UsageCount changes afterwards, and
// only upward. A UsageCount greater than 1 is the canonical signal that a
// replay was attempted.
type PaymentSignature struct {
	Signature       string    // transaction signature, primary key
	Network         string    // chain identifier (mainnet-beta, devnet, ...)
	Asset           string    // unit transferred (SOL for native)
	Amount          int64     // verified amount in smallest units
	SenderAddress   string    // best-effort counterparty
	ReceiverAddress string    // configured recipient the transfer was checked against
	APIEndpoint     string    // logical operation this payment authorized
	FirstUsedAt     time.Time // immutable after creation
	UsageCount      int64     // starts at 1, never decremented
	IPAddress       string    // provenance for abuse forensics only
	UserAgent       string    // provenance for abuse forensics only
}

// Store is the signature ledger: the single shared mutable resource of the
// verification engine. The uniqueness of Signature must be enforced by the
// storage layer itself, not application logic - it is the sole mechanism
// preventing two concurrent verifications of a fresh signature from both
// recording first use.
type Store interface {
	// Lookup is a point read by signature. Returns ErrNotFound on miss.
	Lookup(ctx context.Context, signature string) (*PaymentSignature, error)

	// InsertFirstUse records first use as a single atomic conditional insert
	// with UsageCount = 1. Returns ErrDuplicateSignature when the row exists.
	InsertFirstUse(ctx context.Context, rec PaymentSignature) error

	// IncrementUsage atomically bumps the reuse counter. Best-effort: callers
	// must not fail a request because the increment did not land.
	IncrementUsage(ctx context.Context, signature string) error

	// Ping reports whether the backing store is reachable. Readiness gates on
	// it - a gateway that cannot reach its ledger cannot safely adjudicate.
	Ping(ctx context.Context) error

	Close() error
}
