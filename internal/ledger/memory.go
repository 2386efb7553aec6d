package ledger

import (
	"context"
	"sync"
)

// MemoryStore implements Store with an in-process map.
// For tests and local development only: it provides the same atomicity
// guarantees per-process but obviously no durability.
type MemoryStore struct {
	mu         sync.Mutex
	signatures map[string]*PaymentSignature
}

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		signatures: make(map[string]*PaymentSignature),
	}
}

// Lookup retrieves a payment signature record.
func (s *MemoryStore) Lookup(_ context.Context, signature string) (*PaymentSignature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.signatures[signature]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *rec
	return &copied, nil
}

// InsertFirstUse records first use under the mutex; the map membership check
// and insert are a single critical section, mirroring the conditional insert
// the durable backends perform.
func (s *MemoryStore) InsertFirstUse(_ context.Context, rec PaymentSignature) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.signatures[rec.Signature]; ok {
		return ErrDuplicateSignature
	}
	rec.UsageCount = 1
	s.signatures[rec.Signature] = &rec
	return nil
}

// IncrementUsage bumps the reuse counter.
func (s *MemoryStore) IncrementUsage(_ context.Context, signature string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.signatures[signature]
	if !ok {
		return ErrNotFound
	}
	rec.UsageCount++
	return nil
}

// Ping always succeeds for the in-memory backend.
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
