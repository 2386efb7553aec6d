package verify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"

	"github.com/querygate/server/internal/chain"
	apierrors "github.com/querygate/server/internal/errors"
	"github.com/querygate/server/internal/ledger"
)

var (
	testPayer     = solana.PublicKey{1}
	testRecipient = solana.PublicKey{2}
)

// mockReader serves canned transaction records by signature and counts
// lookups so tests can assert the replay path never re-reads the chain.
type mockReader struct {
	mu      sync.Mutex
	records map[string]*chain.TransactionRecord
	errs    map[string]error
	calls   map[string]int
}

func newMockReader() *mockReader {
	return &mockReader{
		records: make(map[string]*chain.TransactionRecord),
		errs:    make(map[string]error),
		calls:   make(map[string]int),
	}
}

func (m *mockReader) FetchTransaction(_ context.Context, signature string) (*chain.TransactionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[signature]++
	if err, ok := m.errs[signature]; ok {
		return nil, err
	}
	if rec, ok := m.records[signature]; ok {
		return rec, nil
	}
	return nil, chain.ErrTransactionNotFound
}

func (m *mockReader) callCount(signature string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[signature]
}

// addPayment registers a settled transaction paying amount lamports to the
// test recipient.
func (m *mockReader) addPayment(signature string, amount int64) {
	m.records[signature] = &chain.TransactionRecord{
		Signature:    signature,
		AccountKeys:  []solana.PublicKey{testPayer, testRecipient},
		PreBalances:  []uint64{1_000_000, 500_000},
		PostBalances: []uint64{1_000_000 - uint64(amount) - 5000, 500_000 + uint64(amount)},
	}
}

func newTestService(reader *mockReader, store ledger.Store) *Service {
	return NewService(reader, store, testRecipient, "devnet", nil)
}

func paymentRequest(signature string, amount int64) Request {
	return Request{
		Signature:      signature,
		ExpectedAmount: amount,
		ExpectedAsset:  chain.AssetNative,
		Endpoint:       "/v1/query/sales",
		IPAddress:      "203.0.113.7",
		UserAgent:      "test-agent",
	}
}

func TestVerify_AcceptsExactPayment(t *testing.T) {
	reader := newMockReader()
	reader.addPayment("SIG_A", 5000)
	store := ledger.NewMemoryStore()
	svc := newTestService(reader, store)

	result := svc.Verify(context.Background(), paymentRequest("SIG_A", 5000))
	if !result.Accepted {
		t.Fatalf("Verify() rejected with reason %s, want accepted", result.Reason)
	}
	if result.Record == nil {
		t.Fatal("accepted result carries no ledger record")
	}
	if result.Record.Amount != 5000 {
		t.Errorf("recorded amount = %d, want 5000", result.Record.Amount)
	}
	if result.Record.UsageCount != 1 {
		t.Errorf("recorded usage count = %d, want 1", result.Record.UsageCount)
	}
	if result.Record.Network != "devnet" {
		t.Errorf("recorded network = %s, want devnet", result.Record.Network)
	}
	if result.Record.SenderAddress != testPayer.String() {
		t.Errorf("recorded sender = %s, want %s", result.Record.SenderAddress, testPayer)
	}

	stored, err := store.Lookup(context.Background(), "SIG_A")
	if err != nil {
		t.Fatalf("ledger row missing after accept: %v", err)
	}
	if stored.APIEndpoint != "/v1/query/sales" {
		t.Errorf("recorded endpoint = %s", stored.APIEndpoint)
	}
}

func TestVerify_AcceptsOverPayment(t *testing.T) {
	reader := newMockReader()
	reader.addPayment("SIG_OVER", 7500)
	svc := newTestService(reader, ledger.NewMemoryStore())

	result := svc.Verify(context.Background(), paymentRequest("SIG_OVER", 5000))
	if !result.Accepted {
		t.Fatalf("Verify() rejected over-payment with reason %s", result.Reason)
	}
	// The ledger records what was actually transferred, not the price.
	if result.Record.Amount != 7500 {
		t.Errorf("recorded amount = %d, want 7500", result.Record.Amount)
	}
}

func TestVerify_RejectsOneLamportShort(t *testing.T) {
	reader := newMockReader()
	reader.addPayment("SIG_SHORT", 4999)
	store := ledger.NewMemoryStore()
	svc := newTestService(reader, store)

	result := svc.Verify(context.Background(), paymentRequest("SIG_SHORT", 5000))
	if result.Accepted {
		t.Fatal("Verify() accepted an under-payment")
	}
	if result.Reason != apierrors.ErrCodeAmountBelowMinimum {
		t.Errorf("reason = %s, want %s", result.Reason, apierrors.ErrCodeAmountBelowMinimum)
	}
	if _, err := store.Lookup(context.Background(), "SIG_SHORT"); !errors.Is(err, ledger.ErrNotFound) {
		t.Error("rejected payment left a ledger row")
	}
}

func TestVerify_ReplayRejectedWithoutChainLookup(t *testing.T) {
	reader := newMockReader()
	reader.addPayment("SIG_A", 5000)
	store := ledger.NewMemoryStore()
	svc := newTestService(reader, store)

	first := svc.Verify(context.Background(), paymentRequest("SIG_A", 5000))
	if !first.Accepted {
		t.Fatalf("first Verify() rejected: %s", first.Reason)
	}

	second := svc.Verify(context.Background(), paymentRequest("SIG_A", 5000))
	if second.Accepted {
		t.Fatal("replay was accepted")
	}
	if !second.IsReplay {
		t.Error("replay rejection not marked IsReplay")
	}
	if second.Reason != apierrors.ErrCodeSignatureAlreadyUsed {
		t.Errorf("reason = %s, want %s", second.Reason, apierrors.ErrCodeSignatureAlreadyUsed)
	}
	if second.PriorUsageCount != 1 {
		t.Errorf("PriorUsageCount = %d, want 1", second.PriorUsageCount)
	}
	if second.FirstUsedAt.IsZero() {
		t.Error("replay rejection missing FirstUsedAt")
	}

	if got := reader.callCount("SIG_A"); got != 1 {
		t.Errorf("chain lookups = %d, want 1 (replay path must not re-verify)", got)
	}

	stored, _ := store.Lookup(context.Background(), "SIG_A")
	if stored.UsageCount != 2 {
		t.Errorf("stored usage count after replay = %d, want 2", stored.UsageCount)
	}
}

func TestVerify_IndependentSignatures(t *testing.T) {
	reader := newMockReader()
	reader.addPayment("SIG_A", 5000)
	reader.addPayment("SIG_B", 5000)
	svc := newTestService(reader, ledger.NewMemoryStore())

	if res := svc.Verify(context.Background(), paymentRequest("SIG_A", 5000)); !res.Accepted {
		t.Fatalf("SIG_A rejected: %s", res.Reason)
	}
	if res := svc.Verify(context.Background(), paymentRequest("SIG_A", 5000)); res.Accepted {
		t.Fatal("SIG_A replay accepted")
	}
	// A different valid signature is unaffected by the replayed one.
	if res := svc.Verify(context.Background(), paymentRequest("SIG_B", 5000)); !res.Accepted {
		t.Fatalf("SIG_B rejected: %s", res.Reason)
	}
}

func TestVerify_RejectionsAreIdempotent(t *testing.T) {
	reader := newMockReader()
	store := ledger.NewMemoryStore()
	svc := newTestService(reader, store)

	// An unknown signature rejects identically on every presentation and
	// never consumes anything.
	for i := 0; i < 3; i++ {
		result := svc.Verify(context.Background(), paymentRequest("SIG_MISSING", 5000))
		if result.Accepted {
			t.Fatal("unknown signature accepted")
		}
		if result.Reason != apierrors.ErrCodeTransactionNotFound {
			t.Errorf("reason = %s, want %s", result.Reason, apierrors.ErrCodeTransactionNotFound)
		}
		if result.IsReplay {
			t.Error("rejection misclassified as replay")
		}
	}
	if got := reader.callCount("SIG_MISSING"); got != 3 {
		t.Errorf("chain lookups = %d, want 3 (rejections re-verify on retry)", got)
	}
}

func TestVerify_MissingSignature(t *testing.T) {
	reader := newMockReader()
	svc := newTestService(reader, ledger.NewMemoryStore())

	result := svc.Verify(context.Background(), paymentRequest("", 5000))
	if result.Accepted {
		t.Fatal("empty signature accepted")
	}
	if result.Reason != apierrors.ErrCodeMissingPaymentProof {
		t.Errorf("reason = %s, want %s", result.Reason, apierrors.ErrCodeMissingPaymentProof)
	}
}

func TestVerify_FailedTransaction(t *testing.T) {
	reader := newMockReader()
	reader.errs["SIG_FAILED"] = chain.ErrTransactionFailed
	svc := newTestService(reader, ledger.NewMemoryStore())

	result := svc.Verify(context.Background(), paymentRequest("SIG_FAILED", 5000))
	if result.Reason != apierrors.ErrCodeTransactionFailed {
		t.Errorf("reason = %s, want %s", result.Reason, apierrors.ErrCodeTransactionFailed)
	}
}

func TestVerify_WrongRecipient(t *testing.T) {
	reader := newMockReader()
	other := solana.PublicKey{9}
	reader.records["SIG_WRONG"] = &chain.TransactionRecord{
		Signature:    "SIG_WRONG",
		AccountKeys:  []solana.PublicKey{testPayer, other},
		PreBalances:  []uint64{1_000_000, 0},
		PostBalances: []uint64{994_000, 5000},
	}
	svc := newTestService(reader, ledger.NewMemoryStore())

	result := svc.Verify(context.Background(), paymentRequest("SIG_WRONG", 5000))
	if result.Reason != apierrors.ErrCodeInvalidRecipient {
		t.Errorf("reason = %s, want %s", result.Reason, apierrors.ErrCodeInvalidRecipient)
	}
}

func TestVerify_WrongAsset(t *testing.T) {
	reader := newMockReader()
	reader.addPayment("SIG_A", 5000)
	svc := newTestService(reader, ledger.NewMemoryStore())

	req := paymentRequest("SIG_A", 5000)
	req.ExpectedAsset = "USDC"
	result := svc.Verify(context.Background(), req)
	if result.Reason != apierrors.ErrCodeWrongAsset {
		t.Errorf("reason = %s, want %s", result.Reason, apierrors.ErrCodeWrongAsset)
	}
}

func TestVerify_InfraErrorFailsClosed(t *testing.T) {
	reader := newMockReader()
	reader.errs["SIG_A"] = errors.New("rpc node unreachable")
	svc := newTestService(reader, ledger.NewMemoryStore())

	result := svc.Verify(context.Background(), paymentRequest("SIG_A", 5000))
	if result.Accepted {
		t.Fatal("infrastructure failure was accepted")
	}
	if result.Reason != apierrors.ErrCodeVerificationError {
		t.Errorf("reason = %s, want %s", result.Reason, apierrors.ErrCodeVerificationError)
	}
	if !result.Reason.IsRetryable() {
		t.Error("infrastructure rejection should be retryable")
	}
}

// faultyStore wraps a real store and injects failures per operation.
type faultyStore struct {
	ledger.Store
	lookupErr    error
	insertErr    error
	incrementErr error
}

func (s *faultyStore) Lookup(ctx context.Context, signature string) (*ledger.PaymentSignature, error) {
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	return s.Store.Lookup(ctx, signature)
}

func (s *faultyStore) InsertFirstUse(ctx context.Context, rec ledger.PaymentSignature) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	return s.Store.InsertFirstUse(ctx, rec)
}

func (s *faultyStore) IncrementUsage(ctx context.Context, signature string) error {
	if s.incrementErr != nil {
		return s.incrementErr
	}
	return s.Store.IncrementUsage(ctx, signature)
}

func TestVerify_LedgerLookupFailureFailsClosed(t *testing.T) {
	reader := newMockReader()
	reader.addPayment("SIG_A", 5000)
	store := &faultyStore{Store: ledger.NewMemoryStore(), lookupErr: errors.New("connection refused")}
	svc := newTestService(reader, store)

	result := svc.Verify(context.Background(), paymentRequest("SIG_A", 5000))
	if result.Accepted {
		t.Fatal("ledger outage was accepted")
	}
	if result.Reason != apierrors.ErrCodeVerificationError {
		t.Errorf("reason = %s, want %s", result.Reason, apierrors.ErrCodeVerificationError)
	}
	if got := reader.callCount("SIG_A"); got != 0 {
		t.Errorf("chain lookups = %d, want 0 (no chain read when the ledger is down)", got)
	}
}

func TestVerify_CommitFailureFailsClosed(t *testing.T) {
	reader := newMockReader()
	reader.addPayment("SIG_A", 5000)
	store := &faultyStore{Store: ledger.NewMemoryStore(), insertErr: errors.New("write timeout")}
	svc := newTestService(reader, store)

	result := svc.Verify(context.Background(), paymentRequest("SIG_A", 5000))
	if result.Accepted {
		t.Fatal("failed commit was accepted")
	}
	if result.Reason != apierrors.ErrCodeVerificationError {
		t.Errorf("reason = %s, want %s", result.Reason, apierrors.ErrCodeVerificationError)
	}
}

func TestVerify_IncrementFailureStillRejectsReplay(t *testing.T) {
	reader := newMockReader()
	reader.addPayment("SIG_A", 5000)
	inner := ledger.NewMemoryStore()
	store := &faultyStore{Store: inner}
	svc := newTestService(reader, store)

	if res := svc.Verify(context.Background(), paymentRequest("SIG_A", 5000)); !res.Accepted {
		t.Fatalf("first Verify() rejected: %s", res.Reason)
	}

	store.incrementErr = errors.New("write timeout")
	result := svc.Verify(context.Background(), paymentRequest("SIG_A", 5000))
	if result.Accepted {
		t.Fatal("replay accepted because counter bump failed")
	}
	if !result.IsReplay {
		t.Error("replay rejection not marked IsReplay")
	}
}

func TestVerify_ConcurrentSameSignatureSingleWinner(t *testing.T) {
	reader := newMockReader()
	reader.addPayment("SIG_RACE", 5000)
	store := ledger.NewMemoryStore()
	svc := newTestService(reader, store)

	const workers = 50
	var wg sync.WaitGroup
	results := make([]Result, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.Verify(context.Background(), paymentRequest("SIG_RACE", 5000))
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, res := range results {
		if res.Accepted {
			accepted++
			continue
		}
		if !res.IsReplay {
			t.Errorf("loser rejected with %s, want replay", res.Reason)
		}
	}
	if accepted != 1 {
		t.Fatalf("accepted = %d, want exactly 1", accepted)
	}

	// Winner recorded once, every loser bumped the counter once.
	stored, err := store.Lookup(context.Background(), "SIG_RACE")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if stored.UsageCount != workers {
		t.Errorf("usage count = %d, want %d", stored.UsageCount, workers)
	}
}
