package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/querygate/server/internal/circuitbreaker"
	"github.com/querygate/server/internal/config"
)

// rpcCall records one GetTransaction invocation for assertion.
type rpcCall struct {
	commitment rpc.CommitmentType
}

// mockRPCClient returns scripted responses in order and records each call.
type mockRPCClient struct {
	responses []mockResponse
	calls     []rpcCall
}

type mockResponse struct {
	result *rpc.GetTransactionResult
	err    error
}

func (m *mockRPCClient) GetTransaction(_ context.Context, _ solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	m.calls = append(m.calls, rpcCall{commitment: opts.Commitment})
	if len(m.responses) == 0 {
		return nil, rpc.ErrNotFound
	}
	next := m.responses[0]
	m.responses = m.responses[1:]
	return next.result, next.err
}

func newTestReader(client RPCClient) *Reader {
	cfg := config.ChainConfig{
		Network:        "devnet",
		LookupRetries:  2,
		RetryDelay:     config.Duration{Duration: time.Millisecond},
		RequestTimeout: config.Duration{Duration: time.Second},
	}
	breakers := circuitbreaker.NewManagerFromConfig(config.CircuitBreakerConfig{})
	return NewReader(client, cfg, breakers, nil)
}

func validSignature() string {
	return solana.Signature{}.String()
}

func failedTxResult() *rpc.GetTransactionResult {
	return &rpc.GetTransactionResult{
		Meta: &rpc.TransactionMeta{Err: map[string]any{"InstructionError": []any{}}},
	}
}

func TestFetchTransaction_MalformedSignature(t *testing.T) {
	client := &mockRPCClient{}
	reader := newTestReader(client)

	_, err := reader.FetchTransaction(context.Background(), "not-base58-!!!")
	if !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("FetchTransaction() error = %v, want ErrTransactionNotFound", err)
	}
	if len(client.calls) != 0 {
		t.Errorf("malformed signature reached the RPC: %d calls", len(client.calls))
	}
}

func TestFetchTransaction_NotFoundAfterRetries(t *testing.T) {
	client := &mockRPCClient{}
	reader := newTestReader(client)

	_, err := reader.FetchTransaction(context.Background(), validSignature())
	if !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("FetchTransaction() error = %v, want ErrTransactionNotFound", err)
	}

	// 2 attempts, each trying confirmed then finalized.
	if len(client.calls) != 4 {
		t.Fatalf("calls = %d, want 4", len(client.calls))
	}
	wantCommitments := []rpc.CommitmentType{
		rpc.CommitmentConfirmed, rpc.CommitmentFinalized,
		rpc.CommitmentConfirmed, rpc.CommitmentFinalized,
	}
	for i, want := range wantCommitments {
		if client.calls[i].commitment != want {
			t.Errorf("call %d commitment = %s, want %s", i, client.calls[i].commitment, want)
		}
	}
}

func TestFetchTransaction_FinalizedFallback(t *testing.T) {
	// Invisible at confirmed, present at finalized. The failed-on-chain
	// marker proves the finalized result was the one consumed.
	client := &mockRPCClient{
		responses: []mockResponse{
			{err: rpc.ErrNotFound},
			{result: failedTxResult()},
		},
	}
	reader := newTestReader(client)

	_, err := reader.FetchTransaction(context.Background(), validSignature())
	if !errors.Is(err, ErrTransactionFailed) {
		t.Fatalf("FetchTransaction() error = %v, want ErrTransactionFailed", err)
	}
	if len(client.calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(client.calls))
	}
	if client.calls[1].commitment != rpc.CommitmentFinalized {
		t.Errorf("fallback commitment = %s, want finalized", client.calls[1].commitment)
	}
}

func TestFetchTransaction_FailedOnChain(t *testing.T) {
	client := &mockRPCClient{
		responses: []mockResponse{{result: failedTxResult()}},
	}
	reader := newTestReader(client)

	_, err := reader.FetchTransaction(context.Background(), validSignature())
	if !errors.Is(err, ErrTransactionFailed) {
		t.Fatalf("FetchTransaction() error = %v, want ErrTransactionFailed", err)
	}
	if len(client.calls) != 1 {
		t.Errorf("calls = %d, want 1 (no retry after a definitive result)", len(client.calls))
	}
}

func TestFetchTransaction_RPCErrorPropagates(t *testing.T) {
	rpcErr := errors.New("node unreachable")
	client := &mockRPCClient{
		responses: []mockResponse{{err: rpcErr}},
	}
	reader := newTestReader(client)

	_, err := reader.FetchTransaction(context.Background(), validSignature())
	if err == nil {
		t.Fatal("FetchTransaction() error = nil, want RPC error")
	}
	if errors.Is(err, ErrTransactionNotFound) || errors.Is(err, ErrTransactionFailed) {
		t.Fatalf("infra error was misclassified as a payment verdict: %v", err)
	}
}

func TestFetchTransaction_SecondAttemptSucceeds(t *testing.T) {
	client := &mockRPCClient{
		responses: []mockResponse{
			{err: rpc.ErrNotFound},
			{err: rpc.ErrNotFound},
			{result: failedTxResult()},
		},
	}
	reader := newTestReader(client)

	_, err := reader.FetchTransaction(context.Background(), validSignature())
	if !errors.Is(err, ErrTransactionFailed) {
		t.Fatalf("FetchTransaction() error = %v, want ErrTransactionFailed", err)
	}
	if len(client.calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(client.calls))
	}
}

func TestFetchTransaction_ContextCancelledDuringDelay(t *testing.T) {
	client := &mockRPCClient{}
	cfg := config.ChainConfig{
		Network:        "devnet",
		LookupRetries:  3,
		RetryDelay:     config.Duration{Duration: time.Minute},
		RequestTimeout: config.Duration{Duration: time.Second},
	}
	breakers := circuitbreaker.NewManagerFromConfig(config.CircuitBreakerConfig{})
	reader := NewReader(client, cfg, breakers, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := reader.FetchTransaction(ctx, validSignature())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("FetchTransaction() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("cancellation did not interrupt the retry delay")
	}
}
