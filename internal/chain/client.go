package chain

import (
	"context"
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/querygate/server/internal/circuitbreaker"
	"github.com/querygate/server/internal/config"
	"github.com/querygate/server/internal/logger"
	"github.com/querygate/server/internal/metrics"
)

// RPCClient is the subset of the Solana RPC surface the reader needs.
// Tests mock this interface instead of hitting a real node.
type RPCClient interface {
	GetTransaction(
		ctx context.Context,
		signature solana.Signature,
		opts *rpc.GetTransactionOpts,
	) (*rpc.GetTransactionResult, error)
}

// Reader fetches settled transactions from a Solana node by signature.
// It is a pure observer of ledger state and keeps no state across calls.
type Reader struct {
	rpc            RPCClient
	breakers       *circuitbreaker.Manager
	metrics        *metrics.Metrics
	network        string
	lookupRetries  int
	retryDelay     time.Duration
	requestTimeout time.Duration
}

// NewReader creates a chain reader from application config.
func NewReader(rpcClient RPCClient, cfg config.ChainConfig, breakers *circuitbreaker.Manager, m *metrics.Metrics) *Reader {
	retries := cfg.LookupRetries
	if retries <= 0 {
		retries = 2
	}
	delay := cfg.RetryDelay.Duration
	if delay <= 0 {
		delay = 2 * time.Second
	}
	timeout := cfg.RequestTimeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Reader{
		rpc:            rpcClient,
		breakers:       breakers,
		metrics:        m,
		network:        cfg.Network,
		lookupRetries:  retries,
		retryDelay:     delay,
		requestTimeout: timeout,
	}
}

// FetchTransaction looks up a transaction by signature.
//
// Each attempt queries at confirmed commitment first and falls back to
// finalized when the confirmed lookup is empty: a just-broadcast transaction
// may not yet be visible at the weaker level while an older one may only be
// served at finalized by some nodes. The whole sequence is retried a small
// fixed number of times with a fixed delay to absorb propagation latency.
//
// Returns ErrTransactionNotFound when all attempts exhaust, and
// ErrTransactionFailed when the transaction landed but errored on-chain.
func (r *Reader) FetchTransaction(ctx context.Context, signature string) (*TransactionRecord, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		// Malformed signatures simply fail to resolve.
		return nil, ErrTransactionNotFound
	}

	log := logger.FromContext(ctx)

	var result *rpc.GetTransactionResult
	for attempt := 0; attempt < r.lookupRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(r.retryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		result, err = r.getTransaction(ctx, sig, rpc.CommitmentConfirmed)
		if err != nil {
			return nil, err
		}
		if result == nil {
			result, err = r.getTransaction(ctx, sig, rpc.CommitmentFinalized)
			if err != nil {
				return nil, err
			}
		}
		if result != nil {
			break
		}

		log.Debug().
			Str("signature", logger.TruncateAddress(signature)).
			Int("attempt", attempt+1).
			Int("max_attempts", r.lookupRetries).
			Msg("chain.transaction_not_yet_visible")
	}

	if result == nil {
		return nil, ErrTransactionNotFound
	}
	if result.Meta == nil {
		return nil, ErrTransactionNotFound
	}
	if result.Meta.Err != nil {
		log.Info().
			Str("signature", logger.TruncateAddress(signature)).
			Interface("chain_error", result.Meta.Err).
			Msg("chain.transaction_failed_on_chain")
		return nil, ErrTransactionFailed
	}

	return r.toRecord(signature, result)
}

// getTransaction performs a single bounded RPC lookup at the given commitment.
// A not-found response is reported as a nil result, not an error.
func (r *Reader) getTransaction(ctx context.Context, sig solana.Signature, commitment rpc.CommitmentType) (*rpc.GetTransactionResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.requestTimeout)
	defer cancel()

	maxVersion := uint64(0)
	opts := &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	}

	start := time.Now()
	out, err := r.breakers.Execute(circuitbreaker.ServiceChainRPC, func() (interface{}, error) {
		res, rpcErr := r.rpc.GetTransaction(callCtx, sig, opts)
		if errors.Is(rpcErr, rpc.ErrNotFound) {
			// Not-found is a normal outcome, not a breaker-worthy failure.
			return (*rpc.GetTransactionResult)(nil), nil
		}
		return res, rpcErr
	})
	r.metrics.ObserveRPCCall("GetTransaction", r.network, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	result, _ := out.(*rpc.GetTransactionResult)
	return result, nil
}

// toRecord reduces the raw RPC result to the account list and balance
// snapshots the transfer extractor needs.
func (r *Reader) toRecord(signature string, result *rpc.GetTransactionResult) (*TransactionRecord, error) {
	tx, err := result.Transaction.GetTransaction()
	if err != nil {
		return nil, ErrTransactionNotFound
	}

	record := &TransactionRecord{
		Signature:    signature,
		Slot:         result.Slot,
		AccountKeys:  tx.Message.AccountKeys,
		PreBalances:  result.Meta.PreBalances,
		PostBalances: result.Meta.PostBalances,
	}
	if result.BlockTime != nil {
		record.BlockTime = result.BlockTime.Time()
	}
	return record, nil
}
