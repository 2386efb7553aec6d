package verify

import (
	"context"
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/querygate/server/internal/chain"
	apierrors "github.com/querygate/server/internal/errors"
	"github.com/querygate/server/internal/ledger"
	"github.com/querygate/server/internal/logger"
	"github.com/querygate/server/internal/metrics"
)

// commitTimeout bounds the ledger commit once it has been attempted. The
// commit deliberately runs on a context detached from request cancellation:
// abandoning it mid-way would leave the ledger state ambiguous.
const commitTimeout = 10 * time.Second

// ChainReader fetches a settled transaction record by signature.
type ChainReader interface {
	FetchTransaction(ctx context.Context, signature string) (*chain.TransactionRecord, error)
}

// Service sequences ledger lookup, chain read, transfer validation, and
// ledger commit into one atomic-effect verification per request.
type Service struct {
	reader    ChainReader
	store     ledger.Store
	recipient solana.PublicKey
	network   string
	metrics   *metrics.Metrics
	clock     func() time.Time
}

// NewService creates a verification orchestrator.
func NewService(reader ChainReader, store ledger.Store, recipient solana.PublicKey, network string, m *metrics.Metrics) *Service {
	return &Service{
		reader:    reader,
		store:     store,
		recipient: recipient,
		network:   network,
		metrics:   m,
		clock:     time.Now,
	}
}

// Verify adjudicates one payment claim.
//
// Already-seen signatures never re-verify on-chain: the replay path is a
// single ledger read plus a best-effort counter bump. Fresh signatures go
// through chain lookup, transfer validation against the configured recipient,
// and a conditional first-use insert; losing the insert race to a concurrent
// verifier is reclassified as a replay, not an error. All monetary
// comparisons are integer comparisons in smallest units. Every infrastructure
// failure rejects - the engine never fails open.
func (s *Service) Verify(ctx context.Context, req Request) Result {
	start := s.clock()
	result := s.verify(ctx, req)

	outcome := "rejected"
	if result.Accepted {
		outcome = "accepted"
	}
	s.metrics.RecordVerification(outcome, string(result.Reason), time.Since(start))
	if result.IsReplay {
		s.metrics.RecordReplay(req.Endpoint)
	}
	if result.Accepted && result.Record != nil {
		s.metrics.RecordAmountVerified(result.Record.Asset, result.Record.Amount)
	}

	return result
}

func (s *Service) verify(ctx context.Context, req Request) Result {
	log := logger.FromContext(ctx)

	if req.Signature == "" {
		return rejected(apierrors.ErrCodeMissingPaymentProof)
	}

	// Ledger check: a hit means the signature was consumed before.
	prior, err := s.store.Lookup(ctx, req.Signature)
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		log.Error().
			Err(err).
			Str("signature", logger.TruncateAddress(req.Signature)).
			Msg("verify.ledger_lookup_failed")
		return rejected(apierrors.ErrCodeVerificationError)
	}
	if prior != nil {
		s.recordReplay(ctx, req.Signature)
		log.Warn().
			Str("signature", logger.TruncateAddress(req.Signature)).
			Str("endpoint", req.Endpoint).
			Int64("prior_usage", prior.UsageCount).
			Time("first_used_at", prior.FirstUsedAt).
			Msg("verify.replay_detected")
		return replayRejected(prior)
	}

	// Chain lookup.
	record, err := s.reader.FetchTransaction(ctx, req.Signature)
	if err != nil {
		switch {
		case errors.Is(err, chain.ErrTransactionNotFound):
			return rejected(apierrors.ErrCodeTransactionNotFound)
		case errors.Is(err, chain.ErrTransactionFailed):
			return rejected(apierrors.ErrCodeTransactionFailed)
		default:
			log.Error().
				Err(err).
				Str("signature", logger.TruncateAddress(req.Signature)).
				Msg("verify.chain_lookup_failed")
			return rejected(apierrors.ErrCodeVerificationError)
		}
	}

	// Transfer validation against the configured recipient.
	details, err := chain.ExtractTransfer(record, s.recipient)
	if err != nil {
		switch {
		case errors.Is(err, chain.ErrWrongRecipient):
			return rejected(apierrors.ErrCodeInvalidRecipient)
		case errors.Is(err, chain.ErrNoPositiveTransfer):
			return rejected(apierrors.ErrCodeNoPositiveTransfer)
		default:
			return rejected(apierrors.ErrCodeVerificationError)
		}
	}
	if details.Asset != req.ExpectedAsset {
		return rejected(apierrors.ErrCodeWrongAsset)
	}
	// Over-payment is accepted and not refunded; only under-payment rejects.
	if details.Amount < req.ExpectedAmount {
		log.Info().
			Str("signature", logger.TruncateAddress(req.Signature)).
			Int64("amount", details.Amount).
			Int64("expected", req.ExpectedAmount).
			Msg("verify.amount_below_minimum")
		return rejected(apierrors.ErrCodeAmountBelowMinimum)
	}

	// Commit first use. The conditional insert is the only replay-safe step:
	// two concurrent verifications of the same fresh signature both reach
	// this point, but the storage uniqueness constraint lets only one win.
	rec := ledger.PaymentSignature{
		Signature:       req.Signature,
		Network:         s.network,
		Asset:           details.Asset,
		Amount:          details.Amount,
		ReceiverAddress: details.Recipient.String(),
		APIEndpoint:     req.Endpoint,
		FirstUsedAt:     s.clock().UTC(),
		UsageCount:      1,
		IPAddress:       req.IPAddress,
		UserAgent:       req.UserAgent,
	}
	if details.Sender != nil {
		rec.SenderAddress = details.Sender.String()
	}

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	err = s.store.InsertFirstUse(commitCtx, rec)
	if errors.Is(err, ledger.ErrDuplicateSignature) {
		// Lost the race to a concurrent verifier presenting the same
		// signature: same outcome as a ledger-check hit.
		s.recordReplay(ctx, req.Signature)
		existing, lookupErr := s.store.Lookup(ctx, req.Signature)
		if lookupErr != nil {
			existing = nil
		}
		log.Warn().
			Str("signature", logger.TruncateAddress(req.Signature)).
			Str("endpoint", req.Endpoint).
			Msg("verify.lost_commit_race")
		return replayRejected(existing)
	}
	if err != nil {
		log.Error().
			Err(err).
			Str("signature", logger.TruncateAddress(req.Signature)).
			Msg("verify.commit_failed")
		return rejected(apierrors.ErrCodeVerificationError)
	}

	log.Info().
		Str("signature", logger.TruncateAddress(req.Signature)).
		Str("endpoint", req.Endpoint).
		Int64("amount", details.Amount).
		Str("asset", details.Asset).
		Msg("verify.payment_accepted")

	return Result{Accepted: true, Record: &rec}
}

// recordReplay bumps the reuse counter for an already-consumed signature.
// Failures are logged and swallowed: the request is correctly rejected
// whether or not the counter update lands.
func (s *Service) recordReplay(ctx context.Context, signature string) {
	incCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	if err := s.store.IncrementUsage(incCtx, signature); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().
			Err(err).
			Str("signature", logger.TruncateAddress(signature)).
			Msg("verify.usage_increment_failed")
	}
}
