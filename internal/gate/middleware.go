package gate

import (
	"context"
	"net/http"
	"strings"

	apierrors "github.com/querygate/server/internal/errors"
	"github.com/querygate/server/internal/logger"
	"github.com/querygate/server/internal/metrics"
	"github.com/querygate/server/internal/verify"
	"github.com/querygate/server/pkg/responders"
)

// SignatureHeader is the request header carrying the claimed payment proof.
const SignatureHeader = "X-Payment-Signature"

type contextKey string

const contextKeyProvenance contextKey = "gate.provenance"

// Requirement is the payment tuple a request must satisfy.
type Requirement struct {
	Endpoint  string `json:"endpoint"`
	Amount    int64  `json:"amount"` // smallest units
	Asset     string `json:"asset"`
	Recipient string `json:"recipient"`
	Network   string `json:"network"`
}

// Provenance is attached to the request context after an accepted
// verification so downstream handlers can echo it back to the caller.
type Provenance struct {
	Signature     string `json:"signature"`
	Network       string `json:"network"`
	Amount        int64  `json:"amount"`
	Asset         string `json:"asset"`
	Verified      bool   `json:"verified"`
	DevModeBypass bool   `json:"devModeBypass,omitempty"`
}

// RequirementResolver derives the payment requirement for a request.
type RequirementResolver func(*http.Request) (Requirement, error)

// Verifier adjudicates a payment claim.
type Verifier interface {
	Verify(ctx context.Context, req verify.Request) verify.Result
}

// Gate intercepts requests and enforces payment verification before the
// downstream handler runs.
type Gate struct {
	verifier Verifier
	metrics  *metrics.Metrics

	// devModeSkipVerification disables the engine entirely. Every request is
	// accepted without touching the chain or the ledger. Startup validation
	// already screamed about this; the middleware additionally tags each
	// bypassed request so the bypass is visible in logs and responses.
	devModeSkipVerification bool
}

// New creates the gate middleware around a verifier.
func New(verifier Verifier, m *metrics.Metrics, devModeSkipVerification bool) *Gate {
	return &Gate{
		verifier:                verifier,
		metrics:                 m,
		devModeSkipVerification: devModeSkipVerification,
	}
}

// Middleware enforces payment checks before calling the downstream handler.
func (g *Gate) Middleware(resolver RequirementResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requirement, err := resolver(r)
			if err != nil {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeDatasetNotFound, err.Error())
				return
			}

			if g.devModeSkipVerification {
				log := logger.FromContext(r.Context())
				log.Warn().
					Str("endpoint", requirement.Endpoint).
					Msg("gate.dev_mode_bypass")
				g.metrics.RecordDevModeBypass()
				ctx := withProvenance(r.Context(), Provenance{
					Network:       requirement.Network,
					Verified:      true,
					DevModeBypass: true,
				})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			signature := strings.TrimSpace(r.Header.Get(SignatureHeader))
			if signature == "" {
				// No proof presented: answer with the requirement so the
				// client can construct the payment.
				responders.JSON(w, http.StatusPaymentRequired, map[string]any{
					"error":    "payment required",
					"accepts":  []Requirement{requirement},
					"header":   SignatureHeader,
					"reason":   apierrors.ErrCodeMissingPaymentProof,
					"endpoint": requirement.Endpoint,
				})
				return
			}

			result := g.verifier.Verify(r.Context(), verify.Request{
				Signature:      signature,
				ExpectedAmount: requirement.Amount,
				ExpectedAsset:  requirement.Asset,
				Endpoint:       requirement.Endpoint,
				IPAddress:      getRemoteAddr(r),
				UserAgent:      r.UserAgent(),
			})

			if !result.Accepted {
				g.writeRejection(w, result)
				return
			}

			ctx := withProvenance(r.Context(), Provenance{
				Signature: result.Record.Signature,
				Network:   result.Record.Network,
				Amount:    result.Record.Amount,
				Asset:     result.Record.Asset,
				Verified:  true,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeRejection maps a verification rejection to the wire.
// Replay rejections must be distinguishable by callers from ordinary invalid
// payments: they carry isReplay plus the prior usage facts, and the error
// code maps to 409 Conflict rather than 402.
func (g *Gate) writeRejection(w http.ResponseWriter, result verify.Result) {
	details := map[string]interface{}{
		"isReplay": result.IsReplay,
	}
	if result.IsReplay {
		details["priorUsageCount"] = result.PriorUsageCount
		if !result.FirstUsedAt.IsZero() {
			details["firstUsedAt"] = result.FirstUsedAt
		}
	}
	apierrors.WriteError(w, result.Reason, rejectionMessage(result), details)
}

func rejectionMessage(result verify.Result) string {
	switch result.Reason {
	case apierrors.ErrCodeSignatureAlreadyUsed:
		return "This payment proof has already been consumed. Each signature authorizes exactly one request."
	case apierrors.ErrCodeTransactionNotFound:
		return "Transaction not found on-chain. It may not have propagated yet; retry shortly or resubmit."
	case apierrors.ErrCodeTransactionFailed:
		return "Transaction landed on-chain but failed. Submit a new, successful payment."
	case apierrors.ErrCodeInvalidRecipient, apierrors.ErrCodeNoPositiveTransfer:
		return "Transaction did not transfer funds to the required recipient."
	case apierrors.ErrCodeWrongAsset:
		return "Transaction transferred the wrong asset."
	case apierrors.ErrCodeAmountBelowMinimum:
		return "Transferred amount is below the required payment."
	case apierrors.ErrCodeVerificationError:
		return "Payment verification is temporarily unavailable. The request was not charged; retry later."
	case apierrors.ErrCodeMissingPaymentProof:
		return "No payment proof presented."
	default:
		return "Payment verification failed."
	}
}

func withProvenance(ctx context.Context, p Provenance) context.Context {
	return context.WithValue(ctx, contextKeyProvenance, p)
}

// ProvenanceFromContext retrieves the verified payment provenance, if any.
func ProvenanceFromContext(ctx context.Context) (Provenance, bool) {
	p, ok := ctx.Value(contextKeyProvenance).(Provenance)
	return p, ok
}

// getRemoteAddr extracts client IP, respecting X-Forwarded-For.
func getRemoteAddr(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
