package verify

import (
	"time"

	apierrors "github.com/querygate/server/internal/errors"
	"github.com/querygate/server/internal/ledger"
)

// Request carries everything needed to adjudicate one payment claim.
type Request struct {
	Signature      string // claimed transaction signature
	ExpectedAmount int64  // required payment in smallest units
	ExpectedAsset  string // required asset identifier
	Endpoint       string // logical operation the payment authorizes
	IPAddress      string // provenance metadata, stored for forensics
	UserAgent      string // provenance metadata, stored for forensics
}

// Result is the typed outcome of a verification. Nothing in the engine
// propagates as an unhandled fault to callers; every failure mode lands here
// as a rejection with a machine-readable reason.
type Result struct {
	Accepted bool
	Reason   apierrors.ErrorCode // empty when accepted

	// IsReplay marks rejections caused by a previously consumed signature,
	// so operators and tests can tell intentional abuse from honest mistakes.
	IsReplay        bool
	PriorUsageCount int64     // usage count before this presentation, replay only
	FirstUsedAt     time.Time // when the signature was first accepted, replay only

	// Record is the ledger row created by an accepted verification.
	Record *ledger.PaymentSignature
}

// rejected builds a non-replay rejection.
func rejected(reason apierrors.ErrorCode) Result {
	return Result{Reason: reason}
}

// replayRejected builds a replay rejection carrying the prior usage facts.
func replayRejected(prior *ledger.PaymentSignature) Result {
	res := Result{
		Reason:   apierrors.ErrCodeSignatureAlreadyUsed,
		IsReplay: true,
	}
	if prior != nil {
		res.PriorUsageCount = prior.UsageCount
		res.FirstUsedAt = prior.FirstUsedAt
	}
	return res
}
