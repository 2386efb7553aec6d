package errors

// ErrorCode represents a machine-readable error identifier for client error handling.
type ErrorCode string

// Payment proof errors (request-level)
const (
	// No signature was presented with the request
	ErrCodeMissingPaymentProof ErrorCode = "missing_payment_proof"
	ErrCodeInvalidSignature    ErrorCode = "invalid_signature"
)

// Chain verification failures
const (
	ErrCodeTransactionNotFound ErrorCode = "transaction_not_found"
	ErrCodeTransactionFailed   ErrorCode = "transaction_failed"
)

// Transfer validation failures
const (
	ErrCodeInvalidRecipient   ErrorCode = "invalid_recipient"
	ErrCodeNoPositiveTransfer ErrorCode = "no_positive_transfer"
	ErrCodeWrongAsset         ErrorCode = "wrong_asset"
	ErrCodeAmountBelowMinimum ErrorCode = "amount_below_minimum"
)

// Replay protection
const (
	ErrCodeSignatureAlreadyUsed ErrorCode = "signature_already_used"
)

// Infrastructure failures (always fail closed)
const (
	ErrCodeVerificationError ErrorCode = "verification_error"
	ErrCodeRPCError          ErrorCode = "rpc_error"
	ErrCodeDatabaseError     ErrorCode = "database_error"
)

// Request/resource errors
const (
	ErrCodeMissingField     ErrorCode = "missing_field"
	ErrCodeInvalidField     ErrorCode = "invalid_field"
	ErrCodeDatasetNotFound  ErrorCode = "dataset_not_found"
	ErrCodePaymentNotFound  ErrorCode = "payment_not_found"
	ErrCodeInternalError    ErrorCode = "internal_error"
	ErrCodeConfigError      ErrorCode = "config_error"
	ErrCodeServiceNotReady  ErrorCode = "service_not_ready"
	ErrCodeRateLimitReached ErrorCode = "rate_limit_reached"
)

// IsRetryable returns whether an error code represents a retryable error.
// Retryable errors are transient infrastructure issues, not validation failures.
// A replayed signature is never retryable: the signature is consumed forever.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeVerificationError,
		ErrCodeRPCError,
		ErrCodeDatabaseError,
		ErrCodeServiceNotReady,
		ErrCodeTransactionNotFound: // may simply not have propagated yet
		return true
	default:
		return false
	}
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	// 400 Bad Request - malformed input
	case ErrCodeInvalidSignature,
		ErrCodeMissingField,
		ErrCodeInvalidField:
		return 400

	// 402 Payment Required - payment absent or does not satisfy requirements
	case ErrCodeMissingPaymentProof,
		ErrCodeTransactionNotFound,
		ErrCodeTransactionFailed,
		ErrCodeInvalidRecipient,
		ErrCodeNoPositiveTransfer,
		ErrCodeWrongAsset,
		ErrCodeAmountBelowMinimum:
		return 402

	// 404 Not Found
	case ErrCodeDatasetNotFound,
		ErrCodePaymentNotFound:
		return 404

	// 409 Conflict - this exact proof was already consumed (replay)
	case ErrCodeSignatureAlreadyUsed:
		return 409

	// 429 Too Many Requests
	case ErrCodeRateLimitReached:
		return 429

	// 502 Bad Gateway - chain node unreachable
	case ErrCodeRPCError:
		return 502

	// 503 Service Unavailable - cannot safely adjudicate
	case ErrCodeVerificationError,
		ErrCodeDatabaseError,
		ErrCodeServiceNotReady:
		return 503

	default:
		return 500
	}
}
