package chain

import (
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"
)

// AssetNative is the asset identifier for native SOL transfers.
// Amounts are expressed in lamports, the smallest indivisible unit.
const AssetNative = "SOL"

// ErrTransactionNotFound is returned when no transaction with the given
// signature is visible on-chain after all lookup attempts.
var ErrTransactionNotFound = errors.New("chain: transaction not found")

// ErrTransactionFailed is returned when the transaction landed on-chain but
// its instructions errored. Distinct from not-found because it changes the
// user-facing message: waiting longer will not help.
var ErrTransactionFailed = errors.New("chain: transaction failed on-chain")

// ErrWrongRecipient is returned when the configured recipient does not appear
// in the transaction's account list at all.
var ErrWrongRecipient = errors.New("chain: recipient not touched by transaction")

// ErrNoPositiveTransfer is returned when the recipient appears in the account
// list but its balance did not increase (e.g. it was only a fee payer).
var ErrNoPositiveTransfer = errors.New("chain: no positive transfer to recipient")

// TransactionRecord is the decoded view of a settled transaction that the
// transfer extractor operates on: the ordered account list and the pre/post
// execution balance snapshots, indexed identically.
type TransactionRecord struct {
	Signature    string
	Slot         uint64
	BlockTime    time.Time
	AccountKeys  []solana.PublicKey
	PreBalances  []uint64 // lamports per account, before execution
	PostBalances []uint64 // lamports per account, after execution
}

// TransferDetails describes the value actually transferred to the recipient.
type TransferDetails struct {
	Recipient solana.PublicKey
	Sender    *solana.PublicKey // best-effort provenance, may be nil
	Amount    int64             // lamports, always positive
	Asset     string            // asset class of the transfer (AssetNative)
}
