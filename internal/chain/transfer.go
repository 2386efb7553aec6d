package chain

import (
	"github.com/gagliardetto/solana-go"
)

// ExtractTransfer derives the value actually transferred to the recipient
// from a transaction record, as the balance delta between the pre- and
// post-execution snapshots.
//
// The recipient must appear in the account list (ErrWrongRecipient otherwise)
// and its balance must strictly increase (ErrNoPositiveTransfer otherwise -
// an account that only paid fees or relayed funds is present with a flat or
// decreased balance). The sender is identified best-effort as the first other
// account whose balance strictly decreased; it carries no weight in any
// pass/fail decision.
//
// Only native transfers are covered: token transfers change token balance
// records, not native balances, and land here as ErrNoPositiveTransfer.
func ExtractTransfer(record *TransactionRecord, recipient solana.PublicKey) (TransferDetails, error) {
	idx := -1
	for i, key := range record.AccountKeys {
		if key.Equals(recipient) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return TransferDetails{}, ErrWrongRecipient
	}
	if idx >= len(record.PreBalances) || idx >= len(record.PostBalances) {
		return TransferDetails{}, ErrNoPositiveTransfer
	}

	delta := int64(record.PostBalances[idx]) - int64(record.PreBalances[idx])
	if delta <= 0 {
		return TransferDetails{}, ErrNoPositiveTransfer
	}

	details := TransferDetails{
		Recipient: recipient,
		Amount:    delta,
		Asset:     AssetNative,
	}

	for i, key := range record.AccountKeys {
		if i == idx || i >= len(record.PreBalances) || i >= len(record.PostBalances) {
			continue
		}
		if int64(record.PostBalances[i])-int64(record.PreBalances[i]) < 0 {
			sender := key
			details.Sender = &sender
			break
		}
	}

	return details, nil
}
