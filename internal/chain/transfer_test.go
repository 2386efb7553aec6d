package chain

import (
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
)

var (
	payer     = solana.PublicKey{1}
	recipient = solana.PublicKey{2}
	bystander = solana.PublicKey{3}
)

func TestExtractTransfer_PositiveDelta(t *testing.T) {
	record := &TransactionRecord{
		AccountKeys:  []solana.PublicKey{payer, recipient},
		PreBalances:  []uint64{1_000_000, 500_000},
		PostBalances: []uint64{994_000, 505_000},
	}

	details, err := ExtractTransfer(record, recipient)
	if err != nil {
		t.Fatalf("ExtractTransfer() error = %v", err)
	}
	if details.Amount != 5000 {
		t.Errorf("Amount = %d, want 5000", details.Amount)
	}
	if details.Asset != AssetNative {
		t.Errorf("Asset = %s, want %s", details.Asset, AssetNative)
	}
	if details.Sender == nil || !details.Sender.Equals(payer) {
		t.Errorf("Sender = %v, want %s", details.Sender, payer)
	}
}

func TestExtractTransfer_RecipientAbsent(t *testing.T) {
	record := &TransactionRecord{
		AccountKeys:  []solana.PublicKey{payer, bystander},
		PreBalances:  []uint64{1_000_000, 500_000},
		PostBalances: []uint64{994_000, 505_000},
	}

	_, err := ExtractTransfer(record, recipient)
	if !errors.Is(err, ErrWrongRecipient) {
		t.Fatalf("ExtractTransfer() error = %v, want ErrWrongRecipient", err)
	}
}

func TestExtractTransfer_ZeroDelta(t *testing.T) {
	// Recipient present but untouched. A fee payer that merely references
	// the recipient account must not count as a payment.
	record := &TransactionRecord{
		AccountKeys:  []solana.PublicKey{payer, recipient},
		PreBalances:  []uint64{1_000_000, 500_000},
		PostBalances: []uint64{995_000, 500_000},
	}

	_, err := ExtractTransfer(record, recipient)
	if !errors.Is(err, ErrNoPositiveTransfer) {
		t.Fatalf("ExtractTransfer() error = %v, want ErrNoPositiveTransfer", err)
	}
}

func TestExtractTransfer_NegativeDelta(t *testing.T) {
	record := &TransactionRecord{
		AccountKeys:  []solana.PublicKey{payer, recipient},
		PreBalances:  []uint64{1_000_000, 500_000},
		PostBalances: []uint64{1_004_000, 495_000},
	}

	_, err := ExtractTransfer(record, recipient)
	if !errors.Is(err, ErrNoPositiveTransfer) {
		t.Fatalf("ExtractTransfer() error = %v, want ErrNoPositiveTransfer", err)
	}
}

func TestExtractTransfer_SingleLamport(t *testing.T) {
	// The smallest representable increase is still a positive transfer;
	// whether it is enough is the verifier's decision, not the extractor's.
	record := &TransactionRecord{
		AccountKeys:  []solana.PublicKey{payer, recipient},
		PreBalances:  []uint64{1_000_000, 500_000},
		PostBalances: []uint64{999_999, 500_001},
	}

	details, err := ExtractTransfer(record, recipient)
	if err != nil {
		t.Fatalf("ExtractTransfer() error = %v", err)
	}
	if details.Amount != 1 {
		t.Errorf("Amount = %d, want 1", details.Amount)
	}
}

func TestExtractTransfer_SenderHeuristicSkipsFlatAccounts(t *testing.T) {
	record := &TransactionRecord{
		AccountKeys:  []solana.PublicKey{bystander, recipient, payer},
		PreBalances:  []uint64{100, 500_000, 1_000_000},
		PostBalances: []uint64{100, 505_000, 994_000},
	}

	details, err := ExtractTransfer(record, recipient)
	if err != nil {
		t.Fatalf("ExtractTransfer() error = %v", err)
	}
	if details.Sender == nil || !details.Sender.Equals(payer) {
		t.Errorf("Sender = %v, want %s", details.Sender, payer)
	}
}

func TestExtractTransfer_MissingBalanceEntry(t *testing.T) {
	// Balance snapshots shorter than the account list never panic.
	record := &TransactionRecord{
		AccountKeys:  []solana.PublicKey{payer, recipient},
		PreBalances:  []uint64{1_000_000},
		PostBalances: []uint64{994_000},
	}

	_, err := ExtractTransfer(record, recipient)
	if !errors.Is(err, ErrNoPositiveTransfer) {
		t.Fatalf("ExtractTransfer() error = %v, want ErrNoPositiveTransfer", err)
	}
}
