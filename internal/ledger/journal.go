package ledger

import (
	"fmt"

	fpmath "DexLedger/internal/math"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeTransfer JournalType = iota
	JournalTypeMint
	JournalTypeBurn
	JournalTypeEscrowDeposit
	JournalTypeEscrowWithdrawal
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeTransfer:
		return "transfer"
	case JournalTypeMint:
		return "mint"
	case JournalTypeBurn:
		return "burn"
	case JournalTypeEscrowDeposit:
		return "escrow_deposit"
	case JournalTypeEscrowWithdrawal:
		return "escrow_withdrawal"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID      // Unique identifier
	BatchID       uuid.UUID      // Groups entries of one command
	EventRef      string         // Idempotency key of source event
	Sequence      int64          // Global event sequence
	DebitAccount  AccountKey     // Account whose balance increases
	CreditAccount AccountKey     // Account whose balance decreases
	AssetID       AssetID        // Asset being moved
	Amount        fpmath.Balance // Always positive
	JournalType   JournalType    // Entry type
	Timestamp     int64          // Event timestamp (epoch microseconds)
}

// Batch represents the journal entries of one accepted command
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed. Each entry moves one positive
// amount from its credit account to its debit account, so every entry is
// balanced on its own. A batch may be empty: NFT and oracle commands move no
// funds.
func (b *Batch) Validate() error {
	for _, j := range b.Journals {
		if j.Amount.IsZero() {
			return fmt.Errorf("journal %s has zero amount", j.JournalID)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
			return fmt.Errorf("journal %s mixes assets", j.JournalID)
		}
	}

	return nil
}

// TouchedAccounts lists every account a batch moved, in journal order and
// without duplicates.
func (b *Batch) TouchedAccounts() []AccountKey {
	seen := make(map[AccountKey]struct{}, len(b.Journals)*2)
	keys := make([]AccountKey, 0, len(b.Journals)*2)
	for _, j := range b.Journals {
		for _, k := range [2]AccountKey{j.CreditAccount, j.DebitAccount} {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	return keys
}
