package query

import (
	"errors"

	fpmath "DexLedger/internal/math"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a projection row does not exist.
var ErrNotFound = errors.New("not found")

// PoolResponse is a pool with its custody, as projected.
type PoolResponse struct {
	PoolID         uint32         `json:"pool_id"`
	AssetA         uint32         `json:"asset_a"`
	AssetB         uint32         `json:"asset_b"`
	LPToken        uint32         `json:"lp_token"`
	ConstantK      fpmath.Balance `json:"constant_k"`
	FeeNumerator   fpmath.Balance `json:"fee_numerator"`
	FeeDenominator fpmath.Balance `json:"fee_denominator"`
	TotalA         fpmath.Balance `json:"total_a"`
	TotalB         fpmath.Balance `json:"total_b"`
	TotalLP        fpmath.Balance `json:"total_lp"`
	LastSequence   int64          `json:"last_sequence"`
	AsOfSequence   int64          `json:"as_of_sequence"`
}

// ItemResponse is one NFT.
type ItemResponse struct {
	ItemID       uint64    `json:"item_id"`
	Owner        uuid.UUID `json:"owner"`
	TokenURI     string    `json:"token_uri"`
	SoulBound    bool      `json:"soul_bound"`
	LastSequence int64     `json:"last_sequence"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// SaleResponse is one open listing.
type SaleResponse struct {
	SaleID       uint64         `json:"sale_id"`
	Seller       uuid.UUID      `json:"seller"`
	ItemID       uint64         `json:"item_id"`
	PaymentAsset uint32         `json:"payment_asset"`
	Price        fpmath.Balance `json:"price"`
	LastSequence int64          `json:"last_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string         `json:"journal_id"`
	BatchID       string         `json:"batch_id"`
	EventRef      string         `json:"event_ref"`
	Sequence      int64          `json:"sequence"`
	DebitAccount  string         `json:"debit_account"`
	CreditAccount string         `json:"credit_account"`
	AssetID       uint32         `json:"asset_id"`
	Amount        fpmath.Balance `json:"amount"`
	JournalType   string         `json:"journal_type"`
	Timestamp     int64          `json:"timestamp"`
}

// JournalPage is one page of journal history. NextCursor is passed back as
// the cursor to fetch older entries; zero means the history is exhausted.
type JournalPage struct {
	Entries    []JournalHistoryEntry `json:"entries"`
	NextCursor int64                 `json:"next_cursor,omitempty"`
}

// NotificationEntry is a stored notification.
type NotificationEntry struct {
	Sequence int64  `json:"sequence"`
	Index    int    `json:"index"`
	Kind     string `json:"kind"`
	Payload  []byte `json:"payload"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	EventsChecked    int64             `json:"events_checked"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset is an asset whose journal does not net to zero.
type UnbalancedAsset struct {
	AssetID   uint32 `json:"asset_id"`
	Imbalance string `json:"imbalance"` // signed decimal
}
