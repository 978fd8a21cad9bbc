package event

import (
	"DexLedger/internal/ledger"
	fpmath "DexLedger/internal/math"

	"github.com/google/uuid"
)

// CreateAsset registers a fungible asset. Administrator only.
type CreateAsset struct {
	Header
	AssetID    ledger.AssetID `json:"asset_id"`
	Symbol     string         `json:"symbol"`
	Decimals   uint8          `json:"decimals"`
	MinBalance fpmath.Balance `json:"min_balance"`
}

func (e *CreateAsset) EventType() EventType { return EventTypeCreateAsset }

// MintAsset issues new units into an account. Administrator only.
type MintAsset struct {
	Header
	AssetID ledger.AssetID `json:"asset_id"`
	To      uuid.UUID      `json:"to"`
	Amount  fpmath.Balance `json:"amount"`
}

func (e *MintAsset) EventType() EventType { return EventTypeMintAsset }

// TransferAsset moves units from the signer to another account.
type TransferAsset struct {
	Header
	AssetID ledger.AssetID `json:"asset_id"`
	To      uuid.UUID      `json:"to"`
	Amount  fpmath.Balance `json:"amount"`
}

func (e *TransferAsset) EventType() EventType { return EventTypeTransferAsset }
