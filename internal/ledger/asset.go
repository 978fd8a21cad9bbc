package ledger

import (
	fpmath "DexLedger/internal/math"

	"github.com/google/uuid"
)

// MaxSymbolLength bounds asset symbols.
const MaxSymbolLength = 16

// AssetInfo is the registry record of a fungible asset.
type AssetInfo struct {
	ID         AssetID        `json:"id"`
	Symbol     string         `json:"symbol"`
	Decimals   uint8          `json:"decimals"`
	MinBalance fpmath.Balance `json:"min_balance"`
	Owner      uuid.UUID      `json:"owner"`
}

// Validate checks the static fields of an asset definition.
func (a AssetInfo) Validate() error {
	if a.ID == 0 {
		return ErrInvalidAssetID
	}
	if len(a.Symbol) == 0 || len(a.Symbol) > MaxSymbolLength {
		return ErrInvalidSymbol
	}
	return nil
}
