package event

import (
	"fmt"

	"DexLedger/internal/ledger"
	fpmath "DexLedger/internal/math"

	"github.com/google/uuid"
)

// MintItem creates an NFT owned by the signer.
type MintItem struct {
	Header
	TokenURI  []byte `json:"token_uri"`
	SoulBound bool   `json:"soul_bound"`
}

func (e *MintItem) EventType() EventType { return EventTypeMintItem }

// TransferItem hands an NFT the signer owns to another account.
type TransferItem struct {
	Header
	ItemID uint64    `json:"item_id"`
	To     uuid.UUID `json:"to"`
}

func (e *TransferItem) EventType() EventType { return EventTypeTransferItem }

// CreateSale lists an NFT at a fixed price. SaleID 0 allocates the next id.
type CreateSale struct {
	Header
	SaleID       uint64         `json:"sale_id"`
	PaymentAsset ledger.AssetID `json:"payment_asset"`
	ItemID       uint64         `json:"item_id"`
	Price        fpmath.Balance `json:"price"`
}

func (e *CreateSale) EventType() EventType { return EventTypeCreateSale }

// CancelSale withdraws a listing. Seller only.
type CancelSale struct {
	Header
	SaleID uint64 `json:"sale_id"`
}

func (e *CancelSale) EventType() EventType { return EventTypeCancelSale }

// Purchase buys a listed NFT at its price.
type Purchase struct {
	Header
	SaleID uint64 `json:"sale_id"`
}

func (e *Purchase) EventType() EventType { return EventTypePurchase }

// AuthorizeOracle grants or revokes price-setting rights. Administrator only.
type AuthorizeOracle struct {
	Header
	Who     uuid.UUID `json:"who"`
	Allowed bool      `json:"allowed"`
}

func (e *AuthorizeOracle) EventType() EventType { return EventTypeAuthorizeOracle }

// SetPrice posts a reference price for an asset.
type SetPrice struct {
	Header
	AssetID ledger.AssetID `json:"asset_id"`
	Price   fpmath.Balance `json:"price"`
}

func (e *SetPrice) EventType() EventType { return EventTypeSetPrice }

// PricePartition is the sequence partition for price feeds of one asset.
func (e *SetPrice) PricePartition() string {
	return fmt.Sprintf("price:%d", e.AssetID)
}
