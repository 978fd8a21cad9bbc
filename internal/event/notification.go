package event

import (
	"encoding/json"

	"DexLedger/internal/ledger"
	fpmath "DexLedger/internal/math"

	"github.com/google/uuid"
)

// NotificationKind tags an outbound notification
type NotificationKind int32

const (
	NotificationUnknown NotificationKind = iota
	NotificationPoolCreated
	NotificationLiquidityProvided
	NotificationLPTokensMinted
	NotificationLiquidityClaimed
	NotificationAssetsSwapped
	NotificationSaleCreated
	NotificationSaleCanceled
	NotificationItemPurchased
	NotificationNftMinted
	NotificationItemTransferred
	NotificationAssetCreated
	NotificationAssetMinted
	NotificationAssetTransferred
	NotificationPriceOraclePermissionSet
	NotificationPriceSet
)

func (k NotificationKind) String() string {
	switch k {
	case NotificationPoolCreated:
		return "PoolCreated"
	case NotificationLiquidityProvided:
		return "LiquidityProvided"
	case NotificationLPTokensMinted:
		return "LPTokensMinted"
	case NotificationLiquidityClaimed:
		return "LiquidityClaimed"
	case NotificationAssetsSwapped:
		return "AssetsSwapped"
	case NotificationSaleCreated:
		return "SaleCreated"
	case NotificationSaleCanceled:
		return "SaleCanceled"
	case NotificationItemPurchased:
		return "ItemPurchased"
	case NotificationNftMinted:
		return "NftMinted"
	case NotificationItemTransferred:
		return "ItemTransferred"
	case NotificationAssetCreated:
		return "AssetCreated"
	case NotificationAssetMinted:
		return "AssetMinted"
	case NotificationAssetTransferred:
		return "AssetTransferred"
	case NotificationPriceOraclePermissionSet:
		return "PriceOraclePermissionSet"
	case NotificationPriceSet:
		return "PriceSet"
	default:
		return "Unknown"
	}
}

// Notification is a fact produced by an accepted command. Only the fields
// of its kind are meaningful; Fields lists them.
type Notification struct {
	Kind NotificationKind

	Who uuid.UUID // provider, owner, seller, buyer or signer
	To  uuid.UUID // recipient of a transfer

	PoolID  ledger.AssetID
	AssetA  ledger.AssetID
	AssetB  ledger.AssetID
	LPToken ledger.AssetID
	Asset   ledger.AssetID

	AmountA fpmath.Balance
	AmountB fpmath.Balance
	Amount  fpmath.Balance

	ItemID  uint64
	SaleID  uint64
	Allowed bool
}

// Fields returns the payload of the notification keyed by wire name.
func (n Notification) Fields() map[string]interface{} {
	switch n.Kind {
	case NotificationPoolCreated:
		return map[string]interface{}{"asset_a": n.AssetA, "asset_b": n.AssetB, "lp_token": n.LPToken}
	case NotificationLiquidityProvided:
		return map[string]interface{}{"who": n.Who, "pool_id": n.PoolID, "amount_a": n.AmountA, "amount_b": n.AmountB}
	case NotificationLPTokensMinted, NotificationLiquidityClaimed:
		return map[string]interface{}{"who": n.Who, "lp_token": n.LPToken, "amount": n.Amount}
	case NotificationAssetsSwapped:
		return map[string]interface{}{"pool_id": n.PoolID, "from_asset": n.Asset, "amount": n.Amount}
	case NotificationSaleCreated, NotificationSaleCanceled:
		return map[string]interface{}{"sale_id": n.SaleID, "seller": n.Who}
	case NotificationItemPurchased:
		return map[string]interface{}{"item_id": n.ItemID, "buyer": n.Who, "price": n.Amount}
	case NotificationNftMinted:
		return map[string]interface{}{"item_id": n.ItemID, "owner": n.Who}
	case NotificationItemTransferred:
		return map[string]interface{}{"item_id": n.ItemID, "from": n.Who, "to": n.To}
	case NotificationAssetCreated:
		return map[string]interface{}{"asset_id": n.Asset, "owner": n.Who}
	case NotificationAssetMinted:
		return map[string]interface{}{"asset_id": n.Asset, "to": n.To, "amount": n.Amount}
	case NotificationAssetTransferred:
		return map[string]interface{}{"asset_id": n.Asset, "from": n.Who, "to": n.To, "amount": n.Amount}
	case NotificationPriceOraclePermissionSet:
		return map[string]interface{}{"who": n.Who, "allowed": n.Allowed}
	case NotificationPriceSet:
		return map[string]interface{}{"asset_id": n.Asset, "price": n.Amount}
	default:
		return map[string]interface{}{}
	}
}

// MarshalJSON encodes {"kind": ..., "data": {...}}.
func (n Notification) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Kind string                 `json:"kind"`
		Data map[string]interface{} `json:"data"`
	}{Kind: n.Kind.String(), Data: n.Fields()})
}

// Sink receives notifications as a command produces them.
type Sink interface {
	Emit(n Notification)
}

// Buffer is a Sink that keeps notifications until the command settles.
type Buffer struct {
	notes []Notification
}

func (b *Buffer) Emit(n Notification) {
	b.notes = append(b.notes, n)
}

// Drain returns the buffered notifications and empties the buffer.
func (b *Buffer) Drain() []Notification {
	out := b.notes
	b.notes = nil
	return out
}

// Discard drops everything buffered.
func (b *Buffer) Discard() {
	b.notes = nil
}
