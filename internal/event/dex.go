package event

import (
	"DexLedger/internal/ledger"
	fpmath "DexLedger/internal/math"
)

// CreatePool seeds a constant-product pool. Administrator only.
type CreatePool struct {
	Header
	PoolID         ledger.AssetID `json:"pool_id"`
	AssetA         ledger.AssetID `json:"asset_a"`
	AssetB         ledger.AssetID `json:"asset_b"`
	AmountA        fpmath.Balance `json:"amount_a"`
	AmountB        fpmath.Balance `json:"amount_b"`
	LPToken        ledger.AssetID `json:"lp_token"`
	FeeNumerator   fpmath.Balance `json:"fee_numerator"`
	FeeDenominator fpmath.Balance `json:"fee_denominator"`
}

func (e *CreatePool) EventType() EventType { return EventTypeCreatePool }

// AddLiquidity deposits asset A plus the value-equal amount of asset B.
type AddLiquidity struct {
	Header
	PoolID  ledger.AssetID `json:"pool_id"`
	AmountA fpmath.Balance `json:"amount_a"`
}

func (e *AddLiquidity) EventType() EventType { return EventTypeAddLiquidity }

// ClaimLiquidity redeems LP units for both reserves.
type ClaimLiquidity struct {
	Header
	PoolID   ledger.AssetID `json:"pool_id"`
	LPAmount fpmath.Balance `json:"lp_amount"`
}

func (e *ClaimLiquidity) EventType() EventType { return EventTypeClaimLiquidity }

// Swap sells Amount of FromAsset into the pool.
type Swap struct {
	Header
	PoolID    ledger.AssetID `json:"pool_id"`
	FromAsset ledger.AssetID `json:"from_asset"`
	Amount    fpmath.Balance `json:"amount"`
}

func (e *Swap) EventType() EventType { return EventTypeSwap }
