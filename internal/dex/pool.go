package dex

import (
	"errors"

	"DexLedger/internal/ledger"
	fpmath "DexLedger/internal/math"

	"github.com/google/uuid"
)

var (
	ErrDexNotFound         = errors.New("pool not found")
	ErrPoolExists          = errors.New("pool already exists")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidPair         = errors.New("invalid asset pair")
	ErrInvalidFee          = errors.New("invalid fee")
	ErrUnequalPair         = errors.New("contribution does not match pool price")
	ErrTokenNotInPool      = errors.New("asset is not a side of the pool")
	ErrSwapExceedsFunds    = errors.New("swap output exceeds pool reserve")
	ErrUnableToSwap        = errors.New("unable to swap")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrMinimumLiquidity    = errors.New("claim would drain the pool")
	ErrAssetDoesNotExist   = errors.New("asset does not exist")
	ErrNotAuthorized       = errors.New("caller is not the administrator")
)

// AssetAdapter is the fungible-asset surface the engine custodies through.
// The engine never caches what it reads from it.
type AssetAdapter interface {
	Balance(assetID ledger.AssetID, account uuid.UUID) fpmath.Balance
	Transfer(assetID ledger.AssetID, from, to uuid.UUID, amount fpmath.Balance, keepAlive bool) error
	MintInto(assetID ledger.AssetID, to uuid.UUID, amount fpmath.Balance) error
	BurnFrom(assetID ledger.AssetID, from uuid.UUID, amount fpmath.Balance) (fpmath.Balance, error)
	Name(assetID ledger.AssetID) []byte
	Exists(assetID ledger.AssetID) bool
	TotalIssuance(assetID ledger.AssetID) fpmath.Balance
}

// Pool is the stored record of a constant-product pool. ConstantK is a
// snapshot refreshed after every operation; swaps never read it.
type Pool struct {
	ID             ledger.AssetID `json:"id"`
	AssetA         ledger.AssetID `json:"asset_a"`
	AssetB         ledger.AssetID `json:"asset_b"`
	LPToken        ledger.AssetID `json:"lp_token"`
	ConstantK      fpmath.Balance `json:"constant_k"`
	FeeNumerator   fpmath.Balance `json:"fee_numerator"`
	FeeDenominator fpmath.Balance `json:"fee_denominator"`
}

// Side reports which side of the pool an asset is on.
func (p *Pool) Side(assetID ledger.AssetID) (fpmath.Side, bool) {
	switch assetID {
	case p.AssetA:
		return fpmath.SideA, true
	case p.AssetB:
		return fpmath.SideB, true
	}
	return 0, false
}

// Opposite returns the asset on the other side.
func (p *Pool) Opposite(side fpmath.Side) ledger.AssetID {
	if side == fpmath.SideA {
		return p.AssetB
	}
	return p.AssetA
}

// Custody is the live reserve state of a pool, read through the adapter.
type Custody struct {
	TotalA  fpmath.Balance `json:"total_a"`
	TotalB  fpmath.Balance `json:"total_b"`
	TotalLP fpmath.Balance `json:"total_lp"`
}

// Product is A*B, saturating.
func (c Custody) Product() fpmath.Balance {
	return c.TotalA.SaturatingMul(c.TotalB)
}

// CmpProduct compares A*B against o's A*B without saturating.
func (c Custody) CmpProduct(o Custody) int {
	return fpmath.CmpProducts(c.TotalA, c.TotalB, o.TotalA, o.TotalB)
}

// LiquidityReceipt describes an accepted AddLiquidity.
type LiquidityReceipt struct {
	AmountA  fpmath.Balance
	AmountB  fpmath.Balance
	LPMinted fpmath.Balance
}

// ClaimReceipt describes an accepted ClaimLiquidity.
type ClaimReceipt struct {
	LPBurned fpmath.Balance
	AmountA  fpmath.Balance
	AmountB  fpmath.Balance
}

// SwapReceipt describes an accepted or quoted swap.
type SwapReceipt struct {
	FromAsset ledger.AssetID
	ToAsset   ledger.AssetID
	AmountIn  fpmath.Balance
	Output    fpmath.Balance
	Fee       fpmath.Balance
}
