package math

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// Kernel failures. They describe malformed input only; overflow saturates.
var (
	ErrZeroReserve          = errors.New("pool reserve is zero")
	ErrZeroSupply           = errors.New("lp supply is zero")
	ErrZeroAmount           = errors.New("amount is zero")
	ErrZeroFeeDenominator   = errors.New("fee denominator is zero")
	ErrFeeAboveOne          = errors.New("fee numerator exceeds denominator")
	ErrAmountTooLarge       = errors.New("amount exceeds overflow guard")
	ErrOutputExceedsReserve = errors.New("swap output not below reserve")
	ErrPriceSaturated       = errors.New("price computation saturated")
)

// SwapAmountLimit is 2^127. Swap inputs at or above it are rejected.
var SwapAmountLimit = func() Balance {
	var b Balance
	b.v.Lsh(uint256.NewInt(1), BalanceBits-1)
	return b
}()

// Side selects one of a pool's two assets.
type Side uint8

const (
	SideA Side = iota
	SideB
)

func (s Side) String() string {
	if s == SideA {
		return "A"
	}
	return "B"
}

// reserves returns (this, other) for the side.
func (s Side) reserves(totalA, totalB Balance) (Balance, Balance) {
	if s == SideA {
		return totalA, totalB
	}
	return totalB, totalA
}

// SwapInput is an amount tagged with the side it is paid into.
type SwapInput struct {
	Side   Side
	Amount Balance
}

// InitialPoolValues seeds a pool: k = a*b and lp0 = floor(sqrt(k)).
func InitialPoolValues(a, b Balance) (lp0 Balance, k Balance, err error) {
	if a.IsZero() || b.IsZero() {
		return ZeroBalance, ZeroBalance, ErrZeroReserve
	}
	k = a.SaturatingMul(b)
	return IntegerSqrt(k), k, nil
}

// ContributionLPAmount is the LP mint for a single-sided deposit of
// contributionA: scale_down(scale_up(contributionA*totalLP) / totalA).
// The scaled product saturates.
func ContributionLPAmount(contributionA, totalLP, totalA Balance) (Balance, error) {
	if totalA.IsZero() {
		return ZeroBalance, ErrZeroReserve
	}
	scaled := ScaleUp(contributionA.SaturatingMul(totalLP))
	return ScaleDown(scaled.Div(totalA)), nil
}

// ProportionalLP is floor(contributionA*totalLP / totalA) on the full-width
// product. It equals ContributionLPAmount until that one saturates.
func ProportionalLP(contributionA, totalLP, totalA Balance) (Balance, error) {
	if totalA.IsZero() {
		return ZeroBalance, ErrZeroReserve
	}
	lp, err := MulDiv(contributionA, totalLP, totalA, RoundDown)
	if err != nil {
		return ZeroBalance, fmt.Errorf("%w: %v", ErrPriceSaturated, err)
	}
	return lp, nil
}

// FromLP returns the payout of both sides for redeeming lpClaim units.
// Payouts are floored.
func FromLP(lpClaim, totalA, totalB, totalLP Balance) (amountA, amountB Balance, err error) {
	if totalLP.IsZero() {
		return ZeroBalance, ZeroBalance, ErrZeroSupply
	}
	share := ScaleUp(lpClaim).Div(totalLP)
	amountA = ScaleDown(share.SaturatingMul(totalA))
	amountB = ScaleDown(share.SaturatingMul(totalB))
	return amountA, amountB, nil
}

// TokenPrice is the price of one unit of side in units of the other side,
// carried at PriceConfig scale.
func TokenPrice(side Side, totalA, totalB Balance) (Balance, error) {
	this, other := side.reserves(totalA, totalB)
	if this.IsZero() {
		return ZeroBalance, ErrZeroReserve
	}
	return ScaleUp(other).Div(this), nil
}

// TokenPrices returns both prices and the live product k.
func TokenPrices(totalA, totalB Balance) (priceA, priceB, k Balance, err error) {
	if priceA, err = TokenPrice(SideA, totalA, totalB); err != nil {
		return
	}
	if priceB, err = TokenPrice(SideB, totalA, totalB); err != nil {
		return
	}
	return priceA, priceB, totalA.SaturatingMul(totalB), nil
}

// EqualContribution is the amount of B worth contributionA at the current
// pool ratio: ceil(contributionA * totalB / totalA). The pool receives it,
// so it rounds up.
func EqualContribution(contributionA, totalA, totalB Balance) (Balance, error) {
	if totalA.IsZero() || totalB.IsZero() {
		return ZeroBalance, ErrZeroReserve
	}
	b, err := MulDiv(contributionA, totalB, totalA, RoundUp)
	if err != nil {
		return ZeroBalance, fmt.Errorf("%w: %v", ErrPriceSaturated, err)
	}
	return b, nil
}

// ToSwapValues computes the output and fee of a swap. The fee and the
// quantity the pool retains round up; the output is what is left.
func ToSwapValues(in SwapInput, totalA, totalB, feeNum, feeDen Balance) (output, fee Balance, err error) {
	switch {
	case feeDen.IsZero():
		return ZeroBalance, ZeroBalance, ErrZeroFeeDenominator
	case feeNum.GreaterThan(feeDen):
		return ZeroBalance, ZeroBalance, ErrFeeAboveOne
	case in.Amount.IsZero():
		return ZeroBalance, ZeroBalance, ErrZeroAmount
	case !in.Amount.LessThan(SwapAmountLimit):
		return ZeroBalance, ZeroBalance, ErrAmountTooLarge
	case totalA.IsZero() || totalB.IsZero():
		return ZeroBalance, ZeroBalance, ErrZeroReserve
	}

	// fee <= amount because feeNum <= feeDen.
	fee, err = MulDiv(in.Amount, feeNum, feeDen, RoundUp)
	if err != nil {
		return ZeroBalance, ZeroBalance, err
	}
	afterFee, ok := in.Amount.CheckedSub(fee)
	if !ok {
		return ZeroBalance, ZeroBalance, ErrAmountTooLarge
	}

	// k is recomputed from live reserves, never taken from a snapshot. It
	// and the grown reserve stay at full width: A*B passes 2^128 long before
	// either reserve does.
	this, other := in.Side.reserves(totalA, totalB)
	var k, grown, retained, rem uint256.Int
	k.Mul(&totalA.v, &totalB.v)
	grown.Add(&this.v, &afterFee.v)
	retained.DivMod(&k, &grown, &rem)
	if !rem.IsZero() {
		retained.AddUint64(&retained, 1)
	}

	if retained.IsZero() || retained.Gt(&other.v) {
		return ZeroBalance, ZeroBalance, fmt.Errorf("%w: retained=%s reserve=%s",
			ErrOutputExceedsReserve, retained.Dec(), other)
	}
	output = other.Sub(Balance{v: retained})
	return output, fee, nil
}
