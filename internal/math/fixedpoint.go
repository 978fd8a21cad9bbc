package math

import (
	"errors"

	"github.com/holiman/uint256"
)

var ErrDivisionByZero = errors.New("division by zero")

// DecimalConfig defines fixed-point precision
type DecimalConfig struct {
	DecimalPrecision int     // Number of decimal places
	Scale            Balance // 10^DecimalPrecision
}

// PriceConfig is the scale every quotient is carried at before it feeds a
// later multiplication.
var PriceConfig = DecimalConfig{DecimalPrecision: 12, Scale: NewBalance(1_000_000_000_000)}

type RoundingMode int

const (
	RoundDown RoundingMode = iota // payouts
	RoundUp                       // fees and pool-retained quantities
)

// ScaleUp multiplies by the price scale, saturating.
func ScaleUp(v Balance) Balance {
	return v.SaturatingMul(PriceConfig.Scale)
}

// ScaleDown divides out the price scale, truncating.
func ScaleDown(v Balance) Balance {
	return v.Div(PriceConfig.Scale)
}

// DivRound divides with the given rounding direction.
func DivRound(numerator, denominator Balance, mode RoundingMode) (Balance, error) {
	if denominator.IsZero() {
		return ZeroBalance, ErrDivisionByZero
	}
	if mode == RoundUp {
		return numerator.DivCeil(denominator), nil
	}
	return numerator.Div(denominator), nil
}

// MulDiv returns a*b/c rounded per mode. The product is kept at full width,
// so only a quotient above MaxBalance fails.
func MulDiv(a, b, c Balance, mode RoundingMode) (Balance, error) {
	if c.IsZero() {
		return ZeroBalance, ErrDivisionByZero
	}
	var p, q, m uint256.Int
	p.Mul(&a.v, &b.v)
	q.DivMod(&p, &c.v, &m)
	if mode == RoundUp && !m.IsZero() {
		q.AddUint64(&q, 1)
	}
	if q.Gt(&MaxBalance.v) {
		return ZeroBalance, ErrBalanceOverflow
	}
	return Balance{v: q}, nil
}

// IntegerSqrt returns floor(sqrt(n)) by Newton iteration. The first guess is
// a power of two at or above the root, so the sequence decreases
// monotonically and stops at the first non-decreasing step.
func IntegerSqrt(n Balance) Balance {
	if n.LessThan(NewBalance(2)) {
		return n
	}

	var x uint256.Int
	x.Lsh(uint256.NewInt(1), uint((n.BitLen()+1)/2))

	var y uint256.Int
	for {
		// y = (x + n/x) / 2
		y.Div(&n.v, &x)
		y.Add(&y, &x)
		y.Rsh(&y, 1)
		if !y.Lt(&x) {
			return Balance{v: x}
		}
		x.Set(&y)
	}
}
