package math

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/holiman/uint256"
)

// BalanceBits is the width of every fungible quantity in the system.
const BalanceBits = 128

var (
	ErrBalanceOverflow = errors.New("balance exceeds 128 bits")
	ErrInvalidBalance  = errors.New("invalid balance literal")
)

// Balance is an unsigned 128-bit quantity. It is held in a 256-bit word so
// that the product of two balances is always exact before it is clamped
// back into range.
type Balance struct {
	v uint256.Int
}

var (
	ZeroBalance = Balance{}
	MaxBalance  = maxBalance()
)

func maxBalance() Balance {
	var b Balance
	b.v.Lsh(uint256.NewInt(1), BalanceBits)
	b.v.Sub(&b.v, uint256.NewInt(1))
	return b
}

// NewBalance returns a Balance holding v.
func NewBalance(v uint64) Balance {
	var b Balance
	b.v.SetUint64(v)
	return b
}

// ParseBalance parses a base-10 literal. Values above 2^128-1 are rejected.
func ParseBalance(s string) (Balance, error) {
	if s == "" {
		return ZeroBalance, ErrInvalidBalance
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return ZeroBalance, fmt.Errorf("%w: %q", ErrInvalidBalance, s)
	}
	b := Balance{v: *v}
	if b.v.Gt(&MaxBalance.v) {
		return ZeroBalance, fmt.Errorf("%w: %s", ErrBalanceOverflow, s)
	}
	return b, nil
}

// MustParseBalance is ParseBalance for constants and tests.
func MustParseBalance(s string) Balance {
	b, err := ParseBalance(s)
	if err != nil {
		panic(err)
	}
	return b
}

// clamp saturates a 256-bit intermediate into the balance range.
func clamp(v *uint256.Int) Balance {
	if v.Gt(&MaxBalance.v) {
		return MaxBalance
	}
	return Balance{v: *v}
}

func (b Balance) IsZero() bool { return b.v.IsZero() }

func (b Balance) Cmp(o Balance) int { return b.v.Cmp(&o.v) }

func (b Balance) LessThan(o Balance) bool { return b.v.Lt(&o.v) }

func (b Balance) GreaterThan(o Balance) bool { return b.v.Gt(&o.v) }

// SaturatingAdd returns b+o clamped to MaxBalance.
func (b Balance) SaturatingAdd(o Balance) Balance {
	var r uint256.Int
	r.Add(&b.v, &o.v)
	return clamp(&r)
}

// CheckedAdd returns b+o and false when the sum leaves the balance range.
func (b Balance) CheckedAdd(o Balance) (Balance, bool) {
	var r uint256.Int
	r.Add(&b.v, &o.v)
	if r.Gt(&MaxBalance.v) {
		return ZeroBalance, false
	}
	return Balance{v: r}, true
}

// CheckedSub returns b-o and false on underflow.
func (b Balance) CheckedSub(o Balance) (Balance, bool) {
	if b.v.Lt(&o.v) {
		return ZeroBalance, false
	}
	var r uint256.Int
	r.Sub(&b.v, &o.v)
	return Balance{v: r}, true
}

// Sub panics on underflow. Callers check ordering first.
func (b Balance) Sub(o Balance) Balance {
	r, ok := b.CheckedSub(o)
	if !ok {
		panic(fmt.Sprintf("FATAL: balance underflow %s - %s", b, o))
	}
	return r
}

// SaturatingMul returns b*o clamped to MaxBalance. Both operands are below
// 2^128, so the 256-bit product never wraps.
func (b Balance) SaturatingMul(o Balance) Balance {
	var r uint256.Int
	r.Mul(&b.v, &o.v)
	return clamp(&r)
}

// Saturates reports whether b*o would be clamped.
func (b Balance) Saturates(o Balance) bool {
	var r uint256.Int
	r.Mul(&b.v, &o.v)
	return r.Gt(&MaxBalance.v)
}

// CmpProducts compares a1*b1 with a2*b2 on the exact 256-bit products.
func CmpProducts(a1, b1, a2, b2 Balance) int {
	var l, r uint256.Int
	l.Mul(&a1.v, &b1.v)
	r.Mul(&a2.v, &b2.v)
	return l.Cmp(&r)
}

// Div is floor division. Division by zero yields zero; callers that can
// see a zero divisor use DivRound.
func (b Balance) Div(o Balance) Balance {
	var r uint256.Int
	r.Div(&b.v, &o.v)
	return Balance{v: r}
}

// DivCeil is ceiling division.
func (b Balance) DivCeil(o Balance) Balance {
	var q, m uint256.Int
	q.DivMod(&b.v, &o.v, &m)
	if !m.IsZero() {
		q.AddUint64(&q, 1)
	}
	return Balance{v: q}
}

func (b Balance) Uint64() uint64 { return b.v.Uint64() }

func (b Balance) IsUint64() bool { return b.v.IsUint64() }

func (b Balance) BitLen() int { return b.v.BitLen() }

func (b Balance) String() string { return b.v.Dec() }

// Float64 is the nearest float64, for metrics only.
func (b Balance) Float64() float64 {
	f, _ := new(big.Float).SetInt(b.v.ToBig()).Float64()
	return f
}

// Bytes16 returns the big-endian 16-byte encoding used for hashing.
func (b Balance) Bytes16() [16]byte {
	var out [16]byte
	full := b.v.Bytes32()
	copy(out[:], full[16:])
	return out
}

// MarshalJSON encodes the balance as a quoted decimal string.
func (b Balance) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(b.String())), nil
}

// UnmarshalJSON accepts a quoted decimal string or a bare JSON number.
func (b *Balance) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		*b = ZeroBalance
		return nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		s = unq
	}
	v, err := ParseBalance(s)
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// Value implements driver.Valuer for NUMERIC columns.
func (b Balance) Value() (driver.Value, error) {
	return b.String(), nil
}

// Scan implements sql.Scanner for NUMERIC columns.
func (b *Balance) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*b = ZeroBalance
		return nil
	case []byte:
		return b.scanString(string(v))
	case string:
		return b.scanString(v)
	case int64:
		if v < 0 {
			return fmt.Errorf("%w: negative value %d", ErrInvalidBalance, v)
		}
		*b = NewBalance(uint64(v))
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Balance", src)
	}
}

func (b *Balance) scanString(s string) error {
	v, err := ParseBalance(s)
	if err != nil {
		return err
	}
	*b = v
	return nil
}
