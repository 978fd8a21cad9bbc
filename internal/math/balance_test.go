package math_test

import (
	"encoding/json"
	"errors"
	"testing"

	fpmath "DexLedger/internal/math"
)

func TestBalance_SaturatingMulClampsAtMax(t *testing.T) {
	big := bal("100000000000000000000000000000")
	if got := big.SaturatingMul(big); got != fpmath.MaxBalance {
		t.Errorf("got %s, want MaxBalance", got)
	}
	if !big.Saturates(big) {
		t.Error("Saturates should report the clamp")
	}
	if got := n(6).SaturatingMul(n(7)); got != n(42) {
		t.Errorf("got %s, want 42", got)
	}
}

func TestBalance_CheckedArithmetic(t *testing.T) {
	if _, ok := fpmath.MaxBalance.CheckedAdd(n(1)); ok {
		t.Error("MaxBalance+1 should overflow")
	}
	if _, ok := n(1).CheckedSub(n(2)); ok {
		t.Error("1-2 should underflow")
	}
	if got, ok := n(5).CheckedSub(n(2)); !ok || got != n(3) {
		t.Errorf("got %s/%v, want 3/true", got, ok)
	}
}

func TestBalance_DivCeil(t *testing.T) {
	if got := n(10).DivCeil(n(3)); got != n(4) {
		t.Errorf("got %s, want 4", got)
	}
	if got := n(9).DivCeil(n(3)); got != n(3) {
		t.Errorf("got %s, want 3", got)
	}
}

func TestParseBalance_Bounds(t *testing.T) {
	if _, err := fpmath.ParseBalance("340282366920938463463374607431768211455"); err != nil {
		t.Errorf("2^128-1 should parse: %v", err)
	}
	if _, err := fpmath.ParseBalance("340282366920938463463374607431768211456"); !errors.Is(err, fpmath.ErrBalanceOverflow) {
		t.Errorf("got %v, want ErrBalanceOverflow", err)
	}
	if _, err := fpmath.ParseBalance("-1"); !errors.Is(err, fpmath.ErrInvalidBalance) {
		t.Errorf("got %v, want ErrInvalidBalance", err)
	}
}

func TestBalance_JSONAcceptsStringAndNumber(t *testing.T) {
	var v struct {
		A fpmath.Balance `json:"a"`
		B fpmath.Balance `json:"b"`
	}
	if err := json.Unmarshal([]byte(`{"a":"1000000000000000000000","b":42}`), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v.A != bal("1000000000000000000000") || v.B != n(42) {
		t.Errorf("got a=%s b=%s", v.A, v.B)
	}

	out, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"a":"1000000000000000000000","b":"42"}` {
		t.Errorf("got %s", out)
	}
}
