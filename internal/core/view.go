package core

import (
	"fmt"

	"DexLedger/internal/dex"
	"DexLedger/internal/ledger"
	fpmath "DexLedger/internal/math"
)

// View is an immutable copy of the pool state after some sequence. RPC
// goroutines read it without touching the core.
type View struct {
	Sequence  int64
	StateHash [32]byte
	Pools     map[ledger.AssetID]PoolState
}

func (c *DeterministicCore) publishView() {
	v := &View{
		Sequence:  c.sequence,
		StateHash: c.hasher.GetPrevHash(),
		Pools:     make(map[ledger.AssetID]PoolState),
	}
	for _, p := range c.pools.Pools() {
		custody, _ := c.pools.Custody(p.ID)
		v.Pools[p.ID] = PoolState{Pool: p, Custody: custody}
	}
	c.view.Store(v)
}

// View returns the latest published view. Safe for concurrent use.
func (c *DeterministicCore) View() *View {
	return c.view.Load()
}

// Quote prices a swap against the view.
func (v *View) Quote(poolID, fromAsset ledger.AssetID, amount fpmath.Balance) (dex.SwapReceipt, error) {
	ps, ok := v.Pools[poolID]
	if !ok {
		return dex.SwapReceipt{}, fmt.Errorf("%w: %d", dex.ErrDexNotFound, poolID)
	}
	return dex.QuoteAgainst(ps.Pool, ps.Custody, fromAsset, amount)
}

// Prices returns the fixed-point prices of both sides of a pool.
func (v *View) Prices(poolID ledger.AssetID) (priceA, priceB, k fpmath.Balance, err error) {
	ps, ok := v.Pools[poolID]
	if !ok {
		return priceA, priceB, k, fmt.Errorf("%w: %d", dex.ErrDexNotFound, poolID)
	}
	return fpmath.TokenPrices(ps.Custody.TotalA, ps.Custody.TotalB)
}
