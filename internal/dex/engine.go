package dex

import (
	"errors"
	"fmt"
	"sort"

	"DexLedger/internal/event"
	"DexLedger/internal/ledger"
	fpmath "DexLedger/internal/math"

	"github.com/google/uuid"
)

type poolOpKind uint8

const (
	poolOpCreate poolOpKind = iota
	poolOpSetK
)

type poolOp struct {
	kind   poolOpKind
	poolID ledger.AssetID
	prevK  fpmath.Balance
}

// Engine manages the keyed collection of pools. Each pool's reserves live
// in its own escrow account of the asset adapter; the engine only stores
// pool records.
type Engine struct {
	assets AssetAdapter
	sink   event.Sink
	admin  uuid.UUID

	pools map[ledger.AssetID]*Pool
	ops   []poolOp
}

func NewEngine(assets AssetAdapter, sink event.Sink, admin uuid.UUID) *Engine {
	return &Engine{
		assets: assets,
		sink:   sink,
		admin:  admin,
		pools:  make(map[ledger.AssetID]*Pool),
	}
}

// CreatePool seeds a pool with both contributions and mints the initial LP
// supply to the administrator.
func (e *Engine) CreatePool(
	caller uuid.UUID,
	poolID, assetA, assetB ledger.AssetID,
	amountA, amountB fpmath.Balance,
	lpToken ledger.AssetID,
	feeNum, feeDen fpmath.Balance,
) (*Pool, error) {
	if caller != e.admin {
		return nil, ErrNotAuthorized
	}
	if _, ok := e.pools[poolID]; ok {
		return nil, fmt.Errorf("%w: %d", ErrPoolExists, poolID)
	}
	if assetA == assetB || lpToken == assetA || lpToken == assetB {
		return nil, fmt.Errorf("%w: a=%d b=%d lp=%d", ErrInvalidPair, assetA, assetB, lpToken)
	}
	if feeDen.IsZero() || !feeNum.LessThan(feeDen) {
		return nil, fmt.Errorf("%w: %s/%s", ErrInvalidFee, feeNum, feeDen)
	}
	for _, id := range []ledger.AssetID{assetA, assetB, lpToken} {
		if !e.assets.Exists(id) {
			return nil, fmt.Errorf("%w: %d", ErrAssetDoesNotExist, id)
		}
	}
	if !e.assets.TotalIssuance(lpToken).IsZero() {
		return nil, fmt.Errorf("%w: lp token %d already issued", ErrInvalidPair, lpToken)
	}
	if amountA.IsZero() || amountB.IsZero() {
		return nil, ErrInvalidAmount
	}
	if e.assets.Balance(assetA, caller).LessThan(amountA) || e.assets.Balance(assetB, caller).LessThan(amountB) {
		return nil, ErrInsufficientBalance
	}

	lp0, k, err := fpmath.InitialPoolValues(amountA, amountB)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}

	escrow := ledger.PoolEscrowAccount(poolID)
	if err := e.assets.Transfer(assetA, caller, escrow, amountA, false); err != nil {
		return nil, e.custodyErr(err)
	}
	if err := e.assets.Transfer(assetB, caller, escrow, amountB, false); err != nil {
		return nil, e.custodyErr(err)
	}
	if err := e.assets.MintInto(lpToken, caller, lp0); err != nil {
		return nil, e.custodyErr(err)
	}

	pool := &Pool{
		ID:             poolID,
		AssetA:         assetA,
		AssetB:         assetB,
		LPToken:        lpToken,
		ConstantK:      k,
		FeeNumerator:   feeNum,
		FeeDenominator: feeDen,
	}
	e.pools[poolID] = pool
	e.ops = append(e.ops, poolOp{kind: poolOpCreate, poolID: poolID})

	e.sink.Emit(event.Notification{Kind: event.NotificationPoolCreated, PoolID: poolID, AssetA: assetA, AssetB: assetB, LPToken: lpToken})
	e.sink.Emit(event.Notification{Kind: event.NotificationLPTokensMinted, Who: caller, LPToken: lpToken, Amount: lp0})
	return pool, nil
}

// AddLiquidity deposits amountA of A together with the B amount of equal
// value at the current pool price, and mints LP in proportion to A over the
// full-width product.
func (e *Engine) AddLiquidity(caller uuid.UUID, poolID ledger.AssetID, amountA fpmath.Balance) (LiquidityReceipt, error) {
	pool, ok := e.pools[poolID]
	if !ok {
		return LiquidityReceipt{}, fmt.Errorf("%w: %d", ErrDexNotFound, poolID)
	}
	if amountA.IsZero() {
		return LiquidityReceipt{}, ErrInvalidAmount
	}
	custody := e.custody(pool)

	amountB, err := fpmath.EqualContribution(amountA, custody.TotalA, custody.TotalB)
	if err != nil || amountB.IsZero() {
		return LiquidityReceipt{}, fmt.Errorf("%w: a=%s prices to b=%s", ErrUnequalPair, amountA, amountB)
	}
	lpMint, err := fpmath.ProportionalLP(amountA, custody.TotalLP, custody.TotalA)
	if err != nil || lpMint.IsZero() {
		return LiquidityReceipt{}, fmt.Errorf("%w: contribution %s mints no lp", ErrUnequalPair, amountA)
	}

	if e.assets.Balance(pool.AssetA, caller).LessThan(amountA) || e.assets.Balance(pool.AssetB, caller).LessThan(amountB) {
		return LiquidityReceipt{}, ErrInsufficientBalance
	}

	escrow := ledger.PoolEscrowAccount(poolID)
	if err := e.assets.Transfer(pool.AssetA, caller, escrow, amountA, false); err != nil {
		return LiquidityReceipt{}, e.custodyErr(err)
	}
	if err := e.assets.Transfer(pool.AssetB, caller, escrow, amountB, false); err != nil {
		return LiquidityReceipt{}, e.custodyErr(err)
	}
	if err := e.assets.MintInto(pool.LPToken, caller, lpMint); err != nil {
		return LiquidityReceipt{}, e.custodyErr(err)
	}
	e.refreshK(pool)

	e.sink.Emit(event.Notification{Kind: event.NotificationLiquidityProvided, Who: caller, PoolID: poolID, AmountA: amountA, AmountB: amountB})
	e.sink.Emit(event.Notification{Kind: event.NotificationLPTokensMinted, Who: caller, LPToken: pool.LPToken, Amount: lpMint})
	return LiquidityReceipt{AmountA: amountA, AmountB: amountB, LPMinted: lpMint}, nil
}

// ClaimLiquidity burns LP units and pays out the proportional reserves.
// The last LP unit of a pool cannot be redeemed.
func (e *Engine) ClaimLiquidity(caller uuid.UUID, poolID ledger.AssetID, lpAmount fpmath.Balance) (ClaimReceipt, error) {
	pool, ok := e.pools[poolID]
	if !ok {
		return ClaimReceipt{}, fmt.Errorf("%w: %d", ErrDexNotFound, poolID)
	}
	if lpAmount.IsZero() {
		return ClaimReceipt{}, ErrInvalidAmount
	}
	if e.assets.Balance(pool.LPToken, caller).LessThan(lpAmount) {
		return ClaimReceipt{}, ErrInsufficientBalance
	}
	custody := e.custody(pool)
	if !lpAmount.LessThan(custody.TotalLP) {
		return ClaimReceipt{}, ErrMinimumLiquidity
	}

	amountA, amountB, err := fpmath.FromLP(lpAmount, custody.TotalA, custody.TotalB, custody.TotalLP)
	if err != nil {
		return ClaimReceipt{}, fmt.Errorf("%w: %v", ErrDexNotFound, err)
	}

	if _, err := e.assets.BurnFrom(pool.LPToken, caller, lpAmount); err != nil {
		return ClaimReceipt{}, e.custodyErr(err)
	}
	escrow := ledger.PoolEscrowAccount(poolID)
	if err := e.assets.Transfer(pool.AssetA, escrow, caller, amountA, false); err != nil {
		return ClaimReceipt{}, e.custodyErr(err)
	}
	if err := e.assets.Transfer(pool.AssetB, escrow, caller, amountB, false); err != nil {
		return ClaimReceipt{}, e.custodyErr(err)
	}
	e.refreshK(pool)

	e.sink.Emit(event.Notification{Kind: event.NotificationLiquidityClaimed, Who: caller, LPToken: pool.LPToken, Amount: lpAmount})
	return ClaimReceipt{LPBurned: lpAmount, AmountA: amountA, AmountB: amountB}, nil
}

// Swap sells amount of fromAsset into the pool for the opposite asset.
func (e *Engine) Swap(caller uuid.UUID, poolID, fromAsset ledger.AssetID, amount fpmath.Balance) (SwapReceipt, error) {
	pool, ok := e.pools[poolID]
	if !ok {
		return SwapReceipt{}, fmt.Errorf("%w: %d", ErrDexNotFound, poolID)
	}
	receipt, err := e.quote(pool, fromAsset, amount)
	if err != nil {
		return SwapReceipt{}, err
	}
	if e.assets.Balance(fromAsset, caller).LessThan(amount) {
		return SwapReceipt{}, ErrInsufficientBalance
	}

	pre := e.custody(pool)

	escrow := ledger.PoolEscrowAccount(poolID)
	if err := e.assets.Transfer(fromAsset, caller, escrow, amount, false); err != nil {
		return SwapReceipt{}, e.custodyErr(err)
	}
	if err := e.assets.Transfer(receipt.ToAsset, escrow, caller, receipt.Output, false); err != nil {
		return SwapReceipt{}, e.custodyErr(err)
	}
	e.refreshK(pool)

	if post := e.custody(pool); post.CmpProduct(pre) < 0 {
		panic(fmt.Sprintf("FATAL: pool %d product decreased: %s*%s -> %s*%s",
			poolID, pre.TotalA, pre.TotalB, post.TotalA, post.TotalB))
	}

	e.sink.Emit(event.Notification{Kind: event.NotificationAssetsSwapped, PoolID: poolID, Asset: fromAsset, Amount: amount})
	return receipt, nil
}

// Quote computes a swap without moving funds.
func (e *Engine) Quote(poolID, fromAsset ledger.AssetID, amount fpmath.Balance) (SwapReceipt, error) {
	pool, ok := e.pools[poolID]
	if !ok {
		return SwapReceipt{}, fmt.Errorf("%w: %d", ErrDexNotFound, poolID)
	}
	return e.quote(pool, fromAsset, amount)
}

func (e *Engine) quote(pool *Pool, fromAsset ledger.AssetID, amount fpmath.Balance) (SwapReceipt, error) {
	return QuoteAgainst(*pool, e.custody(pool), fromAsset, amount)
}

// QuoteAgainst prices a swap on a detached copy of a pool and its custody.
func QuoteAgainst(pool Pool, custody Custody, fromAsset ledger.AssetID, amount fpmath.Balance) (SwapReceipt, error) {
	side, ok := pool.Side(fromAsset)
	if !ok {
		return SwapReceipt{}, fmt.Errorf("%w: asset %d, pool %d", ErrTokenNotInPool, fromAsset, pool.ID)
	}

	output, fee, err := fpmath.ToSwapValues(
		fpmath.SwapInput{Side: side, Amount: amount},
		custody.TotalA, custody.TotalB,
		pool.FeeNumerator, pool.FeeDenominator,
	)
	switch {
	case errors.Is(err, fpmath.ErrOutputExceedsReserve):
		return SwapReceipt{}, fmt.Errorf("%w: %v", ErrSwapExceedsFunds, err)
	case err != nil:
		return SwapReceipt{}, fmt.Errorf("%w: %v", ErrUnableToSwap, err)
	case output.IsZero():
		return SwapReceipt{}, fmt.Errorf("%w: %s in yields nothing", ErrUnableToSwap, amount)
	}

	return SwapReceipt{
		FromAsset: fromAsset,
		ToAsset:   pool.Opposite(side),
		AmountIn:  amount,
		Output:    output,
		Fee:       fee,
	}, nil
}

// === Read-only views ===

// Pool returns a copy of the pool record.
func (e *Engine) Pool(poolID ledger.AssetID) (Pool, bool) {
	p, ok := e.pools[poolID]
	if !ok {
		return Pool{}, false
	}
	return *p, true
}

// Pools returns every pool ordered by id.
func (e *Engine) Pools() []Pool {
	out := make([]Pool, 0, len(e.pools))
	for _, p := range e.pools {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Custody reads the live reserves of a pool.
func (e *Engine) Custody(poolID ledger.AssetID) (Custody, error) {
	p, ok := e.pools[poolID]
	if !ok {
		return Custody{}, fmt.Errorf("%w: %d", ErrDexNotFound, poolID)
	}
	return e.custody(p), nil
}

// Prices returns the fixed-point price of each side and the live product.
func (e *Engine) Prices(poolID ledger.AssetID) (priceA, priceB, k fpmath.Balance, err error) {
	c, err := e.Custody(poolID)
	if err != nil {
		return
	}
	return fpmath.TokenPrices(c.TotalA, c.TotalB)
}

func (e *Engine) custody(p *Pool) Custody {
	escrow := ledger.PoolEscrowAccount(p.ID)
	return Custody{
		TotalA:  e.assets.Balance(p.AssetA, escrow),
		TotalB:  e.assets.Balance(p.AssetB, escrow),
		TotalLP: e.assets.TotalIssuance(p.LPToken),
	}
}

func (e *Engine) refreshK(p *Pool) {
	e.ops = append(e.ops, poolOp{kind: poolOpSetK, poolID: p.ID, prevK: p.ConstantK})
	p.ConstantK = e.custody(p).Product()
}

// custodyErr maps an adapter failure after the balance checks passed.
func (e *Engine) custodyErr(err error) error {
	if errors.Is(err, ledger.ErrInsufficientFunds) || errors.Is(err, ledger.ErrWouldKillAccount) {
		return fmt.Errorf("%w: %v", ErrInsufficientBalance, err)
	}
	return err
}

// === Op log ===

func (e *Engine) OpIndex() int {
	return len(e.ops)
}

func (e *Engine) Rollback(restorePoint int) {
	for i := len(e.ops) - 1; i >= restorePoint; i-- {
		o := e.ops[i]
		switch o.kind {
		case poolOpCreate:
			delete(e.pools, o.poolID)
		case poolOpSetK:
			if p, ok := e.pools[o.poolID]; ok {
				p.ConstantK = o.prevK
			}
		}
	}
	e.ops = e.ops[:restorePoint]
}

func (e *Engine) Commit() {
	e.ops = e.ops[:0]
}

// Restore replaces every pool record. Used when loading a snapshot.
func (e *Engine) Restore(pools []Pool) {
	e.pools = make(map[ledger.AssetID]*Pool, len(pools))
	for i := range pools {
		p := pools[i]
		e.pools[p.ID] = &p
	}
	e.ops = e.ops[:0]
}
