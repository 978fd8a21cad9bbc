package ledger

import (
	"errors"
	"fmt"
	"sort"

	fpmath "DexLedger/internal/math"

	"github.com/google/uuid"
)

var (
	ErrAssetNotFound     = errors.New("asset does not exist")
	ErrAssetExists       = errors.New("asset already exists")
	ErrInvalidAssetID    = errors.New("asset id must be non-zero")
	ErrInvalidSymbol     = errors.New("asset symbol length out of range")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrWouldKillAccount  = errors.New("transfer would drop sender below minimum balance")
	ErrSupplyOverflow    = errors.New("asset supply overflow")
)

type opKind uint8

const (
	opBalance opKind = iota
	opSupply
	opAsset
	opJournal
)

// op records the value a mutation replaced so it can be undone.
type op struct {
	kind    opKind
	key     AccountKey
	asset   AssetID
	prev    fpmath.Balance
	existed bool
}

// BalanceTracker is the authoritative fungible-asset store. Every mutation
// appends to an op log (for rollback) and to the pending journal list (for
// persistence).
type BalanceTracker struct {
	assets   map[AssetID]AssetInfo
	balances map[AccountKey]fpmath.Balance
	supply   map[AssetID]fpmath.Balance

	pending []Journal
	ops     []op
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		assets:   make(map[AssetID]AssetInfo),
		balances: make(map[AccountKey]fpmath.Balance),
		supply:   make(map[AssetID]fpmath.Balance),
	}
}

// === Asset registry ===

// CreateAsset registers a new asset with zero supply.
func (bt *BalanceTracker) CreateAsset(info AssetInfo) error {
	if err := info.Validate(); err != nil {
		return err
	}
	if _, ok := bt.assets[info.ID]; ok {
		return fmt.Errorf("%w: %d", ErrAssetExists, info.ID)
	}
	bt.assets[info.ID] = info
	bt.ops = append(bt.ops, op{kind: opAsset, asset: info.ID})
	return nil
}

// Asset returns the registry record.
func (bt *BalanceTracker) Asset(id AssetID) (AssetInfo, bool) {
	info, ok := bt.assets[id]
	return info, ok
}

// Assets returns every registered asset ordered by id.
func (bt *BalanceTracker) Assets() []AssetInfo {
	out := make([]AssetInfo, 0, len(bt.assets))
	for _, info := range bt.assets {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (bt *BalanceTracker) Exists(id AssetID) bool {
	_, ok := bt.assets[id]
	return ok
}

// Name returns the asset symbol, empty iff the asset does not exist.
func (bt *BalanceTracker) Name(id AssetID) []byte {
	info, ok := bt.assets[id]
	if !ok {
		return nil
	}
	return []byte(info.Symbol)
}

// === Asset Adapter ===

func (bt *BalanceTracker) Balance(assetID AssetID, account uuid.UUID) fpmath.Balance {
	return bt.balances[KeyFor(account, assetID)]
}

// TotalIssuance is the circulating supply of an asset.
func (bt *BalanceTracker) TotalIssuance(assetID AssetID) fpmath.Balance {
	return bt.supply[assetID]
}

// Transfer moves amount between two accounts. With keepAlive the sender may
// not drop below the asset's minimum balance. Zero amounts and self
// transfers succeed without effect.
func (bt *BalanceTracker) Transfer(assetID AssetID, from, to uuid.UUID, amount fpmath.Balance, keepAlive bool) error {
	info, ok := bt.assets[assetID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrAssetNotFound, assetID)
	}
	if amount.IsZero() || from == to {
		return nil
	}

	fromKey := KeyFor(from, assetID)
	toKey := KeyFor(to, assetID)

	remaining, ok := bt.balances[fromKey].CheckedSub(amount)
	if !ok {
		return fmt.Errorf("%w: account %s has %s, needs %s",
			ErrInsufficientFunds, fromKey.AccountPath(), bt.balances[fromKey], amount)
	}
	if keepAlive && remaining.LessThan(info.MinBalance) {
		return fmt.Errorf("%w: %s would keep %s", ErrWouldKillAccount, fromKey.AccountPath(), remaining)
	}
	credited, ok := bt.balances[toKey].CheckedAdd(amount)
	if !ok {
		return fmt.Errorf("%w: credit to %s", ErrSupplyOverflow, toKey.AccountPath())
	}

	bt.setBalance(fromKey, remaining)
	bt.setBalance(toKey, credited)
	bt.record(Journal{
		DebitAccount:  toKey,
		CreditAccount: fromKey,
		AssetID:       assetID,
		Amount:        amount,
		JournalType:   transferType(fromKey, toKey),
	})
	return nil
}

func transferType(from, to AccountKey) JournalType {
	switch {
	case to.Scope == AccountScopeSystem:
		return JournalTypeEscrowDeposit
	case from.Scope == AccountScopeSystem:
		return JournalTypeEscrowWithdrawal
	default:
		return JournalTypeTransfer
	}
}

// MintInto creates amount new units in the destination account.
func (bt *BalanceTracker) MintInto(assetID AssetID, to uuid.UUID, amount fpmath.Balance) error {
	if _, ok := bt.assets[assetID]; !ok {
		return fmt.Errorf("%w: %d", ErrAssetNotFound, assetID)
	}
	if amount.IsZero() {
		return nil
	}

	newSupply, ok := bt.supply[assetID].CheckedAdd(amount)
	if !ok {
		return fmt.Errorf("%w: asset %d", ErrSupplyOverflow, assetID)
	}
	toKey := KeyFor(to, assetID)
	// Balances never exceed supply, so this cannot overflow.
	credited := bt.balances[toKey].SaturatingAdd(amount)

	bt.setSupply(assetID, newSupply)
	bt.setBalance(toKey, credited)
	bt.record(Journal{
		DebitAccount:  toKey,
		CreditAccount: NewIssuanceAccountKey(assetID),
		AssetID:       assetID,
		Amount:        amount,
		JournalType:   JournalTypeMint,
	})
	return nil
}

// BurnFrom destroys amount units held by the account and returns the
// quantity burned.
func (bt *BalanceTracker) BurnFrom(assetID AssetID, from uuid.UUID, amount fpmath.Balance) (fpmath.Balance, error) {
	if _, ok := bt.assets[assetID]; !ok {
		return fpmath.ZeroBalance, fmt.Errorf("%w: %d", ErrAssetNotFound, assetID)
	}
	if amount.IsZero() {
		return fpmath.ZeroBalance, nil
	}

	fromKey := KeyFor(from, assetID)
	remaining, ok := bt.balances[fromKey].CheckedSub(amount)
	if !ok {
		return fpmath.ZeroBalance, fmt.Errorf("%w: account %s has %s, burning %s",
			ErrInsufficientFunds, fromKey.AccountPath(), bt.balances[fromKey], amount)
	}

	bt.setBalance(fromKey, remaining)
	bt.setSupply(assetID, bt.supply[assetID].Sub(amount))
	bt.record(Journal{
		DebitAccount:  NewIssuanceAccountKey(assetID),
		CreditAccount: fromKey,
		AssetID:       assetID,
		Amount:        amount,
		JournalType:   JournalTypeBurn,
	})
	return amount, nil
}

// === Op log ===

func (bt *BalanceTracker) setBalance(key AccountKey, v fpmath.Balance) {
	prev, existed := bt.balances[key]
	bt.ops = append(bt.ops, op{kind: opBalance, key: key, prev: prev, existed: existed})
	bt.balances[key] = v
}

func (bt *BalanceTracker) setSupply(assetID AssetID, v fpmath.Balance) {
	prev, existed := bt.supply[assetID]
	bt.ops = append(bt.ops, op{kind: opSupply, asset: assetID, prev: prev, existed: existed})
	bt.supply[assetID] = v
}

func (bt *BalanceTracker) record(j Journal) {
	bt.pending = append(bt.pending, j)
	bt.ops = append(bt.ops, op{kind: opJournal})
}

// OpIndex is the restore point for Rollback.
func (bt *BalanceTracker) OpIndex() int {
	return len(bt.ops)
}

// Rollback undoes every mutation made after restorePoint.
func (bt *BalanceTracker) Rollback(restorePoint int) {
	for i := len(bt.ops) - 1; i >= restorePoint; i-- {
		o := bt.ops[i]
		switch o.kind {
		case opBalance:
			if o.existed {
				bt.balances[o.key] = o.prev
			} else {
				delete(bt.balances, o.key)
			}
		case opSupply:
			if o.existed {
				bt.supply[o.asset] = o.prev
			} else {
				delete(bt.supply, o.asset)
			}
		case opAsset:
			delete(bt.assets, o.asset)
		case opJournal:
			bt.pending = bt.pending[:len(bt.pending)-1]
		}
	}
	bt.ops = bt.ops[:restorePoint]
}

// Commit discards the op log. Pending journals stay until drained.
func (bt *BalanceTracker) Commit() {
	bt.ops = bt.ops[:0]
}

// DrainJournals returns the journals recorded since the last drain.
func (bt *BalanceTracker) DrainJournals() []Journal {
	out := bt.pending
	bt.pending = nil
	return out
}

// === Snapshot support ===

// GetBalance returns the balance held under a key.
func (bt *BalanceTracker) GetBalance(key AccountKey) fpmath.Balance {
	return bt.balances[key]
}

// ApplyJournal replays a committed journal entry. Issuance accounts are not
// stored; their effect is carried by the supply.
func (bt *BalanceTracker) ApplyJournal(j Journal) error {
	if j.CreditAccount.Scope == AccountScopeExternal {
		bt.supply[j.AssetID] = bt.supply[j.AssetID].SaturatingAdd(j.Amount)
	} else {
		remaining, ok := bt.balances[j.CreditAccount].CheckedSub(j.Amount)
		if !ok {
			return fmt.Errorf("%w: replaying journal on %s", ErrInsufficientFunds, j.CreditAccount.AccountPath())
		}
		bt.balances[j.CreditAccount] = remaining
	}
	if j.DebitAccount.Scope == AccountScopeExternal {
		remaining, ok := bt.supply[j.AssetID].CheckedSub(j.Amount)
		if !ok {
			return fmt.Errorf("%w: replaying burn of asset %d", ErrInsufficientFunds, j.AssetID)
		}
		bt.supply[j.AssetID] = remaining
	} else {
		bt.balances[j.DebitAccount] = bt.balances[j.DebitAccount].SaturatingAdd(j.Amount)
	}
	return nil
}

// Snapshot returns a copy of all non-zero balances.
func (bt *BalanceTracker) Snapshot() map[AccountKey]fpmath.Balance {
	snapshot := make(map[AccountKey]fpmath.Balance, len(bt.balances))
	for k, v := range bt.balances {
		if !v.IsZero() {
			snapshot[k] = v
		}
	}
	return snapshot
}

// Supplies returns a copy of every asset's supply.
func (bt *BalanceTracker) Supplies() map[AssetID]fpmath.Balance {
	out := make(map[AssetID]fpmath.Balance, len(bt.supply))
	for k, v := range bt.supply {
		out[k] = v
	}
	return out
}

// Restore replaces the whole store. Used when loading a snapshot.
func (bt *BalanceTracker) Restore(assets []AssetInfo, balances map[AccountKey]fpmath.Balance, supply map[AssetID]fpmath.Balance) {
	bt.assets = make(map[AssetID]AssetInfo, len(assets))
	for _, a := range assets {
		bt.assets[a.ID] = a
	}
	bt.balances = make(map[AccountKey]fpmath.Balance, len(balances))
	for k, v := range balances {
		bt.balances[k] = v
	}
	bt.supply = make(map[AssetID]fpmath.Balance, len(supply))
	for k, v := range supply {
		bt.supply[k] = v
	}
	bt.ops = bt.ops[:0]
	bt.pending = nil
}

// ComputeHeldTotals sums held balances per asset. It must equal the supply.
func (bt *BalanceTracker) ComputeHeldTotals() map[AssetID]fpmath.Balance {
	totals := make(map[AssetID]fpmath.Balance)
	for key, balance := range bt.balances {
		totals[key.AssetID] = totals[key.AssetID].SaturatingAdd(balance)
	}
	return totals
}
