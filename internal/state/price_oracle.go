package state

import (
	"errors"
	"fmt"
	"sort"

	"DexLedger/internal/event"
	"DexLedger/internal/ledger"
	fpmath "DexLedger/internal/math"

	"github.com/google/uuid"
)

var (
	ErrNotAuthorized = errors.New("caller may not set prices")
	ErrInvalidPrice  = errors.New("price must be positive")
)

// PriceEntry is the last reported price of an asset.
type PriceEntry struct {
	AssetID      ledger.AssetID `json:"asset_id"`
	Price        fpmath.Balance `json:"price"`
	Reporter     uuid.UUID      `json:"reporter"`
	EffectiveSeq int64          `json:"effective_seq"` // Sequence at which the price was accepted
}

type oracleOpKind uint8

const (
	oracleOpPermission oracleOpKind = iota
	oracleOpPrice
)

type oracleOp struct {
	kind      oracleOpKind
	who       uuid.UUID
	wasAllow  bool
	assetID   ledger.AssetID
	prevEntry *PriceEntry
}

// PriceOracle keeps the oracle permission set and the price book.
type PriceOracle struct {
	admin   uuid.UUID
	sink    event.Sink
	allowed map[uuid.UUID]bool
	prices  map[ledger.AssetID]*PriceEntry

	ops []oracleOp
}

func NewPriceOracle(admin uuid.UUID, sink event.Sink) *PriceOracle {
	return &PriceOracle{
		admin:   admin,
		sink:    sink,
		allowed: make(map[uuid.UUID]bool),
		prices:  make(map[ledger.AssetID]*PriceEntry),
	}
}

// Authorize grants or revokes price reporting. Root only.
func (po *PriceOracle) Authorize(caller, who uuid.UUID, allowed bool) error {
	if caller != po.admin {
		return ErrNotAuthorized
	}
	po.ops = append(po.ops, oracleOp{kind: oracleOpPermission, who: who, wasAllow: po.allowed[who]})
	if allowed {
		po.allowed[who] = true
	} else {
		delete(po.allowed, who)
	}
	po.sink.Emit(event.Notification{Kind: event.NotificationPriceOraclePermissionSet, Who: who, Allowed: allowed})
	return nil
}

func (po *PriceOracle) IsAuthorized(who uuid.UUID) bool {
	return po.allowed[who]
}

// ValidatePrice checks a reported price before it is stored.
func ValidatePrice(price fpmath.Balance) error {
	if price.IsZero() {
		return ErrInvalidPrice
	}
	return nil
}

func (po *PriceOracle) SetPrice(who uuid.UUID, assetID ledger.AssetID, price fpmath.Balance, seq int64) error {
	if !po.allowed[who] {
		return fmt.Errorf("%w: %s", ErrNotAuthorized, who)
	}
	if err := ValidatePrice(price); err != nil {
		return fmt.Errorf("invalid price for asset %d: %w", assetID, err)
	}
	po.ops = append(po.ops, oracleOp{kind: oracleOpPrice, assetID: assetID, prevEntry: po.prices[assetID]})
	po.prices[assetID] = &PriceEntry{AssetID: assetID, Price: price, Reporter: who, EffectiveSeq: seq}

	po.sink.Emit(event.Notification{Kind: event.NotificationPriceSet, Asset: assetID, Amount: price})
	return nil
}

func (po *PriceOracle) GetPrice(assetID ledger.AssetID) (PriceEntry, bool) {
	e, ok := po.prices[assetID]
	if !ok {
		return PriceEntry{}, false
	}
	return *e, true
}

// Prices returns the price book ordered by asset.
func (po *PriceOracle) Prices() []PriceEntry {
	out := make([]PriceEntry, 0, len(po.prices))
	for _, e := range po.prices {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out
}

// Authorized returns every permissioned reporter, sorted.
func (po *PriceOracle) Authorized() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(po.allowed))
	for who := range po.allowed {
		out = append(out, who)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// === Op log ===

func (po *PriceOracle) OpIndex() int {
	return len(po.ops)
}

func (po *PriceOracle) Rollback(restorePoint int) {
	for i := len(po.ops) - 1; i >= restorePoint; i-- {
		o := po.ops[i]
		switch o.kind {
		case oracleOpPermission:
			if o.wasAllow {
				po.allowed[o.who] = true
			} else {
				delete(po.allowed, o.who)
			}
		case oracleOpPrice:
			if o.prevEntry == nil {
				delete(po.prices, o.assetID)
			} else {
				po.prices[o.assetID] = o.prevEntry
			}
		}
	}
	po.ops = po.ops[:restorePoint]
}

func (po *PriceOracle) Commit() {
	po.ops = po.ops[:0]
}

func (po *PriceOracle) Restore(allowed []uuid.UUID, prices []PriceEntry) {
	po.allowed = make(map[uuid.UUID]bool, len(allowed))
	for _, who := range allowed {
		po.allowed[who] = true
	}
	po.prices = make(map[ledger.AssetID]*PriceEntry, len(prices))
	for i := range prices {
		e := prices[i]
		po.prices[e.AssetID] = &e
	}
	po.ops = po.ops[:0]
}
