package core

import (
	"bytes"
	"sort"

	"DexLedger/internal/dex"
	"DexLedger/internal/ledger"
	"DexLedger/internal/market"
	fpmath "DexLedger/internal/math"
	"DexLedger/internal/nft"
	"DexLedger/internal/state"

	"github.com/google/uuid"
)

// BalanceEntry is one stored balance. AccountKey is not a valid JSON map
// key, so balances travel as a list.
type BalanceEntry struct {
	Scope   ledger.AccountScope `json:"scope"`
	Account uuid.UUID           `json:"account"`
	AssetID ledger.AssetID      `json:"asset_id"`
	Balance fpmath.Balance      `json:"balance"`
}

// SnapshotState holds the serializable in-memory state for restore.
type SnapshotState struct {
	Sequence        int64                             `json:"sequence"` // Last applied sequence
	StateHash       [32]byte                          `json:"state_hash"`
	Assets          []ledger.AssetInfo                `json:"assets"`
	Balances        []BalanceEntry                    `json:"balances"`
	Supplies        map[ledger.AssetID]fpmath.Balance `json:"supplies"`
	Pools           []dex.Pool                        `json:"pools"`
	Items           []nft.Item                        `json:"items"`
	LastItemID      uint64                            `json:"last_item_id"`
	Sales           []market.Sale                     `json:"sales"`
	LastSaleID      uint64                            `json:"last_sale_id"`
	OracleAllowed   []uuid.UUID                       `json:"oracle_allowed"`
	Prices          []state.PriceEntry                `json:"prices"`
	SequenceState   map[string]int64                  `json:"sequence_state"`
	IdempotencyKeys []string                          `json:"idempotency_keys"`
}

// CreateSnapshotState captures the current in-memory state. It must run on
// the core goroutine.
func (c *DeterministicCore) CreateSnapshotState() *SnapshotState {
	balances := c.balanceTracker.Snapshot()
	entries := make([]BalanceEntry, 0, len(balances))
	for key, v := range balances {
		entries = append(entries, BalanceEntry{
			Scope:   key.Scope,
			Account: key.AccountID(),
			AssetID: key.AssetID,
			Balance: v,
		})
	}
	sortBalanceEntries(entries)

	return &SnapshotState{
		Sequence:        c.sequence - 1,
		StateHash:       c.hasher.GetPrevHash(),
		Assets:          c.balanceTracker.Assets(),
		Balances:        entries,
		Supplies:        c.balanceTracker.Supplies(),
		Pools:           c.pools.Pools(),
		Items:           c.items.Items(),
		LastItemID:      c.items.LastID(),
		Sales:           c.market.Sales(),
		LastSaleID:      c.market.LastID(),
		OracleAllowed:   c.oracle.Authorized(),
		Prices:          c.oracle.Prices(),
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}
}

// RestoreFromSnapshot replaces the core's in-memory state. Replay continues
// from snap.Sequence+1.
func (c *DeterministicCore) RestoreFromSnapshot(snap *SnapshotState) {
	c.sequence = snap.Sequence + 1
	c.hasher.SetPrevHash(snap.StateHash)

	balances := make(map[ledger.AccountKey]fpmath.Balance, len(snap.Balances))
	for _, b := range snap.Balances {
		balances[ledger.AccountKey{Scope: b.Scope, EntityID: b.Account, AssetID: b.AssetID}] = b.Balance
	}
	c.balanceTracker.Restore(snap.Assets, balances, snap.Supplies)
	c.pools.Restore(snap.Pools)
	c.items.Restore(snap.Items, snap.LastItemID)
	c.market.Restore(snap.Sales, snap.LastSaleID)
	c.oracle.Restore(snap.OracleAllowed, snap.Prices)

	for partition, next := range snap.SequenceState {
		c.sequenceValidator.RestorePartition(partition, next)
	}
	c.WarmLRU(snap.IdempotencyKeys)
	c.journalGen.SetSequence(c.sequence)
	c.notes.Discard()
	c.publishView()

	c.logger.Info().
		Int64("sequence", snap.Sequence).
		Int("accounts", len(snap.Balances)).
		Int("pools", len(snap.Pools)).
		Msg("restored state from snapshot")
}

func sortBalanceEntries(entries []BalanceEntry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.AssetID != b.AssetID {
			return a.AssetID < b.AssetID
		}
		if a.Scope != b.Scope {
			return a.Scope < b.Scope
		}
		return bytes.Compare(a.Account[:], b.Account[:]) < 0
	})
}
