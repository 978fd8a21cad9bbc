package ledger

import (
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is well-formed
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateSupply verifies that held balances add up to the issued supply
// for every asset.
func (v *InvariantValidator) ValidateSupply() error {
	held := v.tracker.ComputeHeldTotals()
	supply := v.tracker.Supplies()

	for assetID, total := range held {
		if total != supply[assetID] {
			return fmt.Errorf("asset %d: held %s, supply %s", assetID, total, supply[assetID])
		}
	}
	for assetID, s := range supply {
		if _, ok := held[assetID]; !ok && !s.IsZero() {
			return fmt.Errorf("asset %d: supply %s with no holders", assetID, s)
		}
	}

	return nil
}

// ValidateAssetsRegistered verifies no balance exists for an unknown asset.
func (v *InvariantValidator) ValidateAssetsRegistered() error {
	for key, balance := range v.tracker.balances {
		if balance.IsZero() {
			continue
		}
		if !v.tracker.Exists(key.AssetID) {
			return fmt.Errorf("account %s holds unregistered asset", key.AccountPath())
		}
	}
	return nil
}
