package core

import (
	"fmt"

	"DexLedger/internal/event"
	"DexLedger/internal/ledger"
)

func (c *DeterministicCore) dispatchEvent(evt event.Event, fx *effects) error {
	switch e := evt.(type) {
	case *event.CreateAsset:
		return c.handleCreateAsset(e, fx)
	case *event.MintAsset:
		return c.handleMintAsset(e)
	case *event.TransferAsset:
		return c.handleTransferAsset(e)
	case *event.CreatePool:
		return c.handleCreatePool(e)
	case *event.AddLiquidity:
		_, err := c.pools.AddLiquidity(e.Caller(), e.PoolID, e.AmountA)
		return err
	case *event.ClaimLiquidity:
		_, err := c.pools.ClaimLiquidity(e.Caller(), e.PoolID, e.LPAmount)
		return err
	case *event.Swap:
		_, err := c.pools.Swap(e.Caller(), e.PoolID, e.FromAsset, e.Amount)
		return err
	case *event.MintItem:
		return c.handleMintItem(e, fx)
	case *event.TransferItem:
		if err := c.items.TransferItem(e.Caller(), e.ItemID, e.To); err != nil {
			return err
		}
		fx.items = append(fx.items, e.ItemID)
		if saleID, ok := c.market.DropListing(e.ItemID); ok {
			fx.sales = append(fx.sales, saleID)
		}
		return nil
	case *event.CreateSale:
		return c.handleCreateSale(e, fx)
	case *event.CancelSale:
		if err := c.market.CancelSale(e.Caller(), e.SaleID); err != nil {
			return err
		}
		fx.sales = append(fx.sales, e.SaleID)
		return nil
	case *event.Purchase:
		return c.handlePurchase(e, fx)
	case *event.AuthorizeOracle:
		return c.oracle.Authorize(e.Caller(), e.Who, e.Allowed)
	case *event.SetPrice:
		if err := c.oracle.SetPrice(e.Caller(), e.AssetID, e.Price, e.SourceSequence()); err != nil {
			return err
		}
		fx.prices = append(fx.prices, e.AssetID)
		return nil
	default:
		return fmt.Errorf("%w: %T", ErrUnknownEvent, evt)
	}
}

// handleCreateAsset registers an asset owned by the administrator.
func (c *DeterministicCore) handleCreateAsset(e *event.CreateAsset, fx *effects) error {
	if e.Caller() != c.cfg.Admin {
		return ErrNotAuthorized
	}
	err := c.balanceTracker.CreateAsset(ledger.AssetInfo{
		ID:         e.AssetID,
		Symbol:     e.Symbol,
		Decimals:   e.Decimals,
		MinBalance: e.MinBalance,
		Owner:      e.Caller(),
	})
	if err != nil {
		return err
	}
	fx.assets = append(fx.assets, e.AssetID)
	c.notes.Emit(event.Notification{Kind: event.NotificationAssetCreated, Asset: e.AssetID, Who: e.Caller()})
	return nil
}

func (c *DeterministicCore) handleMintAsset(e *event.MintAsset) error {
	if e.Caller() != c.cfg.Admin {
		return ErrNotAuthorized
	}
	if e.Amount.IsZero() {
		return ErrInvalidAmount
	}
	if err := c.balanceTracker.MintInto(e.AssetID, e.To, e.Amount); err != nil {
		return err
	}
	c.notes.Emit(event.Notification{Kind: event.NotificationAssetMinted, Asset: e.AssetID, To: e.To, Amount: e.Amount})
	return nil
}

// handleTransferAsset is a plain user transfer; it never drops the sender
// below the asset's minimum balance.
func (c *DeterministicCore) handleTransferAsset(e *event.TransferAsset) error {
	if e.Amount.IsZero() {
		return ErrInvalidAmount
	}
	if err := c.balanceTracker.Transfer(e.AssetID, e.Caller(), e.To, e.Amount, true); err != nil {
		return err
	}
	c.notes.Emit(event.Notification{Kind: event.NotificationAssetTransferred, Asset: e.AssetID, Who: e.Caller(), To: e.To, Amount: e.Amount})
	return nil
}

func (c *DeterministicCore) handleCreatePool(e *event.CreatePool) error {
	_, err := c.pools.CreatePool(
		e.Caller(),
		e.PoolID, e.AssetA, e.AssetB,
		e.AmountA, e.AmountB,
		e.LPToken,
		e.FeeNumerator, e.FeeDenominator,
	)
	return err
}

func (c *DeterministicCore) handleMintItem(e *event.MintItem, fx *effects) error {
	id, err := c.items.Mint(e.Caller(), e.TokenURI, e.SoulBound)
	if err != nil {
		return err
	}
	fx.items = append(fx.items, id)
	return nil
}

func (c *DeterministicCore) handleCreateSale(e *event.CreateSale, fx *effects) error {
	id, err := c.market.CreateSale(e.Caller(), e.SaleID, e.PaymentAsset, e.ItemID, e.Price)
	if err != nil {
		return err
	}
	fx.sales = append(fx.sales, id)
	return nil
}

// handlePurchase settles a sale. Payment and item move together or not at
// all; the surrounding transaction undoes the payment on failure.
func (c *DeterministicCore) handlePurchase(e *event.Purchase, fx *effects) error {
	sold, err := c.market.Purchase(e.Caller(), e.SaleID)
	if err != nil {
		return err
	}
	fx.sales = append(fx.sales, e.SaleID)
	fx.items = append(fx.items, sold.ItemID)
	return nil
}
