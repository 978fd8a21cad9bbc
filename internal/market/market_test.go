package market_test

import (
	"errors"
	"testing"

	"DexLedger/internal/event"
	"DexLedger/internal/ledger"
	"DexLedger/internal/market"
	fpmath "DexLedger/internal/math"
	"DexLedger/internal/nft"

	"github.com/google/uuid"
)

const assetX ledger.AssetID = 7

func n(v uint64) fpmath.Balance { return fpmath.NewBalance(v) }

type fixture struct {
	assets   *ledger.BalanceTracker
	registry *nft.Registry
	market   *market.Market
	notes    *event.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	notes := &event.Buffer{}
	assets := ledger.NewBalanceTracker()
	if err := assets.CreateAsset(ledger.AssetInfo{ID: assetX, Symbol: "X"}); err != nil {
		t.Fatalf("CreateAsset: %v", err)
	}
	registry := nft.NewRegistry(notes, 0)
	return &fixture{
		assets:   assets,
		registry: registry,
		market:   market.NewMarket(registry, assets, notes),
		notes:    notes,
	}
}

func (f *fixture) mint(t *testing.T, owner uuid.UUID, soulBound bool) uint64 {
	t.Helper()
	id, err := f.registry.Mint(owner, []byte("ipfs://item"), soulBound)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	return id
}

func TestMarketplace_EndToEnd(t *testing.T) {
	f := newFixture(t)
	seller, buyer := uuid.New(), uuid.New()
	item := f.mint(t, seller, false)
	if err := f.assets.MintInto(assetX, buyer, n(100)); err != nil {
		t.Fatalf("MintInto: %v", err)
	}
	f.notes.Drain()

	saleID, err := f.market.CreateSale(seller, 0, assetX, item, n(100))
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}
	if saleID != 1 {
		t.Errorf("sale id: got %d, want 1", saleID)
	}

	if _, err := f.market.Purchase(buyer, saleID); err != nil {
		t.Fatalf("Purchase: %v", err)
	}

	if !f.registry.IsOwner(item, buyer) || f.registry.IsOwner(item, seller) {
		t.Error("buyer should be the only owner")
	}
	if got := f.assets.Balance(assetX, seller); got != n(100) {
		t.Errorf("seller X: got %s, want 100", got)
	}
	if got := f.assets.Balance(assetX, buyer); !got.IsZero() {
		t.Errorf("buyer X: got %s, want 0", got)
	}
	if _, ok := f.market.Sale(saleID); ok {
		t.Error("sale record should be removed")
	}

	notes := f.notes.Drain()
	if len(notes) != 2 || notes[0].Kind != event.NotificationSaleCreated || notes[1].Kind != event.NotificationItemPurchased {
		t.Fatalf("unexpected notifications: %+v", notes)
	}
	if notes[1].Who != buyer || notes[1].Amount != n(100) || notes[1].ItemID != item {
		t.Errorf("purchase notification: %+v", notes[1])
	}
}

func TestCreateSale_Validation(t *testing.T) {
	f := newFixture(t)
	seller := uuid.New()
	item := f.mint(t, seller, false)
	other := f.mint(t, seller, false)

	if _, err := f.market.CreateSale(seller, 5, assetX, item, n(0)); !errors.Is(err, market.ErrInvalidPrice) {
		t.Errorf("zero price: got %v", err)
	}
	if _, err := f.market.CreateSale(uuid.New(), 5, assetX, item, n(1)); !errors.Is(err, market.ErrUnauthorized) {
		t.Errorf("not owner: got %v", err)
	}
	if _, err := f.market.CreateSale(seller, 5, 99, item, n(1)); !errors.Is(err, market.ErrAssetDoesNotExist) {
		t.Errorf("unknown asset: got %v", err)
	}
	if _, err := f.market.CreateSale(seller, 5, assetX, item, n(1)); err != nil {
		t.Fatalf("CreateSale: %v", err)
	}
	if _, err := f.market.CreateSale(seller, 5, assetX, other, n(1)); !errors.Is(err, market.ErrSaleExists) {
		t.Errorf("duplicate id: got %v", err)
	}
	if _, err := f.market.CreateSale(seller, 6, assetX, item, n(1)); !errors.Is(err, market.ErrItemAlreadyListed) {
		t.Errorf("relisted item: got %v", err)
	}

	// The counter skips past explicitly chosen ids.
	id, err := f.market.CreateSale(seller, 0, assetX, other, n(1))
	if err != nil {
		t.Fatalf("CreateSale: %v", err)
	}
	if id != 6 {
		t.Errorf("allocated id: got %d, want 6", id)
	}
}

func TestPurchase_Failures(t *testing.T) {
	f := newFixture(t)
	seller, buyer := uuid.New(), uuid.New()
	item := f.mint(t, seller, false)
	saleID, _ := f.market.CreateSale(seller, 0, assetX, item, n(100))
	f.assets.MintInto(assetX, buyer, n(99))

	if _, err := f.market.Purchase(buyer, 42); !errors.Is(err, market.ErrSaleNotFound) {
		t.Errorf("unknown sale: got %v", err)
	}
	if _, err := f.market.Purchase(buyer, saleID); !errors.Is(err, market.ErrInsufficientBalance) {
		t.Errorf("short buyer: got %v", err)
	}

	// Seller moved the item away after listing it.
	f.registry.Transfer(item, uuid.New())
	f.assets.MintInto(assetX, buyer, n(1))
	if _, err := f.market.Purchase(buyer, saleID); !errors.Is(err, market.ErrUnauthorized) {
		t.Errorf("stale listing: got %v", err)
	}
	if got := f.assets.Balance(assetX, buyer); got != n(100) {
		t.Errorf("buyer charged on failure: %s", got)
	}
}

func TestPurchase_RefusedTransferRollsBackPayment(t *testing.T) {
	f := newFixture(t)
	seller, buyer := uuid.New(), uuid.New()
	item := f.mint(t, seller, true)
	saleID, _ := f.market.CreateSale(seller, 0, assetX, item, n(50))
	f.assets.MintInto(assetX, buyer, n(50))
	f.assets.Commit()
	f.registry.Commit()
	f.market.Commit()

	assetsRP, registryRP, marketRP := f.assets.OpIndex(), f.registry.OpIndex(), f.market.OpIndex()
	_, err := f.market.Purchase(buyer, saleID)
	if !errors.Is(err, market.ErrItemTransferFailed) {
		t.Fatalf("got %v, want ErrItemTransferFailed", err)
	}
	f.assets.Rollback(assetsRP)
	f.registry.Rollback(registryRP)
	f.market.Rollback(marketRP)

	if got := f.assets.Balance(assetX, buyer); got != n(50) {
		t.Errorf("buyer X: got %s, want 50", got)
	}
	if !f.assets.Balance(assetX, seller).IsZero() {
		t.Error("seller kept the payment")
	}
	if !f.registry.IsOwner(item, seller) {
		t.Error("ownership changed")
	}
	if _, ok := f.market.Sale(saleID); !ok {
		t.Error("sale should still be listed")
	}
}

func TestCancelSale(t *testing.T) {
	f := newFixture(t)
	seller := uuid.New()
	item := f.mint(t, seller, false)
	saleID, _ := f.market.CreateSale(seller, 0, assetX, item, n(10))
	f.notes.Drain()

	if err := f.market.CancelSale(seller, 99); !errors.Is(err, market.ErrSaleNotFound) {
		t.Errorf("unknown: got %v", err)
	}
	if err := f.market.CancelSale(uuid.New(), saleID); !errors.Is(err, market.ErrUnauthorized) {
		t.Errorf("stranger: got %v", err)
	}
	if err := f.market.CancelSale(seller, saleID); err != nil {
		t.Fatalf("CancelSale: %v", err)
	}
	if len(f.market.Sales()) != 0 {
		t.Error("sale still listed")
	}
	notes := f.notes.Drain()
	if len(notes) != 1 || notes[0].Kind != event.NotificationSaleCanceled || notes[0].SaleID != saleID {
		t.Errorf("unexpected notifications: %+v", notes)
	}

	// The item can be listed again once the sale is gone.
	if _, err := f.market.CreateSale(seller, 0, assetX, item, n(10)); err != nil {
		t.Errorf("relist after cancel: %v", err)
	}
}

func TestRollback_RestoresCanceledSale(t *testing.T) {
	f := newFixture(t)
	seller := uuid.New()
	item := f.mint(t, seller, false)
	saleID, _ := f.market.CreateSale(seller, 0, assetX, item, n(10))
	f.market.Commit()

	rp := f.market.OpIndex()
	f.market.CancelSale(seller, saleID)
	f.market.Rollback(rp)

	if _, ok := f.market.Sale(saleID); !ok {
		t.Fatal("sale not restored")
	}
	if _, err := f.market.CreateSale(seller, 0, assetX, item, n(10)); !errors.Is(err, market.ErrItemAlreadyListed) {
		t.Errorf("listing index not restored: got %v", err)
	}
}

func TestDropListing_FreesItemForNewOwner(t *testing.T) {
	f := newFixture(t)
	seller, heir := uuid.New(), uuid.New()
	item := f.mint(t, seller, false)
	saleID, _ := f.market.CreateSale(seller, 0, assetX, item, n(10))
	if err := f.registry.TransferItem(seller, item, heir); err != nil {
		t.Fatalf("TransferItem: %v", err)
	}
	f.notes.Drain()
	f.market.Commit()

	rp := f.market.OpIndex()
	dropped, ok := f.market.DropListing(item)
	if !ok || dropped != saleID {
		t.Fatalf("DropListing: got %d, %v, want %d", dropped, ok, saleID)
	}
	notes := f.notes.Drain()
	if len(notes) != 1 || notes[0].Kind != event.NotificationSaleCanceled || notes[0].Who != seller {
		t.Errorf("unexpected notifications: %+v", notes)
	}
	if _, ok := f.market.DropListing(item); ok {
		t.Error("second drop should find nothing")
	}

	if _, err := f.market.CreateSale(heir, 0, assetX, item, n(20)); err != nil {
		t.Errorf("new owner listing: %v", err)
	}

	f.market.Rollback(rp)
	if _, ok := f.market.Sale(saleID); !ok {
		t.Error("rollback should restore the dropped sale")
	}
}
