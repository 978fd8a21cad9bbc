package market

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
	ErrInvalidPrice        = errors.New("price must be positive")
	ErrUnauthorized        = errors.New("caller does not own the listing")
	ErrAssetDoesNotExist   = errors.New("payment asset does not exist")
	ErrSaleNotFound        = errors.New("sale not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrItemTransferFailed  = errors.New("item transfer failed")
	ErrSaleExists          = errors.New("sale id already taken")
	ErrItemAlreadyListed   = errors.New("item already listed")
)

// Registry is the ownership capability the marketplace settles items through.
type Registry interface {
	IsOwner(itemID uint64, who uuid.UUID) bool
	Transfer(itemID uint64, newOwner uuid.UUID) bool
}

// AssetAdapter is the subset of the fungible ledger a sale pays through.
type AssetAdapter interface {
	Balance(assetID ledger.AssetID, account uuid.UUID) fpmath.Balance
	Transfer(assetID ledger.AssetID, from, to uuid.UUID, amount fpmath.Balance, keepAlive bool) error
	Exists(assetID ledger.AssetID) bool
}

// Sale is a fixed-price listing of one item.
type Sale struct {
	ID           uint64         `json:"id"`
	Seller       uuid.UUID      `json:"seller"`
	ItemID       uint64         `json:"item_id"`
	PaymentAsset ledger.AssetID `json:"payment_asset"`
	Price        fpmath.Balance `json:"price"`
}

type saleOp struct {
	saleID   uint64
	prev     *Sale // nil when the sale did not exist
	prevNext uint64
}

type Market struct {
	registry Registry
	assets   AssetAdapter
	sink     event.Sink

	sales  map[uint64]*Sale
	listed map[uint64]uint64 // item id -> sale id
	nextID uint64

	ops []saleOp
}

func NewMarket(registry Registry, assets AssetAdapter, sink event.Sink) *Market {
	return &Market{
		registry: registry,
		assets:   assets,
		sink:     sink,
		sales:    make(map[uint64]*Sale),
		listed:   make(map[uint64]uint64),
	}
}

// CreateSale lists itemID for price units of paymentAsset. A zero saleID
// takes the next id from the counter.
func (m *Market) CreateSale(seller uuid.UUID, saleID uint64, paymentAsset ledger.AssetID, itemID uint64, price fpmath.Balance) (uint64, error) {
	if price.IsZero() {
		return 0, ErrInvalidPrice
	}
	if !m.registry.IsOwner(itemID, seller) {
		return 0, fmt.Errorf("%w: item %d", ErrUnauthorized, itemID)
	}
	if !m.assets.Exists(paymentAsset) {
		return 0, fmt.Errorf("%w: %d", ErrAssetDoesNotExist, paymentAsset)
	}

	prevNext := m.nextID
	if saleID == 0 {
		saleID = m.nextID + 1
		for m.sales[saleID] != nil {
			saleID++
		}
	}
	if _, ok := m.sales[saleID]; ok {
		return 0, fmt.Errorf("%w: %d", ErrSaleExists, saleID)
	}
	if other, ok := m.listed[itemID]; ok {
		return 0, fmt.Errorf("%w: item %d in sale %d", ErrItemAlreadyListed, itemID, other)
	}
	if saleID > m.nextID {
		m.nextID = saleID
	}

	m.put(saleID, &Sale{
		ID:           saleID,
		Seller:       seller,
		ItemID:       itemID,
		PaymentAsset: paymentAsset,
		Price:        price,
	}, prevNext)

	m.sink.Emit(event.Notification{Kind: event.NotificationSaleCreated, SaleID: saleID, Who: seller})
	return saleID, nil
}

// Purchase pays the seller and moves the item to buyer. The caller's
// transaction undoes the payment when the item cannot move.
func (m *Market) Purchase(buyer uuid.UUID, saleID uint64) (Sale, error) {
	s, ok := m.sales[saleID]
	if !ok {
		return Sale{}, fmt.Errorf("%w: %d", ErrSaleNotFound, saleID)
	}
	if !m.registry.IsOwner(s.ItemID, s.Seller) {
		return Sale{}, fmt.Errorf("%w: seller no longer owns item %d", ErrUnauthorized, s.ItemID)
	}
	if m.assets.Balance(s.PaymentAsset, buyer).LessThan(s.Price) {
		return Sale{}, ErrInsufficientBalance
	}

	if err := m.assets.Transfer(s.PaymentAsset, buyer, s.Seller, s.Price, false); err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			return Sale{}, fmt.Errorf("%w: %v", ErrInsufficientBalance, err)
		}
		return Sale{}, err
	}
	if !m.registry.Transfer(s.ItemID, buyer) {
		return Sale{}, fmt.Errorf("%w: item %d", ErrItemTransferFailed, s.ItemID)
	}

	sold := *s
	m.remove(saleID)

	m.sink.Emit(event.Notification{Kind: event.NotificationItemPurchased, ItemID: sold.ItemID, Who: buyer, Amount: sold.Price})
	return sold, nil
}

// CancelSale removes a listing. Only its seller may cancel it.
func (m *Market) CancelSale(seller uuid.UUID, saleID uint64) error {
	s, ok := m.sales[saleID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrSaleNotFound, saleID)
	}
	if s.Seller != seller {
		return fmt.Errorf("%w: sale %d", ErrUnauthorized, saleID)
	}
	m.remove(saleID)

	m.sink.Emit(event.Notification{Kind: event.NotificationSaleCanceled, SaleID: saleID, Who: seller})
	return nil
}

// DropListing removes the open listing of itemID, if any. The item moved
// outside a sale, so its seller can no longer deliver it.
func (m *Market) DropListing(itemID uint64) (uint64, bool) {
	saleID, ok := m.listed[itemID]
	if !ok {
		return 0, false
	}
	seller := m.sales[saleID].Seller
	m.remove(saleID)

	m.sink.Emit(event.Notification{Kind: event.NotificationSaleCanceled, SaleID: saleID, Who: seller})
	return saleID, true
}

func (m *Market) Sale(id uint64) (Sale, bool) {
	s, ok := m.sales[id]
	if !ok {
		return Sale{}, false
	}
	return *s, true
}

// Sales returns every open listing ordered by id.
func (m *Market) Sales() []Sale {
	out := make([]Sale, 0, len(m.sales))
	for _, s := range m.sales {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Market) LastID() uint64 {
	return m.nextID
}

func (m *Market) put(id uint64, s *Sale, prevNext uint64) {
	m.ops = append(m.ops, saleOp{saleID: id, prev: m.sales[id], prevNext: prevNext})
	m.sales[id] = s
	m.listed[s.ItemID] = id
}

func (m *Market) remove(id uint64) {
	s := m.sales[id]
	m.ops = append(m.ops, saleOp{saleID: id, prev: s, prevNext: m.nextID})
	delete(m.sales, id)
	delete(m.listed, s.ItemID)
}

// === Op log ===

func (m *Market) OpIndex() int {
	return len(m.ops)
}

func (m *Market) Rollback(restorePoint int) {
	for i := len(m.ops) - 1; i >= restorePoint; i-- {
		o := m.ops[i]
		if cur, ok := m.sales[o.saleID]; ok {
			delete(m.listed, cur.ItemID)
			delete(m.sales, o.saleID)
		}
		if o.prev != nil {
			m.sales[o.saleID] = o.prev
			m.listed[o.prev.ItemID] = o.saleID
		}
		m.nextID = o.prevNext
	}
	m.ops = m.ops[:restorePoint]
}

func (m *Market) Commit() {
	m.ops = m.ops[:0]
}

// Restore replaces every listing from a snapshot.
func (m *Market) Restore(sales []Sale, lastID uint64) {
	m.sales = make(map[uint64]*Sale, len(sales))
	m.listed = make(map[uint64]uint64, len(sales))
	for i := range sales {
		s := sales[i]
		m.sales[s.ID] = &s
		m.listed[s.ItemID] = s.ID
	}
	m.nextID = lastID
	m.ops = m.ops[:0]
}
