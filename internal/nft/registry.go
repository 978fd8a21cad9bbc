package nft

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"DexLedger/internal/event"

	"github.com/google/uuid"
)

// DefaultMaxTokenURI bounds token URIs when no deployment value is set.
const DefaultMaxTokenURI = 256

var (
	ErrTokenURITooLong    = errors.New("token uri too long")
	ErrEmptyTokenURI      = errors.New("token uri is empty")
	ErrItemNotFound       = errors.New("item not found")
	ErrUnauthorized       = errors.New("caller does not own the item")
	ErrItemTransferFailed = errors.New("item transfer refused")
)

type ItemID = uint64

// Item is a non-fungible record. Items are never destroyed.
type Item struct {
	ID        ItemID    `json:"id"`
	Owner     uuid.UUID `json:"owner"`
	TokenURI  []byte    `json:"token_uri"`
	SoulBound bool      `json:"soul_bound"`
}

type itemOpKind uint8

const (
	itemOpMint itemOpKind = iota
	itemOpSetOwner
)

type itemOp struct {
	kind      itemOpKind
	itemID    ItemID
	prevOwner uuid.UUID
	prevNext  ItemID
}

// Registry owns every item and the id counter.
type Registry struct {
	items     map[ItemID]*Item
	nextID    ItemID // last issued id; zero before the first mint
	maxURILen int
	sink      event.Sink

	ops []itemOp
}

func NewRegistry(sink event.Sink, maxURILen int) *Registry {
	if maxURILen <= 0 {
		maxURILen = DefaultMaxTokenURI
	}
	return &Registry{
		items:     make(map[ItemID]*Item),
		maxURILen: maxURILen,
		sink:      sink,
	}
}

// Mint creates a new item owned by caller.
func (r *Registry) Mint(caller uuid.UUID, tokenURI []byte, soulBound bool) (ItemID, error) {
	if len(tokenURI) == 0 {
		return 0, ErrEmptyTokenURI
	}
	if len(tokenURI) > r.maxURILen {
		return 0, fmt.Errorf("%w: %d bytes, limit %d", ErrTokenURITooLong, len(tokenURI), r.maxURILen)
	}

	id := r.nextID + 1
	r.ops = append(r.ops, itemOp{kind: itemOpMint, itemID: id, prevNext: r.nextID})
	r.nextID = id
	r.items[id] = &Item{
		ID:        id,
		Owner:     caller,
		TokenURI:  bytes.Clone(tokenURI),
		SoulBound: soulBound,
	}

	r.sink.Emit(event.Notification{Kind: event.NotificationNftMinted, ItemID: id, Who: caller})
	return id, nil
}

// IsOwner is false for unknown items.
func (r *Registry) IsOwner(id ItemID, who uuid.UUID) bool {
	it, ok := r.items[id]
	return ok && it.Owner == who
}

// Transfer moves an item to newOwner. It refuses unknown and soul-bound
// items; moving an item to its current owner is accepted and changes nothing.
func (r *Registry) Transfer(id ItemID, newOwner uuid.UUID) bool {
	it, ok := r.items[id]
	if !ok || it.SoulBound {
		return false
	}
	if it.Owner == newOwner {
		return true
	}
	r.ops = append(r.ops, itemOp{kind: itemOpSetOwner, itemID: id, prevOwner: it.Owner})
	it.Owner = newOwner
	return true
}

// TransferItem is the owner-initiated transfer command.
func (r *Registry) TransferItem(caller uuid.UUID, id ItemID, to uuid.UUID) error {
	if !r.IsOwner(id, caller) {
		if _, ok := r.items[id]; !ok {
			return fmt.Errorf("%w: %d", ErrItemNotFound, id)
		}
		return fmt.Errorf("%w: item %d", ErrUnauthorized, id)
	}
	if !r.Transfer(id, to) {
		return fmt.Errorf("%w: item %d", ErrItemTransferFailed, id)
	}
	r.sink.Emit(event.Notification{Kind: event.NotificationItemTransferred, ItemID: id, Who: caller, To: to})
	return nil
}

// Item returns a copy of the item.
func (r *Registry) Item(id ItemID) (Item, bool) {
	it, ok := r.items[id]
	if !ok {
		return Item{}, false
	}
	return *it, true
}

// Items returns every item ordered by id.
func (r *Registry) Items() []Item {
	out := make([]Item, 0, len(r.items))
	for _, it := range r.items {
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) ItemsByOwner(owner uuid.UUID) []Item {
	var out []Item
	for _, it := range r.Items() {
		if it.Owner == owner {
			out = append(out, it)
		}
	}
	return out
}

// LastID is the most recently issued item id.
func (r *Registry) LastID() ItemID {
	return r.nextID
}

// === Op log ===

func (r *Registry) OpIndex() int {
	return len(r.ops)
}

func (r *Registry) Rollback(restorePoint int) {
	for i := len(r.ops) - 1; i >= restorePoint; i-- {
		o := r.ops[i]
		switch o.kind {
		case itemOpMint:
			delete(r.items, o.itemID)
			r.nextID = o.prevNext
		case itemOpSetOwner:
			if it, ok := r.items[o.itemID]; ok {
				it.Owner = o.prevOwner
			}
		}
	}
	r.ops = r.ops[:restorePoint]
}

func (r *Registry) Commit() {
	r.ops = r.ops[:0]
}

// Restore replaces the registry contents from a snapshot.
func (r *Registry) Restore(items []Item, lastID ItemID) {
	r.items = make(map[ItemID]*Item, len(items))
	for i := range items {
		it := items[i]
		r.items[it.ID] = &it
	}
	r.nextID = lastID
	r.ops = r.ops[:0]
}
