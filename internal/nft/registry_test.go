package nft_test

import (
	"errors"
	"strings"
	"testing"

	"DexLedger/internal/event"
	"DexLedger/internal/nft"

	"github.com/google/uuid"
)

func newRegistry() (*nft.Registry, *event.Buffer) {
	notes := &event.Buffer{}
	return nft.NewRegistry(notes, 32), notes
}

func TestMint_FirstIDIsOne(t *testing.T) {
	r, notes := newRegistry()
	alice := uuid.New()

	id, err := r.Mint(alice, []byte("ipfs://one"), false)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if id != 1 {
		t.Errorf("first id: got %d, want 1", id)
	}
	id2, _ := r.Mint(alice, []byte("ipfs://two"), false)
	if id2 != 2 {
		t.Errorf("second id: got %d, want 2", id2)
	}

	got := notes.Drain()
	if len(got) != 2 || got[0].Kind != event.NotificationNftMinted || got[0].ItemID != 1 || got[0].Who != alice {
		t.Errorf("unexpected notifications: %+v", got)
	}
}

func TestMint_URIBounds(t *testing.T) {
	r, notes := newRegistry()

	if _, err := r.Mint(uuid.New(), nil, false); !errors.Is(err, nft.ErrEmptyTokenURI) {
		t.Errorf("empty: got %v", err)
	}
	if _, err := r.Mint(uuid.New(), []byte(strings.Repeat("x", 33)), false); !errors.Is(err, nft.ErrTokenURITooLong) {
		t.Errorf("too long: got %v", err)
	}
	if _, err := r.Mint(uuid.New(), []byte(strings.Repeat("x", 32)), false); err != nil {
		t.Errorf("at limit: %v", err)
	}
	if len(notes.Drain()) != 1 {
		t.Error("only the accepted mint should notify")
	}
}

func TestMint_CopiesURI(t *testing.T) {
	r, _ := newRegistry()
	uri := []byte("ipfs://abc")
	id, _ := r.Mint(uuid.New(), uri, false)
	uri[0] = 'X'

	it, _ := r.Item(id)
	if string(it.TokenURI) != "ipfs://abc" {
		t.Errorf("stored uri changed to %q", it.TokenURI)
	}
}

func TestTransfer_SingleOwner(t *testing.T) {
	r, _ := newRegistry()
	alice, bob := uuid.New(), uuid.New()
	id, _ := r.Mint(alice, []byte("u"), false)

	if !r.Transfer(id, bob) {
		t.Fatal("transfer refused")
	}
	if r.IsOwner(id, alice) {
		t.Error("previous owner still owns the item")
	}
	if !r.IsOwner(id, bob) {
		t.Error("new owner does not own the item")
	}
	if !r.Transfer(id, bob) {
		t.Error("transfer to current owner should succeed")
	}
}

func TestTransfer_Refusals(t *testing.T) {
	r, _ := newRegistry()
	alice := uuid.New()
	bound, _ := r.Mint(alice, []byte("u"), true)

	if r.Transfer(99, alice) {
		t.Error("unknown item transferred")
	}
	if r.IsOwner(99, alice) {
		t.Error("unknown item has an owner")
	}
	if r.Transfer(bound, uuid.New()) {
		t.Error("soul-bound item transferred")
	}
	if !r.IsOwner(bound, alice) {
		t.Error("soul-bound item changed owner")
	}
}

func TestTransferItem(t *testing.T) {
	r, notes := newRegistry()
	alice, bob := uuid.New(), uuid.New()
	free, _ := r.Mint(alice, []byte("u"), false)
	bound, _ := r.Mint(alice, []byte("v"), true)
	notes.Drain()

	if err := r.TransferItem(bob, free, bob); !errors.Is(err, nft.ErrUnauthorized) {
		t.Errorf("non-owner: got %v", err)
	}
	if err := r.TransferItem(alice, 99, bob); !errors.Is(err, nft.ErrItemNotFound) {
		t.Errorf("unknown: got %v", err)
	}
	if err := r.TransferItem(alice, bound, bob); !errors.Is(err, nft.ErrItemTransferFailed) {
		t.Errorf("soul-bound: got %v", err)
	}
	if err := r.TransferItem(alice, free, bob); err != nil {
		t.Fatalf("TransferItem: %v", err)
	}

	got := notes.Drain()
	if len(got) != 1 || got[0].Kind != event.NotificationItemTransferred || got[0].To != bob || got[0].Who != alice {
		t.Errorf("unexpected notifications: %+v", got)
	}
	if owned := r.ItemsByOwner(bob); len(owned) != 1 || owned[0].ID != free {
		t.Errorf("bob owns %+v", owned)
	}
}

func TestRollback_UndoesMintAndTransfer(t *testing.T) {
	r, _ := newRegistry()
	alice, bob := uuid.New(), uuid.New()
	id, _ := r.Mint(alice, []byte("u"), false)
	r.Commit()

	rp := r.OpIndex()
	r.Transfer(id, bob)
	r.Mint(bob, []byte("w"), false)
	r.Rollback(rp)

	if !r.IsOwner(id, alice) {
		t.Error("owner not restored")
	}
	if _, ok := r.Item(2); ok {
		t.Error("rolled back mint still present")
	}
	next, _ := r.Mint(bob, []byte("w"), false)
	if next != 2 {
		t.Errorf("counter not restored: got %d, want 2", next)
	}
}
