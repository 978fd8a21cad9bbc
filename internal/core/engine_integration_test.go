package core_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"DexLedger/internal/core"
	"DexLedger/internal/dex"
	"DexLedger/internal/event"
	"DexLedger/internal/ledger"
	"DexLedger/internal/market"
	fpmath "DexLedger/internal/math"

	"github.com/google/uuid"
)

const (
	assetA  ledger.AssetID = 1
	assetB  ledger.AssetID = 2
	lpToken ledger.AssetID = 100
	poolID  ledger.AssetID = 10
)

func n(v uint64) fpmath.Balance { return fpmath.NewBalance(v) }

// --- Test helpers ---

// actor signs commands with a contiguous nonce.
type actor struct {
	id    uuid.UUID
	nonce int64
}

func newActor(tag byte) *actor {
	var id uuid.UUID
	id[15] = tag
	id[6] = 0x40
	return &actor{id: id}
}

// h builds the header for the actor's next command.
func (a *actor) h() event.Header {
	next := a.nonce + 1
	return event.Header{
		RequestID: uuid.New(),
		Signer:    a.id,
		Nonce:     next,
		Timestamp: time.UnixMicro(1_000_000 + next*1000),
	}
}

type harness struct {
	core      *core.DeterministicCore
	persistCh chan core.CoreOutput
	projCh    chan core.CoreOutput
	admin     *actor
}

// newTestCore creates a DeterministicCore with buffered channels and no DB checker.
func newTestCore(admin *actor) *harness {
	persistCh := make(chan core.CoreOutput, 1024)
	projCh := make(chan core.CoreOutput, 1024)
	c := core.NewDeterministicCore(core.Config{Admin: admin.id}, persistCh, projCh, nil, nil)
	return &harness{core: c, persistCh: persistCh, projCh: projCh, admin: admin}
}

func (h *harness) apply(a *actor, evt event.Event) error {
	err := h.core.ProcessEvent(evt)
	if err == nil {
		a.nonce++
	}
	return err
}

func (h *harness) mustApply(t *testing.T, a *actor, evt event.Event) {
	t.Helper()
	if err := h.apply(a, evt); err != nil {
		t.Fatalf("%s failed: %v", evt.EventType(), err)
	}
}

func (h *harness) mint(t *testing.T, asset ledger.AssetID, to uuid.UUID, amount uint64) {
	t.Helper()
	h.mustApply(t, h.admin, &event.MintAsset{Header: h.admin.h(), AssetID: asset, To: to, Amount: n(amount)})
}

func (h *harness) balance(asset ledger.AssetID, who uuid.UUID) fpmath.Balance {
	return h.core.Balances().Balance(asset, who)
}

// newExchange registers A, B and the LP token and seeds a 1e6/4e6 pool at
// a 0.3% fee. Six events are applied.
func newExchange(t *testing.T) *harness {
	t.Helper()
	h := newTestCore(newActor(0xa0))
	for _, def := range []struct {
		id     ledger.AssetID
		symbol string
	}{{assetA, "AAA"}, {assetB, "BBB"}, {lpToken, "LP-AB"}} {
		h.mustApply(t, h.admin, &event.CreateAsset{Header: h.admin.h(), AssetID: def.id, Symbol: def.symbol, Decimals: 12})
	}
	h.mint(t, assetA, h.admin.id, 1_000_000)
	h.mint(t, assetB, h.admin.id, 4_000_000)
	h.mustApply(t, h.admin, &event.CreatePool{
		Header:         h.admin.h(),
		PoolID:         poolID,
		AssetA:         assetA,
		AssetB:         assetB,
		AmountA:        n(1_000_000),
		AmountB:        n(4_000_000),
		LPToken:        lpToken,
		FeeNumerator:   n(3),
		FeeDenominator: n(1000),
	})
	return h
}

func drainOutputs(ch chan core.CoreOutput) []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case o := <-ch:
			outputs = append(outputs, o)
		default:
			return outputs
		}
	}
}

func kinds(notes []event.Notification) []string {
	out := make([]string, len(notes))
	for i, note := range notes {
		out[i] = note.Kind.String()
	}
	return out
}

// ============================================================================
// Test: Pool lifecycle
// ============================================================================

func TestCreatePool_EmitsPoolStateAndNotifications(t *testing.T) {
	h := newExchange(t)

	outputs := drainOutputs(h.persistCh)
	if len(outputs) != 6 {
		t.Fatalf("got %d outputs, want 6", len(outputs))
	}
	last := outputs[5]

	if got := fmt.Sprint(kinds(last.Notifications)); got != "[PoolCreated LPTokensMinted]" {
		t.Errorf("got notifications %s, want [PoolCreated LPTokensMinted]", got)
	}
	if len(last.Batch.Journals) != 3 {
		t.Errorf("got %d journals, want 3 (two deposits and one mint)", len(last.Batch.Journals))
	}
	if len(last.Pools) != 1 {
		t.Fatalf("got %d pools in output, want 1", len(last.Pools))
	}
	custody := last.Pools[0].Custody
	if custody.TotalA != n(1_000_000) || custody.TotalB != n(4_000_000) || custody.TotalLP != n(2_000_000) {
		t.Errorf("got custody %+v, want 1000000/4000000/2000000", custody)
	}
	if got := h.balance(lpToken, h.admin.id); got != n(2_000_000) {
		t.Errorf("got admin LP %s, want 2000000", got)
	}
	if got := h.balance(assetA, ledger.PoolEscrowAccount(poolID)); got != n(1_000_000) {
		t.Errorf("got escrow A %s, want 1000000", got)
	}
}

func TestSwap_SettlesAtQuotedPrice(t *testing.T) {
	h := newExchange(t)
	user := newActor(0x01)
	h.mint(t, assetA, user.id, 10_000)

	quote, err := h.core.View().Quote(poolID, assetA, n(10_000))
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if quote.ToAsset != assetB || quote.Output.IsZero() {
		t.Fatalf("got quote %+v, want a positive B output", quote)
	}

	drainOutputs(h.persistCh)
	h.mustApply(t, user, &event.Swap{Header: user.h(), PoolID: poolID, FromAsset: assetA, Amount: n(10_000)})

	if got := h.balance(assetB, user.id); got != quote.Output {
		t.Errorf("got B balance %s, want quoted %s", got, quote.Output)
	}
	if got := h.balance(assetA, user.id); !got.IsZero() {
		t.Errorf("got A balance %s, want 0", got)
	}

	outputs := drainOutputs(h.persistCh)
	if len(outputs) != 1 {
		t.Fatalf("got %d outputs, want 1", len(outputs))
	}
	if len(outputs[0].Pools) != 1 || outputs[0].Pools[0].Custody.TotalA != n(1_010_000) {
		t.Errorf("got pools %+v, want reserve A 1010000", outputs[0].Pools)
	}
	if got := fmt.Sprint(kinds(outputs[0].Notifications)); got != "[AssetsSwapped]" {
		t.Errorf("got notifications %s, want [AssetsSwapped]", got)
	}
	if v := h.core.View(); v.Sequence != h.core.GetSequence() || v.StateHash != h.core.GetStateHash() {
		t.Errorf("view at seq %d, core at %d", v.Sequence, h.core.GetSequence())
	}
}

func TestAddAndClaimLiquidity(t *testing.T) {
	h := newExchange(t)
	lp := newActor(0x02)
	h.mint(t, assetA, lp.id, 1_000)
	h.mint(t, assetB, lp.id, 4_000)

	h.mustApply(t, lp, &event.AddLiquidity{Header: lp.h(), PoolID: poolID, AmountA: n(1_000)})
	if got := h.balance(assetB, lp.id); !got.IsZero() {
		t.Errorf("got B balance %s after add, want 0", got)
	}
	minted := h.balance(lpToken, lp.id)
	if minted != n(2_000) {
		t.Fatalf("got LP %s, want 2000", minted)
	}

	h.mustApply(t, lp, &event.ClaimLiquidity{Header: lp.h(), PoolID: poolID, LPAmount: minted})
	if got := h.balance(lpToken, lp.id); !got.IsZero() {
		t.Errorf("got LP %s after claim, want 0", got)
	}
	if got := h.balance(assetA, lp.id); got.GreaterThan(n(1_000)) {
		t.Errorf("got A %s after round trip, want at most 1000", got)
	}
}

// ============================================================================
// Test: Marketplace atomicity
// ============================================================================

type listing struct {
	seller, buyer *actor
	itemID        uint64
	saleID        uint64
}

func newListing(t *testing.T, h *harness, soulBound bool) listing {
	t.Helper()
	l := listing{seller: newActor(0x10), buyer: newActor(0x11)}
	h.mustApply(t, l.seller, &event.MintItem{Header: l.seller.h(), TokenURI: []byte("ipfs://item"), SoulBound: soulBound})
	l.itemID = h.core.Items().LastID()
	h.mustApply(t, l.seller, &event.CreateSale{Header: l.seller.h(), PaymentAsset: assetA, ItemID: l.itemID, Price: n(500)})
	l.saleID = h.core.Market().LastID()
	h.mint(t, assetA, l.buyer.id, 1_000)
	return l
}

func TestPurchase_MovesItemAndPayment(t *testing.T) {
	h := newExchange(t)
	l := newListing(t, h, false)
	drainOutputs(h.persistCh)

	h.mustApply(t, l.buyer, &event.Purchase{Header: l.buyer.h(), SaleID: l.saleID})

	if got := h.balance(assetA, l.seller.id); got != n(500) {
		t.Errorf("got seller A %s, want 500", got)
	}
	if got := h.balance(assetA, l.buyer.id); got != n(500) {
		t.Errorf("got buyer A %s, want 500", got)
	}
	if !h.core.Items().IsOwner(l.itemID, l.buyer.id) {
		t.Error("buyer does not own the item")
	}

	outputs := drainOutputs(h.persistCh)
	if len(outputs) != 1 {
		t.Fatalf("got %d outputs, want 1", len(outputs))
	}
	out := outputs[0]
	if len(out.Sales) != 1 || out.Sales[0].ID != l.saleID || out.Sales[0].Sale != nil {
		t.Errorf("got sale updates %+v, want removal of sale %d", out.Sales, l.saleID)
	}
	if len(out.Items) != 1 || out.Items[0].Owner != l.buyer.id {
		t.Errorf("got items %+v, want item owned by buyer", out.Items)
	}
	if got := fmt.Sprint(kinds(out.Notifications)); got != "[ItemPurchased]" {
		t.Errorf("got notifications %s, want [ItemPurchased]", got)
	}
}

func TestTransferItem_DropsStaleListing(t *testing.T) {
	h := newExchange(t)
	l := newListing(t, h, false)
	heir := newActor(0x12)
	drainOutputs(h.persistCh)

	h.mustApply(t, l.seller, &event.TransferItem{Header: l.seller.h(), ItemID: l.itemID, To: heir.id})

	if _, ok := h.core.Market().Sale(l.saleID); ok {
		t.Error("listing survived the transfer")
	}
	outputs := drainOutputs(h.persistCh)
	if len(outputs) != 1 {
		t.Fatalf("got %d outputs, want 1", len(outputs))
	}
	if sales := outputs[0].Sales; len(sales) != 1 || sales[0].ID != l.saleID || sales[0].Sale != nil {
		t.Errorf("got sale updates %+v, want removal of sale %d", sales, l.saleID)
	}
	if got := fmt.Sprint(kinds(outputs[0].Notifications)); got != "[ItemTransferred SaleCanceled]" {
		t.Errorf("got notifications %s, want [ItemTransferred SaleCanceled]", got)
	}

	h.mustApply(t, heir, &event.CreateSale{Header: heir.h(), PaymentAsset: assetA, ItemID: l.itemID, Price: n(900)})
	if err := h.apply(l.buyer, &event.Purchase{Header: l.buyer.h(), SaleID: l.saleID}); !errors.Is(err, market.ErrSaleNotFound) {
		t.Errorf("stale sale purchase: got %v, want ErrSaleNotFound", err)
	}
}

func TestPurchase_SoulBoundItemRollsBackPayment(t *testing.T) {
	h := newExchange(t)
	l := newListing(t, h, true)
	drainOutputs(h.persistCh)
	seqBefore := h.core.GetSequence()
	hashBefore := h.core.GetStateHash()

	err := h.apply(l.buyer, &event.Purchase{Header: l.buyer.h(), SaleID: l.saleID})
	if !errors.Is(err, market.ErrItemTransferFailed) {
		t.Fatalf("got %v, want ErrItemTransferFailed", err)
	}
	if kind := core.ErrorKind(err); kind != "item_transfer_failed" {
		t.Errorf("got kind %s, want item_transfer_failed", kind)
	}

	if got := h.balance(assetA, l.buyer.id); got != n(1_000) {
		t.Errorf("got buyer A %s, want 1000", got)
	}
	if got := h.balance(assetA, l.seller.id); !got.IsZero() {
		t.Errorf("got seller A %s, want 0", got)
	}
	if !h.core.Items().IsOwner(l.itemID, l.seller.id) {
		t.Error("seller lost the item")
	}
	if _, ok := h.core.Market().Sale(l.saleID); !ok {
		t.Error("sale was removed by a failed purchase")
	}
	if got := len(drainOutputs(h.persistCh)); got != 0 {
		t.Errorf("got %d outputs for a rejected command, want 0", got)
	}
	if h.core.GetSequence() != seqBefore || h.core.GetStateHash() != hashBefore {
		t.Error("rejected command advanced the hash chain")
	}

	// The nonce was not consumed.
	h.mustApply(t, l.buyer, &event.TransferAsset{Header: l.buyer.h(), AssetID: assetA, To: l.seller.id, Amount: n(1)})
}

// ============================================================================
// Test: Sequencing and dedup
// ============================================================================

func TestDuplicateEvent_Skipped(t *testing.T) {
	h := newExchange(t)
	user := newActor(0x03)
	h.mint(t, assetA, user.id, 100)
	drainOutputs(h.persistCh)

	evt := &event.TransferAsset{Header: user.h(), AssetID: assetA, To: h.admin.id, Amount: n(40)}
	h.mustApply(t, user, evt)
	if err := h.core.ProcessEvent(evt); err != nil {
		t.Fatalf("duplicate returned %v, want nil", err)
	}

	if got := len(drainOutputs(h.persistCh)); got != 1 {
		t.Errorf("got %d outputs, want 1", got)
	}
	if got := h.balance(assetA, user.id); got != n(60) {
		t.Errorf("got balance %s, want 60", got)
	}
}

func TestNonce_GapAndOutOfOrder(t *testing.T) {
	h := newExchange(t)
	user := newActor(0x04)
	h.mint(t, assetA, user.id, 100)

	gap := &event.TransferAsset{Header: user.h(), AssetID: assetA, To: h.admin.id, Amount: n(1)}
	gap.Nonce = 2
	if err := h.core.ProcessEvent(gap); !errors.Is(err, core.ErrSequenceGap) {
		t.Fatalf("got %v, want ErrSequenceGap", err)
	}

	h.mustApply(t, user, &event.TransferAsset{Header: user.h(), AssetID: assetA, To: h.admin.id, Amount: n(1)})

	stale := &event.TransferAsset{Header: user.h(), AssetID: assetA, To: h.admin.id, Amount: n(1)}
	stale.Nonce = 1
	err := h.core.ProcessEvent(stale)
	if !errors.Is(err, core.ErrOutOfOrder) {
		t.Fatalf("got %v, want ErrOutOfOrder", err)
	}
	if kind := core.ErrorKind(err); kind != "out_of_order" {
		t.Errorf("got kind %s, want out_of_order", kind)
	}
	if got := h.core.Sequences().GetExpectedSequence(core.AccountPartition(user.id)); got != 2 {
		t.Errorf("got expected nonce %d, want 2", got)
	}
}

func TestCreateAsset_RequiresAdmin(t *testing.T) {
	h := newTestCore(newActor(0xa0))
	user := newActor(0x05)

	err := h.apply(user, &event.CreateAsset{Header: user.h(), AssetID: 7, Symbol: "XYZ"})
	if !errors.Is(err, core.ErrNotAuthorized) {
		t.Fatalf("got %v, want ErrNotAuthorized", err)
	}
	if h.core.Balances().Exists(7) {
		t.Error("asset registered by non-admin")
	}
}

func TestSystemAccount_CannotSign(t *testing.T) {
	h := newExchange(t)
	escrow := &actor{id: ledger.PoolEscrowAccount(poolID)}

	err := h.apply(escrow, &event.TransferAsset{Header: escrow.h(), AssetID: assetA, To: h.admin.id, Amount: n(1)})
	if !errors.Is(err, core.ErrSystemCaller) {
		t.Fatalf("got %v, want ErrSystemCaller", err)
	}
	if got := h.balance(assetA, ledger.PoolEscrowAccount(poolID)); got != n(1_000_000) {
		t.Errorf("got escrow A %s, want 1000000", got)
	}
}

func TestSetPrice_StaleUpdateSkipped(t *testing.T) {
	h := newExchange(t)
	oracle := newActor(0x06)
	h.mustApply(t, h.admin, &event.AuthorizeOracle{Header: h.admin.h(), Who: oracle.id, Allowed: true})

	post := func(seq int64, price uint64) error {
		hdr := oracle.h()
		hdr.Nonce = seq
		return h.core.ProcessEvent(&event.SetPrice{Header: hdr, AssetID: assetA, Price: n(price)})
	}

	if err := post(5, 100); err != nil {
		t.Fatalf("SetPrice seq 5: %v", err)
	}
	drainOutputs(h.persistCh)
	if err := post(3, 90); err != nil {
		t.Fatalf("stale SetPrice returned %v, want nil", err)
	}
	if got := len(drainOutputs(h.persistCh)); got != 0 {
		t.Errorf("got %d outputs for a stale price, want 0", got)
	}
	if err := post(9, 120); err != nil {
		t.Fatalf("SetPrice after gap: %v", err)
	}

	entry, ok := h.core.Oracle().GetPrice(assetA)
	if !ok || entry.Price != n(120) || entry.EffectiveSeq != 9 {
		t.Errorf("got price %+v, want 120 at seq 9", entry)
	}
}

// ============================================================================
// Test: Hash chain, snapshot and replay
// ============================================================================

func TestHashChain_Links(t *testing.T) {
	h := newExchange(t)
	outputs := drainOutputs(h.persistCh)

	if outputs[0].Envelope.PrevHash != core.GenesisHash() {
		t.Error("first envelope does not link to genesis")
	}
	for i := 1; i < len(outputs); i++ {
		if outputs[i].Envelope.PrevHash != outputs[i-1].Envelope.StateHash {
			t.Errorf("envelope %d does not link to its predecessor", i)
		}
		if outputs[i].Envelope.Sequence != outputs[i-1].Envelope.Sequence+1 {
			t.Errorf("got sequence %d after %d", outputs[i].Envelope.Sequence, outputs[i-1].Envelope.Sequence)
		}
	}
	if outputs[len(outputs)-1].Envelope.StateHash != h.core.GetStateHash() {
		t.Error("chain tip does not match the last envelope")
	}
}

func TestSnapshotRestore_ContinuesChain(t *testing.T) {
	h := newExchange(t)
	user := newActor(0x07)
	h.mint(t, assetA, user.id, 10_000)
	swap := &event.Swap{Header: user.h(), PoolID: poolID, FromAsset: assetA, Amount: n(5_000)}
	h.mustApply(t, user, swap)
	newListing(t, h, false)

	encoded, err := json.Marshal(h.core.CreateSnapshotState())
	if err != nil {
		t.Fatalf("encode snapshot: %v", err)
	}
	var snap core.SnapshotState
	if err := json.Unmarshal(encoded, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}

	restored := newTestCore(h.admin)
	restored.core.RestoreFromSnapshot(&snap)

	if restored.core.GetSequence() != h.core.GetSequence() {
		t.Fatalf("got sequence %d, want %d", restored.core.GetSequence(), h.core.GetSequence())
	}
	if restored.core.GetStateHash() != h.core.GetStateHash() {
		t.Fatal("restored chain tip differs")
	}

	// A replayed command is still a duplicate after restore.
	if err := restored.core.ProcessEvent(swap); err != nil {
		t.Fatalf("duplicate after restore returned %v", err)
	}
	if got := len(drainOutputs(restored.persistCh)); got != 0 {
		t.Fatalf("got %d outputs for a duplicate, want 0", got)
	}

	next := &event.Swap{Header: user.h(), PoolID: poolID, FromAsset: assetA, Amount: n(5_000)}
	if err := h.core.ProcessEvent(next); err != nil {
		t.Fatalf("original: %v", err)
	}
	if err := restored.core.ProcessEvent(next); err != nil {
		t.Fatalf("restored: %v", err)
	}
	if restored.core.GetStateHash() != h.core.GetStateHash() {
		t.Error("cores diverged after restore")
	}
	if got, want := restored.balance(assetB, user.id), h.balance(assetB, user.id); got != want {
		t.Errorf("got B %s, want %s", got, want)
	}
}

func TestReplayEnvelope_ReproducesChain(t *testing.T) {
	h := newExchange(t)
	user := newActor(0x08)
	h.mint(t, assetA, user.id, 10_000)
	h.mustApply(t, user, &event.Swap{Header: user.h(), PoolID: poolID, FromAsset: assetA, Amount: n(2_500)})
	outputs := drainOutputs(h.persistCh)

	replica := newTestCore(h.admin)
	for _, out := range outputs {
		if err := replica.core.ReplayEnvelope(out.Envelope); err != nil {
			t.Fatalf("replay seq %d: %v", out.Envelope.Sequence, err)
		}
	}

	if replica.core.GetStateHash() != h.core.GetStateHash() {
		t.Error("replica chain tip differs")
	}
	if got := len(drainOutputs(replica.persistCh)); got != 0 {
		t.Errorf("replay re-persisted %d events", got)
	}
	if got := len(drainOutputs(replica.projCh)); got != len(outputs) {
		t.Errorf("got %d projected outputs, want %d", got, len(outputs))
	}

	tampered := *outputs[0].Envelope
	tampered.Sequence = replica.core.GetSequence()
	if err := replica.core.ReplayEnvelope(&tampered); !errors.Is(err, core.ErrReplayDiverged) {
		t.Errorf("got %v, want ErrReplayDiverged", err)
	}
}

func TestErrorKind(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("dispatch failed: %w", dex.ErrUnableToSwap), "unable_to_swap"},
		{fmt.Errorf("x: %w", fmt.Errorf("%w: 3", dex.ErrDexNotFound)), "dex_not_found"},
		{market.ErrSaleNotFound, "sale_not_found"},
		{ledger.ErrInsufficientFunds, "insufficient_balance"},
		{errors.New("boom"), "internal"},
		{nil, ""},
	}
	for _, tc := range cases {
		if got := core.ErrorKind(tc.err); got != tc.want {
			t.Errorf("ErrorKind(%v): got %s, want %s", tc.err, got, tc.want)
		}
	}
}
