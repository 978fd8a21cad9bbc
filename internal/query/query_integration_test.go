package query_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"DexLedger/internal/core"
	"DexLedger/internal/event"
	"DexLedger/internal/ledger"
	fpmath "DexLedger/internal/math"
	"DexLedger/internal/persistence"
	"DexLedger/internal/projection"
	"DexLedger/internal/query"
	"DexLedger/internal/testutil"

	"github.com/google/uuid"
)

type signer struct {
	id    uuid.UUID
	nonce int64
}

func (s *signer) next() event.Header {
	s.nonce++
	return event.Header{
		RequestID: uuid.New(),
		Signer:    s.id,
		Nonce:     s.nonce,
		Timestamp: time.UnixMicro(2_000_000 + s.nonce*1000).UTC(),
	}
}

func n(v uint64) fpmath.Balance { return fpmath.NewBalance(v) }

// runLedger applies cmds through a core wired to persistence and
// projection workers, and waits until both have caught up.
func runLedger(t *testing.T, ctx context.Context, qs *query.QueryService, pw *projection.ProjectionWorker, c *core.DeterministicCore, cmds []event.Event) {
	t.Helper()
	for _, cmd := range cmds {
		if err := c.ProcessEvent(cmd); err != nil {
			t.Fatalf("%s: %v", cmd.EventType(), err)
		}
	}
	want := c.GetSequence() - 1
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		report, err := qs.VerifyIntegrity(ctx)
		if err == nil && report.EventsChecked == want+1 && pw.Watermark() == want {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("workers did not reach seq %d", want)
}

func TestQueryService_ProjectsExchangeState(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	admin := &signer{id: uuid.New()}
	seller := &signer{id: uuid.New()}
	persistCh := make(chan core.CoreOutput, 64)
	projCh := make(chan core.CoreOutput, 64)
	c := core.NewDeterministicCore(core.Config{Admin: admin.id}, persistCh, projCh, nil, nil)

	go persistence.NewPersistenceWorker(db, persistCh, 4, 5*time.Millisecond, nil).Run(ctx)
	pw := projection.NewProjectionWorker(db, projCh, nil)
	if err := pw.LoadWatermark(ctx); err != nil {
		t.Fatalf("watermark: %v", err)
	}
	go pw.Run(ctx)

	qs := query.NewQueryService(db, nil)
	runLedger(t, ctx, qs, pw, c, []event.Event{
		&event.CreateAsset{Header: admin.next(), AssetID: 1, Symbol: "AAA", Decimals: 12},
		&event.CreateAsset{Header: admin.next(), AssetID: 2, Symbol: "BBB", Decimals: 12},
		&event.CreateAsset{Header: admin.next(), AssetID: 100, Symbol: "LP", Decimals: 12},
		&event.MintAsset{Header: admin.next(), AssetID: 1, To: admin.id, Amount: n(1_000_000)},
		&event.MintAsset{Header: admin.next(), AssetID: 2, To: admin.id, Amount: n(4_000_000)},
		&event.CreatePool{
			Header: admin.next(), PoolID: 10, AssetA: 1, AssetB: 2,
			AmountA: n(500_000), AmountB: n(2_000_000), LPToken: 100,
			FeeNumerator: n(3), FeeDenominator: n(1000),
		},
		&event.MintItem{Header: seller.next(), TokenURI: []byte("ipfs://one")},
		&event.CreateSale{Header: seller.next(), ItemID: 1, PaymentAsset: 1, Price: n(700)},
	})

	bal, err := qs.GetBalance(ctx, admin.id, 1)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Balance != n(500_000) {
		t.Errorf("admin A: got %s, want 500000", bal.Balance)
	}
	escrow, err := qs.GetBalance(ctx, ledger.PoolEscrowAccount(10), 2)
	if err != nil {
		t.Fatalf("escrow balance: %v", err)
	}
	if escrow.Balance != n(2_000_000) || escrow.AccountPath != "system:dex_escrow/10:2" {
		t.Errorf("escrow B: got %s at %s", escrow.Balance, escrow.AccountPath)
	}

	pool, err := qs.GetPool(ctx, 10)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if pool.TotalA != n(500_000) || pool.TotalB != n(2_000_000) || pool.LPToken != 100 {
		t.Errorf("got pool %+v", pool)
	}
	if _, err := qs.GetPool(ctx, 11); !errors.Is(err, query.ErrNotFound) {
		t.Errorf("missing pool: got %v, want ErrNotFound", err)
	}
	pools, err := qs.ListPools(ctx)
	if err != nil || len(pools) != 1 {
		t.Errorf("list pools: got %d, %v", len(pools), err)
	}

	item, err := qs.GetItem(ctx, 1)
	if err != nil {
		t.Fatalf("item: %v", err)
	}
	if item.Owner != seller.id || item.TokenURI != "ipfs://one" {
		t.Errorf("got item %+v", item)
	}
	owned, err := qs.ListItemsByOwner(ctx, seller.id)
	if err != nil || len(owned) != 1 {
		t.Errorf("owned items: got %d, %v", len(owned), err)
	}

	sales, err := qs.ListSales(ctx, &seller.id, 10)
	if err != nil || len(sales) != 1 || sales[0].Price != n(700) {
		t.Errorf("sales: got %+v, %v", sales, err)
	}

	page, err := qs.GetJournalHistory(ctx, admin.id, 50, 0)
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	// Two mints, two pool deposits and the LP mint.
	if len(page.Entries) != 5 || page.NextCursor != 0 {
		t.Errorf("journal: got %d entries, cursor %d", len(page.Entries), page.NextCursor)
	}
	if page.Entries[0].Sequence < page.Entries[len(page.Entries)-1].Sequence {
		t.Error("journal history is not newest first")
	}

	notes, err := qs.GetNotifications(ctx, 4, 50)
	if err != nil {
		t.Fatalf("notifications: %v", err)
	}
	if len(notes) == 0 || notes[0].Sequence != 5 || notes[0].Kind != "PoolCreated" {
		t.Errorf("got notifications %+v", notes)
	}

	report, err := qs.VerifyIntegrity(ctx)
	if err != nil {
		t.Fatalf("integrity: %v", err)
	}
	if !report.IsHealthy {
		t.Errorf("got report %+v, want healthy", report)
	}
}
