package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"DexLedger/internal/core"
	"DexLedger/internal/ingestion"
	"DexLedger/internal/ledger"
	fpmath "DexLedger/internal/math"
	"DexLedger/internal/observability"
	"DexLedger/internal/query"
	"DexLedger/internal/server"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

// fakeReader stands in for the projection-backed query service.
type fakeReader struct{}

func (fakeReader) GetBalance(_ context.Context, account uuid.UUID, assetID ledger.AssetID) (*query.BalanceResponse, error) {
	return &query.BalanceResponse{Account: account, AssetID: uint32(assetID), Balance: fpmath.NewBalance(42)}, nil
}

func (fakeReader) GetPool(_ context.Context, poolID ledger.AssetID) (*query.PoolResponse, error) {
	if poolID != 10 {
		return nil, fmt.Errorf("%w: pool %d", query.ErrNotFound, poolID)
	}
	return &query.PoolResponse{PoolID: 10, AssetA: 1, AssetB: 2, LPToken: 100}, nil
}

func (fakeReader) ListPools(context.Context) ([]query.PoolResponse, error) {
	return []query.PoolResponse{{PoolID: 10}}, nil
}

func (fakeReader) GetItem(_ context.Context, itemID uint64) (*query.ItemResponse, error) {
	return nil, fmt.Errorf("%w: item %d", query.ErrNotFound, itemID)
}

func (fakeReader) ListSales(context.Context, *uuid.UUID, int) ([]query.SaleResponse, error) {
	return nil, nil
}

func (fakeReader) VerifyIntegrity(context.Context) (*query.IntegrityReport, error) {
	return &query.IntegrityReport{IsHealthy: true, EventsChecked: 5}, nil
}

type account struct {
	id    uuid.UUID
	nonce int64
}

// command builds the JSON wire form of a command signed by a with the
// next unused nonce. Nonces are only consumed by accepted commands, so the
// caller bumps a.nonce once the core accepts it.
func (a *account) command(t *testing.T, fields map[string]interface{}) json.RawMessage {
	t.Helper()
	next := a.nonce + 1
	payload := map[string]interface{}{
		"request_id":   uuid.NewString(),
		"signer":       a.id.String(),
		"nonce":        next,
		"timestamp_us": 1_700_000_000_000_000 + next,
	}
	for k, v := range fields {
		payload[k] = v
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

// startExchange runs a core behind the server with no persistence attached.
func startExchange(t *testing.T, health *observability.HealthChecker) (*server.GRPCServer, *account) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	admin := &account{id: uuid.New()}
	c := core.NewDeterministicCore(core.Config{Admin: admin.id}, nil, nil, nil, nil)
	submissions := make(chan core.Submission, 16)
	go core.NewRunner(c, submissions, nil, 0).Run(ctx)

	srv := server.NewGRPCServer("", "", &server.ServerDeps{
		Submitter:     ingestion.NewGRPCIngestService(submissions),
		Reader:        fakeReader{},
		Views:         c,
		HealthChecker: health,
	})
	return srv, admin
}

func dialBufconn(t *testing.T, srv *server.GRPCServer) *server.DexServiceClient {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	lis := bufconn.Listen(1 << 20)
	go srv.ServeGRPC(ctx, lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return server.NewDexServiceClient(conn)
}

func seedPool(t *testing.T, ctx context.Context, client *server.DexServiceClient, admin *account) {
	t.Helper()
	steps := []struct {
		eventType string
		fields    map[string]interface{}
	}{
		{"create_asset", map[string]interface{}{"asset_id": 1, "symbol": "AAA", "decimals": 12}},
		{"create_asset", map[string]interface{}{"asset_id": 2, "symbol": "BBB", "decimals": 12}},
		{"create_asset", map[string]interface{}{"asset_id": 100, "symbol": "LP", "decimals": 12}},
		{"mint_asset", map[string]interface{}{"asset_id": 1, "to": admin.id.String(), "amount": "1000000"}},
		{"mint_asset", map[string]interface{}{"asset_id": 2, "to": admin.id.String(), "amount": "4000000"}},
		{"create_pool", map[string]interface{}{
			"pool_id": 10, "asset_a": 1, "asset_b": 2, "amount_a": "500000", "amount_b": "2000000",
			"lp_token": 100, "fee_numerator": "3", "fee_denominator": "1000",
		}},
	}
	for _, s := range steps {
		resp, err := client.SubmitEvent(ctx, &server.SubmitEventRequest{EventType: s.eventType, Payload: admin.command(t, s.fields)})
		if err != nil {
			t.Fatalf("%s: %v", s.eventType, err)
		}
		if !resp.Accepted {
			t.Fatalf("%s: not accepted", s.eventType)
		}
		admin.nonce++
	}
}

func TestGRPC_SubmitThenQuote(t *testing.T) {
	srv, admin := startExchange(t, nil)
	client := dialBufconn(t, srv)
	ctx := context.Background()

	seedPool(t, ctx, client, admin)

	quote, err := client.QuoteSwap(ctx, &server.QuoteSwapRequest{PoolID: 10, FromAsset: 1, Amount: fpmath.NewBalance(1000)})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.ToAsset != 2 {
		t.Errorf("to asset: got %d, want 2", quote.ToAsset)
	}
	// 1 A trades for just under 4 B after the 0.3% fee and slippage.
	if quote.Output.IsZero() || !quote.Output.LessThan(fpmath.NewBalance(4000)) {
		t.Errorf("output: got %s, want in (0, 4000)", quote.Output)
	}
	if quote.Sequence != 5 {
		t.Errorf("as of sequence: got %d, want 5", quote.Sequence)
	}

	if _, err := client.QuoteSwap(ctx, &server.QuoteSwapRequest{PoolID: 11, FromAsset: 1, Amount: fpmath.NewBalance(1)}); status.Code(err) != codes.NotFound {
		t.Errorf("missing pool quote: got %v, want NotFound", err)
	}
	if _, err := client.GetPool(ctx, &server.GetPoolRequest{PoolID: 11}); status.Code(err) != codes.NotFound {
		t.Errorf("missing pool: got %v, want NotFound", err)
	}

	report, err := client.VerifyIntegrity(ctx)
	if err != nil || !report.IsHealthy {
		t.Errorf("integrity: got %+v, %v", report, err)
	}
}

func TestGRPC_RejectionCodes(t *testing.T) {
	srv, admin := startExchange(t, nil)
	client := dialBufconn(t, srv)
	ctx := context.Background()
	seedPool(t, ctx, client, admin)

	stranger := &account{id: uuid.New()}
	cases := []struct {
		name      string
		eventType string
		payload   json.RawMessage
		want      codes.Code
	}{
		{"unknown type", "liquidate", admin.command(t, nil), codes.InvalidArgument},
		{"bad payload", "swap", json.RawMessage(`{"pool_id":"ten"}`), codes.InvalidArgument},
		{"not admin", "create_asset", stranger.command(t, map[string]interface{}{"asset_id": 7, "symbol": "X"}), codes.PermissionDenied},
		{"duplicate pool", "create_pool", admin.command(t, map[string]interface{}{
			"pool_id": 10, "asset_a": 1, "asset_b": 2, "amount_a": "10", "amount_b": "40",
			"lp_token": 100, "fee_numerator": "3", "fee_denominator": "1000",
		}), codes.AlreadyExists},
		{"empty wallet", "swap", stranger.command(t, map[string]interface{}{"pool_id": 10, "from_asset": 1, "amount": "1000"}), codes.FailedPrecondition},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := client.SubmitEvent(ctx, &server.SubmitEventRequest{EventType: tc.eventType, Payload: tc.payload})
			if got := status.Code(err); got != tc.want {
				t.Errorf("got %s (%v), want %s", got, err, tc.want)
			}
		})
	}
}

func TestHTTP_Routes(t *testing.T) {
	health := observability.NewHealthChecker()
	srv, admin := startExchange(t, health)
	client := dialBufconn(t, srv)
	seedPool(t, context.Background(), client, admin)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	get := func(path string) *http.Response {
		t.Helper()
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	if resp := get("/readyz"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("readyz before ready: got %d, want 503", resp.StatusCode)
	}
	health.SetReady(true)
	if resp := get("/readyz"); resp.StatusCode != http.StatusOK {
		t.Errorf("readyz: got %d, want 200", resp.StatusCode)
	}
	if resp := get("/healthz"); resp.StatusCode != http.StatusOK {
		t.Errorf("healthz: got %d, want 200", resp.StatusCode)
	}

	resp := get("/v1/pools/10/quote?from_asset=2&amount=4000")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("quote: got %d, want 200", resp.StatusCode)
	}
	var quote server.QuoteSwapResponse
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		t.Fatalf("decode quote: %v", err)
	}
	if quote.ToAsset != 1 || quote.Output.IsZero() {
		t.Errorf("got quote %+v", quote)
	}

	statusCases := []struct {
		path string
		want int
	}{
		{"/v1/pools", http.StatusOK},
		{"/v1/pools/11", http.StatusNotFound},
		{"/v1/pools/ten", http.StatusBadRequest},
		{"/v1/pools/10/quote?from_asset=1&amount=1.5", http.StatusBadRequest},
		{"/v1/items/3", http.StatusNotFound},
		{"/v1/balances/" + admin.id.String() + "/1", http.StatusOK},
		{"/v1/balances/nobody/1", http.StatusBadRequest},
		{"/v1/sales?seller=nobody", http.StatusBadRequest},
		{"/v1/admin/integrity", http.StatusOK},
	}
	for _, tc := range statusCases {
		if resp := get(tc.path); resp.StatusCode != tc.want {
			t.Errorf("GET %s: got %d, want %d", tc.path, resp.StatusCode, tc.want)
		}
	}

	body := strings.NewReader(string(admin.command(t, map[string]interface{}{"asset_id": 3, "symbol": "CCC"})))
	post, err := http.Post(ts.URL+"/v1/events/create_asset", "application/json", body)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusOK {
		t.Errorf("submit: got %d, want 200", post.StatusCode)
	}

	rebuild, err := http.Post(ts.URL+"/v1/admin/projections/rebuild", "application/json", nil)
	if err != nil {
		t.Fatalf("POST rebuild: %v", err)
	}
	rebuild.Body.Close()
	if rebuild.StatusCode != http.StatusNotImplemented {
		t.Errorf("rebuild without a database: got %d, want 501", rebuild.StatusCode)
	}
}
