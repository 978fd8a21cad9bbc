package ingestion_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"DexLedger/internal/event"
	"DexLedger/internal/ingestion"
	fpmath "DexLedger/internal/math"

	"github.com/google/uuid"
)

const (
	requestID = "550e8400-e29b-41d4-a716-446655440000"
	signer    = "660e8400-e29b-41d4-a716-446655440001"
	recipient = "770e8400-e29b-41d4-a716-446655440002"
)

func rawFromJSON(t *testing.T, subject string, v map[string]interface{}) ingestion.RawEvent {
	t.Helper()
	payload := map[string]interface{}{
		"request_id":   requestID,
		"signer":       signer,
		"nonce":        int64(3),
		"timestamp_us": int64(1700000000000000),
	}
	for k, val := range v {
		payload[k] = val
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawEvent{
		Subject:   subject,
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseSwap(t *testing.T) {
	raw := rawFromJSON(t, "dex.cmd.swap", map[string]interface{}{
		"pool_id":    10,
		"from_asset": 1,
		"amount":     "340282366920938463463374607431768211455",
	})

	evt, err := ingestion.ParseRawEvent(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	swap, ok := evt.(*event.Swap)
	if !ok {
		t.Fatalf("expected *event.Swap, got %T", evt)
	}

	if swap.PoolID != 10 || swap.FromAsset != 1 {
		t.Errorf("got pool %d from %d, want 10 from 1", swap.PoolID, swap.FromAsset)
	}
	if swap.Amount != fpmath.MaxBalance {
		t.Errorf("amount: got %s, want 2^128-1", swap.Amount)
	}
	if swap.IdempotencyKey() != requestID {
		t.Errorf("idempotency key: got %s, want %s", swap.IdempotencyKey(), requestID)
	}
	if swap.Caller() != uuid.MustParse(signer) {
		t.Errorf("caller: got %s, want %s", swap.Caller(), signer)
	}
	if swap.SourceSequence() != 3 {
		t.Errorf("nonce: got %d, want 3", swap.SourceSequence())
	}
	if got := swap.EventTime().UnixMicro(); got != 1700000000000000 {
		t.Errorf("timestamp: got %d, want 1700000000000000", got)
	}
}

func TestParseCreatePool(t *testing.T) {
	raw := rawFromJSON(t, "dex.cmd.create_pool", map[string]interface{}{
		"pool_id":         10,
		"asset_a":         1,
		"asset_b":         2,
		"amount_a":        "1000000",
		"amount_b":        "4000000",
		"lp_token":        100,
		"fee_numerator":   "3",
		"fee_denominator": "1000",
	})

	evt, err := ingestion.ParseRawEvent(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	cp := evt.(*event.CreatePool)
	if cp.AmountA != fpmath.NewBalance(1_000_000) || cp.AmountB != fpmath.NewBalance(4_000_000) {
		t.Errorf("got amounts %s/%s, want 1000000/4000000", cp.AmountA, cp.AmountB)
	}
	if cp.FeeNumerator != fpmath.NewBalance(3) || cp.FeeDenominator != fpmath.NewBalance(1000) {
		t.Errorf("got fee %s/%s, want 3/1000", cp.FeeNumerator, cp.FeeDenominator)
	}
	if cp.LPToken != 100 {
		t.Errorf("lp token: got %d, want 100", cp.LPToken)
	}
}

func TestParseMintItem_KeepsURIBytes(t *testing.T) {
	raw := rawFromJSON(t, "dex.cmd.mint_item", map[string]interface{}{
		"token_uri":  "ipfs://bafy/1.json",
		"soul_bound": true,
	})

	evt, err := ingestion.ParseRawEvent(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	mi := evt.(*event.MintItem)
	if string(mi.TokenURI) != "ipfs://bafy/1.json" || !mi.SoulBound {
		t.Errorf("got %q soul_bound=%v", mi.TokenURI, mi.SoulBound)
	}
}

func TestParseTransferAsset(t *testing.T) {
	raw := rawFromJSON(t, "dex.cmd.transfer_asset", map[string]interface{}{
		"asset_id": 2,
		"to":       recipient,
		"amount":   "500",
	})

	evt, err := ingestion.ParseRawEvent(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	ta := evt.(*event.TransferAsset)
	if ta.To != uuid.MustParse(recipient) || ta.Amount != fpmath.NewBalance(500) {
		t.Errorf("got to=%s amount=%s", ta.To, ta.Amount)
	}
	if ta.EventType() != event.EventTypeTransferAsset {
		t.Errorf("event type: got %v, want TransferAsset", ta.EventType())
	}
}

func TestParseEveryCommandType(t *testing.T) {
	fields := map[string]interface{}{
		"asset_id": 1, "symbol": "AAA", "to": recipient, "amount": "1",
		"pool_id": 10, "asset_a": 1, "asset_b": 2, "amount_a": "1", "amount_b": "1",
		"lp_token": 100, "fee_numerator": "0", "fee_denominator": "1",
		"lp_amount": "1", "from_asset": 1, "token_uri": "x", "item_id": 1,
		"sale_id": 1, "payment_asset": 1, "price": "1", "who": recipient, "allowed": true,
	}
	for _, et := range event.AllEventTypes {
		raw := rawFromJSON(t, ingestion.SubjectFor(et), fields)
		evt, err := ingestion.ParseRawEvent(raw)
		if err != nil {
			t.Errorf("%s: %v", et, err)
			continue
		}
		if evt.EventType() != et {
			t.Errorf("got %s, want %s", evt.EventType(), et)
		}
	}
}

func TestParseRejectsBadInput(t *testing.T) {
	cases := []struct {
		name    string
		subject string
		fields  map[string]interface{}
	}{
		{"unknown subject", "dex.cmd.liquidate", nil},
		{"foreign subject", "market.trades.btc", nil},
		{"decimal amount", "dex.cmd.swap", map[string]interface{}{"pool_id": 1, "from_asset": 1, "amount": "1.5"}},
		{"negative amount", "dex.cmd.swap", map[string]interface{}{"pool_id": 1, "from_asset": 1, "amount": "-1"}},
		{"amount above 2^128-1", "dex.cmd.swap", map[string]interface{}{"pool_id": 1, "from_asset": 1, "amount": "340282366920938463463374607431768211456"}},
		{"missing amount", "dex.cmd.swap", map[string]interface{}{"pool_id": 1, "from_asset": 1}},
		{"bad recipient", "dex.cmd.transfer_item", map[string]interface{}{"item_id": 1, "to": "nobody"}},
		{"bad signer", "dex.cmd.purchase", map[string]interface{}{"sale_id": 1, "signer": "x"}},
		{"zero nonce", "dex.cmd.purchase", map[string]interface{}{"sale_id": 1, "nonce": 0}},
		{"nil request id", "dex.cmd.purchase", map[string]interface{}{"sale_id": 1, "request_id": uuid.Nil.String()}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := rawFromJSON(t, tc.subject, tc.fields)
			if _, err := ingestion.ParseRawEvent(raw); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestEventTypeForSubject(t *testing.T) {
	et, err := ingestion.EventTypeForSubject("dex.cmd.set_price.42")
	if err != nil || et != event.EventTypeSetPrice {
		t.Errorf("got %v, %v; want SetPrice", et, err)
	}
	if _, err := ingestion.EventTypeForSubject("dex.cmd."); !errors.Is(err, ingestion.ErrUnknownSubject) {
		t.Errorf("got %v, want ErrUnknownSubject", err)
	}
}

func TestNotificationSubject(t *testing.T) {
	cases := map[event.NotificationKind]string{
		event.NotificationPoolCreated:              "dex.note.pool_created",
		event.NotificationLPTokensMinted:           "dex.note.lp_tokens_minted",
		event.NotificationNftMinted:                "dex.note.nft_minted",
		event.NotificationPriceOraclePermissionSet: "dex.note.price_oracle_permission_set",
	}
	for kind, want := range cases {
		if got := ingestion.NotificationSubject(kind); got != want {
			t.Errorf("got %s, want %s", got, want)
		}
	}
	if got := ingestion.MessageID(42, 1); got != "42-1" {
		t.Errorf("got %s, want 42-1", got)
	}
}
