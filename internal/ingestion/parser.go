package ingestion

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"DexLedger/internal/event"
	"DexLedger/internal/ledger"
	fpmath "DexLedger/internal/math"

	"github.com/google/uuid"
)

// CommandSubjectPrefix is the NATS subject root for inbound commands:
// dex.cmd.<type>.
const CommandSubjectPrefix = "dex.cmd."

var (
	ErrUnknownSubject = errors.New("unknown command subject")
	ErrInvalidCommand = errors.New("invalid command payload")
)

// SubjectFor returns the NATS subject of a command type.
func SubjectFor(et event.EventType) string {
	return CommandSubjectPrefix + et.Subject()
}

// EventTypeForSubject resolves dex.cmd.<type>[.<suffix>] to its type.
func EventTypeForSubject(subject string) (event.EventType, error) {
	rest, ok := strings.CutPrefix(subject, CommandSubjectPrefix)
	if !ok {
		return event.EventTypeUnknown, fmt.Errorf("%w: %s", ErrUnknownSubject, subject)
	}
	if i := strings.IndexByte(rest, '.'); i >= 0 {
		rest = rest[:i]
	}
	et := event.EventTypeFromSubject(rest)
	if et == event.EventTypeUnknown {
		return et, fmt.Errorf("%w: %s", ErrUnknownSubject, subject)
	}
	return et, nil
}

// ParseRawEvent converts a NATS message into a typed command.
func ParseRawEvent(raw RawEvent) (event.Event, error) {
	et, err := EventTypeForSubject(raw.Subject)
	if err != nil {
		return nil, err
	}
	return ParseCommand(et, raw.Data)
}

// ParseCommand decodes the JSON wire form of a command. The same form is
// accepted over NATS, gRPC and HTTP.
func ParseCommand(et event.EventType, data []byte) (event.Event, error) {
	switch et {
	case event.EventTypeCreateAsset:
		return parseCreateAsset(data)
	case event.EventTypeMintAsset:
		return parseMintAsset(data)
	case event.EventTypeTransferAsset:
		return parseTransferAsset(data)
	case event.EventTypeCreatePool:
		return parseCreatePool(data)
	case event.EventTypeAddLiquidity:
		return parseAddLiquidity(data)
	case event.EventTypeClaimLiquidity:
		return parseClaimLiquidity(data)
	case event.EventTypeSwap:
		return parseSwap(data)
	case event.EventTypeMintItem:
		return parseMintItem(data)
	case event.EventTypeTransferItem:
		return parseTransferItem(data)
	case event.EventTypeCreateSale:
		return parseCreateSale(data)
	case event.EventTypeCancelSale:
		return parseCancelSale(data)
	case event.EventTypePurchase:
		return parsePurchase(data)
	case event.EventTypeAuthorizeOracle:
		return parseAuthorizeOracle(data)
	case event.EventTypeSetPrice:
		return parseSetPrice(data)
	default:
		return nil, fmt.Errorf("unknown event type: %s", et)
	}
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Balances are
// decimal strings; 128-bit values do not survive JSON numbers.

type headerJSON struct {
	RequestID   string `json:"request_id"`
	Signer      string `json:"signer"`
	Nonce       int64  `json:"nonce"`
	TimestampUs int64  `json:"timestamp_us"`
}

func (j headerJSON) header() (event.Header, error) {
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return event.Header{}, fmt.Errorf("parse request_id: %w", err)
	}
	if requestID == uuid.Nil {
		return event.Header{}, fmt.Errorf("request_id must not be nil")
	}
	signer, err := uuid.Parse(j.Signer)
	if err != nil {
		return event.Header{}, fmt.Errorf("parse signer: %w", err)
	}
	if j.Nonce <= 0 {
		return event.Header{}, fmt.Errorf("nonce must be positive, got %d", j.Nonce)
	}
	return event.Header{
		RequestID: requestID,
		Signer:    signer,
		Nonce:     j.Nonce,
		Timestamp: time.UnixMicro(j.TimestampUs).UTC(),
	}, nil
}

func decode(name string, data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

func balance(field, s string) (fpmath.Balance, error) {
	b, err := fpmath.ParseBalance(s)
	if err != nil {
		return fpmath.Balance{}, fmt.Errorf("parse %s: %w", field, err)
	}
	return b, nil
}

func account(field, s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse %s: %w", field, err)
	}
	return id, nil
}

type createAssetJSON struct {
	headerJSON
	AssetID    uint32 `json:"asset_id"`
	Symbol     string `json:"symbol"`
	Decimals   uint8  `json:"decimals"`
	MinBalance string `json:"min_balance"`
}

func parseCreateAsset(data []byte) (*event.CreateAsset, error) {
	var j createAssetJSON
	if err := decode("CreateAsset", data, &j); err != nil {
		return nil, err
	}
	h, err := j.header()
	if err != nil {
		return nil, err
	}
	minBalance := fpmath.Balance{}
	if j.MinBalance != "" {
		if minBalance, err = balance("min_balance", j.MinBalance); err != nil {
			return nil, err
		}
	}
	return &event.CreateAsset{
		Header:     h,
		AssetID:    ledger.AssetID(j.AssetID),
		Symbol:     j.Symbol,
		Decimals:   j.Decimals,
		MinBalance: minBalance,
	}, nil
}

type assetMoveJSON struct {
	headerJSON
	AssetID uint32 `json:"asset_id"`
	To      string `json:"to"`
	Amount  string `json:"amount"`
}

func (j assetMoveJSON) parse() (event.Header, uuid.UUID, fpmath.Balance, error) {
	h, err := j.header()
	if err != nil {
		return h, uuid.Nil, fpmath.Balance{}, err
	}
	to, err := account("to", j.To)
	if err != nil {
		return h, uuid.Nil, fpmath.Balance{}, err
	}
	amount, err := balance("amount", j.Amount)
	return h, to, amount, err
}

func parseMintAsset(data []byte) (*event.MintAsset, error) {
	var j assetMoveJSON
	if err := decode("MintAsset", data, &j); err != nil {
		return nil, err
	}
	h, to, amount, err := j.parse()
	if err != nil {
		return nil, err
	}
	return &event.MintAsset{Header: h, AssetID: ledger.AssetID(j.AssetID), To: to, Amount: amount}, nil
}

func parseTransferAsset(data []byte) (*event.TransferAsset, error) {
	var j assetMoveJSON
	if err := decode("TransferAsset", data, &j); err != nil {
		return nil, err
	}
	h, to, amount, err := j.parse()
	if err != nil {
		return nil, err
	}
	return &event.TransferAsset{Header: h, AssetID: ledger.AssetID(j.AssetID), To: to, Amount: amount}, nil
}

type createPoolJSON struct {
	headerJSON
	PoolID         uint32 `json:"pool_id"`
	AssetA         uint32 `json:"asset_a"`
	AssetB         uint32 `json:"asset_b"`
	AmountA        string `json:"amount_a"`
	AmountB        string `json:"amount_b"`
	LPToken        uint32 `json:"lp_token"`
	FeeNumerator   string `json:"fee_numerator"`
	FeeDenominator string `json:"fee_denominator"`
}

func parseCreatePool(data []byte) (*event.CreatePool, error) {
	var j createPoolJSON
	if err := decode("CreatePool", data, &j); err != nil {
		return nil, err
	}
	h, err := j.header()
	if err != nil {
		return nil, err
	}
	evt := &event.CreatePool{
		Header:  h,
		PoolID:  ledger.AssetID(j.PoolID),
		AssetA:  ledger.AssetID(j.AssetA),
		AssetB:  ledger.AssetID(j.AssetB),
		LPToken: ledger.AssetID(j.LPToken),
	}
	for _, f := range []struct {
		name string
		src  string
		dst  *fpmath.Balance
	}{
		{"amount_a", j.AmountA, &evt.AmountA},
		{"amount_b", j.AmountB, &evt.AmountB},
		{"fee_numerator", j.FeeNumerator, &evt.FeeNumerator},
		{"fee_denominator", j.FeeDenominator, &evt.FeeDenominator},
	} {
		if *f.dst, err = balance(f.name, f.src); err != nil {
			return nil, err
		}
	}
	return evt, nil
}

type addLiquidityJSON struct {
	headerJSON
	PoolID  uint32 `json:"pool_id"`
	AmountA string `json:"amount_a"`
}

func parseAddLiquidity(data []byte) (*event.AddLiquidity, error) {
	var j addLiquidityJSON
	if err := decode("AddLiquidity", data, &j); err != nil {
		return nil, err
	}
	h, err := j.header()
	if err != nil {
		return nil, err
	}
	amount, err := balance("amount_a", j.AmountA)
	if err != nil {
		return nil, err
	}
	return &event.AddLiquidity{Header: h, PoolID: ledger.AssetID(j.PoolID), AmountA: amount}, nil
}

type claimLiquidityJSON struct {
	headerJSON
	PoolID   uint32 `json:"pool_id"`
	LPAmount string `json:"lp_amount"`
}

func parseClaimLiquidity(data []byte) (*event.ClaimLiquidity, error) {
	var j claimLiquidityJSON
	if err := decode("ClaimLiquidity", data, &j); err != nil {
		return nil, err
	}
	h, err := j.header()
	if err != nil {
		return nil, err
	}
	amount, err := balance("lp_amount", j.LPAmount)
	if err != nil {
		return nil, err
	}
	return &event.ClaimLiquidity{Header: h, PoolID: ledger.AssetID(j.PoolID), LPAmount: amount}, nil
}

type swapJSON struct {
	headerJSON
	PoolID    uint32 `json:"pool_id"`
	FromAsset uint32 `json:"from_asset"`
	Amount    string `json:"amount"`
}

func parseSwap(data []byte) (*event.Swap, error) {
	var j swapJSON
	if err := decode("Swap", data, &j); err != nil {
		return nil, err
	}
	h, err := j.header()
	if err != nil {
		return nil, err
	}
	amount, err := balance("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &event.Swap{
		Header:    h,
		PoolID:    ledger.AssetID(j.PoolID),
		FromAsset: ledger.AssetID(j.FromAsset),
		Amount:    amount,
	}, nil
}

type mintItemJSON struct {
	headerJSON
	TokenURI  string `json:"token_uri"`
	SoulBound bool   `json:"soul_bound"`
}

func parseMintItem(data []byte) (*event.MintItem, error) {
	var j mintItemJSON
	if err := decode("MintItem", data, &j); err != nil {
		return nil, err
	}
	h, err := j.header()
	if err != nil {
		return nil, err
	}
	return &event.MintItem{Header: h, TokenURI: []byte(j.TokenURI), SoulBound: j.SoulBound}, nil
}

type transferItemJSON struct {
	headerJSON
	ItemID uint64 `json:"item_id"`
	To     string `json:"to"`
}

func parseTransferItem(data []byte) (*event.TransferItem, error) {
	var j transferItemJSON
	if err := decode("TransferItem", data, &j); err != nil {
		return nil, err
	}
	h, err := j.header()
	if err != nil {
		return nil, err
	}
	to, err := account("to", j.To)
	if err != nil {
		return nil, err
	}
	return &event.TransferItem{Header: h, ItemID: j.ItemID, To: to}, nil
}

type createSaleJSON struct {
	headerJSON
	SaleID       uint64 `json:"sale_id"`
	PaymentAsset uint32 `json:"payment_asset"`
	ItemID       uint64 `json:"item_id"`
	Price        string `json:"price"`
}

func parseCreateSale(data []byte) (*event.CreateSale, error) {
	var j createSaleJSON
	if err := decode("CreateSale", data, &j); err != nil {
		return nil, err
	}
	h, err := j.header()
	if err != nil {
		return nil, err
	}
	price, err := balance("price", j.Price)
	if err != nil {
		return nil, err
	}
	return &event.CreateSale{
		Header:       h,
		SaleID:       j.SaleID,
		PaymentAsset: ledger.AssetID(j.PaymentAsset),
		ItemID:       j.ItemID,
		Price:        price,
	}, nil
}

type saleRefJSON struct {
	headerJSON
	SaleID uint64 `json:"sale_id"`
}

func parseCancelSale(data []byte) (*event.CancelSale, error) {
	var j saleRefJSON
	if err := decode("CancelSale", data, &j); err != nil {
		return nil, err
	}
	h, err := j.header()
	if err != nil {
		return nil, err
	}
	return &event.CancelSale{Header: h, SaleID: j.SaleID}, nil
}

func parsePurchase(data []byte) (*event.Purchase, error) {
	var j saleRefJSON
	if err := decode("Purchase", data, &j); err != nil {
		return nil, err
	}
	h, err := j.header()
	if err != nil {
		return nil, err
	}
	return &event.Purchase{Header: h, SaleID: j.SaleID}, nil
}

type authorizeOracleJSON struct {
	headerJSON
	Who     string `json:"who"`
	Allowed bool   `json:"allowed"`
}

func parseAuthorizeOracle(data []byte) (*event.AuthorizeOracle, error) {
	var j authorizeOracleJSON
	if err := decode("AuthorizeOracle", data, &j); err != nil {
		return nil, err
	}
	h, err := j.header()
	if err != nil {
		return nil, err
	}
	who, err := account("who", j.Who)
	if err != nil {
		return nil, err
	}
	return &event.AuthorizeOracle{Header: h, Who: who, Allowed: j.Allowed}, nil
}

// setPriceJSON carries the feed's own sequence in nonce.
type setPriceJSON struct {
	headerJSON
	AssetID uint32 `json:"asset_id"`
	Price   string `json:"price"`
}

func parseSetPrice(data []byte) (*event.SetPrice, error) {
	var j setPriceJSON
	if err := decode("SetPrice", data, &j); err != nil {
		return nil, err
	}
	h, err := j.header()
	if err != nil {
		return nil, err
	}
	price, err := balance("price", j.Price)
	if err != nil {
		return nil, err
	}
	return &event.SetPrice{Header: h, AssetID: ledger.AssetID(j.AssetID), Price: price}, nil
}
