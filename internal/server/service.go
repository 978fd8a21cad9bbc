package server

import (
	"context"
	"encoding/json"
	"errors"

	"DexLedger/internal/core"
	"DexLedger/internal/ingestion"
	"DexLedger/internal/ledger"
	fpmath "DexLedger/internal/math"
	"DexLedger/internal/query"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServiceName is the full gRPC name of the exchange API.
const ServiceName = "dexledger.v1.DexService"

// --- Messages ---

type SubmitEventRequest struct {
	EventType string          `json:"event_type"` // snake_case, as in dex.cmd.<type>
	Payload   json.RawMessage `json:"payload"`
}

type SubmitEventResponse struct {
	Accepted bool `json:"accepted"`
}

type GetBalanceRequest struct {
	Account string `json:"account"`
	AssetID uint32 `json:"asset_id"`
}

type GetPoolRequest struct {
	PoolID uint32 `json:"pool_id"`
}

type ListPoolsRequest struct{}

type ListPoolsResponse struct {
	Pools []query.PoolResponse `json:"pools"`
}

type QuoteSwapRequest struct {
	PoolID    uint32         `json:"pool_id"`
	FromAsset uint32         `json:"from_asset"`
	Amount    fpmath.Balance `json:"amount"`
}

type QuoteSwapResponse struct {
	PoolID    uint32         `json:"pool_id"`
	FromAsset uint32         `json:"from_asset"`
	ToAsset   uint32         `json:"to_asset"`
	AmountIn  fpmath.Balance `json:"amount_in"`
	Output    fpmath.Balance `json:"output"`
	Fee       fpmath.Balance `json:"fee"`
	Sequence  int64          `json:"as_of_sequence"`
}

type GetItemRequest struct {
	ItemID uint64 `json:"item_id"`
}

type ListSalesRequest struct {
	Seller string `json:"seller,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type ListSalesResponse struct {
	Sales []query.SaleResponse `json:"sales"`
}

type VerifyIntegrityRequest struct{}

type RebuildProjectionsRequest struct{}

type RebuildProjectionsResponse struct {
	Rebuilt bool `json:"rebuilt"`
}

// --- Dependencies ---

// Submitter applies a command and reports the core's verdict.
type Submitter interface {
	SubmitJSON(ctx context.Context, eventType string, data []byte) error
}

// Reader serves the projection-backed reads.
type Reader interface {
	GetBalance(ctx context.Context, account uuid.UUID, assetID ledger.AssetID) (*query.BalanceResponse, error)
	GetPool(ctx context.Context, poolID ledger.AssetID) (*query.PoolResponse, error)
	ListPools(ctx context.Context) ([]query.PoolResponse, error)
	GetItem(ctx context.Context, itemID uint64) (*query.ItemResponse, error)
	ListSales(ctx context.Context, seller *uuid.UUID, limit int) ([]query.SaleResponse, error)
	VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error)
}

// RebuildFunc recomputes the projections from the event log.
type RebuildFunc func(ctx context.Context) error

// ViewSource returns the latest published core view.
type ViewSource interface {
	View() *core.View
}

// DexServiceServer is the server API of dexledger.v1.DexService.
type DexServiceServer interface {
	SubmitEvent(context.Context, *SubmitEventRequest) (*SubmitEventResponse, error)
	GetBalance(context.Context, *GetBalanceRequest) (*query.BalanceResponse, error)
	GetPool(context.Context, *GetPoolRequest) (*query.PoolResponse, error)
	ListPools(context.Context, *ListPoolsRequest) (*ListPoolsResponse, error)
	QuoteSwap(context.Context, *QuoteSwapRequest) (*QuoteSwapResponse, error)
	GetItem(context.Context, *GetItemRequest) (*query.ItemResponse, error)
	ListSales(context.Context, *ListSalesRequest) (*ListSalesResponse, error)
	VerifyIntegrity(context.Context, *VerifyIntegrityRequest) (*query.IntegrityReport, error)
	RebuildProjections(context.Context, *RebuildProjectionsRequest) (*RebuildProjectionsResponse, error)
}

// dexService implements DexServiceServer.
type dexService struct {
	submitter Submitter
	reader    Reader
	views     ViewSource
	rebuild   RebuildFunc
}

// NewDexService builds the service implementation. A nil rebuild makes
// RebuildProjections return Unimplemented.
func NewDexService(submitter Submitter, reader Reader, views ViewSource, rebuild RebuildFunc) DexServiceServer {
	return &dexService{submitter: submitter, reader: reader, views: views, rebuild: rebuild}
}

func (s *dexService) SubmitEvent(ctx context.Context, req *SubmitEventRequest) (*SubmitEventResponse, error) {
	if req.EventType == "" {
		return nil, status.Error(codes.InvalidArgument, "event_type is required")
	}
	if err := s.submitter.SubmitJSON(ctx, req.EventType, req.Payload); err != nil {
		return nil, toStatus(err)
	}
	return &SubmitEventResponse{Accepted: true}, nil
}

func (s *dexService) GetBalance(ctx context.Context, req *GetBalanceRequest) (*query.BalanceResponse, error) {
	account, err := uuid.Parse(req.Account)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid account: %v", err)
	}
	bal, err := s.reader.GetBalance(ctx, account, ledger.AssetID(req.AssetID))
	if err != nil {
		return nil, toStatus(err)
	}
	return bal, nil
}

func (s *dexService) GetPool(ctx context.Context, req *GetPoolRequest) (*query.PoolResponse, error) {
	p, err := s.reader.GetPool(ctx, ledger.AssetID(req.PoolID))
	if err != nil {
		return nil, toStatus(err)
	}
	return p, nil
}

func (s *dexService) ListPools(ctx context.Context, _ *ListPoolsRequest) (*ListPoolsResponse, error) {
	pools, err := s.reader.ListPools(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListPoolsResponse{Pools: pools}, nil
}

// QuoteSwap prices a swap against the live core view, not the projections,
// so the quote matches what the next Swap would settle at.
func (s *dexService) QuoteSwap(_ context.Context, req *QuoteSwapRequest) (*QuoteSwapResponse, error) {
	view := s.views.View()
	if view == nil {
		return nil, status.Error(codes.Unavailable, "core not started")
	}
	receipt, err := view.Quote(ledger.AssetID(req.PoolID), ledger.AssetID(req.FromAsset), req.Amount)
	if err != nil {
		return nil, toStatus(err)
	}
	return &QuoteSwapResponse{
		PoolID:    req.PoolID,
		FromAsset: uint32(receipt.FromAsset),
		ToAsset:   uint32(receipt.ToAsset),
		AmountIn:  receipt.AmountIn,
		Output:    receipt.Output,
		Fee:       receipt.Fee,
		Sequence:  view.Sequence - 1,
	}, nil
}

func (s *dexService) GetItem(ctx context.Context, req *GetItemRequest) (*query.ItemResponse, error) {
	it, err := s.reader.GetItem(ctx, req.ItemID)
	if err != nil {
		return nil, toStatus(err)
	}
	return it, nil
}

func (s *dexService) ListSales(ctx context.Context, req *ListSalesRequest) (*ListSalesResponse, error) {
	var seller *uuid.UUID
	if req.Seller != "" {
		id, err := uuid.Parse(req.Seller)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid seller: %v", err)
		}
		seller = &id
	}
	sales, err := s.reader.ListSales(ctx, seller, req.Limit)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListSalesResponse{Sales: sales}, nil
}

func (s *dexService) VerifyIntegrity(ctx context.Context, _ *VerifyIntegrityRequest) (*query.IntegrityReport, error) {
	report, err := s.reader.VerifyIntegrity(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return report, nil
}

func (s *dexService) RebuildProjections(ctx context.Context, _ *RebuildProjectionsRequest) (*RebuildProjectionsResponse, error) {
	if s.rebuild == nil {
		return nil, status.Error(codes.Unimplemented, "projection rebuild is not configured")
	}
	if err := s.rebuild(ctx); err != nil {
		return nil, status.Errorf(codes.Internal, "rebuild: %v", err)
	}
	return &RebuildProjectionsResponse{Rebuilt: true}, nil
}

// toStatus maps domain errors onto gRPC codes by their stable kind.
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, query.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ingestion.ErrUnknownSubject), errors.Is(err, ingestion.ErrInvalidCommand):
		return status.Error(codes.InvalidArgument, err.Error())
	}

	var code codes.Code
	switch core.ErrorKind(err) {
	case "dex_not_found", "sale_not_found", "item_not_found", "asset_does_not_exist":
		code = codes.NotFound
	case "pool_exists", "sale_exists", "asset_exists", "item_already_listed":
		code = codes.AlreadyExists
	case "not_authorized", "unauthorized":
		code = codes.PermissionDenied
	case "insufficient_balance", "minimum_liquidity", "would_kill_account",
		"swap_exceeds_funds", "unable_to_swap", "item_transfer_failed", "supply_overflow":
		code = codes.FailedPrecondition
	case "sequence_gap", "out_of_order":
		code = codes.Aborted
	case "internal", "replay_diverged":
		code = codes.Internal
	default:
		code = codes.InvalidArgument
	}
	return status.Error(code, err.Error())
}

// --- Service descriptor ---

// RegisterDexServiceServer registers srv on s.
func RegisterDexServiceServer(s grpc.ServiceRegistrar, srv DexServiceServer) {
	s.RegisterService(&DexServiceDesc, srv)
}

func unary[Req any, Resp any](method string, call func(DexServiceServer, context.Context, *Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				resp, err := call(srv.(DexServiceServer), ctx, req.(*Req))
				if err != nil {
					return nil, err
				}
				return resp, nil
			}
			if interceptor == nil {
				return handler(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// DexServiceDesc describes dexledger.v1.DexService. Messages travel with
// the JSON codec.
var DexServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DexServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("SubmitEvent", DexServiceServer.SubmitEvent),
		unary("GetBalance", DexServiceServer.GetBalance),
		unary("GetPool", DexServiceServer.GetPool),
		unary("ListPools", DexServiceServer.ListPools),
		unary("QuoteSwap", DexServiceServer.QuoteSwap),
		unary("GetItem", DexServiceServer.GetItem),
		unary("ListSales", DexServiceServer.ListSales),
		unary("VerifyIntegrity", DexServiceServer.VerifyIntegrity),
		unary("RebuildProjections", DexServiceServer.RebuildProjections),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dexledger/v1/dex.proto",
}

// DexServiceClient calls dexledger.v1.DexService over a connection.
type DexServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewDexServiceClient(cc grpc.ClientConnInterface) *DexServiceClient {
	return &DexServiceClient{cc: cc}
}

func (c *DexServiceClient) invoke(ctx context.Context, method string, in, out interface{}, opts ...grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...)
}

func (c *DexServiceClient) SubmitEvent(ctx context.Context, in *SubmitEventRequest, opts ...grpc.CallOption) (*SubmitEventResponse, error) {
	out := new(SubmitEventResponse)
	return out, c.invoke(ctx, "SubmitEvent", in, out, opts...)
}

func (c *DexServiceClient) QuoteSwap(ctx context.Context, in *QuoteSwapRequest, opts ...grpc.CallOption) (*QuoteSwapResponse, error) {
	out := new(QuoteSwapResponse)
	return out, c.invoke(ctx, "QuoteSwap", in, out, opts...)
}

func (c *DexServiceClient) GetPool(ctx context.Context, in *GetPoolRequest, opts ...grpc.CallOption) (*query.PoolResponse, error) {
	out := new(query.PoolResponse)
	return out, c.invoke(ctx, "GetPool", in, out, opts...)
}

func (c *DexServiceClient) VerifyIntegrity(ctx context.Context, opts ...grpc.CallOption) (*query.IntegrityReport, error) {
	out := new(query.IntegrityReport)
	return out, c.invoke(ctx, "VerifyIntegrity", &VerifyIntegrityRequest{}, out, opts...)
}
