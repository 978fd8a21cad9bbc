package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	fpmath "DexLedger/internal/math"
	"DexLedger/internal/observability"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// maxRequestBody bounds SubmitEvent payloads on the HTTP side.
const maxRequestBody = 1 << 20

// GRPCServer wraps the gRPC server and the HTTP/JSON gateway mux. Both
// dispatch to the same DexServiceServer.
type GRPCServer struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	service       DexServiceServer
	healthChecker *observability.HealthChecker
	metrics       *observability.Metrics
	logger        zerolog.Logger
}

// ServerDeps holds all dependencies needed by the exchange API.
type ServerDeps struct {
	Submitter     Submitter
	Reader        Reader
	Views         ViewSource
	Rebuild       RebuildFunc
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
}

// NewGRPCServer creates the gRPC server with DexService, health and
// reflection registered.
func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps) *GRPCServer {
	s := &GRPCServer{
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		service:       NewDexService(deps.Submitter, deps.Reader, deps.Views, deps.Rebuild),
		healthChecker: deps.HealthChecker,
		metrics:       deps.Metrics,
		logger:        observability.NewLogger("server"),
	}

	s.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(s.unaryInterceptor))
	RegisterDexServiceServer(s.grpcServer, s.service)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, healthServer)
	if s.healthChecker != nil {
		s.healthChecker.BindGRPC(healthServer)
	} else {
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	}

	// Reflection for grpcurl / grpcui
	reflection.Register(s.grpcServer)
	return s
}

// StartGRPC starts the gRPC server (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	return s.ServeGRPC(ctx, lis)
}

// ServeGRPC serves on an existing listener until ctx is cancelled.
func (s *GRPCServer) ServeGRPC(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTPGateway starts the HTTP/JSON API (blocking).
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Handler returns the HTTP routes: the REST mapping of DexService plus
// /healthz and /readyz.
func (s *GRPCServer) Handler() http.Handler {
	mux := runtime.NewServeMux()
	routes := []struct {
		method, pattern string
		h               runtime.HandlerFunc
	}{
		{http.MethodPost, "/v1/events/{event_type}", s.httpSubmitEvent},
		{http.MethodGet, "/v1/balances/{account}/{asset_id}", s.httpGetBalance},
		{http.MethodGet, "/v1/pools", s.httpListPools},
		{http.MethodGet, "/v1/pools/{pool_id}", s.httpGetPool},
		{http.MethodGet, "/v1/pools/{pool_id}/quote", s.httpQuoteSwap},
		{http.MethodGet, "/v1/items/{item_id}", s.httpGetItem},
		{http.MethodGet, "/v1/sales", s.httpListSales},
		{http.MethodGet, "/v1/admin/integrity", s.httpVerifyIntegrity},
		{http.MethodPost, "/v1/admin/projections/rebuild", s.httpRebuildProjections},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, r.h); err != nil {
			// Patterns are constants; a failure here is a programming error.
			panic(fmt.Sprintf("register %s %s: %v", r.method, r.pattern, err))
		}
	}

	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, `{"status":"ok"}`)
		})
	}
	httpMux.Handle("/", mux)
	return httpMux
}

func (s *GRPCServer) unaryInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	resp, err := handler(ctx, req)
	if err != nil {
		s.recordError(info.FullMethod, err)
	}
	return resp, err
}

func (s *GRPCServer) recordError(endpoint string, err error) {
	code := status.Code(err)
	if s.metrics != nil {
		s.metrics.QueryErrors.WithLabelValues(endpoint, code.String()).Inc()
	}
	ev := s.logger.Debug()
	if code == codes.Internal || code == codes.Unknown {
		ev = s.logger.Error()
	}
	ev.Err(err).Str("endpoint", endpoint).Str("code", code.String()).Msg("request failed")
}

// --- HTTP handlers ---

type httpError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *GRPCServer) reply(w http.ResponseWriter, endpoint string, resp interface{}, err error) {
	w.Header().Set("Content-Type", "application/json")
	if err != nil {
		err = toStatus(err)
		s.recordError(endpoint, err)
		st := status.Convert(err)
		w.WriteHeader(runtime.HTTPStatusFromCode(st.Code()))
		json.NewEncoder(w).Encode(httpError{Code: st.Code().String(), Message: st.Message()})
		return
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

func (s *GRPCServer) httpSubmitEvent(w http.ResponseWriter, r *http.Request, params map[string]string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		s.reply(w, "submit_event", nil, status.Errorf(codes.InvalidArgument, "read body: %v", err))
		return
	}
	resp, err := s.service.SubmitEvent(r.Context(), &SubmitEventRequest{
		EventType: params["event_type"],
		Payload:   body,
	})
	s.reply(w, "submit_event", resp, err)
}

func (s *GRPCServer) httpGetBalance(w http.ResponseWriter, r *http.Request, params map[string]string) {
	assetID, err := parseUint32(params["asset_id"], "asset_id")
	if err != nil {
		s.reply(w, "get_balance", nil, err)
		return
	}
	resp, err := s.service.GetBalance(r.Context(), &GetBalanceRequest{Account: params["account"], AssetID: assetID})
	s.reply(w, "get_balance", resp, err)
}

func (s *GRPCServer) httpListPools(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := s.service.ListPools(r.Context(), &ListPoolsRequest{})
	s.reply(w, "list_pools", resp, err)
}

func (s *GRPCServer) httpGetPool(w http.ResponseWriter, r *http.Request, params map[string]string) {
	poolID, err := parseUint32(params["pool_id"], "pool_id")
	if err != nil {
		s.reply(w, "get_pool", nil, err)
		return
	}
	resp, err := s.service.GetPool(r.Context(), &GetPoolRequest{PoolID: poolID})
	s.reply(w, "get_pool", resp, err)
}

func (s *GRPCServer) httpQuoteSwap(w http.ResponseWriter, r *http.Request, params map[string]string) {
	req, err := quoteRequest(params["pool_id"], r.URL.Query().Get("from_asset"), r.URL.Query().Get("amount"))
	if err != nil {
		s.reply(w, "quote_swap", nil, err)
		return
	}
	resp, err := s.service.QuoteSwap(r.Context(), req)
	s.reply(w, "quote_swap", resp, err)
}

func quoteRequest(pool, from, amount string) (*QuoteSwapRequest, error) {
	poolID, err := parseUint32(pool, "pool_id")
	if err != nil {
		return nil, err
	}
	fromAsset, err := parseUint32(from, "from_asset")
	if err != nil {
		return nil, err
	}
	amt, err := fpmath.ParseBalance(amount)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid amount: %v", err)
	}
	return &QuoteSwapRequest{PoolID: poolID, FromAsset: fromAsset, Amount: amt}, nil
}

func (s *GRPCServer) httpGetItem(w http.ResponseWriter, r *http.Request, params map[string]string) {
	itemID, err := strconv.ParseUint(params["item_id"], 10, 64)
	if err != nil {
		s.reply(w, "get_item", nil, status.Errorf(codes.InvalidArgument, "invalid item_id: %v", err))
		return
	}
	resp, err := s.service.GetItem(r.Context(), &GetItemRequest{ItemID: itemID})
	s.reply(w, "get_item", resp, err)
}

func (s *GRPCServer) httpListSales(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	req := &ListSalesRequest{Seller: r.URL.Query().Get("seller")}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			s.reply(w, "list_sales", nil, status.Errorf(codes.InvalidArgument, "invalid limit: %v", err))
			return
		}
		req.Limit = limit
	}
	resp, err := s.service.ListSales(r.Context(), req)
	s.reply(w, "list_sales", resp, err)
}

func (s *GRPCServer) httpVerifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := s.service.VerifyIntegrity(r.Context(), &VerifyIntegrityRequest{})
	s.reply(w, "verify_integrity", resp, err)
}

func (s *GRPCServer) httpRebuildProjections(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := s.service.RebuildProjections(r.Context(), &RebuildProjectionsRequest{})
	s.reply(w, "rebuild_projections", resp, err)
}

func parseUint32(v, name string) (uint32, error) {
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, status.Errorf(codes.InvalidArgument, "invalid %s: %q", name, v)
	}
	return uint32(n), nil
}
