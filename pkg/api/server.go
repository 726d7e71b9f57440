// Package api serves the settlement engine over HTTP and WebSocket.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/custodex/pkg/app/core/asset"
	"github.com/uhyunpark/custodex/pkg/app/core/book"
	"github.com/uhyunpark/custodex/pkg/app/core/transaction"
	"github.com/uhyunpark/custodex/pkg/app/exchange"
	"github.com/uhyunpark/custodex/pkg/crypto"
	"github.com/uhyunpark/custodex/pkg/metrics"
	"github.com/uhyunpark/custodex/pkg/util"
)

const maxTxBytes = 64 << 10

type Options struct {
	Engine   *exchange.Engine
	Verifier *transaction.Verifier
	// Hub receives engine events; it must also be the engine's publisher
	// (directly or through events.Fanout) for clients to see anything.
	Hub         *Hub
	Registry    *prometheus.Registry
	Metrics     *metrics.Metrics
	CORSOrigins []string
	Logger      *zap.SugaredLogger
}

// Server handles REST API and WebSocket connections
type Server struct {
	engine   *exchange.Engine
	verifier *transaction.Verifier
	router   *mux.Router
	hub      *Hub
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	origins  []string
	log      *zap.SugaredLogger

	http *http.Server
}

func NewServer(opts Options) *Server {
	s := &Server{
		engine:   opts.Engine,
		verifier: opts.Verifier,
		router:   mux.NewRouter(),
		hub:      opts.Hub,
		registry: opts.Registry,
		metrics:  opts.Metrics,
		origins:  opts.CORSOrigins,
		log:      util.Sugar(opts.Logger),
	}
	if s.hub == nil {
		s.hub = NewHub(s.log)
	}
	if s.verifier == nil {
		s.verifier = transaction.NewVerifier(crypto.DefaultDomain())
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.countRequests)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/tx", s.handleSubmitTx).Methods("POST")

	api.HandleFunc("/accounts/{address}/balances", s.handleGetBalances).Methods("GET")
	api.HandleFunc("/accounts/{address}/nonce", s.handleGetNonce).Methods("GET")

	api.HandleFunc("/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/orders/{id:[0-9]+}", s.handleGetOrder).Methods("GET")

	api.HandleFunc("/custody/totals", s.handleGetTotals).Methods("GET")
	api.HandleFunc("/state", s.handleGetState).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.registry != nil {
		s.router.Handle("/metrics", metrics.Handler(s.registry)).Methods("GET")
	}
}

// Handler is the router wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

func (s *Server) Hub() *Hub { return s.hub }

// Start runs the hub and serves on addr until Shutdown. It returns
// http.ErrServerClosed after a clean shutdown.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Infow("api_listening", "addr", addr)
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTxBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}
	tx, err := transaction.Deserialize(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid transaction", err.Error())
		return
	}
	env, err := s.verifier.Verify(tx)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid signature", err.Error())
		return
	}

	rc, err := s.engine.Execute(r.Context(), env)
	if err != nil {
		s.log.Infow("tx_rejected", "type", tx.Type, "signer", env.Signer.Hex(), "nonce", env.Nonce, "err", err)
		respondEngineError(w, err)
		return
	}
	s.log.Infow("tx_executed", "type", tx.Type, "signer", env.Signer.Hex(), "nonce", env.Nonce)
	respondJSON(w, txResponse(rc))
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressVar(w, r)
	if !ok {
		return
	}
	recs, err := s.engine.Balances(addr)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	resp := BalancesResponse{Address: addr.Hex(), Balances: make([]BalanceInfo, len(recs))}
	for i, rec := range recs {
		resp.Balances[i] = balanceInfo(rec)
	}
	respondJSON(w, resp)
}

func (s *Server) handleGetNonce(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressVar(w, r)
	if !ok {
		return
	}
	n, err := s.engine.Nonce(addr)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, NonceResponse{Address: addr.Hex(), Nonce: n})
}

// handleGetOrders lists the book, optionally filtered by ?owner=0x...
func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	var (
		orders []*book.Order
		err    error
	)
	if owner := r.URL.Query().Get("owner"); owner != "" {
		if !common.IsHexAddress(owner) {
			respondError(w, http.StatusBadRequest, "invalid owner", owner)
			return
		}
		orders, err = s.engine.OrdersByOwner(common.HexToAddress(owner))
	} else {
		orders, err = s.engine.Orders()
	}
	if err != nil {
		respondEngineError(w, err)
		return
	}
	resp := make([]OrderInfo, len(orders))
	for i, o := range orders {
		resp[i] = orderInfo(o)
	}
	respondJSON(w, resp)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}
	o, err := s.engine.Order(id)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, orderInfo(o))
}

func (s *Server) handleGetTotals(w http.ResponseWriter, r *http.Request) {
	totals, err := s.engine.Totals()
	if err != nil {
		respondEngineError(w, err)
		return
	}
	resp := make([]TotalInfo, len(totals))
	for i, t := range totals {
		resp[i] = TotalInfo{
			Issuer:   t.Issuer.String(),
			Held:     t.Held.String(),
			Escrowed: t.Escrowed.String(),
			Total:    t.Total.String(),
		}
	}
	respondJSON(w, resp)
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	h, err := s.engine.StateHash()
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, StateResponse{Hash: h.Hex(), OpenOrders: s.engine.OpenOrders()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets /ws upgrade through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("api: response writer cannot hijack")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// countRequests labels requests by route template so ids and addresses do
// not explode the label space.
func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := "unknown"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.metrics.ObserveRequest(route, strconv.Itoa(rec.status))
	})
}

func addressVar(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := mux.Vars(r)["address"]
	if !common.IsHexAddress(raw) {
		respondError(w, http.StatusBadRequest, "invalid address", raw)
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, exchange.ErrRecordNotFound),
		errors.Is(err, exchange.ErrSymbolNotFound),
		errors.Is(err, exchange.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, exchange.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, exchange.ErrNonceTooLow),
		errors.Is(err, exchange.ErrOverFill),
		errors.Is(err, exchange.ErrInsufficientFunds),
		errors.Is(err, exchange.ErrOrderExpired):
		return http.StatusConflict
	case errors.Is(err, exchange.ErrGatewayFailure):
		return http.StatusBadGateway
	case errors.Is(err, transaction.ErrInvalidCommand),
		errors.Is(err, exchange.ErrInvalidOrder),
		errors.Is(err, exchange.ErrInvalidAmount),
		errors.Is(err, exchange.ErrZeroFill),
		errors.Is(err, exchange.ErrOverflow),
		errors.Is(err, asset.ErrSymbolMismatch),
		errors.Is(err, asset.ErrInvalidAsset),
		errors.Is(err, asset.ErrInvalidSymbol),
		errors.Is(err, asset.ErrInvalidIssuer):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func respondEngineError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	respondError(w, status, http.StatusText(status), err.Error())
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
