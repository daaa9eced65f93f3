package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/escrowd/params"
	"github.com/uhyunpark/escrowd/pkg/app/core/escrow"
	"github.com/uhyunpark/escrowd/pkg/app/core/transaction"
	"github.com/uhyunpark/escrowd/pkg/app/listing"
	"github.com/uhyunpark/escrowd/pkg/crypto"
	"github.com/uhyunpark/escrowd/pkg/metrics"
)

// maxBodyBytes bounds a submitted group. 16 txns of JSON fit well below it.
const maxBodyBytes = 64 << 10

// Server handles REST API and WebSocket connections
type Server struct {
	app      *listing.App
	cfg      params.API
	router   *mux.Router
	hub      *Hub
	limiter  *clientLimiter
	logger   *zap.SugaredLogger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
}

// NewServer creates a new API server. gatherer backs /metrics and may be nil.
func NewServer(app *listing.App, cfg params.API, logger *zap.SugaredLogger, m *metrics.Metrics, gatherer prometheus.Gatherer) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{
		app:      app,
		cfg:      cfg,
		router:   mux.NewRouter(),
		hub:      NewHub(logger),
		limiter:  newClientLimiter(cfg.SubmitRate, cfg.SubmitBurst),
		logger:   logger,
		metrics:  m,
		gatherer: gatherer,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(requestID(s.logger))

	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Listing endpoints
	api.HandleFunc("/listings", s.handleListListings).Methods("GET")
	api.HandleFunc("/listings/{owner}/{asset}", s.handleGetListing).Methods("GET")

	// Account and asset endpoints
	api.HandleFunc("/accounts/{address}", s.handleGetAccount).Methods("GET")
	api.HandleFunc("/assets/{id}", s.handleGetAsset).Methods("GET")

	// Transactions
	api.HandleFunc("/txs", s.limiter.middleware(s.handleSubmitGroup)).Methods("POST")
	api.HandleFunc("/txs/{id}", s.handleGetReceipt).Methods("GET")

	// Chain endpoints
	api.HandleFunc("/chain/status", s.handleGetChainStatus).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check and metrics
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}
}

// Handler returns the router wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", RequestIDHeader},
		ExposedHeaders:   []string{RequestIDHeader},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

func (s *Server) Hub() *Hub { return s.hub }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("api_server_starting", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down api server: %w", err)
		}
		return nil
	}
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleListListings(w http.ResponseWriter, r *http.Request) {
	var f listing.ListingFilter
	q := r.URL.Query()
	if owner := q.Get("owner"); owner != "" {
		if !common.IsHexAddress(owner) {
			respondError(w, http.StatusBadRequest, "invalid owner", "", "")
			return
		}
		f.Owner = common.HexToAddress(owner)
	}
	if asset := q.Get("asset"); asset != "" {
		id, err := strconv.ParseUint(asset, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid asset", err.Error(), "")
			return
		}
		f.Asset = id
	}

	listings, err := s.app.ListListings(f)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	response := make([]ListingInfo, len(listings))
	for i, l := range listings {
		response[i] = toListingInfo(l)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !common.IsHexAddress(vars["owner"]) {
		respondError(w, http.StatusBadRequest, "invalid owner", "", "")
		return
	}
	asset, err := strconv.ParseUint(vars["asset"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid asset", err.Error(), "")
		return
	}

	l, ok, err := s.app.GetListing(common.HexToAddress(vars["owner"]), asset)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "listing not found", "", escrow.KindPrecondition.String())
		return
	}
	respondJSON(w, toListingInfo(l))
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addressStr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addressStr) {
		respondError(w, http.StatusBadRequest, "invalid address", "", "")
		return
	}
	account, err := s.app.GetAccount(common.HexToAddress(addressStr))
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	respondJSON(w, account)
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid asset id", err.Error(), "")
		return
	}
	asset, ok, err := s.app.GetAsset(id)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "asset not found", "", "")
		return
	}
	respondJSON(w, asset)
}

func (s *Server) handleSubmitGroup(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error(), "")
		return
	}
	if len(body) > maxBodyBytes {
		respondError(w, http.StatusRequestEntityTooLarge, "group too large", "", "")
		return
	}

	ids, err := s.app.PushTx(body)
	if err != nil {
		s.metrics.ObserveSubmission("rejected")
		status, kind := statusFor(err), ""
		if status != http.StatusBadRequest {
			kind = escrow.KindOf(err).String()
		}
		s.logger.Debugw("group_submit_rejected", "request_id", requestIDFrom(r.Context()), "status", status, "error", err)
		respondError(w, status, "group rejected", err.Error(), kind)
		return
	}
	s.metrics.ObserveSubmission("accepted")

	txIDs := make([]string, len(ids))
	for i, id := range ids {
		txIDs[i] = id.String()
	}
	s.logger.Infow("group_submitted", "request_id", requestIDFrom(r.Context()), "txns", len(ids), "first_tx", txIDs[0])

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(SubmitResponse{Status: "submitted", TxIDs: txIDs})
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := crypto.ParseTxID(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid tx id", err.Error(), "")
		return
	}
	receipt, ok, err := s.app.Receipt(id)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "receipt not found", "pending or unknown", "")
		return
	}
	respondJSON(w, receipt)
}

func (s *Server) handleGetChainStatus(w http.ResponseWriter, r *http.Request) {
	hash := s.app.AppHash()
	p := s.app.Params()
	response := ChainStatus{
		Height:      s.app.Height(),
		AppHash:     fmt.Sprintf("0x%x", hash[:]),
		MempoolSize: s.app.Pending(),
		Custody:     s.app.Custody().Hex(),
		ChainID:     s.app.Domain().ChainID.String(),
		ForSaleMBR:  p.ForSaleMBR,
		OptInMinBal: p.AssetOptInMinBalance,
	}
	respondJSON(w, response)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

// statusFor maps a submission or execution error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, transaction.ErrMalformedGroup),
		errors.Is(err, transaction.ErrBadSignature),
		errors.Is(err, transaction.ErrGroupBinding):
		return http.StatusBadRequest
	}
	switch escrow.KindOf(err) {
	case escrow.KindPrecondition:
		return http.StatusConflict
	case escrow.KindPayment:
		return http.StatusPaymentRequired
	case escrow.KindOverflow:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Errorw("api_internal_error", "request_id", requestIDFrom(r.Context()), "path", r.URL.Path, "error", err)
	respondError(w, http.StatusInternalServerError, "internal error", "", escrow.KindInternal.String())
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string, kind string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
		Kind:    kind,
	})
}

// channelName normalizes a subscription channel. Addresses are matched
// case-insensitively.
func channelName(parts ...string) string {
	return strings.ToLower(strings.Join(parts, ":"))
}
