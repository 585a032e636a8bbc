package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Zernach/chainequity-sub000/internal/captable"
	"github.com/Zernach/chainequity-sub000/internal/domain/model"
	"github.com/Zernach/chainequity-sub000/internal/ledger"
	"github.com/Zernach/chainequity-sub000/internal/metrics"
	"github.com/Zernach/chainequity-sub000/internal/reconciliation"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxRequestBodyBytes = 1 << 20 // 1 MB

// Ledger is the write-side surface the API exposes. In production this is
// satisfied by *ledger.Service; tests can provide a stub.
type Ledger interface {
	InitializeToken(ctx context.Context, caller, symbol, name string, decimals int) (*model.Token, error)
	ApproveWallet(ctx context.Context, caller string, tokenID uuid.UUID, wallet string) error
	RevokeWallet(ctx context.Context, caller string, tokenID uuid.UUID, wallet string) error
	IsApproved(ctx context.Context, tokenID uuid.UUID, wallet string) (bool, error)
	MintTokens(ctx context.Context, caller string, tokenID uuid.UUID, recipient, amount string) error
	Transfer(ctx context.Context, tokenID uuid.UUID, from, to, amount string) (*model.TransferRecord, error)
	ExecuteStockSplit(ctx context.Context, caller string, oldTokenID uuid.UUID, ratio int64, newSymbol, newName string) (*model.Split, *model.Token, error)
	MigrateHolderSplit(ctx context.Context, caller string, splitID uuid.UUID, wallet string) (*model.Split, error)
	UpdateTokenMetadata(ctx context.Context, caller string, tokenID uuid.UUID, newSymbol, newName string) error
	GetToken(ctx context.Context, tokenID uuid.UUID) (*model.Token, error)
	GetBalance(ctx context.Context, tokenID uuid.UUID, wallet string) (string, error)
	GetSplit(ctx context.Context, splitID uuid.UUID) (*model.Split, error)
}

// CapTableProvider is the read-side projection surface.
type CapTableProvider interface {
	CapTable(ctx context.Context, tokenID uuid.UUID, asOfSequence *int64) (*captable.Snapshot, error)
}

// TransferLister lists the audit trail of confirmed and rejected transfers.
type TransferLister interface {
	ListTransfers(ctx context.Context, tokenID uuid.UUID, limit int) ([]model.TransferRecord, error)
}

// Auditor runs a ledger-vs-event-log consistency check on demand.
type Auditor interface {
	Reconcile(ctx context.Context) (*reconciliation.RunResult, error)
}

// Server exposes the ledger over HTTP.
type Server struct {
	ledger    Ledger
	capTables CapTableProvider
	transfers TransferLister
	auditor   Auditor
	limiter   *RateLimiter
	logger    *slog.Logger
}

type Option func(*Server)

// WithAuditor enables the on-demand reconciliation endpoint.
func WithAuditor(a Auditor) Option {
	return func(s *Server) { s.auditor = a }
}

// WithRateLimiter applies per-IP rate limiting to the /v1 routes.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(s *Server) { s.limiter = rl }
}

func NewServer(l Ledger, ct CapTableProvider, tl TransferLister, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		ledger:    l,
		capTables: ct,
		transfers: tl,
		logger:    logger.With("component", "api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler for the ledger API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Wrap)
		}

		r.Post("/tokens", s.handleInitializeToken)
		r.Get("/tokens/{tokenID}", s.handleGetToken)
		r.Patch("/tokens/{tokenID}", s.handleUpdateMetadata)

		r.Post("/tokens/{tokenID}/approvals", s.handleApproveWallet)
		r.Delete("/tokens/{tokenID}/approvals/{wallet}", s.handleRevokeWallet)
		r.Get("/tokens/{tokenID}/approvals/{wallet}", s.handleGetApproval)

		r.Post("/tokens/{tokenID}/mints", s.handleMintTokens)
		r.Post("/tokens/{tokenID}/transfers", s.handleTransfer)
		r.Get("/tokens/{tokenID}/transfers", s.handleListTransfers)
		r.Get("/tokens/{tokenID}/balances/{wallet}", s.handleGetBalance)
		r.Get("/tokens/{tokenID}/captable", s.handleCapTable)

		r.Post("/tokens/{tokenID}/splits", s.handleExecuteSplit)
		r.Get("/splits/{splitID}", s.handleGetSplit)
		r.Post("/splits/{splitID}/migrations", s.handleMigrateHolder)

		r.Post("/reconciliations", s.handleReconcile)
	})

	return r
}

// observe records per-route request latency labelled by the chi route
// pattern, not the raw path, to keep label cardinality bounded.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestLatency.
			WithLabelValues(route, strconv.Itoa(ww.Status())).
			Observe(time.Since(start).Seconds())
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Token lifecycle ---

type initializeTokenRequest struct {
	Authority string `json:"authority"`
	Symbol    string `json:"symbol"`
	Name      string `json:"name"`
	Decimals  int    `json:"decimals"`
}

func (s *Server) handleInitializeToken(w http.ResponseWriter, r *http.Request) {
	var req initializeTokenRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Authority == "" {
		writeError(w, http.StatusBadRequest, "authority is required")
		return
	}

	tok, err := s.ledger.InitializeToken(r.Context(), req.Authority, req.Symbol, req.Name, req.Decimals)
	if err != nil {
		s.writeLedgerError(w, r, "initialize token", err)
		return
	}
	writeJSON(w, http.StatusCreated, tok)
}

func (s *Server) handleGetToken(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := pathUUID(w, r, "tokenID")
	if !ok {
		return
	}
	tok, err := s.ledger.GetToken(r.Context(), tokenID)
	if err != nil {
		s.writeLedgerError(w, r, "get token", err)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

type updateMetadataRequest struct {
	Caller string `json:"caller"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

func (s *Server) handleUpdateMetadata(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := pathUUID(w, r, "tokenID")
	if !ok {
		return
	}
	var req updateMetadataRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Caller == "" {
		writeError(w, http.StatusBadRequest, "caller is required")
		return
	}

	if err := s.ledger.UpdateTokenMetadata(r.Context(), req.Caller, tokenID, req.Symbol, req.Name); err != nil {
		s.writeLedgerError(w, r, "update metadata", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// --- Allowlist ---

type approveWalletRequest struct {
	Caller string `json:"caller"`
	Wallet string `json:"wallet"`
}

func (s *Server) handleApproveWallet(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := pathUUID(w, r, "tokenID")
	if !ok {
		return
	}
	var req approveWalletRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Caller == "" || req.Wallet == "" {
		writeError(w, http.StatusBadRequest, "caller and wallet are required")
		return
	}

	if err := s.ledger.ApproveWallet(r.Context(), req.Caller, tokenID, req.Wallet); err != nil {
		s.writeLedgerError(w, r, "approve wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleRevokeWallet(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := pathUUID(w, r, "tokenID")
	if !ok {
		return
	}
	wallet := chi.URLParam(r, "wallet")
	caller := r.URL.Query().Get("caller")
	if caller == "" {
		writeError(w, http.StatusBadRequest, "caller query param is required")
		return
	}

	if err := s.ledger.RevokeWallet(r.Context(), caller, tokenID, wallet); err != nil {
		s.writeLedgerError(w, r, "revoke wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := pathUUID(w, r, "tokenID")
	if !ok {
		return
	}
	wallet := chi.URLParam(r, "wallet")

	approved, err := s.ledger.IsApproved(r.Context(), tokenID, wallet)
	if err != nil {
		s.writeLedgerError(w, r, "get approval", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"wallet": wallet, "approved": approved})
}

// --- Supply and transfers ---

type mintRequest struct {
	Caller    string `json:"caller"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

func (s *Server) handleMintTokens(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := pathUUID(w, r, "tokenID")
	if !ok {
		return
	}
	var req mintRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Caller == "" || req.Recipient == "" || req.Amount == "" {
		writeError(w, http.StatusBadRequest, "caller, recipient, and amount are required")
		return
	}

	if err := s.ledger.MintTokens(r.Context(), req.Caller, tokenID, req.Recipient, req.Amount); err != nil {
		s.writeLedgerError(w, r, "mint tokens", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]bool{"success": true})
}

type transferRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := pathUUID(w, r, "tokenID")
	if !ok {
		return
	}
	var req transferRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.From == "" || req.To == "" || req.Amount == "" {
		writeError(w, http.StatusBadRequest, "from, to, and amount are required")
		return
	}

	rec, err := s.ledger.Transfer(r.Context(), tokenID, req.From, req.To, req.Amount)
	if err != nil {
		// A rejected transfer still committed its audit record; surface it
		// alongside the error so the caller sees both.
		if rec != nil && rec.Result == model.TransferRejected {
			writeJSON(w, http.StatusUnprocessableEntity, rec)
			return
		}
		s.writeLedgerError(w, r, "transfer", err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleListTransfers(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := pathUUID(w, r, "tokenID")
	if !ok {
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be in [1, 1000]")
			return
		}
		limit = n
	}

	records, err := s.transfers.ListTransfers(r.Context(), tokenID, limit)
	if err != nil {
		s.logger.Error("list transfers failed", "error", err, "token_id", tokenID)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if records == nil {
		records = []model.TransferRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := pathUUID(w, r, "tokenID")
	if !ok {
		return
	}
	wallet := chi.URLParam(r, "wallet")

	balance, err := s.ledger.GetBalance(r.Context(), tokenID, wallet)
	if err != nil {
		s.writeLedgerError(w, r, "get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"wallet": wallet, "balance": balance})
}

// --- Cap table ---

func (s *Server) handleCapTable(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := pathUUID(w, r, "tokenID")
	if !ok {
		return
	}

	var asOf *int64
	if v := r.URL.Query().Get("as_of_sequence"); v != "" {
		seq, err := strconv.ParseInt(v, 10, 64)
		if err != nil || seq <= 0 {
			writeError(w, http.StatusBadRequest, "as_of_sequence must be a positive integer")
			return
		}
		asOf = &seq
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = captable.FormatStructured
	}
	if format != captable.FormatStructured && format != captable.FormatTabular {
		writeError(w, http.StatusBadRequest, "format must be structured or tabular")
		return
	}

	snap, err := s.capTables.CapTable(r.Context(), tokenID, asOf)
	if err != nil {
		s.writeLedgerError(w, r, "cap table", err)
		return
	}

	out, err := captable.Export(snap, format)
	if err != nil {
		s.logger.Error("cap table export failed", "error", err, "token_id", tokenID)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if format == captable.FormatTabular {
		w.Header().Set("Content-Type", "text/csv")
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

// --- Corporate actions ---

type executeSplitRequest struct {
	Caller string `json:"caller"`
	Ratio  int64  `json:"ratio"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

type executeSplitResponse struct {
	Split    *model.Split `json:"split"`
	NewToken *model.Token `json:"new_token"`
}

func (s *Server) handleExecuteSplit(w http.ResponseWriter, r *http.Request) {
	tokenID, ok := pathUUID(w, r, "tokenID")
	if !ok {
		return
	}
	var req executeSplitRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Caller == "" {
		writeError(w, http.StatusBadRequest, "caller is required")
		return
	}

	split, newTok, err := s.ledger.ExecuteStockSplit(r.Context(), req.Caller, tokenID, req.Ratio, req.Symbol, req.Name)
	if err != nil {
		s.writeLedgerError(w, r, "execute split", err)
		return
	}
	writeJSON(w, http.StatusCreated, executeSplitResponse{Split: split, NewToken: newTok})
}

func (s *Server) handleGetSplit(w http.ResponseWriter, r *http.Request) {
	splitID, ok := pathUUID(w, r, "splitID")
	if !ok {
		return
	}
	split, err := s.ledger.GetSplit(r.Context(), splitID)
	if err != nil {
		s.writeLedgerError(w, r, "get split", err)
		return
	}
	writeJSON(w, http.StatusOK, split)
}

type migrateHolderRequest struct {
	Caller string `json:"caller"`
	Wallet string `json:"wallet"`
}

func (s *Server) handleMigrateHolder(w http.ResponseWriter, r *http.Request) {
	splitID, ok := pathUUID(w, r, "splitID")
	if !ok {
		return
	}
	var req migrateHolderRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Caller == "" || req.Wallet == "" {
		writeError(w, http.StatusBadRequest, "caller and wallet are required")
		return
	}

	split, err := s.ledger.MigrateHolderSplit(r.Context(), req.Caller, splitID, req.Wallet)
	if err != nil {
		s.writeLedgerError(w, r, "migrate holder", err)
		return
	}
	writeJSON(w, http.StatusOK, split)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if s.auditor == nil {
		writeError(w, http.StatusServiceUnavailable, "reconciliation not configured")
		return
	}
	res, err := s.auditor.Reconcile(r.Context())
	if err != nil {
		s.logger.Error("reconciliation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "reconciliation failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Helpers ---

// writeLedgerError maps ledger error kinds to HTTP status codes. Unknown
// errors are logged and masked as 500.
func (s *Server) writeLedgerError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, known := statusForKind(ledger.KindOf(err))
	if !known {
		s.logger.Error(op+" failed", "error", err, "path", r.URL.Path)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := map[string]string{
		"error": err.Error(),
		"kind":  string(ledger.KindOf(err)),
	}
	var lerr *ledger.Error
	if errors.As(err, &lerr) && lerr.Side != "" {
		resp["side"] = string(lerr.Side)
	}
	writeJSON(w, status, resp)
}

func statusForKind(kind ledger.Kind) (int, bool) {
	switch kind {
	case ledger.KindUnauthorized:
		return http.StatusForbidden, true
	case ledger.KindNotFound:
		return http.StatusNotFound, true
	case ledger.KindNotApproved, ledger.KindInsufficientBalance:
		return http.StatusUnprocessableEntity, true
	case ledger.KindInvalidAmount, ledger.KindInvalidSplitRatio, ledger.KindInvalidMetadata:
		return http.StatusBadRequest, true
	case ledger.KindAlreadyMigrated, ledger.KindInactiveToken:
		return http.StatusConflict, true
	default:
		return 0, false
	}
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be a UUID", name))
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSONBody reads and decodes a JSON request body into v.
// Returns false (and writes an error response) if decoding fails.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}
