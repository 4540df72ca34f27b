// Package api exposes the reconciliation server over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/momscoder/expensesmanager/internal/domain"
	"github.com/momscoder/expensesmanager/internal/hash"
	"github.com/momscoder/expensesmanager/internal/protocol"
	"github.com/momscoder/expensesmanager/internal/server/auth"
	"github.com/momscoder/expensesmanager/internal/server/service"
	"github.com/momscoder/expensesmanager/internal/server/store"
)

// Metrics
var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "receipts_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "receipts_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})

	syncRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "receipts_sync_records_total",
		Help: "Records reconciled through the sync endpoint, by entity and outcome",
	}, []string{"entity", "status"})
)

// Reconciler processes one upload batch per request.
type Reconciler interface {
	ProcessBatch(ctx context.Context, userID int64, req protocol.SyncRequest) (*protocol.SyncResponse, error)
}

// Authenticator issues tokens and guards routes.
type Authenticator interface {
	Register(ctx context.Context, email, password string) (string, error)
	Login(ctx context.Context, email, password string) (string, error)
	Middleware(next http.Handler) http.Handler
}

// DataStore is the non-sync storage surface the handlers use.
type DataStore interface {
	Snapshot(ctx context.Context, userID int64) (*protocol.PullResponse, error)
	DeleteReceipt(ctx context.Context, userID, receiptID int64) error
	ListCategories(ctx context.Context, userID int64) ([]protocol.PullCategory, error)
	CreateCategory(ctx context.Context, userID int64, name string) (int64, error)
	DeleteCategory(ctx context.Context, userID, categoryID int64) error
	ExpensesByCategory(ctx context.Context, userID int64, from, to string) ([]store.CategoryTotal, error)
	TotalsByDate(ctx context.Context, userID int64, from, to string) ([]store.DateTotal, error)
}

type Handler struct {
	store      DataStore
	reconciler Reconciler
	auth       Authenticator
	logger     *slog.Logger
}

func NewHandler(s DataStore, r Reconciler, a Authenticator, logger *slog.Logger) *Handler {
	return &Handler{store: s, reconciler: r, auth: a, logger: logger}
}

// Router wires all routes. Everything under /api except health, register
// and login requires a bearer token.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/health", h.Health).Methods("GET")
	r.HandleFunc("/api/register", h.Register).Methods("POST")
	r.HandleFunc("/api/login", h.Login).Methods("POST")

	authed := r.PathPrefix("/api").Subrouter()
	authed.Use(h.auth.Middleware)
	authed.HandleFunc("/sync", h.Sync).Methods("POST")
	authed.HandleFunc("/pull", h.Pull).Methods("GET")
	authed.HandleFunc("/receipts", h.ListReceipts).Methods("GET")
	authed.HandleFunc("/receipts", h.CreateReceipt).Methods("POST")
	authed.HandleFunc("/receipts/{id}", h.DeleteReceipt).Methods("DELETE")
	authed.HandleFunc("/categories", h.ListCategories).Methods("GET")
	authed.HandleFunc("/categories", h.CreateCategory).Methods("POST")
	authed.HandleFunc("/categories/{id}", h.DeleteCategory).Methods("DELETE")
	authed.HandleFunc("/expenses-by-category-range", h.ExpensesByCategory).Methods("GET")
	authed.HandleFunc("/total-expenses-range", h.TotalsByDate).Methods("GET")
	return r
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "GET", "/health")
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", "/register")
		return
	}
	if creds.Email == "" || creds.Password == "" {
		respondError(w, http.StatusUnprocessableEntity, "Email and password required", "POST", "/register")
		return
	}
	token, err := h.auth.Register(r.Context(), creds.Email, creds.Password)
	if err != nil {
		if errors.Is(err, store.ErrUserExists) {
			respondError(w, http.StatusConflict, "Email already in use", "POST", "/register")
			return
		}
		h.logger.Error("register failed", "error", err)
		respondError(w, http.StatusInternalServerError, "Internal Server Error", "POST", "/register")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"token": token}, "POST", "/register")
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", "/login")
		return
	}
	token, err := h.auth.Login(r.Context(), creds.Email, creds.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			respondError(w, http.StatusUnauthorized, "Invalid email or password", "POST", "/login")
			return
		}
		h.logger.Error("login failed", "error", err)
		respondError(w, http.StatusInternalServerError, "Internal Server Error", "POST", "/login")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"token": token}, "POST", "/login")
}

// Sync reconciles one upload batch inside a single transaction and returns
// the identifier mappings. Any storage error aborts the whole batch.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/sync"))
	defer timer.ObserveDuration()

	userID, ok := auth.UserID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "No user in context", "POST", "/sync")
		return
	}

	var req protocol.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", "/sync")
		return
	}

	resp, err := h.reconciler.ProcessBatch(r.Context(), userID, req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrBadBatch), errors.Is(err, service.ErrUnresolvedParent):
			respondError(w, http.StatusUnprocessableEntity, err.Error(), "POST", "/sync")
		case errors.Is(err, store.ErrConflict):
			respondError(w, http.StatusConflict, "Concurrent sync detected, retry", "POST", "/sync")
		default:
			h.logger.Error("batch reconciliation failed", "user_id", userID, "error", err)
			respondError(w, http.StatusInternalServerError, "Internal Server Error", "POST", "/sync")
		}
		return
	}

	for _, res := range resp.Results.Receipts {
		syncRecordsTotal.WithLabelValues("receipt", res.Status).Inc()
	}
	for _, res := range resp.Results.Categories {
		syncRecordsTotal.WithLabelValues("category", res.Status).Inc()
	}
	respondJSON(w, http.StatusOK, resp, "POST", "/sync")
}

// Pull returns the full snapshot for the authenticated user. No delta or
// cursor support: the client replaces its store wholesale.
func (h *Handler) Pull(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("GET", "/pull"))
	defer timer.ObserveDuration()

	userID, ok := auth.UserID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "No user in context", "GET", "/pull")
		return
	}
	snap, err := h.store.Snapshot(r.Context(), userID)
	if err != nil {
		h.logger.Error("snapshot failed", "user_id", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "Internal Server Error", "GET", "/pull")
		return
	}
	respondJSON(w, http.StatusOK, snap, "GET", "/pull")
}

// receiptView is a receipt with nested purchases as returned by GET /receipts.
type receiptView struct {
	protocol.PullReceipt
	Purchases []protocol.PullPurchase `json:"purchases"`
}

func (h *Handler) ListReceipts(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	snap, err := h.store.Snapshot(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Internal Server Error", "GET", "/receipts")
		return
	}
	byReceipt := make(map[int64][]protocol.PullPurchase)
	for _, p := range snap.Purchases {
		byReceipt[p.ReceiptID] = append(byReceipt[p.ReceiptID], p)
	}
	views := make([]receiptView, 0, len(snap.Receipts))
	for _, rec := range snap.Receipts {
		purchases := byReceipt[rec.ID]
		if purchases == nil {
			purchases = []protocol.PullPurchase{}
		}
		views = append(views, receiptView{PullReceipt: rec, Purchases: purchases})
	}
	respondJSON(w, http.StatusOK, views, "GET", "/receipts")
}

// newReceiptRequest is the manual-entry payload. It goes through the same
// reconciliation path as a sync batch, so resubmitting the same receipt
// updates instead of duplicating.
type newReceiptRequest struct {
	UID       *string `json:"uid,omitempty"`
	Date      string  `json:"date"`
	Purchases []struct {
		Name     string  `json:"name"`
		Amount   float64 `json:"amount"`
		Category *string `json:"category,omitempty"`
	} `json:"purchases"`
}

func (h *Handler) CreateReceipt(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())

	var req newReceiptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", "/receipts")
		return
	}

	var uid string
	if req.UID != nil {
		uid = *req.UID
	}
	batch := protocol.SyncRequest{
		Receipts: []protocol.ReceiptUpload{{
			LocalID: -1,
			Hash:    hash.Receipt(uid, req.Date),
			UID:     req.UID,
			Date:    req.Date,
		}},
	}
	var total float64
	for _, p := range req.Purchases {
		total += p.Amount
		batch.Purchases = append(batch.Purchases, protocol.PurchaseUpload{
			ReceiptID: -1,
			Name:      p.Name,
			Amount:    p.Amount,
			Category:  p.Category,
		})
	}
	batch.Receipts[0].TotalAmount = total

	resp, err := h.reconciler.ProcessBatch(r.Context(), userID, batch)
	if err != nil {
		if errors.Is(err, service.ErrBadBatch) {
			respondError(w, http.StatusUnprocessableEntity, err.Error(), "POST", "/receipts")
			return
		}
		h.logger.Error("create receipt failed", "user_id", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "Internal Server Error", "POST", "/receipts")
		return
	}
	result := resp.Results.Receipts[0]
	code := http.StatusCreated
	if result.Status == protocol.StatusUpdated {
		code = http.StatusOK
	}
	respondJSON(w, code, result, "POST", "/receipts")
}

func (h *Handler) DeleteReceipt(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid receipt id", "DELETE", "/receipts/{id}")
		return
	}
	if err := h.store.DeleteReceipt(r.Context(), userID, id); err != nil {
		if errors.Is(err, store.ErrReceiptNotFound) {
			respondError(w, http.StatusNotFound, "Receipt not found", "DELETE", "/receipts/{id}")
			return
		}
		respondError(w, http.StatusInternalServerError, "Internal Server Error", "DELETE", "/receipts/{id}")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "deleted"}, "DELETE", "/receipts/{id}")
}

func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	cats, err := h.store.ListCategories(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Internal Server Error", "GET", "/categories")
		return
	}
	respondJSON(w, http.StatusOK, cats, "GET", "/categories")
}

func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		respondError(w, http.StatusBadRequest, "Category name required", "POST", "/categories")
		return
	}
	id, err := h.store.CreateCategory(r.Context(), userID, body.Name)
	if err != nil {
		if errors.Is(err, store.ErrCategoryExists) {
			respondError(w, http.StatusConflict, "Category already exists", "POST", "/categories")
			return
		}
		respondError(w, http.StatusInternalServerError, "Internal Server Error", "POST", "/categories")
		return
	}
	respondJSON(w, http.StatusCreated, protocol.PullCategory{ID: id, Name: body.Name}, "POST", "/categories")
}

func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid category id", "DELETE", "/categories/{id}")
		return
	}
	if err := h.store.DeleteCategory(r.Context(), userID, id); err != nil {
		if errors.Is(err, store.ErrCategoryMissing) {
			respondError(w, http.StatusNotFound, "Category not found", "DELETE", "/categories/{id}")
			return
		}
		respondError(w, http.StatusInternalServerError, "Internal Server Error", "DELETE", "/categories/{id}")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "deleted"}, "DELETE", "/categories/{id}")
}

func (h *Handler) ExpensesByCategory(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	from, to, ok := dateRange(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "start and end query params required", "GET", "/expenses-by-category-range")
		return
	}
	totals, err := h.store.ExpensesByCategory(r.Context(), userID, from, to)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Internal Server Error", "GET", "/expenses-by-category-range")
		return
	}
	respondJSON(w, http.StatusOK, totals, "GET", "/expenses-by-category-range")
}

func (h *Handler) TotalsByDate(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	from, to, ok := dateRange(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "start and end query params required", "GET", "/total-expenses-range")
		return
	}
	totals, err := h.store.TotalsByDate(r.Context(), userID, from, to)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Internal Server Error", "GET", "/total-expenses-range")
		return
	}
	respondJSON(w, http.StatusOK, totals, "GET", "/total-expenses-range")
}

func dateRange(r *http.Request) (from, to string, ok bool) {
	from = r.URL.Query().Get("start")
	to = r.URL.Query().Get("end")
	if from == "" || to == "" {
		return "", "", false
	}
	if _, err := time.Parse(domain.DateLayout, from); err != nil {
		return "", "", false
	}
	if _, err := time.Parse(domain.DateLayout, to); err != nil {
		return "", "", false
	}
	return from, to, true
}

// Helpers
func respondJSON(w http.ResponseWriter, code int, payload any, method, endpoint string) {
	httpReqTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

func respondError(w http.ResponseWriter, code int, message, method, endpoint string) {
	respondJSON(w, code, map[string]string{"error": message}, method, endpoint)
}
