package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/rl1809/movie-rental/internal/core/domain"
	"github.com/rl1809/movie-rental/internal/core/service"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HTTPObserver records per-route request metrics.
type HTTPObserver interface {
	ObserveHTTP(route string, status int, d time.Duration)
}

type HTTPHandler struct {
	rentalService *service.RentalService
	logger        *zap.Logger
	observer      HTTPObserver
	metrics       http.Handler
	now           func() time.Time
}

type CreateRentalHTTPRequest struct {
	RequestID  string    `json:"request_id"`
	MovieID    int64     `json:"movie_id"`
	UserID     string    `json:"user_id"`
	RentalDate time.Time `json:"rental_date"`
	DueDate    time.Time `json:"due_date"`
}

type ReturnRentalHTTPRequest struct {
	ReturnedAt time.Time `json:"returned_at"`
}

type AddTitleHTTPRequest struct {
	MovieID    int64 `json:"movie_id"`
	TotalStock int   `json:"total_stock"`
}

type AdjustStockHTTPRequest struct {
	TotalStock int `json:"total_stock"`
}

type RentalResponse struct {
	ID         int64      `json:"id"`
	MovieID    int64      `json:"movie_id"`
	UserID     string     `json:"user_id"`
	RentalDate time.Time  `json:"rental_date"`
	DueDate    time.Time  `json:"due_date"`
	ReturnedAt *time.Time `json:"returned_at,omitempty"`
	Status     string     `json:"status"`
}

type OverdueResponse struct {
	AsOf    time.Time        `json:"as_of"`
	Rentals []RentalResponse `json:"rentals"`
}

type InventoryResponse struct {
	MovieID        int64     `json:"movie_id"`
	TotalStock     int       `json:"total_stock"`
	AvailableStock int       `json:"available_stock"`
	Quarantined    bool      `json:"quarantined"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type AuditResponse struct {
	MovieID        int64 `json:"movie_id"`
	TotalStock     int   `json:"total_stock"`
	AvailableStock int   `json:"available_stock"`
	ActiveRentals  int   `json:"active_rentals"`
	Quarantined    bool  `json:"quarantined"`
	Consistent     bool  `json:"consistent"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type HTTPOption func(*HTTPHandler)

func WithHTTPLogger(logger *zap.Logger) HTTPOption {
	return func(h *HTTPHandler) { h.logger = logger }
}

// WithMetricsEndpoint serves handler on /metrics and reports every request to observer.
func WithMetricsEndpoint(observer HTTPObserver, handler http.Handler) HTTPOption {
	return func(h *HTTPHandler) {
		h.observer = observer
		h.metrics = handler
	}
}

func WithHTTPClock(now func() time.Time) HTTPOption {
	return func(h *HTTPHandler) { h.now = now }
}

func NewHTTPHandler(rentalService *service.RentalService, opts ...HTTPOption) *HTTPHandler {
	h := &HTTPHandler{
		rentalService: rentalService,
		logger:        zap.NewNop(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the mux serving the rental API.
func (h *HTTPHandler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.HandleFunc("POST /api/rentals", h.CreateRental)
	mux.HandleFunc("GET /api/rentals/overdue", h.ListOverdue)
	mux.HandleFunc("GET /api/rentals/{id}", h.GetRental)
	mux.HandleFunc("POST /api/rentals/{id}/return", h.ReturnRental)
	mux.HandleFunc("POST /api/inventory", h.AddTitle)
	mux.HandleFunc("GET /api/inventory/{id}", h.GetInventory)
	mux.HandleFunc("PUT /api/inventory/{id}/stock", h.AdjustStock)
	mux.HandleFunc("POST /api/inventory/{id}/audit", h.AuditTitle)
	mux.HandleFunc("POST /api/inventory/{id}/release", h.ReleaseQuarantine)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}
	return h.instrument(mux)
}

func (h *HTTPHandler) CreateRental(w http.ResponseWriter, r *http.Request) {
	var req CreateRentalHTTPRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.MovieID <= 0 || req.UserID == "" || req.DueDate.IsZero() {
		writeError(w, http.StatusBadRequest, "missing required fields")
		return
	}
	if req.RentalDate.IsZero() {
		req.RentalDate = h.now()
	}

	rental, err := h.rentalService.CreateRentalIdempotent(r.Context(),
		req.RequestID, req.MovieID, req.UserID, req.RentalDate, req.DueDate)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRentalResponse(rental))
}

func (h *HTTPHandler) GetRental(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	rental, err := h.rentalService.GetRental(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRentalResponse(rental))
}

func (h *HTTPHandler) ReturnRental(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req ReturnRentalHTTPRequest
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ReturnedAt.IsZero() {
		req.ReturnedAt = h.now()
	}

	rental, err := h.rentalService.ReturnRental(r.Context(), id, req.ReturnedAt)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRentalResponse(rental))
}

func (h *HTTPHandler) ListOverdue(w http.ResponseWriter, r *http.Request) {
	asOf := h.now()
	if v := r.URL.Query().Get("as_of"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "as_of must be an RFC 3339 timestamp")
			return
		}
		asOf = parsed
	}

	resp := OverdueResponse{AsOf: asOf, Rentals: []RentalResponse{}}
	for rental, err := range h.rentalService.ListOverdue(r.Context(), asOf) {
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		resp.Rentals = append(resp.Rentals, toRentalResponse(rental))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) AddTitle(w http.ResponseWriter, r *http.Request) {
	var req AddTitleHTTPRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.MovieID <= 0 {
		writeError(w, http.StatusBadRequest, "missing required fields")
		return
	}

	inv, err := h.rentalService.AddTitle(r.Context(), req.MovieID, req.TotalStock)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toInventoryResponse(inv))
}

func (h *HTTPHandler) GetInventory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	inv, err := h.rentalService.GetInventory(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInventoryResponse(inv))
}

func (h *HTTPHandler) AdjustStock(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req AdjustStockHTTPRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	inv, err := h.rentalService.AdjustTotalStock(r.Context(), id, req.TotalStock)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInventoryResponse(inv))
}

// AuditTitle answers 409 with the report when the counters disagree.
func (h *HTTPHandler) AuditTitle(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	report, err := h.rentalService.AuditTitle(r.Context(), id)
	if err != nil && !errors.Is(err, domain.ErrInvariantViolation) {
		h.writeServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if err != nil {
		status = http.StatusConflict
	}
	writeJSON(w, status, AuditResponse{
		MovieID:        report.MovieID,
		TotalStock:     report.TotalStock,
		AvailableStock: report.AvailableStock,
		ActiveRentals:  report.ActiveRentals,
		Quarantined:    report.Quarantined,
		Consistent:     report.Consistent(),
	})
}

func (h *HTTPHandler) ReleaseQuarantine(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	inv, err := h.rentalService.ReleaseQuarantine(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInventoryResponse(inv))
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := httpStatusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, message)
}

func httpStatusOf(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, service.ErrDuplicateRequest):
		return http.StatusConflict, "duplicate request"
	case errors.Is(err, domain.ErrOutOfStock):
		return http.StatusConflict, "out of stock"
	case errors.Is(err, domain.ErrAlreadyReturned):
		return http.StatusConflict, "rental already returned"
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict, "already exists"
	case errors.Is(err, domain.ErrInvalidReturnDate):
		return http.StatusBadRequest, "return date precedes rental date"
	case errors.Is(err, domain.ErrInvalidRentalPeriod):
		return http.StatusBadRequest, "due date must be after rental date"
	case errors.Is(err, domain.ErrInvalidUserID):
		return http.StatusBadRequest, "user id is required"
	case errors.Is(err, domain.ErrInvalidStock):
		return http.StatusBadRequest, "invalid stock"
	case errors.Is(err, domain.ErrTitleQuarantined):
		return http.StatusLocked, "title is quarantined"
	case errors.Is(err, domain.ErrConflict):
		return http.StatusServiceUnavailable, "too much contention, try again"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "request canceled"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (h *HTTPHandler) instrument(next http.Handler) http.Handler {
	if h.observer == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		h.observer.ObserveHTTP(route, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func toRentalResponse(r domain.Rental) RentalResponse {
	return RentalResponse{
		ID:         r.ID,
		MovieID:    r.MovieID,
		UserID:     r.UserID,
		RentalDate: r.RentalDate,
		DueDate:    r.DueDate,
		ReturnedAt: r.ReturnedAt,
		Status:     string(r.Status),
	}
}

func toInventoryResponse(inv domain.Inventory) InventoryResponse {
	return InventoryResponse{
		MovieID:        inv.ID,
		TotalStock:     inv.TotalStock,
		AvailableStock: inv.AvailableStock,
		Quarantined:    inv.Quarantined,
		UpdatedAt:      inv.UpdatedAt,
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Success: false, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
