package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/loanpricer/internal/domain"
	"github.com/opensource-finance/loanpricer/internal/engine"
	"github.com/opensource-finance/loanpricer/internal/matrix"
	"github.com/opensource-finance/loanpricer/internal/pricing"
	"github.com/opensource-finance/loanpricer/internal/quote"
	"github.com/opensource-finance/loanpricer/internal/repository"
	"github.com/opensource-finance/loanpricer/internal/store"
)

// maxMatrixBytes bounds PUT /matrices bodies.
const maxMatrixBytes = 4 << 20

// Quoter prices and validates loans. *quote.Service satisfies it.
type Quoter interface {
	Price(ctx context.Context, tenantID string, req *domain.QuoteRequest) (*domain.QuoteResponse, error)
	Validate(ctx context.Context, tenantID string, req *domain.QuoteRequest) (*domain.QuoteResponse, error)
	Get(ctx context.Context, tenantID, quoteID string) (*domain.Quote, error)
}

// MatrixStore administers pricing matrices. *store.Store satisfies it.
type MatrixStore interface {
	Get(ctx context.Context, lenderID, programID string) (*domain.PricingMatrix, error)
	List(ctx context.Context, programID string) ([]domain.MatrixSummary, error)
	Save(ctx context.Context, m *domain.PricingMatrix) (*matrix.Compiled, error)
	Delete(ctx context.Context, lenderID, programID string) error
	Ping(ctx context.Context) error
}

// Handler holds dependencies for API handlers.
type Handler struct {
	quotes   Quoter
	matrices MatrixStore
	cache    domain.Cache
	version  string
}

// NewHandler creates a new API handler. cache may be nil.
func NewHandler(quotes Quoter, matrices MatrixStore, cache domain.Cache, version string) *Handler {
	return &Handler{
		quotes:   quotes,
		matrices: matrices,
		cache:    cache,
		version:  version,
	}
}

// Price handles POST /pricing.
func (h *Handler) Price(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req domain.QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, domain.QuoteResponse{
			Error: "invalid JSON request body",
		})
		return
	}

	resp, err := h.quotes.Price(ctx, tenantID, &req)
	if err != nil {
		status, msg := statusFor(err)
		if status >= http.StatusInternalServerError {
			slog.Error("pricing failed",
				"tenant_id", tenantID,
				"lender_id", req.LenderID,
				"program_id", req.LoanProgram,
				"trace_id", GetTraceID(ctx),
				"error", err,
			)
		}
		if resp == nil {
			resp = &domain.QuoteResponse{Error: msg}
		}
		writeJSON(w, status, resp)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Eligibility handles POST /eligibility.
func (h *Handler) Eligibility(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	resp, err := h.quotes.Validate(ctx, GetTenantID(ctx), &req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetQuote handles GET /quotes/{id}.
func (h *Handler) GetQuote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	quoteID := chi.URLParam(r, "id")

	q, err := h.quotes.Get(ctx, GetTenantID(ctx), quoteID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "quote not found",
			})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// AmortizationRequest is the request body for POST /amortization.
type AmortizationRequest struct {
	LoanAmount   float64 `json:"loanAmount"`
	Rate         float64 `json:"rate"`
	TermYears    int     `json:"termYears"`
	InterestOnly bool    `json:"interestOnly"`
}

// Amortization handles POST /amortization.
func (h *Handler) Amortization(w http.ResponseWriter, r *http.Request) {
	var req AmortizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	schedule, err := pricing.BuildSchedule(req.LoanAmount, req.Rate, req.TermYears, req.InterestOnly)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, schedule)
}

// ListMatrices handles GET /matrices.
func (h *Handler) ListMatrices(w http.ResponseWriter, r *http.Request) {
	list, err := h.matrices.List(r.Context(), r.URL.Query().Get("program"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"matrices": list,
		"count":    len(list),
	})
}

// GetMatrix handles GET /matrices/{lenderId}/{programId}.
func (h *Handler) GetMatrix(w http.ResponseWriter, r *http.Request) {
	m, err := h.matrices.Get(r.Context(), chi.URLParam(r, "lenderId"), chi.URLParam(r, "programId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// PutMatrix handles PUT /matrices/{lenderId}/{programId}. The body is a JSON
// or YAML matrix document; identity fields default to the path.
func (h *Handler) PutMatrix(w http.ResponseWriter, r *http.Request) {
	lenderID := chi.URLParam(r, "lenderId")
	programID := chi.URLParam(r, "programId")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMatrixBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"error": "matrix document too large",
			})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
		return
	}

	m, err := matrix.Decode(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if m.LenderID == "" {
		m.LenderID = lenderID
	}
	if m.ProgramID == "" {
		m.ProgramID = programID
	}
	if m.LenderID != lenderID || m.ProgramID != programID {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "document lenderId/programId do not match the path",
		})
		return
	}

	if _, err := h.matrices.Save(r.Context(), m); err != nil {
		var ce *matrix.CompileError
		if errors.As(err, &ce) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
				"error":    "invalid matrix",
				"problems": ce.Problems,
			})
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, m.Summary())
}

// DeleteMatrix handles DELETE /matrices/{lenderId}/{programId}.
func (h *Handler) DeleteMatrix(w http.ResponseWriter, r *http.Request) {
	lenderID := chi.URLParam(r, "lenderId")
	programID := chi.URLParam(r, "programId")

	if err := h.matrices.Delete(r.Context(), lenderID, programID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Matrix disabled.",
	})
}

// Health handles GET /health requests.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.matrices != nil {
		if err := h.matrices.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready handles GET /ready requests.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.matrices != nil {
		if err := h.matrices.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"ready": "false",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// statusFor maps service errors to an HTTP status and caller-facing text.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, quote.ErrInvalidRequest),
		errors.Is(err, repository.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, quote.ErrMatrixNotFound),
		errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "pricing matrix not found"
	case errors.Is(err, engine.ErrNoOptions):
		return http.StatusUnprocessableEntity, engine.NoOptionsMessage
	case errors.Is(err, matrix.ErrInvalidMatrix):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, store.ErrMatrixUnavailable):
		return http.StatusServiceUnavailable, "pricing matrices temporarily unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out"
	case errors.Is(err, engine.ErrInternal):
		return http.StatusInternalServerError, engine.ErrInternal.Error()
	}
	return http.StatusInternalServerError, "internal server error"
}

func writeError(w http.ResponseWriter, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{
		"error": msg,
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
