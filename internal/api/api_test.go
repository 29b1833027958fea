package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/opensource-finance/loanpricer/internal/bus"
	"github.com/opensource-finance/loanpricer/internal/cache"
	"github.com/opensource-finance/loanpricer/internal/domain"
	"github.com/opensource-finance/loanpricer/internal/engine"
	"github.com/opensource-finance/loanpricer/internal/matrix/matrixtest"
	"github.com/opensource-finance/loanpricer/internal/metrics"
	"github.com/opensource-finance/loanpricer/internal/pricing"
	"github.com/opensource-finance/loanpricer/internal/quote"
	"github.com/opensource-finance/loanpricer/internal/repository"
	"github.com/opensource-finance/loanpricer/internal/store"
)

const testTenant = "tenant-001"

// createTestServer wires the community stack on a temp SQLite database with
// the fixture matrix loaded.
func createTestServer(t *testing.T, limits domain.RateLimitConfig) *Server {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "loanpricer-api-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	c := cache.NewLRUCache(100)
	b := bus.NewChannelBus(100)
	t.Cleanup(func() { b.Close() })

	m := metrics.New()
	cfg := domain.DefaultConfig()

	st, err := store.New(repo, c, b, cfg.Store, store.WithMetrics(m))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if _, err := st.Save(context.Background(), matrixtest.Matrix()); err != nil {
		t.Fatalf("failed to save matrix: %v", err)
	}

	svc := quote.NewService(st, repo, b, cfg.Quote, quote.WithMetrics(m))
	return NewServer(cfg.Server, limits, svc, st, c, m, "test-v1")
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch v := body.(type) {
	case nil:
	case string:
		buf.WriteString(v)
	default:
		if err := json.NewEncoder(&buf).Encode(v); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(TenantIDHeader, testTenant)

	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode response: %v\n%s", err, rr.Body.String())
	}
	return v
}

func pricingRequest(mutate ...func(r *domain.QuoteRequest)) *domain.QuoteRequest {
	req := &domain.QuoteRequest{
		LenderID:    matrixtest.LenderID,
		LoanProgram: matrixtest.ProgramID,
		Input:       *matrixtest.Input(),
	}
	for _, fn := range mutate {
		fn(req)
	}
	return req
}

func TestPricingEndpoint(t *testing.T) {
	server := createTestServer(t, domain.RateLimitConfig{})

	t.Run("Priced", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/pricing", pricingRequest())
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		resp := decode[domain.QuoteResponse](t, rr)
		if !resp.Success || len(resp.Data) != 5 || resp.QuoteID == "" {
			t.Errorf("unexpected response %+v", resp)
		}
		if rr.Header().Get(RequestIDHeader) == "" {
			t.Error("expected X-Request-ID header")
		}

		t.Run("Retrievable", func(t *testing.T) {
			rr := do(t, server, http.MethodGet, "/quotes/"+resp.QuoteID, nil)
			if rr.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d", rr.Code)
			}
			q := decode[domain.Quote](t, rr)
			if q.ID != resp.QuoteID || !q.Success {
				t.Errorf("unexpected quote %+v", q)
			}

			req := httptest.NewRequest(http.MethodGet, "/quotes/"+resp.QuoteID, nil)
			req.Header.Set(TenantIDHeader, "tenant-002")
			other := httptest.NewRecorder()
			server.Router().ServeHTTP(other, req)
			if other.Code != http.StatusNotFound {
				t.Errorf("expected 404 for another tenant, got %d", other.Code)
			}
		})
	})

	t.Run("Ineligible", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/pricing", pricingRequest(func(r *domain.QuoteRequest) {
			r.Input.LTV = 80
			r.Input.PropertyValue = 375000
		}))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		resp := decode[domain.QuoteResponse](t, rr)
		if resp.Success || resp.Validation == nil || resp.Validation.IsValid {
			t.Fatalf("expected an ineligible verdict, got %+v", resp)
		}
		if !strings.Contains(resp.Validation.Errors[0], "LTV of 80% exceeds the maximum of 75%.") {
			t.Errorf("unexpected error %q", resp.Validation.Errors[0])
		}
	})

	t.Run("NoOptions", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/pricing", pricingRequest(func(r *domain.QuoteRequest) {
			r.Input.Product = "7/1 ARM"
		}))
		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected status 422, got %d: %s", rr.Code, rr.Body.String())
		}
		resp := decode[domain.QuoteResponse](t, rr)
		if resp.Success || resp.Error != engine.NoOptionsMessage {
			t.Errorf("unexpected response %+v", resp)
		}
	})

	t.Run("UnknownLender", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/pricing", pricingRequest(func(r *domain.QuoteRequest) {
			r.LenderID = "nobody"
		}))
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("AllLenders", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/pricing", pricingRequest(func(r *domain.QuoteRequest) {
			r.LenderID = ""
		}))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		resp := decode[domain.QuoteResponse](t, rr)
		if len(resp.Lenders) != 1 || resp.Lenders[0].LenderName != matrixtest.LenderName {
			t.Errorf("expected a lender breakdown, got %+v", resp.Lenders)
		}
	})

	t.Run("BadRequests", func(t *testing.T) {
		if rr := do(t, server, http.MethodPost, "/pricing", "{not json"); rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for invalid JSON, got %d", rr.Code)
		}

		rr := do(t, server, http.MethodPost, "/pricing", pricingRequest(func(r *domain.QuoteRequest) {
			r.Input.FICO = 900
		}))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected 400 for out of range FICO, got %d", rr.Code)
		}
	})
}

// failingQuoter returns the same error for every call.
type failingQuoter struct{ err error }

func (q failingQuoter) Price(ctx context.Context, tenantID string, req *domain.QuoteRequest) (*domain.QuoteResponse, error) {
	return nil, q.err
}

func (q failingQuoter) Validate(ctx context.Context, tenantID string, req *domain.QuoteRequest) (*domain.QuoteResponse, error) {
	return nil, q.err
}

func (q failingQuoter) Get(ctx context.Context, tenantID, quoteID string) (*domain.Quote, error) {
	return nil, q.err
}

func TestPricingErrorMapping(t *testing.T) {
	tests := []struct {
		err     error
		status  int
		message string
	}{
		{fmt.Errorf("%w: boom", engine.ErrInternal), http.StatusInternalServerError, "internal error computing quote"},
		{fmt.Errorf("%w: open", store.ErrMatrixUnavailable), http.StatusServiceUnavailable, "pricing matrices temporarily unavailable"},
		{fmt.Errorf("%w: x", quote.ErrMatrixNotFound), http.StatusNotFound, "pricing matrix not found"},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, "request timed out"},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			server := NewServer(domain.ServerConfig{}, domain.RateLimitConfig{}, failingQuoter{err: tt.err}, nil, nil, nil, "test")

			rr := do(t, server, http.MethodPost, "/pricing", pricingRequest())
			if rr.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, rr.Code)
			}
			resp := decode[domain.QuoteResponse](t, rr)
			if resp.Success || resp.Error != tt.message {
				t.Errorf("expected error %q, got %+v", tt.message, resp)
			}
		})
	}
}

func TestEligibilityEndpoint(t *testing.T) {
	server := createTestServer(t, domain.RateLimitConfig{})

	rr := do(t, server, http.MethodPost, "/eligibility", pricingRequest(func(r *domain.QuoteRequest) {
		r.Input.PropertyState = "NY"
	}))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	resp := decode[domain.QuoteResponse](t, rr)
	if resp.Success || resp.Validation.IsValid || len(resp.Data) != 0 {
		t.Errorf("expected an ineligible verdict without pricing, got %+v", resp)
	}
}

func TestAmortizationEndpoint(t *testing.T) {
	server := createTestServer(t, domain.RateLimitConfig{})

	rr := do(t, server, http.MethodPost, "/amortization", AmortizationRequest{
		LoanAmount: 300000,
		Rate:       6.625,
		TermYears:  30,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	schedule := decode[pricing.Schedule](t, rr)
	if len(schedule.Periods) != 360 || schedule.MonthlyPayment != 1920.93 {
		t.Errorf("unexpected schedule: %d periods at %v", len(schedule.Periods), schedule.MonthlyPayment)
	}
	if last := schedule.Periods[len(schedule.Periods)-1]; last.Balance != 0 {
		t.Errorf("expected the schedule to end at zero, got %v", last.Balance)
	}

	rr = do(t, server, http.MethodPost, "/amortization", AmortizationRequest{LoanAmount: 300000, Rate: 6, TermYears: 0})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for zero term, got %d", rr.Code)
	}
}

func TestMatrixEndpoints(t *testing.T) {
	server := createTestServer(t, domain.RateLimitConfig{})

	t.Run("Put", func(t *testing.T) {
		m := matrixtest.Matrix()
		m.LenderID = ""
		m.LenderName = "Beacon Bank"

		rr := do(t, server, http.MethodPut, "/matrices/beacon-bank/dscr", m)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		summary := decode[domain.MatrixSummary](t, rr)
		if summary.LenderID != "beacon-bank" {
			t.Errorf("expected lender from path, got %q", summary.LenderID)
		}
	})

	t.Run("PutYAML", func(t *testing.T) {
		doc := `
lenderId: yaml-lender
programId: dscr
lenderName: YAML Lender
loanTerms:
  term: 30 years
  maxLTV: 75
rateStructure:
  productAdjustments:
    30 Year Fixed: 0
baseRates:
  "740+":
    "<=75": 6.5
`
		rr := do(t, server, http.MethodPut, "/matrices/yaml-lender/dscr", doc)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("PutInvalid", func(t *testing.T) {
		m := matrixtest.Matrix()
		m.LenderID = "broken"
		m.BaseRates = nil

		rr := do(t, server, http.MethodPut, "/matrices/broken/dscr", m)
		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected status 422, got %d: %s", rr.Code, rr.Body.String())
		}
		body := decode[struct {
			Problems []string `json:"problems"`
		}](t, rr)
		if len(body.Problems) == 0 {
			t.Error("expected compile problems in the response")
		}
	})

	t.Run("PutMismatchedPath", func(t *testing.T) {
		rr := do(t, server, http.MethodPut, "/matrices/someone-else/dscr", matrixtest.Matrix())
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("PutTooLarge", func(t *testing.T) {
		body := strings.Repeat(" ", maxMatrixBytes+1)
		rr := do(t, server, http.MethodPut, "/matrices/acme-capital/dscr", body)
		if rr.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("expected status 413, got %d", rr.Code)
		}
	})

	t.Run("PutUnreadableBody", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/matrices/acme-capital/dscr",
			iotest.ErrReader(errors.New("connection reset")))
		req.Header.Set(TenantIDHeader, testTenant)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("List", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/matrices?program=dscr", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		body := decode[struct {
			Matrices []domain.MatrixSummary `json:"matrices"`
			Count    int                    `json:"count"`
		}](t, rr)
		if body.Count != 3 || body.Matrices[0].LenderID != matrixtest.LenderID {
			t.Errorf("unexpected list %+v", body)
		}
	})

	t.Run("Get", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/matrices/"+matrixtest.LenderID+"/"+matrixtest.ProgramID, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		m := decode[domain.PricingMatrix](t, rr)
		if m.LenderName != matrixtest.LenderName {
			t.Errorf("unexpected matrix %s", m.LenderName)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		rr := do(t, server, http.MethodDelete, "/matrices/beacon-bank/dscr", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if rr := do(t, server, http.MethodGet, "/matrices/beacon-bank/dscr", nil); rr.Code != http.StatusNotFound {
			t.Errorf("expected 404 after delete, got %d", rr.Code)
		}
		if rr := do(t, server, http.MethodDelete, "/matrices/beacon-bank/dscr", nil); rr.Code != http.StatusNotFound {
			t.Errorf("expected 404 deleting twice, got %d", rr.Code)
		}
	})
}

func TestTenantRequired(t *testing.T) {
	server := createTestServer(t, domain.RateLimitConfig{})

	req := httptest.NewRequest(http.MethodPost, "/pricing", strings.NewReader("{}"))
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 without tenant, got %d", rr.Code)
	}
}

func TestRateLimit(t *testing.T) {
	server := createTestServer(t, domain.RateLimitConfig{RequestsPerSecond: 0.01, Burst: 1})

	if rr := do(t, server, http.MethodGet, "/matrices", nil); rr.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", rr.Code)
	}
	rr := do(t, server, http.MethodGet, "/matrices", nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	// Other tenants have their own budget.
	req := httptest.NewRequest(http.MethodGet, "/matrices", nil)
	req.Header.Set(TenantIDHeader, "tenant-002")
	other := httptest.NewRecorder()
	server.Router().ServeHTTP(other, req)
	if other.Code != http.StatusOK {
		t.Errorf("expected another tenant to pass, got %d", other.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	server := createTestServer(t, domain.RateLimitConfig{})

	for _, path := range []string{"/health", "/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("%s: expected status 200, got %d", path, rr.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	body := decode[map[string]string](t, rr)
	if body["status"] != "healthy" || body["version"] != "test-v1" {
		t.Errorf("unexpected health %v", body)
	}

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr = httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "loanpricer_http_requests_total") {
		t.Errorf("expected metrics exposition, got %d", rr.Code)
	}
}
