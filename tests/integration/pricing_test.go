//go:build integration

// Package integration runs the full community stack end to end: SQLite
// repository, LRU cache, channel bus, matrix store, quote service, worker
// and HTTP API.
//
// Run with: go test -tags=integration -v ./tests/integration/...
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/opensource-finance/loanpricer/internal/api"
	"github.com/opensource-finance/loanpricer/internal/bus"
	"github.com/opensource-finance/loanpricer/internal/cache"
	"github.com/opensource-finance/loanpricer/internal/domain"
	"github.com/opensource-finance/loanpricer/internal/matrix"
	"github.com/opensource-finance/loanpricer/internal/matrix/matrixtest"
	"github.com/opensource-finance/loanpricer/internal/metrics"
	"github.com/opensource-finance/loanpricer/internal/quote"
	"github.com/opensource-finance/loanpricer/internal/repository"
	"github.com/opensource-finance/loanpricer/internal/store"
	"github.com/opensource-finance/loanpricer/internal/worker"
)

const tenantID = "broker-portal"

type stack struct {
	bus      *bus.ChannelBus
	matrices *store.Store
	quotes   *quote.Service
	server   *httptest.Server
}

func newStack(t *testing.T) *stack {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "loanpricer.db"),
	})
	if err != nil {
		t.Fatalf("Failed to open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	c := cache.NewLRUCache(100)
	b := bus.NewChannelBus(100)
	t.Cleanup(func() { b.Close() })

	cfg := domain.DefaultConfig()
	m := metrics.New()

	st, err := store.New(repo, c, b, cfg.Store, store.WithMetrics(m))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if err := st.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	svc := quote.NewService(st, repo, b, cfg.Quote, quote.WithMetrics(m))
	srv := api.NewServer(cfg.Server, cfg.RateLimit, svc, st, c, m, "integration")

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &stack{bus: b, matrices: st, quotes: svc, server: ts}
}

func (s *stack) call(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
	}

	req, err := http.NewRequest(method, s.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(api.TenantIDHeader, tenantID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response: %v", err)
	}
	return resp.StatusCode, data
}

func importExamples(t *testing.T, s *stack) {
	t.Helper()
	for _, name := range []string{"acme-dscr.yaml", "summit-dscr.json"} {
		m, err := matrix.LoadFile(filepath.Join("..", "..", "examples", "matrices", name))
		if err != nil {
			t.Fatalf("Failed to load %s: %v", name, err)
		}
		if _, err := s.matrices.Save(context.Background(), m); err != nil {
			t.Fatalf("Failed to import %s: %v", name, err)
		}
	}
}

func TestExampleMatrices_AllLenders(t *testing.T) {
	s := newStack(t)
	importExamples(t, s)

	status, body := s.call(t, http.MethodGet, "/matrices?program=dscr", nil)
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, body)
	}
	var list struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("Failed to unmarshal list: %v", err)
	}
	if list.Count != 2 {
		t.Fatalf("Expected 2 dscr matrices, got %d", list.Count)
	}

	status, body = s.call(t, http.MethodPost, "/pricing", domain.QuoteRequest{
		LoanProgram: "dscr",
		Input:       *matrixtest.Input(),
	})
	if status != http.StatusOK && status != http.StatusUnprocessableEntity {
		t.Fatalf("Expected 200 or 422, got %d: %s", status, body)
	}

	var resp domain.QuoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v (body: %s)", err, body)
	}
	if len(resp.Lenders) != 2 {
		t.Fatalf("Expected 2 lender outcomes, got %d", len(resp.Lenders))
	}
	if resp.Metadata == nil || resp.Metadata.LenderCount != 2 {
		t.Errorf("Expected lenderCount 2, got %+v", resp.Metadata)
	}
	if !sort.SliceIsSorted(resp.Data, func(i, j int) bool {
		return resp.Data[i].FinalRate < resp.Data[j].FinalRate
	}) {
		t.Error("Expected results sorted by final rate")
	}

	t.Logf("✓ %d results across %d lenders (success=%v)", len(resp.Data), len(resp.Lenders), resp.Success)
}

func TestQuoteLifecycle(t *testing.T) {
	s := newStack(t)
	if _, err := s.matrices.Save(context.Background(), matrixtest.Matrix()); err != nil {
		t.Fatalf("Failed to save fixture: %v", err)
	}

	status, body := s.call(t, http.MethodPost, "/pricing", domain.QuoteRequest{
		LenderID:    matrixtest.LenderID,
		LoanProgram: matrixtest.ProgramID,
		Input:       *matrixtest.Input(),
	})
	if status != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", status, body)
	}
	var priced domain.QuoteResponse
	if err := json.Unmarshal(body, &priced); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if best := priced.BestRate(); best != 6.375 {
		t.Errorf("Expected best rate 6.375, got %v", best)
	}

	status, body = s.call(t, http.MethodGet, "/quotes/"+priced.QuoteID, nil)
	if status != http.StatusOK {
		t.Fatalf("Expected stored quote, got %d: %s", status, body)
	}

	// Disabling the matrix removes it from pricing.
	status, body = s.call(t, http.MethodDelete, "/matrices/"+matrixtest.LenderID+"/"+matrixtest.ProgramID, nil)
	if status != http.StatusOK {
		t.Fatalf("Expected delete 200, got %d: %s", status, body)
	}
	status, _ = s.call(t, http.MethodPost, "/pricing", domain.QuoteRequest{
		LenderID:    matrixtest.LenderID,
		LoanProgram: matrixtest.ProgramID,
		Input:       *matrixtest.Input(),
	})
	if status != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", status)
	}

	// Saving again restores it.
	status, body = s.call(t, http.MethodPut, "/matrices/"+matrixtest.LenderID+"/"+matrixtest.ProgramID, matrixtest.Matrix())
	if status != http.StatusOK {
		t.Fatalf("Expected put 200, got %d: %s", status, body)
	}
	status, _ = s.call(t, http.MethodPost, "/pricing", domain.QuoteRequest{
		LenderID:    matrixtest.LenderID,
		LoanProgram: matrixtest.ProgramID,
		Input:       *matrixtest.Input(),
	})
	if status != http.StatusOK {
		t.Errorf("Expected 200 after re-save, got %d", status)
	}
}

func TestWorkerRequestReply(t *testing.T) {
	s := newStack(t)
	if _, err := s.matrices.Save(context.Background(), matrixtest.Matrix()); err != nil {
		t.Fatalf("Failed to save fixture: %v", err)
	}

	w := worker.NewWorker(s.bus, s.quotes)
	if err := w.Start(worker.Config{TenantIDs: []string{tenantID}, WorkerCount: 2}); err != nil {
		t.Fatalf("Failed to start worker: %v", err)
	}
	t.Cleanup(func() { w.Stop() })

	ask := func(req domain.QuoteRequest) worker.ReplyMessage {
		t.Helper()
		payload, err := json.Marshal(worker.RequestMessage{Request: req})
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		raw, err := s.bus.Request(ctx, tenantID, domain.TopicQuoteRequested, payload)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		var reply worker.ReplyMessage
		if err := json.Unmarshal(raw, &reply); err != nil {
			t.Fatalf("Failed to unmarshal reply: %v", err)
		}
		return reply
	}

	reply := ask(domain.QuoteRequest{
		LenderID:    matrixtest.LenderID,
		LoanProgram: matrixtest.ProgramID,
		Input:       *matrixtest.Input(),
	})
	if reply.Code != worker.CodeOK || reply.Response == nil {
		t.Fatalf("Expected ok reply, got %+v", reply)
	}
	if best := reply.Response.BestRate(); best != 6.375 {
		t.Errorf("Expected best rate 6.375, got %v", best)
	}
	quoteID := reply.Response.QuoteID

	reply = ask(domain.QuoteRequest{
		LenderID:    "nobody",
		LoanProgram: matrixtest.ProgramID,
		Input:       *matrixtest.Input(),
	})
	if reply.Code != worker.CodeNotFound {
		t.Errorf("Expected not_found, got %+v", reply)
	}

	// The quote priced over the bus is retrievable over HTTP.
	status, _ := s.call(t, http.MethodGet, "/quotes/"+quoteID, nil)
	if status != http.StatusOK {
		t.Errorf("Expected stored quote, got %d", status)
	}
}
