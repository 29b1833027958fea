package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/loanpricer/internal/bus"
	"github.com/opensource-finance/loanpricer/internal/domain"
	"github.com/opensource-finance/loanpricer/internal/engine"
	"github.com/opensource-finance/loanpricer/internal/matrix/matrixtest"
	"github.com/opensource-finance/loanpricer/internal/quote"
	"github.com/opensource-finance/loanpricer/internal/store"
)

// stubQuoter answers by loan program.
type stubQuoter struct {
	calls    atomic.Int32
	tenantID atomic.Value
}

func (q *stubQuoter) Price(ctx context.Context, tenantID string, req *domain.QuoteRequest) (*domain.QuoteResponse, error) {
	q.calls.Add(1)
	q.tenantID.Store(tenantID)

	switch req.LoanProgram {
	case "missing":
		return nil, fmt.Errorf("%w: missing", quote.ErrMatrixNotFound)
	case "none":
		return &domain.QuoteResponse{Error: engine.NoOptionsMessage}, engine.ErrNoOptions
	case "down":
		return nil, fmt.Errorf("%w: breaker open", store.ErrMatrixUnavailable)
	case "":
		return nil, fmt.Errorf("%w: loanProgram is required", quote.ErrInvalidRequest)
	}
	return &domain.QuoteResponse{
		Success: true,
		QuoteID: "q-1",
		Data:    []domain.PricingResult{{LenderID: matrixtest.LenderID, FinalRate: 6.375}},
	}, nil
}

func request(t *testing.T, b domain.EventBus, tenantID string, msg RequestMessage) ReplyMessage {
	t.Helper()

	payload, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("failed to encode request: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	raw, err := b.Request(ctx, tenantID, domain.TopicQuoteRequested, payload)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	var reply ReplyMessage
	if err := json.Unmarshal(raw, &reply); err != nil {
		t.Fatalf("invalid reply: %v", err)
	}
	return reply
}

func TestWorker(t *testing.T) {
	t.Run("StartAndStop", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		w := NewWorker(eventBus, &stubQuoter{})
		if err := w.Start(Config{TenantIDs: []string{"tenant-001", "tenant-002"}, WorkerCount: 2}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 2 || stats.Topics[0] != domain.TopicQuoteRequested {
			t.Errorf("unexpected stats %+v", stats)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if stats := w.GetStats(); stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("RequestReply", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		q := &stubQuoter{}
		w := NewWorker(eventBus, q)
		if err := w.Start(Config{TenantIDs: []string{"tenant-001"}, WorkerCount: 2}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		tests := []struct {
			program string
			code    string
		}{
			{matrixtest.ProgramID, CodeOK},
			{"missing", CodeNotFound},
			{"none", CodeNoOptions},
			{"down", CodeUnavailable},
			{"", CodeInvalidRequest},
		}

		for _, tt := range tests {
			t.Run(tt.code, func(t *testing.T) {
				reply := request(t, eventBus, "tenant-001", RequestMessage{
					Request: domain.QuoteRequest{LoanProgram: tt.program},
				})
				if reply.Code != tt.code {
					t.Errorf("expected code %s, got %s (%s)", tt.code, reply.Code, reply.Error)
				}
			})
		}

		if got := q.tenantID.Load(); got != "tenant-001" {
			t.Errorf("expected the subscription tenant, got %v", got)
		}
	})

	t.Run("OKCarriesResponse", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		w := NewWorker(eventBus, &stubQuoter{})
		if err := w.Start(Config{TenantIDs: []string{"tenant-001"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		reply := request(t, eventBus, "tenant-001", RequestMessage{
			Request: domain.QuoteRequest{LoanProgram: matrixtest.ProgramID},
		})
		if reply.Response == nil || reply.Response.QuoteID != "q-1" || reply.Response.BestRate() != 6.375 {
			t.Errorf("unexpected response %+v", reply.Response)
		}
	})

	t.Run("NoOptionsMessage", func(t *testing.T) {
		eventBus := bus.NewChannelBus(100)
		defer eventBus.Close()

		w := NewWorker(eventBus, &stubQuoter{})
		if err := w.Start(Config{TenantIDs: []string{"tenant-001"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		reply := request(t, eventBus, "tenant-001", RequestMessage{
			Request: domain.QuoteRequest{LoanProgram: "none"},
		})
		if reply.Error != engine.NoOptionsMessage {
			t.Errorf("expected the caller-facing message, got %q", reply.Error)
		}
	})
}

func TestGlobalWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	q := &stubQuoter{}
	w := NewWorker(eventBus, q)
	if err := w.Start(Config{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	t.Run("TenantFromPayload", func(t *testing.T) {
		reply := request(t, eventBus, domain.GlobalTenantID, RequestMessage{
			TenantID: "tenant-042",
			Request:  domain.QuoteRequest{LoanProgram: matrixtest.ProgramID},
		})
		if reply.Code != CodeOK {
			t.Fatalf("expected ok, got %s (%s)", reply.Code, reply.Error)
		}
		if got := q.tenantID.Load(); got != "tenant-042" {
			t.Errorf("expected tenant-042, got %v", got)
		}
	})

	t.Run("RequiresTenant", func(t *testing.T) {
		before := q.calls.Load()
		reply := request(t, eventBus, domain.GlobalTenantID, RequestMessage{
			Request: domain.QuoteRequest{LoanProgram: matrixtest.ProgramID},
		})
		if reply.Code != CodeInvalidRequest {
			t.Errorf("expected invalid_request, got %s", reply.Code)
		}
		if q.calls.Load() != before {
			t.Error("requests without a tenant must not be priced")
		}
	})
}

func TestMalformedPayload(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	w := NewWorker(eventBus, &stubQuoter{})
	if err := w.Start(Config{TenantIDs: []string{"tenant-001"}}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	raw, err := eventBus.Request(ctx, "tenant-001", domain.TopicQuoteRequested, []byte("{not json"))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	var reply ReplyMessage
	if err := json.Unmarshal(raw, &reply); err != nil {
		t.Fatalf("invalid reply: %v", err)
	}
	if reply.Code != CodeInvalidRequest {
		t.Errorf("expected invalid_request, got %s", reply.Code)
	}
}
