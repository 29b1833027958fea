// Package worker prices quote requests that arrive on the event bus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/loanpricer/internal/domain"
	"github.com/opensource-finance/loanpricer/internal/engine"
	"github.com/opensource-finance/loanpricer/internal/quote"
	"github.com/opensource-finance/loanpricer/internal/store"
)

// Reply codes.
const (
	CodeOK             = "ok"
	CodeInvalidRequest = "invalid_request"
	CodeNotFound       = "not_found"
	CodeNoOptions      = "no_options"
	CodeUnavailable    = "unavailable"
	CodeInternal       = "internal"
)

// Quoter prices a request. *quote.Service satisfies it.
type Quoter interface {
	Price(ctx context.Context, tenantID string, req *domain.QuoteRequest) (*domain.QuoteResponse, error)
}

// RequestMessage is the payload on TopicQuoteRequested.
type RequestMessage struct {
	// TenantID is required when publishing to the global tenant.
	TenantID string              `json:"tenantId,omitempty"`
	Request  domain.QuoteRequest `json:"request"`
}

// ReplyMessage answers a RequestMessage sent with Request.
type ReplyMessage struct {
	Code     string                `json:"code"`
	Response *domain.QuoteResponse `json:"response,omitempty"`
	Error    string                `json:"error,omitempty"`
}

// Worker consumes TopicQuoteRequested.
type Worker struct {
	bus    domain.EventBus
	quoter Quoter

	jobs          chan job
	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

type job struct {
	ctx      context.Context
	tenantID string
	msg      *domain.Message
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to serve. Empty subscribes on the
	// global tenant and takes the tenant from each message.
	TenantIDs []string

	// WorkerCount is the number of concurrent pricing goroutines.
	WorkerCount int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, quoter Quoter) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		quoter: quoter,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins processing messages for the given tenants.
func (w *Worker) Start(cfg Config) error {
	count := cfg.WorkerCount
	if count <= 0 {
		count = 1
	}

	w.jobs = make(chan job, count)
	for i := 0; i < count; i++ {
		w.wg.Add(1)
		go w.loop()
	}

	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
		"worker_count", count,
	)

	return nil
}

func (w *Worker) startGlobalWorker() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.GlobalTenantID, domain.TopicQuoteRequested, func(ctx context.Context, msg *domain.Message) error {
		return w.enqueue(ctx, "", msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started", "topic", domain.TopicQuoteRequested)
	return nil
}

func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicQuoteRequested, func(ctx context.Context, msg *domain.Message) error {
		return w.enqueue(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicQuoteRequested,
	)

	return nil
}

func (w *Worker) enqueue(ctx context.Context, tenantID string, msg *domain.Message) error {
	select {
	case w.jobs <- job{ctx: ctx, tenantID: tenantID, msg: msg}:
		return nil
	case <-w.ctx.Done():
		return w.ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case j := <-w.jobs:
			w.process(j.ctx, j.tenantID, j.msg)
		case <-w.ctx.Done():
			return
		}
	}
}

// process prices one request and answers it when a reply is expected.
func (w *Worker) process(ctx context.Context, tenantID string, msg *domain.Message) {
	start := time.Now()

	var req RequestMessage
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		slog.Error("failed to parse quote request",
			"message_id", msg.ID,
			"error", err,
		)
		w.reply(ctx, msg, ReplyMessage{Code: CodeInvalidRequest, Error: "malformed request: " + err.Error()})
		return
	}

	if tenantID == "" {
		tenantID = req.TenantID
	}
	if tenantID == "" || tenantID == domain.GlobalTenantID {
		w.reply(ctx, msg, ReplyMessage{Code: CodeInvalidRequest, Error: "tenantId is required"})
		return
	}

	resp, err := w.quoter.Price(ctx, tenantID, &req.Request)
	out := ReplyMessage{Code: codeFor(err), Response: resp}
	if err != nil {
		out.Error = err.Error()
		if errors.Is(err, engine.ErrNoOptions) {
			out.Error = engine.NoOptionsMessage
		}
	}
	w.reply(ctx, msg, out)

	logLevel := slog.LevelInfo
	if out.Code == CodeInternal || out.Code == CodeUnavailable {
		logLevel = slog.LevelError
	}
	slog.Log(ctx, logLevel, "quote request processed",
		"message_id", msg.ID,
		"tenant_id", tenantID,
		"program_id", req.Request.LoanProgram,
		"code", out.Code,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func (w *Worker) reply(ctx context.Context, msg *domain.Message, out ReplyMessage) {
	if msg.ReplyTo == "" {
		return
	}
	payload, err := json.Marshal(out)
	if err != nil {
		slog.Error("failed to encode reply", "message_id", msg.ID, "error", err)
		return
	}
	if err := w.bus.Reply(ctx, msg, payload); err != nil {
		slog.Error("failed to send reply",
			"message_id", msg.ID,
			"error", err,
		)
	}
}

func codeFor(err error) string {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, quote.ErrInvalidRequest):
		return CodeInvalidRequest
	case errors.Is(err, quote.ErrMatrixNotFound):
		return CodeNotFound
	case errors.Is(err, engine.ErrNoOptions):
		return CodeNoOptions
	case errors.Is(err, store.ErrMatrixUnavailable):
		return CodeUnavailable
	}
	return CodeInternal
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
