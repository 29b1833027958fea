// Package quote prices loan requests against one lender or every lender
// offering a program, then records and announces the result.
package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/loanpricer/internal/domain"
	"github.com/opensource-finance/loanpricer/internal/engine"
	"github.com/opensource-finance/loanpricer/internal/matrix"
	"github.com/opensource-finance/loanpricer/internal/metrics"
	"github.com/opensource-finance/loanpricer/internal/repository"
)

var (
	// ErrInvalidRequest wraps malformed quote requests.
	ErrInvalidRequest = errors.New("invalid quote request")

	// ErrMatrixNotFound means no enabled matrix matched the request.
	ErrMatrixNotFound = errors.New("pricing matrix not found")
)

var tracer = otel.Tracer("loanpricer-quote")

// MatrixSource supplies compiled matrices. *store.Store satisfies it.
type MatrixSource interface {
	Compiled(ctx context.Context, lenderID, programID string) (*matrix.Compiled, error)
	List(ctx context.Context, programID string) ([]domain.MatrixSummary, error)
}

// Service is safe for concurrent use.
type Service struct {
	matrices MatrixSource
	repo     domain.Repository
	bus      domain.EventBus
	engine   *engine.Engine
	metrics  *metrics.Metrics
	cfg      domain.QuoteConfig
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics records quote outcomes and skipped variants.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService creates a quote service. repo and bus may be nil, which
// disables persistence and events respectively.
func NewService(matrices MatrixSource, repo domain.Repository, bus domain.EventBus, cfg domain.QuoteConfig, opts ...Option) *Service {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}

	s := &Service{
		matrices: matrices,
		repo:     repo,
		bus:      bus,
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = engine.New(engine.WithSkipObserver(s.metrics.SkippedVariant))
	return s
}

// lenderRun is one lender's share of a request.
type lenderRun struct {
	summary  domain.MatrixSummary
	outcome  *engine.Outcome
	valid    *domain.ValidationResult
	err      error
	priceErr error
}

// Price prices a request. The response is non-nil whenever the loan was
// evaluated, including ineligible loans (nil error) and loans with no
// priceable variant (engine.ErrNoOptions). ErrInvalidRequest,
// ErrMatrixNotFound, store errors and engine.ErrInternal are returned as
// errors.
func (s *Service) Price(ctx context.Context, tenantID string, req *domain.QuoteRequest) (*domain.QuoteResponse, error) {
	start := time.Now()

	if err := checkRequest(req); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "quote.Price",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("loan.program", req.LoanProgram),
			attribute.String("lender.id", req.LenderID),
		),
	)
	defer span.End()

	runs, err := s.evaluate(ctx, req, true)
	if err != nil {
		s.finish(span, req, outcomeFor(err), start, err)
		return nil, err
	}

	resp, err := merge(runs, req.LenderID == "")
	if resp == nil {
		s.finish(span, req, metrics.OutcomeError, start, err)
		return nil, err
	}

	resp.QuoteID = uuid.New().String()
	resp.Metadata.DurationMs = float64(time.Since(start).Microseconds()) / 1000
	resp.Metadata.PricedAt = time.Now().UTC().Format(time.RFC3339)
	if span.SpanContext().TraceID().IsValid() {
		resp.Metadata.TraceID = span.SpanContext().TraceID().String()
	}

	outcome := metrics.OutcomePriced
	switch {
	case errors.Is(err, engine.ErrNoOptions):
		outcome = metrics.OutcomeNoOptions
	case !resp.Success:
		outcome = metrics.OutcomeIneligible
	}

	s.persist(ctx, tenantID, req, resp)
	s.announce(ctx, tenantID, req, resp, len(runs))
	s.finish(span, req, outcome, start, nil)

	span.SetAttributes(
		attribute.String("quote.id", resp.QuoteID),
		attribute.Bool("quote.success", resp.Success),
		attribute.Int("quote.results", len(resp.Data)),
	)

	slog.Info("quote computed",
		"quote_id", resp.QuoteID,
		"tenant_id", tenantID,
		"program_id", req.LoanProgram,
		"lender_id", req.LenderID,
		"outcome", outcome,
		"results", len(resp.Data),
		"duration_ms", resp.Metadata.DurationMs,
	)

	return resp, err
}

// Validate runs eligibility only, for one lender or every lender offering
// the program. Nothing is persisted.
func (s *Service) Validate(ctx context.Context, tenantID string, req *domain.QuoteRequest) (*domain.QuoteResponse, error) {
	if err := checkRequest(req); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "quote.Validate",
		trace.WithAttributes(
			attribute.String("tenant.id", tenantID),
			attribute.String("loan.program", req.LoanProgram),
		),
	)
	defer span.End()

	runs, err := s.evaluate(ctx, req, false)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	resp := &domain.QuoteResponse{
		Metadata: &domain.QuoteMetadata{LenderCount: len(runs)},
	}
	if req.LenderID == "" {
		resp.Lenders = lenderOutcomes(runs)
	}

	validations := 0
	for _, r := range runs {
		if r.valid != nil {
			validations++
		}
	}
	if validations == 0 {
		return nil, fmt.Errorf("%w: %v", engine.ErrInternal, firstError(runs))
	}

	v := aggregate(runs)
	resp.Validation = &v
	resp.Success = v.IsValid
	return resp, nil
}

// Get returns a persisted quote for the tenant.
func (s *Service) Get(ctx context.Context, tenantID, quoteID string) (*domain.Quote, error) {
	if s.repo == nil {
		return nil, repository.ErrNotFound
	}
	return s.repo.GetQuote(ctx, tenantID, quoteID)
}

func checkRequest(req *domain.QuoteRequest) error {
	if req == nil {
		return fmt.Errorf("%w: request body is required", ErrInvalidRequest)
	}
	if req.LoanProgram == "" {
		return fmt.Errorf("%w: loanProgram is required", ErrInvalidRequest)
	}
	if err := req.Input.Check(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}

// evaluate resolves the lenders for req and runs each of them, pricing when
// price is set and validating otherwise.
func (s *Service) evaluate(ctx context.Context, req *domain.QuoteRequest, price bool) ([]lenderRun, error) {
	var summaries []domain.MatrixSummary

	if req.LenderID != "" {
		summaries = []domain.MatrixSummary{{LenderID: req.LenderID, ProgramID: req.LoanProgram}}
	} else {
		list, err := s.matrices.List(ctx, req.LoanProgram)
		if err != nil {
			return nil, err
		}
		if len(list) == 0 {
			return nil, fmt.Errorf("%w: no lenders offer program %q", ErrMatrixNotFound, req.LoanProgram)
		}
		summaries = list
	}

	runs := make([]lenderRun, len(summaries))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, s.cfg.MaxConcurrency)

	for i, summary := range summaries {
		wg.Add(1)
		go func(idx int, sum domain.MatrixSummary) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				runs[idx] = lenderRun{summary: sum, err: ctx.Err()}
				return
			}
			defer func() { <-sem }()

			runs[idx] = s.run(ctx, sum, &req.Input, price)
		}(i, summary)
	}

	wg.Wait()

	// A single named lender surfaces its store error directly.
	if req.LenderID != "" && runs[0].err != nil {
		if errors.Is(runs[0].err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrMatrixNotFound, req.LenderID, req.LoanProgram)
		}
		return nil, runs[0].err
	}

	return runs, nil
}

func (s *Service) run(ctx context.Context, sum domain.MatrixSummary, in *domain.LoanInput, price bool) lenderRun {
	r := lenderRun{summary: sum}

	c, err := s.matrices.Compiled(ctx, sum.LenderID, sum.ProgramID)
	if err != nil {
		slog.Warn("matrix unavailable for quote",
			"lender_id", sum.LenderID,
			"program_id", sum.ProgramID,
			"error", err,
		)
		r.err = err
		return r
	}
	if r.summary.LenderName == "" && c.Doc != nil {
		r.summary.LenderName = c.Doc.LenderName
	}

	if !price {
		v, err := s.engine.Validate(c, in)
		if err != nil {
			r.err = err
			return r
		}
		r.valid = &v
		return r
	}

	out, err := s.engine.Price(c, in)
	if err != nil && !errors.Is(err, engine.ErrNoOptions) {
		r.err = err
		return r
	}
	r.outcome = out
	r.valid = &out.Validation
	r.priceErr = err
	return r
}

// merge folds lender runs into one response. It returns a nil response
// only when no lender could be evaluated at all.
func merge(runs []lenderRun, multi bool) (*domain.QuoteResponse, error) {
	resp := &domain.QuoteResponse{
		Data:     []domain.PricingResult{},
		Metadata: &domain.QuoteMetadata{LenderCount: len(runs)},
	}

	evaluated, eligible := 0, 0
	for _, r := range runs {
		if r.outcome == nil {
			continue
		}
		evaluated++
		if r.valid.IsValid {
			eligible++
		}
		resp.Data = append(resp.Data, r.outcome.Results...)
		resp.Metadata.Variants += r.outcome.Variants
		resp.Metadata.Skipped += len(r.outcome.Skipped)
	}

	if evaluated == 0 {
		return nil, fmt.Errorf("%w: %v", engine.ErrInternal, firstError(runs))
	}

	engine.Sort(resp.Data)

	v := aggregate(runs)
	resp.Validation = &v
	if multi {
		resp.Lenders = lenderOutcomes(runs)
	}

	switch {
	case len(resp.Data) > 0:
		resp.Success = true
		return resp, nil
	case eligible > 0:
		resp.Error = engine.NoOptionsMessage
		return resp, engine.ErrNoOptions
	default:
		return resp, nil
	}
}

// aggregate builds the top-level verdict. A single lender's verdict is used
// as is. Across lenders the loan is valid when any lender accepts it;
// otherwise every lender's errors are listed, prefixed by the lender name.
func aggregate(runs []lenderRun) domain.ValidationResult {
	if len(runs) == 1 && runs[0].valid != nil {
		return *runs[0].valid
	}

	res := domain.ValidationResult{Errors: []string{}, Warnings: []string{}}
	for _, r := range runs {
		if r.valid != nil && r.valid.IsValid {
			res.IsValid = true
		}
	}

	for _, r := range runs {
		if r.valid == nil {
			continue
		}
		name := r.summary.LenderName
		if name == "" {
			name = r.summary.LenderID
		}
		if !res.IsValid {
			for _, e := range r.valid.Errors {
				res.Errors = append(res.Errors, name+": "+e)
			}
		}
		if r.valid.IsValid {
			for _, w := range r.valid.Warnings {
				res.Warnings = append(res.Warnings, name+": "+w)
			}
		}
	}
	return res
}

func lenderOutcomes(runs []lenderRun) []domain.LenderOutcome {
	out := make([]domain.LenderOutcome, 0, len(runs))
	for _, r := range runs {
		lo := domain.LenderOutcome{
			LenderID:   r.summary.LenderID,
			LenderName: r.summary.LenderName,
			Validation: r.valid,
		}
		if r.outcome != nil {
			lo.Results = len(r.outcome.Results)
		}
		switch {
		case r.err != nil:
			lo.Error = r.err.Error()
		case r.priceErr != nil:
			lo.Error = engine.NoOptionsMessage
		}
		out = append(out, lo)
	}
	return out
}

func firstError(runs []lenderRun) error {
	for _, r := range runs {
		if r.err != nil {
			return r.err
		}
	}
	return errors.New("no lenders evaluated")
}

func outcomeFor(err error) string {
	if errors.Is(err, ErrMatrixNotFound) {
		return metrics.OutcomeNotFound
	}
	return metrics.OutcomeError
}

func (s *Service) finish(span trace.Span, req *domain.QuoteRequest, outcome string, start time.Time, err error) {
	s.metrics.ObserveQuote(req.LoanProgram, outcome, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func (s *Service) persist(ctx context.Context, tenantID string, req *domain.QuoteRequest, resp *domain.QuoteResponse) {
	if !s.cfg.Persist || s.repo == nil {
		return
	}

	reqJSON, err := json.Marshal(req)
	if err != nil {
		return
	}
	respJSON, err := json.Marshal(resp)
	if err != nil {
		return
	}

	q := &domain.Quote{
		ID:        resp.QuoteID,
		LenderID:  req.LenderID,
		ProgramID: req.LoanProgram,
		Success:   resp.Success,
		BestRate:  resp.BestRate(),
		Request:   reqJSON,
		Response:  respJSON,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.SaveQuote(ctx, tenantID, q); err != nil {
		slog.Error("failed to persist quote",
			"quote_id", resp.QuoteID,
			"tenant_id", tenantID,
			"error", err,
		)
	}
}

func (s *Service) announce(ctx context.Context, tenantID string, req *domain.QuoteRequest, resp *domain.QuoteResponse, lenders int) {
	if !s.cfg.PublishEvents || s.bus == nil {
		return
	}

	evt := domain.QuoteEvent{
		QuoteID:     resp.QuoteID,
		TenantID:    tenantID,
		LenderID:    req.LenderID,
		ProgramID:   req.LoanProgram,
		Success:     resp.Success,
		BestRate:    resp.BestRate(),
		LenderCount: lenders,
		Error:       resp.Error,
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}

	topic := domain.TopicQuotePriced
	if !resp.Success {
		topic = domain.TopicQuoteIneligible
	}
	if err := s.bus.Publish(ctx, tenantID, topic, payload); err != nil {
		slog.Warn("failed to publish quote event",
			"quote_id", resp.QuoteID,
			"topic", topic,
			"error", err,
		)
	}
}
