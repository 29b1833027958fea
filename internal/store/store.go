// Package store serves compiled pricing matrices to the quote service.
//
// Lookups go through three layers: an in-process memo of compiled matrices,
// the configured domain.Cache, and finally the repository behind a circuit
// breaker. Writes compile the document first so an invalid matrix never
// reaches storage, then publish TopicMatrixUpdated so every instance drops
// its stale copies.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/opensource-finance/loanpricer/internal/domain"
	"github.com/opensource-finance/loanpricer/internal/matrix"
	"github.com/opensource-finance/loanpricer/internal/metrics"
	"github.com/opensource-finance/loanpricer/internal/repository"
)

// ErrMatrixUnavailable is returned while the repository breaker is open.
var ErrMatrixUnavailable = errors.New("matrix store unavailable")

const breakerName = "matrix-store"

// memoEntry is a compiled matrix that expires with the cache TTL, so changes
// written by another process are picked up even when their update event
// never arrives.
type memoEntry struct {
	compiled  *matrix.Compiled
	expiresAt time.Time
}

func (e memoEntry) live(now time.Time) bool {
	return e.expiresAt.IsZero() || now.Before(e.expiresAt)
}

// Store is safe for concurrent use.
type Store struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	compiler *matrix.Compiler
	breaker  *gobreaker.CircuitBreaker
	metrics  *metrics.Metrics
	cfg      domain.StoreConfig

	mu       sync.RWMutex
	compiled map[string]memoEntry

	sub domain.Subscription
}

// Option configures a Store.
type Option func(*Store)

// WithMetrics records cache lookups and breaker state.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// New creates a store. cache and bus may be nil.
func New(repo domain.Repository, cache domain.Cache, bus domain.EventBus, cfg domain.StoreConfig, opts ...Option) (*Store, error) {
	if repo == nil {
		return nil, errors.New("store: repository is required")
	}

	compiler, err := matrix.NewCompiler()
	if err != nil {
		return nil, err
	}

	s := &Store{
		repo:     repo,
		cache:    cache,
		bus:      bus,
		compiler: compiler,
		cfg:      cfg,
		compiled: make(map[string]memoEntry),
	}
	for _, opt := range opts {
		opt(s)
	}

	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}

	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     breakerName,
		Interval: cfg.BreakerInterval,
		Timeout:  cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// Missing rows and bad input are answers, not outages.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, repository.ErrNotFound) ||
				errors.Is(err, repository.ErrInvalidInput) ||
				errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
			s.metrics.BreakerChanged(name, int(to))
		},
	})

	return s, nil
}

// Start subscribes to matrix updates so that changes made by any instance
// evict local copies.
func (s *Store) Start(ctx context.Context) error {
	if s.bus == nil {
		return nil
	}

	sub, err := s.bus.Subscribe(ctx, domain.GlobalTenantID, domain.TopicMatrixUpdated, s.handleUpdate)
	if err != nil {
		return fmt.Errorf("failed to subscribe to matrix updates: %w", err)
	}
	s.sub = sub
	return nil
}

// Close stops listening for updates.
func (s *Store) Close() error {
	if s.sub != nil {
		return s.sub.Unsubscribe()
	}
	return nil
}

func (s *Store) handleUpdate(ctx context.Context, msg *domain.Message) error {
	var evt domain.MatrixUpdatedEvent
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		return fmt.Errorf("invalid matrix update event: %w", err)
	}

	s.forget(evt.LenderID, evt.ProgramID)
	if s.cache != nil {
		if err := s.cache.DeleteMatrix(ctx, evt.LenderID, evt.ProgramID); err != nil {
			slog.Warn("failed to evict cached matrix",
				"lender_id", evt.LenderID,
				"program_id", evt.ProgramID,
				"error", err,
			)
		}
	}

	slog.Debug("matrix invalidated",
		"lender_id", evt.LenderID,
		"program_id", evt.ProgramID,
		"deleted", evt.Deleted,
	)
	return nil
}

// Compiled returns the compiled matrix for one lender and program.
func (s *Store) Compiled(ctx context.Context, lenderID, programID string) (*matrix.Compiled, error) {
	key := memoKey(lenderID, programID)

	s.mu.RLock()
	entry, ok := s.compiled[key]
	s.mu.RUnlock()
	ok = ok && entry.live(time.Now())
	s.metrics.CacheLookup("memo", ok)
	if ok {
		return entry.compiled, nil
	}

	doc, err := s.Get(ctx, lenderID, programID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.forget(lenderID, programID)
		}
		return nil, err
	}

	c, err := s.compiler.Compile(doc)
	if err != nil {
		return nil, fmt.Errorf("stored matrix %s/%s: %w", lenderID, programID, err)
	}

	s.remember(key, c)
	return c, nil
}

// Get returns the matrix document, reading through the cache.
func (s *Store) Get(ctx context.Context, lenderID, programID string) (*domain.PricingMatrix, error) {
	if s.cache != nil {
		m, err := s.cache.GetMatrix(ctx, lenderID, programID)
		if err != nil {
			slog.Warn("matrix cache read failed",
				"lender_id", lenderID,
				"program_id", programID,
				"error", err,
			)
		}
		s.metrics.CacheLookup("cache", m != nil)
		if m != nil {
			return m, nil
		}
	}

	res, err := s.execute(ctx, func(ctx context.Context) (any, error) {
		return s.repo.GetMatrix(ctx, lenderID, programID)
	})
	if err != nil {
		return nil, err
	}
	m := res.(*domain.PricingMatrix)

	if s.cache != nil {
		if err := s.cache.SetMatrix(ctx, m, s.cfg.CacheTTL); err != nil {
			slog.Warn("failed to cache matrix",
				"lender_id", lenderID,
				"program_id", programID,
				"error", err,
			)
		}
	}
	return m, nil
}

// List returns summaries of enabled matrices, optionally for one program.
func (s *Store) List(ctx context.Context, programID string) ([]domain.MatrixSummary, error) {
	res, err := s.execute(ctx, func(ctx context.Context) (any, error) {
		return s.repo.ListMatrices(ctx, programID)
	})
	if err != nil {
		return nil, err
	}
	return res.([]domain.MatrixSummary), nil
}

// Save validates and stores a matrix, then announces the change.
func (s *Store) Save(ctx context.Context, m *domain.PricingMatrix) (*matrix.Compiled, error) {
	c, err := s.compiler.Compile(m)
	if err != nil {
		return nil, err
	}

	if _, err := s.execute(ctx, func(ctx context.Context) (any, error) {
		return nil, s.repo.SaveMatrix(ctx, m)
	}); err != nil {
		return nil, err
	}

	s.evict(ctx, m.LenderID, m.ProgramID)

	s.remember(memoKey(m.LenderID, m.ProgramID), c)

	s.announce(ctx, domain.MatrixUpdatedEvent{LenderID: m.LenderID, ProgramID: m.ProgramID})

	slog.Info("matrix saved",
		"lender_id", m.LenderID,
		"program_id", m.ProgramID,
		"version", m.Version,
	)
	return c, nil
}

// Delete disables a matrix.
func (s *Store) Delete(ctx context.Context, lenderID, programID string) error {
	if _, err := s.execute(ctx, func(ctx context.Context) (any, error) {
		return nil, s.repo.DeleteMatrix(ctx, lenderID, programID)
	}); err != nil {
		return err
	}

	s.evict(ctx, lenderID, programID)
	s.announce(ctx, domain.MatrixUpdatedEvent{LenderID: lenderID, ProgramID: programID, Deleted: true})

	slog.Info("matrix deleted", "lender_id", lenderID, "program_id", programID)
	return nil
}

// Ping reports whether the repository answers.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.execute(ctx, func(ctx context.Context) (any, error) {
		return nil, s.repo.Ping(ctx)
	})
	return err
}

// execute runs fn behind the breaker with the configured query timeout.
func (s *Store) execute(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	res, err := s.breaker.Execute(func() (interface{}, error) {
		if s.cfg.QueryTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.QueryTimeout)
			defer cancel()
		}
		return fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrMatrixUnavailable, err)
	}
	return res, err
}

func (s *Store) evict(ctx context.Context, lenderID, programID string) {
	s.forget(lenderID, programID)
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteMatrix(ctx, lenderID, programID); err != nil {
		slog.Warn("failed to evict cached matrix",
			"lender_id", lenderID,
			"program_id", programID,
			"error", err,
		)
	}
}

func (s *Store) remember(key string, c *matrix.Compiled) {
	entry := memoEntry{compiled: c}
	if s.cfg.CacheTTL > 0 {
		entry.expiresAt = time.Now().Add(s.cfg.CacheTTL)
	}
	s.mu.Lock()
	s.compiled[key] = entry
	s.mu.Unlock()
}

func (s *Store) forget(lenderID, programID string) {
	s.mu.Lock()
	delete(s.compiled, memoKey(lenderID, programID))
	s.mu.Unlock()
}

func (s *Store) announce(ctx context.Context, evt domain.MatrixUpdatedEvent) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, domain.GlobalTenantID, domain.TopicMatrixUpdated, payload); err != nil {
		slog.Warn("failed to publish matrix update",
			"lender_id", evt.LenderID,
			"program_id", evt.ProgramID,
			"error", err,
		)
	}
}

func memoKey(lenderID, programID string) string {
	return lenderID + "/" + programID
}
