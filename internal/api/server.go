// Package api exposes loan pricing, eligibility and matrix administration
// over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/loanpricer/internal/domain"
	"github.com/opensource-finance/loanpricer/internal/metrics"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server. A zero RequestsPerSecond disables rate
// limiting; a nil m disables /metrics.
func NewServer(cfg domain.ServerConfig, limits domain.RateLimitConfig, quotes Quoter, matrices MatrixStore, cache domain.Cache, m *metrics.Metrics, version string) *Server {
	handler := NewHandler(quotes, matrices, cache, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(MetricsMiddleware(m))
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	// Health endpoints (no tenant required)
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	if m != nil {
		router.Handle("/metrics", m.Handler())
	}

	// API routes (tenant required)
	router.Group(func(r chi.Router) {
		r.Use(TenantMiddleware)
		if limits.RequestsPerSecond > 0 {
			r.Use(NewTenantLimiter(limits.RequestsPerSecond, limits.Burst, m).Middleware)
		}

		// Pricing
		r.Post("/pricing", handler.Price)
		r.Post("/eligibility", handler.Eligibility)
		r.Post("/amortization", handler.Amortization)

		// Quote retrieval
		r.Get("/quotes/{id}", handler.GetQuote)

		// Matrix management
		r.Get("/matrices", handler.ListMatrices)
		r.Get("/matrices/{lenderId}/{programId}", handler.GetMatrix)
		r.Put("/matrices/{lenderId}/{programId}", handler.PutMatrix)
		r.Delete("/matrices/{lenderId}/{programId}", handler.DeleteMatrix)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
