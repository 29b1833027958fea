package domain

import (
	"time"
)

// Config holds the complete loanpricer configuration.
type Config struct {
	// Server settings
	Server ServerConfig `yaml:"server"`

	// Tier determines which backends are used
	Tier Tier `yaml:"tier"`

	// Component configurations
	Repository RepositoryConfig `yaml:"repository"`
	Cache      CacheConfig      `yaml:"cache"`
	EventBus   EventBusConfig   `yaml:"eventBus"`
	Store      StoreConfig      `yaml:"store"`
	Quote      QuoteConfig      `yaml:"quote"`
	Worker     WorkerConfig     `yaml:"worker"`
	RateLimit  RateLimitConfig  `yaml:"rateLimit"`

	// Observability
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"readTimeout"`  // seconds
	WriteTimeout int    `yaml:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"serviceName"`
}

// StoreConfig tunes the matrix store.
type StoreConfig struct {
	// CacheTTL is how long a matrix document stays cached.
	CacheTTL time.Duration `yaml:"cacheTTL"`

	// Circuit breaker around repository reads.
	BreakerMaxFailures uint32        `yaml:"breakerMaxFailures"`
	BreakerTimeout     time.Duration `yaml:"breakerTimeout"`
	BreakerInterval    time.Duration `yaml:"breakerInterval"`

	// QueryTimeout bounds each repository call.
	QueryTimeout time.Duration `yaml:"queryTimeout"`
}

// QuoteConfig tunes the quote service.
type QuoteConfig struct {
	// MaxConcurrency bounds parallel lender pricing in one request.
	MaxConcurrency int `yaml:"maxConcurrency"`

	// Persist stores every quote for later retrieval.
	Persist bool `yaml:"persist"`

	// PublishEvents emits quote.priced / quote.ineligible.
	PublishEvents bool `yaml:"publishEvents"`
}

// WorkerConfig enables the bus-driven pricing worker.
type WorkerConfig struct {
	Enabled     bool     `yaml:"enabled"`
	TenantIDs   []string `yaml:"tenantIds"`
	WorkerCount int      `yaml:"workerCount"`
}

// RateLimitConfig configures the per-tenant HTTP limiter.
// A zero RequestsPerSecond disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	Burst             int     `yaml:"burst"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity uses SQLite, an in-memory cache and channels
	TierCommunity Tier = "community"

	// TierPro uses PostgreSQL, Redis and NATS
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./loanpricer.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 1000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Store: StoreConfig{
			CacheTTL:           10 * time.Minute,
			BreakerMaxFailures: 5,
			BreakerTimeout:     30 * time.Second,
			BreakerInterval:    time.Minute,
			QueryTimeout:       5 * time.Second,
		},
		Quote: QuoteConfig{
			MaxConcurrency: 8,
			Persist:        true,
			PublishEvents:  true,
		},
		Worker: WorkerConfig{
			WorkerCount: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "loanpricer",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "loanpricer",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   500,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Worker.Enabled = true
	cfg.RateLimit = RateLimitConfig{RequestsPerSecond: 50, Burst: 100}
	cfg.Tracing.Enabled = true
	return cfg
}
