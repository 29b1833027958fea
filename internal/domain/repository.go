// Package domain defines the core data shapes and ports of loanpricer.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Matrix operations. Matrices are shared by every tenant.
	SaveMatrix(ctx context.Context, m *PricingMatrix) error
	GetMatrix(ctx context.Context, lenderID, programID string) (*PricingMatrix, error)
	ListMatrices(ctx context.Context, programID string) ([]MatrixSummary, error)
	DeleteMatrix(ctx context.Context, lenderID, programID string) error

	// Quote operations are tenant scoped.
	SaveQuote(ctx context.Context, tenantID string, q *Quote) error
	GetQuote(ctx context.Context, tenantID string, quoteID string) (*Quote, error)

	Ping(ctx context.Context) error
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `yaml:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgresHost"`
	PostgresPort     int    `yaml:"postgresPort"`
	PostgresUser     string `yaml:"postgresUser"`
	PostgresPassword string `yaml:"postgresPassword"`
	PostgresDB       string `yaml:"postgresDB"`
	PostgresSSLMode  string `yaml:"postgresSSLMode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}
