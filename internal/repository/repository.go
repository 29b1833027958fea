// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/loanpricer/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveMatrix upserts a matrix document and re-enables it if it was deleted.
func (r *SQLRepository) SaveMatrix(ctx context.Context, m *domain.PricingMatrix) error {
	if m == nil || m.LenderID == "" || m.ProgramID == "" {
		return fmt.Errorf("%w: lenderId and programId are required", ErrInvalidInput)
	}

	doc, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode matrix: %w", err)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO matrices (
			lender_id, program_id, lender_name, program_name, version,
			effective_date, document, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(lender_id, program_id) DO UPDATE SET
			lender_name = excluded.lender_name,
			program_name = excluded.program_name,
			version = excluded.version,
			effective_date = excluded.effective_date,
			document = excluded.document,
			enabled = 1,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		m.LenderID, m.ProgramID, m.LenderName, m.ProgramName, m.Version,
		m.EffectiveDate, string(doc), now, now,
	)
	return err
}

// GetMatrix retrieves an enabled matrix document.
func (r *SQLRepository) GetMatrix(ctx context.Context, lenderID, programID string) (*domain.PricingMatrix, error) {
	if lenderID == "" || programID == "" {
		return nil, fmt.Errorf("%w: lenderId and programId are required", ErrInvalidInput)
	}

	query := `
		SELECT document
		FROM matrices
		WHERE lender_id = ? AND program_id = ? AND enabled = 1
	`

	var doc string
	err := r.db.QueryRowContext(ctx, r.rebind(query), lenderID, programID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var m domain.PricingMatrix
	if err := json.Unmarshal([]byte(doc), &m); err != nil {
		return nil, fmt.Errorf("failed to parse matrix %s/%s: %w", lenderID, programID, err)
	}
	return &m, nil
}

// ListMatrices returns summaries of enabled matrices, optionally for one
// program, ordered by lender.
func (r *SQLRepository) ListMatrices(ctx context.Context, programID string) ([]domain.MatrixSummary, error) {
	query := `
		SELECT lender_id, lender_name, program_id, program_name, version, effective_date, updated_at
		FROM matrices
		WHERE enabled = 1
	`
	var args []any
	if programID != "" {
		query += ` AND program_id = ?`
		args = append(args, programID)
	}
	query += ` ORDER BY lender_id, program_id`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := []domain.MatrixSummary{}
	for rows.Next() {
		var s domain.MatrixSummary
		var version, effectiveDate sql.NullString
		var updatedAt time.Time

		if err := rows.Scan(
			&s.LenderID, &s.LenderName, &s.ProgramID, &s.ProgramName,
			&version, &effectiveDate, &updatedAt,
		); err != nil {
			return nil, err
		}

		s.Version = version.String
		s.EffectiveDate = effectiveDate.String
		s.UpdatedAt = updatedAt.UTC().Format(time.RFC3339)
		summaries = append(summaries, s)
	}

	return summaries, rows.Err()
}

// DeleteMatrix soft-deletes a matrix by setting enabled = 0.
func (r *SQLRepository) DeleteMatrix(ctx context.Context, lenderID, programID string) error {
	query := `
		UPDATE matrices
		SET enabled = 0, updated_at = ?
		WHERE lender_id = ? AND program_id = ? AND enabled = 1
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), lenderID, programID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SaveQuote stores a quote with tenant isolation.
func (r *SQLRepository) SaveQuote(ctx context.Context, tenantID string, q *domain.Quote) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if q == nil || q.ID == "" {
		return fmt.Errorf("%w: quote id is required", ErrInvalidInput)
	}

	success := 0
	if q.Success {
		success = 1
	}

	createdAt := q.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO quotes (
			id, tenant_id, lender_id, program_id, success, best_rate,
			request, response, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		q.ID, tenantID, q.LenderID, q.ProgramID, success, q.BestRate,
		string(q.Request), string(q.Response), createdAt,
	)
	return err
}

// GetQuote retrieves a quote by ID with tenant isolation.
func (r *SQLRepository) GetQuote(ctx context.Context, tenantID string, quoteID string) (*domain.Quote, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, lender_id, program_id, success, best_rate,
			   request, response, created_at
		FROM quotes
		WHERE tenant_id = ? AND id = ?
	`

	var q domain.Quote
	var lenderID sql.NullString
	var success int
	var request, response string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, quoteID).Scan(
		&q.ID, &q.TenantID, &lenderID, &q.ProgramID, &success, &q.BestRate,
		&request, &response, &q.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	q.LenderID = lenderID.String
	q.Success = success == 1
	q.Request = json.RawMessage(request)
	q.Response = json.RawMessage(response)

	return &q, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
