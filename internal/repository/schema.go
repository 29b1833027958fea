package repository

// Schema definitions for the loanpricer database.
// Compatible with both SQLite and PostgreSQL.

// Matrices are shared by every tenant and keyed by lender and program.
// document holds the full JSON matrix; enabled = 0 marks a soft delete.
const schemaMatrices = `
CREATE TABLE IF NOT EXISTS matrices (
    lender_id TEXT NOT NULL,
    program_id TEXT NOT NULL,
    lender_name TEXT NOT NULL,
    program_name TEXT NOT NULL,
    version TEXT,
    effective_date TEXT,
    document TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (lender_id, program_id)
);

CREATE INDEX IF NOT EXISTS idx_matrices_program ON matrices(program_id, enabled);
`

const schemaQuotes = `
CREATE TABLE IF NOT EXISTS quotes (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    lender_id TEXT,
    program_id TEXT NOT NULL,
    success INTEGER NOT NULL,
    best_rate REAL NOT NULL,
    request TEXT NOT NULL,
    response TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_quotes_tenant ON quotes(tenant_id);
CREATE INDEX IF NOT EXISTS idx_quotes_created ON quotes(tenant_id, created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaMatrices,
		schemaQuotes,
	}
}
