package repository

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opensource-finance/loanpricer/internal/domain"
	_ "modernc.org/sqlite"
)

// DefaultSQLitePath is used when the config leaves SQLitePath empty.
const DefaultSQLitePath = "./loanpricer.db"

// sqliteDSN builds the modernc connection string. WAL plus a busy timeout
// lets `serve` keep reading while `matrix import` writes the same file;
// immediate transactions make the importer take the write lock up front.
func sqliteDSN(path string) string {
	if path == "" {
		path = DefaultSQLitePath
	}
	return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(10000)&_txlock=immediate", path)
}

func openSQLite(cfg domain.RepositoryConfig) (*sql.DB, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = DefaultSQLitePath
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database %s: %w", path, err)
	}

	// One connection serializes writers within the process.
	if cfg.MaxOpenConns == 0 {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database %s: %w", path, err)
	}

	return db, nil
}
