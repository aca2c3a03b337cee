// Package db opens and migrates the databases behind the persistent access
// stores.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	_ "modernc.org/sqlite"
)

func nowMillis() int64 { return time.Now().UTC().UnixMilli() }

// SQLiteDSN builds a modernc.org/sqlite DSN with the per-connection pragmas
// the store relies on.
func SQLiteDSN(path string) string {
	return fmt.Sprintf(
		"file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		path,
	)
}

// OpenSQLite opens the database file at path, creating its parent directory
// when needed, and applies pending migrations.
func OpenSQLite(ctx context.Context, path string, logger *log.Logger) (*sql.DB, error) {
	if path == "" {
		path = "./data/access.db"
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	return openSQLite(ctx, SQLiteDSN(path), logger)
}

// OpenSQLiteDSN is OpenSQLite for a caller-built DSN, e.g. an in-memory
// database in tests.
func OpenSQLiteDSN(ctx context.Context, dsn string, logger *log.Logger) (*sql.DB, error) {
	return openSQLite(ctx, dsn, logger)
}

func openSQLite(ctx context.Context, dsn string, logger *log.Logger) (*sql.DB, error) {
	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}

	// One connection: writes are serialized by Worker anyway, and in-memory
	// databases vanish when their last connection closes.
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)
	sqldb.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := sqldb.PingContext(pingCtx); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	if err := Migrate(ctx, sqldb, logger); err != nil {
		_ = sqldb.Close()
		return nil, err
	}

	return sqldb, nil
}
