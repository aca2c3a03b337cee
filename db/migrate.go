package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Migration struct {
	ID  string
	SQL string
}

// Migrations returns the embedded SQLite migrations ordered by ID. File names
// start with a zero-padded sequence number, so lexical order is apply order.
func Migrations() ([]Migration, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var ms []Migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		b, err := migrationsFS.ReadFile("migrations/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		ms = append(ms, Migration{
			ID:  strings.TrimSuffix(e.Name(), ".sql"),
			SQL: string(b),
		})
	}

	sort.Slice(ms, func(i, j int) bool { return ms[i].ID < ms[j].ID })
	return ms, nil
}

func Migrate(ctx context.Context, db *sql.DB, logger *log.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS migration_history (
			id TEXT PRIMARY KEY,
			applied_at_ms INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("error creating migration_history table: %w", err)
	}

	migrations, err := Migrations()
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		var applied int
		err := db.QueryRowContext(
			ctx,
			"SELECT 1 FROM migration_history WHERE id = ?",
			migration.ID,
		).Scan(&applied)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("error checking migration status: %w", err)
		}
		if applied == 1 {
			logger.Debug("Skipping migration (already applied)", "id", migration.ID)
			continue
		}

		logger.Info("Applying migration", "id", migration.ID)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("error starting transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("error applying migration %s: %w", migration.ID, err)
		}

		_, err = tx.ExecContext(
			ctx,
			"INSERT INTO migration_history (id, applied_at_ms) VALUES (?, ?)",
			migration.ID,
			nowMillis(),
		)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("error recording migration %s: %w", migration.ID, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("error committing migration %s: %w", migration.ID, err)
		}
	}

	return nil
}
