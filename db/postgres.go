package db

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed postgres_init.sql
var postgresInit string

// OpenPostgres connects to databaseURL and makes sure the access_records
// table exists.
func OpenPostgres(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("missing DATABASE_URL")
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to reach database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresInit); err != nil {
		pool.Close()
		return nil, fmt.Errorf(
			"failed to execute embedded postgres_init.sql: %w",
			err,
		)
	}

	return pool, nil
}
