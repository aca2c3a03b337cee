// Package postgres stores access records in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zahareus/telegram-transcriber-bot/access"
)

type Store struct {
	pool *pgxpool.Pool
}

var _ access.Store = (*Store)(nil)

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const selectRecord = `
SELECT identity, state, first_name, last_name, username, requested_at, decided_at
FROM access_records`

func scanRecord(row pgx.Row) (access.Record, error) {
	var (
		rec       access.Record
		id        int64
		state     string
		requested time.Time
		decided   pgtype.Timestamptz
	)
	err := row.Scan(
		&id,
		&state,
		&rec.Profile.FirstName,
		&rec.Profile.LastName,
		&rec.Profile.Username,
		&requested,
		&decided,
	)
	if err != nil {
		return access.Record{}, err
	}

	rec.Identity = access.Identity(id)
	rec.State, err = access.ParseState(state)
	if err != nil {
		return access.Record{}, err
	}
	rec.RequestedAt = requested.UTC()
	if decided.Valid {
		rec.DecidedAt = decided.Time.UTC()
	}
	return rec, nil
}

func (s *Store) Lookup(ctx context.Context, id access.Identity) (access.Record, bool, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx, selectRecord+" WHERE identity = $1", int64(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return access.Record{}, false, nil
	}
	if err != nil {
		return access.Record{}, false, fmt.Errorf("lookup %d: %w", id, err)
	}
	return rec, true, nil
}

// BeginRequest relies on the primary key: of any number of concurrent
// inserts for one identity exactly one affects a row.
func (s *Store) BeginRequest(
	ctx context.Context,
	id access.Identity,
	profile access.Profile,
) (access.BeginOutcome, error) {
	tag, err := s.pool.Exec(ctx, `
INSERT INTO access_records (identity, state, first_name, last_name, username)
VALUES ($1, 'pending', $2, $3, $4)
ON CONFLICT (identity) DO NOTHING`,
		int64(id), profile.FirstName, profile.LastName, profile.Username,
	)
	if err != nil {
		return 0, fmt.Errorf("begin request %d: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return access.Created, nil
	}

	rec, ok, err := s.Lookup(ctx, id)
	if err != nil {
		return 0, err
	}
	if !ok {
		// Reverted between our insert and the read; someone else owns it.
		return access.AlreadyPending, nil
	}
	return access.OutcomeFor(rec.State), nil
}

func (s *Store) Resolve(
	ctx context.Context,
	id access.Identity,
	d access.Decision,
) (access.ResolveOutcome, access.Record, error) {
	if !d.Valid() {
		return access.Unknown, access.Record{}, fmt.Errorf("%w: %d", access.ErrInvalidDecision, d)
	}

	rec, err := scanRecord(s.pool.QueryRow(ctx, `
UPDATE access_records
SET state = $2, decided_at = now()
WHERE identity = $1 AND state = 'pending'
RETURNING identity, state, first_name, last_name, username, requested_at, decided_at`,
		int64(id), string(d.State()),
	))
	if err == nil {
		return access.Applied, rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return access.Unknown, access.Record{}, fmt.Errorf("resolve %d: %w", id, err)
	}

	rec, ok, err := s.Lookup(ctx, id)
	if err != nil {
		return access.Unknown, access.Record{}, err
	}
	if !ok {
		return access.Unknown, access.Record{}, nil
	}
	return access.NotPending, rec, nil
}

func (s *Store) RevertToUnregistered(ctx context.Context, id access.Identity) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM access_records WHERE identity = $1 AND state = 'pending'",
		int64(id),
	)
	if err != nil {
		return false, fmt.Errorf("revert %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) List(ctx context.Context) ([]access.Record, error) {
	rows, err := s.pool.Query(ctx, selectRecord+" ORDER BY requested_at, identity")
	if err != nil {
		return nil, fmt.Errorf("list access records: %w", err)
	}
	defer rows.Close()

	var out []access.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan access record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
