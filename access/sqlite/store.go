// Package sqlite stores access records in an embedded SQLite database so
// approvals survive a restart.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zahareus/telegram-transcriber-bot/access"
	dbpkg "github.com/zahareus/telegram-transcriber-bot/db"
)

type Store struct {
	db     *sql.DB
	writer *dbpkg.Worker
	now    func() time.Time
}

var _ access.Store = (*Store)(nil)

// New wraps an opened, migrated database. All writes go through writer.
func New(db *sql.DB, writer *dbpkg.Worker) *Store {
	return &Store{
		db:     db,
		writer: writer,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

const selectRecord = `
SELECT identity, state, first_name, last_name, username, requested_at_ms, decided_at_ms
FROM access_records`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (access.Record, error) {
	var (
		rec         access.Record
		state       string
		requestedMs int64
		decidedMs   sql.NullInt64
	)
	err := row.Scan(
		&rec.Identity,
		&state,
		&rec.Profile.FirstName,
		&rec.Profile.LastName,
		&rec.Profile.Username,
		&requestedMs,
		&decidedMs,
	)
	if err != nil {
		return access.Record{}, err
	}

	rec.State, err = access.ParseState(state)
	if err != nil {
		return access.Record{}, err
	}
	rec.RequestedAt = time.UnixMilli(requestedMs).UTC()
	if decidedMs.Valid {
		rec.DecidedAt = time.UnixMilli(decidedMs.Int64).UTC()
	}
	return rec, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func lookup(ctx context.Context, q queryRower, id access.Identity) (access.Record, bool, error) {
	rec, err := scanRecord(q.QueryRowContext(ctx, selectRecord+" WHERE identity = ?", int64(id)))
	if errors.Is(err, sql.ErrNoRows) {
		return access.Record{}, false, nil
	}
	if err != nil {
		return access.Record{}, false, fmt.Errorf("lookup %d: %w", id, err)
	}
	return rec, true, nil
}

func (s *Store) Lookup(ctx context.Context, id access.Identity) (access.Record, bool, error) {
	return lookup(ctx, s.db, id)
}

func (s *Store) BeginRequest(
	ctx context.Context,
	id access.Identity,
	profile access.Profile,
) (access.BeginOutcome, error) {
	var outcome access.BeginOutcome

	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
INSERT INTO access_records(identity, state, first_name, last_name, username, requested_at_ms)
VALUES (?, 'pending', ?, ?, ?, ?)
ON CONFLICT(identity) DO NOTHING;
`, int64(id), profile.FirstName, profile.LastName, profile.Username, s.now().UnixMilli())
		if err != nil {
			return fmt.Errorf("insert access record: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 1 {
			outcome = access.Created
			return nil
		}

		rec, ok, err := lookup(ctx, tx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("access record %d vanished during insert", id)
		}
		outcome = access.OutcomeFor(rec.State)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("begin request %d: %w", id, err)
	}
	return outcome, nil
}

func (s *Store) Resolve(
	ctx context.Context,
	id access.Identity,
	d access.Decision,
) (access.ResolveOutcome, access.Record, error) {
	if !d.Valid() {
		return access.Unknown, access.Record{}, fmt.Errorf("%w: %d", access.ErrInvalidDecision, d)
	}

	var (
		outcome access.ResolveOutcome
		rec     access.Record
	)

	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE access_records
SET state = ?, decided_at_ms = ?
WHERE identity = ? AND state = 'pending';
`, string(d.State()), s.now().UnixMilli(), int64(id))
		if err != nil {
			return fmt.Errorf("update access record: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return err
		}

		var ok bool
		rec, ok, err = lookup(ctx, tx, id)
		if err != nil {
			return err
		}
		switch {
		case n == 1:
			outcome = access.Applied
		case ok:
			outcome = access.NotPending
		default:
			outcome = access.Unknown
		}
		return nil
	})
	if err != nil {
		return access.Unknown, access.Record{}, fmt.Errorf("resolve %d: %w", id, err)
	}
	return outcome, rec, nil
}

func (s *Store) RevertToUnregistered(ctx context.Context, id access.Identity) (bool, error) {
	var removed bool

	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"DELETE FROM access_records WHERE identity = ? AND state = 'pending';",
			int64(id),
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		removed = n == 1
		return err
	})
	if err != nil {
		return false, fmt.Errorf("revert %d: %w", id, err)
	}
	return removed, nil
}

func (s *Store) List(ctx context.Context) ([]access.Record, error) {
	rows, err := s.db.QueryContext(ctx, selectRecord+" ORDER BY requested_at_ms, identity")
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
