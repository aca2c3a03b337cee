package db_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/zahareus/telegram-transcriber-bot/db"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:db_%s?mode=memory&cache=shared", t.Name())
	conn, err := db.OpenSQLiteDSN(context.Background(), dsn, log.New(io.Discard))
	if err != nil {
		t.Fatalf("OpenSQLiteDSN: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestMigrationsAreOrdered(t *testing.T) {
	ms, err := db.Migrations()
	if err != nil {
		t.Fatalf("Migrations: %v", err)
	}
	if len(ms) == 0 {
		t.Fatal("no embedded migrations")
	}
	for i := 1; i < len(ms); i++ {
		if ms[i-1].ID >= ms[i].ID {
			t.Errorf("migration %s sorts after %s", ms[i-1].ID, ms[i].ID)
		}
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	conn := openTestDB(t)

	if err := db.Migrate(context.Background(), conn, log.New(io.Discard)); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}

	ms, _ := db.Migrations()
	var n int
	if err := conn.QueryRow("SELECT COUNT(*) FROM migration_history").Scan(&n); err != nil {
		t.Fatalf("count migration_history: %v", err)
	}
	if n != len(ms) {
		t.Errorf("migration_history has %d rows, want %d", n, len(ms))
	}

	if _, err := conn.Exec(
		"INSERT INTO access_records(identity, state, requested_at_ms) VALUES (1, 'pending', 0)",
	); err != nil {
		t.Fatalf("insert into migrated table: %v", err)
	}
	if _, err := conn.Exec(
		"INSERT INTO access_records(identity, state, requested_at_ms) VALUES (2, 'bogus', 0)",
	); err == nil {
		t.Error("state CHECK constraint not enforced")
	}
}

func TestWorkerSerializesWrites(t *testing.T) {
	conn := openTestDB(t)
	w := db.NewWorker(conn)
	defer w.Close()

	if _, err := conn.Exec("CREATE TABLE counter (n INTEGER NOT NULL)"); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Exec("INSERT INTO counter(n) VALUES (0)"); err != nil {
		t.Fatal(err)
	}

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := w.Do(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
				var n int
				if err := tx.QueryRowContext(ctx, "SELECT n FROM counter").Scan(&n); err != nil {
					return err
				}
				_, err := tx.ExecContext(ctx, "UPDATE counter SET n = ?", n+1)
				return err
			})
			if err != nil {
				t.Errorf("Do: %v", err)
			}
		}()
	}
	wg.Wait()

	var n int
	if err := conn.QueryRow("SELECT n FROM counter").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != writers {
		t.Errorf("counter = %d, want %d", n, writers)
	}
}

func TestWorkerRollsBackOnError(t *testing.T) {
	conn := openTestDB(t)
	w := db.NewWorker(conn)
	defer w.Close()

	boom := errors.New("boom")
	err := w.Do(context.Background(), func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(
			ctx,
			"INSERT INTO access_records(identity, state, requested_at_ms) VALUES (1, 'pending', 0)",
		); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Do err = %v, want boom", err)
	}

	var n int
	conn.QueryRow("SELECT COUNT(*) FROM access_records").Scan(&n)
	if n != 0 {
		t.Errorf("rolled back insert left %d rows", n)
	}
}

func TestWorkerClosed(t *testing.T) {
	conn := openTestDB(t)
	w := db.NewWorker(conn)
	w.Close()

	err := w.Do(context.Background(), func(context.Context, *sql.Tx) error { return nil })
	if !errors.Is(err, db.ErrWorkerClosed) {
		t.Fatalf("Do after Close = %v, want ErrWorkerClosed", err)
	}
}
