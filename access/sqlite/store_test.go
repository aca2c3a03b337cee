package sqlite_test

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/zahareus/telegram-transcriber-bot/access"
	"github.com/zahareus/telegram-transcriber-bot/access/sqlite"
	"github.com/zahareus/telegram-transcriber-bot/access/storetest"
	"github.com/zahareus/telegram-transcriber-bot/db"
)

// newTestStore returns a store over a fresh in-memory database that is
// closed when the test finishes.
func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:store_%s?mode=memory&cache=shared", name)

	conn, err := db.OpenSQLiteDSN(context.Background(), dsn, log.New(io.Discard))
	if err != nil {
		t.Fatalf("OpenSQLiteDSN: %v", err)
	}
	w := db.NewWorker(conn)
	t.Cleanup(func() {
		w.Close()
		conn.Close()
	})
	return sqlite.New(conn, w)
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) access.Store {
		return newTestStore(t)
	})
}

func TestStoreSurvivesReopen(t *testing.T) {
	path := t.TempDir() + "/access.db"
	ctx := context.Background()
	logger := log.New(io.Discard)

	conn, err := db.OpenSQLite(ctx, path, logger)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	w := db.NewWorker(conn)
	s := sqlite.New(conn, w)
	if _, err := s.BeginRequest(ctx, 42, access.Profile{Username: "olena"}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.Resolve(ctx, 42, access.Approve); err != nil {
		t.Fatal(err)
	}
	w.Close()
	conn.Close()

	conn, err = db.OpenSQLite(ctx, path, logger)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	w = db.NewWorker(conn)
	defer func() {
		w.Close()
		conn.Close()
	}()

	rec, ok, err := sqlite.New(conn, w).Lookup(ctx, 42)
	if err != nil || !ok {
		t.Fatalf("Lookup after reopen = %v, %v", ok, err)
	}
	if rec.State != access.Approved || rec.Profile.Username != "olena" {
		t.Errorf("record after reopen = %+v", rec)
	}
}
