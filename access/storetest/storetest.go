// Package storetest holds the behavior every access.Store implementation
// must satisfy. Each store package runs it from its own tests.
package storetest

import (
	"context"
	"sync"
	"testing"

	"github.com/zahareus/telegram-transcriber-bot/access"
)

type Factory func(t *testing.T) access.Store

func Run(t *testing.T, newStore Factory) {
	t.Run("LookupMissing", func(t *testing.T) { testLookupMissing(t, newStore(t)) })
	t.Run("BeginRequestOnce", func(t *testing.T) { testBeginRequestOnce(t, newStore(t)) })
	t.Run("BeginRequestConcurrent", func(t *testing.T) { testBeginRequestConcurrent(t, newStore(t)) })
	t.Run("BeginRequestReportsState", func(t *testing.T) { testBeginRequestReportsState(t, newStore(t)) })
	t.Run("ResolveUnknown", func(t *testing.T) { testResolveUnknown(t, newStore(t)) })
	t.Run("ResolveOnce", func(t *testing.T) { testResolveOnce(t, newStore(t)) })
	t.Run("ResolveConcurrent", func(t *testing.T) { testResolveConcurrent(t, newStore(t)) })
	t.Run("Revert", func(t *testing.T) { testRevert(t, newStore(t)) })
	t.Run("List", func(t *testing.T) { testList(t, newStore(t)) })
}

var profile = access.Profile{FirstName: "Olena", LastName: "K", Username: "olena"}

func mustBegin(t *testing.T, s access.Store, id access.Identity) access.BeginOutcome {
	t.Helper()
	out, err := s.BeginRequest(context.Background(), id, profile)
	if err != nil {
		t.Fatalf("BeginRequest(%d): %v", id, err)
	}
	return out
}

func mustResolve(
	t *testing.T,
	s access.Store,
	id access.Identity,
	d access.Decision,
) (access.ResolveOutcome, access.Record) {
	t.Helper()
	out, rec, err := s.Resolve(context.Background(), id, d)
	if err != nil {
		t.Fatalf("Resolve(%d, %s): %v", id, d, err)
	}
	return out, rec
}

func mustLookup(t *testing.T, s access.Store, id access.Identity) (access.Record, bool) {
	t.Helper()
	rec, ok, err := s.Lookup(context.Background(), id)
	if err != nil {
		t.Fatalf("Lookup(%d): %v", id, err)
	}
	return rec, ok
}

func testLookupMissing(t *testing.T, s access.Store) {
	if _, ok := mustLookup(t, s, 1); ok {
		t.Fatal("Lookup on empty store found a record")
	}
}

func testBeginRequestOnce(t *testing.T, s access.Store) {
	if got := mustBegin(t, s, 42); got != access.Created {
		t.Fatalf("first BeginRequest = %s, want created", got)
	}
	if got := mustBegin(t, s, 42); got != access.AlreadyPending {
		t.Fatalf("second BeginRequest = %s, want already_pending", got)
	}

	rec, ok := mustLookup(t, s, 42)
	if !ok {
		t.Fatal("record missing after BeginRequest")
	}
	if rec.State != access.Pending {
		t.Errorf("state = %s, want pending", rec.State)
	}
	if rec.Profile != profile {
		t.Errorf("profile = %+v, want %+v", rec.Profile, profile)
	}
	if rec.RequestedAt.IsZero() {
		t.Error("RequestedAt not set")
	}
}

func testBeginRequestConcurrent(t *testing.T, s access.Store) {
	const callers = 32

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		pending int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := s.BeginRequest(context.Background(), 7, profile)
			if err != nil {
				t.Errorf("BeginRequest: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			switch out {
			case access.Created:
				created++
			case access.AlreadyPending:
				pending++
			default:
				t.Errorf("unexpected outcome %s", out)
			}
		}()
	}
	wg.Wait()

	if created != 1 || pending != callers-1 {
		t.Fatalf("created=%d pending=%d, want 1 and %d", created, pending, callers-1)
	}
}

func testBeginRequestReportsState(t *testing.T, s access.Store) {
	mustBegin(t, s, 1)
	mustBegin(t, s, 2)
	mustResolve(t, s, 1, access.Approve)
	mustResolve(t, s, 2, access.Reject)

	tests := []struct {
		id   access.Identity
		want access.BeginOutcome
	}{
		{1, access.AlreadyApproved},
		{2, access.AlreadyRejected},
	}
	for _, tt := range tests {
		if got := mustBegin(t, s, tt.id); got != tt.want {
			t.Errorf("BeginRequest(%d) = %s, want %s", tt.id, got, tt.want)
		}
		rec, _ := mustLookup(t, s, tt.id)
		if rec.State == access.Pending {
			t.Errorf("identity %d re-entered pending", tt.id)
		}
	}
}

func testResolveUnknown(t *testing.T, s access.Store) {
	out, _ := mustResolve(t, s, 99, access.Approve)
	if out != access.Unknown {
		t.Fatalf("Resolve on unknown identity = %s, want unknown", out)
	}
	if _, ok := mustLookup(t, s, 99); ok {
		t.Fatal("Resolve created a record for an unknown identity")
	}
}

func testResolveOnce(t *testing.T, s access.Store) {
	mustBegin(t, s, 42)

	out, rec := mustResolve(t, s, 42, access.Reject)
	if out != access.Applied {
		t.Fatalf("first Resolve = %s, want applied", out)
	}
	if rec.State != access.Rejected || rec.DecidedAt.IsZero() {
		t.Errorf("record after reject = %+v", rec)
	}

	out, rec = mustResolve(t, s, 42, access.Approve)
	if out != access.NotPending {
		t.Fatalf("second Resolve = %s, want not_pending", out)
	}
	if rec.State != access.Rejected {
		t.Errorf("state after second Resolve = %s, want rejected", rec.State)
	}

	out, _ = mustResolve(t, s, 42, access.Reject)
	if out != access.NotPending {
		t.Fatalf("repeated Resolve = %s, want not_pending", out)
	}
}

func testResolveConcurrent(t *testing.T, s access.Store) {
	const callers = 32
	mustBegin(t, s, 5)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied []access.Decision
	)
	for i := 0; i < callers; i++ {
		d := access.Approve
		if i%2 == 1 {
			d = access.Reject
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, _, err := s.Resolve(context.Background(), 5, d)
			if err != nil {
				t.Errorf("Resolve: %v", err)
				return
			}
			if out == access.Applied {
				mu.Lock()
				applied = append(applied, d)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(applied) != 1 {
		t.Fatalf("%d Resolve calls applied, want exactly 1", len(applied))
	}
	rec, _ := mustLookup(t, s, 5)
	if rec.State != applied[0].State() {
		t.Errorf("state = %s, want %s", rec.State, applied[0].State())
	}
}

func testRevert(t *testing.T, s access.Store) {
	ctx := context.Background()

	mustBegin(t, s, 10)
	removed, err := s.RevertToUnregistered(ctx, 10)
	if err != nil {
		t.Fatalf("RevertToUnregistered: %v", err)
	}
	if !removed {
		t.Fatal("pending record was not removed")
	}
	if _, ok := mustLookup(t, s, 10); ok {
		t.Fatal("record still present after revert")
	}
	if got := mustBegin(t, s, 10); got != access.Created {
		t.Errorf("BeginRequest after revert = %s, want created", got)
	}

	mustResolve(t, s, 10, access.Approve)
	removed, err = s.RevertToUnregistered(ctx, 10)
	if err != nil {
		t.Fatalf("RevertToUnregistered: %v", err)
	}
	if removed {
		t.Fatal("revert removed an approved record")
	}
	if rec, ok := mustLookup(t, s, 10); !ok || rec.State != access.Approved {
		t.Errorf("approved record changed by revert: %+v ok=%v", rec, ok)
	}

	removed, err = s.RevertToUnregistered(ctx, 11)
	if err != nil || removed {
		t.Errorf("revert of missing identity = %v, %v", removed, err)
	}
}

func testList(t *testing.T, s access.Store) {
	for _, id := range []access.Identity{3, 1, 2} {
		mustBegin(t, s, id)
	}
	mustResolve(t, s, 1, access.Approve)

	recs, err := s.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("List returned %d records, want 3", len(recs))
	}
	states := map[access.Identity]access.State{}
	for i, rec := range recs {
		states[rec.Identity] = rec.State
		if i > 0 && rec.RequestedAt.Before(recs[i-1].RequestedAt) {
			t.Errorf("List not ordered by RequestedAt at %d", i)
		}
	}
	if states[1] != access.Approved || states[2] != access.Pending || states[3] != access.Pending {
		t.Errorf("states = %v", states)
	}
}
