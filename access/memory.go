package access

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps every record in process memory. A restart forgets all
// requests and decisions.
type MemoryStore struct {
	mu      sync.Mutex
	records map[Identity]Record
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[Identity]Record),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Lookup(_ context.Context, id Identity) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	return rec, ok, nil
}

func (s *MemoryStore) BeginRequest(
	_ context.Context,
	id Identity,
	profile Profile,
) (BeginOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[id]; ok {
		return OutcomeFor(rec.State), nil
	}
	s.records[id] = Record{
		Identity:    id,
		State:       Pending,
		Profile:     profile,
		RequestedAt: s.now(),
	}
	return Created, nil
}

func (s *MemoryStore) Resolve(
	_ context.Context,
	id Identity,
	d Decision,
) (ResolveOutcome, Record, error) {
	if !d.Valid() {
		return Unknown, Record{}, fmt.Errorf("%w: %d", ErrInvalidDecision, d)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return Unknown, Record{}, nil
	}
	if rec.State != Pending {
		return NotPending, rec, nil
	}
	rec.State = d.State()
	rec.DecidedAt = s.now()
	s.records[id] = rec
	return Applied, rec, nil
}

func (s *MemoryStore) RevertToUnregistered(_ context.Context, id Identity) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || rec.State != Pending {
		return false, nil
	}
	delete(s.records, id)
	return true, nil
}

func (s *MemoryStore) List(_ context.Context) ([]Record, error) {
	s.mu.Lock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	s.mu.Unlock()

	SortRecords(out)
	return out, nil
}

// SortRecords orders records by request time, then by identity.
func SortRecords(recs []Record) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].RequestedAt.Equal(recs[j].RequestedAt) {
			return recs[i].RequestedAt.Before(recs[j].RequestedAt)
		}
		return recs[i].Identity < recs[j].Identity
	})
}
