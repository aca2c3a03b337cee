// Package access tracks which chat identities have asked for access to the
// bot and what the administrator decided about them.
package access

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidIdentity = errors.New("invalid identity")
	ErrInvalidDecision = errors.New("invalid decision")
)

// Identity is the numeric user id assigned by the chat transport.
type Identity int64

func ParseIdentity(s string) (Identity, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidIdentity)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidIdentity, s)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidIdentity, n)
	}
	return Identity(n), nil
}

func (id Identity) String() string {
	return strconv.FormatInt(int64(id), 10)
}

type State string

const (
	Pending  State = "pending"
	Approved State = "approved"
	Rejected State = "rejected"
)

func ParseState(s string) (State, error) {
	switch State(s) {
	case Pending, Approved, Rejected:
		return State(s), nil
	}
	return "", fmt.Errorf("unknown access state %q", s)
}

// Profile is display metadata for admin-facing messages. Nothing in the
// approval flow depends on it.
type Profile struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

func (p Profile) DisplayName() string {
	name := strings.TrimSpace(p.FirstName + " " + p.LastName)
	if name == "" {
		return p.Handle()
	}
	return name
}

// Handle returns "@username", or "" when the user has none.
func (p Profile) Handle() string {
	if p.Username == "" {
		return ""
	}
	return "@" + p.Username
}

type Record struct {
	Identity    Identity  `json:"identity"`
	State       State     `json:"state"`
	Profile     Profile   `json:"profile"`
	RequestedAt time.Time `json:"requested_at"`
	DecidedAt   time.Time `json:"decided_at,omitempty"`
}

type BeginOutcome int

const (
	Created BeginOutcome = iota
	AlreadyPending
	AlreadyApproved
	AlreadyRejected
)

func (o BeginOutcome) String() string {
	switch o {
	case Created:
		return "created"
	case AlreadyPending:
		return "already_pending"
	case AlreadyApproved:
		return "already_approved"
	case AlreadyRejected:
		return "already_rejected"
	}
	return "unknown"
}

// OutcomeFor maps the state of an existing record to the BeginRequest tag.
func OutcomeFor(s State) BeginOutcome {
	switch s {
	case Approved:
		return AlreadyApproved
	case Rejected:
		return AlreadyRejected
	default:
		return AlreadyPending
	}
}

type Decision int

const (
	Approve Decision = iota + 1
	Reject
)

func (d Decision) Valid() bool { return d == Approve || d == Reject }

func (d Decision) State() State {
	if d == Approve {
		return Approved
	}
	return Rejected
}

func (d Decision) String() string {
	switch d {
	case Approve:
		return "approve"
	case Reject:
		return "reject"
	}
	return "invalid"
}

type ResolveOutcome int

const (
	Applied ResolveOutcome = iota
	NotPending
	Unknown
)

func (o ResolveOutcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case NotPending:
		return "not_pending"
	}
	return "unknown"
}

// Store owns the identity -> state mapping. BeginRequest, Resolve and
// RevertToUnregistered must each perform their read and write as one atomic
// step: concurrent callers for the same identity observe exactly one winner.
type Store interface {
	Lookup(ctx context.Context, id Identity) (Record, bool, error)
	BeginRequest(ctx context.Context, id Identity, profile Profile) (BeginOutcome, error)
	// Resolve moves a Pending record to the decided state. The returned
	// record reflects the state after the call and is zero for Unknown.
	Resolve(ctx context.Context, id Identity, d Decision) (ResolveOutcome, Record, error)
	// RevertToUnregistered deletes the record only if it is still Pending.
	RevertToUnregistered(ctx context.Context, id Identity) (bool, error)
	List(ctx context.Context) ([]Record, error)
}

// IsApproved reads the current state from s. Missing records and store
// failures are both treated as "not approved".
func IsApproved(ctx context.Context, s Store, id Identity) (bool, error) {
	rec, ok, err := s.Lookup(ctx, id)
	if err != nil {
		return false, err
	}
	return ok && rec.State == Approved, nil
}
