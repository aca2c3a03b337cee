package access_test

import (
	"context"
	"errors"
	"testing"

	"github.com/zahareus/telegram-transcriber-bot/access"
	"github.com/zahareus/telegram-transcriber-bot/access/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) access.Store {
		return access.NewMemoryStore()
	})
}

func TestMemoryStoreRejectsInvalidDecision(t *testing.T) {
	s := access.NewMemoryStore()
	s.BeginRequest(context.Background(), 1, access.Profile{})

	_, _, err := s.Resolve(context.Background(), 1, access.Decision(0))
	if !errors.Is(err, access.ErrInvalidDecision) {
		t.Fatalf("err = %v, want ErrInvalidDecision", err)
	}
	rec, _, _ := s.Lookup(context.Background(), 1)
	if rec.State != access.Pending {
		t.Errorf("state = %s, want pending", rec.State)
	}
}

func TestParseIdentity(t *testing.T) {
	tests := []struct {
		in      string
		want    access.Identity
		wantErr bool
	}{
		{"42", 42, false},
		{" 7 ", 7, false},
		{"9223372036854775807", 9223372036854775807, false},
		{"", 0, true},
		{"abc", 0, true},
		{"-5", 0, true},
		{"0", 0, true},
		{"4.2", 0, true},
		{"99999999999999999999", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := access.ParseIdentity(tt.in)
			if tt.wantErr {
				if !errors.Is(err, access.ErrInvalidIdentity) {
					t.Fatalf("ParseIdentity(%q) err = %v, want ErrInvalidIdentity", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseIdentity(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseIdentity(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestProfileDisplayName(t *testing.T) {
	tests := []struct {
		name string
		p    access.Profile
		want string
	}{
		{"full", access.Profile{FirstName: "Ivan", LastName: "Franko", Username: "ivan"}, "Ivan Franko"},
		{"first only", access.Profile{FirstName: "Ivan"}, "Ivan"},
		{"handle fallback", access.Profile{Username: "ivan"}, "@ivan"},
		{"empty", access.Profile{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.DisplayName(); got != tt.want {
				t.Errorf("DisplayName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsApproved(t *testing.T) {
	ctx := context.Background()
	s := access.NewMemoryStore()

	check := func(id access.Identity, want bool) {
		t.Helper()
		got, err := access.IsApproved(ctx, s, id)
		if err != nil {
			t.Fatalf("IsApproved(%d): %v", id, err)
		}
		if got != want {
			t.Errorf("IsApproved(%d) = %v, want %v", id, got, want)
		}
	}

	check(1, false)
	s.BeginRequest(ctx, 1, access.Profile{})
	check(1, false)
	s.Resolve(ctx, 1, access.Approve)
	check(1, true)

	s.BeginRequest(ctx, 2, access.Profile{})
	s.Resolve(ctx, 2, access.Reject)
	check(2, false)
}
