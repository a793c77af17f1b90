// Package policy decides which messages qualify as "new" for a poll cycle.
//
// Server-side search narrows the candidate set; the authoritative cutoff
// for windowed accounts is always the client-side InWindow check against
// the parsed message time, because server date filters only have day
// granularity.
package policy

import (
	"fmt"
	"time"

	"github.com/ylr9527/mail-wx/internal/mailbox"
)

// Kind selects a candidate-selection strategy.
type Kind int

const (
	// Unread forwards every message currently flagged unread.
	Unread Kind = iota
	// UnreadWindowed forwards unread messages received within the
	// configured window; older unread mail is consumed silently.
	UnreadWindowed
)

// Strategy is a tagged variant: Kind plus the window for UnreadWindowed.
type Strategy struct {
	Kind   Kind
	Window time.Duration
}

// ParseKind maps a configuration string to a strategy kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "unread":
		return Unread, nil
	case "unread_window":
		return UnreadWindowed, nil
	default:
		return 0, fmt.Errorf("unknown strategy %q", s)
	}
}

// Criteria builds the server-side search for this strategy. For windowed
// accounts Since is floored to the start of the cutoff day, since servers
// ignore the time-of-day component anyway.
func (s Strategy) Criteria(now time.Time) mailbox.Criteria {
	c := mailbox.Criteria{UnseenOnly: true}
	if s.Kind == UnreadWindowed {
		cutoff := now.Add(-s.Window).UTC()
		c.Since = time.Date(cutoff.Year(), cutoff.Month(), cutoff.Day(), 0, 0, 0, 0, time.UTC)
	}
	return c
}

// InWindow reports whether a message received at receivedAt should still
// be forwarded. Messages outside the window are consumed without
// notification; they are too old to care about, not an error.
func (s Strategy) InWindow(receivedAt, now time.Time) bool {
	if s.Kind != UnreadWindowed {
		return true
	}
	return now.Sub(receivedAt) <= s.Window
}
