package session

import (
	"sync/atomic"
	"time"
)

// Flag is a session's cancellation signal. It is set by Cancel and cleared
// when the session's next request begins.
type Flag struct {
	cancelled atomic.Bool
}

// Cancel sets the flag.
func (f *Flag) Cancel() { f.cancelled.Store(true) }

// Reset clears the flag.
func (f *Flag) Reset() { f.cancelled.Store(false) }

// Cancelled reports whether the flag is set.
func (f *Flag) Cancelled() bool { return f.cancelled.Load() }

// Session is one logical agent conversation. At most one request per
// session is in flight at a time.
type Session struct {
	id   string
	flag Flag

	// slot holds a token while a request is in flight.
	slot chan struct{}

	// Guarded by Manager.mu.
	mode      string
	since     time.Time
	requests  int
	lastEnded time.Time
}
