package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultID is the session used by callers that do not track conversations.
const DefaultID = "default"

// StatusInfo describes the current state of a session.
type StatusInfo struct {
	Exists    bool
	Active    bool
	Mode      string
	Since     time.Time
	Requests  int
	LastEnded time.Time
}

// Manager maps session ids to cancellation flags and serializes requests
// within each session.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates an empty registry.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Begin claims the session for one request, waiting while another request
// of the same session is in flight. The session's flag is cleared before
// Begin returns, so a cancel aimed at an earlier request never reaches this
// one. release must be called exactly once when the request ends.
func (m *Manager) Begin(ctx context.Context, id, mode string) (*Flag, func(), error) {
	sess := m.getOrCreate(id)

	select {
	case sess.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, fmt.Errorf("wait for session %s: %w", id, ctx.Err())
	}

	sess.flag.Reset()

	m.mu.Lock()
	sess.mode = mode
	sess.since = time.Now()
	sess.requests++
	m.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			m.mu.Lock()
			sess.mode = ""
			sess.since = time.Time{}
			sess.lastEnded = time.Now()
			m.mu.Unlock()
			<-sess.slot
			slog.Debug("session request ended", "session", sess.id)
		})
	}
	return &sess.flag, release, nil
}

// Cancel sets the session's flag and reports whether a request was in
// flight. Cancelling an idle session has no effect on its next request.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	active := ok && !sess.since.IsZero()
	m.mu.Unlock()

	if !ok {
		return false
	}
	sess.flag.Cancel()
	slog.Info("session cancel requested", "session", id, "active", active)
	return active
}

// CancelAll sets every session's flag.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, sess := range m.sessions {
		if !sess.since.IsZero() {
			slog.Info("cancelling session", "session", id, "mode", sess.mode)
		}
		sess.flag.Cancel()
	}
}

// Status returns the current state of a session.
func (m *Manager) Status(id string) StatusInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return StatusInfo{}
	}
	return StatusInfo{
		Exists:    true,
		Active:    !sess.since.IsZero(),
		Mode:      sess.mode,
		Since:     sess.since,
		Requests:  sess.requests,
		LastEnded: sess.lastEnded,
	}
}

func (m *Manager) getOrCreate(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, ok := m.sessions[id]; ok {
		return sess
	}
	sess := &Session{id: id, slot: make(chan struct{}, 1)}
	m.sessions[id] = sess
	slog.Debug("session created", "session", id)
	return sess
}
