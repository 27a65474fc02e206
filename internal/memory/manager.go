// Package memory owns per-session conversational state. The manager's
// session map is the sole owner of every session; everything else works
// with clones, so eviction never invalidates a caller's data.
package memory

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"souschef/internal/models"
)

// EvictFunc receives a session as it leaves the manager (idle sweep or
// explicit close), e.g. to archive the transcript.
type EvictFunc func(session *models.Session)

type entry struct {
	session *models.Session
	refs    int
	closed  bool
	// gate serializes request handling for one session id. Runtime wait
	// queues are FIFO, so concurrent requests proceed in arrival order.
	gate chan struct{}
}

// Manager tracks live sessions with reference-counted scoped handles.
// A session is only evictable when no handles are outstanding.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*entry
	ttl      time.Duration
	onEvict  EvictFunc

	sweeps  int64
	evicted int64
}

// NewManager creates a manager. onEvict may be nil.
func NewManager(ttl time.Duration, onEvict EvictFunc) *Manager {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Manager{
		sessions: make(map[string]*entry),
		ttl:      ttl,
		onEvict:  onEvict,
	}
}

// Handle is a scoped acquisition of one session. Callers must Release
// on every exit path; Release is idempotent so `defer h.Release()` is
// always safe.
type Handle struct {
	mgr     *Manager
	id      string
	ent     *entry
	release sync.Once
}

// Acquire locks a session for exclusive request handling, creating it on
// first use. Blocks while another request for the same session id is in
// flight; respects ctx cancellation while waiting.
func (m *Manager) Acquire(ctx context.Context, sessionID string) (*Handle, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}

	m.mu.Lock()
	ent, ok := m.sessions[sessionID]
	if !ok {
		now := time.Now()
		ent = &entry{
			session: &models.Session{
				ID:           sessionID,
				Preferences:  make(map[string]string),
				LastActivity: now,
				CreatedAt:    now,
			},
			gate: make(chan struct{}, 1),
		}
		m.sessions[sessionID] = ent
		log.Printf("🆕 [MEMORY] Created session %s", sessionID)
	}
	ent.refs++
	m.mu.Unlock()

	select {
	case ent.gate <- struct{}{}:
		return &Handle{mgr: m, id: sessionID, ent: ent}, nil
	case <-ctx.Done():
		m.mu.Lock()
		ent.refs--
		m.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Release ends the scoped acquisition. Safe to call more than once.
func (h *Handle) Release() {
	h.release.Do(func() {
		<-h.ent.gate

		h.mgr.mu.Lock()
		h.ent.refs--
		remove := h.ent.closed && h.ent.refs == 0
		var victim *models.Session
		if remove {
			victim = h.ent.session
			delete(h.mgr.sessions, h.id)
		}
		h.mgr.mu.Unlock()

		if victim != nil && h.mgr.onEvict != nil {
			h.mgr.onEvict(victim)
		}
	})
}

// Append adds a message to the session transcript. Messages are
// append-only and totally ordered by insertion.
func (h *Handle) Append(msg models.Message) models.Message {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	h.mgr.mu.Lock()
	h.ent.session.Messages = append(h.ent.session.Messages, msg)
	h.ent.session.LastActivity = time.Now()
	h.mgr.mu.Unlock()
	return msg
}

// Snapshot returns a read-only copy of the session for agents
func (h *Handle) Snapshot() *models.Session {
	h.mgr.mu.Lock()
	defer h.mgr.mu.Unlock()
	return h.ent.session.Clone()
}

// SetPreference records a key/value preference on the session
func (h *Handle) SetPreference(key, value string) {
	h.mgr.mu.Lock()
	h.ent.session.Preferences[key] = value
	h.ent.session.LastActivity = time.Now()
	h.mgr.mu.Unlock()
}

// Snapshot returns a copy of a session without serializing against
// in-flight requests, or nil if the session does not exist.
func (m *Manager) Snapshot(sessionID string) *models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ent, ok := m.sessions[sessionID]; ok {
		return ent.session.Clone()
	}
	return nil
}

// Close evicts a session explicitly. If handles are outstanding the
// session is removed when the last one releases.
func (m *Manager) Close(sessionID string) bool {
	m.mu.Lock()
	ent, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return false
	}
	var victim *models.Session
	if ent.refs == 0 {
		victim = ent.session
		delete(m.sessions, sessionID)
	} else {
		ent.closed = true
	}
	m.mu.Unlock()

	if victim != nil && m.onEvict != nil {
		m.onEvict(victim)
	}
	return true
}

// Sweep evicts sessions idle past the TTL. Sessions with outstanding
// handles are skipped, never torn out from under an in-flight request.
// Returns the number of sessions evicted.
func (m *Manager) Sweep() int {
	cutoff := time.Now().Add(-m.ttl)

	m.mu.Lock()
	var victims []*models.Session
	for id, ent := range m.sessions {
		if ent.refs == 0 && ent.session.LastActivity.Before(cutoff) {
			victims = append(victims, ent.session)
			delete(m.sessions, id)
		}
	}
	m.sweeps++
	m.evicted += int64(len(victims))
	m.mu.Unlock()

	for _, s := range victims {
		if m.onEvict != nil {
			m.onEvict(s)
		}
	}
	if len(victims) > 0 {
		log.Printf("🧹 [MEMORY] Swept %d idle sessions", len(victims))
	}
	return len(victims)
}

// CloseAll evicts every session, flushing each through onEvict. Used at
// shutdown; sessions with outstanding handles are marked and flushed
// when the last handle releases.
func (m *Manager) CloseAll() int {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Close(id)
	}
	return len(ids)
}

// Stats reports manager counters for the health endpoint
type Stats struct {
	ActiveSessions int   `json:"active_sessions"`
	Sweeps         int64 `json:"sweeps"`
	Evicted        int64 `json:"evicted"`
}

// Stats returns current counters
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		ActiveSessions: len(m.sessions),
		Sweeps:         m.sweeps,
		Evicted:        m.evicted,
	}
}
