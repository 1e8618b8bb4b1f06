package chat

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/wesh92/fastapi-websockets-llm-example/internal/llm"
)

var logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "chat"})

// Manager owns the process-wide session table. Lookups and mutations happen
// under a single mutex, which is never held across upstream or persistence
// I/O. Idle sessions are evicted by a janitor so the table cannot grow
// without bound.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	store   HistoryStore
	handler llm.Handler
	catalog *ModelCatalog
	opts    Options
}

// NewManager creates a session manager wired to the given persistence
// gateway and upstream client.
func NewManager(opts Options, store HistoryStore, handler llm.Handler) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		store:    store,
		handler:  handler,
		catalog:  NewModelCatalog(opts.Models),
		opts:     opts,
	}
}

// Attach resolves (or creates) the session for sessionID and installs the
// connection handle. A session that already has a live connection is taken
// over: the previous connection is closed, never silently duplicated. On
// first attach the persisted history is reloaded.
func (m *Manager) Attach(ctx context.Context, sessionID, connID string, sender Sender) (*Session, error) {
	for {
		m.mu.Lock()
		s, ok := m.sessions[sessionID]
		if !ok || s.isClosed() {
			s = newSession(sessionID, m.opts)
			s.pipeline = newPipeline(s, m)
			m.sessions[sessionID] = s
			go s.pipeline.run()
		}
		m.mu.Unlock()

		// History load happens outside the table lock. A failed load leaves
		// the session unloaded; the next attach retries it.
		if err := s.ensureHistory(ctx, m.store); err != nil {
			return nil, err
		}

		prev, ok := s.attach(connID, sender)
		if !ok {
			// The janitor evicted the session between lookup and attach.
			continue
		}
		if prev != nil {
			logger.Info("session taken over by new connection", "session", sessionID, "conn", connID)
			prev.Close()
		}
		return s, nil
	}
}

// Detach removes the connection handle if connID still owns it. The session
// itself stays resident until the idle TTL expires, so a reconnect resumes
// with warm state.
func (m *Manager) Detach(sessionID, connID string) {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	if s.detach(connID) {
		logger.Debug("connection detached", "session", sessionID, "conn", connID)
	}
}

// Get looks up a live session.
func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// Len reports the number of resident sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Info reports the connection state for a resident session.
func (m *Manager) Info(sessionID string) (Info, bool) {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok || s.isClosed() {
		return Info{}, false
	}
	return s.Info(), true
}

// Catalog exposes the model catalog for the metadata route.
func (m *Manager) Catalog() *ModelCatalog {
	return m.catalog
}

// Run sweeps idle sessions until ctx is cancelled. Blocking; run it on its
// own goroutine.
func (m *Manager) Run(ctx context.Context) {
	interval := m.opts.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return
		case now := <-ticker.C:
			m.evictIdle(now)
		}
	}
}

// evictIdle closes and removes sessions that have been disconnected for
// longer than the idle TTL, plus any session already closed by a transport
// failure.
func (m *Manager) evictIdle(now time.Time) {
	var victims []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		if s.isClosed() {
			delete(m.sessions, id)
			continue
		}
		if s.markClosedIfIdle(now, m.opts.SessionIdleTTL) {
			delete(m.sessions, id)
			victims = append(victims, s)
		}
	}
	m.mu.Unlock()

	for _, s := range victims {
		logger.Info("evicting idle session", "session", s.ID)
		s.release()
	}
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	victims := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		delete(m.sessions, id)
		victims = append(victims, s)
	}
	m.mu.Unlock()

	for _, s := range victims {
		s.close()
	}
}
