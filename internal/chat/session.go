package chat

import (
	"context"
	"sync"
	"time"
)

// Session holds the live state for one conversation: in-memory history, the
// connection handle while attached, and the owned limiter and queue. At most
// one sender is attached at any time; a reconnect with the same session
// identifier takes over and closes the previous connection.
type Session struct {
	ID string

	mu           sync.Mutex
	history      []Turn
	loaded       bool
	sender       Sender
	connID       string
	connectedAt  time.Time
	lastActivity time.Time
	messageCount int
	closed       bool
	streamCancel context.CancelFunc // cancels the in-flight upstream call

	bucket *TokenBucket
	queue  *MessageQueue

	ctx    context.Context
	cancel context.CancelFunc

	pipeline *Pipeline
}

func newSession(id string, opts Options) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:           id,
		bucket:       NewTokenBucket(opts.BucketCapacity, opts.RefillRate),
		queue:        NewMessageQueue(opts.QueueCapacity),
		lastActivity: time.Now(),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Submit routes an inbound request through the session's pipeline.
func (s *Session) Submit(req ChatRequest) (string, error) {
	return s.pipeline.Submit(req)
}

// History returns a copy of the in-memory conversation history.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}

// Info is a point-in-time readout of a session's connection state.
type Info struct {
	SessionID    string    `json:"session_id"`
	Connected    bool      `json:"connected"`
	ConnectedAt  time.Time `json:"connected_at,omitzero"`
	LastActivity time.Time `json:"last_activity"`
	MessageCount int       `json:"message_count"`
	HistoryLen   int       `json:"history_len"`
}

// Info reports the session's current connection state.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{
		SessionID:    s.ID,
		Connected:    s.sender != nil,
		LastActivity: s.lastActivity,
		MessageCount: s.messageCount,
		HistoryLen:   len(s.history),
	}
	if info.Connected {
		info.ConnectedAt = s.connectedAt
	}
	return info
}

// ensureHistory loads the persisted history on the session's first
// successful attach. A failed load leaves the session unloaded so the next
// attach retries instead of silently serving an empty history.
func (s *Session) ensureHistory(ctx context.Context, store HistoryStore) error {
	s.mu.Lock()
	if s.loaded {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	turns, err := store.Load(ctx, s.ID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if !s.loaded {
		s.history = turns
		s.loaded = true
	}
	s.mu.Unlock()
	return nil
}

// attach installs the connection handle, returning the previous sender so
// the caller can close it (takeover policy). Fails on a closed session: the
// caller must resolve a fresh one.
func (s *Session) attach(connID string, sender Sender) (Sender, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	prev := s.sender
	s.sender = sender
	s.connID = connID
	s.connectedAt = time.Now()
	s.lastActivity = time.Now()
	return prev, true
}

// detach removes the connection handle if connID still owns it, and cancels
// any in-flight upstream call so no fragment is produced for a connection
// that is gone. A stale connID (already taken over) is a no-op.
func (s *Session) detach(connID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connID != connID {
		return false
	}
	s.sender = nil
	s.connID = ""
	s.lastActivity = time.Now()
	if s.streamCancel != nil {
		s.streamCancel()
	}
	return true
}

func (s *Session) attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sender != nil
}

// admit spends tokens from the session's bucket. Guarded by the session lock
// so a takeover cannot race the old reader.
func (s *Session) admit(cost float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	return s.bucket.Admit(cost)
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.messageCount++
	s.mu.Unlock()
}

func (s *Session) appendTurn(turn Turn) {
	s.mu.Lock()
	s.history = append(s.history, turn)
	s.mu.Unlock()
}

// send relays a frame to the attached connection. Frames are dropped while
// detached; only a failing write on a live connection is a transport error.
func (s *Session) send(frame Frame) error {
	s.mu.Lock()
	sender := s.sender
	s.mu.Unlock()
	if sender == nil {
		return nil
	}
	return sender.Send(frame)
}

func (s *Session) setStreamCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	s.streamCancel = cancel
	s.mu.Unlock()
}

// close releases the session's resources: the queue is half-closed so the
// drain loop exits and producers fail fast, and the session context is
// cancelled.
func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sender := s.sender
	s.sender = nil
	s.mu.Unlock()

	s.queue.Close()
	s.cancel()
	if sender != nil {
		sender.Close()
	}
}

// markClosedIfIdle closes the session when it has no connection and has been
// idle past ttl. The decision and the closed flag are set under the same
// lock attach checks, so an attach cannot slip in between them; resource
// teardown happens in release, outside the manager's table lock.
func (s *Session) markClosedIfIdle(now time.Time, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.sender != nil || now.Sub(s.lastActivity) <= ttl {
		return false
	}
	s.closed = true
	return true
}

// release tears down the queue and context of an already-closed session.
func (s *Session) release() {
	s.queue.Close()
	s.cancel()
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
