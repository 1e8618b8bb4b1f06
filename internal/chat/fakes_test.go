package chat

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/wesh92/fastapi-websockets-llm-example/internal/llm"
)

// eventLog records the interleaving of upstream calls and persistence so
// tests can assert serialization ordering.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *eventLog) indexOf(event string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.events {
		if e == event {
			return i
		}
	}
	return -1
}

// fakeSender collects frames in memory.
type fakeSender struct {
	mu     sync.Mutex
	frames []Frame
	closed bool
	fail   bool // make Send return an error
}

func (f *fakeSender) Send(frame Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return io.ErrClosedPipe
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeSender) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSender) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeSender) all() []Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Frame(nil), f.frames...)
}

func (f *fakeSender) byType(frameType string) []Frame {
	var out []Frame
	for _, fr := range f.all() {
		if fr.Type == frameType {
			out = append(out, fr)
		}
	}
	return out
}

// fakeStore is an in-memory HistoryStore.
type fakeStore struct {
	mu      sync.Mutex
	turns   map[string][]Turn
	log     *eventLog
	failure error // returned from Append when set
	loadErr error // returned from Load when set
	delay   time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{turns: make(map[string][]Turn)}
}

func (s *fakeStore) Append(ctx context.Context, sessionID string, turn Turn) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failure != nil {
		return s.failure
	}
	s.turns[sessionID] = append(s.turns[sessionID], turn)
	if s.log != nil {
		s.log.add("persist:" + string(turn.Role) + ":" + turn.Content)
	}
	return nil
}

func (s *fakeStore) Load(ctx context.Context, sessionID string) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return append([]Turn(nil), s.turns[sessionID]...), nil
}

func (s *fakeStore) persisted(sessionID string) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.turns[sessionID]...)
}

// fakeHandler produces scripted fragment streams and tracks concurrency.
type fakeHandler struct {
	mu        sync.Mutex
	fragments []string
	finalErr  error         // stream fails with this after the fragments
	callErr   error         // StreamChat itself fails
	hold      chan struct{} // when set, the stream stalls before finishing
	log       *eventLog

	calls     int
	active    int
	maxActive int
}

func (h *fakeHandler) StreamChat(ctx context.Context, messages []llm.Message, model string) (llm.Stream, error) {
	h.mu.Lock()
	h.calls++
	if h.callErr != nil {
		err := h.callErr
		h.mu.Unlock()
		return nil, err
	}
	h.active++
	if h.active > h.maxActive {
		h.maxActive = h.active
	}
	stream := &fakeStream{
		ctx:       ctx,
		handler:   h,
		fragments: append([]string(nil), h.fragments...),
		finalErr:  h.finalErr,
		hold:      h.hold,
	}
	h.mu.Unlock()

	if h.log != nil && len(messages) > 0 {
		h.log.add("stream:" + messages[len(messages)-1].Content)
	}
	return stream, nil
}

func (h *fakeHandler) stats() (calls, maxActive int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls, h.maxActive
}

type fakeStream struct {
	ctx       context.Context
	handler   *fakeHandler
	fragments []string
	idx       int
	finalErr  error
	hold      chan struct{}
	closeOnce sync.Once
}

func (s *fakeStream) Recv() (string, error) {
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	if s.idx < len(s.fragments) {
		frag := s.fragments[s.idx]
		s.idx++
		return frag, nil
	}
	if s.hold != nil {
		select {
		case <-s.hold:
		case <-s.ctx.Done():
			return "", s.ctx.Err()
		}
	}
	if s.finalErr != nil {
		return "", s.finalErr
	}
	return "", io.EOF
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() {
		s.handler.mu.Lock()
		s.handler.active--
		s.handler.mu.Unlock()
	})
	return nil
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// testOptions returns pipeline knobs suited to fast tests.
func testOptions() Options {
	opts := DefaultOptions()
	opts.BucketCapacity = 5
	opts.RefillRate = 0.001
	opts.MessageCost = 1
	opts.QueueCapacity = 4
	opts.UpstreamTimeout = 2 * time.Second
	opts.DefaultModel = "m1"
	opts.Models = []string{"m1", "m2"}
	opts.SessionIdleTTL = 50 * time.Millisecond
	opts.SweepInterval = 10 * time.Millisecond
	return opts
}
