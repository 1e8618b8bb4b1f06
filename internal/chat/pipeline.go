package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wesh92/fastapi-websockets-llm-example/internal/llm"
)

// Persistence outlives the upstream deadline so a timed-out exchange is
// still recorded.
const persistTimeout = 10 * time.Second

// errTransportWrite marks a failed write to the live connection. Unlike
// upstream errors it is fatal to the session.
var errTransportWrite = errors.New("transport write failed")

// Pipeline orchestrates one session's message flow: rate-limit check,
// enqueue, serialized drain, upstream streaming, fragment relay, and
// persistence of the completed exchange. Exactly one upstream call is in
// flight per session at any time.
type Pipeline struct {
	sess    *Session
	store   HistoryStore
	handler llm.Handler
	catalog *ModelCatalog
	opts    Options
}

func newPipeline(s *Session, m *Manager) *Pipeline {
	return &Pipeline{
		sess:    s,
		store:   m.store,
		handler: m.handler,
		catalog: m.catalog,
		opts:    m.opts,
	}
}

// Submit validates an inbound request, spends rate-limit tokens, and
// enqueues the message. Called from the connection read loop; never blocks.
// The returned ID identifies the message in subsequent frames.
func (p *Pipeline) Submit(req ChatRequest) (string, error) {
	if p.sess.isClosed() {
		return "", ErrSessionClosed
	}

	content := strings.TrimSpace(req.Message)
	if content == "" {
		return "", ErrMalformedRequest
	}

	model := req.Model
	if model == "" {
		model = p.opts.DefaultModel
	}
	if !p.catalog.Known(model) {
		return "", fmt.Errorf("%w: %q", ErrInvalidModel, model)
	}

	if !p.sess.admit(p.opts.MessageCost) {
		return "", ErrRateLimited
	}

	if p.sess.queue.Len() >= p.opts.QueueCapacity {
		return "", ErrQueueFull
	}

	msg := PendingMessage{
		ID:         uuid.NewString(),
		Content:    content,
		Model:      model,
		EnqueuedAt: time.Now(),
	}

	// Acknowledged before enqueueing so the ack always precedes the first
	// fragment for this message.
	p.sess.send(Frame{
		Type:    FrameMessageReceived,
		EventID: msg.ID,
		Data: map[string]interface{}{
			"message_id": msg.ID,
			"timestamp":  time.Now().Format(time.RFC3339),
		},
	})

	if err := p.sess.queue.Enqueue(msg); err != nil {
		return "", err
	}
	p.sess.touch()
	return msg.ID, nil
}

// run is the drain loop. It exits when the session's queue is closed or its
// context cancelled.
func (p *Pipeline) run() {
	for {
		msg, err := p.sess.queue.Dequeue(p.sess.ctx)
		if err != nil {
			return
		}
		p.process(msg)
	}
}

// process handles exactly one dequeued message end to end. A failed message
// does not stop the session; only a transport write failure does.
func (p *Pipeline) process(msg PendingMessage) {
	start := time.Now()

	userTurn := Turn{Role: RoleUser, Content: msg.Content, CreatedAt: time.Now()}
	p.sess.appendTurn(userTurn)

	text, streamErr := p.relay(msg)

	toPersist := []Turn{userTurn}
	if streamErr == nil || text != "" {
		// Partial output survives a failed stream, with the failure marked.
		assistantTurn := Turn{
			Role:      RoleAssistant,
			Content:   text,
			Failed:    streamErr != nil,
			CreatedAt: time.Now(),
		}
		p.sess.appendTurn(assistantTurn)
		toPersist = append(toPersist, assistantTurn)
	}

	persistErr := p.persist(toPersist)

	if errors.Is(streamErr, errTransportWrite) {
		logger.Warn("transport write failed, shutting down session",
			"session", p.sess.ID, "message", msg.ID, "err", streamErr)
		p.sess.close()
		return
	}

	switch {
	case streamErr != nil:
		logger.Error("upstream stream failed",
			"session", p.sess.ID, "message", msg.ID, "model", msg.Model, "err", streamErr)
		p.sess.send(ErrorFrame(streamErr, msg.ID))
	case persistErr != nil:
		logger.Error("failed to persist exchange",
			"session", p.sess.ID, "message", msg.ID, "err", persistErr)
		p.sess.send(Frame{
			Type:    FrameError,
			Error:   "failed to store the exchange, conversation continues in memory",
			EventID: msg.ID,
			Data:    map[string]interface{}{"kind": KindPersistenceError},
		})
	default:
		p.sess.send(Frame{
			Type:    FrameDone,
			EventID: msg.ID,
			Data: map[string]interface{}{
				"message_id":         msg.ID,
				"message":            text,
				"processing_time_ms": float64(time.Since(start).Microseconds()) / 1000.0,
				"timestamp":          time.Now().Format(time.RFC3339),
			},
		})
	}
}

// relay issues the upstream streaming call and forwards each fragment to the
// connection as it arrives, accumulating the full text. The call carries the
// configured timeout and is cancelled when the connection detaches.
func (p *Pipeline) relay(msg PendingMessage) (string, error) {
	ctx, cancel := context.WithTimeout(p.sess.ctx, p.opts.UpstreamTimeout)
	defer cancel()
	p.sess.setStreamCancel(cancel)
	defer p.sess.setStreamCancel(nil)

	stream, err := p.handler.StreamChat(ctx, p.upstreamMessages(), msg.Model)
	if err != nil {
		return "", p.classify(ctx, err)
	}
	defer stream.Close()

	var full strings.Builder
	for {
		frag, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return full.String(), nil
		}
		if err != nil {
			return full.String(), p.classify(ctx, err)
		}
		full.WriteString(frag)

		if err := p.sess.send(Frame{Type: FrameFragment, Data: frag, EventID: msg.ID}); err != nil {
			return full.String(), fmt.Errorf("%w: %v", errTransportWrite, err)
		}
	}
}

// classify folds context expiry into the upstream error taxonomy.
func (p *Pipeline) classify(ctx context.Context, err error) error {
	var ue *llm.Error
	if errors.As(err, &ue) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return &llm.Error{Kind: llm.KindTimeout, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &llm.Error{Kind: llm.KindTransport, Err: err}
	}
	return &llm.Error{Kind: llm.KindUnknown, Err: err}
}

// persist durably appends the exchange in order. The drain loop does not
// pick up the next message until this returns.
func (p *Pipeline) persist(turns []Turn) error {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	for _, turn := range turns {
		if err := p.store.Append(ctx, p.sess.ID, turn); err != nil {
			return err
		}
	}
	return nil
}

// upstreamMessages converts the session history into the provider message
// shape. Assistant turns that failed are skipped so broken partial output is
// not replayed as model context.
func (p *Pipeline) upstreamMessages() []llm.Message {
	history := p.sess.History()
	out := make([]llm.Message, 0, len(history))
	for _, turn := range history {
		if turn.Failed || turn.Content == "" {
			continue
		}
		out = append(out, llm.Message{Role: string(turn.Role), Content: turn.Content})
	}
	return out
}
