// ABOUTME: One assistant-reply stream: state machine, fragment buffer and teardown
// ABOUTME: Terminal transitions are idempotent and always end in exactly one reconcile

package conversation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/2389/coven-chat/internal/api"
	"github.com/2389/coven-chat/internal/sse"
)

// State is a session lifecycle state.
type State int

// Session states
const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateFinishing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateFinishing:
		return "finishing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Outcome is how a session ended.
type Outcome string

// Session outcomes
const (
	OutcomeDone      Outcome = "done"
	OutcomeError     Outcome = "error"
	OutcomeCancelled Outcome = "cancelled"
)

// Result summarises a finished session.
type Result struct {
	Outcome            Outcome
	Content            string // fragments concatenated in arrival order
	Fragments          int
	AssistantMessageID api.ID // set when the server reported one on done
	Err                error  // why the turn failed; nil for done and cancelled
	ReconcileErr       error  // failure of the post-turn refresh, if any
}

// EventSource is an open event stream.
type EventSource interface {
	Next() (sse.Event, error)
	Close() error
}

// StreamOpener opens the reply stream for a conversation.
type StreamOpener interface {
	OpenStream(ctx context.Context, conversationID api.ID) (EventSource, error)
}

// OpenerFunc adapts a function to StreamOpener.
type OpenerFunc func(ctx context.Context, conversationID api.ID) (EventSource, error)

// OpenStream calls f.
func (f OpenerFunc) OpenStream(ctx context.Context, conversationID api.ID) (EventSource, error) {
	return f(ctx, conversationID)
}

// ClientOpener opens streams through the backend client.
func ClientOpener(c *api.Client) StreamOpener {
	return OpenerFunc(func(ctx context.Context, conversationID api.ID) (EventSource, error) {
		stream, err := c.OpenStream(ctx, conversationID)
		if err != nil {
			return nil, err
		}
		return stream, nil
	})
}

// Session is a single streaming turn. Create sessions with Streamer.Begin.
type Session struct {
	id               string
	conversationID   api.ID
	store            *Store
	opener           StreamOpener
	recorder         TurnRecorder
	idleTimeout      time.Duration
	reconcileTimeout time.Duration
	logger           *slog.Logger
	startedAt        time.Time
	done             chan struct{}

	mu           sync.Mutex
	state        State
	buffer       strings.Builder
	fragments    int
	outcome      Outcome
	err          error
	reconcileErr error
	assistantID  api.ID
	cancel       context.CancelFunc
	source       EventSource
	idleTimer    *time.Timer
	endedAt      time.Time
}

// ID returns the session id. It doubles as the placeholder's local key.
func (s *Session) ID() string { return s.id }

// ConversationID returns the conversation being answered.
func (s *Session) ConversationID() api.ID { return s.conversationID }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Buffer returns the fragments received so far, concatenated.
func (s *Session) Buffer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer.String()
}

// Done is closed once the session is closed and reconciled.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session has finished or ctx ends.
func (s *Session) Wait(ctx context.Context) (Result, error) {
	select {
	case <-s.done:
		return s.Result(), nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Result returns the session's result so far. It is final once Done is closed.
func (s *Session) Result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Result{
		Outcome:            s.outcome,
		Content:            s.buffer.String(),
		Fragments:          s.fragments,
		AssistantMessageID: s.assistantID,
		Err:                s.err,
		ReconcileErr:       s.reconcileErr,
	}
}

// Cancel stops the session. When it returns the transport is closed, the
// state is closed and no further fragment will be applied. Reconciliation
// follows asynchronously; wait on Done for it. Calling Cancel on a
// finishing or closed session does nothing.
func (s *Session) Cancel() {
	s.terminate(OutcomeCancelled, nil)
}

// run drives the session from connecting to closed.
func (s *Session) run(ctx, reconcileCtx context.Context) {
	defer close(s.done)

	// Cancelling the caller's context cancels the turn even while a read is blocked
	stop := context.AfterFunc(ctx, func() { s.terminate(OutcomeCancelled, nil) })
	defer stop()

	src, err := s.opener.OpenStream(ctx, s.conversationID)
	switch {
	case err != nil && ctx.Err() != nil:
		s.terminate(OutcomeCancelled, nil)
	case err != nil:
		s.terminate(OutcomeError, err)
	case s.attach(src):
		s.consume(ctx, src)
	}

	s.finish(reconcileCtx)
}

// attach records the opened source unless the session was closed while
// connecting, in which case the source is closed and false returned.
func (s *Session) attach(src EventSource) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnecting {
		_ = src.Close()
		return false
	}
	s.source = src
	if s.idleTimeout > 0 {
		s.idleTimer = time.AfterFunc(s.idleTimeout, s.idleExpired)
	}
	return true
}

// consume reads events until a terminal transition.
func (s *Session) consume(ctx context.Context, src EventSource) {
	for {
		ev, err := src.Next()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				s.terminate(OutcomeCancelled, nil)
			case errors.Is(err, io.EOF):
				s.terminate(OutcomeError, &api.Error{Kind: api.ErrStream, Message: "stream ended before completion"})
			case errors.Is(err, api.ErrStream) || errors.Is(err, api.ErrNetwork):
				s.terminate(OutcomeError, err)
			default:
				s.terminate(OutcomeError, &api.Error{Kind: api.ErrStream, Message: "reading stream", Cause: err})
			}
			return
		}
		if !s.handle(ev) {
			return
		}
	}
}

// handle applies one event and reports whether reading should continue.
func (s *Session) handle(ev sse.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateConnecting && s.state != StateStreaming {
		return false
	}
	if s.state == StateConnecting {
		s.setStateLocked(StateStreaming)
	}
	if s.idleTimer != nil {
		s.idleTimer.Reset(s.idleTimeout)
	}

	switch ev.Name {
	case api.EventToken:
		fragment, ok := api.DecodeToken(ev.Data)
		if !ok {
			s.logger.Warn("unparsable token payload")
		}
		s.buffer.WriteString(fragment)
		s.fragments++
		s.store.appendFragment(s.conversationID, s.id, fragment)

	case api.EventDone:
		s.assistantID = api.DecodeDone(ev.Data)
		s.outcome = OutcomeDone
		s.setStateLocked(StateFinishing)
		s.releaseLocked()
		return false

	case api.EventError:
		s.outcome = OutcomeError
		s.err = &api.Error{Kind: api.ErrStream, Message: api.DecodeStreamError(ev.Data)}
		s.setStateLocked(StateClosed)
		s.releaseLocked()
		return false

	default:
		// meta and unknown events carry nothing to apply
		s.logger.Debug("ignoring stream event", "event", ev.Name)
	}
	return true
}

// idleExpired fires when no event arrived within the idle timeout.
func (s *Session) idleExpired() {
	if s.terminate(OutcomeError, &api.Error{Kind: api.ErrStream, Message: "stream idle timeout"}) {
		s.logger.Warn("stream idle timeout", "timeout", s.idleTimeout)
	}
}

// terminate moves a connecting or streaming session to closed. It reports
// whether this call performed the transition; later calls are no-ops.
func (s *Session) terminate(outcome Outcome, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle && s.state != StateConnecting && s.state != StateStreaming {
		return false
	}
	s.outcome = outcome
	s.err = err
	s.setStateLocked(StateClosed)
	s.releaseLocked()
	return true
}

// releaseLocked stops the idle timer and closes the transport.
func (s *Session) releaseLocked() {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	if s.source != nil {
		_ = s.source.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Session) setStateLocked(state State) {
	s.state = state
	s.store.publish(Change{
		Kind:           ChangeSession,
		ConversationID: s.conversationID,
		SessionID:      s.id,
		State:          state,
	})
}

// finish reconciles with the server, closes a finishing session and
// records the turn.
func (s *Session) finish(reconcileCtx context.Context) {
	ctx, cancel := context.WithTimeout(reconcileCtx, s.reconcileTimeout)
	defer cancel()

	rerr := s.store.reconcile(ctx, s.conversationID, s.id)
	if rerr != nil {
		s.logger.Warn("reconcile after turn failed", "conversation_id", s.conversationID, "error", rerr)
	}

	s.mu.Lock()
	if s.state == StateFinishing {
		s.setStateLocked(StateClosed)
	}
	s.reconcileErr = rerr
	s.endedAt = time.Now()
	rec := TurnRecord{
		SessionID:      s.id,
		ConversationID: s.conversationID,
		Outcome:        s.outcome,
		Fragments:      s.fragments,
		Bytes:          s.buffer.Len(),
		StartedAt:      s.startedAt,
		EndedAt:        s.endedAt,
	}
	if s.err != nil {
		rec.Error = s.err.Error()
	}
	s.mu.Unlock()

	s.logger.Info("turn finished",
		"conversation_id", s.conversationID,
		"outcome", rec.Outcome,
		"fragments", rec.Fragments,
		"duration", rec.EndedAt.Sub(rec.StartedAt))

	if s.recorder != nil {
		if err := s.recorder.RecordTurn(ctx, rec); err != nil {
			s.logger.Warn("recording turn failed", "error", err)
		}
	}
}
