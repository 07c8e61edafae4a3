// ABOUTME: Streamer owns the single live session and starts new turns
// ABOUTME: Beginning a turn or leaving its conversation cancels the previous session

package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/2389/coven-chat/internal/api"
)

// DefaultReconcileTimeout bounds the post-turn refresh.
const DefaultReconcileTimeout = 30 * time.Second

// TurnRecord describes a finished turn for the local journal.
type TurnRecord struct {
	SessionID      string
	ConversationID api.ID
	Outcome        Outcome
	Fragments      int
	Bytes          int
	Error          string
	StartedAt      time.Time
	EndedAt        time.Time
}

// TurnRecorder persists finished turns.
type TurnRecorder interface {
	RecordTurn(ctx context.Context, rec TurnRecord) error
}

// StreamerOption configures a Streamer.
type StreamerOption func(*Streamer)

// WithIdleTimeout closes a stream that stays silent for d. Zero disables it.
func WithIdleTimeout(d time.Duration) StreamerOption {
	return func(m *Streamer) { m.idleTimeout = d }
}

// WithReconcileTimeout bounds the refresh that follows every turn.
func WithReconcileTimeout(d time.Duration) StreamerOption {
	return func(m *Streamer) {
		if d > 0 {
			m.reconcileTimeout = d
		}
	}
}

// WithTurnRecorder records every finished turn.
func WithTurnRecorder(r TurnRecorder) StreamerOption {
	return func(m *Streamer) { m.recorder = r }
}

// Streamer runs assistant-reply streams against a Store. At most one
// session is live at a time.
type Streamer struct {
	store            *Store
	opener           StreamOpener
	recorder         TurnRecorder
	idleTimeout      time.Duration
	reconcileTimeout time.Duration
	logger           *slog.Logger

	mu      sync.Mutex
	current *Session
}

// NewStreamer creates a streamer for store. Pass nil logger for default.
func NewStreamer(store *Store, opener StreamOpener, logger *slog.Logger, opts ...StreamerOption) *Streamer {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Streamer{
		store:            store,
		opener:           opener,
		reconcileTimeout: DefaultReconcileTimeout,
		logger:           logger.With("component", "streamer"),
	}
	for _, opt := range opts {
		opt(m)
	}
	store.addLeaveHook(m.leave)
	return m
}

// Begin starts the assistant reply for the active conversation's trailing
// user message. Any previous session is cancelled first. A placeholder
// assistant message is appended before the stream is opened in the
// background. Begin fails with ErrNotActive when conversationID is not the
// active conversation.
//
// ctx bounds the stream; cancelling it cancels the session. The
// reconciliation that follows is bounded by the reconcile timeout only.
func (m *Streamer) Begin(ctx context.Context, conversationID api.ID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		m.current.Cancel()
	}

	sess := &Session{
		id:               ulid.Make().String(),
		conversationID:   conversationID,
		store:            m.store,
		opener:           m.opener,
		recorder:         m.recorder,
		idleTimeout:      m.idleTimeout,
		reconcileTimeout: m.reconcileTimeout,
		startedAt:        time.Now(),
		done:             make(chan struct{}),
		state:            StateIdle,
	}
	sess.logger = m.logger.With("session_id", sess.id)

	if err := m.store.startPending(conversationID, sess.id); err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(ctx)
	sess.mu.Lock()
	sess.cancel = cancel
	sess.setStateLocked(StateConnecting)
	sess.mu.Unlock()

	m.current = sess
	go sess.run(sctx, context.WithoutCancel(ctx))

	m.logger.Debug("turn started", "session_id", sess.id, "conversation_id", conversationID)
	return sess, nil
}

// Current returns the most recently started session, if any.
func (m *Streamer) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Cancel cancels the current session, if any.
func (m *Streamer) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.current.Cancel()
	}
}

// leave cancels the live session when its conversation stops being active.
func (m *Streamer) leave(conversationID api.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && m.current.conversationID == conversationID {
		m.current.Cancel()
	}
}
