// ABOUTME: Tests for stream sessions driven by scripted event sources
// ABOUTME: Covers every terminal path, cancellation and single reconciliation

package conversation

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/api"
)

// recordingRecorder collects recorded turns.
type recordingRecorder struct {
	mu    sync.Mutex
	turns []TurnRecord
}

func (r *recordingRecorder) RecordTurn(ctx context.Context, rec TurnRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, rec)
	return nil
}

func (r *recordingRecorder) all() []TurnRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TurnRecord(nil), r.turns...)
}

// streamFixture wires a fake backend, store, opener and streamer with one
// active conversation whose last message is from the user.
type streamFixture struct {
	api      *fakeAPI
	store    *Store
	opener   *scriptedOpener
	streamer *Streamer
	recorder *recordingRecorder
}

func newStreamFixture(t *testing.T, opts ...StreamerOption) *streamFixture {
	t.Helper()
	f := newFakeAPI()
	f.seed("1", "Chat", userMsg("10", "hi"))
	f.seed("2", "Other")
	store := NewStore(f, nil)
	t.Cleanup(store.Close)
	require.NoError(t, store.SetActiveConversation(t.Context(), "1"))

	opener := newScriptedOpener()
	rec := &recordingRecorder{}
	opts = append([]StreamerOption{WithTurnRecorder(rec)}, opts...)
	return &streamFixture{
		api:      f,
		store:    store,
		opener:   opener,
		streamer: NewStreamer(store, opener, nil, opts...),
		recorder: rec,
	}
}

func (fx *streamFixture) begin(t *testing.T) (*Session, *scriptedSource) {
	t.Helper()
	sess, err := fx.streamer.Begin(t.Context(), "1")
	require.NoError(t, err)
	return sess, fx.opener.next(t)
}

func (fx *streamFixture) waitPending(t *testing.T, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		content, ok := pendingContent(fx.store)
		return ok && content == want
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSession_HappyPath(t *testing.T) {
	fx := newStreamFixture(t)
	messagesBefore := fx.api.count("messages")

	sess, src := fx.begin(t)
	_, ok := pendingContent(fx.store)
	require.True(t, ok, "placeholder appended before the stream opens")

	src.send(api.EventMeta, `{"ok":true,"message":"stream_started"}`)
	src.send(api.EventToken, `{"token":"Hel"}`)
	src.send(api.EventToken, `{"token":"lo"}`)
	fx.waitPending(t, "Hello")
	assert.Equal(t, StateStreaming, sess.State())

	fx.api.addMessage("1", api.RoleAssistant, "Hello")
	src.send(api.EventDone, `{"ok":true,"assistant_message_id":55}`)

	res := waitDone(t, sess)
	assert.Equal(t, OutcomeDone, res.Outcome)
	assert.Equal(t, "Hello", res.Content)
	assert.Equal(t, 2, res.Fragments)
	assert.Equal(t, api.ID("55"), res.AssistantMessageID)
	assert.NoError(t, res.Err)
	assert.NoError(t, res.ReconcileErr)
	assert.Equal(t, StateClosed, sess.State())
	assert.True(t, src.isClosed())

	snap := fx.store.Snapshot()
	_, pending := snap.Pending()
	assert.False(t, pending)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "Hello", snap.Messages[1].Content)
	assert.Equal(t, messagesBefore+1, fx.api.count("messages"), "exactly one reconcile")
}

func TestSession_LogsSessionIDOnce(t *testing.T) {
	fx := newStreamFixture(t)
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	streamer := NewStreamer(fx.store, fx.opener, logger)

	sess, err := streamer.Begin(t.Context(), "1")
	require.NoError(t, err)
	src := fx.opener.next(t)
	src.send(api.EventMeta, `{}`)
	src.send(api.EventToken, `not json`)
	src.send(api.EventDone, `{}`)
	waitDone(t, sess)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	var tagged int
	for _, line := range lines {
		n := strings.Count(line, "session_id=")
		assert.LessOrEqual(t, n, 1, line)
		tagged += n
	}
	assert.GreaterOrEqual(t, tagged, 3, "warn, debug and finish lines carry the session")
}

func TestSession_CancelMidStream(t *testing.T) {
	fx := newStreamFixture(t)
	messagesBefore := fx.api.count("messages")

	sess, src := fx.begin(t)
	src.send(api.EventToken, `{"token":"Hel"}`)
	fx.waitPending(t, "Hel")

	sess.Cancel()
	assert.Equal(t, StateClosed, sess.State(), "closed synchronously")
	assert.True(t, src.isClosed(), "transport closed synchronously")

	// Late events are never applied
	src.send(api.EventToken, `{"token":"lo"}`)
	sess.Cancel()

	res := waitDone(t, sess)
	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.Equal(t, "Hel", res.Content)
	assert.NoError(t, res.Err)

	_, pending := fx.store.Snapshot().Pending()
	assert.False(t, pending)
	assert.Equal(t, messagesBefore+1, fx.api.count("messages"), "exactly one reconcile")
}

func TestSession_LateReconcileKeepsNewerMessages(t *testing.T) {
	fx := newStreamFixture(t)

	first, src := fx.begin(t)
	src.send(api.EventToken, `{"token":"par"}`)
	fx.waitPending(t, "par")

	fx.api.mu.Lock()
	fx.api.started = make(chan api.ID, 4)
	fx.api.mu.Unlock()
	release := fx.api.gate("1")
	defer release()

	// the cancelled turn's fetch has its snapshot before the next post
	first.Cancel()
	recvID(t, fx.api.started)

	_, err := fx.store.PostUserMessage(t.Context(), "1", "again")
	require.NoError(t, err)
	second, _ := fx.begin(t)

	release()
	waitDone(t, first)

	snap := fx.store.Snapshot()
	assert.Contains(t, contentsOf(snap.Messages), "again")
	p, ok := snap.Pending()
	require.True(t, ok)
	assert.Equal(t, second.ID(), p.LocalKey)

	second.Cancel()
	waitDone(t, second)
	assert.Contains(t, contentsOf(fx.store.Snapshot().Messages), "again")
}

func contentsOf(msgs []api.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}

func TestSession_ErrorEvent(t *testing.T) {
	fx := newStreamFixture(t)

	sess, src := fx.begin(t)
	src.send(api.EventToken, `{"token":"partial"}`)
	src.send(api.EventError, `{"ok":false,"detail":"LLM streaming failed"}`)

	res := waitDone(t, sess)
	assert.Equal(t, OutcomeError, res.Outcome)
	require.ErrorIs(t, res.Err, api.ErrStream)
	assert.Contains(t, res.Err.Error(), "LLM streaming failed")

	_, pending := fx.store.Snapshot().Pending()
	assert.False(t, pending)
}

func TestSession_PrematureEOF(t *testing.T) {
	fx := newStreamFixture(t)

	sess, src := fx.begin(t)
	src.send(api.EventToken, `{"token":"a"}`)
	close(src.events)

	res := waitDone(t, sess)
	assert.Equal(t, OutcomeError, res.Outcome)
	assert.ErrorIs(t, res.Err, api.ErrStream)
}

func TestSession_OpenFailure(t *testing.T) {
	fx := newStreamFixture(t)
	fx.opener.err = &api.Error{Kind: api.ErrValidation, Status: 400, Message: "Last message must be a user message. Send a user message first."}

	sess, err := fx.streamer.Begin(t.Context(), "1")
	require.NoError(t, err)

	res := waitDone(t, sess)
	assert.Equal(t, OutcomeError, res.Outcome)
	assert.ErrorIs(t, res.Err, api.ErrValidation)
	assert.Equal(t, StateClosed, sess.State())

	_, pending := fx.store.Snapshot().Pending()
	assert.False(t, pending)
}

func TestSession_MalformedTokenIsEmptyFragment(t *testing.T) {
	fx := newStreamFixture(t)

	sess, src := fx.begin(t)
	src.send(api.EventToken, `not json`)
	src.send(api.EventToken, `{"token":"x"}`)
	src.send("ping", `{}`)
	src.send(api.EventDone, `{"ok":true}`)

	res := waitDone(t, sess)
	assert.Equal(t, OutcomeDone, res.Outcome)
	assert.Equal(t, 2, res.Fragments)
	assert.Equal(t, "x", res.Content)
}

func TestSession_FirstEventMovesToStreaming(t *testing.T) {
	fx := newStreamFixture(t)

	sess, src := fx.begin(t)
	assert.Equal(t, StateConnecting, sess.State())

	src.send(api.EventMeta, `{"ok":true}`)
	require.Eventually(t, func() bool { return sess.State() == StateStreaming }, 2*time.Second, 5*time.Millisecond)

	sess.Cancel()
	waitDone(t, sess)
}

func TestSession_IdleTimeout(t *testing.T) {
	fx := newStreamFixture(t, WithIdleTimeout(50*time.Millisecond))

	sess, src := fx.begin(t)
	src.send(api.EventToken, `{"token":"a"}`)

	res := waitDone(t, sess)
	assert.Equal(t, OutcomeError, res.Outcome)
	require.ErrorIs(t, res.Err, api.ErrStream)
	assert.Contains(t, res.Err.Error(), "idle")
	assert.True(t, src.isClosed())
}

func TestSession_BeginCancelsPrevious(t *testing.T) {
	fx := newStreamFixture(t)

	first, src1 := fx.begin(t)
	src1.send(api.EventToken, `{"token":"old"}`)
	fx.waitPending(t, "old")

	second, src2 := fx.begin(t)
	assert.Equal(t, StateClosed, first.State())
	assert.True(t, src1.isClosed())

	res := waitDone(t, first)
	assert.Equal(t, OutcomeCancelled, res.Outcome)

	// The old session's reconcile keeps the new placeholder
	p, ok := fx.store.Snapshot().Pending()
	require.True(t, ok)
	assert.Equal(t, second.ID(), p.LocalKey)
	assert.Empty(t, p.Content)

	src2.send(api.EventToken, `{"token":"new"}`)
	fx.waitPending(t, "new")
	src2.send(api.EventDone, `{"ok":true}`)
	assert.Equal(t, OutcomeDone, waitDone(t, second).Outcome)
	assert.Same(t, second, fx.streamer.Current())
}

func TestSession_SwitchingConversationCancels(t *testing.T) {
	fx := newStreamFixture(t)

	sess, src := fx.begin(t)
	src.send(api.EventToken, `{"token":"x"}`)
	fx.waitPending(t, "x")

	require.NoError(t, fx.store.SetActiveConversation(t.Context(), "2"))
	assert.Equal(t, StateClosed, sess.State())

	res := waitDone(t, sess)
	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.Equal(t, api.ID("2"), fx.store.ActiveID())
	_, pending := fx.store.Snapshot().Pending()
	assert.False(t, pending)
}

func TestSession_DeletingActiveCancels(t *testing.T) {
	fx := newStreamFixture(t)

	sess, _ := fx.begin(t)
	require.NoError(t, fx.store.DeleteConversation(t.Context(), "1"))

	res := waitDone(t, sess)
	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.True(t, fx.store.ActiveID().IsZero())
}

func TestSession_BeginRequiresActive(t *testing.T) {
	fx := newStreamFixture(t)

	_, err := fx.streamer.Begin(t.Context(), "2")
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestSession_ContextCancelCancelsSession(t *testing.T) {
	fx := newStreamFixture(t)

	ctx, cancel := context.WithCancel(t.Context())
	sess, err := fx.streamer.Begin(ctx, "1")
	require.NoError(t, err)
	fx.opener.next(t)

	cancel()
	res := waitDone(t, sess)
	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.NoError(t, res.ReconcileErr, "reconcile is not bound to the stream context")
}

func TestSession_CancelAfterDoneIsNoop(t *testing.T) {
	fx := newStreamFixture(t)

	sess, src := fx.begin(t)
	src.send(api.EventDone, `{"ok":true}`)
	res := waitDone(t, sess)

	sess.Cancel()
	fx.streamer.Cancel()
	assert.Equal(t, res, sess.Result())
	assert.Equal(t, OutcomeDone, sess.Result().Outcome)
}

func TestSession_RecordsEachTurnOnce(t *testing.T) {
	fx := newStreamFixture(t)

	sess, src := fx.begin(t)
	src.send(api.EventToken, `{"token":"ab"}`)
	src.send(api.EventDone, `{"ok":true}`)
	waitDone(t, sess)

	turns := fx.recorder.all()
	require.Len(t, turns, 1)
	assert.Equal(t, sess.ID(), turns[0].SessionID)
	assert.Equal(t, api.ID("1"), turns[0].ConversationID)
	assert.Equal(t, OutcomeDone, turns[0].Outcome)
	assert.Equal(t, 1, turns[0].Fragments)
	assert.Equal(t, 2, turns[0].Bytes)
	assert.False(t, turns[0].EndedAt.Before(turns[0].StartedAt))
}

func TestSession_PublishesStateChanges(t *testing.T) {
	fx := newStreamFixture(t)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	changes := fx.store.Subscribe(ctx)

	sess, src := fx.begin(t)
	src.send(api.EventToken, `{"token":"a"}`)
	src.send(api.EventDone, `{"ok":true}`)
	waitDone(t, sess)

	var states []State
	var fragments []string
	timeout := time.After(time.Second)
	for len(states) < 4 {
		select {
		case c := <-changes:
			switch c.Kind {
			case ChangeSession:
				states = append(states, c.State)
			case ChangeFragment:
				fragments = append(fragments, c.Fragment)
			}
		case <-timeout:
			t.Fatalf("saw states %v", states)
		}
	}
	assert.Equal(t, []State{StateConnecting, StateStreaming, StateFinishing, StateClosed}, states)
	assert.Equal(t, []string{"a"}, fragments)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "streaming", StateStreaming.String())
	assert.Equal(t, "unknown", State(42).String())
}
