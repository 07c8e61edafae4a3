// ABOUTME: Scripted in-memory backend used by the conversation tests
// ABOUTME: Supports per-conversation gates to control response ordering

package conversation

import (
	"context"
	"errors"
	"io"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/api"
	"github.com/2389/coven-chat/internal/sse"
)

// fakeAPI is a scripted backend. Message fetches for a conversation can be
// held on a gate so tests decide which response lands first.
type fakeAPI struct {
	mu            sync.Mutex
	conversations []api.Conversation
	messages      map[api.ID][]api.Message
	nextID        int
	gates         map[api.ID]chan struct{}
	started       chan api.ID
	calls         map[string]int
	failList      error
	failMessages  error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		messages: make(map[api.ID][]api.Message),
		gates:    make(map[api.ID]chan struct{}),
		calls:    make(map[string]int),
		nextID:   100,
	}
}

func (f *fakeAPI) newID() api.ID {
	f.nextID++
	return api.ID(strconv.Itoa(f.nextID))
}

// seed adds a conversation with messages.
func (f *fakeAPI) seed(id api.ID, title string, msgs ...api.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations = append(f.conversations, api.Conversation{ID: id, Title: title})
	f.messages[id] = slices.Clone(msgs)
}

// gate makes ListMessages for id block until release is called.
func (f *fakeAPI) gate(id api.ID) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gates[id] = ch
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (f *fakeAPI) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeAPI) remove(id api.ID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations = slices.DeleteFunc(f.conversations, func(c api.Conversation) bool { return c.ID == id })
	delete(f.messages, id)
}

func (f *fakeAPI) addMessage(id api.ID, role api.Role, content string) api.ID {
	f.mu.Lock()
	defer f.mu.Unlock()
	mid := f.newID()
	f.messages[id] = append(f.messages[id], api.Message{ID: mid, Role: role, Content: content})
	return mid
}

func notFound() error {
	return &api.Error{Kind: api.ErrNotFound, Status: 404, Message: "Conversation not found"}
}

func (f *fakeAPI) ListConversations(ctx context.Context) ([]api.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["list"]++
	if f.failList != nil {
		return nil, f.failList
	}
	return slices.Clone(f.conversations), nil
}

func (f *fakeAPI) CreateConversation(ctx context.Context, title string) (api.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["create"]++
	conv := api.Conversation{ID: f.newID(), Title: title}
	f.conversations = append([]api.Conversation{conv}, f.conversations...)
	f.messages[conv.ID] = nil
	return conv, nil
}

func (f *fakeAPI) RenameConversation(ctx context.Context, id api.ID, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["rename"]++
	for i := range f.conversations {
		if f.conversations[i].ID == id {
			f.conversations[i].Title = title
			return nil
		}
	}
	return notFound()
}

func (f *fakeAPI) DeleteConversation(ctx context.Context, id api.ID) error {
	f.mu.Lock()
	f.calls["delete"]++
	_, ok := f.messages[id]
	f.mu.Unlock()
	if !ok {
		return notFound()
	}
	f.remove(id)
	return nil
}

func (f *fakeAPI) ListMessages(ctx context.Context, id api.ID) ([]api.Message, error) {
	// the response reflects the server at request time, however late it lands
	f.mu.Lock()
	f.calls["messages"]++
	gate := f.gates[id]
	started := f.started
	msgs, ok := f.messages[id]
	msgs = slices.Clone(msgs)
	f.mu.Unlock()

	if started != nil {
		started <- id
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failMessages != nil {
		return nil, f.failMessages
	}
	if !ok {
		return nil, notFound()
	}
	return msgs, nil
}

func (f *fakeAPI) PostMessage(ctx context.Context, id api.ID, content string) (api.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["post"]++
	if _, ok := f.messages[id]; !ok {
		return api.Message{}, notFound()
	}
	msg := api.Message{ID: f.newID(), Role: api.RoleUser, Content: content}
	f.messages[id] = append(f.messages[id], msg)
	return msg, nil
}

// scriptedSource is an EventSource fed by the test through a channel.
type scriptedSource struct {
	events chan sse.Event
	closed chan struct{}
	once   sync.Once
}

func newScriptedSource() *scriptedSource {
	return &scriptedSource{
		events: make(chan sse.Event, 16),
		closed: make(chan struct{}),
	}
}

func (s *scriptedSource) Next() (sse.Event, error) {
	select {
	case ev, ok := <-s.events:
		if !ok {
			return sse.Event{}, io.EOF
		}
		return ev, nil
	case <-s.closed:
		return sse.Event{}, errors.New("use of closed connection")
	}
}

func (s *scriptedSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *scriptedSource) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *scriptedSource) send(name, data string) {
	s.events <- sse.Event{Name: name, Data: data}
}

// scriptedOpener hands out sources in order, one per Begin.
type scriptedOpener struct {
	mu      sync.Mutex
	sources []*scriptedSource
	err     error
	opened  chan *scriptedSource
}

func newScriptedOpener() *scriptedOpener {
	return &scriptedOpener{opened: make(chan *scriptedSource, 8)}
}

func (o *scriptedOpener) OpenStream(ctx context.Context, id api.ID) (EventSource, error) {
	o.mu.Lock()
	err := o.err
	o.mu.Unlock()
	if err != nil {
		return nil, err
	}
	src := newScriptedSource()
	o.mu.Lock()
	o.sources = append(o.sources, src)
	o.mu.Unlock()
	o.opened <- src
	return src, nil
}

// next waits for the next opened source.
func (o *scriptedOpener) next(t *testing.T) *scriptedSource {
	t.Helper()
	select {
	case src := <-o.opened:
		return src
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream to open")
		return nil
	}
}

// waitDone waits for a session to finish and returns its result.
func waitDone(t *testing.T, sess *Session) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	res, err := sess.Wait(ctx)
	require.NoError(t, err, "session did not finish")
	return res
}

// pendingContent returns the pending message content or "" when absent.
func pendingContent(s *Store) (string, bool) {
	p, ok := s.Snapshot().Pending()
	return p.Content, ok
}
