// ABOUTME: Client-side conversation store: list, active conversation and messages
// ABOUTME: Every mutation goes to the backend first; server snapshots replace local state

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/coven-chat/internal/api"
)

// DefaultTitle names conversations created without a title.
const DefaultTitle = "New Chat"

// Store errors
var (
	ErrEmptyMessage error = &api.Error{Kind: api.ErrValidation, Message: "message must not be empty"}
	ErrEmptyTitle   error = &api.Error{Kind: api.ErrValidation, Message: "title must not be empty"}
	ErrNotActive    error = &api.Error{Kind: api.ErrValidation, Message: "conversation is not active"}
)

// API is what the store needs from the backend client.
type API interface {
	ListConversations(ctx context.Context) ([]api.Conversation, error)
	CreateConversation(ctx context.Context, title string) (api.Conversation, error)
	RenameConversation(ctx context.Context, id api.ID, title string) error
	DeleteConversation(ctx context.Context, id api.ID) error
	ListMessages(ctx context.Context, conversationID api.ID) ([]api.Message, error)
	PostMessage(ctx context.Context, conversationID api.ID, content string) (api.Message, error)
}

// Snapshot is a copy of the store's state at one instant.
type Snapshot struct {
	Conversations []api.Conversation
	ActiveID      api.ID
	Messages      []api.Message
}

// Pending returns the in-progress assistant message, if any.
func (s Snapshot) Pending() (api.Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Pending {
			return s.Messages[i], true
		}
	}
	return api.Message{}, false
}

// StoreOption configures a Store.
type StoreOption func(*storeOptions)

type storeOptions struct {
	subscriberBuffer int
}

// WithSubscriberBuffer sets the per-subscriber change buffer.
func WithSubscriberBuffer(n int) StoreOption {
	return func(o *storeOptions) { o.subscriberBuffer = n }
}

// Store holds the client's view of conversations. It is safe for
// concurrent use; views read it through Snapshot and Subscribe.
type Store struct {
	api    API
	bus    *Broadcaster
	logger *slog.Logger

	mu            sync.Mutex
	conversations []api.Conversation
	activeID      api.ID
	generation    uint64 // bumped whenever the active conversation is (re)selected or cleared
	epoch         uint64 // bumped on every local edit of messages other than a fragment
	messages      []api.Message
	pendingKey    string
	leaveHooks    []func(api.ID)
}

// NewStore creates a store backed by client. Pass nil logger for default.
func NewStore(client API, logger *slog.Logger, opts ...StoreOption) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	var o storeOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Store{
		api:           client,
		bus:           NewBroadcaster(o.subscriberBuffer, logger),
		logger:        logger.With("component", "store"),
		conversations: []api.Conversation{},
		messages:      []api.Message{},
	}
}

// Subscribe returns a channel of changes that closes when ctx ends.
func (s *Store) Subscribe(ctx context.Context) <-chan Change {
	ch, _ := s.bus.Subscribe(ctx)
	return ch
}

// Close releases subscribers.
func (s *Store) Close() {
	s.bus.Close()
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Conversations: slices.Clone(s.conversations),
		ActiveID:      s.activeID,
		Messages:      slices.Clone(s.messages),
	}
}

// ActiveID returns the active conversation id, or "" when none.
func (s *Store) ActiveID() api.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// ListConversations fetches the list and replaces local state with it. If
// the active conversation is no longer listed, it is cleared along with
// its messages.
func (s *Store) ListConversations(ctx context.Context) ([]api.Conversation, error) {
	convs, err := s.api.ListConversations(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	left, cleared := s.applyConversationsLocked(convs)
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeConversations})
	if cleared {
		s.publish(Change{Kind: ChangeActive})
		s.notifyLeave(left)
	}
	return slices.Clone(convs), nil
}

// CreateConversation creates a conversation, appends it locally and then
// refreshes the list from the server. A blank title becomes DefaultTitle.
// A failed refresh is logged; the created conversation is still returned.
func (s *Store) CreateConversation(ctx context.Context, title string) (api.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}

	conv, err := s.api.CreateConversation(ctx, title)
	if err != nil {
		return api.Conversation{}, err
	}

	s.mu.Lock()
	s.conversations = append(s.conversations, conv)
	s.mu.Unlock()
	s.publish(Change{Kind: ChangeConversations, ConversationID: conv.ID})

	convs, err := s.ListConversations(ctx)
	if err != nil {
		s.logger.Warn("refreshing conversations after create failed", "conversation_id", conv.ID, "error", err)
		return conv, nil
	}
	if i := indexConversation(convs, conv.ID); i >= 0 {
		return convs[i], nil
	}
	return conv, nil
}

// RenameConversation renames a conversation and refreshes the list. A
// not-found failure still refreshes so the stale entry disappears.
func (s *Store) RenameConversation(ctx context.Context, id api.ID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return ErrEmptyTitle
	}

	err := s.api.RenameConversation(ctx, id, title)
	if err != nil && !errors.Is(err, api.ErrNotFound) {
		return err
	}

	if _, rerr := s.ListConversations(ctx); rerr != nil {
		s.logger.Warn("refreshing conversations after rename failed", "conversation_id", id, "error", rerr)
	}
	return err
}

// DeleteConversation deletes a conversation. When it was active, the
// active selection and its messages are cleared in the same step as the
// removal. The list is refreshed afterwards, also after a not-found failure.
func (s *Store) DeleteConversation(ctx context.Context, id api.ID) error {
	err := s.api.DeleteConversation(ctx, id)
	if err != nil && !errors.Is(err, api.ErrNotFound) {
		return err
	}

	if err == nil {
		s.mu.Lock()
		wasActive := s.activeID == id
		if wasActive {
			s.clearActiveLocked()
		}
		if i := indexConversation(s.conversations, id); i >= 0 {
			s.conversations = slices.Delete(s.conversations, i, i+1)
		}
		s.mu.Unlock()

		s.publish(Change{Kind: ChangeConversations, ConversationID: id})
		if wasActive {
			s.publish(Change{Kind: ChangeActive})
			s.notifyLeave(id)
		}
	}

	if _, rerr := s.ListConversations(ctx); rerr != nil {
		s.logger.Warn("refreshing conversations after delete failed", "conversation_id", id, "error", rerr)
	}
	return err
}

// SetActiveConversation selects a conversation. Messages are cleared
// immediately and then replaced by a fetch; a fetch that completes after
// another selection was made is discarded. An empty id clears the
// selection. A not-found failure clears the selection and refreshes the list.
func (s *Store) SetActiveConversation(ctx context.Context, id api.ID) error {
	s.mu.Lock()
	prev := s.activeID
	if id == "" {
		s.clearActiveLocked()
	} else {
		s.activeID = id
		s.generation++
		s.epoch++
		s.messages = []api.Message{}
		s.pendingKey = ""
	}
	gen := s.generation
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeActive, ConversationID: id})
	if prev != "" {
		s.notifyLeave(prev)
	}
	if id == "" {
		return nil
	}

	msgs, err := s.api.ListMessages(ctx, id)
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			s.mu.Lock()
			stillCurrent := s.generation == gen
			if stillCurrent {
				s.clearActiveLocked()
			}
			s.mu.Unlock()
			if stillCurrent {
				s.publish(Change{Kind: ChangeActive})
			}
			if _, rerr := s.ListConversations(ctx); rerr != nil {
				s.logger.Warn("refreshing conversations failed", "error", rerr)
			}
		}
		return err
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		s.logger.Debug("discarding stale messages", "conversation_id", id)
		return nil
	}
	s.messages = slices.Clone(msgs)
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeMessages, ConversationID: id})
	return nil
}

// RefreshMessages re-fetches the active conversation's messages without
// clearing them first.
func (s *Store) RefreshMessages(ctx context.Context) error {
	s.mu.Lock()
	id, gen, epoch := s.activeID, s.generation, s.epoch
	s.mu.Unlock()
	if id == "" {
		return nil
	}

	msgs, err := s.api.ListMessages(ctx, id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.generation != gen || s.epoch != epoch {
		s.mu.Unlock()
		return nil
	}
	pending, hasPending := s.pendingLocked()
	s.messages = slices.Clone(msgs)
	if hasPending {
		s.messages = append(s.messages, pending)
	}
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeMessages, ConversationID: id})
	return nil
}

// PostUserMessage sends a user message. Content is trimmed; blank content
// fails with ErrEmptyMessage without contacting the server. On success the
// message is appended only if its conversation is still active and the
// message is not already present.
func (s *Store) PostUserMessage(ctx context.Context, conversationID api.ID, content string) (api.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return api.Message{}, ErrEmptyMessage
	}

	msg, err := s.api.PostMessage(ctx, conversationID, content)
	if err != nil {
		if errors.Is(err, api.ErrNotFound) {
			if _, rerr := s.ListConversations(ctx); rerr != nil {
				s.logger.Warn("refreshing conversations failed", "error", rerr)
			}
		}
		return api.Message{}, err
	}

	s.mu.Lock()
	appended := false
	if s.activeID == conversationID && !containsMessage(s.messages, msg.ID) {
		s.messages = append(s.messages, msg)
		s.epoch++
		appended = true
	}
	s.mu.Unlock()

	if appended {
		s.publish(Change{Kind: ChangeMessages, ConversationID: conversationID})
	}
	return msg, nil
}

// ReconcileAfterTurn replaces local state with server truth after a turn:
// messages (if the conversation is still active) and the list are fetched
// concurrently, any pending assistant message is dropped, and the results
// replace local state wholesale.
func (s *Store) ReconcileAfterTurn(ctx context.Context, conversationID api.ID) error {
	return s.reconcile(ctx, conversationID, "")
}

// reconcile is ReconcileAfterTurn for one turn. Only the pending message
// created under turnKey is dropped; an empty key drops any pending message.
// Fetched messages are not applied when messages were edited locally
// after the fetch began, since the server snapshot predates that edit.
func (s *Store) reconcile(ctx context.Context, conversationID api.ID, turnKey string) error {
	s.mu.Lock()
	gen, epoch := s.generation, s.epoch
	fetchMessages := conversationID != "" && s.activeID == conversationID
	s.mu.Unlock()

	var (
		msgs  []api.Message
		convs []api.Conversation
	)
	g, gctx := errgroup.WithContext(ctx)
	if fetchMessages {
		g.Go(func() error {
			m, err := s.api.ListMessages(gctx, conversationID)
			if err != nil {
				return fmt.Errorf("fetching messages: %w", err)
			}
			msgs = m
			return nil
		})
	}
	g.Go(func() error {
		c, err := s.api.ListConversations(gctx)
		if err != nil {
			return fmt.Errorf("fetching conversations: %w", err)
		}
		convs = c
		return nil
	})
	err := g.Wait()

	var (
		changes []Change
		left    api.ID
		cleared bool
	)

	s.mu.Lock()
	pending, hasPending := s.pendingLocked()
	if hasPending && (turnKey == "" || pending.LocalKey == turnKey) {
		s.removePendingLocked()
		hasPending = false
		changes = append(changes, Change{Kind: ChangeMessages, ConversationID: conversationID})
	}
	if err == nil {
		stale := s.generation != gen || s.activeID != conversationID || s.epoch != epoch
		if fetchMessages && stale {
			s.logger.Debug("discarding stale reconcile messages", "conversation_id", conversationID)
		}
		if fetchMessages && !stale {
			s.messages = slices.Clone(msgs)
			// A newer turn keeps its placeholder
			if hasPending {
				s.messages = append(s.messages, pending)
			}
			changes = append(changes, Change{Kind: ChangeMessages, ConversationID: conversationID})
		}
		left, cleared = s.applyConversationsLocked(convs)
		changes = append(changes, Change{Kind: ChangeConversations})
	}
	s.mu.Unlock()

	for _, c := range changes {
		s.publish(c)
	}
	if cleared {
		s.publish(Change{Kind: ChangeActive})
		s.notifyLeave(left)
	}

	if err != nil && errors.Is(err, api.ErrNotFound) {
		if _, rerr := s.ListConversations(ctx); rerr != nil {
			s.logger.Warn("refreshing conversations failed", "error", rerr)
		}
	}
	return err
}

// startPending appends the placeholder assistant message for a new turn.
func (s *Store) startPending(conversationID api.ID, key string) error {
	s.mu.Lock()
	if conversationID == "" || s.activeID != conversationID {
		s.mu.Unlock()
		return ErrNotActive
	}
	s.removePendingLocked()
	s.messages = append(s.messages, api.Message{
		Role:      api.RoleAssistant,
		CreatedAt: api.Time{Time: time.Now().UTC()},
		Pending:   true,
		LocalKey:  key,
	})
	s.pendingKey = key
	s.epoch++
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeMessages, ConversationID: conversationID})
	return nil
}

// appendFragment extends the pending message created under key. It
// reports false when that placeholder no longer exists.
func (s *Store) appendFragment(conversationID api.ID, key, fragment string) bool {
	s.mu.Lock()
	if s.pendingKey != key {
		s.mu.Unlock()
		return false
	}
	i := s.pendingIndexLocked()
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	s.messages[i].Content += fragment
	s.mu.Unlock()

	s.publish(Change{Kind: ChangeFragment, ConversationID: conversationID, Fragment: fragment})
	return true
}

// addLeaveHook registers fn to run, outside the lock, with the id of a
// conversation that stops being active or is re-selected.
func (s *Store) addLeaveHook(fn func(api.ID)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaveHooks = append(s.leaveHooks, fn)
}

func (s *Store) notifyLeave(id api.ID) {
	s.mu.Lock()
	hooks := slices.Clone(s.leaveHooks)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(id)
	}
}

func (s *Store) publish(c Change) {
	s.bus.Publish(c)
}

// applyConversationsLocked replaces the list and clears a vanished active
// conversation, returning its id. Must be called with mu held.
func (s *Store) applyConversationsLocked(convs []api.Conversation) (api.ID, bool) {
	s.conversations = slices.Clone(convs)
	if s.conversations == nil {
		s.conversations = []api.Conversation{}
	}
	if s.activeID == "" || indexConversation(s.conversations, s.activeID) >= 0 {
		return "", false
	}
	left := s.activeID
	s.clearActiveLocked()
	return left, true
}

// clearActiveLocked drops the selection, its messages and any placeholder.
func (s *Store) clearActiveLocked() {
	s.activeID = ""
	s.generation++
	s.epoch++
	s.messages = []api.Message{}
	s.pendingKey = ""
}

func (s *Store) pendingIndexLocked() int {
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Pending {
			return i
		}
	}
	return -1
}

func (s *Store) pendingLocked() (api.Message, bool) {
	if i := s.pendingIndexLocked(); i >= 0 {
		return s.messages[i], true
	}
	return api.Message{}, false
}

func (s *Store) removePendingLocked() {
	s.messages = slices.DeleteFunc(s.messages, func(m api.Message) bool { return m.Pending })
	s.pendingKey = ""
}

func indexConversation(convs []api.Conversation, id api.ID) int {
	return slices.IndexFunc(convs, func(c api.Conversation) bool { return c.ID == id })
}

func containsMessage(msgs []api.Message, id api.ID) bool {
	if id == "" {
		return false
	}
	return slices.ContainsFunc(msgs, func(m api.Message) bool { return m.ID == id })
}
