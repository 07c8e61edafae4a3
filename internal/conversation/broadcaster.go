// ABOUTME: In-memory fan-out of store and session changes to view subscribers
// ABOUTME: Non-blocking publish; slow subscribers drop changes instead of stalling

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/coven-chat/internal/api"
)

// DefaultSubscriberBuffer is the channel buffer for each subscriber.
const DefaultSubscriberBuffer = 64

// ChangeKind names what part of the client state changed.
type ChangeKind string

// Change kinds
const (
	ChangeConversations ChangeKind = "conversations" // the conversation list was replaced or edited
	ChangeActive        ChangeKind = "active"        // the active conversation changed
	ChangeMessages      ChangeKind = "messages"      // the active message list was replaced or extended
	ChangeFragment      ChangeKind = "fragment"      // a streamed fragment was appended to the pending reply
	ChangeSession       ChangeKind = "session"       // a stream session changed state
)

// Change is a notification that state changed. Subscribers re-read the
// store snapshot; Fragment and State are carried for convenience.
type Change struct {
	Kind           ChangeKind
	ConversationID api.ID
	Fragment       string // ChangeFragment only
	SessionID      string // ChangeSession only
	State          State  // ChangeSession only
}

// Broadcaster provides in-memory pub/sub for Changes.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan Change // subID -> ch
	buffer      int
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default and a
// non-positive buffer for DefaultSubscriberBuffer.
func NewBroadcaster(buffer int, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Broadcaster{
		subscribers: make(map[string]chan Change),
		buffer:      buffer,
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber. Returns a channel that receives
// changes and a subscription ID for later unsubscription. The
// subscription is automatically cleaned up when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan Change, string) {
	subID := uuid.New().String()
	ch := make(chan Change, b.buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	b.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return ch, subID
}

// Publish sends a change to all subscribers. Non-blocking: changes are
// dropped for subscribers whose channels are full.
func (b *Broadcaster) Publish(change Change) {
	// Sends happen under the read lock so Unsubscribe cannot close a
	// channel mid-send; they never block.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- change:
		default:
			b.logger.Debug("dropped change for slow subscriber",
				"sub_id", id,
				"kind", change.Kind)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, exists := b.subscribers[subID]
	if !exists {
		return
	}
	delete(b.subscribers, subID)
	close(ch)

	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for subID, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, subID)
	}
	b.closed = true

	b.logger.Debug("broadcaster closed")
}
