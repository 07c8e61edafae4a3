// Package conversation keeps the client's view of conversations in step
// with the backend and drives streamed assistant replies.
//
// # Overview
//
// The backend is the source of truth. The Store never invents state: each
// mutation is sent to the server first and the local list or messages are
// then replaced by what the server returns. The only local-only state is
// the pending assistant message of a live stream, which is always dropped
// when that stream ends.
//
//	store := conversation.NewStore(client, logger)
//	streamer := conversation.NewStreamer(store, conversation.ClientOpener(client), logger)
//
//	_ = store.SetActiveConversation(ctx, id)
//	_, _ = store.PostUserMessage(ctx, id, "hello")
//	sess, _ := streamer.Begin(ctx, id)
//	res, _ := sess.Wait(ctx)
//
// # Active conversation
//
// Selecting a conversation clears its messages at once and fetches them in
// the background. Every selection bumps a generation counter; a fetch whose
// generation is no longer current is discarded, so an older, slower
// response can never overwrite a newer selection.
//
// # Sessions
//
// A Session moves through idle, connecting, streaming, finishing and
// closed. The first event of any kind moves connecting to streaming. Token
// events append to the pending message in arrival order. A done event
// moves to finishing, and the session closes once the store has been
// reconciled. An error event, a transport failure, an early end of stream,
// an idle timeout or Cancel close the session directly. Every path ends in
// exactly one reconciliation.
//
// Starting a new turn, selecting another conversation, or deleting the
// active one cancels the live session first.
//
// # Changes
//
// Views subscribe to Change notifications and re-read Snapshot. Delivery
// is non-blocking: a subscriber whose buffer is full misses changes, and
// the next Snapshot still reflects them.
package conversation
