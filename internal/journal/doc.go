// Package journal keeps a local SQLite record of finished assistant turns.
//
// Each turn that a conversation.Streamer finishes is written as one row:
// which conversation it answered, how it ended, how many fragments and
// bytes arrived, and when it started and ended. The journal is purely
// local bookkeeping; it never feeds back into conversation state.
//
//	j, err := journal.Open(path, logger)
//	streamer := conversation.NewStreamer(store, opener, logger,
//		conversation.WithTurnRecorder(j))
package journal
