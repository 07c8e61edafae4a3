// ABOUTME: Tests for the SQLite turn journal
// ABOUTME: Covers recording, ordering, per-conversation filtering and limits

package journal

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/api"
	"github.com/2389/coven-chat/internal/conversation"
)

func setupTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "nested", "journal.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func turn(session string, conv api.ID, ended time.Time) conversation.TurnRecord {
	return conversation.TurnRecord{
		SessionID:      session,
		ConversationID: conv,
		Outcome:        conversation.OutcomeDone,
		Fragments:      3,
		Bytes:          12,
		StartedAt:      ended.Add(-2 * time.Second),
		EndedAt:        ended,
	}
}

func TestJournal_RecordAndRecent(t *testing.T) {
	j := setupTestJournal(t)
	ctx := t.Context()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, j.RecordTurn(ctx, turn("s1", "1", base)))
	require.NoError(t, j.RecordTurn(ctx, turn("s2", "2", base.Add(time.Minute))))

	failed := turn("s3", "1", base.Add(2*time.Minute))
	failed.Outcome = conversation.OutcomeError
	failed.Error = "stream idle timeout"
	require.NoError(t, j.RecordTurn(ctx, failed))

	entries, err := j.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "s3", entries[0].SessionID)
	assert.Equal(t, conversation.OutcomeError, entries[0].Outcome)
	assert.Equal(t, "stream idle timeout", entries[0].Error)
	assert.Equal(t, "s2", entries[1].SessionID)
	assert.Equal(t, "s1", entries[2].SessionID)

	assert.Equal(t, api.ID("1"), entries[2].ConversationID)
	assert.Equal(t, 3, entries[2].Fragments)
	assert.Equal(t, 12, entries[2].Bytes)
	assert.Empty(t, entries[2].Error)
	assert.True(t, entries[2].EndedAt.Equal(base))
	assert.Equal(t, 2*time.Second, entries[2].Duration())
}

func TestJournal_ForConversation(t *testing.T) {
	j := setupTestJournal(t)
	ctx := t.Context()
	base := time.Now()

	require.NoError(t, j.RecordTurn(ctx, turn("a", "1", base)))
	require.NoError(t, j.RecordTurn(ctx, turn("b", "2", base.Add(time.Second))))
	require.NoError(t, j.RecordTurn(ctx, turn("c", "1", base.Add(2*time.Second))))

	entries, err := j.ForConversation(ctx, "1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "c", entries[0].SessionID)
	assert.Equal(t, "a", entries[1].SessionID)

	none, err := j.ForConversation(ctx, "99", 10)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestJournal_DuplicateSessionKeepsFirst(t *testing.T) {
	j := setupTestJournal(t)
	ctx := t.Context()
	now := time.Now()

	require.NoError(t, j.RecordTurn(ctx, turn("same", "1", now)))
	again := turn("same", "1", now.Add(time.Second))
	again.Outcome = conversation.OutcomeCancelled
	require.NoError(t, j.RecordTurn(ctx, again))

	entries, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, conversation.OutcomeDone, entries[0].Outcome)
}

func TestJournal_RejectsEmptySession(t *testing.T) {
	j := setupTestJournal(t)
	err := j.RecordTurn(t.Context(), conversation.TurnRecord{ConversationID: "1"})
	assert.Error(t, err)
}

func TestJournal_Limit(t *testing.T) {
	j := setupTestJournal(t)
	ctx := t.Context()
	base := time.Now()

	for i := range 5 {
		require.NoError(t, j.RecordTurn(ctx, turn(fmt.Sprintf("s%d", i), "1", base.Add(time.Duration(i)*time.Second))))
	}

	entries, err := j.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "s4", entries[0].SessionID)
	assert.Equal(t, "s3", entries[1].SessionID)
}

func TestJournal_ReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := t.Context()

	j, err := Open(path, nil)
	require.NoError(t, err)
	require.NoError(t, j.RecordTurn(ctx, turn("kept", "1", time.Now())))
	require.NoError(t, j.Close())

	j, err = Open(path, nil)
	require.NoError(t, err)
	defer j.Close()

	entries, err := j.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "kept", entries[0].SessionID)
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, normalizeLimit(0))
	assert.Equal(t, DefaultLimit, normalizeLimit(-3))
	assert.Equal(t, 7, normalizeLimit(7))
	assert.Equal(t, MaxLimit, normalizeLimit(MaxLimit+1))
}
