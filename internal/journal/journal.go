// ABOUTME: SQLite turn journal using modernc.org/sqlite
// ABOUTME: Implements conversation.TurnRecorder and lists recorded turns newest first

package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/coven-chat/internal/api"
	"github.com/2389/coven-chat/internal/conversation"
)

// timeFormat is fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// Limits for listing queries
const (
	DefaultLimit = 20
	MaxLimit     = 1000
)

// Entry is one recorded turn.
type Entry struct {
	ID             int64
	SessionID      string
	ConversationID api.ID
	Outcome        conversation.Outcome
	Fragments      int
	Bytes          int
	Error          string
	StartedAt      time.Time
	EndedAt        time.Time
}

// Duration is how long the turn took.
func (e Entry) Duration() time.Duration {
	return e.EndedAt.Sub(e.StartedAt)
}

// Journal is a SQLite-backed turn log.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ conversation.TurnRecorder = (*Journal)(nil)

// Open opens (creating if needed) the journal database at path.
// Parent directories are created if needed.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "journal")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	// CLI invocations may overlap with a running chat session
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	j := &Journal{db: db, logger: logger}
	if err := j.createSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Debug("journal opened", "path", path)
	return j, nil
}

func (j *Journal) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS turns (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL,
			outcome TEXT NOT NULL,
			fragments INTEGER NOT NULL DEFAULT 0,
			bytes INTEGER NOT NULL DEFAULT 0,
			error TEXT,
			started_at TEXT NOT NULL,
			ended_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_turns_ended ON turns(ended_at);
		CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id, ended_at);
	`
	_, err := j.db.Exec(schema)
	return err
}

// RecordTurn appends a finished turn. Recording the same session twice
// keeps the first row.
func (j *Journal) RecordTurn(ctx context.Context, rec conversation.TurnRecord) error {
	if rec.SessionID == "" {
		return fmt.Errorf("recording turn: empty session id")
	}
	ended := rec.EndedAt
	if ended.IsZero() {
		ended = time.Now()
	}
	started := rec.StartedAt
	if started.IsZero() {
		started = ended
	}

	var errText *string
	if rec.Error != "" {
		errText = &rec.Error
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO turns (session_id, conversation_id, outcome, fragments, bytes, error, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO NOTHING
	`,
		rec.SessionID,
		string(rec.ConversationID),
		string(rec.Outcome),
		rec.Fragments,
		rec.Bytes,
		errText,
		started.UTC().Format(timeFormat),
		ended.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting turn: %w", err)
	}

	j.logger.Debug("recorded turn",
		"session_id", rec.SessionID,
		"conversation_id", rec.ConversationID,
		"outcome", rec.Outcome,
	)
	return nil
}

// normalizeLimit applies DefaultLimit and MaxLimit.
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

const turnsQuery = `
	SELECT id, session_id, conversation_id, outcome, fragments, bytes, error, started_at, ended_at
	FROM turns
	WHERE (? IS NULL OR conversation_id = ?)
	ORDER BY ended_at DESC, id DESC
	LIMIT ?
`

// Recent returns the latest turns across all conversations, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return j.list(ctx, nil, limit)
}

// ForConversation returns the latest turns of one conversation, newest first.
func (j *Journal) ForConversation(ctx context.Context, id api.ID, limit int) ([]Entry, error) {
	s := string(id)
	return j.list(ctx, &s, limit)
}

func (j *Journal) list(ctx context.Context, conversationID *string, limit int) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, turnsQuery, conversationID, conversationID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turns: %w", err)
	}
	return entries, nil
}

func scanEntry(scanner interface{ Scan(dest ...any) error }) (Entry, error) {
	var e Entry
	var conversationID, outcome, startedStr, endedStr string
	var errText sql.NullString

	if err := scanner.Scan(
		&e.ID,
		&e.SessionID,
		&conversationID,
		&outcome,
		&e.Fragments,
		&e.Bytes,
		&errText,
		&startedStr,
		&endedStr,
	); err != nil {
		return e, fmt.Errorf("scanning turn: %w", err)
	}

	e.ConversationID = api.ID(conversationID)
	e.Outcome = conversation.Outcome(outcome)
	e.Error = errText.String

	var err error
	if e.StartedAt, err = time.Parse(timeFormat, startedStr); err != nil {
		return e, fmt.Errorf("parsing started_at: %w", err)
	}
	if e.EndedAt, err = time.Parse(timeFormat, endedStr); err != nil {
		return e, fmt.Errorf("parsing ended_at: %w", err)
	}
	return e, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
