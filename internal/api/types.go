// ABOUTME: Wire types for conversations, messages and accounts
// ABOUTME: Tolerates numeric or string ids and naive or zoned timestamps

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ID is an opaque server identifier. The backend emits integers, but any
// JSON scalar is accepted and kept in its textual form.
type ID string

// String returns the textual id.
func (id ID) String() string { return string(id) }

// IsZero reports whether the id is empty.
func (id ID) IsZero() bool { return id == "" }

// UnmarshalJSON accepts a JSON number, string or null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decoding id: %w", err)
		}
		*id = ID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decoding id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON emits numeric ids as numbers and everything else as strings.
func (id ID) MarshalJSON() ([]byte, error) {
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// naiveLayouts are tried when a timestamp carries no zone; such values are
// interpreted as UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Time is a timestamp decoded from RFC 3339 or from a zone-less ISO form.
type Time struct {
	time.Time
}

// UnmarshalJSON accepts RFC 3339, naive ISO 8601 (as UTC), "" and null.
func (t *Time) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		t.Time = time.Time{}
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decoding timestamp: %w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}

	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = parsed
		return nil
	}
	for _, layout := range naiveLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("decoding timestamp %q: unrecognised format", s)
}

// MarshalJSON emits RFC 3339 with nanoseconds, or null for the zero time.
func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// Role is the author of a message.
type Role string

// Message roles
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Conversation is a conversation summary as listed by the backend.
type Conversation struct {
	ID        ID     `json:"id"`
	Title     string `json:"title"`
	CreatedAt Time   `json:"created_at"`
	UpdatedAt Time   `json:"updated_at"`
}

// Message is a single conversation message. Pending and LocalKey are
// client-side only: a pending message is the in-progress assistant reply
// of a live stream and is never sent to or received from the server.
type Message struct {
	ID        ID     `json:"id"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	CreatedAt Time   `json:"created_at"`

	Pending  bool   `json:"-"`
	LocalKey string `json:"-"`
}

// User account statuses
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusDenied   = "denied"
)

// User is an account as reported by /api/me and the admin endpoints.
type User struct {
	ID        ID     `json:"id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	Status    string `json:"status"`
	CreatedAt Time   `json:"created_at"`
}

// Registration is the outcome of a successful register call.
type Registration struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
