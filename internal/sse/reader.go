// ABOUTME: Incremental text/event-stream decoder used by the streaming client
// ABOUTME: Splits a byte stream into named events with joined data lines

package sse

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

const (
	// DefaultEventName is reported when a block carries data but no event field.
	DefaultEventName = "message"

	initialBufferSize = 64 * 1024
	maxLineSize       = 1024 * 1024
)

// ErrLineTooLong is returned when a single line exceeds the reader's limit.
var ErrLineTooLong = errors.New("sse: line too long")

// Event is a single dispatched server-sent event.
type Event struct {
	ID   string
	Name string
	Data string
}

// Reader decodes events from an underlying stream. It is not safe for
// concurrent use.
type Reader struct {
	scanner *bufio.Scanner
	lastID  string
}

// NewReader wraps r. Lines up to 1 MiB are accepted.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initialBufferSize), maxLineSize)
	return &Reader{scanner: scanner}
}

// Next blocks until a complete event is available. It returns io.EOF when
// the stream ends cleanly; a trailing block without its terminating blank
// line is discarded.
func (r *Reader) Next() (Event, error) {
	var (
		name     string
		data     []string
		hasField bool
	)

	for r.scanner.Scan() {
		line := strings.TrimSuffix(r.scanner.Text(), "\r")

		// Blank line dispatches the pending block
		if line == "" {
			if !hasField {
				continue
			}
			if name == "" && len(data) == 0 {
				hasField = false
				continue
			}
			if name == "" {
				name = DefaultEventName
			}
			return Event{ID: r.lastID, Name: name, Data: strings.Join(data, "\n")}, nil
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			name = value
			hasField = true
		case "data":
			data = append(data, value)
			hasField = true
		case "id":
			r.lastID = value
			hasField = true
		default:
			// retry and unknown fields carry nothing we act on
		}
	}

	if err := r.scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return Event{}, ErrLineTooLong
		}
		return Event{}, err
	}
	return Event{}, io.EOF
}
