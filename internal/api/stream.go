// ABOUTME: Streaming endpoint client producing decoded server-sent events
// ABOUTME: Also decodes the meta, token, done and error event payloads

package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"sync"

	"github.com/2389/coven-chat/internal/sse"
)

// Stream event names emitted by the backend.
const (
	EventMeta  = "meta"
	EventToken = "token"
	EventDone  = "done"
	EventError = "error"
)

// EventStream is an open assistant-reply stream. Next and Close may be
// called from different goroutines; Close unblocks a pending Next.
type EventStream struct {
	body      io.ReadCloser
	reader    *sse.Reader
	requestID string

	closeOnce sync.Once
	closeErr  error
}

// OpenStream starts generation of the assistant reply for the
// conversation's trailing user message. The request is bound to ctx only;
// the client's request timeout does not apply.
func (c *Client) OpenStream(ctx context.Context, conversationID ID) (*EventStream, error) {
	seg, err := idPath("conversation", conversationID)
	if err != nil {
		return nil, err
	}

	ro := requestOptions{accept: "text/event-stream"}
	req, requestID, err := c.newRequest(ctx, http.MethodGet, "/api/conversations/"+seg+"/stream", nil, ro)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.send(req, requestID, ro)
	if err != nil {
		return nil, err
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "text/event-stream" {
		resp.Body.Close()
		return nil, &Error{
			Kind:      ErrStream,
			Status:    resp.StatusCode,
			Message:   "unexpected content type " + mediaType,
			RequestID: requestID,
		}
	}

	c.logger.Debug("stream opened", "conversation_id", conversationID, "request_id", requestID)

	return &EventStream{
		body:      resp.Body,
		reader:    sse.NewReader(resp.Body),
		requestID: requestID,
	}, nil
}

// Next returns the next event. It returns io.EOF when the server closes
// the stream; any other failure is an *Error of kind ErrStream.
func (s *EventStream) Next() (sse.Event, error) {
	ev, err := s.reader.Next()
	if err == nil {
		return ev, nil
	}
	if errors.Is(err, io.EOF) {
		return sse.Event{}, io.EOF
	}
	return sse.Event{}, &Error{Kind: ErrStream, Message: "reading stream", RequestID: s.requestID, Cause: err}
}

// Close releases the connection. It is safe to call more than once.
func (s *EventStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}

// RequestID returns the id sent with the stream request.
func (s *EventStream) RequestID() string {
	return s.requestID
}

// DecodeToken extracts the fragment from a token event payload. Payloads
// that are not JSON objects with a string "token" yield ok == false.
func DecodeToken(data string) (string, bool) {
	var payload struct {
		Token *string `json:"token"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil || payload.Token == nil {
		return "", false
	}
	return *payload.Token, true
}

// DecodeDone extracts the persisted assistant message id from a done
// payload, if the server sent one.
func DecodeDone(data string) ID {
	var payload struct {
		AssistantMessageID ID `json:"assistant_message_id"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return ""
	}
	return payload.AssistantMessageID
}

// DecodeStreamError extracts a human readable reason from an error event.
func DecodeStreamError(data string) string {
	var payload map[string]any
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		if data != "" {
			return data
		}
		return "stream error"
	}
	detail, ok := payload["detail"]
	if !ok || detail == nil {
		detail = payload["message"]
	}
	if detail == nil {
		return "stream error"
	}
	return FormatDetail(detail, 0)
}
