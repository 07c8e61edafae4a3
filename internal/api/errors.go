// ABOUTME: Error taxonomy for backend calls and body-to-message decoding
// ABOUTME: Maps HTTP statuses and transport failures onto sentinel kinds

package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Error kinds. Every *Error unwraps to exactly one of these.
var (
	ErrAuth       = errors.New("not authorized")
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("invalid request")
	ErrNetwork    = errors.New("network failure")
	ErrStream     = errors.New("stream failed")
	ErrServer     = errors.New("server error")
)

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 4096

// Error describes a failed backend call.
type Error struct {
	Kind      error  // one of the sentinel kinds above
	Status    int    // HTTP status, 0 for transport and local failures
	Message   string // human readable summary
	Detail    any    // raw decoded detail payload, if any
	RequestID string
	Cause     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap exposes both the kind and the underlying cause to errors.Is.
func (e *Error) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

// validationError builds a local validation failure that never hit the network.
func validationError(format string, args ...any) error {
	return &Error{Kind: ErrValidation, Message: fmt.Sprintf(format, args...)}
}

// networkError wraps a transport failure.
func networkError(requestID string, cause error) error {
	return &Error{Kind: ErrNetwork, Message: "request failed", RequestID: requestID, Cause: cause}
}

// kindForStatus maps an HTTP status to an error kind.
func kindForStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuth
	case status == http.StatusNotFound:
		return ErrNotFound
	case status >= 500:
		return ErrServer
	default:
		return ErrValidation
	}
}

// decodeError turns a non-2xx response into an *Error.
func decodeError(resp *http.Response, requestID string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	message, detail := errorMessage(body, resp.StatusCode)
	if id := resp.Header.Get(headerRequestID); id != "" {
		requestID = id
	}
	return &Error{
		Kind:      kindForStatus(resp.StatusCode),
		Status:    resp.StatusCode,
		Message:   message,
		Detail:    detail,
		RequestID: requestID,
	}
}

// errorMessage extracts a readable message from an error body. JSON bodies
// contribute their "detail" (falling back to "message"); anything that is
// not JSON is used verbatim.
func errorMessage(body []byte, status int) (string, any) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return fmt.Sprintf("HTTP %d", status), nil
	}

	var payload any
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return string(trimmed), nil
	}

	obj, ok := payload.(map[string]any)
	if !ok {
		return fmt.Sprintf("HTTP %d", status), payload
	}

	detail, ok := obj["detail"]
	if !ok || detail == nil {
		detail = obj["message"]
	}
	return FormatDetail(detail, status), detail
}

// FormatDetail renders a decoded detail payload as a single line.
func FormatDetail(detail any, status int) string {
	switch d := detail.(type) {
	case nil:
		return fmt.Sprintf("HTTP %d", status)
	case string:
		return d
	case []any:
		parts := make([]string, 0, len(d))
		for _, item := range d {
			parts = append(parts, formatDetailItem(item))
		}
		return strings.Join(parts, " | ")
	case map[string]any:
		return marshalDetail(d)
	default:
		return fmt.Sprint(d)
	}
}

// formatDetailItem renders one validation problem as "loc.path: msg".
func formatDetailItem(item any) string {
	obj, ok := item.(map[string]any)
	if !ok {
		if s, ok := item.(string); ok {
			return s
		}
		return marshalDetail(item)
	}

	var loc string
	if parts, ok := obj["loc"].([]any); ok {
		segs := make([]string, 0, len(parts))
		for _, p := range parts {
			segs = append(segs, fmt.Sprint(p))
		}
		loc = strings.Join(segs, ".")
	}

	msg, ok := obj["msg"].(string)
	if !ok {
		msg = marshalDetail(item)
	}
	if loc == "" {
		return msg
	}
	return loc + ": " + msg
}

func marshalDetail(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
