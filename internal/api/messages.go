// ABOUTME: Message history and message posting endpoints
// ABOUTME: Posts carry an Idempotency-Key so a retried POST is not duplicated

package api

import (
	"context"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxMessageLength is the longest message content the backend accepts.
const MaxMessageLength = 20000

// messageListResponse is the JSON response from GET .../messages.
type messageListResponse struct {
	Messages []Message `json:"messages"`
}

// messageCreateRequest is the JSON body sent to POST .../messages.
type messageCreateRequest struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// messageCreateResponse is the JSON response from POST .../messages.
type messageCreateResponse struct {
	Message struct {
		ID ID `json:"id"`
	} `json:"message"`
}

// ListMessages returns a conversation's messages, oldest first.
func (c *Client) ListMessages(ctx context.Context, conversationID ID) ([]Message, error) {
	seg, err := idPath("conversation", conversationID)
	if err != nil {
		return nil, err
	}

	var resp messageListResponse
	if err := c.do(ctx, http.MethodGet, "/api/conversations/"+seg+"/messages", nil, &resp, requestOptions{}); err != nil {
		return nil, err
	}
	if resp.Messages == nil {
		resp.Messages = []Message{}
	}
	return resp.Messages, nil
}

// PostMessage appends a user message. The content is trimmed; empty or
// oversized content is rejected locally. The returned message carries the
// server id and the content as sent.
func (c *Client) PostMessage(ctx context.Context, conversationID ID, content string) (Message, error) {
	seg, err := idPath("conversation", conversationID)
	if err != nil {
		return Message{}, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return Message{}, validationError("message must not be empty")
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return Message{}, validationError("message exceeds %d characters", MaxMessageLength)
	}

	var resp messageCreateResponse
	body := messageCreateRequest{Role: RoleUser, Content: content}
	ro := requestOptions{idempotencyKey: uuid.New().String()}
	if err := c.do(ctx, http.MethodPost, "/api/conversations/"+seg+"/messages", body, &resp, ro); err != nil {
		return Message{}, err
	}

	return Message{
		ID:        resp.Message.ID,
		Role:      RoleUser,
		Content:   content,
		CreatedAt: Time{Time: time.Now().UTC()},
	}, nil
}
