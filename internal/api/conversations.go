// ABOUTME: Conversation CRUD endpoints of the backend client
// ABOUTME: Lists, creates, renames and deletes conversations

package api

import (
	"context"
	"net/http"
	"strings"
	"unicode/utf8"
)

// MaxTitleLength is the longest title the backend stores.
const MaxTitleLength = 200

// conversationListResponse is the JSON response from GET /api/conversations.
type conversationListResponse struct {
	Conversations []Conversation `json:"conversations"`
}

// conversationResponse is the JSON response from POST /api/conversations.
type conversationResponse struct {
	Conversation Conversation `json:"conversation"`
}

// titleRequest is the body of create and rename calls.
type titleRequest struct {
	Title string `json:"title,omitempty"`
}

// ListConversations returns the caller's conversations, most recently
// updated first as ordered by the backend.
func (c *Client) ListConversations(ctx context.Context) ([]Conversation, error) {
	var resp conversationListResponse
	if err := c.do(ctx, http.MethodGet, "/api/conversations", nil, &resp, requestOptions{}); err != nil {
		return nil, err
	}
	if resp.Conversations == nil {
		resp.Conversations = []Conversation{}
	}
	return resp.Conversations, nil
}

// CreateConversation creates a conversation. An empty title lets the
// backend choose its default.
func (c *Client) CreateConversation(ctx context.Context, title string) (Conversation, error) {
	title = strings.TrimSpace(title)
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return Conversation{}, validationError("title exceeds %d characters", MaxTitleLength)
	}

	var resp conversationResponse
	if err := c.do(ctx, http.MethodPost, "/api/conversations", titleRequest{Title: title}, &resp, requestOptions{}); err != nil {
		return Conversation{}, err
	}
	return resp.Conversation, nil
}

// RenameConversation changes a conversation's title.
func (c *Client) RenameConversation(ctx context.Context, id ID, title string) error {
	seg, err := idPath("conversation", id)
	if err != nil {
		return err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return validationError("title must not be empty")
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return validationError("title exceeds %d characters", MaxTitleLength)
	}
	return c.do(ctx, http.MethodPatch, "/api/conversations/"+seg, titleRequest{Title: title}, nil, requestOptions{})
}

// DeleteConversation removes a conversation and its messages.
func (c *Client) DeleteConversation(ctx context.Context, id ID) error {
	seg, err := idPath("conversation", id)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, "/api/conversations/"+seg, nil, nil, requestOptions{})
}
