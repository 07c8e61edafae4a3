// ABOUTME: Conversation and message handlers of the fake backend
// ABOUTME: Message posts honour Idempotency-Key through the replay cache

package fakebackend

import (
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/2389/coven-chat/internal/api"
)

const headerIdempotencyKey = "Idempotency-Key"

var errConversationGone = errors.New("conversation not found")

type titleRequest struct {
	Title string `json:"title"`
}

type messageRequest struct {
	Role    api.Role `json:"role"`
	Content string   `json:"content"`
}

// authorizedLocked resolves the :id parameter to a conversation u may use.
// On failure it writes the error response and returns nil.
func (s *Server) authorizedLocked(c *gin.Context, u *user) *conversation {
	id, err := parseID(c.Param("id"))
	if err != nil {
		fail(c, http.StatusNotFound, "Conversation not found")
		return nil
	}
	conv, ok := s.conversations[id]
	if !ok {
		fail(c, http.StatusNotFound, "Conversation not found")
		return nil
	}
	if u.role != RoleAdmin && conv.ownerID != u.id {
		fail(c, http.StatusForbidden, "Forbidden")
		return nil
	}
	return conv
}

func bindTitle(c *gin.Context, required bool) (string, bool) {
	var req titleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusUnprocessableEntity, fieldError("body", "invalid JSON"))
		return "", false
	}
	title := strings.TrimSpace(req.Title)
	if title == "" && required {
		fail(c, http.StatusUnprocessableEntity, fieldError("title", "String should have at least 1 character"))
		return "", false
	}
	if utf8.RuneCountInString(title) > api.MaxTitleLength {
		fail(c, http.StatusUnprocessableEntity, fieldError("title", "String should have at most 200 characters"))
		return "", false
	}
	return title, true
}

func (s *Server) handleListConversations(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"conversations": s.conversationsFor(currentUser(c))})
}

func (s *Server) handleCreateConversation(c *gin.Context) {
	title, ok := bindTitle(c, false)
	if !ok {
		return
	}
	if title == "" {
		title = DefaultTitle
	}
	u := currentUser(c)

	s.mu.Lock()
	s.nextID++
	now := time.Now().UTC()
	conv := &conversation{
		id:        s.nextID,
		ownerID:   u.id,
		title:     title,
		createdAt: now,
		updatedAt: now,
	}
	s.conversations[conv.id] = conv
	view := conv.view()
	s.mu.Unlock()

	s.logger.Debug("conversation created", "conversation_id", view.ID, "user_id", u.id)
	c.JSON(http.StatusOK, gin.H{"conversation": view})
}

func (s *Server) handleRenameConversation(c *gin.Context) {
	title, ok := bindTitle(c, true)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.authorizedLocked(c, currentUser(c))
	if conv == nil {
		return
	}
	conv.title = title
	conv.updatedAt = time.Now().UTC()
	c.JSON(http.StatusOK, conv.view())
}

func (s *Server) handleDeleteConversation(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.authorizedLocked(c, currentUser(c))
	if conv == nil {
		return
	}
	delete(s.conversations, conv.id)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleListMessages(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.authorizedLocked(c, currentUser(c))
	if conv == nil {
		return
	}
	msgs := append([]api.Message{}, conv.messages...)
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (s *Server) handlePostMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusUnprocessableEntity, fieldError("body", "invalid JSON"))
		return
	}
	if req.Role != "" && req.Role != api.RoleUser {
		fail(c, http.StatusUnprocessableEntity, fieldError("role", "Only user messages can be posted"))
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		fail(c, http.StatusUnprocessableEntity, fieldError("content", "String should have at least 1 character"))
		return
	}
	if utf8.RuneCountInString(content) > api.MaxMessageLength {
		fail(c, http.StatusUnprocessableEntity, fieldError("content", "String should have at most 20000 characters"))
		return
	}

	u := currentUser(c)
	s.mu.Lock()
	conv := s.authorizedLocked(c, u)
	s.mu.Unlock()
	if conv == nil {
		return
	}
	convID := conv.id

	create := func() (string, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		conv, ok := s.conversations[convID]
		if !ok {
			return "", errConversationGone
		}
		return string(s.appendMessageLocked(conv, api.RoleUser, content).ID), nil
	}

	var (
		msgID    string
		replayed bool
		err      error
	)
	if key := strings.TrimSpace(c.GetHeader(headerIdempotencyKey)); key != "" {
		msgID, replayed, err = s.replays.Do(string(formatID(u.id))+":"+string(formatID(convID))+":"+key, create)
	} else {
		msgID, err = create()
	}
	if err != nil {
		fail(c, http.StatusNotFound, "Conversation not found")
		return
	}
	if replayed {
		s.logger.Debug("replayed message post", "conversation_id", convID, "message_id", msgID)
	}

	msg, ok := s.findMessage(convID, api.ID(msgID))
	if !ok {
		fail(c, http.StatusNotFound, "Conversation not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

func (s *Server) findMessage(convID int64, msgID api.ID) (api.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[convID]
	if !ok {
		return api.Message{}, false
	}
	for _, m := range conv.messages {
		if m.ID == msgID {
			return m, true
		}
	}
	return api.Message{}, false
}
