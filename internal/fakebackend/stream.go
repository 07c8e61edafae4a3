// ABOUTME: SSE reply stream of the fake backend and the Script type that drives it
// ABOUTME: Commits the reply on done and the partial text when the client goes away

package fakebackend

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/2389/coven-chat/internal/api"
)

// Event is a raw stream event sent verbatim.
type Event struct {
	Name string
	Data string
}

// Script describes one streamed reply.
type Script struct {
	Tokens []string
	Delay  time.Duration // wait before each token
	Before []Event       // sent after meta, before the first token
	Gate   <-chan struct{}

	Fail        bool // send an error event after FailAfter tokens
	FailAfter   int
	ErrorDetail string

	NoDone   bool // end the response after the tokens without done
	HoldOpen bool // after the tokens, wait for the client to disconnect
}

// EchoReply answers with the prompt, one word per token.
func EchoReply(prompt string, delay time.Duration) Script {
	return Script{
		Tokens: strings.SplitAfter("You said: "+prompt, " "),
		Delay:  delay,
	}
}

// Reply is a script that sends tokens and then done.
func Reply(tokens ...string) Script {
	return Script{Tokens: tokens}
}

func (s *Server) handleStream(c *gin.Context) {
	s.mu.Lock()
	conv := s.authorizedLocked(c, currentUser(c))
	if conv == nil {
		s.mu.Unlock()
		return
	}
	if n := len(conv.messages); n == 0 || conv.messages[n-1].Role != api.RoleUser {
		s.mu.Unlock()
		fail(c, http.StatusBadRequest, "Last message must be a user message")
		return
	}
	prompt := conv.messages[len(conv.messages)-1].Content
	var script Script
	if len(conv.replies) > 0 {
		script = conv.replies[0]
		conv.replies = conv.replies[1:]
	} else {
		script = s.replier(prompt)
	}
	s.streams++
	convID := conv.id
	s.mu.Unlock()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	ctx := c.Request.Context()
	send := func(name string, data any) {
		c.SSEvent(name, data)
		c.Writer.Flush()
	}

	send(api.EventMeta, gin.H{"conversation_id": formatID(convID)})
	for _, ev := range script.Before {
		send(ev.Name, ev.Data)
	}

	if script.Gate != nil {
		select {
		case <-script.Gate:
		case <-ctx.Done():
			return
		}
	}

	var sent strings.Builder
	for i, tok := range script.Tokens {
		if script.Fail && i == script.FailAfter {
			send(api.EventError, gin.H{"detail": script.errorDetail()})
			return
		}
		if !sleep(ctx, script.Delay) {
			s.commitPartial(convID, sent.String())
			return
		}
		send(api.EventToken, gin.H{"token": tok})
		sent.WriteString(tok)
	}

	switch {
	case script.Fail:
		send(api.EventError, gin.H{"detail": script.errorDetail()})
	case script.HoldOpen:
		<-ctx.Done()
		s.commitPartial(convID, sent.String())
	case script.NoDone:
	default:
		payload := gin.H{}
		if msg, ok := s.commit(convID, sent.String()); ok {
			payload["assistant_message_id"] = msg.ID
		}
		send(api.EventDone, payload)
	}
}

func (sc Script) errorDetail() string {
	if sc.ErrorDetail == "" {
		return "model backend unavailable"
	}
	return sc.ErrorDetail
}

// sleep waits d unless ctx ends first. It reports whether ctx is still live.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// commit stores a finished assistant reply.
func (s *Server) commit(convID int64, text string) (api.Message, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		text = emptyReply
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[convID]
	if !ok {
		return api.Message{}, false
	}
	return s.appendMessageLocked(conv, api.RoleAssistant, text), true
}

// commitPartial stores what was sent before the client disconnected.
func (s *Server) commitPartial(convID int64, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	if msg, ok := s.commit(convID, text); ok {
		s.logger.Debug("stored partial reply", "conversation_id", convID, "message_id", msg.ID)
	}
}
