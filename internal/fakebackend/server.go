// ABOUTME: In-memory chat backend built on gin for tests and local runs
// ABOUTME: Holds users, conversations and messages and queues scripted replies

package fakebackend

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/coven-chat/internal/api"
	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/idempotency"
)

// Defaults for Options
const (
	DefaultTokenTTL       = 24 * time.Hour
	DefaultIdempotencyTTL = 10 * time.Minute
	DefaultTitle          = "New Chat"
	emptyReply            = "(No output from model)"
)

// User roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// ErrEmailTaken is returned by AddUser for a duplicate email.
var ErrEmailTaken = errors.New("email already registered")

// Options configures a Server.
type Options struct {
	Secret        []byte        // HS256 signing key; random when empty
	TokenTTL      time.Duration // access token lifetime
	AccessCookie  string
	CSRFCookie    string
	CSRFHeader    string
	BcryptCost    int           // bcrypt.DefaultCost when zero
	TokenDelay    time.Duration // default delay between tokens
	AdminEmail    string        // seeded approved admin, if set
	AdminPassword string
	Logger        *slog.Logger
}

type user struct {
	id        int64
	email     string
	hash      []byte
	role      string
	status    string
	createdAt time.Time
}

func (u *user) view() api.User {
	return api.User{
		ID:        formatID(u.id),
		Email:     u.email,
		Role:      u.role,
		Status:    u.status,
		CreatedAt: api.Time{Time: u.createdAt},
	}
}

type conversation struct {
	id        int64
	ownerID   int64
	title     string
	createdAt time.Time
	updatedAt time.Time
	messages  []api.Message
	replies   []Script
}

func (c *conversation) view() api.Conversation {
	return api.Conversation{
		ID:        formatID(c.id),
		Title:     c.title,
		CreatedAt: api.Time{Time: c.createdAt},
		UpdatedAt: api.Time{Time: c.updatedAt},
	}
}

// Server is the fake backend. Create it with New and serve Handler.
type Server struct {
	opts     Options
	logger   *slog.Logger
	verifier *auth.JWTVerifier
	replays  *idempotency.Cache
	engine   *gin.Engine

	mu            sync.Mutex
	nextID        int64
	users         map[int64]*user
	byEmail       map[string]int64
	conversations map[int64]*conversation
	replier       func(prompt string) Script
	streams       int
	userPosts     int
}

// New creates a server. It does not listen; mount Handler on an
// http.Server or httptest.Server.
func New(opts Options) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if len(opts.Secret) == 0 {
		opts.Secret = make([]byte, 32)
		if _, err := rand.Read(opts.Secret); err != nil {
			return nil, fmt.Errorf("generating token secret: %w", err)
		}
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = DefaultTokenTTL
	}
	if opts.AccessCookie == "" {
		opts.AccessCookie = api.DefaultAccessCookie
	}
	if opts.CSRFCookie == "" {
		opts.CSRFCookie = api.DefaultCSRFCookie
	}
	if opts.CSRFHeader == "" {
		opts.CSRFHeader = api.DefaultCSRFHeader
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}

	s := &Server{
		opts:          opts,
		logger:        opts.Logger.With("component", "fakebackend"),
		verifier:      auth.NewJWTVerifier(opts.Secret),
		replays:       idempotency.New(DefaultIdempotencyTTL, 10000),
		users:         make(map[int64]*user),
		byEmail:       make(map[string]int64),
		conversations: make(map[int64]*conversation),
	}
	s.replier = func(prompt string) Script {
		return EchoReply(prompt, s.opts.TokenDelay)
	}

	if opts.AdminEmail != "" {
		if _, err := s.AddUser(opts.AdminEmail, opts.AdminPassword, RoleAdmin, api.StatusApproved); err != nil {
			s.replays.Close()
			return nil, fmt.Errorf("seeding admin: %w", err)
		}
	}

	s.engine = s.routes()
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Close releases background resources.
func (s *Server) Close() {
	s.replays.Close()
}

// AddUser creates an account directly, bypassing registration.
func (s *Server) AddUser(email, password, role, status string) (api.ID, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return "", errors.New("email and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.opts.BcryptCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byEmail[email]; ok {
		return "", ErrEmailTaken
	}
	s.nextID++
	u := &user{
		id:        s.nextID,
		email:     email,
		hash:      hash,
		role:      role,
		status:    status,
		createdAt: time.Now().UTC(),
	}
	s.users[u.id] = u
	s.byEmail[email] = u.id
	return formatID(u.id), nil
}

// SetReplier replaces the default reply for conversations with no queued
// script.
func (s *Server) SetReplier(f func(prompt string) Script) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replier = f
}

// QueueReply queues scripts for the next streams of a conversation, one
// script per stream.
func (s *Server) QueueReply(id api.ID, scripts ...Script) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.lookupLocked(id)
	if err != nil {
		return err
	}
	conv.replies = append(conv.replies, scripts...)
	return nil
}

// Messages returns a copy of a conversation's stored messages.
func (s *Server) Messages(id api.ID) ([]api.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.lookupLocked(id)
	if err != nil {
		return nil, err
	}
	return append([]api.Message(nil), conv.messages...), nil
}

// StreamCount returns how many streams have been opened.
func (s *Server) StreamCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams
}

// UserMessageCount returns how many user messages have been stored.
func (s *Server) UserMessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userPosts
}

func (s *Server) lookupLocked(id api.ID) (*conversation, error) {
	n, err := parseID(string(id))
	if err != nil {
		return nil, fmt.Errorf("conversation %q: %w", id, err)
	}
	conv, ok := s.conversations[n]
	if !ok {
		return nil, fmt.Errorf("conversation %q not found", id)
	}
	return conv, nil
}

// conversationsFor returns the conversations u may see, most recently
// updated first.
func (s *Server) conversationsFor(u *user) []api.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	var convs []*conversation
	for _, c := range s.conversations {
		if u.role == RoleAdmin || c.ownerID == u.id {
			convs = append(convs, c)
		}
	}
	sort.Slice(convs, func(i, j int) bool {
		if !convs[i].updatedAt.Equal(convs[j].updatedAt) {
			return convs[i].updatedAt.After(convs[j].updatedAt)
		}
		return convs[i].id > convs[j].id
	})

	out := make([]api.Conversation, 0, len(convs))
	for _, c := range convs {
		out = append(out, c.view())
	}
	return out
}

// appendMessageLocked stores a message and bumps the conversation.
func (s *Server) appendMessageLocked(conv *conversation, role api.Role, content string) api.Message {
	s.nextID++
	now := time.Now().UTC()
	msg := api.Message{
		ID:        formatID(s.nextID),
		Role:      role,
		Content:   content,
		CreatedAt: api.Time{Time: now},
	}
	conv.messages = append(conv.messages, msg)
	conv.updatedAt = now
	if role == api.RoleUser {
		s.userPosts++
	}
	return msg
}

func formatID(n int64) api.ID {
	return api.ID(strconv.FormatInt(n, 10))
}

func parseID(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, errors.New("invalid id")
	}
	return n, nil
}
