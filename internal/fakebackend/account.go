// ABOUTME: Account and admin handlers of the fake backend
// ABOUTME: Registration, cookie login/logout, /api/me and user approval

package fakebackend

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/2389/coven-chat/internal/api"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// bindCredentials decodes and validates a login or register body.
func bindCredentials(c *gin.Context) (credentialsRequest, bool) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusUnprocessableEntity, fieldError("body", "invalid JSON"))
		return req, false
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	local, domain, ok := strings.Cut(req.Email, "@")
	if !ok || local == "" || domain == "" {
		fail(c, http.StatusUnprocessableEntity, fieldError("email", "Invalid email format (must contain '@')."))
		return req, false
	}
	if len(req.Password) < 3 {
		fail(c, http.StatusUnprocessableEntity, fieldError("password", "String should have at least 3 characters"))
		return req, false
	}
	return req, true
}

func (s *Server) handleRegister(c *gin.Context) {
	req, ok := bindCredentials(c)
	if !ok {
		return
	}
	if _, err := s.AddUser(req.Email, req.Password, RoleUser, api.StatusPending); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			fail(c, http.StatusConflict, "Email already registered")
			return
		}
		s.logger.Error("registering user", "error", err)
		fail(c, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	s.logger.Info("user registered", "email", req.Email)
	c.JSON(http.StatusOK, api.Registration{Status: api.StatusPending, Message: "registered"})
}

func (s *Server) handleLogin(c *gin.Context) {
	req, ok := bindCredentials(c)
	if !ok {
		return
	}

	s.mu.Lock()
	var u user
	id, found := s.byEmail[req.Email]
	if found {
		u = *s.users[id]
	}
	s.mu.Unlock()

	if !found || bcrypt.CompareHashAndPassword(u.hash, []byte(req.Password)) != nil {
		fail(c, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if u.role != RoleAdmin && u.status != api.StatusApproved {
		fail(c, http.StatusForbidden, "User not approved yet")
		return
	}

	token, err := s.verifier.Generate(string(formatID(u.id)), u.role, s.opts.TokenTTL)
	if err != nil {
		s.logger.Error("signing access token", "error", err)
		fail(c, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	csrf, err := newCSRFToken()
	if err != nil {
		s.logger.Error("generating csrf token", "error", err)
		fail(c, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	maxAge := int(s.opts.TokenTTL.Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.opts.AccessCookie, token, maxAge, "/", "", false, true)
	c.SetCookie(s.opts.CSRFCookie, csrf, maxAge, "/", "", false, false)

	s.logger.Info("user logged in", "user_id", u.id)
	c.JSON(http.StatusOK, u.view())
}

func (s *Server) handleLogout(c *gin.Context) {
	c.SetCookie(s.opts.AccessCookie, "", -1, "/", "", false, true)
	c.SetCookie(s.opts.CSRFCookie, "", -1, "/", "", false, false)
	c.JSON(http.StatusOK, gin.H{"ok": true, "message": "logged out"})
}

func (s *Server) handleMe(c *gin.Context) {
	c.JSON(http.StatusOK, currentUser(c).view())
}

func (s *Server) handleListUsers(c *gin.Context) {
	status := c.Query("status")

	s.mu.Lock()
	var matched []*user
	for _, u := range s.users {
		if status == "" || u.status == status {
			matched = append(matched, u)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].id < matched[j].id })
	users := make([]api.User, 0, len(matched))
	for _, u := range matched {
		users = append(users, u.view())
	}
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (s *Server) handleReviewUser(status string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := parseID(c.Param("id"))
		if err != nil {
			fail(c, http.StatusNotFound, "User not found")
			return
		}

		s.mu.Lock()
		u, ok := s.users[id]
		if ok {
			u.status = status
		}
		var view api.User
		if ok {
			view = u.view()
		}
		s.mu.Unlock()

		if !ok {
			fail(c, http.StatusNotFound, "User not found")
			return
		}
		s.logger.Info("user reviewed", "user_id", id, "status", status, "by", currentUser(c).id)
		c.JSON(http.StatusOK, view)
	}
}

func newCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
