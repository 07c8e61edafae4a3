// ABOUTME: gin middleware for the fake backend: request logging, session and CSRF checks
// ABOUTME: Error bodies use the {"detail": ...} shape the client decodes

package fakebackend

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/2389/coven-chat/internal/api"
)

const (
	headerRequestID = "X-Request-ID"
	ctxUserKey      = "fakebackend.user"
)

// fail aborts the request with a {"detail": ...} body.
func fail(c *gin.Context, status int, detail any) {
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}

// fieldError builds a list-style validation detail for one body field.
func fieldError(field, msg string) []gin.H {
	return []gin.H{{"loc": []string{"body", field}, "msg": msg, "type": "value_error"}}
}

// requestLogger logs each request through slog and echoes X-Request-ID.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(headerRequestID)
		if requestID != "" {
			c.Header(headerRequestID, requestID)
		}

		c.Next()

		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"request_id", requestID,
		)
	}
}

// requireSession resolves the access cookie to an approved user.
func (s *Server) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(s.opts.AccessCookie)
		if err != nil || token == "" {
			fail(c, http.StatusUnauthorized, "Not authenticated")
			return
		}
		claims, err := s.verifier.Verify(token)
		if err != nil {
			fail(c, http.StatusUnauthorized, "Invalid session")
			return
		}

		s.mu.Lock()
		u, ok := s.users[claims.UserID()]
		var snapshot user
		if ok {
			snapshot = *u
		}
		s.mu.Unlock()

		if !ok {
			fail(c, http.StatusUnauthorized, "Invalid session")
			return
		}
		if snapshot.role != RoleAdmin && snapshot.status != api.StatusApproved {
			fail(c, http.StatusForbidden, "User not approved yet")
			return
		}
		c.Set(ctxUserKey, &snapshot)
		c.Next()
	}
}

// requireCSRF enforces the double-submit check on unsafe methods.
func (s *Server) requireCSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}
		cookie, _ := c.Cookie(s.opts.CSRFCookie)
		header := c.GetHeader(s.opts.CSRFHeader)
		if cookie == "" || header == "" || subtle.ConstantTimeCompare([]byte(cookie), []byte(header)) != 1 {
			fail(c, http.StatusForbidden, "CSRF check failed")
			return
		}
		c.Next()
	}
}

// requireAdmin allows only admins through. It runs after requireSession.
func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if currentUser(c).role != RoleAdmin {
			fail(c, http.StatusForbidden, "Admin only")
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) *user {
	return c.MustGet(ctxUserKey).(*user)
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery(), s.requestLogger())

	r.NoRoute(func(c *gin.Context) {
		fail(c, http.StatusNotFound, "Not Found")
	})
	r.NoMethod(func(c *gin.Context) {
		fail(c, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	authGroup := r.Group("/api/auth")
	authGroup.POST("/register", s.handleRegister)
	authGroup.POST("/login", s.handleLogin)
	authGroup.POST("/logout", s.handleLogout)

	signedIn := r.Group("/api")
	signedIn.Use(s.requireSession(), s.requireCSRF())
	signedIn.GET("/me", s.handleMe)

	convs := signedIn.Group("/conversations")
	convs.GET("", s.handleListConversations)
	convs.POST("", s.handleCreateConversation)
	convs.PATCH("/:id", s.handleRenameConversation)
	convs.DELETE("/:id", s.handleDeleteConversation)
	convs.GET("/:id/messages", s.handleListMessages)
	convs.POST("/:id/messages", s.handlePostMessage)
	convs.GET("/:id/stream", s.handleStream)

	admin := signedIn.Group("/admin")
	admin.Use(s.requireAdmin())
	admin.GET("/users", s.handleListUsers)
	admin.POST("/users/:id/approve", s.handleReviewUser(api.StatusApproved))
	admin.POST("/users/:id/deny", s.handleReviewUser(api.StatusDenied))

	return r
}
