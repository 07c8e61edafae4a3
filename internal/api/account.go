// ABOUTME: Account endpoints: login, registration, logout and /api/me
// ABOUTME: Session cookies set by the server land in the client's jar

package api

import (
	"context"
	"net/http"
	"strings"
)

// credentials is the body of login and register calls.
type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func newCredentials(email, password string) (credentials, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return credentials{}, validationError("email is required")
	}
	if password == "" {
		return credentials{}, validationError("password is required")
	}
	return credentials{Email: email, Password: password}, nil
}

// Login authenticates and stores the session cookies in the jar.
func (c *Client) Login(ctx context.Context, email, password string) error {
	body, err := newCredentials(email, password)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/api/auth/login", body, nil, requestOptions{anonymous: true})
}

// Register creates an account that awaits admin approval.
func (c *Client) Register(ctx context.Context, email, password string) (Registration, error) {
	body, err := newCredentials(email, password)
	if err != nil {
		return Registration{}, err
	}
	var resp Registration
	if err := c.do(ctx, http.MethodPost, "/api/auth/register", body, &resp, requestOptions{anonymous: true}); err != nil {
		return Registration{}, err
	}
	return resp, nil
}

// Logout asks the server to clear the session cookies.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/auth/logout", nil, nil, requestOptions{anonymous: true})
}

// Me returns the signed-in user.
func (c *Client) Me(ctx context.Context) (User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "/api/me", nil, &u, requestOptions{}); err != nil {
		return User{}, err
	}
	return u, nil
}
