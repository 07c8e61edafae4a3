// ABOUTME: HTTP client core: request construction, CSRF echo and JSON decoding
// ABOUTME: Classifies every failure into the api error taxonomy

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-chat/internal/auth"
)

// Header and cookie names used by the backend.
const (
	headerRequestID      = "X-Request-ID"
	headerIdempotencyKey = "Idempotency-Key"

	DefaultAccessCookie = "access_token"
	DefaultCSRFCookie   = "csrf_token"
	DefaultCSRFHeader   = "X-CSRF-Token"

	// DefaultRequestTimeout bounds plain REST calls. Streams are unbounded.
	DefaultRequestTimeout = 30 * time.Second
)

// Options configures a Client.
type Options struct {
	BaseURL        string
	HTTPClient     *http.Client   // optional; Jar is attached to a copy
	Jar            http.CookieJar // optional; an empty jar is created when nil
	RequestTimeout time.Duration
	AccessCookie   string
	CSRFCookie     string
	CSRFHeader     string
	Logger         *slog.Logger
}

// Client talks to the chat backend. It is safe for concurrent use.
type Client struct {
	baseURL        *url.URL
	http           *http.Client
	requestTimeout time.Duration
	accessCookie   string
	csrfCookie     string
	csrfHeader     string
	logger         *slog.Logger
}

// New creates a client for the backend at opts.BaseURL.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("base url is required")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", opts.BaseURL)
	}

	jar := opts.Jar
	if jar == nil {
		jar, err = auth.NewJar()
		if err != nil {
			return nil, err
		}
	}

	// Copy so the caller's client is not mutated. The client-level timeout
	// stays zero because it would also cut long-lived streams.
	hc := &http.Client{}
	if opts.HTTPClient != nil {
		*hc = *opts.HTTPClient
	}
	hc.Jar = jar
	hc.Timeout = 0

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		baseURL:        base,
		http:           hc,
		requestTimeout: opts.RequestTimeout,
		accessCookie:   opts.AccessCookie,
		csrfCookie:     opts.CSRFCookie,
		csrfHeader:     opts.CSRFHeader,
		logger:         logger.With("component", "api"),
	}
	if c.requestTimeout == 0 {
		c.requestTimeout = DefaultRequestTimeout
	}
	if c.accessCookie == "" {
		c.accessCookie = DefaultAccessCookie
	}
	if c.csrfCookie == "" {
		c.csrfCookie = DefaultCSRFCookie
	}
	if c.csrfHeader == "" {
		c.csrfHeader = DefaultCSRFHeader
	}
	return c, nil
}

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// Jar returns the cookie jar holding the session cookies.
func (c *Client) Jar() http.CookieJar {
	return c.http.Jar
}

// Session decodes the current access token without verifying it.
func (c *Client) Session() (*auth.Claims, error) {
	return auth.SessionClaims(c.http.Jar, c.baseURL, c.accessCookie)
}

// requestOptions tweak a single request.
type requestOptions struct {
	idempotencyKey string
	accept         string
	anonymous      bool // skip the local session expiry check
}

// newRequest builds a request for path (relative to the base URL) with an
// optional JSON body. It returns the request id it assigned.
func (c *Client) newRequest(ctx context.Context, method, path string, body any, ro requestOptions) (*http.Request, string, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, "", fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return nil, "", fmt.Errorf("building request: %w", err)
	}

	requestID := uuid.New().String()
	req.Header.Set(headerRequestID, requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if ro.accept != "" {
		req.Header.Set("Accept", ro.accept)
	} else {
		req.Header.Set("Accept", "application/json")
	}
	if ro.idempotencyKey != "" {
		req.Header.Set(headerIdempotencyKey, ro.idempotencyKey)
	}

	if method != http.MethodGet && method != http.MethodHead {
		if token := auth.CookieValue(c.http.Jar, c.baseURL, c.csrfCookie); token != "" {
			req.Header.Set(c.csrfHeader, token)
		}
	}
	return req, requestID, nil
}

// checkSession refuses to send a request with an access token that has
// already expired. Opaque or missing tokens are left to the server.
func (c *Client) checkSession(requestID string) error {
	_, err := auth.SessionClaims(c.http.Jar, c.baseURL, c.accessCookie)
	if errors.Is(err, auth.ErrSessionExpired) {
		return &Error{Kind: ErrAuth, Message: "session expired, log in again", RequestID: requestID, Cause: err}
	}
	return nil
}

// send executes req and returns the response when it has a 2xx status.
func (c *Client) send(req *http.Request, requestID string, ro requestOptions) (*http.Response, error) {
	if !ro.anonymous {
		if err := c.checkSession(requestID); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, networkError(requestID, err)
	}

	c.logger.Debug("request",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"request_id", requestID,
		"duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, decodeError(resp, requestID)
	}
	return resp, nil
}

// do performs a bounded JSON round trip. out may be nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any, ro requestOptions) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, requestID, err := c.newRequest(ctx, method, path, body, ro)
	if err != nil {
		return err
	}

	resp, err := c.send(req, requestID, ro)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Kind: ErrServer, Status: resp.StatusCode, Message: "decoding response", RequestID: requestID, Cause: err}
	}
	return nil
}

// idPath escapes an id for use as a path segment, rejecting empty ids.
func idPath(kind string, id ID) (string, error) {
	if id.IsZero() {
		return "", validationError("%s id is required", kind)
	}
	return url.PathEscape(id.String()), nil
}
