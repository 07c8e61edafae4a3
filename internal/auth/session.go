// ABOUTME: Cookie jar construction and on-disk persistence of session cookies
// ABOUTME: Lets the CLI keep the access and CSRF cookies between runs

package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/net/publicsuffix"
)

// storedCookie is the persisted form of a jar cookie. The jar only exposes
// name and value, so that is all that survives a round trip.
type storedCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// sessionFile is the JSON document written by SaveJar.
type sessionFile struct {
	BaseURL string         `json:"base_url"`
	SavedAt time.Time      `json:"saved_at"`
	Cookies []storedCookie `json:"cookies"`
}

// NewJar returns an empty cookie jar using the public suffix list.
func NewJar() (*cookiejar.Jar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	return jar, nil
}

// LoadJar returns a jar seeded from the session file at path. A missing
// file, or one saved for a different base URL, yields an empty jar.
func LoadJar(path string, base *url.URL) (*cookiejar.Jar, error) {
	jar, err := NewJar()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return jar, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return jar, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session file: %w", err)
	}

	var sf sessionFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parsing session file: %w", err)
	}
	if sf.BaseURL != base.String() {
		return jar, nil
	}

	cookies := make([]*http.Cookie, 0, len(sf.Cookies))
	for _, c := range sf.Cookies {
		cookies = append(cookies, &http.Cookie{Name: c.Name, Value: c.Value, Path: "/"})
	}
	jar.SetCookies(base, cookies)
	return jar, nil
}

// SaveJar writes the jar's cookies for base to path with mode 0600. An
// empty jar removes the file instead.
func SaveJar(path string, jar http.CookieJar, base *url.URL) error {
	if path == "" {
		return nil
	}

	cookies := jar.Cookies(base)
	if len(cookies) == 0 {
		return ClearSession(path)
	}

	sf := sessionFile{BaseURL: base.String(), SavedAt: time.Now().UTC()}
	for _, c := range cookies {
		sf.Cookies = append(sf.Cookies, storedCookie{Name: c.Name, Value: c.Value})
	}

	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}

	// Write then rename so a crash never leaves a half-written file
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing session file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing session file: %w", err)
	}
	return nil
}

// ClearSession deletes the session file. A missing file is not an error.
func ClearSession(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing session file: %w", err)
	}
	return nil
}

// CookieValue returns the value of the named cookie the jar would send to
// base, or "" when there is none.
func CookieValue(jar http.CookieJar, base *url.URL, name string) string {
	if jar == nil {
		return ""
	}
	for _, c := range jar.Cookies(base) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// SessionClaims decodes the access token cookie. It returns ErrNoSession
// when no cookie is present and ErrSessionExpired, together with the
// claims, when the token's expiry has passed.
func SessionClaims(jar http.CookieJar, base *url.URL, cookieName string) (*Claims, error) {
	token := CookieValue(jar, base, cookieName)
	if token == "" {
		return nil, ErrNoSession
	}

	claims, err := ParseClaims(token)
	if err != nil {
		return nil, err
	}
	if claims.Expired(time.Now()) {
		return claims, ErrSessionExpired
	}
	return claims, nil
}
