// ABOUTME: Tests for cookie jar persistence and session claim lookup
// ABOUTME: Uses temp directories so no real session file is touched

package auth

import (
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestSaveAndLoadJar(t *testing.T) {
	base := mustURL(t, "http://127.0.0.1:8000")
	path := filepath.Join(t.TempDir(), "session.json")

	jar, err := NewJar()
	require.NoError(t, err)
	jar.SetCookies(base, []*http.Cookie{
		{Name: "access_token", Value: "tok", Path: "/"},
		{Name: "csrf_token", Value: "csrf", Path: "/"},
	})

	require.NoError(t, SaveJar(path, jar, base))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadJar(path, base)
	require.NoError(t, err)
	assert.Equal(t, "tok", CookieValue(loaded, base, "access_token"))
	assert.Equal(t, "csrf", CookieValue(loaded, base, "csrf_token"))
}

func TestLoadJar_MissingFile(t *testing.T) {
	base := mustURL(t, "http://localhost:8000")

	jar, err := LoadJar(filepath.Join(t.TempDir(), "absent.json"), base)
	require.NoError(t, err)
	assert.Empty(t, jar.Cookies(base))
}

func TestLoadJar_DifferentServerIgnored(t *testing.T) {
	base := mustURL(t, "http://127.0.0.1:8000")
	other := mustURL(t, "http://127.0.0.1:9000")
	path := filepath.Join(t.TempDir(), "session.json")

	jar, err := NewJar()
	require.NoError(t, err)
	jar.SetCookies(base, []*http.Cookie{{Name: "access_token", Value: "tok", Path: "/"}})
	require.NoError(t, SaveJar(path, jar, base))

	loaded, err := LoadJar(path, other)
	require.NoError(t, err)
	assert.Empty(t, CookieValue(loaded, other, "access_token"))
}

func TestSaveJar_EmptyRemovesFile(t *testing.T) {
	base := mustURL(t, "http://127.0.0.1:8000")
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))

	jar, err := NewJar()
	require.NoError(t, err)
	require.NoError(t, SaveJar(path, jar, base))

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestClearSession_MissingIsFine(t *testing.T) {
	assert.NoError(t, ClearSession(filepath.Join(t.TempDir(), "nothing.json")))
}

func TestSessionClaims(t *testing.T) {
	base := mustURL(t, "http://127.0.0.1:8000")
	verifier := NewJWTVerifier([]byte("test-secret-key-for-jwt-signing"))

	t.Run("no cookie", func(t *testing.T) {
		jar, err := NewJar()
		require.NoError(t, err)
		_, err = SessionClaims(jar, base, "access_token")
		assert.ErrorIs(t, err, ErrNoSession)
	})

	t.Run("valid", func(t *testing.T) {
		token, err := verifier.Generate("3", "user", time.Hour)
		require.NoError(t, err)
		jar, err := NewJar()
		require.NoError(t, err)
		jar.SetCookies(base, []*http.Cookie{{Name: "access_token", Value: token, Path: "/"}})

		claims, err := SessionClaims(jar, base, "access_token")
		require.NoError(t, err)
		assert.Equal(t, int64(3), claims.UserID())
	})

	t.Run("expired", func(t *testing.T) {
		token, err := verifier.Generate("3", "user", -time.Minute)
		require.NoError(t, err)
		jar, err := NewJar()
		require.NoError(t, err)
		jar.SetCookies(base, []*http.Cookie{{Name: "access_token", Value: token, Path: "/"}})

		claims, err := SessionClaims(jar, base, "access_token")
		assert.ErrorIs(t, err, ErrSessionExpired)
		require.NotNil(t, claims)
		assert.Equal(t, "3", claims.Subject)
	})
}
