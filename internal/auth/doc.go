// Package auth handles session credentials for the chat client and the
// token signing used by the local fake backend.
//
// # Sessions
//
// The backend authenticates with two cookies: an HttpOnly JWT access token
// and a readable CSRF token that must be echoed in a header on mutating
// requests. The client keeps both in a cookie jar that is persisted to a
// JSON file (mode 0600) between runs:
//
//	jar, err := auth.LoadJar(path, baseURL)
//	...
//	err = auth.SaveJar(path, jar, baseURL)
//
// # Claims
//
// The client never holds the signing secret. It decodes the access token
// without verification only to show who is signed in and to refuse
// requests with a token that has already expired:
//
//	claims, err := auth.SessionClaims(jar, baseURL, "access_token")
//	if errors.Is(err, auth.ErrSessionExpired) { ... }
//
// # Signing
//
// JWTVerifier issues and verifies HS256 tokens carrying sub, role, iat and
// exp claims. Only the fake backend uses it.
package auth
