// Package fakebackend is an in-memory chat backend speaking the same HTTP
// contract as the real one.
//
// It exists so the client can be exercised end to end without a model
// server: tests start it behind httptest, and cmd/fake-backend serves it on
// a local port for manual runs.
//
// # Accounts
//
// Users register as pending and must be approved by an admin before they
// can log in. Login sets an HS256 access token cookie and a CSRF cookie;
// every state-changing request below /api (except the auth endpoints) must
// echo the CSRF cookie in the CSRF header.
//
// # Replies
//
// A stream request answers the conversation's last user message. The reply
// is taken from the scripts queued with QueueReply, or from the default
// replier (an echo of the prompt). A Script can delay tokens, inject raw
// events, fail with an error event, end without done, or hold the
// connection open until the client goes away.
//
// The assistant message is stored when done is sent. If the client
// disconnects mid-reply, whatever was already sent is stored instead.
package fakebackend
