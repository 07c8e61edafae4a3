// Package api is the HTTP client for the chat backend.
//
// # Overview
//
// Client wraps the backend's REST and streaming endpoints:
//
//	GET    /api/conversations                      ListConversations
//	POST   /api/conversations                      CreateConversation
//	PATCH  /api/conversations/{id}                 RenameConversation
//	DELETE /api/conversations/{id}                 DeleteConversation
//	GET    /api/conversations/{id}/messages        ListMessages
//	POST   /api/conversations/{id}/messages        PostMessage
//	GET    /api/conversations/{id}/stream          OpenStream (text/event-stream)
//	POST   /api/auth/login|register|logout         Login, Register, Logout
//	GET    /api/me                                 Me
//	GET    /api/admin/users?status=pending         ListPendingUsers
//	POST   /api/admin/users/{id}/approve|deny      ApproveUser, DenyUser
//
// # Errors
//
// Every failure is an *Error whose Kind is one of the sentinel errors, so
// callers branch with errors.Is:
//
//	if errors.Is(err, api.ErrNotFound) { ... }
//
// Error messages are derived from the response body: a string "detail" is
// used as is, a list of validation problems is flattened to
// "loc.path: msg | ...", any other object is rendered as JSON, and an
// empty body becomes "HTTP <status>".
//
// # Requests
//
// Each request carries a fresh X-Request-ID. Mutating requests echo the
// CSRF cookie in the CSRF header, and message posts carry an
// Idempotency-Key so a retried POST does not create a second message.
package api
