// ABOUTME: Tests for error body decoding and status classification
// ABOUTME: Mirrors the detail shapes the backend is known to emit

package api

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		want   string
	}{
		{
			name:   "string detail",
			body:   `{"detail":"Conversation not found"}`,
			status: 404,
			want:   "Conversation not found",
		},
		{
			name:   "validation list",
			body:   `{"detail":[{"loc":["body","title"],"msg":"too long"},{"loc":["body",0],"msg":"bad"}]}`,
			status: 422,
			want:   "body.title: too long | body.0: bad",
		},
		{
			name:   "object detail",
			body:   `{"detail":{"code":"x"}}`,
			status: 400,
			want:   `{"code":"x"}`,
		},
		{
			name:   "null detail",
			body:   `{"detail":null}`,
			status: 500,
			want:   "HTTP 500",
		},
		{
			name:   "message fallback",
			body:   `{"message":"slow down"}`,
			status: 429,
			want:   "slow down",
		},
		{
			name:   "non JSON body",
			body:   "Bad Gateway",
			status: 502,
			want:   "Bad Gateway",
		},
		{
			name:   "empty body",
			body:   "",
			status: 503,
			want:   "HTTP 503",
		},
		{
			name:   "JSON array body",
			body:   `["x"]`,
			status: 400,
			want:   "HTTP 400",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := errorMessage([]byte(tt.body), tt.status)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKindForStatus(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrAuth},
		{http.StatusForbidden, ErrAuth},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusBadRequest, ErrValidation},
		{http.StatusUnprocessableEntity, ErrValidation},
		{http.StatusInternalServerError, ErrServer},
		{http.StatusBadGateway, ErrServer},
	}

	for _, tt := range tests {
		assert.ErrorIs(t, kindForStatus(tt.status), tt.want, "status %d", tt.status)
	}
}

func TestError_UnwrapsKindAndCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := networkError("req-1", cause)

	assert.ErrorIs(t, err, ErrNetwork)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrServer)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestError_MessageIncludesStatus(t *testing.T) {
	err := &Error{Kind: ErrNotFound, Status: 404, Message: "Conversation not found"}
	assert.Equal(t, "Conversation not found (HTTP 404)", err.Error())
}
