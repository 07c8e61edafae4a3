// ABOUTME: Admin endpoints for reviewing account registrations
// ABOUTME: Lists pending users and approves or denies them

package api

import (
	"context"
	"net/http"
	"net/url"
)

// userListResponse is the JSON response from GET /api/admin/users.
type userListResponse struct {
	Users []User `json:"users"`
}

// ListUsers returns accounts with the given status, or all when status is "".
func (c *Client) ListUsers(ctx context.Context, status string) ([]User, error) {
	path := "/api/admin/users"
	if status != "" {
		path += "?" + url.Values{"status": {status}}.Encode()
	}

	var resp userListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, requestOptions{}); err != nil {
		return nil, err
	}
	if resp.Users == nil {
		resp.Users = []User{}
	}
	return resp.Users, nil
}

// ListPendingUsers returns accounts awaiting approval.
func (c *Client) ListPendingUsers(ctx context.Context) ([]User, error) {
	return c.ListUsers(ctx, StatusPending)
}

// ApproveUser approves a pending account.
func (c *Client) ApproveUser(ctx context.Context, id ID) error {
	return c.reviewUser(ctx, id, "approve")
}

// DenyUser denies a pending account.
func (c *Client) DenyUser(ctx context.Context, id ID) error {
	return c.reviewUser(ctx, id, "deny")
}

func (c *Client) reviewUser(ctx context.Context, id ID, action string) error {
	seg, err := idPath("user", id)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/api/admin/users/"+seg+"/"+action, nil, nil, requestOptions{})
}
