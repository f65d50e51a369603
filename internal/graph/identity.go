package graph

import (
	"context"
	"net/http"
)

// Identity is the result of the describe-caller probe.
type Identity struct {
	UserID        string `json:"id"`
	PrincipalName string `json:"userPrincipalName"`
}

// ProbeIdentity performs a minimal authenticated read ("describe caller")
// to check that the bearer credential works. A *Error with ClassAuth means
// the credential is expired (401) or forbidden (403); Status distinguishes
// the two.
func (c *Client) ProbeIdentity(ctx context.Context, bearer string) (*Identity, error) {
	var id Identity
	_, err := c.do(ctx, "probe identity", bearer, http.MethodGet, c.baseURL+"/me", nil, &id)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// ResolveDefaultDrive returns the id of the caller's default drive.
func (c *Client) ResolveDefaultDrive(ctx context.Context, bearer string) (string, error) {
	var drive struct {
		ID string `json:"id"`
	}
	_, err := c.do(ctx, "resolve default drive", bearer, http.MethodGet, c.baseURL+"/me/drive", nil, &drive)
	if err != nil {
		return "", err
	}
	return drive.ID, nil
}
