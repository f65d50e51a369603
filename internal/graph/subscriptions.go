package graph

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Microsoft Graph's subscription wire format uses RFC3339 with fractional
// seconds; plain RFC3339 is accepted on writes.
const expiryFormat = time.RFC3339

// ProviderSubscription is a subscription record as the provider reports it.
type ProviderSubscription struct {
	ID              string
	Resource        string
	NotificationURL string
	ClientState     string
	Expiry          time.Time
}

type subscriptionPayload struct {
	ID                 string `json:"id,omitempty"`
	ChangeType         string `json:"changeType,omitempty"`
	NotificationURL    string `json:"notificationUrl,omitempty"`
	Resource           string `json:"resource,omitempty"`
	ClientState        string `json:"clientState,omitempty"`
	ExpirationDateTime string `json:"expirationDateTime,omitempty"`
}

func (p *subscriptionPayload) toSubscription(op string) (*ProviderSubscription, error) {
	expiry, err := time.Parse(time.RFC3339, p.ExpirationDateTime)
	if err != nil {
		return nil, &Error{Class: ClassFatal, Op: op,
			Message: fmt.Sprintf("unparseable expirationDateTime %q", p.ExpirationDateTime)}
	}
	return &ProviderSubscription{
		ID:              p.ID,
		Resource:        p.Resource,
		NotificationURL: p.NotificationURL,
		ClientState:     p.ClientState,
		Expiry:          expiry,
	}, nil
}

// CreateSubscription registers a push subscription. The provider performs a
// validation-challenge round-trip against notificationURL before answering,
// so the notification endpoint must already be serving.
func (c *Client) CreateSubscription(ctx context.Context, bearer, notificationURL, resource, clientState string, expiry time.Time) (*ProviderSubscription, error) {
	req := subscriptionPayload{
		ChangeType:         "updated",
		NotificationURL:    notificationURL,
		Resource:           resource,
		ClientState:        clientState,
		ExpirationDateTime: expiry.UTC().Format(expiryFormat),
	}
	var resp subscriptionPayload
	_, err := c.do(ctx, "create subscription", bearer, http.MethodPost, c.baseURL+"/subscriptions", &req, &resp)
	if err != nil {
		return nil, err
	}
	return resp.toSubscription("create subscription")
}

// GetSubscription fetches a subscription by id. A provider 404 returns
// (nil, nil): the record is simply gone.
func (c *Client) GetSubscription(ctx context.Context, bearer, id string) (*ProviderSubscription, error) {
	var resp subscriptionPayload
	_, err := c.do(ctx, "get subscription", bearer, http.MethodGet,
		c.baseURL+"/subscriptions/"+url.PathEscape(id), nil, &resp)
	if err != nil {
		if isNotFoundError(err) {
			return nil, nil
		}
		return nil, err
	}
	return resp.toSubscription("get subscription")
}

// RenewSubscription extends a subscription's expiry.
func (c *Client) RenewSubscription(ctx context.Context, bearer, id string, expiry time.Time) error {
	req := subscriptionPayload{ExpirationDateTime: expiry.UTC().Format(expiryFormat)}
	var resp subscriptionPayload
	_, err := c.do(ctx, "renew subscription", bearer, http.MethodPatch,
		c.baseURL+"/subscriptions/"+url.PathEscape(id), &req, &resp)
	return err
}

// DeleteSubscription removes a subscription. A provider 404 is treated as
// success: the record is already gone.
func (c *Client) DeleteSubscription(ctx context.Context, bearer, id string) error {
	_, err := c.do(ctx, "delete subscription", bearer, http.MethodDelete,
		c.baseURL+"/subscriptions/"+url.PathEscape(id), nil, nil)
	if err != nil && isNotFoundError(err) {
		return nil
	}
	return err
}

func isNotFoundError(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Status == http.StatusNotFound
}
