// Package graph is a typed wrapper over the provider's REST surface: the
// describe-caller probe, default-drive resolution, the paginated delta feed,
// and subscription CRUD. It hides pagination and transport retries; every
// failure surfaces as a *Error with one of four classes.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultBaseURL is the production provider endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// maxAttempts bounds retries for rate-limited and transient failures.
const maxAttempts = 5

// Client talks to the provider. The bearer credential is supplied per call
// so a credential swap does not require a new client.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the provider endpoint (tests point this at an
// httptest server).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// WithHTTPClient substitutes the transport.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient creates a provider client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do performs one HTTP call with retries. Rate-limited and transient
// failures are retried with exponential backoff up to maxAttempts, honoring
// a Retry-After hint when the provider sends one. Auth and fatal failures
// return immediately. On success the decoded body is written into out (when
// out is non-nil and the response has a body).
func (c *Client) do(ctx context.Context, op, bearer, method, url string, body, out any) (int, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return 0, &Error{Class: ClassFatal, Op: op, Message: fmt.Sprintf("encode request: %v", err)}
		}
	}

	var status int
	operation := func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return backoff.Permanent(&Error{Class: ClassFatal, Op: op, Message: err.Error()})
		}
		req.Header.Set("Authorization", "Bearer "+bearer)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(&Error{Class: ClassTransient, Op: op, Message: ctx.Err().Error()})
			}
			return &Error{Class: ClassTransient, Op: op, Message: err.Error()}
		}
		defer func() { _ = resp.Body.Close() }()

		status = resp.StatusCode
		if status >= 200 && status < 300 {
			if out == nil || status == http.StatusNoContent {
				return nil
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return backoff.Permanent(&Error{Class: ClassFatal, Status: status, Op: op,
					Message: fmt.Sprintf("decode response: %v", err)})
			}
			return nil
		}

		msg := readErrorBody(resp.Body)
		gerr := &Error{Class: classify(status), Status: status, Op: op, Message: msg}
		switch gerr.Class {
		case ClassRateLimited:
			if d := retryAfter(resp); d > 0 {
				// Wait out the provider hint before the next backoff attempt.
				select {
				case <-ctx.Done():
					return backoff.Permanent(gerr)
				case <-time.After(d):
				}
			}
			return gerr
		case ClassTransient:
			return gerr
		default:
			return backoff.Permanent(gerr)
		}
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxAttempts-1), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		return status, err
	}
	return status, nil
}

// retryAfter parses the Retry-After header, capped at one minute.
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if d > time.Minute {
		d = time.Minute
	}
	return d
}

// readErrorBody extracts the provider's error message, falling back to the
// raw body prefix.
func readErrorBody(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var parsed struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &parsed) == nil && parsed.Error.Message != "" {
		if parsed.Error.Code != "" {
			return parsed.Error.Code + ": " + parsed.Error.Message
		}
		return parsed.Error.Message
	}
	return string(raw)
}
