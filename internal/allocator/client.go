package allocator

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/zeus-ci/zeus/internal/backoff"
	"github.com/zeus-ci/zeus/internal/logger"
)

// retryInterval paces polling while the user is at quota.
const retryInterval = time.Second

// Client talks to the allocator RPC endpoint. It satisfies runner.Tickets:
// Acquire blocks with constant backoff until a slot is granted.
type Client struct {
	http *resty.Client
}

// NewClient returns a Client against baseURL (http://host:port).
func NewClient(baseURL string) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(10 * time.Second),
	}
}

// RequestContainer asks for one slot and reports whether it was granted.
// Callers are expected to retry on false after a short delay.
func (c *Client) RequestContainer(ctx context.Context, username string) (bool, error) {
	var granted grantResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(requestBody{Username: username}).
		SetResult(&granted).
		Post("/v1/request-container")
	if err != nil {
		return false, fmt.Errorf("request container for %s: %w", username, err)
	}
	if resp.IsError() {
		return false, fmt.Errorf("request container for %s: status %d", username, resp.StatusCode())
	}
	return granted.Granted, nil
}

// ReturnContainer gives one slot back. Returning at zero is tolerated by
// the server, so a crash-recovered worker can always release.
func (c *Client) ReturnContainer(ctx context.Context, username string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(requestBody{Username: username}).
		Post("/v1/return-container")
	if err != nil {
		return fmt.Errorf("return container for %s: %w", username, err)
	}
	if resp.IsError() {
		return fmt.Errorf("return container for %s: status %d", username, resp.StatusCode())
	}
	return nil
}

// Acquire blocks until a slot is granted or ctx ends. Denials and transient
// RPC failures are retried at a constant interval.
func (c *Client) Acquire(ctx context.Context, username string) error {
	retrier := backoff.NewRetrier(backoff.NewConstantPolicy(retryInterval))
	for {
		granted, err := c.RequestContainer(ctx, username)
		if err != nil {
			logger.Warn(ctx, "allocator request failed, retrying",
				"username", username, "err", err)
		} else if granted {
			return nil
		}
		if err := retrier.Next(ctx); err != nil {
			return fmt.Errorf("acquire container slot for %s: %w", username, err)
		}
	}
}

// Release implements the runner ticket return; failures are logged, never
// fatal, because the server clamps counts at zero.
func (c *Client) Release(ctx context.Context, username string) {
	if err := c.ReturnContainer(ctx, username); err != nil {
		logger.Warn(ctx, "allocator return failed", "username", username, "err", err)
	}
}

// Local adapts a Registry into the runner ticket interface for standalone
// runs that have no allocator server, applying a fixed limit.
type Local struct {
	Registry *Registry
	Limit    int
}

// Acquire blocks until the registry grants a slot under the fixed limit.
func (l Local) Acquire(ctx context.Context, username string) error {
	retrier := backoff.NewRetrier(backoff.NewConstantPolicy(retryInterval))
	for {
		if l.Registry.Request(username, l.Limit) {
			return nil
		}
		if err := retrier.Next(ctx); err != nil {
			return err
		}
	}
}

// Release returns the slot to the registry.
func (l Local) Release(_ context.Context, username string) {
	l.Registry.Return(username)
}
