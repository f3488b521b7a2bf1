// Package peersync implements the peersync port over HTTP+JSON: each fleet
// peer exposes a small sync API (push/status) that this client calls.
package peersync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lancejames221b/haivemind/internal/domain/syncevent"
	ps "github.com/lancejames221b/haivemind/internal/port/peersync"
	"github.com/lancejames221b/haivemind/internal/resilience"
)

// Factory builds HTTP Clients for peers, sharing one http.Client across them.
type Factory struct {
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewFactory creates a Factory with the given request timeout.
func NewFactory(timeout time.Duration) *Factory {
	return &Factory{httpClient: &http.Client{Timeout: timeout}}
}

// SetBreaker attaches a circuit breaker every Client built by this factory shares.
func (f *Factory) SetBreaker(b *resilience.Breaker) {
	f.breaker = b
}

// NewClient builds a Client for one peer's endpoint.
func (f *Factory) NewClient(endpoint, token string) ps.Client {
	return &Client{httpClient: f.httpClient, breaker: f.breaker, endpoint: endpoint, token: token}
}

// Client talks to one peer's sync HTTP API.
type Client struct {
	httpClient *http.Client
	breaker    *resilience.Breaker
	endpoint   string
	token      string
}

// Endpoint returns the peer's configured address.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Push delivers events to the peer's /sync/push endpoint.
func (c *Client) Push(ctx context.Context, events []syncevent.Event) ([]syncevent.PushResult, error) {
	var results []syncevent.PushResult

	call := func() error {
		body, err := json.Marshal(events)
		if err != nil {
			return fmt.Errorf("marshal push events: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/sync/push", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build push request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("push request to %s: %w", c.endpoint, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("push to %s returned %d: %s", c.endpoint, resp.StatusCode, string(b))
		}

		return json.NewDecoder(resp.Body).Decode(&results)
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Status fetches the peer's /sync/status endpoint.
func (c *Client) Status(ctx context.Context) (*syncevent.Status, error) {
	var status syncevent.Status

	call := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/sync/status", nil)
		if err != nil {
			return fmt.Errorf("build status request: %w", err)
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("status request to %s: %w", c.endpoint, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("status from %s returned %d: %s", c.endpoint, resp.StatusCode, string(b))
		}

		return json.NewDecoder(resp.Body).Decode(&status)
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		return nil, err
	}
	return &status, nil
}
