// ABOUTME: HTTP client for the gateway API used by agent binaries.
// ABOUTME: Covers registration, heartbeats, profiles, and message handling.

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/concord-agents/concord-gateway/internal/gateway"
	"github.com/concord-agents/concord-gateway/internal/profile"
)

// Client errors
var (
	// ErrConflict means the gateway rejected a registration because the
	// identity is already live.
	ErrConflict = errors.New("identity already registered")

	// ErrNotFound means the requested resource does not exist.
	ErrNotFound = errors.New("not found")
)

// Client talks to a concord gateway over HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a gateway client. An empty token disables the Authorization
// header for gateways running without auth.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Register announces an agent to the gateway.
func (c *Client) Register(ctx context.Context, identity, endpoint string, capabilities []string) error {
	req := gateway.RegisterRequest{
		Identity:     identity,
		Endpoint:     endpoint,
		Capabilities: capabilities,
	}
	return c.do(ctx, http.MethodPost, "/api/register", req, nil)
}

// Health checks the gateway's liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// Heartbeat refreshes the agent's registration.
func (c *Client) Heartbeat(ctx context.Context, identity string) error {
	return c.do(ctx, http.MethodPost, "/api/heartbeat", gateway.HeartbeatRequest{Identity: identity}, nil)
}

// Deregister removes the agent's registration.
func (c *Client) Deregister(ctx context.Context, identity string) error {
	return c.do(ctx, http.MethodDelete, "/api/agents/"+identity, nil, nil)
}

// Agents lists registrations, optionally filtered to live holders of a
// capability.
func (c *Client) Agents(ctx context.Context, capability string) ([]gateway.AgentResponse, error) {
	path := "/api/agents"
	if capability != "" {
		path += "?capability=" + capability
	}
	var agents []gateway.AgentResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

// GetProfile fetches an identity's preference profile.
func (c *Client) GetProfile(ctx context.Context, identity string) (*profile.Profile, error) {
	var p profile.Profile
	if err := c.do(ctx, http.MethodGet, "/api/profiles/"+identity, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// PutProfile creates or replaces the caller's preference profile.
func (c *Client) PutProfile(ctx context.Context, p *profile.Profile) error {
	return c.do(ctx, http.MethodPut, "/api/profiles/"+string(p.Identity), p, nil)
}

// Handle submits one user message and returns the agent's reply.
func (c *Client) Handle(ctx context.Context, req *gateway.HandleRequest) (*gateway.HandleResponse, error) {
	var resp gateway.HandleResponse
	if err := c.do(ctx, http.MethodPost, "/api/handle", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RunHeartbeats sends a heartbeat every interval until the context ends.
// Individual failures are returned through onError (which may be nil) and do
// not stop the loop; a restarted gateway picks the agent back up on the next
// successful re-register.
func (c *Client) RunHeartbeats(ctx context.Context, identity string, interval time.Duration, onError func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Heartbeat(ctx, identity); err != nil && onError != nil {
				onError(err)
			}
		}
	}
}

// do runs one JSON request/response exchange against the gateway.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling gateway: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return ErrConflict
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 400:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
