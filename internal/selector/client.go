// ABOUTME: HTTP client for invoking selector agents with merged constraints.
// ABOUTME: POSTs the wire contract to <endpoint>/invoke and decodes ranked candidates.

package selector

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
)

// ErrBadStatus indicates the selector replied with a non-200 status.
var ErrBadStatus = errors.New("selector returned error status")

// Client invokes selector agents over HTTP.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a selector client. The overall per-invocation deadline
// belongs to the caller's context; the transport timeout here is only a
// backstop against connections that never complete.
func NewClient(backstop time.Duration) *Client {
	if backstop <= 0 {
		backstop = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: backstop},
	}
}

// Invoke sends merged constraints to the selector at endpoint and returns
// its ranked candidates, best first.
func (c *Client) Invoke(ctx context.Context, endpoint string, constraints *Constraints) ([]Candidate, error) {
	body, err := json.Marshal(constraints)
	if err != nil {
		return nil, fmt.Errorf("encoding constraints: %w", err)
	}

	url := strings.TrimSuffix(endpoint, "/") + "/invoke"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("invoking selector: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Read a bounded slice of the body for the error message.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %d %s", ErrBadStatus, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded Response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding selector response: %w", err)
	}
	return decoded.Candidates, nil
}
