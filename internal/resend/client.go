// Package resend is a client for the delivery provider's Broadcasts API.
// A send is a two-phase protocol: create a broadcast, then send it by id.
package resend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ignite/newsletter-dispatch/internal/pkg/httpretry"
)

// Client is the delivery provider API client
type Client struct {
	baseURL    string
	apiKey     string
	httpClient httpretry.HTTPDoer
}

// NewClient creates a new provider API client
func NewClient(config Config) *Client {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: config.BaseURL,
		apiKey:  config.APIKey,
		httpClient: httpretry.NewRetryClient(&http.Client{
			Timeout: timeout,
		}, 3),
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing)
func (c *Client) SetHTTPClient(client httpretry.HTTPDoer) {
	c.httpClient = client
}

// doRequest performs an authenticated request against the provider API
func (c *Client) doRequest(ctx context.Context, method, endpoint string, body interface{}) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

// CreateBroadcast creates a broadcast in the provider without sending it.
// Returns the broadcast id used by the send phase.
func (c *Client) CreateBroadcast(ctx context.Context, params CreateBroadcastParams) (string, error) {
	respBody, err := c.doRequest(ctx, http.MethodPost, "/broadcasts", params)
	if err != nil {
		return "", err
	}

	var b Broadcast
	if err := json.Unmarshal(respBody, &b); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if b.ID == "" {
		return "", fmt.Errorf("provider returned no broadcast id")
	}
	return b.ID, nil
}

// SendBroadcast dispatches a previously created broadcast.
// Returns the provider's confirmation id (falls back to the broadcast id).
func (c *Client) SendBroadcast(ctx context.Context, broadcastID string) (string, error) {
	endpoint := fmt.Sprintf("/broadcasts/%s/send", url.PathEscape(broadcastID))

	respBody, err := c.doRequest(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return "", err
	}

	var b Broadcast
	if err := json.Unmarshal(respBody, &b); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if b.ID == "" {
		return broadcastID, nil
	}
	return b.ID, nil
}

// GetSegment retrieves a destination segment's metadata (name).
func (c *Client) GetSegment(ctx context.Context, segmentID string) (*Segment, error) {
	endpoint := fmt.Sprintf("/segments/%s", url.PathEscape(segmentID))

	respBody, err := c.doRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var seg Segment
	if err := json.Unmarshal(respBody, &seg); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &seg, nil
}

// ListContacts returns up to limit contacts in a segment. Used only to build
// the reviewer-facing sample in the test-dispatch summary.
func (c *Client) ListContacts(ctx context.Context, segmentID string, limit int) ([]Contact, error) {
	endpoint := fmt.Sprintf("/segments/%s/contacts", url.PathEscape(segmentID))
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}

	respBody, err := c.doRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var resp contactListResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return resp.Data, nil
}
