/**
 * @description
 * This package provides a client for the external fungible-token registry.
 * It encapsulates the logic for querying the storage balance bounds of a
 * token contract, which determine the per-holder registration cost a drop
 * must cover before tokens can be delivered to fresh accounts.
 */
package registryclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a client for the token registry service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new registry client.
func NewClient(baseURL string, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// StorageBounds is the registration cost range reported by a token contract.
// Min is the amount actually charged per newly registered holder.
type StorageBounds struct {
	Min uint64 `json:"min,string"`
	Max uint64 `json:"max,string"`
}

// StorageBalanceBounds queries the registration cost bounds for a contract.
func (c *Client) StorageBalanceBounds(ctx context.Context, contractID string) (*StorageBounds, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("registry base url is empty")
	}

	endpoint := fmt.Sprintf("%s/contracts/%s/storage-balance-bounds", c.baseURL, url.PathEscape(contractID))

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("X-Internal-API-Key", strings.TrimSpace(c.apiKey))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request to registry: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("registry returned error status %d", resp.StatusCode)
	}

	var bounds StorageBounds
	if err := json.NewDecoder(resp.Body).Decode(&bounds); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &bounds, nil
}
