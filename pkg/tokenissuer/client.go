/**
 * @description
 * This package provides a client for the token issuance service. Each public
 * key registered with a drop is turned into a bearer credential scoped to
 * the redemption entry points and capped by a spending allowance.
 */
package tokenissuer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client is a client for the token issuance service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new token issuer client.
func NewClient(baseURL string, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// IssueTokenRequest defines the request payload for issuing a credential.
type IssueTokenRequest struct {
	PublicKey   string `json:"public_key"`
	Allowance   uint64 `json:"allowance,string"`
	MethodScope string `json:"method_scope"`
}

// IssueToken provisions a credential for the given public key. The scope is
// a comma-separated list of redemption entry points the credential may call.
func (c *Client) IssueToken(ctx context.Context, publicKey string, allowance uint64, methodScope string) error {
	if c.baseURL == "" {
		return fmt.Errorf("token issuer base url is empty")
	}

	url := fmt.Sprintf("%s/internal/tokens", c.baseURL)

	payload := IssueTokenRequest{
		PublicKey:   publicKey,
		Allowance:   allowance,
		MethodScope: methodScope,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("X-Internal-API-Key", strings.TrimSpace(c.apiKey))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request to token issuer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("token issuer returned error status %d", resp.StatusCode)
	}

	return nil
}
