// Package registry is the client surface for the rights/licensing registry
// network, where license tokens are minted.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// MintRequest carries the references the registry binds into a license token.
type MintRequest struct {
	AssetRef string `json:"asset_ref"`
	BuyerRef string `json:"buyer_ref"`
	TermsRef string `json:"terms_ref"`
}

// Client mints license tokens. Mint is irreversible on the registry side, so
// every request carries a caller-supplied idempotency key: retried mints for
// the same order must resolve to the same token.
type Client interface {
	Mint(ctx context.Context, req MintRequest, idempotencyKey string) (string, error)
}

// HTTPClient talks to the registry network's public HTTP API.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient builds a registry client with a bounded request timeout.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Mint requests a license token and returns the registry token reference.
func (c *HTTPClient) Mint(ctx context.Context, req MintRequest, idempotencyKey string) (string, error) {
	if req.AssetRef == "" || req.BuyerRef == "" {
		return "", fmt.Errorf("registry: asset and buyer refs required")
	}
	if idempotencyKey == "" {
		return "", fmt.Errorf("registry: idempotency key required")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("registry: marshal mint request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/tokens", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("registry: build mint request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("registry: mint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("registry: mint: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		TokenRef string `json:"token_ref"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("registry: decode mint response: %w", err)
	}
	if out.TokenRef == "" {
		return "", fmt.Errorf("registry: mint returned empty token ref")
	}
	return out.TokenRef, nil
}

// IdempotencyKey derives the stable per-order key sent with mint requests.
func IdempotencyKey(orderID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("mintflow:mint:"+orderID)).String()
}
