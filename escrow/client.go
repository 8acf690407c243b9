// Package escrow is the client surface for the Bitcoin-denominated escrow
// network. Two payment rails are exposed: native-chain one-time deposit
// addresses with UTXO confirmation tracking, and an instant ledger of
// sub-accounts that trades decentralization for latency.
package escrow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// FundingInfo reports the observed funding at a deposit target.
type FundingInfo struct {
	Amount        int64  `json:"amount"`
	Confirmations int    `json:"confirmations"`
	TxRef         string `json:"tx_ref"`
}

// Client is the escrow-network contract consumed by the settlement pipeline.
// Every call is blocking I/O with the bounded timeout of the underlying HTTP
// client; callers treat failures as transient.
type Client interface {
	// AllocateAddress derives a one-time native-chain address bound to the
	// order. The escrow side is stateful: repeat calls for the same order
	// return the same address.
	AllocateAddress(ctx context.Context, orderID string) (string, error)
	// FundingStatus reports UTXOs observed at a native-chain address.
	FundingStatus(ctx context.Context, target string) (FundingInfo, error)
	// LedgerBalance reports the instant-ledger balance of a sub-account.
	LedgerBalance(ctx context.Context, subAccount string) (int64, error)
	// Transfer moves funds on the instant ledger and returns the transfer
	// reference. Instant-ledger rail only. The move is irreversible, so every
	// request carries a caller-supplied idempotency key: a retried transfer
	// with the same key must resolve to the original reference instead of
	// moving funds again.
	Transfer(ctx context.Context, to string, amount int64, idempotencyKey string) (string, error)
}

// HTTPClient talks to the escrow network's public HTTP API.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient builds an escrow client with a bounded request timeout.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) AllocateAddress(ctx context.Context, orderID string) (string, error) {
	if orderID == "" {
		return "", fmt.Errorf("escrow: empty order id")
	}

	var out struct {
		Address string `json:"address"`
	}
	err := c.post(ctx, "/v1/addresses", map[string]string{"order_id": orderID}, &out)
	if err != nil {
		return "", fmt.Errorf("escrow: allocate address: %w", err)
	}
	if out.Address == "" {
		return "", fmt.Errorf("escrow: allocator returned empty address")
	}
	return out.Address, nil
}

func (c *HTTPClient) FundingStatus(ctx context.Context, target string) (FundingInfo, error) {
	var out FundingInfo
	err := c.get(ctx, "/v1/addresses/"+target+"/funding", &out)
	if err != nil {
		return FundingInfo{}, fmt.Errorf("escrow: funding status: %w", err)
	}
	return out, nil
}

func (c *HTTPClient) LedgerBalance(ctx context.Context, subAccount string) (int64, error) {
	var out struct {
		Balance int64 `json:"balance"`
	}
	err := c.get(ctx, "/v1/ledger/"+subAccount+"/balance", &out)
	if err != nil {
		return 0, fmt.Errorf("escrow: ledger balance: %w", err)
	}
	return out.Balance, nil
}

func (c *HTTPClient) Transfer(ctx context.Context, to string, amount int64, idempotencyKey string) (string, error) {
	if idempotencyKey == "" {
		return "", fmt.Errorf("escrow: transfer idempotency key required")
	}

	payload, err := json.Marshal(map[string]any{"to": to, "amount": amount})
	if err != nil {
		return "", fmt.Errorf("escrow: marshal transfer: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/ledger/transfers", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("escrow: build transfer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	var out struct {
		TxRef string `json:"tx_ref"`
	}
	if err := c.do(req, &out); err != nil {
		return "", fmt.Errorf("escrow: transfer: %w", err)
	}
	if out.TxRef == "" {
		return "", fmt.Errorf("escrow: transfer returned empty tx ref")
	}
	return out.TxRef, nil
}

// SweepKey derives the stable per-order key sent with settlement transfers.
func SweepKey(orderID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("mintflow:sweep:"+orderID)).String()
}

func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *HTTPClient) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
