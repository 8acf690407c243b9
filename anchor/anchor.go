// Package anchor publishes attestation hashes to an external evidence ledger
// for independent timestamping. Anchoring is best-effort: every non-ok outcome
// means "not anchored yet", never a failure of the surrounding settlement.
package anchor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// State classifies the outcome of a publish attempt.
type State string

const (
	StateOK       State = "ok"
	StateSkipped  State = "skipped"
	StateDisabled State = "disabled"
)

// Outcome is the result of a publish attempt. Ref is set only for StateOK.
type Outcome struct {
	State  State
	Ref    string
	Reason string
}

// Publisher anchors attestation hashes. Implementations never return an error
// for transient conditions; the Outcome carries the classification.
type Publisher interface {
	Publish(ctx context.Context, attestationHash string) Outcome
}

// Disabled is a Publisher for deployments without an anchor network.
type Disabled struct{}

func (Disabled) Publish(context.Context, string) Outcome {
	return Outcome{State: StateDisabled}
}

// HTTPPublisher anchors hashes via the anchor network's HTTP API.
type HTTPPublisher struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewHTTPPublisher builds an anchor publisher with a bounded request timeout.
func NewHTTPPublisher(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPPublisher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPPublisher{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Publish submits the attestation hash once. Internal retries are the anchor
// network's own responsibility; one settlement attempt makes one call.
func (p *HTTPPublisher) Publish(ctx context.Context, attestationHash string) Outcome {
	if attestationHash == "" {
		return Outcome{State: StateSkipped, Reason: "empty attestation hash"}
	}

	payload, err := json.Marshal(map[string]string{"hash": attestationHash})
	if err != nil {
		return Outcome{State: StateSkipped, Reason: fmt.Sprintf("marshal: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/anchors", bytes.NewReader(payload))
	if err != nil {
		return Outcome{State: StateSkipped, Reason: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		p.logger.Warn("anchor publish failed", "error", err)
		return Outcome{State: StateSkipped, Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		p.logger.Warn("anchor publish rejected", "status", resp.StatusCode)
		return Outcome{State: StateSkipped, Reason: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	var out struct {
		Ref string `json:"ref"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.Ref == "" {
		p.logger.Warn("anchor publish returned unusable body", "error", err)
		return Outcome{State: StateSkipped, Reason: "unusable anchor response"}
	}

	return Outcome{State: StateOK, Ref: out.Ref}
}
