package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"dework/crypto"
)

// ClientConfig defines the HTTP client settings for the verifier service.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPGate asks a WorldID-style verifier whether an address holds a valid
// proof. The verifier answers GET /verify/{address} with {"verified": bool}.
type HTTPGate struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type verifyResponse struct {
	Verified bool `json:"verified"`
}

// NewHTTPGate constructs a client with sane defaults.
func NewHTTPGate(cfg ClientConfig) (*HTTPGate, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, fmt.Errorf("identity: base url required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPGate{
		baseURL: strings.TrimRight(base, "/"),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

// IsVerified implements Gate.
func (c *HTTPGate) IsVerified(ctx context.Context, addr crypto.Address) (bool, error) {
	if c == nil {
		return false, fmt.Errorf("identity: client not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/verify/%s", c.baseURL, addr.Hex()), nil)
	if err != nil {
		return false, fmt.Errorf("identity: request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("identity: call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("identity: unexpected status %d", resp.StatusCode)
	}
	var payload verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return false, fmt.Errorf("identity: decode: %w", err)
	}
	return payload.Verified, nil
}
