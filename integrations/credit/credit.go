// Package credit supplies interest-share recommendations for tenants.
package credit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"dework/crypto"
)

// MaxPercentage bounds every recommendation.
const MaxPercentage = 100

// ErrOutOfRange is returned when a source recommends more than 100 percent.
var ErrOutOfRange = errors.New("credit: percentage out of range")

// ClientConfig configures the HTTP oracle.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPOracle queries GET /credit/{address} and expects {"percentage": n}.
type HTTPOracle struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type creditResponse struct {
	Percentage int `json:"percentage"`
}

// NewHTTPOracle constructs a client with sane defaults.
func NewHTTPOracle(cfg ClientConfig) (*HTTPOracle, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, fmt.Errorf("credit: base url required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPOracle{
		baseURL: strings.TrimRight(base, "/"),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

// InterestSharingPercentage returns the recommended maximum tenant share.
func (o *HTTPOracle) InterestSharingPercentage(ctx context.Context, addr crypto.Address) (uint8, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/credit/%s", o.baseURL, addr.Hex()), nil)
	if err != nil {
		return 0, fmt.Errorf("credit: request: %w", err)
	}
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("credit: call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("credit: unexpected status %d", resp.StatusCode)
	}
	var payload creditResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("credit: decode: %w", err)
	}
	return checkRange(payload.Percentage)
}

func checkRange(value int) (uint8, error) {
	if value < 0 || value > MaxPercentage {
		return 0, fmt.Errorf("%w: %d", ErrOutOfRange, value)
	}
	return uint8(value), nil
}
