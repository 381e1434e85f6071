// Package assist proxies prompt completion requests to the hosted
// text-generation API. The proxy is stateless: one request, one response,
// no streaming and no retries. Failures are surfaced to the caller as
// dismissable errors and never touch entity state.
package assist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/doyensec/safeurl"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout  = 30 * time.Second
	maxResponseSize = 1 << 20 // 1 MiB
)

// ErrRateLimited is returned when the per-process request budget is spent.
var ErrRateLimited = errors.New("assist requests are rate limited, try again shortly")

// Request is one completion call.
type Request struct {
	Feature string `json:"feature"`
	Prompt  string `json:"prompt"`
}

// Response is the upstream completion payload.
type Response struct {
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// Client calls the completion endpoint through an SSRF-guarded HTTP client.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
	limiter  *rate.Limiter
	log      *log.Logger
}

// NewClient creates a Client for the given endpoint. The underlying HTTP
// client refuses to dial private, loopback and link-local addresses even
// after DNS resolution, so a mis-configured endpoint cannot be used to reach
// internal services. requestsPerMinute caps upstream calls process-wide.
func NewClient(endpoint, apiKey string, requestsPerMinute int, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if requestsPerMinute <= 0 {
		requestsPerMinute = 30
	}
	config := safeurl.GetConfigBuilder().
		SetTimeout(defaultTimeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(443).
		Build()
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     safeurl.Client(config).Client,
		limiter:  rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), requestsPerMinute),
		log:      logger,
	}
}

// Complete sends one prompt and returns the generated text. Upstream errors
// come back as plain errors for the handler to wrap into a user-visible,
// dismissable message.
func (c *Client) Complete(ctx context.Context, feature, prompt string) (string, error) {
	if c.endpoint == "" {
		return "", errors.New("assist endpoint not configured")
	}
	if !c.limiter.Allow() {
		return "", ErrRateLimited
	}

	req := Request{Feature: feature, Prompt: prompt}
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("read completion response: %w", err)
	}
	c.log.WithFields(log.Fields{
		"feature":  feature,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	}).Debug("completion request finished")

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completion service returned status %d", resp.StatusCode)
	}
	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("completion service error: %s", out.Error)
	}
	return out.Text, nil
}
