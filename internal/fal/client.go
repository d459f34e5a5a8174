// Package fal is a REST client for the fal.ai model endpoints the pipeline
// uses: stylized portraits, Easel face compositing, the nano-banana prompt
// edit and a basic face swap.
//
// Every capability is a synchronous POST to {baseURL}/{endpointID} with a
// JSON body. Responses are decoded into typed structs and validated before
// they leave the package.
package fal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/fpang/storybook-faceswap/internal/metrics"
	"github.com/fpang/storybook-faceswap/internal/provider"
)

// DefaultBaseURL is the synchronous fal.ai run endpoint.
const DefaultBaseURL = "https://fal.run"

// Default endpoint IDs.
const (
	DefaultPortraitEndpoint  = "fal-ai/flux-pulid"
	DefaultCompositeEndpoint = "easel-ai/advanced-face-swap"
	DefaultEditEndpoint      = "fal-ai/nano-banana/edit"
	DefaultSwapEndpoint      = "fal-ai/face-swap"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 8 << 20

// Endpoints holds the model endpoint IDs for each capability.
type Endpoints struct {
	Portrait  string
	Composite string
	Edit      string
	BasicSwap string
}

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	BaseURL   string
	Endpoints Endpoints
	Timeout   time.Duration // per HTTP request
	RateLimit float64       // requests per second across all endpoints, 0 = unlimited
	Burst     int
}

// Client calls fal.ai. It is safe for concurrent use.
type Client struct {
	apiKey     string
	baseURL    string
	endpoints  Endpoints
	httpClient *http.Client
	limiter    *rate.Limiter
}

var (
	_ provider.PortraitStylizer = (*Client)(nil)
	_ provider.FaceCompositor   = (*Client)(nil)
	_ provider.PromptEditor     = (*Client)(nil)
	_ provider.FaceSwapper      = (*Client)(nil)
)

// NewClient creates a fal.ai client authenticated with apiKey.
func NewClient(apiKey string, opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 180 * time.Second
	}
	ep := opts.Endpoints
	if ep.Portrait == "" {
		ep.Portrait = DefaultPortraitEndpoint
	}
	if ep.Composite == "" {
		ep.Composite = DefaultCompositeEndpoint
	}
	if ep.Edit == "" {
		ep.Edit = DefaultEditEndpoint
	}
	if ep.BasicSwap == "" {
		ep.BasicSwap = DefaultSwapEndpoint
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return &Client{
		apiKey:    apiKey,
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		endpoints: ep,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		limiter: limiter,
	}
}

// IsConfigured reports whether an API key is present.
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// APIError is a non-2xx response from fal.ai.
type APIError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fal %s: status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// post sends body as JSON to the endpoint and decodes the response into out.
func (c *Client) post(ctx context.Context, endpoint string, body, out any) (err error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("fal %s: rate limiter: %w", endpoint, err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("fal %s: marshal request: %w", endpoint, err)
	}

	url := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("fal %s: create request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Key "+c.apiKey)

	start := time.Now()
	defer func() { metrics.ProviderCall("fal", endpoint, time.Since(start), err) }()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fal %s: request failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("fal %s: read response: %w", endpoint, err)
	}

	log.Debug().
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("fal call completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: truncateString(string(respBody), 300)}
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("fal %s: parse response: %w", endpoint, err)
	}
	return nil
}

func truncateString(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
