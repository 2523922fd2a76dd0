// Package httpx provides the outbound HTTP clients shared by discovery,
// proxying, and judging.
package httpx

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// DefaultTimeout bounds ordinary upstream API calls.
const DefaultTimeout = 30 * time.Second

// ProbeTimeout bounds liveness probes against local servers.
const ProbeTimeout = 2 * time.Second

// LongTimeout bounds expensive calls such as judge evaluations.
const LongTimeout = 60 * time.Second

// NewClient returns an HTTP client with the default timeout.
func NewClient() *http.Client {
	return NewClientWithTimeout(DefaultTimeout)
}

// NewClientWithTimeout returns an HTTP client with the given timeout.
func NewClientWithTimeout(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        16,
			MaxIdleConnsPerHost: 8,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
		},
	}
}

// Fetcher is a rate-limited GET helper used by model discovery so repeated
// refreshes stay polite to provider endpoints.
type Fetcher struct {
	client  *http.Client
	limiter *rate.Limiter
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithRateLimit sets the outbound requests-per-second budget.
func WithRateLimit(rps float64) Option {
	return func(f *Fetcher) {
		f.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// WithClient overrides the underlying HTTP client.
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// NewFetcher creates a Fetcher with the default client.
func NewFetcher(opts ...Option) *Fetcher {
	f := &Fetcher{client: NewClient()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Get performs a rate-limited GET and returns the response. The caller owns
// the body.
func (f *Fetcher) Get(ctx context.Context, url string, headers map[string]string) (*http.Response, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP GET %s: %w", url, err)
	}
	return resp, nil
}
