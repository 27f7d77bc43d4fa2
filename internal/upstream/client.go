// Package upstream proxies the gateway's clients to the upstream coding-agent
// daemon: an SSE event tee with sanitization and activity derivation, a
// session-message rewrite to an async queue, and status/permission/question
// fallbacks synthesized from local state when the daemon is unreachable.
package upstream

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/opencode-studio/gateway/internal/logger"
)

const (
	availabilityCooldown = 5 * time.Second
	defaultHTTPTimeout   = 30 * time.Second
)

// Availability tracks whether the upstream daemon is currently reachable: a
// single process-wide breaker, since the gateway has exactly one upstream.
type Availability struct {
	mu            sync.RWMutex
	restarting    bool
	lastFailure   time.Time
	cooldownUntil time.Time
}

// MarkRestarting flips the breaker open for at least availabilityCooldown.
func (a *Availability) MarkRestarting() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.restarting = true
	a.lastFailure = time.Now()
	a.cooldownUntil = time.Now().Add(availabilityCooldown)
}

// MarkHealthy closes the breaker.
func (a *Availability) MarkHealthy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.restarting = false
}

// Unavailable reports whether callers should be rejected without attempting
// the upstream request.
func (a *Availability) Unavailable() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.restarting && time.Now().Before(a.cooldownUntil)
}

// Client is a thin HTTP client to the upstream daemon. Stream has no
// client-side timeout: SSE responses are bounded by the request context, not
// a deadline.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Stream  *http.Client
	Avail   *Availability
}

// NewClient returns a Client targeting baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: defaultHTTPTimeout},
		Stream:  &http.Client{},
		Avail:   &Availability{},
	}
}

// Do issues req against the upstream, marking the breaker on failure and
// clearing it on any response (even a non-2xx one, since the daemon
// answered).
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		c.Avail.MarkRestarting()
		logger.Upstream().Warn().Err(err).Str("url", req.URL.String()).Msg("upstream request failed")
		return nil, err
	}
	c.Avail.MarkHealthy()
	return resp, nil
}

// DoStream issues req on the timeout-free streaming client, with the same
// breaker bookkeeping as Do.
func (c *Client) DoStream(req *http.Request) (*http.Response, error) {
	resp, err := c.Stream.Do(req)
	if err != nil {
		c.Avail.MarkRestarting()
		logger.Upstream().Warn().Err(err).Str("url", req.URL.String()).Msg("upstream stream request failed")
		return nil, err
	}
	c.Avail.MarkHealthy()
	return resp, nil
}

// NewRequest builds a request against the upstream base URL.
func (c *Client) NewRequest(ctx context.Context, method, path string, body interface{}) (*http.Request, error) {
	return newJSONRequest(ctx, method, c.BaseURL+path, body)
}
