package superego

import (
	"log/slog"
	"net/http"
	"time"
)

// Option configures a Client.
type Option func(*Client)

// WithServerAddr sets the Superego server address.
// Default: http://127.0.0.1:8338 (or SUPEREGO_SERVER_ADDR).
func WithServerAddr(addr string) Option {
	return func(c *Client) {
		c.serverAddr = addr
	}
}

// WithFailMode sets the behavior when the server is unreachable.
// "open" allows tool calls when the server is down (availability first).
// "closed" blocks tool calls when the server is down (security first).
// Default: "open" (or SUPEREGO_FAIL_MODE).
func WithFailMode(mode string) Option {
	return func(c *Client) {
		c.failMode = mode
	}
}

// WithTimeout sets the HTTP request timeout.
// Default: 15s (or SUPEREGO_TIMEOUT).
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithHTTPClient sets a custom HTTP client.
// When set, WithTimeout has no effect; configure the client directly.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithAgentID sets the agent identifier stamped on requests that do not
// carry one. Default: SUPEREGO_AGENT_ID.
func WithAgentID(agentID string) Option {
	return func(c *Client) {
		c.agentID = agentID
	}
}

// WithSessionID sets the session identifier stamped on requests that do
// not carry one. Default: SUPEREGO_SESSION_ID.
func WithSessionID(sessionID string) Option {
	return func(c *Client) {
		c.sessionID = sessionID
	}
}

// WithCWD sets the working directory stamped on requests that do not
// carry one.
func WithCWD(cwd string) Option {
	return func(c *Client) {
		c.cwd = cwd
	}
}

// WithCacheTTL sets how long allow decisions are cached client-side.
// Zero disables caching. Default: 5s (or SUPEREGO_CACHE_TTL).
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Client) {
		c.cacheTTL = ttl
	}
}

// WithCacheMaxSize sets the maximum number of cached decisions.
// Default: 1000 (or SUPEREGO_CACHE_MAX_SIZE).
func WithCacheMaxSize(size int) Option {
	return func(c *Client) {
		c.cacheMaxSize = size
	}
}

// WithLogger sets the logger used for fail-open warnings.
// Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}
