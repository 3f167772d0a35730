package superego

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Client talks to a Superego decision server over HTTP.
type Client struct {
	serverAddr string
	failMode   string
	timeout    time.Duration
	httpClient *http.Client
	agentID    string
	sessionID  string
	cwd        string

	// Cache fields.
	cache        sync.Map
	cacheTTL     time.Duration
	cacheMaxSize int
	cacheCount   int64
	cacheMu      sync.Mutex

	logger *slog.Logger
}

// cacheEntry is a cached allow decision with expiry.
type cacheEntry struct {
	decision  *Decision
	expiresAt time.Time
	createdAt time.Time
}

// NewClient creates a new Superego SDK client.
// It reads configuration from SUPEREGO_* environment variables by default.
// Options can be used to override the defaults.
func NewClient(opts ...Option) *Client {
	c := &Client{
		serverAddr:   envOrDefault("SUPEREGO_SERVER_ADDR", "http://127.0.0.1:8338"),
		failMode:     envOrDefault("SUPEREGO_FAIL_MODE", "open"),
		timeout:      parseDurationEnv("SUPEREGO_TIMEOUT", 15*time.Second),
		cacheTTL:     parseDurationEnv("SUPEREGO_CACHE_TTL", 5*time.Second),
		cacheMaxSize: parseIntEnv("SUPEREGO_CACHE_MAX_SIZE", 1000),
		agentID:      os.Getenv("SUPEREGO_AGENT_ID"),
		sessionID:    os.Getenv("SUPEREGO_SESSION_ID"),
		logger:       slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout: c.timeout,
		}
	}

	return c
}

// Evaluate submits one tool call and returns the decision. On deny, it
// returns a *DeniedError carrying the full decision. When the server is
// unreachable it applies the client fail mode: "open" answers allow with
// a warning, "closed" returns *UnreachableError.
func (c *Client) Evaluate(ctx context.Context, req Request) (*Decision, error) {
	// Fill defaults from client configuration.
	if req.AgentID == "" {
		req.AgentID = c.agentID
	}
	if req.SessionID == "" {
		req.SessionID = c.sessionID
	}
	if req.CWD == "" {
		req.CWD = c.cwd
	}

	// Check cache.
	cacheKey := buildCacheKey(req)
	if dec, ok := c.getFromCache(cacheKey); ok {
		return dec, nil
	}

	dec, err := c.doEvaluate(ctx, req)
	if err != nil {
		// Handle server unreachable.
		if isConnectionError(err) {
			if c.failMode == "closed" {
				return nil, &UnreachableError{Cause: err}
			}
			// Fail open: return allow.
			c.logger.Warn("superego server unreachable, failing open",
				"server_addr", c.serverAddr,
				"error", err,
			)
			return &Decision{
				Action: ActionAllow,
				Reason: "server unreachable, fail-open",
			}, nil
		}
		return nil, err
	}

	switch dec.Action {
	case ActionAllow:
		c.putInCache(cacheKey, dec)
		return dec, nil

	case ActionDeny:
		return nil, &DeniedError{
			RuleID:     dec.RuleID,
			Reason:     dec.Reason,
			Confidence: dec.Confidence,
			Decision:   dec,
		}

	default:
		return dec, nil
	}
}

// Check is a convenience method that evaluates a request and returns a
// boolean. It returns true if the call is allowed, false if denied.
// Unlike Evaluate, it does not return an error on policy denial.
func (c *Client) Check(ctx context.Context, req Request) (bool, error) {
	dec, err := c.Evaluate(ctx, req)
	if err != nil {
		var denied *DeniedError
		if errors.As(err, &denied) {
			return false, nil
		}
		return false, err
	}
	return dec.Action == ActionAllow, nil
}

// Health fetches the server's component report. Unlike Evaluate it never
// applies the fail mode: an unreachable server is an error. A 503 answer
// still carries a report (status "unhealthy") and is not an error.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	url := strings.TrimRight(c.serverAddr, "/") + "/health"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var report Health
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal health report: %w", err)
	}
	return &report, nil
}

// doEvaluate sends the HTTP request to the evaluation endpoint.
func (c *Client) doEvaluate(ctx context.Context, req Request) (*Decision, error) {
	var dec Decision
	if err := c.doRequest(ctx, http.MethodPost, "/v1/evaluate", req, &dec); err != nil {
		return nil, err
	}
	return &dec, nil
}

// errorEnvelope is the server's error body: {"error":{"code","message"}}.
type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// doRequest performs an HTTP request to the Superego server.
func (c *Client) doRequest(ctx context.Context, method, path string, body any, result any) error {
	url := strings.TrimRight(c.serverAddr, "/") + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		var envelope errorEnvelope
		if jsonErr := json.Unmarshal(respBody, &envelope); jsonErr == nil && envelope.Error.Code != "" {
			return &APIError{
				Code:    envelope.Error.Code,
				Message: envelope.Error.Message,
				Status:  httpResp.StatusCode,
			}
		}
		return &APIError{
			Code:    fmt.Sprintf("HTTP_%d", httpResp.StatusCode),
			Message: strings.TrimSpace(string(respBody)),
			Status:  httpResp.StatusCode,
		}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}

// buildCacheKey hashes everything that can influence the decision:
// rules may reference the tool name, parameters, agent, session, and cwd.
func buildCacheKey(req Request) string {
	h := sha256.New()
	raw, _ := json.Marshal(req)
	h.Write(raw)
	return hex.EncodeToString(h.Sum(nil))[:24]
}

// getFromCache retrieves a cached decision if it exists and hasn't expired.
func (c *Client) getFromCache(key string) (*Decision, bool) {
	val, ok := c.cache.Load(key)
	if !ok {
		return nil, false
	}
	entry := val.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.cache.Delete(key)
		c.cacheMu.Lock()
		c.cacheCount--
		c.cacheMu.Unlock()
		return nil, false
	}
	return entry.decision, true
}

// putInCache stores an allow decision in the cache.
func (c *Client) putInCache(key string, dec *Decision) {
	if c.cacheTTL <= 0 || c.cacheMaxSize <= 0 {
		return
	}

	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()

	// Best-effort eviction: if over max size, delete some expired entries.
	if c.cacheCount >= int64(c.cacheMaxSize) {
		now := time.Now()
		evicted := 0
		c.cache.Range(func(k, v any) bool {
			entry := v.(*cacheEntry)
			if now.After(entry.expiresAt) {
				c.cache.Delete(k)
				evicted++
			}
			return evicted < 100
		})
		c.cacheCount -= int64(evicted)

		// If still over limit, evict the oldest entry.
		if c.cacheCount >= int64(c.cacheMaxSize) {
			var oldest time.Time
			var oldestKey any
			c.cache.Range(func(k, v any) bool {
				entry := v.(*cacheEntry)
				if oldest.IsZero() || entry.createdAt.Before(oldest) {
					oldest = entry.createdAt
					oldestKey = k
				}
				return true
			})
			if oldestKey != nil {
				c.cache.Delete(oldestKey)
				c.cacheCount--
			}
		}
	}

	c.cache.Store(key, &cacheEntry{
		decision:  dec,
		expiresAt: time.Now().Add(c.cacheTTL),
		createdAt: time.Now(),
	})
	c.cacheCount++
}

// isConnectionError determines if an error is a connection-level error
// (server unreachable, connection refused, timeout). An APIError means
// the server answered; its decision surface stands.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false
	}

	// All other errors from http.Client.Do are connection errors
	// (DNS resolution, connection refused, TLS handshake, timeouts).
	return true
}

// Helper functions for env var parsing.

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func parseDurationEnv(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	// Try parsing as seconds (integer).
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	// Try parsing as duration string.
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return defaultVal
}

func parseIntEnv(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return defaultVal
}
