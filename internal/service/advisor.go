// Package service contains the application services: the decision engine,
// the guarded advisor client, the audit recorder, and health reporting.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/superego-ai/superego/internal/domain/decision"
	"github.com/superego-ai/superego/internal/domain/request"
	"github.com/superego-ai/superego/internal/domain/rule"
	"github.com/superego-ai/superego/internal/port/outbound"
	"github.com/superego-ai/superego/internal/telemetry"
)

// deadlineMargin is held back from the caller's deadline so a fail-mode
// decision and its audit write still fit before the caller gives up.
const deadlineMargin = 250 * time.Millisecond

var (
	errAdvisorNotConfigured = errors.New("advisor not configured")
	errAdvisorQueueFull     = errors.New("advisor queue full")
)

// AdvisorConfig bounds the advisor call path.
type AdvisorConfig struct {
	// Timeout caps one provider attempt.
	Timeout time.Duration

	// FailureMode is the action applied when no verdict can be
	// obtained: ActionDeny (default) or ActionAllow.
	FailureMode decision.Action

	// MaxConcurrent caps in-flight provider calls; MaxQueue bounds how
	// many callers may wait for a slot before overflow applies the
	// failure mode immediately.
	MaxConcurrent int64
	MaxQueue      int64

	// RetryAttempts is how many times a transient transport failure is
	// retried. Timeouts and malformed payloads are never retried.
	RetryAttempts int

	// BreakerThreshold consecutive failed consultations open the
	// breaker; BreakerCooldown is how long it stays open before one
	// half-open probe.
	BreakerThreshold uint32
	BreakerCooldown  time.Duration

	// CacheSize and CacheTTL bound the verdict cache.
	CacheSize int
	CacheTTL  time.Duration
}

// DefaultAdvisorConfig returns the documented defaults.
func DefaultAdvisorConfig() AdvisorConfig {
	return AdvisorConfig{
		Timeout:          10 * time.Second,
		FailureMode:      decision.ActionDeny,
		MaxConcurrent:    32,
		MaxQueue:         64,
		RetryAttempts:    2,
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
		CacheSize:        1024,
		CacheTTL:         5 * time.Minute,
	}
}

// AdvisorService resolves sampled requests to binary decisions. It wraps
// the provider with a verdict cache, single-flight coalescing, a circuit
// breaker, bounded fan-out, and retry/fail-mode handling, so the engine
// always gets a Decision back, never an error.
type AdvisorService struct {
	provider outbound.AdvisorProvider // nil when not configured
	cfg      AdvisorConfig
	logger   *slog.Logger
	metrics  *telemetry.Metrics

	cache   *verdictCache
	flight  singleflight.Group
	breaker *gobreaker.CircuitBreaker
	sem     *semaphore.Weighted
	waiting atomic.Int64
}

// AdvisorOption configures an AdvisorService.
type AdvisorOption func(*AdvisorService)

// WithAdvisorMetrics wires cache, latency, and breaker metrics.
func WithAdvisorMetrics(m *telemetry.Metrics) AdvisorOption {
	return func(s *AdvisorService) {
		s.metrics = m
	}
}

// NewAdvisorService creates the guarded advisor path. provider may be
// nil; sampled requests then resolve through the failure mode.
func NewAdvisorService(provider outbound.AdvisorProvider, cfg AdvisorConfig, logger *slog.Logger, opts ...AdvisorOption) *AdvisorService {
	def := DefaultAdvisorConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.FailureMode != decision.ActionAllow {
		cfg.FailureMode = decision.ActionDeny
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = def.MaxQueue
	}
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = def.RetryAttempts
	}
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = def.BreakerThreshold
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = def.BreakerCooldown
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = def.CacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}

	s := &AdvisorService{
		provider: provider,
		cfg:      cfg,
		logger:   logger.With("component", "advisor"),
		cache:    newVerdictCache(cfg.CacheSize, cfg.CacheTTL),
		sem:      semaphore.NewWeighted(cfg.MaxConcurrent),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "advisor",
		MaxRequests: 1, // one half-open probe
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerThreshold
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			s.logger.Warn("advisor breaker state changed",
				"from", from.String(),
				"to", to.String(),
			)
			if s.metrics != nil {
				s.metrics.BreakerState.Set(breakerStateValue(to))
			}
		},
	})

	return s
}

func breakerStateValue(st gobreaker.State) float64 {
	switch st {
	case gobreaker.StateOpen:
		return 2
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}

// Advise resolves one sampled request. The returned Decision is always
// binary: a live or cached advisor verdict, or the configured failure
// mode with confidence 0.
func (s *AdvisorService) Advise(ctx context.Context, req *request.ToolRequest, matched *rule.SecurityRule) *decision.Decision {
	if s.provider == nil {
		return s.failModeDecision(errAdvisorNotConfigured, matched)
	}

	key := verdictCacheKey(req.ToolName, req.Parameters, matched.ID)
	if v, ok := s.cache.Get(key); ok {
		if s.metrics != nil {
			s.metrics.CacheHits.Inc()
		}
		return s.verdictDecision(v, decision.SourceAdvisorCache, matched)
	}
	if s.metrics != nil {
		s.metrics.CacheMisses.Inc()
	}

	// Coalesce concurrent misses for the same key into one provider
	// call. The leader's work is detached from its caller so one
	// caller's cancellation cannot poison everyone sharing the flight.
	timeout := s.attemptTimeout(ctx)
	callCtx := context.WithoutCancel(ctx)
	ch := s.flight.DoChan(strconv.FormatUint(key, 16), func() (any, error) {
		v, err := s.consult(callCtx, timeout, req, matched)
		if err != nil {
			return nil, err
		}
		s.cache.Put(key, v)
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return s.failModeDecision(res.Err, matched)
		}
		return s.verdictDecision(res.Val.(*decision.AdvisorVerdict), decision.SourceAdvisor, matched)
	case <-ctx.Done():
		return s.failModeDecision(ctx.Err(), matched)
	}
}

// attemptTimeout bounds one provider attempt by the configured timeout
// and, when the caller carries a deadline, by the time remaining minus a
// margin for the fail-mode path.
func (s *AdvisorService) attemptTimeout(ctx context.Context) time.Duration {
	t := s.cfg.Timeout
	if dl, ok := ctx.Deadline(); ok {
		if remain := time.Until(dl) - deadlineMargin; remain < t {
			t = remain
		}
	}
	if t <= 0 {
		t = time.Millisecond
	}
	return t
}

// consult runs one guarded consultation: breaker, bounded fan-out, then
// the retry loop around provider attempts.
func (s *AdvisorService) consult(ctx context.Context, timeout time.Duration, req *request.ToolRequest, matched *rule.SecurityRule) (*decision.AdvisorVerdict, error) {
	out, err := s.breaker.Execute(func() (interface{}, error) {
		if err := s.acquireSlot(ctx); err != nil {
			return nil, err
		}
		defer s.sem.Release(1)
		return s.attempt(ctx, timeout, req, matched)
	})
	if err != nil {
		return nil, err
	}
	return out.(*decision.AdvisorVerdict), nil
}

// acquireSlot takes a fan-out slot, waiting only while the queue bound
// allows it.
func (s *AdvisorService) acquireSlot(ctx context.Context) error {
	if s.sem.TryAcquire(1) {
		return nil
	}
	if s.waiting.Add(1) > s.cfg.MaxQueue {
		s.waiting.Add(-1)
		return errAdvisorQueueFull
	}
	err := s.sem.Acquire(ctx, 1)
	s.waiting.Add(-1)
	return err
}

// attempt calls the provider, retrying transient transport failures.
// Timeouts and terminal errors (malformed verdicts) fail immediately.
func (s *AdvisorService) attempt(ctx context.Context, timeout time.Duration, req *request.ToolRequest, matched *rule.SecurityRule) (*decision.AdvisorVerdict, error) {
	tracer := telemetry.Tracer("superego/advisor")

	var lastErr error
	for i := 0; i <= s.cfg.RetryAttempts; i++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		spanCtx, span := tracer.Start(attemptCtx, "advisor.consult")

		start := time.Now()
		v, err := s.provider.Consult(spanCtx, req, matched)
		elapsed := time.Since(start)
		span.End()
		cancel()

		if s.metrics != nil {
			s.metrics.AdvisorLatency.Observe(elapsed.Seconds())
			s.metrics.AdvisorRequests.WithLabelValues(s.provider.Name(), outcomeLabel(err)).Inc()
		}

		if err == nil {
			return v, nil
		}
		lastErr = err

		if !retryable(err) {
			break
		}
		s.logger.Warn("advisor attempt failed, retrying",
			"attempt", i+1,
			"error", err,
		)
	}
	return nil, lastErr
}

// retryable reports whether an attempt error is a transient transport
// failure. Deadline and cancellation abort the consultation; malformed
// payloads are provider bugs a retry tends to reproduce.
func retryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var advErr *decision.AdvisorError
	if errors.As(err, &advErr) {
		return advErr.Transient
	}
	return false
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

// verdictDecision translates an advisor verdict into the engine's
// Decision shape, carrying the sampled rule's id.
func (s *AdvisorService) verdictDecision(v *decision.AdvisorVerdict, source decision.Source, matched *rule.SecurityRule) *decision.Decision {
	return &decision.Decision{
		Action:      v.Decision,
		Reason:      v.Reason,
		RuleID:      matched.ID,
		Confidence:  v.Confidence,
		AIProvider:  s.provider.Name(),
		AIModel:     s.provider.Model(),
		RiskFactors: v.RiskFactors,
		Source:      source,
	}
}

// failModeDecision applies the configured failure mode with a stable
// reason naming the failure class. Raw error text never reaches callers.
func (s *AdvisorService) failModeDecision(err error, matched *rule.SecurityRule) *decision.Decision {
	if s.metrics != nil && s.provider != nil {
		s.metrics.AdvisorRequests.WithLabelValues(s.provider.Name(), "fail_mode").Inc()
	}
	return &decision.Decision{
		Action:     s.cfg.FailureMode,
		Reason:     failReason(err),
		RuleID:     matched.ID,
		Confidence: 0,
		Source:     decision.SourceFailMode,
	}
}

func failReason(err error) string {
	switch {
	case errors.Is(err, errAdvisorNotConfigured):
		return "advisor not configured"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "advisor unavailable: circuit open"
	case errors.Is(err, errAdvisorQueueFull):
		return "advisor unavailable: queue full"
	case errors.Is(err, context.DeadlineExceeded):
		return "advisor unavailable: timeout"
	case errors.Is(err, context.Canceled):
		return "advisor unavailable: cancelled"
	}
	var advErr *decision.AdvisorError
	if errors.As(err, &advErr) && !advErr.Transient {
		return "advisor returned malformed verdict"
	}
	return "advisor unavailable: request failed"
}

// ClearCache drops all cached verdicts. Wired to rule reloads: a new
// rule set can change which requests sample at all.
func (s *AdvisorService) ClearCache() {
	s.cache.Clear()
}

// Status reports the advisor path for health checks.
func (s *AdvisorService) Status() (configured bool, provider, model, breakerState string, cacheEntries int) {
	if s.provider == nil {
		return false, "", "", "", s.cache.Size()
	}
	return true, s.provider.Name(), s.provider.Model(), s.breaker.State().String(), s.cache.Size()
}

// verdictCacheKey hashes the identity of one advisor consultation.
// Parameters are canonicalized through encoding/json, which sorts map
// keys. Caller identity is deliberately excluded: equal requests share
// verdicts across agents, sessions, and transports.
func verdictCacheKey(toolName string, params map[string]any, ruleID string) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(toolName)
	_, _ = h.Write([]byte{0}) // separator
	if len(params) > 0 {
		data, _ := json.Marshal(params)
		_, _ = h.Write(data)
	}
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(ruleID)
	return h.Sum64()
}

// cacheEntry is a doubly-linked list node for the verdict cache.
type cacheEntry struct {
	key       uint64
	verdict   decision.AdvisorVerdict
	expiresAt time.Time
	prev      *cacheEntry
	next      *cacheEntry
}

// verdictCache is a bounded LRU with per-entry TTL. Thread-safe with a
// Mutex (both Get and Put mutate LRU order).
type verdictCache struct {
	mu      sync.Mutex
	entries map[uint64]*cacheEntry
	head    *cacheEntry // most recently used
	tail    *cacheEntry // least recently used
	maxSize int
	ttl     time.Duration
}

func newVerdictCache(maxSize int, ttl time.Duration) *verdictCache {
	return &verdictCache{
		entries: make(map[uint64]*cacheEntry, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Get retrieves a live cached verdict. Expired entries are removed on
// access. On hit, the entry is promoted to the head.
func (c *verdictCache) Get(key uint64) (*decision.AdvisorVerdict, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, e.key)
		c.unlinkLocked(e)
		return nil, false
	}
	c.moveToHeadLocked(e)
	v := e.verdict
	return &v, true
}

// Put stores a verdict. If at capacity, the least recently used entry is
// evicted.
func (c *verdictCache) Put(key uint64, v *decision.AdvisorVerdict) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := time.Now().Add(c.ttl)
	if e, ok := c.entries[key]; ok {
		e.verdict = *v
		e.expiresAt = expires
		c.moveToHeadLocked(e)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictTailLocked()
	}

	e := &cacheEntry{key: key, verdict: *v, expiresAt: expires}
	c.entries[key] = e
	c.pushHeadLocked(e)
}

// Clear empties the cache.
func (c *verdictCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]*cacheEntry, c.maxSize)
	c.head = nil
	c.tail = nil
}

// Size returns current cache occupancy.
func (c *verdictCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// moveToHeadLocked moves an existing entry to the head. Must be called with lock held.
func (c *verdictCache) moveToHeadLocked(e *cacheEntry) {
	if c.head == e {
		return
	}
	c.unlinkLocked(e)
	c.pushHeadLocked(e)
}

// pushHeadLocked inserts an entry at the head. Must be called with lock held.
func (c *verdictCache) pushHeadLocked(e *cacheEntry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

// unlinkLocked removes an entry from the linked list. Must be called with lock held.
func (c *verdictCache) unlinkLocked(e *cacheEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

// evictTailLocked removes the least recently used entry. Must be called with lock held.
func (c *verdictCache) evictTailLocked() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlinkLocked(c.tail)
}
