package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/superego-ai/superego/internal/domain/decision"
	"github.com/superego-ai/superego/internal/domain/request"
	"github.com/superego-ai/superego/internal/domain/rule"
)

// scriptedProvider returns a fixed verdict, with optional per-call
// errors consumed in order and an optional delay that honors ctx.
type scriptedProvider struct {
	mu      sync.Mutex
	calls   int
	verdict *decision.AdvisorVerdict
	errs    []error
	delay   time.Duration
}

func (p *scriptedProvider) Consult(ctx context.Context, _ *request.ToolRequest, _ *rule.SecurityRule) (*decision.AdvisorVerdict, error) {
	p.mu.Lock()
	p.calls++
	var err error
	if len(p.errs) > 0 {
		err = p.errs[0]
		p.errs = p.errs[1:]
	}
	delay := p.delay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, decision.NewAdvisorError(ctx.Err(), true)
		}
	}
	if err != nil {
		return nil, err
	}
	v := *p.verdict
	return &v, nil
}

func (p *scriptedProvider) Name() string  { return "scripted" }
func (p *scriptedProvider) Model() string { return "scripted-model" }

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func allowVerdict() *decision.AdvisorVerdict {
	return &decision.AdvisorVerdict{
		Decision:   decision.ActionAllow,
		Reason:     "looks safe",
		Confidence: 0.9,
	}
}

func sampledRule() *rule.SecurityRule {
	return &rule.SecurityRule{
		ID:       "sample-writes",
		Priority: 100,
		Action:   decision.ActionSample,
		Reason:   "writes need review",
	}
}

func advisorRequest(command string) *request.ToolRequest {
	return &request.ToolRequest{
		ToolName:   "Bash",
		Parameters: map[string]any{"command": command},
		AgentID:    "agent-1",
		SessionID:  "sess-1",
		CWD:        "/home/dev",
		Timestamp:  time.Now().UTC(),
	}
}

func TestAdvisorService_NoProviderAppliesFailMode(t *testing.T) {
	svc := NewAdvisorService(nil, AdvisorConfig{}, discardLogger())

	dec := svc.Advise(context.Background(), advisorRequest("ls"), sampledRule())
	if dec.Action != decision.ActionDeny {
		t.Fatalf("action = %q, want deny", dec.Action)
	}
	if dec.Reason != "advisor not configured" {
		t.Errorf("reason = %q", dec.Reason)
	}
	if dec.Confidence != 0 {
		t.Errorf("confidence = %v, want 0", dec.Confidence)
	}
	if dec.Source != decision.SourceFailMode {
		t.Errorf("source = %q, want fail_mode", dec.Source)
	}
	if dec.RuleID != "sample-writes" {
		t.Errorf("rule_id = %q", dec.RuleID)
	}
}

func TestAdvisorService_TranslatesVerdict(t *testing.T) {
	provider := &scriptedProvider{verdict: allowVerdict()}
	svc := NewAdvisorService(provider, AdvisorConfig{}, discardLogger())

	dec := svc.Advise(context.Background(), advisorRequest("ls"), sampledRule())
	if dec.Action != decision.ActionAllow {
		t.Fatalf("action = %q, want allow", dec.Action)
	}
	if dec.Source != decision.SourceAdvisor {
		t.Errorf("source = %q, want advisor", dec.Source)
	}
	if dec.AIProvider != "scripted" || dec.AIModel != "scripted-model" {
		t.Errorf("provider/model = %q/%q", dec.AIProvider, dec.AIModel)
	}
	if dec.Confidence != 0.9 {
		t.Errorf("confidence = %v", dec.Confidence)
	}
}

func TestAdvisorService_CachesVerdicts(t *testing.T) {
	provider := &scriptedProvider{verdict: allowVerdict()}
	svc := NewAdvisorService(provider, AdvisorConfig{}, discardLogger())

	first := svc.Advise(context.Background(), advisorRequest("ls"), sampledRule())
	second := svc.Advise(context.Background(), advisorRequest("ls"), sampledRule())

	if provider.callCount() != 1 {
		t.Fatalf("provider calls = %d, want 1 (second served from cache)", provider.callCount())
	}
	if first.Source != decision.SourceAdvisor {
		t.Errorf("first source = %q, want advisor", first.Source)
	}
	if second.Source != decision.SourceAdvisorCache {
		t.Errorf("second source = %q, want advisor_cache", second.Source)
	}
	if second.Action != first.Action || second.Confidence != first.Confidence {
		t.Errorf("cached verdict differs: %+v vs %+v", second, first)
	}
}

func TestAdvisorService_CacheKeyExcludesCallerIdentity(t *testing.T) {
	provider := &scriptedProvider{verdict: allowVerdict()}
	svc := NewAdvisorService(provider, AdvisorConfig{}, discardLogger())

	a := advisorRequest("ls")
	b := advisorRequest("ls")
	b.AgentID = "agent-2"
	b.SessionID = "sess-9"

	svc.Advise(context.Background(), a, sampledRule())
	dec := svc.Advise(context.Background(), b, sampledRule())

	if provider.callCount() != 1 {
		t.Fatalf("provider calls = %d, want 1 (identity excluded from key)", provider.callCount())
	}
	if dec.Source != decision.SourceAdvisorCache {
		t.Errorf("source = %q, want advisor_cache", dec.Source)
	}
}

func TestAdvisorService_CacheKeyIncludesRuleAndParams(t *testing.T) {
	provider := &scriptedProvider{verdict: allowVerdict()}
	svc := NewAdvisorService(provider, AdvisorConfig{}, discardLogger())

	svc.Advise(context.Background(), advisorRequest("ls"), sampledRule())
	svc.Advise(context.Background(), advisorRequest("rm -rf /tmp/x"), sampledRule())

	other := sampledRule()
	other.ID = "sample-other"
	svc.Advise(context.Background(), advisorRequest("ls"), other)

	if provider.callCount() != 3 {
		t.Fatalf("provider calls = %d, want 3 (params and rule id are part of the key)", provider.callCount())
	}
}

func TestAdvisorService_TerminalErrorNotRetried(t *testing.T) {
	provider := &scriptedProvider{
		verdict: allowVerdict(),
		errs:    []error{decision.NewAdvisorError(errors.New("malformed verdict"), false)},
	}
	svc := NewAdvisorService(provider, AdvisorConfig{RetryAttempts: 2}, discardLogger())

	dec := svc.Advise(context.Background(), advisorRequest("ls"), sampledRule())
	if provider.callCount() != 1 {
		t.Fatalf("provider calls = %d, want 1 (terminal errors never retry)", provider.callCount())
	}
	if dec.Action != decision.ActionDeny || dec.Source != decision.SourceFailMode {
		t.Fatalf("decision = %+v, want fail-mode deny", dec)
	}
	if dec.Reason != "advisor returned malformed verdict" {
		t.Errorf("reason = %q", dec.Reason)
	}
}

func TestAdvisorService_RetriesTransientThenSucceeds(t *testing.T) {
	provider := &scriptedProvider{
		verdict: allowVerdict(),
		errs:    []error{decision.NewAdvisorError(errors.New("connection reset"), true)},
	}
	svc := NewAdvisorService(provider, AdvisorConfig{RetryAttempts: 2}, discardLogger())

	dec := svc.Advise(context.Background(), advisorRequest("ls"), sampledRule())
	if provider.callCount() != 2 {
		t.Fatalf("provider calls = %d, want 2", provider.callCount())
	}
	if dec.Action != decision.ActionAllow || dec.Source != decision.SourceAdvisor {
		t.Fatalf("decision = %+v, want advisor allow after retry", dec)
	}
}

func TestAdvisorService_RetryBudgetExhausted(t *testing.T) {
	transient := func() error { return decision.NewAdvisorError(errors.New("upstream 503"), true) }
	provider := &scriptedProvider{
		verdict: allowVerdict(),
		errs:    []error{transient(), transient(), transient()},
	}
	svc := NewAdvisorService(provider, AdvisorConfig{RetryAttempts: 2}, discardLogger())

	dec := svc.Advise(context.Background(), advisorRequest("ls"), sampledRule())
	if provider.callCount() != 3 {
		t.Fatalf("provider calls = %d, want 3 (initial + 2 retries)", provider.callCount())
	}
	if dec.Source != decision.SourceFailMode {
		t.Fatalf("source = %q, want fail_mode", dec.Source)
	}
	if dec.Reason != "advisor unavailable: request failed" {
		t.Errorf("reason = %q", dec.Reason)
	}
}

func TestAdvisorService_FailModeAllow(t *testing.T) {
	provider := &scriptedProvider{
		verdict: allowVerdict(),
		errs:    []error{decision.NewAdvisorError(errors.New("boom"), false)},
	}
	svc := NewAdvisorService(provider, AdvisorConfig{FailureMode: decision.ActionAllow}, discardLogger())

	dec := svc.Advise(context.Background(), advisorRequest("ls"), sampledRule())
	if dec.Action != decision.ActionAllow {
		t.Fatalf("action = %q, want allow fail-mode", dec.Action)
	}
	if dec.Confidence != 0 {
		t.Errorf("confidence = %v, want 0 for fail-mode", dec.Confidence)
	}
	if dec.Source != decision.SourceFailMode {
		t.Errorf("source = %q", dec.Source)
	}
}

func TestAdvisorService_TimeoutAppliesFailMode(t *testing.T) {
	provider := &scriptedProvider{verdict: allowVerdict(), delay: 500 * time.Millisecond}
	svc := NewAdvisorService(provider, AdvisorConfig{Timeout: 30 * time.Millisecond, RetryAttempts: 2}, discardLogger())

	start := time.Now()
	dec := svc.Advise(context.Background(), advisorRequest("ls"), sampledRule())
	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Fatalf("Advise took %v, want fast timeout", elapsed)
	}
	if dec.Source != decision.SourceFailMode {
		t.Fatalf("source = %q, want fail_mode", dec.Source)
	}
	if dec.Reason != "advisor unavailable: timeout" {
		t.Errorf("reason = %q", dec.Reason)
	}
	if provider.callCount() != 1 {
		t.Errorf("provider calls = %d, timeouts must not retry", provider.callCount())
	}
}

func TestAdvisorService_CallerCancellation(t *testing.T) {
	provider := &scriptedProvider{verdict: allowVerdict(), delay: time.Second}
	svc := NewAdvisorService(provider, AdvisorConfig{}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	dec := svc.Advise(ctx, advisorRequest("ls"), sampledRule())
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("Advise took %v after cancellation", elapsed)
	}
	if dec.Source != decision.SourceFailMode {
		t.Fatalf("source = %q, want fail_mode", dec.Source)
	}
	if dec.Reason != "advisor unavailable: cancelled" {
		t.Errorf("reason = %q", dec.Reason)
	}
}

func TestAdvisorService_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	boom := func() error { return decision.NewAdvisorError(errors.New("upstream down"), true) }
	provider := &scriptedProvider{
		verdict: allowVerdict(),
		errs:    []error{boom(), boom()},
	}
	svc := NewAdvisorService(provider, AdvisorConfig{
		RetryAttempts:    0,
		BreakerThreshold: 2,
		BreakerCooldown:  time.Minute,
	}, discardLogger())

	// Distinct commands dodge the cache and the flight group.
	svc.Advise(context.Background(), advisorRequest("cmd-1"), sampledRule())
	svc.Advise(context.Background(), advisorRequest("cmd-2"), sampledRule())

	dec := svc.Advise(context.Background(), advisorRequest("cmd-3"), sampledRule())
	if provider.callCount() != 2 {
		t.Fatalf("provider calls = %d, want 2 (third short-circuited by breaker)", provider.callCount())
	}
	if dec.Reason != "advisor unavailable: circuit open" {
		t.Errorf("reason = %q", dec.Reason)
	}
	if dec.Source != decision.SourceFailMode {
		t.Errorf("source = %q, want fail_mode", dec.Source)
	}

	_, _, _, state, _ := svc.Status()
	if state != "open" {
		t.Errorf("breaker state = %q, want open", state)
	}
}

func TestAdvisorService_SingleflightCoalesces(t *testing.T) {
	provider := &scriptedProvider{verdict: allowVerdict(), delay: 50 * time.Millisecond}
	svc := NewAdvisorService(provider, AdvisorConfig{}, discardLogger())

	const workers = 4
	var wg sync.WaitGroup
	results := make([]*decision.Decision, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = svc.Advise(context.Background(), advisorRequest("ls"), sampledRule())
		}(i)
	}
	wg.Wait()

	if provider.callCount() != 1 {
		t.Fatalf("provider calls = %d, want 1 (concurrent misses coalesce)", provider.callCount())
	}
	for i, dec := range results {
		if dec.Action != decision.ActionAllow {
			t.Errorf("worker %d action = %q, want allow", i, dec.Action)
		}
	}
}

func TestAdvisorService_ClearCacheForcesReconsult(t *testing.T) {
	provider := &scriptedProvider{verdict: allowVerdict()}
	svc := NewAdvisorService(provider, AdvisorConfig{}, discardLogger())

	svc.Advise(context.Background(), advisorRequest("ls"), sampledRule())
	svc.ClearCache()
	svc.Advise(context.Background(), advisorRequest("ls"), sampledRule())

	if provider.callCount() != 2 {
		t.Fatalf("provider calls = %d, want 2 after cache clear", provider.callCount())
	}
}

func TestAdvisorService_CacheTTLExpiry(t *testing.T) {
	provider := &scriptedProvider{verdict: allowVerdict()}
	svc := NewAdvisorService(provider, AdvisorConfig{CacheTTL: 20 * time.Millisecond}, discardLogger())

	svc.Advise(context.Background(), advisorRequest("ls"), sampledRule())
	time.Sleep(40 * time.Millisecond)
	svc.Advise(context.Background(), advisorRequest("ls"), sampledRule())

	if provider.callCount() != 2 {
		t.Fatalf("provider calls = %d, want 2 after TTL expiry", provider.callCount())
	}
}

func TestAdvisorService_Status(t *testing.T) {
	provider := &scriptedProvider{verdict: allowVerdict()}
	svc := NewAdvisorService(provider, AdvisorConfig{}, discardLogger())

	configured, name, model, state, entries := svc.Status()
	if !configured {
		t.Fatal("configured = false, want true")
	}
	if name != "scripted" || model != "scripted-model" {
		t.Errorf("name/model = %q/%q", name, model)
	}
	if state != "closed" {
		t.Errorf("breaker state = %q, want closed", state)
	}
	if entries != 0 {
		t.Errorf("cache entries = %d, want 0", entries)
	}

	svc.Advise(context.Background(), advisorRequest("ls"), sampledRule())
	if _, _, _, _, entries = svc.Status(); entries != 1 {
		t.Errorf("cache entries = %d, want 1", entries)
	}
}

func TestVerdictCache_LRUEviction(t *testing.T) {
	c := newVerdictCache(2, time.Minute)
	v := allowVerdict()

	c.Put(1, v)
	c.Put(2, v)
	c.Put(3, v) // evicts key 1

	if _, ok := c.Get(1); ok {
		t.Error("key 1 should have been evicted")
	}
	if _, ok := c.Get(2); !ok {
		t.Error("key 2 should still be cached")
	}
	if _, ok := c.Get(3); !ok {
		t.Error("key 3 should still be cached")
	}
	if c.Size() != 2 {
		t.Errorf("size = %d, want 2", c.Size())
	}
}

func TestVerdictCache_GetPromotes(t *testing.T) {
	c := newVerdictCache(2, time.Minute)
	v := allowVerdict()

	c.Put(1, v)
	c.Put(2, v)
	if _, ok := c.Get(1); !ok {
		t.Fatal("key 1 missing")
	}
	c.Put(3, v) // evicts key 2, which is now least recently used

	if _, ok := c.Get(2); ok {
		t.Error("key 2 should have been evicted")
	}
	if _, ok := c.Get(1); !ok {
		t.Error("key 1 should have been kept by promotion")
	}
}

func TestVerdictCacheKey_CanonicalParams(t *testing.T) {
	a := verdictCacheKey("Bash", map[string]any{"a": 1, "b": "x"}, "r1")
	b := verdictCacheKey("Bash", map[string]any{"b": "x", "a": 1}, "r1")
	if a != b {
		t.Error("key must not depend on map iteration order")
	}

	if verdictCacheKey("Bash", nil, "r1") == verdictCacheKey("Bash", nil, "r2") {
		t.Error("key must include the rule id")
	}
	if verdictCacheKey("Bash", nil, "r1") == verdictCacheKey("Read", nil, "r1") {
		t.Error("key must include the tool name")
	}
}
