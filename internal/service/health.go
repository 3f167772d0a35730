package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/superego-ai/superego/internal/domain/health"
	"github.com/superego-ai/superego/internal/port/inbound"
	"github.com/superego-ai/superego/internal/port/outbound"
)

// HealthService assembles the component health report served on every
// transport.
type HealthService struct {
	rules   outbound.RuleSource
	advisor *AdvisorService
	version string
	started time.Time

	mu         sync.Mutex
	transports map[string]bool
}

var _ inbound.HealthChecker = (*HealthService)(nil)

// NewHealthService creates a health reporter. version is the build
// version stamped into reports.
func NewHealthService(rules outbound.RuleSource, advisor *AdvisorService, version string) *HealthService {
	return &HealthService{
		rules:      rules,
		advisor:    advisor,
		version:    version,
		started:    time.Now(),
		transports: make(map[string]bool),
	}
}

// RegisterTransport adds a transport to the report, initially not
// running. Call before the transport starts serving.
func (h *HealthService) RegisterTransport(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.transports[name]; !ok {
		h.transports[name] = false
	}
}

// SetTransportRunning flips a registered transport's running state.
func (h *HealthService) SetTransportRunning(name string, running bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transports[name] = running
}

// transportStatuses snapshots the registry sorted by name so the report
// is deterministic.
func (h *HealthService) transportStatuses() []health.TransportStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.transports) == 0 {
		return nil
	}
	out := make([]health.TransportStatus, 0, len(h.transports))
	for name, running := range h.transports {
		out = append(out, health.TransportStatus{Name: name, Running: running})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Health returns the current component report. It never fails: when the
// rule store has no snapshot the report says so instead.
func (h *HealthService) Health(_ context.Context) *health.Report {
	snapshot := h.rules.Snapshot()
	path, lastErr := h.rules.Status()

	rs := health.RuleStoreStatus{
		Healthy: snapshot != nil,
		Path:    path,
	}
	if snapshot != nil {
		rs.RuleCount = snapshot.Len()
		rs.LoadedAt = snapshot.LoadedAt
	}
	if lastErr != nil {
		rs.LastError = lastErr.Error()
	}

	var as health.AdvisorStatus
	if h.advisor != nil {
		configured, provider, model, breakerState, cacheEntries := h.advisor.Status()
		as = health.AdvisorStatus{
			Configured:   configured,
			Provider:     provider,
			Model:        model,
			BreakerState: breakerState,
			CacheEntries: cacheEntries,
		}
	}

	return &health.Report{
		Status:        health.DeriveStatus(rs, as),
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		RuleStore:     rs,
		Advisor:       as,
		Transports:    h.transportStatuses(),
		Timestamp:     time.Now().UTC(),
	}
}
