// Package health defines the component health report served over every
// transport.
package health

import "time"

// Status is the aggregate health of the service.
type Status string

const (
	// StatusHealthy means rules are loaded and the advisor path works.
	StatusHealthy Status = "healthy"
	// StatusDegraded means decisions are served but something is
	// impaired: a failed reload left stale rules, or the advisor
	// breaker is open.
	StatusDegraded Status = "degraded"
	// StatusUnhealthy means no rule snapshot was ever loaded; every
	// request denies by default.
	StatusUnhealthy Status = "unhealthy"
)

// RuleStoreStatus describes the loaded rule snapshot.
type RuleStoreStatus struct {
	// Healthy is true when a snapshot is loaded and servable.
	Healthy bool `json:"healthy"`
	// RuleCount is the number of rules in the active snapshot.
	RuleCount int `json:"rule_count"`
	// LoadedAt is when the active snapshot was compiled.
	LoadedAt time.Time `json:"loaded_at,omitzero"`
	// Path is the rules file being watched.
	Path string `json:"path"`
	// LastError is the most recent load or reload failure, empty
	// when the last load succeeded.
	LastError string `json:"last_error,omitempty"`
}

// AdvisorStatus describes the AI advisor path.
type AdvisorStatus struct {
	// Configured is false when no advisor is wired; sample rules
	// then resolve through the failure mode.
	Configured bool `json:"configured"`
	// Provider and Model identify the backing service.
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	// BreakerState is closed, half-open, or open.
	BreakerState string `json:"breaker_state,omitempty"`
	// CacheEntries is the current verdict cache occupancy.
	CacheEntries int `json:"cache_entries"`
}

// TransportStatus describes one registered inbound transport.
type TransportStatus struct {
	// Name is stdio, http, or websocket.
	Name string `json:"name"`
	// Running is true while the transport is accepting requests.
	Running bool `json:"running"`
}

// Report is the health check result.
type Report struct {
	Status        Status            `json:"status"`
	Version       string            `json:"version,omitempty"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	RuleStore     RuleStoreStatus   `json:"rule_store"`
	Advisor       AdvisorStatus     `json:"advisor"`
	Transports    []TransportStatus `json:"transports,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}

// DeriveStatus computes the aggregate status from component states.
// Missing rules trump everything: with no snapshot every request is
// denied, which is unhealthy even though the process is up.
func DeriveStatus(rules RuleStoreStatus, advisor AdvisorStatus) Status {
	if !rules.Healthy {
		return StatusUnhealthy
	}
	if rules.LastError != "" {
		return StatusDegraded
	}
	if advisor.Configured && advisor.BreakerState == "open" {
		return StatusDegraded
	}
	return StatusHealthy
}
