package rulefile

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/superego-ai/superego/internal/domain/rule"
	"github.com/superego-ai/superego/internal/port/outbound"
	"github.com/superego-ai/superego/internal/telemetry"
)

// Store serves the active rule snapshot. Reads are lock-free via
// atomic.Value; Reload compiles the replacement outside the lock and swaps
// it in one store. A failed reload keeps the previous snapshot serving.
type Store struct {
	path     string
	compiler rule.ExprCompiler
	logger   *slog.Logger
	metrics  *telemetry.Metrics

	snapshot atomic.Value // stores *rule.RuleSet
	mu       sync.Mutex   // serializes Reload, guards lastErr and onReload
	lastErr  error

	onReload []func(*rule.RuleSet)
}

var _ outbound.RuleSource = (*Store)(nil)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithMetrics wires reload counters and the loaded-rules gauge.
func WithMetrics(m *telemetry.Metrics) StoreOption {
	return func(s *Store) {
		s.metrics = m
	}
}

// NewStore creates an unloaded store for the given rules file. Call Load
// before serving.
func NewStore(path string, compiler rule.ExprCompiler, logger *slog.Logger, opts ...StoreOption) *Store {
	s := &Store{
		path:     path,
		compiler: compiler,
		logger:   logger.With("component", "rulefile"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load performs the initial load. Unlike Reload, a failure here is fatal:
// with no snapshot every request would deny and startup should not
// proceed silently.
func (s *Store) Load(ctx context.Context) error {
	set, err := Load(s.path, s.compiler)
	if err != nil {
		s.recordReload(nil, err)
		return err
	}
	s.publish(set)
	s.recordReload(set, nil)

	s.logger.Info("rules loaded",
		"path", s.path,
		"rules", set.Len(),
	)
	return nil
}

// Reload recompiles the rules file and swaps the snapshot. On failure the
// previous snapshot stays active and the error is retained for health
// reporting. In-flight evaluations keep the snapshot they started with.
func (s *Store) Reload(ctx context.Context) error {
	set, err := Load(s.path, s.compiler)
	if err != nil {
		s.recordReload(nil, err)
		s.logger.Error("rules reload failed, keeping previous snapshot",
			"path", s.path,
			"error", err,
		)
		return err
	}

	callbacks := s.publish(set)
	s.recordReload(set, nil)

	s.logger.Info("rules reloaded",
		"path", s.path,
		"rules", set.Len(),
	)
	for _, fn := range callbacks {
		fn(set)
	}
	return nil
}

// publish swaps the snapshot and returns the callbacks to run, snapshotted
// under the lock so late registrations cannot race the slice.
func (s *Store) publish(set *rule.RuleSet) []func(*rule.RuleSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot.Store(set)
	s.lastErr = nil
	return s.onReload
}

// recordReload updates the error state and metrics for one load attempt.
func (s *Store) recordReload(set *rule.RuleSet, err error) {
	if err != nil {
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.RuleReloads.WithLabelValues("error").Inc()
		}
		return
	}
	if s.metrics != nil {
		s.metrics.RuleReloads.WithLabelValues("ok").Inc()
		s.metrics.RulesLoaded.Set(float64(set.Len()))
	}
}

// Snapshot returns the active rule set, or nil before the first
// successful Load.
func (s *Store) Snapshot() *rule.RuleSet {
	v := s.snapshot.Load()
	if v == nil {
		return nil
	}
	return v.(*rule.RuleSet)
}

// Status reports the watched path and the most recent load error, nil
// when the last load succeeded.
func (s *Store) Status() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path, s.lastErr
}

// OnReload registers a callback invoked after each successful reload with
// the new snapshot. Used to clear the advisor cache when rules change.
// Callbacks run on the watcher goroutine.
func (s *Store) OnReload(fn func(*rule.RuleSet)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReload = append(s.onReload, fn)
}
