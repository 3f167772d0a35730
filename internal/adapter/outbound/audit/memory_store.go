package audit

import (
	"context"
	"sync"

	"github.com/superego-ai/superego/internal/domain/audit"
)

const defaultRingCap = 1000

// MemoryStore keeps audit entries in a bounded ring buffer. Used in
// tests and with `audit_output: memory`, where losing entries on restart
// is acceptable.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []audit.Entry
	head    int
	count   int
}

var _ audit.Store = (*MemoryStore)(nil)

// NewMemoryStore creates a ring buffer sink. capacity <= 0 uses the
// default of 1000.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = defaultRingCap
	}
	return &MemoryStore{entries: make([]audit.Entry, capacity)}
}

// Append stores the entry, overwriting the oldest when full.
func (s *MemoryStore) Append(_ context.Context, entry *audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[s.head] = *entry
	s.head = (s.head + 1) % len(s.entries)
	if s.count < len(s.entries) {
		s.count++
	}
	return nil
}

// Recent returns the last n entries, newest first. n larger than the
// buffer returns everything buffered.
func (s *MemoryStore) Recent(n int) []audit.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || s.count == 0 {
		return nil
	}
	if n > s.count {
		n = s.count
	}

	result := make([]audit.Entry, n)
	for i := 0; i < n; i++ {
		// head points to the next write position, so head-1 is newest.
		idx := (s.head - 1 - i + len(s.entries)) % len(s.entries)
		result[i] = s.entries[idx]
	}
	return result
}

// Len returns the number of buffered entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Close is a no-op; the buffer stays readable for tests.
func (s *MemoryStore) Close() error {
	return nil
}
