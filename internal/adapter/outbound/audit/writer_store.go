package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/superego-ai/superego/internal/domain/audit"
)

// WriterStore writes audit entries as JSON Lines to an io.Writer. The
// default sink: stderr, because stdout belongs to the MCP stdio
// transport.
type WriterStore struct {
	mu      sync.Mutex
	encoder *json.Encoder
	closed  bool
}

var _ audit.Store = (*WriterStore)(nil)

// NewStderrStore creates a sink writing JSON Lines to stderr.
func NewStderrStore() *WriterStore {
	return NewWriterStore(os.Stderr)
}

// NewWriterStore creates a sink writing JSON Lines to w.
func NewWriterStore(w io.Writer) *WriterStore {
	return &WriterStore{encoder: json.NewEncoder(w)}
}

// Append writes one entry as a JSON line.
func (s *WriterStore) Append(_ context.Context, entry *audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("audit sink is closed")
	}
	if err := s.encoder.Encode(entry); err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	return nil
}

// Close marks the sink closed. The underlying writer is not owned by the
// store and stays open.
func (s *WriterStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
