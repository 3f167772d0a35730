package audit

import (
	"context"
	"time"
)

// Store persists audit entries.
// Interface owned by domain per hexagonal architecture. Writes are
// synchronous: Append returns only once the entry is durable for the
// backend's definition of durable.
type Store interface {
	// Append stores one entry.
	Append(ctx context.Context, entry *Entry) error

	// Close releases resources.
	Close() error
}

// Purger is implemented by stores that can delete aged entries.
// Backends with a retention window run this on open and periodically.
type Purger interface {
	// PurgeOlderThan deletes entries recorded before the cutoff and
	// returns the number removed.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
