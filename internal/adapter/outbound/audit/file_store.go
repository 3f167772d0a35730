// Package audit provides the audit sink backends: JSON Lines to stderr or
// rotated files, SQLite, and an in-memory ring buffer.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/superego-ai/superego/internal/domain/audit"
)

// auditFileInfo holds parsed information about an audit file.
type auditFileInfo struct {
	name   string
	date   string
	suffix int
}

// auditFilePattern matches audit log filenames: audit-YYYY-MM-DD.log or audit-YYYY-MM-DD-N.log
var auditFilePattern = regexp.MustCompile(`^audit-(\d{4}-\d{2}-\d{2})(?:-(\d+))?\.log$`)

// parseAuditFilename parses an audit filename and returns its components.
func parseAuditFilename(name string) (auditFileInfo, bool) {
	matches := auditFilePattern.FindStringSubmatch(name)
	if matches == nil {
		return auditFileInfo{}, false
	}

	info := auditFileInfo{
		name: name,
		date: matches[1],
	}

	if matches[2] != "" {
		n, err := strconv.Atoi(matches[2])
		if err != nil {
			return auditFileInfo{}, false
		}
		info.suffix = n
	}

	return info, true
}

// sortAuditFiles sorts audit file info by date then suffix (chronological order).
func sortAuditFiles(files []auditFileInfo) {
	sort.Slice(files, func(i, j int) bool {
		if files[i].date != files[j].date {
			return files[i].date < files[j].date
		}
		return files[i].suffix < files[j].suffix
	})
}

// FileConfig holds configuration for the file-based audit sink.
type FileConfig struct {
	// Dir is the directory where audit files are stored.
	Dir string
	// RetentionDays is the number of days to keep audit files (default 7).
	RetentionDays int
	// MaxFileSizeMB is the maximum file size in megabytes before rotation (default 100).
	MaxFileSizeMB int
}

// FileStore writes audit entries as JSON Lines with date and size
// rotation and a retention sweep. A directory-level lock file guards
// against two processes appending to the same audit files.
type FileStore struct {
	dir           string
	maxFileSize   int64
	retentionDays int
	lockFile      *os.File
	currentFile   *os.File
	currentDate   string
	currentSize   int64
	currentSuffix int
	mu            sync.Mutex
	logger        *slog.Logger
	cancel        context.CancelFunc
	closed        bool
}

var _ audit.Store = (*FileStore)(nil)

// NewFileStore creates a file-based audit sink. It creates the directory
// if needed, takes the directory lock, opens today's log file, runs a
// retention sweep, and starts the hourly sweep goroutine.
func NewFileStore(cfg FileConfig, logger *slog.Logger) (*FileStore, error) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = 100
	}

	// Audit logs may contain tool parameters; keep them private.
	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	lock, err := acquireDirLock(filepath.Join(cfg.Dir, ".lock"))
	if err != nil {
		return nil, fmt.Errorf("lock audit directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &FileStore{
		dir:           cfg.Dir,
		maxFileSize:   int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		retentionDays: cfg.RetentionDays,
		lockFile:      lock,
		logger:        logger.With("component", "auditfile"),
		cancel:        cancel,
	}

	today := time.Now().UTC().Format("2006-01-02")
	if err := s.openCurrentFile(today); err != nil {
		cancel()
		releaseDirLock(lock)
		return nil, fmt.Errorf("open audit file: %w", err)
	}

	s.runSweep()
	go s.sweepLoop(ctx)

	return s, nil
}

// Append writes one entry as a JSON line, rotating by date and size as
// needed.
func (s *FileStore) Append(_ context.Context, entry *audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("audit sink is closed")
	}

	dateStr := entry.Timestamp.UTC().Format("2006-01-02")
	if dateStr != s.currentDate {
		if err := s.rotateDateLocked(dateStr); err != nil {
			return fmt.Errorf("date rotation: %w", err)
		}
	}
	if s.currentSize >= s.maxFileSize {
		if err := s.rotateSizeLocked(); err != nil {
			return fmt.Errorf("size rotation: %w", err)
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	line := append(data, '\n')
	n, err := s.currentFile.Write(line)
	if err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	s.currentSize += int64(n)

	return nil
}

// Close stops the sweep goroutine, syncs the current file, and releases
// the directory lock.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	s.cancel()

	var err error
	if s.currentFile != nil {
		_ = s.currentFile.Sync()
		err = s.currentFile.Close()
		s.currentFile = nil
	}
	releaseDirLock(s.lockFile)
	s.lockFile = nil

	return err
}

// PurgeOlderThan deletes audit files whose date is strictly before the
// cutoff day. Returns the number of files removed.
func (s *FileStore) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read audit directory: %w", err)
	}

	cutoffDay := cutoff.UTC().Truncate(24 * time.Hour)
	var deleted int64

	for _, e := range entries {
		info, ok := parseAuditFilename(e.Name())
		if !ok {
			continue
		}
		fileDate, err := time.Parse("2006-01-02", info.date)
		if err != nil {
			continue
		}
		if fileDate.Before(cutoffDay) {
			if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
				return deleted, fmt.Errorf("delete %s: %w", e.Name(), err)
			}
			deleted++
		}
	}

	return deleted, nil
}

var _ audit.Purger = (*FileStore)(nil)

// openCurrentFile opens or creates the audit file for the given date.
// It determines the correct suffix by checking existing files on disk.
func (s *FileStore) openCurrentFile(dateStr string) error {
	suffix := s.findHighestSuffix(dateStr)

	f, size, err := s.openFile(dateStr, suffix)
	if err != nil {
		return err
	}

	s.currentFile = f
	s.currentDate = dateStr
	s.currentSize = size
	s.currentSuffix = suffix

	return nil
}

// findHighestSuffix returns the highest existing suffix for a date, or 0 if none.
func (s *FileStore) findHighestSuffix(dateStr string) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}

	highest := 0
	for _, e := range entries {
		info, ok := parseAuditFilename(e.Name())
		if !ok || info.date != dateStr {
			continue
		}
		if info.suffix > highest {
			highest = info.suffix
		}
	}

	return highest
}

// openFile opens an audit file with the given date and suffix.
// Returns the file handle and its current size.
func (s *FileStore) openFile(dateStr string, suffix int) (*os.File, int64, error) {
	filename := s.buildFilename(dateStr, suffix)
	path := filepath.Join(s.dir, filename)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, 0, fmt.Errorf("open file %s: %w", filename, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat file %s: %w", filename, err)
	}

	return f, info.Size(), nil
}

// buildFilename constructs the audit filename for a date and suffix.
func (s *FileStore) buildFilename(dateStr string, suffix int) string {
	if suffix == 0 {
		return fmt.Sprintf("audit-%s.log", dateStr)
	}
	return fmt.Sprintf("audit-%s-%d.log", dateStr, suffix)
}

// rotateDateLocked closes the current file and opens a new one for the given date.
// Must be called with s.mu held.
func (s *FileStore) rotateDateLocked(dateStr string) error {
	if s.currentFile != nil {
		_ = s.currentFile.Sync()
		_ = s.currentFile.Close()
		s.currentFile = nil
	}

	s.currentSuffix = 0
	s.currentSize = 0
	s.currentDate = dateStr

	f, size, err := s.openFile(dateStr, 0)
	if err != nil {
		return err
	}

	s.currentFile = f
	s.currentSize = size

	return nil
}

// rotateSizeLocked closes the current file and opens a new one with an incremented suffix.
// Must be called with s.mu held.
func (s *FileStore) rotateSizeLocked() error {
	if s.currentFile != nil {
		_ = s.currentFile.Sync()
		_ = s.currentFile.Close()
		s.currentFile = nil
	}

	s.currentSuffix++
	s.currentSize = 0

	f, size, err := s.openFile(s.currentDate, s.currentSuffix)
	if err != nil {
		return err
	}

	s.currentFile = f
	s.currentSize = size

	return nil
}

// runSweep deletes audit files older than the retention period.
func (s *FileStore) runSweep() {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)
	deleted, err := s.PurgeOlderThan(context.Background(), cutoff)
	if err != nil {
		s.logger.Error("audit retention sweep failed", "dir", s.dir, "error", err)
		return
	}
	if deleted > 0 {
		s.logger.Info("audit retention sweep completed", "deleted", deleted)
	}
}

// sweepLoop runs the retention sweep every hour until the context is cancelled.
func (s *FileStore) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runSweep()
		}
	}
}

// acquireDirLock opens the lock file and takes an exclusive lock on it.
// Fails immediately when another process already writes to this
// directory, so two instances never interleave audit lines.
func acquireDirLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, err
	}
	if err := flockTryLock(f.Fd()); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("audit directory is in use by another process: %w", err)
	}
	return f, nil
}

// releaseDirLock releases the lock and closes the file.
func releaseDirLock(f *os.File) {
	if f == nil {
		return
	}
	_ = flockUnlock(f.Fd())
	_ = f.Close()
}
