package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/superego-ai/superego/internal/domain/audit"
)

// SQLiteStore persists audit entries in an append-only SQLite table.
// Frequently filtered fields get their own indexed columns; the full
// entry rides along as raw JSON.
type SQLiteStore struct {
	db *sql.DB
}

var (
	_ audit.Store  = (*SQLiteStore)(nil)
	_ audit.Purger = (*SQLiteStore)(nil)
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	entry_id TEXT UNIQUE NOT NULL,
	timestamp TEXT NOT NULL,
	transport TEXT NOT NULL,
	source TEXT NOT NULL,
	tool_name TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	session_id TEXT NOT NULL,
	action TEXT NOT NULL,
	rule_id TEXT,
	confidence REAL NOT NULL,
	raw_json TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entries_timestamp ON audit_entries(timestamp);
CREATE INDEX IF NOT EXISTS idx_entries_tool ON audit_entries(tool_name);
CREATE INDEX IF NOT EXISTS idx_entries_session ON audit_entries(session_id);
CREATE INDEX IF NOT EXISTS idx_entries_action ON audit_entries(action);
`

// NewSQLiteStore opens (or creates) the database at path and ensures the
// schema exists. WAL mode keeps concurrent reads cheap while the engine
// appends.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create audit directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create audit schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Append inserts one entry.
func (s *SQLiteStore) Append(ctx context.Context, entry *audit.Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_entries (
			entry_id, timestamp, transport, source,
			tool_name, agent_id, session_id,
			action, rule_id, confidence, raw_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID,
		entry.Timestamp.UTC().Format(time.RFC3339Nano),
		entry.Transport,
		entry.Source,
		entry.Request.ToolName,
		entry.Request.AgentID,
		entry.Request.SessionID,
		string(entry.Decision.Action),
		entry.Decision.RuleID,
		entry.Decision.Confidence,
		string(raw),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Recent returns the last n entries, newest first, decoded from their
// raw JSON.
func (s *SQLiteStore) Recent(ctx context.Context, n int) ([]audit.Entry, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT raw_json FROM audit_entries ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		var entry audit.Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("unmarshal audit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// PurgeOlderThan deletes entries with a timestamp strictly before the
// cutoff. Returns the number of rows removed.
func (s *SQLiteStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM audit_entries WHERE timestamp < ?`,
		cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("purge audit entries: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
