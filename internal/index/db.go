// Package index owns the persistent store: schema, fingerprint tracking,
// schema version guard, and the transactional session-replace pipeline.
package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sondreby/ailog/internal/model"
)

// SchemaVersion is bumped whenever parsing or schema changes require a full
// re-derivation of the index.
const SchemaVersion = 2

var (
	// ErrStoreUnavailable reports that the store cannot be opened or locked.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrSchemaDowngrade reports a persisted schema newer than this build.
	ErrSchemaDowngrade = errors.New("store schema is newer than this build")
)

const schema = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;
PRAGMA cache_size = -64000;
PRAGMA busy_timeout = 5000;

CREATE TABLE IF NOT EXISTS projects (
    project_id     TEXT PRIMARY KEY,
    provider       TEXT NOT NULL,
    name           TEXT NOT NULL,
    root_path      TEXT NOT NULL DEFAULT '',
    session_count  INTEGER NOT NULL DEFAULT 0,
    first_activity TEXT NOT NULL DEFAULT '',
    last_activity  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS sessions (
    session_id    TEXT PRIMARY KEY,
    provider      TEXT NOT NULL,
    project_id    TEXT NOT NULL,
    file_path     TEXT NOT NULL,
    started_at    TEXT NOT NULL DEFAULT '',
    ended_at      TEXT NOT NULL DEFAULT '',
    message_count INTEGER NOT NULL DEFAULT 0,
    first_prompt  TEXT NOT NULL DEFAULT '',
    summary       TEXT NOT NULL DEFAULT '',
    git_branch    TEXT NOT NULL DEFAULT '',
    cwd           TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS messages (
    message_id    TEXT PRIMARY KEY,
    session_id    TEXT NOT NULL,
    ordinal       INTEGER NOT NULL,
    ts            TEXT NOT NULL DEFAULT '',
    category      TEXT NOT NULL,
    text          TEXT NOT NULL,
    tool_name     TEXT NOT NULL DEFAULT '',
    tool_input    TEXT NOT NULL DEFAULT '',
    input_tokens  INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0,
    src_line      INTEGER NOT NULL DEFAULT 0,
    UNIQUE (session_id, ordinal)
);

CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
    text,
    content=messages,
    content_rowid=rowid,
    tokenize='porter unicode61'
);

-- triggers keep FTS in sync with the content table
CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
    INSERT INTO messages_fts(rowid, text) VALUES (new.rowid, new.text);
END;

CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, text) VALUES('delete', old.rowid, old.text);
END;

CREATE TRIGGER IF NOT EXISTS messages_au AFTER UPDATE ON messages BEGIN
    INSERT INTO messages_fts(messages_fts, rowid, text) VALUES('delete', old.rowid, old.text);
    INSERT INTO messages_fts(rowid, text) VALUES (new.rowid, new.text);
END;

CREATE TABLE IF NOT EXISTS files (
    path       TEXT PRIMARY KEY,
    provider   TEXT NOT NULL,
    session_id TEXT NOT NULL,
    mtime_ms   INTEGER NOT NULL,
    size       INTEGER NOT NULL,
    sha256     TEXT NOT NULL DEFAULT '',
    indexed_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS facet_counts (
    project_id TEXT NOT NULL,
    provider   TEXT NOT NULL,
    category   TEXT NOT NULL,
    n          INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (project_id, category)
);

CREATE TABLE IF NOT EXISTS meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_id);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);
CREATE INDEX IF NOT EXISTS idx_messages_category ON messages(category);
CREATE INDEX IF NOT EXISTS idx_files_session ON files(session_id);
`

// Store wraps the embedded SQLite database. All writes go through the
// single writer goroutine in Indexer; readers open their own queries on the
// shared handle, which WAL keeps from blocking on writes.
type Store struct {
	db   *sql.DB
	path string
}

func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create db dir: %v", ErrStoreUnavailable, err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", ErrStoreUnavailable, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: init schema: %v", ErrStoreUnavailable, err)
	}

	return &Store{db: db, path: dbPath}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Raw exposes the handle for read-side queries.
func (s *Store) Raw() *sql.DB {
	return s.db
}

const (
	metaSchemaVersion   = "schema_version"
	metaLastFullReindex = "last_full_reindex"
)

// StoredSchemaVersion returns the persisted schema version, with ok=false
// for a fresh store.
func (s *Store) StoredSchemaVersion(ctx context.Context) (int, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM meta WHERE key = ?", metaSchemaVersion,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt %s %q: %w", metaSchemaVersion, raw, err)
	}
	return v, true, nil
}

// CheckSchemaVersion implements the schema version guard. It returns
// forceFull=true when the store is fresh or older than this build, and
// ErrSchemaDowngrade when it is newer.
func (s *Store) CheckSchemaVersion(ctx context.Context) (forceFull bool, err error) {
	stored, ok, err := s.StoredSchemaVersion(ctx)
	if err != nil {
		return false, err
	}
	if !ok || stored < SchemaVersion {
		return true, nil
	}
	if stored > SchemaVersion {
		return false, fmt.Errorf("%w: stored=%d expected=%d", ErrSchemaDowngrade, stored, SchemaVersion)
	}
	return false, nil
}

// Fingerprint is the persisted change-detection record for one source file.
type Fingerprint struct {
	Path      string
	Provider  model.Provider
	SessionID string
	MtimeMS   int64
	Size      int64
	SHA256    string
}

// Fingerprints loads the whole fingerprint table keyed by path.
func (s *Store) Fingerprints(ctx context.Context) (map[string]Fingerprint, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT path, provider, session_id, mtime_ms, size, sha256 FROM files")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fps := make(map[string]Fingerprint)
	for rows.Next() {
		var fp Fingerprint
		if err := rows.Scan(&fp.Path, &fp.Provider, &fp.SessionID, &fp.MtimeMS, &fp.Size, &fp.SHA256); err != nil {
			return nil, err
		}
		fps[fp.Path] = fp
	}
	return fps, rows.Err()
}

// SessionCount and MessageCount back the doctor command.
func (s *Store) SessionCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&n)
	return n, err
}

func (s *Store) MessageCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&n)
	return n, err
}

// Session returns one session row, or nil if absent.
func (s *Store) Session(ctx context.Context, sessionID string) (*model.Session, error) {
	var (
		sess           model.Session
		started, ended string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, provider, project_id, file_path, started_at, ended_at,
		       message_count, first_prompt, summary, git_branch, cwd
		FROM sessions WHERE session_id = ?`, sessionID,
	).Scan(&sess.ID, &sess.Provider, &sess.ProjectID, &sess.FilePath, &started, &ended,
		&sess.MessageCount, &sess.FirstPrompt, &sess.Summary, &sess.GitBranch, &sess.Cwd)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sess.StartedAt = parseStoredTime(started)
	sess.EndedAt = parseStoredTime(ended)
	return &sess, nil
}

// Messages returns a session's messages in ordinal order.
func (s *Store) Messages(ctx context.Context, sessionID string) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, session_id, ordinal, ts, category, text,
		       tool_name, tool_input, input_tokens, output_tokens, src_line
		FROM messages WHERE session_id = ? ORDER BY ordinal`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var (
			m  model.Message
			ts string
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Ordinal, &ts, &m.Category, &m.Text,
			&m.ToolName, &m.ToolInput, &m.Usage.InputTokens, &m.Usage.OutputTokens, &m.SourceLine); err != nil {
			return nil, err
		}
		m.Timestamp = parseStoredTime(ts)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func formatStoredTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseStoredTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
