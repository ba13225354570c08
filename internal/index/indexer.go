package index

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sondreby/ailog/internal/model"
	"github.com/sondreby/ailog/internal/parse"
	"github.com/sondreby/ailog/internal/scan"
)

// writeQueueDepth bounds the canonicalized batches buffered ahead of the
// single writer; full means producers block.
const writeQueueDepth = 4

// Summary reports the outcome of one indexing run.
type Summary struct {
	ForcedFull bool

	Scanned   int
	Indexed   int
	Skipped   int
	Refreshed int
	Pruned    int

	FailedFiles      int // unreadable or structurally invalid, skipped
	FailedSessions   int // store transaction rolled back
	MalformedRecords int
	UnmappedRecords  int
	TotalMessages    int
}

func (s Summary) String() string {
	return fmt.Sprintf(
		"scanned=%d indexed=%d skipped=%d refreshed=%d pruned=%d failed_files=%d failed_sessions=%d malformed=%d unmapped=%d messages=%d",
		s.Scanned, s.Indexed, s.Skipped, s.Refreshed, s.Pruned,
		s.FailedFiles, s.FailedSessions, s.MalformedRecords, s.UnmappedRecords, s.TotalMessages)
}

// Options configures an Indexer.
type Options struct {
	// Workers bounds the parallel parse/canonicalize stage. Zero means
	// min(NumCPU, 8).
	Workers int
	// StrictUnmapped rejects unknown record shapes instead of mapping them
	// to the system category.
	StrictUnmapped bool
}

// Indexer drives the scan → parse → canonicalize → write pipeline. Parsing
// runs on a bounded worker pool; all store writes are funneled through the
// run's single writer loop.
type Indexer struct {
	store *Store
	log   *zap.Logger
	opts  Options

	// test seam: invoked inside the session transaction just before commit
	beforeCommit func(sessionID string) error
}

func New(store *Store, log *zap.Logger, opts Options) *Indexer {
	if opts.Workers <= 0 {
		opts.Workers = min(runtime.NumCPU(), 8)
	}
	return &Indexer{store: store, log: log, opts: opts}
}

// workResult is one parsed file handed to the writer.
type workResult struct {
	file   scan.SourceFile
	sha256 string
	res    *parse.Result
	err    error // file-level failure
}

// Run executes one indexing pass. force bypasses change detection on top of
// whatever the schema version guard decides. Only schema downgrade and an
// unavailable store are fatal; everything else is isolated and counted.
func (ix *Indexer) Run(ctx context.Context, roots scan.Roots, force bool) (Summary, error) {
	var summary Summary

	forceFull, err := ix.store.CheckSchemaVersion(ctx)
	if err != nil {
		return summary, err
	}
	forceFull = forceFull || force
	summary.ForcedFull = forceFull

	files, err := scan.ScanRoots(roots)
	if err != nil {
		return summary, fmt.Errorf("scan roots: %w", err)
	}
	summary.Scanned = len(files)

	persisted, err := ix.store.Fingerprints(ctx)
	if err != nil {
		return summary, fmt.Errorf("load fingerprints: %w", err)
	}

	changes := DetectChanges(files, persisted, forceFull)
	summary.Skipped = len(changes.Unchanged)

	toIndex := changes.ToIndex()
	results := make(chan workResult, writeQueueDepth)

	producers, pctx := errgroup.WithContext(ctx)
	jobs := make(chan scan.SourceFile)
	producers.Go(func() error {
		defer close(jobs)
		for _, f := range toIndex {
			select {
			case jobs <- f:
			case <-pctx.Done():
				return pctx.Err()
			}
		}
		return nil
	})
	for i := 0; i < ix.opts.Workers; i++ {
		producers.Go(func() error {
			for f := range jobs {
				item := workResult{file: f}
				item.sha256, item.err = hashFile(f.Path)
				if item.err == nil {
					item.res, item.err = parse.Canonicalize(pctx, f, parse.Options{
						StrictUnmapped: ix.opts.StrictUnmapped,
					})
				}
				select {
				case results <- item:
				case <-pctx.Done():
					return pctx.Err()
				}
			}
			return nil
		})
	}
	producerErr := make(chan error, 1)
	go func() {
		producerErr <- producers.Wait()
		close(results)
	}()

	// single writer: one transaction per session
	for item := range results {
		if err := ctx.Err(); err != nil {
			break // drained below; in-flight transactions are already final
		}
		if item.err != nil {
			summary.FailedFiles++
			ix.log.Warn("skipping unreadable file",
				zap.String("path", item.file.Path), zap.Error(item.err))
			continue
		}

		for _, recErr := range item.res.Report.RecordErrors {
			ix.log.Warn("malformed record",
				zap.String("path", item.file.Path),
				zap.Int("line", recErr.Line),
				zap.Error(recErr.Err))
		}
		summary.MalformedRecords += len(item.res.Report.RecordErrors)
		summary.UnmappedRecords += item.res.Unmapped

		if err := ix.replaceSession(ctx, item); err != nil {
			summary.FailedSessions++
			ix.log.Warn("session update rolled back",
				zap.String("session", item.res.Batch.Session.ID), zap.Error(err))
			continue
		}
		summary.Indexed++
		summary.TotalMessages += len(item.res.Batch.Messages)
	}
	for range results {
		// drain remaining producers on cancellation
	}
	if err := <-producerErr; err != nil && ctx.Err() == nil {
		return summary, err
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}

	for _, fp := range changes.Deleted {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if err := ix.deleteSession(ctx, fp); err != nil {
			summary.FailedSessions++
			ix.log.Warn("session removal rolled back",
				zap.String("session", fp.SessionID), zap.Error(err))
			continue
		}
		summary.Pruned++
	}

	for _, f := range changes.Refreshed {
		if _, err := ix.store.db.ExecContext(ctx,
			"UPDATE files SET mtime_ms = ? WHERE path = ?", f.MtimeMS, f.Path); err != nil {
			return summary, fmt.Errorf("refresh fingerprint: %w", err)
		}
		summary.Refreshed++
	}

	if err := ix.finalize(ctx, forceFull); err != nil {
		return summary, err
	}

	ix.log.Info("index run complete", zap.Stringer("summary", summary))
	return summary, nil
}

// replaceSession atomically swaps a session's rows: prior state or fully
// new state, never a mix.
func (ix *Indexer) replaceSession(ctx context.Context, item workResult) error {
	batch := item.res.Batch
	tx, err := ix.store.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// the same path may have produced a differently-keyed session before
	oldIDs := map[string]struct{}{batch.Session.ID: {}}
	var prevID string
	err = tx.QueryRowContext(ctx,
		"SELECT session_id FROM files WHERE path = ?", item.file.Path).Scan(&prevID)
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	if prevID != "" {
		oldIDs[prevID] = struct{}{}
	}
	for id := range oldIDs {
		if err := removeSessionRows(ctx, tx, id); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projects (project_id, provider, name, root_path)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET
		    provider = excluded.provider,
		    name = excluded.name,
		    root_path = excluded.root_path`,
		batch.Project.ID, batch.Project.Provider, batch.Project.Name, batch.Project.RootPath,
	); err != nil {
		return fmt.Errorf("upsert project: %w", err)
	}

	s := batch.Session
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (session_id, provider, project_id, file_path,
		    started_at, ended_at, message_count, first_prompt, summary, git_branch, cwd)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Provider, s.ProjectID, s.FilePath,
		formatStoredTime(s.StartedAt), formatStoredTime(s.EndedAt),
		s.MessageCount, s.FirstPrompt, s.Summary, s.GitBranch, s.Cwd,
	); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO messages (message_id, session_id, ordinal, ts, category, text,
		    tool_name, tool_input, input_tokens, output_tokens, src_line)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	counts := make(map[model.Category]int)
	for _, m := range batch.Messages {
		if _, err := stmt.ExecContext(ctx,
			m.ID, m.SessionID, m.Ordinal, formatStoredTime(m.Timestamp), m.Category, m.Text,
			m.ToolName, m.ToolInput, m.Usage.InputTokens, m.Usage.OutputTokens, m.SourceLine,
		); err != nil {
			return fmt.Errorf("insert message %d: %w", m.Ordinal, err)
		}
		counts[m.Category]++
	}

	for category, n := range counts {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO facet_counts (project_id, provider, category, n)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(project_id, category) DO UPDATE SET n = n + excluded.n`,
			batch.Project.ID, batch.Project.Provider, category, n,
		); err != nil {
			return fmt.Errorf("update facet counts: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO files (path, provider, session_id, mtime_ms, size, sha256, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.file.Path, item.file.Provider, s.ID,
		item.file.MtimeMS, item.file.Size, item.sha256,
		time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("record fingerprint: %w", err)
	}

	if ix.beforeCommit != nil {
		if err := ix.beforeCommit(s.ID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// deleteSession removes a pruned file's fingerprint and, unless another
// copy of the file still backs the same session, the session's rows, in
// one transaction. Claude ids are not path-scoped, so a session file
// duplicated across project directories shares one session.
func (ix *Indexer) deleteSession(ctx context.Context, fp Fingerprint) error {
	tx, err := ix.store.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var survivor string
	err = tx.QueryRowContext(ctx,
		"SELECT path FROM files WHERE session_id = ? AND path != ? LIMIT 1",
		fp.SessionID, fp.Path).Scan(&survivor)
	if err != nil && err != sql.ErrNoRows {
		return err
	}

	if survivor != "" {
		if _, err := tx.ExecContext(ctx,
			"UPDATE sessions SET file_path = ? WHERE session_id = ? AND file_path = ?",
			survivor, fp.SessionID, fp.Path); err != nil {
			return err
		}
	} else if err := removeSessionRows(ctx, tx, fp.SessionID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM files WHERE path = ?", fp.Path); err != nil {
		return err
	}
	return tx.Commit()
}

// removeSessionRows deletes a session's messages and row, keeping the
// materialized facet counts consistent. The FTS delete rides on the
// messages trigger.
func removeSessionRows(ctx context.Context, tx *sql.Tx, sessionID string) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT s.project_id, m.category, COUNT(*)
		FROM messages m JOIN sessions s ON s.session_id = m.session_id
		WHERE m.session_id = ?
		GROUP BY m.category`, sessionID)
	if err != nil {
		return err
	}
	type facetDelta struct {
		projectID string
		category  string
		n         int
	}
	var deltas []facetDelta
	for rows.Next() {
		var d facetDelta
		if err := rows.Scan(&d.projectID, &d.category, &d.n); err != nil {
			rows.Close()
			return err
		}
		deltas = append(deltas, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, d := range deltas {
		if _, err := tx.ExecContext(ctx, `
			UPDATE facet_counts SET n = n - ?
			WHERE project_id = ? AND category = ?`,
			d.n, d.projectID, d.category,
		); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM facet_counts WHERE n <= 0"); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", sessionID); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, "DELETE FROM sessions WHERE session_id = ?", sessionID)
	return err
}

// finalize refreshes project aggregates and writes IndexMeta in one closing
// transaction.
func (ix *Indexer) finalize(ctx context.Context, forcedFull bool) error {
	tx, err := ix.store.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE projects SET
		    session_count = (
		        SELECT COUNT(*) FROM sessions WHERE sessions.project_id = projects.project_id
		    ),
		    first_activity = COALESCE((
		        SELECT MIN(started_at) FROM sessions
		        WHERE sessions.project_id = projects.project_id
		    ), ''),
		    last_activity = COALESCE((
		        SELECT MAX(ended_at) FROM sessions
		        WHERE sessions.project_id = projects.project_id
		    ), '')`); err != nil {
		return fmt.Errorf("update project stats: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM projects WHERE session_count = 0"); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`,
		metaSchemaVersion, fmt.Sprint(SchemaVersion)); err != nil {
		return err
	}
	if forcedFull {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`,
			metaLastFullReindex, time.Now().UTC().Format(time.RFC3339)); err != nil {
			return err
		}
	}
	return tx.Commit()
}
