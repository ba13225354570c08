package index

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/sondreby/ailog/internal/scan"
)

// Changes partitions a scan against the persisted fingerprint table.
type Changes struct {
	New      []scan.SourceFile
	Modified []scan.SourceFile
	// Unchanged files are skipped entirely; their sessions are never touched.
	Unchanged []scan.SourceFile
	// Refreshed files had a stat drift but identical content; only their
	// fingerprint row needs a stat update, not a reindex.
	Refreshed []scan.SourceFile
	// Deleted fingerprints have no corresponding file anymore; their
	// sessions are removed.
	Deleted []Fingerprint
}

// ToIndex returns the files whose sessions must be re-derived.
func (c Changes) ToIndex() []scan.SourceFile {
	out := make([]scan.SourceFile, 0, len(c.New)+len(c.Modified))
	out = append(out, c.New...)
	return append(out, c.Modified...)
}

// DetectChanges compares scanned files against persisted fingerprints.
// Size and session-identity drift always mean modified. A pure mtime drift
// is ambiguous, so it escalates to a content hash; a matching hash demotes
// the file to a stat refresh. With forceFull set every file is treated as
// new, but deletions are still honored.
func DetectChanges(scanned []scan.SourceFile, persisted map[string]Fingerprint, forceFull bool) Changes {
	var c Changes

	seen := make(map[string]struct{}, len(scanned))
	for _, f := range scanned {
		seen[f.Path] = struct{}{}

		if forceFull {
			c.New = append(c.New, f)
			continue
		}
		fp, ok := persisted[f.Path]
		if !ok {
			c.New = append(c.New, f)
			continue
		}
		if fp.SessionID != f.SessionID || fp.Size != f.Size {
			c.Modified = append(c.Modified, f)
			continue
		}
		if fp.MtimeMS == f.MtimeMS {
			c.Unchanged = append(c.Unchanged, f)
			continue
		}

		// same size, different mtime: only the content hash can tell
		if fp.SHA256 != "" {
			if sum, err := hashFile(f.Path); err == nil && sum == fp.SHA256 {
				c.Refreshed = append(c.Refreshed, f)
				continue
			}
		}
		c.Modified = append(c.Modified, f)
	}

	for path, fp := range persisted {
		if _, ok := seen[path]; !ok {
			c.Deleted = append(c.Deleted, fp)
		}
	}
	return c
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
