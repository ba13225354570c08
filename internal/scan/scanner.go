// Package scan discovers session log files across provider root
// directories and derives stable session and project identity for each.
package scan

import (
	"os"
	"sort"

	"github.com/sondreby/ailog/internal/model"
)

// SourceFile is a discovered session log file with stat metadata and the
// identity derived from its location. It is re-created on every scan and
// never mutated.
type SourceFile struct {
	Path     string
	Provider model.Provider
	MtimeMS  int64
	Size     int64

	SourceSessionID string
	SessionID       string
	ProjectID       string
	ProjectPath     string
	ProjectName     string

	// Cheaply available session metadata; empty when the provider's store
	// does not carry it alongside the log file.
	Summary     string
	FirstPrompt string
	GitBranch   string
	Created     string
	Modified    string
}

// Roots holds the configured provider root directories. Empty or missing
// roots are skipped, not errors.
type Roots struct {
	Claude string
	Codex  string
	Gemini string
}

// ScanRoots enumerates session files for all configured providers, newest
// first. Directory traversal uses WalkDir, which does not follow symlinks,
// so symlink cycles cannot loop the scan.
func ScanRoots(roots Roots) ([]SourceFile, error) {
	var files []SourceFile

	if roots.Claude != "" {
		cf, err := scanClaude(roots.Claude)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		files = append(files, cf...)
	}

	if roots.Codex != "" {
		cf, err := scanCodex(roots.Codex)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		files = append(files, cf...)
	}

	if roots.Gemini != "" {
		gf, err := scanGemini(roots.Gemini)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		files = append(files, gf...)
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].MtimeMS > files[j].MtimeMS
	})
	return files, nil
}
