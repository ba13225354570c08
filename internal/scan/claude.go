package scan

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/sondreby/ailog/internal/model"
)

// indexEntry is one record in a project's sessions-index.json.
type indexEntry struct {
	SessionID    string `json:"sessionId"`
	ProjectPath  string `json:"projectPath"`
	FirstPrompt  string `json:"firstPrompt"`
	Summary      string `json:"summary"`
	MessageCount int    `json:"messageCount"`
	Created      string `json:"created"`
	Modified     string `json:"modified"`
	GitBranch    string `json:"gitBranch"`
}

type sessionsIndex struct {
	Entries []indexEntry `json:"entries"`
}

// scanClaude enumerates <root>/<project-dir>/*.jsonl session files. Each
// project directory may carry a sessions-index.json with per-session
// metadata keyed by session id.
func scanClaude(root string) ([]SourceFile, error) {
	dirs, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var files []SourceFile
	for _, dir := range dirs {
		if !dir.IsDir() || dir.Name() == "subagents" {
			continue
		}
		projectDir := filepath.Join(root, dir.Name())
		index := loadSessionsIndex(projectDir)

		entries, err := os.ReadDir(projectDir)
		if err != nil {
			continue // unreadable project dir
		}
		for _, entry := range entries {
			if entry.IsDir() || filepath.Ext(entry.Name()) != ".jsonl" {
				continue
			}
			if strings.Contains(entry.Name(), "sessions-index") {
				continue
			}
			path := filepath.Join(projectDir, entry.Name())
			info, err := entry.Info()
			if err != nil {
				continue
			}

			sourceID := strings.TrimSuffix(entry.Name(), ".jsonl")
			meta := index[sourceID]
			projectPath := strings.TrimSpace(meta.ProjectPath)
			if projectPath == "" {
				projectPath = decodeProjectDir(dir.Name())
			}

			files = append(files, SourceFile{
				Path:            path,
				Provider:        model.ProviderClaude,
				MtimeMS:         info.ModTime().UnixMilli(),
				Size:            info.Size(),
				SourceSessionID: sourceID,
				SessionID:       model.SessionID(model.ProviderClaude, sourceID, path),
				ProjectID:       model.ProjectID(model.ProviderClaude, projectPath, dir.Name()),
				ProjectPath:     projectPath,
				ProjectName:     model.ProjectName(projectPath),
				Summary:         meta.Summary,
				FirstPrompt:     meta.FirstPrompt,
				GitBranch:       meta.GitBranch,
				Created:         meta.Created,
				Modified:        meta.Modified,
			})
		}
	}
	return files, nil
}

func loadSessionsIndex(projectDir string) map[string]indexEntry {
	data, err := os.ReadFile(filepath.Join(projectDir, "sessions-index.json"))
	if err != nil {
		return nil
	}
	var idx sessionsIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil
	}
	byID := make(map[string]indexEntry, len(idx.Entries))
	for _, e := range idx.Entries {
		if e.SessionID != "" {
			byID[e.SessionID] = e
		}
	}
	return byID
}

// decodeProjectDir maps a flattened project directory name like
// "-Users-foo-src-myproject" back to "/Users/foo/src/myproject". Hyphens in
// the original path are not recoverable.
func decodeProjectDir(name string) string {
	if name == "" {
		return ""
	}
	return strings.ReplaceAll(name, "-", "/")
}
