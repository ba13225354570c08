package scan

import (
	"bufio"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sondreby/ailog/internal/model"
)

// codexMeta is the metadata scraped from the head of a Codex session file.
type codexMeta struct {
	sourceSessionID string
	projectPath     string
	created         string
	modified        string
	gitBranch       string
}

// metaScanLines bounds the head scan; session_meta is always near the top.
const metaScanLines = 120

// scanCodex enumerates <root>/**/*.jsonl recursively. Codex stores no
// sidecar index, so session and project identity come from a bounded scan
// of each file's leading session_meta record.
func scanCodex(root string) ([]SourceFile, error) {
	var files []SourceFile
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil // skip unreadable subtrees
		}
		if d.IsDir() || filepath.Ext(path) != ".jsonl" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}

		meta := scanCodexMeta(path)
		sourceID := meta.sourceSessionID
		if sourceID == "" {
			sourceID = strings.TrimSuffix(filepath.Base(path), ".jsonl")
		}

		files = append(files, SourceFile{
			Path:            path,
			Provider:        model.ProviderCodex,
			MtimeMS:         info.ModTime().UnixMilli(),
			Size:            info.Size(),
			SourceSessionID: sourceID,
			SessionID:       model.SessionID(model.ProviderCodex, sourceID, path),
			ProjectID:       model.ProjectID(model.ProviderCodex, meta.projectPath, filepath.Dir(path)),
			ProjectPath:     meta.projectPath,
			ProjectName:     model.ProjectName(meta.projectPath),
			GitBranch:       meta.gitBranch,
			Created:         meta.created,
			Modified:        meta.modified,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func scanCodexMeta(path string) codexMeta {
	var meta codexMeta

	f, err := os.Open(path)
	if err != nil {
		return meta
	}
	defer f.Close()

	type headRecord struct {
		Timestamp string `json:"timestamp"`
		Type      string `json:"type"`
		Payload   struct {
			ID  string `json:"id"`
			Cwd string `json:"cwd"`
			Git *struct {
				Branch string `json:"branch"`
			} `json:"git"`
		} `json:"payload"`
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxHeadLineSize)
	for line := 0; scanner.Scan() && line < metaScanLines; line++ {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec headRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		if rec.Timestamp != "" {
			if meta.created == "" {
				meta.created = rec.Timestamp
			}
			meta.modified = rec.Timestamp
		}
		if rec.Type != "session_meta" {
			continue
		}
		if rec.Payload.ID != "" {
			meta.sourceSessionID = rec.Payload.ID
		}
		if rec.Payload.Cwd != "" {
			meta.projectPath = rec.Payload.Cwd
		}
		if rec.Payload.Git != nil {
			meta.gitBranch = rec.Payload.Git.Branch
		}
		if meta.sourceSessionID != "" && meta.projectPath != "" {
			break
		}
	}
	return meta
}

const maxHeadLineSize = 10 * 1024 * 1024
