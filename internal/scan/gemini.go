package scan

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sondreby/ailog/internal/model"
)

// geminiHead is the envelope of a Gemini session JSON file, without the
// messages array.
type geminiHead struct {
	SessionID   string `json:"sessionId"`
	ProjectHash string `json:"projectHash"`
	StartTime   string `json:"startTime"`
	LastUpdated string `json:"lastUpdated"`
}

// scanGemini enumerates session-*.json files under <root>/tmp. Gemini keys
// its per-project state by a SHA-256 of the project path, so the scan first
// builds a hash-to-path map from projects.json and .project_root markers.
func scanGemini(root string) ([]SourceFile, error) {
	tmpDir := filepath.Join(root, "tmp")
	if _, err := os.Stat(tmpDir); err != nil {
		return nil, err
	}

	hashToPath := geminiProjectHashMap(root)

	var files []SourceFile
	err := filepath.WalkDir(tmpDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		base := filepath.Base(path)
		if !strings.HasPrefix(base, "session-") || filepath.Ext(base) != ".json" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		var head geminiHead
		if err := json.Unmarshal(data, &head); err != nil {
			return nil // parser reports structurally invalid files
		}

		sourceID := head.SessionID
		if sourceID == "" {
			sourceID = strings.TrimSuffix(base, ".json")
		}

		// tmp/<hash>/sessions/<session-dir>/session-NNNN.json
		hashDir := filepath.Dir(filepath.Dir(filepath.Dir(path)))
		projectPath := hashToPath[head.ProjectHash]
		if projectPath == "" {
			projectPath = strings.TrimSpace(readText(filepath.Join(hashDir, ".project_root")))
			if projectPath != "" && head.ProjectHash != "" {
				hashToPath[head.ProjectHash] = projectPath
			}
		}

		projectName := model.ProjectName(projectPath)
		if projectName == "Unknown" {
			projectName = filepath.Base(hashDir)
		}
		fallback := head.ProjectHash
		if fallback == "" {
			fallback = filepath.Base(hashDir)
		}

		files = append(files, SourceFile{
			Path:            path,
			Provider:        model.ProviderGemini,
			MtimeMS:         info.ModTime().UnixMilli(),
			Size:            info.Size(),
			SourceSessionID: sourceID,
			SessionID:       model.SessionID(model.ProviderGemini, sourceID, path),
			ProjectID:       model.ProjectID(model.ProviderGemini, projectPath, fallback),
			ProjectPath:     projectPath,
			ProjectName:     projectName,
			Created:         head.StartTime,
			Modified:        head.LastUpdated,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// geminiProjectHashMap maps sha256(project path) to the project path, from
// projects.json plus any .project_root markers under history/ and tmp/.
func geminiProjectHashMap(root string) map[string]string {
	hashToPath := make(map[string]string)

	data, err := os.ReadFile(filepath.Join(root, "projects.json"))
	if err == nil {
		var payload struct {
			Projects map[string]json.RawMessage `json:"projects"`
		}
		if json.Unmarshal(data, &payload) == nil {
			for projectPath := range payload.Projects {
				if strings.TrimSpace(projectPath) != "" {
					hashToPath[sha256Hex(projectPath)] = projectPath
				}
			}
		}
	}

	for _, pattern := range []string{
		filepath.Join(root, "history", "*", ".project_root"),
		filepath.Join(root, "tmp", "*", ".project_root"),
	} {
		matches, _ := filepath.Glob(pattern)
		for _, marker := range matches {
			projectPath := strings.TrimSpace(readText(marker))
			if projectPath != "" {
				hashToPath[sha256Hex(projectPath)] = projectPath
			}
		}
	}
	return hashToPath
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func readText(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}
