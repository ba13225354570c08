package scan

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sondreby/ailog/internal/model"
)

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestMissingRootsAreNotErrors(t *testing.T) {
	files, err := ScanRoots(Roots{
		Claude: "/does/not/exist/claude",
		Codex:  "/does/not/exist/codex",
		Gemini: "/does/not/exist/gemini",
	})
	require.NoError(t, err)
	require.Empty(t, files)
}

func TestEmptyRootsAreSkipped(t *testing.T) {
	files, err := ScanRoots(Roots{})
	require.NoError(t, err)
	require.Empty(t, files)
}

func TestScanClaudeReadsSessionsIndex(t *testing.T) {
	root := t.TempDir()
	projectDir := filepath.Join(root, "-home-x-proj")
	write(t, filepath.Join(projectDir, "abc-123.jsonl"), "{}\n")
	write(t, filepath.Join(projectDir, "sessions-index.json"), `{
	  "entries": [{
	    "sessionId": "abc-123",
	    "projectPath": "/home/x/proj",
	    "firstPrompt": "hello",
	    "summary": "greeting session",
	    "gitBranch": "main"
	  }]
	}`)

	files, err := ScanRoots(Roots{Claude: root})
	require.NoError(t, err)
	require.Len(t, files, 1)

	f := files[0]
	require.Equal(t, model.ProviderClaude, f.Provider)
	require.Equal(t, "abc-123", f.SourceSessionID)
	require.Equal(t, "abc-123", f.SessionID) // claude keeps the source id
	require.Equal(t, "/home/x/proj", f.ProjectPath)
	require.Equal(t, "proj", f.ProjectName)
	require.Equal(t, "greeting session", f.Summary)
	require.Equal(t, "hello", f.FirstPrompt)
	require.Equal(t, "main", f.GitBranch)
}

func TestScanClaudeDecodesProjectDirWithoutIndex(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "-home-x-other", "def-456.jsonl"), "{}\n")

	files, err := ScanRoots(Roots{Claude: root})
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, "/home/x/other", files[0].ProjectPath)
	require.Equal(t, "other", files[0].ProjectName)
}

func TestScanClaudeSkipsSubagentsAndIndexFiles(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "subagents", "agent.jsonl"), "{}\n")
	write(t, filepath.Join(root, "-p", "sessions-index.jsonl"), "{}\n")
	write(t, filepath.Join(root, "-p", "real.jsonl"), "{}\n")

	files, err := ScanRoots(Roots{Claude: root})
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, "real", files[0].SourceSessionID)
}

func TestScanCodexReadsSessionMeta(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "2025", "04", "02", "rollout-1.jsonl"),
		`{"timestamp":"2025-04-02T09:00:00Z","type":"session_meta","payload":{"id":"s-123","cwd":"/home/x/proj2","git":{"branch":"dev"}}}
{"timestamp":"2025-04-02T09:05:00Z","type":"event_msg","payload":{"type":"user_message","message":"hi"}}
`)

	files, err := ScanRoots(Roots{Codex: root})
	require.NoError(t, err)
	require.Len(t, files, 1)

	f := files[0]
	require.Equal(t, model.ProviderCodex, f.Provider)
	require.Equal(t, "s-123", f.SourceSessionID)
	require.True(t, strings.HasPrefix(f.SessionID, "codex:s-123:"))
	require.Equal(t, "/home/x/proj2", f.ProjectPath)
	require.Equal(t, "proj2", f.ProjectName)
	require.Equal(t, "dev", f.GitBranch)
	require.Equal(t, "2025-04-02T09:00:00Z", f.Created)
}

func TestScanCodexFallsBackToFileStem(t *testing.T) {
	root := t.TempDir()
	write(t, filepath.Join(root, "rollout-2.jsonl"), "not json\n")

	files, err := ScanRoots(Roots{Codex: root})
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, "rollout-2", files[0].SourceSessionID)
}

func TestScanGeminiResolvesProjectByHash(t *testing.T) {
	root := t.TempDir()
	projectPath := "/home/x/proj3"
	sum := sha256.Sum256([]byte(projectPath))
	hash := hex.EncodeToString(sum[:])

	write(t, filepath.Join(root, "projects.json"),
		`{"projects": {"`+projectPath+`": {}}}`)
	write(t, filepath.Join(root, "tmp", hash, "sessions", "session-x", "session-0001.json"),
		`{"sessionId":"g-1","projectHash":"`+hash+`","startTime":"2025-05-01T08:00:00Z","lastUpdated":"2025-05-01T08:10:00Z","messages":[]}`)

	files, err := ScanRoots(Roots{Gemini: root})
	require.NoError(t, err)
	require.Len(t, files, 1)

	f := files[0]
	require.Equal(t, model.ProviderGemini, f.Provider)
	require.Equal(t, "g-1", f.SourceSessionID)
	require.True(t, strings.HasPrefix(f.SessionID, "gemini:g-1:"))
	require.Equal(t, projectPath, f.ProjectPath)
	require.Equal(t, "proj3", f.ProjectName)
	require.Equal(t, "2025-05-01T08:00:00Z", f.Created)
}

func TestScanGeminiProjectRootMarkerFallback(t *testing.T) {
	root := t.TempDir()
	projectPath := "/home/x/proj4"
	sum := sha256.Sum256([]byte(projectPath))
	hash := hex.EncodeToString(sum[:])

	write(t, filepath.Join(root, "tmp", hash, ".project_root"), projectPath+"\n")
	write(t, filepath.Join(root, "tmp", hash, "sessions", "session-y", "session-0001.json"),
		`{"sessionId":"g-2","projectHash":"`+hash+`","messages":[]}`)

	files, err := ScanRoots(Roots{Gemini: root})
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, projectPath, files[0].ProjectPath)
}

func TestScanOrdersNewestFirst(t *testing.T) {
	root := t.TempDir()
	old := filepath.Join(root, "-p", "old.jsonl")
	recent := filepath.Join(root, "-p", "recent.jsonl")
	write(t, old, "{}\n")
	write(t, recent, "{}\n")
	past := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(old, past, past))

	files, err := ScanRoots(Roots{Claude: root})
	require.NoError(t, err)
	require.Len(t, files, 2)
	require.Equal(t, "recent", files[0].SourceSessionID)
}
