package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultsWithoutConfigFile(t *testing.T) {
	home := t.TempDir()
	cfg, err := LoadFrom(filepath.Join(home, "missing.toml"), home)
	require.NoError(t, err)

	require.Equal(t, filepath.Join(home, ".claude", "projects"), cfg.ClaudeRoot)
	require.Equal(t, filepath.Join(home, ".codex", "sessions"), cfg.CodexRoot)
	require.Equal(t, filepath.Join(home, ".gemini"), cfg.GeminiRoot)
	require.Equal(t, filepath.Join(home, ".config", "ailog", "index.db"), cfg.DBPath)
	require.Equal(t, "info", cfg.LogLevel)
	require.False(t, cfg.StrictUnmapped)
}

func TestFileOverridesAndTildeExpansion(t *testing.T) {
	home := t.TempDir()
	cfgPath := filepath.Join(home, "config.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
claude_root = "~/logs/claude"
db_path = "/var/lib/ailog/index.db"
log_level = "debug"
strict_unmapped = true
`), 0o644))

	cfg, err := LoadFrom(cfgPath, home)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, "logs", "claude"), cfg.ClaudeRoot)
	require.Equal(t, "/var/lib/ailog/index.db", cfg.DBPath)
	require.Equal(t, "debug", cfg.LogLevel)
	require.True(t, cfg.StrictUnmapped)
	// untouched keys keep their defaults
	require.Equal(t, filepath.Join(home, ".codex", "sessions"), cfg.CodexRoot)
}

func TestMalformedConfigIsAnError(t *testing.T) {
	home := t.TempDir()
	cfgPath := filepath.Join(home, "config.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("claude_root = [broken"), 0o644))

	_, err := LoadFrom(cfgPath, home)
	require.Error(t, err)
}
