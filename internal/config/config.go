package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

type Config struct {
	ClaudeRoot string `toml:"claude_root"`
	CodexRoot  string `toml:"codex_root"`
	GeminiRoot string `toml:"gemini_root"`
	DBPath     string `toml:"db_path"`
	LogLevel   string `toml:"log_level"`

	// StrictUnmapped rejects provider records with unknown roles instead of
	// falling back to the system category.
	StrictUnmapped bool `toml:"strict_unmapped"`
}

func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return LoadFrom(filepath.Join(home, ".config", "ailog", "config.toml"), home)
}

// LoadFrom reads cfgPath if it exists, layered over home-relative defaults.
func LoadFrom(cfgPath, home string) (*Config, error) {
	cfg := &Config{
		ClaudeRoot: filepath.Join(home, ".claude", "projects"),
		CodexRoot:  filepath.Join(home, ".codex", "sessions"),
		GeminiRoot: filepath.Join(home, ".gemini"),
		DBPath:     filepath.Join(home, ".config", "ailog", "index.db"),
		LogLevel:   "info",
	}

	if _, err := os.Stat(cfgPath); err == nil {
		if _, err := toml.DecodeFile(cfgPath, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", cfgPath, err)
		}
	}

	// expand ~ in paths
	cfg.ClaudeRoot = expandHome(cfg.ClaudeRoot, home)
	cfg.CodexRoot = expandHome(cfg.CodexRoot, home)
	cfg.GeminiRoot = expandHome(cfg.GeminiRoot, home)
	cfg.DBPath = expandHome(cfg.DBPath, home)

	return cfg, nil
}

func expandHome(path, home string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		return filepath.Join(home, path[2:])
	}
	return path
}
