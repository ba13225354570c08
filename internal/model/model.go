// Package model holds the canonical entities shared by the scan, parse,
// index and search packages: providers, message categories, sessions,
// projects and messages, plus the deterministic identity derivations that
// make reindexing reproducible.
package model

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Provider identifies one of the supported AI coding assistants.
type Provider string

const (
	ProviderClaude Provider = "claude"
	ProviderCodex  Provider = "codex"
	ProviderGemini Provider = "gemini"
)

// Providers lists all supported providers in canonical order.
var Providers = []Provider{ProviderClaude, ProviderCodex, ProviderGemini}

// Valid reports whether p is a known provider.
func (p Provider) Valid() bool {
	switch p {
	case ProviderClaude, ProviderCodex, ProviderGemini:
		return true
	}
	return false
}

// ParseProvider maps a user-supplied string to a Provider.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown provider %q", s)
	}
	return p, nil
}

// Category is the canonical classification of a message.
type Category string

const (
	CategoryUser       Category = "user"
	CategoryAssistant  Category = "assistant"
	CategoryToolUse    Category = "tool_use"
	CategoryToolResult Category = "tool_result"
	CategoryThinking   Category = "thinking"
	CategorySystem     Category = "system"
)

// Categories lists all six categories in canonical order.
var Categories = []Category{
	CategoryUser,
	CategoryAssistant,
	CategoryToolUse,
	CategoryToolResult,
	CategoryThinking,
	CategorySystem,
}

// legacy alias kept for stores written by earlier schema versions
var categoryAliases = map[string]Category{
	"tool_call": CategoryToolUse,
}

// Valid reports whether c is one of the six canonical categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryUser, CategoryAssistant, CategoryToolUse,
		CategoryToolResult, CategoryThinking, CategorySystem:
		return true
	}
	return false
}

// NormalizeCategory maps a raw category string onto a canonical Category.
// Unknown values fall back to CategorySystem; ok is false in that case.
func NormalizeCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if alias, found := categoryAliases[string(c)]; found {
		return alias, true
	}
	if c.Valid() {
		return c, true
	}
	return CategorySystem, false
}

// ParseCategories maps user-supplied strings to a category set, rejecting
// unknown values.
func ParseCategories(names []string) ([]Category, error) {
	out := make([]Category, 0, len(names))
	for _, n := range names {
		c, ok := NormalizeCategory(n)
		if !ok {
			return nil, fmt.Errorf("unknown category %q", n)
		}
		out = append(out, c)
	}
	return out, nil
}

// Project is a logical grouping of sessions, derived from session metadata.
type Project struct {
	ID       string
	Provider Provider
	Name     string
	RootPath string

	SessionCount  int
	FirstActivity time.Time
	LastActivity  time.Time
}

// Session is one conversation unit, owning its messages exclusively.
type Session struct {
	ID        string
	Provider  Provider
	ProjectID string
	FilePath  string

	StartedAt    time.Time
	EndedAt      time.Time
	MessageCount int

	FirstPrompt string
	Summary     string
	GitBranch   string
	Cwd         string
}

// Usage is per-message token accounting; zero values mean absent.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Message is the canonical normalized record.
type Message struct {
	ID        string
	SessionID string
	Ordinal   int
	Timestamp time.Time
	Category  Category
	Text      string

	// Populated for tool_use messages only.
	ToolName  string
	ToolInput string

	Usage Usage

	// Line in the source file the message was derived from, 1-based.
	// For single-document JSON sources this is the message index instead.
	SourceLine int
}

// SessionBatch is a fully canonicalized session ready for an atomic replace.
type SessionBatch struct {
	Session  Session
	Project  Project
	Messages []Message
}

func sha1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// ProjectID derives a provider-scoped project id from the project path.
// The same provider and path always produce the same id.
func ProjectID(provider Provider, projectPath, fallback string) string {
	seed := strings.TrimRight(strings.TrimSpace(projectPath), "/")
	if seed == "" {
		seed = strings.TrimSpace(fallback)
	}
	if seed == "" {
		seed = "unknown"
	}
	return string(provider) + ":" + sha1Hex(string(provider) + ":" + seed)[:16]
}

// SessionID derives a session id from the source file identity. Claude
// session files are already named by a unique id; other providers may reuse
// ids across copied directories, so the file path disambiguates.
func SessionID(provider Provider, sourceID, filePath string) string {
	if provider == ProviderClaude {
		return sourceID
	}
	return string(provider) + ":" + sourceID + ":" + sha1Hex(filePath)[:8]
}

// messageNamespace scopes SHA1 UUIDs derived for messages.
var messageNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("ailog/message"))

// MessageID derives a stable message id from session id and ordinal.
func MessageID(sessionID string, ordinal int) string {
	return uuid.NewSHA1(messageNamespace, fmt.Appendf(nil, "%s:%d", sessionID, ordinal)).String()
}

// ProjectName extracts a human-readable project name from a path.
func ProjectName(projectPath string) string {
	trimmed := strings.TrimRight(projectPath, "/")
	if trimmed == "" {
		return "Unknown"
	}
	parts := strings.Split(trimmed, "/")
	return parts[len(parts)-1]
}
