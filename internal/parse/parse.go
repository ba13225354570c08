// Package parse turns provider-specific session logs into the canonical
// message form. Each provider has one Parser producing a uniform raw-record
// stream; the canonicalizer maps records onto model.Message without any
// provider awareness downstream.
package parse

import (
	"context"
	"fmt"
	"time"

	"github.com/sondreby/ailog/internal/model"
	"github.com/sondreby/ailog/internal/scan"
)

const maxLineSize = 10 * 1024 * 1024 // 10MB
const maxTextSize = 8 * 1024         // 8KB kept per message for the FTS index

// Block is one content unit inside a raw record. Type carries the
// provider's raw vocabulary; the canonicalizer owns the mapping to
// categories.
type Block struct {
	Type      string // "text", "thinking", "tool_use", "tool_result", or raw
	Text      string
	ToolName  string
	ToolInput string
}

// Record is the uniform raw-record shape all parsers produce. Role and
// block types keep the provider's own vocabulary so category inference
// stays a pure function in the canonicalizer.
type Record struct {
	Line      int    // 1-based source line; message index for JSON documents
	Role      string // raw role/type vocabulary of the provider
	Timestamp string // raw timestamp string, possibly empty
	Cwd       string // working directory if the record carries one
	Usage     model.Usage
	Blocks    []Block
}

// RecordError is a recoverable parse error at a specific source position.
type RecordError struct {
	Line int
	Err  error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

// Report accumulates non-fatal outcomes of parsing one file.
type Report struct {
	Records      int           // records emitted
	Skipped      int           // known non-message records (progress, meta, ...)
	RecordErrors []RecordError // malformed lines, one entry each
}

// Parser streams raw records out of a session file. A returned error means
// the whole file is structurally invalid and must be skipped; malformed
// individual lines land in the Report instead. Parsers read the file
// front-to-back on every call, so a parse is restartable by calling again.
type Parser interface {
	Parse(ctx context.Context, f scan.SourceFile, emit func(Record) error) (Report, error)
}

// ParserFor returns the parser for a provider.
func ParserFor(p model.Provider) (Parser, error) {
	switch p {
	case model.ProviderClaude:
		return claudeParser{}, nil
	case model.ProviderCodex:
		return codexParser{}, nil
	case model.ProviderGemini:
		return geminiParser{}, nil
	}
	return nil, fmt.Errorf("no parser for provider %q", p)
}

// parseTimestamp accepts the timestamp shapes seen across providers.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
