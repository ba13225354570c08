package parse

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/sondreby/ailog/internal/scan"
)

type claudeRecord struct {
	Type      string          `json:"type"`
	IsMeta    bool            `json:"isMeta"`
	Timestamp string          `json:"timestamp"`
	Cwd       string          `json:"cwd"`
	Message   json.RawMessage `json:"message"`
	Summary   string          `json:"summary"` // for type="summary" records
	Text      string          `json:"text"`    // for type="system" records
}

type claudeMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Usage   *claudeUsage    `json:"usage"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type claudeContentBlock struct {
	Type     string          `json:"type"`
	Text     string          `json:"text"`
	Thinking string          `json:"thinking"`
	Name     string          `json:"name"`
	Input    json.RawMessage `json:"input"`
	Content  json.RawMessage `json:"content"` // tool_result payload
}

// claudeNoiseTypes are known non-message record types. They carry no
// conversation content and are counted as skipped, not unmapped.
var claudeNoiseTypes = map[string]bool{
	"progress":              true,
	"file-history-snapshot": true,
	"queue-operation":       true,
}

type claudeParser struct{}

func (claudeParser) Parse(ctx context.Context, f scan.SourceFile, emit func(Record) error) (Report, error) {
	var report Report

	file, err := os.Open(f.Path)
	if err != nil {
		return report, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return report, err
		}
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var rec claudeRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			report.RecordErrors = append(report.RecordErrors, RecordError{Line: line, Err: err})
			continue
		}

		if rec.IsMeta || claudeNoiseTypes[rec.Type] {
			report.Skipped++
			continue
		}

		out := Record{Line: line, Role: rec.Type, Timestamp: rec.Timestamp, Cwd: rec.Cwd}

		switch rec.Type {
		case "user", "assistant":
			var msg claudeMessage
			if err := json.Unmarshal(rec.Message, &msg); err != nil {
				report.RecordErrors = append(report.RecordErrors, RecordError{
					Line: line,
					Err:  fmt.Errorf("message envelope: %w", err),
				})
				continue
			}
			if msg.Usage != nil {
				out.Usage.InputTokens = msg.Usage.InputTokens
				out.Usage.OutputTokens = msg.Usage.OutputTokens
			}
			out.Blocks = claudeBlocks(msg.Content)
			if len(out.Blocks) == 0 {
				report.Skipped++
				continue
			}

		case "summary":
			if rec.Summary == "" {
				report.Skipped++
				continue
			}
			out.Blocks = []Block{{Type: "text", Text: rec.Summary}}

		case "system":
			out.Blocks = []Block{{Type: "text", Text: rec.Text}}

		default:
			// unmapped record type; canonicalizer decides fallback vs reject
			out.Blocks = []Block{{Type: "text", Text: rec.Text}}
		}

		report.Records++
		if err := emit(out); err != nil {
			return report, err
		}
	}

	return report, scanner.Err()
}

// claudeBlocks flattens a message content value, which is either a plain
// string or an array of typed blocks.
func claudeBlocks(raw json.RawMessage) []Block {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		return []Block{{Type: "text", Text: s}}
	}

	var parsed []claudeContentBlock
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil
	}

	var blocks []Block
	for _, b := range parsed {
		switch b.Type {
		case "text":
			if t := strings.TrimSpace(b.Text); t != "" {
				blocks = append(blocks, Block{Type: "text", Text: t})
			}
		case "thinking":
			if t := strings.TrimSpace(b.Thinking); t != "" {
				blocks = append(blocks, Block{Type: "thinking", Text: t})
			}
		case "tool_use":
			input := "{}"
			if len(b.Input) > 0 {
				input = string(b.Input)
			}
			blocks = append(blocks, Block{
				Type:      "tool_use",
				ToolName:  b.Name,
				ToolInput: input,
			})
		case "tool_result":
			blocks = append(blocks, Block{Type: "tool_result", Text: claudeToolResultText(b.Content)})
		default:
			blocks = append(blocks, Block{Type: b.Type, Text: b.Text})
		}
	}
	return blocks
}

// claudeToolResultText extracts text from a tool_result content value,
// which is a string or an array of text items.
func claudeToolResultText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var items []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		return ""
	}
	var parts []string
	for _, item := range items {
		if item.Type == "text" && item.Text != "" {
			parts = append(parts, item.Text)
		}
	}
	return strings.Join(parts, "\n")
}
