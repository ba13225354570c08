package parse

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/sondreby/ailog/internal/scan"
)

// Top-level record in Codex JSONL.
type codexRecord struct {
	Timestamp string          `json:"timestamp"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

// event_msg payload (flat, not nested).
type codexEventPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"` // user_message
	Text    string `json:"text"`    // agent_message / agent_reasoning
}

// response_item payload.
type codexResponsePayload struct {
	Type      string `json:"type"`
	Role      string `json:"role"`
	Name      string `json:"name"`      // function_call
	Arguments string `json:"arguments"` // function_call
	Output    string `json:"output"`    // function_call_output
	Content   []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Summary []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"summary"` // reasoning
}

// codexNoiseTypes are known non-message record types.
var codexNoiseTypes = map[string]bool{
	"session_meta": true, // consumed by the locator's head scan
	"turn_context": true,
	"compacted":    true,
}

type codexParser struct{}

func (codexParser) Parse(ctx context.Context, f scan.SourceFile, emit func(Record) error) (Report, error) {
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

		var rec codexRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			report.RecordErrors = append(report.RecordErrors, RecordError{Line: line, Err: err})
			continue
		}

		if codexNoiseTypes[rec.Type] {
			report.Skipped++
			continue
		}

		var out Record
		var emitted bool
		switch rec.Type {
		case "event_msg":
			out, emitted = codexEventRecord(rec.Payload)
		case "response_item":
			out, emitted = codexResponseRecord(rec.Payload)
		default:
			// unmapped top-level type; surfaced to the canonicalizer
			out = Record{Role: rec.Type, Blocks: []Block{{Type: "text"}}}
			emitted = true
		}
		if !emitted {
			report.Skipped++
			continue
		}

		out.Line = line
		out.Timestamp = rec.Timestamp
		report.Records++
		if err := emit(out); err != nil {
			return report, err
		}
	}

	return report, scanner.Err()
}

func codexEventRecord(payload json.RawMessage) (Record, bool) {
	var evt codexEventPayload
	if err := json.Unmarshal(payload, &evt); err != nil {
		return Record{}, false
	}

	switch evt.Type {
	case "user_message":
		text := strings.TrimSpace(evt.Message)
		if text == "" {
			return Record{}, false
		}
		return Record{Role: "user", Blocks: []Block{{Type: "text", Text: text}}}, true
	case "agent_message":
		text := strings.TrimSpace(evt.Text)
		if text == "" {
			return Record{}, false
		}
		return Record{Role: "assistant", Blocks: []Block{{Type: "text", Text: text}}}, true
	case "agent_reasoning":
		text := strings.TrimSpace(evt.Text)
		if text == "" {
			return Record{}, false
		}
		return Record{Role: "assistant", Blocks: []Block{{Type: "thinking", Text: text}}}, true
	case "token_count", "task_started", "task_complete", "agent_reasoning_section_break":
		return Record{}, false
	}
	return Record{Role: "event_msg/" + evt.Type, Blocks: []Block{{Type: "text", Text: evt.Message}}}, true
}

func codexResponseRecord(payload json.RawMessage) (Record, bool) {
	var item codexResponsePayload
	if err := json.Unmarshal(payload, &item); err != nil {
		return Record{}, false
	}

	switch item.Type {
	case "message":
		role := item.Role
		if role == "" {
			role = "assistant"
		}
		var parts []string
		for _, c := range item.Content {
			if (c.Type == "input_text" || c.Type == "output_text" || c.Type == "text") && c.Text != "" {
				parts = append(parts, c.Text)
			}
		}
		text := strings.TrimSpace(strings.Join(parts, "\n"))
		if text == "" {
			return Record{}, false
		}
		return Record{Role: role, Blocks: []Block{{Type: "text", Text: text}}}, true

	case "function_call", "custom_tool_call", "local_shell_call":
		name := item.Name
		if name == "" {
			name = item.Type
		}
		input := item.Arguments
		if input == "" {
			input = "{}"
		}
		return Record{Role: "assistant", Blocks: []Block{{
			Type:      "tool_use",
			ToolName:  name,
			ToolInput: input,
		}}}, true

	case "function_call_output", "custom_tool_call_output":
		return Record{Role: "tool", Blocks: []Block{{
			Type: "tool_result",
			Text: item.Output,
		}}}, true

	case "reasoning":
		var parts []string
		for _, s := range item.Summary {
			if s.Text != "" {
				parts = append(parts, s.Text)
			}
		}
		text := strings.TrimSpace(strings.Join(parts, "\n"))
		if text == "" {
			return Record{}, false
		}
		return Record{Role: "assistant", Blocks: []Block{{Type: "thinking", Text: text}}}, true

	case "web_search_call":
		return Record{Role: "assistant", Blocks: []Block{{
			Type:      "tool_use",
			ToolName:  "web_search",
			ToolInput: "{}",
		}}}, true
	}
	return Record{Role: "response_item/" + item.Type, Blocks: []Block{{Type: "text"}}}, true
}
