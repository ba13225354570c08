package parse

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/sondreby/ailog/internal/scan"
)

// Gemini stores a session as one JSON document with a messages array.
type geminiSession struct {
	SessionID string          `json:"sessionId"`
	StartTime string          `json:"startTime"`
	Messages  []geminiMessage `json:"messages"`
}

type geminiMessage struct {
	Type      string          `json:"type"`
	Content   string          `json:"content"`
	Timestamp string          `json:"timestamp"`
	Thoughts  []geminiThought `json:"thoughts"`
	Tokens    *geminiTokens   `json:"tokens"`
}

type geminiThought struct {
	Subject     string `json:"subject"`
	Description string `json:"description"`
}

type geminiTokens struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

type geminiParser struct{}

func (geminiParser) Parse(ctx context.Context, f scan.SourceFile, emit func(Record) error) (Report, error) {
	var report Report

	data, err := os.ReadFile(f.Path)
	if err != nil {
		return report, err
	}

	var session geminiSession
	if err := json.Unmarshal(data, &session); err != nil {
		// a non-JSON root fails the whole file
		return report, fmt.Errorf("invalid session document: %w", err)
	}

	for i, msg := range session.Messages {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		out := Record{
			Line:      i + 1, // message index; gemini files are one document
			Timestamp: msg.Timestamp,
		}
		if msg.Tokens != nil {
			out.Usage.InputTokens = msg.Tokens.Input
			out.Usage.OutputTokens = msg.Tokens.Output
		}

		switch msg.Type {
		case "user":
			out.Role = "user"
		case "gemini", "assistant", "model":
			out.Role = "assistant"
		case "info", "error", "warn", "system":
			out.Role = "system"
		default:
			out.Role = msg.Type
		}

		for _, thought := range msg.Thoughts {
			text := strings.TrimSpace(thought.Description)
			if thought.Subject != "" {
				text = strings.TrimSpace(thought.Subject + ": " + text)
			}
			if text != "" {
				out.Blocks = append(out.Blocks, Block{Type: "thinking", Text: text})
			}
		}
		if text := strings.TrimSpace(msg.Content); text != "" {
			out.Blocks = append(out.Blocks, Block{Type: "text", Text: text})
		}
		if len(out.Blocks) == 0 {
			report.Skipped++
			continue
		}

		report.Records++
		if err := emit(out); err != nil {
			return report, err
		}
	}

	return report, nil
}
