package parse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sondreby/ailog/internal/model"
	"github.com/sondreby/ailog/internal/scan"
)

// Options controls canonicalization policy.
type Options struct {
	// StrictUnmapped rejects records with unknown roles or block types as
	// recoverable parse errors instead of mapping them to system.
	StrictUnmapped bool
}

// Result is a canonicalized session plus everything the run summary needs.
type Result struct {
	Batch    model.SessionBatch
	Report   Report
	Unmapped int // records mapped to system because their shape was unknown
}

// Canonicalize parses one source file and maps its records onto canonical
// messages. A returned error means the file is structurally unreadable;
// per-record problems are reported in Result.Report.
func Canonicalize(ctx context.Context, f scan.SourceFile, opts Options) (*Result, error) {
	parser, err := ParserFor(f.Provider)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	mtime := time.UnixMilli(f.MtimeMS).UTC()

	var (
		messages      []model.Message
		firstTS       time.Time
		lastTS        time.Time
		cwd           string
		summaryRecord string
		firstPrompt   string
	)

	report, err := parser.Parse(ctx, f, func(rec Record) error {
		base, roleKnown := roleCategory(rec.Role)
		if rec.Role == "summary" && len(rec.Blocks) > 0 {
			summaryRecord = rec.Blocks[0].Text
		}
		if cwd == "" && rec.Cwd != "" {
			cwd = rec.Cwd
		}

		ts := parseTimestamp(rec.Timestamp)
		usage := rec.Usage

		for _, block := range rec.Blocks {
			category, blockKnown := blockCategory(block.Type, base)
			if !roleKnown || !blockKnown {
				if opts.StrictUnmapped {
					res.Report.RecordErrors = append(res.Report.RecordErrors, RecordError{
						Line: rec.Line,
						Err:  fmt.Errorf("unmapped record shape role=%q block=%q", rec.Role, block.Type),
					})
					continue
				}
				category = model.CategorySystem
				res.Unmapped++
			}

			ordinal := len(messages)
			stamp := ts
			if stamp.IsZero() {
				// provider omitted the timestamp; keep ordering stable
				stamp = mtime.Add(time.Duration(ordinal) * time.Millisecond)
			} else {
				if firstTS.IsZero() {
					firstTS = stamp
				}
				lastTS = stamp
			}

			text := block.Text
			if len(text) > maxTextSize {
				text = text[:maxTextSize]
			}

			msg := model.Message{
				ID:         model.MessageID(f.SessionID, ordinal),
				SessionID:  f.SessionID,
				Ordinal:    ordinal,
				Timestamp:  stamp,
				Category:   category,
				Text:       text,
				ToolName:   block.ToolName,
				ToolInput:  block.ToolInput,
				Usage:      usage,
				SourceLine: rec.Line,
			}
			usage = model.Usage{} // attach record usage to its first message only
			messages = append(messages, msg)

			if firstPrompt == "" && category == model.CategoryUser && msg.Text != "" {
				firstPrompt = truncateLine(msg.Text, 500)
			}
		}
		return nil
	})
	res.Report.Records = report.Records
	res.Report.Skipped = report.Skipped
	res.Report.RecordErrors = append(report.RecordErrors, res.Report.RecordErrors...)
	if err != nil {
		return nil, err
	}

	if cwd == "" {
		cwd = f.ProjectPath
	}

	session := model.Session{
		ID:           f.SessionID,
		Provider:     f.Provider,
		ProjectID:    f.ProjectID,
		FilePath:     f.Path,
		StartedAt:    pickTimestamp(f.Created, firstTS, mtime),
		EndedAt:      pickTimestamp(f.Modified, lastTS, mtime),
		MessageCount: len(messages),
		FirstPrompt:  firstOf(f.FirstPrompt, firstPrompt),
		Summary:      firstOf(f.Summary, truncateLine(summaryRecord, 200), truncateLine(firstPrompt, 200)),
		GitBranch:    f.GitBranch,
		Cwd:          cwd,
	}
	project := model.Project{
		ID:       f.ProjectID,
		Provider: f.Provider,
		Name:     f.ProjectName,
		RootPath: f.ProjectPath,
	}

	res.Batch = model.SessionBatch{Session: session, Project: project, Messages: messages}
	return res, nil
}

// roleCategory maps a provider role onto the category its text blocks get.
func roleCategory(role string) (model.Category, bool) {
	switch role {
	case "user":
		return model.CategoryUser, true
	case "assistant":
		return model.CategoryAssistant, true
	case "system", "summary":
		return model.CategorySystem, true
	case "tool":
		return model.CategoryToolResult, true
	}
	return model.CategorySystem, false
}

// blockCategory maps a raw block type onto a category, given the category
// implied by the record role.
func blockCategory(blockType string, base model.Category) (model.Category, bool) {
	switch blockType {
	case "text":
		return base, true
	case "thinking":
		return model.CategoryThinking, true
	case "tool_use":
		return model.CategoryToolUse, true
	case "tool_result":
		return model.CategoryToolResult, true
	}
	return model.CategorySystem, false
}

func pickTimestamp(raw string, derived, fallback time.Time) time.Time {
	if t := parseTimestamp(raw); !t.IsZero() {
		return t
	}
	if !derived.IsZero() {
		return derived
	}
	return fallback
}

func truncateLine(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > max {
		s = s[:max]
	}
	return strings.TrimSpace(s)
}

func firstOf(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
