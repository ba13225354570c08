package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sondreby/ailog/internal/config"
	"github.com/sondreby/ailog/internal/index"
	"github.com/sondreby/ailog/internal/model"
	"github.com/sondreby/ailog/internal/search"
)

var (
	styleMatch    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	styleDim      = lipgloss.NewStyle().Faint(true)
	providerStyle = map[model.Provider]lipgloss.Style{
		model.ProviderClaude: lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		model.ProviderCodex:  lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		model.ProviderGemini: lipgloss.NewStyle().Foreground(lipgloss.Color("13")),
	}
)

func searchCmd() *cobra.Command {
	var providers, categories []string
	var projectQuery string
	var limit int

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Full-text search across indexed sessions",
		Long: `Search indexed messages with FTS5 ranking. An empty query lists the
newest messages matching the metadata filters. Output is TSV when piped:
  messageId, sessionId, provider, project, category, timestamp, snippet`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			store, err := index.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			opts := search.Options{
				ProjectQuery: projectQuery,
				Limit:        limit,
			}
			if len(args) > 0 {
				opts.Text = args[0]
			}
			for _, p := range providers {
				provider, err := model.ParseProvider(p)
				if err != nil {
					return err
				}
				opts.Providers = append(opts.Providers, provider)
			}
			opts.Categories, err = model.ParseCategories(categories)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			res, err := search.NewService(store).Search(ctx, opts)
			if err != nil {
				return err
			}
			if len(res.Results) == 0 {
				fmt.Fprintln(os.Stderr, "No results found.")
				return nil
			}

			styled := term.IsTerminal(int(os.Stdout.Fd()))
			for _, r := range res.Results {
				printResult(r, styled)
			}
			if styled {
				fmt.Println(styleDim.Render(facetLine(res)))
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&providers, "provider", nil, "Filter by provider (claude/codex/gemini), repeatable")
	cmd.Flags().StringSliceVar(&categories, "category", nil, "Filter by category (user/assistant/tool_use/tool_result/thinking/system), repeatable")
	cmd.Flags().StringVar(&projectQuery, "project", "", "Filter by project name or path substring")
	cmd.Flags().IntVar(&limit, "limit", 50, "Max results")
	return cmd
}

func printResult(r search.Result, styled bool) {
	snippet := strings.ReplaceAll(r.Snippet, "\t", " ")
	snippet = strings.ReplaceAll(snippet, "\n", " ")

	if !styled {
		fmt.Printf("%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.MessageID, r.SessionID, r.Provider, r.ProjectName,
			r.Category, r.Timestamp, snippet)
		return
	}

	snippet = renderMarked(snippet)
	provider := string(r.Provider)
	if style, ok := providerStyle[r.Provider]; ok {
		provider = style.Render(provider)
	}
	fmt.Printf("%s %s %s %s\n    %s\n",
		styleDim.Render(r.Timestamp),
		provider,
		r.ProjectName,
		styleDim.Render(string(r.Category)),
		snippet)
}

// renderMarked styles the >>>match<<< regions the snippet function emits.
func renderMarked(snippet string) string {
	var b strings.Builder
	rest := snippet
	for {
		start := strings.Index(rest, ">>>")
		if start < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start+3:], "<<<")
		if end < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:start])
		b.WriteString(styleMatch.Render(rest[start+3 : start+3+end]))
		rest = rest[start+3+end+3:]
	}
	return b.String()
}

func facetLine(res *search.Results) string {
	parts := make([]string, 0, len(model.Categories))
	for _, c := range model.Categories {
		if n := res.FacetCounts[c]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s:%d", c, n))
		}
	}
	return fmt.Sprintf("%d total  %s", res.TotalCount, strings.Join(parts, "  "))
}
