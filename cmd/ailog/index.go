package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/sondreby/ailog/internal/config"
	"github.com/sondreby/ailog/internal/index"
	"github.com/sondreby/ailog/internal/logging"
	"github.com/sondreby/ailog/internal/scan"
)

func indexCmd() *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Scan provider roots and update the search index",
		Long: `Scan the configured Claude Code, Codex and Gemini roots and bring the
index up to date. By default only new, modified and deleted session files
are touched; --full re-derives everything from scratch.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log, err := logging.New(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer log.Sync()

			store, err := index.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			ix := index.New(store, log, index.Options{
				StrictUnmapped: cfg.StrictUnmapped,
			})
			summary, err := ix.Run(ctx, scan.Roots{
				Claude: cfg.ClaudeRoot,
				Codex:  cfg.CodexRoot,
				Gemini: cfg.GeminiRoot,
			}, full)
			if err != nil {
				return fmt.Errorf("index: %w", err)
			}

			fmt.Fprintf(os.Stderr, "Done. %s\n", summary)
			return nil
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "Force a full reindex, ignoring fingerprints")
	return cmd
}
