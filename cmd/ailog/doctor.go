package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sondreby/ailog/internal/config"
	"github.com/sondreby/ailog/internal/index"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Self-check: verify provider roots, store health and stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			checkRoot := func(name, path string) {
				if _, err := os.Stat(path); err != nil {
					fmt.Printf("  %-8s %s (missing, skipped on scan)\n", name, path)
					return
				}
				fmt.Printf("  %-8s %s\n", name, path)
			}
			fmt.Println("Provider roots:")
			checkRoot("claude", cfg.ClaudeRoot)
			checkRoot("codex", cfg.CodexRoot)
			checkRoot("gemini", cfg.GeminiRoot)

			store, err := index.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("store: %w", err)
			}
			defer store.Close()

			ctx := context.Background()

			version, ok, err := store.StoredSchemaVersion(ctx)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Printf("Store: %s (fresh, schema v%d expected)\n", cfg.DBPath, index.SchemaVersion)
			} else {
				fmt.Printf("Store: %s (schema v%d, expected v%d)\n", cfg.DBPath, version, index.SchemaVersion)
			}

			// FTS availability check
			var n int
			if err := store.Raw().QueryRowContext(ctx,
				"SELECT COUNT(*) FROM messages_fts").Scan(&n); err != nil {
				return fmt.Errorf("fts check: %w", err)
			}

			sessions, err := store.SessionCount(ctx)
			if err != nil {
				return err
			}
			messages, err := store.MessageCount(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Indexed: %d sessions, %d messages (%d in FTS)\n", sessions, messages, n)
			return nil
		},
	}
}
