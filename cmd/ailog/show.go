package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/sondreby/ailog/internal/config"
	"github.com/sondreby/ailog/internal/index"
)

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print one session's messages in order",
		Args:  cobra.ExactArgs(1),
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

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			session, err := store.Session(ctx, args[0])
			if err != nil {
				return err
			}
			if session == nil {
				return fmt.Errorf("session %s not found", args[0])
			}

			fmt.Printf("%s  %s  %s\n", session.ID, session.Provider, session.FilePath)
			if session.Summary != "" {
				fmt.Printf("summary: %s\n", session.Summary)
			}
			fmt.Println()

			messages, err := store.Messages(ctx, session.ID)
			if err != nil {
				return err
			}
			for _, m := range messages {
				label := string(m.Category)
				if m.ToolName != "" {
					label = fmt.Sprintf("%s(%s)", m.Category, m.ToolName)
				}
				fmt.Printf("[%4d] %-22s %s\n", m.Ordinal, label, m.Text)
			}
			return nil
		},
	}
}
