package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/coterie-ai/coterie/internal/channels"
	"github.com/coterie-ai/coterie/internal/config"
)

// cleanupCmd runs one retention pass and exits. Useful from external
// cron when the gateway's built-in schedule is disabled.
func cleanupCmd() *cobra.Command {
	var maxAgeDays, maxMessages int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired and over-cap channel messages once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if maxAgeDays > 0 {
				cfg.Storage.MaxAgeDays = maxAgeDays
			}
			if maxMessages > 0 {
				cfg.Storage.MaxMessagesPerChannel = maxMessages
			}

			stores, err := buildStores(cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}

			manager := channels.NewManager(stores.Channels, cfg.Assistant.ID, cfg.Assistant.Name, managerConfigFrom(cfg))
			deleted, err := manager.Cleanup(context.Background())
			if err != nil {
				slog.Error("cleanup failed", "error", err)
				os.Exit(1)
			}
			slog.Info("cleanup complete", "deleted", deleted,
				"max_age_days", cfg.Storage.MaxAgeDays,
				"max_messages", cfg.Storage.MaxMessagesPerChannel)
			return nil
		},
	}
	cmd.Flags().IntVar(&maxAgeDays, "max-age-days", 0, "override retention age in days")
	cmd.Flags().IntVar(&maxMessages, "max-messages", 0, "override per-channel message cap")
	return cmd
}
