package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"relaybot/internal/config"
	telegram "relaybot/internal/transport/telegram/adapter"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Load and validate the configuration, then print a summary without secrets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := newConfigManager().Load()
			if err != nil {
				return err
			}
			printSummary(cmd, cfg)
			return nil
		},
	})
	return cmd
}

func printSummary(cmd *cobra.Command, cfg *config.Config) {
	out := cmd.OutOrStdout()
	storage := "none"
	if cfg.Storage != nil && strings.TrimSpace(cfg.Storage.Driver) != "" {
		storage = cfg.Storage.Driver + " " + cfg.Storage.Path
	}
	fmt.Fprintln(out, "config ok")
	fmt.Fprintf(out, "  channel:   %d\n", cfg.Telegram.ChannelID)
	fmt.Fprintf(out, "  webhook:   %s (secret set: %v)\n",
		telegram.WebhookURL(cfg.Telegram.WebhookURL, cfg.Telegram.WebhookPath), cfg.Telegram.WebhookSecret != "")
	fmt.Fprintf(out, "  port:      %d\n", cfg.Server.Port)
	fmt.Fprintf(out, "  cooldown:  %s\n", cfg.Relay.Cooldown)
	fmt.Fprintf(out, "  storage:   %s\n", storage)
	fmt.Fprintf(out, "  pprof:     %v\n", cfg.Pprof.Enabled)
}
