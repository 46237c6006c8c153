package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"relaybot/internal/config"
	telegram "relaybot/internal/transport/telegram/adapter"
	logx "relaybot/pkg/logx"
)

func webhookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Manage the Telegram webhook registration",
	}
	var drop bool

	set := &cobra.Command{
		Use:   "set",
		Short: "Register <webhook_url><webhook_path> with Telegram",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := newConfigManager().Load()
			if err != nil {
				return err
			}
			tg, err := cliAdapter(cfg)
			if err != nil {
				return err
			}
			url := telegram.WebhookURL(cfg.Telegram.WebhookURL, cfg.Telegram.WebhookPath)
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()
			if err := tg.SetWebhook(ctx, telegram.WebhookParams{
				URL:         url,
				Secret:      cfg.Telegram.WebhookSecret,
				DropPending: drop || cfg.Telegram.DropPending,
			}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "webhook set: %s\n", url)
			return nil
		},
	}
	set.Flags().BoolVar(&drop, "drop-pending", false, "discard updates waiting at Telegram")

	del := &cobra.Command{
		Use:   "delete",
		Short: "Remove the webhook registration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tg, err := tokenOnlyAdapter()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()
			if err := tg.RemoveWebhook(ctx, drop); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "webhook deleted")
			return nil
		},
	}
	del.Flags().BoolVar(&drop, "drop-pending", false, "discard updates waiting at Telegram")

	info := &cobra.Command{
		Use:   "info",
		Short: "Show the current webhook registration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tg, err := tokenOnlyAdapter()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()
			wi, err := tg.WebhookInfo(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "url:              %s\n", orDash(wi.URL))
			fmt.Fprintf(out, "pending updates:  %d\n", wi.PendingUpdates)
			if wi.MaxConnections > 0 {
				fmt.Fprintf(out, "max connections:  %d\n", wi.MaxConnections)
			}
			if wi.LastError != "" {
				fmt.Fprintf(out, "last error:       %s (%s)\n", wi.LastError, wi.LastErrorAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.AddCommand(set, del, info)
	return cmd
}

func cliAdapter(cfg *config.Config) (*telegram.Adapter, error) {
	return telegram.New(telegram.Config{
		Token:          cfg.Telegram.Token,
		APIURL:         cfg.Telegram.APIURL,
		RequestTimeout: config.MustDuration(cfg.Telegram.RequestTimeout, 30*time.Second),
		Offline:        true,
	}, logx.NewConsole(cfg.Logging.Level))
}

// tokenOnlyAdapter skips full validation: delete and info need only the token.
func tokenOnlyAdapter() (*telegram.Adapter, error) {
	cfg, err := newConfigManager().Parse()
	if err != nil {
		return nil, err
	}
	if cfg.Telegram.Token == "" {
		return nil, fmt.Errorf("%w: telegram.token (%s)", config.ErrMissing, config.EnvToken)
	}
	return cliAdapter(cfg)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
