package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"relaybot/internal/config"
)

var (
	version = "0.1.0"

	configPath string
	envFile    string
)

func main() {
	root := &cobra.Command{
		Use:           "relaybot",
		Short:         "Relay private Telegram messages to a channel, one per cooldown",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// An explicitly passed --env-file must exist; the default is optional.
			return config.LoadEnvFile(envFile, cmd.Flags().Changed("env-file"))
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (JSON or YAML); empty uses environment only")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	root.AddCommand(serveCmd())
	root.AddCommand(webhookCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func newConfigManager() *config.ConfigManager {
	return config.NewConfigManager(configPath, nil)
}
