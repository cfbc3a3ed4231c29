package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"discordrelay/internal/config"
)

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Load and validate the configuration, then print a summary",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := resolvedConfigPath()
		cfg, err := config.NewConfigManager(path).Load()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		source := path
		if source == "" {
			source = "(environment only)"
		}
		storage := "none"
		if cfg.Storage != nil && cfg.Storage.Driver != "" {
			storage = cfg.Storage.Driver
		}
		fmt.Fprintf(out, "config:       %s\n", source)
		fmt.Fprintf(out, "channels:     %d\n", len(cfg.AllowList()))
		fmt.Fprintf(out, "webhook set:  %t\n", cfg.Webhook.URL != "")
		fmt.Fprintf(out, "commands:     %d\n", len(cfg.Discord.Commands))
		fmt.Fprintf(out, "ack commands: %t\n", cfg.Relay.AckEnabled())
		fmt.Fprintf(out, "log level:    %s\n", cfg.Logging.Level)
		fmt.Fprintf(out, "ops server:   %t (%s)\n", cfg.Ops.Enabled, cfg.Ops.Addr)
		fmt.Fprintf(out, "storage:      %s\n", storage)
		fmt.Fprintln(out, "OK")
		return nil
	},
}
