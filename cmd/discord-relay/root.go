package main

import (
	"github.com/spf13/cobra"

	"discordrelay/internal/app"
	"discordrelay/internal/config"
)

var (
	cfgPath        string
	envFile        string
	envFileRequire bool
)

var rootCmd = &cobra.Command{
	Use:   "discord-relay",
	Short: "Relay Discord channel messages and slash commands to an n8n webhook",
	Long: `discord-relay connects to the Discord gateway as a bot, filters messages and
slash commands by a channel allow-list, and POSTs each accepted event to a
webhook as a flat JSON envelope.

Settings come from an optional config file (JSON, YAML or TOML) overlaid with
environment variables (DISCORD_BOT_TOKEN, TARGET_CHANNELS, TARGET_CHANNEL_ID,
N8N_WEBHOOK_URL, ...). A .env file is loaded first when present.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		required := envFileRequire || cmd.Flags().Changed("env-file")
		return config.LoadDotEnv(envFile, required)
	},
	// Running without a sub-command starts the relay.
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRelay(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (.json, .yaml, .toml); defaults to $RELAY_CONFIG, empty means environment only")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().BoolVar(&envFileRequire, "env-file-required", false, "fail when the dotenv file is missing")
	rootCmd.Version = app.Version

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkConfigCmd)
}

func resolvedConfigPath() string {
	if cfgPath != "" {
		return cfgPath
	}
	return config.PathFromEnv()
}
