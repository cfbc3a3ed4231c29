package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	env "github.com/netflix/go-env"
)

// envOverlay lists the environment variables that override the config file.
// Empty values are ignored so a file setting survives an unset variable.
type envOverlay struct {
	Token      string `env:"DISCORD_BOT_TOKEN"`
	GuildID    string `env:"DISCORD_GUILD_ID"`
	Channels   string `env:"TARGET_CHANNELS"`
	Channel    string `env:"TARGET_CHANNEL_ID"`
	WebhookURL string `env:"N8N_WEBHOOK_URL"`
	LogLevel   string `env:"RELAY_LOG_LEVEL"`
	OpsAddr    string `env:"RELAY_OPS_ADDR"`
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables that are already set are not overwritten. A missing file is only
// an error when required is true.
func LoadDotEnv(path string, required bool) error {
	if strings.TrimSpace(path) == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func readEnvOverlay() (envOverlay, error) {
	var o envOverlay
	if _, err := env.UnmarshalFromEnviron(&o); err != nil {
		return envOverlay{}, fmt.Errorf("environment: %w", err)
	}
	return o, nil
}

func (o envOverlay) apply(cfg *Config) {
	if v := strings.TrimSpace(o.Token); v != "" {
		cfg.Discord.Token = v
	}
	if v := strings.TrimSpace(o.GuildID); v != "" {
		cfg.Discord.GuildID = v
	}
	if v := strings.TrimSpace(o.Channels); v != "" {
		cfg.Relay.Channels = SplitList(v)
	}
	// The single-channel variable is merged so both styles can coexist.
	if v := strings.TrimSpace(o.Channel); v != "" {
		cfg.Relay.Channels = append(cfg.Relay.Channels, v)
	}
	if v := strings.TrimSpace(o.WebhookURL); v != "" {
		cfg.Webhook.URL = v
	}
	if v := strings.TrimSpace(o.LogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(o.OpsAddr); v != "" {
		cfg.Ops.Enabled = true
		cfg.Ops.Addr = v
	}
}

// SplitList splits a comma-separated list, trimming blanks.
func SplitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// PathFromEnv returns RELAY_CONFIG when set.
func PathFromEnv() string {
	return strings.TrimSpace(os.Getenv("RELAY_CONFIG"))
}
