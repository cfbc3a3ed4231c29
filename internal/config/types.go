package config

import (
	"errors"
	"strings"
)

var (
	ErrMissingToken   = errors.New("discord.token is required (set DISCORD_BOT_TOKEN)")
	ErrEmptyAllowList = errors.New("relay.channels is empty (set TARGET_CHANNELS or TARGET_CHANNEL_ID)")
)

type Config struct {
	Discord DiscordConfig `json:"discord"`
	Relay   RelayConfig   `json:"relay"`
	Webhook WebhookConfig `json:"webhook"`
	Logging LoggingConfig `json:"logging"`
	Ops     OpsConfig     `json:"ops,omitempty"`

	Storage *StorageConfig `json:"storage,omitempty"`
}

type DiscordConfig struct {
	Token string `json:"token"`

	// GuildID scopes slash-command registration to one guild (instant update).
	// Empty registers global commands.
	GuildID string `json:"guild_id,omitempty"`

	Commands []CommandConfig `json:"commands,omitempty"`
}

// CommandConfig declares a slash command to register at startup.
type CommandConfig struct {
	Name        string                `json:"name"`
	Description string                `json:"description"`
	Options     []CommandOptionConfig `json:"options,omitempty"`
}

type CommandOptionConfig struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// Type is one of string|integer|number|boolean|user|channel|role|mentionable.
	Type     string `json:"type"`
	Required bool   `json:"required,omitempty"`
}

type RelayConfig struct {
	// Channels is the allow-list of channel ids eligible for forwarding.
	Channels []string `json:"channels"`

	// AckCommands controls the ephemeral reply sent for slash commands.
	// Pointer so an omitted key keeps the default (true).
	AckCommands *bool  `json:"ack_commands,omitempty"`
	AckText     string `json:"ack_text,omitempty"`
	RejectText  string `json:"reject_text,omitempty"`
}

// AckEnabled reports the effective ack_commands value.
func (r RelayConfig) AckEnabled() bool {
	return r.AckCommands == nil || *r.AckCommands
}

type WebhookConfig struct {
	URL string `json:"url"`
	// Timeout is a Go duration string. Empty keeps the HTTP client default (none).
	Timeout string `json:"timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string         `json:"level"`
	Console bool           `json:"console"`
	File    LoggingFile    `json:"file"`
	Discord LoggingDiscord `json:"discord"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingDiscord struct {
	Enabled    bool   `json:"enabled"`
	ChannelID  string `json:"channel_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// OpsConfig controls the optional operations HTTP server (/healthz, /metrics, pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9090").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:9090"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout string `json:"read_timeout,omitempty"`
	IdleTimeout string `json:"idle_timeout,omitempty"`
}

// StorageConfig controls the optional delivery audit log.
//
// Example:
//
//	storage: { driver: "sqlite", path: "./data/relay.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// AllowList returns the trimmed, non-empty channel ids in config order.
func (c *Config) AllowList() []string {
	if c == nil {
		return nil
	}
	out := make([]string, 0, len(c.Relay.Channels))
	seen := make(map[string]struct{}, len(c.Relay.Channels))
	for _, id := range c.Relay.Channels {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
