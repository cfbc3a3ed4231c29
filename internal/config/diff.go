package config

import (
	"reflect"
	"strings"

	logx "discordrelay/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like tokens
// or the webhook URL, which often embeds a credential).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	// Discord (never log token)
	if oldCfg.Discord.Token != newCfg.Discord.Token ||
		strings.TrimSpace(oldCfg.Discord.GuildID) != strings.TrimSpace(newCfg.Discord.GuildID) ||
		!reflect.DeepEqual(oldCfg.Discord.Commands, newCfg.Discord.Commands) {
		changed = append(changed, "discord")
		attrs = append(attrs,
			logx.Bool("discord.token_changed", oldCfg.Discord.Token != newCfg.Discord.Token),
			logx.Bool("discord.guild_set", strings.TrimSpace(newCfg.Discord.GuildID) != ""),
			logx.Int("discord.commands", len(newCfg.Discord.Commands)),
		)
	}

	if !reflect.DeepEqual(oldCfg.AllowList(), newCfg.AllowList()) ||
		oldCfg.Relay.AckEnabled() != newCfg.Relay.AckEnabled() ||
		oldCfg.Relay.AckText != newCfg.Relay.AckText ||
		oldCfg.Relay.RejectText != newCfg.Relay.RejectText {
		changed = append(changed, "relay")
		attrs = append(attrs,
			logx.Int("relay.channels", len(newCfg.AllowList())),
			logx.Bool("relay.ack_commands", newCfg.Relay.AckEnabled()),
		)
	}

	// Webhook (never log the URL itself)
	if strings.TrimSpace(oldCfg.Webhook.URL) != strings.TrimSpace(newCfg.Webhook.URL) ||
		strings.TrimSpace(oldCfg.Webhook.Timeout) != strings.TrimSpace(newCfg.Webhook.Timeout) {
		changed = append(changed, "webhook")
		attrs = append(attrs,
			logx.Bool("webhook.url_set", strings.TrimSpace(newCfg.Webhook.URL) != ""),
			logx.String("webhook.timeout", strings.TrimSpace(newCfg.Webhook.Timeout)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.discord_enabled", newCfg.Logging.Discord.Enabled),
		)
	}

	// Ops (never log token)
	if !reflect.DeepEqual(oldCfg.Ops, newCfg.Ops) {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", strings.TrimSpace(newCfg.Ops.Addr)),
			logx.Bool("ops.token_set", strings.TrimSpace(newCfg.Ops.Token) != ""),
			logx.Bool("ops.pprof", newCfg.Ops.Pprof),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		driver := ""
		if newCfg.Storage != nil {
			driver = newCfg.Storage.Driver
		}
		attrs = append(attrs, logx.String("storage.driver", driver))
	}

	return changed, attrs
}
