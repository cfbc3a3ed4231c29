package app

import (
	"fmt"
	"strings"
	"time"

	"discordrelay/internal/config"
	"discordrelay/internal/forwarder"
	"discordrelay/internal/observability/ops"
	"discordrelay/internal/relay"
	"discordrelay/internal/storage"
	kit "discordrelay/internal/transport"
	logx "discordrelay/pkg/logx"
)

// Version is stamped at build time (-ldflags "-X discordrelay/internal/app.Version=...").
var Version = "dev"

func userAgent() string { return "discord-relay/" + Version }

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Discord: logx.DiscordConfig{
			Enabled:    cfg.Logging.Discord.Enabled,
			ChannelID:  cfg.Logging.Discord.ChannelID,
			MinLevel:   cfg.Logging.Discord.MinLevel,
			RatePerSec: cfg.Logging.Discord.RatePerSec,
		},
	}
}

func mapRelaySettings(cfg *config.Config) relay.Settings {
	return relay.Settings{
		Channels:    cfg.AllowList(),
		AckCommands: cfg.Relay.AckEnabled(),
		AckText:     cfg.Relay.AckText,
		RejectText:  cfg.Relay.RejectText,
	}
}

func mapForwarderSettings(cfg *config.Config) (forwarder.Settings, error) {
	timeout, err := config.ParseDuration("webhook.timeout", cfg.Webhook.Timeout, 0)
	if err != nil {
		return forwarder.Settings{}, err
	}
	return forwarder.Settings{
		URL:       strings.TrimSpace(cfg.Webhook.URL),
		Timeout:   timeout,
		UserAgent: userAgent(),
	}, nil
}

func mapOpsConfig(cfg *config.Config) (ops.Config, error) {
	read, err := config.ParseDuration("ops.read_timeout", cfg.Ops.ReadTimeout, 10*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	idle, err := config.ParseDuration("ops.idle_timeout", cfg.Ops.IdleTimeout, 60*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	return ops.Config{
		Enabled:       cfg.Ops.Enabled,
		Addr:          strings.TrimSpace(cfg.Ops.Addr),
		Token:         strings.TrimSpace(cfg.Ops.Token),
		AllowInsecure: cfg.Ops.AllowInsecure,
		Pprof:         cfg.Ops.Pprof,
		ReadTimeout:   read,
		IdleTimeout:   idle,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDuration("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func commandSpecs(cfg *config.Config) []kit.CommandSpec {
	out := make([]kit.CommandSpec, 0, len(cfg.Discord.Commands))
	for _, c := range cfg.Discord.Commands {
		spec := kit.CommandSpec{Name: c.Name, Description: strings.TrimSpace(c.Description)}
		for _, o := range c.Options {
			spec.Options = append(spec.Options, kit.CommandOptionSpec{
				Name:        o.Name,
				Description: strings.TrimSpace(o.Description),
				Type:        strings.ToLower(strings.TrimSpace(o.Type)),
				Required:    o.Required,
			})
		}
		out = append(out, spec)
	}
	return out
}
