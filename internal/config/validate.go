package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
	"time"

	logx "discordrelay/pkg/logx"
)

const (
	DefaultAckText    = "Forwarded."
	DefaultRejectText = "This channel is not relayed."
	DefaultOpsAddr    = "127.0.0.1:9090"
)

var commandNameRe = regexp.MustCompile(`^[-_\p{Ll}\p{N}]{1,32}$`)

var optionTypes = map[string]struct{}{
	"string": {}, "integer": {}, "number": {}, "boolean": {},
	"user": {}, "channel": {}, "role": {}, "mentionable": {},
}

// Defaults returns the base config that files and the environment are layered on.
func Defaults() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:   "INFO",
			Console: true,
		},
	}
}

// applyDefaults fills values left empty after the file and env were applied.
func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "INFO"
	}
	if strings.TrimSpace(cfg.Logging.Discord.MinLevel) == "" {
		cfg.Logging.Discord.MinLevel = "WARN"
	}
	if cfg.Logging.Discord.RatePerSec <= 0 {
		cfg.Logging.Discord.RatePerSec = 1
	}
	if strings.TrimSpace(cfg.Relay.AckText) == "" {
		cfg.Relay.AckText = DefaultAckText
	}
	if strings.TrimSpace(cfg.Relay.RejectText) == "" {
		cfg.Relay.RejectText = DefaultRejectText
	}
	if strings.TrimSpace(cfg.Ops.Addr) == "" {
		cfg.Ops.Addr = DefaultOpsAddr
	}
	cfg.Relay.Channels = cfg.AllowList()
}

// Validate checks every required setting. Startup and hot reload share it, so
// a reload that would leave the relay misconfigured is rejected.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(cfg.Discord.Token) == "" {
		return ErrMissingToken
	}
	if len(cfg.AllowList()) == 0 {
		return ErrEmptyAllowList
	}
	if err := validateWebhook(cfg.Webhook); err != nil {
		return err
	}
	if err := validateCommands(cfg.Discord.Commands); err != nil {
		return err
	}
	if !logx.ValidLevel(cfg.Logging.Level) {
		return fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level)
	}
	if !logx.ValidLevel(cfg.Logging.Discord.MinLevel) {
		return fmt.Errorf("logging.discord.min_level: unknown level %q", cfg.Logging.Discord.MinLevel)
	}
	if cfg.Logging.Discord.Enabled && strings.TrimSpace(cfg.Logging.Discord.ChannelID) == "" {
		return errors.New("logging.discord.channel_id is required when logging.discord.enabled is true")
	}
	if err := validateOps(cfg.Ops); err != nil {
		return err
	}
	if err := validateStorage(cfg.Storage); err != nil {
		return err
	}
	return nil
}

func validateWebhook(w WebhookConfig) error {
	if raw := strings.TrimSpace(w.URL); raw != "" {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("webhook.url: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("webhook.url: scheme must be http or https, got %q", u.Scheme)
		}
		if u.Host == "" {
			return errors.New("webhook.url: host is empty")
		}
	}
	_, err := ParseDuration("webhook.timeout", w.Timeout, 0)
	return err
}

func validateCommands(cmds []CommandConfig) error {
	seen := make(map[string]struct{}, len(cmds))
	for i, c := range cmds {
		path := fmt.Sprintf("discord.commands[%d]", i)
		if !commandNameRe.MatchString(c.Name) {
			return fmt.Errorf("%s.name: %q must be 1-32 lower-case letters, digits, '-' or '_'", path, c.Name)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("%s.name: duplicate command %q", path, c.Name)
		}
		seen[c.Name] = struct{}{}
		if n := len([]rune(strings.TrimSpace(c.Description))); n == 0 || n > 100 {
			return fmt.Errorf("%s.description: must be 1-100 characters", path)
		}

		optSeen := make(map[string]struct{}, len(c.Options))
		optional := false
		for j, o := range c.Options {
			opath := fmt.Sprintf("%s.options[%d]", path, j)
			if !commandNameRe.MatchString(o.Name) {
				return fmt.Errorf("%s.name: %q must be 1-32 lower-case letters, digits, '-' or '_'", opath, o.Name)
			}
			if _, dup := optSeen[o.Name]; dup {
				return fmt.Errorf("%s.name: duplicate option %q", opath, o.Name)
			}
			optSeen[o.Name] = struct{}{}
			if n := len([]rune(strings.TrimSpace(o.Description))); n == 0 || n > 100 {
				return fmt.Errorf("%s.description: must be 1-100 characters", opath)
			}
			if _, ok := optionTypes[strings.ToLower(strings.TrimSpace(o.Type))]; !ok {
				return fmt.Errorf("%s.type: unknown option type %q", opath, o.Type)
			}
			// Discord rejects required options listed after optional ones.
			if o.Required && optional {
				return fmt.Errorf("%s: required options must come before optional ones", opath)
			}
			if !o.Required {
				optional = true
			}
		}
	}
	return nil
}

func validateOps(o OpsConfig) error {
	if _, err := ParseDuration("ops.read_timeout", o.ReadTimeout, 0); err != nil {
		return err
	}
	if _, err := ParseDuration("ops.idle_timeout", o.IdleTimeout, 0); err != nil {
		return err
	}
	if !o.Enabled {
		return nil
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(o.Addr))
	if err != nil {
		return fmt.Errorf("ops.addr: %w", err)
	}
	if !isLoopbackHost(host) && strings.TrimSpace(o.Token) == "" && !o.AllowInsecure {
		return fmt.Errorf("ops.addr %q is not loopback: set ops.token or ops.allow_insecure", o.Addr)
	}
	return nil
}

// ParseDuration reads a duration setting named by key. Empty and zero values
// yield def; negative values are rejected.
func ParseDuration(key, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: must not be negative, got %s", key, raw)
	case d == 0:
		return def, nil
	}
	return d, nil
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func validateStorage(sc *StorageConfig) error {
	if sc == nil {
		return nil
	}
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "none":
		return nil
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(sc.Path) == "" {
			return fmt.Errorf("storage.path is required when storage.driver=%s", driver)
		}
	default:
		return fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
	_, err := ParseDuration("storage.busy_timeout", sc.BusyTimeout, 0)
	return err
}
