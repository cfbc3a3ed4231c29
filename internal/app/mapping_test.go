package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discordrelay/internal/config"
	"discordrelay/internal/runtime/supervisor"
	kit "discordrelay/internal/transport"
)

func baseConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Discord.Token = "tok"
	cfg.Relay.Channels = []string{" c1 ", "c2", "c1"}
	cfg.Relay.AckText = "ok"
	cfg.Relay.RejectText = "no"
	return cfg
}

func TestMapRelaySettings(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	s := mapRelaySettings(cfg)
	assert.Equal(t, []string{"c1", "c2"}, s.Channels)
	assert.True(t, s.AckCommands)
	assert.Equal(t, "ok", s.AckText)
	assert.Equal(t, "no", s.RejectText)

	off := false
	cfg.Relay.AckCommands = &off
	assert.False(t, mapRelaySettings(cfg).AckCommands)
}

func TestMapForwarderSettings(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	cfg.Webhook.URL = "  https://n8n.example/webhook/x "
	cfg.Webhook.Timeout = "7s"

	s, err := mapForwarderSettings(cfg)
	require.NoError(t, err)
	assert.Equal(t, "https://n8n.example/webhook/x", s.URL)
	assert.Equal(t, 7*time.Second, s.Timeout)
	assert.Equal(t, "discord-relay/"+Version, s.UserAgent)

	cfg.Webhook.Timeout = ""
	s, err = mapForwarderSettings(cfg)
	require.NoError(t, err)
	assert.Zero(t, s.Timeout)

	cfg.Webhook.Timeout = "later"
	_, err = mapForwarderSettings(cfg)
	assert.Error(t, err)
}

func TestMapOpsConfig(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	cfg.Ops = config.OpsConfig{Enabled: true, Addr: " 127.0.0.1:9191 ", Token: " t ", Pprof: true, IdleTimeout: "2m"}

	oc, err := mapOpsConfig(cfg)
	require.NoError(t, err)
	assert.True(t, oc.Enabled)
	assert.Equal(t, "127.0.0.1:9191", oc.Addr)
	assert.Equal(t, "t", oc.Token)
	assert.True(t, oc.Pprof)
	assert.Equal(t, 10*time.Second, oc.ReadTimeout)
	assert.Equal(t, 2*time.Minute, oc.IdleTimeout)

	cfg.Ops.ReadTimeout = "-1s"
	_, err = mapOpsConfig(cfg)
	assert.Error(t, err)
}

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		sc      *config.StorageConfig
		enabled bool
		driver  string
		busy    time.Duration
		wantErr bool
	}{
		{name: "absent"},
		{name: "none", sc: &config.StorageConfig{Driver: "none"}},
		{name: "file", sc: &config.StorageConfig{Driver: "FILE", Path: "./data/relay"}, enabled: true, driver: "file"},
		{name: "sqlite default busy", sc: &config.StorageConfig{Driver: "sqlite", Path: "./relay.db"}, enabled: true, driver: "sqlite", busy: time.Second},
		{name: "sqlite busy", sc: &config.StorageConfig{Driver: "sqlite3", Path: "./relay.db", BusyTimeout: "250ms"}, enabled: true, driver: "sqlite3", busy: 250 * time.Millisecond},
		{name: "sqlite without path", sc: &config.StorageConfig{Driver: "sqlite"}, wantErr: true},
		{name: "unknown", sc: &config.StorageConfig{Driver: "redis", Path: "x"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := baseConfig()
			cfg.Storage = tt.sc
			sc, enabled, err := mapStorageConfig(cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.enabled, enabled)
			assert.Equal(t, tt.driver, sc.Driver)
			assert.Equal(t, tt.busy, sc.BusyTimeout)
		})
	}
}

func TestCommandSpecs(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	assert.Empty(t, commandSpecs(cfg))

	cfg.Discord.Commands = []config.CommandConfig{{
		Name: "report", Description: " Send a report ",
		Options: []config.CommandOptionConfig{{Name: "text", Description: "What", Type: " String ", Required: true}},
	}}
	assert.Equal(t, []kit.CommandSpec{{
		Name: "report", Description: "Send a report",
		Options: []kit.CommandOptionSpec{{Name: "text", Description: "What", Type: "string", Required: true}},
	}}, commandSpecs(cfg))
}

func TestSupervisorRegistrySnapshots(t *testing.T) {
	t.Parallel()
	r := NewSupervisorRegistry()

	ok := supervisor.NewSupervisor(context.Background())
	bad := supervisor.NewSupervisor(context.Background())
	bad.Go("relay.forward", func(context.Context) error { return errors.New("boom") })
	require.Error(t, bad.Wait(context.Background()))

	r.Set("app", ok)
	r.Set("relay.tasks", bad)
	r.Set("ops", supervisor.NewSupervisor(context.Background()))
	r.Set("ops", nil)

	snaps, failing := r.Snapshots()
	assert.Len(t, snaps, 2)
	assert.Equal(t, []string{"relay.tasks"}, failing)
	assert.Contains(t, snaps["relay.tasks"].FirstError, "boom")

	var nilReg *SupervisorRegistry
	nilReg.Set("x", ok)
	snaps, failing = nilReg.Snapshots()
	assert.Nil(t, snaps)
	assert.Nil(t, failing)
}
