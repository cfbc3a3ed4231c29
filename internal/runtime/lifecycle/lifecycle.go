// Package lifecycle holds process stop reasons and the systemd notify hooks.
package lifecycle

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "discordrelay/pkg/logx"
)

type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

// NotifyReady tells systemd (Type=notify units) that startup finished.
// Outside systemd it is a no-op.
func NotifyReady(log logx.Logger) {
	notify(log, daemon.SdNotifyReady)
}

// NotifyStopping tells systemd that shutdown has begun.
func NotifyStopping(log logx.Logger) {
	notify(log, daemon.SdNotifyStopping)
}

// NotifyStatus publishes a free-form status line shown by systemctl status.
func NotifyStatus(log logx.Logger, status string) {
	notify(log, "STATUS="+status)
}

func notify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("systemd notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("systemd notified", logx.String("state", state))
	}
}

// RunWatchdog pings the systemd watchdog at half the configured interval until
// ctx is done. It returns immediately when WatchdogSec is not set.
func RunWatchdog(ctx context.Context, log logx.Logger, healthy func() bool) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.Warn("systemd watchdog config invalid", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	tick := time.NewTicker(interval / 2)
	defer tick.Stop()
	log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if healthy != nil && !healthy() {
				continue
			}
			notify(log, daemon.SdNotifyWatchdog)
		}
	}
}
