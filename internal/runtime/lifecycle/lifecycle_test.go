package lifecycle

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "discordrelay/pkg/logx"
)

// listenNotify points NOTIFY_SOCKET at a fresh datagram socket.
func listenNotify(t *testing.T) *net.UnixConn {
	t.Helper()
	dir, err := os.MkdirTemp("", "sd")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	path := filepath.Join(dir, "notify.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	t.Setenv("NOTIFY_SOCKET", path)
	return conn
}

func readState(t *testing.T, conn *net.UnixConn) string {
	t.Helper()
	buf := make([]byte, 256)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func TestNotifyOutsideSystemdIsNoop(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	NotifyReady(logx.Nop())
	NotifyStopping(logx.Nop())

	t.Setenv("WATCHDOG_USEC", "")
	done := make(chan struct{})
	go func() {
		RunWatchdog(context.Background(), logx.Nop(), nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchdog loop should return when WatchdogSec is unset")
	}
}

func TestNotifyStates(t *testing.T) {
	conn := listenNotify(t)

	NotifyReady(logx.Nop())
	assert.Equal(t, "READY=1", readState(t, conn))

	NotifyStatus(logx.Nop(), "relaying 2 channel(s)")
	assert.Equal(t, "STATUS=relaying 2 channel(s)", readState(t, conn))

	NotifyStopping(logx.Nop())
	assert.Equal(t, "STOPPING=1", readState(t, conn))
}

func TestRunWatchdogSkipsWhileUnhealthy(t *testing.T) {
	conn := listenNotify(t)
	t.Setenv("WATCHDOG_USEC", "100000")
	t.Setenv("WATCHDOG_PID", "")

	var healthy atomic.Bool
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunWatchdog(ctx, logx.Nop(), healthy.Load)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Unhealthy: nothing is sent for a few ticks.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, err := conn.Read(make([]byte, 64))
	var nerr net.Error
	require.ErrorAs(t, err, &nerr)
	assert.True(t, nerr.Timeout())

	healthy.Store(true)
	assert.True(t, strings.HasPrefix(readState(t, conn), "WATCHDOG=1"))
}
