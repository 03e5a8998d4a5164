package systemd

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/coreos/go-systemd/v22/daemon"
)

// Listeners holds all systemd-activated listeners
type Listeners struct {
	Viewer    net.Listener
	Metrics   net.Listener
	Activated bool
}

// GetListeners retrieves systemd socket-activated file descriptors.
// Returns nil listeners if not running under socket activation.
func GetListeners() (*Listeners, error) {
	listeners := &Listeners{}

	fds := activation.Files(false) // false = don't unset env vars
	if len(fds) == 0 {
		return listeners, nil
	}
	listeners.Activated = true

	// Names come from FileDescriptorName= in puzzlegate.socket (systemd 227+)
	listenersMap, err := activation.ListenersWithNames()
	if err != nil {
		return nil, fmt.Errorf("failed to get systemd listeners: %w", err)
	}

	if lns, ok := listenersMap["viewer"]; ok && len(lns) > 0 {
		listeners.Viewer = lns[0]
	}

	if lns, ok := listenersMap["metrics"]; ok && len(lns) > 0 {
		listeners.Metrics = lns[0]
	}

	return listeners, nil
}

// NotifyReady sends READY=1 notification to systemd
func NotifyReady() error {
	return notify(daemon.SdNotifyReady)
}

// NotifyReloading sends RELOADING=1 while settings are re-read
func NotifyReloading() error {
	return notify(daemon.SdNotifyReloading)
}

// NotifyStopping sends STOPPING=1 notification to systemd
func NotifyStopping() error {
	return notify(daemon.SdNotifyStopping)
}

// NotifyWatchdog sends WATCHDOG=1 notification to systemd
func NotifyWatchdog() error {
	return notify(daemon.SdNotifyWatchdog)
}

// WatchdogInterval returns how often to ping the watchdog, or zero when the
// unit has no watchdog configured.
func WatchdogInterval() time.Duration {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return 0
	}
	return interval / 2
}

// IsSystemdService returns true if running as a systemd service
func IsSystemdService() bool {
	return os.Getenv("NOTIFY_SOCKET") != ""
}

func notify(state string) error {
	// sent is false when not running under systemd, which is not an error
	if _, err := daemon.SdNotify(false, state); err != nil {
		return fmt.Errorf("failed to send sd_notify %s: %w", state, err)
	}
	return nil
}
