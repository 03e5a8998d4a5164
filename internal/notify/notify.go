// Package notify shows desktop notifications over the D-Bus session bus.
package notify

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"
)

const (
	busName    = "org.freedesktop.Notifications"
	objectPath = "/org/freedesktop/Notifications"
	method     = "org.freedesktop.Notifications.Notify"

	appName       = "puzzlegate"
	appIcon       = "dialog-information"
	expireTimeout = int32(10000)
)

// caller is the part of a dbus.BusObject the notifier uses.
type caller interface {
	Call(method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// Notifier sends one notification per timer expiry. A later notification for
// the same destination replaces the earlier one on screen.
type Notifier struct {
	conn   *dbus.Conn
	obj    caller
	logger zerolog.Logger

	mu       sync.Mutex
	replaces map[string]uint32
}

// New connects to the session bus.
func New(logger zerolog.Logger) (*Notifier, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	n := newNotifier(conn.Object(busName, objectPath), logger)
	n.conn = conn
	return n, nil
}

func newNotifier(obj caller, logger zerolog.Logger) *Notifier {
	return &Notifier{
		obj:      obj,
		logger:   logger.With().Str("component", "notify").Logger(),
		replaces: make(map[string]uint32),
	}
}

// Close releases the bus connection.
func (n *Notifier) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Close()
}

// TimeUp tells the user that access to a destination has run out.
func (n *Notifier) TimeUp(destinationID string) {
	summary := "Time is up"
	body := fmt.Sprintf("Your time on %s has run out. Solve a puzzle to continue.", destinationID)

	if err := n.send(destinationID, summary, body); err != nil {
		n.logger.Warn().Err(err).Str("destination", destinationID).Msg("Failed to show notification")
	}
}

func (n *Notifier) send(key, summary, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	call := n.obj.Call(method, 0,
		appName,
		n.replaces[key],
		appIcon,
		summary,
		body,
		[]string{},
		map[string]dbus.Variant{
			"urgency": dbus.MakeVariant(byte(1)),
		},
		expireTimeout,
	)
	if call.Err != nil {
		return fmt.Errorf("failed to send notification: %w", call.Err)
	}

	var id uint32
	if err := call.Store(&id); err != nil {
		return fmt.Errorf("failed to read notification id: %w", err)
	}
	n.replaces[key] = id
	return nil
}
