package registry

import (
	"context"
	"errors"
	"time"

	"github.com/goodtune/puzzlegate/internal/bridge"
	"github.com/goodtune/puzzlegate/internal/clock"
)

// ErrUnknownDestination is returned for a destination that is not configured.
var ErrUnknownDestination = errors.New("registry: unknown destination")

// State is the lifecycle state of a destination timer.
type State int

const (
	// StateIdle means no timer exists for the destination.
	StateIdle State = iota
	StateActive
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Broadcaster delivers a message to a set of viewers.
type Broadcaster interface {
	Broadcast(viewerIDs []string, msg bridge.Message)
}

// Matcher maps a navigated URL to one of the configured destinations.
// An empty result means the URL is not monitored.
type Matcher interface {
	Match(ctx context.Context, url string, destinations []string) (string, error)
}

// Config configures a Registry.
type Config struct {
	Clock clock.Clock
	// QueueSize bounds the number of pending store writes.
	QueueSize int
	// WriteTimeout bounds a single store write.
	WriteTimeout time.Duration
}

// Navigation is the result of a viewer displaying a URL.
type Navigation struct {
	DestinationID string
	// Challenge is set when the destination requires a puzzle.
	Challenge *bridge.ShowChallenge
	Status    bridge.TimerStatus
}

type timer struct {
	state     State
	startedAt time.Time
	granted   int
	expiry    clock.Timer
	gen       uint64
}
