package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
// Timers are never persisted; only daily session counts and settings survive a restart.
type Store interface {
	Close() error
	Sessions() SessionStore
	Settings() SettingsStore
}

// SessionStore manages per-destination daily session records.
type SessionStore interface {
	Get(ctx context.Context, destinationID string) (*SessionRecord, error)
	List(ctx context.Context) ([]SessionRecord, error)
	Upsert(ctx context.Context, record SessionRecord) error
	Delete(ctx context.Context, destinationID string) error
}

// SettingsStore manages the destination list and economy tunables.
type SettingsStore interface {
	// LoadDestinations returns the raw persisted destination list, or
	// ErrNotFound if none has been saved yet. The payload may contain
	// malformed entries and must be sanitized by the caller.
	LoadDestinations(ctx context.Context) ([]byte, error)
	SaveDestinations(ctx context.Context, raw []byte) error
	LoadEconomy(ctx context.Context) (*EconomyRecord, error)
	SaveEconomy(ctx context.Context, economy EconomyRecord) error

	// Subscribe delivers a signal every time settings are saved by any
	// process sharing the store. The channel closes when ctx is done.
	Subscribe(ctx context.Context) (<-chan struct{}, error)
}

// AttemptLog records finished puzzle attempts for later review.
type AttemptLog interface {
	Close() error
	AddAttempt(ctx context.Context, attempt AttemptRecord) error
	QueryAttempts(ctx context.Context, filter AttemptFilter) ([]AttemptRecord, error)
	DeleteAttemptsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// AttemptFilter defines criteria for querying attempt history.
type AttemptFilter struct {
	DestinationID string
	SolvedOnly    bool
	StartTime     *time.Time
	EndTime       *time.Time
	Limit         int
	Offset        int
}
