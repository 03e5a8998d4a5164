package storage

import (
	"time"
)

// DateLayout is the calendar date format used for session rollover.
const DateLayout = "2006-01-02"

// SessionRecord counts the sessions consumed today for one destination.
type SessionRecord struct {
	DestinationID string `json:"destination_id"`
	Count         int    `json:"count"`
	LastResetDate string `json:"last_reset_date"`
}

// EconomyRecord is the persisted form of the economy tunables.
type EconomyRecord struct {
	MinRating               int `json:"min_rating"`
	MaxRating               int `json:"max_rating"`
	TimeBonusSeconds        int `json:"time_bonus_seconds"`
	WrongMovePenaltySeconds int `json:"wrong_move_penalty_seconds"`
	HintPenaltySeconds      int `json:"hint_penalty_seconds"`
	SkipPenaltySeconds      int `json:"skip_penalty_seconds"`
}

// AttemptRecord is a finished (solved or abandoned) puzzle attempt.
type AttemptRecord struct {
	ID             string    `json:"id"`
	DestinationID  string    `json:"destination_id"`
	PuzzleID       string    `json:"puzzle_id"`
	Rating         int       `json:"rating"`
	Solved         bool      `json:"solved"`
	WrongMoves     int       `json:"wrong_moves"`
	Hints          int       `json:"hints"`
	Skips          int       `json:"skips"`
	GrantedSeconds int       `json:"granted_seconds"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at"`
}

// Duration is how long the attempt was open.
func (a AttemptRecord) Duration() time.Duration {
	return a.EndedAt.Sub(a.StartedAt)
}
