// Package ledger accumulates the browsing time earned during one puzzle attempt.
package ledger

import (
	"sync"

	"github.com/goodtune/puzzlegate/internal/settings"
)

// Stats counts the events charged to a ledger.
type Stats struct {
	Solved     int `json:"solved"`
	WrongMoves int `json:"wrongMoves"`
	Hints      int `json:"hints"`
	Skips      int `json:"skips"`
}

// Ledger is a non-negative running total of seconds.
type Ledger struct {
	mu      sync.Mutex
	economy settings.Economy
	total   int
	stats   Stats
}

// New returns an empty ledger priced with eco.
func New(eco settings.Economy) *Ledger {
	return &Ledger{economy: eco}
}

// Total returns the accumulated seconds.
func (l *Ledger) Total() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Stats returns the event counts so far.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// ApplyBonus adds s seconds and returns the new total. A negative bonus is
// charged as a penalty.
func (l *Ledger) ApplyBonus(s int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.applyLocked(s)
}

// ApplyPenalty subtracts s seconds, never going below zero, and returns the
// new total. Negative penalties are ignored.
func (l *Ledger) ApplyPenalty(s int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s < 0 {
		s = 0
	}
	return l.applyLocked(-s)
}

// Solved credits the time bonus for a solved puzzle.
func (l *Ledger) Solved() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.Solved++
	return l.applyLocked(l.economy.TimeBonusSeconds)
}

// WrongMove charges the wrong move penalty.
func (l *Ledger) WrongMove() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.WrongMoves++
	return l.applyLocked(-nonNegative(l.economy.WrongMovePenaltySeconds))
}

// Hint charges the hint penalty. Every request is charged.
func (l *Ledger) Hint() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.Hints++
	return l.applyLocked(-nonNegative(l.economy.HintPenaltySeconds))
}

// Skip charges the skip penalty.
func (l *Ledger) Skip() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stats.Skips++
	return l.applyLocked(-nonNegative(l.economy.SkipPenaltySeconds))
}

func (l *Ledger) applyLocked(delta int) int {
	l.total += delta
	if l.total < 0 {
		l.total = 0
	}
	return l.total
}

func nonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
