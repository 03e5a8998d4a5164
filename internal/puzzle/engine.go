// Package puzzle replays a known solution line against the moves a user submits.
package puzzle

import (
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/puzzlegate/internal/clock"
	"github.com/rs/zerolog"
)

// DefaultReplyDelay is the pause before the scripted opponent answers.
const DefaultReplyDelay = 300 * time.Millisecond

// Config configures an Engine.
type Config struct {
	ReplyDelay time.Duration
	Clock      clock.Clock

	// OnOpponentMove is called after a scripted reply is played.
	OnOpponentMove func(Move)
	// OnSolved is called exactly once per puzzle when the line is complete.
	OnSolved func()
}

// Engine is the move validation state machine for one attempt.
// Callbacks run without the engine lock held.
type Engine struct {
	mu     sync.Mutex
	rules  Rules
	cfg    Config
	logger zerolog.Logger

	puzzle    Puzzle
	solution  []Move
	index     int
	history   []Move
	redo      []Move
	phase     Phase
	solved    bool
	canonical string

	pending clock.Timer
	gen     uint64
}

// NewEngine returns an idle engine validating moves with rules.
func NewEngine(rules Rules, cfg Config, logger zerolog.Logger) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.ReplyDelay <= 0 {
		cfg.ReplyDelay = DefaultReplyDelay
	}

	return &Engine{
		rules:  rules,
		cfg:    cfg,
		logger: logger.With().Str("component", "puzzle").Logger(),
		phase:  PhaseIdle,
	}
}

// SetPuzzle loads the start position and plays the opponent's first move,
// leaving the engine waiting for the user at index 1.
func (e *Engine) SetPuzzle(p Puzzle) error {
	if len(p.Solution) < 2 {
		return fmt.Errorf("puzzle %s has %d solution moves, need at least 2", p.ID, len(p.Solution))
	}

	solution := make([]Move, len(p.Solution))
	for i, s := range p.Solution {
		m, err := ParseUCI(s)
		if err != nil {
			return fmt.Errorf("failed to parse solution move %d of puzzle %s: %w", i, p.ID, err)
		}
		solution[i] = m
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.rules.Load(p.StartFEN); err != nil {
		e.restoreLocked()
		return fmt.Errorf("failed to load puzzle %s: %w", p.ID, err)
	}
	if err := e.rules.Apply(solution[0]); err != nil {
		e.restoreLocked()
		return fmt.Errorf("failed to play opening move of puzzle %s: %w", p.ID, err)
	}

	e.cancelPendingLocked()
	e.puzzle = p
	e.solution = solution
	e.history = []Move{solution[0]}
	e.redo = nil
	e.index = 1
	e.solved = false
	e.phase = PhaseAwaitingUserMove
	e.canonical = e.rules.FEN()

	return nil
}

// SubmitUserMove evaluates a user move against the solution line.
func (e *Engine) SubmitUserMove(m Move) Outcome {
	e.mu.Lock()

	if e.solved || e.phase != PhaseAwaitingUserMove {
		e.mu.Unlock()
		return OutcomeRejected
	}

	if len(e.history) != e.index || e.rules.FEN() != e.canonical {
		e.logger.Warn().
			Str("puzzle", e.puzzle.ID).
			Int("history", len(e.history)).
			Int("index", e.index).
			Msg("Position drifted from solution line, resynchronizing")
		e.resyncLocked()
		e.mu.Unlock()
		return OutcomeSnapBack
	}

	if !e.rules.CanMove(m.From) {
		e.mu.Unlock()
		return OutcomeRejected
	}

	expected := e.solution[e.index]
	if m.Promotion == "" {
		m.Promotion = "q"
		if m.SameSquares(expected) && expected.Promotion != "" {
			m.Promotion = expected.Promotion
		}
	}

	if err := e.rules.Apply(m); err != nil {
		e.mu.Unlock()
		return OutcomeSnapBack
	}

	if !m.SameSquares(expected) || (expected.Promotion != "" && m.Promotion != expected.Promotion) {
		if err := e.rules.Undo(); err != nil {
			e.logger.Error().Err(err).Str("puzzle", e.puzzle.ID).Msg("Failed to revert wrong move")
			e.resyncLocked()
		}
		e.mu.Unlock()
		return OutcomeWrongMove
	}

	e.redo = nil
	finished := e.advanceLocked(expected)
	if finished {
		e.mu.Unlock()
		e.emitSolved()
		return OutcomeSolved
	}

	e.scheduleReplyLocked()
	e.mu.Unlock()
	return OutcomeAccepted
}

// Undo takes back the last half-move and cancels any pending reply. It is a
// no-op with an empty history or once the puzzle is solved.
func (e *Engine) Undo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.solved || len(e.history) == 0 {
		return false
	}

	e.cancelPendingLocked()

	if err := e.rules.Undo(); err != nil {
		e.logger.Error().Err(err).Str("puzzle", e.puzzle.ID).Msg("Failed to undo move")
		return false
	}

	last := e.history[len(e.history)-1]
	e.history = e.history[:len(e.history)-1]
	e.redo = append(e.redo, last)
	e.index--
	e.canonical = e.rules.FEN()
	e.phase = e.turnPhaseLocked()

	return true
}

// Redo replays the most recently undone half-move. The redo stack is never
// cleared here. When redo leaves the opponent to move with nothing further to
// redo, the scripted reply is scheduled.
func (e *Engine) Redo() bool {
	e.mu.Lock()

	if e.solved || len(e.redo) == 0 {
		e.mu.Unlock()
		return false
	}

	m := e.redo[len(e.redo)-1]
	if err := e.rules.Apply(m); err != nil {
		e.logger.Error().Err(err).Str("puzzle", e.puzzle.ID).Str("move", m.UCI()).Msg("Failed to redo move")
		e.mu.Unlock()
		return false
	}
	e.redo = e.redo[:len(e.redo)-1]

	finished := e.advanceLocked(m)
	if finished {
		e.mu.Unlock()
		e.emitSolved()
		return true
	}

	if e.phase == PhaseAwaitingOpponentReply && len(e.redo) == 0 {
		e.scheduleReplyLocked()
	}
	e.mu.Unlock()
	return true
}

// Hint returns the origin square of the next expected user move.
func (e *Engine) Hint() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.solved || e.phase != PhaseAwaitingUserMove || e.index >= len(e.solution) {
		return "", false
	}
	return e.solution[e.index].From, true
}

// Snapshot returns the current engine state.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	history := make([]string, len(e.history))
	for i, m := range e.history {
		history[i] = m.UCI()
	}

	return State{
		Phase:     e.phase,
		FEN:       e.canonical,
		Index:     e.index,
		History:   history,
		RedoDepth: len(e.redo),
		Solved:    e.solved,
	}
}

// Puzzle returns the loaded puzzle.
func (e *Engine) Puzzle() Puzzle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.puzzle
}

// Close cancels any pending scripted reply.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelPendingLocked()
}

// advanceLocked records an applied move and reports whether the line is complete.
func (e *Engine) advanceLocked(m Move) bool {
	e.history = append(e.history, m)
	e.index++
	e.canonical = e.rules.FEN()

	if e.index >= len(e.solution) {
		e.phase = PhaseSolved
		if !e.solved {
			e.solved = true
			return true
		}
		return false
	}

	e.phase = e.turnPhaseLocked()
	return false
}

// turnPhaseLocked derives whose turn it is from the index. Even indexes are
// opponent moves.
func (e *Engine) turnPhaseLocked() Phase {
	if e.index%2 == 0 {
		return PhaseAwaitingOpponentReply
	}
	return PhaseAwaitingUserMove
}

func (e *Engine) scheduleReplyLocked() {
	e.cancelPendingLocked()
	e.phase = PhaseAwaitingOpponentReply

	gen := e.gen
	e.pending = e.cfg.Clock.AfterFunc(e.cfg.ReplyDelay, func() {
		e.playReply(gen)
	})
}

func (e *Engine) cancelPendingLocked() {
	e.gen++
	if e.pending != nil {
		e.pending.Stop()
		e.pending = nil
	}
}

func (e *Engine) playReply(gen uint64) {
	e.mu.Lock()

	if gen != e.gen || e.solved || e.index >= len(e.solution) {
		e.mu.Unlock()
		return
	}
	e.pending = nil

	m := e.solution[e.index]
	if err := e.rules.Apply(m); err != nil {
		e.logger.Error().Err(err).Str("puzzle", e.puzzle.ID).Str("move", m.UCI()).Msg("Scripted reply rejected by rules")
		e.mu.Unlock()
		return
	}
	e.redo = nil
	finished := e.advanceLocked(m)
	e.mu.Unlock()

	if finished {
		e.emitSolved()
	}
	if cb := e.cfg.OnOpponentMove; cb != nil {
		cb(m)
	}
}

// restoreLocked puts the board back on the current puzzle after a failed load.
func (e *Engine) restoreLocked() {
	if e.phase == PhaseIdle {
		return
	}
	e.resyncLocked()
}

func (e *Engine) resyncLocked() {
	if err := e.rules.Load(e.puzzle.StartFEN); err != nil {
		e.logger.Error().Err(err).Str("puzzle", e.puzzle.ID).Msg("Failed to reload start position")
		return
	}
	for _, m := range e.history[:min(e.index, len(e.history))] {
		if err := e.rules.Apply(m); err != nil {
			e.logger.Error().Err(err).Str("move", m.UCI()).Msg("Failed to replay history")
			return
		}
	}
	e.history = e.history[:min(e.index, len(e.history))]
	e.index = len(e.history)
	e.canonical = e.rules.FEN()
}

func (e *Engine) emitSolved() {
	e.logger.Debug().Str("puzzle", e.puzzle.ID).Msg("Puzzle solved")
	if cb := e.cfg.OnSolved; cb != nil {
		cb()
	}
}
