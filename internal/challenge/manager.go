// Package challenge runs puzzle attempts: it pairs a move validation engine
// with a time ledger and tracks attempts by ID until they are resolved.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/puzzlegate/internal/clock"
	"github.com/goodtune/puzzlegate/internal/difficulty"
	"github.com/goodtune/puzzlegate/internal/ledger"
	"github.com/goodtune/puzzlegate/internal/metrics"
	"github.com/goodtune/puzzlegate/internal/puzzle"
	"github.com/goodtune/puzzlegate/internal/settings"
	"github.com/goodtune/puzzlegate/internal/storage"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

var (
	// ErrUnknownAttempt is returned for an attempt ID that is not in progress.
	ErrUnknownAttempt = errors.New("challenge: unknown attempt")
	// ErrAttemptSolved is returned when skipping a puzzle that is already solved.
	ErrAttemptSolved = errors.New("challenge: attempt already solved")
	// ErrNotSolved is returned when resolving an attempt before it is solved.
	ErrNotSolved = errors.New("challenge: attempt not solved")
)

// Supplier returns a puzzle close to a rating.
type Supplier interface {
	Fetch(ctx context.Context, rating int) (puzzle.Puzzle, error)
}

// RulesFactory creates an empty rules engine for a new attempt.
type RulesFactory func() puzzle.Rules

// Config configures a Manager.
type Config struct {
	ReplyDelay time.Duration
	// AttemptTimeout ends an unsolved attempt. Zero means no limit.
	AttemptTimeout time.Duration
	Clock          clock.Clock
}

// View is what a viewer needs to render an attempt.
type View struct {
	AttemptID     string       `json:"attemptId"`
	DestinationID string       `json:"destinationId"`
	PuzzleID      string       `json:"puzzleId"`
	Rating        int          `json:"rating"`
	Difficulty    string       `json:"difficulty"`
	Themes        []string     `json:"themes,omitempty"`
	FEN           string       `json:"fen"`
	Phase         string       `json:"phase"`
	Outcome       string       `json:"outcome,omitempty"`
	LastMove      string       `json:"lastMove,omitempty"`
	HintSquare    string       `json:"hintSquare,omitempty"`
	LedgerSeconds int          `json:"ledgerSeconds"`
	Stats         ledger.Stats `json:"stats"`
	MoveIndex     int          `json:"moveIndex"`
	RedoDepth     int          `json:"redoDepth"`
	Solved        bool         `json:"solved"`
	TimedOut      bool         `json:"timedOut,omitempty"`
}

type attempt struct {
	id          string
	viewerID    string
	destination string
	rating      int
	startedAt   time.Time
	engine      *puzzle.Engine
	ledger      *ledger.Ledger
	deadline    clock.Timer
}

// Manager owns every attempt in progress.
type Manager struct {
	mu       sync.Mutex
	supplier Supplier
	newRules RulesFactory
	cfg      Config
	logger   zerolog.Logger
	attempts map[string]*attempt
	history  storage.AttemptLog
	onUpdate func(viewerID string, view View)
}

// NewManager creates an attempt manager.
func NewManager(supplier Supplier, newRules RulesFactory, cfg Config, logger zerolog.Logger) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}

	return &Manager{
		supplier: supplier,
		newRules: newRules,
		cfg:      cfg,
		logger:   logger.With().Str("component", "challenge").Logger(),
		attempts: make(map[string]*attempt),
	}
}

// SetHistory records finished attempts to log.
func (m *Manager) SetHistory(log storage.AttemptLog) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = log
}

// OnUpdate registers fn to receive views changed outside a direct request,
// such as after a scripted opponent reply.
func (m *Manager) OnUpdate(fn func(viewerID string, view View)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = fn
}

// Start fetches a puzzle near rating and opens an attempt for viewerID.
// Any earlier attempt of the same viewer is abandoned.
func (m *Manager) Start(ctx context.Context, viewerID, destinationID string, rating int, eco settings.Economy) (View, error) {
	p, err := m.supplier.Fetch(ctx, rating)
	if err != nil {
		return View{}, fmt.Errorf("failed to fetch puzzle: %w", err)
	}

	a := &attempt{
		id:          ulid.Make().String(),
		viewerID:    viewerID,
		destination: destinationID,
		rating:      rating,
		startedAt:   m.cfg.Clock.Now(),
		ledger:      ledger.New(eco),
	}
	a.engine = puzzle.NewEngine(m.newRules(), puzzle.Config{
		ReplyDelay: m.cfg.ReplyDelay,
		Clock:      m.cfg.Clock,
		OnSolved: func() {
			total := a.ledger.Solved()
			m.logger.Info().
				Str("attempt", a.id).
				Str("destination", a.destination).
				Int("ledger_seconds", total).
				Msg("Puzzle solved")
		},
		OnOpponentMove: func(mv puzzle.Move) {
			m.push(a, mv.UCI())
		},
	}, m.logger)

	if err := a.engine.SetPuzzle(p); err != nil {
		return View{}, fmt.Errorf("failed to start puzzle %s: %w", p.ID, err)
	}

	m.AbandonViewer(ctx, viewerID)

	m.mu.Lock()
	m.attempts[a.id] = a
	if m.cfg.AttemptTimeout > 0 {
		a.deadline = m.cfg.Clock.AfterFunc(m.cfg.AttemptTimeout, func() {
			m.timeout(a)
		})
	}
	m.mu.Unlock()
	metrics.AttemptsActive.Inc()

	m.logger.Debug().
		Str("attempt", a.id).
		Str("viewer", viewerID).
		Str("destination", destinationID).
		Str("puzzle", p.ID).
		Int("target_rating", rating).
		Int("puzzle_rating", p.Rating).
		Msg("Attempt started")

	return m.view(a, "", ""), nil
}

// Move submits a user move.
func (m *Manager) Move(id string, mv puzzle.Move) (View, error) {
	a, err := m.get(id)
	if err != nil {
		return View{}, err
	}

	outcome := a.engine.SubmitUserMove(mv)
	metrics.MoveOutcomes.WithLabelValues(outcome.String()).Inc()

	if outcome == puzzle.OutcomeWrongMove {
		a.ledger.WrongMove()
	}

	v := m.view(a, "", "")
	v.Outcome = outcome.String()
	return v, nil
}

// Hint reveals the origin square of the next move and charges the hint penalty.
func (m *Manager) Hint(id string) (View, error) {
	a, err := m.get(id)
	if err != nil {
		return View{}, err
	}

	sq, ok := a.engine.Hint()
	if ok {
		a.ledger.Hint()
	}
	return m.view(a, sq, ""), nil
}

// Undo takes back one half-move.
func (m *Manager) Undo(id string) (View, error) {
	a, err := m.get(id)
	if err != nil {
		return View{}, err
	}
	a.engine.Undo()
	return m.view(a, "", ""), nil
}

// Redo replays one undone half-move.
func (m *Manager) Redo(id string) (View, error) {
	a, err := m.get(id)
	if err != nil {
		return View{}, err
	}
	a.engine.Redo()
	return m.view(a, "", ""), nil
}

// Skip charges the skip penalty and replaces the puzzle with another at the
// same target rating. The ledger carries over.
func (m *Manager) Skip(ctx context.Context, id string) (View, error) {
	a, err := m.get(id)
	if err != nil {
		return View{}, err
	}
	if a.engine.Snapshot().Solved {
		return View{}, ErrAttemptSolved
	}

	p, err := m.supplier.Fetch(ctx, a.rating)
	if err != nil {
		return View{}, fmt.Errorf("failed to fetch puzzle: %w", err)
	}

	if err := a.engine.SetPuzzle(p); err != nil {
		return View{}, fmt.Errorf("failed to start puzzle %s: %w", p.ID, err)
	}
	a.ledger.Skip()

	m.logger.Debug().Str("attempt", id).Str("puzzle", p.ID).Msg("Puzzle skipped")
	return m.view(a, "", ""), nil
}

// Resolve closes a solved attempt and returns its destination and the
// seconds it earned.
func (m *Manager) Resolve(ctx context.Context, id string) (string, int, error) {
	a, err := m.get(id)
	if err != nil {
		return "", 0, err
	}
	if !a.engine.Snapshot().Solved {
		return "", 0, ErrNotSolved
	}

	m.finish(ctx, a, true)
	return a.destination, a.ledger.Total(), nil
}

// Abandon discards an attempt without granting time.
func (m *Manager) Abandon(ctx context.Context, id string) error {
	a, err := m.get(id)
	if err != nil {
		return err
	}
	m.finish(ctx, a, false)
	return nil
}

// AbandonViewer discards every attempt opened by viewerID.
func (m *Manager) AbandonViewer(ctx context.Context, viewerID string) {
	m.abandonWhere(ctx, func(a *attempt) bool { return a.viewerID == viewerID })
}

// AbandonAll discards every open attempt. Used on shutdown.
func (m *Manager) AbandonAll(ctx context.Context) {
	m.abandonWhere(ctx, func(*attempt) bool { return true })
}

func (m *Manager) abandonWhere(ctx context.Context, match func(*attempt) bool) {
	m.mu.Lock()
	var owned []*attempt
	for _, a := range m.attempts {
		if match(a) {
			owned = append(owned, a)
		}
	}
	m.mu.Unlock()

	for _, a := range owned {
		m.finish(ctx, a, false)
	}
}

// Get returns the current view of an attempt.
func (m *Manager) Get(id string) (View, error) {
	a, err := m.get(id)
	if err != nil {
		return View{}, err
	}
	return m.view(a, "", ""), nil
}

// Active returns the number of attempts in progress.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.attempts)
}

func (m *Manager) get(id string) (*attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.attempts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAttempt, id)
	}
	return a, nil
}

// finish removes the attempt and records it. Only the first call for an
// attempt has any effect.
func (m *Manager) finish(ctx context.Context, a *attempt, solved bool) {
	m.mu.Lock()
	if _, ok := m.attempts[a.id]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.attempts, a.id)
	if a.deadline != nil {
		a.deadline.Stop()
		a.deadline = nil
	}
	history := m.history
	m.mu.Unlock()

	a.engine.Close()
	metrics.AttemptsActive.Dec()

	result := "abandoned"
	granted := 0
	if solved {
		result = "solved"
		granted = a.ledger.Total()
	}
	metrics.AttemptsFinished.WithLabelValues(result).Inc()

	if history == nil {
		return
	}

	stats := a.ledger.Stats()
	record := storage.AttemptRecord{
		ID:             a.id,
		DestinationID:  a.destination,
		PuzzleID:       a.engine.Puzzle().ID,
		Rating:         a.engine.Puzzle().Rating,
		Solved:         solved,
		WrongMoves:     stats.WrongMoves,
		Hints:          stats.Hints,
		Skips:          stats.Skips,
		GrantedSeconds: granted,
		StartedAt:      a.startedAt,
		EndedAt:        m.cfg.Clock.Now(),
	}
	if err := history.AddAttempt(ctx, record); err != nil {
		metrics.StoreWriteFailures.WithLabelValues("attempt").Inc()
		m.logger.Warn().Err(err).Str("attempt", a.id).Msg("Failed to record attempt history")
	}
}

// timeout abandons an attempt that ran past its time limit. A solved attempt
// is left for the viewer to resolve.
func (m *Manager) timeout(a *attempt) {
	if a.engine.Snapshot().Solved {
		return
	}

	m.mu.Lock()
	fn := m.onUpdate
	_, live := m.attempts[a.id]
	m.mu.Unlock()
	if !live {
		return
	}

	v := m.view(a, "", "")
	m.finish(context.Background(), a, false)

	m.logger.Info().
		Str("attempt", a.id).
		Str("destination", a.destination).
		Dur("limit", m.cfg.AttemptTimeout).
		Msg("Attempt timed out")

	if fn != nil {
		v.TimedOut = true
		fn(a.viewerID, v)
	}
}

func (m *Manager) push(a *attempt, lastMove string) {
	m.mu.Lock()
	fn := m.onUpdate
	_, live := m.attempts[a.id]
	m.mu.Unlock()

	if fn == nil || !live {
		return
	}
	fn(a.viewerID, m.view(a, "", lastMove))
}

func (m *Manager) view(a *attempt, hint, lastMove string) View {
	s := a.engine.Snapshot()
	p := a.engine.Puzzle()

	return View{
		AttemptID:     a.id,
		DestinationID: a.destination,
		PuzzleID:      p.ID,
		Rating:        p.Rating,
		Difficulty:    string(difficulty.LabelFor(p.Rating)),
		Themes:        p.Themes,
		FEN:           s.FEN,
		Phase:         s.Phase.String(),
		LastMove:      lastMove,
		HintSquare:    hint,
		LedgerSeconds: a.ledger.Total(),
		Stats:         a.ledger.Stats(),
		MoveIndex:     s.Index,
		RedoDepth:     s.RedoDepth,
		Solved:        s.Solved,
	}
}
