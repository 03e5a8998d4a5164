package challenge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/puzzlegate/internal/clock"
	"github.com/goodtune/puzzlegate/internal/corpus"
	"github.com/goodtune/puzzlegate/internal/puzzle"
	"github.com/goodtune/puzzlegate/internal/rules"
	"github.com/goodtune/puzzlegate/internal/settings"
	"github.com/goodtune/puzzlegate/internal/storage"
	"github.com/rs/zerolog"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

type fakeSupplier struct {
	puzzles []puzzle.Puzzle
	next    int
	ratings []int
}

func (s *fakeSupplier) Fetch(ctx context.Context, rating int) (puzzle.Puzzle, error) {
	s.ratings = append(s.ratings, rating)
	if s.next >= len(s.puzzles) {
		return puzzle.Puzzle{}, corpus.ErrNoPuzzle
	}
	p := s.puzzles[s.next]
	s.next++
	return p, nil
}

type fakeHistory struct {
	mu      sync.Mutex
	records []storage.AttemptRecord
}

func (h *fakeHistory) Close() error { return nil }

func (h *fakeHistory) AddAttempt(ctx context.Context, r storage.AttemptRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	return nil
}

func (h *fakeHistory) QueryAttempts(ctx context.Context, f storage.AttemptFilter) ([]storage.AttemptRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]storage.AttemptRecord(nil), h.records...), nil
}

func (h *fakeHistory) DeleteAttemptsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return 0, nil
}

func italian(id string) puzzle.Puzzle {
	return puzzle.Puzzle{
		ID:       id,
		StartFEN: startFEN,
		Solution: []string{"e2e4", "e7e5", "g1f3", "b8c6"},
		Rating:   1200,
	}
}

func sicilian(id string) puzzle.Puzzle {
	return puzzle.Puzzle{
		ID:       id,
		StartFEN: startFEN,
		Solution: []string{"e2e4", "c7c5"},
		Rating:   1250,
	}
}

type harness struct {
	mgr      *Manager
	clock    *clock.Fake
	supplier *fakeSupplier
	history  *fakeHistory
	updates  []View
}

func newHarness(t *testing.T, puzzles ...puzzle.Puzzle) *harness {
	t.Helper()

	h := &harness{
		clock:    clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		supplier: &fakeSupplier{puzzles: puzzles},
		history:  &fakeHistory{},
	}
	h.mgr = NewManager(h.supplier, rules.Factory, Config{
		ReplyDelay: 300 * time.Millisecond,
		Clock:      h.clock,
	}, zerolog.Nop())
	h.mgr.SetHistory(h.history)
	h.mgr.OnUpdate(func(viewerID string, v View) {
		h.updates = append(h.updates, v)
	})
	return h
}

func mustMove(t *testing.T, s string) puzzle.Move {
	t.Helper()
	m, err := puzzle.ParseUCI(s)
	if err != nil {
		t.Fatalf("ParseUCI(%q) failed: %v", s, err)
	}
	return m
}

func TestSolveAndResolve(t *testing.T) {
	h := newHarness(t, italian("p1"))
	ctx := context.Background()

	v, err := h.mgr.Start(ctx, "viewer-1", "youtube.com", 1200, settings.DefaultEconomy())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if v.Phase != "awaitingUserMove" || v.MoveIndex != 1 {
		t.Fatalf("unexpected start view: %+v", v)
	}
	if v.Difficulty != "Easy" {
		t.Errorf("expected Easy, got %s", v.Difficulty)
	}

	v, err = h.mgr.Move(v.AttemptID, mustMove(t, "e7e5"))
	if err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	if v.Outcome != "accepted" {
		t.Fatalf("expected accepted, got %s", v.Outcome)
	}

	h.clock.Advance(300 * time.Millisecond)
	if len(h.updates) != 1 || h.updates[0].LastMove != "g1f3" {
		t.Fatalf("expected opponent reply update, got %+v", h.updates)
	}

	v, err = h.mgr.Move(v.AttemptID, mustMove(t, "b8c6"))
	if err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	if v.Outcome != "solved" || !v.Solved || v.LedgerSeconds != 2 {
		t.Fatalf("unexpected solved view: %+v", v)
	}

	dest, granted, err := h.mgr.Resolve(ctx, v.AttemptID)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if dest != "youtube.com" || granted != 2 {
		t.Errorf("expected youtube.com/2, got %s/%d", dest, granted)
	}
	if h.mgr.Active() != 0 {
		t.Errorf("expected no active attempts, got %d", h.mgr.Active())
	}

	if len(h.history.records) != 1 {
		t.Fatalf("expected 1 history record, got %d", len(h.history.records))
	}
	rec := h.history.records[0]
	if !rec.Solved || rec.GrantedSeconds != 2 || rec.PuzzleID != "p1" {
		t.Errorf("unexpected history record: %+v", rec)
	}

	if _, _, err := h.mgr.Resolve(ctx, v.AttemptID); !errors.Is(err, ErrUnknownAttempt) {
		t.Errorf("expected ErrUnknownAttempt on second resolve, got %v", err)
	}
}

func TestResolveUnsolved(t *testing.T) {
	h := newHarness(t, italian("p1"))

	v, err := h.mgr.Start(context.Background(), "viewer-1", "youtube.com", 1200, settings.DefaultEconomy())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, _, err := h.mgr.Resolve(context.Background(), v.AttemptID); !errors.Is(err, ErrNotSolved) {
		t.Errorf("expected ErrNotSolved, got %v", err)
	}
}

func TestPenalties(t *testing.T) {
	eco := settings.DefaultEconomy()
	eco.TimeBonusSeconds = 10
	eco.WrongMovePenaltySeconds = 3
	eco.HintPenaltySeconds = 2

	h := newHarness(t, sicilian("p1"))
	v, err := h.mgr.Start(context.Background(), "viewer-1", "reddit.com", 1200, eco)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	v, _ = h.mgr.Move(v.AttemptID, mustMove(t, "e7e5"))
	if v.Outcome != "wrongMove" {
		t.Fatalf("expected wrongMove, got %s", v.Outcome)
	}
	if v.LedgerSeconds != 0 || v.Stats.WrongMoves != 1 {
		t.Errorf("ledger should stay at zero: %+v", v)
	}

	v, _ = h.mgr.Move(v.AttemptID, mustMove(t, "e2e4"))
	if v.Outcome != "rejected" {
		t.Errorf("moving the opponent's piece should be rejected, got %s", v.Outcome)
	}

	v, _ = h.mgr.Hint(v.AttemptID)
	if v.HintSquare != "c7" || v.Stats.Hints != 1 {
		t.Errorf("unexpected hint view: %+v", v)
	}

	v, _ = h.mgr.Move(v.AttemptID, mustMove(t, "c7c5"))
	if !v.Solved || v.LedgerSeconds != 10 {
		t.Fatalf("unexpected solved view: %+v", v)
	}

	v, _ = h.mgr.Hint(v.AttemptID)
	if v.HintSquare != "" || v.Stats.Hints != 1 {
		t.Errorf("hint after solve should not be charged: %+v", v)
	}
}

func TestUndoRedo(t *testing.T) {
	h := newHarness(t, italian("p1"))
	v, _ := h.mgr.Start(context.Background(), "viewer-1", "youtube.com", 1200, settings.DefaultEconomy())
	start := v.FEN

	v, _ = h.mgr.Move(v.AttemptID, mustMove(t, "e7e5"))
	v, _ = h.mgr.Undo(v.AttemptID)
	if v.FEN != start || v.RedoDepth != 1 || v.Phase != "awaitingUserMove" {
		t.Fatalf("unexpected view after undo: %+v", v)
	}

	h.clock.Advance(time.Second)
	if len(h.updates) != 0 {
		t.Errorf("undo should cancel the pending reply, got %+v", h.updates)
	}

	v, _ = h.mgr.Redo(v.AttemptID)
	if v.RedoDepth != 0 || v.Phase != "awaitingOpponentReply" {
		t.Fatalf("unexpected view after redo: %+v", v)
	}

	h.clock.Advance(300 * time.Millisecond)
	if len(h.updates) != 1 {
		t.Errorf("redo should schedule the reply, got %d updates", len(h.updates))
	}
}

func TestSkip(t *testing.T) {
	h := newHarness(t, italian("p1"), sicilian("p2"))
	v, _ := h.mgr.Start(context.Background(), "viewer-1", "youtube.com", 1300, settings.DefaultEconomy())

	v, err := h.mgr.Skip(context.Background(), v.AttemptID)
	if err != nil {
		t.Fatalf("Skip failed: %v", err)
	}
	if v.PuzzleID != "p2" || v.Stats.Skips != 1 || v.LedgerSeconds != 0 {
		t.Errorf("unexpected view after skip: %+v", v)
	}
	if h.supplier.ratings[1] != 1300 {
		t.Errorf("skip should fetch at the same rating, got %d", h.supplier.ratings[1])
	}

	if _, err := h.mgr.Skip(context.Background(), v.AttemptID); !errors.Is(err, corpus.ErrNoPuzzle) {
		t.Errorf("expected ErrNoPuzzle, got %v", err)
	}
	if got, _ := h.mgr.Get(v.AttemptID); got.PuzzleID != "p2" || got.Stats.Skips != 1 {
		t.Errorf("failed skip should leave the attempt untouched: %+v", got)
	}

	v, _ = h.mgr.Move(v.AttemptID, mustMove(t, "c7c5"))
	if _, err := h.mgr.Skip(context.Background(), v.AttemptID); !errors.Is(err, ErrAttemptSolved) {
		t.Errorf("expected ErrAttemptSolved, got %v", err)
	}
}

func TestSkipToUnloadablePuzzle(t *testing.T) {
	broken := puzzle.Puzzle{ID: "bad", StartFEN: "not a position", Solution: []string{"e2e4", "e7e5"}, Rating: 1300}
	h := newHarness(t, italian("p1"), broken)
	v, _ := h.mgr.Start(context.Background(), "viewer-1", "youtube.com", 1300, settings.DefaultEconomy())

	if _, err := h.mgr.Skip(context.Background(), v.AttemptID); err == nil {
		t.Fatal("expected error for unloadable puzzle")
	}

	got, err := h.mgr.Get(v.AttemptID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.PuzzleID != "p1" || got.Stats.Skips != 0 || got.FEN != v.FEN {
		t.Errorf("failed skip should not charge or change the puzzle: %+v", got)
	}

	if got, _ := h.mgr.Move(v.AttemptID, mustMove(t, "e7e5")); got.Outcome != puzzle.OutcomeAccepted.String() {
		t.Errorf("attempt should still accept the current line, got %q", got.Outcome)
	}
}

func TestStartWithoutPuzzle(t *testing.T) {
	h := newHarness(t)

	_, err := h.mgr.Start(context.Background(), "viewer-1", "youtube.com", 1200, settings.DefaultEconomy())
	if !errors.Is(err, corpus.ErrNoPuzzle) {
		t.Fatalf("expected ErrNoPuzzle, got %v", err)
	}
	if h.mgr.Active() != 0 {
		t.Errorf("no attempt should be created, got %d", h.mgr.Active())
	}
}

func TestStartReplacesViewerAttempt(t *testing.T) {
	h := newHarness(t, italian("p1"), sicilian("p2"), italian("p3"))
	ctx := context.Background()

	first, _ := h.mgr.Start(ctx, "viewer-1", "youtube.com", 1200, settings.DefaultEconomy())
	other, _ := h.mgr.Start(ctx, "viewer-2", "youtube.com", 1200, settings.DefaultEconomy())
	second, _ := h.mgr.Start(ctx, "viewer-1", "reddit.com", 1200, settings.DefaultEconomy())

	if _, err := h.mgr.Get(first.AttemptID); !errors.Is(err, ErrUnknownAttempt) {
		t.Errorf("first attempt should be abandoned, got %v", err)
	}
	if _, err := h.mgr.Get(other.AttemptID); err != nil {
		t.Errorf("other viewer's attempt should survive: %v", err)
	}
	if _, err := h.mgr.Get(second.AttemptID); err != nil {
		t.Errorf("new attempt should exist: %v", err)
	}

	if len(h.history.records) != 1 || h.history.records[0].Solved {
		t.Errorf("expected one abandoned record, got %+v", h.history.records)
	}

	h.mgr.AbandonViewer(ctx, "viewer-2")
	if h.mgr.Active() != 1 {
		t.Errorf("expected 1 active attempt, got %d", h.mgr.Active())
	}

	h.mgr.AbandonAll(ctx)
	if h.mgr.Active() != 0 {
		t.Errorf("expected no active attempts, got %d", h.mgr.Active())
	}
	if len(h.history.records) != 3 {
		t.Errorf("expected 3 history records, got %d", len(h.history.records))
	}
}

func TestAbandonCancelsReply(t *testing.T) {
	h := newHarness(t, italian("p1"))
	v, _ := h.mgr.Start(context.Background(), "viewer-1", "youtube.com", 1200, settings.DefaultEconomy())

	h.mgr.Move(v.AttemptID, mustMove(t, "e7e5"))
	if err := h.mgr.Abandon(context.Background(), v.AttemptID); err != nil {
		t.Fatalf("Abandon failed: %v", err)
	}

	h.clock.Advance(time.Second)
	if len(h.updates) != 0 {
		t.Errorf("abandoned attempt should not push updates, got %+v", h.updates)
	}
	if h.clock.Pending() != 0 {
		t.Errorf("expected no pending timers, got %d", h.clock.Pending())
	}
}

func TestAttemptTimesOut(t *testing.T) {
	h := newHarness(t, italian("p1"), italian("p2"))
	h.mgr.cfg.AttemptTimeout = 5 * time.Minute
	ctx := context.Background()

	v, _ := h.mgr.Start(ctx, "viewer-1", "youtube.com", 1200, settings.DefaultEconomy())
	h.mgr.Move(v.AttemptID, mustMove(t, "e7e5"))
	h.clock.Advance(300 * time.Millisecond)
	h.updates = nil

	h.clock.Advance(5 * time.Minute)

	if _, err := h.mgr.Get(v.AttemptID); !errors.Is(err, ErrUnknownAttempt) {
		t.Fatalf("timed out attempt should be gone, got %v", err)
	}
	if len(h.updates) != 1 || !h.updates[0].TimedOut || h.updates[0].Solved {
		t.Fatalf("expected one timed out update, got %+v", h.updates)
	}
	if len(h.history.records) != 1 || h.history.records[0].Solved {
		t.Errorf("expected one abandoned record, got %+v", h.history.records)
	}

	solved, _ := h.mgr.Start(ctx, "viewer-1", "youtube.com", 1200, settings.DefaultEconomy())
	h.mgr.Move(solved.AttemptID, mustMove(t, "e7e5"))
	h.clock.Advance(300 * time.Millisecond)
	h.mgr.Move(solved.AttemptID, mustMove(t, "b8c6"))

	h.clock.Advance(10 * time.Minute)
	if _, _, err := h.mgr.Resolve(ctx, solved.AttemptID); err != nil {
		t.Errorf("solved attempt should outlive the limit: %v", err)
	}
	if h.clock.Pending() != 0 {
		t.Errorf("expected no pending timers, got %d", h.clock.Pending())
	}
}

func TestResolveStopsDeadline(t *testing.T) {
	h := newHarness(t, sicilian("p1"))
	h.mgr.cfg.AttemptTimeout = time.Minute
	ctx := context.Background()

	v, _ := h.mgr.Start(ctx, "viewer-1", "youtube.com", 1250, settings.DefaultEconomy())
	h.mgr.Move(v.AttemptID, mustMove(t, "c7c5"))
	if _, _, err := h.mgr.Resolve(ctx, v.AttemptID); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if h.clock.Pending() != 0 {
		t.Errorf("deadline should be stopped, got %d pending", h.clock.Pending())
	}
	h.clock.Advance(time.Hour)
	if len(h.updates) != 0 {
		t.Errorf("resolved attempt should not push updates, got %+v", h.updates)
	}
}
