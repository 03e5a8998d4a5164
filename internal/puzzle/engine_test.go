package puzzle

import (
	"strings"
	"testing"
	"time"

	"github.com/goodtune/puzzlegate/internal/clock"
	"github.com/rs/zerolog"
)

// fakeRules accepts every move not listed as illegal and describes the
// position as the start string plus the applied moves.
type fakeRules struct {
	start   string
	moves   []Move
	illegal map[string]bool
	frozen  map[string]bool
}

func newFakeRules() *fakeRules {
	return &fakeRules{illegal: map[string]bool{}, frozen: map[string]bool{}}
}

func (f *fakeRules) Load(fen string) error {
	f.start = fen
	f.moves = nil
	return nil
}

func (f *fakeRules) FEN() string {
	parts := []string{f.start}
	for _, m := range f.moves {
		parts = append(parts, m.UCI())
	}
	return strings.Join(parts, " ")
}

func (f *fakeRules) CanMove(square string) bool {
	return !f.frozen[square]
}

func (f *fakeRules) Apply(m Move) error {
	if f.illegal[m.From+m.To] {
		return ErrIllegalMove
	}
	f.moves = append(f.moves, m)
	return nil
}

func (f *fakeRules) Undo() error {
	if len(f.moves) == 0 {
		return ErrIllegalMove
	}
	f.moves = f.moves[:len(f.moves)-1]
	return nil
}

type harness struct {
	engine  *Engine
	rules   *fakeRules
	clock   *clock.Fake
	solved  int
	replies []string
}

func newHarness(t *testing.T, solution ...string) *harness {
	t.Helper()

	h := &harness{rules: newFakeRules(), clock: clock.NewFake(time.Unix(0, 0))}
	h.engine = NewEngine(h.rules, Config{
		Clock:          h.clock,
		ReplyDelay:     DefaultReplyDelay,
		OnSolved:       func() { h.solved++ },
		OnOpponentMove: func(m Move) { h.replies = append(h.replies, m.UCI()) },
	}, zerolog.Nop())

	err := h.engine.SetPuzzle(Puzzle{ID: "test", StartFEN: "start", Solution: solution, Rating: 1200})
	if err != nil {
		t.Fatalf("SetPuzzle failed: %v", err)
	}
	return h
}

func move(t *testing.T, uci string) Move {
	t.Helper()
	m, err := ParseUCI(uci)
	if err != nil {
		t.Fatalf("ParseUCI(%q) failed: %v", uci, err)
	}
	return m
}

func TestSetPuzzlePlaysOpeningMove(t *testing.T) {
	h := newHarness(t, "e2e4", "e7e5", "g1f3", "b8c6")

	s := h.engine.Snapshot()
	if s.Phase != PhaseAwaitingUserMove || s.Index != 1 {
		t.Fatalf("unexpected state after SetPuzzle: %+v", s)
	}
	if len(s.History) != 1 || s.History[0] != "e2e4" {
		t.Errorf("expected opening move in history, got %v", s.History)
	}
	if s.FEN != "start e2e4" {
		t.Errorf("unexpected position %q", s.FEN)
	}
}

func TestSetPuzzleErrors(t *testing.T) {
	e := NewEngine(newFakeRules(), Config{Clock: clock.NewFake(time.Now())}, zerolog.Nop())

	tests := []struct {
		name     string
		solution []string
	}{
		{"too short", []string{"e2e4"}},
		{"bad move", []string{"e2e4", "zz99"}},
		{"bad promotion", []string{"e2e4", "a7a8k"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := e.SetPuzzle(Puzzle{ID: "x", StartFEN: "start", Solution: tt.solution}); err == nil {
				t.Error("expected error")
			}
		})
	}

	rules := newFakeRules()
	rules.illegal["e2e4"] = true
	e = NewEngine(rules, Config{Clock: clock.NewFake(time.Now())}, zerolog.Nop())
	if err := e.SetPuzzle(Puzzle{ID: "x", StartFEN: "start", Solution: []string{"e2e4", "e7e5"}}); err == nil {
		t.Error("expected error when opening move is illegal")
	}
}

func TestFailedSetPuzzleKeepsCurrentLine(t *testing.T) {
	h := newHarness(t, "e2e4", "e7e5", "g1f3", "b8c6")

	if got := h.engine.SubmitUserMove(move(t, "e7e5")); got != OutcomeAccepted {
		t.Fatalf("expected accepted, got %v", got)
	}

	h.rules.illegal["d2d4"] = true
	err := h.engine.SetPuzzle(Puzzle{ID: "broken", StartFEN: "other", Solution: []string{"d2d4", "d7d5"}})
	if err == nil {
		t.Fatal("expected error for unplayable opening move")
	}

	s := h.engine.Snapshot()
	if h.engine.Puzzle().ID != "test" || s.FEN != "start e2e4 e7e5" {
		t.Fatalf("board should stay on the current puzzle, got %q (%s)", s.FEN, h.engine.Puzzle().ID)
	}
	if h.rules.FEN() != "start e2e4 e7e5" {
		t.Errorf("rules should be restored, got %q", h.rules.FEN())
	}

	h.clock.Advance(DefaultReplyDelay)
	if len(h.replies) != 1 || h.replies[0] != "g1f3" {
		t.Errorf("pending reply should survive a failed load, got %v", h.replies)
	}
}

func TestSolveWithScriptedReplies(t *testing.T) {
	h := newHarness(t, "e2e4", "e7e5", "g1f3", "b8c6")

	if got := h.engine.SubmitUserMove(move(t, "e7e5")); got != OutcomeAccepted {
		t.Fatalf("expected accepted, got %s", got)
	}
	if s := h.engine.Snapshot(); s.Phase != PhaseAwaitingOpponentReply || s.Index != 2 {
		t.Fatalf("unexpected state while reply pending: %+v", s)
	}

	// Not the user's turn until the reply lands
	if got := h.engine.SubmitUserMove(move(t, "b8c6")); got != OutcomeRejected {
		t.Errorf("expected rejected during reply delay, got %s", got)
	}

	h.clock.Advance(DefaultReplyDelay - time.Millisecond)
	if len(h.replies) != 0 {
		t.Fatal("reply played before delay elapsed")
	}
	h.clock.Advance(time.Millisecond)
	if len(h.replies) != 1 || h.replies[0] != "g1f3" {
		t.Fatalf("expected scripted reply g1f3, got %v", h.replies)
	}

	if got := h.engine.SubmitUserMove(move(t, "b8c6")); got != OutcomeSolved {
		t.Fatalf("expected solved, got %s", got)
	}
	if h.solved != 1 {
		t.Errorf("expected one solved event, got %d", h.solved)
	}

	if got := h.engine.SubmitUserMove(move(t, "a7a6")); got != OutcomeRejected {
		t.Errorf("expected rejected after solve, got %s", got)
	}
	if _, ok := h.engine.Hint(); ok {
		t.Error("hint should be unavailable after solve")
	}
	if h.engine.Undo() {
		t.Error("undo should be a no-op after solve")
	}
	if h.solved != 1 {
		t.Errorf("solved event repeated: %d", h.solved)
	}
}

func TestSolvedByScriptedReply(t *testing.T) {
	h := newHarness(t, "e2e4", "e7e5", "g1f3")

	if got := h.engine.SubmitUserMove(move(t, "e7e5")); got != OutcomeAccepted {
		t.Fatalf("expected accepted, got %s", got)
	}
	h.clock.Advance(time.Second)

	if h.solved != 1 {
		t.Fatalf("expected solved after final reply, got %d", h.solved)
	}
	if s := h.engine.Snapshot(); !s.Solved || s.Phase != PhaseSolved {
		t.Errorf("unexpected state: %+v", s)
	}
}

func TestWrongAndIllegalMoves(t *testing.T) {
	h := newHarness(t, "e2e4", "e7e5", "g1f3", "b8c6")
	h.rules.illegal["e7e4"] = true
	h.rules.frozen["d2"] = true

	before := h.engine.Snapshot()

	tests := []struct {
		uci  string
		want Outcome
	}{
		{"d7d5", OutcomeWrongMove},
		{"e7e4", OutcomeSnapBack},
		{"d2d4", OutcomeRejected},
	}

	for _, tt := range tests {
		t.Run(tt.uci, func(t *testing.T) {
			if got := h.engine.SubmitUserMove(move(t, tt.uci)); got != tt.want {
				t.Errorf("SubmitUserMove(%s) = %s, want %s", tt.uci, got, tt.want)
			}

			after := h.engine.Snapshot()
			if after.Index != before.Index || len(after.History) != len(before.History) {
				t.Errorf("state advanced: before %+v after %+v", before, after)
			}
			if h.rules.FEN() != before.FEN {
				t.Errorf("rules position changed to %q", h.rules.FEN())
			}
		})
	}
}

func TestUndoRedoRestoresState(t *testing.T) {
	h := newHarness(t, "e2e4", "e7e5", "g1f3", "b8c6", "f1c4", "g8f6")

	h.engine.SubmitUserMove(move(t, "e7e5"))
	h.clock.Advance(time.Second)
	before := h.engine.Snapshot()

	if !h.engine.Undo() {
		t.Fatal("undo failed")
	}
	mid := h.engine.Snapshot()
	if mid.Index != before.Index-1 || mid.RedoDepth != 1 {
		t.Fatalf("unexpected state after undo: %+v", mid)
	}

	if !h.engine.Redo() {
		t.Fatal("redo failed")
	}
	after := h.engine.Snapshot()
	if after.Index != before.Index || after.FEN != before.FEN || strings.Join(after.History, ",") != strings.Join(before.History, ",") {
		t.Errorf("redo did not restore state: before %+v after %+v", before, after)
	}
	if after.Phase != PhaseAwaitingUserMove {
		t.Errorf("expected user to move after redo, got %s", after.Phase)
	}
	if h.engine.Redo() {
		t.Error("redo with empty stack should be a no-op")
	}
}

func TestUndoAllTheWay(t *testing.T) {
	h := newHarness(t, "e2e4", "e7e5", "g1f3", "b8c6")

	if !h.engine.Undo() {
		t.Fatal("undo of opening move failed")
	}
	if h.engine.Undo() {
		t.Error("undo with empty history should be a no-op")
	}
	if s := h.engine.Snapshot(); s.Index != 0 || s.Phase != PhaseAwaitingOpponentReply {
		t.Errorf("unexpected state: %+v", s)
	}
	if got := h.engine.SubmitUserMove(move(t, "e7e5")); got != OutcomeRejected {
		t.Errorf("expected rejected when opponent is to move, got %s", got)
	}
}

func TestRedoStackClearedOnlyBySubmit(t *testing.T) {
	h := newHarness(t, "e2e4", "e7e5", "g1f3", "b8c6", "f1c4", "g8f6")

	h.engine.SubmitUserMove(move(t, "e7e5"))
	h.clock.Advance(time.Second)

	h.engine.Undo() // g1f3
	h.engine.Undo() // e7e5
	if s := h.engine.Snapshot(); s.RedoDepth != 2 {
		t.Fatalf("expected redo depth 2, got %d", s.RedoDepth)
	}

	h.engine.Redo() // e7e5, g1f3 still to redo
	if s := h.engine.Snapshot(); s.RedoDepth != 1 || s.Phase != PhaseAwaitingOpponentReply {
		t.Fatalf("unexpected state after partial redo: %+v", s)
	}
	h.clock.Advance(time.Second)
	if len(h.replies) != 1 {
		t.Errorf("reply scheduled while redo stack non-empty: %v", h.replies)
	}

	h.engine.Undo() // e7e5 again
	if got := h.engine.SubmitUserMove(move(t, "e7e5")); got != OutcomeAccepted {
		t.Fatalf("expected accepted, got %s", got)
	}
	if s := h.engine.Snapshot(); s.RedoDepth != 0 {
		t.Errorf("submit should clear redo stack, depth %d", s.RedoDepth)
	}
}

func TestUndoCancelsPendingReply(t *testing.T) {
	h := newHarness(t, "e2e4", "e7e5", "g1f3", "b8c6")

	h.engine.SubmitUserMove(move(t, "e7e5"))
	h.engine.Undo()
	h.clock.Advance(time.Second)

	if len(h.replies) != 0 {
		t.Fatalf("cancelled reply was played: %v", h.replies)
	}
	if s := h.engine.Snapshot(); s.Index != 1 || s.Phase != PhaseAwaitingUserMove {
		t.Errorf("unexpected state: %+v", s)
	}

	// Redoing the user move with nothing else to redo schedules the reply
	h.engine.Redo()
	h.clock.Advance(time.Second)
	if len(h.replies) != 1 || h.replies[0] != "g1f3" {
		t.Errorf("expected reply after redo, got %v", h.replies)
	}
}

func TestHintDoesNotMutate(t *testing.T) {
	h := newHarness(t, "e2e4", "e7e5", "g1f3", "b8c6")

	before := h.engine.Snapshot()
	sq, ok := h.engine.Hint()
	if !ok || sq != "e7" {
		t.Fatalf("Hint() = %q, %v", sq, ok)
	}
	after := h.engine.Snapshot()
	if after.Index != before.Index || after.FEN != before.FEN {
		t.Error("hint mutated engine state")
	}

	h.engine.SubmitUserMove(move(t, "e7e5"))
	if _, ok := h.engine.Hint(); ok {
		t.Error("hint should be unavailable while the reply is pending")
	}
}

func TestDriftGuardResyncs(t *testing.T) {
	h := newHarness(t, "e2e4", "e7e5", "g1f3", "b8c6")

	// Something moved a piece behind the engine's back
	h.rules.moves = append(h.rules.moves, move(t, "d7d5"))

	if got := h.engine.SubmitUserMove(move(t, "e7e5")); got != OutcomeSnapBack {
		t.Fatalf("expected snap back on drift, got %s", got)
	}
	if h.rules.FEN() != "start e2e4" {
		t.Errorf("position not resynchronized: %q", h.rules.FEN())
	}

	if got := h.engine.SubmitUserMove(move(t, "e7e5")); got != OutcomeAccepted {
		t.Errorf("expected accepted after resync, got %s", got)
	}
}

func TestPromotionDefaults(t *testing.T) {
	h := newHarness(t, "h2h3", "a7a8n")

	if got := h.engine.SubmitUserMove(Move{From: "a7", To: "a8", Promotion: "q"}); got != OutcomeWrongMove {
		t.Fatalf("explicit wrong promotion should be a wrong move, got %s", got)
	}
	if got := h.engine.SubmitUserMove(Move{From: "a7", To: "a8"}); got != OutcomeSolved {
		t.Fatalf("omitted promotion should take the solution piece, got %s", got)
	}
	if last := h.rules.moves[len(h.rules.moves)-1]; last.Promotion != "n" {
		t.Errorf("expected knight promotion applied, got %+v", last)
	}
}

func TestCloseCancelsReply(t *testing.T) {
	h := newHarness(t, "e2e4", "e7e5", "g1f3", "b8c6")

	h.engine.SubmitUserMove(move(t, "e7e5"))
	h.engine.Close()
	h.clock.Advance(time.Second)

	if len(h.replies) != 0 {
		t.Errorf("reply played after close: %v", h.replies)
	}
	if h.clock.Pending() != 0 {
		t.Errorf("timer still pending after close")
	}
}

func TestParseUCI(t *testing.T) {
	tests := []struct {
		in      string
		want    Move
		wantErr bool
	}{
		{"e2e4", Move{From: "e2", To: "e4"}, false},
		{" A7A8Q ", Move{From: "a7", To: "a8", Promotion: "q"}, false},
		{"e2e", Move{}, true},
		{"i2e4", Move{}, true},
		{"e2e9", Move{}, true},
		{"a7a8x", Move{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseUCI(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseUCI(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseUCI(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}
