package gate

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/puzzlegate/internal/bridge"
	"github.com/goodtune/puzzlegate/internal/challenge"
	"github.com/goodtune/puzzlegate/internal/clock"
	"github.com/goodtune/puzzlegate/internal/config"
	"github.com/goodtune/puzzlegate/internal/corpus"
	"github.com/goodtune/puzzlegate/internal/match"
	"github.com/goodtune/puzzlegate/internal/puzzle"
	"github.com/goodtune/puzzlegate/internal/registry"
	"github.com/goodtune/puzzlegate/internal/rules"
	"github.com/goodtune/puzzlegate/internal/settings"
	redisstore "github.com/goodtune/puzzlegate/internal/storage/redis"
	"github.com/rs/zerolog"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

type outbox struct {
	mu        sync.Mutex
	sent      map[string][]bridge.Message
	broadcast []bridge.Message
}

func (o *outbox) Send(viewerID string, msg bridge.Message) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent[viewerID] = append(o.sent[viewerID], msg)
	return true
}

func (o *outbox) Broadcast(viewerIDs []string, msg bridge.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.broadcast = append(o.broadcast, msg)
	for _, id := range viewerIDs {
		o.sent[id] = append(o.sent[id], msg)
	}
}

func (o *outbox) ofKind(kind bridge.Kind) []bridge.Message {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []bridge.Message
	for _, msg := range o.broadcast {
		if msg.Kind == kind {
			out = append(out, msg)
		}
	}
	return out
}

type harness struct {
	svc   *Service
	reg   *registry.Registry
	mgr   *challenge.Manager
	clock *clock.Fake
	out   *outbox
}

func newHarness(t *testing.T, puzzles ...puzzle.Puzzle) *harness {
	t.Helper()

	mr := miniredis.RunT(t)
	store, err := redisstore.Open(config.RedisConfig{
		Host:         mr.Addr(),
		PoolSize:     4,
		DialTimeout:  "1s",
		ReadTimeout:  "1s",
		WriteTimeout: "1s",
	})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	matcher, err := match.NewEngine("", zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create matcher: %v", err)
	}

	supplier, err := corpus.New(puzzles, corpus.Config{Tolerance: 100, MaxTolerance: 200}, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create corpus: %v", err)
	}

	h := &harness{
		clock: clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		out:   &outbox{sent: make(map[string][]bridge.Message)},
	}

	h.reg = registry.New(store, matcher, h.out, registry.Config{Clock: h.clock}, zerolog.Nop())
	t.Cleanup(h.reg.Close)

	seed := settings.Settings{
		Destinations: []settings.Destination{{ID: "youtube.com", SessionsPerDay: 3, MinutesPerSession: 1}},
		Economy:      settings.DefaultEconomy(),
	}
	if err := h.reg.Load(context.Background(), seed); err != nil {
		t.Fatalf("failed to load registry: %v", err)
	}

	h.mgr = challenge.NewManager(supplier, rules.Factory, challenge.Config{
		ReplyDelay: 300 * time.Millisecond,
		Clock:      h.clock,
	}, zerolog.Nop())

	h.svc = NewService(h.reg, h.mgr, h.out, zerolog.Nop())
	return h
}

func (h *harness) handle(t *testing.T, viewerID string, msg bridge.Message) []bridge.Message {
	t.Helper()
	return h.svc.Handle(context.Background(), viewerID, msg)
}

func single(t *testing.T, replies []bridge.Message, kind bridge.Kind) bridge.Message {
	t.Helper()

	if len(replies) != 1 {
		t.Fatalf("expected 1 reply, got %+v", replies)
	}
	if replies[0].Kind != kind {
		t.Fatalf("expected %s, got %+v", kind, replies[0])
	}
	return replies[0]
}

func navigate(url string) bridge.Message {
	return bridge.Message{Kind: bridge.KindNavigate, Navigate: &bridge.Navigate{URL: url}}
}

func attempt(kind bridge.Kind, cmd bridge.AttemptCommand) bridge.Message {
	return bridge.Message{Kind: kind, Attempt: &cmd}
}

func italian() puzzle.Puzzle {
	return puzzle.Puzzle{
		ID:       "p1",
		StartFEN: startFEN,
		Solution: []string{"e2e4", "e7e5", "g1f3", "b8c6"},
		Rating:   1200,
	}
}

func TestFullChallengeFlow(t *testing.T) {
	h := newHarness(t, italian())

	replies := h.handle(t, "tab-1", navigate("https://www.youtube.com/watch?v=1"))
	if len(replies) != 2 || replies[0].Kind != bridge.KindTimerStatus || replies[1].Kind != bridge.KindShowChallenge {
		t.Fatalf("unexpected navigate replies: %+v", replies)
	}
	if show := replies[1].ShowChallenge; show.Rating != 1200 || show.Reason != bridge.ReasonStart {
		t.Errorf("unexpected challenge: %+v", show)
	}

	state := single(t, h.handle(t, "tab-1", attempt(bridge.KindAttemptStart, bridge.AttemptCommand{})), bridge.KindAttemptState).AttemptState
	if state.PuzzleID != "p1" || state.DestinationID != "youtube.com" {
		t.Fatalf("unexpected attempt: %+v", state)
	}
	id := state.AttemptID

	state = single(t, h.handle(t, "tab-1", attempt(bridge.KindAttemptMove, bridge.AttemptCommand{AttemptID: id, From: "E7", To: "e5"})), bridge.KindAttemptState).AttemptState
	if state.Outcome != "accepted" {
		t.Fatalf("expected accepted, got %+v", state)
	}

	h.clock.Advance(300 * time.Millisecond)
	pushed := h.out.sent["tab-1"]
	if len(pushed) != 1 || pushed[0].AttemptState == nil || pushed[0].AttemptState.LastMove != "g1f3" {
		t.Fatalf("expected pushed opponent reply, got %+v", pushed)
	}

	state = single(t, h.handle(t, "tab-1", attempt(bridge.KindAttemptMove, bridge.AttemptCommand{AttemptID: id, From: "b8", To: "c6"})), bridge.KindAttemptState).AttemptState
	if !state.Solved || state.LedgerSeconds != 2 {
		t.Fatalf("expected solved with 2s, got %+v", state)
	}

	status := single(t, h.handle(t, "tab-1", bridge.Message{
		Kind:              bridge.KindChallengeResolved,
		ChallengeResolved: &bridge.ChallengeResolved{Solved: true, GrantedSeconds: 999, AttemptID: id},
	}), bridge.KindTimerStatus).TimerStatus
	if status.RemainingSeconds != 2 || status.TotalSeconds != 2 {
		t.Errorf("ledger total should be granted, got %+v", status)
	}
	if h.reg.RequireChallenge("youtube.com") {
		t.Error("no challenge should be required while the timer runs")
	}

	h.clock.Advance(2 * time.Second)
	challenges := h.out.ofKind(bridge.KindShowChallenge)
	if len(challenges) != 1 || challenges[0].ShowChallenge.Reason != bridge.ReasonTimeUp {
		t.Fatalf("expected one timeUp broadcast, got %+v", challenges)
	}
}

func TestResolvedStatusReachesEveryViewer(t *testing.T) {
	h := newHarness(t, italian())
	h.handle(t, "tab-a", navigate("https://www.youtube.com/watch?v=1"))
	h.handle(t, "tab-b", navigate("https://youtube.com/feed"))
	h.handle(t, "tab-c", navigate("https://lichess.org"))

	single(t, h.handle(t, "tab-a", bridge.Message{
		Kind:              bridge.KindChallengeResolved,
		ChallengeResolved: &bridge.ChallengeResolved{Solved: true, GrantedSeconds: 30},
	}), bridge.KindTimerStatus)

	pushed := h.out.sent["tab-b"]
	if len(pushed) != 1 || pushed[0].Kind != bridge.KindTimerStatus {
		t.Fatalf("expected timer status pushed to tab-b, got %+v", pushed)
	}
	if status := pushed[0].TimerStatus; status.DestinationID != "youtube.com" || status.RemainingSeconds != 30 {
		t.Errorf("unexpected status: %+v", status)
	}
	if got := h.out.sent["tab-c"]; len(got) != 0 {
		t.Errorf("viewer on another site should get nothing, got %+v", got)
	}
}

func TestClientReportedGrant(t *testing.T) {
	h := newHarness(t, italian())
	h.handle(t, "tab-1", navigate("https://youtube.com"))

	status := single(t, h.handle(t, "tab-1", bridge.Message{
		Kind:              bridge.KindChallengeResolved,
		ChallengeResolved: &bridge.ChallengeResolved{Solved: true, GrantedSeconds: 600},
	}), bridge.KindTimerStatus).TimerStatus
	if status.TotalSeconds != 60 {
		t.Errorf("grant should be clamped to 60s, got %+v", status)
	}
}

func TestUnsolvedResolutionIgnored(t *testing.T) {
	h := newHarness(t, italian())
	h.handle(t, "tab-1", navigate("https://youtube.com"))

	replies := h.handle(t, "tab-1", bridge.Message{
		Kind:              bridge.KindChallengeResolved,
		ChallengeResolved: &bridge.ChallengeResolved{Solved: false, GrantedSeconds: 30},
	})
	if len(replies) != 0 {
		t.Errorf("expected no replies, got %+v", replies)
	}
	if h.reg.TimerState("youtube.com") != registry.StateIdle {
		t.Error("timer should not start")
	}
}

func TestUnsolvedResolutionAbandonsAttempt(t *testing.T) {
	h := newHarness(t, italian())
	var buf bytes.Buffer
	h.svc = NewService(h.reg, h.mgr, h.out, zerolog.New(&buf).Level(zerolog.DebugLevel))
	h.handle(t, "tab-1", navigate("https://youtube.com"))

	id := single(t, h.handle(t, "tab-1", attempt(bridge.KindAttemptStart, bridge.AttemptCommand{})), bridge.KindAttemptState).AttemptState.AttemptID
	replies := h.handle(t, "tab-1", bridge.Message{
		Kind:              bridge.KindChallengeResolved,
		ChallengeResolved: &bridge.ChallengeResolved{Solved: false, AttemptID: id},
	})
	if len(replies) != 0 || h.mgr.Active() != 0 {
		t.Fatalf("attempt should be abandoned silently, replies %+v, active %d", replies, h.mgr.Active())
	}
	if strings.Contains(buf.String(), "Failed to abandon attempt") {
		t.Errorf("unexpected abandon failure: %s", buf.String())
	}

	h.handle(t, "tab-1", bridge.Message{
		Kind:              bridge.KindChallengeResolved,
		ChallengeResolved: &bridge.ChallengeResolved{Solved: false, AttemptID: id},
	})
	if !strings.Contains(buf.String(), "Failed to abandon attempt") || !strings.Contains(buf.String(), id) {
		t.Errorf("expected abandon failure logged with attempt ID, got %s", buf.String())
	}
}

func TestQueryTimerStatus(t *testing.T) {
	h := newHarness(t, italian())

	status := single(t, h.handle(t, "popup", bridge.Message{Kind: bridge.KindQueryTimerStatus}), bridge.KindTimerStatus).TimerStatus
	if status.Known {
		t.Errorf("unbound viewer should get unknown status, got %+v", status)
	}

	h.handle(t, "tab-1", navigate("https://youtube.com"))
	status = single(t, h.handle(t, "tab-1", bridge.Message{Kind: bridge.KindQueryTimerStatus}), bridge.KindTimerStatus).TimerStatus
	if !status.Known || status.DestinationID != "youtube.com" {
		t.Errorf("unexpected status: %+v", status)
	}

	status = single(t, h.handle(t, "tab-1", navigate("https://lichess.org")), bridge.KindTimerStatus).TimerStatus
	if status.Known {
		t.Errorf("unmonitored URL should report unknown, got %+v", status)
	}
}

func TestNoPuzzleIsRecoverable(t *testing.T) {
	h := newHarness(t, puzzle.Puzzle{ID: "hard", StartFEN: startFEN, Solution: []string{"e2e4", "c7c5"}, Rating: 2800})
	h.handle(t, "tab-1", navigate("https://youtube.com"))

	msg := single(t, h.handle(t, "tab-1", attempt(bridge.KindAttemptStart, bridge.AttemptCommand{})), bridge.KindError)
	if !msg.Error.Recoverable {
		t.Errorf("expected recoverable error, got %+v", msg.Error)
	}
}

func TestTriggerChallenge(t *testing.T) {
	h := newHarness(t, italian())

	msg := single(t, h.handle(t, "tab-1", bridge.Message{Kind: bridge.KindTriggerChallenge}), bridge.KindError)
	if !msg.Error.Recoverable {
		t.Errorf("expected recoverable error for unbound viewer, got %+v", msg.Error)
	}

	h.handle(t, "tab-1", navigate("https://youtube.com"))
	h.reg.OnChallengeResolved("youtube.com", 30)

	show := single(t, h.handle(t, "tab-1", bridge.Message{Kind: bridge.KindTriggerChallenge}), bridge.KindShowChallenge).ShowChallenge
	if show.Destination.ID != "youtube.com" || show.Reason != bridge.ReasonStart {
		t.Errorf("unexpected challenge: %+v", show)
	}
}

func TestRequestChallenge(t *testing.T) {
	h := newHarness(t, italian())

	show := single(t, h.handle(t, "overlay", bridge.Message{
		Kind:             bridge.KindRequestChallenge,
		RequestChallenge: &bridge.RequestChallenge{DestinationID: "youtube.com"},
	}), bridge.KindShowChallenge).ShowChallenge
	if show.SessionMax != 3 || show.Rating != 800 {
		t.Errorf("unexpected challenge: %+v", show)
	}
	if dest, ok := h.reg.DestinationOf("overlay"); !ok || dest != "youtube.com" {
		t.Errorf("requesting viewer should be bound, got %q", dest)
	}

	msg := single(t, h.handle(t, "overlay", bridge.Message{
		Kind:             bridge.KindRequestChallenge,
		RequestChallenge: &bridge.RequestChallenge{DestinationID: "example.com"},
	}), bridge.KindError)
	if msg.Error.Recoverable {
		t.Error("unknown destination should not be recoverable")
	}
}

func TestServiceOnlyKindsRejected(t *testing.T) {
	h := newHarness(t, italian())

	msg := single(t, h.handle(t, "tab-1", bridge.Message{
		Kind:        bridge.KindTimerStatus,
		TimerStatus: &bridge.TimerStatus{},
	}), bridge.KindError)
	if msg.Error.Recoverable {
		t.Error("expected non-recoverable error")
	}

	msg = single(t, h.handle(t, "tab-1", bridge.Message{Kind: bridge.KindNavigate}), bridge.KindError)
	if !msg.Error.Recoverable {
		t.Error("missing payload should be recoverable")
	}
}

func TestViewerGone(t *testing.T) {
	h := newHarness(t, italian())
	h.handle(t, "tab-1", navigate("https://youtube.com"))
	state := single(t, h.handle(t, "tab-1", attempt(bridge.KindAttemptStart, bridge.AttemptCommand{})), bridge.KindAttemptState).AttemptState
	h.reg.OnChallengeResolved("youtube.com", 30)

	h.svc.ViewerGone(context.Background(), "tab-1")

	if h.reg.TimerState("youtube.com") != registry.StateIdle {
		t.Error("timer should be released")
	}
	msg := single(t, h.handle(t, "tab-1", attempt(bridge.KindAttemptHint, bridge.AttemptCommand{AttemptID: state.AttemptID})), bridge.KindError)
	if msg.Error.Recoverable {
		t.Error("abandoned attempt should be unknown")
	}

	if _, ok := h.svc.Status("youtube.com"); !ok {
		t.Error("configured destination should report status")
	}
	if _, ok := h.svc.Status("example.com"); ok {
		t.Error("unknown destination should not report status")
	}
}
