package puzzle

import (
	"errors"
	"fmt"
	"strings"
)

// ErrIllegalMove is returned by a Rules implementation for a move the
// position does not allow.
var ErrIllegalMove = errors.New("illegal move")

// Puzzle is a start position and the solution line that solves it. The first
// solution move is the opponent's; the user plays every other move after it.
type Puzzle struct {
	ID       string   `json:"id"`
	StartFEN string   `json:"fen"`
	Solution []string `json:"moves"`
	Rating   int      `json:"rating"`
	Themes   []string `json:"themes,omitempty"`
}

// Move is a single half-move in coordinate form.
type Move struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// ParseUCI parses a move like "e2e4" or "a7a8q".
func ParseUCI(s string) (Move, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 4 && len(s) != 5 {
		return Move{}, fmt.Errorf("invalid move %q", s)
	}

	m := Move{From: s[0:2], To: s[2:4]}
	if !validSquare(m.From) || !validSquare(m.To) {
		return Move{}, fmt.Errorf("invalid move %q", s)
	}
	if len(s) == 5 {
		if !strings.ContainsRune("qrbn", rune(s[4])) {
			return Move{}, fmt.Errorf("invalid promotion in move %q", s)
		}
		m.Promotion = s[4:5]
	}
	return m, nil
}

// UCI formats the move in coordinate notation.
func (m Move) UCI() string {
	return m.From + m.To + m.Promotion
}

// SameSquares reports whether both moves go from and to the same squares.
func (m Move) SameSquares(other Move) bool {
	return m.From == other.From && m.To == other.To
}

func validSquare(sq string) bool {
	return len(sq) == 2 && sq[0] >= 'a' && sq[0] <= 'h' && sq[1] >= '1' && sq[1] <= '8'
}

// Rules validates and applies moves on a chess position.
type Rules interface {
	// Load replaces the position with the one described by fen.
	Load(fen string) error
	// FEN describes the current position.
	FEN() string
	// CanMove reports whether the piece on square belongs to the side to move.
	CanMove(square string) bool
	// Apply plays m, returning ErrIllegalMove if the position forbids it.
	Apply(m Move) error
	// Undo takes back the last applied move.
	Undo() error
}

// Phase is the step an attempt is waiting on.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingOpponentReply
	PhaseAwaitingUserMove
	PhaseSolved
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingOpponentReply:
		return "awaitingOpponentReply"
	case PhaseAwaitingUserMove:
		return "awaitingUserMove"
	case PhaseSolved:
		return "solved"
	default:
		return "unknown"
	}
}

// Outcome is the result of submitting a user move.
type Outcome int

const (
	// OutcomeRejected means the move was not considered at all.
	OutcomeRejected Outcome = iota
	// OutcomeSnapBack means the piece returns to its square with no effect.
	OutcomeSnapBack
	// OutcomeWrongMove means a legal move that is not the solution.
	OutcomeWrongMove
	// OutcomeAccepted means the move matched and the line continues.
	OutcomeAccepted
	// OutcomeSolved means the move completed the solution.
	OutcomeSolved
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRejected:
		return "rejected"
	case OutcomeSnapBack:
		return "snapBack"
	case OutcomeWrongMove:
		return "wrongMove"
	case OutcomeAccepted:
		return "accepted"
	case OutcomeSolved:
		return "solved"
	default:
		return "unknown"
	}
}

// State is a point-in-time view of an engine.
type State struct {
	Phase     Phase
	FEN       string
	Index     int
	History   []string
	RedoDepth int
	Solved    bool
}
