// Package rules validates chess moves for the puzzle engine using notnil/chess.
package rules

import (
	"errors"
	"fmt"

	"github.com/goodtune/puzzlegate/internal/puzzle"
	"github.com/notnil/chess"
)

// Board is a puzzle.Rules backed by a chess game. It remembers the start
// position and applied moves so that undo can rebuild the position exactly.
type Board struct {
	start string
	game  *chess.Game
	moves []puzzle.Move
}

var _ puzzle.Rules = (*Board)(nil)

// New returns a board at the standard starting position.
func New() *Board {
	return &Board{game: chess.NewGame()}
}

// Factory returns a fresh board; it satisfies the challenge rules factory.
func Factory() puzzle.Rules {
	return New()
}

// Load replaces the position.
func (b *Board) Load(fen string) error {
	game, err := gameFromFEN(fen)
	if err != nil {
		return err
	}
	b.start = fen
	b.game = game
	b.moves = nil
	return nil
}

// FEN describes the current position.
func (b *Board) FEN() string {
	return b.game.Position().String()
}

// CanMove reports whether the piece on square belongs to the side to move.
func (b *Board) CanMove(square string) bool {
	sq, ok := parseSquare(square)
	if !ok {
		return false
	}
	pos := b.game.Position()
	piece := pos.Board().Piece(sq)
	return piece != chess.NoPiece && piece.Color() == pos.Turn()
}

// Apply plays m if it is legal. A promotion piece on a non-promoting move is ignored.
func (b *Board) Apply(m puzzle.Move) error {
	valid, err := resolve(b.game, m)
	if err != nil {
		return err
	}
	if err := b.game.Move(valid); err != nil {
		return fmt.Errorf("%w: %s: %v", puzzle.ErrIllegalMove, m.UCI(), err)
	}
	b.moves = append(b.moves, m)
	return nil
}

// Undo takes back the last move by replaying the line from the start position.
func (b *Board) Undo() error {
	if len(b.moves) == 0 {
		return errors.New("no move to undo")
	}

	game, err := gameFromFEN(b.start)
	if err != nil {
		return err
	}

	remaining := b.moves[:len(b.moves)-1]
	for _, m := range remaining {
		valid, err := resolve(game, m)
		if err != nil {
			return fmt.Errorf("failed to replay %s: %w", m.UCI(), err)
		}
		if err := game.Move(valid); err != nil {
			return fmt.Errorf("failed to replay %s: %w", m.UCI(), err)
		}
	}

	b.game = game
	b.moves = remaining
	return nil
}

// LegalMoves lists the legal moves of the current position in UCI form.
func (b *Board) LegalMoves() []string {
	valid := b.game.ValidMoves()
	out := make([]string, 0, len(valid))
	for _, vm := range valid {
		out = append(out, uci(vm))
	}
	return out
}

func gameFromFEN(fen string) (*chess.Game, error) {
	if fen == "" {
		return chess.NewGame(), nil
	}
	opt, err := chess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("failed to parse FEN %q: %w", fen, err)
	}
	return chess.NewGame(opt), nil
}

func resolve(game *chess.Game, m puzzle.Move) (*chess.Move, error) {
	var fallback *chess.Move
	for _, vm := range game.ValidMoves() {
		if vm.S1().String() != m.From || vm.S2().String() != m.To {
			continue
		}
		if vm.Promo() == chess.NoPieceType {
			return vm, nil
		}
		promo := m.Promotion
		if promo == "" {
			promo = "q"
		}
		if vm.Promo().String() == promo {
			return vm, nil
		}
		if fallback == nil {
			fallback = vm
		}
	}
	if fallback != nil && m.Promotion == "" {
		return fallback, nil
	}
	return nil, fmt.Errorf("%w: %s", puzzle.ErrIllegalMove, m.UCI())
}

func parseSquare(s string) (chess.Square, bool) {
	for sq := chess.A1; sq <= chess.H8; sq++ {
		if sq.String() == s {
			return sq, true
		}
	}
	return chess.NoSquare, false
}

func uci(m *chess.Move) string {
	s := m.S1().String() + m.S2().String()
	if m.Promo() != chess.NoPieceType {
		s += m.Promo().String()
	}
	return s
}
