// Package chessplay implements the move-validation and session-orchestration
// core of the text chess app: the game session that interleaves typed player
// moves with an engine opponent, the puzzle session that checks player moves
// against a scripted solution line, and the diagnostic engine that explains
// why a rejected move string was rejected.
//
// Chess rules themselves are delegated to an Oracle. Sessions never mutate a
// position; every applied move yields a fresh snapshot.
package chessplay

import (
	"errors"
	"log/slog"
)

var log = slog.Default().With("package", "chessplay")

// ErrIllegalMove indicates the oracle rejected a move as illegal in the
// given position.
var ErrIllegalMove = errors.New("illegal move")

// Color identifies a side of the board.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

func (c Color) Other() Color {
	if c == White {
		return Black
	}
	return White
}

// Square is a board coordinate in file-rank form, e.g. "e4".
type Square string

func (s Square) File() byte { return s[0] }
func (s Square) Rank() byte { return s[1] }

// Kind is a piece kind in lowercase letter form.
type Kind byte

const (
	Pawn   Kind = 'p'
	Knight Kind = 'n'
	Bishop Kind = 'b'
	Rook   Kind = 'r'
	Queen  Kind = 'q'
	King   Kind = 'k'
)

var kindNames = map[Kind]string{
	Pawn:   "pawn",
	Knight: "knight",
	Bishop: "bishop",
	Rook:   "rook",
	Queen:  "queen",
	King:   "king",
}

// Name returns the English piece name, e.g. "knight".
func (k Kind) Name() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return string(k)
}

// Position is an opaque board snapshot owned by the oracle. The core holds
// the latest returned snapshot and never mutates it.
type Position interface {
	// FEN returns the serializable form of the snapshot.
	FEN() string
}

// MoveInfo describes an accepted or legal move.
type MoveInfo struct {
	// SAN is the canonical algebraic form, with check/mate suffix.
	SAN string
	// UCI is the origin+destination+promotion form, e.g. "e7e8q".
	UCI string
	// Piece is the kind of the moving piece.
	Piece Kind
	From  Square
	To    Square
	// Capture is set when the move takes a piece (including en passant).
	Capture bool
}

// PieceInfo describes a piece standing on a square.
type PieceInfo struct {
	Kind  Kind
	Color Color
}

// Status reports the terminal and check state of a position.
type Status struct {
	Checkmate bool
	Stalemate bool
	// DrawReason is empty unless the position is drawn for a reason other
	// than stalemate ("insufficient material", "fivefold repetition",
	// "seventy-five moves").
	DrawReason string
	InCheck    bool
	SideToMove Color
}

// Terminal reports whether no further moves can be played.
func (s Status) Terminal() bool {
	return s.Checkmate || s.Stalemate || s.DrawReason != ""
}

// Oracle is the move-legality collaborator the sessions and diagnostics
// depend on. All operations are synchronous and pure with respect to the
// position value.
type Oracle interface {
	StartingPosition() Position
	FromFEN(fen string) (Position, error)
	// LegalMoves enumerates every legal move, fully disambiguated.
	LegalMoves(p Position) []MoveInfo
	// ApplySAN parses player notation, resolves ambiguity and applies the
	// move. Returns ErrIllegalMove when the text matches no legal move.
	ApplySAN(p Position, text string) (Position, MoveInfo, error)
	// ApplyUCI applies an origin/destination/promotion move as produced by
	// the engine or a puzzle script.
	ApplyUCI(p Position, uci string) (Position, MoveInfo, error)
	Status(p Position) Status
	// PieceAt reports the piece on a square, if any.
	PieceAt(p Position, sq Square) (PieceInfo, bool)
}
