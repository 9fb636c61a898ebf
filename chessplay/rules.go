package chessplay

import (
	chess "github.com/corentings/chess/v2"
	"github.com/pkg/errors"
)

// Rules is the Oracle backed by the corentings/chess move generator.
type Rules struct{}

func NewRules() Rules { return Rules{} }

// rulesPos wraps a game so that repetition and half-move draw state survive
// across snapshots. Check status is carried from the move that produced the
// snapshot; positions loaded straight from FEN are taken as not in check,
// which holds for every position the core reaches (game sessions start from
// the standard position and puzzle player turns always follow an applied
// scripted move).
type rulesPos struct {
	game    *chess.Game
	inCheck bool
}

func (p *rulesPos) FEN() string { return p.game.FEN() }

func (Rules) StartingPosition() Position {
	return &rulesPos{game: chess.NewGame()}
}

func (Rules) FromFEN(fen string) (Position, error) {
	opt, err := chess.FEN(fen)
	if err != nil {
		return nil, errors.Wrap(err, "parse FEN")
	}
	return &rulesPos{game: chess.NewGame(opt)}, nil
}

func (Rules) LegalMoves(p Position) []MoveInfo {
	rp := p.(*rulesPos)
	pos := rp.game.Position()
	valid := pos.ValidMoves()
	infos := make([]MoveInfo, 0, len(valid))
	for i := range valid {
		infos = append(infos, moveInfo(pos, &valid[i]))
	}
	return infos
}

func (r Rules) ApplySAN(p Position, text string) (Position, MoveInfo, error) {
	rp := p.(*rulesPos)
	pos := rp.game.Position()
	m, err := chess.AlgebraicNotation{}.Decode(pos, text)
	if err != nil {
		return nil, MoveInfo{}, ErrIllegalMove
	}
	return r.apply(rp, m)
}

func (r Rules) ApplyUCI(p Position, uci string) (Position, MoveInfo, error) {
	rp := p.(*rulesPos)
	pos := rp.game.Position()
	m, err := chess.UCINotation{}.Decode(pos, uci)
	if err != nil {
		return nil, MoveInfo{}, ErrIllegalMove
	}
	// UCI decoding checks only the format; legality comes from matching a
	// generated move.
	valid := pos.ValidMoves()
	for i := range valid {
		v := &valid[i]
		if v.S1() == m.S1() && v.S2() == m.S2() && v.Promo() == m.Promo() {
			return r.apply(rp, v)
		}
	}
	return nil, MoveInfo{}, ErrIllegalMove
}

func (Rules) apply(rp *rulesPos, m *chess.Move) (Position, MoveInfo, error) {
	pos := rp.game.Position()
	info := moveInfo(pos, m)
	next := rp.game.Clone()
	if err := next.PushMove(info.SAN, &chess.PushMoveOptions{ForceMainline: true}); err != nil {
		return nil, MoveInfo{}, ErrIllegalMove
	}
	return &rulesPos{game: next, inCheck: m.HasTag(chess.Check)}, info, nil
}

func (Rules) Status(p Position) Status {
	rp := p.(*rulesPos)
	st := Status{
		SideToMove: colorOf(rp.game.Position().Turn()),
		InCheck:    rp.inCheck,
	}
	switch rp.game.Method() {
	case chess.Checkmate:
		st.Checkmate = true
		st.InCheck = true
	case chess.Stalemate:
		st.Stalemate = true
	case chess.FivefoldRepetition:
		st.DrawReason = "fivefold repetition"
	case chess.SeventyFiveMoveRule:
		st.DrawReason = "seventy-five moves"
	case chess.InsufficientMaterial:
		st.DrawReason = "insufficient material"
	}
	return st
}

func (Rules) PieceAt(p Position, sq Square) (PieceInfo, bool) {
	rp := p.(*rulesPos)
	if len(sq) != 2 || sq.File() < 'a' || sq.File() > 'h' || sq.Rank() < '1' || sq.Rank() > '8' {
		return PieceInfo{}, false
	}
	square := chess.NewSquare(chess.File(sq.File()-'a'), chess.Rank(sq.Rank()-'1'))
	piece := rp.game.Position().Board().Piece(square)
	if piece == chess.NoPiece {
		return PieceInfo{}, false
	}
	return PieceInfo{Kind: kindOf(piece.Type()), Color: colorOf(piece.Color())}, true
}

func moveInfo(pos *chess.Position, m *chess.Move) MoveInfo {
	piece := pos.Board().Piece(m.S1())
	return MoveInfo{
		SAN:     chess.AlgebraicNotation{}.Encode(pos, m),
		UCI:     chess.UCINotation{}.Encode(pos, m),
		Piece:   kindOf(piece.Type()),
		From:    Square(m.S1().String()),
		To:      Square(m.S2().String()),
		Capture: m.HasTag(chess.Capture) || m.HasTag(chess.EnPassant),
	}
}

func kindOf(t chess.PieceType) Kind {
	switch t {
	case chess.King:
		return King
	case chess.Queen:
		return Queen
	case chess.Rook:
		return Rook
	case chess.Bishop:
		return Bishop
	case chess.Knight:
		return Knight
	default:
		return Pawn
	}
}

func colorOf(c chess.Color) Color {
	if c == chess.White {
		return White
	}
	return Black
}
