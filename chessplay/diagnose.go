package chessplay

import (
	"fmt"
	"strings"
)

// moveShape tags the syntactic class of an attempted move string. Classifying
// before branching keeps the diagnostic precedence auditable.
type moveShape int

const (
	shapeEmpty moveShape = iota
	shapeCastleKingside
	shapeCastleQueenside
	shapePawn
	shapePiece
	shapeOther
)

// shapedMove is the classifier output for one input string.
type shapedMove struct {
	shape moveShape

	// pawn and piece shapes
	target  Square
	srcFile byte // disambiguating file, 0 if absent
	srcRank byte // disambiguating rank (piece shape only), 0 if absent
	piece   Kind // piece shape only
}

// classifyMove tokenizes an attempted move into its shape. Check, mate and
// promotion suffixes are ignored for shape purposes.
func classifyMove(input string) shapedMove {
	if input == "" {
		return shapedMove{shape: shapeEmpty}
	}

	switch lower := strings.ToLower(input); lower {
	case "o-o", "0-0":
		return shapedMove{shape: shapeCastleKingside}
	case "o-o-o", "0-0-0":
		return shapedMove{shape: shapeCastleQueenside}
	}

	body := stripSuffixes(input)

	if sm, ok := classifyPawn(body); ok {
		return sm
	}
	if sm, ok := classifyPiece(body); ok {
		return sm
	}
	return shapedMove{shape: shapeOther}
}

// stripSuffixes removes a trailing check/mate marker and a trailing
// promotion piece (with or without "=").
func stripSuffixes(s string) string {
	if n := len(s); n > 0 && (s[n-1] == '+' || s[n-1] == '#') {
		s = s[:n-1]
	}
	if n := len(s); n > 0 && strings.ContainsRune("QRBN", rune(s[n-1])) {
		s = s[:n-1]
		if m := len(s); m > 0 && s[m-1] == '=' {
			s = s[:m-1]
		}
	}
	return s
}

func isFile(b byte) bool { return b >= 'a' && b <= 'h' }
func isRank(b byte) bool { return b >= '1' && b <= '8' }

// classifyPawn matches [file]? x? file rank.
func classifyPawn(s string) (shapedMove, bool) {
	sm := shapedMove{shape: shapePawn}
	i := 0
	if len(s) >= 3 && isFile(s[i]) && (s[i+1] == 'x' || isFile(s[i+1])) {
		sm.srcFile = s[i]
		i++
	}
	if i < len(s) && s[i] == 'x' {
		i++
	}
	if len(s)-i != 2 || !isFile(s[i]) || !isRank(s[i+1]) {
		return shapedMove{}, false
	}
	sm.target = Square(s[i : i+2])
	return sm, true
}

// classifyPiece matches [KQRBN] [file]? [rank]? x? file rank.
func classifyPiece(s string) (shapedMove, bool) {
	if len(s) < 3 || !strings.ContainsRune("KQRBN", rune(s[0])) {
		return shapedMove{}, false
	}
	sm := shapedMove{shape: shapePiece}
	switch s[0] {
	case 'K':
		sm.piece = King
	case 'Q':
		sm.piece = Queen
	case 'R':
		sm.piece = Rook
	case 'B':
		sm.piece = Bishop
	case 'N':
		sm.piece = Knight
	}
	rest := s[1:]
	// The final two characters are the destination.
	if len(rest) < 2 {
		return shapedMove{}, false
	}
	dest := rest[len(rest)-2:]
	if !isFile(dest[0]) || !isRank(dest[1]) {
		return shapedMove{}, false
	}
	sm.target = Square(dest)
	mid := rest[:len(rest)-2]
	if n := len(mid); n > 0 && mid[n-1] == 'x' {
		mid = mid[:n-1]
	}
	for i := 0; i < len(mid); i++ {
		switch {
		case isFile(mid[i]) && sm.srcFile == 0:
			sm.srcFile = mid[i]
		case isRank(mid[i]) && sm.srcRank == 0:
			sm.srcRank = mid[i]
		default:
			return shapedMove{}, false
		}
	}
	return sm, true
}

// looksLikeUCI reports whether the raw input is two back-to-back squares.
func looksLikeUCI(s string) bool {
	return len(s) == 4 && isFile(s[0]) && isRank(s[1]) && isFile(s[2]) && isRank(s[3])
}

// hasPromotionSuffix reports a "=Q" style ending, case-insensitive.
func hasPromotionSuffix(s string) bool {
	if len(s) < 2 {
		return false
	}
	last := s[len(s)-1]
	return s[len(s)-2] == '=' && strings.ContainsRune("QRBNqrbn", rune(last))
}

// Diagnose explains why the oracle rejected input as a move in position p.
// It is invoked only after rejection, never mutates the position, and is
// deterministic for identical arguments.
func Diagnose(input string, p Position, o Oracle) string {
	sm := classifyMove(input)
	if sm.shape == shapeEmpty {
		return "Please enter a move."
	}

	legal := o.LegalMoves(p)
	st := o.Status(p)
	side := st.SideToMove

	switch sm.shape {
	case shapeCastleKingside:
		if msg := diagnoseCastle(o, p, st, side, legal, true); msg != "" {
			return msg
		}
	case shapeCastleQueenside:
		if msg := diagnoseCastle(o, p, st, side, legal, false); msg != "" {
			return msg
		}
	case shapePawn:
		if msg := diagnosePawn(o, p, st, side, legal, sm); msg != "" {
			return msg
		}
	case shapePiece:
		if msg := diagnosePiece(o, p, st, side, legal, sm); msg != "" {
			return msg
		}
	}

	if !strings.ContainsRune("abcdefghKQRBNO0", rune(input[0])) {
		return "Invalid notation."
	}

	if hasPromotionSuffix(input) {
		promoRank := byte('8')
		ordinal := "8th"
		if side == Black {
			promoRank = '1'
			ordinal = "1st"
		}
		if !strings.ContainsRune(input, rune(promoRank)) {
			return fmt.Sprintf("Promotion is only possible when a pawn reaches the %s rank.", ordinal)
		}
	}

	if looksLikeUCI(input) {
		return fmt.Sprintf("%q looks like UCI notation. Use standard algebraic notation instead.", input)
	}

	return fmt.Sprintf("%q is not a valid move.", input)
}

func diagnoseCastle(o Oracle, p Position, st Status, side Color, legal []MoveInfo, kingside bool) string {
	san := "O-O-O"
	label := "queenside"
	rookFile := byte('a')
	if kingside {
		san = "O-O"
		label = "kingside"
		rookFile = 'h'
	}
	for _, m := range legal {
		if strings.TrimRight(m.SAN, "+#") == san {
			return "" // legal after all; fall through to the generic path
		}
	}
	if st.InCheck {
		return "Cannot castle while in check."
	}
	homeRank := byte('1')
	if side == Black {
		homeRank = '8'
	}
	kingSq := Square([]byte{'e', homeRank})
	if piece, ok := o.PieceAt(p, kingSq); !ok || piece.Kind != King || piece.Color != side {
		return "Cannot castle — king has moved."
	}
	rookSq := Square([]byte{rookFile, homeRank})
	if piece, ok := o.PieceAt(p, rookSq); !ok || piece.Kind != Rook || piece.Color != side {
		return fmt.Sprintf("Cannot castle %s — rook has moved or is missing.", label)
	}
	return fmt.Sprintf("Cannot castle %s — path is blocked or passes through check.", label)
}

func diagnosePawn(o Oracle, p Position, st Status, side Color, legal []MoveInfo, sm shapedMove) string {
	var pawnMoves []MoveInfo
	for _, m := range legal {
		if m.Piece == Pawn && m.To == sm.target {
			pawnMoves = append(pawnMoves, m)
		}
	}

	if sm.srcFile != 0 {
		// A source file was given; report specifically when no pawn on that
		// file can make the move.
		for _, m := range pawnMoves {
			if m.From.File() == sm.srcFile {
				return ""
			}
		}
		return fmt.Sprintf("No pawn on the %c-file can capture on %s.", sm.srcFile, sm.target)
	}

	if len(pawnMoves) > 0 {
		return ""
	}

	targetFile := sm.target.File()
	targetRank := int(sm.target.Rank() - '0')

	// Pawns of the mover's color on the target file, highest rank first.
	var pawnsOnFile []Square
	for r := byte('8'); r >= '1'; r-- {
		sq := Square([]byte{targetFile, r})
		if piece, ok := o.PieceAt(p, sq); ok && piece.Kind == Pawn && piece.Color == side {
			pawnsOnFile = append(pawnsOnFile, sq)
		}
	}

	_, isOccupied := o.PieceAt(p, sm.target)

	if len(pawnsOnFile) > 0 {
		pawnSq := pawnsOnFile[0]
		pawnRank := int(pawnSq.Rank() - '0')

		if pawnSq == sm.target {
			return fmt.Sprintf("Your pawn is already on %s.", sm.target)
		}
		if (side == White && targetRank < pawnRank) || (side == Black && targetRank > pawnRank) {
			return "Pawns cannot move backwards."
		}
		distance := targetRank - pawnRank
		if distance < 0 {
			distance = -distance
		}
		startRank := 2
		if side == Black {
			startRank = 7
		}
		if distance > 2 {
			return "Pawns can only move 1 square forward, or 2 from the starting position."
		}
		if distance == 2 && pawnRank != startRank {
			return "Pawns can only move 2 squares from their starting position."
		}
		if isOccupied {
			return fmt.Sprintf("Cannot move pawn to %s — square is occupied. Pawns capture diagonally.", sm.target)
		}
		if distance == 2 {
			midRank := byte(pawnRank + 1 + '0')
			if side == Black {
				midRank = byte(pawnRank - 1 + '0')
			}
			midSq := Square([]byte{targetFile, midRank})
			if blocker, ok := o.PieceAt(p, midSq); ok {
				return fmt.Sprintf("Cannot move pawn to %s — path is blocked by %s %s on %s.",
					sm.target, blocker.Color, blocker.Kind.Name(), midSq)
			}
		}
	}

	if isOccupied {
		return fmt.Sprintf("Cannot move pawn to %s — square is occupied. Pawns capture diagonally.", sm.target)
	}
	if len(pawnsOnFile) == 0 {
		return fmt.Sprintf("You don't have a pawn on the %c-file.", targetFile)
	}
	if st.InCheck {
		return "Invalid move — you must get out of check."
	}
	return fmt.Sprintf("Cannot move pawn to %s — this move would leave your king in check.", sm.target)
}

func diagnosePiece(o Oracle, p Position, st Status, side Color, legal []MoveInfo, sm shapedMove) string {
	name := sm.piece.Name()

	var pieceMoves []MoveInfo
	for _, m := range legal {
		if m.Piece == sm.piece && m.To == sm.target {
			pieceMoves = append(pieceMoves, m)
		}
	}

	if len(pieceMoves) == 0 {
		if !pieceOnBoard(o, p, side, sm.piece) {
			return fmt.Sprintf("You don't have a %s on the board.", name)
		}
		if piece, ok := o.PieceAt(p, sm.target); ok && piece.Color == side {
			return fmt.Sprintf("Cannot move %s to %s — square is occupied by your own %s.",
				name, sm.target, piece.Kind.Name())
		}
		if st.InCheck {
			return fmt.Sprintf("Cannot move %s to %s — you must get out of check.", name, sm.target)
		}
		return fmt.Sprintf("%s cannot move to %s — either no %s can reach that square, or it would leave your king in check.",
			name, sm.target, name)
	}

	if len(pieceMoves) > 1 && sm.srcFile == 0 && sm.srcRank == 0 {
		origins := make([]string, len(pieceMoves))
		for i, m := range pieceMoves {
			origins[i] = string(m.From)
		}
		return fmt.Sprintf("Ambiguous move — multiple %ss can move to %s (from %s).",
			name, sm.target, strings.Join(origins, " or "))
	}

	return ""
}

func pieceOnBoard(o Oracle, p Position, side Color, kind Kind) bool {
	for f := byte('a'); f <= 'h'; f++ {
		for r := byte('1'); r <= '8'; r++ {
			if piece, ok := o.PieceAt(p, Square([]byte{f, r})); ok && piece.Kind == kind && piece.Color == side {
				return true
			}
		}
	}
	return false
}
