package chessplay

import (
	"errors"
	"strings"
	"sync"

	pkgerrors "github.com/pkg/errors"
)

// Puzzle session failure modes.
var (
	// ErrWrongPuzzleMove marks a legal move that does not match the scripted
	// solution. The move is discarded and the player retries.
	ErrWrongPuzzleMove = errors.New("move does not match the solution")
	// ErrPuzzleComplete is returned for move commands against a solved
	// session, which is read-only review mode.
	ErrPuzzleComplete = errors.New("puzzle already solved")
)

// PuzzleState is the coarse state of a puzzle session.
type PuzzleState string

const (
	PuzzleAwaitingOpponent PuzzleState = "awaiting_opponent"
	PuzzleAwaitingPlayer   PuzzleState = "awaiting_player"
	PuzzleSolved           PuzzleState = "solved"
)

// PuzzleDefinition is an externally supplied puzzle: a start position and
// the unique correct line in origin+destination+promotion form. The side to
// move in FEN plays Moves[0], the setup move; the human plays every odd
// index.
type PuzzleDefinition struct {
	ID     string   `json:"id"`
	FEN    string   `json:"fen"`
	Moves  []string `json:"moves"`
	Tags   []string `json:"tags,omitempty"`
	Rating int      `json:"rating,omitempty"`
}

// PlayerMoves is the number of moves the human contributes to the line.
func (d PuzzleDefinition) PlayerMoves() int {
	return len(d.Moves) / 2
}

// PuzzleOutcome reports the effect of an accepted puzzle command.
type PuzzleOutcome struct {
	Played   MoveRecord
	Reply    *MoveRecord
	Solved   bool
	State    PuzzleState
	Feedback string
}

// PuzzleSession validates player moves against a prerecorded solution with
// scripted opponent replies. The cursor indexes the next solution move to
// apply and always equals the history length.
type PuzzleSession struct {
	mu sync.Mutex

	def      PuzzleDefinition
	oracle   Oracle
	progress *ProgressStore

	pos     Position
	cursor  int
	history []MoveRecord
	solved  bool
}

// NewPuzzleSession opens a puzzle. A puzzle already marked solved is
// fast-forwarded through its whole line into read-only review mode instead
// of requiring re-solving.
func NewPuzzleSession(oracle Oracle, progress *ProgressStore, def PuzzleDefinition) (*PuzzleSession, error) {
	s := &PuzzleSession{def: def, oracle: oracle, progress: progress}
	if err := s.load(progress.IsSolved(def.ID)); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PuzzleSession) load(review bool) error {
	pos, err := s.oracle.FromFEN(s.def.FEN)
	if err != nil {
		return pkgerrors.Wrapf(err, "puzzle %s", s.def.ID)
	}
	s.pos = pos
	s.cursor = 0
	s.history = nil
	s.solved = false

	if review {
		// Mark solved first so the replay below does not re-write progress.
		s.solved = true
		return s.replayRemaining()
	}
	return s.replayOpponent()
}

// replayOpponent applies scripted non-player moves until it is the player's
// turn or the line is exhausted. Scripted moves are legal by construction;
// an oracle rejection means the definition is corrupt.
func (s *PuzzleSession) replayOpponent() error {
	for !s.solved && s.cursor < len(s.def.Moves) && s.cursor%2 == 0 {
		if err := s.applyScripted(MovedByOpponent); err != nil {
			return err
		}
	}
	return nil
}

func (s *PuzzleSession) applyScripted(by MoveSource) error {
	uci := s.def.Moves[s.cursor]
	next, info, err := s.oracle.ApplyUCI(s.pos, uci)
	if err != nil {
		return pkgerrors.Wrapf(err, "puzzle %s: scripted move %d (%s) is not legal", s.def.ID, s.cursor, uci)
	}
	s.advance(next, MoveRecord{SAN: info.SAN, By: by})
	return nil
}

// advance appends one record and moves the cursor a single step forward.
func (s *PuzzleSession) advance(next Position, rec MoveRecord) {
	s.pos = next
	s.history = append(s.history, rec)
	s.cursor++
	if s.cursor == len(s.def.Moves) {
		s.markSolved()
	}
}

// markSolved flips the solved flag and writes progress exactly once.
func (s *PuzzleSession) markSolved() {
	if s.solved {
		return
	}
	s.solved = true
	if err := s.progress.MarkSolved(s.def.ID); err != nil {
		log.Warn("failed to persist puzzle progress", "puzzle", s.def.ID, "error", err)
	}
}

func (s *PuzzleSession) stateLocked() PuzzleState {
	switch {
	case s.solved:
		return PuzzleSolved
	case s.cursor%2 == 0:
		return PuzzleAwaitingOpponent
	default:
		return PuzzleAwaitingPlayer
	}
}

// State reports the session state. The player occupies the odd cursor
// parity by construction, regardless of color.
func (s *PuzzleSession) State() PuzzleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// PlayerColor is the color of the side the human plays: the side not to
// move in the start position, since the opponent plays the setup move.
func (s *PuzzleSession) PlayerColor() Color {
	start, err := s.oracle.FromFEN(s.def.FEN)
	if err != nil {
		return White
	}
	return s.oracle.Status(start).SideToMove.Other()
}

func (s *PuzzleSession) Definition() PuzzleDefinition { return s.def }

func (s *PuzzleSession) Solved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.solved
}

// History returns a copy of the applied move records.
func (s *PuzzleSession) History() []MoveRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]MoveRecord(nil), s.history...)
}

func (s *PuzzleSession) FEN() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos.FEN()
}

// SubmitMove checks a player move against the solution. An illegal move
// returns an *IllegalMoveError with a diagnostic; a legal move that is not
// the scripted one is discarded before it ever reaches the history and
// returns ErrWrongPuzzleMove.
func (s *PuzzleSession) SubmitMove(text string) (*PuzzleOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.solved {
		return nil, ErrPuzzleComplete
	}
	if s.stateLocked() != PuzzleAwaitingPlayer {
		return nil, ErrNotPlayersTurn
	}

	input := strings.TrimSpace(text)
	next, info, err := s.oracle.ApplySAN(s.pos, input)
	if err != nil {
		return nil, &IllegalMoveError{Move: input, Reason: Diagnose(input, s.pos, s.oracle)}
	}
	if !strings.EqualFold(info.UCI, s.def.Moves[s.cursor]) {
		// Legal but wrong: drop the candidate position, keep the session
		// untouched.
		return nil, ErrWrongPuzzleMove
	}

	rec := MoveRecord{SAN: info.SAN, By: MovedByPlayer}
	s.advance(next, rec)
	return s.afterPlayerMove(rec, "")
}

// Hint plays the scripted move on the player's behalf, exactly as if it had
// been submitted, and surfaces its notation.
func (s *PuzzleSession) Hint() (*PuzzleOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.solved {
		return nil, ErrPuzzleComplete
	}
	if s.stateLocked() != PuzzleAwaitingPlayer {
		return nil, ErrNotPlayersTurn
	}

	if err := s.applyScripted(MovedByPlayer); err != nil {
		return nil, err
	}
	played := s.history[len(s.history)-1]
	return s.afterPlayerMove(played, "Hint: "+played.SAN)
}

// afterPlayerMove replays the scripted reply, if any, and assembles the
// outcome. Callers hold s.mu and have already advanced past the player move.
func (s *PuzzleSession) afterPlayerMove(played MoveRecord, feedback string) (*PuzzleOutcome, error) {
	if err := s.replayOpponent(); err != nil {
		return nil, err
	}
	out := &PuzzleOutcome{
		Played:   played,
		Solved:   s.solved,
		State:    s.stateLocked(),
		Feedback: feedback,
	}
	if last := len(s.history) - 1; last >= 0 && s.history[last].By == MovedByOpponent {
		reply := s.history[last]
		out.Reply = &reply
	}
	if s.solved {
		out.Feedback = "Puzzle solved!"
	}
	return out, nil
}

// ShowSolution replays the remaining script to completion and marks the
// puzzle solved. Calling it on a solved session is a no-op.
func (s *PuzzleSession) ShowSolution() (*PuzzleOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.solved {
		if err := s.replayRemaining(); err != nil {
			return nil, err
		}
		s.markSolved()
	}

	sans := make([]string, len(s.history))
	for i, rec := range s.history {
		sans[i] = rec.SAN
	}
	return &PuzzleOutcome{
		Solved:   true,
		State:    PuzzleSolved,
		Feedback: "Solution: " + strings.Join(sans, ", "),
	}, nil
}

// replayRemaining applies every remaining scripted move, attributing each by
// its parity.
func (s *PuzzleSession) replayRemaining() error {
	for s.cursor < len(s.def.Moves) {
		by := MovedByOpponent
		if s.cursor%2 == 1 {
			by = MovedByPlayer
		}
		if err := s.applyScripted(by); err != nil {
			return err
		}
	}
	return nil
}

// Reset unmarks any recorded progress for this puzzle and reinitializes the
// session for another attempt.
func (s *PuzzleSession) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.progress.Unmark(s.def.ID); err != nil {
		log.Warn("failed to unmark puzzle progress", "puzzle", s.def.ID, "error", err)
	}
	return s.load(false)
}
