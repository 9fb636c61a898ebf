package chessplay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Game session failure modes.
var (
	// ErrNotPlayersTurn is returned for a move submitted while the engine is
	// to move or thinking.
	ErrNotPlayersTurn = errors.New("not the player's turn")
	// ErrNotEnginesTurn is returned when an engine move is requested outside
	// the AwaitingEngine state.
	ErrNotEnginesTurn = errors.New("not the engine's turn")
	// ErrStaleEngineResponse marks an engine reply that arrived after the
	// session was resigned or finished. The reply is discarded.
	ErrStaleEngineResponse = errors.New("stale engine response")
	// ErrGameFinished is returned for move commands against a finished game.
	ErrGameFinished = errors.New("game is finished")
	// ErrGameNotFinished is returned by Acknowledge while the game is still
	// in play.
	ErrGameNotFinished = errors.New("game is not finished")
)

// GameState is the coarse state of a game session.
type GameState string

const (
	StateAwaitingPlayer GameState = "awaiting_player"
	StateAwaitingEngine GameState = "awaiting_engine"
	StateFinished       GameState = "finished"
)

// MoveSource identifies who played a recorded move.
type MoveSource string

const (
	MovedByPlayer   MoveSource = "player"
	MovedByEngine   MoveSource = "engine"
	MovedByOpponent MoveSource = "opponent"
)

// MoveRecord is one accepted move. The append-only record sequence is the
// single source of truth for whose turn it is and whether the game is over.
type MoveRecord struct {
	SAN string     `json:"san"`
	By  MoveSource `json:"by"`
}

// Result is the archived outcome of a finished game.
type Result string

const (
	ResultWin      Result = "win"
	ResultLoss     Result = "loss"
	ResultDraw     Result = "draw"
	ResultResigned Result = "resigned"
)

// GameSnapshot is the active-store form of a session; a reload resumes the
// session by replaying its moves.
type GameSnapshot struct {
	ID          string       `json:"id"`
	StartedAt   time.Time    `json:"startedAt"`
	Difficulty  Difficulty   `json:"difficulty"`
	Strength    Strength     `json:"strength"`
	PlayerColor Color        `json:"playerColor"`
	Moves       []MoveRecord `json:"moves"`
}

// GameRecord is the immutable archival form of a finished game.
type GameRecord struct {
	ID          string     `json:"id"`
	StartedAt   time.Time  `json:"startedAt"`
	Difficulty  Difficulty `json:"difficulty"`
	PlayerColor Color      `json:"playerColor"`
	Result      Result     `json:"result"`
	Moves       []string   `json:"moves"`
}

// IllegalMoveError carries the diagnostic for a rejected move.
type IllegalMoveError struct {
	Move   string
	Reason string
}

func (e *IllegalMoveError) Error() string {
	return fmt.Sprintf("illegal move %q: %s", e.Move, e.Reason)
}

func (e *IllegalMoveError) Unwrap() error { return ErrIllegalMove }

// MoveOutcome reports the effect of an accepted move.
type MoveOutcome struct {
	Record     MoveRecord
	Status     Status
	StatusLine string
	State      GameState
	Result     Result
}

// GameSession coordinates player and engine turns on one live game. All
// commands are safe for concurrent use, though the surrounding control flow
// is expected to serialize them; the only suspending operation is
// PlayEngineMove.
type GameSession struct {
	mu sync.Mutex

	id         string
	startedAt  time.Time
	difficulty Difficulty
	strength   Strength
	humanSide  Color
	history    []MoveRecord
	pos        Position
	finished   bool
	result     Result
	archived   bool
	inFlight   bool
	generation uint64

	oracle Oracle
	engine MoveSearcher
	games  *GameStore
}

// NewGameSession starts a fresh game from the standard position.
func NewGameSession(oracle Oracle, engine MoveSearcher, games *GameStore, difficulty Difficulty, humanSide Color) *GameSession {
	s := &GameSession{
		id:         uuid.NewString(),
		startedAt:  time.Now().UTC(),
		difficulty: difficulty,
		strength:   difficulty.Strength(),
		humanSide:  humanSide,
		pos:        oracle.StartingPosition(),
		oracle:     oracle,
		engine:     engine,
		games:      games,
	}
	s.persist()
	return s
}

// ResumeGameSession rebuilds a session from a stored snapshot by replaying
// its move history through the oracle.
func ResumeGameSession(oracle Oracle, engine MoveSearcher, games *GameStore, snap GameSnapshot) (*GameSession, error) {
	s := &GameSession{
		id:         snap.ID,
		startedAt:  snap.StartedAt,
		difficulty: snap.Difficulty,
		strength:   snap.Strength,
		humanSide:  snap.PlayerColor,
		pos:        oracle.StartingPosition(),
		oracle:     oracle,
		engine:     engine,
		games:      games,
	}
	for _, rec := range snap.Moves {
		next, _, err := oracle.ApplySAN(s.pos, rec.SAN)
		if err != nil {
			return nil, fmt.Errorf("replay move %q: %w", rec.SAN, err)
		}
		s.pos = next
		s.history = append(s.history, rec)
	}
	// A snapshot can hold a game that ended right before shutdown.
	if st := oracle.Status(s.pos); st.Terminal() {
		s.finished = true
		s.result = resultOf(st, s.humanSide)
	}
	return s, nil
}

func (s *GameSession) ID() string             { return s.id }
func (s *GameSession) PlayerColor() Color     { return s.humanSide }
func (s *GameSession) Difficulty() Difficulty { return s.difficulty }

// History returns a copy of the accepted move records.
func (s *GameSession) History() []MoveRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]MoveRecord(nil), s.history...)
}

// FEN returns the current position snapshot.
func (s *GameSession) FEN() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos.FEN()
}

// sideToMove is always derived from history parity, never stored.
func (s *GameSession) sideToMove() Color {
	if len(s.history)%2 == 0 {
		return White
	}
	return Black
}

func (s *GameSession) stateLocked() GameState {
	if s.finished {
		return StateFinished
	}
	if s.sideToMove() == s.humanSide {
		return StateAwaitingPlayer
	}
	return StateAwaitingEngine
}

// State reports the session state, derived from history parity and the
// finished flag.
func (s *GameSession) State() GameState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// Result is meaningful only in StateFinished.
func (s *GameSession) Result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// SubmitMove applies a player move given in algebraic notation. A rejected
// move leaves the session unchanged and returns an *IllegalMoveError whose
// Reason explains the rejection.
func (s *GameSession) SubmitMove(text string) (*MoveOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return nil, ErrGameFinished
	}
	if s.stateLocked() != StateAwaitingPlayer || s.inFlight {
		return nil, ErrNotPlayersTurn
	}

	input := strings.TrimSpace(text)
	next, info, err := s.oracle.ApplySAN(s.pos, input)
	if err != nil {
		return nil, &IllegalMoveError{Move: input, Reason: Diagnose(input, s.pos, s.oracle)}
	}
	return s.acceptLocked(next, MoveRecord{SAN: info.SAN, By: MovedByPlayer}), nil
}

// PlayEngineMove requests a best move for the current position and applies
// it. Valid only in StateAwaitingEngine. A response that lands after the
// session moved on (resignation, archive) is discarded with
// ErrStaleEngineResponse.
func (s *GameSession) PlayEngineMove(ctx context.Context) (*MoveOutcome, error) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return nil, ErrGameFinished
	}
	if s.stateLocked() != StateAwaitingEngine {
		s.mu.Unlock()
		return nil, ErrNotEnginesTurn
	}
	if s.inFlight {
		s.mu.Unlock()
		return nil, ErrSearchInProgress
	}
	s.inFlight = true
	gen := s.generation
	fen := s.pos.FEN()
	s.mu.Unlock()

	move, err := s.engine.BestMove(ctx, fen)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false

	if s.generation != gen || s.finished {
		return nil, ErrStaleEngineResponse
	}
	if err != nil {
		if errors.Is(err, ErrNoMoveAvailable) && !s.oracle.Status(s.pos).Terminal() {
			// Invariant violation: the oracle still sees legal moves. Leave
			// the session awaiting the engine so the user can resign.
			log.Error("engine returned no move at a non-terminal position",
				"session", s.id, "fen", fen)
		}
		return nil, err
	}

	next, info, applyErr := s.oracle.ApplyUCI(s.pos, move)
	if applyErr != nil {
		log.Error("engine move rejected by oracle", "session", s.id, "move", move, "fen", fen)
		return nil, applyErr
	}
	return s.acceptLocked(next, MoveRecord{SAN: info.SAN, By: MovedByEngine}), nil
}

// acceptLocked appends an accepted move, persists the snapshot and
// recomputes the terminal status. Callers hold s.mu.
func (s *GameSession) acceptLocked(next Position, rec MoveRecord) *MoveOutcome {
	s.pos = next
	s.history = append(s.history, rec)
	s.persist()

	st := s.oracle.Status(s.pos)
	if st.Terminal() {
		s.finished = true
		s.result = resultOf(st, s.humanSide)
	}
	return &MoveOutcome{
		Record:     rec,
		Status:     st,
		StatusLine: s.statusLine(st),
		State:      s.stateLocked(),
		Result:     s.result,
	}
}

// Resign ends the game from any state. An in-flight engine search is not
// waited for; its eventual response fails the generation check.
func (s *GameSession) Resign() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	if !s.finished {
		s.finished = true
		s.result = ResultResigned
	}
	return s.archiveLocked()
}

// Acknowledge archives a finished game and removes its active record.
func (s *GameSession) Acknowledge() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.finished {
		return ErrGameNotFinished
	}
	return s.archiveLocked()
}

func (s *GameSession) archiveLocked() error {
	if s.archived {
		return nil
	}
	moves := make([]string, len(s.history))
	for i, rec := range s.history {
		moves[i] = rec.SAN
	}
	if err := s.games.SaveRecord(GameRecord{
		ID:          s.id,
		StartedAt:   s.startedAt,
		Difficulty:  s.difficulty,
		PlayerColor: s.humanSide,
		Result:      s.result,
		Moves:       moves,
	}); err != nil {
		return err
	}
	if err := s.games.DeleteActive(s.id); err != nil {
		log.Warn("failed to delete active game record", "session", s.id, "error", err)
	}
	s.archived = true
	return nil
}

// persist writes the full session snapshot. Failures are logged, never
// surfaced: persistence is fire-and-forget.
func (s *GameSession) persist() {
	if err := s.games.SaveActive(GameSnapshot{
		ID:          s.id,
		StartedAt:   s.startedAt,
		Difficulty:  s.difficulty,
		Strength:    s.strength,
		PlayerColor: s.humanSide,
		Moves:       append([]MoveRecord(nil), s.history...),
	}); err != nil {
		log.Warn("failed to persist active game", "session", s.id, "error", err)
	}
}

func (s *GameSession) statusLine(st Status) string {
	switch {
	case st.Checkmate:
		if resultOf(st, s.humanSide) == ResultWin {
			return "Checkmate! You won!"
		}
		return "Checkmate! The engine wins."
	case st.Stalemate:
		return "Stalemate. Draw."
	case st.DrawReason != "":
		return "Draw."
	case st.InCheck:
		return "Check!"
	default:
		return ""
	}
}

// resultOf derives the archived result from a terminal status: the side to
// move at checkmate is the loser.
func resultOf(st Status, humanSide Color) Result {
	if st.Checkmate {
		if st.SideToMove.Other() == humanSide {
			return ResultWin
		}
		return ResultLoss
	}
	return ResultDraw
}
