package chessplay

import (
	"context"
	"errors"
	"testing"

	"github.com/hferris/textchess/store"
)

// scriptedSearcher returns canned engine moves in order. An optional gate
// lets a test hold a search open while the session does something else.
type scriptedSearcher struct {
	moves   []string
	calls   int
	entered chan struct{} // closed when a search begins, if set
	release chan struct{} // search blocks until closed, if set
}

func (s *scriptedSearcher) Ready() bool { return true }

func (s *scriptedSearcher) BestMove(ctx context.Context, fen string) (string, error) {
	if s.entered != nil {
		close(s.entered)
		s.entered = nil
	}
	if s.release != nil {
		<-s.release
	}
	if s.calls >= len(s.moves) {
		return "", ErrNoMoveAvailable
	}
	move := s.moves[s.calls]
	s.calls++
	return move, nil
}

func (s *scriptedSearcher) Close() error { return nil }

func newTestGame(t *testing.T, searcher MoveSearcher, humanSide Color) (*GameSession, *GameStore) {
	t.Helper()
	games := NewGameStore(store.NewMemory())
	return NewGameSession(NewRules(), searcher, games, Medium, humanSide), games
}

func TestGameSessionOpeningExchange(t *testing.T) {
	searcher := &scriptedSearcher{moves: []string{"e7e5"}}
	session, games := newTestGame(t, searcher, White)

	if got := session.State(); got != StateAwaitingPlayer {
		t.Fatalf("initial state = %s, want %s", got, StateAwaitingPlayer)
	}
	if _, ok := games.ActiveGame(session.ID()); !ok {
		t.Error("new session not persisted")
	}

	outcome, err := session.SubmitMove("e4")
	if err != nil {
		t.Fatalf("failed to submit e4: %v", err)
	}
	if outcome.Record.SAN != "e4" || outcome.Record.By != MovedByPlayer {
		t.Errorf("player record = %+v", outcome.Record)
	}
	if outcome.State != StateAwaitingEngine {
		t.Errorf("state after player move = %s, want %s", outcome.State, StateAwaitingEngine)
	}

	outcome, err = session.PlayEngineMove(context.Background())
	if err != nil {
		t.Fatalf("engine move failed: %v", err)
	}
	if outcome.Record.SAN != "e5" || outcome.Record.By != MovedByEngine {
		t.Errorf("engine record = %+v", outcome.Record)
	}
	if outcome.State != StateAwaitingPlayer {
		t.Errorf("state after engine move = %s, want %s", outcome.State, StateAwaitingPlayer)
	}
	if searcher.calls != 1 {
		t.Errorf("engine searched %d times, want 1", searcher.calls)
	}

	history := session.History()
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	snap, ok := games.ActiveGame(session.ID())
	if !ok || len(snap.Moves) != 2 {
		t.Errorf("persisted snapshot = %+v, %v", snap, ok)
	}
}

func TestGameSessionEngineOpensForBlack(t *testing.T) {
	searcher := &scriptedSearcher{moves: []string{"e2e4"}}
	session, _ := newTestGame(t, searcher, Black)

	if got := session.State(); got != StateAwaitingEngine {
		t.Fatalf("initial state = %s, want %s", got, StateAwaitingEngine)
	}
	if _, err := session.SubmitMove("e5"); !errors.Is(err, ErrNotPlayersTurn) {
		t.Errorf("SubmitMove out of turn err = %v, want ErrNotPlayersTurn", err)
	}

	outcome, err := session.PlayEngineMove(context.Background())
	if err != nil {
		t.Fatalf("engine move failed: %v", err)
	}
	if outcome.Record.SAN != "e4" {
		t.Errorf("engine SAN = %q, want e4", outcome.Record.SAN)
	}
	if got := session.State(); got != StateAwaitingPlayer {
		t.Errorf("state = %s, want %s", got, StateAwaitingPlayer)
	}
}

func TestSubmitMoveRejectsIllegalWithDiagnostic(t *testing.T) {
	session, _ := newTestGame(t, &scriptedSearcher{}, White)

	_, err := session.SubmitMove("e5")
	var illegal *IllegalMoveError
	if !errors.As(err, &illegal) {
		t.Fatalf("err = %v, want *IllegalMoveError", err)
	}
	if !errors.Is(err, ErrIllegalMove) {
		t.Error("IllegalMoveError does not unwrap to ErrIllegalMove")
	}
	if illegal.Reason == "" {
		t.Error("diagnostic reason is empty")
	}
	if len(session.History()) != 0 {
		t.Error("rejected move reached the history")
	}
	if got := session.State(); got != StateAwaitingPlayer {
		t.Errorf("state after rejection = %s, want %s", got, StateAwaitingPlayer)
	}
}

func TestPlayEngineMoveOutOfTurn(t *testing.T) {
	session, _ := newTestGame(t, &scriptedSearcher{}, White)
	if _, err := session.PlayEngineMove(context.Background()); !errors.Is(err, ErrNotEnginesTurn) {
		t.Errorf("err = %v, want ErrNotEnginesTurn", err)
	}
}

func TestCheckmateFinishesAndArchives(t *testing.T) {
	searcher := &scriptedSearcher{moves: []string{"e7e5", "d8h4"}}
	session, games := newTestGame(t, searcher, White)

	if _, err := session.SubmitMove("f3"); err != nil {
		t.Fatalf("failed to submit f3: %v", err)
	}
	if _, err := session.PlayEngineMove(context.Background()); err != nil {
		t.Fatalf("engine reply failed: %v", err)
	}
	if _, err := session.SubmitMove("g4"); err != nil {
		t.Fatalf("failed to submit g4: %v", err)
	}
	outcome, err := session.PlayEngineMove(context.Background())
	if err != nil {
		t.Fatalf("mating move failed: %v", err)
	}

	if !outcome.Status.Checkmate {
		t.Error("checkmate not reported")
	}
	if outcome.StatusLine != "Checkmate! The engine wins." {
		t.Errorf("status line = %q", outcome.StatusLine)
	}
	if outcome.State != StateFinished {
		t.Errorf("state = %s, want %s", outcome.State, StateFinished)
	}
	if outcome.Result != ResultLoss {
		t.Errorf("result = %s, want %s", outcome.Result, ResultLoss)
	}

	if _, err := session.SubmitMove("a3"); !errors.Is(err, ErrGameFinished) {
		t.Errorf("SubmitMove after mate err = %v, want ErrGameFinished", err)
	}

	if err := session.Acknowledge(); err != nil {
		t.Fatalf("acknowledge failed: %v", err)
	}
	if _, ok := games.ActiveGame(session.ID()); ok {
		t.Error("acknowledged game still active")
	}
	rec, ok := games.RecordByID(session.ID())
	if !ok {
		t.Fatal("acknowledged game not archived")
	}
	if rec.Result != ResultLoss || len(rec.Moves) != 4 {
		t.Errorf("archived record = %+v", rec)
	}
}

func TestEngineNoMoveLeavesSessionResignable(t *testing.T) {
	// An exhausted script reports no move for every search, which at a
	// non-terminal position is an invariant violation on the engine's side.
	searcher := &scriptedSearcher{}
	session, games := newTestGame(t, searcher, White)

	if _, err := session.SubmitMove("e4"); err != nil {
		t.Fatalf("failed to submit e4: %v", err)
	}
	if _, err := session.PlayEngineMove(context.Background()); !errors.Is(err, ErrNoMoveAvailable) {
		t.Fatalf("err = %v, want ErrNoMoveAvailable", err)
	}

	if got := session.State(); got != StateAwaitingEngine {
		t.Errorf("state = %s, want %s", got, StateAwaitingEngine)
	}
	if len(session.History()) != 1 {
		t.Errorf("history length = %d, want 1", len(session.History()))
	}

	// The session stays alive so the user can still resign out of it.
	if err := session.Resign(); err != nil {
		t.Fatalf("resign failed: %v", err)
	}
	if session.Result() != ResultResigned {
		t.Errorf("result = %s, want %s", session.Result(), ResultResigned)
	}
	rec, ok := games.RecordByID(session.ID())
	if !ok || rec.Result != ResultResigned {
		t.Errorf("archived record = %+v, %v", rec, ok)
	}
}

func TestResignDiscardsInFlightSearch(t *testing.T) {
	searcher := &scriptedSearcher{
		moves:   []string{"e7e5"},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	entered := searcher.entered
	session, games := newTestGame(t, searcher, White)

	if _, err := session.SubmitMove("e4"); err != nil {
		t.Fatalf("failed to submit e4: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := session.PlayEngineMove(context.Background())
		errCh <- err
	}()

	<-entered
	if err := session.Resign(); err != nil {
		t.Fatalf("resign failed: %v", err)
	}
	close(searcher.release)

	if err := <-errCh; !errors.Is(err, ErrStaleEngineResponse) {
		t.Errorf("late engine response err = %v, want ErrStaleEngineResponse", err)
	}
	if len(session.History()) != 1 {
		t.Errorf("history length = %d, want 1 (engine move must be discarded)", len(session.History()))
	}
	if session.Result() != ResultResigned {
		t.Errorf("result = %s, want %s", session.Result(), ResultResigned)
	}
	if _, ok := games.ActiveGame(session.ID()); ok {
		t.Error("resigned game still active")
	}
	rec, ok := games.RecordByID(session.ID())
	if !ok || rec.Result != ResultResigned {
		t.Errorf("archived record = %+v, %v", rec, ok)
	}
}

func TestResignIsIdempotent(t *testing.T) {
	session, games := newTestGame(t, &scriptedSearcher{}, White)
	if err := session.Resign(); err != nil {
		t.Fatalf("first resign failed: %v", err)
	}
	if err := session.Resign(); err != nil {
		t.Fatalf("second resign failed: %v", err)
	}
	if got := len(games.Records()); got != 1 {
		t.Errorf("archived records = %d, want 1", got)
	}
}

func TestAcknowledgeRequiresFinishedGame(t *testing.T) {
	session, games := newTestGame(t, &scriptedSearcher{}, White)
	if err := session.Acknowledge(); !errors.Is(err, ErrGameNotFinished) {
		t.Fatalf("err = %v, want ErrGameNotFinished", err)
	}
	if got := len(games.Records()); got != 0 {
		t.Errorf("archived records = %d, want 0", got)
	}
	if err := session.Resign(); err != nil {
		t.Fatalf("resign failed: %v", err)
	}
	if err := session.Acknowledge(); err != nil {
		t.Fatalf("acknowledge after resign failed: %v", err)
	}
}

func TestResumeGameSession(t *testing.T) {
	searcher := &scriptedSearcher{moves: []string{"e7e5"}}
	session, games := newTestGame(t, searcher, White)
	if _, err := session.SubmitMove("e4"); err != nil {
		t.Fatalf("failed to submit e4: %v", err)
	}
	if _, err := session.PlayEngineMove(context.Background()); err != nil {
		t.Fatalf("engine move failed: %v", err)
	}

	snap, ok := games.ActiveGame(session.ID())
	if !ok {
		t.Fatal("no snapshot to resume from")
	}
	resumed, err := ResumeGameSession(NewRules(), &scriptedSearcher{}, games, snap)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}

	if resumed.ID() != session.ID() {
		t.Errorf("resumed id = %s, want %s", resumed.ID(), session.ID())
	}
	if resumed.FEN() != session.FEN() {
		t.Errorf("resumed FEN = %q, want %q", resumed.FEN(), session.FEN())
	}
	if got := resumed.State(); got != StateAwaitingPlayer {
		t.Errorf("resumed state = %s, want %s", got, StateAwaitingPlayer)
	}
	if len(resumed.History()) != 2 {
		t.Errorf("resumed history length = %d, want 2", len(resumed.History()))
	}
}

func TestResumeRejectsCorruptSnapshot(t *testing.T) {
	games := NewGameStore(store.NewMemory())
	snap := GameSnapshot{
		ID:          "broken",
		Difficulty:  Medium,
		PlayerColor: White,
		Moves:       []MoveRecord{{SAN: "e9", By: MovedByPlayer}},
	}
	if _, err := ResumeGameSession(NewRules(), &scriptedSearcher{}, games, snap); err == nil {
		t.Error("resume accepted an unreplayable history")
	}
}
