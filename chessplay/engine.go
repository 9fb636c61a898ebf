package chessplay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
)

// Engine session failure modes.
var (
	// ErrEngineUnavailable is returned when a search is requested before the
	// backend acknowledged configuration.
	ErrEngineUnavailable = errors.New("engine not ready")
	// ErrNoMoveAvailable is returned when the engine reports "bestmove (none)".
	ErrNoMoveAvailable = errors.New("engine returned no move")
	// ErrEngineClosed is returned by BestMove after teardown.
	ErrEngineClosed = errors.New("engine session closed")
	// ErrSearchInProgress is returned when a second search is requested while
	// one is still in flight. That is a caller error.
	ErrSearchInProgress = errors.New("search already in flight")
)

// DefaultMoveTime is the per-search thinking budget.
const DefaultMoveTime = time.Second

// Difficulty is the user-facing strength ladder.
type Difficulty string

const (
	Beginner Difficulty = "Beginner"
	Easy     Difficulty = "Easy"
	Medium   Difficulty = "Medium"
	Hard     Difficulty = "Hard"
	Expert   Difficulty = "Expert"
)

var difficultyElo = map[Difficulty]int{
	Beginner: 800,
	Easy:     1200,
	Medium:   1500,
	Hard:     2000,
	Expert:   2500,
}

// Strength bounds the engine's playing strength. When TargetElo is set the
// engine self-limits via its internal rating emulation; otherwise SkillLevel
// selects a coarse skill rung. Strength is fixed for the lifetime of an
// engine session; changing it means Close and start a new session.
type Strength struct {
	SkillLevel int `json:"skillLevel,omitempty"`
	TargetElo  int `json:"targetElo,omitempty"`
}

// Strength maps a ladder level to its target rating.
func (d Difficulty) Strength() Strength {
	if elo, ok := difficultyElo[d]; ok {
		return Strength{TargetElo: elo}
	}
	return Strength{TargetElo: difficultyElo[Medium]}
}

// MoveSearcher is the asynchronous best-move capability a game session
// depends on.
type MoveSearcher interface {
	Ready() bool
	// BestMove starts a fresh search for the position and suspends the
	// caller until the engine answers. The move comes back in
	// origin+destination+promotion form.
	BestMove(ctx context.Context, fen string) (string, error)
	Close() error
}

// EngineSession manages one UCI engine instance scoped to a strength
// configuration.
type EngineSession struct {
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Scanner
	responses chan string
	moveTime  time.Duration

	mutex      sync.Mutex
	ready      bool
	searching  bool
	staleMoves int // bestmove replies owed by abandoned searches
	closed     bool
	closeOnce  sync.Once
	closeErr   error
}

// StartEngine launches the engine binary and begins the configuration
// handshake. The session becomes ready asynchronously; BestMove fails with
// ErrEngineUnavailable until the backend acknowledges.
func StartEngine(binary string, strength Strength) (*EngineSession, error) {
	cmd := exec.Command(binary)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "create stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "create stdout pipe")
	}
	if err := cmd.Start(); err != nil {
		return nil, pkgerrors.Wrap(err, "start engine")
	}

	e := newEngineSession(stdin, stdout)
	e.cmd = cmd
	go e.readOutput()
	go func() {
		if err := e.configure(strength); err != nil {
			log.Error("engine configuration failed", "error", err)
		}
	}()
	return e, nil
}

func newEngineSession(stdin io.WriteCloser, stdout io.Reader) *EngineSession {
	return &EngineSession{
		stdin:     stdin,
		stdout:    bufio.NewScanner(stdout),
		responses: make(chan string, 100),
		moveTime:  DefaultMoveTime,
	}
}

// configure runs the UCI handshake and blocks until readyok.
func (e *EngineSession) configure(strength Strength) error {
	e.sendCommand("uci")
	if strength.TargetElo > 0 {
		e.sendCommand("setoption name UCI_LimitStrength value true")
		e.sendCommand(fmt.Sprintf("setoption name UCI_Elo value %d", strength.TargetElo))
	} else {
		e.sendCommand(fmt.Sprintf("setoption name Skill Level value %d", strength.SkillLevel))
	}
	e.sendCommand("setoption name Ponder value false")
	e.sendCommand("ucinewgame")
	e.sendCommand("isready")

	for response := range e.responses {
		if strings.Contains(response, "readyok") {
			e.mutex.Lock()
			e.ready = true
			e.mutex.Unlock()
			return nil
		}
	}
	return ErrEngineUnavailable
}

func (e *EngineSession) sendCommand(cmd string) error {
	log.Info("sending command", "command", cmd)
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	_, err := fmt.Fprintln(e.stdin, cmd)
	return err
}

// readOutput continuously reads engine output.
func (e *EngineSession) readOutput() {
	for e.stdout.Scan() {
		response := e.stdout.Text()
		log.Debug("received response", "response", response)
		e.responses <- response
	}
	close(e.responses)
}

// Ready reports whether the backend has acknowledged configuration.
func (e *EngineSession) Ready() bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.ready
}

// BestMove searches the given position within the session's thinking budget.
// Exactly one search may be in flight at a time.
func (e *EngineSession) BestMove(ctx context.Context, fen string) (string, error) {
	e.mutex.Lock()
	switch {
	case e.closed:
		e.mutex.Unlock()
		return "", ErrEngineClosed
	case !e.ready:
		e.mutex.Unlock()
		return "", ErrEngineUnavailable
	case e.searching:
		e.mutex.Unlock()
		return "", ErrSearchInProgress
	}
	e.searching = true
	e.mutex.Unlock()
	defer func() {
		e.mutex.Lock()
		e.searching = false
		e.mutex.Unlock()
	}()

	// Drop any output left over from an abandoned search. A stopped search
	// still answers with a bestmove line, so an abandoned reply that has
	// not arrived yet is settled against the stale ledger below instead.
	for {
		select {
		case response := <-e.responses:
			if strings.HasPrefix(response, "bestmove") {
				e.consumeStale()
			}
			continue
		default:
		}
		break
	}

	e.sendCommand("ucinewgame")
	e.sendCommand(fmt.Sprintf("position fen %s", fen))
	if err := e.sendCommand(fmt.Sprintf("go movetime %d", e.moveTime.Milliseconds())); err != nil {
		return "", err
	}

	for {
		select {
		case <-ctx.Done():
			e.sendCommand("stop")
			e.mutex.Lock()
			e.staleMoves++
			e.mutex.Unlock()
			return "", ctx.Err()
		case response, ok := <-e.responses:
			if !ok {
				return "", ErrEngineClosed
			}
			if !strings.HasPrefix(response, "bestmove") {
				continue
			}
			if e.consumeStale() {
				continue
			}
			parts := strings.Fields(response)
			if len(parts) < 2 || parts[1] == "(none)" {
				return "", ErrNoMoveAvailable
			}
			return parts[1], nil
		}
	}
}

// consumeStale reports whether a bestmove line belongs to an abandoned
// search and swallows it.
func (e *EngineSession) consumeStale() bool {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.staleMoves == 0 {
		return false
	}
	e.staleMoves--
	return true
}

// Close shuts the engine down. Safe to call more than once; a search in
// flight observes the closed response channel and fails.
func (e *EngineSession) Close() error {
	e.closeOnce.Do(func() {
		e.sendCommand("quit")
		e.mutex.Lock()
		e.closed = true
		e.mutex.Unlock()
		if err := e.stdin.Close(); err != nil {
			e.closeErr = err
		}
		if e.cmd != nil {
			e.closeErr = e.cmd.Wait()
		}
	})
	return e.closeErr
}
