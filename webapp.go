package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/hferris/textchess/chessplay"
	"github.com/hferris/textchess/puzzles"
	"github.com/hferris/textchess/store"
)

const (
	DefaultPort   = 8080
	DefaultEngine = "stockfish"

	engineMoveTimeout = 30 * time.Second
)

func stdoutLogger(next http.Handler) http.Handler {
	return handlers.LoggingHandler(os.Stdout, next)
}

type Client struct {
	conn        *websocket.Conn
	application *Application
}

// gameHandle pairs a live session with the engine process scoped to its
// strength configuration.
type gameHandle struct {
	session *chessplay.GameSession
	engine  chessplay.MoveSearcher
}

type Application struct {
	router      *mux.Router
	clients     map[*Client]interface{}
	clientsLock sync.RWMutex
	upgrader    websocket.Upgrader

	oracle     chessplay.Oracle
	games      *chessplay.GameStore
	progress   *chessplay.ProgressStore
	catalog    *puzzles.Catalog
	engine     string
	difficulty chessplay.Difficulty

	sessionsLock sync.Mutex
	sessions     map[string]*gameHandle
	puzzle       *chessplay.PuzzleSession
}

func NewApplication(kv store.KV, catalog *puzzles.Catalog, enginePath string, difficulty chessplay.Difficulty) *Application {
	result := Application{
		router:  mux.NewRouter(),
		clients: make(map[*Client]interface{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		oracle:     chessplay.NewRules(),
		games:      chessplay.NewGameStore(kv),
		progress:   chessplay.NewProgressStore(kv),
		catalog:    catalog,
		engine:     enginePath,
		difficulty: difficulty,
		sessions:   make(map[string]*gameHandle),
	}
	result.router.NotFoundHandler = stdoutLogger(http.HandlerFunc(notFoundHandler))
	result.router.Use(stdoutLogger)

	api := result.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/games", result.createGameHandler).Methods(http.MethodPost)
	api.HandleFunc("/games", result.listGamesHandler).Methods(http.MethodGet)
	api.HandleFunc("/games/{id}", result.gameStateHandler).Methods(http.MethodGet)
	api.HandleFunc("/games/{id}/move", result.moveHandler).Methods(http.MethodPost)
	api.HandleFunc("/games/{id}/resign", result.resignHandler).Methods(http.MethodPost)
	api.HandleFunc("/games/{id}/ack", result.ackHandler).Methods(http.MethodPost)
	api.HandleFunc("/history", result.historyHandler).Methods(http.MethodGet)
	api.HandleFunc("/history/{id}", result.deleteHistoryHandler).Methods(http.MethodDelete)
	api.HandleFunc("/puzzles", result.listPuzzlesHandler).Methods(http.MethodGet)
	api.HandleFunc("/puzzles/{id}/open", result.openPuzzleHandler).Methods(http.MethodPost)
	api.HandleFunc("/puzzles/{id}/move", result.puzzleMoveHandler).Methods(http.MethodPost)
	api.HandleFunc("/puzzles/{id}/hint", result.puzzleHintHandler).Methods(http.MethodPost)
	api.HandleFunc("/puzzles/{id}/solution", result.puzzleSolutionHandler).Methods(http.MethodPost)
	api.HandleFunc("/puzzles/{id}/reset", result.puzzleResetHandler).Methods(http.MethodPost)
	result.router.HandleFunc("/ws", result.wsHandler)
	return &result
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type gameStateResponse struct {
	ID          string                 `json:"id"`
	State       chessplay.GameState    `json:"state"`
	PlayerColor chessplay.Color        `json:"playerColor"`
	Difficulty  chessplay.Difficulty   `json:"difficulty"`
	FEN         string                 `json:"fen"`
	Moves       []chessplay.MoveRecord `json:"moves"`
	Result      chessplay.Result       `json:"result,omitempty"`
}

func gameState(s *chessplay.GameSession) gameStateResponse {
	return gameStateResponse{
		ID:          s.ID(),
		State:       s.State(),
		PlayerColor: s.PlayerColor(),
		Difficulty:  s.Difficulty(),
		FEN:         s.FEN(),
		Moves:       s.History(),
		Result:      s.Result(),
	}
}

func (app *Application) createGameHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Difficulty chessplay.Difficulty `json:"difficulty"`
		Color      chessplay.Color      `json:"color"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Color != chessplay.White && req.Color != chessplay.Black {
		req.Color = chessplay.White
	}
	if req.Difficulty == "" {
		req.Difficulty = app.difficulty
	}

	engine, err := chessplay.StartEngine(app.engine, req.Difficulty.Strength())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("engine unavailable: %v", err))
		return
	}
	session := chessplay.NewGameSession(app.oracle, engine, app.games, req.Difficulty, req.Color)

	app.sessionsLock.Lock()
	app.sessions[session.ID()] = &gameHandle{session: session, engine: engine}
	app.sessionsLock.Unlock()

	if session.State() == chessplay.StateAwaitingEngine {
		go app.requestEngineMove(session)
	}
	writeJSON(w, http.StatusCreated, gameState(session))
}

func (app *Application) listGamesHandler(w http.ResponseWriter, r *http.Request) {
	active := app.games.ActiveGames()
	out := make([]chessplay.GameSnapshot, 0, len(active))
	for _, snap := range active {
		out = append(out, snap)
	}
	writeJSON(w, http.StatusOK, out)
}

// lookupSession returns the live session for id, resuming it from the active
// store if the process has restarted since the game began.
func (app *Application) lookupSession(id string) (*gameHandle, error) {
	app.sessionsLock.Lock()
	defer app.sessionsLock.Unlock()

	if handle, ok := app.sessions[id]; ok {
		return handle, nil
	}
	snap, ok := app.games.ActiveGame(id)
	if !ok {
		return nil, fmt.Errorf("no active game %s", id)
	}
	engine, err := chessplay.StartEngine(app.engine, snap.Strength)
	if err != nil {
		return nil, err
	}
	session, err := chessplay.ResumeGameSession(app.oracle, engine, app.games, snap)
	if err != nil {
		engine.Close()
		return nil, err
	}
	handle := &gameHandle{session: session, engine: engine}
	app.sessions[id] = handle
	if session.State() == chessplay.StateAwaitingEngine {
		go app.requestEngineMove(session)
	}
	return handle, nil
}

func (app *Application) gameStateHandler(w http.ResponseWriter, r *http.Request) {
	handle, err := app.lookupSession(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, gameState(handle.session))
}

func (app *Application) moveHandler(w http.ResponseWriter, r *http.Request) {
	handle, err := app.lookupSession(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	var req struct {
		Move string `json:"move"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	outcome, err := handle.session.SubmitMove(req.Move)
	if err != nil {
		var illegal *chessplay.IllegalMoveError
		switch {
		case errors.As(err, &illegal):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": illegal.Reason})
		case errors.Is(err, chessplay.ErrNotPlayersTurn):
			writeError(w, http.StatusConflict, "waiting for the engine")
		case errors.Is(err, chessplay.ErrGameFinished):
			writeError(w, http.StatusConflict, "game is over")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	if outcome.State == chessplay.StateAwaitingEngine {
		go app.requestEngineMove(handle.session)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"move":       outcome.Record,
		"state":      outcome.State,
		"statusLine": outcome.StatusLine,
		"result":     outcome.Result,
		"fen":        handle.session.FEN(),
	})
}

// requestEngineMove runs one engine turn and pushes the reply to websocket
// clients. Stale responses after a resignation are dropped by the session.
func (app *Application) requestEngineMove(session *chessplay.GameSession) {
	ctx, cancel := context.WithTimeout(context.Background(), engineMoveTimeout)
	defer cancel()

	outcome, err := session.PlayEngineMove(ctx)
	if err != nil {
		if errors.Is(err, chessplay.ErrStaleEngineResponse) {
			return
		}
		app.broadcast(map[string]any{
			"type":   "engine_error",
			"gameId": session.ID(),
			"error":  err.Error(),
		})
		return
	}
	app.broadcast(map[string]any{
		"type":       "engine_move",
		"gameId":     session.ID(),
		"move":       outcome.Record,
		"state":      outcome.State,
		"statusLine": outcome.StatusLine,
		"result":     outcome.Result,
		"fen":        session.FEN(),
	})
}

// closeSession tears down the engine and unregisters the handle. Idempotent.
func (app *Application) closeSession(id string) {
	app.sessionsLock.Lock()
	handle, ok := app.sessions[id]
	delete(app.sessions, id)
	app.sessionsLock.Unlock()
	if ok {
		handle.engine.Close()
	}
}

func (app *Application) resignHandler(w http.ResponseWriter, r *http.Request) {
	handle, err := app.lookupSession(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err := handle.session.Resign(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	app.closeSession(handle.session.ID())
	app.broadcast(map[string]any{
		"type":   "game_over",
		"gameId": handle.session.ID(),
		"result": chessplay.ResultResigned,
	})
	writeJSON(w, http.StatusOK, map[string]any{"result": chessplay.ResultResigned})
}

func (app *Application) ackHandler(w http.ResponseWriter, r *http.Request) {
	handle, err := app.lookupSession(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err := handle.session.Acknowledge(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	app.closeSession(handle.session.ID())
	writeJSON(w, http.StatusOK, map[string]any{"result": handle.session.Result()})
}

func (app *Application) historyHandler(w http.ResponseWriter, r *http.Request) {
	records := app.games.Records()
	if records == nil {
		records = []chessplay.GameRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (app *Application) deleteHistoryHandler(w http.ResponseWriter, r *http.Request) {
	if err := app.games.DeleteRecord(mux.Vars(r)["id"]); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type puzzleListEntry struct {
	chessplay.PuzzleDefinition
	Solved bool `json:"solved"`
}

func (app *Application) listPuzzlesHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	minRating, maxRating := 0, 0
	fmt.Sscanf(q.Get("minRating"), "%d", &minRating)
	fmt.Sscanf(q.Get("maxRating"), "%d", &maxRating)
	defs := app.catalog.Filter(q.Get("tag"), minRating, maxRating)

	solved := app.progress.Solved()
	out := make([]puzzleListEntry, 0, len(defs))
	for _, d := range defs {
		_, isSolved := solved[d.ID]
		out = append(out, puzzleListEntry{PuzzleDefinition: d, Solved: isSolved})
	}
	writeJSON(w, http.StatusOK, out)
}

type puzzleStateResponse struct {
	ID          string                 `json:"id"`
	State       chessplay.PuzzleState  `json:"state"`
	PlayerColor chessplay.Color        `json:"playerColor"`
	FEN         string                 `json:"fen"`
	Moves       []chessplay.MoveRecord `json:"moves"`
	Solved      bool                   `json:"solved"`
	Feedback    string                 `json:"feedback,omitempty"`
}

func puzzleState(s *chessplay.PuzzleSession, feedback string) puzzleStateResponse {
	return puzzleStateResponse{
		ID:          s.Definition().ID,
		State:       s.State(),
		PlayerColor: s.PlayerColor(),
		FEN:         s.FEN(),
		Moves:       s.History(),
		Solved:      s.Solved(),
		Feedback:    feedback,
	}
}

func (app *Application) openPuzzleHandler(w http.ResponseWriter, r *http.Request) {
	def, ok := app.catalog.ByID(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "no such puzzle")
		return
	}
	session, err := chessplay.NewPuzzleSession(app.oracle, app.progress, def)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	// Opening a puzzle discards any previously open puzzle session.
	app.sessionsLock.Lock()
	app.puzzle = session
	app.sessionsLock.Unlock()
	writeJSON(w, http.StatusOK, puzzleState(session, ""))
}

// currentPuzzle returns the open session when it matches the id in the URL.
func (app *Application) currentPuzzle(w http.ResponseWriter, r *http.Request) *chessplay.PuzzleSession {
	app.sessionsLock.Lock()
	session := app.puzzle
	app.sessionsLock.Unlock()
	if session == nil || session.Definition().ID != mux.Vars(r)["id"] {
		writeError(w, http.StatusNotFound, "puzzle is not open")
		return nil
	}
	return session
}

func (app *Application) puzzleMoveHandler(w http.ResponseWriter, r *http.Request) {
	session := app.currentPuzzle(w, r)
	if session == nil {
		return
	}
	var req struct {
		Move string `json:"move"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	outcome, err := session.SubmitMove(req.Move)
	if err != nil {
		var illegal *chessplay.IllegalMoveError
		switch {
		case errors.As(err, &illegal):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": illegal.Reason})
		case errors.Is(err, chessplay.ErrWrongPuzzleMove):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "Not quite. Try again."})
		case errors.Is(err, chessplay.ErrPuzzleComplete):
			writeError(w, http.StatusConflict, "puzzle already solved")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, puzzleState(session, outcome.Feedback))
}

func (app *Application) puzzleHintHandler(w http.ResponseWriter, r *http.Request) {
	session := app.currentPuzzle(w, r)
	if session == nil {
		return
	}
	outcome, err := session.Hint()
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, puzzleState(session, outcome.Feedback))
}

func (app *Application) puzzleSolutionHandler(w http.ResponseWriter, r *http.Request) {
	session := app.currentPuzzle(w, r)
	if session == nil {
		return
	}
	outcome, err := session.ShowSolution()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, puzzleState(session, outcome.Feedback))
}

func (app *Application) puzzleResetHandler(w http.ResponseWriter, r *http.Request) {
	session := app.currentPuzzle(w, r)
	if session == nil {
		return
	}
	if err := session.Reset(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, puzzleState(session, ""))
}

func (application *Application) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := application.upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	fmt.Printf("New websocket connection from %s\n", conn.RemoteAddr())
	client := &Client{
		conn:        conn,
		application: application,
	}
	application.clientsLock.Lock()
	application.clients[client] = nil
	application.clientsLock.Unlock()
	go func() {
		for {
			// Clients only listen; the read loop exists to notice closes.
			if _, _, err := client.conn.ReadMessage(); err != nil {
				application.clientsLock.Lock()
				delete(application.clients, client)
				application.clientsLock.Unlock()
				client.conn.Close()
				return
			}
		}
	}()
}

func (app *Application) broadcast(event map[string]any) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	app.clientsLock.RLock()
	defer app.clientsLock.RUnlock()
	for client := range app.clients {
		client.conn.WriteMessage(websocket.TextMessage, payload)
	}
}

func (app *Application) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	app.router.ServeHTTP(w, r)
}

func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "File Not Found", http.StatusNotFound)
}

func main() {
	var port uint
	var dataDir string
	var enginePath string
	var catalogPath string
	var difficulty string
	flag.UintVar(&port, "port", DefaultPort, "Port to listen on")
	flag.StringVar(&dataDir, "data", "data", "Directory for session and history storage")
	flag.StringVar(&enginePath, "engine", DefaultEngine, "Path to a UCI engine binary")
	flag.StringVar(&catalogPath, "puzzles", "", "Optional puzzle catalog JSON file")
	flag.StringVar(&difficulty, "difficulty", string(chessplay.Medium), "Default engine difficulty for new games")
	flag.Parse()
	if port == 0 || port > 65535 {
		fmt.Println("Invalid port number")
		os.Exit(1)
	}

	catalog := puzzles.Default()
	if catalogPath != "" {
		loaded, err := puzzles.Load(catalogPath)
		if err != nil {
			fmt.Printf("Failed to load puzzle catalog: %v\n", err)
			os.Exit(1)
		}
		catalog = loaded
	}

	fmt.Printf("Starting server on :%d\n", port)
	app := NewApplication(store.NewFS(dataDir), catalog, enginePath, chessplay.Difficulty(difficulty))
	http.ListenAndServe(fmt.Sprintf(":%d", port), app)
}
