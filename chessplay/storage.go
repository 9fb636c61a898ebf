package chessplay

import (
	"errors"
	"sync"
	"time"

	"github.com/hferris/textchess/store"
)

// Store keys. Each key holds one self-contained JSON document; writes are
// last-write-wins.
const (
	keyActiveGames    = "active-games"
	keyGameHistory    = "game-history"
	keyPuzzleProgress = "puzzle-progress"
)

// GameStore persists active-session snapshots and the finished-game history.
// Reads of missing or corrupt data degrade to empty defaults. Each key holds
// the whole document, so mutations read, modify, and rewrite it under a lock;
// without it two sessions persisting concurrently can drop each other's entry.
type GameStore struct {
	mu sync.Mutex
	kv store.KV
}

func NewGameStore(kv store.KV) *GameStore { return &GameStore{kv: kv} }

func (s *GameStore) ActiveGames() map[string]GameSnapshot {
	games := make(map[string]GameSnapshot)
	if err := s.kv.Get(keyActiveGames, &games); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn("active games unreadable, starting empty", "error", err)
		}
		return make(map[string]GameSnapshot)
	}
	if games == nil {
		games = make(map[string]GameSnapshot)
	}
	return games
}

func (s *GameStore) ActiveGame(id string) (GameSnapshot, bool) {
	snap, ok := s.ActiveGames()[id]
	return snap, ok
}

func (s *GameStore) SaveActive(snap GameSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	games := s.ActiveGames()
	games[snap.ID] = snap
	return s.kv.Put(keyActiveGames, games)
}

func (s *GameStore) DeleteActive(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	games := s.ActiveGames()
	delete(games, id)
	return s.kv.Put(keyActiveGames, games)
}

// Records returns the finished-game history, newest first.
func (s *GameStore) Records() []GameRecord {
	var records []GameRecord
	if err := s.kv.Get(keyGameHistory, &records); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn("game history unreadable, starting empty", "error", err)
		}
		return nil
	}
	return records
}

func (s *GameStore) RecordByID(id string) (GameRecord, bool) {
	for _, r := range s.Records() {
		if r.ID == id {
			return r, true
		}
	}
	return GameRecord{}, false
}

func (s *GameStore) SaveRecord(rec GameRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := append([]GameRecord{rec}, s.Records()...)
	return s.kv.Put(keyGameHistory, records)
}

func (s *GameStore) DeleteRecord(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := s.Records()
	kept := records[:0]
	for _, r := range records {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	return s.kv.Put(keyGameHistory, kept)
}

// ProgressStore persists the solved-puzzle set with last-solved timestamps.
// Mutations rewrite the whole document and are serialized like GameStore's.
type ProgressStore struct {
	mu sync.Mutex
	kv store.KV
}

func NewProgressStore(kv store.KV) *ProgressStore { return &ProgressStore{kv: kv} }

func (s *ProgressStore) Solved() map[string]time.Time {
	solved := make(map[string]time.Time)
	if err := s.kv.Get(keyPuzzleProgress, &solved); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn("puzzle progress unreadable, starting empty", "error", err)
		}
		return make(map[string]time.Time)
	}
	if solved == nil {
		solved = make(map[string]time.Time)
	}
	return solved
}

func (s *ProgressStore) IsSolved(id string) bool {
	_, ok := s.Solved()[id]
	return ok
}

func (s *ProgressStore) MarkSolved(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	solved := s.Solved()
	solved[id] = time.Now().UTC()
	return s.kv.Put(keyPuzzleProgress, solved)
}

func (s *ProgressStore) Unmark(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	solved := s.Solved()
	delete(solved, id)
	return s.kv.Put(keyPuzzleProgress, solved)
}

func (s *ProgressStore) Reset() error {
	return s.kv.Put(keyPuzzleProgress, map[string]time.Time{})
}
