package chessplay

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hferris/textchess/store"
)

func TestGameStoreActiveRoundTrip(t *testing.T) {
	games := NewGameStore(store.NewMemory())

	if got := games.ActiveGames(); len(got) != 0 {
		t.Fatalf("fresh store has %d active games", len(got))
	}

	snap := GameSnapshot{
		ID:          "g1",
		StartedAt:   time.Now().UTC(),
		Difficulty:  Hard,
		Strength:    Hard.Strength(),
		PlayerColor: Black,
		Moves:       []MoveRecord{{SAN: "e4", By: MovedByEngine}},
	}
	if err := games.SaveActive(snap); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, ok := games.ActiveGame("g1")
	if !ok {
		t.Fatal("saved game not found")
	}
	if got.Difficulty != Hard || got.PlayerColor != Black || len(got.Moves) != 1 {
		t.Errorf("loaded snapshot = %+v", got)
	}

	if err := games.DeleteActive("g1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, ok := games.ActiveGame("g1"); ok {
		t.Error("deleted game still present")
	}
}

func TestGameStoreRecordsNewestFirst(t *testing.T) {
	games := NewGameStore(store.NewMemory())

	for _, id := range []string{"first", "second", "third"} {
		if err := games.SaveRecord(GameRecord{ID: id, Result: ResultWin}); err != nil {
			t.Fatalf("save %s failed: %v", id, err)
		}
	}

	records := games.Records()
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3", len(records))
	}
	if records[0].ID != "third" || records[2].ID != "first" {
		t.Errorf("record order = %s, %s, %s", records[0].ID, records[1].ID, records[2].ID)
	}

	if err := games.DeleteRecord("second"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, ok := games.RecordByID("second"); ok {
		t.Error("deleted record still present")
	}
	if len(games.Records()) != 2 {
		t.Errorf("records after delete = %d, want 2", len(games.Records()))
	}
}

func TestStoresDegradeOnCorruptData(t *testing.T) {
	dir := t.TempDir()
	for _, key := range []string{keyActiveGames, keyGameHistory, keyPuzzleProgress} {
		path := filepath.Join(dir, key+".json")
		if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
			t.Fatalf("seed %s: %v", key, err)
		}
	}
	kv := store.NewFS(dir)

	games := NewGameStore(kv)
	if got := games.ActiveGames(); len(got) != 0 {
		t.Errorf("active games over corrupt data = %d, want 0", len(got))
	}
	if got := games.Records(); len(got) != 0 {
		t.Errorf("records over corrupt data = %d, want 0", len(got))
	}
	progress := NewProgressStore(kv)
	if got := progress.Solved(); len(got) != 0 {
		t.Errorf("solved puzzles over corrupt data = %d, want 0", len(got))
	}

	// Writes replace the corrupt documents.
	if err := games.SaveRecord(GameRecord{ID: "g1", Result: ResultWin}); err != nil {
		t.Fatalf("save over corrupt data failed: %v", err)
	}
	if got := len(games.Records()); got != 1 {
		t.Errorf("records after save = %d, want 1", got)
	}
}

func TestGameStoreConcurrentSaves(t *testing.T) {
	games := NewGameStore(store.NewMemory())

	var wg sync.WaitGroup
	for _, id := range []string{"left", "right"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if err := games.SaveActive(GameSnapshot{ID: id}); err != nil {
					t.Errorf("save %s: %v", id, err)
					return
				}
			}
		}(id)
	}
	wg.Wait()

	active := games.ActiveGames()
	for _, id := range []string{"left", "right"} {
		if _, ok := active[id]; !ok {
			t.Errorf("game %s dropped by a concurrent save", id)
		}
	}
}

func TestProgressStore(t *testing.T) {
	progress := NewProgressStore(store.NewMemory())

	if progress.IsSolved("p1") {
		t.Error("fresh store reports p1 solved")
	}
	if err := progress.MarkSolved("p1"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if !progress.IsSolved("p1") {
		t.Error("p1 not solved after mark")
	}

	if err := progress.Unmark("p1"); err != nil {
		t.Fatalf("unmark failed: %v", err)
	}
	if progress.IsSolved("p1") {
		t.Error("p1 still solved after unmark")
	}

	progress.MarkSolved("p1")
	progress.MarkSolved("p2")
	if err := progress.Reset(); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if len(progress.Solved()) != 0 {
		t.Error("progress survived reset")
	}
}
