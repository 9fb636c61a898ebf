package puzzles

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hferris/textchess/chessplay"
)

func TestDefaultCatalogLinesReplay(t *testing.T) {
	catalog := Default()
	if catalog.Len() == 0 {
		t.Fatal("embedded catalog is empty")
	}

	r := chessplay.NewRules()
	for _, def := range catalog.All() {
		t.Run(def.ID, func(t *testing.T) {
			if def.ID == "" || def.FEN == "" || len(def.Moves) == 0 {
				t.Fatalf("incomplete definition: %+v", def)
			}
			if len(def.Moves)%2 != 0 {
				t.Errorf("line has %d moves; the player plays odd indices and must move last", len(def.Moves))
			}
			pos, err := r.FromFEN(def.FEN)
			if err != nil {
				t.Fatalf("bad FEN: %v", err)
			}
			for i, uci := range def.Moves {
				next, _, err := r.ApplyUCI(pos, uci)
				if err != nil {
					t.Fatalf("move %d (%s) is not legal: %v", i, uci, err)
				}
				pos = next
			}
		})
	}
}

func TestCatalogByID(t *testing.T) {
	catalog := Default()
	first := catalog.All()[0]

	def, ok := catalog.ByID(first.ID)
	if !ok || def.ID != first.ID {
		t.Errorf("ByID(%q) = %+v, %v", first.ID, def, ok)
	}
	if _, ok := catalog.ByID("no-such-puzzle"); ok {
		t.Error("ByID found a puzzle that does not exist")
	}
}

func TestCatalogFilter(t *testing.T) {
	catalog := New([]chessplay.PuzzleDefinition{
		{ID: "a", FEN: "x", Moves: []string{"m"}, Tags: []string{"mate"}, Rating: 800},
		{ID: "b", FEN: "x", Moves: []string{"m"}, Tags: []string{"fork"}, Rating: 1500},
		{ID: "c", FEN: "x", Moves: []string{"m"}, Tags: []string{"mate", "fork"}, Rating: 2000},
	})

	if got := catalog.Filter("", 0, 0); len(got) != 3 {
		t.Errorf("unfiltered = %d, want 3", len(got))
	}
	if got := catalog.Filter("mate", 0, 0); len(got) != 2 {
		t.Errorf("tag mate = %d, want 2", len(got))
	}
	if got := catalog.Filter("", 1000, 0); len(got) != 2 {
		t.Errorf("min 1000 = %d, want 2", len(got))
	}
	if got := catalog.Filter("", 0, 1000); len(got) != 1 {
		t.Errorf("max 1000 = %d, want 1", len(got))
	}
	if got := catalog.Filter("fork", 1000, 1600); len(got) != 1 || got[0].ID != "b" {
		t.Errorf("combined filter = %+v", got)
	}
}

func TestLoad(t *testing.T) {
	t.Run("valid file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "catalog.json")
		data := `[{"id":"p1","fen":"1r4k1/5ppp/8/8/8/8/5PPP/3R2K1 b - - 0 1","moves":["b8b2","d1d8"]}]`
		if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
		catalog, err := Load(path)
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if catalog.Len() != 1 {
			t.Errorf("loaded %d puzzles, want 1", catalog.Len())
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
			t.Error("load of a missing file succeeded")
		}
	})

	t.Run("incomplete entry", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "catalog.json")
		if err := os.WriteFile(path, []byte(`[{"id":"p1"}]`), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Error("load of an incomplete entry succeeded")
		}
	})
}
