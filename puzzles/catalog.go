// Package puzzles provides the tactical puzzle catalog: a built-in set of
// definitions plus loading of user-supplied catalog files.
package puzzles

import (
	_ "embed"
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"github.com/hferris/textchess/chessplay"
)

//go:embed catalog.json
var defaultCatalog []byte

// Catalog is an ordered, immutable set of puzzle definitions.
type Catalog struct {
	defs []chessplay.PuzzleDefinition
	byID map[string]chessplay.PuzzleDefinition
}

func New(defs []chessplay.PuzzleDefinition) *Catalog {
	byID := make(map[string]chessplay.PuzzleDefinition, len(defs))
	for _, d := range defs {
		byID[d.ID] = d
	}
	return &Catalog{defs: defs, byID: byID}
}

// Default returns the embedded catalog.
func Default() *Catalog {
	var defs []chessplay.PuzzleDefinition
	// The embedded catalog is validated at build time; a decode failure here
	// is a packaging bug.
	if err := json.Unmarshal(defaultCatalog, &defs); err != nil {
		panic(errors.Wrap(err, "embedded puzzle catalog is invalid"))
	}
	return New(defs)
}

// Load reads a catalog from a JSON file with the same shape as the embedded
// one.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read puzzle catalog")
	}
	var defs []chessplay.PuzzleDefinition
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, errors.Wrap(err, "decode puzzle catalog")
	}
	for _, d := range defs {
		if d.ID == "" || d.FEN == "" || len(d.Moves) == 0 {
			return nil, errors.Errorf("puzzle catalog entry %q is incomplete", d.ID)
		}
	}
	return New(defs), nil
}

// All returns the definitions in catalog order.
func (c *Catalog) All() []chessplay.PuzzleDefinition {
	return append([]chessplay.PuzzleDefinition(nil), c.defs...)
}

func (c *Catalog) ByID(id string) (chessplay.PuzzleDefinition, bool) {
	d, ok := c.byID[id]
	return d, ok
}

func (c *Catalog) Len() int { return len(c.defs) }

// Filter selects puzzles by tag and rating band. Zero values leave a
// criterion unconstrained.
func (c *Catalog) Filter(tag string, minRating, maxRating int) []chessplay.PuzzleDefinition {
	var out []chessplay.PuzzleDefinition
	for _, d := range c.defs {
		if tag != "" && !hasTag(d, tag) {
			continue
		}
		if minRating > 0 && d.Rating < minRating {
			continue
		}
		if maxRating > 0 && d.Rating > maxRating {
			continue
		}
		out = append(out, d)
	}
	return out
}

func hasTag(d chessplay.PuzzleDefinition, tag string) bool {
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
