package patch

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// IDGenerator produces patch ids.
// Implemented by UUIDv7Generator (production) and FixedGenerator (tests).
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 patch ids.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
// Panics if UUID generation fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined ids, then "<prefix>-<n>" once they
// run out. Used for deterministic traces.
//
// Thread-safety: safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu     sync.Mutex
	ids    []string
	prefix string
	idx    int
}

// NewFixedGenerator creates a generator returning ids in order.
//
//	gen := NewFixedGenerator("patch", "a", "b")
//	gen.Generate() // "a"
//	gen.Generate() // "b"
//	gen.Generate() // "patch-3"
func NewFixedGenerator(prefix string, ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids, prefix: prefix}
}

// Generate returns the next id.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.idx++
	if g.idx <= len(g.ids) {
		return g.ids[g.idx-1]
	}
	return fmt.Sprintf("%s-%d", g.prefix, g.idx)
}
