package orm

import (
	"sync"

	"github.com/google/uuid"
)

// TxIDGenerator names transactions. The id tags every log line and hook
// event an Env produces.
type TxIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 transaction ids.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
// Panics if UUID generation fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined transaction ids, in order.
//
//	gen := NewFixedGenerator("tx-1", "tx-2")
//	gen.Generate() // "tx-1"
//	gen.Generate() // "tx-2"
//	gen.Generate() // panic: all ids exhausted
//
// Thread-safety: FixedGenerator is safe for concurrent use.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator returning ids in order.
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined id. Panics once every id was used,
// which catches tests opening more transactions than they declared.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}
