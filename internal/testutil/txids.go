package testutil

import (
	"fmt"
	"sync"
)

// SequenceGenerator generates transaction ids "<prefix>-1", "<prefix>-2", ...
//
// This enables deterministic test execution and golden snapshot comparison:
// the same scenario produces byte-identical hook event logs.
//
// It satisfies orm.TxIDGenerator without importing orm.
//
// Thread-safety: Generate is safe for concurrent use.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceGenerator creates a generator. If prefix is empty, ids are
// "tx-1", "tx-2", ...
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	if prefix == "" {
		prefix = "tx"
	}
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next id.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
