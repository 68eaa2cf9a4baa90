package testutil

import (
	"fmt"
	"sync"
)

// SeqTokenGenerator generates numbered tokens with a fixed prefix:
// "txn-000001", "txn-000002", and so on.
//
// Unlike gate.FixedGenerator, which panics once its declared tokens run
// out, SeqTokenGenerator never exhausts. Use it in scenario harnesses
// where the number of transactions is not known up front; the same
// scenario still produces byte-identical token sequences.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SeqTokenGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int64
}

// NewSeqTokenGenerator creates a generator with the given prefix.
//
// If prefix is empty, "token" is used.
func NewSeqTokenGenerator(prefix string) *SeqTokenGenerator {
	if prefix == "" {
		prefix = "token"
	}
	return &SeqTokenGenerator{prefix: prefix}
}

// Generate returns the next numbered token.
//
// Implements gate.TokenGenerator.
func (g *SeqTokenGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%06d", g.prefix, g.n)
}

// Reset restarts numbering from 1.
func (g *SeqTokenGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
