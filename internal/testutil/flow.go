package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs generates deterministic UUID-shaped ids in sequence.
//
// The same test run with the same SequentialIDs produces byte-identical
// record ids, which golden-file comparison depends on. The generated ids
// are valid UUID strings (version 7 bits set) but carry a counter instead
// of a timestamp, so they are stable across runs.
//
// Satisfies the capture.IDGenerator interface.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type SequentialIDs struct {
	mu sync.Mutex
	n  int64
}

// NewSequentialIDs creates a generator counting from 1.
//
// The first call to Generate() returns the id ending in ...000001.
func NewSequentialIDs() *SequentialIDs {
	return &SequentialIDs{}
}

// Generate returns the next id in the sequence.
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%08x-0000-7000-8000-%012x", g.n, g.n)
}

// Count returns how many ids have been generated.
func (g *SequentialIDs) Count() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

// Reset restarts the sequence. After Reset(), Generate() repeats the
// original sequence.
func (g *SequentialIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
