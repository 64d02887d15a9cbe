package testutil

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequentialIDs_CountsFromOne(t *testing.T) {
	gen := NewSequentialIDs()

	assert.Equal(t, "00000001-0000-7000-8000-000000000001", gen.Generate())
	assert.Equal(t, "00000002-0000-7000-8000-000000000002", gen.Generate())
	assert.Equal(t, int64(2), gen.Count())
}

func TestSequentialIDs_ValidUUIDs(t *testing.T) {
	gen := NewSequentialIDs()
	for i := 0; i < 10; i++ {
		id := gen.Generate()
		_, err := uuid.Parse(id)
		require.NoError(t, err, "id %q must parse as a UUID", id)
	}
}

func TestSequentialIDs_Reset(t *testing.T) {
	gen := NewSequentialIDs()
	first := gen.Generate()
	gen.Generate()

	gen.Reset()
	assert.Equal(t, int64(0), gen.Count())
	assert.Equal(t, first, gen.Generate())
}

func TestSequentialIDs_Deterministic(t *testing.T) {
	gen1 := NewSequentialIDs()
	gen2 := NewSequentialIDs()
	for i := 0; i < 100; i++ {
		assert.Equal(t, gen1.Generate(), gen2.Generate())
	}
}

func TestSequentialIDs_ThreadSafe(t *testing.T) {
	gen := NewSequentialIDs()
	const numGoroutines = 50
	const callsPerGoroutine = 50

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	results := make([][]string, numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		results[i] = make([]string, callsPerGoroutine)
		go func(idx int) {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				results[idx][j] = gen.Generate()
			}
		}(i)
	}

	wg.Wait()

	seen := make(map[string]bool)
	for i := 0; i < numGoroutines; i++ {
		for j := 0; j < callsPerGoroutine; j++ {
			id := results[i][j]
			require.False(t, seen[id], "duplicate id %s", id)
			seen[id] = true
		}
	}
	assert.Len(t, seen, numGoroutines*callsPerGoroutine)
}
