package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequencer_StartsAtZero(t *testing.T) {
	s := NewSequencer()

	assert.Equal(t, 0, s.NextSeq("m1"))
	assert.Equal(t, 1, s.NextSeq("m1"))
	assert.Equal(t, 2, s.NextSeq("m1"))

	// Counters are independent per message.
	assert.Equal(t, 0, s.NextSeq("m2"))
	assert.Equal(t, 3, s.NextSeq("m1"))
}

func TestSequencer_ClearSeq(t *testing.T) {
	s := NewSequencer()

	s.NextSeq("m1")
	s.NextSeq("m1")
	s.ClearSeq("m1")

	// A cleared counter restarts at 0. Callers only clear ids whose
	// lifecycle has ended, so this never collides with persisted chunks.
	assert.Equal(t, 0, s.NextSeq("m1"))
}

func TestSequencer_Concurrent(t *testing.T) {
	s := NewSequencer()

	const n = 100
	var wg sync.WaitGroup
	seen := make(chan int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- s.NextSeq("m1")
		}()
	}
	wg.Wait()
	close(seen)

	// All seqs are distinct and cover 0..n-1: gap-free under concurrency.
	got := make(map[int]bool, n)
	for seq := range seen {
		assert.False(t, got[seq], "duplicate seq %d", seq)
		got[seq] = true
	}
	for i := 0; i < n; i++ {
		assert.True(t, got[i], "missing seq %d", i)
	}
}
