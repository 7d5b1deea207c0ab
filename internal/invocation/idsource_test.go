package invocation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDSourceMonotonic(t *testing.T) {
	s := NewIDSource()
	a := s.Next()
	b := s.Next()
	assert.Less(t, a, b)
}

func TestIDSourceUniqueUnderConcurrency(t *testing.T) {
	s := NewIDSource()
	const n = 1000
	seen := make(chan uint64, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen <- s.Next()
		}()
	}
	wg.Wait()
	close(seen)

	ids := make(map[uint64]bool, n)
	for id := range seen {
		assert.False(t, ids[id], "duplicate id %d", id)
		ids[id] = true
	}
	assert.Len(t, ids, n)
}
