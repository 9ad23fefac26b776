package whatsapp

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryPutIfAbsent(t *testing.T) {
	r := NewRegistry()
	h1 := NewHandle(1, 10, 5)
	h2 := NewHandle(1, 10, 5)

	got, present := r.PutIfAbsent(1, h1)
	require.False(t, present)
	assert.Same(t, h1, got)

	got, present = r.PutIfAbsent(1, h2)
	assert.True(t, present)
	assert.Same(t, h1, got, "existing handle must win")
	assert.Equal(t, 1, r.Len())
}

func TestRegistryPutIfAbsentConcurrent(t *testing.T) {
	r := NewRegistry()
	const workers = 64

	var wg sync.WaitGroup
	var winners int32
	var mu sync.Mutex
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := NewHandle(7, 10, 5)
			if _, present := r.PutIfAbsent(7, h); !present {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, winners, "exactly one insert must win")
	assert.Equal(t, 1, r.Len())
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry()
	h := NewHandle(3, 10, 5)
	r.PutIfAbsent(3, h)

	assert.Same(t, h, r.Remove(3))
	assert.Nil(t, r.Remove(3), "second remove is a no-op")
	assert.Nil(t, r.Get(3))
	assert.Equal(t, 0, r.Len())
}

func TestRegistryRange(t *testing.T) {
	r := NewRegistry()
	for id := int64(1); id <= 5; id++ {
		r.PutIfAbsent(id, NewHandle(id, 10, 5))
	}

	seen := map[int64]bool{}
	r.Range(func(accountID int64, h *Handle) bool {
		seen[accountID] = true
		return true
	})
	assert.Len(t, seen, 5)

	count := 0
	r.Range(func(accountID int64, h *Handle) bool {
		count++
		return count < 2
	})
	assert.Equal(t, 2, count, "range stops when fn returns false")
}
