package ids

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateULIDIsSortable(t *testing.T) {
	const total = 100
	generated := make([]string, total)
	for i := range generated {
		generated[i] = CreateULID()
		require.Len(t, generated[i], 26)
	}
	for i := 1; i < total; i++ {
		assert.Less(t, generated[i-1], generated[i])
	}
}

func TestCreateULIDConcurrentUniqueness(t *testing.T) {
	const goroutines, perGoroutine = 8, 25

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]struct{}, goroutines*perGoroutine)
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				id := CreateULID()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, goroutines*perGoroutine)
}

func TestTime(t *testing.T) {
	before := time.Now().Add(-time.Second)
	stamp, err := Time(CreateULID())
	require.NoError(t, err)
	assert.True(t, stamp.After(before))

	_, err = Time("not-a-ulid")
	assert.Error(t, err)
}
