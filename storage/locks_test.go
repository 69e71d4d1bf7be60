package storage

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntryLocks(t *testing.T) {
	locks := newEntryLocks()

	var wg sync.WaitGroup
	counters := map[string]*int{"a": new(int), "b": new(int)}
	for i := 0; i < 50; i++ {
		for key := range counters {
			wg.Add(1)
			go func(key string) {
				defer wg.Done()
				unlock := locks.Lock(key)
				*counters[key]++
				unlock()
			}(key)
		}
	}
	wg.Wait()

	assert.Equal(t, 50, *counters["a"])
	assert.Equal(t, 50, *counters["b"])
	assert.Zero(t, locks.size())
}
