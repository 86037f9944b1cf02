package presence

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	locks := NewKeyedMutex()
	counters := map[string]int{"a": 0, "b": 0}
	var mapMu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		for _, key := range []string{"a", "b"} {
			wg.Add(1)
			go func(key string) {
				defer wg.Done()
				unlock := locks.Lock(key)
				defer unlock()

				mapMu.Lock()
				v := counters[key]
				mapMu.Unlock()

				mapMu.Lock()
				counters[key] = v + 1
				mapMu.Unlock()
			}(key)
		}
	}
	wg.Wait()

	require.Equal(t, 50, counters["a"])
	require.Equal(t, 50, counters["b"])
	require.Zero(t, locks.Len())
}
