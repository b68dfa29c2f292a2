package ticketmutex

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMutualExclusion(t *testing.T) {
	var m T
	var counter int
	var wg sync.WaitGroup

	const goroutines = 50
	const iterations = 200

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				m.Acquire()
				counter++
				m.Release()
			}
		}()
	}

	wg.Wait()
	require.Equal(t, goroutines*iterations, counter)
}

func TestQueuedWaitersAllAcquire(t *testing.T) {
	var m T
	m.Acquire()

	const n = 8
	order := make(chan int, n)
	var starters sync.WaitGroup
	starters.Add(n)

	for i := 0; i < n; i++ {
		go func(i int) {
			starters.Done()
			m.Acquire()
			order <- i
			m.Release()
		}(i)
	}

	starters.Wait()
	m.Release()

	got := make([]int, 0, n)
	for i := 0; i < n; i++ {
		got = append(got, <-order)
	}
	require.Len(t, got, n)
}

func TestTryAcquireFailsWhenContended(t *testing.T) {
	var m T
	m.Acquire()
	require.False(t, m.TryAcquire())
	m.Release()
	require.True(t, m.TryAcquire())
	m.Release()
}
