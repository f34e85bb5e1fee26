package lockset

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLockServerIsReusedPerServer(t *testing.T) {
	l := New()
	require.Same(t, l.serverLock(1), l.serverLock(1))
	require.NotSame(t, l.serverLock(1), l.serverLock(2))
}

func TestLockServerSerializesCounterUpdates(t *testing.T) {
	l := New()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.LockServer(42)
			defer unlock()
			counter++
		}()
	}
	wg.Wait()
	require.Equal(t, 100, counter)
}

func TestDistinctServersDoNotBlockEachOther(t *testing.T) {
	l := New()
	unlock1 := l.LockServer(1)
	defer unlock1()

	done := make(chan struct{})
	go func() {
		unlock2 := l.LockServer(2)
		unlock2()
		close(done)
	}()
	<-done
}

func TestLockCleanupIsGlobal(t *testing.T) {
	l := New()
	running := 0
	max := 0
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.LockCleanup()
			defer unlock()
			mu.Lock()
			running++
			if running > max {
				max = running
			}
			mu.Unlock()
			mu.Lock()
			running--
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Equal(t, 1, max)
}
