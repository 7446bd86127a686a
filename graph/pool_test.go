package graph

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestWorkerPoolStopAbandonsWaitingJobs(t *testing.T) {
	p := newWorkerPool(1, zaptest.NewLogger(t).Sugar())
	p.start()

	var ran, abandoned atomic.Int32
	var wg sync.WaitGroup
	started := make(chan struct{})
	var once sync.Once
	for i := 0; i < 5; i++ {
		wg.Add(1)
		p.submit(func(*Thread) {
			defer wg.Done()
			once.Do(func() { close(started) })
			time.Sleep(50 * time.Millisecond)
			ran.Add(1)
		}, func() {
			defer wg.Done()
			abandoned.Add(1)
		})
	}
	<-started
	p.stop()

	wg.Add(1)
	p.submit(func(*Thread) {
		defer wg.Done()
		ran.Add(1)
	}, func() {
		defer wg.Done()
		abandoned.Add(1)
	})
	wg.Wait()

	assert.Equal(t, int32(1), ran.Load())
	assert.Equal(t, int32(5), abandoned.Load())

	// Stopping twice is harmless
	p.stop()
}

func TestWorkerPoolWithoutWorkers(t *testing.T) {
	p := newWorkerPool(0, zaptest.NewLogger(t).Sugar())
	p.start()
	defer p.stop()

	var wg sync.WaitGroup
	threads := make(chan uint64, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		p.submit(func(th *Thread) {
			defer wg.Done()
			threads <- th.ID()
		}, func() {
			wg.Done()
			t.Error("job abandoned while the pool was running")
		})
	}
	wg.Wait()
	close(threads)

	seen := make(map[uint64]bool)
	for id := range threads {
		seen[id] = true
	}
	assert.Len(t, seen, 3, "every job gets its own thread")
}
