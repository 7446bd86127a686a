package graph

import (
	"sync"

	"go.uber.org/zap"

	"github.com/teranos/strata/logger"
)

// workerPool runs parallel transactions. Each worker owns one background
// thread for its whole life. With zero workers every job gets its own goroutine.
//
// jobs is never closed: stop closes quit instead, and every job that has not
// started by then is abandoned exactly once.
type workerPool struct {
	workers int
	jobs    chan poolJob
	quit    chan struct{}
	wg      sync.WaitGroup
	logger  *zap.SugaredLogger

	mu      sync.Mutex
	stopped bool
	senders sync.WaitGroup
}

// poolJob pairs the work with what to do if the pool stops before it runs
type poolJob struct {
	run     func(*Thread)
	abandon func()
}

func newWorkerPool(workers int, log *zap.SugaredLogger) *workerPool {
	p := &workerPool{
		workers: workers,
		quit:    make(chan struct{}),
		logger:  log.Named("pool"),
	}
	if workers > 0 {
		p.jobs = make(chan poolJob, workers)
	}
	return p
}

func (p *workerPool) start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Debugw("Worker pool started", logger.FieldWorkers, p.workers)
}

func (p *workerPool) worker(id int) {
	defer p.wg.Done()
	th := newThread(false)
	p.logger.Debugw("Worker started", "worker", id, logger.FieldThreadID, th.id)
	for {
		// quit wins over queued jobs
		select {
		case <-p.quit:
			return
		default:
		}
		select {
		case <-p.quit:
			return
		case job := <-p.jobs:
			job.run(th)
		}
	}
}

// submit never blocks the caller
func (p *workerPool) submit(run func(*Thread), abandon func()) {
	job := poolJob{run: run, abandon: abandon}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		go job.abandon()
		return
	}
	if p.workers == 0 {
		go func() {
			job.run(newThread(false))
		}()
		return
	}
	select {
	case p.jobs <- job:
		return
	default:
	}
	p.senders.Add(1)
	go func() {
		defer p.senders.Done()
		select {
		case p.jobs <- job:
		case <-p.quit:
			job.abandon()
		}
	}()
}

// stop lets running jobs finish and abandons the ones still waiting
func (p *workerPool) stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.quit)
	p.mu.Unlock()

	p.wg.Wait()
	p.senders.Wait()

	abandoned := 0
drain:
	for p.jobs != nil {
		select {
		case job := <-p.jobs:
			job.abandon()
			abandoned++
		default:
			break drain
		}
	}
	p.logger.Debugw("Worker pool stopped", "abandoned", abandoned)
}
