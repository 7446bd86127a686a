package graph

import (
	"sync"
	"sync/atomic"

	"github.com/petermattis/goid"
	"go.uber.org/zap"

	"github.com/teranos/strata/logger"
)

// mainLoop is the designated main thread: one goroutine running queued
// closures in submission order. Other goroutines block once size closures
// are waiting; closures queued by the loop itself never block.
type mainLoop struct {
	size   int
	logger *zap.SugaredLogger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func(*Thread)
	closed bool

	gid   atomic.Int64
	th    *Thread
	ready chan struct{}
	done  chan struct{}
}

func newMainLoop(queueSize int, log *zap.SugaredLogger) *mainLoop {
	l := &mainLoop{
		size:   queueSize,
		logger: log.Named("main"),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *mainLoop) start() {
	go l.run()
	<-l.ready
}

func (l *mainLoop) run() {
	defer close(l.done)

	l.th = newThread(true)
	l.gid.Store(goid.Get())
	close(l.ready)

	l.logger.Debugw("Main loop started", logger.FieldThreadID, l.th.id)
	for {
		fn, ok := l.next()
		if !ok {
			break
		}
		fn(l.th)
	}
	l.logger.Debugw("Main loop stopped")
}

// next waits for a closure; ok is false once the loop is stopped and empty
func (l *mainLoop) next() (func(*Thread), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for len(l.queue) == 0 && !l.closed {
		l.cond.Wait()
	}
	if len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	l.cond.Broadcast()
	return fn, true
}

// onLoop reports whether the caller is the main loop goroutine
func (l *mainLoop) onLoop() bool {
	return goid.Get() == l.gid.Load()
}

func (l *mainLoop) full() bool {
	return l.size > 0 && len(l.queue) >= l.size
}

// enqueue reports false once the loop is stopped
func (l *mainLoop) enqueue(fn func(*Thread)) bool {
	self := l.onLoop()

	l.mu.Lock()
	defer l.mu.Unlock()
	for !self && !l.closed && l.full() {
		l.cond.Wait()
	}
	if l.closed {
		return false
	}
	l.queue = append(l.queue, fn)
	l.cond.Broadcast()
	return true
}

// stop runs everything already queued, then ends the loop
func (l *mainLoop) stop() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.cond.Broadcast()
	l.mu.Unlock()
	<-l.done
}

// OnMain queues fn to run on the main loop and returns immediately.
func (c *Coordinator) OnMain(fn func(th *Thread)) {
	c.mustBeLive()
	if !c.loop.enqueue(fn) {
		violate(ViolationUninitialized, "main loop already stopped")
	}
}

// OnMainAndWait runs fn on the main loop and waits for it to return.
// Called from the main loop itself, fn runs inline.
func (c *Coordinator) OnMainAndWait(fn func(th *Thread)) {
	c.mustBeLive()
	if c.loop.onLoop() {
		fn(c.loop.th)
		return
	}

	done := make(chan struct{})
	var panicked interface{}
	ok := c.loop.enqueue(func(th *Thread) {
		defer close(done)
		defer func() {
			// Hand usage violations back to the waiting caller
			if r := recover(); r != nil {
				if _, isViolation := r.(*Violation); !isViolation {
					panic(r)
				}
				panicked = r
			}
		}()
		fn(th)
	})
	if !ok {
		violate(ViolationUninitialized, "main loop already stopped")
	}
	<-done
	if panicked != nil {
		panic(panicked)
	}
}
