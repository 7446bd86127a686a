package graph

import (
	"fmt"
	"sync/atomic"

	"github.com/petermattis/goid"
)

var threadSeq atomic.Uint64

// Thread identifies the goroutine an operation runs on.
// Handles are bound to the goroutine that created them: using one from any
// other goroutine is a violation.
type Thread struct {
	id   uint64
	gid  int64
	main bool

	// held is the stack of serial queues this thread is currently executing on.
	// Only the owning goroutine touches it.
	held []*SerialQueue
}

func newThread(main bool) *Thread {
	return &Thread{
		id:   threadSeq.Add(1),
		gid:  goid.Get(),
		main: main,
	}
}

// ID is unique for the life of the process.
func (th *Thread) ID() uint64 {
	return th.id
}

// IsMain reports whether this is the main-loop thread.
func (th *Thread) IsMain() bool {
	return th.main
}

func (th *Thread) String() string {
	if th.main {
		return fmt.Sprintf("main#%d", th.id)
	}
	return fmt.Sprintf("thread#%d", th.id)
}

// assertCurrent panics unless called on the goroutine that owns th
func (th *Thread) assertCurrent() {
	if th == nil {
		violate(ViolationWrongThread, "nil thread handle")
	}
	if gid := goid.Get(); gid != th.gid {
		violate(ViolationWrongThread, "%s used from goroutine %d, owned by goroutine %d", th, gid, th.gid)
	}
}

func (th *Thread) holds(q *SerialQueue) bool {
	for _, h := range th.held {
		if h == q {
			return true
		}
	}
	return false
}

func (th *Thread) pushHeld(q *SerialQueue) {
	th.held = append(th.held, q)
}

func (th *Thread) popHeld() {
	th.held = th.held[:len(th.held)-1]
}
