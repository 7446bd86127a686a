package graph

import "sync"

// SerialQueue is a serialization domain: transactions submitted to the same
// queue run one at a time in submission order.
type SerialQueue struct {
	name string

	mu   sync.Mutex
	tail chan struct{}
}

// NewSerialQueue creates a private serialization domain.
func (c *Coordinator) NewSerialQueue(name string) *SerialQueue {
	closed := make(chan struct{})
	close(closed)
	return &SerialQueue{name: name, tail: closed}
}

// DefaultSerialQueue returns the process-wide serialization domain.
func (c *Coordinator) DefaultSerialQueue() *SerialQueue {
	return c.serial
}

// Name of the queue, for logs.
func (q *SerialQueue) Name() string {
	return q.name
}

// ticket reserves the next slot. turn is closed once every earlier ticket has
// been released; release must be called exactly once.
func (q *SerialQueue) ticket() (turn <-chan struct{}, release func()) {
	mine := make(chan struct{})
	q.mu.Lock()
	prev := q.tail
	q.tail = mine
	q.mu.Unlock()

	var once sync.Once
	return prev, func() { once.Do(func() { close(mine) }) }
}
