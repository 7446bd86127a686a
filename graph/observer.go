package graph

import "github.com/teranos/strata/store"

// MainObserver is notified after each committed change set has been merged
// into Main. Callbacks run on the main loop, one after another, and may read
// Main objects through th. The change set is shared: do not mutate it.
type MainObserver interface {
	OnMainMerged(th *Thread, changes store.ChangeSet)
}

// RegisterObserver adds an observer of Main merges.
func (c *Coordinator) RegisterObserver(observer MainObserver) {
	c.observerMu.Lock()
	defer c.observerMu.Unlock()
	c.observers = append(c.observers, observer)
}

// UnregisterObserver removes an observer added with RegisterObserver.
func (c *Coordinator) UnregisterObserver(observer MainObserver) {
	c.observerMu.Lock()
	defer c.observerMu.Unlock()
	for i, o := range c.observers {
		if o == observer {
			c.observers = append(c.observers[:i], c.observers[i+1:]...)
			return
		}
	}
}

func (c *Coordinator) notifyMainObservers(th *Thread, changes store.ChangeSet) {
	c.observerMu.RLock()
	observers := make([]MainObserver, len(c.observers))
	copy(observers, c.observers)
	c.observerMu.RUnlock()

	for _, observer := range observers {
		observer.OnMainMerged(th, changes)
	}
}
