package graph

import "sync"

// binding is one thread's registry slot
type binding struct {
	ctx              *Context
	noImplicitCommit bool
}

// affinityRegistry records which context each thread may touch.
// The main thread is always bound to Main and never appears in the table.
type affinityRegistry struct {
	mu    sync.RWMutex
	main  *Context
	slots map[uint64]binding
}

func newAffinityRegistry(main *Context) *affinityRegistry {
	return &affinityRegistry{
		main:  main,
		slots: make(map[uint64]binding),
	}
}

func (r *affinityRegistry) attached(th *Thread) *Context {
	if th.main {
		return r.main
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.slots[th.id].ctx
}

// claimContext marks ctx as held by th. A context is attached to at most one
// thread at a time.
func claimContext(th *Thread, ctx *Context) {
	if ctx.holder.CompareAndSwap(0, th.id) || ctx.holder.Load() == th.id {
		return
	}
	violate(ViolationOwnership, "context %d is attached to thread#%d, not %s", ctx.id, ctx.holder.Load(), th)
}

// releaseContext gives ctx up if th holds it
func releaseContext(th *Thread, ctx *Context) {
	if ctx != nil {
		ctx.holder.CompareAndSwap(th.id, 0)
	}
}

func (r *affinityRegistry) attach(th *Thread, ctx *Context) {
	if th.main {
		violate(ViolationMainThread, "the main thread is always bound to the main context")
	}
	if ctx != nil {
		if ctx.IsDisposed() {
			violate(ViolationLifecycle, "context %d was disposed and cannot be attached again", ctx.id)
		}
		claimContext(th, ctx)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	slot := r.slots[th.id]
	if slot.ctx != ctx {
		releaseContext(th, slot.ctx)
	}
	slot.ctx = ctx
	r.slots[th.id] = slot
}

func (r *affinityRegistry) detach(th *Thread) {
	if th.main {
		violate(ViolationMainThread, "the main thread is always bound to the main context")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	releaseContext(th, r.slots[th.id].ctx)
	delete(r.slots, th.id)
}

// push binds ctx with a cleared commit-suppression flag and returns the slot
// it replaced. The replaced context stays held by th until restore.
func (r *affinityRegistry) push(th *Thread, ctx *Context) binding {
	if th.main {
		violate(ViolationMainThread, "transactions cannot run on the main thread")
	}
	if ctx.IsDisposed() {
		violate(ViolationLifecycle, "context %d was disposed and cannot be attached again", ctx.id)
	}
	claimContext(th, ctx)
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.slots[th.id]
	r.slots[th.id] = binding{ctx: ctx}
	return prev
}

// restore puts back a slot returned by push
func (r *affinityRegistry) restore(th *Thread, prev binding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur := r.slots[th.id].ctx; cur != prev.ctx {
		releaseContext(th, cur)
	}
	if prev.ctx == nil && !prev.noImplicitCommit {
		delete(r.slots, th.id)
		return
	}
	r.slots[th.id] = prev
}

func (r *affinityRegistry) noImplicitCommit(th *Thread) bool {
	if th.main {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.slots[th.id].noImplicitCommit
}

func (r *affinityRegistry) setNoImplicitCommit(th *Thread, v bool) {
	if th.main {
		violate(ViolationMainThread, "the main thread has no implicit commit")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	slot := r.slots[th.id]
	slot.noImplicitCommit = v
	r.slots[th.id] = slot
}

// bound is the number of threads with a slot, for tests and stats
func (r *affinityRegistry) bound() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.slots)
}
