package graph

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/teranos/strata/store"
)

// ContextKind distinguishes the three kinds of context
type ContextKind int

const (
	KindMaster ContextKind = iota
	KindMain
	KindTransaction
)

func (k ContextKind) String() string {
	switch k {
	case KindMaster:
		return "master"
	case KindMain:
		return "main"
	case KindTransaction:
		return "transaction"
	}
	return "unknown"
}

// Context is an isolated working copy of the graph.
//
// Master holds the committed state and is guarded by its own lock. Main is a
// read-only copy mutated only on the main loop, by merges in commit order. A transaction
// context belongs to the one thread it is bound to and needs no locking.
type Context struct {
	id     uint64
	kind   ContextKind
	coord  *Coordinator
	parent *Context

	// mu serializes Master mutations (apply, save, rollback) and snapshots
	mu sync.Mutex

	// objects holds every live object: all of them for Master and Main,
	// the ones registered so far for a transaction context
	objects map[string]*Object

	// transaction change tracking
	inserted map[string]*Object
	updated  map[string]*Object
	deleted  map[string]*Object

	pending  atomic.Bool
	disposed atomic.Bool

	// holder is the id of the thread the context is attached to, 0 if none
	holder atomic.Uint64
}

func newContext(coord *Coordinator, kind ContextKind, parent *Context) *Context {
	c := &Context{
		id:      coord.ctxSeq.Add(1),
		kind:    kind,
		coord:   coord,
		parent:  parent,
		objects: make(map[string]*Object),
	}
	if kind == KindTransaction {
		c.inserted = make(map[string]*Object)
		c.updated = make(map[string]*Object)
		c.deleted = make(map[string]*Object)
	}
	return c
}

// ID is unique for the life of the coordinator.
func (c *Context) ID() uint64 {
	return c.id
}

// Kind reports whether this is Master, Main or a transaction context.
func (c *Context) Kind() ContextKind {
	return c.kind
}

// HasChanges reports whether the context holds uncommitted changes.
func (c *Context) HasChanges() bool {
	return c.pending.Load()
}

// IsDisposed reports whether the transaction that owned the context has ended.
func (c *Context) IsDisposed() bool {
	return c.disposed.Load()
}

func (c *Context) dispose() {
	c.disposed.Store(true)
}

// register adds a materialized object to a transaction context
func (c *Context) register(o *Object) {
	c.objects[o.id] = o
}

func (c *Context) insertObject(o *Object) {
	o.owner = c
	c.objects[o.id] = o
	c.inserted[o.id] = o
	c.pending.Store(true)
}

func (c *Context) markDirty(o *Object, key string) {
	if o.dirty == nil {
		o.dirty = make(map[string]struct{})
	}
	o.dirty[key] = struct{}{}
	if _, ok := c.inserted[o.id]; !ok {
		c.updated[o.id] = o
	}
	c.pending.Store(true)
}

func (c *Context) deleteObject(o *Object) {
	delete(c.objects, o.id)
	delete(c.updated, o.id)
	o.deleted = true
	o.dirty = nil
	if _, ok := c.inserted[o.id]; ok {
		// Never reached Master, so nothing to delete there
		delete(c.inserted, o.id)
	} else {
		c.deleted[o.id] = o
	}
	c.pending.Store(len(c.inserted)+len(c.updated)+len(c.deleted) > 0)
}

// lookup finds id in a transaction context, materializing it from Master if needed
func (c *Context) lookup(id string) *Object {
	if _, gone := c.deleted[id]; gone {
		return nil
	}
	if o, ok := c.objects[id]; ok {
		return o
	}
	rec, ok := c.parent.snapshot(id)
	if !ok {
		return nil
	}
	o := c.coord.objectFromRecord(rec.record, rec.seq, c)
	if o == nil {
		return nil
	}
	c.register(o)
	return o
}

// changeSet collects the pending changes of a transaction context.
// Updated records carry only the transaction's view; Master computes the post state.
func (c *Context) changeSet() store.ChangeSet {
	var cs store.ChangeSet
	for _, o := range sortedBySeq(c.inserted) {
		cs.Inserted = append(cs.Inserted, o.record())
	}
	for _, o := range sortedBySeq(c.updated) {
		if len(o.dirty) == 0 {
			continue
		}
		changed := make([]string, 0, len(o.dirty))
		for k := range o.dirty {
			changed = append(changed, k)
		}
		sort.Strings(changed)
		cs.Updated = append(cs.Updated, store.Update{Record: o.record(), Changed: changed})
	}
	for _, o := range sortedBySeq(c.deleted) {
		cs.Deleted = append(cs.Deleted, o.id)
	}
	return cs
}

// clearPending forgets change tracking after a successful commit
func (c *Context) clearPending() {
	for _, o := range c.inserted {
		o.dirty = nil
	}
	for _, o := range c.updated {
		o.dirty = nil
	}
	c.inserted = make(map[string]*Object)
	c.updated = make(map[string]*Object)
	c.deleted = make(map[string]*Object)
	c.pending.Store(false)
}

type snapshotRecord struct {
	record store.Record
	seq    uint64
}

// snapshot copies one committed object out of Master
func (c *Context) snapshot(id string) (snapshotRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.objects[id]
	if !ok {
		return snapshotRecord{}, false
	}
	return snapshotRecord{record: o.record(), seq: o.seq}, true
}

// snapshotEntity copies every committed object of one entity out of Master
func (c *Context) snapshotEntity(entity string) []snapshotRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []snapshotRecord
	for _, o := range c.objects {
		if o.entity.Name == entity {
			out = append(out, snapshotRecord{record: o.record(), seq: o.seq})
		}
	}
	return out
}

func sortedBySeq(m map[string]*Object) []*Object {
	out := make([]*Object, 0, len(m))
	for _, o := range m {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// find resolves id within the context regardless of kind
func (c *Context) find(id string) *Object {
	switch c.kind {
	case KindTransaction:
		return c.lookup(id)
	case KindMaster:
		c.mu.Lock()
		defer c.mu.Unlock()
	}
	return c.objects[id]
}

// refresh reloads a transaction-context object from Master. With keepChanges
// the object's uncommitted fields survive; otherwise they are discarded.
func (c *Context) refresh(o *Object, keepChanges bool) {
	if c.kind != KindTransaction {
		return
	}
	if _, local := c.inserted[o.id]; local {
		return
	}
	rec, ok := c.parent.snapshot(o.id)
	if !ok {
		return
	}

	if keepChanges && len(o.dirty) > 0 {
		if rec.record.Relations == nil {
			rec.record.Relations = make(map[string][]string)
		}
		for k := range o.dirty {
			if _, isRel := o.entity.Relationship(k); isRel {
				if ids, set := o.rels[k]; set {
					rec.record.Relations[k] = ids
				} else {
					delete(rec.record.Relations, k)
				}
				continue
			}
			rec.record.Attrs[k] = o.attrs[k]
		}
		o.load(rec.record)
		return
	}

	o.load(rec.record)
	o.dirty = nil
	delete(c.updated, o.id)
	c.pending.Store(len(c.inserted)+len(c.updated)+len(c.deleted) > 0)
}
