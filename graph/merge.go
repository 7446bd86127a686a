package graph

import (
	"context"

	"github.com/teranos/strata/errors"
	"github.com/teranos/strata/logger"
	"github.com/teranos/strata/metrics"
	"github.com/teranos/strata/store"
)

// masterUndo remembers the state of every Master object touched by one save.
// A nil entry means the object did not exist before.
type masterUndo map[string]*Object

func (u masterUndo) remember(master *Context, id string) {
	if _, seen := u[id]; seen {
		return
	}
	prev, ok := master.objects[id]
	if !ok {
		u[id] = nil
		return
	}
	clone := *prev
	clone.load(prev.record())
	u[id] = &clone
}

func (u masterUndo) revert(master *Context) {
	for id, prev := range u {
		if prev == nil {
			delete(master.objects, id)
			continue
		}
		master.objects[id] = prev
	}
}

// saveMaster applies a transaction's changes to Master field by field and
// saves the result. Concurrent commits queue on Master's lock; the last
// write to a field wins. If the store rejects the save, Master is put back
// exactly as it was.
//
// seq numbers successful saves in the order they reached Master. Main
// applies merges in that order no matter when they are queued.
func (c *Coordinator) saveMaster(changes store.ChangeSet) (applied store.ChangeSet, seq uint64, err error) {
	master := c.master
	master.mu.Lock()
	defer master.mu.Unlock()

	undo := make(masterUndo)

	for _, rec := range changes.Inserted {
		undo.remember(master, rec.ID)
		o := c.objectFromRecord(rec, c.seq.Add(1), master)
		if o == nil {
			continue
		}
		master.objects[rec.ID] = o
		applied.Inserted = append(applied.Inserted, o.record())
	}

	for _, upd := range changes.Updated {
		mo, ok := master.objects[upd.ID]
		if !ok {
			metrics.DroppedUpdates.Inc()
			c.logger.Warnw("Dropping update to object deleted by another transaction",
				logger.FieldObjectID, upd.ID,
				logger.FieldEntity, upd.Entity,
			)
			continue
		}
		undo.remember(master, upd.ID)
		for _, key := range upd.Changed {
			if _, isRel := mo.entity.Relationship(key); isRel {
				if ids := upd.Relations[key]; len(ids) > 0 {
					mo.rels[key] = append([]string(nil), ids...)
				} else {
					delete(mo.rels, key)
				}
				continue
			}
			mo.attrs[key] = upd.Attrs[key]
		}
		applied.Updated = append(applied.Updated, store.Update{Record: mo.record(), Changed: upd.Changed})
	}

	for _, id := range changes.Deleted {
		if _, ok := master.objects[id]; !ok {
			continue
		}
		undo.remember(master, id)
		delete(master.objects, id)
		applied.Deleted = append(applied.Deleted, id)
	}

	if applied.Empty() {
		return applied, 0, nil
	}

	if err := c.store.Save(context.Background(), applied); err != nil {
		undo.revert(master)
		if !errors.IsPersistenceError(err) {
			err = errors.WrapPersistence(err, "save master context")
		}
		return store.ChangeSet{}, 0, err
	}
	c.masterSeq++
	return applied, c.masterSeq, nil
}

// queueMainMerge hands a committed change set to the main loop
func (c *Coordinator) queueMainMerge(seq uint64, changes store.ChangeSet) {
	if !c.loop.enqueue(func(th *Thread) { c.deliverMerge(th, seq, changes) }) {
		c.logger.Warnw("Main loop stopped, dropping merge", logger.FieldCount, changes.Len())
	}
}

// deliverMerge holds back change sets that arrive ahead of an earlier
// commit and merges everything that is now contiguous. Runs on the main loop.
func (c *Coordinator) deliverMerge(th *Thread, seq uint64, changes store.ChangeSet) {
	c.heldMerges[seq] = changes
	for {
		next, ok := c.heldMerges[c.mainSeq+1]
		if !ok {
			return
		}
		delete(c.heldMerges, c.mainSeq+1)
		c.mainSeq++
		c.mergeIntoMain(th, next)
	}
}

// mergeIntoMain applies a committed change set to Main. Runs on the main loop.
func (c *Coordinator) mergeIntoMain(th *Thread, changes store.ChangeSet) {
	main := c.main
	for _, rec := range changes.Inserted {
		// already adopted from Master by UseInCurrentContext
		if o, ok := main.objects[rec.ID]; ok {
			o.load(rec)
			continue
		}
		if o := c.objectFromRecord(rec, c.seq.Add(1), main); o != nil {
			main.objects[rec.ID] = o
		}
	}
	for _, upd := range changes.Updated {
		if o, ok := main.objects[upd.ID]; ok {
			o.load(upd.Record)
			continue
		}
		if o := c.objectFromRecord(upd.Record, c.seq.Add(1), main); o != nil {
			main.objects[upd.ID] = o
		}
	}
	for _, id := range changes.Deleted {
		if o, ok := main.objects[id]; ok {
			o.deleted = true
			delete(main.objects, id)
		}
	}

	metrics.MainMerges.Inc()
	metrics.MergedObjects.Add(float64(changes.Len()))
	c.notifyMainObservers(th, changes)
}

// adoptFromMaster copies a committed object whose merge has not reached Main
// yet. The pending merge later reloads the same instance. Runs on the main loop.
func (c *Coordinator) adoptFromMaster(id string) *Object {
	snap, ok := c.master.snapshot(id)
	if !ok {
		return nil
	}
	o := c.objectFromRecord(snap.record, c.seq.Add(1), c.main)
	if o != nil {
		c.main.objects[id] = o
	}
	return o
}
