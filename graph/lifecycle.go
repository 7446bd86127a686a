package graph

import "github.com/teranos/strata/schema"

func (c *Coordinator) entity(name string) *schema.Entity {
	ent, ok := c.model.Entity(name)
	if !ok {
		violate(ViolationSchema, "unknown entity %q", name)
	}
	return ent
}

func (c *Coordinator) newObject(ent *schema.Entity) *Object {
	return &Object{
		coord:  c,
		id:     c.newObjectID(),
		entity: ent,
		seq:    c.seq.Add(1),
		attrs:  ent.Defaults(),
		rels:   make(map[string][]string),
	}
}

// Create makes one object of entity. Transient objects belong to no context
// until inserted; otherwise the object joins th's transaction immediately and
// its ID is final. The main thread may only create transient objects.
func (c *Coordinator) Create(th *Thread, entity string, transient bool) *Object {
	return c.CreateN(th, entity, 1, transient)[0]
}

// CreateN is Create for n objects at once.
func (c *Coordinator) CreateN(th *Thread, entity string, n int, transient bool) []*Object {
	c.mustBeLive()
	th.assertCurrent()
	ent := c.entity(entity)

	var ctx *Context
	if !transient {
		if th.main {
			violate(ViolationMainThread, "only transient objects can be created on the main thread")
		}
		ctx = c.registry.attached(th)
		if ctx == nil {
			violate(ViolationNoContext, "%s has no transaction to create %s in", th, entity)
		}
	}

	objs := make([]*Object, n)
	for i := range objs {
		o := c.newObject(ent)
		if ctx != nil {
			ctx.insertObject(o)
		}
		objs[i] = o
	}
	return objs
}

// Insert moves a transient object into th's transaction. Values set while
// the object was transient are kept over the entity defaults.
func (c *Coordinator) Insert(th *Thread, o *Object) {
	c.mustBeLive()
	th.assertCurrent()
	if o.owner != nil {
		violate(ViolationOwnership, "%s %s already belongs to context %d", o.entity.Name, o.id, o.owner.id)
	}
	if th.main {
		violate(ViolationMainThread, "objects cannot be inserted on the main thread")
	}
	ctx := c.registry.attached(th)
	if ctx == nil {
		violate(ViolationNoContext, "%s has no transaction to insert %s into", th, o.entity.Name)
	}

	snapshot := make(map[string]interface{}, len(o.attrs))
	for k, v := range o.attrs {
		snapshot[k] = v
	}
	o.attrs = o.entity.Defaults()
	ctx.insertObject(o)
	for k, v := range snapshot {
		o.attrs[k] = v
	}
}

// Delete removes objects from th's transaction. Each must be owned by it.
func (c *Coordinator) Delete(th *Thread, objs ...*Object) {
	c.mustBeLive()
	th.assertCurrent()
	if th.main {
		violate(ViolationMainThread, "objects cannot be deleted on the main thread")
	}
	ctx := c.registry.attached(th)
	if ctx == nil {
		violate(ViolationNoContext, "%s has no transaction to delete from", th)
	}
	for _, o := range objs {
		if o.owner != ctx {
			violate(ViolationOwnership, "%s %s is not owned by the transaction on %s", o.entity.Name, o.id, th)
		}
	}
	for _, o := range objs {
		if !o.deleted {
			ctx.deleteObject(o)
		}
	}
}

// UseInCurrentContext returns the instance of o that belongs to th's
// attached context, with fresh field values, or nil if the object no longer
// exists there. o must have been committed: transient objects and objects
// whose context still has uncommitted changes are violations.
//
// On the main thread an object committed after Main's last merge is taken
// from Master, so a freshly committed object is never reported missing.
func (c *Coordinator) UseInCurrentContext(th *Thread, o *Object) *Object {
	c.mustBeLive()
	th.assertCurrent()

	ctx := c.registry.attached(th)
	if ctx == nil {
		violate(ViolationNoContext, "%s has no attached context", th)
	}
	if o.owner == nil {
		violate(ViolationTransient, "%s %s is transient; insert and commit it first", o.entity.Name, o.id)
	}
	if o.owner == ctx {
		return o
	}
	if o.owner.HasChanges() {
		violate(ViolationOwnership, "%s %s comes from context %d, which has uncommitted changes", o.entity.Name, o.id, o.owner.id)
	}

	found := ctx.find(o.id)
	if found == nil && ctx.kind == KindMain {
		found = c.adoptFromMaster(o.id)
	}
	if found == nil {
		return nil
	}
	ctx.refresh(found, true)
	return found
}

// Refresh discards th's uncommitted changes to o and reloads it from the
// committed state. Main objects are always current, so this is a no-op there.
func (c *Coordinator) Refresh(th *Thread, o *Object) {
	c.mustBeLive()
	th.assertCurrent()
	ctx := c.registry.attached(th)
	if ctx == nil {
		violate(ViolationNoContext, "%s has no attached context", th)
	}
	if o.owner != ctx {
		violate(ViolationOwnership, "%s %s is not owned by the context attached to %s", o.entity.Name, o.id, th)
	}
	ctx.refresh(o, false)
}
