package graph

// checkRead enforces thread affinity for field reads.
// Transient objects and Master's own objects are readable everywhere.
func (c *Coordinator) checkRead(th *Thread, o *Object) {
	c.mustBeLive()
	th.assertCurrent()

	owner := o.owner
	if owner == nil || owner.kind == KindMaster {
		return
	}
	attached := c.registry.attached(th)
	if attached == owner {
		return
	}

	switch {
	case owner.kind == KindMain:
		violate(ViolationWrongThread, "cannot read main-thread %s %s from background %s", o.entity.Name, o.id, th)
	case attached == nil:
		violate(ViolationNoContext, "cannot read %s %s from %s, which has no attached context", o.entity.Name, o.id, th)
	case th.main:
		violate(ViolationWrongThread, "cannot read background %s %s from the main thread; use UseInCurrentContext", o.entity.Name, o.id)
	default:
		violate(ViolationWrongThread, "cannot read %s %s outside the transaction that owns it", o.entity.Name, o.id)
	}
}

// checkWrite enforces thread affinity for field writes.
// The main thread never writes persisted objects.
func (c *Coordinator) checkWrite(th *Thread, o *Object) {
	c.mustBeLive()
	th.assertCurrent()

	owner := o.owner
	if owner == nil {
		return
	}
	if th.main {
		violate(ViolationMainThread, "cannot modify %s %s on the main thread; objects are read-only there", o.entity.Name, o.id)
	}
	if owner.kind == KindMaster {
		return
	}
	attached := c.registry.attached(th)
	switch {
	case attached == nil:
		violate(ViolationNoContext, "cannot modify %s %s from %s, which has no attached context", o.entity.Name, o.id, th)
	case attached != owner:
		violate(ViolationWrongThread, "cannot modify %s %s outside the transaction that owns it", o.entity.Name, o.id)
	}
}
