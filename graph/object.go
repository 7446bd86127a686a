package graph

import (
	"time"

	"github.com/teranos/strata/schema"
	"github.com/teranos/strata/store"
)

// Object is one node of the graph.
//
// An object belongs to exactly one context, or to none while it is transient.
// Every field access goes through the accessors below, which check that the
// calling thread may touch the owning context.
type Object struct {
	coord  *Coordinator
	id     string
	entity *schema.Entity
	seq    uint64
	owner  *Context

	attrs map[string]interface{}
	rels  map[string][]string
	dirty map[string]struct{}

	deleted bool
}

// ID is the durable identity, assigned when the object is created.
func (o *Object) ID() string {
	return o.id
}

// Entity is the name of the object's entity.
func (o *Object) Entity() string {
	return o.entity.Name
}

// IsTransient reports whether the object has not been inserted into any context.
func (o *Object) IsTransient() bool {
	return o.owner == nil
}

// IsDeleted reports whether the object was deleted in its context.
func (o *Object) IsDeleted() bool {
	return o.deleted
}

// Context returns the owning context, nil while transient.
func (o *Object) Context() *Context {
	return o.owner
}

// Value reads an attribute.
func (o *Object) Value(th *Thread, key string) interface{} {
	o.coord.checkRead(th, o)
	o.attribute(key)
	return o.attrs[key]
}

// SetValue writes an attribute. The value is converted to the attribute's
// canonical type; a value of the wrong type is a schema violation.
func (o *Object) SetValue(th *Thread, key string, v interface{}) {
	o.coord.checkWrite(th, o)
	attr := o.attribute(key)
	cv, err := attr.Coerce(v)
	if err != nil {
		violate(ViolationSchema, "%s.%s: %v", o.entity.Name, key, err)
	}
	o.attrs[key] = cv
	if o.owner != nil && o.owner.kind == KindTransaction {
		o.owner.markDirty(o, key)
	}
}

// IntValue reads an int attribute; unset reads as 0.
func (o *Object) IntValue(th *Thread, key string) int64 {
	v, _ := o.typedValue(th, key, schema.TypeInt).(int64)
	return v
}

// FloatValue reads a float attribute; unset reads as 0.
func (o *Object) FloatValue(th *Thread, key string) float64 {
	v, _ := o.typedValue(th, key, schema.TypeFloat).(float64)
	return v
}

// StringValue reads a string attribute; unset reads as "".
func (o *Object) StringValue(th *Thread, key string) string {
	v, _ := o.typedValue(th, key, schema.TypeString).(string)
	return v
}

// BoolValue reads a bool attribute; unset reads as false.
func (o *Object) BoolValue(th *Thread, key string) bool {
	v, _ := o.typedValue(th, key, schema.TypeBool).(bool)
	return v
}

// TimeValue reads a time attribute; unset reads as the zero time.
func (o *Object) TimeValue(th *Thread, key string) time.Time {
	v, _ := o.typedValue(th, key, schema.TypeTime).(time.Time)
	return v
}

func (o *Object) typedValue(th *Thread, key string, want schema.AttributeType) interface{} {
	o.coord.checkRead(th, o)
	attr := o.attribute(key)
	if attr.Type != want {
		violate(ViolationSchema, "%s.%s is %s, read as %s", o.entity.Name, key, attr.Type, want)
	}
	return o.attrs[key]
}

// Related resolves a relationship within the object's own context.
// Targets that no longer exist are skipped.
func (o *Object) Related(th *Thread, key string) []*Object {
	o.coord.checkRead(th, o)
	o.relationship(key)
	ids := o.rels[key]
	if len(ids) == 0 || o.owner == nil {
		return nil
	}
	out := make([]*Object, 0, len(ids))
	for _, id := range ids {
		if target := o.owner.find(id); target != nil {
			out = append(out, target)
		}
	}
	return out
}

// SetRelated replaces a relationship. Every target must live in the same
// context as o; passing no targets clears the relationship.
func (o *Object) SetRelated(th *Thread, key string, targets ...*Object) {
	o.coord.checkWrite(th, o)
	rel := o.relationship(key)
	if !rel.ToMany && len(targets) > 1 {
		violate(ViolationSchema, "%s.%s is to-one, got %d targets", o.entity.Name, key, len(targets))
	}
	ids := make([]string, 0, len(targets))
	for _, t := range targets {
		if t.entity.Name != rel.Target {
			violate(ViolationSchema, "%s.%s targets %s, got %s", o.entity.Name, key, rel.Target, t.entity.Name)
		}
		if o.owner == nil || t.owner != o.owner {
			violate(ViolationCrossContext, "%s %s and %s %s do not share a context; transfer with UseInCurrentContext first",
				o.entity.Name, o.id, t.entity.Name, t.id)
		}
		ids = append(ids, t.id)
	}
	if len(ids) == 0 {
		delete(o.rels, key)
	} else {
		o.rels[key] = ids
	}
	if o.owner.kind == KindTransaction {
		o.owner.markDirty(o, key)
	}
}

func (o *Object) attribute(key string) *schema.Attribute {
	attr, ok := o.entity.Attribute(key)
	if !ok {
		violate(ViolationSchema, "%s has no attribute %q", o.entity.Name, key)
	}
	return attr
}

func (o *Object) relationship(key string) *schema.Relationship {
	rel, ok := o.entity.Relationship(key)
	if !ok {
		violate(ViolationSchema, "%s has no relationship %q", o.entity.Name, key)
	}
	return rel
}

// record copies the object into its persisted form
func (o *Object) record() store.Record {
	rec := store.Record{
		ID:     o.id,
		Entity: o.entity.Name,
		Attrs:  make(map[string]interface{}, len(o.attrs)),
	}
	for k, v := range o.attrs {
		rec.Attrs[k] = v
	}
	if len(o.rels) > 0 {
		rec.Relations = make(map[string][]string, len(o.rels))
		for k, ids := range o.rels {
			rec.Relations[k] = append([]string(nil), ids...)
		}
	}
	return rec
}

// load replaces attribute and relationship values from a record
func (o *Object) load(rec store.Record) {
	o.attrs = make(map[string]interface{}, len(rec.Attrs))
	for k, v := range rec.Attrs {
		o.attrs[k] = v
	}
	o.rels = make(map[string][]string, len(rec.Relations))
	for k, ids := range rec.Relations {
		o.rels[k] = append([]string(nil), ids...)
	}
}
