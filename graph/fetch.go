package graph

import (
	"sort"

	"github.com/teranos/strata/errors"
	"github.com/teranos/strata/logger"
	"github.com/teranos/strata/schema"
)

// SortDescriptor orders fetch results by one attribute
type SortDescriptor struct {
	Key       string
	Ascending bool
}

// FetchRequest is a composable query over one entity. Builder methods
// return a modified copy, so a request can be shared and extended freely.
// Requests run against the context attached to the calling thread.
type FetchRequest struct {
	coord     *Coordinator
	entity    string
	where     Predicate
	sorts     []SortDescriptor
	limit     int
	offset    int
	batchSize int
	distinct  bool
	only      []string
	prefetch  []string
	exprs     []Expression
	groupBy   []string
}

// Objects starts a fetch request for entity.
func (c *Coordinator) Objects(entity string) *FetchRequest {
	return &FetchRequest{coord: c, entity: entity}
}

func (r *FetchRequest) clone() *FetchRequest {
	out := *r
	out.sorts = append([]SortDescriptor(nil), r.sorts...)
	out.only = append([]string(nil), r.only...)
	out.prefetch = append([]string(nil), r.prefetch...)
	out.exprs = append([]Expression(nil), r.exprs...)
	out.groupBy = append([]string(nil), r.groupBy...)
	return &out
}

// Entity is the entity the request selects.
func (r *FetchRequest) Entity() string {
	return r.entity
}

// Where narrows the request; repeated calls combine with AND.
func (r *FetchRequest) Where(p Predicate) *FetchRequest {
	out := r.clone()
	if out.where == nil {
		out.where = p
	} else {
		out.where = And(out.where, p)
	}
	return out
}

// And is Where.
func (r *FetchRequest) And(p Predicate) *FetchRequest {
	return r.Where(p)
}

// Or widens the request to objects matching either the current predicate or p.
func (r *FetchRequest) Or(p Predicate) *FetchRequest {
	out := r.clone()
	if out.where == nil {
		out.where = p
	} else {
		out.where = Or(out.where, p)
	}
	return out
}

// Filter is Where with an expr-lang expression.
func (r *FetchRequest) Filter(expression string, params map[string]interface{}) *FetchRequest {
	return r.Where(Expr(expression, params))
}

// SortBy appends a sort key. Ties fall back to creation order.
func (r *FetchRequest) SortBy(key string, ascending bool) *FetchRequest {
	out := r.clone()
	out.sorts = append(out.sorts, SortDescriptor{Key: key, Ascending: ascending})
	return out
}

// Limit caps the number of results; 0 means no limit.
func (r *FetchRequest) Limit(n int) *FetchRequest {
	out := r.clone()
	out.limit = n
	return out
}

// Offset skips the first n results.
func (r *FetchRequest) Offset(n int) *FetchRequest {
	out := r.clone()
	out.offset = n
	return out
}

// BatchSize is accepted as a hint. Results are always fully materialized.
func (r *FetchRequest) BatchSize(n int) *FetchRequest {
	out := r.clone()
	out.batchSize = n
	return out
}

// Distinct removes duplicate rows from FetchDictionaries.
func (r *FetchRequest) Distinct() *FetchRequest {
	out := r.clone()
	out.distinct = true
	return out
}

// OnlyProperties limits the keys of FetchDictionaries rows.
func (r *FetchRequest) OnlyProperties(keys ...string) *FetchRequest {
	out := r.clone()
	out.only = append(out.only, keys...)
	return out
}

// Prefetch loads the targets of the named relationships along with the results.
func (r *FetchRequest) Prefetch(relationships ...string) *FetchRequest {
	out := r.clone()
	out.prefetch = append(out.prefetch, relationships...)
	return out
}

// IncludeExpression adds an aggregate column to FetchDictionaries.
func (r *FetchRequest) IncludeExpression(name string, fn AggregateFunc, key string) *FetchRequest {
	out := r.clone()
	out.exprs = append(out.exprs, Expression{Name: name, Func: fn, Key: key})
	return out
}

// GroupBy groups FetchDictionaries rows. Every property named with
// OnlyProperties must be grouped or be an expression.
func (r *FetchRequest) GroupBy(keys ...string) *FetchRequest {
	out := r.clone()
	out.groupBy = append(out.groupBy, keys...)
	return out
}

// Fetch returns the matching objects as instances of the attached context.
func (r *FetchRequest) Fetch(th *Thread) ([]*Object, error) {
	ctx, ent, err := r.prepare(th)
	if err != nil {
		return nil, err
	}
	rows, err := r.rows(ctx, ent)
	if err != nil {
		return nil, err
	}
	rows = page(rows, r.offset, r.limit)

	objs := make([]*Object, 0, len(rows))
	for _, row := range rows {
		objs = append(objs, row.materialize(ctx))
	}
	r.prefetchRelated(ctx, objs)

	r.coord.logger.Debugw("Fetched",
		logger.FieldEntity, r.entity,
		logger.FieldContextKind, ctx.kind.String(),
		logger.FieldCount, len(objs),
	)
	return objs, nil
}

// FetchOne returns the first match, or nil.
func (r *FetchRequest) FetchOne(th *Thread) (*Object, error) {
	objs, err := r.Limit(1).Fetch(th)
	if err != nil || len(objs) == 0 {
		return nil, err
	}
	return objs[0], nil
}

// Count returns how many objects match without materializing them.
func (r *FetchRequest) Count(th *Thread) (int, error) {
	ctx, ent, err := r.prepare(th)
	if err != nil {
		return 0, err
	}
	rows, err := r.rows(ctx, ent)
	if err != nil {
		return 0, err
	}
	return len(page(rows, r.offset, r.limit)), nil
}

// prepare checks the thread, the request and the attached context
func (r *FetchRequest) prepare(th *Thread) (*Context, *schema.Entity, error) {
	r.coord.mustBeLive()
	th.assertCurrent()
	ctx := r.coord.registry.attached(th)
	if ctx == nil {
		violate(ViolationNoContext, "%s has no attached context to fetch %s from", th, r.entity)
	}
	ent, err := r.validate()
	if err != nil {
		return nil, nil, err
	}
	return ctx, ent, nil
}

func (r *FetchRequest) validate() (*schema.Entity, error) {
	ent, ok := r.coord.model.Entity(r.entity)
	if !ok {
		return nil, errors.NewMalformedQueryError("unknown entity %q", r.entity)
	}
	if r.limit < 0 || r.offset < 0 || r.batchSize < 0 {
		return nil, errors.NewMalformedQueryError("limit, offset and batch size must not be negative")
	}
	if r.where != nil {
		for _, key := range r.where.keys() {
			if _, ok := ent.Attribute(key); !ok {
				return nil, errors.NewMalformedQueryError("%s has no attribute %q", r.entity, key)
			}
		}
	}
	for _, s := range r.sorts {
		if _, ok := ent.Attribute(s.Key); !ok && !r.hasExpression(s.Key) {
			return nil, errors.NewMalformedQueryError("cannot sort %s by %q", r.entity, s.Key)
		}
	}
	for _, key := range r.prefetch {
		if _, ok := ent.Relationship(key); !ok {
			return nil, errors.NewMalformedQueryError("%s has no relationship %q to prefetch", r.entity, key)
		}
	}
	return ent, nil
}

func (r *FetchRequest) hasExpression(name string) bool {
	for _, e := range r.exprs {
		if e.Name == name {
			return true
		}
	}
	return false
}

// row is one candidate result: either an object already in the context or
// a Master snapshot that has not been materialized yet
type row struct {
	attrs map[string]interface{}
	seq   uint64
	obj   *Object
	snap  *snapshotRecord
}

func (rw row) materialize(ctx *Context) *Object {
	if rw.obj != nil {
		return rw.obj
	}
	o := ctx.coord.objectFromRecord(rw.snap.record, rw.snap.seq, ctx)
	ctx.register(o)
	return o
}

// rows collects, filters and sorts the candidates visible in ctx
func (r *FetchRequest) rows(ctx *Context, ent *schema.Entity) ([]row, error) {
	var candidates []row

	switch ctx.kind {
	case KindTransaction:
		// Committed state overlaid with this transaction's own objects
		for _, snap := range ctx.parent.snapshotEntity(ent.Name) {
			if _, gone := ctx.deleted[snap.record.ID]; gone {
				continue
			}
			if _, local := ctx.objects[snap.record.ID]; local {
				continue
			}
			snap := snap
			candidates = append(candidates, row{attrs: snap.record.Attrs, seq: snap.seq, snap: &snap})
		}
		for _, o := range ctx.objects {
			if o.entity == ent {
				candidates = append(candidates, row{attrs: o.attrs, seq: o.seq, obj: o})
			}
		}
	default:
		for _, o := range ctx.objects {
			if o.entity == ent {
				candidates = append(candidates, row{attrs: o.attrs, seq: o.seq, obj: o})
			}
		}
	}

	matched := candidates[:0]
	for _, c := range candidates {
		if r.where != nil {
			ok, err := r.where.match(c.attrs)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		matched = append(matched, c)
	}

	sortRows(matched, r.sorts, func(rw row) map[string]interface{} { return rw.attrs }, func(rw row) uint64 { return rw.seq })
	return matched, nil
}

// prefetchRelated registers relationship targets in ctx ahead of access
func (r *FetchRequest) prefetchRelated(ctx *Context, objs []*Object) {
	for _, key := range r.prefetch {
		for _, o := range objs {
			for _, id := range o.rels[key] {
				ctx.find(id)
			}
		}
	}
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// sortRows orders by the sort descriptors, then by creation order
func sortRows[T any](items []T, sorts []SortDescriptor, values func(T) map[string]interface{}, seq func(T) uint64) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := values(items[i]), values(items[j])
		for _, s := range sorts {
			cmp := compareForSort(a[s.Key], b[s.Key])
			if cmp == 0 {
				continue
			}
			if s.Ascending {
				return cmp < 0
			}
			return cmp > 0
		}
		return seq(items[i]) < seq(items[j])
	})
}

// compareForSort orders nil before everything else
func compareForSort(a, b interface{}) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	cmp, _ := compareValues(a, b)
	return cmp
}
