package graph

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/teranos/strata/errors"
	"github.com/teranos/strata/logger"
	"github.com/teranos/strata/schema"
)

// AggregateFunc combines one attribute over a group of objects
type AggregateFunc string

const (
	Sum   AggregateFunc = "sum"
	Count AggregateFunc = "count"
	Min   AggregateFunc = "min"
	Max   AggregateFunc = "max"
	Avg   AggregateFunc = "avg"
)

// Expression is a named aggregate column of FetchDictionaries
type Expression struct {
	Name string
	Func AggregateFunc
	Key  string
}

// FetchDictionaries returns matching objects as plain maps.
//
// Without grouping or expressions there is one row per object holding the
// OnlyProperties keys (all attributes by default). With GroupBy there is one
// row per distinct combination of the grouped keys, plus the expression
// columns computed over the group. Expressions without GroupBy produce a
// single row over every match.
func (r *FetchRequest) FetchDictionaries(th *Thread) ([]map[string]interface{}, error) {
	ctx, ent, err := r.prepare(th)
	if err != nil {
		return nil, err
	}
	if err := r.validateDictionary(); err != nil {
		return nil, err
	}

	// Ordering is applied to the output rows below
	unsorted := r.clone()
	unsorted.sorts = nil
	rows, err := unsorted.rows(ctx, ent)
	if err != nil {
		return nil, err
	}

	var out []map[string]interface{}
	switch {
	case len(r.groupBy) > 0 || len(r.exprs) > 0:
		out = r.aggregate(rows)
	default:
		keys := r.only
		if len(keys) == 0 {
			for _, a := range ent.Attributes {
				keys = append(keys, a.Name)
			}
		}
		for _, rw := range rows {
			m := make(map[string]interface{}, len(keys))
			for _, k := range keys {
				m[k] = rw.attrs[k]
			}
			out = append(out, m)
		}
	}

	if r.distinct {
		out = distinctRows(out)
	}
	out = sortDictionaries(out, r.sorts)
	out = page(out, r.offset, r.limit)

	r.coord.logger.Debugw("Fetched dictionaries",
		logger.FieldEntity, r.entity,
		logger.FieldCount, len(out),
	)
	return out, nil
}

func (r *FetchRequest) validateDictionary() error {
	ent, _ := r.coord.model.Entity(r.entity)
	for _, e := range r.exprs {
		if e.Name == "" {
			return errors.NewMalformedQueryError("expression without a name")
		}
		switch e.Func {
		case Sum, Count, Min, Max, Avg:
		default:
			return errors.NewMalformedQueryError("unknown aggregate %q", e.Func)
		}
		attr, ok := ent.Attribute(e.Key)
		if !ok {
			return errors.NewMalformedQueryError("%s has no attribute %q", r.entity, e.Key)
		}
		if (e.Func == Sum || e.Func == Avg) && attr.Type != schema.TypeInt && attr.Type != schema.TypeFloat {
			return errors.NewMalformedQueryError("cannot %s non-numeric attribute %q", e.Func, e.Key)
		}
	}
	for _, key := range r.groupBy {
		if _, ok := ent.Attribute(key); !ok {
			return errors.NewMalformedQueryError("cannot group %s by %q", r.entity, key)
		}
	}
	for _, key := range r.only {
		if _, ok := ent.Attribute(key); !ok && !r.hasExpression(key) {
			return errors.NewMalformedQueryError("%s has no property %q", r.entity, key)
		}
	}

	if len(r.groupBy) > 0 {
		if len(r.only) == 0 {
			return errors.WithHint(
				errors.NewMalformedQueryError("grouping %s requires naming the fetched properties", r.entity),
				"call OnlyProperties with the grouped keys and expression names",
			)
		}
		for _, key := range r.only {
			if !r.hasExpression(key) && !contains(r.groupBy, key) {
				return errors.NewMalformedQueryError("property %q is neither grouped nor an expression", key)
			}
		}
	} else if len(r.exprs) > 0 {
		for _, key := range r.only {
			if !r.hasExpression(key) {
				return errors.NewMalformedQueryError("property %q needs GroupBy when fetched with expressions", key)
			}
		}
	}
	return nil
}

// aggregate groups rows by the GroupBy keys in first-seen order
func (r *FetchRequest) aggregate(rows []row) []map[string]interface{} {
	type group struct {
		key  []interface{}
		rows []row
	}
	var groups []*group
	index := make(map[string]*group)

	for _, rw := range rows {
		key := make([]interface{}, len(r.groupBy))
		for i, k := range r.groupBy {
			key[i] = rw.attrs[k]
		}
		id := groupKey(key)
		g, ok := index[id]
		if !ok {
			g = &group{key: key}
			index[id] = g
			groups = append(groups, g)
		}
		g.rows = append(g.rows, rw)
	}
	if len(r.groupBy) == 0 && len(groups) == 0 {
		groups = append(groups, &group{})
	}

	out := make([]map[string]interface{}, 0, len(groups))
	for _, g := range groups {
		m := make(map[string]interface{})
		for i, k := range r.groupBy {
			if len(r.only) == 0 || contains(r.only, k) {
				m[k] = g.key[i]
			}
		}
		for _, e := range r.exprs {
			if len(r.only) == 0 || contains(r.only, e.Name) {
				m[e.Name] = e.compute(g.rows)
			}
		}
		out = append(out, m)
	}
	return out
}

func (e Expression) compute(rows []row) interface{} {
	var count, intSum int64
	var floatSum float64
	var extremum interface{}
	allInts := true
	for _, rw := range rows {
		v := rw.attrs[e.Key]
		if v == nil {
			continue
		}
		count++
		if i, ok := asInt(v); ok {
			intSum += i
			floatSum += float64(i)
		} else if f, ok := asFloat(v); ok {
			allInts = false
			floatSum += f
		}
		if extremum == nil {
			extremum = v
			continue
		}
		cmp, ok := compareValues(v, extremum)
		if ok && ((e.Func == Min && cmp < 0) || (e.Func == Max && cmp > 0)) {
			extremum = v
		}
	}

	switch e.Func {
	case Count:
		return count
	case Sum:
		if allInts {
			return intSum
		}
		return floatSum
	case Avg:
		if count == 0 {
			return nil
		}
		return floatSum / float64(count)
	default:
		return extremum
	}
}

func groupKey(values []interface{}) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%T:%v", v, v)
	}
	return strings.Join(parts, "\x1f")
}

// sortDictionaries orders rows by the sort descriptors, keeping the
// current order for ties
func sortDictionaries(rows []map[string]interface{}, sorts []SortDescriptor) []map[string]interface{} {
	if len(sorts) == 0 {
		return rows
	}
	type indexed struct {
		m   map[string]interface{}
		pos uint64
	}
	items := make([]indexed, len(rows))
	for i, m := range rows {
		items[i] = indexed{m: m, pos: uint64(i)}
	}
	sortRows(items, sorts,
		func(it indexed) map[string]interface{} { return it.m },
		func(it indexed) uint64 { return it.pos },
	)
	for i, it := range items {
		rows[i] = it.m
	}
	return rows
}

func distinctRows(rows []map[string]interface{}) []map[string]interface{} {
	out := rows[:0]
	for _, m := range rows {
		dup := false
		for _, seen := range out {
			if reflect.DeepEqual(m, seen) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, m)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
