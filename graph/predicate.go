package graph

import (
	"fmt"
	"reflect"
	"strings"
	"sync/atomic"
	"time"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/teranos/strata/errors"
)

// programCacheSize bounds the number of compiled filter expressions kept
const programCacheSize = 512

var programCache *lru.Cache[string, *exprvm.Program]

func init() {
	var err error
	programCache, err = lru.New[string, *exprvm.Program](programCacheSize)
	if err != nil {
		panic(err)
	}
}

// Predicate selects objects in a fetch request.
// Predicates are values: compose them with And, Or and Not.
type Predicate interface {
	match(row map[string]interface{}) (bool, error)
	keys() []string
	String() string
}

type op int

const (
	opEq op = iota
	opNe
	opLt
	opLe
	opGt
	opGe
)

var opSymbols = map[op]string{opEq: "==", opNe: "!=", opLt: "<", opLe: "<=", opGt: ">", opGe: ">="}

type comparison struct {
	key   string
	op    op
	value interface{}
}

// Eq matches objects whose attribute key equals v.
func Eq(key string, v interface{}) Predicate { return comparison{key, opEq, v} }

// Ne matches objects whose attribute key differs from v.
func Ne(key string, v interface{}) Predicate { return comparison{key, opNe, v} }

// Lt matches objects whose attribute key is less than v.
func Lt(key string, v interface{}) Predicate { return comparison{key, opLt, v} }

// Le matches objects whose attribute key is at most v.
func Le(key string, v interface{}) Predicate { return comparison{key, opLe, v} }

// Gt matches objects whose attribute key is greater than v.
func Gt(key string, v interface{}) Predicate { return comparison{key, opGt, v} }

// Ge matches objects whose attribute key is at least v.
func Ge(key string, v interface{}) Predicate { return comparison{key, opGe, v} }

func (c comparison) match(row map[string]interface{}) (bool, error) {
	got := row[c.key]
	if c.op == opEq || c.op == opNe {
		eq := equalValues(got, c.value)
		return eq == (c.op == opEq), nil
	}
	if got == nil || c.value == nil {
		return false, nil
	}
	cmp, ok := compareValues(got, c.value)
	if !ok {
		return false, errors.NewMalformedQueryError("cannot compare %s (%T) with %T", c.key, got, c.value)
	}
	switch c.op {
	case opLt:
		return cmp < 0, nil
	case opLe:
		return cmp <= 0, nil
	case opGt:
		return cmp > 0, nil
	default:
		return cmp >= 0, nil
	}
}

func (c comparison) keys() []string { return []string{c.key} }

func (c comparison) String() string {
	return fmt.Sprintf("%s %s %#v", c.key, opSymbols[c.op], c.value)
}

type inSet struct {
	key    string
	values []interface{}
}

// In matches objects whose attribute key equals any of values.
func In(key string, values ...interface{}) Predicate { return inSet{key, values} }

func (p inSet) match(row map[string]interface{}) (bool, error) {
	got := row[p.key]
	for _, v := range p.values {
		if equalValues(got, v) {
			return true, nil
		}
	}
	return false, nil
}

func (p inSet) keys() []string { return []string{p.key} }

func (p inSet) String() string { return fmt.Sprintf("%s in %v", p.key, p.values) }

type negation struct{ p Predicate }

// Not inverts a predicate.
func Not(p Predicate) Predicate { return negation{p} }

func (n negation) match(row map[string]interface{}) (bool, error) {
	ok, err := n.p.match(row)
	return !ok, err
}

func (n negation) keys() []string { return n.p.keys() }

func (n negation) String() string { return "not (" + n.p.String() + ")" }

type junction struct {
	and   bool
	parts []Predicate
}

// And matches objects matched by every predicate.
func And(ps ...Predicate) Predicate { return junction{and: true, parts: ps} }

// Or matches objects matched by any predicate.
func Or(ps ...Predicate) Predicate { return junction{and: false, parts: ps} }

func (j junction) match(row map[string]interface{}) (bool, error) {
	for _, p := range j.parts {
		ok, err := p.match(row)
		if err != nil {
			return false, err
		}
		if ok != j.and {
			return ok, nil
		}
	}
	return j.and, nil
}

func (j junction) keys() []string {
	var out []string
	for _, p := range j.parts {
		out = append(out, p.keys()...)
	}
	return out
}

func (j junction) String() string {
	parts := make([]string, len(j.parts))
	for i, p := range j.parts {
		parts[i] = "(" + p.String() + ")"
	}
	sep := " or "
	if j.and {
		sep = " and "
	}
	return strings.Join(parts, sep)
}

// exprPredicate evaluates an expr-lang expression against the object's
// attributes. Params are visible by name next to the attributes.
type exprPredicate struct {
	source   string
	params   map[string]interface{}
	compiled atomic.Pointer[exprvm.Program]
}

// Expr compiles an expr-lang boolean expression such as
// `name == "C" && id < max`. Compilation errors are reported by the fetch.
func Expr(expression string, params map[string]interface{}) Predicate {
	return &exprPredicate{source: expression, params: params}
}

func (p *exprPredicate) compile() (*exprvm.Program, error) {
	if program := p.compiled.Load(); program != nil {
		return program, nil
	}
	if strings.TrimSpace(p.source) == "" {
		return nil, errors.NewMalformedQueryError("empty filter expression")
	}
	program, ok := programCache.Get(p.source)
	if !ok {
		var err error
		program, err = exprlang.Compile(p.source,
			exprlang.Env(map[string]interface{}{}),
			exprlang.AllowUndefinedVariables(),
		)
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "compile filter %q", p.source), errors.ErrMalformedQuery)
		}
		programCache.Add(p.source, program)
	}
	p.compiled.Store(program)
	return program, nil
}

func (p *exprPredicate) match(row map[string]interface{}) (bool, error) {
	program, err := p.compile()
	if err != nil {
		return false, err
	}
	env := row
	if len(p.params) > 0 {
		env = make(map[string]interface{}, len(row)+len(p.params))
		for k, v := range row {
			env[k] = v
		}
		for k, v := range p.params {
			env[k] = v
		}
	}
	out, err := exprlang.Run(program, env)
	if err != nil {
		return false, errors.Mark(errors.Wrapf(err, "evaluate filter %q", p.source), errors.ErrMalformedQuery)
	}
	ok, isBool := out.(bool)
	if !isBool {
		return false, errors.NewMalformedQueryError("filter %q returned %T, not bool", p.source, out)
	}
	return ok, nil
}

func (p *exprPredicate) keys() []string { return nil }

func (p *exprPredicate) String() string { return p.source }

// equalValues compares across numeric kinds; everything else is compared deeply
func equalValues(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if cmp, ok := compareValues(a, b); ok {
		return cmp == 0
	}
	return reflect.DeepEqual(a, b)
}

// compareValues orders two values of compatible kinds
func compareValues(a, b interface{}) (int, bool) {
	if ai, ok := asInt(a); ok {
		if bi, ok := asInt(b); ok {
			return cmpOrdered(ai, bi), true
		}
	}
	if af, ok := asFloat(a); ok {
		if bf, ok := asFloat(b); ok {
			return cmpOrdered(af, bf), true
		}
	}
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv), true
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv), true
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0, true
			case !av:
				return -1, true
			default:
				return 1, true
			}
		}
	}
	return 0, false
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func asInt(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	}
	return 0, false
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	if i, ok := asInt(v); ok {
		return float64(i), true
	}
	return 0, false
}
