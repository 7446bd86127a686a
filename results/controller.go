// Package results keeps a sectioned, ordered view of a fetch request on the
// main loop and reports how it changes as commits are merged into Main.
package results

import (
	"fmt"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/teranos/strata/errors"
	"github.com/teranos/strata/graph"
	"github.com/teranos/strata/logger"
	"github.com/teranos/strata/store"
)

// IndexPath locates an object within the controller's sections
type IndexPath struct {
	Section int
	Item    int
}

func (p IndexPath) String() string {
	return fmt.Sprintf("%d.%d", p.Section, p.Item)
}

// ChangeType describes what happened to one object between two fetches
type ChangeType int

const (
	Insert ChangeType = iota
	Delete
	Update
	Move
)

func (c ChangeType) String() string {
	switch c {
	case Insert:
		return "insert"
	case Delete:
		return "delete"
	case Update:
		return "update"
	case Move:
		return "move"
	}
	return "unknown"
}

// SectionChange describes a section appearing or disappearing
type SectionChange int

const (
	SectionInsert SectionChange = iota
	SectionDelete
)

// Section is a run of results sharing one value of the section key
type Section struct {
	Name    string
	Objects []*graph.Object
}

// Delegate receives change notifications on the main loop.
// Paths given for deletes refer to the old sections, all others to the new ones;
// moves carry both.
type Delegate interface {
	WillChangeContent(c *Controller)
	DidChangeSection(c *Controller, section Section, index int, change SectionChange)
	DidChangeObject(c *Controller, obj *graph.Object, from, to *IndexPath, change ChangeType)
	DidChangeContent(c *Controller)
}

// Controller must only be used on the main loop.
type Controller struct {
	coord      *graph.Coordinator
	request    *graph.FetchRequest
	sectionKey string
	delegate   Delegate
	logger     *zap.SugaredLogger

	sections []Section
	fetched  bool
	closed   atomic.Bool
}

// NewController creates a controller for request, grouping results by the
// sectionKey attribute (one unnamed section when empty). Sections are
// ordered by name; objects keep the request's order within their section.
// delegate may be nil.
func NewController(coord *graph.Coordinator, request *graph.FetchRequest, sectionKey string, delegate Delegate, log *zap.SugaredLogger) *Controller {
	c := &Controller{
		coord:      coord,
		request:    request,
		sectionKey: sectionKey,
		delegate:   delegate,
		logger:     log.Named("results"),
	}
	coord.RegisterObserver(c)
	return c
}

// PerformFetch runs the request and replaces the sections without
// notifying the delegate.
func (c *Controller) PerformFetch(th *graph.Thread) error {
	mustBeMain(th)
	sections, err := c.fetch(th)
	if err != nil {
		return err
	}
	c.sections = sections
	c.fetched = true

	c.logger.Debugw("Fetched results",
		logger.FieldEntity, c.request.Entity(),
		"sections", len(sections),
	)
	return nil
}

// Sections returns the current sections. Callers must not modify them.
func (c *Controller) Sections() []Section {
	return c.sections
}

// Objects returns every result in section order.
func (c *Controller) Objects() []*graph.Object {
	var out []*graph.Object
	for _, s := range c.sections {
		out = append(out, s.Objects...)
	}
	return out
}

// Object returns the object at path, or nil if there is none.
func (c *Controller) Object(path IndexPath) *graph.Object {
	if path.Section < 0 || path.Section >= len(c.sections) {
		return nil
	}
	objs := c.sections[path.Section].Objects
	if path.Item < 0 || path.Item >= len(objs) {
		return nil
	}
	return objs[path.Item]
}

// IndexPathOf finds obj among the results.
func (c *Controller) IndexPathOf(obj *graph.Object) (IndexPath, bool) {
	for si, s := range c.sections {
		for ii, o := range s.Objects {
			if o.ID() == obj.ID() {
				return IndexPath{Section: si, Item: ii}, true
			}
		}
	}
	return IndexPath{}, false
}

// Close stops tracking Main. The controller keeps its last sections.
// Unlike the other methods it may be called from any goroutine.
func (c *Controller) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.coord.UnregisterObserver(c)
}

// OnMainMerged refetches when a merge touched the requested entity and
// reports the differences to the delegate.
func (c *Controller) OnMainMerged(th *graph.Thread, changes store.ChangeSet) {
	if !c.fetched || c.closed.Load() || !c.relevant(changes) {
		return
	}

	sections, err := c.fetch(th)
	if err != nil {
		c.logger.Warnw("Refetch after merge failed",
			logger.FieldEntity, c.request.Entity(),
			logger.FieldError, err,
		)
		return
	}

	updated := make(map[string]bool, len(changes.Updated))
	for _, upd := range changes.Updated {
		updated[upd.ID] = true
	}
	diff := computeDiff(c.sections, sections, updated)
	c.sections = sections
	if diff.empty() {
		return
	}

	c.logger.Debugw("Results changed",
		logger.FieldEntity, c.request.Entity(),
		logger.FieldInserted, diff.count(Insert),
		logger.FieldUpdated, diff.count(Update),
		logger.FieldDeleted, diff.count(Delete),
	)
	if c.delegate == nil {
		return
	}
	c.delegate.WillChangeContent(c)
	for _, sc := range diff.sections {
		c.delegate.DidChangeSection(c, sc.section, sc.index, sc.change)
	}
	for _, oc := range diff.objects {
		c.delegate.DidChangeObject(c, oc.obj, oc.from, oc.to, oc.change)
	}
	c.delegate.DidChangeContent(c)
}

// relevant reports whether changes may affect the results
func (c *Controller) relevant(changes store.ChangeSet) bool {
	entity := c.request.Entity()
	for _, rec := range changes.Inserted {
		if rec.Entity == entity {
			return true
		}
	}
	for _, upd := range changes.Updated {
		if upd.Entity == entity {
			return true
		}
	}
	if len(changes.Deleted) == 0 {
		return false
	}
	current := make(map[string]bool)
	for _, s := range c.sections {
		for _, o := range s.Objects {
			current[o.ID()] = true
		}
	}
	for _, id := range changes.Deleted {
		if current[id] {
			return true
		}
	}
	return false
}

func (c *Controller) fetch(th *graph.Thread) ([]Section, error) {
	if c.sectionKey != "" {
		ent, ok := c.coord.Model().Entity(c.request.Entity())
		if !ok {
			return nil, errors.NewMalformedQueryError("unknown entity %q", c.request.Entity())
		}
		if _, ok := ent.Attribute(c.sectionKey); !ok {
			return nil, errors.NewMalformedQueryError("cannot section %s by %q", ent.Name, c.sectionKey)
		}
	}

	objs, err := c.request.Fetch(th)
	if err != nil {
		return nil, err
	}

	var sections []Section
	index := make(map[string]int)
	for _, o := range objs {
		name := ""
		if c.sectionKey != "" {
			if v := o.Value(th, c.sectionKey); v != nil {
				name = fmt.Sprint(v)
			}
		}
		i, ok := index[name]
		if !ok {
			i = len(sections)
			index[name] = i
			sections = append(sections, Section{Name: name})
		}
		sections[i].Objects = append(sections[i].Objects, o)
	}
	sort.Slice(sections, func(i, j int) bool { return sections[i].Name < sections[j].Name })
	return sections, nil
}

func mustBeMain(th *graph.Thread) {
	if th == nil || !th.IsMain() {
		panic(&graph.Violation{Kind: graph.ViolationMainThread, Msg: "results controllers only run on the main thread"})
	}
}
