package results

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/strata/errors"
	"github.com/teranos/strata/graph"
	"github.com/teranos/strata/schema"
	"github.com/teranos/strata/store"
)

type recorder struct {
	events []string
}

func (r *recorder) WillChangeContent(*Controller) {
	r.events = append(r.events, "will")
}

func (r *recorder) DidChangeSection(_ *Controller, section Section, index int, change SectionChange) {
	kind := "insert"
	if change == SectionDelete {
		kind = "delete"
	}
	r.events = append(r.events, fmt.Sprintf("section %s %s@%d", kind, section.Name, index))
}

func (r *recorder) DidChangeObject(_ *Controller, obj *graph.Object, from, to *IndexPath, change ChangeType) {
	path := func(p *IndexPath) string {
		if p == nil {
			return "-"
		}
		return p.String()
	}
	r.events = append(r.events, fmt.Sprintf("%s %s %s>%s", change, obj.ID(), path(from), path(to)))
}

func (r *recorder) DidChangeContent(*Controller) {
	r.events = append(r.events, "did")
}

func (r *recorder) take() []string {
	out := r.events
	r.events = nil
	return out
}

func setup(t *testing.T) (*graph.Coordinator, *zap.SugaredLogger) {
	t.Helper()
	model, err := schema.New("1.0.0",
		schema.Entity{
			Name: "Item",
			Attributes: []schema.Attribute{
				{Name: "name", Type: schema.TypeString},
				{Name: "group", Type: schema.TypeString},
			},
		},
		schema.Entity{
			Name:       "Tag",
			Attributes: []schema.Attribute{{Name: "label", Type: schema.TypeString}},
		},
	)
	require.NoError(t, err)

	st := store.NewMemoryStore(
		store.Record{ID: "a", Entity: "Item", Attrs: map[string]interface{}{"name": "A", "group": "g1"}},
		store.Record{ID: "b", Entity: "Item", Attrs: map[string]interface{}{"name": "B", "group": "g1"}},
		store.Record{ID: "c", Entity: "Item", Attrs: map[string]interface{}{"name": "C", "group": "g2"}},
	)

	log := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel)).Sugar()
	coord := graph.New(model, graph.WithLogger(log))
	require.NoError(t, coord.Initialize(context.Background(), st))
	t.Cleanup(func() {
		require.NoError(t, coord.Shutdown(context.Background()))
	})
	return coord, log
}

// transact runs op in a background transaction and waits until its merge reached Main
func transact(t *testing.T, coord *graph.Coordinator, op graph.Operation) {
	t.Helper()
	th := coord.NewThread()
	require.NoError(t, coord.TransactAndWait(th, op))
	coord.OnMainAndWait(func(*graph.Thread) {})
}

func byID(th *graph.Thread, coord *graph.Coordinator, id string) *graph.Object {
	objs, err := coord.Objects("Item").Fetch(th)
	if err != nil {
		panic(err)
	}
	for _, o := range objs {
		if o.ID() == id {
			return o
		}
	}
	return nil
}

func performFetch(t *testing.T, coord *graph.Coordinator, ctrl *Controller) {
	t.Helper()
	var err error
	coord.OnMainAndWait(func(th *graph.Thread) { err = ctrl.PerformFetch(th) })
	require.NoError(t, err)
}

func sectionSummary(c *Controller) []string {
	var out []string
	for _, s := range c.Sections() {
		ids := ""
		for _, o := range s.Objects {
			ids += o.ID()
		}
		out = append(out, s.Name+":"+ids)
	}
	return out
}

func TestController(t *testing.T) {
	coord, log := setup(t)
	rec := &recorder{}
	request := coord.Objects("Item").SortBy("group", true).SortBy("name", true)
	ctrl := NewController(coord, request, "group", rec, log)
	defer ctrl.Close()

	performFetch(t, coord, ctrl)
	assert.Equal(t, []string{"g1:ab", "g2:c"}, sectionSummary(ctrl))
	assert.Empty(t, rec.take(), "initial fetch is not reported")

	var created string
	transact(t, coord, func(th *graph.Thread) error {
		d := coord.Create(th, "Item", false)
		d.SetValue(th, "name", "D")
		d.SetValue(th, "group", "g3")
		created = d.ID()

		byID(th, coord, "a").SetValue(th, "name", "A2")
		coord.Delete(th, byID(th, coord, "c"))
		return nil
	})

	assert.Equal(t, []string{"g1:ab", "g3:" + created}, sectionSummary(ctrl))
	assert.Equal(t, []string{
		"will",
		"section delete g2@1",
		"section insert g3@1",
		"delete c 1.0>-",
		"insert " + created + " ->1.0",
		"update a ->0.0",
		"did",
	}, rec.take())

	transact(t, coord, func(th *graph.Thread) error {
		byID(th, coord, "b").SetValue(th, "group", "g3")
		return nil
	})

	assert.Equal(t, []string{"g1:a", "g3:b" + created}, sectionSummary(ctrl))
	assert.Equal(t, []string{"will", "move b 0.1>1.0", "did"}, rec.take())

	path, ok := ctrl.IndexPathOf(ctrl.Object(IndexPath{Section: 1, Item: 0}))
	require.True(t, ok)
	assert.Equal(t, IndexPath{Section: 1, Item: 0}, path)
	assert.Nil(t, ctrl.Object(IndexPath{Section: 5, Item: 0}))
	assert.Len(t, ctrl.Objects(), 3)
}

func TestControllerSectionsSortedByName(t *testing.T) {
	coord, log := setup(t)
	rec := &recorder{}
	// Newest name first puts g2 ahead of g1 in the fetch order
	ctrl := NewController(coord, coord.Objects("Item").SortBy("name", false), "group", rec, log)
	defer ctrl.Close()

	performFetch(t, coord, ctrl)
	assert.Equal(t, []string{"g1:ba", "g2:c"}, sectionSummary(ctrl))

	transact(t, coord, func(th *graph.Thread) error {
		d := coord.Create(th, "Item", false)
		d.SetValue(th, "name", "D")
		d.SetValue(th, "group", "g0")
		return nil
	})
	require.Len(t, ctrl.Sections(), 3)
	assert.Equal(t, []string{"g0", "g1", "g2"}, []string{ctrl.Sections()[0].Name, ctrl.Sections()[1].Name, ctrl.Sections()[2].Name})
	assert.Contains(t, rec.take(), "section insert g0@0")
}

func TestControllerReordersWithinSection(t *testing.T) {
	coord, log := setup(t)
	rec := &recorder{}
	ctrl := NewController(coord, coord.Objects("Item").SortBy("name", true), "", rec, log)
	defer ctrl.Close()

	performFetch(t, coord, ctrl)
	assert.Equal(t, []string{":abc"}, sectionSummary(ctrl))

	transact(t, coord, func(th *graph.Thread) error {
		byID(th, coord, "a").SetValue(th, "name", "Z")
		return nil
	})

	assert.Equal(t, []string{":bca"}, sectionSummary(ctrl))
	events := rec.take()
	assert.Contains(t, events, "move a 0.0>0.2")
	assert.NotContains(t, events, "update a ->0.2")
}

func TestControllerIgnoresUnrelatedChanges(t *testing.T) {
	coord, log := setup(t)
	rec := &recorder{}
	ctrl := NewController(coord, coord.Objects("Item").Where(graph.Eq("group", "g1")), "", rec, log)

	performFetch(t, coord, ctrl)

	transact(t, coord, func(th *graph.Thread) error {
		coord.Create(th, "Tag", false).SetValue(th, "label", "x")
		return nil
	})
	assert.Empty(t, rec.take(), "other entities are ignored")

	transact(t, coord, func(th *graph.Thread) error {
		byID(th, coord, "c").SetValue(th, "name", "C2")
		return nil
	})
	assert.Empty(t, rec.take(), "changes outside the results produce no events")

	ctrl.Close()
	transact(t, coord, func(th *graph.Thread) error {
		byID(th, coord, "a").SetValue(th, "name", "A2")
		return nil
	})
	assert.Empty(t, rec.take(), "closed controllers stop tracking")
}

func TestControllerMisuse(t *testing.T) {
	coord, log := setup(t)

	ctrl := NewController(coord, coord.Objects("Item"), "colour", nil, log)
	defer ctrl.Close()

	var err error
	coord.OnMainAndWait(func(th *graph.Thread) { err = ctrl.PerformFetch(th) })
	assert.True(t, errors.IsMalformedQueryError(err))

	th := coord.NewThread()
	assert.PanicsWithValue(t,
		&graph.Violation{Kind: graph.ViolationMainThread, Msg: "results controllers only run on the main thread"},
		func() { _ = ctrl.PerformFetch(th) },
	)
}

func TestControllerWithoutDelegate(t *testing.T) {
	coord, log := setup(t)
	ctrl := NewController(coord, coord.Objects("Item").SortBy("name", true), "", nil, log)
	defer ctrl.Close()

	performFetch(t, coord, ctrl)
	transact(t, coord, func(th *graph.Thread) error {
		coord.Delete(th, byID(th, coord, "b"))
		return nil
	})
	assert.Equal(t, []string{":ac"}, sectionSummary(ctrl))
}
