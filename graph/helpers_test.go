package graph

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/strata/schema"
	"github.com/teranos/strata/store"
)

func testModel(t *testing.T) *schema.Model {
	t.Helper()
	model, err := schema.New("1.0.0",
		schema.Entity{
			Name: "Item",
			Attributes: []schema.Attribute{
				{Name: "id", Type: schema.TypeInt, Default: 0},
				{Name: "name", Type: schema.TypeString, Default: ""},
				{Name: "score", Type: schema.TypeFloat, Default: 1.5},
			},
			Relationships: []schema.Relationship{
				{Name: "parent", Target: "Item"},
				{Name: "tags", Target: "Tag", ToMany: true},
			},
		},
		schema.Entity{
			Name: "Tag",
			Attributes: []schema.Attribute{
				{Name: "label", Type: schema.TypeString},
			},
		},
	)
	require.NoError(t, err)
	return model
}

// seedItems returns Items A..E with ids 1..5
func seedItems() []store.Record {
	var out []store.Record
	for i, name := range []string{"A", "B", "C", "D", "E"} {
		out = append(out, store.Record{
			ID:     fmt.Sprintf("item-%d", i+1),
			Entity: "Item",
			Attrs:  map[string]interface{}{"id": int64(i + 1), "name": name},
		})
	}
	return out
}

func newTestCoordinator(t *testing.T, st store.Store, opts ...Option) *Coordinator {
	t.Helper()
	log := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel)).Sugar()
	opts = append([]Option{WithLogger(log), WithWorkers(4)}, opts...)

	coord := New(testModel(t), opts...)
	require.NoError(t, coord.Initialize(context.Background(), st))
	t.Cleanup(func() {
		require.NoError(t, coord.Shutdown(context.Background()))
	})
	return coord
}

// seededCoordinator is a coordinator over a memory store holding seedItems
func seededCoordinator(t *testing.T, opts ...Option) (*Coordinator, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore(seedItems()...)
	return newTestCoordinator(t, st, opts...), st
}

// requireViolation runs fn and asserts it panics with a violation of kind
func requireViolation(t *testing.T, kind ViolationKind, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected a %s violation", kind)
		v, ok := r.(*Violation)
		require.Truef(t, ok, "panic value %v is not a *Violation", r)
		assert.Equal(t, kind, v.Kind, v.Msg)
	}()
	fn()
}

// mainNames fetches the names of every Item in Main, in creation order
func mainNames(t *testing.T, coord *Coordinator) []string {
	t.Helper()
	var names []string
	var err error
	coord.OnMainAndWait(func(th *Thread) {
		var items []*Object
		items, err = coord.Objects("Item").Fetch(th)
		for _, item := range items {
			names = append(names, item.StringValue(th, "name"))
		}
	})
	require.NoError(t, err)
	return names
}

// fetchByID fetches the single Item with the given id attribute
func fetchByID(t *testing.T, coord *Coordinator, th *Thread, id int) *Object {
	t.Helper()
	item, err := coord.Objects("Item").Where(Eq("id", id)).FetchOne(th)
	require.NoError(t, err)
	require.NotNil(t, item, "no item with id %d", id)
	return item
}
