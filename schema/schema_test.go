package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/strata/errors"
)

func TestLoadYAML(t *testing.T) {
	m, err := Load("testdata/model.yaml")
	require.NoError(t, err)

	assert.Equal(t, []string{"Item", "Tag"}, m.EntityNames())
	assert.Equal(t, uint64(1), m.SemVer().Major())

	item, ok := m.Entity("Item")
	require.True(t, ok)

	id, ok := item.Attribute("id")
	require.True(t, ok)
	assert.Equal(t, TypeInt, id.Type)
	assert.Equal(t, int64(0), id.Default, "defaults are coerced to canonical types")

	seen, _ := item.Attribute("seen")
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), seen.Default)

	tags, ok := item.Relationship("tags")
	require.True(t, ok)
	assert.True(t, tags.ToMany)
	assert.Equal(t, "Tag", tags.Target)

	defaults := item.Defaults()
	assert.Equal(t, 1.5, defaults["weight"])
	assert.Nil(t, defaults["name"])
}

func TestLoadTOML(t *testing.T) {
	m, err := Load("testdata/model.toml")
	require.NoError(t, err)

	counter, ok := m.Entity("Counter")
	require.True(t, ok)
	count, ok := counter.Attribute("count")
	require.True(t, ok)
	assert.Equal(t, int64(0), count.Default)
}

func TestModelValidation(t *testing.T) {
	tests := []struct {
		name     string
		version  string
		entities []Entity
		wantErr  string
	}{
		{"missing version", "", nil, "version is required"},
		{"bad version", "one", nil, "invalid model version"},
		{"duplicate entity", "1.0.0", []Entity{{Name: "A"}, {Name: "A"}}, "duplicate entity"},
		{"unknown type", "1.0.0", []Entity{{Name: "A", Attributes: []Attribute{{Name: "x", Type: "blob"}}}}, "unknown type"},
		{"bad default", "1.0.0", []Entity{{Name: "A", Attributes: []Attribute{{Name: "x", Type: TypeInt, Default: "nope"}}}}, "cannot use string as int"},
		{"dangling relationship", "1.0.0", []Entity{{Name: "A", Relationships: []Relationship{{Name: "b", Target: "B"}}}}, "unknown entity"},
		{"relationship clash", "1.0.0", []Entity{{
			Name:          "A",
			Attributes:    []Attribute{{Name: "x", Type: TypeInt}},
			Relationships: []Relationship{{Name: "x", Target: "A"}},
		}}, "collides"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.version, tt.entities...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCoerce(t *testing.T) {
	intAttr := &Attribute{Name: "n", Type: TypeInt}
	v, err := intAttr.Coerce(7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	v, err = intAttr.Coerce(float64(3))
	require.NoError(t, err)
	assert.Equal(t, int64(3), v, "integral JSON numbers are accepted")

	_, err = intAttr.Coerce(3.5)
	assert.Error(t, err)

	floatAttr := &Attribute{Name: "f", Type: TypeFloat}
	v, err = floatAttr.Coerce(int32(2))
	require.NoError(t, err)
	assert.Equal(t, float64(2), v)

	timeAttr := &Attribute{Name: "t", Type: TypeTime}
	v, err = timeAttr.Coerce("2026-03-04T05:06:07.5Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 4, 5, 6, 7, 5e8, time.UTC), v)

	boolAttr := &Attribute{Name: "b", Type: TypeBool}
	_, err = boolAttr.Coerce("true")
	assert.Error(t, err)

	v, err = boolAttr.Coerce(nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestCheckCompatible(t *testing.T) {
	m := MustNew("2.1.0", Entity{Name: "A"})

	assert.NoError(t, m.CheckCompatible("2.0.0"))
	assert.NoError(t, m.CheckCompatible("2.9.3"))

	err := m.CheckCompatible("1.4.0")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrIncompatibleSchema))
	assert.NotEmpty(t, errors.GetAllHints(err))

	err = m.CheckCompatible("garbage")
	assert.True(t, errors.Is(err, errors.ErrIncompatibleSchema))
}
