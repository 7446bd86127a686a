package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	original := New("original")
	wrapped := Wrap(original, "wrapped")

	assert.Contains(t, wrapped.Error(), "wrapped")
	assert.Contains(t, wrapped.Error(), "original")
	assert.True(t, Is(wrapped, original))
}

func TestWithHint(t *testing.T) {
	err := New("error")
	withHint := WithHint(err, "try this fix")

	hints := GetAllHints(withHint)
	require.Len(t, hints, 1)
	assert.Equal(t, "try this fix", hints[0])
}

func TestStackTrace(t *testing.T) {
	err := New("with stack")

	detailed := fmt.Sprintf("%+v", err)
	assert.Contains(t, detailed, "errors_test.go")
}

func TestNilHandling(t *testing.T) {
	assert.Nil(t, Wrap(nil, "context"))
	assert.Nil(t, WithHint(nil, "hint"))
	assert.Nil(t, WrapPersistence(nil, "save"))
	assert.Nil(t, WrapStoreOpen(nil, "open"))
}

func TestWrapPersistence(t *testing.T) {
	driverErr := New("disk I/O error")
	err := WrapPersistence(driverErr, "save master context")

	assert.True(t, IsPersistenceError(err))
	assert.True(t, Is(err, driverErr), "original cause must stay reachable")
	assert.False(t, Is(err, ErrStoreOpen))
	assert.Contains(t, err.Error(), "save master context")
	assert.Contains(t, err.Error(), "disk I/O error")
}

func TestWrapStoreOpen(t *testing.T) {
	err := WrapStoreOpen(New("unable to open database file"), "open /nope/x.db")

	assert.True(t, Is(err, ErrStoreOpen))
	assert.False(t, IsPersistenceError(err))
}

func TestIsNotFoundError(t *testing.T) {
	err := WrapPersistence(Wrapf(ErrNotFound, "update object %s", "a1"), "save changes")

	assert.True(t, IsNotFoundError(err))
	assert.True(t, IsPersistenceError(err))
	assert.False(t, IsNotFoundError(New("other")))
	assert.False(t, IsNotFoundError(nil))
}

func TestNewMalformedQueryError(t *testing.T) {
	err := NewMalformedQueryError("unknown entity %q", "Widget")

	assert.True(t, IsMalformedQueryError(err))
	assert.Equal(t, `unknown entity "Widget"`, err.Error())
}

func TestErrorChaining(t *testing.T) {
	err := WrapPersistence(New("constraint failed"), "layer 1")
	err = WithDetail(err, "object 42")
	err = Wrap(err, "layer 2")

	assert.True(t, IsPersistenceError(err))
	assert.Contains(t, err.Error(), "layer 2")
	assert.Contains(t, GetAllDetails(err), "object 42")
}

func ExampleWrapPersistence() {
	err := WrapPersistence(New("database is locked"), "save master context")
	fmt.Println(err)
	fmt.Println(IsPersistenceError(err))
	// Output:
	// save master context: database is locked
	// true
}
