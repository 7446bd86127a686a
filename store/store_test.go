package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/strata/db"
	"github.com/teranos/strata/errors"
	qtesting "github.com/teranos/strata/internal/testing"
	"github.com/teranos/strata/schema"
)

func testModel(t *testing.T, version string) *schema.Model {
	t.Helper()
	m, err := schema.New(version, schema.Entity{
		Name: "Item",
		Attributes: []schema.Attribute{
			{Name: "id", Type: schema.TypeInt, Default: 0},
			{Name: "name", Type: schema.TypeString},
		},
		Relationships: []schema.Relationship{{Name: "parent", Target: "Item"}},
	})
	require.NoError(t, err)
	return m
}

func openTestStore(t *testing.T, path string, model *schema.Model) *SQLiteStore {
	t.Helper()
	s, err := Open(StoreConfig{Path: path, Model: model}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "strata.db")
	s := openTestStore(t, path, testModel(t, "1.0.0"))

	records, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	err = s.Save(ctx, ChangeSet{Inserted: []Record{
		{ID: "a", Entity: "Item", Attrs: map[string]interface{}{"id": int64(1), "name": "A"}},
		{ID: "b", Entity: "Item", Attrs: map[string]interface{}{"id": int64(2), "name": "B"}, Relations: map[string][]string{"parent": {"a"}}},
	}})
	require.NoError(t, err)

	err = s.Save(ctx, ChangeSet{
		Updated: []Update{{Record: Record{ID: "a", Entity: "Item", Attrs: map[string]interface{}{"id": int64(10), "name": "A"}}, Changed: []string{"id"}}},
	})
	require.NoError(t, err)

	records, err = s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)

	byID := map[string]Record{}
	for _, r := range records {
		byID[r.ID] = r
	}
	assert.Equal(t, json.Number("10"), byID["a"].Attrs["id"], "numbers come back as json.Number")
	assert.Equal(t, "A", byID["a"].Attrs["name"])
	assert.Equal(t, []string{"a"}, byID["b"].Relations["parent"])

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Item": 2}, counts)

	require.NoError(t, s.Save(ctx, ChangeSet{Deleted: []string{"b"}}))
	records, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestSQLiteStoreSaveIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "strata.db"), testModel(t, "1.0.0"))

	require.NoError(t, s.Save(ctx, ChangeSet{Inserted: []Record{{ID: "a", Entity: "Item", Attrs: map[string]interface{}{"id": int64(1)}}}}))

	// Second insert of "a" violates the primary key, so "c" must not land either
	err := s.Save(ctx, ChangeSet{Inserted: []Record{
		{ID: "c", Entity: "Item", Attrs: map[string]interface{}{"id": int64(3)}},
		{ID: "a", Entity: "Item", Attrs: map[string]interface{}{"id": int64(1)}},
	}})
	require.Error(t, err)
	assert.True(t, errors.IsPersistenceError(err))
	assert.Contains(t, errors.GetAllHints(err), db.HintConstraint)

	records, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "a", records[0].ID)
}

func TestSQLiteStoreSaveAfterClose(t *testing.T) {
	s, err := Open(StoreConfig{Path: filepath.Join(t.TempDir(), "strata.db"), Model: testModel(t, "1.0.0")}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	err = s.Save(context.Background(), ChangeSet{Inserted: []Record{{ID: "a", Entity: "Item"}}})
	require.Error(t, err)
	assert.True(t, errors.IsPersistenceError(err))
	assert.Contains(t, errors.GetAllHints(err), db.HintClosed)
}

func TestSQLiteStoreLoadsExistingRows(t *testing.T) {
	database := qtesting.NewMemoryDB(t)
	require.NoError(t, db.Migrate(database, nil))

	qtesting.InsertObjectRows(t, database,
		qtesting.ObjectRow{ID: "p", Entity: "Item", Attributes: `{"id": 9007199254740993, "name": "parent"}`},
		qtesting.ObjectRow{ID: "c", Entity: "Item", Attributes: `{"id": 2}`, Relations: `{"parent": ["p"]}`},
		qtesting.ObjectRow{ID: "bare", Entity: "Item"},
	)

	s := NewSQLiteStore(database, testModel(t, "1.0.0"), zaptest.NewLogger(t).Sugar())
	records, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, []string{"p", "c", "bare"}, []string{records[0].ID, records[1].ID, records[2].ID})
	assert.Equal(t, json.Number("9007199254740993"), records[0].Attrs["id"])
	assert.Equal(t, []string{"p"}, records[1].Relations["parent"])
	assert.NotNil(t, records[2].Attrs)
	assert.Empty(t, records[2].Attrs)

	counts, err := s.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Item": 3}, counts)
}

func TestSQLiteStoreLoadRejectsCorruptRows(t *testing.T) {
	database := qtesting.NewMemoryDB(t)
	require.NoError(t, db.Migrate(database, nil))
	qtesting.InsertObjectRows(t, database, qtesting.ObjectRow{ID: "x", Entity: "Item", Attributes: `{"id":`})

	_, err := NewSQLiteStore(database, testModel(t, "1.0.0"), zaptest.NewLogger(t).Sugar()).Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "attributes of x")
}

func TestOpenSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strata.db")

	s, err := Open(StoreConfig{Path: path, Model: testModel(t, "1.0.0")}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	t.Run("same major version opens", func(t *testing.T) {
		s, err := Open(StoreConfig{Path: path, Model: testModel(t, "1.3.0")}, nil)
		require.NoError(t, err)
		require.NoError(t, s.Close())
	})

	t.Run("different major version is rejected", func(t *testing.T) {
		_, err := Open(StoreConfig{Path: path, Model: testModel(t, "2.0.0")}, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrStoreOpen))
		assert.True(t, errors.Is(err, errors.ErrIncompatibleSchema))
	})
}

func TestOpenFailures(t *testing.T) {
	t.Run("empty path", func(t *testing.T) {
		_, err := Open(StoreConfig{Model: testModel(t, "1.0.0")}, nil)
		assert.True(t, errors.Is(err, errors.ErrStoreOpen))
	})

	t.Run("missing model", func(t *testing.T) {
		_, err := Open(StoreConfig{Path: filepath.Join(t.TempDir(), "x.db")}, nil)
		assert.True(t, errors.Is(err, errors.ErrStoreOpen))
	})

	t.Run("unreadable schema file", func(t *testing.T) {
		_, err := Open(StoreConfig{Path: filepath.Join(t.TempDir(), "x.db"), SchemaPath: "testdata/nope.yaml"}, nil)
		assert.True(t, errors.Is(err, errors.ErrStoreOpen))
	})

	t.Run("bad pragma", func(t *testing.T) {
		_, err := Open(StoreConfig{
			Path:    filepath.Join(t.TempDir(), "x.db"),
			Model:   testModel(t, "1.0.0"),
			Options: map[string]string{"journal_mode": "'; DROP"},
		}, nil)
		assert.True(t, errors.Is(err, errors.ErrStoreOpen))
	})
}

func TestSQLiteStoreSave_Sqlmock(t *testing.T) {
	database, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer database.Close()

	s := NewSQLiteStore(database, testModel(t, "1.0.0"), zaptest.NewLogger(t).Sugar())

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO objects`).
		WithArgs("a", "Item", `{"id":1}`, `{}`, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`DELETE FROM objects`).
		WithArgs("gone").
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	err = s.Save(context.Background(), ChangeSet{
		Inserted: []Record{{ID: "a", Entity: "Item", Attrs: map[string]interface{}{"id": 1}}},
		Deleted:  []string{"gone"},
	})
	require.Error(t, err)
	assert.True(t, errors.IsPersistenceError(err))
	assert.Contains(t, err.Error(), "disk I/O error")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStoreCommitFailure_Sqlmock(t *testing.T) {
	database, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer database.Close()

	s := NewSQLiteStore(database, testModel(t, "1.0.0"), nil)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE objects`).
		WithArgs(`{"name":"x"}`, `{}`, sqlmock.AnyArg(), "a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errors.New("database is locked"))

	err = s.Save(context.Background(), ChangeSet{
		Updated: []Update{{Record: Record{ID: "a", Entity: "Item", Attrs: map[string]interface{}{"name": "x"}}, Changed: []string{"name"}}},
	})
	require.Error(t, err)
	assert.True(t, errors.IsPersistenceError(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStoreEmptySaveSkipsDatabase(t *testing.T) {
	database, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer database.Close()

	s := NewSQLiteStore(database, testModel(t, "1.0.0"), nil)
	require.NoError(t, s.Save(context.Background(), ChangeSet{}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore(Record{ID: "a", Entity: "Item", Attrs: map[string]interface{}{"id": int64(1)}})

	require.NoError(t, m.Save(ctx, ChangeSet{Inserted: []Record{{ID: "b", Entity: "Item", Attrs: map[string]interface{}{"id": int64(2)}}}}))
	assert.Equal(t, 1, m.Saves())

	t.Run("injected failure applies nothing", func(t *testing.T) {
		m.FailNextSave(errors.New("boom"))
		err := m.Save(ctx, ChangeSet{Deleted: []string{"a"}})
		require.Error(t, err)
		assert.True(t, errors.IsPersistenceError(err))

		_, ok := m.Get("a")
		assert.True(t, ok)
	})

	t.Run("update of missing record rejects whole set", func(t *testing.T) {
		err := m.Save(ctx, ChangeSet{
			Inserted: []Record{{ID: "c", Entity: "Item"}},
			Updated:  []Update{{Record: Record{ID: "zzz", Entity: "Item"}}},
		})
		require.Error(t, err)
		_, ok := m.Get("c")
		assert.False(t, ok)
	})

	t.Run("delete keeps order of the rest", func(t *testing.T) {
		require.NoError(t, m.Save(ctx, ChangeSet{Deleted: []string{"a"}}))
		records, err := m.Load(ctx)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "b", records[0].ID)
	})

	t.Run("records are copied", func(t *testing.T) {
		records, _ := m.Load(ctx)
		records[0].Attrs["id"] = int64(99)
		rec, _ := m.Get("b")
		assert.Equal(t, int64(2), rec.Attrs["id"])
	})
}
