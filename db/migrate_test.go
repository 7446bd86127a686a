package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	qtesting "github.com/teranos/strata/internal/testing"
)

func TestMigrate(t *testing.T) {
	db := qtesting.NewMemoryDB(t)

	require.NoError(t, Migrate(db, nil))

	assert.Equal(t, []string{"objects", "schema_migrations", "store_meta"}, qtesting.TableNames(t, db))

	var applied int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&applied))
	assert.Equal(t, 3, applied)
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := qtesting.NewMemoryDB(t)

	require.NoError(t, Migrate(db, nil))
	require.NoError(t, Migrate(db, nil))

	var applied int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&applied))
	assert.Equal(t, 3, applied)
}

func TestOpenWithMigrations(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := OpenWithMigrations(dbPath, nil, nil)
	require.NoError(t, err)
	defer db.Close()

	var exists int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='objects'").Scan(&exists))
	assert.Equal(t, 1, exists)
}

func TestLoadMigrations(t *testing.T) {
	all, err := loadMigrations()
	require.NoError(t, err)

	var versions []string
	for _, m := range all {
		versions = append(versions, m.Version)
		assert.NotEmpty(t, m.SQL, m.Name)
	}
	assert.Equal(t, []string{"000", "001", "002"}, versions)
}

func TestMigrateResumesPartialDatabase(t *testing.T) {
	db := qtesting.NewMemoryDB(t)

	all, err := loadMigrations()
	require.NoError(t, err)
	require.NoError(t, all[0].apply(db))

	require.NoError(t, Migrate(db, zaptest.NewLogger(t).Sugar()))
	assert.Equal(t, []string{"objects", "schema_migrations", "store_meta"}, qtesting.TableNames(t, db))
}
