// Package testing holds database fixtures shared by the db and store tests.
// It talks SQL directly so that it can be imported from either package.
package testing

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// NewMemoryDB opens a private in-memory SQLite database with foreign keys
// enabled. The pool is pinned to one connection since every new connection
// to ":memory:" would see an empty database.
func NewMemoryDB(t *testing.T) *sql.DB {
	t.Helper()

	database, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open in-memory database: %v", err)
	}
	database.SetMaxOpenConns(1)

	if _, err := database.Exec("PRAGMA foreign_keys = ON"); err != nil {
		database.Close()
		t.Fatalf("enable foreign keys: %v", err)
	}

	t.Cleanup(func() { database.Close() })
	return database
}

// ObjectRow is a raw row of the objects table, written without going
// through a store. Attributes and Relations are JSON text.
type ObjectRow struct {
	ID         string
	Entity     string
	Attributes string
	Relations  string
}

// InsertObjectRows writes rows into an already migrated objects table.
// Rows get increasing creation times in argument order.
func InsertObjectRows(t *testing.T, database *sql.DB, rows ...ObjectRow) {
	t.Helper()

	base := time.Now().UTC()
	for i, row := range rows {
		attrs, rels := row.Attributes, row.Relations
		if attrs == "" {
			attrs = "{}"
		}
		if rels == "" {
			rels = "{}"
		}
		at := base.Add(time.Duration(i) * time.Millisecond)
		_, err := database.Exec(
			`INSERT INTO objects (id, entity, attributes, relations, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			row.ID, row.Entity, attrs, rels, at, at,
		)
		if err != nil {
			t.Fatalf("insert object row %s: %v", row.ID, err)
		}
	}
}

// TableNames lists the user tables of database in name order.
func TableNames(t *testing.T, database *sql.DB) []string {
	t.Helper()

	rows, err := database.Query("SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name")
	if err != nil {
		t.Fatalf("list tables: %v", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan table name: %v", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("iterate tables: %v", err)
	}
	return names
}
