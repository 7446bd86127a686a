package db

import (
	"database/sql"
	"embed"
	"io/fs"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/strata/errors"
)

//go:embed sqlite/migrations/*.sql
var migrationFS embed.FS

// migration is one embedded script. Version is the numeric file prefix.
type migration struct {
	Version string
	Name    string
	SQL     string
}

func loadMigrations() ([]migration, error) {
	files, err := fs.Glob(migrationFS, "sqlite/migrations/*.sql")
	if err != nil {
		return nil, errors.Wrap(err, "list migrations")
	}
	sort.Strings(files)

	out := make([]migration, 0, len(files))
	for _, file := range files {
		body, err := migrationFS.ReadFile(file)
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", file)
		}
		name := file[strings.LastIndex(file, "/")+1:]
		version, _, ok := strings.Cut(name, "_")
		if !ok {
			return nil, errors.Newf("migration %s has no version prefix", name)
		}
		out = append(out, migration{Version: version, Name: name, SQL: string(body)})
	}
	return out, nil
}

// appliedVersions is empty on a fresh database, where schema_migrations
// does not exist until the first script creates it.
func appliedVersions(database *sql.DB) (map[string]bool, error) {
	applied := make(map[string]bool)

	var tables int
	if err := database.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'",
	).Scan(&tables); err != nil {
		return nil, errors.Wrap(err, "look up schema_migrations")
	}
	if tables == 0 {
		return applied, nil
	}

	rows, err := database.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, errors.Wrap(err, "read schema_migrations")
	}
	defer rows.Close()
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "scan schema_migrations")
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// apply runs one script and records it in the same transaction
func (m migration) apply(database *sql.DB) error {
	tx, err := database.Begin()
	if err != nil {
		return errors.Wrapf(err, "begin %s", m.Name)
	}
	if _, err := tx.Exec(m.SQL); err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "execute %s", m.Name)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.Version); err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "record %s", m.Name)
	}
	return errors.Wrapf(tx.Commit(), "commit %s", m.Name)
}

// Migrate applies every embedded migration not yet recorded in
// schema_migrations, in version order. log may be nil.
func Migrate(database *sql.DB, log *zap.SugaredLogger) error {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	all, err := loadMigrations()
	if err != nil {
		return err
	}
	applied, err := appliedVersions(database)
	if err != nil {
		return err
	}

	ran := 0
	for _, m := range all {
		if applied[m.Version] {
			continue
		}
		log.Infow("Applying migration", "migration", m.Name, "version", m.Version)
		if err := m.apply(database); err != nil {
			return err
		}
		ran++
	}

	log.Debugw("Migrations complete", "total", len(all), "applied", ran)
	return nil
}
