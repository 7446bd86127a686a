package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/strata/db"
	"github.com/teranos/strata/errors"
	"github.com/teranos/strata/logger"
	"github.com/teranos/strata/schema"
)

// Query constants
const (
	ObjectSelectAllQuery = `
		SELECT id, entity, attributes, relations
		FROM objects
		ORDER BY created_at, id`

	ObjectInsertQuery = `
		INSERT INTO objects (id, entity, attributes, relations, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	ObjectUpdateQuery = `
		UPDATE objects SET attributes = ?, relations = ?, updated_at = ?
		WHERE id = ?`

	ObjectDeleteQuery = `
		DELETE FROM objects WHERE id = ?`

	ObjectCountByEntityQuery = `
		SELECT entity, COUNT(*) FROM objects GROUP BY entity`

	MetaSelectQuery = `
		SELECT value FROM store_meta WHERE key = ?`

	MetaUpsertQuery = `
		INSERT INTO store_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
)

// metaSchemaVersion is the store_meta key holding the model version the store was written with
const metaSchemaVersion = "schema_version"

// StoreConfig locates a store and its model.
// Options are applied as SQLite pragmas when the database is opened.
type StoreConfig struct {
	Path       string
	SchemaPath string
	Options    map[string]string

	// Model overrides SchemaPath when set
	Model *schema.Model
}

// SQLiteStore persists records in the objects table of a SQLite database
type SQLiteStore struct {
	db     *sql.DB
	model  *schema.Model
	logger *zap.SugaredLogger
}

// Open opens (creating if needed) the store at cfg.Path, migrates it and
// checks the recorded model version against the configured model.
// Every failure is marked with errors.ErrStoreOpen.
func Open(cfg StoreConfig, log *zap.SugaredLogger) (*SQLiteStore, error) {
	if log == nil {
		log = logger.Logger
	}
	log = log.Named("store")

	if cfg.Path == "" {
		return nil, errors.WrapStoreOpen(errors.New("store path is empty"), "open store")
	}

	model := cfg.Model
	if model == nil {
		if cfg.SchemaPath == "" {
			return nil, errors.WrapStoreOpen(errors.New("no model configured"), "open store")
		}
		var err error
		model, err = schema.Load(cfg.SchemaPath)
		if err != nil {
			return nil, errors.WrapStoreOpen(err, "load model")
		}
	}

	database, err := db.OpenWithMigrations(cfg.Path, cfg.Options, log)
	if err != nil {
		return nil, errors.WrapStoreOpen(err, "open "+cfg.Path)
	}

	s := NewSQLiteStore(database, model, log)
	if err := s.checkSchemaVersion(context.Background()); err != nil {
		database.Close()
		return nil, errors.WrapStoreOpen(err, "check schema version")
	}

	log.Infow("Store opened",
		logger.FieldPath, cfg.Path,
		"model_version", model.Version,
		"entities", len(model.Entities),
	)
	return s, nil
}

// NewSQLiteStore wraps an already migrated database.
func NewSQLiteStore(database *sql.DB, model *schema.Model, log *zap.SugaredLogger) *SQLiteStore {
	if log == nil {
		log = logger.Logger
	}
	return &SQLiteStore{
		db:     database,
		model:  model,
		logger: log,
	}
}

// Model returns the entity model the store was opened with.
func (s *SQLiteStore) Model() *schema.Model {
	return s.model
}

// DB exposes the underlying connection for diagnostics.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) checkSchemaVersion(ctx context.Context) error {
	var stored string
	err := s.db.QueryRowContext(ctx, MetaSelectQuery, metaSchemaVersion).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// Fresh store
	case err != nil:
		return errors.Wrap(err, "failed to read schema version")
	default:
		if err := s.model.CheckCompatible(stored); err != nil {
			return err
		}
		if stored == s.model.Version {
			return nil
		}
	}

	if _, err := s.db.ExecContext(ctx, MetaUpsertQuery, metaSchemaVersion, s.model.Version); err != nil {
		return errors.Wrap(err, "failed to record schema version")
	}
	return nil
}

// Load reads every record in creation order.
func (s *SQLiteStore) Load(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, ObjectSelectAllQuery)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query objects")
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var attrsJSON, relsJSON string
		if err := rows.Scan(&rec.ID, &rec.Entity, &attrsJSON, &relsJSON); err != nil {
			return nil, errors.Wrap(err, "failed to scan object")
		}
		if err := decodeJSON(attrsJSON, &rec.Attrs); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal attributes of %s", rec.ID)
		}
		if err := decodeJSON(relsJSON, &rec.Relations); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal relations of %s", rec.ID)
		}
		if rec.Attrs == nil {
			rec.Attrs = make(map[string]interface{})
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate objects")
	}

	s.logger.Debugw("Loaded objects", logger.FieldCount, len(records))
	return records, nil
}

// Save applies the change set in one SQL transaction.
// Errors are marked with errors.ErrPersistence and nothing is written.
func (s *SQLiteStore) Save(ctx context.Context, changes ChangeSet) error {
	if changes.Empty() {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapPersistence(db.Annotate(err), "begin save")
	}

	if err := s.apply(ctx, tx, changes); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			err = errors.WithSecondaryError(err, rbErr)
		}
		return errors.WrapPersistence(db.Annotate(err), "save changes")
	}

	if err := tx.Commit(); err != nil {
		return errors.WrapPersistence(db.Annotate(err), "commit save")
	}

	s.logger.Debugw("Saved changes",
		logger.FieldInserted, len(changes.Inserted),
		logger.FieldUpdated, len(changes.Updated),
		logger.FieldDeleted, len(changes.Deleted),
	)
	return nil
}

func (s *SQLiteStore) apply(ctx context.Context, tx *sql.Tx, changes ChangeSet) error {
	now := time.Now().UTC()

	for _, rec := range changes.Inserted {
		attrs, rels, err := marshalRecord(rec)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, ObjectInsertQuery, rec.ID, rec.Entity, attrs, rels, now, now); err != nil {
			return errors.Wrapf(err, "failed to insert object %s", rec.ID)
		}
	}

	for _, upd := range changes.Updated {
		attrs, rels, err := marshalRecord(upd.Record)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, ObjectUpdateQuery, attrs, rels, now, upd.ID)
		if err != nil {
			return errors.Wrapf(err, "failed to update object %s", upd.ID)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return errors.Wrapf(errors.ErrNotFound, "update object %s", upd.ID)
		}
	}

	for _, id := range changes.Deleted {
		if _, err := tx.ExecContext(ctx, ObjectDeleteQuery, id); err != nil {
			return errors.Wrapf(err, "failed to delete object %s", id)
		}
	}
	return nil
}

// Counts returns the number of stored objects per entity.
func (s *SQLiteStore) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, ObjectCountByEntityQuery)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count objects")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var entity string
		var n int
		if err := rows.Scan(&entity, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan count")
		}
		counts[entity] = n
	}
	return counts, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func marshalRecord(rec Record) (string, string, error) {
	attrs := rec.Attrs
	if attrs == nil {
		attrs = map[string]interface{}{}
	}
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return "", "", errors.Wrapf(err, "failed to marshal attributes of %s", rec.ID)
	}
	rels := rec.Relations
	if rels == nil {
		rels = map[string][]string{}
	}
	relsJSON, err := json.Marshal(rels)
	if err != nil {
		return "", "", errors.Wrapf(err, "failed to marshal relations of %s", rec.ID)
	}
	return string(attrsJSON), string(relsJSON), nil
}

// decodeJSON keeps numbers as json.Number so large integers survive the round trip
func decodeJSON(data string, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	return dec.Decode(v)
}
