package db

import (
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/teranos/strata/errors"
)

// Operator hints attached by Annotate
const (
	HintClosed     = "the store was closed before the write reached it"
	HintBusy       = "another writer holds the database lock; raise store.options.busy_timeout or retry"
	HintConstraint = "the write conflicts with an existing row; object IDs must be unique"
	HintReadOnly   = "the database file or its directory is not writable"
)

// IsDatabaseClosed reports whether err came from a *sql.DB that was already closed.
// database/sql does not export that error, so the message is matched.
func IsDatabaseClosed(err error) bool {
	return err != nil && strings.Contains(err.Error(), "database is closed")
}

// Annotate attaches an operator hint to SQLite driver errors it recognises
// and returns every other error unchanged.
func Annotate(err error) error {
	if err == nil {
		return nil
	}
	if IsDatabaseClosed(err) {
		return errors.WithHint(err, HintClosed)
	}

	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	switch sqliteErr.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return errors.WithHint(err, HintBusy)
	case sqlite3.ErrConstraint:
		return errors.WithDetailf(errors.WithHint(err, HintConstraint), "sqlite extended code %d", int(sqliteErr.ExtendedCode))
	case sqlite3.ErrReadonly:
		return errors.WithHint(err, HintReadOnly)
	}
	return err
}
