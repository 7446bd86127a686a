// Package store is the durable persistence engine behind the Master context.
// A Store loads every record at startup and applies change sets atomically.
package store

import (
	"context"
)

// Record is the persisted form of one graph object
type Record struct {
	ID        string                 `json:"id"`
	Entity    string                 `json:"entity"`
	Attrs     map[string]interface{} `json:"attributes"`
	Relations map[string][]string    `json:"relations,omitempty"`
}

// Clone returns a deep copy of the record's maps.
func (r Record) Clone() Record {
	out := Record{ID: r.ID, Entity: r.Entity}
	out.Attrs = make(map[string]interface{}, len(r.Attrs))
	for k, v := range r.Attrs {
		out.Attrs[k] = v
	}
	if len(r.Relations) > 0 {
		out.Relations = make(map[string][]string, len(r.Relations))
		for k, ids := range r.Relations {
			out.Relations[k] = append([]string(nil), ids...)
		}
	}
	return out
}

// Update is the post-commit state of a changed record plus the keys that changed
type Update struct {
	Record
	Changed []string `json:"changed"`
}

// ChangeSet is everything one commit did to the graph
type ChangeSet struct {
	Inserted []Record `json:"inserted,omitempty"`
	Updated  []Update `json:"updated,omitempty"`
	Deleted  []string `json:"deleted,omitempty"`
}

// Empty reports whether the change set carries no changes.
func (c ChangeSet) Empty() bool {
	return len(c.Inserted) == 0 && len(c.Updated) == 0 && len(c.Deleted) == 0
}

// Len is the number of touched records.
func (c ChangeSet) Len() int {
	return len(c.Inserted) + len(c.Updated) + len(c.Deleted)
}

// Store is a durable record engine.
// Save must apply a change set completely or not at all.
type Store interface {
	Load(ctx context.Context) ([]Record, error)
	Save(ctx context.Context, changes ChangeSet) error
	Close() error
}

// Counter is implemented by stores that can report per-entity record counts
type Counter interface {
	Counts(ctx context.Context) (map[string]int, error)
}
