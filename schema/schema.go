// Package schema describes the entity model that graph objects are validated
// against: entities, their typed attributes with defaults, and relationships.
//
// Models are loaded from YAML (or TOML) files:
//
//	version: 1.0.0
//	entities:
//	  - name: Item
//	    attributes:
//	      - {name: id, type: int, default: 0}
//	      - {name: name, type: string}
//	    relationships:
//	      - {name: parent, target: Item}
package schema

import (
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/teranos/strata/errors"
)

// AttributeType is the storage type of an attribute value
type AttributeType string

const (
	TypeInt    AttributeType = "int"
	TypeFloat  AttributeType = "float"
	TypeString AttributeType = "string"
	TypeBool   AttributeType = "bool"
	TypeTime   AttributeType = "time"
)

// Valid reports whether t is one of the known attribute types.
func (t AttributeType) Valid() bool {
	switch t {
	case TypeInt, TypeFloat, TypeString, TypeBool, TypeTime:
		return true
	}
	return false
}

// Attribute is a typed scalar field of an entity
type Attribute struct {
	Name    string        `yaml:"name" toml:"name"`
	Type    AttributeType `yaml:"type" toml:"type"`
	Default interface{}   `yaml:"default,omitempty" toml:"default,omitempty"`
}

// Relationship links an entity to objects of the target entity
type Relationship struct {
	Name   string `yaml:"name" toml:"name"`
	Target string `yaml:"target" toml:"target"`
	ToMany bool   `yaml:"to_many,omitempty" toml:"to_many,omitempty"`
}

// Entity is a named object type
type Entity struct {
	Name          string         `yaml:"name" toml:"name"`
	Attributes    []Attribute    `yaml:"attributes" toml:"attributes"`
	Relationships []Relationship `yaml:"relationships,omitempty" toml:"relationships,omitempty"`

	attrs map[string]*Attribute
	rels  map[string]*Relationship
}

// Attribute looks up an attribute by name.
func (e *Entity) Attribute(name string) (*Attribute, bool) {
	a, ok := e.attrs[name]
	return a, ok
}

// Relationship looks up a relationship by name.
func (e *Entity) Relationship(name string) (*Relationship, bool) {
	r, ok := e.rels[name]
	return r, ok
}

// Defaults returns a fresh map of every attribute's default value.
// Attributes without a default are present with a nil value.
func (e *Entity) Defaults() map[string]interface{} {
	out := make(map[string]interface{}, len(e.Attributes))
	for _, a := range e.Attributes {
		out[a.Name] = a.Default
	}
	return out
}

// Model is a versioned set of entities
type Model struct {
	Version  string   `yaml:"version" toml:"version"`
	Entities []Entity `yaml:"entities" toml:"entities"`

	semver *semver.Version
	byName map[string]*Entity
}

// New builds and validates a model from entities declared in code.
func New(version string, entities ...Entity) (*Model, error) {
	m := &Model{Version: version, Entities: entities}
	if err := m.build(); err != nil {
		return nil, err
	}
	return m, nil
}

// MustNew is New that panics on error, for package-level model declarations.
func MustNew(version string, entities ...Entity) *Model {
	m, err := New(version, entities...)
	if err != nil {
		panic(err)
	}
	return m
}

// Entity looks up an entity by name.
func (m *Model) Entity(name string) (*Entity, bool) {
	e, ok := m.byName[name]
	return e, ok
}

// EntityNames returns the entity names in sorted order.
func (m *Model) EntityNames() []string {
	names := make([]string, 0, len(m.byName))
	for name := range m.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SemVer returns the parsed model version.
func (m *Model) SemVer() *semver.Version {
	return m.semver
}

// CheckCompatible verifies a version recorded in a store can be served by this model.
// Stores written by a different major version are rejected.
func (m *Model) CheckCompatible(stored string) error {
	storedVer, err := semver.NewVersion(stored)
	if err != nil {
		return errors.Wrapf(errors.Mark(err, errors.ErrIncompatibleSchema), "invalid stored schema version %q", stored)
	}
	if storedVer.Major() != m.semver.Major() {
		err := errors.Mark(errors.Newf("store was written with model %s, running %s", storedVer, m.semver), errors.ErrIncompatibleSchema)
		return errors.WithHint(err, "open the store with a model of the same major version")
	}
	return nil
}

func (m *Model) build() error {
	if m.Version == "" {
		return errors.New("model version is required")
	}
	v, err := semver.NewVersion(m.Version)
	if err != nil {
		return errors.Wrapf(err, "invalid model version %q", m.Version)
	}
	m.semver = v

	m.byName = make(map[string]*Entity, len(m.Entities))
	for i := range m.Entities {
		e := &m.Entities[i]
		if e.Name == "" {
			return errors.Newf("entity %d has no name", i)
		}
		if _, dup := m.byName[e.Name]; dup {
			return errors.Newf("duplicate entity %q", e.Name)
		}
		m.byName[e.Name] = e
	}

	for i := range m.Entities {
		if err := m.buildEntity(&m.Entities[i]); err != nil {
			return errors.Wrapf(err, "entity %s", m.Entities[i].Name)
		}
	}
	return nil
}

func (m *Model) buildEntity(e *Entity) error {
	e.attrs = make(map[string]*Attribute, len(e.Attributes))
	e.rels = make(map[string]*Relationship, len(e.Relationships))

	for i := range e.Attributes {
		a := &e.Attributes[i]
		if a.Name == "" {
			return errors.Newf("attribute %d has no name", i)
		}
		if _, dup := e.attrs[a.Name]; dup {
			return errors.Newf("duplicate attribute %q", a.Name)
		}
		if !a.Type.Valid() {
			return errors.Newf("attribute %q has unknown type %q", a.Name, a.Type)
		}
		if a.Default != nil {
			def, err := a.Coerce(a.Default)
			if err != nil {
				return errors.Wrapf(err, "default of attribute %q", a.Name)
			}
			a.Default = def
		}
		e.attrs[a.Name] = a
	}

	for i := range e.Relationships {
		r := &e.Relationships[i]
		if r.Name == "" {
			return errors.Newf("relationship %d has no name", i)
		}
		if _, clash := e.attrs[r.Name]; clash {
			return errors.Newf("relationship %q collides with an attribute", r.Name)
		}
		if _, dup := e.rels[r.Name]; dup {
			return errors.Newf("duplicate relationship %q", r.Name)
		}
		if _, ok := m.byName[r.Target]; !ok {
			return errors.Newf("relationship %q targets unknown entity %q", r.Name, r.Target)
		}
		e.rels[r.Name] = r
	}
	return nil
}
