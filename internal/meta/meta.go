// Package meta holds the registered descriptor tables for auditable entity
// types and relationships.
package meta

import (
	"reflect"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/guregu/null/v5"
)

// Property describes one registered property of an entity type.
type Property struct {
	Name     string
	Column   string
	Label    string // canonical type label, "?" suffixed when nullable
	Scalar   bool   // false for navigation properties (no codec)
	Ignored  bool
	Unmapped bool

	// Get renders the property of entity in canonical string form.
	Get func(entity any) null.String
	// Set parses s and assigns it to the property of entity.
	Set func(entity any, s null.String) error
	// Value returns the driver value written to the column.
	Value func(entity any) any
	// Copy copies the property from src to dst.
	Copy func(dst, src any)
}

// Audited reports whether changes to the property are captured.
func (p *Property) Audited() bool {
	return p.Scalar && !p.Ignored && !p.Unmapped
}

// Persisted reports whether the property is written to its column.
func (p *Property) Persisted() bool {
	return p.Scalar && !p.Unmapped
}

// Key describes how an entity type is identified.
type Key struct {
	Column    string
	Generated bool

	// Get returns the canonical key, false while a generated key is unassigned.
	Get func(entity any) (string, bool)
	// Value returns the driver value of the key.
	Value func(entity any) any
	// Assign stores a database-generated id.
	Assign func(entity any, id int64)
	// Set parses a canonical key into entity.
	Set  func(entity any, s string) error
	Copy func(dst, src any)
}

// StampFunc records a bookkeeping timestamp and actor on an entity.
type StampFunc func(entity any, at time.Time, by string)

// Type is the descriptor table of one registered entity type.
type Type struct {
	Name   string
	Table  string
	GoType reflect.Type // pointer type of the entity
	Key    *Key
	Props  []*Property

	// Ignored types are persisted but never audited.
	Ignored bool

	New          func() any
	StampCreated StampFunc
	StampChanged StampFunc
}

// Property returns the registered property called name.
func (t *Type) Property(name string) (*Property, bool) {
	for _, p := range t.Props {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// Clone copies the key and every scalar property into a fresh entity.
// Navigation properties are left at their zero value.
func (t *Type) Clone(entity any) any {
	c := t.New()
	if t.Key != nil && t.Key.Copy != nil {
		t.Key.Copy(c, entity)
	}
	for _, p := range t.Props {
		if p.Scalar {
			p.Copy(c, entity)
		}
	}
	return c
}

// KeyOf returns the canonical key of entity.
func (t *Type) KeyOf(entity any) (string, bool) {
	if t.Key == nil {
		return "", false
	}
	return t.Key.Get(entity)
}

// Relation describes a many-to-many association stored in a link table.
type Relation struct {
	Name        string
	Table       string
	LeftColumn  string
	RightColumn string
	Left        *Type
	Right       *Type
}

// Registry indexes types by Go type and by name.
type Registry struct {
	mu        sync.RWMutex
	types     map[reflect.Type]*Type
	names     map[string]*Type
	relations map[string]*Relation
}

func NewRegistry() *Registry {
	return &Registry{
		types:     map[reflect.Type]*Type{},
		names:     map[string]*Type{},
		relations: map[string]*Relation{},
	}
}

// Add registers t. Names and Go types must be unique.
func (r *Registry) Add(t *Type) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.names[t.Name]; ok {
		return errors.Newf("meta: entity type %q already registered", t.Name)
	}
	if _, ok := r.types[t.GoType]; ok {
		return errors.Newf("meta: go type %v already registered", t.GoType)
	}
	r.types[t.GoType] = t
	r.names[t.Name] = t
	return nil
}

// Of returns the type registered for the dynamic type of entity.
func (r *Registry) Of(entity any) (*Type, bool) {
	if entity == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[reflect.TypeOf(entity)]
	return t, ok
}

// AddRelation registers rel by name.
func (r *Registry) AddRelation(rel *Relation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.relations[rel.Name]; ok {
		return errors.Newf("meta: relation %q already registered", rel.Name)
	}
	r.relations[rel.Name] = rel
	return nil
}

func (r *Registry) Relation(name string) (*Relation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rel, ok := r.relations[name]
	return rel, ok
}

// RelationsFrom lists the names of the relations whose left end is the type
// called typeName.
func (r *Registry) RelationsFrom(typeName string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for name, rel := range r.relations {
		if rel.Left != nil && rel.Left.Name == typeName {
			out = append(out, name)
		}
	}
	return out
}
