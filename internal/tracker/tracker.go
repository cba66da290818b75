// Package tracker is a small unit-of-work change tracker. It classifies
// tracked entities and associations as added, modified or deleted and keeps a
// snapshot of each entity's values as last loaded or saved.
package tracker

import (
	"github.com/cockroachdb/errors"
	"github.com/guregu/null/v5"

	"github.com/mickamy/fieldtrail/internal/meta"
)

// State of a tracked entity or association.
type State int

const (
	Detached State = iota
	Unchanged
	Added
	Modified
	Deleted
)

func (s State) String() string {
	switch s {
	case Unchanged:
		return "unchanged"
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	default:
		return "detached"
	}
}

var (
	ErrAlreadyTracked      = errors.New("tracker: entity already tracked")
	ErrNotTracked          = errors.New("tracker: entity not tracked")
	ErrOriginalUnavailable = errors.New("tracker: original values unavailable")
)

// Entry is one tracked entity row.
type Entry struct {
	Type     *meta.Type
	Entity   any
	Original any // snapshot; nil for added rows or rows marked modified without one
	State    State
}

// Key returns the entity's canonical key.
func (e *Entry) Key() (string, bool) {
	return e.Type.KeyOf(e.Entity)
}

// OriginalValue returns p as it was before the pending changes.
func (e *Entry) OriginalValue(p *meta.Property) (null.String, error) {
	if e.Original == nil {
		return null.String{}, errors.Wrapf(ErrOriginalUnavailable, "%s.%s", e.Type.Name, p.Name)
	}
	return p.Get(e.Original), nil
}

// CurrentValue returns p as it is now.
func (e *Entry) CurrentValue(p *meta.Property) null.String {
	return p.Get(e.Entity)
}

// RelationEntry is one pending association change. Ends holds the two
// endpoint entities, left first.
type RelationEntry struct {
	Relation *meta.Relation
	State    State
	Ends     [2]any
}

// Tracker tracks entities and association changes for one unit of work.
// It is not safe for concurrent use.
type Tracker struct {
	entries   []*Entry
	index     map[any]*Entry
	relations []*RelationEntry
}

func New() *Tracker {
	return &Tracker{index: map[any]*Entry{}}
}

func (t *Tracker) track(e *Entry) {
	t.entries = append(t.entries, e)
	t.index[e.Entity] = e
}

// Add starts tracking entity as a new row.
func (t *Tracker) Add(typ *meta.Type, entity any) (*Entry, error) {
	if e, ok := t.index[entity]; ok {
		if e.State != Deleted {
			return nil, ErrAlreadyTracked
		}
		e.State = Modified
		return e, nil
	}
	e := &Entry{Type: typ, Entity: entity, State: Added}
	t.track(e)
	return e, nil
}

// Attach starts tracking entity as an existing, unchanged row and snapshots
// its current values.
func (t *Tracker) Attach(typ *meta.Type, entity any) (*Entry, error) {
	if _, ok := t.index[entity]; ok {
		return nil, ErrAlreadyTracked
	}
	e := &Entry{Type: typ, Entity: entity, Original: typ.Clone(entity), State: Unchanged}
	t.track(e)
	return e, nil
}

// MarkModified flags entity as modified. An entity that was not tracked is
// attached without a snapshot, so its original values are unknown.
func (t *Tracker) MarkModified(typ *meta.Type, entity any) *Entry {
	if e, ok := t.index[entity]; ok {
		if e.State == Unchanged {
			e.State = Modified
		}
		return e
	}
	e := &Entry{Type: typ, Entity: entity, State: Modified}
	t.track(e)
	return e
}

// Remove marks entity deleted. Removing a row that was never saved simply
// stops tracking it.
func (t *Tracker) Remove(entity any) error {
	e, ok := t.index[entity]
	if !ok {
		return ErrNotTracked
	}
	if e.State == Added {
		t.detach(e)
		return nil
	}
	e.State = Deleted
	return nil
}

func (t *Tracker) detach(e *Entry) {
	delete(t.index, e.Entity)
	e.State = Detached
	kept := t.entries[:0]
	for _, x := range t.entries {
		if x != e {
			kept = append(kept, x)
		}
	}
	t.entries = kept

	rels := t.relations[:0]
	for _, r := range t.relations {
		if r.Ends[0] != e.Entity && r.Ends[1] != e.Entity {
			rels = append(rels, r)
		}
	}
	t.relations = rels
}

// Relate records a new association between left and right. It cancels a
// pending removal of the same association.
func (t *Tracker) Relate(rel *meta.Relation, left, right any) {
	if t.cancel(rel, left, right, Deleted) {
		return
	}
	t.relations = append(t.relations, &RelationEntry{Relation: rel, State: Added, Ends: [2]any{left, right}})
}

// Unrelate records the removal of an association. It cancels a pending
// addition of the same association.
func (t *Tracker) Unrelate(rel *meta.Relation, left, right any) {
	if t.cancel(rel, left, right, Added) {
		return
	}
	t.relations = append(t.relations, &RelationEntry{Relation: rel, State: Deleted, Ends: [2]any{left, right}})
}

func (t *Tracker) cancel(rel *meta.Relation, left, right any, state State) bool {
	for i, r := range t.relations {
		if r.Relation == rel && r.State == state && r.Ends[0] == left && r.Ends[1] == right {
			t.relations = append(t.relations[:i], t.relations[i+1:]...)
			return true
		}
	}
	return false
}

// DetectChanges moves unchanged entries whose persisted values differ from
// their snapshot to Modified.
func (t *Tracker) DetectChanges() {
	for _, e := range t.entries {
		if e.State != Unchanged || e.Original == nil {
			continue
		}
		for _, p := range e.Type.Props {
			if !p.Persisted() {
				continue
			}
			if p.Get(e.Original) != p.Get(e.Entity) {
				e.State = Modified
				break
			}
		}
	}
}

// Entries returns tracked entries in the given states, in tracking order.
func (t *Tracker) Entries(states ...State) []*Entry {
	var out []*Entry
	for _, e := range t.entries {
		if hasState(states, e.State) {
			out = append(out, e)
		}
	}
	return out
}

// Relations returns pending association changes in the given states.
func (t *Tracker) Relations(states ...State) []*RelationEntry {
	var out []*RelationEntry
	for _, r := range t.relations {
		if hasState(states, r.State) {
			out = append(out, r)
		}
	}
	return out
}

// HasChanges reports whether anything is pending.
func (t *Tracker) HasChanges() bool {
	if len(t.relations) > 0 {
		return true
	}
	for _, e := range t.entries {
		if e.State == Added || e.State == Modified || e.State == Deleted {
			return true
		}
	}
	return false
}

// AcceptChanges marks every pending change as saved: added and modified rows
// become unchanged with a fresh snapshot, deleted rows are detached.
func (t *Tracker) AcceptChanges() {
	var deleted []*Entry
	for _, e := range t.entries {
		switch e.State {
		case Added, Modified:
			e.State = Unchanged
			e.Original = e.Type.Clone(e.Entity)
		case Deleted:
			deleted = append(deleted, e)
		}
	}
	t.relations = nil
	for _, e := range deleted {
		t.detach(e)
	}
}

func hasState(states []State, s State) bool {
	if len(states) == 0 {
		return true
	}
	for _, x := range states {
		if x == s {
			return true
		}
	}
	return false
}
