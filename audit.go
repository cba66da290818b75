package fieldtrail

import (
	"time"

	"github.com/guregu/null/v5"

	"github.com/mickamy/fieldtrail/internal/meta"
	"github.com/mickamy/fieldtrail/internal/store"
)

// SystemName is recorded when no user or host name is supplied.
const SystemName = "<system>"

// Operation is the kind of change an AuditItem records.
type Operation string

const (
	Create         Operation = "C"
	Update         Operation = "U"
	Delete         Operation = "D"
	AddRelation    Operation = "+"
	RemoveRelation Operation = "-"
)

func (o Operation) String() string {
	switch o {
	case Create:
		return "create"
	case Update:
		return "update"
	case Delete:
		return "delete"
	case AddRelation:
		return "add-relation"
	case RemoveRelation:
		return "remove-relation"
	default:
		return string(o)
	}
}

// IsRelation reports whether o records a relationship change.
func (o Operation) IsRelation() bool {
	return o == AddRelation || o == RemoveRelation
}

// Identity is the actor and host a change set is attributed to.
type Identity struct {
	UserID   string
	UserName string
	HostID   string
	HostName string
}

func (id Identity) withDefaults() Identity {
	if id.UserName == "" {
		id.UserName = SystemName
	}
	if id.HostName == "" {
		id.HostName = SystemName
	}
	return id
}

// Audit is the header of one committed change set.
type Audit struct {
	ID        int64
	HostID    string
	HostName  string
	UserID    string
	UserName  string
	AuditDate time.Time
}

// AuditItem is one property delta or relationship change.
type AuditItem struct {
	ID         int64
	AuditID    int64
	Entity1ID  string
	Entity2ID  null.String // set for relationship items only
	PropertyID int64
	Operation  Operation
	OldValue   null.String
	NewValue   null.String

	// Resolved while the change set is staged; ids are copied from these
	// once the host rows and the header are saved.
	audit    *Audit
	property *AuditProperty
	ends     [2]end
}

// end is an entity an item refers to before its key is known.
type end struct {
	typ    *meta.Type
	entity any
}

func (e end) key() (string, bool) {
	if e.typ == nil {
		return "", false
	}
	return e.typ.KeyOf(e.entity)
}

// AuditProperty describes an audited property or relationship. For
// relationships EntityName holds the relationship name and PropertyName and
// PropertyType are empty.
type AuditProperty struct {
	ID           int64
	EntityName   string
	PropertyName string
	PropertyType string
	IsRelation   bool
}

func (p *AuditProperty) key() descriptorKey {
	return descriptorKey{entity: p.EntityName, property: p.PropertyName, relation: p.IsRelation}
}

// EditPoint is one change set that touched an entity.
type EditPoint struct {
	AuditID  int64
	EntityID string
	EditDate time.Time
	UserID   string
	UserName string
	HostName string
}

// PropertyVersion is the value a property took in one change set.
type PropertyVersion struct {
	EditPoint
	PropertyName string
	Value        null.String
}

// Version is an entity as it was right after one change set.
type Version[T any] struct {
	EditPoint
	Entity *T
}

func adaptAudit(a store.DbAudit) Audit {
	return Audit{
		ID:        a.Id,
		HostID:    a.HostId,
		HostName:  a.HostName,
		UserID:    a.UserId,
		UserName:  a.UserName,
		AuditDate: a.AuditDate,
	}
}

func adaptEditPoint(a store.DbAudit, entityID string) EditPoint {
	return EditPoint{
		AuditID:  a.Id,
		EntityID: entityID,
		EditDate: a.AuditDate,
		UserID:   a.UserId,
		UserName: a.UserName,
		HostName: a.HostName,
	}
}

func adaptAuditItem(i store.DbAuditItem) AuditItem {
	return AuditItem{
		ID:         i.Id,
		AuditID:    i.AuditId,
		Entity1ID:  i.Entity1Id,
		Entity2ID:  i.Entity2Id,
		PropertyID: i.PropertyId,
		Operation:  Operation(i.OperationType),
		OldValue:   i.OldValue,
		NewValue:   i.NewValue,
	}
}

func (it *AuditItem) toDb() store.DbAuditItem {
	return store.DbAuditItem{
		AuditId:       it.AuditID,
		Entity1Id:     it.Entity1ID,
		Entity2Id:     it.Entity2ID,
		PropertyId:    it.PropertyID,
		OperationType: string(it.Operation),
		OldValue:      it.OldValue,
		NewValue:      it.NewValue,
	}
}
