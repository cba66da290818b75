package fieldtrail

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-set/v2"

	"github.com/mickamy/fieldtrail/internal/meta"
	"github.com/mickamy/fieldtrail/internal/store"
)

// EditPoints lists the change sets that touched entity, newest first.
func (db *DB) EditPoints(ctx context.Context, entity any) ([]EditPoint, error) {
	typ, key, err := db.identify(entity)
	if err != nil {
		return nil, err
	}
	return db.EditPointsByKey(ctx, typ.Name, key)
}

// EditPointsByKey lists the change sets that touched the entityName row
// whose canonical key is key, newest first. Relation changes count for the
// left end of relations registered with this handler.
func (db *DB) EditPointsByKey(ctx context.Context, entityName, key string) ([]EditPoint, error) {
	audits, err := db.auditsFor(ctx, entityName, key)
	if err != nil {
		return nil, err
	}
	out := make([]EditPoint, len(audits))
	for i, a := range audits {
		out[i] = adaptEditPoint(a, key)
	}
	return out, nil
}

func (db *DB) auditsFor(ctx context.Context, entityName, key string) ([]store.DbAudit, error) {
	relations := db.h.registry.RelationsFrom(entityName)
	ids, err := db.h.audits.AuditIDsForEntity(ctx, db.DB, entityName, key, relations)
	if err != nil {
		return nil, errors.Wrapf(err, "fieldtrail: edit points of %s %s", entityName, key)
	}
	audits, err := db.h.audits.AuditsByIDs(ctx, db.DB, set.From(ids).Slice())
	if err != nil {
		return nil, errors.Wrapf(err, "fieldtrail: edit points of %s %s", entityName, key)
	}
	return audits, nil
}

// PropertyHistory lists the values property of entity took, newest first.
// It is empty when the property was never audited.
func PropertyHistory[T any](ctx context.Context, db *DB, entity *T, property string) ([]PropertyVersion, error) {
	typ, key, err := db.identify(entity)
	if err != nil {
		return nil, err
	}
	return db.PropertyHistoryByKey(ctx, typ.Name, key, property)
}

// PropertyHistoryByKey is PropertyHistory for the entityName row whose
// canonical key is key.
func (db *DB) PropertyHistoryByKey(ctx context.Context, entityName, key, property string) ([]PropertyVersion, error) {
	k := descriptorKey{entity: entityName, property: property}
	propertyID, ok := db.properties.Get(k)
	if !ok {
		p, found, err := db.h.audits.FindProperty(ctx, db.DB, entityName, property, false)
		if err != nil {
			return nil, errors.Wrapf(err, "fieldtrail: history of %s.%s", entityName, property)
		}
		if !found {
			return nil, nil
		}
		propertyID = p.Id
		db.properties.Add(k, propertyID)
	}

	items, err := db.h.audits.ItemsForProperty(ctx, db.DB, key, propertyID)
	if err != nil {
		return nil, errors.Wrapf(err, "fieldtrail: history of %s.%s", entityName, property)
	}
	byAudit := make(map[int64][]store.DbAuditItem, len(items))
	ids := set.New[int64](len(items))
	for _, it := range items {
		byAudit[it.AuditId] = append(byAudit[it.AuditId], it)
		ids.Insert(it.AuditId)
	}
	audits, err := db.h.audits.AuditsByIDs(ctx, db.DB, ids.Slice())
	if err != nil {
		return nil, errors.Wrapf(err, "fieldtrail: history of %s.%s", entityName, property)
	}

	var out []PropertyVersion
	for _, a := range audits {
		for _, it := range byAudit[a.Id] {
			out = append(out, PropertyVersion{
				EditPoint:    adaptEditPoint(a, key),
				PropertyName: property,
				Value:        it.NewValue,
			})
		}
	}
	return out, nil
}

// Versions reconstructs entity as it was right after each change set that
// touched it, newest first. Replay starts from entity's live values and
// walks backwards, overwriting only the properties each change set recorded.
// Redacted properties keep their live value.
func Versions[T any](ctx context.Context, db *DB, entity *T) ([]Version[T], error) {
	typ, key, err := db.identify(entity)
	if err != nil {
		return nil, err
	}
	audits, err := db.auditsFor(ctx, typ.Name, key)
	if err != nil {
		return nil, err
	}
	items, err := db.h.audits.ScalarItemsForEntity(ctx, db.DB, typ.Name, key)
	if err != nil {
		return nil, errors.Wrapf(err, "fieldtrail: versions of %s %s", typ.Name, key)
	}
	byAudit := make(map[int64][]store.DbAuditItemWithProperty, len(audits))
	for _, it := range items {
		byAudit[it.AuditId] = append(byAudit[it.AuditId], it)
	}

	logger := db.h.logger(ctx)
	out := make([]Version[T], 0, len(audits))
	last := any(entity)
	for _, a := range audits {
		current := typ.Clone(last)
		for _, it := range byAudit[a.Id] {
			if db.h.redactor(typ.Name, it.PropertyName) != nil {
				continue
			}
			p, ok := typ.Property(it.PropertyName)
			if !ok || !p.Scalar || p.Set == nil {
				logger.DebugContext(ctx, "fieldtrail: skipped unknown property",
					slog.String("entity", typ.Name),
					slog.String("property", it.PropertyName))
				continue
			}
			if err := p.Set(current, it.NewValue); err != nil {
				return nil, errors.Wrapf(err, "fieldtrail: replay %s.%s of audit %d", typ.Name, it.PropertyName, a.Id)
			}
		}
		out = append(out, Version[T]{EditPoint: adaptEditPoint(a, key), Entity: current.(*T)})
		last = current
	}
	return out, nil
}

// Audit loads one header and its items.
func (db *DB) Audit(ctx context.Context, id int64) (Audit, []AuditItem, error) {
	audits, err := db.h.audits.AuditsByIDs(ctx, db.DB, []int64{id})
	if err != nil {
		return Audit{}, nil, errors.Wrapf(err, "fieldtrail: load audit %d", id)
	}
	if len(audits) == 0 {
		return Audit{}, nil, errors.Wrapf(ErrNotFound, "audit %d", id)
	}
	items, err := db.h.audits.ItemsForAudit(ctx, db.DB, id)
	if err != nil {
		return Audit{}, nil, errors.Wrapf(err, "fieldtrail: load audit %d", id)
	}
	out := make([]AuditItem, len(items))
	for i, it := range items {
		out[i] = adaptAuditItem(it)
	}
	return adaptAudit(audits[0]), out, nil
}

// CountAudits returns the number of recorded change sets.
func (db *DB) CountAudits(ctx context.Context) (int64, error) {
	n, err := db.h.audits.CountAudits(ctx, db.DB)
	if err != nil {
		return 0, errors.Wrap(err, "fieldtrail: count audits")
	}
	return n, nil
}

func (db *DB) identify(entity any) (*meta.Type, string, error) {
	typ, ok := db.h.registry.Of(entity)
	if !ok {
		return nil, "", errors.Wrapf(ErrUnregisteredType, "%T", entity)
	}
	key, ok := typ.KeyOf(entity)
	if !ok {
		return nil, "", errors.Wrapf(ErrNoKey, "%s", typ.Name)
	}
	return typ, key, nil
}
