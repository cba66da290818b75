package fieldtrail

import (
	"context"
	"log/slog"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/guregu/null/v5"

	"github.com/mickamy/fieldtrail/internal/buffer"
	"github.com/mickamy/fieldtrail/internal/tracker"
)

// changeSet is the audit record staged for one SaveChanges call.
type changeSet struct {
	audit   *Audit
	items   []*AuditItem
	catalog *catalog
}

// detector turns pending tracker entries into staged audit items.
type detector struct {
	h       *Handler
	logger  *slog.Logger
	catalog *catalog
	audit   *Audit
	staged  *buffer.Buffer[*AuditItem]
}

// detect stages a header and the items describing every pending change. It
// returns nil when nothing auditable changed.
func (s *Session) detect(ctx context.Context, id Identity, now time.Time) *changeSet {
	h := s.db.h
	d := &detector{
		h:       h,
		logger:  h.logger(ctx),
		catalog: s.db.newCatalog(s.db.DB),
		audit: &Audit{
			HostID:    id.HostID,
			HostName:  id.HostName,
			UserID:    id.UserID,
			UserName:  id.UserName,
			AuditDate: now,
		},
		staged: buffer.NewBuffer[*AuditItem](),
	}
	return d.run(ctx, s.tr)
}

// run stages the items of every pending entity and relation in tr. A failure
// is logged and skips only the entity or relation it occurred in.
func (d *detector) run(ctx context.Context, tr *tracker.Tracker) *changeSet {
	for _, e := range tr.Entries(tracker.Added, tracker.Modified, tracker.Deleted) {
		items, err := d.entity(ctx, e)
		if err != nil {
			key, _ := e.Key()
			d.logger.WarnContext(ctx, "fieldtrail: skipped auditing entity",
				slog.String("entity", e.Type.Name),
				slog.String("key", key),
				slog.String("operation", e.State.String()),
				slog.Any("error", err))
			continue
		}
		d.staged.Add(items...)
	}
	for _, r := range tr.Relations(tracker.Added, tracker.Deleted) {
		item, err := d.relation(ctx, r)
		if err != nil {
			d.logger.WarnContext(ctx, "fieldtrail: skipped auditing relation",
				slog.String("relation", r.Relation.Name),
				slog.String("operation", r.State.String()),
				slog.Any("error", err))
			continue
		}
		if item != nil {
			d.staged.Add(item)
		}
	}

	if d.staged.Len() == 0 {
		return nil
	}
	items := d.staged.Drain()
	d.logger.DebugContext(ctx, "fieldtrail: staged audit items", slog.Int("items", len(items)))
	return &changeSet{audit: d.audit, items: items, catalog: d.catalog}
}

// entity builds the items for one entity row. Any failure, including a
// panic in a registered accessor, discards every item of the entity.
func (d *detector) entity(ctx context.Context, e *tracker.Entry) (items []*AuditItem, err error) {
	defer func() {
		if r := recover(); r != nil {
			items = nil
			err = errors.Newf("panic: %v", r)
		}
	}()

	if e.Type.Ignored {
		return nil, nil
	}
	for _, p := range e.Type.Props {
		if !p.Audited() {
			continue
		}

		var (
			op       Operation
			old, cur null.String
		)
		switch e.State {
		case tracker.Added:
			op = Create
			cur = e.CurrentValue(p)
		case tracker.Modified:
			op = Update
			if old, err = e.OriginalValue(p); err != nil {
				return nil, err
			}
			cur = e.CurrentValue(p)
		case tracker.Deleted:
			op = Delete
			if old, err = e.OriginalValue(p); err != nil {
				return nil, err
			}
		default:
			return nil, nil
		}
		if old == cur {
			continue
		}
		if redact := d.h.redactor(e.Type.Name, p.Name); redact != nil {
			old, cur = redactValue(redact, p.Name, old), redactValue(redact, p.Name, cur)
		}

		prop, err := d.catalog.resolve(ctx, e.Type.Name, p.Name, p.Label, false)
		if err != nil {
			return nil, err
		}
		items = append(items, &AuditItem{
			Operation: op,
			OldValue:  old,
			NewValue:  cur,
			audit:     d.audit,
			property:  prop,
			ends:      [2]end{{typ: e.Type, entity: e.Entity}},
		})
	}
	return items, nil
}

// relation builds the item for one association change. It returns nil when
// either end is not an audited entity.
func (d *detector) relation(ctx context.Context, r *tracker.RelationEntry) (item *AuditItem, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			item = nil
			err = errors.Newf("panic: %v", rec)
		}
	}()

	var ends [2]end
	for i, entity := range r.Ends {
		typ, ok := d.h.registry.Of(entity)
		if !ok || typ.Ignored {
			return nil, nil
		}
		ends[i] = end{typ: typ, entity: entity}
	}

	op := AddRelation
	if r.State == tracker.Deleted {
		op = RemoveRelation
	}
	prop, err := d.catalog.resolve(ctx, r.Relation.Name, "", "", true)
	if err != nil {
		return nil, err
	}
	return &AuditItem{
		Operation: op,
		OldValue:  null.StringFrom(""),
		NewValue:  null.StringFrom(""),
		audit:     d.audit,
		property:  prop,
		ends:      ends,
	}, nil
}

// redactValue masks v with fn. NULL stays NULL so the change remains visible.
func redactValue(fn RedactFunc, property string, v null.String) null.String {
	if !v.Valid {
		return v
	}
	return null.StringFrom(fn(property, v.String))
}

// backfill copies the ids assigned during commit into the staged items.
func (cs *changeSet) backfill() error {
	for _, it := range cs.items {
		it.AuditID = it.audit.ID
		it.PropertyID = it.property.ID
		k, ok := it.ends[0].key()
		if !ok {
			return errors.Wrapf(ErrNoKey, "%s item of %s", it.Operation, it.ends[0].typ.Name)
		}
		it.Entity1ID = k
		if it.Operation.IsRelation() {
			k2, ok := it.ends[1].key()
			if !ok {
				return errors.Wrapf(ErrNoKey, "%s item of %s", it.Operation, it.ends[1].typ.Name)
			}
			it.Entity2ID = null.StringFrom(k2)
		}
	}
	return nil
}
