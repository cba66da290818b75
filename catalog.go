package fieldtrail

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/cockroachdb/errors"

	"github.com/mickamy/fieldtrail/internal/store"
)

const propertySavepoint = "fieldtrail_property"

// descriptorKey is the unique identity of an AuditProperty.
type descriptorKey struct {
	entity   string
	property string
	relation bool
}

// catalog resolves property descriptors for one SaveChanges call. Lookups go
// through the descriptors already resolved in this call, the DB's cache of
// committed descriptors, and finally the property table. Unknown descriptors
// are staged and receive ids in save.
type catalog struct {
	db      *DB
	exec    store.Executor
	entries map[descriptorKey]*AuditProperty
	pending []*AuditProperty
}

func (db *DB) newCatalog(exec store.Executor) *catalog {
	return &catalog{db: db, exec: exec, entries: map[descriptorKey]*AuditProperty{}}
}

func (c *catalog) resolve(ctx context.Context, entityName, propertyName, propertyType string, isRelation bool) (*AuditProperty, error) {
	k := descriptorKey{entity: entityName, property: propertyName, relation: isRelation}
	if p, ok := c.entries[k]; ok {
		return p, nil
	}

	p := &AuditProperty{
		EntityName:   entityName,
		PropertyName: propertyName,
		PropertyType: propertyType,
		IsRelation:   isRelation,
	}
	if id, ok := c.db.properties.Get(k); ok {
		p.ID = id
		c.entries[k] = p
		return p, nil
	}

	found, ok, err := c.db.h.audits.FindProperty(ctx, c.exec, entityName, propertyName, isRelation)
	if err != nil {
		return nil, errors.Wrapf(err, "fieldtrail: resolve property %s.%s", entityName, propertyName)
	}
	if ok {
		p.ID = found.Id
		p.PropertyType = found.PropertyType
		c.db.properties.Add(k, found.Id)
	} else {
		c.pending = append(c.pending, p)
	}
	c.entries[k] = p
	return p, nil
}

// save inserts the staged descriptors through tx. A descriptor inserted
// concurrently by another session is adopted instead.
func (c *catalog) save(ctx context.Context, tx store.Executor) error {
	for _, p := range c.pending {
		if err := c.insert(ctx, tx, p); err != nil {
			return errors.Wrapf(err, "fieldtrail: save property %s.%s", p.EntityName, p.PropertyName)
		}
	}
	return nil
}

func (c *catalog) insert(ctx context.Context, tx store.Executor, p *AuditProperty) error {
	return retry.Do(
		func() error {
			found, ok, err := c.db.h.audits.FindProperty(ctx, tx, p.EntityName, p.PropertyName, p.IsRelation)
			if err != nil {
				return err
			}
			if ok {
				p.ID = found.Id
				return nil
			}

			if _, err := tx.ExecContext(ctx, "SAVEPOINT "+propertySavepoint); err != nil {
				return err
			}
			id, err := c.db.h.audits.InsertProperty(ctx, tx, store.DbAuditProperty{
				EntityName:   p.EntityName,
				PropertyName: p.PropertyName,
				PropertyType: p.PropertyType,
				IsRelation:   p.IsRelation,
			})
			if err != nil {
				if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+propertySavepoint); rbErr != nil {
					return errors.CombineErrors(err, rbErr)
				}
				return err
			}
			if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+propertySavepoint); err != nil {
				return err
			}
			p.ID = id
			return nil
		},
		retry.Attempts(3),
		retry.LastErrorOnly(true),
		retry.Delay(10*time.Millisecond),
		retry.RetryIf(store.IsUniqueViolationError),
		retry.Context(ctx),
	)
}

// publish caches the ids of descriptors saved by a committed transaction.
func (c *catalog) publish() {
	for _, p := range c.pending {
		if p.ID != 0 {
			c.db.properties.Add(p.key(), p.ID)
		}
	}
	c.pending = nil
}
