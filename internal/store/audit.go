package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/cockroachdb/errors"
	"github.com/guregu/null/v5"

	"github.com/mickamy/fieldtrail/internal/ident"
	"github.com/mickamy/fieldtrail/internal/query"
)

// Tables names the three audit relations.
type Tables struct {
	Schema     string
	Audits     string
	Items      string
	Properties string
}

func (t Tables) AuditsTable() string     { return ident.Table(t.Schema, t.Audits) }
func (t Tables) ItemsTable() string      { return ident.Table(t.Schema, t.Items) }
func (t Tables) PropertiesTable() string { return ident.Table(t.Schema, t.Properties) }

type DbAudit struct {
	Id        int64
	HostId    string
	HostName  string
	UserId    string
	UserName  string
	AuditDate time.Time
}

type DbAuditItem struct {
	Id            int64
	AuditId       int64
	Entity1Id     string
	Entity2Id     null.String
	PropertyId    int64
	OperationType string
	OldValue      null.String
	NewValue      null.String
}

type DbAuditProperty struct {
	Id           int64
	EntityName   string
	PropertyName string
	PropertyType string
	IsRelation   bool
}

// DbAuditItemWithProperty joins an item with the name of its property.
type DbAuditItemWithProperty struct {
	DbAuditItem
	PropertyName string
}

var (
	selectAuditColumns    = []string{"id", "host_id", "host_name", "user_id", "user_name", "audit_date"}
	selectItemColumns     = []string{"id", "audit_id", "entity1_id", "entity2_id", "audit_property_id", "operation_type", "old_value", "new_value"}
	selectPropertyColumns = []string{"id", "entity_name", "property_name", "property_type", "is_relation"}
)

// itemInsertBatch bounds multi-row inserts below SQLite's variable limit.
const itemInsertBatch = 500

// Audits reads and writes the audit tables.
type Audits struct {
	dialect query.Dialect
	tables  Tables
}

func NewAudits(d query.Dialect, t Tables) *Audits {
	return &Audits{dialect: d, tables: t}
}

// InsertAudit writes a header and returns its generated id.
func (s *Audits) InsertAudit(ctx context.Context, exec Executor, a DbAudit) (int64, error) {
	q, args, err := s.dialect.Builder().
		Insert(s.tables.AuditsTable()).
		Columns("host_id", "host_name", "user_id", "user_name", "audit_date").
		Values(a.HostId, a.HostName, a.UserId, a.UserName, a.AuditDate.UTC()).
		ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "can't build sql query")
	}
	return s.insertReturningID(ctx, exec, q, args)
}

// InsertProperty writes a descriptor and returns its generated id.
func (s *Audits) InsertProperty(ctx context.Context, exec Executor, p DbAuditProperty) (int64, error) {
	q, args, err := s.dialect.Builder().
		Insert(s.tables.PropertiesTable()).
		Columns("entity_name", "property_name", "property_type", "is_relation").
		Values(p.EntityName, p.PropertyName, p.PropertyType, p.IsRelation).
		ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "can't build sql query")
	}
	return s.insertReturningID(ctx, exec, q, args)
}

func (s *Audits) insertReturningID(ctx context.Context, exec Executor, q string, args []any) (int64, error) {
	q, _ = query.AppendReturning(q, "id")
	var id int64
	if err := exec.QueryRowContext(ctx, q, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// FindProperty looks a descriptor up by its unique identity.
func (s *Audits) FindProperty(ctx context.Context, exec Executor, entityName, propertyName string, isRelation bool) (DbAuditProperty, bool, error) {
	q, args, err := s.dialect.Builder().
		Select(selectPropertyColumns...).
		From(s.tables.PropertiesTable()).
		Where(squirrel.Eq{"entity_name": entityName, "property_name": propertyName, "is_relation": isRelation}).
		ToSql()
	if err != nil {
		return DbAuditProperty{}, false, errors.Wrap(err, "can't build sql query")
	}
	var p DbAuditProperty
	err = scanProperty(exec.QueryRowContext(ctx, q, args...), &p)
	if errors.Is(err, sql.ErrNoRows) {
		return DbAuditProperty{}, false, nil
	}
	if err != nil {
		return DbAuditProperty{}, false, errors.Wrap(err, "error executing sql query")
	}
	return p, true, nil
}

// InsertItems writes items in multi-row batches.
func (s *Audits) InsertItems(ctx context.Context, exec Executor, items []DbAuditItem) error {
	for start := 0; start < len(items); start += itemInsertBatch {
		end := min(start+itemInsertBatch, len(items))
		b := s.dialect.Builder().
			Insert(s.tables.ItemsTable()).
			Columns("audit_id", "entity1_id", "entity2_id", "audit_property_id", "operation_type", "old_value", "new_value")
		for _, it := range items[start:end] {
			b = b.Values(it.AuditId, it.Entity1Id, it.Entity2Id, it.PropertyId, it.OperationType, it.OldValue, it.NewValue)
		}
		q, args, err := b.ToSql()
		if err != nil {
			return errors.Wrap(err, "can't build sql query")
		}
		if _, err := exec.ExecContext(ctx, q, args...); err != nil {
			return errors.Wrap(err, "insert audit items")
		}
	}
	return nil
}

// AuditIDsForEntity lists the audit id of every item recorded against key,
// limited to properties of entityName and to the named relations, whose left
// end is entityName. Ids may repeat.
func (s *Audits) AuditIDsForEntity(ctx context.Context, exec Executor, entityName, key string, relations []string) ([]int64, error) {
	scope := squirrel.Or{squirrel.Eq{"p.entity_name": entityName, "p.is_relation": false}}
	if len(relations) > 0 {
		scope = append(scope, squirrel.Eq{"p.entity_name": relations, "p.is_relation": true})
	}
	q, args, err := s.dialect.Builder().
		Select("i.audit_id").
		From(s.tables.ItemsTable()+" i").
		Join(s.tables.PropertiesTable()+" p ON p.id = i.audit_property_id").
		Where(squirrel.Eq{"i.entity1_id": key}).
		Where(scope).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "can't build sql query")
	}
	rows, err := exec.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "error executing sql query")
	}
	return collect(rows, func(r *sql.Rows, id *int64) error { return r.Scan(id) })
}

// AuditsByIDs loads headers newest first.
func (s *Audits) AuditsByIDs(ctx context.Context, exec Executor, ids []int64) ([]DbAudit, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q, args, err := s.dialect.Builder().
		Select(selectAuditColumns...).
		From(s.tables.AuditsTable()).
		Where(squirrel.Eq{"id": ids}).
		OrderBy("audit_date DESC", "id DESC").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "can't build sql query")
	}
	rows, err := exec.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "error executing sql query")
	}
	return collect(rows, func(r *sql.Rows, a *DbAudit) error {
		if err := r.Scan(&a.Id, &a.HostId, &a.HostName, &a.UserId, &a.UserName, &a.AuditDate); err != nil {
			return err
		}
		a.AuditDate = a.AuditDate.UTC()
		return nil
	})
}

// ScalarItemsForEntity lists the non-relation items recorded against key for
// properties of entityName, in insertion order.
func (s *Audits) ScalarItemsForEntity(ctx context.Context, exec Executor, entityName, key string) ([]DbAuditItemWithProperty, error) {
	q, args, err := s.dialect.Builder().
		Select(append(columnsNames("i", selectItemColumns), "p.property_name")...).
		From(s.tables.ItemsTable()+" i").
		Join(s.tables.PropertiesTable()+" p ON p.id = i.audit_property_id").
		Where(squirrel.Eq{"i.entity1_id": key, "p.entity_name": entityName, "p.is_relation": false}).
		OrderBy("i.audit_id", "i.id").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "can't build sql query")
	}
	rows, err := exec.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "error executing sql query")
	}
	return collect(rows, func(r *sql.Rows, it *DbAuditItemWithProperty) error {
		return r.Scan(&it.Id, &it.AuditId, &it.Entity1Id, &it.Entity2Id, &it.PropertyId,
			&it.OperationType, &it.OldValue, &it.NewValue, &it.PropertyName)
	})
}

// ItemsForProperty lists the items recorded against key for one descriptor.
func (s *Audits) ItemsForProperty(ctx context.Context, exec Executor, key string, propertyID int64) ([]DbAuditItem, error) {
	q, args, err := s.dialect.Builder().
		Select(selectItemColumns...).
		From(s.tables.ItemsTable()).
		Where(squirrel.Eq{"entity1_id": key, "audit_property_id": propertyID}).
		OrderBy("audit_id", "id").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "can't build sql query")
	}
	rows, err := exec.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "error executing sql query")
	}
	return collect(rows, scanItem)
}

// ItemsForAudit lists every item of one header.
func (s *Audits) ItemsForAudit(ctx context.Context, exec Executor, auditID int64) ([]DbAuditItem, error) {
	q, args, err := s.dialect.Builder().
		Select(selectItemColumns...).
		From(s.tables.ItemsTable()).
		Where(squirrel.Eq{"audit_id": auditID}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "can't build sql query")
	}
	rows, err := exec.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "error executing sql query")
	}
	return collect(rows, scanItem)
}

// CountAudits returns the number of stored headers.
func (s *Audits) CountAudits(ctx context.Context, exec Executor) (int64, error) {
	q, args, err := s.dialect.Builder().Select("COUNT(*)").From(s.tables.AuditsTable()).ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "can't build sql query")
	}
	var n int64
	if err := exec.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "error executing sql query")
	}
	return n, nil
}

func scanItem(r *sql.Rows, it *DbAuditItem) error {
	return r.Scan(&it.Id, &it.AuditId, &it.Entity1Id, &it.Entity2Id, &it.PropertyId,
		&it.OperationType, &it.OldValue, &it.NewValue)
}

func scanProperty(row *sql.Row, p *DbAuditProperty) error {
	return row.Scan(&p.Id, &p.EntityName, &p.PropertyName, &p.PropertyType, &p.IsRelation)
}

func columnsNames(alias string, fields []string) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = alias + "." + f
	}
	return out
}
