package store

import (
	"context"
	"database/sql"

	"github.com/Masterminds/squirrel"
	"github.com/cockroachdb/errors"

	"github.com/mickamy/fieldtrail/internal/ident"
	"github.com/mickamy/fieldtrail/internal/query"
)

// Row is one host entity row to write.
type Row struct {
	Table     string
	KeyColumn string
	Key       any // ignored on insert when the key is generated
	Columns   []string
	Values    []any
}

// Rows writes host entity rows and association link rows.
type Rows struct {
	dialect query.Dialect
}

func NewRows(d query.Dialect) *Rows {
	return &Rows{dialect: d}
}

// Insert writes row. When generated is set the key column is omitted and the
// database-assigned id is returned.
func (r *Rows) Insert(ctx context.Context, exec Executor, row Row, generated bool) (int64, error) {
	cols := row.Columns
	vals := row.Values
	if !generated {
		cols = append([]string{row.KeyColumn}, cols...)
		vals = append([]any{row.Key}, vals...)
	}
	q, args, err := r.dialect.Builder().
		Insert(ident.Table("", row.Table)).
		Columns(cols...).
		Values(vals...).
		ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "can't build sql query")
	}

	if !generated {
		if _, err := exec.ExecContext(ctx, q, args...); err != nil {
			return 0, errors.Wrapf(err, "insert into %s", row.Table)
		}
		return 0, nil
	}

	q, _ = query.AppendReturning(q, row.KeyColumn)
	var id int64
	if err := exec.QueryRowContext(ctx, q, args...).Scan(&id); err != nil {
		return 0, errors.Wrapf(err, "insert into %s", row.Table)
	}
	return id, nil
}

// Update overwrites the columns of the row identified by its key.
func (r *Rows) Update(ctx context.Context, exec Executor, row Row) (int64, error) {
	b := r.dialect.Builder().Update(ident.Table("", row.Table))
	for i, c := range row.Columns {
		b = b.Set(c, row.Values[i])
	}
	q, args, err := b.Where(squirrel.Eq{row.KeyColumn: row.Key}).ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "can't build sql query")
	}
	return execAffected(ctx, exec, q, args, "update "+row.Table)
}

// Delete removes the row whose key column equals key.
func (r *Rows) Delete(ctx context.Context, exec Executor, table, keyColumn string, key any) (int64, error) {
	q, args, err := r.dialect.Builder().
		Delete(ident.Table("", table)).
		Where(squirrel.Eq{keyColumn: key}).
		ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "can't build sql query")
	}
	return execAffected(ctx, exec, q, args, "delete from "+table)
}

// Link inserts an association row.
func (r *Rows) Link(ctx context.Context, exec Executor, table, leftColumn, rightColumn string, left, right any) (int64, error) {
	q, args, err := r.dialect.Builder().
		Insert(ident.Table("", table)).
		Columns(leftColumn, rightColumn).
		Values(left, right).
		ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "can't build sql query")
	}
	return execAffected(ctx, exec, q, args, "link "+table)
}

// Unlink deletes an association row.
func (r *Rows) Unlink(ctx context.Context, exec Executor, table, leftColumn, rightColumn string, left, right any) (int64, error) {
	q, args, err := r.dialect.Builder().
		Delete(ident.Table("", table)).
		Where(squirrel.Eq{leftColumn: left, rightColumn: right}).
		ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "can't build sql query")
	}
	return execAffected(ctx, exec, q, args, "unlink "+table)
}

// Load reads the row whose key column equals key as a column → value map.
// It returns sql.ErrNoRows when no such row exists.
func (r *Rows) Load(ctx context.Context, exec Executor, table, keyColumn string, key any, cols []string) (map[string]any, error) {
	q, args, err := r.dialect.Builder().
		Select(cols...).
		From(ident.Table("", table)).
		Where(squirrel.Eq{keyColumn: key}).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "can't build sql query")
	}
	rows, err := exec.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "select from %s", table)
	}
	m, err := scanOne(rows)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "scan %s row", table)
	}
	return m, nil
}

func execAffected(ctx context.Context, exec Executor, q string, args []any, what string) (int64, error) {
	res, err := exec.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, errors.Wrap(err, what)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrapf(err, "%s: rows affected", what)
	}
	return n, nil
}
