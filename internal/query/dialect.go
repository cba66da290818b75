// Package query holds SQL dialect differences and statement helpers.
package query

import (
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/cockroachdb/errors"
)

// Dialect identifies the SQL flavour of the target database.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// ParseDialect accepts a dialect or driver name.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "pgx", "pg":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return "", errors.Newf("query: unsupported dialect %q", s)
}

// Builder returns a squirrel statement builder with the dialect's placeholders.
func (d Dialect) Builder() squirrel.StatementBuilderType {
	if d == Postgres {
		return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	}
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)
}

// IdentityColumn is the DDL for an auto-generated bigint primary key.
func (d Dialect) IdentityColumn() string {
	if d == Postgres {
		return "BIGSERIAL PRIMARY KEY"
	}
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

// TimestampType is the DDL type used for audit dates.
func (d Dialect) TimestampType() string {
	if d == Postgres {
		return "TIMESTAMPTZ"
	}
	return "TIMESTAMP"
}

// AppendReturning appends "RETURNING <cols>" to the provided statement if non-empty.
// It preserves trailing semicolons by re-attaching them after the RETURNING clause.
// Both dialects support RETURNING (SQLite since 3.35).
func AppendReturning(q string, cols ...string) (string, bool) {
	trimmed := strings.TrimSpace(q)
	if trimmed == "" || len(cols) == 0 {
		return q, false
	}

	hasSemicolon := false
	for strings.HasSuffix(trimmed, ";") {
		hasSemicolon = true
		trimmed = strings.TrimSpace(trimmed[:len(trimmed)-1])
	}
	if trimmed == "" {
		return q, false
	}

	var b strings.Builder
	b.WriteString(trimmed)
	b.WriteString(" RETURNING ")
	b.WriteString(strings.Join(cols, ", "))
	if hasSemicolon {
		b.WriteString(";")
	}
	return b.String(), true
}
