package query_test

import (
	"testing"

	"github.com/mickamy/fieldtrail/internal/query"
)

func TestParseDialect(t *testing.T) {
	t.Parallel()

	tcs := []struct {
		name    string
		in      string
		want    query.Dialect
		wantErr bool
	}{
		{name: "postgres", in: "postgres", want: query.Postgres},
		{name: "pgx driver", in: "pgx", want: query.Postgres},
		{name: "sqlite3 driver", in: " SQLite3 ", want: query.SQLite},
		{name: "unknown", in: "mysql", wantErr: true},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := query.ParseDialect(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParseDialect(%q) err = %v, wantErr %t", tc.in, err, tc.wantErr)
			}
			if got != tc.want {
				t.Fatalf("ParseDialect(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestBuilderPlaceholders(t *testing.T) {
	t.Parallel()

	tcs := []struct {
		name    string
		dialect query.Dialect
		want    string
	}{
		{name: "postgres", dialect: query.Postgres, want: "SELECT id FROM audits WHERE id = $1"},
		{name: "sqlite", dialect: query.SQLite, want: "SELECT id FROM audits WHERE id = ?"},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, _, err := tc.dialect.Builder().Select("id").From("audits").Where("id = ?", 1).ToSql()
			if err != nil {
				t.Fatalf("ToSql: %v", err)
			}
			if got != tc.want {
				t.Fatalf("ToSql = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestAppendReturning(t *testing.T) {
	t.Parallel()

	tcs := []struct {
		name string
		sql  string
		cols []string
		want string
		ok   bool
	}{
		{
			name: "simple insert",
			sql:  "INSERT INTO audits (host_name) VALUES ($1)",
			cols: []string{"id"},
			want: "INSERT INTO audits (host_name) VALUES ($1) RETURNING id",
			ok:   true,
		},
		{
			name: "trim whitespace",
			sql:  "  INSERT INTO t (a) VALUES (?)  ",
			cols: []string{"id", "a"},
			want: "INSERT INTO t (a) VALUES (?) RETURNING id, a",
			ok:   true,
		},
		{
			name: "keep semicolon",
			sql:  "INSERT INTO t (a) VALUES (?);",
			cols: []string{"id"},
			want: "INSERT INTO t (a) VALUES (?) RETURNING id;",
			ok:   true,
		},
		{
			name: "empty string",
			sql:  "   ",
			cols: []string{"id"},
			want: "   ",
			ok:   false,
		},
		{
			name: "no columns",
			sql:  "INSERT INTO t (a) VALUES (?)",
			want: "INSERT INTO t (a) VALUES (?)",
			ok:   false,
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := query.AppendReturning(tc.sql, tc.cols...)
			if ok != tc.ok {
				t.Fatalf("AppendReturning ok = %t, want %t", ok, tc.ok)
			}
			if got != tc.want {
				t.Fatalf("AppendReturning(%q) = %q, want %q", tc.sql, got, tc.want)
			}
		})
	}
}
