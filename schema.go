package fieldtrail

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/mickamy/fieldtrail/internal/ident"
	"github.com/mickamy/fieldtrail/internal/query"
)

// Migrate creates the audit tables named by cfg.Tables, with their indexes,
// unless they already exist. Host tables are left alone.
func Migrate(ctx context.Context, db *sql.DB, cfg Config) error {
	cfg = New(cfg).cfg
	for _, stmt := range auditDDL(cfg.Dialect, cfg.Tables) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "fieldtrail: migrate: %s", firstLine(stmt))
		}
	}
	return nil
}

func auditDDL(d query.Dialect, t Tables) []string {
	var stmts []string
	if schema := strings.TrimSpace(t.Schema); schema != "" && d == query.Postgres {
		stmts = append(stmts, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s;`, ident.Quote(schema)))
	}

	audits, items, properties := t.AuditsTable(), t.ItemsTable(), t.PropertiesTable()
	stmts = append(stmts,
		createTable(audits,
			"id "+d.IdentityColumn(),
			"host_id TEXT NOT NULL",
			"host_name TEXT NOT NULL",
			"user_id TEXT NOT NULL",
			"user_name TEXT NOT NULL",
			"audit_date "+d.TimestampType()+" NOT NULL",
		),
		createTable(properties,
			"id "+d.IdentityColumn(),
			"entity_name TEXT NOT NULL",
			"property_name TEXT NOT NULL",
			"property_type TEXT NOT NULL",
			"is_relation BOOLEAN NOT NULL",
		),
		createTable(items,
			"id "+d.IdentityColumn(),
			fmt.Sprintf("audit_id BIGINT NOT NULL REFERENCES %s (id)", audits),
			"entity1_id TEXT NOT NULL",
			"entity2_id TEXT",
			fmt.Sprintf("audit_property_id BIGINT NOT NULL REFERENCES %s (id)", properties),
			"operation_type VARCHAR(1) NOT NULL",
			"old_value TEXT",
			"new_value TEXT",
		),
		createIndex(true, t.Properties, properties, "entity_name", "property_name", "is_relation"),
		createIndex(false, t.Items, items, "audit_id"),
		createIndex(false, t.Items, items, "entity1_id"),
		createIndex(false, t.Items, items, "entity2_id"),
		createIndex(false, t.Audits, audits, "audit_date"),
	)
	return stmts
}

func createTable(table string, columns ...string) string {
	return fmt.Sprintf(`
    CREATE TABLE IF NOT EXISTS %s (
        %s
    );
    `, table, strings.Join(columns, ",\n\t"))
}

func createIndex(unique bool, name, table string, cols ...string) string {
	kind := "INDEX"
	if unique {
		kind = "UNIQUE INDEX"
	}
	return fmt.Sprintf(`CREATE %s IF NOT EXISTS %s ON %s (%s);`,
		kind, ident.Quote(ident.IndexName(name, cols...)), table, strings.Join(cols, ", "))
}

func firstLine(stmt string) string {
	stmt = strings.TrimSpace(stmt)
	if i := strings.IndexByte(stmt, '\n'); i >= 0 {
		return strings.TrimSpace(stmt[:i])
	}
	return stmt
}
