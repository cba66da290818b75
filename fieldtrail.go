// Package fieldtrail records field-level change history for entities saved
// through a Session and reconstructs earlier versions from that log.
package fieldtrail

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mickamy/fieldtrail/internal/meta"
	"github.com/mickamy/fieldtrail/internal/query"
	"github.com/mickamy/fieldtrail/internal/store"
)

// Dialect selects the SQL flavour of the connected database.
type Dialect = query.Dialect

const (
	Postgres = query.Postgres
	SQLite   = query.SQLite
)

// ParseDialect accepts a dialect or database/sql driver name.
func ParseDialect(s string) (Dialect, error) {
	return query.ParseDialect(s)
}

// Tables names the audit relations. Empty fields take their defaults.
type Tables = store.Tables

// DefaultTables are the audit relation names used when none are configured.
var DefaultTables = Tables{
	Audits:     "audits",
	Items:      "audit_items",
	Properties: "audit_properties",
}

// RedactFunc masks a value of property before it is written to the audit log.
type RedactFunc func(property, value string) string

// RedactMap maps "Entity.Property" names to redaction functions.
type RedactMap map[string]RedactFunc

// Config defines the main configuration options for fieldtrail.
type Config struct {
	Dialect           Dialect          // postgres (default) or sqlite
	Tables            Tables           // audit table names, optionally schema qualified
	Logger            *slog.Logger     // default slog.Default()
	Clock             func() time.Time // default time.Now
	Disabled          bool             // commit host rows without auditing
	SingleTransaction bool             // commit host and audit rows atomically
	PropertyCacheSize int              // committed property descriptors kept in memory per DB (default 1024)
	Redact            RedactMap        // optional per-property value redaction
}

// Handler is the main entry point. It owns the registered entity types and
// is safe for concurrent use by many sessions, on one or more databases.
type Handler struct {
	cfg      Config
	registry *meta.Registry
	audits   *store.Audits
	rows     *store.Rows
}

// New creates a new Handler instance with sensible defaults.
func New(cfg Config) *Handler {
	if cfg.Dialect == "" {
		cfg.Dialect = Postgres
	}
	if cfg.Dialect == SQLite {
		// SQLite has no schemas; foreign keys and indexes must name bare tables.
		cfg.Tables.Schema = ""
	}
	if cfg.Tables.Audits == "" {
		cfg.Tables.Audits = DefaultTables.Audits
	}
	if cfg.Tables.Items == "" {
		cfg.Tables.Items = DefaultTables.Items
	}
	if cfg.Tables.Properties == "" {
		cfg.Tables.Properties = DefaultTables.Properties
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.PropertyCacheSize <= 0 {
		cfg.PropertyCacheSize = 1024
	}
	return &Handler{
		cfg:        cfg,
		registry:   meta.NewRegistry(),
		audits:     store.NewAudits(cfg.Dialect, cfg.Tables),
		rows:       store.NewRows(cfg.Dialect),
	}
}

// Config returns the handler's configuration with defaults applied.
func (h *Handler) Config() Config {
	return h.cfg
}

func (h *Handler) redactor(entityName, propertyName string) RedactFunc {
	return h.cfg.Redact[entityName+"."+propertyName]
}

func (h *Handler) auditing(ctx context.Context) bool {
	return !h.cfg.Disabled && !extractSkip(ctx)
}

// DB wraps a *sql.DB instance to enable change tracking through sessions.
// Descriptor ids are cached per DB since they only exist in its database.
type DB struct {
	*sql.DB
	h          *Handler
	properties *expirable.LRU[descriptorKey, int64]
}

// WrapDB attaches fieldtrail to a *sql.DB connection.
func (h *Handler) WrapDB(db *sql.DB) *DB {
	return &DB{
		DB:         db,
		h:          h,
		properties: expirable.NewLRU[descriptorKey, int64](h.cfg.PropertyCacheSize, nil, 0),
	}
}

// Handler returns the handler db was wrapped by.
func (db *DB) Handler() *Handler {
	return db.h
}
