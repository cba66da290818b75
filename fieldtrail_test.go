package fieldtrail_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/fieldtrail"
)

type Customer struct {
	ID        int64
	Name      string
	Email     *string
	Age       int
	Note      string
	Scratch   string
	Orders    []string
	CreatedAt time.Time
	ChangedAt time.Time
	ChangedBy string
}

type Tag struct {
	Code  string
	Label string
}

const hostDDL = `
CREATE TABLE customers (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	email TEXT,
	age INTEGER NOT NULL,
	note TEXT,
	created_at TIMESTAMP,
	changed_at TIMESTAMP,
	changed_by TEXT
);
CREATE TABLE tags (
	code TEXT PRIMARY KEY,
	label TEXT NOT NULL
);
CREATE TABLE customer_tags (
	customer_id INTEGER NOT NULL REFERENCES customers (id),
	tag_code TEXT NOT NULL REFERENCES tags (code),
	PRIMARY KEY (customer_id, tag_code)
);
`

// stepClock advances by one minute on every reading.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Minute)
	return c.now
}

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.sqlite")
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = db.Close()
	})
	_, err = db.Exec(hostDDL)
	require.NoError(t, err)
	return db
}

type fixture struct {
	db        *fieldtrail.DB
	customers *fieldtrail.EntityType[Customer]
	tags      *fieldtrail.EntityType[Tag]
	clock     *stepClock
}

func newFixture(t *testing.T, cfg fieldtrail.Config) fixture {
	t.Helper()
	return newFixtureOn(t, openSQLite(t), cfg)
}

func newFixtureOn(t *testing.T, sqlDB *sql.DB, cfg fieldtrail.Config) fixture {
	t.Helper()

	clock := newStepClock()
	cfg.Dialect = fieldtrail.SQLite
	if cfg.Clock == nil {
		cfg.Clock = clock.Now
	}
	require.NoError(t, fieldtrail.Migrate(context.Background(), sqlDB, cfg))

	h := fieldtrail.New(cfg)
	customers, err := fieldtrail.Register[Customer](h, "")
	require.NoError(t, err)
	fieldtrail.Key(customers, "id",
		func(c *Customer) int64 { return c.ID },
		func(c *Customer, id int64) { c.ID = id })
	fieldtrail.Field(customers, "Name",
		func(c *Customer) string { return c.Name },
		func(c *Customer, v string) { c.Name = v })
	fieldtrail.NullableField(customers, "Email",
		func(c *Customer) *string { return c.Email },
		func(c *Customer, v *string) { c.Email = v })
	fieldtrail.Field(customers, "Age",
		func(c *Customer) int { return c.Age },
		func(c *Customer, v int) { c.Age = v })
	fieldtrail.Field(customers, "Note",
		func(c *Customer) string { return c.Note },
		func(c *Customer, v string) { c.Note = v },
		fieldtrail.Ignore())
	fieldtrail.Field(customers, "Scratch",
		func(c *Customer) string { return c.Scratch },
		func(c *Customer, v string) { c.Scratch = v },
		fieldtrail.NotMapped())
	fieldtrail.Field(customers, "Orders",
		func(c *Customer) []string { return c.Orders },
		func(c *Customer, v []string) { c.Orders = v })
	fieldtrail.Field(customers, "CreatedAt",
		func(c *Customer) time.Time { return c.CreatedAt },
		func(c *Customer, v time.Time) { c.CreatedAt = v },
		fieldtrail.Ignore())
	fieldtrail.Field(customers, "ChangedAt",
		func(c *Customer) time.Time { return c.ChangedAt },
		func(c *Customer, v time.Time) { c.ChangedAt = v },
		fieldtrail.Ignore())
	fieldtrail.Field(customers, "ChangedBy",
		func(c *Customer) string { return c.ChangedBy },
		func(c *Customer, v string) { c.ChangedBy = v },
		fieldtrail.Ignore())
	fieldtrail.Stamps(customers,
		func(c *Customer, at time.Time, _ string) { c.CreatedAt = at },
		func(c *Customer, at time.Time, by string) {
			c.ChangedAt = at
			c.ChangedBy = by
		})

	tags, err := fieldtrail.Register[Tag](h, "")
	require.NoError(t, err)
	require.NoError(t, fieldtrail.NaturalKey(tags, "code",
		func(t *Tag) string { return t.Code },
		func(t *Tag, v string) { t.Code = v }))
	fieldtrail.Field(tags, "Label",
		func(t *Tag) string { return t.Label },
		func(t *Tag, v string) { t.Label = v })

	require.NoError(t, fieldtrail.Relation[Customer, Tag](h, "CustomerTags", "customer_tags", "customer_id", "tag_code"))

	return fixture{db: h.WrapDB(sqlDB), customers: customers, tags: tags, clock: clock}
}

func (f fixture) count(t *testing.T, table string) int {
	t.Helper()

	var n int
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}

func ptr[T any](v T) *T {
	return &v
}

var alice = fieldtrail.Identity{UserID: "42", UserName: "alice", HostID: "7", HostName: "web-1"}
