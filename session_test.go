package fieldtrail_test

import (
	"bytes"
	"context"
	"log/slog"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/fieldtrail"
)

func TestSaveChanges_InsertCompleteness(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, fieldtrail.Config{})
	s := f.db.NewSession()

	c := &Customer{Name: "Ada", Age: 36, Note: "vip", Scratch: "tmp", Orders: []string{"o-1"}}
	require.NoError(t, s.Add(c))
	n, err := s.SaveChanges(ctx, alice)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	require.NotZero(t, c.ID)
	assert.False(t, c.CreatedAt.IsZero())
	assert.Equal(t, "alice", c.ChangedBy)

	points, err := f.db.EditPoints(ctx, c)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "42", points[0].UserID)
	assert.Equal(t, "alice", points[0].UserName)
	assert.True(t, points[0].EditDate.Equal(c.CreatedAt))

	header, items, err := f.db.Audit(ctx, points[0].AuditID)
	require.NoError(t, err)
	assert.Equal(t, "7", header.HostID)
	assert.Equal(t, "web-1", header.HostName)
	require.Len(t, items, 2)

	got := map[int64]fieldtrail.AuditItem{}
	for _, it := range items {
		assert.Equal(t, fieldtrail.Create, it.Operation)
		assert.Equal(t, strconv.FormatInt(c.ID, 10), it.Entity1ID)
		assert.False(t, it.Entity2ID.Valid)
		assert.False(t, it.OldValue.Valid)
		got[it.PropertyID] = it
	}
	values := make([]string, 0, len(got))
	for _, it := range got {
		values = append(values, it.NewValue.String)
	}
	assert.ElementsMatch(t, []string{"Ada", "36"}, values)
	assert.Equal(t, 2, f.count(t, "audit_properties"))
}

func TestSaveChanges_NoOp(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, fieldtrail.Config{})

	s := f.db.NewSession()
	c := &Customer{Name: "Ada", Age: 36}
	require.NoError(t, s.Add(c))
	_, err := s.SaveChanges(ctx, alice)
	require.NoError(t, err)
	require.Equal(t, 1, f.count(t, "audits"))

	tcs := []struct {
		name   string
		mutate func(c *Customer)
		rows   int64
	}{
		{name: "nothing changed", mutate: func(*Customer) {}, rows: 0},
		{name: "same value", mutate: func(c *Customer) { c.Age = 36 }, rows: 0},
		{name: "ignored property", mutate: func(c *Customer) { c.Note = "changed" }, rows: 1},
		{name: "not mapped property", mutate: func(c *Customer) { c.Scratch = "changed" }, rows: 0},
		{name: "navigation property", mutate: func(c *Customer) { c.Orders = []string{"o-2"} }, rows: 0},
	}
	for _, tc := range tcs {
		s := f.db.NewSession()
		loaded, err := fieldtrail.Find[Customer](ctx, s, c.ID)
		require.NoError(t, err, tc.name)
		tc.mutate(loaded)

		n, err := s.SaveChanges(ctx, alice)
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.rows, n, tc.name)
		assert.Equal(t, 1, f.count(t, "audits"), tc.name)
		assert.Equal(t, 2, f.count(t, "audit_items"), tc.name)
	}
}

func TestSaveChanges_UpdateDedup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, fieldtrail.Config{})

	s := f.db.NewSession()
	c := &Customer{Name: "Ada", Age: 36}
	require.NoError(t, s.Add(c))
	_, err := s.SaveChanges(ctx, alice)
	require.NoError(t, err)

	c.Name = "Ada Lovelace"
	c.Age = 36
	c.Email = nil
	n, err := s.SaveChanges(ctx, alice)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	points, err := f.db.EditPoints(ctx, c)
	require.NoError(t, err)
	require.Len(t, points, 2)

	_, items, err := f.db.Audit(ctx, points[0].AuditID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, fieldtrail.Update, items[0].Operation)
	assert.Equal(t, "Ada", items[0].OldValue.String)
	assert.Equal(t, "Ada Lovelace", items[0].NewValue.String)
}

func TestSaveChanges_Delete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, fieldtrail.Config{})

	s := f.db.NewSession()
	c := &Customer{Name: "Ada", Age: 36, Email: ptr("ada@example.com")}
	require.NoError(t, s.Add(c))
	_, err := s.SaveChanges(ctx, alice)
	require.NoError(t, err)

	require.NoError(t, s.Remove(c))
	n, err := s.SaveChanges(ctx, alice)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, 0, f.count(t, "customers"))

	points, err := f.db.EditPoints(ctx, c)
	require.NoError(t, err)
	require.Len(t, points, 2)
	_, items, err := f.db.Audit(ctx, points[0].AuditID)
	require.NoError(t, err)
	require.Len(t, items, 3)
	for _, it := range items {
		assert.Equal(t, fieldtrail.Delete, it.Operation)
		assert.True(t, it.OldValue.Valid)
		assert.False(t, it.NewValue.Valid)
	}

	_, err = fieldtrail.Find[Customer](ctx, f.db.NewSession(), c.ID)
	assert.ErrorIs(t, err, fieldtrail.ErrNotFound)
}

func TestSaveChanges_RelationSymmetry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, fieldtrail.Config{})

	s := f.db.NewSession()
	c := &Customer{Name: "Ada", Age: 36}
	tag := &Tag{Code: "gold", Label: "Gold"}
	require.NoError(t, s.Add(c))
	require.NoError(t, s.Add(tag))
	require.NoError(t, s.Relate("CustomerTags", c, tag))
	n, err := s.SaveChanges(ctx, alice)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	require.NoError(t, s.Unrelate("CustomerTags", c, tag))
	n, err = s.SaveChanges(ctx, alice)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, 0, f.count(t, "customer_tags"))

	points, err := f.db.EditPoints(ctx, c)
	require.NoError(t, err)
	require.Len(t, points, 2)

	_, removed, err := f.db.Audit(ctx, points[0].AuditID)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	_, created, err := f.db.Audit(ctx, points[1].AuditID)
	require.NoError(t, err)

	var added []fieldtrail.AuditItem
	for _, it := range created {
		if it.Operation.IsRelation() {
			added = append(added, it)
		}
	}
	require.Len(t, added, 1)

	assert.Equal(t, fieldtrail.AddRelation, added[0].Operation)
	assert.Equal(t, fieldtrail.RemoveRelation, removed[0].Operation)
	assert.Equal(t, added[0].PropertyID, removed[0].PropertyID)
	for _, it := range []fieldtrail.AuditItem{added[0], removed[0]} {
		assert.Equal(t, strconv.FormatInt(c.ID, 10), it.Entity1ID)
		assert.Equal(t, "gold", it.Entity2ID.String)
		assert.True(t, it.OldValue.Valid)
		assert.Empty(t, it.OldValue.String)
		assert.Empty(t, it.NewValue.String)
	}

	var entityName, propertyName string
	var isRelation bool
	require.NoError(t, f.db.QueryRow(
		`SELECT entity_name, property_name, is_relation FROM audit_properties WHERE id = ?`,
		added[0].PropertyID,
	).Scan(&entityName, &propertyName, &isRelation))
	assert.Equal(t, "CustomerTags", entityName)
	assert.Empty(t, propertyName)
	assert.True(t, isRelation)
}

func TestSaveChanges_RelationWithUnauditedEnd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sqlDB := openSQLite(t)
	_, err := sqlDB.Exec(`CREATE TABLE labels (code TEXT PRIMARY KEY); CREATE TABLE customer_labels (customer_id INTEGER, label_code TEXT);`)
	require.NoError(t, err)
	f := newFixtureOn(t, sqlDB, fieldtrail.Config{})

	type Label struct{ Code string }
	labels, err := fieldtrail.Register[Label](f.db.Handler(), "", fieldtrail.NotAudited())
	require.NoError(t, err)
	require.NoError(t, fieldtrail.NaturalKey(labels, "code",
		func(l *Label) string { return l.Code },
		func(l *Label, v string) { l.Code = v }))
	require.NoError(t, fieldtrail.Relation[Customer, Label](f.db.Handler(), "CustomerLabels", "customer_labels", "customer_id", "label_code"))

	s := f.db.NewSession()
	c := &Customer{Name: "Ada", Age: 36}
	l := &Label{Code: "red"}
	require.NoError(t, s.Add(c))
	require.NoError(t, s.Add(l))
	require.NoError(t, s.Relate("CustomerLabels", c, l))
	n, err := s.SaveChanges(ctx, alice)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	assert.Equal(t, 2, f.count(t, "audit_items"))
	assert.Equal(t, 0, f.count(t, "audit_properties WHERE is_relation"))
}

func TestSaveChanges_CatalogDedup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sqlDB := openSQLite(t)
	first := newFixtureOn(t, sqlDB, fieldtrail.Config{})
	second := newFixtureOn(t, sqlDB, fieldtrail.Config{})

	propertyIDs := func(f fixture, c *Customer) map[string]int64 {
		points, err := f.db.EditPoints(ctx, c)
		require.NoError(t, err)
		require.NotEmpty(t, points)
		_, items, err := f.db.Audit(ctx, points[0].AuditID)
		require.NoError(t, err)
		out := map[string]int64{}
		for _, it := range items {
			out[it.NewValue.String] = it.PropertyID
		}
		return out
	}

	a := &Customer{Name: "same", Age: 1}
	s1 := first.db.NewSession()
	require.NoError(t, s1.Add(a))
	_, err := s1.SaveChanges(ctx, alice)
	require.NoError(t, err)

	b := &Customer{Name: "same", Age: 1}
	s2 := second.db.NewSession()
	require.NoError(t, s2.Add(b))
	_, err = s2.SaveChanges(ctx, alice)
	require.NoError(t, err)

	c := &Customer{Name: "same", Age: 1}
	s3 := first.db.NewSession()
	require.NoError(t, s3.Add(c))
	_, err = s3.SaveChanges(ctx, alice)
	require.NoError(t, err)

	want := propertyIDs(first, a)
	assert.Equal(t, want, propertyIDs(second, b))
	assert.Equal(t, want, propertyIDs(first, c))
	assert.Equal(t, 2, first.count(t, "audit_properties"))
}

func TestSaveChanges_AffectedRowsExcludeAudit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	tcs := []struct {
		name string
		cfg  fieldtrail.Config
	}{
		{name: "two phase", cfg: fieldtrail.Config{}},
		{name: "single transaction", cfg: fieldtrail.Config{SingleTransaction: true}},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, tc.cfg)
			s := f.db.NewSession()
			require.NoError(t, s.Add(&Customer{Name: "a", Age: 1}))
			require.NoError(t, s.Add(&Customer{Name: "b", Age: 2}))
			require.NoError(t, s.Add(&Tag{Code: "t", Label: "T"}))

			n, err := s.SaveChanges(ctx, alice)
			require.NoError(t, err)
			assert.EqualValues(t, 3, n)
			assert.Equal(t, 1, f.count(t, "audits"))
			assert.Equal(t, 5, f.count(t, "audit_items"))
		})
	}
}

func TestSaveChanges_AuditingDisabled(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	tcs := []struct {
		name string
		cfg  fieldtrail.Config
		ctx  context.Context
	}{
		{name: "handler disabled", cfg: fieldtrail.Config{Disabled: true}, ctx: ctx},
		{name: "skipped call", cfg: fieldtrail.Config{}, ctx: fieldtrail.WithSkip(ctx)},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, tc.cfg)
			s := f.db.NewSession()
			c := &Customer{Name: "quiet", Age: 3}
			require.NoError(t, s.Add(c))

			n, err := s.SaveChanges(tc.ctx, alice)
			require.NoError(t, err)
			assert.EqualValues(t, 1, n)
			assert.False(t, c.CreatedAt.IsZero())
			assert.Equal(t, 0, f.count(t, "audits"))
			assert.Equal(t, 0, f.count(t, "audit_items"))
		})
	}
}

func TestSaveChanges_DefaultIdentity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, fieldtrail.Config{})
	s := f.db.NewSession()
	c := &Customer{Name: "anon", Age: 1}
	require.NoError(t, s.Add(c))
	_, err := s.SaveChanges(ctx, fieldtrail.Identity{})
	require.NoError(t, err)

	points, err := f.db.EditPoints(ctx, c)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, fieldtrail.SystemName, points[0].UserName)
	assert.Equal(t, fieldtrail.SystemName, points[0].HostName)
	assert.Equal(t, fieldtrail.SystemName, c.ChangedBy)
}

func TestSaveChanges_UnauditableEntityIsSkipped(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	f := newFixture(t, fieldtrail.Config{Logger: logger})

	s := f.db.NewSession()
	c := &Customer{Name: "Ada", Age: 36}
	require.NoError(t, s.Add(c))
	_, err := s.SaveChanges(ctx, alice)
	require.NoError(t, err)

	detached := &Customer{ID: c.ID, Name: "Grace", Age: 37}
	other := &Customer{Name: "Linus", Age: 28}
	s2 := f.db.NewSession()
	require.NoError(t, s2.Update(detached))
	require.NoError(t, s2.Add(other))
	n, err := s2.SaveChanges(ctx, alice)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	loaded, err := fieldtrail.Find[Customer](ctx, f.db.NewSession(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Grace", loaded.Name)

	points, err := f.db.EditPoints(ctx, c)
	require.NoError(t, err)
	assert.Len(t, points, 1)
	points, err = f.db.EditPoints(ctx, other)
	require.NoError(t, err)
	assert.Len(t, points, 1)

	assert.Contains(t, logs.String(), "skipped auditing entity")
	assert.Contains(t, logs.String(), "entity=Customer")
}

func TestSaveChanges_AuditWriteFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	tcs := []struct {
		name      string
		cfg       fieldtrail.Config
		wantRows  int64
		wantSaved int
	}{
		{name: "two phase keeps host rows", cfg: fieldtrail.Config{}, wantRows: 1, wantSaved: 1},
		{name: "single transaction rolls back", cfg: fieldtrail.Config{SingleTransaction: true}, wantRows: 0, wantSaved: 0},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, tc.cfg)
			_, err := f.db.Exec(`DROP TABLE audit_items`)
			require.NoError(t, err)

			s := f.db.NewSession()
			c := &Customer{Name: "Ada", Age: 36}
			require.NoError(t, s.Add(c))
			n, err := s.SaveChanges(ctx, alice)
			require.ErrorIs(t, err, fieldtrail.ErrAuditWrite)
			assert.Equal(t, tc.wantRows, n)
			assert.Equal(t, tc.wantSaved, f.count(t, "customers"))
			if tc.wantSaved == 0 {
				assert.Zero(t, c.ID)
			}
		})
	}
}

func TestSession_Errors(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fieldtrail.Config{})
	s := f.db.NewSession()

	type unknown struct{}
	assert.ErrorIs(t, s.Add(&unknown{}), fieldtrail.ErrUnregisteredType)
	assert.ErrorIs(t, s.Add(Customer{}), fieldtrail.ErrUnregisteredType)
	assert.ErrorIs(t, s.Remove(&Customer{ID: 1}), fieldtrail.ErrNotTracked)
	assert.ErrorIs(t, s.Relate("Nope", &Customer{}, &Tag{}), fieldtrail.ErrUnknownRelation)
	assert.ErrorIs(t, s.Relate("CustomerTags", &Tag{}, &Customer{}), fieldtrail.ErrUnknownRelation)
	assert.ErrorIs(t, s.Unrelate("CustomerTags", &Customer{}, &Customer{}), fieldtrail.ErrUnknownRelation)

	require.NoError(t, s.Add(&Tag{Label: "no code"}))
	_, err := s.SaveChanges(context.Background(), alice)
	assert.ErrorIs(t, err, fieldtrail.ErrNoKey)
}

func TestSaveChanges_OneHandlerManyDatabases(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, fieldtrail.Config{})
	h := f.db.Handler()

	sqlDB := openSQLite(t)
	require.NoError(t, fieldtrail.Migrate(ctx, sqlDB, h.Config()))
	other := fixture{db: h.WrapDB(sqlDB)}

	for _, fx := range []fixture{f, other} {
		c := &Customer{Name: "Ada", Age: 36}
		s := fx.db.NewSession()
		require.NoError(t, s.Add(c))
		_, err := s.SaveChanges(ctx, alice)
		require.NoError(t, err)

		history, err := fieldtrail.PropertyHistory(ctx, fx.db, c, "Name")
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, "Ada", history[0].Value.String)
		assert.Equal(t, 2, fx.count(t, "audit_properties"))
	}
}

func TestSaveChanges_Redact(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, fieldtrail.Config{Redact: fieldtrail.RedactMap{
		"Customer.Email": func(_, _ string) string { return "***" },
	}})

	c := &Customer{Name: "Ada", Email: ptr("ada@example.com"), Age: 36}
	s := f.db.NewSession()
	require.NoError(t, s.Add(c))
	_, err := s.SaveChanges(ctx, alice)
	require.NoError(t, err)

	c.Email = ptr("lovelace@example.com")
	_, err = s.SaveChanges(ctx, alice)
	require.NoError(t, err)

	c.Name = "Ada L."
	_, err = s.SaveChanges(ctx, alice)
	require.NoError(t, err)

	assert.Zero(t, f.count(t, `audit_items WHERE old_value LIKE '%@%' OR new_value LIKE '%@%'`))

	history, err := fieldtrail.PropertyHistory(ctx, f.db, c, "Email")
	require.NoError(t, err)
	require.Len(t, history, 2)
	for _, h := range history {
		assert.Equal(t, "***", h.Value.String)
	}

	versions, err := fieldtrail.Versions(ctx, f.db, c)
	require.NoError(t, err)
	require.NotEmpty(t, versions)
	assert.Equal(t, "Ada L.", versions[0].Entity.Name)
	assert.Equal(t, "Ada", versions[len(versions)-1].Entity.Name)
	for _, v := range versions {
		assert.Equal(t, c.Email, v.Entity.Email)
	}
}
