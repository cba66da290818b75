package cli

import (
	"database/sql"
	"embed"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/pressly/goose/v3"

	"github.com/mickamy/fieldtrail"
)

//go:embed migrations/*/*.sql
var embedMigrations embed.FS

// goose keeps its base FS and dialect in package state.
var gooseMu sync.Mutex

// migrateCatalog creates the demo host tables.
func migrateCatalog(db *sql.DB, dialect fieldtrail.Dialect) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(embedMigrations)
	dir, gooseDialect := "migrations/postgres", "postgres"
	if dialect == fieldtrail.SQLite {
		dir, gooseDialect = "migrations/sqlite", "sqlite3"
	}
	if err := goose.SetDialect(gooseDialect); err != nil {
		return errors.Wrap(err, "goose set dialect")
	}
	if err := goose.Up(db, dir); err != nil {
		return errors.Wrap(err, "goose up")
	}
	return nil
}

// Product and Category are the demo host entities.
type Product struct {
	ID           int64
	Name         string
	Price        float64
	Description  *string
	Discontinued bool
}

type Category struct {
	Code  string
	Title string
}

const productCategories = "ProductCategories"

func registerCatalog(h *fieldtrail.Handler) error {
	products, err := fieldtrail.Register[Product](h, "")
	if err != nil {
		return err
	}
	fieldtrail.Key(products, "id",
		func(p *Product) int64 { return p.ID },
		func(p *Product, id int64) { p.ID = id })
	fieldtrail.Field(products, "Name",
		func(p *Product) string { return p.Name },
		func(p *Product, v string) { p.Name = v })
	fieldtrail.Field(products, "Price",
		func(p *Product) float64 { return p.Price },
		func(p *Product, v float64) { p.Price = v })
	fieldtrail.NullableField(products, "Description",
		func(p *Product) *string { return p.Description },
		func(p *Product, v *string) { p.Description = v })
	fieldtrail.Field(products, "Discontinued",
		func(p *Product) bool { return p.Discontinued },
		func(p *Product, v bool) { p.Discontinued = v })

	categories, err := fieldtrail.Register[Category](h, "", fieldtrail.Table("categories"))
	if err != nil {
		return err
	}
	if err := fieldtrail.NaturalKey(categories, "code",
		func(c *Category) string { return c.Code },
		func(c *Category, v string) { c.Code = v }); err != nil {
		return err
	}
	fieldtrail.Field(categories, "Title",
		func(c *Category) string { return c.Title },
		func(c *Category, v string) { c.Title = v })

	return fieldtrail.Relation[Product, Category](h, productCategories, "product_categories", "product_id", "category_code")
}
