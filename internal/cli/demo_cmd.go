package cli

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mickamy/fieldtrail"
)

func newDemoCmd(opts *options) *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Record a few audited edits on sample tables and print the replayed versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withDB(cmd, func(ctx context.Context, out io.Writer, db *fieldtrail.DB) error {
				versions, err := runDemo(ctx, db, fieldtrail.Identity{UserID: "1", UserName: user})
				if err != nil {
					return err
				}
				return printVersions(out, opts.output, versions)
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "demo", "User name recorded on the change sets")
	return cmd
}

// runDemo creates a product, edits it three times and returns its versions.
// The catalog types must already be registered on db's handler.
func runDemo(ctx context.Context, db *fieldtrail.DB, who fieldtrail.Identity) ([]fieldtrail.Version[Product], error) {
	h := db.Handler()
	if err := fieldtrail.Migrate(ctx, db.DB, h.Config()); err != nil {
		return nil, err
	}
	if err := migrateCatalog(db.DB, h.Config().Dialect); err != nil {
		return nil, err
	}

	s := db.NewSession()
	p := &Product{Name: "Espresso cup", Price: 4.5}
	c := &Category{Code: uuid.NewString(), Title: "Kitchen"}
	if err := s.Add(p); err != nil {
		return nil, err
	}
	if err := s.Add(c); err != nil {
		return nil, err
	}

	edits := []func() error{
		func() error { return nil },
		func() error {
			desc := "Porcelain, 90 ml"
			p.Price = 5
			p.Description = &desc
			return nil
		},
		func() error { return s.Relate(productCategories, p, c) },
		func() error {
			p.Name = "Espresso cup (old stock)"
			p.Discontinued = true
			return nil
		},
	}
	for i, edit := range edits {
		if err := edit(); err != nil {
			return nil, err
		}
		if _, err := s.SaveChanges(ctx, who); err != nil {
			return nil, errors.Wrapf(err, "demo step %d", i+1)
		}
	}
	return fieldtrail.Versions(ctx, db, p)
}
