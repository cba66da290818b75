package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mickamy/fieldtrail"
)

func newMigrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the audit tables and indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withDB(cmd, func(ctx context.Context, out io.Writer, db *fieldtrail.DB) error {
				cfg := db.Handler().Config()
				if err := fieldtrail.Migrate(ctx, db.DB, cfg); err != nil {
					return err
				}
				n, err := db.CountAudits(ctx)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(out, "audit tables ready: %s, %s, %s (%d change sets recorded)\n",
					cfg.Tables.AuditsTable(), cfg.Tables.ItemsTable(), cfg.Tables.PropertiesTable(), n)
				return nil
			})
		},
	}
}
