package cli

import (
	"context"
	"io"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/mickamy/fieldtrail"
)

func newEditsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "edits <entity> <key>",
		Short: "List the change sets that touched an entity, newest first",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDB(cmd, func(ctx context.Context, out io.Writer, db *fieldtrail.DB) error {
				points, err := db.EditPointsByKey(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printEditPoints(out, opts.output, points)
			})
		},
	}
}

func newHistoryCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "history <entity> <key> <property>",
		Short: "List the values a property took, newest first",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withDB(cmd, func(ctx context.Context, out io.Writer, db *fieldtrail.DB) error {
				history, err := db.PropertyHistoryByKey(ctx, args[0], args[1], args[2])
				if err != nil {
					return err
				}
				return printPropertyHistory(out, opts.output, history)
			})
		},
	}
}

func newShowCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <audit-id>",
		Short: "Print one change set and its items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return errors.Wrapf(err, "invalid audit id %q", args[0])
			}
			return opts.withDB(cmd, func(ctx context.Context, out io.Writer, db *fieldtrail.DB) error {
				audit, items, err := db.Audit(ctx, id)
				if err != nil {
					return err
				}
				return printAudit(out, opts.output, audit, items)
			})
		},
	}
}
