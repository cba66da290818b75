// Package cli implements the fieldtrail command.
package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"github.com/mickamy/fieldtrail"
)

const (
	envDSN     = "FIELDTRAIL_DSN"
	envDialect = "FIELDTRAIL_DIALECT"
)

// options are the connection settings shared by every subcommand.
type options struct {
	dsn        string
	dialect    string
	configPath string
	output     string
	tables     fieldtrail.Tables
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "fieldtrail",
		Short:         "Field-level audit trail tooling",
		Long:          "Creates the audit tables and inspects the change history recorded by fieldtrail.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			file, err := LoadConfig(opts.configPath)
			if err != nil {
				return err
			}

			// flag > env > config file > default
			if !cmd.Flags().Changed("dsn") {
				if v := os.Getenv(envDSN); v != "" {
					opts.dsn = v
				} else if file.DSN != "" {
					opts.dsn = file.DSN
				}
			}
			if !cmd.Flags().Changed("dialect") {
				if v := os.Getenv(envDialect); v != "" {
					opts.dialect = v
				} else if file.Dialect != "" {
					opts.dialect = file.Dialect
				}
			}
			opts.tables = file.Tables.tables()

			if opts.output != "table" && opts.output != "yaml" {
				return errors.Newf("unsupported output format %q: use 'table' or 'yaml'", opts.output)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.dsn, "dsn", "fieldtrail.sqlite", "Database connection string (env "+envDSN+")")
	rootCmd.PersistentFlags().StringVar(&opts.dialect, "dialect", "sqlite", "Database dialect: sqlite or postgres (env "+envDialect+")")
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML file with dsn, dialect and audit table names")
	rootCmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "table", "Output format (table, yaml)")

	rootCmd.AddCommand(newMigrateCmd(opts))
	rootCmd.AddCommand(newDemoCmd(opts))
	rootCmd.AddCommand(newEditsCmd(opts))
	rootCmd.AddCommand(newHistoryCmd(opts))
	rootCmd.AddCommand(newShowCmd(opts))

	return rootCmd
}

// open connects to the configured database and returns the fieldtrail
// configuration matching it.
func (o *options) open() (*sql.DB, fieldtrail.Config, error) {
	dialect, err := fieldtrail.ParseDialect(o.dialect)
	if err != nil {
		return nil, fieldtrail.Config{}, err
	}
	driver := "pgx"
	if dialect == fieldtrail.SQLite {
		driver = "sqlite3"
	}
	db, err := sql.Open(driver, o.dsn)
	if err != nil {
		return nil, fieldtrail.Config{}, errors.Wrapf(err, "open %s database", dialect)
	}
	if dialect == fieldtrail.SQLite {
		db.SetMaxOpenConns(1)
	}
	return db, fieldtrail.Config{Dialect: dialect, Tables: o.tables}, nil
}

// withDB runs fn against an open wrapped connection. The demo catalog types
// are registered so relation changes show up for their left end.
func (o *options) withDB(cmd *cobra.Command, fn func(ctx context.Context, out io.Writer, db *fieldtrail.DB) error) error {
	sqlDB, cfg, err := o.open()
	if err != nil {
		return err
	}
	defer func(db *sql.DB) {
		_ = db.Close()
	}(sqlDB)
	h := fieldtrail.New(cfg)
	if err := registerCatalog(h); err != nil {
		return err
	}
	return fn(cmd.Context(), cmd.OutOrStdout(), h.WrapDB(sqlDB))
}
