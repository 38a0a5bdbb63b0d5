// Package cli implements the ingest command line.
package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"example.com/touchpoints/internal/config"
	"example.com/touchpoints/internal/ingest"
	"example.com/touchpoints/internal/persistence"
)

// Execute runs the root command until completion or SIGINT/SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}

type options struct {
	cfg          config.Config
	batchSize    int
	ignoreErrors bool
	driver       string
	sqlitePath   string
	postgresURL  string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "ingest",
		Short:         "Load activity events and persons from JSON Lines into the record store",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			opts.cfg = cfg
			if !cmd.Flags().Changed("batch-size") {
				opts.batchSize = cfg.ImportBatchSize
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.IntVar(&opts.batchSize, "batch-size", ingest.DefaultBatchSize, "Number of rows to insert per transaction")
	flags.BoolVar(&opts.ignoreErrors, "ignore-errors", false, "Skip lines that cannot be parsed instead of aborting the entire import")
	flags.StringVar(&opts.driver, "driver", "", "Store driver (postgres or sqlite); defaults to STORE_DRIVER")
	flags.StringVar(&opts.sqlitePath, "sqlite-path", "", "SQLite database file; defaults to SQLITE_PATH")
	flags.StringVar(&opts.postgresURL, "postgres-url", "", "PostgreSQL connection string; defaults to POSTGRES_URL")

	root.AddCommand(
		newFileCmd(opts, ingest.KindEvents, "ActivityEvent"),
		newFileCmd(opts, ingest.KindPersons, "Person"),
		newStreamCmd(opts),
	)
	return root
}

func (o *options) storeOptions() persistence.Options {
	out := persistence.Options{
		Driver:      o.cfg.StoreDriver,
		PostgresURL: o.cfg.PostgresURL,
		SQLitePath:  o.cfg.SQLitePath,
	}
	if o.driver != "" {
		out.Driver = o.driver
	}
	if o.sqlitePath != "" {
		out.SQLitePath = o.sqlitePath
	}
	if o.postgresURL != "" {
		out.PostgresURL = o.postgresURL
	}
	return out
}

func (o *options) importer(cmd *cobra.Command, store persistence.Store) *ingest.Importer {
	return ingest.NewImporter(store,
		ingest.WithBatchSize(o.batchSize),
		ingest.WithIgnoreErrors(o.ignoreErrors),
		ingest.WithLogger(log.New(cmd.ErrOrStderr(), "[ingest] ", log.LstdFlags)),
	)
}

// runImport opens the store, runs fn and prints the outcome.
func (o *options) runImport(cmd *cobra.Command, kind, label string, fn func(*ingest.Importer) (ingest.Report, error)) error {
	store, err := persistence.Open(cmd.Context(), o.storeOptions())
	if err != nil {
		return failure(cmd, fmt.Errorf("open store: %w", err))
	}
	defer store.Close()

	report, err := fn(o.importer(cmd, store))
	pushMetrics(cmd, o.cfg.PushgatewayURL, kind)
	if err != nil {
		if report.Imported > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%d %s records were committed before the failure.\n", report.Imported, label)
		}
		return failure(cmd, err)
	}

	color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Successfully imported %d %s records.\n", report.Imported, label)
	if report.Skipped > 0 {
		color.New(color.FgYellow).Fprintf(cmd.OutOrStdout(), "Skipped %d malformed lines.\n", report.Skipped)
	}
	return nil
}

func failure(cmd *cobra.Command, err error) error {
	color.New(color.FgRed).Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
	return err
}
