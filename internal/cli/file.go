package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"example.com/touchpoints/internal/ingest"
)

func newFileCmd(opts *options, kind, label string) *cobra.Command {
	return &cobra.Command{
		Use:   kind + " JSONL_PATH",
		Short: fmt.Sprintf("Ingest %s objects from a JSON Lines file", label),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			src, err := ingest.OpenFile(path)
			if err != nil {
				return failure(cmd, err)
			}
			defer src.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Starting import from %s (batch size %d)\n", path, opts.batchSize)
			return opts.runImport(cmd, kind, label, func(imp *ingest.Importer) (ingest.Report, error) {
				if kind == ingest.KindPersons {
					return imp.ImportPersons(cmd.Context(), src)
				}
				return imp.ImportEvents(cmd.Context(), src)
			})
		},
	}
}
