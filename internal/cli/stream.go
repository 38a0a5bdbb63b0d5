package cli

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"example.com/touchpoints/internal/consumer"
	"example.com/touchpoints/internal/ingest"
)

func newStreamCmd(opts *options) *cobra.Command {
	var topic, group string

	cmd := &cobra.Command{
		Use:       "stream events|persons",
		Short:     "Drain JSON records from a Kafka topic until it goes idle",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{ingest.KindEvents, ingest.KindPersons},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := args[0]
			if topic == "" {
				topic = "touchpoints." + kind
			}
			if group == "" {
				group = opts.cfg.KafkaGroupID
			}

			reader := consumer.NewReader(consumer.ReaderConfig{
				Brokers: opts.cfg.KafkaBrokers,
				GroupID: group,
				Topic:   topic,
			})
			src := consumer.NewSource(reader,
				consumer.WithIdleTimeout(opts.cfg.KafkaIdleTimeout),
				consumer.WithLogger(log.New(cmd.ErrOrStderr(), "[kafka-source] ", log.LstdFlags)),
			)
			defer src.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "Starting import from kafka topic %s (group %s, batch size %d)\n", topic, group, opts.batchSize)
			label := "ActivityEvent"
			if kind == ingest.KindPersons {
				label = "Person"
			}
			return opts.runImport(cmd, kind, label, func(imp *ingest.Importer) (ingest.Report, error) {
				if kind == ingest.KindPersons {
					return imp.ImportPersons(cmd.Context(), src)
				}
				return imp.ImportEvents(cmd.Context(), src)
			})
		},
	}

	cmd.Flags().StringVar(&topic, "topic", "", "Kafka topic to drain (default touchpoints.<kind>)")
	cmd.Flags().StringVar(&group, "group", "", "Consumer group; defaults to KAFKA_GROUP_ID")
	return cmd
}
