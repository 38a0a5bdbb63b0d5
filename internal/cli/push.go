package cli

import (
	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/spf13/cobra"
)

const pushJob = "touchpoints_ingest"

// pushMetrics sends the process registry to a Pushgateway. Failures are
// reported but never fail the run.
func pushMetrics(cmd *cobra.Command, url, kind string) {
	if url == "" {
		return
	}
	err := push.New(url, pushJob).
		Gatherer(prometheus.DefaultGatherer).
		Grouping("records", kind).
		PushContext(cmd.Context())
	if err != nil {
		color.New(color.FgYellow).Fprintf(cmd.ErrOrStderr(), "Warning: push metrics to %s: %v\n", url, err)
	}
}
