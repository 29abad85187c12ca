// Package cli wires the ordersight commands.
package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

// SetVersion records the build version for the version command and the
// health endpoint.
func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "ordersight",
	Short: "Workflow event reconciliation for the order pipeline dashboard",
	Long: `ordersight consumes the noisy stage-event stream of the order-processing
pipeline and serves a reconciled view to the dashboard: deduplicated
chronological stages, a debounced completion signal, and a structured
order summary extracted from stage outputs.

State is held in memory and periodically snapshotted to SQLite; with a
DATABASE_URL the raw event stream is also appended to Postgres so runs
can be re-derived after the fact (ordersight replay).`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(replayCmd)
}
