// Command server runs the marketplace realtime process: the websocket
// gateway, the bus router, the job workers and the HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information. Populated at build time via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "server",
		Short: "Marketplace realtime gateway and job runner",
		Long: `Serves websocket namespaces (chat, crm, notifications, presence),
fans events out across processes over the configured bus, and runs the
background job queues. Configuration is read from the environment.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildMigrateCmd(),
	)
	return rootCmd
}
