// Package commands provides the CLI commands for loomd.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	logLevel  string
	prettyLog bool
)

var rootCmd = &cobra.Command{
	Use:   "loomd",
	Short: "Loom - multi-party session protocol engine",
	Long: `Loom runs multi-party chat sessions over an append-only event log.
Clients and webhook agents share a session; agent replies stream back
over SSE and are folded into the same log as everything else.

Run 'loomd serve' to start the HTTP server.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().BoolVar(&prettyLog, "pretty", false, "Human-readable console logs")

	rootCmd.SetVersionTemplate(fmt.Sprintf("loomd %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
