// Package cli implements the riposte command line interface.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:     "riposte",
	Short:   "A load tester for asynchronous batch inference APIs",
	Version: version,
	Long: `Riposte drives the full batch inference workflow against an API host:
each virtual user uploads a JSONL payload, verifies it, creates a batch
job, polls it to completion and retrieves the result artifacts. Latency
and failure metrics are aggregated per step and checked against
configurable thresholds.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command. This is called by main.main().
func Execute() error {
	return RootCmd.Execute()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the riposte version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("riposte %s\n", version)
	},
}

func init() {
	RootCmd.AddCommand(runCmd)
	RootCmd.AddCommand(serveCmd)
	RootCmd.AddCommand(versionCmd)
}
