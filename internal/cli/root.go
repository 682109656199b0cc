// Package cli implements the mindstrike command-line interface using
// Cobra. Commands other than serve and worker talk to a running daemon
// over its HTTP API.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mindstrike",
	Short: "MindStrike — local LLM serving core",
	Long: `MindStrike serves large language models locally. A controller
process supervises a crash-isolated inference worker; models are pulled,
loaded and generated against through the HTTP API or this CLI.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
