// Flowd is a multi-agent workflow engine daemon.
//
// It drives projects through a fixed agent pipeline (analyst, product
// manager, UX expert, architect), exposing workflow operations over HTTP.
//
// Usage:
//
//	# Start the daemon with defaults
//	flowd serve
//
//	# Start with a config file
//	flowd serve --config /etc/flowd/config.yaml
//
//	# Validate a workflow definition file
//	flowd validate pipeline.yaml
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "flowd",
	Short: "Multi-agent workflow engine daemon",
	Long: `flowd runs projects through a fixed four-phase agent pipeline and
exposes workflow operations over HTTP.`,
	Version: version,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("flowd by Fyrsmith Labs\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
