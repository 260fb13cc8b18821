// Command pollwatch polls HTTP resources from a YAML config until their
// conditions are met, and shows progress in a web dashboard or terminal.
//
// Usage:
//
//	pollwatch serve -c config.yaml    # Start the dashboard
//	pollwatch tui -c config.yaml      # Terminal view plus dashboard
//	pollwatch validate -c config.yaml # Validate configuration
//	pollwatch version                 # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set at build time via ldflags, e.g. -X main.version=1.0.0.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "pollwatch",
	Short: "Poll HTTP resources until a condition is met",
	Long: `PollWatch polls HTTP resources until a condition is met.

Each watch is requested immediately, then again a fixed interval after
each response, until its condition says stop or a request fails. Progress
is shown in a live web dashboard and, with the tui command, in the terminal.

Quick start:
  1. Create a config file (pollwatch.yaml)
  2. Run: pollwatch serve -c pollwatch.yaml
  3. Open http://localhost:8080 in your browser

Example config:
  poll_interval: 5s
  watches:
    - name: build
      url: https://ci.example.com/api/jobs/42
      until: json:state=FINISHED,FAILED`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// cobra already printed the error
		os.Exit(1)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "pollwatch %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
