package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pyengine",
	Short: "Local Python execution engine",
	Long: `pyengine is a host-local broker that executes Python scripts and
manages packages for co-located client applications.

It operates in three roles:
  serve - Runs the broker daemon on the per-host encrypted local socket
  run   - Submits a script through a running broker and prints the result
  pkg   - Drives package operations through a running broker`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
