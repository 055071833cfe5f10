// lionlock-admin is the operator CLI for the LionLock overlay: token
// management, telemetry schema initialization, and one-shot scoring
// smoke runs.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:          "lionlock-admin",
	Short:        "Operator tooling for the LionLock trust overlay",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "lionlock.yaml", "Path to the configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
