package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lionlock/lionlock/internal/config"
	"github.com/lionlock/lionlock/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the lionlock version stamped into telemetry",
	RunE:  runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), version.Resolve(cfg.Telemetry.VersionMode, cfg.Telemetry.LionlockVersion))
	return nil
}
