package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lionlock/lionlock/internal/config"
	"github.com/lionlock/lionlock/internal/telemetry"
)

var (
	initDBURI        string
	initValidateOnly bool
)

var initDBCmd = &cobra.Command{
	Use:   "initdb",
	Short: "Create or validate the telemetry schema",
	Long: `Create every telemetry table named in the configuration: the signal
events sink, anomaly and missed-signal sinks, trust overlay sink,
session summary, session diagnostics, and the writer token allowlist.
Existing tables gain any missing columns; tables carrying raw-content
columns fail validation.`,
	RunE: runInitDB,
}

func init() {
	initDBCmd.Flags().StringVar(&initDBURI, "db-uri", "", "Telemetry database URI (defaults to config / env)")
	initDBCmd.Flags().BoolVar(&initValidateOnly, "validate", false, "Validate the schema without creating anything")
	rootCmd.AddCommand(initDBCmd)
}

func runInitDB(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	store, err := openAdminStore(initDBURI)
	if err != nil {
		return err
	}
	defer store.Close()

	sinks := []struct {
		kind  telemetry.SinkKind
		table string
	}{
		{telemetry.SinkEvents, cfg.LoggingSQL.Table},
		{telemetry.SinkAnomalies, cfg.Anomaly.Table},
		{telemetry.SinkMissedSignal, cfg.Anomaly.MissedTable},
		{telemetry.SinkTrustOverlay, cfg.TrustOverlay.SQL.Table},
	}
	if !initValidateOnly {
		for _, s := range sinks {
			if err := store.EnsureSink(s.kind, s.table); err != nil {
				return err
			}
		}
		if err := store.EnsureSessions(cfg.Telemetry.SessionsTable); err != nil {
			return err
		}
		if err := store.EnsureDiagnostics(cfg.Anomaly.DiagnosticsTable); err != nil {
			return err
		}
		if err := store.EnsureAuthTokens("auth_tokens"); err != nil {
			return err
		}
	}
	for _, s := range sinks {
		if err := store.ValidateSink(s.kind, s.table); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ok: %s\n", s.table)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "schema ready")
	return nil
}
