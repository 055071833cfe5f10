package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lionlock/lionlock/internal/config"
	"github.com/lionlock/lionlock/internal/telemetry"
	"github.com/lionlock/lionlock/internal/tokenauth"
)

var (
	tokenLabel    string
	tokenScope    string
	tokenRegister bool
	tokenDBURI    string
	tokenTable    string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage telemetry writer tokens",
}

var tokenGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a writer token and print its hash and id",
	Long: `Generate a fresh writer token. The raw token is printed once and is
never stored; only its SHA-256 hash enters the allowlist. Pass
--register to insert the hash into the auth_tokens table directly.`,
	RunE: runTokenGenerate,
}

var tokenHashCmd = &cobra.Command{
	Use:   "hash <token>",
	Short: "Print the allowlist hash and id for an existing token",
	Args:  cobra.ExactArgs(1),
	RunE:  runTokenHash,
}

func init() {
	tokenGenerateCmd.Flags().StringVar(&tokenLabel, "label", "", "Human label stored with the token hash")
	tokenGenerateCmd.Flags().StringVar(&tokenScope, "scope", "writer", "Token scope")
	tokenGenerateCmd.Flags().BoolVar(&tokenRegister, "register", false, "Insert the hash into the auth_tokens table")
	tokenGenerateCmd.Flags().StringVar(&tokenDBURI, "db-uri", "", "Telemetry database URI (defaults to config / env)")
	tokenGenerateCmd.Flags().StringVar(&tokenTable, "table", "auth_tokens", "Allowlist table name")
	tokenCmd.AddCommand(tokenGenerateCmd)
	tokenCmd.AddCommand(tokenHashCmd)
	rootCmd.AddCommand(tokenCmd)
}

func runTokenGenerate(cmd *cobra.Command, args []string) error {
	token := tokenauth.GenerateToken()
	hash := tokenauth.HashToken(token)
	id := tokenauth.TokenID(token)
	fmt.Fprintf(cmd.OutOrStdout(), "token:      %s\n", token)
	fmt.Fprintf(cmd.OutOrStdout(), "token_hash: %s\n", hash)
	fmt.Fprintf(cmd.OutOrStdout(), "token_id:   %s\n", id)
	if !tokenRegister {
		return nil
	}
	store, err := openAdminStore(tokenDBURI)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.EnsureAuthTokens(tokenTable); err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = store.Exec(
		"INSERT INTO "+tokenTable+" (token_hash, token_id, created_utc, label, scope) VALUES (?, ?, ?, ?, ?) ON CONFLICT DO NOTHING",
		hash, id, now, tokenLabel, tokenScope)
	if err != nil && !telemetry.IsUniqueViolation(err) {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "registered in %s\n", tokenTable)
	return nil
}

func runTokenHash(cmd *cobra.Command, args []string) error {
	token := strings.TrimSpace(args[0])
	if token == "" {
		return fmt.Errorf("empty token")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "token_hash: %s\n", tokenauth.HashToken(token))
	fmt.Fprintf(cmd.OutOrStdout(), "token_id:   %s\n", tokenauth.TokenID(token))
	return nil
}

// openAdminStore resolves the database URI in order: explicit flag,
// configured sink, env-built admin DSN.
func openAdminStore(flagURI string) (*telemetry.Store, error) {
	uri := strings.TrimSpace(flagURI)
	if uri == "" {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return nil, err
		}
		uri = cfg.LoggingSQL.URI
	}
	if uri == "" {
		built, err := config.BuildPostgresDSN("admin")
		if err != nil {
			return nil, fmt.Errorf("no database URI: pass --db-uri or set LIONLOCK_TELEMETRY_DB_URI: %w", err)
		}
		uri = built
	}
	return telemetry.Open(uri, 5*time.Second)
}
