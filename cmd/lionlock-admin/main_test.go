package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lionlock/lionlock/internal/telemetry"
	"github.com/lionlock/lionlock/internal/tokenauth"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stdout)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return stdout.String(), err
}

func TestTokenHashCommand(t *testing.T) {
	token := tokenauth.GenerateToken()
	out, err := execute(t, "token", "hash", token)
	if err != nil {
		t.Fatalf("token hash: %v", err)
	}
	if !strings.Contains(out, tokenauth.HashToken(token)) {
		t.Fatalf("output missing hash: %s", out)
	}
	if !strings.Contains(out, tokenauth.TokenID(token)) {
		t.Fatalf("output missing id: %s", out)
	}
}

func TestTokenGenerateRegisters(t *testing.T) {
	uri := "sqlite:///" + filepath.Join(t.TempDir(), "admin.db")
	out, err := execute(t, "token", "generate", "--register", "--db-uri", uri, "--label", "ci")
	if err != nil {
		t.Fatalf("token generate: %v", err)
	}
	if !strings.Contains(out, "token:") || !strings.Contains(out, "registered in auth_tokens") {
		t.Fatalf("unexpected output: %s", out)
	}

	store, err := telemetry.Open(uri, 5*time.Second)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	var count int
	if err := store.QueryRow("SELECT COUNT(*) FROM auth_tokens").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("registered rows = %d, want 1", count)
	}
	var raw string
	if err := store.QueryRow("SELECT token_hash FROM auth_tokens").Scan(&raw); err != nil {
		t.Fatalf("select: %v", err)
	}
	if strings.HasPrefix(raw, "llk_") {
		t.Fatalf("raw token stored instead of hash")
	}
}

func TestInitDBCreatesSchema(t *testing.T) {
	uri := "sqlite:///" + filepath.Join(t.TempDir(), "init.db")
	if _, err := execute(t, "initdb", "--db-uri", uri); err != nil {
		t.Fatalf("initdb: %v", err)
	}
	store, err := telemetry.Open(uri, 5*time.Second)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()
	for _, table := range []string{"lionlock_sessions", "auth_tokens"} {
		ok, err := store.TableExists(table)
		if err != nil {
			t.Fatalf("exists %s: %v", table, err)
		}
		if !ok {
			t.Fatalf("table %s not created", table)
		}
	}
}

func TestScoreCommand(t *testing.T) {
	out, err := execute(t, "score",
		"--prompt", "Describe the rollout plan.",
		"--response", "The rollout plan ships in two phases with a canary stage first.")
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if !strings.Contains(out, `"decision"`) || !strings.Contains(out, `"signal_scores"`) {
		t.Fatalf("unexpected output: %s", out)
	}
}
