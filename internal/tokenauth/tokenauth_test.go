package tokenauth

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGenerateToken(t *testing.T) {
	token := GenerateToken()
	if !strings.HasPrefix(token, "llk_") {
		t.Fatalf("token prefix missing: %q", token)
	}
	if token == GenerateToken() {
		t.Fatalf("tokens must be unique")
	}
}

func TestHashAndID(t *testing.T) {
	token := "llk_fixed"
	hash := HashToken(token)
	if len(hash) != 64 {
		t.Fatalf("hash length %d", len(hash))
	}
	id := TokenID(token)
	if len(id) != 12 || !strings.HasPrefix(hash, id) {
		t.Fatalf("token id %q should prefix hash %q", id, hash)
	}
}

func TestSignVerifyRoundtrip(t *testing.T) {
	token := GenerateToken()
	payload := map[string]any{"session_id": "s1", "turn_index": 2, "severity": 0.5}
	signature, err := SignPayload(token, payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !VerifySignature(token, payload, signature) {
		t.Fatalf("signature should verify")
	}
	payload["turn_index"] = 3
	if VerifySignature(token, payload, signature) {
		t.Fatalf("tampered payload should fail")
	}
	if VerifySignature("llk_other", payload, signature) {
		t.Fatalf("wrong token should fail")
	}
}

func TestSignIgnoresAuthEnvelope(t *testing.T) {
	token := GenerateToken()
	payload := map[string]any{"session_id": "s1"}
	bare, err := SignPayload(token, payload)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	signed, err := AttachAuthFields(payload, token)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	again, err := SignPayload(token, signed)
	if err != nil {
		t.Fatalf("re-sign: %v", err)
	}
	if bare != again {
		t.Fatalf("envelope fields must not affect the signature")
	}
	if signed[TokenIDField] != TokenID(token) {
		t.Fatalf("token id = %v", signed[TokenIDField])
	}
}

func TestLoadTokenFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token.txt")
	data := "# comment\n\nllk_from_file\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	os.Unsetenv(TokenEnvDefault)
	os.Unsetenv(TokenPathEnvDefault)
	if got := LoadToken("", path); got != "llk_from_file" {
		t.Fatalf("token = %q", got)
	}

	os.Setenv(TokenEnvDefault, "llk_from_env")
	defer os.Unsetenv(TokenEnvDefault)
	if got := LoadToken("", path); got != "llk_from_env" {
		t.Fatalf("env should win, got %q", got)
	}
}

func TestSplitHashes(t *testing.T) {
	got := SplitHashes(" a , ,b,")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("hashes = %v", got)
	}
}

func TestVerifierDisabledDropsEnvelope(t *testing.T) {
	v := NewVerifier(Config{Enabled: false})
	payload := map[string]any{"session_id": "s1", TokenField: "llk_x", SignatureField: strings.Repeat("a", 64)}
	ok, reason, cleaned := v.VerifyAndPrepare(payload)
	if !ok || reason != "auth_disabled" {
		t.Fatalf("ok=%v reason=%q", ok, reason)
	}
	if _, present := cleaned[TokenField]; present {
		t.Fatalf("token survived disabled prepare")
	}
	if _, present := cleaned[SignatureField]; present {
		t.Fatalf("signature survived disabled prepare")
	}
}

func TestVerifierRequiredAllowlist(t *testing.T) {
	token := GenerateToken()
	v := NewVerifier(Config{Enabled: true, Mode: ModeRequired, TokenHashes: []string{HashToken(token)}})

	payload, err := AttachAuthFields(map[string]any{"session_id": "s1"}, token)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	ok, reason, cleaned := v.VerifyAndPrepare(payload)
	if !ok || reason != "ok" {
		t.Fatalf("ok=%v reason=%q", ok, reason)
	}
	if _, present := cleaned[TokenField]; present {
		t.Fatalf("raw token must be stripped")
	}
	if cleaned[TokenIDField] != TokenID(token) {
		t.Fatalf("token id = %v", cleaned[TokenIDField])
	}

	other, err := AttachAuthFields(map[string]any{"session_id": "s1"}, GenerateToken())
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if ok, reason, _ := v.VerifyAndPrepare(other); ok || reason != "token_not_allowed" {
		t.Fatalf("unknown token: ok=%v reason=%q", ok, reason)
	}
}

func TestVerifierRejectsShortSignature(t *testing.T) {
	v := NewVerifier(Config{Enabled: true, Mode: ModeRequired})
	payload := map[string]any{"session_id": "s1", TokenField: "llk_x", SignatureField: "short"}
	if ok, reason, _ := v.VerifyAndPrepare(payload); ok || reason != "signature_invalid" {
		t.Fatalf("ok=%v reason=%q", ok, reason)
	}
}

func TestVerifierMissingEnvelope(t *testing.T) {
	v := NewVerifier(Config{Enabled: true, Mode: ModeRequired})
	if ok, reason, _ := v.VerifyAndPrepare(map[string]any{"session_id": "s1"}); ok || reason != "missing_token_or_signature" {
		t.Fatalf("ok=%v reason=%q", ok, reason)
	}
}

func TestVerifierPermissiveMode(t *testing.T) {
	token := GenerateToken()
	v := NewVerifier(Config{Enabled: true, Mode: ModePermissive})
	payload, err := AttachAuthFields(map[string]any{"session_id": "s1"}, token)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	ok, reason, _ := v.VerifyAndPrepare(payload)
	if !ok || reason != "ok" {
		t.Fatalf("ok=%v reason=%q", ok, reason)
	}
}

func TestVerifierEmptyAllowlist(t *testing.T) {
	token := GenerateToken()
	v := NewVerifier(Config{Enabled: true, Mode: ModeRequired})
	payload, err := AttachAuthFields(map[string]any{"session_id": "s1"}, token)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if ok, reason, _ := v.VerifyAndPrepare(payload); ok || reason != "allowlist_empty" {
		t.Fatalf("ok=%v reason=%q", ok, reason)
	}
}

func TestVerifierModeDefaultsToRequired(t *testing.T) {
	v := NewVerifier(Config{Enabled: true, Mode: "weird"})
	if v.Mode != ModeRequired {
		t.Fatalf("mode = %q", v.Mode)
	}
}
