// Package tokenauth signs telemetry payloads with per-client tokens and
// verifies them against a hash allowlist before anything reaches SQL.
// Raw tokens never persist: rows carry only a short token id and the
// payload signature.
package tokenauth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/lionlock/lionlock/internal/canonical"
)

// Payload field names for the auth envelope.
const (
	TokenField     = "auth_token"
	SignatureField = "auth_signature"
	TokenIDField   = "auth_token_id"
)

// Environment variables consulted when loading a client token.
const (
	TokenEnvDefault     = "LIONLOCK_LOG_TOKEN"
	TokenPathEnvDefault = "LIONLOCK_LOG_TOKEN_PATH"
)

const tokenPrefix = "llk_"

// tokenIDLength is the hex prefix of the token hash persisted with rows.
const tokenIDLength = 12

// GenerateToken mints a fresh client token: prefix, a uuid, and 16 bytes
// of independent randomness.
func GenerateToken() string {
	var extra [16]byte
	_, _ = rand.Read(extra[:])
	return tokenPrefix + strings.ReplaceAll(uuid.NewString(), "-", "") + hex.EncodeToString(extra[:])
}

// HashToken returns the sha256 hex digest stored in allowlists.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// TokenID is the short identifier persisted alongside signed rows.
func TokenID(token string) string {
	return HashToken(token)[:tokenIDLength]
}

func payloadForSigning(payload map[string]any) map[string]any {
	body := make(map[string]any, len(payload))
	for key, value := range payload {
		switch key {
		case TokenField, SignatureField, TokenIDField:
			continue
		}
		body[key] = value
	}
	return body
}

// SignPayload computes the HMAC-SHA256 hex signature over the canonical
// serialization of the payload minus the auth envelope fields.
func SignPayload(token string, payload map[string]any) (string, error) {
	body, err := canonical.Marshal(payloadForSigning(payload))
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(token))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifySignature recomputes the payload signature and compares it in
// constant time.
func VerifySignature(token string, payload map[string]any, signature string) bool {
	if token == "" || signature == "" {
		return false
	}
	expected, err := SignPayload(token, payload)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(signature))
}

// AttachAuthFields returns a copy of payload with the auth envelope
// attached. An empty token returns an unsigned copy.
func AttachAuthFields(payload map[string]any, token string) (map[string]any, error) {
	signed := make(map[string]any, len(payload)+3)
	for k, v := range payload {
		signed[k] = v
	}
	if token == "" {
		return signed, nil
	}
	signature, err := SignPayload(token, signed)
	if err != nil {
		return nil, err
	}
	signed[TokenField] = token
	signed[SignatureField] = signature
	signed[TokenIDField] = TokenID(token)
	return signed, nil
}

// LoadToken resolves the client token: the token env var wins, then the
// path env var, then the configured token path. Files may carry comments
// and blank lines; the first real line is the token.
func LoadToken(tokenEnv, tokenPath string) string {
	env := strings.TrimSpace(tokenEnv)
	if env == "" {
		env = TokenEnvDefault
	}
	if token := strings.TrimSpace(os.Getenv(env)); token != "" {
		return token
	}
	path := strings.TrimSpace(os.Getenv(TokenPathEnvDefault))
	if path == "" {
		path = strings.TrimSpace(tokenPath)
	}
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		return trimmed
	}
	return ""
}

// SplitHashes parses a comma-separated allowlist value.
func SplitHashes(raw string) []string {
	var hashes []string
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			hashes = append(hashes, trimmed)
		}
	}
	return hashes
}
