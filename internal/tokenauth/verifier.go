package tokenauth

import (
	"database/sql"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

// Verifier modes.
const (
	ModeRequired   = "required"
	ModePermissive = "permissive"
)

const allowlistQuery = `SELECT token_hash FROM auth_tokens WHERE revoked_utc IS NULL`

// minRefreshInterval floors the DB allowlist refresh cadence.
const minRefreshInterval = 5 * time.Second

// Config resolves into a Verifier.
type Config struct {
	Enabled          bool     `yaml:"enabled"`
	Mode             string   `yaml:"mode"`
	TokenEnv         string   `yaml:"token_env"`
	TokenPath        string   `yaml:"token_path"`
	TokenHashes      []string `yaml:"token_hashes"`
	TokenHashesPath  string   `yaml:"token_hashes_path"`
	TokenDBURI       string   `yaml:"token_db_uri"`
	RefreshIntervalS int      `yaml:"refresh_interval_s"`
}

// Verifier checks payload signatures against a token-hash allowlist. The
// allowlist is static, file-fed, or refreshed from a database on an
// interval; DB refresh failures fail closed.
type Verifier struct {
	Enabled bool
	Mode    string

	config Config

	mu          sync.Mutex
	tokenHashes map[string]bool
	db          *sql.DB
	lastRefresh time.Time
	lastError   string

	now func() time.Time
}

// NewVerifier builds a verifier from configuration plus the allowlist
// environment overrides. Setting LIONLOCK_LOG_TOKEN_HASHES force-enables
// verification.
func NewVerifier(cfg Config) *Verifier {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode != ModeRequired && mode != ModePermissive {
		mode = ModeRequired
	}
	hashes := map[string]bool{}
	for _, h := range cfg.TokenHashes {
		if trimmed := strings.TrimSpace(h); trimmed != "" {
			hashes[trimmed] = true
		}
	}
	if path := strings.TrimSpace(cfg.TokenHashesPath); path != "" {
		if data, err := os.ReadFile(path); err == nil {
			for _, line := range strings.Split(string(data), "\n") {
				trimmed := strings.TrimSpace(line)
				if trimmed == "" || strings.HasPrefix(trimmed, "#") {
					continue
				}
				hashes[trimmed] = true
			}
		}
	}
	enabled := cfg.Enabled
	if env := strings.TrimSpace(os.Getenv("LIONLOCK_LOG_TOKEN_HASHES")); env != "" {
		enabled = true
		for _, h := range SplitHashes(env) {
			hashes[h] = true
		}
	}
	if uri := strings.TrimSpace(os.Getenv("LIONLOCK_LOG_TOKEN_DB_URI")); uri != "" {
		cfg.TokenDBURI = uri
	}
	if cfg.RefreshIntervalS <= 0 {
		cfg.RefreshIntervalS = 60
	}
	return &Verifier{
		Enabled:     enabled,
		Mode:        mode,
		config:      cfg,
		tokenHashes: hashes,
		now:         time.Now,
	}
}

// SetDB hands the verifier an open handle for allowlist refresh; the
// verifier does not own it and never closes it.
func (v *Verifier) SetDB(db *sql.DB) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.db = db
}

// LastError reports the most recent allowlist refresh failure, if any.
func (v *Verifier) LastError() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastError
}

func (v *Verifier) refreshLocked() bool {
	if v.config.TokenDBURI == "" && v.db == nil {
		return true
	}
	interval := time.Duration(v.config.RefreshIntervalS) * time.Second
	if interval < minRefreshInterval {
		interval = minRefreshInterval
	}
	if v.now().Sub(v.lastRefresh) < interval {
		return true
	}
	db := v.db
	if db == nil {
		opened, err := sql.Open("postgres", v.config.TokenDBURI)
		if err != nil {
			v.lastError = err.Error()
			log.Printf("token allowlist refresh failed: %v", err)
			return false
		}
		v.db = opened
		db = opened
	}
	rows, err := db.Query(allowlistQuery)
	if err != nil {
		v.lastError = err.Error()
		log.Printf("token allowlist refresh failed: %v", err)
		return false
	}
	defer rows.Close()
	fresh := map[string]bool{}
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			v.lastError = err.Error()
			return false
		}
		fresh[hash] = true
	}
	if err := rows.Err(); err != nil {
		v.lastError = err.Error()
		return false
	}
	v.tokenHashes = fresh
	v.lastRefresh = v.now()
	v.lastError = ""
	return true
}

// IsTokenAllowed reports whether a token passes the allowlist, with a
// reason code describing the outcome.
func (v *Verifier) IsTokenAllowed(token string) (bool, string) {
	if token == "" {
		return false, "missing_token"
	}
	if !v.Enabled {
		return true, "auth_disabled"
	}
	if v.Mode == ModePermissive {
		return true, "permissive"
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.config.TokenDBURI != "" || v.db != nil {
		if !v.refreshLocked() {
			return false, "allowlist_refresh_failed"
		}
	}
	if len(v.tokenHashes) == 0 {
		return false, "allowlist_empty"
	}
	if v.tokenHashes[HashToken(token)] {
		return true, "ok"
	}
	return false, "token_not_allowed"
}

// VerifyAndPrepare validates a payload's auth envelope and returns the
// row-ready copy: the raw token is stripped, leaving token id and
// signature. With auth disabled, the envelope is dropped entirely.
func (v *Verifier) VerifyAndPrepare(payload map[string]any) (bool, string, map[string]any) {
	if !v.Enabled {
		cleaned := make(map[string]any, len(payload))
		for k, val := range payload {
			switch k {
			case TokenField, SignatureField, TokenIDField:
				continue
			}
			cleaned[k] = val
		}
		return true, "auth_disabled", cleaned
	}

	token, _ := payload[TokenField].(string)
	token = strings.TrimSpace(token)
	signature, _ := payload[SignatureField].(string)
	signature = strings.TrimSpace(signature)
	if token == "" || signature == "" {
		return false, "missing_token_or_signature", payload
	}
	if len(signature) < 64 {
		return false, "signature_invalid", payload
	}
	if !VerifySignature(token, payload, signature) {
		return false, "signature_invalid", payload
	}
	allowed, reason := v.IsTokenAllowed(token)
	if !allowed {
		return false, reason, payload
	}

	cleaned := make(map[string]any, len(payload))
	for k, val := range payload {
		if k == TokenField {
			continue
		}
		cleaned[k] = val
	}
	cleaned[TokenIDField] = TokenID(token)
	cleaned[SignatureField] = signature
	return true, "ok", cleaned
}

// PrepareForSQL signs an unsigned payload with the locally loaded token
// when auth is enabled, then verifies it. This is the single entry point
// the telemetry writers use.
func (v *Verifier) PrepareForSQL(payload map[string]any) (bool, string, map[string]any) {
	signed := payload
	if v.Enabled {
		_, hasToken := payload[TokenField]
		_, hasSignature := payload[SignatureField]
		_, hasTokenID := payload[TokenIDField]
		if !hasToken && !hasSignature && !hasTokenID {
			if token := LoadToken(v.config.TokenEnv, v.config.TokenPath); token != "" {
				attached, err := AttachAuthFields(payload, token)
				if err == nil {
					signed = attached
				}
			}
		}
	}
	return v.VerifyAndPrepare(signed)
}
