package telemetry

import (
	"fmt"
	"strings"
)

// SinkKind names one persistence target. Each kind owns a table with the
// shared column core plus its own discriminator columns.
type SinkKind string

const (
	SinkEvents       SinkKind = "events"
	SinkAnomalies    SinkKind = "anomalies"
	SinkMissedSignal SinkKind = "missed_signal_events"
	SinkTrustOverlay SinkKind = "trust_overlay"
)

// ForbiddenColumns are raw-content column names that must never appear
// in a telemetry table. Schema validation fails hard on any of them.
var ForbiddenColumns = map[string]struct{}{
	"prompt":        {},
	"response":      {},
	"prompt_text":   {},
	"response_text": {},
	"user_id":       {},
	"ip":            {},
	"device_id":     {},
	"messages":      {},
	"payload_b64":   {},
}

type columnSpec struct {
	Name string
	Type string // ?-substituted per dialect: %JSON%, %TS%
}

// commonColumns is the shared core carried by every row-level sink table.
var commonColumns = []columnSpec{
	{"session_id", "TEXT NOT NULL"},
	{"turn_index", "INTEGER NOT NULL DEFAULT 0"},
	{"timestamp", "%TS% NOT NULL"},
	{"signal_bundle", "%JSON%"},
	{"gating_decision", "TEXT"},
	{"decision_risk_score", "DOUBLE PRECISION"},
	{"trigger_signal", "TEXT"},
	{"trust_logic_version", "TEXT"},
	{"code_fingerprint", "TEXT"},
	{"prompt_type", "TEXT"},
	{"response_hash", "TEXT NOT NULL"},
	{"replay_id", "TEXT"},
	{"auth_token_id", "TEXT NOT NULL CHECK (length(auth_token_id) >= 12)"},
	{"auth_signature", "TEXT NOT NULL CHECK (length(auth_signature) >= 64)"},
}

// sinkColumns holds each sink's discriminator columns, appended after
// the shared core.
var sinkColumns = map[SinkKind][]columnSpec{
	SinkEvents: {
		{"event_type", "TEXT NOT NULL"},
		{"event_severity", "DOUBLE PRECISION"},
	},
	SinkAnomalies: {
		{"anomaly_type", "TEXT NOT NULL"},
		{"severity", "DOUBLE PRECISION NOT NULL"},
		{"details_json", "%JSON%"},
	},
	SinkMissedSignal: {
		{"miss_reason", "TEXT NOT NULL"},
		{"expected_decision", "TEXT NOT NULL"},
		{"actual_decision", "TEXT NOT NULL"},
	},
	SinkTrustOverlay: {
		{"trust_score", "DOUBLE PRECISION NOT NULL"},
		{"trust_label", "TEXT NOT NULL"},
		{"overlay_json", "%JSON%"},
	},
}

// sinkDiscriminator is the column completing each sink's natural key.
var sinkDiscriminator = map[SinkKind]string{
	SinkEvents:       "event_type",
	SinkAnomalies:    "anomaly_type",
	SinkMissedSignal: "miss_reason",
	SinkTrustOverlay: "trust_label",
}

// sessionColumns describe the per-session summary table.
var sessionColumns = []columnSpec{
	{"session_id", "TEXT NOT NULL UNIQUE"},
	{"created_utc", "%TS% NOT NULL"},
	{"closed_utc", "%TS%"},
	{"lionlock_version", "TEXT"},
	{"model", "TEXT"},
	{"base_url", "TEXT"},
	{"config_hash", "TEXT"},
	{"content_policy", "TEXT"},
	{"session_status", "TEXT NOT NULL DEFAULT 'open'"},
	{"has_anomalies", "INTEGER NOT NULL DEFAULT 0"},
	{"anomaly_count", "INTEGER NOT NULL DEFAULT 0"},
	{"anomaly_severity_score", "DOUBLE PRECISION NOT NULL DEFAULT 0"},
	{"anomaly_severity_tag", "TEXT"},
}

// diagnosticsColumns describe the per-session anomaly rollup table.
var diagnosticsColumns = []columnSpec{
	{"session_id", "TEXT NOT NULL UNIQUE"},
	{"anomaly_count", "INTEGER NOT NULL DEFAULT 0"},
	{"severity_score", "DOUBLE PRECISION NOT NULL DEFAULT 0"},
	{"severity_tag", "TEXT"},
	{"first_seen_utc", "%TS%"},
	{"last_seen_utc", "%TS%"},
}

// authTokenColumns describe the writer allowlist table. token_hash is
// the primary identity; raw tokens are never stored.
var authTokenColumns = []columnSpec{
	{"token_hash", "TEXT NOT NULL UNIQUE"},
	{"token_id", "TEXT NOT NULL"},
	{"created_utc", "%TS% NOT NULL"},
	{"revoked_utc", "%TS%"},
	{"label", "TEXT"},
	{"scope", "TEXT"},
	{"metadata_json", "%JSON%"},
}

func (s *Store) columnType(raw string) string {
	switch s.dialect {
	case DialectPostgres:
		raw = strings.ReplaceAll(raw, "%JSON%", "JSONB")
		raw = strings.ReplaceAll(raw, "%TS%", "TIMESTAMPTZ")
	default:
		raw = strings.ReplaceAll(raw, "%JSON%", "TEXT")
		raw = strings.ReplaceAll(raw, "%TS%", "TEXT")
	}
	return raw
}

func (s *Store) pkColumn() string {
	if s.dialect == DialectPostgres {
		return "id BIGSERIAL PRIMARY KEY"
	}
	return "id INTEGER PRIMARY KEY AUTOINCREMENT"
}

func (s *Store) createTableSQL(table string, columns []columnSpec) string {
	parts := []string{s.pkColumn()}
	for _, c := range columns {
		parts = append(parts, fmt.Sprintf("%s %s", c.Name, s.columnType(c.Type)))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", table, strings.Join(parts, ",\n  "))
}

// SinkTableColumns returns the full column spec for a sink kind.
func SinkTableColumns(kind SinkKind) ([]columnSpec, error) {
	extra, ok := sinkColumns[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSink, kind)
	}
	columns := make([]columnSpec, 0, len(commonColumns)+len(extra))
	columns = append(columns, commonColumns...)
	columns = append(columns, extra...)
	return columns, nil
}

// EnsureSink creates the sink table if absent, adds any missing columns
// to an existing table, and creates the idempotency index.
func (s *Store) EnsureSink(kind SinkKind, table string) error {
	columns, err := SinkTableColumns(kind)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(s.createTableSQL(table, columns)); err != nil {
		return fmt.Errorf("telemetry: create %s: %w", table, err)
	}
	if err := s.addMissingColumns(table, columns); err != nil {
		return err
	}
	discriminator := sinkDiscriminator[kind]
	index := fmt.Sprintf(
		"CREATE UNIQUE INDEX IF NOT EXISTS uq_%s_row ON %s (session_id, turn_index, response_hash, %s)",
		table, table, discriminator)
	if _, err := s.db.Exec(index); err != nil {
		return fmt.Errorf("telemetry: index %s: %w", table, err)
	}
	return nil
}

// EnsureSessions creates the sessions summary table.
func (s *Store) EnsureSessions(table string) error {
	if _, err := s.db.Exec(s.createTableSQL(table, sessionColumns)); err != nil {
		return fmt.Errorf("telemetry: create %s: %w", table, err)
	}
	return s.addMissingColumns(table, sessionColumns)
}

// EnsureDiagnostics creates the per-session anomaly rollup table.
func (s *Store) EnsureDiagnostics(table string) error {
	if _, err := s.db.Exec(s.createTableSQL(table, diagnosticsColumns)); err != nil {
		return fmt.Errorf("telemetry: create %s: %w", table, err)
	}
	return s.addMissingColumns(table, diagnosticsColumns)
}

// EnsureAuthTokens creates the writer allowlist table.
func (s *Store) EnsureAuthTokens(table string) error {
	if _, err := s.db.Exec(s.createTableSQL(table, authTokenColumns)); err != nil {
		return fmt.Errorf("telemetry: create %s: %w", table, err)
	}
	return nil
}

func (s *Store) addMissingColumns(table string, columns []columnSpec) error {
	existing, err := s.TableColumns(table)
	if err != nil {
		return err
	}
	present := make(map[string]struct{}, len(existing))
	for _, name := range existing {
		present[name] = struct{}{}
	}
	for _, c := range columns {
		if _, ok := present[c.Name]; ok {
			continue
		}
		// ALTER TABLE ADD COLUMN cannot carry UNIQUE or NOT NULL
		// without a default on either backend.
		columnType := s.columnType(c.Type)
		columnType = strings.ReplaceAll(columnType, " NOT NULL", "")
		columnType = strings.ReplaceAll(columnType, " UNIQUE", "")
		if idx := strings.Index(columnType, " CHECK"); idx >= 0 {
			columnType = columnType[:idx]
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, c.Name, columnType)
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("telemetry: add column %s.%s: %w", table, c.Name, err)
		}
	}
	return nil
}

// ValidateSink checks that the sink table exists, carries every required
// column, and carries no forbidden raw-content column.
func (s *Store) ValidateSink(kind SinkKind, table string) error {
	columns, err := SinkTableColumns(kind)
	if err != nil {
		return err
	}
	ok, err := s.TableExists(table)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingTable, table)
	}
	existing, err := s.TableColumns(table)
	if err != nil {
		return err
	}
	present := make(map[string]struct{}, len(existing))
	for _, name := range existing {
		present[strings.ToLower(name)] = struct{}{}
		if _, bad := ForbiddenColumns[strings.ToLower(name)]; bad {
			return fmt.Errorf("%w: %s.%s", ErrForbiddenColumn, table, name)
		}
	}
	for _, c := range columns {
		if _, ok := present[c.Name]; !ok {
			return fmt.Errorf("%w: %s.%s", ErrMissingColumn, table, c.Name)
		}
	}
	return nil
}
