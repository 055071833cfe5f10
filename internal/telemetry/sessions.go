package telemetry

import (
	"database/sql"
	"fmt"
	"time"
)

// SessionInfo describes one overlay session for the summary table.
type SessionInfo struct {
	SessionID       string
	LionLockVersion string
	Model           string
	BaseURL         string
	ConfigHash      string
	ContentPolicy   string
}

func utcStamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.999999Z07:00")
}

// BeginSession records a session open. Reopening an existing session id
// refreshes its metadata instead of inserting a second row.
func (s *Store) BeginSession(table string, info SessionInfo) error {
	if info.SessionID == "" {
		return fmt.Errorf("telemetry: begin session: empty session id")
	}
	now := utcStamp()
	_, err := s.Exec(
		"INSERT INTO "+table+" (session_id, created_utc, lionlock_version, model, base_url, config_hash, content_policy, session_status) VALUES (?, ?, ?, ?, ?, ?, ?, 'open') ON CONFLICT DO NOTHING",
		info.SessionID, now, info.LionLockVersion, info.Model, info.BaseURL, info.ConfigHash, info.ContentPolicy)
	if err != nil && !IsUniqueViolation(err) {
		return err
	}
	_, err = s.Exec(
		"UPDATE "+table+" SET lionlock_version = ?, model = ?, base_url = ?, config_hash = ?, content_policy = ?, session_status = 'open', closed_utc = NULL WHERE session_id = ?",
		info.LionLockVersion, info.Model, info.BaseURL, info.ConfigHash, info.ContentPolicy, info.SessionID)
	return err
}

// CloseSession marks a session closed.
func (s *Store) CloseSession(table, sessionID string) error {
	_, err := s.Exec(
		"UPDATE "+table+" SET session_status = 'closed', closed_utc = ? WHERE session_id = ?",
		utcStamp(), sessionID)
	return err
}

// UpdateSessionAnomalies folds the anomaly rollup into the session
// summary row.
func (s *Store) UpdateSessionAnomalies(table, sessionID string, count int, severityScore float64, severityTag string) error {
	hasAnomalies := 0
	if count > 0 {
		hasAnomalies = 1
	}
	_, err := s.Exec(
		"UPDATE "+table+" SET has_anomalies = ?, anomaly_count = ?, anomaly_severity_score = ?, anomaly_severity_tag = ? WHERE session_id = ?",
		hasAnomalies, count, severityScore, severityTag, sessionID)
	return err
}

// UpsertDiagnostics records or refreshes the per-session anomaly
// rollup. first_seen_utc keeps its original value across updates.
func (s *Store) UpsertDiagnostics(table, sessionID string, count int, severityScore float64, severityTag string) error {
	now := utcStamp()
	var existing string
	err := s.QueryRow("SELECT first_seen_utc FROM "+table+" WHERE session_id = ?", sessionID).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		_, err = s.Exec(
			"INSERT INTO "+table+" (session_id, anomaly_count, severity_score, severity_tag, first_seen_utc, last_seen_utc) VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING",
			sessionID, count, severityScore, severityTag, now, now)
		if err != nil && !IsUniqueViolation(err) {
			return err
		}
		return nil
	case err != nil:
		return err
	}
	_, err = s.Exec(
		"UPDATE "+table+" SET anomaly_count = ?, severity_score = ?, severity_tag = ?, last_seen_utc = ? WHERE session_id = ?",
		count, severityScore, severityTag, now, sessionID)
	return err
}

// SessionAnomalyCount reads the stored anomaly count for a session.
func (s *Store) SessionAnomalyCount(table, sessionID string) (int, error) {
	var count int
	err := s.QueryRow("SELECT anomaly_count FROM "+table+" WHERE session_id = ?", sessionID).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return count, err
}
