// Package config loads the lionlock configuration file and resolves it
// against defaults. A missing file is non-fatal; every tunable has a
// working default.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lionlock/lionlock/internal/anomaly"
	"github.com/lionlock/lionlock/internal/gate"
	"github.com/lionlock/lionlock/internal/tokenauth"
	"github.com/lionlock/lionlock/internal/trust"
)

type Config struct {
	Gating       GatingConfig    `yaml:"gating"`
	Signals      SignalsConfig   `yaml:"signals"`
	TrustOverlay TrustConfig     `yaml:"trust_overlay"`
	Telemetry    TelemetryConfig `yaml:"telemetry"`
	Logging      LoggingConfig   `yaml:"logging"`
	LoggingSQL   SQLSinkConfig   `yaml:"logging_sql"`
	Anomaly      AnomalyConfig   `yaml:"anomaly"`
}

type GatingConfig struct {
	Enabled            bool             `yaml:"enabled"`
	Thresholds         ThresholdsConfig `yaml:"thresholds"`
	HallucinationMode  string           `yaml:"hallucination_mode"`
	HardGateShowReason bool             `yaml:"hard_gate_show_reason"`
	ShowDisableWarning bool             `yaml:"show_disable_warning"`
	HardGateReasons    []string         `yaml:"hard_gate_reasons"`
}

// ThresholdsConfig is the raw override shape. Band cutoffs apply
// all-or-nothing: a partial override is ignored in favor of the defaults.
type ThresholdsConfig struct {
	Yellow *float64 `yaml:"yellow"`
	Orange *float64 `yaml:"orange"`
	Red    *float64 `yaml:"red"`
}

// Resolve returns the effective cutoffs.
func (t ThresholdsConfig) Resolve() gate.Thresholds {
	if t.Yellow == nil || t.Orange == nil || t.Red == nil {
		return gate.DefaultThresholds()
	}
	return gate.Thresholds{Yellow: *t.Yellow, Orange: *t.Orange, Red: *t.Red}
}

type SignalsConfig struct {
	Enabled []string           `yaml:"enabled"`
	Weights map[string]float64 `yaml:"weights"`
}

type TrustConfig struct {
	Profile                  string        `yaml:"profile"`
	TrustLogicVersion        string        `yaml:"trust_logic_version"`
	RuntimeMode              string        `yaml:"runtime_mode"`
	ScoreWindowN             int           `yaml:"score_window_n"`
	VolatilityWindowN        int           `yaml:"volatility_window_n"`
	DriftLookbackDays        int           `yaml:"drift_lookback_days"`
	DriftMinPoints           int           `yaml:"drift_min_points"`
	VolatilitySpikeThreshold float64       `yaml:"volatility_spike_threshold"`
	Salt                     string        `yaml:"salt"`
	LogDir                   string        `yaml:"log_dir"`
	SQL                      SQLSinkConfig `yaml:"sql"`
}

// Params resolves the overlay tunables. The TRUST_OVERLAY_SALT env var
// overrides the configured salt.
func (t TrustConfig) Params() trust.Params {
	p := trust.Params{
		Profile:                  trust.ResolveProfile(t.Profile),
		TrustLogicVersion:        strings.TrimSpace(t.TrustLogicVersion),
		RuntimeMode:              strings.TrimSpace(t.RuntimeMode),
		ScoreWindowN:             t.ScoreWindowN,
		VolatilityWindowN:        t.VolatilityWindowN,
		DriftLookbackDays:        t.DriftLookbackDays,
		DriftMinPoints:           t.DriftMinPoints,
		VolatilitySpikeThreshold: t.VolatilitySpikeThreshold,
		Salt:                     strings.TrimSpace(t.Salt),
	}
	if env := strings.TrimSpace(os.Getenv("TRUST_OVERLAY_SALT")); env != "" {
		p.Salt = env
	}
	if p.TrustLogicVersion == "" {
		p.TrustLogicVersion = trust.DefaultTrustLogicVersion
	}
	if p.RuntimeMode == "" {
		p.RuntimeMode = "oss"
	}
	return p
}

type TelemetryConfig struct {
	SessionsTable   string `yaml:"sessions_table"`
	VersionMode     string `yaml:"version_mode"`
	LionlockVersion string `yaml:"lionlock_version"`
}

type LoggingConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Backend         string   `yaml:"backend"`
	Path            string   `yaml:"path"`
	Verbosity       string   `yaml:"verbosity"`
	RetentionEvents int      `yaml:"retention_events"`
	ContentPolicy   string   `yaml:"content_policy"`
	NotesAllowlist  []string `yaml:"notes_allowlist"`
	NotesMaxLength  int      `yaml:"notes_max_length"`
}

// SQLSinkConfig configures one SQL telemetry sink.
type SQLSinkConfig struct {
	Enabled         bool             `yaml:"enabled"`
	URI             string           `yaml:"uri"`
	Table           string           `yaml:"table"`
	BatchSize       int              `yaml:"batch_size"`
	FlushIntervalMS int              `yaml:"flush_interval_ms"`
	ConnectTimeoutS int              `yaml:"connect_timeout_s"`
	TokenAuth       tokenauth.Config `yaml:"token_auth"`
}

type AnomalyConfig struct {
	Enabled                      bool                  `yaml:"enabled"`
	DBURI                        string                `yaml:"db_uri"`
	Table                        string                `yaml:"table"`
	DiagnosticsTable             string                `yaml:"diagnostics_table"`
	MissedTable                  string                `yaml:"missed_table"`
	UserEscalationThreshold      int                   `yaml:"user_escalation_threshold"`
	RepeatTypeThreshold          int                   `yaml:"repeat_type_threshold"`
	FatigueSpikeDelta            float64               `yaml:"fatigue_spike_delta"`
	HallucinationJumpDelta       float64               `yaml:"hallucination_jump_delta"`
	MinorSignalThreshold         float64               `yaml:"minor_signal_threshold"`
	CongestionSignatureThreshold float64               `yaml:"congestion_signature_threshold"`
	CongestionWindowN            int                   `yaml:"congestion_window_n"`
	DegradationWindowN           int                   `yaml:"degradation_window_n"`
	DegradationMinPoints         int                   `yaml:"degradation_min_points"`
	DegradationDelta             float64               `yaml:"degradation_delta"`
	MissedWarnThreshold          float64               `yaml:"missed_warn_threshold"`
	MissedBlockThreshold         float64               `yaml:"missed_block_threshold"`
	Weights                      map[string]float64    `yaml:"weights"`
	SeverityBands                anomaly.SeverityBands `yaml:"severity_bands"`
}

// Params resolves the detector tunables.
func (a AnomalyConfig) Params() anomaly.Params {
	return anomaly.Params{
		Enabled:                a.Enabled,
		Weights:                a.Weights,
		FatigueSpikeDelta:      a.FatigueSpikeDelta,
		HallucinationJumpDelta: a.HallucinationJumpDelta,
		MinorSignalThreshold:   a.MinorSignalThreshold,
		CongestionThreshold:    a.CongestionSignatureThreshold,
		CongestionWindow:       a.CongestionWindowN,
		DegradationWindow:      a.DegradationWindowN,
		DegradationMinPoints:   a.DegradationMinPoints,
		DegradationDelta:       a.DegradationDelta,
		MissedWarnThreshold:    a.MissedWarnThreshold,
		MissedBlockThreshold:   a.MissedBlockThreshold,
		SeverityBands:          a.SeverityBands,
	}
}

// Policy resolves the gate policy from the gating section.
func (c Config) Policy() gate.Policy {
	return gate.Policy{
		Enabled:           c.Gating.Enabled,
		Thresholds:        c.Gating.Thresholds.Resolve(),
		HallucinationMode: c.Gating.HallucinationMode,
		HardGateReasons:   c.Gating.HardGateReasons,
	}
}

// Default returns the full default configuration tree.
func Default() Config {
	return Config{
		Gating: GatingConfig{
			Enabled:            true,
			HallucinationMode:  gate.HallucinationWarnOnly,
			HardGateShowReason: true,
			ShowDisableWarning: true,
		},
		Signals: SignalsConfig{
			Enabled: []string{
				"repetition_loopiness",
				"novelty_entropy_proxy",
				"coherence_structure",
				"context_adherence",
				"hallucination_risk",
			},
			Weights: map[string]float64{
				"repetition_loopiness":  0.30,
				"novelty_entropy_proxy": 0.25,
				"coherence_structure":   0.25,
				"context_adherence":     0.20,
				"hallucination_risk":    0.00,
			},
		},
		TrustOverlay: TrustConfig{
			Profile:                  trust.DefaultProfile,
			TrustLogicVersion:        trust.DefaultTrustLogicVersion,
			RuntimeMode:              "oss",
			ScoreWindowN:             50,
			VolatilityWindowN:        20,
			DriftLookbackDays:        30,
			DriftMinPoints:           20,
			VolatilitySpikeThreshold: 0.20,
			LogDir:                   "logs/trust_overlay",
			SQL: SQLSinkConfig{
				Table:           "trust_overlay_records",
				BatchSize:       50,
				FlushIntervalMS: 1000,
				ConnectTimeoutS: 5,
			},
		},
		Telemetry: TelemetryConfig{
			SessionsTable: "lionlock_sessions",
			VersionMode:   "package",
		},
		Logging: LoggingConfig{
			Enabled:         true,
			Backend:         "jsonl",
			Path:            "logs/lionlock_events.jsonl",
			Verbosity:       "normal",
			RetentionEvents: 2000,
			ContentPolicy:   "signals_only",
			NotesMaxLength:  120,
		},
		LoggingSQL: SQLSinkConfig{
			Table:           "lionlock_signals",
			BatchSize:       50,
			FlushIntervalMS: 1000,
			ConnectTimeoutS: 5,
			TokenAuth: tokenauth.Config{
				Mode:             tokenauth.ModeRequired,
				TokenEnv:         tokenauth.TokenEnvDefault,
				RefreshIntervalS: 60,
			},
		},
		Anomaly: AnomalyConfig{
			Enabled:                      true,
			DBURI:                        "sqlite:///logs/lionlock_anomalies.db",
			Table:                        "lionlock_anomalies",
			DiagnosticsTable:             "lionlock_session_diagnostics",
			MissedTable:                  "lionlock_missed_signals",
			UserEscalationThreshold:      3,
			RepeatTypeThreshold:          3,
			FatigueSpikeDelta:            0.25,
			HallucinationJumpDelta:       0.30,
			MinorSignalThreshold:         0.75,
			CongestionSignatureThreshold: 0.60,
			CongestionWindowN:            20,
			DegradationWindowN:           20,
			DegradationMinPoints:         12,
			DegradationDelta:             0.08,
			MissedWarnThreshold:          0.75,
			MissedBlockThreshold:         0.90,
			Weights:                      defaultAnomalyWeights(),
			SeverityBands: anomaly.SeverityBands{
				NormalMax:   0.30,
				UnstableMax: 0.60,
				CriticalMin: 0.61,
			},
		},
	}
}

func defaultAnomalyWeights() map[string]float64 {
	return map[string]float64{
		"minor_signal_drift":         0.20,
		"fatigue_spike":              0.40,
		"hallucination_jump":         0.50,
		"scoring_nan":                0.60,
		"gate_mismatch":              0.70,
		"prompt_injection_suspected": 0.80,
		"gate_override_failure":      1.00,
		"model_degradation":          0.55,
		"model_congestion":           0.45,
		"missed_signal_event":        0.90,
	}
}

// Load reads the config file over the defaults. A missing file returns
// the defaults unchanged; a malformed file is an error. Env references in
// the file are expanded before parsing, and LIONLOCK_TELEMETRY_DB_URI
// force-enables the SQL signal sink.
func Load(path string) (Config, error) {
	cfg := Default()
	// #nosec G304 -- path is operator-provided config path.
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, cfg.Validate()
		}
		return Config{}, err
	}

	expanded := os.ExpandEnv(string(raw))
	expanded = strings.ReplaceAll(expanded, "\r\n", "\n")

	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, err
	}
	cfg.applyEnvOverrides()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnvOverrides() {
	uri := strings.TrimSpace(os.Getenv("LIONLOCK_TELEMETRY_DB_URI"))
	if uri == "" {
		if built, err := BuildPostgresDSN("writer"); err == nil {
			uri = built
		}
	}
	if uri != "" {
		c.LoggingSQL.URI = uri
		c.LoggingSQL.Enabled = true
	}
	// Public SQL telemetry never carries content, whatever the local
	// logging policy says.
	if c.LoggingSQL.Enabled && c.Logging.ContentPolicy != "signals_only" {
		c.Logging.ContentPolicy = "signals_only"
	}
}

func (c Config) Validate() error {
	if c.Gating.HallucinationMode != gate.HallucinationWarnOnly && c.Gating.HallucinationMode != gate.HallucinationEnforce {
		return fmt.Errorf("gating.hallucination_mode must be warn_only or enforce, got %q", c.Gating.HallucinationMode)
	}
	t := c.Gating.Thresholds.Resolve()
	if !(t.Yellow < t.Orange && t.Orange < t.Red) {
		return fmt.Errorf("gating.thresholds must be strictly increasing")
	}
	for name, sink := range map[string]SQLSinkConfig{
		"logging_sql":       c.LoggingSQL,
		"trust_overlay.sql": c.TrustOverlay.SQL,
	} {
		if !sink.Enabled {
			continue
		}
		if sink.URI == "" {
			return fmt.Errorf("%s.uri is required when %s.enabled=true", name, name)
		}
		if sink.BatchSize <= 0 {
			return fmt.Errorf("%s.batch_size must be positive", name)
		}
		if sink.FlushIntervalMS <= 0 {
			return fmt.Errorf("%s.flush_interval_ms must be positive", name)
		}
	}
	if c.Anomaly.Enabled && c.Anomaly.Table == "" {
		return fmt.Errorf("anomaly.table is required when anomaly.enabled=true")
	}
	return nil
}
