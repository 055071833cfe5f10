package trust

import (
	"os"
	"runtime"
	"strings"

	"github.com/lionlock/lionlock/internal/canonical"
)

// ModelConfig captures the generation parameters in effect for a turn.
// Only explicitly set fields land in the snapshot.
type ModelConfig struct {
	ModelID            string
	Temperature        *float64
	TopP               *float64
	MaxTokens          *int
	FrequencyPenalty   *float64
	PresencePenalty    *float64
	Seed               *int
	Stop               []string
	ResponseFormat     string
	ToolCallingEnabled *bool
}

// Snapshot renders the set fields as a persistable map.
func (m ModelConfig) Snapshot() map[string]any {
	snapshot := map[string]any{}
	if m.ModelID != "" {
		snapshot["model_id"] = m.ModelID
	}
	if m.Temperature != nil {
		snapshot["temperature"] = *m.Temperature
	}
	if m.TopP != nil {
		snapshot["top_p"] = *m.TopP
	}
	if m.MaxTokens != nil {
		snapshot["max_tokens"] = *m.MaxTokens
	}
	if m.FrequencyPenalty != nil {
		snapshot["frequency_penalty"] = *m.FrequencyPenalty
	}
	if m.PresencePenalty != nil {
		snapshot["presence_penalty"] = *m.PresencePenalty
	}
	if m.Seed != nil {
		snapshot["seed"] = *m.Seed
	}
	if len(m.Stop) > 0 {
		stop := make([]any, len(m.Stop))
		for i, s := range m.Stop {
			stop[i] = s
		}
		snapshot["stop"] = stop
	}
	if m.ResponseFormat != "" {
		snapshot["response_format"] = m.ResponseFormat
	}
	if m.ToolCallingEnabled != nil {
		snapshot["tool_calling_enabled"] = *m.ToolCallingEnabled
	}
	return snapshot
}

// DeploymentSnapshot describes the runtime that produced a record.
// Host and container identifiers are hashed, never stored raw.
func DeploymentSnapshot(trustLogicVersion, fingerprint, runtimeMode, lionlockVersion string) map[string]any {
	snapshot := map[string]any{
		"trust_logic_version": trustLogicVersion,
		"code_fingerprint":    fingerprint,
		"runtime_mode":        runtimeMode,
		"lionlock_version":    lionlockVersion,
		"go_version":          runtime.Version(),
		"platform":            runtime.GOOS + "/" + runtime.GOARCH,
	}
	hostname, err := os.Hostname()
	if err == nil && hostname != "" {
		snapshot["host_id_hash"] = canonical.HashText(hostname)
	}
	containerID := strings.TrimSpace(os.Getenv("CONTAINER_ID"))
	if containerID == "" {
		containerID = strings.TrimSpace(os.Getenv("HOSTNAME"))
	}
	if containerID != "" && containerID != hostname {
		snapshot["container_id_hash"] = canonical.HashText(containerID)
	}
	return snapshot
}
