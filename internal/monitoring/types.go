// Package monitoring - types.go defines telemetry event and config types.
package monitoring

import "time"

// =============================================================================
// EVENT TYPES
// =============================================================================

// CallKind distinguishes the Service operations recorded in telemetry.
type CallKind string

const (
	CallSend     CallKind = "send"
	CallStream   CallKind = "stream"
	CallValidate CallKind = "validate"
)

// CallEvent records one Service call.
type CallEvent struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      CallKind  `json:"kind"`

	AgentID  string `json:"agent_id"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	Success   bool   `json:"success"`
	ErrorCode string `json:"error_code,omitempty"`
	Error     string `json:"error,omitempty"`

	LatencyMs    int64 `json:"latency_ms"`
	Chunks       int   `json:"chunks,omitempty"`
	InputTokens  int   `json:"input_tokens,omitempty"`
	OutputTokens int   `json:"output_tokens,omitempty"`
	UsageKnown   bool  `json:"usage_known"`
}

// =============================================================================
// CONFIG TYPES
// =============================================================================

// TelemetryConfig contains telemetry configuration.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	LogPath     string `yaml:"log_path"`
	LogToStdout bool   `yaml:"log_to_stdout"`
}

// LoggerConfig contains logging configuration.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
	Output string `yaml:"output"` // stdout, stderr, or file path
}

// AlertConfig contains alert thresholds.
type AlertConfig struct {
	HighLatencyThreshold time.Duration `yaml:"high_latency_threshold"`
}
