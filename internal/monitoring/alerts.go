// Package monitoring - alerts.go flags anomalies and errors.
//
// DESIGN: AlertManager logs notable events at appropriate levels:
//   - FlagHighLatency:   Warn when a call exceeds the threshold
//   - FlagProviderError: Warn on upstream 4xx/5xx responses
//   - FlagPanic:         Error on recovered panics
package monitoring

import "time"

// DefaultHighLatencyThreshold applies when AlertConfig leaves it unset.
const DefaultHighLatencyThreshold = 30 * time.Second

// AlertManager flags anomalies and errors.
type AlertManager struct {
	logger               *Logger
	highLatencyThreshold time.Duration
}

// NewAlertManager creates a new alert manager.
func NewAlertManager(logger *Logger, cfg AlertConfig) *AlertManager {
	threshold := cfg.HighLatencyThreshold
	if threshold == 0 {
		threshold = DefaultHighLatencyThreshold
	}
	return &AlertManager{logger: logger, highLatencyThreshold: threshold}
}

// FlagHighLatency logs when call latency exceeds the threshold.
func (am *AlertManager) FlagHighLatency(requestID string, latency time.Duration, provider, model string) bool {
	if latency < am.highLatencyThreshold {
		return false
	}
	am.logger.Warn().
		Str("request_id", requestID).
		Dur("latency", latency).
		Str("provider", provider).
		Str("model", model).
		Msg("high_latency")
	return true
}

// FlagProviderError logs an upstream non-2xx response.
func (am *AlertManager) FlagProviderError(requestID, provider string, statusCode int, errorMsg string) {
	am.logger.Warn().
		Str("request_id", requestID).
		Str("provider", provider).
		Int("status", statusCode).
		Str("error", errorMsg).
		Msg("provider_error")
}

// FlagPanic logs a recovered panic.
func (am *AlertManager) FlagPanic(requestID string, panicValue any) {
	am.logger.Error().
		Str("request_id", requestID).
		Interface("panic", panicValue).
		Msg("panic_recovered")
}
