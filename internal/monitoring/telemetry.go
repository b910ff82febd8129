// Package monitoring - telemetry.go records call events to a JSONL file.
//
// DESIGN: Tracker appends one CallEvent per Service call (one JSON object per
// line), immediately after the call finishes, for offline analysis of
// latency, failures and token usage per agent and provider.
package monitoring

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// Tracker handles telemetry event recording to file and log.
type Tracker struct {
	config   TelemetryConfig
	count    int
	failures int
	mu       sync.Mutex
}

// NewTracker creates a tracker. A disabled config yields a no-op tracker.
func NewTracker(cfg TelemetryConfig) (*Tracker, error) {
	t := &Tracker{config: cfg}
	if !cfg.Enabled || cfg.LogPath == "" {
		return t, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0750); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(cfg.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, err
	}
	f.Close()
	return t, nil
}

// appendJSONL appends a single JSON object as a line to the file.
func appendJSONL(path string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(data)
	return err
}

// RecordCall records a call event. Safe on a nil Tracker.
func (t *Tracker) RecordCall(event *CallEvent) {
	if t == nil || !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.config.LogToStdout {
		reqID := event.RequestID
		if len(reqID) > 8 {
			reqID = reqID[:8]
		}
		log.Info().
			Str("request_id", reqID).
			Str("kind", string(event.Kind)).
			Str("agent_id", event.AgentID).
			Int64("latency_ms", event.LatencyMs).
			Bool("success", event.Success).
			Msg("telemetry")
	}

	if t.config.LogPath != "" {
		if err := appendJSONL(t.config.LogPath, event); err != nil {
			log.Error().Err(err).Str("path", t.config.LogPath).Msg("telemetry: failed to write call event")
			return
		}
	}
	t.count++
	if !event.Success {
		t.failures++
	}
}

// Counts returns the number of recorded events and failed calls among them.
func (t *Tracker) Counts() (recorded, failed int) {
	if t == nil {
		return 0, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count, t.failures
}
