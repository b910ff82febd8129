// Package records defines the Agent, Model and Provider records consumed by the
// communication layer, and the read-only sources that list them.
//
// DESIGN: Records are plain data. This layer never writes them; persistence and
// CRUD belong to the application's record store. A Source lists every record
// of a kind (no pagination, no filtering) and callers filter in memory.
package records

import (
	"context"
	"strings"
)

// AuthType selects how a provider credential is attached to requests.
type AuthType string

const (
	AuthBearer        AuthType = "bearer"         // Authorization: Bearer <credential>
	AuthAPIKeyHeader  AuthType = "api-key-header" // provider-specific header set to <credential>
	AuthCustomHeaders AuthType = "custom-headers" // headers copied from Extra["headers"], nothing injected
)

// Agent is a configured persona: a system instruction backed by a model.
type Agent struct {
	ID           string  `yaml:"id" json:"id"`
	Name         string  `yaml:"name" json:"name"`
	Instructions string  `yaml:"instructions,omitempty" json:"instructions,omitempty"`
	ModelID      *string `yaml:"model_id,omitempty" json:"model_id,omitempty"`
}

// Model is a remote inference endpoint configuration, including the paths
// used to decode its responses.
type Model struct {
	ID            string         `yaml:"id" json:"id"`
	ProviderID    string         `yaml:"provider_id" json:"provider_id"`
	ModelID       string         `yaml:"model_id" json:"model_id"` // backend model identifier sent on the wire
	Endpoint      string         `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	DefaultParams map[string]any `yaml:"default_params,omitempty" json:"default_params,omitempty"`

	// Extraction paths (see package jsonpath). Empty means "use the backend default".
	ContentPath      string `yaml:"content_path,omitempty" json:"content_path,omitempty"`
	StreamPath       string `yaml:"stream_path,omitempty" json:"stream_path,omitempty"`
	InputTokensPath  string `yaml:"input_tokens_path,omitempty" json:"input_tokens_path,omitempty"`
	OutputTokensPath string `yaml:"output_tokens_path,omitempty" json:"output_tokens_path,omitempty"`
}

// Provider is a backend vendor account.
type Provider struct {
	ID       string         `yaml:"id" json:"id"`
	Code     string         `yaml:"code" json:"code"` // selects the adapter family, e.g. "openai", "anthropic"
	Name     string         `yaml:"name,omitempty" json:"name,omitempty"`
	BaseURL  string         `yaml:"base_url" json:"base_url"`
	AuthType AuthType       `yaml:"auth_type" json:"auth_type"`
	APIKey   string         `yaml:"api_key,omitempty" json:"api_key,omitempty"`
	Extra    map[string]any `yaml:"extra,omitempty" json:"extra,omitempty"`
}

// ExtraString returns a string value from the provider's extra configuration.
func (p Provider) ExtraString(key string) string {
	if v, ok := p.Extra[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// ExtraHeaders returns Extra["headers"] as a string map. Non-string values are skipped.
func (p Provider) ExtraHeaders() map[string]string {
	out := make(map[string]string)
	switch h := p.Extra["headers"].(type) {
	case map[string]string:
		for k, v := range h {
			out[k] = v
		}
	case map[string]any:
		for k, v := range h {
			if s, ok := v.(string); ok {
				out[k] = s
			}
		}
	}
	return out
}

// AgentContext is the fully resolved composite handed to the adapter layer.
// It is assembled per request and never persisted.
type AgentContext struct {
	Agent    Agent    `json:"agent"`
	Model    Model    `json:"model"`
	Provider Provider `json:"provider"`
}

// Source lists records from the application's record store.
type Source interface {
	ListAgents(ctx context.Context) ([]Agent, error)
	ListModels(ctx context.Context) ([]Model, error)
	ListProviders(ctx context.Context) ([]Provider, error)
}

// StringPtr is a helper for building agents with a model reference.
func StringPtr(s string) *string { return &s }
