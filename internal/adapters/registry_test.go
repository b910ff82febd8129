package adapters

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/agent-bridge/internal/records"
)

func TestRegistry_BuiltIns(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		code string
		want string
	}{
		{"openai", "openai"},
		{"OpenAI", "openai"},
		{"ollama", "openai"},
		{"groq", "openai"},
		{"deepseek", "openai"},
		{"together", "openai"},
		{"mistral", "openai"},
		{"openrouter", "openai"},
		{"anthropic", "anthropic"},
		{"gemini", "gemini"},
		{"google", "gemini"},
		{"bedrock", "bedrock"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			a, err := r.New(records.Provider{Code: tt.code}, records.Model{}, Deps{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, a.Name())
		})
	}
}

func TestRegistry_UnsupportedProvider(t *testing.T) {
	_, err := NewRegistry().New(records.Provider{Code: "unknown"}, records.Model{}, Deps{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedProvider)
	assert.Equal(t, KindConfiguration, KindOf(err))
	assert.Contains(t, err.Error(), `unsupported provider: "unknown"`)
}

type stubAdapter struct{ name string }

func (s stubAdapter) Name() string { return s.name }
func (s stubAdapter) SendMessage(context.Context, []Message, Options) (*Response, error) {
	return &Response{Content: s.name}, nil
}
func (s stubAdapter) StreamMessage(context.Context, []Message, Options) <-chan StreamEvent {
	return ErrorStream(nil)
}
func (s stubAdapter) ValidateConfiguration(context.Context) bool { return true }

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	r.Register("  Custom ", func(records.Provider, records.Model, Deps) Adapter { return stubAdapter{name: "custom"} })

	a, err := r.New(records.Provider{Code: "custom"}, records.Model{}, Deps{})
	require.NoError(t, err)
	assert.Equal(t, "custom", a.Name())
	assert.Contains(t, r.Codes(), "custom")
}
