// Registry maps provider codes to adapter factories.
//
// DESIGN: Thread-safe map of provider code → Factory.
// Built-in families (OpenAI, Anthropic, Gemini, Bedrock) are registered at
// construction; OpenAI-compatible vendors share the OpenAI factory.
package adapters

import (
	"sort"
	"strings"
	"sync"

	"github.com/compresr/agent-bridge/internal/records"
)

// Factory builds an adapter for one provider/model pair.
type Factory func(provider records.Provider, model records.Model, deps Deps) Adapter

// Registry manages factory registration.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry creates a registry with all built-in adapters.
func NewRegistry() *Registry {
	r := &Registry{
		factories: make(map[string]Factory),
	}

	openai := func(p records.Provider, m records.Model, d Deps) Adapter { return NewOpenAIAdapter(p, m, d) }
	for _, code := range []string{"openai", "ollama", "groq", "deepseek", "together", "mistral", "openrouter"} {
		r.Register(code, openai)
	}
	r.Register("anthropic", func(p records.Provider, m records.Model, d Deps) Adapter { return NewAnthropicAdapter(p, m, d) })
	gemini := func(p records.Provider, m records.Model, d Deps) Adapter { return NewGeminiAdapter(p, m, d) }
	r.Register("gemini", gemini)
	r.Register("google", gemini)
	r.Register("bedrock", func(p records.Provider, m records.Model, d Deps) Adapter { return NewBedrockAdapter(p, m, d) })

	return r
}

// Register adds or replaces the factory for a provider code. Codes are case-insensitive.
func (r *Registry) Register(code string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[normalizeCode(code)] = f
}

// Get returns the factory for code.
func (r *Registry) Get(code string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[normalizeCode(code)]
	return f, ok
}

// Codes lists registered provider codes in sorted order.
func (r *Registry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := make([]string, 0, len(r.factories))
	for c := range r.factories {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// New builds the adapter for provider.Code. Unknown codes fail with a
// configuration error wrapping ErrUnsupportedProvider.
func (r *Registry) New(provider records.Provider, model records.Model, deps Deps) (Adapter, error) {
	f, ok := r.Get(provider.Code)
	if !ok {
		return nil, newError(provider.Code, KindConfiguration, ErrUnsupportedProvider, "unsupported provider: %q", provider.Code)
	}
	return f(provider, model, deps), nil
}

func normalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
