// Package manager owns the adapter cache and the agent-aware call path.
//
// DESIGN: One Manager per process, built by the composition root and handed
// to the comms Service. Adapters are created lazily per (provider code,
// model id) and live until Clear; each carries its own memoized credential,
// so Clear also drops cached secrets.
package manager

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/compresr/agent-bridge/internal/adapters"
	"github.com/compresr/agent-bridge/internal/monitoring"
	"github.com/compresr/agent-bridge/internal/records"
)

// Manager selects, caches and calls adapters.
type Manager struct {
	registry *adapters.Registry
	deps     adapters.Deps
	alerts   *monitoring.AlertManager

	mu    sync.RWMutex
	cache map[string]adapters.Adapter
}

// Stats describes the adapter cache.
type Stats struct {
	Size int      `json:"size"`
	Keys []string `json:"keys"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithAlerts flags panics recovered during validation. Call and stream
// panics surface as errors and are flagged by their caller.
func WithAlerts(a *monitoring.AlertManager) Option { return func(m *Manager) { m.alerts = a } }

// New creates a Manager. A nil registry uses the built-in adapters.
func New(registry *adapters.Registry, deps adapters.Deps, opts ...Option) *Manager {
	if registry == nil {
		registry = adapters.NewRegistry()
	}
	m := &Manager{
		registry: registry,
		deps:     deps,
		cache:    make(map[string]adapters.Adapter),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) flagPanic(ctx context.Context, r any) {
	if m.alerts != nil {
		m.alerts.FlagPanic(monitoring.RequestIDFromContext(ctx), r)
	}
}

// Key is the cache key for a provider code and model record id.
func Key(providerCode, modelID string) string {
	return providerCode + ":" + modelID
}

// adapterFor returns the cached adapter for actx, building it on first use.
// Lookup and insert happen under one lock so a key never gets two adapters.
func (m *Manager) adapterFor(actx records.AgentContext) (adapters.Adapter, error) {
	key := Key(actx.Provider.Code, actx.Model.ID)

	m.mu.RLock()
	a, ok := m.cache[key]
	m.mu.RUnlock()
	if ok {
		return a, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.cache[key]; ok {
		return a, nil
	}
	a, err := m.registry.New(actx.Provider, actx.Model, m.deps)
	if err != nil {
		return nil, err
	}
	m.cache[key] = a
	log.Debug().Str("key", key).Str("adapter", a.Name()).Msg("manager: adapter created")
	return a, nil
}

// PrepareMessages prepends the agent's instructions as a system message when
// they are non-blank. messages is not modified.
func PrepareMessages(agent records.Agent, messages []adapters.Message) []adapters.Message {
	if strings.TrimSpace(agent.Instructions) == "" {
		return messages
	}
	out := make([]adapters.Message, 0, len(messages)+1)
	out = append(out, adapters.Message{Role: adapters.RoleSystem, Content: agent.Instructions})
	return append(out, messages...)
}

// Communicate performs a non-streaming call for the agent. A panic inside the
// adapter is returned as an error matching adapters.ErrPanic.
func (m *Manager) Communicate(ctx context.Context, actx records.AgentContext, messages []adapters.Message, opts adapters.Options) (resp *adapters.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("agent_id", actx.Agent.ID).Msg("manager: call panicked")
			resp, err = nil, adapters.PanicError(actx.Provider.Code, r)
		}
	}()

	a, err := m.adapterFor(actx)
	if err != nil {
		return nil, err
	}
	return a.SendMessage(ctx, PrepareMessages(actx.Agent, messages), opts)
}

// Stream performs a streaming call. The adapter's channel is returned as is;
// an adapter that panics before returning one yields a single error event.
func (m *Manager) Stream(ctx context.Context, actx records.AgentContext, messages []adapters.Message, opts adapters.Options) (events <-chan adapters.StreamEvent) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("agent_id", actx.Agent.ID).Msg("manager: stream panicked")
			events = adapters.ErrorStream(adapters.PanicError(actx.Provider.Code, r))
		}
	}()

	a, err := m.adapterFor(actx)
	if err != nil {
		return adapters.ErrorStream(err)
	}
	opts.Stream = true
	return a.StreamMessage(ctx, PrepareMessages(actx.Agent, messages), opts)
}

// Validate reports whether the agent's provider is usable. It never panics;
// failures are logged and reported as false.
func (m *Manager) Validate(ctx context.Context, actx records.AgentContext) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Err(adapters.Normalize(r)).Str("agent_id", actx.Agent.ID).Msg("manager: validation panicked")
			m.flagPanic(ctx, r)
			ok = false
		}
	}()

	a, err := m.adapterFor(actx)
	if err != nil {
		log.Warn().Err(err).Str("agent_id", actx.Agent.ID).Msg("manager: validation failed")
		return false
	}
	return a.ValidateConfiguration(ctx)
}

// Clear drops every cached adapter and its cached credential.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = make(map[string]adapters.Adapter)
}

// Size returns the number of cached adapters.
func (m *Manager) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cache)
}

// Stats returns the cache size and its keys in sorted order.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.cache))
	for k := range m.cache {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return Stats{Size: len(keys), Keys: keys}
}
