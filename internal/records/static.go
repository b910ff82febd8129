package records

import (
	"context"
	"sync"
)

// StaticSource serves records held in memory. Safe for concurrent use.
type StaticSource struct {
	mu        sync.RWMutex
	agents    []Agent
	models    []Model
	providers []Provider
}

// NewStaticSource creates a source over the given records.
func NewStaticSource(agents []Agent, models []Model, providers []Provider) *StaticSource {
	return &StaticSource{agents: agents, models: models, providers: providers}
}

// Replace swaps all records at once.
func (s *StaticSource) Replace(agents []Agent, models []Model, providers []Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents, s.models, s.providers = agents, models, providers
}

func (s *StaticSource) ListAgents(_ context.Context) ([]Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Agent(nil), s.agents...), nil
}

func (s *StaticSource) ListModels(_ context.Context) ([]Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Model(nil), s.models...), nil
}

func (s *StaticSource) ListProviders(_ context.Context) ([]Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Provider(nil), s.providers...), nil
}

var _ Source = (*StaticSource)(nil)
