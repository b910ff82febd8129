// Package comms is the façade the rest of the application talks to.
//
// DESIGN: The Service turns an agent id into a fully resolved AgentContext on
// every call (no caching, so record edits apply immediately), hands it to the
// Manager and maps every failure onto *Error.
//
// FLOW:
//  1. Tag the call with a request id (context + logs + telemetry)
//  2. Stamp user messages with "submitted_at"
//  3. Resolve agent → model → provider from the record Source
//  4. Manager.Communicate / Manager.Stream / Manager.Validate
//  5. Normalize errors, record telemetry and metrics
package comms

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/compresr/agent-bridge/internal/adapters"
	"github.com/compresr/agent-bridge/internal/manager"
	"github.com/compresr/agent-bridge/internal/monitoring"
	"github.com/compresr/agent-bridge/internal/records"
)

// SubmittedAtKey is the metadata key stamped on user messages.
const SubmittedAtKey = "submitted_at"

// Service resolves agents and delegates calls to the Manager.
type Service struct {
	source  records.Source
	manager *manager.Manager

	tracker *monitoring.Tracker
	metrics *monitoring.MetricsCollector
	alerts  *monitoring.AlertManager
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithTracker records one telemetry event per call.
func WithTracker(t *monitoring.Tracker) Option { return func(s *Service) { s.tracker = t } }

// WithAlerts enables latency and provider-error alerts.
func WithAlerts(a *monitoring.AlertManager) Option { return func(s *Service) { s.alerts = a } }

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// New creates a Service.
func New(source records.Source, mgr *manager.Manager, opts ...Option) *Service {
	s := &Service{
		source:  source,
		manager: mgr,
		metrics: monitoring.NewMetricsCollector(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// CONTEXT RESOLUTION
// =============================================================================

// GetAgentContext loads fresh records and resolves agent → model → provider.
func (s *Service) GetAgentContext(ctx context.Context, agentID string) (records.AgentContext, error) {
	actx, err := s.loadContext(ctx, agentID)
	if err != nil {
		return records.AgentContext{}, NormalizeError(err)
	}
	return actx, nil
}

func (s *Service) loadContext(ctx context.Context, agentID string) (records.AgentContext, error) {
	agents, err := s.source.ListAgents(ctx)
	if err != nil {
		return records.AgentContext{}, newError(CodeConfiguration, "failed to load agents: %v", err)
	}
	models, err := s.source.ListModels(ctx)
	if err != nil {
		return records.AgentContext{}, newError(CodeConfiguration, "failed to load models: %v", err)
	}
	providers, err := s.source.ListProviders(ctx)
	if err != nil {
		return records.AgentContext{}, newError(CodeConfiguration, "failed to load providers: %v", err)
	}

	var actx records.AgentContext
	found := false
	for _, a := range agents {
		if a.ID == agentID {
			actx.Agent, found = a, true
			break
		}
	}
	if !found {
		return records.AgentContext{}, newError(CodeAgentNotFound, "agent not found: %s", agentID)
	}
	if actx.Agent.ModelID == nil || strings.TrimSpace(*actx.Agent.ModelID) == "" {
		return records.AgentContext{}, newError(CodeAgentHasNoModel, "agent has no model: %s", agentID)
	}

	found = false
	for _, m := range models {
		if m.ID == *actx.Agent.ModelID {
			actx.Model, found = m, true
			break
		}
	}
	if !found {
		return records.AgentContext{}, newError(CodeModelNotFound, "model not found: %s", *actx.Agent.ModelID)
	}

	found = false
	for _, p := range providers {
		if p.ID == actx.Model.ProviderID {
			actx.Provider, found = p, true
			break
		}
	}
	if !found {
		return records.AgentContext{}, newError(CodeProviderNotFound, "provider not found: %s", actx.Model.ProviderID)
	}
	return actx, nil
}

// =============================================================================
// CALLS
// =============================================================================

// SendMessageToAgent sends one user message.
func (s *Service) SendMessageToAgent(ctx context.Context, agentID, text string, opts adapters.Options) (*adapters.Response, error) {
	return s.SendConversation(ctx, agentID, []adapters.Message{{Role: adapters.RoleUser, Content: text}}, opts)
}

// StreamMessageToAgent streams the reply to one user message.
func (s *Service) StreamMessageToAgent(ctx context.Context, agentID, text string, opts adapters.Options) <-chan adapters.StreamEvent {
	return s.StreamConversation(ctx, agentID, []adapters.Message{{Role: adapters.RoleUser, Content: text}}, opts)
}

// SendConversation sends a message history and returns the reply.
func (s *Service) SendConversation(ctx context.Context, agentID string, messages []adapters.Message, opts adapters.Options) (*adapters.Response, error) {
	ctx, call := s.begin(ctx, monitoring.CallSend, agentID)
	messages = s.stamp(messages)

	actx, err := s.loadContext(ctx, agentID)
	if err != nil {
		return nil, s.finish(ctx, call, nil, err)
	}
	call.attach(actx)

	resp, err := s.manager.Communicate(ctx, actx, messages, opts)
	if err != nil {
		return nil, s.finish(ctx, call, nil, err)
	}
	if resp.Metadata == nil {
		resp.Metadata = map[string]any{}
	}
	resp.Metadata["request_id"] = call.event.RequestID
	s.finish(ctx, call, resp.Usage, nil)
	return resp, nil
}

// StreamConversation streams the reply to a message history. It never fails
// directly: every failure arrives as the terminal error event, with Err set
// to *Error. Events are forwarded in order; callers must drain the channel.
func (s *Service) StreamConversation(ctx context.Context, agentID string, messages []adapters.Message, opts adapters.Options) <-chan adapters.StreamEvent {
	ctx, call := s.begin(ctx, monitoring.CallStream, agentID)
	s.metrics.RecordStream()
	messages = s.stamp(messages)

	actx, err := s.loadContext(ctx, agentID)
	if err != nil {
		return adapters.ErrorStream(s.finish(ctx, call, nil, err))
	}
	call.attach(actx)

	upstream := s.manager.Stream(ctx, actx, messages, opts)
	out := make(chan adapters.StreamEvent, 16)
	go func() {
		defer close(out)
		for ev := range upstream {
			switch ev.Type {
			case adapters.EventChunk:
				call.event.Chunks++
				s.metrics.RecordChunk()
			case adapters.EventComplete:
				s.finish(ctx, call, ev.Usage, nil)
			case adapters.EventError:
				ev.Err = s.finish(ctx, call, nil, ev.Err)
			}
			out <- ev
		}
	}()
	return out
}

// ValidateAgent reports whether the agent resolves and its provider answers a
// probe. It never fails; causes are logged.
func (s *Service) ValidateAgent(ctx context.Context, agentID string) bool {
	ctx, call := s.begin(ctx, monitoring.CallValidate, agentID)

	actx, err := s.loadContext(ctx, agentID)
	if err != nil {
		s.finish(ctx, call, nil, err)
		return false
	}
	call.attach(actx)

	ok := s.manager.Validate(ctx, actx)
	if !ok {
		s.finish(ctx, call, nil, newError(CodeConfiguration, "validation failed for agent %s", agentID))
		return false
	}
	s.finish(ctx, call, nil, nil)
	return true
}

// ClearCache drops every cached adapter and credential.
func (s *Service) ClearCache() { s.manager.Clear() }

// CacheStats describes the adapter cache.
func (s *Service) CacheStats() manager.Stats { return s.manager.Stats() }

// Metrics returns the call counters.
func (s *Service) Metrics() map[string]int64 { return s.metrics.Stats() }

// stamp returns messages with SubmittedAtKey set on user messages that lack
// it. The input slice and its metadata maps are not modified.
func (s *Service) stamp(messages []adapters.Message) []adapters.Message {
	ts := s.now().UTC().Format(time.RFC3339Nano)
	out := make([]adapters.Message, len(messages))
	for i, m := range messages {
		if m.Role == adapters.RoleUser {
			if _, ok := m.Metadata[SubmittedAtKey]; !ok {
				md := make(map[string]any, len(m.Metadata)+1)
				for k, v := range m.Metadata {
					md[k] = v
				}
				md[SubmittedAtKey] = ts
				m.Metadata = md
			}
		}
		out[i] = m
	}
	return out
}

// =============================================================================
// CALL BOOKKEEPING
// =============================================================================

type call struct {
	start time.Time
	event monitoring.CallEvent
}

func (c *call) attach(actx records.AgentContext) {
	c.event.Provider = actx.Provider.Code
	c.event.Model = actx.Model.ModelID
}

func (s *Service) begin(ctx context.Context, kind monitoring.CallKind, agentID string) (context.Context, *call) {
	id := monitoring.RequestIDFromContext(ctx)
	if id == "" {
		id = uuid.NewString()
		ctx = monitoring.WithRequestIDContext(ctx, id)
	}
	start := s.now()
	return ctx, &call{
		start: start,
		event: monitoring.CallEvent{RequestID: id, Timestamp: start.UTC(), Kind: kind, AgentID: agentID},
	}
}

// finish records the outcome and returns err normalized (nil on success).
func (s *Service) finish(ctx context.Context, c *call, usage *adapters.Usage, err error) error {
	latency := s.now().Sub(c.start)
	ce := NormalizeError(err)

	c.event.LatencyMs = latency.Milliseconds()
	c.event.Success = ce == nil
	if usage != nil {
		c.event.UsageKnown = true
		c.event.InputTokens = usage.InputTokens
		c.event.OutputTokens = usage.OutputTokens
	}

	logger := monitoring.FromContext(ctx)
	if ce != nil {
		c.event.ErrorCode = string(ce.Code)
		c.event.Error = ce.Message
		if ce.Code == CodeAborted {
			s.metrics.RecordAbort()
		}
		logger.Warn().
			Str("kind", string(c.event.Kind)).
			Str("agent_id", c.event.AgentID).
			Str("code", string(ce.Code)).
			Str("error", ce.Message).
			Msg("comms: call failed")
	} else {
		logger.Debug().
			Str("kind", string(c.event.Kind)).
			Str("agent_id", c.event.AgentID).
			Dur("latency", latency).
			Msg("comms: call completed")
	}

	if s.alerts != nil {
		s.alerts.FlagHighLatency(c.event.RequestID, latency, c.event.Provider, c.event.Model)
		var pe *adapters.ProviderError
		if errors.As(err, &pe) && pe.Status > 0 {
			s.alerts.FlagProviderError(c.event.RequestID, pe.Provider, pe.Status, pe.Message)
		}
		if errors.Is(err, adapters.ErrPanic) {
			s.alerts.FlagPanic(c.event.RequestID, ce.Message)
		}
	}
	s.metrics.RecordCall(ce == nil, latency)
	s.tracker.RecordCall(&c.event)

	if ce == nil {
		return nil
	}
	return ce
}
