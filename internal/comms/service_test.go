package comms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/agent-bridge/internal/adapters"
	"github.com/compresr/agent-bridge/internal/manager"
	"github.com/compresr/agent-bridge/internal/monitoring"
	"github.com/compresr/agent-bridge/internal/records"
	"github.com/compresr/agent-bridge/internal/secrets"
)

// provider fakes an OpenAI-compatible endpoint and keeps the last request body.
type provider struct {
	mu   sync.Mutex
	body map[string]any
}

func (p *provider) lastMessages() []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	msgs, _ := p.body["messages"].([]any)
	return msgs
}

func newProvider(t *testing.T, reply string) (*httptest.Server, *provider) {
	t.Helper()
	p := &provider{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		p.mu.Lock()
		p.body = nil
		_ = json.Unmarshal(raw, &p.body)
		stream, _ := p.body["stream"].(bool)
		p.mu.Unlock()

		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusOK)
			_, _ = io.WriteString(w, `{"data":[]}`)
			return
		}
		if stream {
			w.Header().Set("Content-Type", "text/event-stream")
			for _, part := range []string{reply[:1], reply[1:]} {
				_, _ = io.WriteString(w, `data: {"choices":[{"delta":{"content":"`+part+`"}}]}`+"\n\n")
			}
			_, _ = io.WriteString(w, "data: [DONE]\n\n")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"`+reply+`"}}],"usage":{"prompt_tokens":4,"completion_tokens":1}}`)
	}))
	t.Cleanup(srv.Close)
	return srv, p
}

func fixtureSource(baseURL string) *records.StaticSource {
	return records.NewStaticSource(
		[]records.Agent{
			{ID: "helper", Name: "Helper", Instructions: "Be kind.", ModelID: records.StringPtr("m-mini")},
			{ID: "plain", Name: "Plain", ModelID: records.StringPtr("m-mini")},
			{ID: "no-model", Name: "Draft"},
			{ID: "dangling", Name: "Dangling", ModelID: records.StringPtr("m-gone")},
			{ID: "orphan", Name: "Orphan", ModelID: records.StringPtr("m-orphan")},
			{ID: "keyless", Name: "Keyless", ModelID: records.StringPtr("m-keyless")},
			{ID: "exotic", Name: "Exotic", ModelID: records.StringPtr("m-exotic")},
		},
		[]records.Model{
			{ID: "m-mini", ProviderID: "p-openai", ModelID: "gpt-4o-mini", Endpoint: "/chat/completions", ContentPath: "choices[0].message.content"},
			{ID: "m-orphan", ProviderID: "p-gone", ModelID: "x"},
			{ID: "m-keyless", ProviderID: "p-keyless", ModelID: "gpt-4o-mini"},
			{ID: "m-exotic", ProviderID: "p-exotic", ModelID: "x"},
		},
		[]records.Provider{
			{ID: "p-openai", Code: "openai", BaseURL: baseURL, AuthType: records.AuthBearer, APIKey: "sk-test"},
			{ID: "p-keyless", Code: "openai", BaseURL: baseURL, AuthType: records.AuthBearer},
			{ID: "p-exotic", Code: "unknown", BaseURL: baseURL},
		},
	)
}

func newService(t *testing.T, baseURL string, opts ...Option) *Service {
	t.Helper()
	deps := adapters.Deps{Lookup: secrets.MapLookup(nil)}
	return New(fixtureSource(baseURL), manager.New(nil, deps), opts...)
}

func TestService_SendMessageToAgent_RoundTrip(t *testing.T) {
	srv, _ := newProvider(t, "hi")
	svc := newService(t, srv.URL)

	resp, err := svc.SendMessageToAgent(context.Background(), "helper", "hello", adapters.Options{})
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Content)
	assert.NotEmpty(t, resp.Metadata["request_id"])
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
}

func TestService_PreparedMessagesHaveOneLeadingSystem(t *testing.T) {
	srv, p := newProvider(t, "ok")
	svc := newService(t, srv.URL)

	conversation := []adapters.Message{
		{Role: adapters.RoleSystem, Content: "caller rules"},
		{Role: adapters.RoleUser, Content: "one"},
		{Role: adapters.RoleAssistant, Content: "two"},
		{Role: adapters.RoleUser, Content: "three"},
	}
	_, err := svc.SendConversation(context.Background(), "helper", conversation, adapters.Options{})
	require.NoError(t, err)

	sent := p.lastMessages()
	require.Len(t, sent, len(conversation)+1)
	assert.Equal(t, map[string]any{"role": "system", "content": "Be kind."}, sent[0])
	for i, m := range conversation {
		assert.Equal(t, map[string]any{"role": string(m.Role), "content": m.Content}, sent[i+1])
	}
}

func TestService_BlankInstructionsAddNoSystem(t *testing.T) {
	srv, p := newProvider(t, "ok")
	svc := newService(t, srv.URL)

	_, err := svc.SendMessageToAgent(context.Background(), "plain", "hello", adapters.Options{})
	require.NoError(t, err)
	sent := p.lastMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "user", sent[0].(map[string]any)["role"])
}

func TestService_ResolutionErrors(t *testing.T) {
	srv, _ := newProvider(t, "hi")
	svc := newService(t, srv.URL)

	tests := []struct {
		agentID string
		code    Code
		message string
	}{
		{"missing", CodeAgentNotFound, "agent not found: missing"},
		{"no-model", CodeAgentHasNoModel, "agent has no model: no-model"},
		{"dangling", CodeModelNotFound, "model not found: m-gone"},
		{"orphan", CodeProviderNotFound, "provider not found: p-gone"},
	}
	for _, tt := range tests {
		t.Run(tt.agentID, func(t *testing.T) {
			_, err := svc.GetAgentContext(context.Background(), tt.agentID)
			require.Error(t, err)
			assert.Equal(t, tt.code, CodeOf(err))
			assert.EqualError(t, err, tt.message)

			_, err = svc.SendMessageToAgent(context.Background(), tt.agentID, "hi", adapters.Options{})
			var ce *Error
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.code, ce.Code)

			assert.False(t, svc.ValidateAgent(context.Background(), tt.agentID))
		})
	}
}

func TestService_GetAgentContext(t *testing.T) {
	svc := newService(t, "http://unused")
	actx, err := svc.GetAgentContext(context.Background(), "helper")
	require.NoError(t, err)
	assert.Equal(t, "helper", actx.Agent.ID)
	assert.Equal(t, "m-mini", actx.Model.ID)
	assert.Equal(t, "p-openai", actx.Provider.ID)
}

func TestService_UnknownProvider(t *testing.T) {
	svc := newService(t, "http://unused")

	actx, err := svc.GetAgentContext(context.Background(), "exotic")
	require.NoError(t, err)
	assert.Equal(t, "unknown", actx.Provider.Code)

	_, err = svc.SendMessageToAgent(context.Background(), "exotic", "hi", adapters.Options{})
	require.Error(t, err)
	assert.Equal(t, CodeUnsupportedProvider, CodeOf(err))
	assert.Contains(t, err.Error(), "unsupported provider")
	assert.Contains(t, err.Error(), "unknown")
}

func TestService_ValidateAgent(t *testing.T) {
	srv, _ := newProvider(t, "hi")
	svc := newService(t, srv.URL)

	assert.True(t, svc.ValidateAgent(context.Background(), "helper"))
	assert.False(t, svc.ValidateAgent(context.Background(), "keyless"))
	assert.False(t, svc.ValidateAgent(context.Background(), "exotic"))
}

func TestService_StreamMessageToAgent(t *testing.T) {
	srv, _ := newProvider(t, "hello")
	svc := newService(t, srv.URL)

	var chunks []string
	var last adapters.StreamEvent
	for ev := range svc.StreamMessageToAgent(context.Background(), "helper", "hi", adapters.Options{}) {
		if ev.Type == adapters.EventChunk {
			chunks = append(chunks, ev.Data)
		}
		last = ev
	}
	assert.Equal(t, []string{"h", "ello"}, chunks)
	assert.Equal(t, adapters.EventComplete, last.Type)
	assert.Equal(t, "hello", last.Data)

	stats := svc.Metrics()
	assert.Equal(t, int64(1), stats["streams"])
	assert.Equal(t, int64(2), stats["chunks"])
}

func TestService_StreamFailuresAreEvents(t *testing.T) {
	srv, _ := newProvider(t, "hi")
	svc := newService(t, srv.URL)

	for _, agentID := range []string{"missing", "keyless", "exotic"} {
		t.Run(agentID, func(t *testing.T) {
			var events []adapters.StreamEvent
			for ev := range svc.StreamConversation(context.Background(), agentID, nil, adapters.Options{}) {
				events = append(events, ev)
			}
			require.Len(t, events, 1)
			assert.Equal(t, adapters.EventError, events[0].Type)
			var ce *Error
			assert.True(t, errors.As(events[0].Err, &ce))
		})
	}
}

func TestService_StampsUserMessages(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc := New(records.NewStaticSource(nil, nil, nil), manager.New(nil, adapters.Deps{}), WithClock(func() time.Time { return fixed }))

	in := []adapters.Message{
		{Role: adapters.RoleUser, Content: "a"},
		{Role: adapters.RoleAssistant, Content: "b"},
		{Role: adapters.RoleUser, Content: "c", Metadata: map[string]any{SubmittedAtKey: "earlier", "k": "v"}},
	}
	out := svc.stamp(in)

	assert.Equal(t, "2026-01-02T03:04:05Z", out[0].Metadata[SubmittedAtKey])
	assert.Nil(t, out[1].Metadata)
	assert.Equal(t, "earlier", out[2].Metadata[SubmittedAtKey])
	assert.Nil(t, in[0].Metadata)
}

func TestService_Telemetry(t *testing.T) {
	srv, _ := newProvider(t, "hi")
	tracker, err := monitoring.NewTracker(monitoring.TelemetryConfig{Enabled: true, LogPath: filepath.Join(t.TempDir(), "calls.jsonl")})
	require.NoError(t, err)
	svc := newService(t, srv.URL, WithTracker(tracker))

	_, err = svc.SendMessageToAgent(context.Background(), "helper", "hello", adapters.Options{})
	require.NoError(t, err)
	_, err = svc.SendMessageToAgent(context.Background(), "missing", "hello", adapters.Options{})
	require.Error(t, err)

	recorded, failed := tracker.Counts()
	assert.Equal(t, 2, recorded)
	assert.Equal(t, 1, failed)
}

// explodingAdapter panics on every call.
type explodingAdapter struct{}

func (explodingAdapter) Name() string { return "exploding" }

func (explodingAdapter) SendMessage(context.Context, []adapters.Message, adapters.Options) (*adapters.Response, error) {
	panic("send exploded")
}

func (explodingAdapter) StreamMessage(context.Context, []adapters.Message, adapters.Options) <-chan adapters.StreamEvent {
	panic("stream exploded")
}

func (explodingAdapter) ValidateConfiguration(context.Context) bool { return true }

func TestService_FlagsRecoveredPanics(t *testing.T) {
	var buf bytes.Buffer
	alerts := monitoring.NewAlertManager(monitoring.NewWithWriter(&buf, zerolog.DebugLevel), monitoring.AlertConfig{})
	reg := adapters.NewRegistry()
	reg.Register("openai", func(records.Provider, records.Model, adapters.Deps) adapters.Adapter { return explodingAdapter{} })
	svc := New(fixtureSource("http://unused"), manager.New(reg, adapters.Deps{}), WithAlerts(alerts))

	_, err := svc.SendMessageToAgent(context.Background(), "helper", "hello", adapters.Options{})
	require.Error(t, err)
	assert.Equal(t, CodeUnknown, CodeOf(err))
	assert.Contains(t, err.Error(), "send exploded")

	var events []adapters.StreamEvent
	for ev := range svc.StreamMessageToAgent(context.Background(), "helper", "hello", adapters.Options{}) {
		events = append(events, ev)
	}
	require.Len(t, events, 1)
	assert.Equal(t, adapters.EventError, events[0].Type)
	assert.Contains(t, events[0].Err.Error(), "stream exploded")

	assert.Equal(t, 2, strings.Count(buf.String(), `"message":"panic_recovered"`))
}

func TestService_Cache(t *testing.T) {
	srv, _ := newProvider(t, "hi")
	svc := newService(t, srv.URL)

	_, err := svc.SendMessageToAgent(context.Background(), "helper", "hello", adapters.Options{})
	require.NoError(t, err)
	_, err = svc.SendMessageToAgent(context.Background(), "plain", "hello", adapters.Options{})
	require.NoError(t, err)

	assert.Equal(t, manager.Stats{Size: 1, Keys: []string{"openai:m-mini"}}, svc.CacheStats())
	svc.ClearCache()
	assert.Zero(t, svc.CacheStats().Size)
}

func TestNormalizeError(t *testing.T) {
	assert.Nil(t, NormalizeError(nil))

	ce := &Error{Code: CodeModelNotFound, Message: "model not found: x"}
	assert.Same(t, ce, NormalizeError(ce))

	assert.Equal(t, CodeAborted, NormalizeError(context.Canceled).Code)
	assert.Equal(t, CodeUnknown, NormalizeError(errors.New("odd")).Code)
	assert.Equal(t, "odd", NormalizeError(errors.New("odd")).Message)
}
