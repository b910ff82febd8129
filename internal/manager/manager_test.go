package manager

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/agent-bridge/internal/adapters"
	"github.com/compresr/agent-bridge/internal/monitoring"
	"github.com/compresr/agent-bridge/internal/records"
)

// recordingAdapter captures what the Manager hands to an adapter.
type recordingAdapter struct {
	mu       sync.Mutex
	messages []adapters.Message
	opts     adapters.Options
	panics   bool
}

func (r *recordingAdapter) Name() string { return "recording" }

func (r *recordingAdapter) SendMessage(_ context.Context, messages []adapters.Message, opts adapters.Options) (*adapters.Response, error) {
	if r.panics {
		panic("adapter exploded")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages, r.opts = messages, opts
	return &adapters.Response{Content: "ok"}, nil
}

func (r *recordingAdapter) StreamMessage(_ context.Context, messages []adapters.Message, opts adapters.Options) <-chan adapters.StreamEvent {
	if r.panics {
		panic("stream exploded")
	}
	r.mu.Lock()
	r.messages, r.opts = messages, opts
	r.mu.Unlock()
	events := make(chan adapters.StreamEvent, 3)
	events <- adapters.StreamEvent{Type: adapters.EventChunk, Data: "a"}
	events <- adapters.StreamEvent{Type: adapters.EventChunk, Data: "b"}
	events <- adapters.StreamEvent{Type: adapters.EventComplete, Data: "ab"}
	close(events)
	return events
}

func (r *recordingAdapter) ValidateConfiguration(context.Context) bool {
	if r.panics {
		panic(map[string]any{"message": "probe exploded"})
	}
	return true
}

// countingRegistry registers a "fake" code whose factory counts constructions.
func countingRegistry(panics bool) (*adapters.Registry, *int, *[]*recordingAdapter) {
	reg := adapters.NewRegistry()
	built := 0
	var instances []*recordingAdapter
	reg.Register("fake", func(records.Provider, records.Model, adapters.Deps) adapters.Adapter {
		built++
		a := &recordingAdapter{panics: panics}
		instances = append(instances, a)
		return a
	})
	return reg, &built, &instances
}

func fakeContext(instructions string) records.AgentContext {
	return records.AgentContext{
		Agent:    records.Agent{ID: "a1", Name: "Helper", Instructions: instructions, ModelID: records.StringPtr("m1")},
		Model:    records.Model{ID: "m1", ProviderID: "p1", ModelID: "fake-model"},
		Provider: records.Provider{ID: "p1", Code: "fake", AuthType: records.AuthCustomHeaders},
	}
}

func TestManager_CacheIdentity(t *testing.T) {
	reg, built, instances := countingRegistry(false)
	m := New(reg, adapters.Deps{})
	actx := fakeContext("")

	first, err := m.adapterFor(actx)
	require.NoError(t, err)
	second, err := m.adapterFor(actx)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, *built)
	assert.Equal(t, 1, m.Size())
	assert.Equal(t, Stats{Size: 1, Keys: []string{"fake:m1"}}, m.Stats())

	other := actx
	other.Model.ID = "m2"
	_, err = m.adapterFor(other)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Size())

	m.Clear()
	assert.Zero(t, m.Size())
	third, err := m.adapterFor(actx)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.Len(t, *instances, 3)
}

func TestManager_ConcurrentLookupBuildsOnce(t *testing.T) {
	reg, built, _ := countingRegistry(false)
	m := New(reg, adapters.Deps{})
	actx := fakeContext("")

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Communicate(context.Background(), actx, nil, adapters.Options{})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, *built)
}

func TestPrepareMessages(t *testing.T) {
	conversation := []adapters.Message{
		{Role: adapters.RoleSystem, Content: "caller system"},
		{Role: adapters.RoleUser, Content: "hi"},
		{Role: adapters.RoleAssistant, Content: "hello"},
	}

	t.Run("prepends non-blank instructions", func(t *testing.T) {
		got := PrepareMessages(records.Agent{Instructions: "Be brief."}, conversation)
		require.Len(t, got, len(conversation)+1)
		assert.Equal(t, adapters.Message{Role: adapters.RoleSystem, Content: "Be brief."}, got[0])
		assert.Equal(t, conversation, got[1:])
	})
	t.Run("blank instructions add nothing", func(t *testing.T) {
		got := PrepareMessages(records.Agent{Instructions: "  \n"}, conversation)
		assert.Equal(t, conversation, got)
	})
	t.Run("input is not modified", func(t *testing.T) {
		before := append([]adapters.Message(nil), conversation...)
		_ = PrepareMessages(records.Agent{Instructions: "x"}, conversation)
		assert.Equal(t, before, conversation)
	})
}

func TestManager_StreamForcesStreamFlag(t *testing.T) {
	reg, _, instances := countingRegistry(false)
	m := New(reg, adapters.Deps{})

	var got []adapters.StreamEvent
	for ev := range m.Stream(context.Background(), fakeContext("sys"), []adapters.Message{{Role: adapters.RoleUser, Content: "hi"}}, adapters.Options{}) {
		got = append(got, ev)
	}

	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].Data)
	assert.Equal(t, "b", got[1].Data)
	assert.Equal(t, adapters.EventComplete, got[2].Type)

	rec := (*instances)[0]
	assert.True(t, rec.opts.Stream)
	require.Len(t, rec.messages, 2)
	assert.Equal(t, adapters.RoleSystem, rec.messages[0].Role)
}

func TestManager_UnsupportedProvider(t *testing.T) {
	m := New(nil, adapters.Deps{})
	actx := fakeContext("")
	actx.Provider.Code = "unknown"

	_, err := m.Communicate(context.Background(), actx, nil, adapters.Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, adapters.ErrUnsupportedProvider)
	assert.Contains(t, err.Error(), "unknown")
	assert.Zero(t, m.Size())

	var events []adapters.StreamEvent
	for ev := range m.Stream(context.Background(), actx, nil, adapters.Options{}) {
		events = append(events, ev)
	}
	require.Len(t, events, 1)
	assert.Equal(t, adapters.EventError, events[0].Type)

	assert.False(t, m.Validate(context.Background(), actx))
}

func TestManager_ValidateRecoversPanic(t *testing.T) {
	var buf bytes.Buffer
	alerts := monitoring.NewAlertManager(monitoring.NewWithWriter(&buf, zerolog.DebugLevel), monitoring.AlertConfig{})
	reg, _, _ := countingRegistry(true)
	m := New(reg, adapters.Deps{}, WithAlerts(alerts))

	ctx := monitoring.WithRequestIDContext(context.Background(), "req-7")
	assert.False(t, m.Validate(ctx, fakeContext("")))
	assert.Contains(t, buf.String(), `"message":"panic_recovered"`)
	assert.Contains(t, buf.String(), `"request_id":"req-7"`)
}

func TestManager_CallPanicsBecomeErrors(t *testing.T) {
	var buf bytes.Buffer
	alerts := monitoring.NewAlertManager(monitoring.NewWithWriter(&buf, zerolog.DebugLevel), monitoring.AlertConfig{})
	reg, _, _ := countingRegistry(true)
	m := New(reg, adapters.Deps{}, WithAlerts(alerts))
	actx := fakeContext("")

	resp, err := m.Communicate(context.Background(), actx, nil, adapters.Options{})
	assert.Nil(t, resp)
	require.Error(t, err)
	assert.True(t, errors.Is(err, adapters.ErrPanic))
	assert.Equal(t, adapters.KindUnknown, adapters.KindOf(err))
	assert.Contains(t, err.Error(), "adapter exploded")

	var events []adapters.StreamEvent
	for ev := range m.Stream(context.Background(), actx, nil, adapters.Options{}) {
		events = append(events, ev)
	}
	require.Len(t, events, 1)
	assert.Equal(t, adapters.EventError, events[0].Type)
	assert.ErrorIs(t, events[0].Err, adapters.ErrPanic)

	assert.Zero(t, buf.Len(), "call panics are flagged by the caller that sees the error")
}

func TestManager_CommunicateOverHTTP(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"hi"}}]}`)
	}))
	defer srv.Close()

	actx := records.AgentContext{
		Agent:    records.Agent{ID: "a1", Instructions: "Be kind.", ModelID: records.StringPtr("m1")},
		Model:    records.Model{ID: "m1", ProviderID: "p1", ModelID: "gpt-4o-mini", Endpoint: "/chat/completions", ContentPath: "choices[0].message.content"},
		Provider: records.Provider{ID: "p1", Code: "openai", BaseURL: srv.URL, APIKey: "sk"},
	}

	resp, err := New(nil, adapters.Deps{}).Communicate(context.Background(), actx, []adapters.Message{{Role: adapters.RoleUser, Content: "hello"}}, adapters.Options{})
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Content)
	assert.Contains(t, string(body), `"role":"system","content":"Be kind."`)
}
