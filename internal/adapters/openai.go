package adapters

import (
	"bytes"
	"context"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/compresr/agent-bridge/internal/records"
)

// OpenAI-style defaults, used when the model record leaves a path blank.
const (
	openAIContentPath      = "choices[0].message.content"
	openAIDeltaPath        = "choices[0].delta.content"
	openAIInputTokensPath  = "usage.prompt_tokens"
	openAIOutputTokensPath = "usage.completion_tokens"
	openAIDefaultEndpoint  = "/chat/completions"
	openAIDoneSentinel     = "[DONE]"
	openAIStreamOptions    = "stream_options"
)

// OpenAIAdapter speaks the Chat Completions API. It also serves
// OpenAI-compatible backends (Ollama, Groq, DeepSeek, Together, Mistral,
// OpenRouter).
//
// Wire format:
//   - Request:  {"model", "messages": [{role, content}], "stream", "temperature", "max_tokens"}
//   - Response: {"choices": [{"message": {"content"}}], "usage": {"prompt_tokens", "completion_tokens"}}
//   - Stream:   data: {"choices": [{"delta": {"content"}}]} ... data: [DONE]
type OpenAIAdapter struct {
	BaseAdapter
}

// NewOpenAIAdapter creates an adapter for one provider/model pair.
func NewOpenAIAdapter(provider records.Provider, model records.Model, deps Deps) *OpenAIAdapter {
	a := &OpenAIAdapter{BaseAdapter: newBase("openai", provider, model, deps)}
	if org := provider.ExtraString("organization"); org != "" {
		a.protocolHeaders["OpenAI-Organization"] = org
	}
	return a
}

var openAIBody = bodySpec{
	modelKey:       "model",
	messagesKey:    "messages",
	streamKey:      "stream",
	temperatureKey: "temperature",
	maxTokensKey:   "max_tokens",
}

func (a *OpenAIAdapter) url() string {
	if a.model.Endpoint == "" {
		return a.buildURL(openAIDefaultEndpoint)
	}
	return a.buildURL("")
}

func (a *OpenAIAdapter) usage() usagePaths {
	return a.usageCandidates([]string{openAIInputTokensPath}, []string{openAIOutputTokensPath})
}

// SendMessage performs a non-streaming chat completion.
func (a *OpenAIAdapter) SendMessage(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	opts.Stream = false
	body, err := a.buildBody(openAIBody, formatMessages(messages), opts)
	if err != nil {
		return nil, err
	}
	return a.sendJSON(ctx, a.url(), body, openAIContentPath, a.usage())
}

// StreamMessage performs a streaming chat completion.
func (a *OpenAIAdapter) StreamMessage(ctx context.Context, messages []Message, opts Options) <-chan StreamEvent {
	opts.Stream = true
	body, err := a.buildBody(openAIBody, formatMessages(messages), opts)
	if err != nil {
		return ErrorStream(err)
	}
	if body, err = a.requestStreamUsage(body); err != nil {
		return ErrorStream(err)
	}
	return a.stream(ctx, a.url(), body, streamSpec{decode: a.decodeFrame, usage: a.usage()})
}

// requestStreamUsage asks api.openai.com for the trailing usage chunk, which
// it only sends with stream_options.include_usage. Compatible backends differ
// in whether they accept the field, so only code "openai" gets it, and a
// stream_options set by default params or the caller is left as is.
func (a *OpenAIAdapter) requestStreamUsage(body []byte) ([]byte, error) {
	if normalizeCode(a.code()) != "openai" || gjson.GetBytes(body, openAIStreamOptions).Exists() {
		return body, nil
	}
	body, err := sjson.SetBytes(body, openAIStreamOptions+".include_usage", true)
	if err != nil {
		return nil, newError(a.code(), KindConfiguration, err, "failed to build request body: %v", err)
	}
	return body, nil
}

// decodeFrame handles one Chat Completions chunk. The literal [DONE] payload
// ends the stream.
func (a *OpenAIAdapter) decodeFrame(payload []byte) (frame, error) {
	if string(bytes.TrimSpace(payload)) == openAIDoneSentinel {
		return frame{done: true}, nil
	}
	if !gjson.ValidBytes(payload) {
		return frame{}, newError(a.code(), KindDecode, nil, "malformed stream chunk: %.120s", payload)
	}
	if e := gjson.GetBytes(payload, "error"); e.Exists() && e.Type != gjson.Null {
		return frame{}, a.payloadError(payload)
	}
	delta, _ := a.extractStreamContent(payload, openAIDeltaPath)
	return frame{delta: delta}, nil
}

// ValidateConfiguration lists models as a cheap authenticated probe.
func (a *OpenAIAdapter) ValidateConfiguration(ctx context.Context) bool {
	return a.validate(ctx, func(ctx context.Context) error {
		return a.get(ctx, a.buildURL("/models"))
	})
}

var _ Adapter = (*OpenAIAdapter)(nil)
