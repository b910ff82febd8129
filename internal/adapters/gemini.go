package adapters

import (
	"context"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/compresr/agent-bridge/internal/records"
)

// Gemini defaults. {model} in an endpoint is replaced with the model identifier.
const (
	geminiContentPath      = "candidates[0].content.parts[0].text"
	geminiInputTokensPath  = "usageMetadata.promptTokenCount"
	geminiOutputTokensPath = "usageMetadata.candidatesTokenCount"
	geminiDefaultEndpoint  = "/models/{model}:generateContent"
	geminiStreamEndpoint   = "/models/{model}:streamGenerateContent?alt=sse"
)

// GeminiAdapter speaks the generateContent API.
//
// Key format differences:
//   - Messages: contents[] with parts[], assistant turns use role "model"
//   - System: top-level systemInstruction, not a message
//   - Sampling: generationConfig.temperature / generationConfig.maxOutputTokens
//   - Model: in the URL path, not the request body
type GeminiAdapter struct {
	BaseAdapter
}

// NewGeminiAdapter creates an adapter for one provider/model pair.
func NewGeminiAdapter(provider records.Provider, model records.Model, deps Deps) *GeminiAdapter {
	a := &GeminiAdapter{BaseAdapter: newBase("gemini", provider, model, deps)}
	a.apiKeyHeader = "x-goog-api-key"
	return a
}

var geminiBody = bodySpec{
	messagesKey:    "contents",
	temperatureKey: "generationConfig.temperature",
	maxTokensKey:   "generationConfig.maxOutputTokens",
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

// url resolves the endpoint for a call. A configured generateContent endpoint
// is switched to its SSE streaming form for streams.
func (a *GeminiAdapter) url(stream bool) string {
	endpoint := a.model.Endpoint
	switch {
	case endpoint == "" && stream:
		endpoint = geminiStreamEndpoint
	case endpoint == "":
		endpoint = geminiDefaultEndpoint
	case stream && strings.Contains(endpoint, ":generateContent"):
		endpoint = strings.Replace(endpoint, ":generateContent", ":streamGenerateContent", 1)
		if !strings.Contains(endpoint, "alt=sse") {
			sep := "?"
			if strings.Contains(endpoint, "?") {
				sep = "&"
			}
			endpoint += sep + "alt=sse"
		}
	}
	return a.buildURL(strings.ReplaceAll(endpoint, "{model}", a.model.ModelID))
}

func (a *GeminiAdapter) usage() usagePaths {
	return a.usageCandidates([]string{geminiInputTokensPath}, []string{geminiOutputTokensPath})
}

func (a *GeminiAdapter) body(messages []Message, opts Options) ([]byte, error) {
	system, rest := splitSystem(messages)
	contents := make([]geminiContent, 0, len(rest))
	for _, m := range rest {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		contents = append(contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
	}

	if system != "" {
		if opts.AdditionalParams == nil {
			opts.AdditionalParams = map[string]any{}
		} else {
			params := make(map[string]any, len(opts.AdditionalParams)+1)
			for k, v := range opts.AdditionalParams {
				params[k] = v
			}
			opts.AdditionalParams = params
		}
		if _, set := opts.AdditionalParams["systemInstruction"]; !set {
			opts.AdditionalParams["systemInstruction"] = geminiContent{Parts: []geminiPart{{Text: system}}}
		}
	}
	return a.buildBody(geminiBody, contents, opts)
}

// SendMessage performs a non-streaming generateContent call.
func (a *GeminiAdapter) SendMessage(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	opts.Stream = false
	body, err := a.body(messages, opts)
	if err != nil {
		return nil, err
	}
	return a.sendJSON(ctx, a.url(false), body, geminiContentPath, a.usage())
}

// StreamMessage performs a streamGenerateContent call over SSE.
func (a *GeminiAdapter) StreamMessage(ctx context.Context, messages []Message, opts Options) <-chan StreamEvent {
	opts.Stream = true
	body, err := a.body(messages, opts)
	if err != nil {
		return ErrorStream(err)
	}
	return a.stream(ctx, a.url(true), body, streamSpec{decode: a.decodeFrame, usage: a.usage()})
}

// decodeFrame handles one streamed GenerateContentResponse. There is no
// sentinel; a candidate finishReason marks the last frame.
func (a *GeminiAdapter) decodeFrame(payload []byte) (frame, error) {
	if !gjson.ValidBytes(payload) {
		return frame{}, newError(a.code(), KindDecode, nil, "malformed stream chunk: %.120s", payload)
	}
	if e := gjson.GetBytes(payload, "error"); e.Exists() && e.Type != gjson.Null {
		return frame{}, a.payloadError(payload)
	}
	delta, _ := a.extractStreamContent(payload, geminiContentPath)
	done := gjson.GetBytes(payload, "candidates.0.finishReason").String() != ""
	return frame{delta: delta, done: done}, nil
}

// ValidateConfiguration lists models as the probe.
func (a *GeminiAdapter) ValidateConfiguration(ctx context.Context) bool {
	return a.validate(ctx, func(ctx context.Context) error {
		return a.get(ctx, a.buildURL("/models"))
	})
}

var _ Adapter = (*GeminiAdapter)(nil)
