package adapters

import (
	"context"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/compresr/agent-bridge/internal/records"
)

// Anthropic-style defaults.
const (
	anthropicContentPath      = "content[0].text"
	anthropicDeltaPath        = "delta.text"
	anthropicInputTokensPath  = "usage.input_tokens"
	anthropicOutputTokensPath = "usage.output_tokens"
	anthropicDefaultEndpoint  = "/v1/messages"

	// anthropicVersion is the Anthropic API version header value.
	anthropicVersion = "2023-06-01"

	// anthropicDefaultMaxTokens is sent when neither the model nor the call sets
	// max_tokens; the Messages API rejects requests without it.
	anthropicDefaultMaxTokens = 4096
)

// AnthropicAdapter speaks the Messages API.
//
// Wire format:
//   - Request:  {"model", "system", "messages": [{role, content}], "max_tokens", "stream"}
//   - Response: {"content": [{"type": "text", "text"}], "usage": {"input_tokens", "output_tokens"}}
//   - Stream:   typed events; text arrives in content_block_delta, message_stop ends the stream
//
// The Messages API has no system role, so system messages are folded into the
// top-level "system" field.
type AnthropicAdapter struct {
	BaseAdapter
}

// NewAnthropicAdapter creates an adapter for one provider/model pair.
func NewAnthropicAdapter(provider records.Provider, model records.Model, deps Deps) *AnthropicAdapter {
	a := &AnthropicAdapter{BaseAdapter: newBase("anthropic", provider, model, deps)}
	a.apiKeyHeader = "x-api-key"
	version := provider.ExtraString("anthropic_version")
	if version == "" {
		version = anthropicVersion
	}
	a.protocolHeaders["anthropic-version"] = version
	return a
}

var anthropicBody = bodySpec{
	modelKey:       "model",
	messagesKey:    "messages",
	streamKey:      "stream",
	temperatureKey: "temperature",
	maxTokensKey:   "max_tokens",
}

func (a *AnthropicAdapter) url() string {
	if a.model.Endpoint == "" {
		return a.buildURL(anthropicDefaultEndpoint)
	}
	return a.buildURL("")
}

func (a *AnthropicAdapter) usage() usagePaths {
	return a.usageCandidates(
		[]string{anthropicInputTokensPath, "message.usage.input_tokens"},
		[]string{anthropicOutputTokensPath},
	)
}

// body folds system messages and applies the max_tokens default.
func (a *AnthropicAdapter) body(messages []Message, opts Options) ([]byte, error) {
	system, rest := splitSystem(messages)
	return buildAnthropicBody(&a.BaseAdapter, anthropicBody, system, rest, opts)
}

// buildAnthropicBody is shared with the Bedrock adapter, which sends the same
// envelope without the model and stream fields.
func buildAnthropicBody(a *BaseAdapter, spec bodySpec, system string, rest []Message, opts Options) ([]byte, error) {
	body, err := a.buildBody(spec, formatMessages(rest), opts)
	if err != nil {
		return nil, err
	}
	if system != "" && !gjson.GetBytes(body, "system").Exists() {
		if body, err = sjson.SetBytes(body, "system", system); err != nil {
			return nil, newError(a.code(), KindConfiguration, err, "failed to build request body: %v", err)
		}
	}
	if !gjson.GetBytes(body, "max_tokens").Exists() {
		if body, err = sjson.SetBytes(body, "max_tokens", anthropicDefaultMaxTokens); err != nil {
			return nil, newError(a.code(), KindConfiguration, err, "failed to build request body: %v", err)
		}
	}
	return body, nil
}

// SendMessage performs a non-streaming Messages call.
func (a *AnthropicAdapter) SendMessage(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	opts.Stream = false
	body, err := a.body(messages, opts)
	if err != nil {
		return nil, err
	}
	return a.sendJSON(ctx, a.url(), body, anthropicContentPath, a.usage())
}

// StreamMessage performs a streaming Messages call.
func (a *AnthropicAdapter) StreamMessage(ctx context.Context, messages []Message, opts Options) <-chan StreamEvent {
	opts.Stream = true
	body, err := a.body(messages, opts)
	if err != nil {
		return ErrorStream(err)
	}
	return a.stream(ctx, a.url(), body, streamSpec{decode: a.decodeFrame, usage: a.usage()})
}

// decodeFrame handles one typed stream event:
//
//	message_start       → usage.input_tokens (via message.usage)
//	content_block_delta → delta.text
//	message_delta       → usage.output_tokens
//	message_stop        → end of stream
//	error               → error.message
func (a *AnthropicAdapter) decodeFrame(payload []byte) (frame, error) {
	if !gjson.ValidBytes(payload) {
		return frame{}, newError(a.code(), KindDecode, nil, "malformed stream event: %.120s", payload)
	}
	switch gjson.GetBytes(payload, "type").String() {
	case "message_stop":
		return frame{done: true}, nil
	case "error":
		return frame{}, a.payloadError(payload)
	case "content_block_delta":
		delta, _ := a.extractStreamContent(payload, anthropicDeltaPath)
		return frame{delta: delta}, nil
	}
	return frame{}, nil
}

// ValidateConfiguration sends a one-token completion as the probe; the
// Messages API has no cheaper authenticated endpoint shared by all deployments.
func (a *AnthropicAdapter) ValidateConfiguration(ctx context.Context) bool {
	return a.validate(ctx, func(ctx context.Context) error {
		_, err := a.SendMessage(ctx, []Message{{Role: RoleUser, Content: "ping"}}, Options{MaxTokens: Int(1)})
		return err
	})
}

var _ Adapter = (*AnthropicAdapter)(nil)
