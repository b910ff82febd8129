package adapters

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/sjson"

	"github.com/compresr/agent-bridge/internal/records"
)

const (
	bedrockDefaultRegion   = "us-east-1"
	bedrockDefaultEndpoint = "/model/{model}/invoke"

	// bedrockAnthropicVersion is the body field Bedrock requires for Claude models.
	bedrockAnthropicVersion = "bedrock-2023-05-31"
)

// BedrockAdapter handles AWS Bedrock with Anthropic models (Claude), which use
// the Messages API envelope.
//
// The key differences from direct Anthropic are:
//   - Authentication: AWS SigV4 on the transport instead of x-api-key
//   - URL pattern: /model/{modelId}/invoke instead of /v1/messages
//   - Body: anthropic_version in the body, no model or stream fields
//   - Streaming: one invoke, emitted as a single chunk then complete
type BedrockAdapter struct {
	BaseAdapter
	region      string
	credentials aws.CredentialsProvider
}

// NewBedrockAdapter creates an adapter for one provider/model pair. The region
// comes from Extra["region"], then AWS_REGION, then us-east-1.
func NewBedrockAdapter(provider records.Provider, model records.Model, deps Deps) *BedrockAdapter {
	region := provider.ExtraString("region")
	if region == "" && deps.Lookup != nil {
		if v, ok := deps.Lookup("AWS_REGION"); ok {
			region = strings.TrimSpace(v)
		}
	}
	if region == "" {
		region = bedrockDefaultRegion
	}

	creds := deps.AWSCredentials
	if creds == nil {
		creds = defaultCredentials(region)
	}

	var base http.RoundTripper
	client := &http.Client{}
	if deps.HTTPClient != nil {
		base = deps.HTTPClient.Transport
		client.Timeout = deps.HTTPClient.Timeout
	}
	client.Transport = newSigningTransport(creds, region, base)
	deps.HTTPClient = client

	a := &BedrockAdapter{
		BaseAdapter: newBase("bedrock", provider, model, deps),
		region:      region,
		credentials: creds,
	}
	a.authOverride = records.AuthCustomHeaders
	return a
}

var bedrockBody = bodySpec{
	messagesKey:    "messages",
	temperatureKey: "temperature",
	maxTokensKey:   "max_tokens",
}

// Region returns the signing region.
func (a *BedrockAdapter) Region() string { return a.region }

func (a *BedrockAdapter) url() string {
	endpoint := a.model.Endpoint
	if endpoint == "" {
		endpoint = bedrockDefaultEndpoint
	}
	endpoint = strings.ReplaceAll(endpoint, "{model}", url.PathEscape(a.model.ModelID))
	if a.provider.BaseURL == "" {
		return fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com/%s", a.region, strings.TrimLeft(endpoint, "/"))
	}
	return a.buildURL(endpoint)
}

func (a *BedrockAdapter) body(messages []Message, opts Options) ([]byte, error) {
	system, rest := splitSystem(messages)
	body, err := buildAnthropicBody(&a.BaseAdapter, bedrockBody, system, rest, opts)
	if err != nil {
		return nil, err
	}
	version := a.provider.ExtraString("anthropic_version")
	if version == "" {
		version = bedrockAnthropicVersion
	}
	if body, err = sjson.SetBytes(body, "anthropic_version", version); err != nil {
		return nil, newError(a.code(), KindConfiguration, err, "failed to build request body: %v", err)
	}
	return body, nil
}

func (a *BedrockAdapter) usage() usagePaths {
	return a.usageCandidates([]string{anthropicInputTokensPath}, []string{anthropicOutputTokensPath})
}

// SendMessage invokes the model once.
func (a *BedrockAdapter) SendMessage(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	opts.Stream = false
	body, err := a.body(messages, opts)
	if err != nil {
		return nil, err
	}
	return a.sendJSON(ctx, a.url(), body, anthropicContentPath, a.usage())
}

// StreamMessage invokes the model once and replays the result as one chunk
// followed by complete.
func (a *BedrockAdapter) StreamMessage(ctx context.Context, messages []Message, opts Options) <-chan StreamEvent {
	events := make(chan StreamEvent, 2)
	go func() {
		defer close(events)
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("provider", a.code()).Msg("adapter: stream panicked")
				events <- StreamEvent{Type: EventError, Err: PanicError(a.code(), r)}
			}
		}()

		if a.streamTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, a.streamTimeout)
			defer cancel()
		}

		resp, err := a.SendMessage(ctx, messages, opts)
		if err != nil {
			events <- StreamEvent{Type: EventError, Err: wrapError(a.code(), KindUnknown, err)}
			return
		}
		if ctx.Err() != nil {
			events <- StreamEvent{Type: EventError, Err: wrapError(a.code(), KindAborted, ctx.Err())}
			return
		}
		if resp.Content != "" {
			events <- StreamEvent{Type: EventChunk, Data: resp.Content}
		}
		events <- StreamEvent{Type: EventComplete, Data: resp.Content, Usage: resp.Usage}
	}()
	return events
}

// ValidateConfiguration checks that AWS credentials resolve. Bedrock has no
// free authenticated probe on the runtime endpoint.
func (a *BedrockAdapter) ValidateConfiguration(ctx context.Context) bool {
	return a.validate(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		_, err := a.credentials.Retrieve(ctx)
		return err
	})
}

var _ Adapter = (*BedrockAdapter)(nil)
