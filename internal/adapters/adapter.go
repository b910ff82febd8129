// Package adapters turns a resolved agent context into HTTP calls against
// heterogeneous chat-completion APIs.
//
// DESIGN: Each backend family (OpenAI-style, Anthropic-style, Gemini, Bedrock)
// differs in auth headers, request envelope and response shape. Adapters hide
// those differences behind one contract:
//
//   - SendMessage:           one request, one normalized Response
//   - StreamMessage:         incremental StreamEvents on a channel
//   - ValidateConfiguration: credential present and a cheap probe succeeds
//
// Content and usage are read through the model's configured JSON paths (see
// package jsonpath), falling back to per-backend defaults, so new models need
// no code changes.
//
// FLOW:
//  1. Manager asks the Registry for the adapter matching provider.Code
//  2. BaseAdapter builds headers, URL and body (default params → model →
//     messages → stream flag → temperature/max tokens → additional params)
//  3. The concrete adapter decodes the JSON body or the SSE frames
//
// To add a new backend: implement Adapter (usually by embedding BaseAdapter)
// and register a Factory in the Registry.
package adapters

import (
	"context"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/compresr/agent-bridge/internal/secrets"
)

// Adapter is the per-backend implementation of the send/stream/validate contract.
// Adapters are safe for concurrent use.
type Adapter interface {
	// Name returns the adapter family, e.g. "openai", "anthropic".
	Name() string

	// SendMessage performs one non-streaming call. Failures are *ProviderError.
	SendMessage(ctx context.Context, messages []Message, opts Options) (*Response, error)

	// StreamMessage starts a streaming call. It never fails synchronously: the
	// returned channel yields zero or more chunk events followed by exactly one
	// complete or error event, then is closed. Callers must drain it.
	// Cancelling ctx aborts the transport and yields an error of KindAborted.
	StreamMessage(ctx context.Context, messages []Message, opts Options) <-chan StreamEvent

	// ValidateConfiguration reports whether a credential resolves and a cheap
	// probe call succeeds. It never panics or returns an error.
	ValidateConfiguration(ctx context.Context) bool
}

// Role is a message author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation entry. Order is significant.
type Message struct {
	Role     Role           `json:"role"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Options is the per-call configuration bag. AdditionalParams are merged last,
// so they override everything else in the request body.
type Options struct {
	Stream           bool
	Temperature      *float64
	MaxTokens        *int
	AdditionalParams map[string]any
}

// Usage is the token accounting reported by a provider.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Response is the terminal result of a non-streaming call. Usage is nil when
// the provider did not report it, which is distinct from zero usage.
type Response struct {
	Content  string         `json:"content"`
	Usage    *Usage         `json:"usage,omitempty"`
	Metadata map[string]any `json:"metadata"`
}

// EventType tags a StreamEvent.
type EventType string

const (
	EventChunk    EventType = "chunk"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// StreamEvent is one unit of a streamed response.
//
//   - chunk:    Data holds one delta
//   - complete: Data holds the concatenation of every chunk, Usage if reported
//   - error:    Err holds the failure
type StreamEvent struct {
	Type  EventType
	Data  string
	Usage *Usage
	Err   error
}

// Deps carries the collaborators shared by every adapter the Registry builds.
type Deps struct {
	// HTTPClient performs requests. Nil uses a client with no timeout; request
	// lifetimes are bounded by context instead.
	HTTPClient *http.Client

	// Lookup is the environment-style credential fallback. Nil disables it.
	Lookup secrets.LookupFunc

	// Timeout bounds non-streaming calls and validation probes. Zero means DefaultTimeout.
	Timeout time.Duration

	// StreamTimeout bounds a whole stream. Zero means no bound beyond ctx.
	StreamTimeout time.Duration

	// AWSCredentials signs Bedrock requests. Nil loads the default AWS
	// credential chain on first use.
	AWSCredentials aws.CredentialsProvider
}

// DefaultTimeout for non-streaming calls.
const DefaultTimeout = 60 * time.Second

// Float64 returns a pointer to v, for Options.Temperature.
func Float64(v float64) *float64 { return &v }

// Int returns a pointer to v, for Options.MaxTokens.
func Int(v int) *int { return &v }
