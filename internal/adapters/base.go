package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/compresr/agent-bridge/internal/jsonpath"
	"github.com/compresr/agent-bridge/internal/records"
	"github.com/compresr/agent-bridge/internal/secrets"
)

const (
	// maxResponseSize prevents OOM on unexpectedly large API responses (10MB).
	maxResponseSize = 10 * 1024 * 1024

	// maxErrorBodyLen limits error bodies carried in error messages.
	maxErrorBodyLen = 500
)

// BaseAdapter holds the behavior shared by every backend family. Concrete
// adapters embed it and supply their wire shapes.
type BaseAdapter struct {
	name     string
	provider records.Provider
	model    records.Model
	client   *http.Client
	secret   *secrets.Resolver

	timeout       time.Duration
	streamTimeout time.Duration

	// apiKeyHeader is the header used by the api-key-header scheme unless the
	// provider overrides it with Extra["api_key_header"].
	apiKeyHeader string

	// protocolHeaders are wire-format headers (e.g. anthropic-version) sent
	// regardless of auth scheme.
	protocolHeaders map[string]string

	// authOverride replaces the provider's auth scheme when the transport
	// authenticates requests itself (Bedrock SigV4).
	authOverride records.AuthType
}

func newBase(name string, provider records.Provider, model records.Model, deps Deps) BaseAdapter {
	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{} // timeout via context, not client
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return BaseAdapter{
		name:            name,
		provider:        provider,
		model:           model,
		client:          client,
		secret:          secrets.NewResolver(provider.APIKey, provider.Code, deps.Lookup),
		timeout:         timeout,
		streamTimeout:   deps.StreamTimeout,
		apiKeyHeader:    "api-key",
		protocolHeaders: map[string]string{},
	}
}

// Name returns the adapter family.
func (a *BaseAdapter) Name() string { return a.name }

// Provider returns the provider record the adapter was built for.
func (a *BaseAdapter) Provider() records.Provider { return a.provider }

// Model returns the model record the adapter was built for.
func (a *BaseAdapter) Model() records.Model { return a.model }

func (a *BaseAdapter) code() string {
	if a.provider.Code != "" {
		return a.provider.Code
	}
	return a.name
}

// =============================================================================
// HEADERS & URL
// =============================================================================

func (a *BaseAdapter) authType() records.AuthType {
	if a.authOverride != "" {
		return a.authOverride
	}
	if a.provider.AuthType == "" {
		return records.AuthBearer
	}
	return a.provider.AuthType
}

// requiresCredential reports whether calls must carry a resolved credential.
func (a *BaseAdapter) requiresCredential() bool {
	return a.authType() != records.AuthCustomHeaders
}

func (a *BaseAdapter) credential() (string, error) {
	key, ok := a.secret.Resolve()
	if !ok {
		return "", newError(a.code(), KindConfiguration, ErrMissingCredential,
			"no API key configured for provider %q (set it on the provider or export one of %s)",
			a.provider.ID, strings.Join(secrets.CandidateKeys(a.provider.Code), ", "))
	}
	return key, nil
}

// buildHeaders returns the request headers for the provider's auth scheme:
//   - bearer:         Authorization: Bearer <credential>
//   - api-key-header: <header>: <credential>
//   - custom-headers: Extra["headers"] verbatim, no credential injected
//
// Extra["headers"] is also applied after the auth header for the other schemes.
func (a *BaseAdapter) buildHeaders() (http.Header, error) {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	for k, v := range a.protocolHeaders {
		h.Set(k, v)
	}

	switch a.authType() {
	case records.AuthBearer:
		key, err := a.credential()
		if err != nil {
			return nil, err
		}
		h.Set("Authorization", "Bearer "+key)
	case records.AuthAPIKeyHeader:
		key, err := a.credential()
		if err != nil {
			return nil, err
		}
		name := a.provider.ExtraString("api_key_header")
		if name == "" {
			name = a.apiKeyHeader
		}
		h.Set(name, key)
	case records.AuthCustomHeaders:
	default:
		return nil, newError(a.code(), KindConfiguration, nil, "unsupported auth type %q", a.provider.AuthType)
	}

	for k, v := range a.provider.ExtraHeaders() {
		h.Set(k, v)
	}
	return h, nil
}

// buildURL joins the provider base URL and the endpoint suffix (the model's,
// unless override is set) with exactly one slash between them.
func (a *BaseAdapter) buildURL(override string) string {
	endpoint := a.model.Endpoint
	if override != "" {
		endpoint = override
	}
	base := strings.TrimRight(a.provider.BaseURL, "/")
	if endpoint == "" {
		return base
	}
	return base + "/" + strings.TrimLeft(endpoint, "/")
}

// =============================================================================
// REQUEST BODY
// =============================================================================

// bodySpec names the request body fields of a backend family. An empty key
// omits the field.
type bodySpec struct {
	modelKey       string
	messagesKey    string
	streamKey      string
	temperatureKey string
	maxTokensKey   string
}

// buildBody assembles the request body in override order: model default
// params, model identifier, messages, stream flag, temperature and max tokens
// from opts, then opts.AdditionalParams.
func (a *BaseAdapter) buildBody(spec bodySpec, messages any, opts Options) ([]byte, error) {
	body := []byte(`{}`)
	var err error
	if len(a.model.DefaultParams) > 0 {
		if body, err = json.Marshal(a.model.DefaultParams); err != nil {
			return nil, newError(a.code(), KindConfiguration, err, "invalid default params on model %q: %v", a.model.ID, err)
		}
	}

	set := func(path string, v any) {
		if err == nil && path != "" {
			body, err = sjson.SetBytes(body, path, v)
		}
	}

	set(spec.modelKey, a.model.ModelID)
	set(spec.messagesKey, messages)
	set(spec.streamKey, opts.Stream)
	if opts.Temperature != nil {
		set(spec.temperatureKey, *opts.Temperature)
	}
	if opts.MaxTokens != nil {
		set(spec.maxTokensKey, *opts.MaxTokens)
	}
	for k, v := range opts.AdditionalParams {
		set(escapeKey(k), v)
	}

	if err != nil {
		return nil, newError(a.code(), KindConfiguration, err, "failed to build request body: %v", err)
	}
	return body, nil
}

// escapeKey makes a literal top-level key safe for sjson paths.
func escapeKey(k string) string {
	var b strings.Builder
	for _, r := range k {
		switch r {
		case '.', '*', '?', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// formatMessages is the default role/content projection.
func formatMessages(messages []Message) []wireMessage {
	out := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, wireMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

// splitSystem folds every system message into one string joined by blank
// lines, in order, and returns the remaining messages in their original order.
func splitSystem(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// =============================================================================
// RESPONSE EXTRACTION
// =============================================================================

// firstString returns the first path that resolves in doc. Blank paths are skipped.
func firstString(doc []byte, paths ...string) (string, bool) {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if v, ok := jsonpath.ReadString(doc, p); ok {
			return v, true
		}
	}
	return "", false
}

func firstInt(doc []byte, paths ...string) (int, bool) {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if v, ok := jsonpath.ReadInt(doc, p); ok {
			return v, true
		}
	}
	return 0, false
}

// configuredOr returns the model's configured path, or fallback when unset.
func configuredOr(configured, fallback string) string {
	if strings.TrimSpace(configured) != "" {
		return configured
	}
	return fallback
}

// extractContent reads the message text using the model's content path, or
// the backend default when the model has none.
func (a *BaseAdapter) extractContent(doc []byte, fallback string) (string, bool) {
	return firstString(doc, configuredOr(a.model.ContentPath, fallback))
}

// extractStreamContent reads one delta: the model's stream path, then its
// content path, then the backend default delta shape. The first path that
// resolves in this frame wins.
func (a *BaseAdapter) extractStreamContent(doc []byte, fallback string) (string, bool) {
	return firstString(doc, a.model.StreamPath, a.model.ContentPath, fallback)
}

// usagePaths lists the candidate paths for each counter.
type usagePaths struct {
	input  []string
	output []string
}

// usageCandidates uses the model's configured path for a counter when set,
// and the backend defaults only when it is blank.
func (a *BaseAdapter) usageCandidates(inputDefaults, outputDefaults []string) usagePaths {
	return usagePaths{
		input:  configuredOrAll(a.model.InputTokensPath, inputDefaults),
		output: configuredOrAll(a.model.OutputTokensPath, outputDefaults),
	}
}

func configuredOrAll(configured string, defaults []string) []string {
	if strings.TrimSpace(configured) != "" {
		return []string{configured}
	}
	return defaults
}

// extractUsage reads token counts. It returns nil when neither counter
// resolves, so "not reported" stays distinct from zero.
func extractUsage(doc []byte, paths usagePaths) *Usage {
	in, inOK := firstInt(doc, paths.input...)
	out, outOK := firstInt(doc, paths.output...)
	if !inOK && !outOK {
		return nil
	}
	return &Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out}
}

// usageAccumulator folds counters reported across stream frames. Later frames
// overwrite earlier values for the same counter.
type usageAccumulator struct {
	paths    usagePaths
	in, out  int
	reported bool
}

func (u *usageAccumulator) observe(doc []byte) {
	if v, ok := firstInt(doc, u.paths.input...); ok {
		u.in, u.reported = v, true
	}
	if v, ok := firstInt(doc, u.paths.output...); ok {
		u.out, u.reported = v, true
	}
}

func (u *usageAccumulator) usage() *Usage {
	if !u.reported {
		return nil
	}
	return &Usage{InputTokens: u.in, OutputTokens: u.out, TotalTokens: u.in + u.out}
}

// providerErrorMessage pulls an error message out of a provider JSON payload.
func providerErrorMessage(doc []byte) (string, bool) {
	if !gjson.ValidBytes(doc) {
		return "", false
	}
	for _, p := range []string{"error.message", "error", "message"} {
		if r := gjson.GetBytes(doc, p); r.Type == gjson.String && r.String() != "" {
			return r.String(), true
		}
	}
	return "", false
}

// payloadError turns an error object embedded in a stream frame into a ProviderError.
func (a *BaseAdapter) payloadError(doc []byte) *ProviderError {
	msg, ok := providerErrorMessage(doc)
	if !ok {
		msg = GenericErrorMessage
	}
	return newError(a.code(), KindTransport, nil, "stream error: %s", msg)
}

func (a *BaseAdapter) metadata(doc []byte) map[string]any {
	md := map[string]any{
		"provider": a.code(),
		"model":    a.model.ModelID,
	}
	if id := gjson.GetBytes(doc, "id"); id.Type == gjson.String {
		md["id"] = id.String()
	}
	return md
}

// =============================================================================
// TRANSPORT
// =============================================================================

func (a *BaseAdapter) newRequest(ctx context.Context, method, url string, body []byte) (*http.Request, error) {
	headers, err := a.buildHeaders()
	if err != nil {
		return nil, err
	}
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return nil, newError(a.code(), KindConfiguration, err, "failed to create request: %v", err)
	}
	req.Header = headers
	return req, nil
}

// do sends req and returns the body of a 2xx response. Callers own ctx timeouts.
func (a *BaseAdapter) do(ctx context.Context, req *http.Request) ([]byte, error) {
	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, wrapError(a.code(), KindAborted, ctx.Err())
		}
		return nil, newError(a.code(), KindTransport, err, "request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		if ctx.Err() != nil {
			return nil, wrapError(a.code(), KindAborted, ctx.Err())
		}
		return nil, newError(a.code(), KindTransport, err, "failed to read response: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, a.statusError(resp.StatusCode, respBody)
	}
	return respBody, nil
}

func (a *BaseAdapter) statusError(status int, body []byte) *ProviderError {
	msg, ok := providerErrorMessage(body)
	if !ok {
		msg = string(body)
		if len(msg) > maxErrorBodyLen {
			msg = msg[:maxErrorBodyLen] + "... (truncated)"
		}
	}
	pe := newError(a.code(), KindTransport, nil, "API returned status %d: %s", status, msg)
	pe.Status = status
	return pe
}

// post sends a JSON body and returns the raw response body.
func (a *BaseAdapter) post(ctx context.Context, url string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := a.newRequest(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	respBody, err := a.do(ctx, req)
	log.Debug().
		Str("provider", a.code()).
		Str("model", a.model.ModelID).
		Dur("latency", time.Since(start)).
		Bool("ok", err == nil).
		Msg("adapter: request completed")
	return respBody, err
}

// get issues a probe request and discards the body.
func (a *BaseAdapter) get(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	req, err := a.newRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Del("Content-Type")
	_, err = a.do(ctx, req)
	return err
}

// sendJSON posts body and decodes content and usage. A body that is not JSON
// is a decode error; a JSON body without content yields empty content.
func (a *BaseAdapter) sendJSON(ctx context.Context, url string, body []byte, contentPath string, usage usagePaths) (*Response, error) {
	raw, err := a.post(ctx, url, body)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(raw) {
		return nil, newError(a.code(), KindDecode, nil, "response is not valid JSON")
	}

	content, ok := a.extractContent(raw, contentPath)
	if !ok {
		log.Warn().
			Str("provider", a.code()).
			Str("model", a.model.ModelID).
			Str("path", configuredOr(a.model.ContentPath, contentPath)).
			Msg("adapter: content path did not resolve")
	}
	return &Response{
		Content:  content,
		Usage:    extractUsage(raw, usage),
		Metadata: a.metadata(raw),
	}, nil
}

// validate runs the shared credential check then the adapter's probe.
func (a *BaseAdapter) validate(ctx context.Context, probe func(context.Context) error) bool {
	if a.requiresCredential() {
		if _, ok := a.secret.Resolve(); !ok {
			log.Info().Str("provider", a.code()).Str("provider_id", a.provider.ID).Msg("adapter: validation failed, no credential")
			return false
		}
	}
	if err := probe(ctx); err != nil {
		log.Info().Err(err).Str("provider", a.code()).Str("provider_id", a.provider.ID).Msg("adapter: validation probe failed")
		return false
	}
	return true
}
