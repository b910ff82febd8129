package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/agent-bridge/internal/records"
)

// backend fakes an OpenAI-compatible provider.
func backend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		switch {
		case r.URL.Path == "/models":
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"data":[]}`)
		case bytes.Contains(raw, []byte(`"stream":true`)):
			w.Header().Set("Content-Type", "text/event-stream")
			_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
			_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
			_, _ = io.WriteString(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":4,\"completion_tokens\":2}}\n\n")
			_, _ = io.WriteString(w, "data: [DONE]\n\n")
		default:
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"Hello"}}],"usage":{"prompt_tokens":3,"completion_tokens":2}}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// writeConfig writes a records file pointing at baseURL and a config that
// reads it, returning the config path.
func writeConfig(t *testing.T, baseURL string) string {
	t.Helper()
	dir := t.TempDir()

	recordsPath := filepath.Join(dir, "records.yaml")
	recordsYAML := fmt.Sprintf(`
providers:
  - id: local
    code: openai
    base_url: %s
    auth_type: custom-headers
    api_key: sk-test-1234567890
    extra:
      headers:
        X-Team-Token: team-secret-value
models:
  - id: m1
    provider_id: local
    model_id: gpt-test
agents:
  - id: helper
    name: Helper
    instructions: Be brief.
    model_id: m1
  - id: orphan
    name: Orphan
`, baseURL)
	require.NoError(t, os.WriteFile(recordsPath, []byte(recordsYAML), 0600))

	configPath := filepath.Join(dir, "config.yaml")
	configYAML := fmt.Sprintf(`
records:
  type: file
  path: %s
monitoring:
  log_level: error
  log_format: json
`, recordsPath)
	require.NoError(t, os.WriteFile(configPath, []byte(configYAML), 0600))
	return configPath
}

func runCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Usage(t *testing.T) {
	t.Setenv("AGENT_BRIDGE_RECORDS_PATH", "")

	tests := []struct {
		name string
		args []string
		code int
	}{
		{"no command", nil, exitUsage},
		{"unknown command", []string{"deploy"}, exitUsage},
		{"help", []string{"help"}, exitOK},
		{"send without message", []string{"send", "helper"}, exitUsage},
		{"validate with extra arg", []string{"validate", "a", "b"}, exitUsage},
		{"bad temperature", []string{"send", "--temperature", "hot", "helper", "hi"}, exitUsage},
		{"bad params", []string{"stream", "--params", "[1,2]", "helper", "hi"}, exitUsage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, _ := runCLI(tt.args...)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestRun_Version(t *testing.T) {
	code, out, _ := runCLI("version")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, Version)
}

func TestRun_Send(t *testing.T) {
	t.Setenv("AGENT_BRIDGE_RECORDS_PATH", "")
	cfg := writeConfig(t, backend(t).URL)

	code, out, errOut := runCLI("send", "--config", cfg, "--max-tokens", "10", "helper", "say", "hi")
	require.Equal(t, exitOK, code, errOut)
	assert.Equal(t, "Hello\n", out)
	assert.Contains(t, errOut, "input=3 output=2 total=5")
}

func TestRun_Stream(t *testing.T) {
	t.Setenv("AGENT_BRIDGE_RECORDS_PATH", "")
	cfg := writeConfig(t, backend(t).URL)

	code, out, errOut := runCLI("stream", "--config", cfg, "helper", "hi")
	require.Equal(t, exitOK, code, errOut)
	assert.Equal(t, "Hello\n", out)
	assert.Contains(t, errOut, "input=4 output=2 total=6")
}

func TestRun_SendUnknownAgent(t *testing.T) {
	t.Setenv("AGENT_BRIDGE_RECORDS_PATH", "")
	cfg := writeConfig(t, backend(t).URL)

	code, _, errOut := runCLI("send", "--config", cfg, "ghost", "hi")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, errOut, "agent_not_found")
	assert.Contains(t, errOut, "agent not found: ghost")
}

func TestRun_Validate(t *testing.T) {
	t.Setenv("AGENT_BRIDGE_RECORDS_PATH", "")
	cfg := writeConfig(t, backend(t).URL)

	code, out, _ := runCLI("validate", "--config", cfg, "helper")
	assert.Equal(t, exitOK, code)
	assert.Equal(t, "helper: ok\n", out)

	code, out, _ = runCLI("validate", "--config", cfg, "orphan")
	assert.Equal(t, exitFailure, code)
	assert.Equal(t, "orphan: invalid\n", out)
}

func TestRun_ContextRedactsSecrets(t *testing.T) {
	t.Setenv("AGENT_BRIDGE_RECORDS_PATH", "")
	cfg := writeConfig(t, backend(t).URL)

	code, out, errOut := runCLI("context", "--config", cfg, "helper")
	require.Equal(t, exitOK, code, errOut)
	assert.Contains(t, out, `"id": "helper"`)
	assert.Contains(t, out, `"model_id": "gpt-test"`)
	assert.Contains(t, out, "sk-t...7890")
	assert.NotContains(t, out, "sk-test-1234567890")
	assert.NotContains(t, out, "team-secret-value")

	code, _, errOut = runCLI("context", "--config", cfg, "orphan")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, errOut, "agent_has_no_model")
}

func TestRun_Agents(t *testing.T) {
	t.Setenv("AGENT_BRIDGE_RECORDS_PATH", "")
	cfg := writeConfig(t, backend(t).URL)

	code, out, _ := runCLI("agents", "--config", cfg)
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "ID")
	assert.Regexp(t, `helper\s+Helper\s+m1`, out)
	assert.Regexp(t, `orphan\s+Orphan\s+-`, out)
}

func TestRun_MissingConfigFile(t *testing.T) {
	code, _, errOut := runCLI("agents", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, errOut, "config file not found")
}

func TestMaskKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"short", "****"},
		{"12345678", "****"},
		{"sk-abcdefghij", "sk-a...ghij"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, maskKey(tt.in))
		})
	}
}

func TestRedactProvider_LeavesOriginalIntact(t *testing.T) {
	p := records.Provider{
		APIKey: "sk-abcdefghij",
		Extra: map[string]any{
			"headers": map[string]any{"X-Key": "secret-header-value"},
			"region":  "us-west-2",
		},
	}

	got := redactProvider(p)

	assert.Equal(t, "sk-a...ghij", got.APIKey)
	assert.Equal(t, map[string]string{"X-Key": "secr...alue"}, got.Extra["headers"])
	assert.Equal(t, "us-west-2", got.Extra["region"])
	assert.Equal(t, "secret-header-value", p.Extra["headers"].(map[string]any)["X-Key"])
}

func TestParseParams(t *testing.T) {
	params, err := parseParams(`{"top_p":0.5,"stop":["\n"]}`)
	require.NoError(t, err)
	assert.Equal(t, 0.5, params["top_p"])
	assert.Equal(t, []any{"\n"}, params["stop"])

	_, err = parseParams(`{broken`)
	assert.ErrorContains(t, err, "valid JSON")

	_, err = parseParams(`"text"`)
	assert.ErrorContains(t, err, "JSON object")
}

func TestResolveConfig_EmbeddedFallback(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	data, source, err := resolveConfig("")
	require.NoError(t, err)
	assert.Equal(t, "(embedded) config.yaml", source)
	assert.Contains(t, string(data), "records:")
}
