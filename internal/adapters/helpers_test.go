package adapters

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// captured is the last request seen by a test server.
type captured struct {
	mu     sync.Mutex
	method string
	path   string
	query  string
	header http.Header
	body   map[string]any
	calls  int
}

func (c *captured) record(r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.method = r.Method
	c.path = r.URL.Path
	c.query = r.URL.RawQuery
	c.header = r.Header.Clone()
	c.body = nil
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &c.body)
	}
	c.calls++
}

func (c *captured) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// jsonServer replies to every request with status and body.
func jsonServer(t *testing.T, status int, body string) (*httptest.Server, *captured) {
	t.Helper()
	c := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.record(r)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

// sseServer writes frames one at a time, flushing after each.
func sseServer(t *testing.T, frames ...string) (*httptest.Server, *captured) {
	t.Helper()
	c := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.record(r)
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		for _, f := range frames {
			_, _ = io.WriteString(w, f)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

// drain collects chunk payloads and the single terminal event.
func drain(t *testing.T, events <-chan StreamEvent) ([]string, StreamEvent) {
	t.Helper()
	var chunks []string
	var terminal StreamEvent
	terminals := 0
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				require.Equal(t, 1, terminals, "expected exactly one terminal event")
				return chunks, terminal
			}
			switch ev.Type {
			case EventChunk:
				require.Zero(t, terminals, "chunk after terminal event")
				chunks = append(chunks, ev.Data)
			case EventComplete, EventError:
				terminals++
				terminal = ev
			}
		case <-timeout:
			t.Fatal("stream did not finish")
		}
	}
}

func userMessages(content string) []Message {
	return []Message{{Role: RoleUser, Content: content}}
}
