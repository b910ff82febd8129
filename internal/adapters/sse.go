package adapters

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

// maxFrameSize bounds a single SSE event frame.
const maxFrameSize = 1024 * 1024

// =============================================================================
// SSE FRAME READER
// =============================================================================

// frameReader splits an SSE byte stream into event frames on blank lines and
// returns the payload of each frame's "data:" lines. Frames without data
// (comments, bare "event:" lines, keep-alives) are skipped.
//
//	event: content_block_delta
//	data: {"type":"content_block_delta","delta":{"text":"Hi"}}
//
//	data: [DONE]
type frameReader struct {
	scanner *bufio.Scanner
}

func newFrameReader(r io.Reader) *frameReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	s.Split(splitFrames)
	return &frameReader{scanner: s}
}

// Next returns the next data payload, or io.EOF when the stream ends.
func (fr *frameReader) Next() ([]byte, error) {
	for fr.scanner.Scan() {
		if payload, ok := framePayload(fr.scanner.Bytes()); ok {
			return payload, nil
		}
	}
	if err := fr.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// splitFrames is a bufio.SplitFunc that yields one SSE frame per token.
func splitFrames(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i, n := frameBoundary(data); i >= 0 {
		return i + n, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// frameBoundary finds the earliest blank-line delimiter and its length.
func frameBoundary(data []byte) (int, int) {
	best, size := -1, 0
	for _, delim := range [][]byte{[]byte("\r\n\r\n"), []byte("\n\n"), []byte("\r\r")} {
		if i := bytes.Index(data, delim); i >= 0 && (best == -1 || i < best) {
			best, size = i, len(delim)
		}
	}
	return best, size
}

// framePayload joins the frame's data lines with newlines.
func framePayload(frame []byte) ([]byte, bool) {
	var parts [][]byte
	for _, line := range bytes.Split(frame, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		line = bytes.TrimPrefix(line, []byte("data:"))
		line = bytes.TrimPrefix(line, []byte(" "))
		parts = append(parts, line)
	}
	if len(parts) == 0 {
		return nil, false
	}
	return bytes.Join(parts, []byte("\n")), true
}

// =============================================================================
// STREAM LOOP
// =============================================================================

// frame is what a backend decoder makes of one payload.
type frame struct {
	delta string
	done  bool
}

// streamSpec is the per-backend part of a streaming call.
type streamSpec struct {
	decode func(payload []byte) (frame, error)
	usage  usagePaths
}

// openStream sends the request and returns the body of a 2xx response.
func (a *BaseAdapter) openStream(ctx context.Context, url string, body []byte) (io.ReadCloser, error) {
	req, err := a.newRequest(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, wrapError(a.code(), KindAborted, ctx.Err())
		}
		return nil, newError(a.code(), KindTransport, err, "stream request failed: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen*2))
		return nil, a.statusError(resp.StatusCode, errBody)
	}
	return resp.Body, nil
}

// stream runs one streaming call in a goroutine. Deltas are emitted in
// arrival order and accumulated; exactly one terminal event follows, then the
// channel is closed. Chunk sends give up when ctx is cancelled; the terminal
// send always completes, so consumers must drain the channel.
func (a *BaseAdapter) stream(ctx context.Context, url string, body []byte, spec streamSpec) <-chan StreamEvent {
	events := make(chan StreamEvent, 16)

	go func() {
		defer close(events)

		var acc strings.Builder
		usage := usageAccumulator{paths: spec.usage}
		terminated := false
		finish := func(ev StreamEvent) {
			if terminated {
				return
			}
			terminated = true
			events <- ev
		}
		fail := func(err error) {
			finish(StreamEvent{Type: EventError, Err: err})
		}

		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("provider", a.code()).Msg("adapter: stream panicked")
				fail(PanicError(a.code(), r))
			}
		}()

		if a.streamTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, a.streamTimeout)
			defer cancel()
		}

		rc, err := a.openStream(ctx, url, body)
		if err != nil {
			fail(err)
			return
		}
		defer rc.Close()

		reader := newFrameReader(rc)
		for {
			payload, err := reader.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				if ctx.Err() != nil {
					fail(wrapError(a.code(), KindAborted, ctx.Err()))
					return
				}
				if errors.Is(err, bufio.ErrTooLong) {
					fail(newError(a.code(), KindDecode, err, "stream frame exceeds %d bytes", maxFrameSize))
					return
				}
				fail(newError(a.code(), KindTransport, err, "stream read failed: %v", err))
				return
			}

			f, err := spec.decode(payload)
			if err != nil {
				fail(wrapError(a.code(), KindDecode, err))
				return
			}
			usage.observe(payload)

			if f.delta != "" {
				acc.WriteString(f.delta)
				select {
				case events <- StreamEvent{Type: EventChunk, Data: f.delta}:
				case <-ctx.Done():
					fail(wrapError(a.code(), KindAborted, ctx.Err()))
					return
				}
			}
			if f.done {
				break
			}
		}

		if ctx.Err() != nil {
			fail(wrapError(a.code(), KindAborted, ctx.Err()))
			return
		}
		finish(StreamEvent{Type: EventComplete, Data: acc.String(), Usage: usage.usage()})
	}()

	return events
}

// ErrorStream returns a closed channel carrying a single error event.
func ErrorStream(err error) <-chan StreamEvent {
	events := make(chan StreamEvent, 1)
	events <- StreamEvent{Type: EventError, Err: err}
	close(events)
	return events
}
