// Package jsonpath reads values out of arbitrary JSON documents using the
// dotted/bracket path expressions stored on model records.
//
// DESIGN: A path is a dot-separated list of keys, each optionally followed by
// one or more [N] array indices:
//
//	choices[0].message.content
//	candidates[0].content.parts[0].text
//	[0].text                       (root array)
//
// Paths are compiled into segments and walked over gjson.Result values
// recursively. A structurally absent path is never an error: the walk
// short-circuits to "absent" as soon as a node is missing or null. Only a
// malformed expression is an error, and Read logs it and reports "absent".
package jsonpath

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// Segment is one dot-separated component of a path.
type Segment struct {
	Key     string // empty only when the segment is a bare index on the current node
	Indices []int
}

// Path is a compiled path expression.
type Path struct {
	raw      string
	segments []Segment
}

// String returns the source expression.
func (p Path) String() string { return p.raw }

// Segments returns the compiled segments.
func (p Path) Segments() []Segment { return p.segments }

// Compile parses a path expression. The empty string compiles to an empty
// path, which never resolves.
func Compile(expr string) (Path, error) {
	p := Path{raw: expr}
	if strings.TrimSpace(expr) == "" {
		return p, nil
	}

	for i, part := range strings.Split(expr, ".") {
		seg, err := parseSegment(part)
		if err != nil {
			return Path{}, fmt.Errorf("invalid path %q at segment %d: %w", expr, i, err)
		}
		p.segments = append(p.segments, seg)
	}
	return p, nil
}

func parseSegment(part string) (Segment, error) {
	if part == "" {
		return Segment{}, fmt.Errorf("empty segment")
	}

	open := strings.IndexByte(part, '[')
	if open == -1 {
		if strings.IndexByte(part, ']') != -1 {
			return Segment{}, fmt.Errorf("unexpected ']' in %q", part)
		}
		return Segment{Key: part}, nil
	}

	seg := Segment{Key: part[:open]}
	if strings.IndexByte(seg.Key, ']') != -1 {
		return Segment{}, fmt.Errorf("unexpected ']' in %q", part)
	}

	rest := part[open:]
	for rest != "" {
		if rest[0] != '[' {
			return Segment{}, fmt.Errorf("unexpected %q after index in %q", rest, part)
		}
		end := strings.IndexByte(rest, ']')
		if end == -1 {
			return Segment{}, fmt.Errorf("unclosed '[' in %q", part)
		}
		idx, err := strconv.Atoi(rest[1:end])
		if err != nil || idx < 0 {
			return Segment{}, fmt.Errorf("index %q is not a non-negative integer", rest[1:end])
		}
		seg.Indices = append(seg.Indices, idx)
		rest = rest[end+1:]
	}
	return seg, nil
}

// Lookup walks the compiled path over an already-parsed value.
func (p Path) Lookup(root gjson.Result) (gjson.Result, bool) {
	if len(p.segments) == 0 {
		return gjson.Result{}, false
	}
	return walk(root, p.segments)
}

func walk(cur gjson.Result, segs []Segment) (gjson.Result, bool) {
	if !present(cur) {
		return gjson.Result{}, false
	}
	if len(segs) == 0 {
		return cur, true
	}

	seg := segs[0]
	next := cur
	if seg.Key != "" {
		var ok bool
		if next, ok = member(cur, seg.Key); !ok {
			return gjson.Result{}, false
		}
	}

	for _, idx := range seg.Indices {
		if !present(next) || !next.IsArray() {
			return gjson.Result{}, false
		}
		items := next.Array()
		if idx >= len(items) {
			return gjson.Result{}, false
		}
		next = items[idx]
	}

	return walk(next, segs[1:])
}

// member returns the value stored under key. Keys are compared literally so
// characters that gjson treats as path syntax need no escaping. Duplicate keys
// resolve to the last occurrence, as encoding/json does.
func member(obj gjson.Result, key string) (gjson.Result, bool) {
	if !obj.IsObject() {
		return gjson.Result{}, false
	}
	var found gjson.Result
	var ok bool
	obj.ForEach(func(k, v gjson.Result) bool {
		if k.String() == key {
			found, ok = v, true
		}
		return true
	})
	return found, ok
}

func present(r gjson.Result) bool {
	return r.Exists() && r.Type != gjson.Null
}

// Read extracts the value at path from a raw JSON document. It returns false
// when the path is empty, absent, resolves to null, or is malformed; malformed
// expressions and invalid documents are logged, never returned.
func Read(doc []byte, path string) (gjson.Result, bool) {
	p, err := Compile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("jsonpath: malformed path expression")
		return gjson.Result{}, false
	}
	if len(p.segments) == 0 {
		return gjson.Result{}, false
	}
	if !gjson.ValidBytes(doc) {
		log.Debug().Str("path", path).Int("bytes", len(doc)).Msg("jsonpath: document is not valid JSON")
		return gjson.Result{}, false
	}
	return p.Lookup(gjson.ParseBytes(doc))
}

// ReadString extracts a string value. Non-string scalars are rendered with
// their JSON text, so a numeric content field still yields text.
func ReadString(doc []byte, path string) (string, bool) {
	r, ok := Read(doc, path)
	if !ok {
		return "", false
	}
	return r.String(), true
}

// ReadInt extracts a numeric value as an int.
func ReadInt(doc []byte, path string) (int, bool) {
	r, ok := Read(doc, path)
	if !ok || r.Type != gjson.Number {
		return 0, false
	}
	return int(r.Int()), true
}
