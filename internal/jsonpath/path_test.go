package jsonpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const chatCompletion = `{
	"id": "chatcmpl-1",
	"choices": [
		{"index": 0, "message": {"role": "assistant", "content": "hi"}, "finish_reason": "stop"}
	],
	"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15},
	"nested": {"a": {"b": {"c": {"d": [[1, 2], [3, {"e": "deep"}]]}}}},
	"nothing": null,
	"dotted.key": "literal"
}`

func TestRead_FollowsKeysAndIndices(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{"openai content", "choices[0].message.content", "hi"},
		{"scalar number", "usage.prompt_tokens", "12"},
		{"deep nesting", "nested.a.b.c.d[1][1].e", "deep"},
		{"chained index", "nested.a.b.c.d[0][1]", "2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ReadString([]byte(chatCompletion), tt.path)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRead_AbsentPathsNeverFail(t *testing.T) {
	paths := []string{
		"choices[5].message.content", // out of range
		"choices[0].delta.content",   // missing key
		"usage.prompt_tokens.value",  // descend into a scalar
		"nothing.below",              // null intermediate
		"nothing",                    // null leaf
		"id[0]",                      // index into a string
		"choices.message",            // key lookup on an array
		"missing",
		"",
		"   ",
	}

	for _, p := range paths {
		t.Run(p, func(t *testing.T) {
			_, ok := Read([]byte(chatCompletion), p)
			assert.False(t, ok)
		})
	}
}

func TestRead_MalformedPathReportsAbsent(t *testing.T) {
	for _, p := range []string{"choices[0", "choices[x].message", "a..b", "a.", "choices]0[", "choices[0]x", "choices[-1]"} {
		t.Run(p, func(t *testing.T) {
			_, err := Compile(p)
			assert.Error(t, err)

			_, ok := Read([]byte(chatCompletion), p)
			assert.False(t, ok)
		})
	}
}

func TestRead_InvalidDocument(t *testing.T) {
	_, ok := Read([]byte(`{"choices": [`), "choices[0]")
	assert.False(t, ok)
}

func TestRead_RootArray(t *testing.T) {
	got, ok := ReadString([]byte(`[{"text": "first"}, {"text": "second"}]`), "[1].text")
	require.True(t, ok)
	assert.Equal(t, "second", got)
}

func TestRead_KeysAreLiteral(t *testing.T) {
	doc := []byte(`{"a*b": {"c?": "x"}}`)
	got, ok := ReadString(doc, "a*b.c?")
	require.True(t, ok)
	assert.Equal(t, "x", got)
}

func TestReadInt(t *testing.T) {
	n, ok := ReadInt([]byte(chatCompletion), "usage.completion_tokens")
	require.True(t, ok)
	assert.Equal(t, 3, n)

	_, ok = ReadInt([]byte(chatCompletion), "choices[0].message.content")
	assert.False(t, ok, "string values are not counts")

	_, ok = ReadInt([]byte(chatCompletion), "usage.cached_tokens")
	assert.False(t, ok)
}

func TestCompile_Segments(t *testing.T) {
	p, err := Compile("choices[0].delta[2][3].content")
	require.NoError(t, err)
	assert.Equal(t, []Segment{
		{Key: "choices", Indices: []int{0}},
		{Key: "delta", Indices: []int{2, 3}},
		{Key: "content"},
	}, p.Segments())
	assert.Equal(t, "choices[0].delta[2][3].content", p.String())
}

func TestLookup_ReusesParsedValue(t *testing.T) {
	root := gjson.Parse(chatCompletion)
	p, err := Compile("usage.total_tokens")
	require.NoError(t, err)

	v, ok := p.Lookup(root)
	require.True(t, ok)
	assert.Equal(t, int64(15), v.Int())
}
