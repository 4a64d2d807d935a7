package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", "hello", `"hello"`},
		{"empty string", "", `""`},
		{"int", 42, "42"},
		{"int64", int64(-7), "-7"},
		{"bool", true, "true"},
		{"empty object", map[string]any{}, "{}"},
		{"empty array", []any{}, "[]"},
		{"strings", []string{"a", "b"}, `["a","b"]`},
		{"sorted keys", map[string]any{"zebra": 1, "alpha": 2}, `{"alpha":2,"zebra":1}`},
		{"nested", map[string]any{"b": []any{"x", 1}, "a": map[string]any{"k": false}}, `{"a":{"k":false},"b":["x",1]}`},
		{"objects", []map[string]any{{"kind": "A"}, {"kind": "B"}}, `[{"kind":"A"},{"kind":"B"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Marshal(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(got))
		})
	}
}

func TestMarshalEscaping(t *testing.T) {
	got, err := Marshal("<a&b>\"q\"\\\n \x01")
	require.NoError(t, err)
	assert.Equal(t, "\"<a&b>\\\"q\\\"\\\\\\n \\u0001\"", string(got))
}

func TestMarshalNFC(t *testing.T) {
	// "e" + combining acute accent normalizes to U+00E9.
	got, err := Marshal("e\u0301")
	require.NoError(t, err)
	assert.Equal(t, "\"\u00e9\"", string(got))
}

func TestMarshalUTF16KeyOrder(t *testing.T) {
	// U+1F600 encodes as surrogates 0xD83D..., which sort before U+FF61.
	got, err := Marshal(map[string]any{"｡": 1, "\U0001F600": 2})
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":2,\"｡\":1}", string(got))
}

func TestMarshalRejects(t *testing.T) {
	_, err := Marshal(nil)
	assert.Error(t, err)

	_, err = Marshal(1.5)
	assert.Error(t, err)

	_, err = Marshal(map[string]any{"x": struct{}{}})
	assert.ErrorContains(t, err, `object["x"]`)
}

func TestMustMarshal_Panics(t *testing.T) {
	assert.Panics(t, func() { MustMarshal(3.14) })
	assert.Equal(t, `{"a":"b"}`, string(MustMarshal(map[string]any{"a": "b"})))
}
