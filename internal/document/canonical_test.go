package document

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", "hello", `"hello"`},
		{"empty string", "", `""`},
		{"int64", int64(42), "42"},
		{"int widens", 7, "7"},
		{"negative", int64(-100), "-100"},
		{"float", 1.5, "1.5"},
		{"null", nil, "null"},
		{"bool", true, "true"},
		{"empty array", []any{}, "[]"},
		{"empty object", Document{}, "{}"},
		{"typed slice", []string{"a", "b"}, `["a","b"]`},
		{"nested", map[string]any{"b": []any{int64(1)}, "a": nil}, `{"a":null,"b":[1]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(out))
		})
	}
}

func TestMarshalCanonicalSortsKeysByUTF16(t *testing.T) {
	// U+1F600 encodes as a surrogate pair (0xD83D...) which sorts before
	// U+FF61 in UTF-16 but after it in UTF-8.
	doc := Document{"\uff61": int64(1), "\U0001F600": int64(2), "a": int64(3)}

	out, err := MarshalCanonical(doc)
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":3,\"\U0001F600\":2,\"\uff61\":1}", string(out))
}

func TestMarshalCanonicalNoHTMLEscape(t *testing.T) {
	out, err := MarshalCanonical("<a & b>")
	require.NoError(t, err)
	assert.Equal(t, `"<a & b>"`, string(out))
}

func TestMarshalCanonicalLineSeparators(t *testing.T) {
	out, err := MarshalCanonical("x\u2028y\u2029")
	require.NoError(t, err)
	assert.Equal(t, "\"x\u2028y\u2029\"", string(out))

	// A literal backslash followed by the text u2028 stays escaped.
	out, err = MarshalCanonical(`x\u2028y`)
	require.NoError(t, err)
	assert.Equal(t, `"x\\u2028y"`, string(out))
}

func TestMarshalCanonicalNFC(t *testing.T) {
	decomposed := "e\u0301"
	out, err := MarshalCanonical(decomposed)
	require.NoError(t, err)
	assert.Equal(t, "\"\u00e9\"", string(out))
}

func TestMarshalCanonicalRejectsNonFinite(t *testing.T) {
	_, err := MarshalCanonical(Document{"x": math.Inf(1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `value for key "x"`)
}

func TestUnmarshalNumbers(t *testing.T) {
	doc, err := Unmarshal([]byte(`{"i":12,"f":1.25,"big":1e300,"arr":[1,2.5],"obj":{"n":3}}`))
	require.NoError(t, err)

	assert.Equal(t, int64(12), doc["i"])
	assert.Equal(t, 1.25, doc["f"])
	assert.Equal(t, 1e300, doc["big"])
	assert.Equal(t, []any{int64(1), 2.5}, doc["arr"])
	assert.Equal(t, map[string]any{"n": int64(3)}, doc["obj"])
}

func TestCanonicalStableAcrossRoundTrip(t *testing.T) {
	doc := Document{"name": "George", "age": 41, "tags": []string{"x"}, "score": 0.5}

	first, err := MarshalCanonical(doc)
	require.NoError(t, err)
	decoded, err := Unmarshal(first)
	require.NoError(t, err)
	second, err := MarshalCanonical(decoded)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}
