package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeFromID(t *testing.T) {
	tests := []struct {
		id     string
		typ    string
		hasTyp bool
	}{
		{"main_Person_0192c0a4-7b1e-7000-8000-000000000001", "Person", true},
		{"pkg_WorkPlace_abc", "WorkPlace", true},
		{"main_abc", "", false},
		{"plain", "", false},
		{"main__abc", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			typ, ok := TypeFromID(tt.id)
			assert.Equal(t, tt.hasTyp, ok)
			assert.Equal(t, tt.typ, typ)
		})
	}
}

func TestComposeID(t *testing.T) {
	assert.Equal(t, "main_Person_x1", ComposeID("main", "Person", "x1"))
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("entity", "Person"))
	assert.Error(t, ValidateName("entity", ""))
	assert.Error(t, ValidateName("entity", "Work_Place"))
}

func TestProjectKeepsIdentityFields(t *testing.T) {
	doc := Document{"_id": "a", "_version": int64(3), "name": "x", "age": int64(2)}

	p := doc.Project("name", "missing")
	assert.Equal(t, Document{"_id": "a", "_version": int64(3), "name": "x"}, p)
	assert.Equal(t, doc, doc.Project())
}

func TestNormalize(t *testing.T) {
	type label string
	in := map[string]any{
		"n":      int32(4),
		"f":      float32(0.5),
		"list":   []int{1, 2},
		"labels": map[string]label{"k": "v"},
	}

	out, err := Normalize(in)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"n":      int64(4),
		"f":      0.5,
		"list":   []any{int64(1), int64(2)},
		"labels": map[string]any{"k": "v"},
	}, out)

	_, err = Normalize(map[string]any{"ch": make(chan int)})
	assert.Error(t, err)
}

func TestIsEmpty(t *testing.T) {
	assert.True(t, IsEmpty(nil))
	assert.True(t, IsEmpty(""))
	assert.True(t, IsEmpty(map[string]any{}))
	assert.True(t, IsEmpty([]any{}))
	assert.False(t, IsEmpty(false))
	assert.False(t, IsEmpty(int64(0)))
	assert.False(t, IsEmpty("x"))
}

func TestVersion(t *testing.T) {
	assert.Equal(t, int64(4), Document{"_version": int64(4)}.Version())
	assert.Equal(t, int64(0), Document{}.Version())
}
