package cli

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/semantika/internal/compiler"
)

func TestMapFieldToErrorCode(t *testing.T) {
	tests := []struct {
		field string
		want  string
	}{
		{"cue", ErrCodeLoadFailed},
		{"default", ErrCodeFieldDefault},
		{"rules", ErrCodeRules},
		{"type", ErrCodeTemplateField},
		{"fields.age", ErrCodeTemplateField},
		{"payload.role", ErrCodeTemplateField},
		{"collection", ErrCodeDeclaration},
		{"parents", ErrCodeDeclaration},
		{"children", ErrCodeDeclaration},
		{"keys.self", ErrCodeDeclaration},
		{"something", ErrCodeGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			assert.Equal(t, tt.want, MapFieldToErrorCode(tt.field))
		})
	}
}

func TestLoadOntology(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		res, err := LoadOntology(ontologyDir)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Files)
		assert.Len(t, res.Spec.Entities, 2)
	})

	t.Run("no directory given", func(t *testing.T) {
		_, err := LoadOntology("")
		var loadErr *LoadError
		require.True(t, errors.As(err, &loadErr))
		assert.Equal(t, ErrCodeNotFound, loadErr.Code)
	})

	t.Run("file instead of directory", func(t *testing.T) {
		_, err := LoadOntology(filepath.Join(ontologyDir, "company.cue"))
		var loadErr *LoadError
		require.True(t, errors.As(err, &loadErr))
		assert.Equal(t, ErrCodeNotFound, loadErr.Code)
		assert.Contains(t, loadErr.Message, "not a directory")
	})

	t.Run("no cue files", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("empty"), 0644))
		_, err := LoadOntology(dir)
		var loadErr *LoadError
		require.True(t, errors.As(err, &loadErr))
		assert.Equal(t, ErrCodeNoFiles, loadErr.Code)
	})

	t.Run("validation errors pass through", func(t *testing.T) {
		_, err := LoadOntology("testdata/invalid")
		var verrs compiler.ValidationErrors
		require.True(t, errors.As(err, &verrs))
		require.Len(t, verrs, 2)
		assert.Equal(t, "E204", verrs[0].Code)
		assert.Equal(t, "E203", verrs[1].Code)
	})
}
