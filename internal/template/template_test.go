package template

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/semantika/internal/document"
)

func capture() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, nil)), &buf
}

func personTemplate() Template {
	return Template{
		"name":   {Validator: MustCUE(`string & !=""`)},
		"age":    {Validator: MustCUE(`int & >=0`)},
		"status": {Default: "active"},
		"slug": {DefaultFunc: func(given document.Document) any {
			name, _ := given["name"].(string)
			return "p-" + name
		}},
		"nickname": {},
	}
}

func TestProcess_ValidatesAndFillsDefaults(t *testing.T) {
	out, err := Process(personTemplate(), document.Document{"name": "George", "age": 41}, Options{TypeName: "Person"})
	require.NoError(t, err)
	assert.Equal(t, document.Document{
		"name":   "George",
		"age":    41,
		"status": "active",
		"slug":   "p-George",
	}, out)
}

func TestProcess_GivenValueBeatsDefault(t *testing.T) {
	out, err := Process(personTemplate(), document.Document{"name": "x", "status": "retired"}, Options{TypeName: "Person"})
	require.NoError(t, err)
	assert.Equal(t, "retired", out["status"])
}

func TestProcess_UpdateSkipsDefaults(t *testing.T) {
	out, err := Process(personTemplate(), document.Document{"age": 42}, Options{TypeName: "Person", Update: true})
	require.NoError(t, err)
	assert.Equal(t, document.Document{"age": 42}, out)
}

func TestProcess_ValidationFailure(t *testing.T) {
	logger, logs := capture()

	_, err := Process(personTemplate(), document.Document{"name": ""}, Options{TypeName: "Person", Logger: logger})
	require.Error(t, err)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "name", ve.Field)
	assert.Equal(t, "Person", ve.TypeName)
	assert.Contains(t, err.Error(), "field 'name' in entity Person doesn't match template rules")
	assert.Contains(t, logs.String(), "level=ERROR")
}

func TestProcess_UnknownFieldPolarity(t *testing.T) {
	given := document.Document{"name": "a", "extra": 1}

	t.Run("non-strict fails", func(t *testing.T) {
		_, err := Process(personTemplate(), given, Options{TypeName: "Person"})
		require.Error(t, err)
		assert.True(t, IsUnknownFieldError(err))
		assert.Contains(t, err.Error(), "extra")
	})

	t.Run("strict warns and drops", func(t *testing.T) {
		logger, logs := capture()
		out, err := Process(personTemplate(), given, Options{TypeName: "Person", Strict: true, Logger: logger})
		require.NoError(t, err)
		assert.NotContains(t, out, "extra")
		assert.Equal(t, "a", out["name"])
		assert.Contains(t, logs.String(), "level=WARN")
		assert.Contains(t, logs.String(), "field=extra")
	})

	t.Run("superset without strict passes through", func(t *testing.T) {
		out, err := Process(personTemplate(), given, Options{TypeName: "Person", SuperSetAllowed: true})
		require.NoError(t, err)
		assert.Equal(t, given, out)
	})

	t.Run("superset with strict still drops", func(t *testing.T) {
		logger, _ := capture()
		out, err := Process(personTemplate(), given, Options{SuperSetAllowed: true, Strict: true, Logger: logger})
		require.NoError(t, err)
		assert.NotContains(t, out, "extra")
	})
}

func TestProcess_NilTemplateAcceptsAnything(t *testing.T) {
	given := document.Document{"whatever": true}
	out, err := Process(nil, given, Options{})
	require.NoError(t, err)
	assert.Equal(t, given, out)
}

func TestProcess_EmptyTemplateAcceptsAnything(t *testing.T) {
	given := document.Document{"x": 1, "name": "free"}

	for _, opts := range []Options{{}, {Strict: true}, {Update: true}} {
		out, err := Process(Template{}, given, opts)
		require.NoError(t, err)
		assert.Equal(t, given, out)
	}
}

func TestProcess_DefaultingIsIdempotent(t *testing.T) {
	opts := Options{TypeName: "Person"}
	first, err := Process(personTemplate(), document.Document{"name": "Ada", "age": 36}, opts)
	require.NoError(t, err)
	require.Equal(t, "p-Ada", first["slug"])

	second, err := Process(personTemplate(), first, opts)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	third, err := Process(personTemplate(), second, opts)
	require.NoError(t, err)
	assert.Equal(t, second, third)
}

func TestProcess_StandardFieldsBypassTemplate(t *testing.T) {
	out, err := Process(personTemplate(), document.Document{"_parent": "main_Person_x"}, Options{TypeName: "Person", Update: true})
	require.NoError(t, err)
	assert.Equal(t, document.Document{"_parent": "main_Person_x"}, out)
}

func TestProcess_ValidatorNormalizes(t *testing.T) {
	tmpl := Template{"email": {Validator: ValidatorFunc(func(v any) (any, error) {
		s, ok := v.(string)
		if !ok {
			return nil, errors.New("must be a string")
		}
		return s + "!", nil
	})}}

	out, err := Process(tmpl, document.Document{"email": "a@b"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "a@b!", out["email"])
}

func TestCUEValidator(t *testing.T) {
	v := MustCUE(`int & >=0 & <=150`)
	assert.Equal(t, `int & >=0 & <=150`, v.Expr())

	got, err := v.Validate(int64(30))
	require.NoError(t, err)
	assert.Equal(t, int64(30), got)

	_, err = v.Validate(int64(200))
	assert.Error(t, err)
	_, err = v.Validate("thirty")
	assert.Error(t, err)

	obj := MustCUE(`{city: string, zip?: string}`)
	_, err = obj.Validate(map[string]any{"city": "Haifa"})
	assert.NoError(t, err)

	_, err = CUE(`int &`)
	assert.Error(t, err)
}
