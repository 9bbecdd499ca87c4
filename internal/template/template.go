// Package template validates and completes the fields written to a typed
// record.
//
// A Template maps field names to entries. An entry may carry a Validator, a
// default (literal or computed), or nothing at all; a field listed with an
// empty entry is simply allowed.
package template

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/semantika/internal/document"
)

// Validator checks a field value and returns its normalized form.
type Validator interface {
	Validate(v any) (any, error)
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(v any) (any, error)

// Validate calls f.
func (f ValidatorFunc) Validate(v any) (any, error) {
	return f(v)
}

// Entry describes one template field.
type Entry struct {
	Validator Validator

	// Default is written on create when the field is not given.
	Default any

	// DefaultFunc computes the default from the given fields. It takes
	// precedence over Default.
	DefaultFunc func(given document.Document) any
}

func (e Entry) hasDefault() bool {
	return e.Validator == nil && (e.Default != nil || e.DefaultFunc != nil)
}

// Template maps field names to their entries.
type Template map[string]Entry

// Fields returns the template's field names in canonical order.
func (t Template) Fields() []string {
	return document.SortedKeys(t)
}

// Options controls Process.
type Options struct {
	// SuperSetAllowed lets unknown fields through unchanged, but only when
	// Strict is false.
	SuperSetAllowed bool

	// Strict selects how unknown fields are handled. Note the polarity:
	// Strict drops them with a warning, non-strict fails with
	// UnknownFieldError.
	Strict bool

	// TypeName names the record type in errors and warnings.
	TypeName string

	// Update skips default population.
	Update bool

	Logger *slog.Logger
}

// Process validates given against tmpl and returns the fields to write.
//
// Standard metadata fields (_created, _version, ...) always pass through.
// A nil or empty template accepts anything.
func Process(tmpl Template, given document.Document, opts Options) (document.Document, error) {
	if (opts.SuperSetAllowed && !opts.Strict) || len(tmpl) == 0 {
		return given, nil
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fields := make(document.Document, len(given))
	for _, name := range document.SortedKeys(given) {
		value := given[name]
		if document.IsStandardField(name) {
			fields[name] = value
			continue
		}
		entry, ok := tmpl[name]
		if !ok {
			if !opts.Strict {
				err := &UnknownFieldError{TypeName: opts.TypeName, Field: name}
				logger.Error(err.Error())
				return nil, err
			}
			logger.Warn("dropping field not within the template", "field", name, "type", opts.TypeName)
			continue
		}
		if entry.Validator != nil {
			normalized, err := entry.Validator.Validate(value)
			if err != nil {
				verr := &ValidationError{TypeName: opts.TypeName, Field: name, Err: err}
				logger.Error(verr.Error())
				return nil, verr
			}
			value = normalized
		}
		fields[name] = value
	}

	if opts.Update {
		return fields, nil
	}
	for _, name := range tmpl.Fields() {
		entry := tmpl[name]
		if given[name] != nil || !entry.hasDefault() {
			continue
		}
		if entry.DefaultFunc != nil {
			fields[name] = entry.DefaultFunc(given)
		} else {
			fields[name] = entry.Default
		}
	}
	return fields, nil
}

// ValidationError reports a field value rejected by its validator.
type ValidationError struct {
	TypeName string
	Field    string
	Err      error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("field '%s' in entity %s doesn't match template rules: %v", e.Field, e.TypeName, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// UnknownFieldError reports a field outside the template in a non-strict
// write.
type UnknownFieldError struct {
	TypeName string
	Field    string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("writing a field %s that is not within the template of %s", e.Field, e.TypeName)
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsUnknownFieldError reports whether err is (or wraps) an UnknownFieldError.
func IsUnknownFieldError(err error) bool {
	var ue *UnknownFieldError
	return errors.As(err, &ue)
}
