package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue/token"

	"github.com/roach88/semantika/internal/compiler"
)

// LoadError represents an error that occurred while loading an ontology.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadOntology compiles the CUE ontology in dir. Problems reading or
// compiling the files are returned as *LoadError; a well-formed ontology
// that fails validation returns compiler.ValidationErrors.
func LoadOntology(dir string) (*compiler.Result, error) {
	if dir == "" {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: "no ontology directory given (use --ontology or set ontology in the config file)"}
	}
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("ontology directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing ontology directory: %v", err)}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	files, err := compiler.FindCUEFiles(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(files) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	res, err := compiler.LoadDir(dir)
	if err != nil {
		return nil, convertCompileError(err)
	}
	return res, nil
}

// convertCompileError converts a compiler error to a LoadError with
// position info. Validation errors are passed through.
func convertCompileError(err error) error {
	var verrs compiler.ValidationErrors
	if errors.As(err, &verrs) {
		return verrs
	}
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: compileErr.Message,
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{Code: ErrCodeLoadFailed, Message: err.Error()}
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load or build failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeWriteFailed = "E007" // File write error

	// Ontology declaration errors
	ErrCodeDeclaration   = "E101" // Malformed collection, parents, children or keys
	ErrCodeTemplateField = "E102" // Malformed field in fields or payload
	ErrCodeFieldDefault  = "E103" // Default is not a concrete value
	ErrCodeRules         = "E104" // Malformed rules list
)

// MapFieldToErrorCode maps a compiler error field to an error code.
func MapFieldToErrorCode(field string) string {
	switch {
	case field == "cue":
		return ErrCodeLoadFailed
	case field == "default":
		return ErrCodeFieldDefault
	case field == "rules":
		return ErrCodeRules
	case field == "type", strings.HasPrefix(field, "fields."), strings.HasPrefix(field, "payload."):
		return ErrCodeTemplateField
	case field == "collection", field == "parents", field == "children", strings.HasPrefix(field, "keys."):
		return ErrCodeDeclaration
	default:
		return ErrCodeGeneric
	}
}
