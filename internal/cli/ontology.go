package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/semantika/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool                       `json:"valid"`
	Errors []compiler.ValidationError `json:"errors,omitempty"`
}

// NewOntologyCommand creates the ontology command.
func NewOntologyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ontology [dir]",
		Short: "Compile and validate a CUE ontology",
		Long: `Compile the CUE ontology in dir (default: the configured ontology),
validate it, and print its entity types and predicates.

Exit codes:
  0 - Ontology is valid
  1 - Ontology compiled but failed validation
  2 - Ontology could not be read or compiled`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var dir string
			if rootOpts.Config != nil {
				dir = rootOpts.Config.Ontology
			}
			if len(args) == 1 {
				dir = args[0]
			}
			return runOntology(rootOpts, dir, cmd)
		},
	}
	return cmd
}

func runOntology(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	res, err := LoadOntology(dir)
	var verrs compiler.ValidationErrors
	if errors.As(err, &verrs) {
		return outputValidationErrors(formatter, verrs)
	}
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		_ = formatter.Error(loadErr.Code, loadErr.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to compile ontology", loadErr)
	}
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to compile ontology", err)
	}

	formatter.VerboseLog("Compiled %d CUE file(s) in %s", res.Files, dir)
	if formatter.Format == "json" {
		return formatter.Success(res.Spec)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Compiled %d entity type(s), %d predicate(s)\n\n", len(res.Spec.Entities), len(res.Spec.Predicates))
	if len(res.Spec.Entities) > 0 {
		fmt.Fprintln(w, "Entities:")
		for _, e := range res.Spec.Entities {
			fmt.Fprintf(w, "  %s: %d field(s)", e.Name, len(e.Fields))
			if e.Collection != "" {
				fmt.Fprintf(w, ", collection %s", e.Collection)
			}
			if len(e.Parents) > 0 {
				fmt.Fprintf(w, ", parents %s", strings.Join(e.Parents, ", "))
			}
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w)
	}
	if len(res.Spec.Predicates) > 0 {
		fmt.Fprintln(w, "Predicates:")
		for _, p := range res.Spec.Predicates {
			fmt.Fprintf(w, "  %s: %d payload field(s)", p.Name, len(p.Payload))
			if len(p.Children) > 0 {
				fmt.Fprintf(w, ", children %s", strings.Join(p.Children, ", "))
			}
			if len(p.Rules) > 0 {
				fmt.Fprintf(w, ", %d rule(s)", len(p.Rules))
			}
			fmt.Fprintln(w)
		}
	}
	return nil
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", err.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", err.Code, err.Field, err.Message)
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
