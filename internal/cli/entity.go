package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/semantika/internal/compiler"
	"github.com/roach88/semantika/internal/document"
)

// EntityOptions holds flags for the entity subcommands.
type EntityOptions struct {
	*RootOptions
	Fields      string // JSON object
	Parent      string // parent entity id (update)
	UnsetParent bool
	InDepth     int // incoming traversal depth (get)
	OutDepth    int // outgoing traversal depth (get)
}

// NewEntityCommand creates the entity command and its subcommands.
func NewEntityCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EntityOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "entity",
		Short: "Create, read, update and erase entities",
	}

	create := &cobra.Command{
		Use:   "create <type>",
		Short: "Create an entity of the given type",
		Long: `Create an entity. Fields are validated against the type's template and
missing fields take their defaults.

Example:
  semantika entity create Person --fields '{"name": "Ada"}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts.RootOptions, func(ctx context.Context, s *session) error {
				return runEntityCreate(ctx, s, opts, args[0], cmd)
			})
		},
	}
	create.Flags().StringVar(&opts.Fields, "fields", "", "entity fields as a JSON object")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Print an entity with its fields",
		Long: `Print an entity. With --in or --out the incoming or outgoing predicates
are followed to the given depth.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts.RootOptions, func(ctx context.Context, s *session) error {
				return runEntityGet(ctx, s, opts, args[0], cmd)
			})
		},
	}
	get.Flags().IntVar(&opts.InDepth, "in", 0, "incoming predicate depth")
	get.Flags().IntVar(&opts.OutDepth, "out", 0, "outgoing predicate depth")

	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Update an entity's fields or parent",
		Args:  cobra.ExactArgs(1),
		Long: `Update an entity. The write is checked against the version that was
read, so a concurrent change fails with a version conflict.

Example:
  semantika entity update main_Person_0190... --fields '{"age": 37}'
  semantika entity update main_Person_0190... --parent main_Person_0191...`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts.RootOptions, func(ctx context.Context, s *session) error {
				return runEntityUpdate(ctx, s, opts, args[0], cmd)
			})
		},
	}
	update.Flags().StringVar(&opts.Fields, "fields", "", "changed fields as a JSON object")
	update.Flags().StringVar(&opts.Parent, "parent", "", "id of the new parent entity")
	update.Flags().BoolVar(&opts.UnsetParent, "unset-parent", false, "remove the parent")
	update.MarkFlagsMutuallyExclusive("parent", "unset-parent")

	erase := &cobra.Command{
		Use:           "erase <id>",
		Short:         "Erase an entity and every predicate touching it",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts.RootOptions, func(ctx context.Context, s *session) error {
				return runEntityErase(ctx, s, args[0], cmd)
			})
		},
	}

	cmd.AddCommand(create, get, update, erase)
	return cmd
}

// withSession opens a session for the duration of fn.
func withSession(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, s *session) error) error {
	s, err := openSession(opts)
	if err != nil {
		_ = opts.formatter(cmd).Error(loadErrorCode(err), err.Error(), nil)
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, s)
}

func runEntityCreate(ctx context.Context, s *session, opts *EntityOptions, typeName string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	fields, err := parseDocumentFlag("fields", opts.Fields)
	if err != nil {
		return badInput(formatter, err)
	}
	dcr, err := s.pkg.Edcr(typeName)
	if err != nil {
		return formatter.Fail("create failed", err)
	}
	e, err := s.pkg.CreateEntity(ctx, dcr, fields)
	if err != nil {
		return formatter.Fail("create failed", err)
	}
	formatter.VerboseLog("Created %s version %d", e.ID(), e.Version())
	return printEntity(formatter, e.ID(), func() (document.Document, error) {
		return e.FullDto(ctx)
	})
}

func runEntityGet(ctx context.Context, s *session, opts *EntityOptions, id string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	e, err := s.entity(ctx, id)
	if err != nil {
		return formatter.Fail("get failed", err)
	}
	return printEntity(formatter, id, func() (document.Document, error) {
		if opts.InDepth > 0 || opts.OutDepth > 0 {
			return e.Traverse(ctx, opts.InDepth, opts.OutDepth)
		}
		return e.FullDto(ctx)
	})
}

func runEntityUpdate(ctx context.Context, s *session, opts *EntityOptions, id string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	fields, err := parseDocumentFlag("fields", opts.Fields)
	if err != nil {
		return badInput(formatter, err)
	}
	if len(fields) == 0 && opts.Parent == "" && !opts.UnsetParent {
		return badInput(formatter, fmt.Errorf("nothing to update: give --fields, --parent or --unset-parent"))
	}

	e, err := s.entity(ctx, id)
	if err != nil {
		return formatter.Fail("update failed", err)
	}
	if len(fields) > 0 {
		if err := e.Update(ctx, fields); err != nil {
			return formatter.Fail("update failed", err)
		}
	}
	switch {
	case opts.Parent != "":
		parent, err := s.entity(ctx, opts.Parent)
		if err != nil {
			return formatter.Fail("update failed", err)
		}
		if err := e.SetParent(ctx, parent); err != nil {
			return formatter.Fail("update failed", err)
		}
	case opts.UnsetParent:
		if err := e.UnsetParent(ctx); err != nil {
			return formatter.Fail("update failed", err)
		}
	}
	formatter.VerboseLog("Updated %s to version %d", e.ID(), e.Version())
	return printEntity(formatter, id, func() (document.Document, error) {
		return e.FullDto(ctx)
	})
}

func runEntityErase(ctx context.Context, s *session, id string, cmd *cobra.Command) error {
	formatter := s.opts.formatter(cmd)
	e, err := s.entity(ctx, id)
	if err != nil {
		return formatter.Fail("erase failed", err)
	}
	res, err := e.Erase(ctx)
	if err != nil {
		return formatter.Fail("erase failed", err)
	}
	if formatter.Format == "json" {
		return formatter.Success(res)
	}
	fmt.Fprintf(formatter.Writer, "✓ Erased %s\n", res.EntityID)
	return nil
}

// printEntity prints the document dto returns.
func printEntity(formatter *OutputFormatter, id string, dto func() (document.Document, error)) error {
	doc, err := dto()
	if err != nil {
		return formatter.Fail("read "+id, err)
	}
	return printDocument(formatter, doc)
}

// parseDocumentFlag decodes a JSON object flag. The empty string is no
// document.
func parseDocumentFlag(name, value string) (document.Document, error) {
	if value == "" {
		return nil, nil
	}
	doc, err := document.Unmarshal([]byte(value))
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", name, err)
	}
	return doc, nil
}

// badInput reports an unusable flag value.
func badInput(formatter *OutputFormatter, err error) error {
	_ = formatter.Error(ErrCodeBadInput, err.Error(), nil)
	return WrapExitError(ExitCommandError, "invalid input", err)
}

// loadErrorCode returns the code of the ontology problem inside err.
func loadErrorCode(err error) string {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code
	}
	var verrs compiler.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return verrs[0].Code
	}
	return ErrCodeGeneric
}
