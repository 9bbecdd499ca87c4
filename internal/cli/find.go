package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/semantika/internal/document"
	"github.com/roach88/semantika/internal/query"
	"github.com/roach88/semantika/internal/storage"
)

// FindOptions holds flags for the find command.
type FindOptions struct {
	*RootOptions
	Where  string   // JSON filter
	Sort   []string // field, or -field for descending
	Fields []string
	From   int
	Limit  int
}

// FindResult is one page of records.
type FindResult struct {
	Collection string              `json:"collection"`
	Items      []document.Document `json:"items"`
	Total      int64               `json:"total"`
}

// NewFindCommand creates the find command.
func NewFindCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FindOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "find <entity-type>",
		Short: "Query the collection of an entity type",
		Long: `Print the stored records of an entity type's collection that match a
filter. The filter is a JSON object of field values or $eq, $ne, $in and
$exists conditions, combined with $and and $or.

Examples:
  semantika find Person --where '{"status": "active"}' --sort -age --limit 20
  semantika find Person --where '{"status": {"$in": ["active", "invited"]}}' --fields name,age`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts.RootOptions, func(ctx context.Context, s *session) error {
				return runFind(ctx, s, opts, args[0], cmd)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Where, "where", "", "filter as a JSON object")
	cmd.Flags().StringSliceVar(&opts.Sort, "sort", nil, "sort fields, prefix with - for descending")
	cmd.Flags().StringSliceVar(&opts.Fields, "fields", nil, "fields to return")
	cmd.Flags().IntVar(&opts.From, "from", 0, "skip this many matches")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of matches (0 for all)")

	return cmd
}

func runFind(ctx context.Context, s *session, opts *FindOptions, typeName string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	if opts.From < 0 || opts.Limit < 0 {
		return badInput(formatter, fmt.Errorf("--from and --limit must not be negative"))
	}
	where, err := parseDocumentFlag("where", opts.Where)
	if err != nil {
		return badInput(formatter, err)
	}
	filter, err := query.FromMap(where)
	if err != nil {
		return badInput(formatter, fmt.Errorf("--where: %w", err))
	}

	dcr, err := s.pkg.Edcr(typeName)
	if err != nil {
		return formatter.Fail("find failed", err)
	}
	coll, err := s.pkg.CollectionForEntityType(ctx, dcr)
	if err != nil {
		return formatter.Fail("find failed", err)
	}

	find := &storage.FindOptions{
		BatchSize:  s.opts.Config.BatchSize,
		Limit:      opts.Limit,
		From:       opts.From,
		Projection: opts.Fields,
		Sort:       parseSort(opts.Sort),
	}
	out := FindResult{Collection: coll.Name(), Items: []document.Document{}}
	for rec, err := range coll.Records().FindSeq(ctx, filter, find) {
		if err != nil {
			return formatter.Fail("find failed", err)
		}
		out.Items = append(out.Items, rec)
	}
	if out.Total, err = coll.Count(ctx, filter); err != nil {
		return formatter.Fail("count failed", err)
	}
	formatter.VerboseLog("Read %d record(s) from %s", len(out.Items), out.Collection)
	return printList(formatter, out.Items, out.Total, out)
}

func parseSort(fields []string) []query.SortKey {
	var keys []query.SortKey
	for _, f := range fields {
		if name, ok := strings.CutPrefix(f, "-"); ok {
			keys = append(keys, query.SortKey{Field: name, Desc: true})
			continue
		}
		keys = append(keys, query.SortKey{Field: f})
	}
	return keys
}
