package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/semantika/internal/document"
	"github.com/roach88/semantika/internal/semantic"
	"github.com/roach88/semantika/internal/storage"
)

// LinkOptions holds flags for the link command.
type LinkOptions struct {
	*RootOptions
	Payload string // JSON object
	Keys    string // JSON object of self keys
}

// NewLinkCommand creates the link command.
func NewLinkCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LinkOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "link <source-id> <predicate> <target-id>",
		Short: "Create a predicate between two entities",
		Long: `Create a predicate from source to target. The payload is validated
against the predicate's payload template; declared source and target keys
are copied from the entities onto the predicate record.

Example:
  semantika link main_Person_0190... worksFor main_WorkPlace_0190... \
    --payload '{"position": "CEO"}' --keys '{"since": 2014}'`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts.RootOptions, func(ctx context.Context, s *session) error {
				return runLink(ctx, s, opts, args[0], args[1], args[2], cmd)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Payload, "payload", "", "predicate payload as a JSON object")
	cmd.Flags().StringVar(&opts.Keys, "keys", "", "self key values as a JSON object")

	return cmd
}

func runLink(ctx context.Context, s *session, opts *LinkOptions, sourceID, predicate, targetID string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	payload, err := parseDocumentFlag("payload", opts.Payload)
	if err != nil {
		return badInput(formatter, err)
	}
	keys, err := parseDocumentFlag("keys", opts.Keys)
	if err != nil {
		return badInput(formatter, err)
	}

	source, err := s.entity(ctx, sourceID)
	if err != nil {
		return formatter.Fail("link failed", err)
	}
	target, err := s.entity(ctx, targetID)
	if err != nil {
		return formatter.Fail("link failed", err)
	}
	pr, err := s.pkg.CreatePredicate(ctx, source, predicate, target, payload, keys)
	if err != nil {
		return formatter.Fail("link failed", err)
	}
	formatter.VerboseLog("Linked %s -%s-> %s as %s", sourceID, predicate, targetID, pr.ID())
	return printDocument(formatter, pr.Dto())
}

// PredsOptions holds flags for the preds command.
type PredsOptions struct {
	*RootOptions
	Incoming  bool
	PeerID    string
	PeerTypes []string
	Fields    []string // peer projection
	From      int
	Limit     int
	Entities  bool
}

// PredsResult is one page of predicates or peers.
type PredsResult struct {
	Items []document.Document `json:"items"`
	Total int64               `json:"total"`
}

// NewPredsCommand creates the preds command.
func NewPredsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PredsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "preds <entity-id> [predicate]",
		Short: "List the predicates of an entity",
		Long: `List the outgoing (or, with --incoming, incoming) predicates of an
entity. A predicate name includes its child predicates; no name lists
every type. Filtering by peer type or asking for peer fields loads the
peer entity onto each predicate.

Examples:
  semantika preds main_Person_0190... worksFor
  semantika preds main_WorkPlace_0190... --incoming --peer-type Person --fields name
  semantika preds main_Person_0190... knows --entities --limit 10`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			predicate := ""
			if len(args) == 2 {
				predicate = args[1]
			}
			return withSession(cmd, opts.RootOptions, func(ctx context.Context, s *session) error {
				return runPreds(ctx, s, opts, args[0], predicate, cmd)
			})
		},
	}

	cmd.Flags().BoolVar(&opts.Incoming, "incoming", false, "list predicates targeting the entity")
	cmd.Flags().StringVar(&opts.PeerID, "peer", "", "keep predicates whose other side is this entity id")
	cmd.Flags().StringSliceVar(&opts.PeerTypes, "peer-type", nil, "keep predicates whose other side has one of these types (* for any)")
	cmd.Flags().StringSliceVar(&opts.Fields, "fields", nil, "peer fields to load")
	cmd.Flags().IntVar(&opts.From, "from", 0, "skip this many matches")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of matches (0 for all)")
	cmd.Flags().BoolVar(&opts.Entities, "entities", false, "list the peer entities instead of the predicates")

	return cmd
}

func runPreds(ctx context.Context, s *session, opts *PredsOptions, entityID, predicate string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	if opts.From < 0 || opts.Limit < 0 {
		return badInput(formatter, fmt.Errorf("--from and --limit must not be negative"))
	}

	find := semantic.FindPredicatesOptions{
		PeerID:     opts.PeerID,
		PeerTypes:  opts.PeerTypes,
		Projection: opts.Fields,
	}
	var page *storage.ReadOptions
	if opts.From > 0 || opts.Limit > 0 || opts.Entities {
		page = &storage.ReadOptions{From: opts.From, Count: opts.Limit, EntityOnly: opts.Entities}
	}
	res, err := s.pkg.LoadPredicates(ctx, opts.Incoming, predicate, entityID, find, page)
	if err != nil {
		return formatter.Fail("query failed", err)
	}

	out := PredsResult{Items: []document.Document{}, Total: res.TotalFiltered}
	for _, e := range res.Entities {
		dto, err := e.FullDto(ctx)
		if err != nil {
			return formatter.Fail("read "+e.ID(), err)
		}
		out.Items = append(out.Items, dto)
	}
	for _, pr := range res.Predicates {
		item := pr.Dto()
		if peer := pr.Peer(); peer != nil {
			dto, err := peer.FullDto(ctx)
			if err != nil {
				return formatter.Fail("read "+peer.ID(), err)
			}
			item["peerEntity"] = dto
		}
		out.Items = append(out.Items, item)
	}
	return printList(formatter, out.Items, out.Total, out)
}

// printDocument writes doc as canonical JSON in text mode, or as the
// response data in JSON mode.
func printDocument(formatter *OutputFormatter, doc document.Document) error {
	if formatter.Format == "json" {
		return formatter.Success(doc)
	}
	data, err := document.MarshalCanonical(doc)
	if err != nil {
		return formatter.Fail("encode result", err)
	}
	fmt.Fprintln(formatter.Writer, string(data))
	return nil
}

// printList writes one canonical JSON line per item and a count in text
// mode, or data as the response data in JSON mode.
func printList(formatter *OutputFormatter, items []document.Document, total int64, data any) error {
	if formatter.Format == "json" {
		return formatter.Success(data)
	}
	for _, item := range items {
		line, err := document.MarshalCanonical(item)
		if err != nil {
			return formatter.Fail("encode result", err)
		}
		fmt.Fprintln(formatter.Writer, string(line))
	}
	fmt.Fprintf(formatter.Writer, "%d of %d match(es)\n", len(items), total)
	return nil
}
