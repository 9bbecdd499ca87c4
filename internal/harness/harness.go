package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/semantika/internal/compiler"
	"github.com/roach88/semantika/internal/config"
	"github.com/roach88/semantika/internal/document"
	"github.com/roach88/semantika/internal/query"
	"github.com/roach88/semantika/internal/semantic"
	"github.com/roach88/semantika/internal/storage"
	"github.com/roach88/semantika/internal/store"
	"github.com/roach88/semantika/internal/template"
	"github.com/roach88/semantika/internal/testutil"
)

// Harness executes the steps of one scenario.
type Harness struct {
	pkg    *semantic.Package
	refs   map[string]ref
	logger *slog.Logger
}

// ref is a named step result.
type ref struct {
	id        string
	predicate bool
}

// Option configures Run.
type Option func(*runConfig)

type runConfig struct {
	logger *slog.Logger
}

// WithLogger logs through l. Runs are silent by default.
func WithLogger(l *slog.Logger) Option {
	return func(c *runConfig) {
		c.logger = l
	}
}

// Run executes scenario against a fresh in-memory store and returns the
// result. An error means the scenario could not be run at all; failed
// expectations are reported in the result.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := runConfig{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&cfg)
	}

	compiled, err := compiler.LoadDir(scenario.Ontology)
	if err != nil {
		return nil, fmt.Errorf("failed to load ontology: %w", err)
	}

	clock := testutil.NewDeterministicClock(testutil.Epoch, 0)
	st, err := store.Open(":memory:",
		store.WithIDGenerator(testutil.NewSequenceIDGenerator("id")),
		store.WithClock(clock.Now),
		store.WithLogger(cfg.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	name := scenario.Package
	if name == "" {
		name = config.DefaultPackage
	}
	pkgOpts := []semantic.Option{semantic.WithLogger(cfg.logger), semantic.WithClock(clock.Now)}
	if scenario.UniquePredicates {
		pkgOpts = append(pkgOpts, semantic.WithUniquePredicates())
	}
	pkg, err := semantic.New(name, compiled.Ontology, st, pkgOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create package %s: %w", name, err)
	}
	defer semantic.Unregister(name)

	h := &Harness{pkg: pkg, refs: make(map[string]ref), logger: cfg.logger}
	result := NewResult()
	for i, step := range scenario.Steps {
		h.runStep(ctx, i, step, result)
	}
	for _, msg := range h.evaluateAssertions(ctx, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) runStep(ctx context.Context, i int, step Step, result *Result) {
	ev, err := h.execute(ctx, step)
	ev.Step, ev.Op = i, step.Op
	if err != nil {
		ev.Error = ErrorKind(err)
	}
	result.AddTrace(ev)

	switch {
	case err != nil && step.ExpectError == "":
		result.AddError(fmt.Sprintf("steps[%d] %s: unexpected error: %v", i, step.Op, err))
	case err != nil && ev.Error != step.ExpectError:
		result.AddError(fmt.Sprintf("steps[%d] %s: expected %s error, got %s: %v", i, step.Op, step.ExpectError, ev.Error, err))
	case err == nil && step.ExpectError != "":
		result.AddError(fmt.Sprintf("steps[%d] %s: expected %s error, step succeeded", i, step.Op, step.ExpectError))
	case err == nil && step.ExpectCount != nil && ev.Count != nil && *ev.Count != int64(*step.ExpectCount):
		result.AddError(fmt.Sprintf("steps[%d] %s: expected count %d, got %d", i, step.Op, *step.ExpectCount, *ev.Count))
	}

	h.logger.Info("step completed", "step", i, "op", step.Op, "id", ev.ID, "error", ev.Error)
}

func (h *Harness) execute(ctx context.Context, step Step) (TraceEvent, error) {
	switch step.Op {
	case OpCreate:
		return h.create(ctx, step)
	case OpUpdate:
		return h.update(ctx, step)
	case OpLink:
		return h.link(ctx, step)
	case OpErase:
		return h.erase(ctx, step)
	case OpSetParent:
		return h.setParent(ctx, step)
	case OpQuery:
		return h.query(ctx, step)
	case OpDeleteByQuery:
		return h.deleteByQuery(ctx, step)
	default:
		return TraceEvent{}, fmt.Errorf("unknown op %q", step.Op)
	}
}

func (h *Harness) create(ctx context.Context, step Step) (TraceEvent, error) {
	ev := TraceEvent{Ref: step.As}
	dcr, err := h.pkg.Edcr(step.Type)
	if err != nil {
		return ev, err
	}
	e, err := h.pkg.CreateEntity(ctx, dcr, document.Document(step.Fields))
	if err != nil {
		return ev, err
	}
	h.refs[step.As] = ref{id: e.ID()}
	ev.ID, ev.Version = e.ID(), e.Version()
	return ev, nil
}

func (h *Harness) update(ctx context.Context, step Step) (TraceEvent, error) {
	ev := TraceEvent{Ref: step.Ref}
	e, err := h.entity(ctx, step.Ref)
	if err != nil {
		return ev, err
	}
	ev.ID = e.ID()
	if err := e.Update(ctx, document.Document(step.Fields)); err != nil {
		return ev, err
	}
	ev.Version = e.Version()
	return ev, nil
}

func (h *Harness) link(ctx context.Context, step Step) (TraceEvent, error) {
	ev := TraceEvent{Ref: step.As}
	source, err := h.entity(ctx, step.Source)
	if err != nil {
		return ev, err
	}
	target, err := h.entity(ctx, step.Target)
	if err != nil {
		return ev, err
	}
	pr, err := h.pkg.CreatePredicate(ctx, source, step.Predicate, target, document.Document(step.Payload), document.Document(step.Keys))
	if err != nil {
		return ev, err
	}
	if step.As != "" {
		h.refs[step.As] = ref{id: pr.ID(), predicate: true}
	}
	ev.ID, ev.Version = pr.ID(), pr.Version()
	return ev, nil
}

func (h *Harness) erase(ctx context.Context, step Step) (TraceEvent, error) {
	ev := TraceEvent{Ref: step.Ref}
	r, ok := h.refs[step.Ref]
	if !ok {
		return ev, fmt.Errorf("nothing named %q", step.Ref)
	}
	ev.ID = r.id

	if r.predicate {
		pr, err := h.pkg.PredicateByID(ctx, r.id)
		if err != nil {
			return ev, err
		}
		if pr == nil {
			return ev, fmt.Errorf("predicate %s: %w", step.Ref, storage.ErrNotFound)
		}
		_, err = pr.Erase(ctx)
		return ev, err
	}

	e, err := h.entity(ctx, step.Ref)
	if err != nil {
		return ev, err
	}
	_, err = e.Erase(ctx)
	return ev, err
}

func (h *Harness) setParent(ctx context.Context, step Step) (TraceEvent, error) {
	ev := TraceEvent{Ref: step.Ref}
	e, err := h.entity(ctx, step.Ref)
	if err != nil {
		return ev, err
	}
	ev.ID = e.ID()

	var parent semantic.Entity
	if step.Parent != "" {
		if parent, err = h.entity(ctx, step.Parent); err != nil {
			return ev, err
		}
	}
	if err := e.SetParent(ctx, parent); err != nil {
		return ev, err
	}
	ev.Version = e.Version()
	return ev, nil
}

func (h *Harness) query(ctx context.Context, step Step) (TraceEvent, error) {
	ev := TraceEvent{Ref: step.Ref}
	e, err := h.entity(ctx, step.Ref)
	if err != nil {
		return ev, err
	}
	ev.ID = e.ID()
	preds, err := h.pkg.FindPredicates(ctx, step.Incoming, step.Predicate, e.ID(), semantic.FindPredicatesOptions{})
	if err != nil {
		return ev, err
	}
	n := int64(len(preds))
	ev.Count = &n
	return ev, nil
}

func (h *Harness) deleteByQuery(ctx context.Context, step Step) (TraceEvent, error) {
	var ev TraceEvent
	dcr, err := h.pkg.Edcr(step.Type)
	if err != nil {
		return ev, err
	}
	filter, err := query.FromMap(step.Where)
	if err != nil {
		return ev, err
	}
	coll, err := h.pkg.CollectionForEntityType(ctx, dcr)
	if err != nil {
		return ev, err
	}
	n, err := coll.DeleteByQuery(ctx, filter)
	if err != nil {
		return ev, err
	}
	ev.Count = &n
	return ev, nil
}

// entity loads the named entity. A stored entity that is gone reports
// storage.ErrNotFound.
func (h *Harness) entity(ctx context.Context, name string) (semantic.Entity, error) {
	r, ok := h.refs[name]
	if !ok || r.predicate {
		return nil, fmt.Errorf("no entity named %q", name)
	}
	e, err := h.pkg.LoadEntityByID(ctx, r.id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("entity %s: %w", name, storage.ErrNotFound)
	}
	return e, nil
}

// ErrorKind classifies err for expect_error: duplicate_key,
// optimistic_lock, not_found, validation, unknown_field, the lower-cased
// semantic error code (e.g. circular_parent), or "error" for anything else.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case storage.IsDuplicateKey(err):
		return "duplicate_key"
	case storage.IsOptimisticLock(err):
		return "optimistic_lock"
	case storage.IsNotFound(err):
		return "not_found"
	case template.IsValidationError(err):
		return "validation"
	case template.IsUnknownFieldError(err):
		return "unknown_field"
	}
	if code := semantic.Code(err); code != "" {
		return strings.ToLower(string(code))
	}
	return "error"
}
