package cli

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/semantika/internal/semantic"
	"github.com/roach88/semantika/internal/storage"
	"github.com/roach88/semantika/internal/store"
)

// session is an open database with the configured semantic package.
type session struct {
	opts     *RootOptions
	store    *store.Store
	pkg      *semantic.Package
	registry *prometheus.Registry
}

// openSession compiles the configured ontology, opens the database and
// registers the semantic package. Failures are command errors.
func openSession(opts *RootOptions) (*session, error) {
	cfg := opts.Config
	compiled, err := LoadOntology(cfg.Ontology)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load ontology", err)
	}
	opts.logger().Debug("ontology compiled",
		"dir", cfg.Ontology,
		"files", compiled.Files,
		"entities", len(compiled.Spec.Entities),
		"predicates", len(compiled.Spec.Predicates))

	reg := prometheus.NewRegistry()
	st, err := store.Open(cfg.Database,
		store.WithLogger(opts.logger()),
		store.WithMetrics(reg),
	)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	pkgOpts := []semantic.Option{semantic.WithLogger(opts.logger())}
	if cfg.UniquePredicates {
		pkgOpts = append(pkgOpts, semantic.WithUniquePredicates())
	}
	pkg, err := semantic.New(cfg.Package, compiled.Ontology, st, pkgOpts...)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to create semantic package", err)
	}
	return &session{opts: opts, store: st, pkg: pkg, registry: reg}, nil
}

// entity loads an entity by id, reporting a missing one as not found.
func (s *session) entity(ctx context.Context, id string) (semantic.Entity, error) {
	e, err := s.pkg.LoadEntityByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("entity %s: %w", id, storage.ErrNotFound)
	}
	return e, nil
}

// Close logs the store counters at debug level, unregisters the package
// and closes the database.
func (s *session) Close() {
	if families, err := s.registry.Gather(); err == nil {
		for _, mf := range families {
			for _, m := range mf.GetMetric() {
				attrs := []any{"metric", mf.GetName(), "value", m.GetCounter().GetValue()}
				for _, lp := range m.GetLabel() {
					attrs = append(attrs, lp.GetName(), lp.GetValue())
				}
				s.opts.logger().Debug("store metric", attrs...)
			}
		}
	}
	semantic.Unregister(s.pkg.Name())
	if err := s.store.Close(); err != nil {
		s.opts.logger().Error("error closing database", "error", err)
	}
}
