package semantic

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/semantika/internal/document"
	"github.com/roach88/semantika/internal/store"
	"github.com/roach88/semantika/internal/template"
	"github.com/roach88/semantika/internal/testutil"
)

const testPackage = "acme"

// createdAt is the first reading of the package clock.
var createdAt = testutil.Epoch.UnixMilli()

// Person is a typed entity bound through its factory.
type Person struct {
	*EntityBase
}

func newPerson(base *EntityBase) Entity {
	return &Person{EntityBase: base}
}

func (p *Person) Name(ctx context.Context) (string, error) {
	v, err := p.GetField(ctx, "name")
	s, _ := v.(string)
	return s, err
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *store.Store
	pkg   *Package

	person    *EntityDcr
	workPlace *EntityDcr
	worksFor  *PredicateDcr
	manages   *PredicateDcr
	knows     *PredicateDcr
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOntology() (RawOntology, *EntityDcr, *EntityDcr, *PredicateDcr, *PredicateDcr, *PredicateDcr) {
	person := NewEntityDcr("Person", template.Template{
		"name":     {Validator: template.MustCUE(`string & !=""`)},
		"age":      {},
		"status":   {Default: "active"},
		"nickname": {},
		"settings": {},
	}, newPerson)
	workPlace := NewEntityDcr("WorkPlace", template.Template{
		"name": {Validator: template.MustCUE(`string`)},
	}, nil)

	manages := NewPredicateDcr("manages")
	worksFor := NewPredicateDcr("worksFor",
		WithChildren(manages),
		WithPayload(template.Template{"position": {Validator: template.MustCUE(`string`)}}),
		WithKeys(PredicateKeys{Source: []string{"name"}, Target: []string{"name"}, Self: []string{"since"}}),
	)
	knows := NewPredicateDcr("knows", WithPredicateCollection("acme_Social"))

	raw := RawOntology{
		Entities:   []*EntityDcr{person, workPlace},
		Predicates: []*PredicateDcr{worksFor, knows},
	}
	return raw, person, workPlace, worksFor, manages, knows
}

// openStore opens a fresh store with deterministic ids and clock.
func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "semantic.db"),
		store.WithIDGenerator(testutil.NewSequenceIDGenerator("")),
		store.WithClock(testutil.NewDeterministicClock(time.Time{}, time.Second).Now),
		store.WithLogger(quietLogger()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	raw, person, workPlace, worksFor, manages, knows := testOntology()
	st := openStore(t)

	opts = append([]Option{
		WithLogger(quietLogger()),
		WithClock(testutil.NewDeterministicClock(time.Time{}, 0).Now),
	}, opts...)
	pkg, err := New(testPackage, raw, st, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { Unregister(testPackage) })

	return &fixture{
		t:         t,
		ctx:       context.Background(),
		store:     st,
		pkg:       pkg,
		person:    person,
		workPlace: workPlace,
		worksFor:  worksFor,
		manages:   manages,
		knows:     knows,
	}
}

func (f *fixture) createPerson(fields document.Document) Entity {
	f.t.Helper()
	e, err := f.pkg.CreateEntity(f.ctx, f.person, fields)
	require.NoError(f.t, err)
	return e
}

func (f *fixture) createWorkPlace(name string) Entity {
	f.t.Helper()
	e, err := f.pkg.CreateEntity(f.ctx, f.workPlace, document.Document{"name": name})
	require.NoError(f.t, err)
	return e
}

func (f *fixture) link(source Entity, predicate string, target Entity, payload document.Document) *Predicate {
	f.t.Helper()
	pr, err := f.pkg.CreatePredicate(f.ctx, source, predicate, target, payload, nil)
	require.NoError(f.t, err)
	return pr
}

// stored reads the raw record of an entity.
func (f *fixture) stored(e Entity) document.Document {
	f.t.Helper()
	coll, err := f.pkg.CollectionForEntityType(f.ctx, e.Descriptor())
	require.NoError(f.t, err)
	rec, err := coll.Records().FindByID(f.ctx, e.ID())
	require.NoError(f.t, err)
	return rec
}
