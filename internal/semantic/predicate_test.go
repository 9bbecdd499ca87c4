package semantic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/semantika/internal/document"
	"github.com/roach88/semantika/internal/storage"
	"github.com/roach88/semantika/internal/template"
)

func TestPredicate_DtoAndTypedFields(t *testing.T) {
	f := newFixture(t)
	george := f.createPerson(document.Document{"name": "George"})
	hooli := f.createWorkPlace("Hooli")

	pr := f.link(george, "worksFor", hooli, document.Document{"position": "CTO"})

	assert.Equal(t, int64(1), pr.Version())
	assert.Equal(t, createdAt+2, pr.Timestamp, "the third reading of the package clock")
	dto := pr.Dto()
	assert.Equal(t, pr.ID(), dto[DtoID])
	assert.Equal(t, "worksFor", dto["predicateName"])
	assert.Equal(t, "WorkPlace", dto["targetType"])
	assert.Equal(t, map[string]any{"position": "CTO"}, dto["payload"])
}

func TestPredicate_GetSourceIsMemoized(t *testing.T) {
	f := newFixture(t)
	george := f.createPerson(document.Document{"name": "George"})
	hooli := f.createWorkPlace("Hooli")
	created := f.link(george, "worksFor", hooli, nil)

	pr, err := f.pkg.PredicateByID(f.ctx, created.ID())
	require.NoError(t, err)
	require.NotNil(t, pr)
	assert.Nil(t, pr.Peer())

	first, err := pr.GetSource(f.ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, george.ID(), first.ID())
	assert.IsType(t, &Person{}, first)

	second, err := pr.GetSource(f.ctx)
	require.NoError(t, err)
	assert.Same(t, first, second)

	target, err := pr.GetTarget(f.ctx, "name")
	require.NoError(t, err)
	assert.Equal(t, hooli.ID(), target.ID())
}

func TestPredicate_GetTargetAcrossPackages(t *testing.T) {
	f := newFixture(t)
	company := NewEntityDcr("Company", template.Template{"name": {}}, nil)
	corp, err := New("corp", RawOntology{Entities: []*EntityDcr{company}}, f.store, WithLogger(quietLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { Unregister("corp") })

	raviga, err := corp.CreateEntity(f.ctx, company, document.Document{"name": "Raviga"})
	require.NoError(t, err)
	george := f.createPerson(document.Document{"name": "George"})
	created := f.link(george, "knows", raviga, nil)

	pr, err := f.pkg.PredicateByID(f.ctx, created.ID())
	require.NoError(t, err)
	target, err := pr.GetTarget(f.ctx)
	require.NoError(t, err)
	require.NotNil(t, target)
	assert.Equal(t, "corp", target.PackageName())
	name, _ := target.Get("name")
	assert.Equal(t, "Raviga", name)
}

func TestPredicate_Change(t *testing.T) {
	f := newFixture(t)
	george := f.createPerson(document.Document{"name": "George"})
	hooli := f.createWorkPlace("Hooli")
	pr := f.link(george, "worksFor", hooli, document.Document{"position": "CTO"})

	require.NoError(t, pr.Change(f.ctx, document.Document{"payload": map[string]any{"position": "CEO"}}))
	assert.Equal(t, int64(2), pr.Version())
	assert.Equal(t, document.Document{"position": "CEO"}, pr.Payload)

	stored, err := f.pkg.PredicateByID(f.ctx, pr.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version())
	assert.Equal(t, document.Document{"position": "CEO"}, stored.Payload)
}

func TestPredicate_ChangeStaleCopy(t *testing.T) {
	f := newFixture(t)
	george := f.createPerson(document.Document{"name": "George"})
	hooli := f.createWorkPlace("Hooli")
	pr := f.link(george, "worksFor", hooli, nil)
	stale, err := f.pkg.PredicateByID(f.ctx, pr.ID())
	require.NoError(t, err)

	require.NoError(t, pr.Change(f.ctx, document.Document{"payload": map[string]any{"position": "CEO"}}))

	err = stale.Change(f.ctx, document.Document{"payload": map[string]any{"position": "CFO"}})
	assert.True(t, storage.IsOptimisticLock(err))
}

func TestPredicate_ChangeValidatesPayload(t *testing.T) {
	f := newFixture(t)
	george := f.createPerson(document.Document{"name": "George"})
	hooli := f.createWorkPlace("Hooli")
	pr := f.link(george, "worksFor", hooli, nil)

	err := pr.Change(f.ctx, document.Document{"payload": map[string]any{"position": 3}})
	assert.True(t, template.IsValidationError(err))

	err = pr.Change(f.ctx, document.Document{"payload": map[string]any{"salary": 3}})
	assert.True(t, template.IsUnknownFieldError(err))
	assert.Equal(t, int64(1), pr.Version())
}

func TestPredicate_Erase(t *testing.T) {
	f := newFixture(t)
	george := f.createPerson(document.Document{"name": "George"})
	jared := f.createPerson(document.Document{"name": "Jared"})
	pr := f.link(george, "knows", jared, nil)

	removed, err := pr.Erase(f.ctx)
	require.NoError(t, err)
	assert.True(t, removed)

	gone, err := f.pkg.PredicateByID(f.ctx, pr.ID())
	require.NoError(t, err)
	assert.Nil(t, gone)

	removed, err = pr.Erase(f.ctx)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestExpandPredicate(t *testing.T) {
	f := newFixture(t)

	names, err := f.pkg.ExpandPredicate("worksFor")
	require.NoError(t, err)
	assert.Equal(t, []string{"manages", "worksFor"}, names)

	_, err = f.pkg.ExpandPredicate("owns")
	assert.True(t, IsUnknownDescriptor(err))
}
