package semantic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/semantika/internal/document"
	"github.com/roach88/semantika/internal/storage"
	"github.com/roach88/semantika/internal/template"
)

func TestEntity_LazyFieldFetch(t *testing.T) {
	f := newFixture(t)
	george := f.createPerson(document.Document{"name": "George", "age": 41})

	e, _, err := f.pkg.MakeEntity(nil, george.ID(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), e.Version())
	_, ok := e.Get("name")
	assert.False(t, ok)

	name, err := e.GetField(f.ctx, "name")
	require.NoError(t, err)
	assert.Equal(t, "George", name)
	assert.Equal(t, int64(1), e.Version())

	_, ok = e.Get("age")
	assert.False(t, ok, "only the requested field is fetched")

	fields, err := e.GetFields(f.ctx, "age", "nickname")
	require.NoError(t, err)
	assert.Equal(t, document.Document{"age": int64(41), "nickname": nil}, fields)
}

func TestEntity_GetFieldsOnVanishedEntity(t *testing.T) {
	f := newFixture(t)
	george := f.createPerson(document.Document{"name": "George"})
	coll, err := f.pkg.CollectionForEntityType(f.ctx, f.person)
	require.NoError(t, err)
	_, err = coll.DeleteByID(f.ctx, george.ID())
	require.NoError(t, err)

	e, _, err := f.pkg.MakeEntity(nil, george.ID(), nil)
	require.NoError(t, err)
	_, err = e.GetField(f.ctx, "name")
	assert.True(t, storage.IsNotFound(err))
}

func TestEntity_UpdateIncrementsVersion(t *testing.T) {
	f := newFixture(t)
	george := f.createPerson(document.Document{"name": "George"})

	require.NoError(t, george.Update(f.ctx, document.Document{"age": 42}))
	assert.Equal(t, int64(2), george.Version())
	age, ok := george.Get("age")
	require.True(t, ok)
	assert.Equal(t, int64(42), age)

	rec := f.stored(george)
	assert.Equal(t, int64(2), rec.Version())
	assert.Equal(t, int64(42), rec["age"])
	assert.Contains(t, rec, document.FieldLastUpdate)

	require.NoError(t, george.Update(f.ctx, document.Document{"nickname": "Gee"}))
	assert.Equal(t, int64(3), f.stored(george).Version())
}

func TestEntity_UpdateStaleCopyFails(t *testing.T) {
	f := newFixture(t)
	george := f.createPerson(document.Document{"name": "George"})
	stale, err := f.pkg.LoadEntity(f.ctx, george.ID(), nil)
	require.NoError(t, err)

	require.NoError(t, george.Update(f.ctx, document.Document{"age": 42}))

	err = stale.Update(f.ctx, document.Document{"age": 43})
	require.Error(t, err)
	assert.True(t, storage.IsOptimisticLock(err))
	assert.Equal(t, int64(1), stale.Version())
	age, _ := stale.Get("age")
	assert.Nil(t, age, "a failed update leaves the entity unchanged")
	assert.Equal(t, int64(42), f.stored(george)["age"])
}

func TestEntity_UpdateUnknownField(t *testing.T) {
	f := newFixture(t)
	george := f.createPerson(document.Document{"name": "George"})

	err := george.Update(f.ctx, document.Document{"extra": 1})
	require.Error(t, err)
	assert.True(t, template.IsUnknownFieldError(err))
	assert.Equal(t, int64(1), f.stored(george).Version())

	require.NoError(t, george.Update(f.ctx, document.Document{"extra": 1, "age": 5}, CutExtraFields(true)))
	rec := f.stored(george)
	assert.NotContains(t, rec, "extra")
	assert.Equal(t, int64(5), rec["age"])
}

func TestEntity_UpdateValidation(t *testing.T) {
	f := newFixture(t)
	george := f.createPerson(document.Document{"name": "George"})

	err := george.Update(f.ctx, document.Document{"name": ""})
	assert.True(t, template.IsValidationError(err))
}

func TestEntity_UpdateDoesNotFillDefaults(t *testing.T) {
	f := newFixture(t)
	george := f.createPerson(document.Document{"name": "George", "status": "away"})

	require.NoError(t, george.Update(f.ctx, document.Document{"age": 1}))
	assert.Equal(t, "away", f.stored(george)["status"])
}

func TestEntity_UpdateDeleted(t *testing.T) {
	f := newFixture(t)
	george := f.createPerson(document.Document{"name": "George"})
	coll, err := f.pkg.CollectionForEntityType(f.ctx, f.person)
	require.NoError(t, err)
	_, err = coll.DeleteByID(f.ctx, george.ID())
	require.NoError(t, err)

	err = george.Update(f.ctx, document.Document{"age": 1})
	assert.True(t, storage.IsNotFound(err))

	fresh, _, err := f.pkg.MakeEntity(nil, george.ID(), nil)
	require.NoError(t, err)
	err = fresh.Update(f.ctx, document.Document{"age": 1})
	assert.True(t, storage.IsNotFound(err))
}

func TestEntity_UpdateWithoutKnownVersion(t *testing.T) {
	f := newFixture(t)
	george := f.createPerson(document.Document{"name": "George"})

	e, _, err := f.pkg.MakeEntity(nil, george.ID(), nil)
	require.NoError(t, err)
	require.NoError(t, e.Update(f.ctx, document.Document{"age": 7}))
	assert.Equal(t, int64(2), e.Version())
}

func TestEntity_RawIncrement(t *testing.T) {
	f := newFixture(t)
	george := f.createPerson(document.Document{"name": "George", "age": 41})

	require.NoError(t, george.Update(f.ctx, nil, WithRawOps(&storage.RawOps{Inc: map[string]float64{"age": 1}})))

	_, ok := george.Get("age")
	assert.False(t, ok, "raw operations invalidate the touched fields")
	age, err := george.GetField(f.ctx, "age")
	require.NoError(t, err)
	n, ok := document.AsInt64(age)
	require.True(t, ok)
	assert.Equal(t, int64(42), n)
	assert.Equal(t, int64(2), george.Version())
}

func TestEntity_EraseRemovesPredicates(t *testing.T) {
	f := newFixture(t)
	george := f.createPerson(document.Document{"name": "George"})
	richard := f.createPerson(document.Document{"name": "Richard"})
	hooli := f.createWorkPlace("Hooli")
	f.link(george, "worksFor", hooli, nil)
	f.link(richard, "knows", george, nil)
	f.link(richard, "worksFor", hooli, nil)

	res, err := george.Erase(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, george.ID(), res.EntityID)

	gone, err := f.pkg.LoadEntity(f.ctx, george.ID(), nil)
	require.NoError(t, err)
	assert.Nil(t, gone)

	known, err := richard.OutgoingPreds(f.ctx, "knows", FindPredicatesOptions{})
	require.NoError(t, err)
	assert.Empty(t, known)

	staff, err := hooli.IncomingPreds(f.ctx, "worksFor", FindPredicatesOptions{})
	require.NoError(t, err)
	require.Len(t, staff, 1)
	assert.Equal(t, richard.ID(), staff[0].SourceID)
}

func TestEntity_Equals(t *testing.T) {
	f := newFixture(t)
	george := f.createPerson(document.Document{"name": "George"})
	other := f.createPerson(document.Document{"name": "George"})

	again, err := f.pkg.LoadEntity(f.ctx, george.ID(), nil)
	require.NoError(t, err)
	assert.True(t, george.Equals(again))
	assert.False(t, george.Equals(other))
	assert.False(t, george.Equals(nil))
}

// family creates grandpa <- father <- son.
func family(t *testing.T, f *fixture) (grandpa, father, son Entity) {
	t.Helper()
	grandpa = f.createPerson(document.Document{
		"name":     "Grandpa",
		"nickname": "Pops",
		"settings": map[string]any{"theme": "dark", "lang": "en"},
	})
	father = f.createPerson(document.Document{
		"name":     "Father",
		"settings": map[string]any{"lang": "fr"},
	})
	son = f.createPerson(document.Document{"name": "Son"})
	require.NoError(t, father.SetParent(f.ctx, grandpa))
	require.NoError(t, son.SetParent(f.ctx, father))
	return grandpa, father, son
}

func TestEntity_SetParentAndAncestors(t *testing.T) {
	f := newFixture(t)
	grandpa, father, son := family(t, f)

	assert.Equal(t, father.ID(), f.stored(son)[document.FieldParent])

	reloaded, err := f.pkg.LoadEntity(f.ctx, son.ID(), nil)
	require.NoError(t, err)
	chain, err := reloaded.Ancestors(f.ctx)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, father.ID(), chain[0].ID())
	assert.Equal(t, grandpa.ID(), chain[1].ID())

	top, err := grandpa.Ancestors(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, top)
}

func TestEntity_SetParentRejectsCycles(t *testing.T) {
	f := newFixture(t)
	grandpa, _, son := family(t, f)

	err := grandpa.SetParent(f.ctx, son)
	require.Error(t, err)
	assert.True(t, IsCircularParent(err))
	assert.NotContains(t, f.stored(grandpa), document.FieldParent, "nothing is written")

	err = son.SetParent(f.ctx, son)
	assert.True(t, IsCircularParent(err))
}

func TestEntity_SetParentSeesReparentedAncestor(t *testing.T) {
	f := newFixture(t)
	_, father, _ := family(t, f)
	outsider := f.createPerson(document.Document{"name": "Outsider"})

	stale, err := f.pkg.LoadEntity(f.ctx, father.ID(), nil)
	require.NoError(t, err)
	cached, err := stale.GetParent(f.ctx)
	require.NoError(t, err)
	require.NotNil(t, cached)

	require.NoError(t, father.SetParent(f.ctx, outsider))

	err = outsider.SetParent(f.ctx, stale)
	require.Error(t, err)
	assert.True(t, IsCircularParent(err))
	assert.NotContains(t, f.stored(outsider), document.FieldParent)
}

func TestEntity_UnsetParent(t *testing.T) {
	f := newFixture(t)
	_, father, son := family(t, f)

	require.NoError(t, son.SetParent(f.ctx, nil))
	parent, err := son.GetParent(f.ctx)
	require.NoError(t, err)
	assert.Nil(t, parent)
	assert.NotContains(t, f.stored(son), document.FieldParent)

	require.NoError(t, father.UnsetParent(f.ctx))
	assert.NotContains(t, f.stored(father), document.FieldParent)
}

func TestEntity_GetFieldRecursive(t *testing.T) {
	f := newFixture(t)
	_, _, son := family(t, f)

	nickname, err := son.GetFieldRecursive(f.ctx, "nickname", false)
	require.NoError(t, err)
	assert.Equal(t, "Pops", nickname)

	settings, err := son.GetFieldRecursive(f.ctx, "settings", true)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"theme": "dark", "lang": "fr"}, settings)

	missing, err := son.GetFieldRecursive(f.ctx, "age", false)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestEntity_FullDto(t *testing.T) {
	f := newFixture(t)
	dinesh := f.createPerson(document.Document{"name": "Dinesh"})

	dto, err := dinesh.FullDto(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, document.Document{
		"name":        "Dinesh",
		"status":      "active",
		"age":         nil,
		"nickname":    nil,
		"settings":    nil,
		"_created":    createdAt,
		DtoID:         dinesh.ID(),
		DtoEntityType: "Person",
	}, dto)
}

func TestEntity_PopulateRelation(t *testing.T) {
	f := newFixture(t)
	george := f.createPerson(document.Document{"name": "George"})
	hooli := f.createWorkPlace("Hooli")
	f.link(george, "worksFor", hooli, nil)

	e, _, err := f.pkg.MakeEntity(nil, hooli.ID(), nil)
	require.NoError(t, err)
	found, err := e.Populate(f.ctx, Field("name"), Relation{Predicate: "worksFor", Incoming: true, Projection: []string{"name"}})
	require.NoError(t, err)
	require.True(t, found)

	name, _ := e.Get("name")
	assert.Equal(t, "Hooli", name)
	rel := e.Relations("worksFor")
	require.Len(t, rel, 1)
	require.NotNil(t, rel[0].Peer())
	peerName, _ := rel[0].Peer().Get("name")
	assert.Equal(t, "George", peerName)
}

func TestEntity_Refresh(t *testing.T) {
	f := newFixture(t)
	george := f.createPerson(document.Document{"name": "George"})
	other, err := f.pkg.LoadEntity(f.ctx, george.ID(), nil)
	require.NoError(t, err)

	require.NoError(t, george.Update(f.ctx, document.Document{"name": "Gavin"}))

	name, _ := other.Get("name")
	assert.Equal(t, "George", name)
	found, err := other.Refresh(f.ctx)
	require.NoError(t, err)
	require.True(t, found)
	name, _ = other.Get("name")
	assert.Equal(t, "Gavin", name)
	assert.Equal(t, int64(2), other.Version())
}

func TestEntity_Traverse(t *testing.T) {
	f := newFixture(t)
	george := f.createPerson(document.Document{"name": "George"})
	hooli := f.createWorkPlace("Hooli")
	f.link(george, "worksFor", hooli, document.Document{"position": "CEO"})

	dto, err := hooli.Traverse(f.ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, "Hooli", dto["name"])
	assert.NotContains(t, dto, "_outgoing")

	incoming, ok := dto["_incoming"].([]any)
	require.True(t, ok)
	require.Len(t, incoming, 1)
	item := incoming[0].(document.Document)
	assert.Equal(t, "worksFor", item["predicateName"])
	assert.Equal(t, george.ID(), item["sourceId"])

	peer, ok := item["peerEntity"].(document.Document)
	require.True(t, ok)
	assert.Equal(t, "George", peer["name"])
	assert.Equal(t, "Person", peer[DtoEntityType])
	assert.NotContains(t, peer, "_incoming")
}

func TestPerson_TypedAccessor(t *testing.T) {
	f := newFixture(t)
	george := f.createPerson(document.Document{"name": "George"})

	loaded, err := f.pkg.LoadEntity(f.ctx, george.ID(), f.person, Field("age"))
	require.NoError(t, err)
	p, ok := loaded.(*Person)
	require.True(t, ok)

	name, err := p.Name(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, "George", name)
}
