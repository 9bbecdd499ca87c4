package semantic

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/semantika/internal/document"
	"github.com/roach88/semantika/internal/query"
	"github.com/roach88/semantika/internal/storage"
)

func TestCollectionNames(t *testing.T) {
	f := newFixture(t)
	m := f.pkg.Collections()

	assert.Equal(t, "acme_Person", m.EntityCollectionName(f.person))
	assert.Equal(t, "acme__Predicates", m.PredicateCollectionName(nil))
	assert.Equal(t, "acme__Predicates", m.PredicateCollectionName(f.worksFor))
	assert.Equal(t, "acme_Social", m.PredicateCollectionName(f.knows))

	renamed := NewEntityDcr("Team", nil, nil, WithCollection("groups"))
	assert.Equal(t, "acme_groups", m.EntityCollectionName(renamed))
}

func TestCollections_CreateID(t *testing.T) {
	f := newFixture(t)

	people, err := f.pkg.CollectionForEntityType(f.ctx, f.person)
	require.NoError(t, err)
	id := people.CreateID()
	assert.True(t, strings.HasPrefix(id, "acme_Person_"), id)
	typ, ok := document.TypeFromID(id)
	require.True(t, ok)
	assert.Equal(t, "Person", typ)

	preds, err := f.pkg.PredicateCollection(f.ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "acme_id-000002", preds.CreateID())
}

func TestEntityCollection_AppendKeepsGivenID(t *testing.T) {
	f := newFixture(t)
	people, err := f.pkg.CollectionForEntityType(f.ctx, f.person)
	require.NoError(t, err)

	id, err := people.Append(f.ctx, document.Document{"id": "acme_Person_bertram", "name": "Bertram"})
	require.NoError(t, err)
	assert.Equal(t, "acme_Person_bertram", id)

	e, err := people.FindByID(f.ctx, id)
	require.NoError(t, err)
	require.NotNil(t, e)
	name, _ := e.Get("name")
	assert.Equal(t, "Bertram", name)
	_, hasAlias := e.Get("id")
	assert.False(t, hasAlias)
}

func seedPeople(t *testing.T, f *fixture) *EntityCollection {
	t.Helper()
	for _, p := range []document.Document{
		{"name": "Richard", "age": 26},
		{"name": "Dinesh", "age": 30, "status": "away"},
		{"name": "Gilfoyle", "age": 32},
	} {
		f.createPerson(p)
	}
	coll, err := f.pkg.CollectionForEntityType(f.ctx, f.person)
	require.NoError(t, err)
	return coll
}

func TestEntityCollection_FindMaterializes(t *testing.T) {
	f := newFixture(t)
	coll := seedPeople(t, f)

	active, err := coll.FindSome(f.ctx, query.Eq{Field: "status", Value: "active"}, &storage.FindOptions{
		Sort: []query.SortKey{{Field: "name"}},
	})
	require.NoError(t, err)
	require.Len(t, active, 2)
	for _, e := range active {
		assert.IsType(t, &Person{}, e)
	}
	first, _ := active[0].Get("name")
	assert.Equal(t, "Gilfoyle", first)

	one, err := coll.FindOne(f.ctx, query.Eq{Field: "name", Value: "Dinesh"})
	require.NoError(t, err)
	require.NotNil(t, one)
	assert.Equal(t, int64(1), one.Version())

	none, err := coll.FindOne(f.ctx, query.Eq{Field: "name", Value: "Erlich"})
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestEntityCollection_FindSomeProjection(t *testing.T) {
	f := newFixture(t)
	coll := seedPeople(t, f)

	found, err := coll.FindSome(f.ctx, query.Eq{Field: "name", Value: "Richard"}, &storage.FindOptions{Projection: []string{"name"}})
	require.NoError(t, err)
	require.Len(t, found, 1)
	_, ok := found[0].Get("age")
	assert.False(t, ok)

	age, err := found[0].GetField(f.ctx, "age")
	require.NoError(t, err)
	assert.Equal(t, int64(26), age)
}

func TestEntityCollection_FindSeqStopsEarly(t *testing.T) {
	f := newFixture(t)
	coll := seedPeople(t, f)

	var names []string
	for e, err := range coll.FindSeq(f.ctx, nil, &storage.FindOptions{BatchSize: 1, Sort: []query.SortKey{{Field: "age"}}}) {
		require.NoError(t, err)
		name, _ := e.Get("name")
		names = append(names, name.(string))
		if len(names) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"Richard", "Dinesh"}, names)
}

func TestEntityCollection_FindSomeStream(t *testing.T) {
	f := newFixture(t)
	coll := seedPeople(t, f)
	filter := query.Eq{Field: "name", Value: "Gilfoyle"}

	for item, err := range coll.FindSomeStream(f.ctx, filter, nil, storage.StreamEntities) {
		require.NoError(t, err)
		assert.IsType(t, &Person{}, item)
	}
	for item, err := range coll.FindSomeStream(f.ctx, filter, &storage.FindOptions{AsDTO: true}, storage.StreamEntities) {
		require.NoError(t, err)
		rec, ok := item.(document.Document)
		require.True(t, ok)
		assert.Equal(t, "Gilfoyle", rec["name"])
	}
	for item, err := range coll.FindSomeStream(f.ctx, filter, nil, storage.StreamStrings) {
		require.NoError(t, err)
		s, ok := item.(string)
		require.True(t, ok)
		assert.Contains(t, s, `"name":"Gilfoyle"`)
	}
}

func TestEntityCollection_Load(t *testing.T) {
	f := newFixture(t)
	coll := seedPeople(t, f)

	page, err := coll.Load(f.ctx, &storage.ReadOptions{From: 1, Count: 1, Sort: []query.SortKey{{Field: "age", Desc: true}}}, nil)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	name, _ := page.Items[0].Get("name")
	assert.Equal(t, "Dinesh", name)
	assert.Equal(t, int64(3), page.TotalFiltered)
	assert.Equal(t, int64(-1), page.Total)
}

func TestEntityCollection_CountAndDistinct(t *testing.T) {
	f := newFixture(t)
	coll := seedPeople(t, f)

	n, err := coll.Count(f.ctx, query.Eq{Field: "status", Value: "active"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	statuses, err := coll.Distinct(f.ctx, "status", nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{"active", "away"}, statuses)
}

func TestEntityCollection_InitializerRunsOnce(t *testing.T) {
	calls := 0
	raw := RawOntology{Entities: []*EntityDcr{
		NewEntityDcr("Ticket", nil, nil, WithInitializer(func(ctx context.Context, c *EntityCollection) error {
			calls++
			return c.EnsureIndex(ctx, []storage.IndexKey{{Field: "code"}}, storage.IndexOptions{Unique: true})
		})),
	}}
	pkg, err := New("desk", raw, openStore(t), WithLogger(quietLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { Unregister("desk") })
	ticket, err := pkg.Edcr("Ticket")
	require.NoError(t, err)

	for range 3 {
		_, err := pkg.CollectionForEntityType(context.Background(), ticket)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, calls)

	_, err = pkg.CreateEntity(context.Background(), ticket, document.Document{"code": "T-1"})
	require.NoError(t, err)
	_, err = pkg.CreateEntity(context.Background(), ticket, document.Document{"code": "T-1"})
	assert.True(t, storage.IsDuplicateKey(err))
}
