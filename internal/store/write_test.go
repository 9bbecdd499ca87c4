package store

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/semantika/internal/document"
	"github.com/roach88/semantika/internal/query"
	"github.com/roach88/semantika/internal/storage"
)

func TestUpdateDocument_VersionChecked(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := createTestStore(t, WithMetrics(reg))
	c := createTestCollection(t, s, "people")
	ctx := context.Background()

	id, err := c.Append(ctx, document.Document{"name": "George"})
	require.NoError(t, err)

	require.NoError(t, c.UpdateDocument(ctx, id, document.Document{"name": "Georgie"}, 1, nil))

	doc, err := c.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Georgie", doc["name"])
	assert.Equal(t, int64(2), doc.Version())
	assert.Equal(t, testEpoch.UnixMilli(), doc[document.FieldLastUpdate])

	// A stale writer still holding version 1 loses.
	err = c.UpdateDocument(ctx, id, document.Document{"name": "stale"}, 1, nil)
	var lock *storage.OptimisticLockError
	require.ErrorAs(t, err, &lock)
	assert.Equal(t, int64(1), lock.Expected)
	assert.Equal(t, int64(2), lock.Actual)
	assert.Equal(t, 1.0, promtest.ToFloat64(s.metrics.conflicts.WithLabelValues("people")))

	doc, err = c.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Georgie", doc["name"])
}

func TestUpdateDocument_VersionFromFields(t *testing.T) {
	s := createTestStore(t)
	c := createTestCollection(t, s, "people")
	ctx := context.Background()

	id, err := c.Append(ctx, document.Document{"name": "a"})
	require.NoError(t, err)
	require.NoError(t, c.UpdateDocument(ctx, id, document.Document{"name": "b", "_version": 1}, 0, nil))

	doc, err := c.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), doc.Version())
}

func TestUpdateDocument_Missing(t *testing.T) {
	s := createTestStore(t)
	c := createTestCollection(t, s, "people")

	err := c.UpdateDocument(context.Background(), "ghost", document.Document{"a": 1}, 1, nil)
	assert.True(t, storage.IsNotFound(err))
}

func TestUpdateDocument_RawOps(t *testing.T) {
	s := createTestStore(t)
	c := createTestCollection(t, s, "counters")
	ctx := context.Background()

	id, err := c.Append(ctx, document.Document{"hits": 2, "tmp": "x", "log": []string{"a"}})
	require.NoError(t, err)

	raw := &storage.RawOps{
		Inc:   map[string]float64{"hits": 3, "fresh": 1, "ratio": 0.5},
		Unset: []string{"tmp"},
		Push:  map[string]any{"log": "b", "newlog": "z"},
	}
	require.NoError(t, c.UpdateDocument(ctx, id, nil, 1, raw))

	doc, err := c.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(5), doc["hits"])
	assert.Equal(t, int64(1), doc["fresh"])
	assert.Equal(t, 0.5, doc["ratio"])
	assert.NotContains(t, doc, "tmp")
	assert.Equal(t, []any{"a", "b"}, doc["log"])
	assert.Equal(t, []any{"z"}, doc["newlog"])

	err = c.UpdateDocument(ctx, id, nil, 2, &storage.RawOps{Inc: map[string]float64{"log": 1}})
	assert.ErrorContains(t, err, "non-numeric")
}

func TestUpdateDocumentUnsafe(t *testing.T) {
	s := createTestStore(t)
	c := createTestCollection(t, s, "people")
	ctx := context.Background()

	id, err := c.Append(ctx, document.Document{"name": "a"})
	require.NoError(t, err)

	ok, err := c.UpdateDocumentUnsafe(ctx, id, document.Document{"name": "b"})
	require.NoError(t, err)
	assert.True(t, ok)

	doc, err := c.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "b", doc["name"])
	assert.Equal(t, int64(1), doc.Version())

	ok, err = c.UpdateDocumentUnsafe(ctx, "ghost", document.Document{"name": "b"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFindOneAndModify(t *testing.T) {
	s := createTestStore(t)
	c := createTestCollection(t, s, "jobs")
	ctx := context.Background()

	for _, name := range []string{"first", "second"} {
		_, err := c.Append(ctx, document.Document{"name": name, "state": "queued"})
		require.NoError(t, err)
	}

	before, err := c.FindOneAndModify(ctx, query.Eq{Field: "state", Value: "queued"}, document.Document{"state": "taken"})
	require.NoError(t, err)
	assert.Equal(t, "first", before["name"])
	assert.Equal(t, "queued", before["state"])

	n, err := c.Count(ctx, query.Eq{Field: "state", Value: "taken"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	none, err := c.FindOneAndModify(ctx, query.Eq{Field: "state", Value: "nope"}, document.Document{"state": "x"})
	require.NoError(t, err)
	assert.Nil(t, none)
}
