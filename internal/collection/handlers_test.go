package collection

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"crmconsole/internal/remote"
	"crmconsole/internal/schema"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, opts ...ServerOption) (*remote.Client, Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := NewMemoryStore()
	r := gin.New()
	NewServer(store, opts...).Register(r.Group("/data"))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return remote.New(srv.URL + "/data"), store
}

func statusOf(err error) int {
	var se *remote.StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

func TestCRUDOverRemoteClient(t *testing.T) {
	cl, _ := newTestServer(t)
	ctx := context.Background()

	created, err := cl.Create(ctx, "/deals", schema.Record{"title": "Big", "stage": "new"})
	require.NoError(t, err)
	id := created.String("id")
	require.NotEmpty(t, id)
	assert.EqualValues(t, 1, created["version"])

	got, err := cl.Get(ctx, "/deals", id)
	require.NoError(t, err)
	assert.Equal(t, "Big", got["title"])

	patched, err := cl.Patch(ctx, "/deals", id, schema.Record{"stage": "won"})
	require.NoError(t, err)
	assert.Equal(t, "won", patched["stage"])
	assert.Equal(t, "Big", patched["title"])
	assert.EqualValues(t, 2, patched["version"])

	updated, err := cl.Update(ctx, "/deals", id, schema.Record{"title": "Bigger"})
	require.NoError(t, err)
	assert.Equal(t, "Bigger", updated["title"])
	_, hasStage := updated["stage"]
	assert.False(t, hasStage, "PUT replaces data")

	require.NoError(t, cl.Delete(ctx, "/deals", id))
	_, err = cl.Get(ctx, "/deals", id)
	assert.ErrorIs(t, err, remote.ErrNotFound)
}

func TestListParams(t *testing.T) {
	cl, store := newTestServer(t)
	ctx := context.Background()
	for _, r := range []map[string]any{
		{"id": "a", "title": "Acme deal", "stage": "new", "amount": 30},
		{"id": "b", "title": "Globex", "stage": "won", "amount": 10},
		{"id": "c", "title": "Initech", "stage": "new"},
		{"id": "d", "title": "Acme renewal", "stage": "won", "amount": 20},
	} {
		_, err := store.Create(ctx, "deals", r)
		require.NoError(t, err)
	}

	ids := func(recs []schema.Record) []string {
		out := make([]string, len(recs))
		for i, r := range recs {
			out[i] = r.String("id")
		}
		return out
	}

	recs, err := cl.List(ctx, "/deals", url.Values{"stage": {"won"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "d"}, ids(recs))

	recs, err = cl.List(ctx, "/deals", url.Values{"q": {"acme"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "d"}, ids(recs))

	// null в конце при любом направлении
	recs, err = cl.List(ctx, "/deals", url.Values{"sort": {"amount"}, "order": {"desc"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "d", "b", "c"}, ids(recs))

	recs, err = cl.List(ctx, "/deals", url.Values{"sort": {"amount"}, "limit": {"2"}, "offset": {"1"}, "envelope": {"1"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "a"}, ids(recs))
}

func TestBulkDeleteAndRestore(t *testing.T) {
	cl, store := newTestServer(t)
	ctx := context.Background()
	for _, id := range []string{"x", "y", "z"} {
		_, err := store.Create(ctx, "leads", map[string]any{"id": id})
		require.NoError(t, err)
	}

	require.NoError(t, cl.Bulk(ctx, "/leads/_bulk", []string{"x", "y"}, BulkDelete))
	recs, err := cl.List(ctx, "/leads", nil)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	require.NoError(t, cl.Bulk(ctx, "/leads/_bulk", []string{"x"}, BulkRestore))
	recs, err = cl.List(ctx, "/leads", nil)
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	err = cl.Bulk(ctx, "/leads/_bulk", []string{"nope"}, BulkDelete)
	assert.Equal(t, http.StatusUnprocessableEntity, statusOf(err))

	err = cl.Bulk(ctx, "/leads/_bulk", []string{"x"}, "explode")
	assert.Equal(t, http.StatusBadRequest, statusOf(err))
}

func TestVersionConflict(t *testing.T) {
	cl, store := newTestServer(t)
	ctx := context.Background()
	rec, err := store.Create(ctx, "deals", map[string]any{"title": "A"})
	require.NoError(t, err)

	_, err = cl.Update(ctx, "/deals", rec.ID, schema.Record{"title": "B", "version": 7})
	assert.Equal(t, http.StatusConflict, statusOf(err))

	_, err = cl.Update(ctx, "/deals", rec.ID, schema.Record{"title": "B", "version": 1})
	assert.NoError(t, err)
}

func TestValidationByScreen(t *testing.T) {
	sc := &schema.Screen{
		Name: "deals",
		Fields: []schema.Field{
			{Key: "title", Required: true},
			{Key: "amount", Kind: schema.KindNumber},
			{Key: "stage", Kind: schema.KindSelect, Options: []schema.Option{{Value: "new"}, {Value: "won"}}},
		},
		Endpoints: schema.Endpoints{List: "/deals"},
	}
	cl, _ := newTestServer(t, WithScreens(map[string]*schema.Screen{"deals": sc}))
	ctx := context.Background()

	_, err := cl.Create(ctx, "/deals", schema.Record{"amount": "lots", "stage": "lost"})
	var se *remote.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)

	created, err := cl.Create(ctx, "/deals", schema.Record{"title": "ok", "stage": "new"})
	require.NoError(t, err)

	// частичное обновление не требует обязательных полей
	_, err = cl.Patch(ctx, "/deals", created.String("id"), schema.Record{"stage": "won"})
	assert.NoError(t, err)
	_, err = cl.Patch(ctx, "/deals", created.String("id"), schema.Record{"stage": "lost"})
	assert.Equal(t, http.StatusBadRequest, statusOf(err))
}

func TestSeed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "companies.yaml"), []byte(`
records:
  - {id: c1, name: Acme}
  - {id: c2, name: Globex}
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644))

	store := NewMemoryStore()
	n, err := Seed(context.Background(), store, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rec, err := store.Get(context.Background(), "companies", "c2")
	require.NoError(t, err)
	assert.Equal(t, "Globex", rec.Data["name"])
}

func TestParseListParams(t *testing.T) {
	lp := parseListParams(url.Values{
		"_sort": {"-amount,title"}, "_limit": {"5"}, "stage": {"won", ""}, "q": {" x "}, "page": {"2"},
	})
	assert.Equal(t, []SortKey{{Field: "amount", Desc: true}, {Field: "title"}}, lp.Sort)
	assert.Equal(t, 5, lp.Limit)
	assert.Equal(t, map[string][]string{"stage": {"won"}}, lp.Filters)
	assert.Equal(t, "x", lp.Q)
	assert.Equal(t, "last", lp.Nulls)
}

func TestCollectionOf(t *testing.T) {
	assert.Equal(t, "deals", CollectionOf("/deals"))
	assert.Equal(t, "deals", CollectionOf("deals/_bulk"))
	assert.Equal(t, "", CollectionOf(""))
}

func TestSeedIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tags.yml"), []byte(`
collection: labels
records:
  - {id: t1, name: Hot}
  - {name: Anonymous}
`), 0o644))

	store := NewMemoryStore()
	ctx := context.Background()
	n, err := Seed(ctx, store, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// без id запись создаётся заново, с id: пропускается
	n, err = Seed(ctx, store, dir)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	recs, err := store.List(ctx, "labels")
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}
