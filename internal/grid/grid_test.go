package grid

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"

	"crmconsole/internal/schema"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu       sync.Mutex
	data     map[string][]schema.Record
	params   []url.Values
	listErr  error
	bulkErr  error
	deleted  []string
	bulkIDs  []string
	bulkAct  string
	listHits int
}

func (f *fakeBackend) List(_ context.Context, endpoint string, params url.Values) ([]schema.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listHits++
	if params != nil {
		f.params = append(f.params, params)
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.data[endpoint], nil
}

func (f *fakeBackend) Get(_ context.Context, endpoint, id string) (schema.Record, error) {
	return nil, errors.New("not found")
}

func (f *fakeBackend) Delete(_ context.Context, _ string, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeBackend) Bulk(_ context.Context, _ string, ids []string, action string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bulkErr != nil {
		return f.bulkErr
	}
	f.bulkIDs, f.bulkAct = ids, action
	return nil
}

func dealScreen() *schema.Screen {
	return &schema.Screen{
		Name:     "deals",
		Title:    "Deals",
		PageSize: 10,
		Fields: []schema.Field{
			{Key: "title", Kind: schema.KindText, Sortable: true},
			{Key: "amount", Kind: schema.KindNumber, Sortable: true},
			{Key: "stage", Kind: schema.KindSelect},
			{Key: "company_id", Kind: schema.KindAsyncSelect,
				Enrich: &schema.Enrichment{Endpoint: "/companies", DisplayField: "name"}},
		},
		Filters: []schema.Filter{
			{Key: "stage", Kind: schema.KindSelect},
			{Key: "q"},
		},
		Actions:   schema.Actions{Delete: true, BulkDelete: true},
		Endpoints: schema.Endpoints{List: "/deals", BulkDelete: "/deals/bulk"},
	}
}

func twelveDeals() []schema.Record {
	rows := make([]schema.Record, 12)
	for i := range rows {
		stage := "new"
		if i%3 == 0 {
			stage = "won"
		}
		rows[i] = schema.Record{
			"id":     fmt.Sprintf("d%02d", i),
			"title":  fmt.Sprintf("Deal %02d", i),
			"amount": i * 100,
			"stage":  stage,
		}
	}
	return rows
}

func TestPaginateTwelveRows(t *testing.T) {
	rows := twelveDeals()
	p1 := Paginate(rows, 1, 10)
	p2 := Paginate(rows, 2, 10)
	assert.Len(t, p1.Rows, 10)
	assert.Len(t, p2.Rows, 2)
	assert.Equal(t, 2, p1.Pages)

	assert.Equal(t, 2, Paginate(rows, 9, 10).Number)
	assert.Equal(t, 0, Pages(0, 10))
}

func TestFilterChangeResetsPage(t *testing.T) {
	s := dealScreen()
	s.Endpoints = schema.Endpoints{}
	g := New(s, nil)
	g.SetRows(context.Background(), twelveDeals())

	g.SetPage(2)
	require.Equal(t, 2, g.View().Page)
	require.Len(t, g.View().Rows, 2)

	require.NoError(t, g.SetFilter(context.Background(), "stage", "new"))
	v := g.View()
	assert.Equal(t, 1, v.Page)
	assert.Equal(t, 8, v.Total)

	assert.ErrorIs(t, g.SetFilter(context.Background(), "nope", "x"), ErrUnknownFilter)
}

func TestSortNullsLastAndStable(t *testing.T) {
	rows := []schema.Record{
		{"id": "a", "amount": 5},
		{"id": "b"},
		{"id": "c", "amount": 1},
		{"id": "d", "amount": nil},
		{"id": "e", "amount": 5},
	}
	s := NewSorter("en")
	ids := func(rs []schema.Record) []string {
		out := make([]string, len(rs))
		for i, r := range rs {
			out[i] = r.String("id")
		}
		return out
	}

	assert.Equal(t, []string{"c", "a", "e", "b", "d"}, ids(s.Sort(rows, SortSpec{Key: "amount", Dir: Asc})))
	assert.Equal(t, []string{"a", "e", "c", "b", "d"}, ids(s.Sort(rows, SortSpec{Key: "amount", Dir: Desc})))
	// вход не меняется
	assert.Equal(t, "a", rows[0].String("id"))
}

func TestSortLocaleAware(t *testing.T) {
	rows := []schema.Record{{"n": "Zoe"}, {"n": "Émile"}, {"n": "apple"}}
	out := NewSorter("en").Sort(rows, SortSpec{Key: "n", Dir: Asc})
	assert.Equal(t, "apple", out[0]["n"])
	assert.Equal(t, "Émile", out[1]["n"])
	assert.Equal(t, "Zoe", out[2]["n"])
}

func TestToggleSort(t *testing.T) {
	var s SortSpec
	s = s.Toggle("a")
	assert.Equal(t, SortSpec{Key: "a", Dir: Asc}, s)
	s = s.Toggle("a")
	assert.Equal(t, Desc, s.Dir)
	s = s.Toggle("b")
	assert.Equal(t, SortSpec{Key: "b", Dir: Asc}, s)

	g := New(dealScreen(), nil)
	assert.ErrorIs(t, g.ToggleSort("stage"), ErrNotSortable)
}

func TestMatchValue(t *testing.T) {
	cases := []struct {
		v    any
		want string
		ok   bool
	}{
		{true, "true", true},
		{false, "true", false},
		{"true", "TRUE", true},
		{"Acme Corp", "acme", true},
		{"Acme Corp", "globex", false},
		{42, "42", true},
		{42.0, "42", true},
		{42, "4", false},
		{42, "abc", false},
		{nil, "x", false},
		{[]any{"x", "y"}, "y", true},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, MatchValue(c.v, c.want), "%v ~ %q", c.v, c.want)
	}
}

func TestFilterIsIdempotent(t *testing.T) {
	rows := twelveDeals()
	before := make([]schema.Record, len(rows))
	for i, r := range rows {
		before[i] = r.Clone()
	}
	p := NewPredicate(map[string]string{"stage": "won", "q": "deal"})
	first := p.Apply(rows)
	second := p.Apply(rows)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("filter not idempotent:\n%s", diff)
	}
	assert.Len(t, first, 4)
	assert.Equal(t, before, rows)
}

func TestSelectionDroppedOnPageChange(t *testing.T) {
	s := dealScreen()
	s.Endpoints = schema.Endpoints{}
	g := New(s, nil)
	g.SetRows(context.Background(), twelveDeals())

	g.SelectAll()
	require.True(t, g.View().AllSelected)
	require.Len(t, g.Selected(), 10)

	g.SetPage(2)
	assert.Empty(t, g.Selected())
	assert.False(t, g.View().AllSelected)

	// id с другой страницы не выбирается
	g.SelectRow("d00")
	assert.Empty(t, g.Selected())
	g.SelectRow("d11")
	assert.Equal(t, []string{"d11"}, g.Selected())
}

func TestSelectionEngine(t *testing.T) {
	var s Selection
	assert.False(t, s.AllSelected())
	s.SetVisible([]string{"a", "b"})
	s.SelectRow("a")
	assert.False(t, s.AllSelected())
	s.SelectAll()
	assert.True(t, s.AllSelected())
	s.SelectAll()
	assert.Equal(t, 0, s.Len())
	s.SelectRow("b")
	s.SelectRow("b")
	assert.False(t, s.Has("b"))
}

func TestAddressRoundTrip(t *testing.T) {
	a := NewAddress(dealScreen())
	q := url.Values{"stage": {"won"}, "tab": {"mine"}, "sort": {"amount"}, "order": {"desc"}, "page": {"3"}}

	st := a.Decode(q)
	assert.Equal(t, map[string]string{"stage": "won"}, st.Filters)
	assert.Equal(t, SortSpec{Key: "amount", Dir: Desc}, st.Sort)
	assert.Equal(t, 3, st.Page)

	assert.Equal(t, q, a.Encode(st, q))

	cleared := a.ClearFilters(q)
	assert.Equal(t, url.Values{"tab": {"mine"}, "sort": {"amount"}, "order": {"desc"}}, cleared)

	// несортируемая колонка в адресе игнорируется
	assert.True(t, a.Decode(url.Values{"sort": {"stage"}}).Sort.IsZero())
}

func TestApplyAddressRestoresState(t *testing.T) {
	s := dealScreen()
	s.Endpoints = schema.Endpoints{}
	g := New(s, nil)
	g.SetRows(context.Background(), twelveDeals())

	q := url.Values{"stage": {"new"}, "sort": {"amount"}, "order": {"desc"}, "ref": {"mail"}}
	require.NoError(t, g.ApplyAddress(context.Background(), q))
	v := g.View()
	assert.Equal(t, 8, v.Total)
	assert.Equal(t, "d11", v.Rows[0].ID)
	assert.Equal(t, q, g.Address())
}

func TestServerSideFilteringForwardsParams(t *testing.T) {
	s := dealScreen()
	s.ServerSideFiltering = true
	be := &fakeBackend{data: map[string][]schema.Record{"/deals": twelveDeals()}}
	g := New(s, be)

	require.NoError(t, g.SetFilter(context.Background(), "stage", "won"))
	require.NotEmpty(t, be.params)
	assert.Equal(t, "won", be.params[len(be.params)-1].Get("stage"))
	// клиентской фильтрации нет: сервер вернул всё
	assert.Equal(t, 12, g.View().Total)
}

func TestRefreshFailureKeepsRows(t *testing.T) {
	be := &fakeBackend{data: map[string][]schema.Record{"/deals": twelveDeals()}}
	g := New(dealScreen(), be)
	require.NoError(t, g.Refresh(context.Background()))
	require.Equal(t, 12, g.View().Total)

	be.listErr = errors.New("503")
	require.Error(t, g.Refresh(context.Background()))
	v := g.View()
	assert.Equal(t, 12, v.Total)
	assert.Contains(t, v.Error, "503")

	be.listErr = nil
	require.NoError(t, g.Retry(context.Background()))
	assert.Empty(t, g.View().Error)
}

func TestRefreshKeepsSortPrunesSelection(t *testing.T) {
	be := &fakeBackend{data: map[string][]schema.Record{"/deals": twelveDeals()}}
	g := New(dealScreen(), be)
	require.NoError(t, g.Refresh(context.Background()))
	require.NoError(t, g.ToggleSort("amount"))
	require.NoError(t, g.ToggleSort("amount"))
	g.SelectRow("d11")
	require.Equal(t, []string{"d11"}, g.Selected())

	be.mu.Lock()
	be.data["/deals"] = twelveDeals()[:11]
	be.mu.Unlock()
	require.NoError(t, g.Refresh(context.Background()))

	v := g.View()
	assert.Equal(t, 11, v.Total)
	assert.Equal(t, "d10", v.Rows[0].ID)
	assert.Equal(t, "amount", g.Address().Get("sort"))
	assert.Equal(t, "desc", g.Address().Get("order"))
	assert.Empty(t, g.Selected())
}

func TestBulkDelete(t *testing.T) {
	be := &fakeBackend{data: map[string][]schema.Record{"/deals": twelveDeals()}}
	changes := 0
	var notified []error
	g := New(dealScreen(), be,
		OnDataChange(func() { changes++ }),
		WithNotify(func(err error) { notified = append(notified, err) }))
	require.NoError(t, g.Refresh(context.Background()))

	assert.ErrorIs(t, g.BulkDelete(context.Background()), ErrEmptySelection)

	g.SelectRow("d00")
	g.SelectRow("d01")
	be.bulkErr = errors.New("boom")
	require.Error(t, g.BulkDelete(context.Background()))
	assert.Len(t, notified, 1)
	assert.Equal(t, []string{"d00", "d01"}, g.Selected())
	assert.Equal(t, 0, changes)

	be.bulkErr = nil
	require.NoError(t, g.BulkDelete(context.Background()))
	assert.Equal(t, []string{"d00", "d01"}, be.bulkIDs)
	assert.Equal(t, BulkActionDelete, be.bulkAct)
	assert.Empty(t, g.Selected())
	assert.Equal(t, 1, changes)
}

func TestPermissionPredicate(t *testing.T) {
	be := &fakeBackend{}
	g := New(dealScreen(), be, WithPermission(func(act schema.Action) bool { return act != schema.ActionDelete }))
	assert.ErrorIs(t, g.Delete(context.Background(), "d01"), ErrActionNotAllowed)
	assert.False(t, g.View().Actions[schema.ActionDelete])
	assert.True(t, g.View().Actions[schema.ActionBulkDelete])
	// в схеме не включено
	assert.False(t, g.Can(schema.ActionCreate))
	assert.Empty(t, be.deleted)
}

func TestPositionalIdentityIsDegraded(t *testing.T) {
	s := dealScreen()
	s.Endpoints = schema.Endpoints{Delete: "/deals"}
	g := New(s, &fakeBackend{})
	g.SetRows(context.Background(), []schema.Record{{"title": "no id"}})

	v := g.View()
	require.Len(t, v.Rows, 1)
	assert.True(t, v.Rows[0].Positional)
	assert.Equal(t, "#0", v.Rows[0].ID)
	assert.ErrorIs(t, g.Delete(context.Background(), "#0"), ErrNoIdentity)
}

func TestViewRendersEnrichedCells(t *testing.T) {
	be := &fakeBackend{data: map[string][]schema.Record{
		"/deals":     {{"id": "d1", "title": "Big", "amount": 10, "company_id": "c1"}},
		"/companies": {{"id": "c1", "name": "Acme"}},
	}}
	g := New(dealScreen(), be)
	require.NoError(t, g.Refresh(context.Background()))

	v := g.View()
	require.Len(t, v.Rows, 1)
	cells := map[string]string{}
	for _, c := range v.Rows[0].Cells {
		cells[c.Key] = c.Text
	}
	assert.Equal(t, "Acme", cells["company_id"])
	assert.Equal(t, "Big", cells["title"])
}
