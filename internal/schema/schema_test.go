package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const invoiceYAML = `
name: invoices
title: Invoices
fields:
  - key: number
    label: Number
    sortable: true
    required: true
  - key: company_id
    kind: async-select
    lookup:
      endpoint: /companies
      min_chars: 2
    enrich:
      endpoint: /companies
      display_field: name
  - key: status
    kind: select
    options:
      - {value: draft, label: Draft}
      - {value: paid, label: Paid}
  - key: items
    kind: array
    array:
      min_items: 1
      max_items: 5
      fields:
        - key: quantity
          kind: number
        - key: unit_price
          kind: currency
        - key: line_total
          kind: currency
          computed: "{{ quantity * unit_price }}"
  - key: total
    kind: currency
    computed: "sum(map(items, #.quantity * #.unit_price))"
filters:
  - key: status
    kind: select
actions:
  create: true
  bulk_delete: true
board:
  status_field: status
  columns:
    - {value: draft}
    - {value: paid, limit: 10}
`

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	k, err := ParseKind("money")
	require.NoError(t, err)
	assert.Equal(t, KindCurrency, k)

	_, err = ParseKind("hologram")
	assert.Error(t, err)
}

func TestParseScreen(t *testing.T) {
	s, err := ParseScreen([]byte(invoiceYAML), "fallback")
	require.NoError(t, err)

	assert.Equal(t, "invoices", s.Name)
	require.Len(t, s.Fields, 5)

	company, ok := s.Field("company_id")
	require.True(t, ok)
	assert.Equal(t, KindAsyncSelect, company.Kind)
	assert.Equal(t, "/companies", company.Enrich.Endpoint)
	assert.Equal(t, KeyID, company.Enrich.Key())

	total, _ := s.Field("total")
	assert.True(t, total.IsComputed())
	assert.False(t, total.IsEditable())

	number, _ := s.Field("number")
	assert.True(t, number.IsEditable())
	assert.True(t, number.InTable())

	assert.Len(t, s.EnrichedFields(), 1)
	assert.True(t, s.Actions.Allows(ActionBulkDelete))
	assert.False(t, s.Actions.Allows(ActionDelete))
	assert.Empty(t, s.Lint())
}

func TestParseScreenRejectsUnknownKind(t *testing.T) {
	_, err := ParseScreen([]byte("name: x\nfields:\n  - key: a\n    kind: hologram\n"), "x")
	assert.Error(t, err)
}

func TestComputedRecordAndItem(t *testing.T) {
	s, err := ParseScreen([]byte(invoiceYAML), "")
	require.NoError(t, err)

	rec := Record{
		"items": []Record{
			{"quantity": 2, "unit_price": 10.5},
			{"quantity": 1, "unit_price": 4},
		},
	}
	total, _ := s.Field("total")
	v, err := total.Compute(RecordEnv(rec))
	require.NoError(t, err)
	assert.InDelta(t, 25.0, v, 0.0001)

	items, _ := s.Field("items")
	line := items.Array.Fields[2]
	all := rec.Items("items")
	v, err = line.Compute(ItemEnv(all[0], all, rec, 0))
	require.NoError(t, err)
	assert.InDelta(t, 21.0, v, 0.0001)
}

func TestResolveFill(t *testing.T) {
	raw := Record{"price": 100.0, "name": "Widget"}

	v, err := ResolveFill("name", raw, nil)
	require.NoError(t, err)
	assert.Equal(t, "Widget", v)

	v, err = ResolveFill("{{ raw.price * 2 }}", raw, Env{})
	require.NoError(t, err)
	assert.InDelta(t, 200.0, v, 0.0001)
}

func TestLint(t *testing.T) {
	yes := true
	s := &Screen{
		Name: "leads",
		Fields: []Field{
			{Key: "name"},
			{Key: "name"},
			{Key: "owner", Kind: KindAsyncSelect},
			{Key: "score", Computed: "a +", Editable: &yes},
			{Key: "lines", Kind: KindArray, Array: &ArraySpec{MinItems: 3, MaxItems: 1, Fields: []Field{{Key: "x"}}}},
		},
		Filters: []Filter{{Key: "created_at"}},
		Board:   &BoardSpec{StatusField: "stage", Columns: []BoardColumn{{Value: "new"}, {Value: "new"}}},
	}

	codes := map[string]bool{}
	for _, it := range s.Lint() {
		codes[it.Code] = true
	}
	for _, want := range []string{
		"duplicate_field", "lookup_endpoint_missing", "computed_invalid", "computed_editable",
		"array_bounds", "filter_reserved_key", "board_status_field_unknown", "board_column_duplicate",
	} {
		assert.True(t, codes[want], want)
	}
	assert.Error(t, Err(s.Lint()))
	assert.NoError(t, Err(nil))
}

func TestLintAddressKeyFilters(t *testing.T) {
	s := &Screen{
		Name:                "leads",
		Fields:              []Field{{Key: "page"}, {Key: "stage"}},
		Filters:             []Filter{{Key: "page"}, {Key: "order"}, {Key: "stage"}},
		ServerSideFiltering: true,
	}

	var keys []string
	for _, it := range s.Lint() {
		if it.Code == "filter_address_key" {
			keys = append(keys, it.Field)
		}
	}
	assert.Equal(t, []string{"page", "order"}, keys)
	assert.True(t, IsAddressKey(ParamSort))
	assert.False(t, IsAddressKey("stage"))
}

func TestLoadAllScreensDuplicate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("name: leads\nfields:\n  - key: a\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.yml"), []byte("name: leads\nfields:\n  - key: b\n"), 0o644))

	_, err := LoadAllScreens(dir)
	assert.ErrorContains(t, err, "duplicate screen")
}

func TestKeyIdentity(t *testing.T) {
	id := KeyIdentity("id")
	got, positional := id(Record{"id": 7}, 3)
	assert.Equal(t, "7", got)
	assert.False(t, positional)

	got, positional = id(Record{}, 3)
	assert.Equal(t, "#3", got)
	assert.True(t, positional)
}

func TestCloneIsDeep(t *testing.T) {
	orig := Record{"items": []Record{{"q": 1}}}
	cp := orig.Clone()
	cp.Items("items")[0]["q"] = 2
	assert.Equal(t, 1, orig.Items("items")[0]["q"])
}
