package form

import (
	"context"
	"errors"
	"sync"
	"testing"

	"crmconsole/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const invoiceYAML = `
name: invoices
fields:
  - key: number
    label: Number
    required: true
    validate:
      pattern: "^INV-[0-9]+$"
  - key: email
    kind: email
  - key: discount
    kind: percentage
    validate:
      min: 0
      max: 50
  - key: created_at
    kind: readonly
  - key: items
    kind: array
    array:
      min_items: 1
      max_items: 3
      fields:
        - key: product_id
          kind: async-select
          required: true
          lookup:
            endpoint: /products
          fill_fields:
            unit_price: price
            name: "{{ raw.title + ' (' + raw.sku + ')' }}"
        - key: name
        - key: quantity
          kind: number
          default: 1
        - key: unit_price
          kind: currency
        - key: line_total
          kind: currency
          computed: "{{ quantity * unit_price }}"
  - key: total
    kind: currency
    computed: "sum(map(items, #.line_total))"
endpoints:
  list: /invoices
`

type fakeSaver struct {
	created []schema.Record
	updated []schema.Record
	ids     []string
	err     error
}

func (s *fakeSaver) Create(_ context.Context, _ string, rec schema.Record) (schema.Record, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.created = append(s.created, rec)
	out := rec.Clone()
	out["id"] = "inv1"
	return out, nil
}

func (s *fakeSaver) Update(_ context.Context, _ string, id string, rec schema.Record) (schema.Record, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.ids = append(s.ids, id)
	s.updated = append(s.updated, rec)
	return rec, nil
}

func invoiceScreen(t *testing.T) *schema.Screen {
	t.Helper()
	s, err := schema.ParseScreen([]byte(invoiceYAML), "")
	require.NoError(t, err)
	return s
}

func TestInitFillsMinItemsAndDefaults(t *testing.T) {
	f := New(invoiceScreen(t), &fakeSaver{})
	assert.Equal(t, ModeCreate, f.Mode())
	items := f.Items("items")
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0]["quantity"])

	keys := []string{}
	for _, fd := range f.Fields() {
		keys = append(keys, fd.Key)
	}
	// readonly и вычисляемые поля не вводятся
	assert.Equal(t, []string{"number", "email", "discount", "items"}, keys)
}

func TestValidationOrder(t *testing.T) {
	f := New(invoiceScreen(t), &fakeSaver{})

	errs := f.Validate()
	assert.Equal(t, "Number is required", errs["number"])
	assert.Equal(t, "product_id is required", errs[ItemErrorKey("items", 0, "product_id")])
	_, hasEmail := errs["email"]
	assert.False(t, hasEmail, "empty optional field is not validated")

	require.NoError(t, f.Set("number", "42"))
	require.NoError(t, f.Set("email", "nope"))
	require.NoError(t, f.Set("discount", 80))
	errs = f.Validate()
	assert.Equal(t, "has invalid format", errs["number"])
	assert.Equal(t, "must be a valid email", errs["email"])
	assert.Equal(t, "must be at most 50", errs["discount"])
}

func TestSetClearsOnlyThatFieldError(t *testing.T) {
	f := New(invoiceScreen(t), &fakeSaver{})
	f.Validate()
	require.NoError(t, f.Set("number", "INV-1"))
	errs := f.Errors()
	_, hasNumber := errs["number"]
	assert.False(t, hasNumber)
	assert.Contains(t, errs, ItemErrorKey("items", 0, "product_id"))
}

func TestCheckFuncRunsOnlyWithValue(t *testing.T) {
	s := invoiceScreen(t)
	calls := 0
	s.Fields[1].Check = func(v any, rec schema.Record) string {
		calls++
		if rec.String("number") == "INV-7" {
			return "blocked for INV-7"
		}
		return ""
	}
	f := New(s, &fakeSaver{})
	f.Validate()
	assert.Equal(t, 0, calls)

	require.NoError(t, f.Set("number", "INV-7"))
	require.NoError(t, f.Set("email", "a@b.co"))
	assert.Equal(t, "blocked for INV-7", f.Validate()["email"])
	assert.Equal(t, 1, calls)
}

func TestComputedTotalsAndPayload(t *testing.T) {
	saver := &fakeSaver{}
	changes := 0
	f := New(invoiceScreen(t), saver, OnDataChange(func() { changes++ }))

	require.NoError(t, f.Set("number", "INV-9"))
	require.NoError(t, f.SetItemValue("items", 0, "product_id", "p1"))
	require.NoError(t, f.SetItemValue("items", 0, "quantity", 2))
	require.NoError(t, f.SetItemValue("items", 0, "unit_price", 10.5))
	require.NoError(t, f.AddItem("items"))
	require.NoError(t, f.SetItemValue("items", 1, "product_id", "p2"))
	require.NoError(t, f.SetItemValue("items", 1, "unit_price", 4))

	total, ok := f.Summary("total")
	require.True(t, ok)
	assert.InDelta(t, 25.0, total, 0.0001)

	v := f.View()
	require.Len(t, v.Summaries, 1)
	assert.Equal(t, "25.00", v.Summaries[0].Text)
	require.Len(t, v.Inputs[3].Items, 2)
	assert.Equal(t, "21.00", v.Inputs[3].Items[0].Computed[0].Text)

	saved, err := f.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "inv1", saved["id"])
	require.Len(t, saver.created, 1)

	payload := saver.created[0]
	assert.NotContains(t, payload, "total")
	assert.NotContains(t, payload, "created_at")
	items := payload.Items("items")
	require.Len(t, items, 2)
	assert.NotContains(t, items[0], "line_total")
	assert.Equal(t, 2, items[0]["quantity"])
	assert.Equal(t, 1, changes)
}

func TestEditableComputedIsSent(t *testing.T) {
	s := invoiceScreen(t)
	for i := range s.Fields {
		if s.Fields[i].Key == "total" {
			s.Fields[i].EditableComputed = true
		}
	}
	f := New(s, &fakeSaver{})
	require.NoError(t, f.Set("total", 99))
	assert.Equal(t, 99, f.Payload()["total"])
}

func TestSubmitBlockedByValidation(t *testing.T) {
	saver := &fakeSaver{}
	f := New(invoiceScreen(t), saver)
	_, err := f.Submit(context.Background())

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Errors, "number")
	assert.Empty(t, saver.created)
}

func TestSubmitEditUsesUpdate(t *testing.T) {
	saver := &fakeSaver{}
	f := New(invoiceScreen(t), saver)
	f.Init(schema.Record{
		"id":         "inv5",
		"number":     "INV-5",
		"created_at": "2024-01-01",
		"items":      []any{map[string]any{"product_id": "p1", "quantity": 1, "unit_price": 3}},
	})
	assert.Equal(t, ModeEdit, f.Mode())
	_, err := f.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"inv5"}, saver.ids)
	assert.NotContains(t, saver.updated[0], "id")
}

func TestSubmitFailureNotifies(t *testing.T) {
	saver := &fakeSaver{err: errors.New("409 conflict")}
	var got []error
	f := New(invoiceScreen(t), saver, WithNotify(func(err error) { got = append(got, err) }))
	require.NoError(t, f.Set("number", "INV-1"))
	require.NoError(t, f.SetItemValue("items", 0, "product_id", "p1"))

	_, err := f.Submit(context.Background())
	require.Error(t, err)
	assert.Len(t, got, 1)
}

func TestReinitClearsState(t *testing.T) {
	f := New(invoiceScreen(t), &fakeSaver{})
	f.Validate()
	require.NotEmpty(t, f.Errors())

	f.Init(schema.Record{"id": "x", "number": "INV-2"})
	assert.Empty(t, f.Errors())
	assert.Equal(t, "INV-2", f.Values()["number"])
	assert.Equal(t, ModeEdit, f.Mode())
	// в режиме редактирования строки не добавляются
	assert.Empty(t, f.Items("items"))
}

func TestItemBounds(t *testing.T) {
	f := New(invoiceScreen(t), &fakeSaver{})
	assert.ErrorIs(t, f.RemoveItem("items", 0), ErrMinItems)

	require.NoError(t, f.AddItem("items"))
	require.NoError(t, f.AddItem("items"))
	assert.ErrorIs(t, f.AddItem("items"), ErrMaxItems)
	assert.False(t, f.View().Inputs[3].CanAdd)

	require.NoError(t, f.RemoveItem("items", 1))
	assert.Len(t, f.Items("items"), 2)
	assert.ErrorIs(t, f.RemoveItem("items", 7), ErrBadIndex)
}

func TestApplyItemSelectionFillsAtomically(t *testing.T) {
	f := New(invoiceScreen(t), &fakeSaver{})
	raw := schema.Record{"id": "p1", "title": "Widget", "sku": "W-1", "price": 12.5}

	require.NoError(t, f.ApplyItemSelection("items", 0, "product_id", "p1", raw))
	it := f.Items("items")[0]
	assert.Equal(t, "p1", it["product_id"])
	assert.Equal(t, 12.5, it["unit_price"])
	assert.Equal(t, "Widget (W-1)", it["name"])
	assert.Equal(t, 1, it["quantity"])

	total, _ := f.Summary("total")
	assert.InDelta(t, 12.5, total, 0.0001)
}

func TestItemComputeErrorsUseFormLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	s := &schema.Screen{
		Name: "orders",
		Fields: []schema.Field{{
			Key:  "lines",
			Kind: schema.KindArray,
			Array: &schema.ArraySpec{Fields: []schema.Field{
				{Key: "qty", Kind: schema.KindNumber},
				{Key: "broken", Computed: "qty *"},
			}},
		}},
	}
	f := New(s, &fakeSaver{}, WithLogger(zap.New(core)))
	f.Init(schema.Record{"lines": []any{map[string]any{"qty": 2}}})

	v := f.View()
	require.Len(t, v.Inputs, 1)
	entries := logs.FilterMessage("item computed failed").All()
	require.NotEmpty(t, entries)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "orders", ctx["screen"])
	assert.Equal(t, "broken", ctx["sub"])
}

func TestModeAndIDConcurrentWithInit(t *testing.T) {
	f := New(invoiceScreen(t), &fakeSaver{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			f.Init(schema.Record{"id": "inv7", "number": "INV-7"})
		}()
		go func() {
			defer wg.Done()
			_ = f.Mode()
			_ = f.ID()
		}()
	}
	wg.Wait()
	assert.Equal(t, ModeEdit, f.Mode())
	assert.Equal(t, "inv7", f.ID())
}

func TestReadOnlyAndUnknown(t *testing.T) {
	f := New(invoiceScreen(t), &fakeSaver{})
	assert.ErrorIs(t, f.Set("created_at", "x"), ErrReadOnly)
	assert.ErrorIs(t, f.Set("total", 1), ErrReadOnly)
	assert.ErrorIs(t, f.Set("nope", 1), ErrUnknownField)
	assert.ErrorIs(t, f.SetItemValue("items", 0, "line_total", 1), ErrReadOnly)
	assert.ErrorIs(t, f.Set("items", nil), ErrNotArray)
}

func TestFalsy(t *testing.T) {
	for _, v := range []any{nil, "", false, 0, 0.0} {
		assert.True(t, falsy(v), "%#v", v)
	}
	for _, v := range []any{"x", true, 1, []any{}} {
		assert.False(t, falsy(v), "%#v", v)
	}
}
