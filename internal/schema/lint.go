package schema

import (
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
)

// Issue: противоречие в описании экрана.
type Issue struct {
	Screen  string `json:"screen"`
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (i Issue) Error() string {
	if i.Field == "" {
		return fmt.Sprintf("%s: %s: %s", i.Screen, i.Code, i.Message)
	}
	return fmt.Sprintf("%s.%s: %s: %s", i.Screen, i.Field, i.Code, i.Message)
}

var validate = validator.New()

// Lint проверяет базовые противоречия во всех экранах.
func Lint(screens map[string]*Screen) []Issue {
	names := make([]string, 0, len(screens))
	for n := range screens {
		names = append(names, n)
	}
	sort.Strings(names)

	var issues []Issue
	for _, n := range names {
		issues = append(issues, screens[n].Lint()...)
	}
	return issues
}

// Lint проверяет один экран.
func (s *Screen) Lint() []Issue {
	var issues []Issue
	add := func(field, code, msg string) {
		issues = append(issues, Issue{Screen: s.Name, Field: field, Code: code, Message: msg})
	}

	if err := validate.Struct(s); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				add(fe.Namespace(), "invalid_"+fe.Tag(), fe.Error())
			}
		} else {
			add("", "invalid", err.Error())
		}
	}

	seen := map[string]bool{}
	for _, f := range s.Fields {
		if seen[f.Key] {
			add(f.Key, "duplicate_field", "field key declared twice")
		}
		seen[f.Key] = true
		issues = append(issues, lintField(s.Name, "", f)...)
	}

	for _, flt := range s.Filters {
		if IsReserved(flt.Key) {
			add(flt.Key, "filter_reserved_key", "filter key collides with a reserved internal key")
		}
		if IsAddressKey(flt.Key) {
			add(flt.Key, "filter_address_key", "filter key collides with a sort or page address parameter")
		}
		if flt.Kind == KindAsyncSelect && flt.Endpoint == "" {
			add(flt.Key, "filter_endpoint_missing", "async-select filter needs an endpoint")
		}
	}
	// клиентский фильтр должен указывать на поле записи
	if !s.ServerSideFiltering {
		for _, flt := range s.Filters {
			if _, ok := s.Field(flt.Key); !ok && flt.Key != "q" {
				add(flt.Key, "filter_unbound", "client-side filter has no matching field")
			}
		}
	}

	if b := s.Board; b != nil {
		if _, ok := s.Field(b.StatusField); !ok {
			add(b.StatusField, "board_status_field_unknown", "board status field is not declared in fields")
		}
		cols := map[string]bool{}
		for _, c := range b.Columns {
			if cols[c.Value] {
				add(b.StatusField, "board_column_duplicate", fmt.Sprintf("column %q declared twice", c.Value))
			}
			cols[c.Value] = true
		}
		for from, tos := range b.Transitions {
			for _, to := range append([]string{from}, tos...) {
				if len(cols) > 0 && !cols[to] {
					add(b.StatusField, "board_transition_unknown", fmt.Sprintf("transition references unknown column %q", to))
				}
			}
		}
	}
	return issues
}

func lintField(screen, parent string, f Field) []Issue {
	var issues []Issue
	key := f.Key
	if parent != "" {
		key = parent + "." + f.Key
	}
	add := func(code, msg string) {
		issues = append(issues, Issue{Screen: screen, Field: key, Code: code, Message: msg})
	}

	if parent == "" && IsReserved(f.Key) && f.Key != KeyID {
		if f.IsEditable() {
			add("field_reserved_key", "reserved key cannot be editable")
		}
	}
	if f.Computed != "" && f.ComputeFunc == nil {
		if _, err := CompileExpr(f.Computed); err != nil {
			add("computed_invalid", err.Error())
		}
	}
	if f.Computed != "" && f.Editable != nil && *f.Editable && !f.EditableComputed {
		add("computed_editable", "computed field marked editable; set editable_computed to send it")
	}
	if f.Kind == KindAsyncSelect && (f.Lookup == nil || f.Lookup.Endpoint == "") && f.Enrich == nil {
		add("lookup_endpoint_missing", "async-select field needs lookup.endpoint")
	}
	if len(f.FillFields) > 0 && f.Kind != KindAsyncSelect {
		add("fill_fields_without_lookup", "fill_fields only apply to async-select fields")
	}
	if f.Kind == KindArray {
		if f.Array == nil || len(f.Array.Fields) == 0 {
			add("array_without_fields", "array field needs item fields")
		} else {
			if f.Array.MaxItems > 0 && f.Array.MinItems > f.Array.MaxItems {
				add("array_bounds", "min_items exceeds max_items")
			}
			for _, sub := range f.Array.Fields {
				issues = append(issues, lintField(screen, key, sub)...)
			}
		}
	}
	return issues
}

// Err сворачивает список проблем в одну ошибку (nil, если проблем нет).
func Err(issues []Issue) error {
	var result *multierror.Error
	for _, it := range issues {
		result = multierror.Append(result, it)
	}
	return result.ErrorOrNil()
}
