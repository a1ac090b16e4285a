package collection

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

// ==== Параметры листинга ====

type SortKey struct {
	Field string
	Desc  bool
}

type ListParams struct {
	Limit    int
	Offset   int
	Sort     []SortKey
	Filters  map[string][]string
	Q        string
	Nulls    string // "last" (default) | "first"
	Envelope bool   // ответ {data, total} вместо массива
}

// служебные параметры, которые не являются фильтрами
var serviceParams = map[string]struct{}{
	"q": {}, "offset": {}, "limit": {}, "sort": {}, "order": {}, "page": {},
	"_offset": {}, "_limit": {}, "_sort": {}, "_order": {}, "nulls": {}, "envelope": {},
}

func firstOf(q url.Values, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			return v
		}
	}
	return ""
}

func parseListParams(q url.Values) ListParams {
	// limit 0 без ограничения (консоль сама режет на страницы)
	limit := 0
	if lv := firstOf(q, "_limit", "limit"); lv != "" {
		if n, err := strconv.Atoi(lv); err == nil && n >= 0 && n <= 1000 {
			limit = n
		}
	}

	offset := 0
	if ov := firstOf(q, "_offset", "offset"); ov != "" {
		if n, err := strconv.Atoi(ov); err == nil && n >= 0 {
			offset = n
		}
	}

	// sort: "a,-b" либо sort=a&order=desc
	var sortKeys []SortKey
	if sv := firstOf(q, "_sort", "sort"); sv != "" {
		order := strings.ToLower(firstOf(q, "_order", "order"))
		for _, p := range strings.Split(sv, ",") {
			p = strings.TrimSpace(p)
			desc := order == "desc"
			if strings.HasPrefix(p, "-") {
				desc = true
				p = strings.TrimPrefix(p, "-")
			} else {
				p = strings.TrimPrefix(p, "+")
			}
			if p != "" {
				sortKeys = append(sortKeys, SortKey{Field: p, Desc: desc})
			}
		}
	}

	nulls := strings.ToLower(q.Get("nulls"))
	if nulls != "first" {
		nulls = "last"
	}

	filters := make(map[string][]string)
	for key, vals := range q {
		if _, skip := serviceParams[key]; skip {
			continue
		}
		clean := make([]string, 0, len(vals))
		for _, v := range vals {
			if strings.TrimSpace(v) != "" {
				clean = append(clean, v)
			}
		}
		if len(clean) > 0 {
			filters[key] = clean
		}
	}

	env := strings.ToLower(q.Get("envelope"))
	return ListParams{
		Limit:    limit,
		Offset:   offset,
		Sort:     sortKeys,
		Filters:  filters,
		Q:        strings.TrimSpace(q.Get("q")),
		Nulls:    nulls,
		Envelope: env == "1" || env == "true" || env == "data",
	}
}

// ==== Фильтрация ====

// filterRows: равенство по фильтрам (любое из значений) и поиск q по строкам.
func filterRows(all []map[string]any, lp ListParams) []map[string]any {
	out := make([]map[string]any, 0, len(all))
	q := strings.ToLower(lp.Q)
	for _, r := range all {
		match := true
		for k, vals := range lp.Filters {
			got := cast.ToString(r[k])
			okv := false
			for _, want := range vals {
				if got == want {
					okv = true
					break
				}
			}
			if !okv {
				match = false
				break
			}
		}
		if !match {
			continue
		}
		if q != "" {
			found := false
			for _, v := range r {
				if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), q) {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

// ==== Сортировка с политикой nulls ====

func isNull(v any, ok bool) bool { return !ok || v == nil }

func cmpByKey(a, b map[string]any, key, nullsPolicy string, desc bool) int {
	va, oka := a[key]
	vb, okb := b[key]
	na, nb := isNull(va, oka), isNull(vb, okb)
	if na && nb {
		return 0
	}
	if na != nb {
		if (nullsPolicy == "last") == na {
			return +1
		}
		return -1
	}

	rel := 0
	fa, errA := cast.ToFloat64E(va)
	fb, errB := cast.ToFloat64E(vb)
	_, aStr := va.(string)
	_, bStr := vb.(string)
	if errA == nil && errB == nil && !aStr && !bStr {
		switch {
		case fa < fb:
			rel = -1
		case fa > fb:
			rel = +1
		}
	} else {
		sa, sb := cast.ToString(va), cast.ToString(vb)
		switch {
		case sa < sb:
			rel = -1
		case sa > sb:
			rel = +1
		}
	}
	if desc {
		rel = -rel
	}
	return rel
}

func sortRows(rows []map[string]any, keys []SortKey, nullsPolicy string) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, k := range keys {
			if c := cmpByKey(rows[i], rows[j], k.Field, nullsPolicy, k.Desc); c != 0 {
				return c < 0
			}
		}
		return false
	})
}

// page режет срез по offset/limit.
func page(rows []map[string]any, offset, limit int) []map[string]any {
	if offset > len(rows) {
		offset = len(rows)
	}
	end := len(rows)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return rows[offset:end]
}
