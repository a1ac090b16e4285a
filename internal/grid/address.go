package grid

import (
	"net/url"
	"strconv"

	"crmconsole/internal/schema"
)

// Параметры адреса, которые несут состояние сортировки и страницы.
const (
	ParamSort  = schema.ParamSort
	ParamOrder = schema.ParamOrder
	ParamPage  = schema.ParamPage
)

// State: состояние таблицы, которое живёт в адресе.
type State struct {
	Filters map[string]string `json:"filters"`
	Sort    SortSpec          `json:"sort"`
	Page    int               `json:"page"`
}

// Address переводит State в query-параметры и обратно.
// Состоянием считаются только объявленные фильтры и колонки, остальное не трогаем.
type Address struct {
	declared map[string]bool
	sortable map[string]bool
}

func NewAddress(s *schema.Screen) Address {
	a := Address{declared: map[string]bool{}, sortable: map[string]bool{}}
	for _, f := range s.Filters {
		a.declared[f.Key] = true
	}
	for _, f := range s.Fields {
		a.declared[f.Key] = true
		if f.Sortable {
			a.sortable[f.Key] = true
		}
	}
	return a
}

// Declared: ключ является фильтром или колонкой экрана.
func (a Address) Declared(key string) bool { return a.declared[key] }

func (a Address) Sortable(key string) bool { return a.sortable[key] }

// Decode читает состояние из параметров.
func (a Address) Decode(q url.Values) State {
	st := State{Filters: map[string]string{}, Page: 1}
	for k := range q {
		if a.declared[k] {
			if v := q.Get(k); v != "" {
				st.Filters[k] = v
			}
		}
	}
	if key := q.Get(ParamSort); a.sortable[key] {
		st.Sort = SortSpec{Key: key, Dir: ParseDirection(q.Get(ParamOrder))}
	}
	if n, err := strconv.Atoi(q.Get(ParamPage)); err == nil && n > 1 {
		st.Page = n
	}
	return st
}

// Encode пишет состояние поверх base. Посторонние параметры base сохраняются,
// объявленные ключи переписываются целиком.
func (a Address) Encode(st State, base url.Values) url.Values {
	out := a.strip(base, true)
	for k, v := range st.Filters {
		if a.declared[k] && v != "" {
			out.Set(k, v)
		}
	}
	if !st.Sort.IsZero() {
		out.Set(ParamSort, st.Sort.Key)
		out.Set(ParamOrder, string(st.Sort.Dir))
	}
	if st.Page > 1 {
		out.Set(ParamPage, strconv.Itoa(st.Page))
	}
	return out
}

// ClearFilters убирает фильтры и страницу; сортировка и чужие параметры остаются.
func (a Address) ClearFilters(q url.Values) url.Values {
	out := a.strip(q, false)
	out.Del(ParamPage)
	return out
}

// Passthrough: параметры, не относящиеся к состоянию таблицы.
func (a Address) Passthrough(q url.Values) url.Values { return a.strip(q, true) }

func (a Address) strip(q url.Values, withSort bool) url.Values {
	out := url.Values{}
	for k, vs := range q {
		if a.declared[k] {
			continue
		}
		if withSort && (k == ParamSort || k == ParamOrder || k == ParamPage) {
			continue
		}
		out[k] = append([]string(nil), vs...)
	}
	return out
}
