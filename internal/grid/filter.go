package grid

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"crmconsole/internal/schema"

	"github.com/spf13/cast"
)

// SearchKey: свободный поиск по всем значениям записи.
const SearchKey = "q"

// Predicate: одно описание активных фильтров для обоих режимов:
// Params уходит на сервер, Match фильтрует строки в памяти.
type Predicate struct {
	values map[string]string
}

// NewPredicate отбрасывает пустые значения.
func NewPredicate(values map[string]string) Predicate {
	p := Predicate{values: make(map[string]string, len(values))}
	for k, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			p.values[k] = v
		}
	}
	return p
}

func (p Predicate) Empty() bool { return len(p.values) == 0 }

func (p Predicate) Get(key string) string { return p.values[key] }

// Values: копия активных значений.
func (p Predicate) Values() map[string]string {
	out := make(map[string]string, len(p.values))
	for k, v := range p.values {
		out[k] = v
	}
	return out
}

func (p Predicate) keys() []string {
	keys := make([]string, 0, len(p.values))
	for k := range p.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// With возвращает предикат с изменённым ключом; пустое значение снимает фильтр.
func (p Predicate) With(key, value string) Predicate {
	vals := p.Values()
	vals[key] = value
	return NewPredicate(vals)
}

// Equal: те же активные значения.
func (p Predicate) Equal(o Predicate) bool {
	if len(p.values) != len(o.values) {
		return false
	}
	for k, v := range p.values {
		if o.values[k] != v {
			return false
		}
	}
	return true
}

// Params: query-параметры для серверного режима.
func (p Predicate) Params() url.Values {
	q := url.Values{}
	for _, k := range p.keys() {
		q.Set(k, p.values[k])
	}
	return q
}

// Match: запись проходит все активные фильтры.
func (p Predicate) Match(rec schema.Record) bool {
	for k, want := range p.values {
		v, ok := rec[k]
		if k == SearchKey && !ok {
			if !matchAny(rec, want) {
				return false
			}
			continue
		}
		if !MatchValue(v, want) {
			return false
		}
	}
	return true
}

// Apply возвращает новый срез прошедших строк; входной срез не меняется.
func (p Predicate) Apply(rows []schema.Record) []schema.Record {
	out := make([]schema.Record, 0, len(rows))
	for _, r := range rows {
		if p.Match(r) {
			out = append(out, r)
		}
	}
	return out
}

func matchAny(rec schema.Record, want string) bool {
	for k, v := range rec {
		if strings.HasPrefix(k, "_") && !strings.HasPrefix(k, schema.DisplayPrefix) {
			continue
		}
		if _, isStr := v.(string); isStr && MatchValue(v, want) {
			return true
		}
	}
	return false
}

// MatchValue сравнивает значение ячейки со строкой фильтра:
// "true"/"false" точно, строки подстрокой без регистра,
// числа численным равенством, остальное подстрокой строкового вида.
func MatchValue(v any, want string) bool {
	if v == nil {
		return false
	}
	lw := strings.ToLower(want)
	if lw == "true" || lw == "false" {
		return strings.ToLower(cast.ToString(v)) == lw
	}
	switch t := v.(type) {
	case string:
		return strings.Contains(strings.ToLower(t), lw)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		f, err := cast.ToFloat64E(strings.TrimSpace(want))
		if err != nil {
			return false
		}
		return cast.ToFloat64(t) == f
	}
	return strings.Contains(strings.ToLower(fmt.Sprint(v)), lw)
}
