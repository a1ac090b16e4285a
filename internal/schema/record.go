package schema

import (
	"strconv"

	"github.com/spf13/cast"
)

// Record: непрозрачная запись, ключ поля -> скаляр, массив или массив записей.
// Записи принадлежат вызывающему; движок создаёт копии, но не меняет оригинал.
type Record map[string]any

// Clone копирует запись вместе с вложенными массивами записей.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Record:
		return t.Clone()
	case map[string]any:
		return Record(t).Clone()
	case []Record:
		out := make([]Record, len(t))
		for i, it := range t {
			out[i] = it.Clone()
		}
		return out
	case []map[string]any:
		out := make([]Record, len(t))
		for i, it := range t {
			out[i] = Record(it).Clone()
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, it := range t {
			out[i] = cloneValue(it)
		}
		return out
	}
	return v
}

// Items возвращает значение array-поля как срез записей. Не-записи пропускаются.
func (r Record) Items(key string) []Record {
	switch t := r[key].(type) {
	case []Record:
		return t
	case []map[string]any:
		out := make([]Record, len(t))
		for i, it := range t {
			out[i] = Record(it)
		}
		return out
	case []any:
		out := make([]Record, 0, len(t))
		for _, it := range t {
			switch m := it.(type) {
			case Record:
				out = append(out, m)
			case map[string]any:
				out = append(out, Record(m))
			}
		}
		return out
	}
	return nil
}

// String: строковое значение ключа; nil -> "".
func (r Record) String(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	return cast.ToString(v)
}

// IdentityFunc возвращает идентичность строки. positional=true означает
// деградированный режим: у строки нет ключа и используется её позиция.
type IdentityFunc func(rec Record, index int) (id string, positional bool)

// KeyIdentity: идентичность по ключу с откатом на позицию.
func KeyIdentity(key string) IdentityFunc {
	return func(rec Record, index int) (string, bool) {
		if id := rec.String(key); id != "" {
			return id, false
		}
		return "#" + strconv.Itoa(index), true
	}
}

// Identity: аксессор идентичности экрана.
func (s *Screen) Identity() IdentityFunc { return KeyIdentity(s.IdentityKey()) }
