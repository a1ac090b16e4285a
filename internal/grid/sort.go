package grid

import (
	"slices"
	"sync"

	"crmconsole/internal/schema"

	"github.com/spf13/cast"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// ParseDirection: всё, кроме "desc", сортируется по возрастанию.
func ParseDirection(s string) Direction {
	if s == string(Desc) {
		return Desc
	}
	return Asc
}

// SortSpec: одна активная сортировка; пустой Key означает без сортировки.
type SortSpec struct {
	Key string    `json:"key,omitempty"`
	Dir Direction `json:"dir,omitempty"`
}

func (s SortSpec) IsZero() bool { return s.Key == "" }

// Toggle: тот же ключ меняет направление, новый начинает с asc.
func (s SortSpec) Toggle(key string) SortSpec {
	if s.Key == key {
		if s.Dir == Desc {
			return SortSpec{Key: key, Dir: Asc}
		}
		return SortSpec{Key: key, Dir: Desc}
	}
	return SortSpec{Key: key, Dir: Asc}
}

// Sorter: стабильная сортировка с учётом локали для строк.
type Sorter struct {
	mu  sync.Mutex
	col *collate.Collator
}

// NewSorter создаёт сортировщик для тега локали ("en", "ru", ...).
func NewSorter(locale string) *Sorter {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.English
	}
	return &Sorter{col: collate.New(tag)}
}

func isNil(v any, ok bool) bool { return !ok || v == nil }

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}

// Compare сравнивает два непустых значения.
func (s *Sorter) Compare(a, b any) int {
	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr && bStr {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.col.CompareString(as, bs)
	}
	if isNumber(a) && isNumber(b) {
		fa, fb := cast.ToFloat64(a), cast.ToFloat64(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ab == bb:
				return 0
			case !ab:
				return -1
			}
			return 1
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.col.CompareString(cast.ToString(a), cast.ToString(b))
}

// Sort возвращает отсортированную копию. null всегда в конце, при любом направлении.
func (s *Sorter) Sort(rows []schema.Record, spec SortSpec) []schema.Record {
	out := slices.Clone(rows)
	if spec.IsZero() {
		return out
	}
	slices.SortStableFunc(out, func(a, b schema.Record) int {
		va, oka := a[spec.Key]
		vb, okb := b[spec.Key]
		na, nb := isNil(va, oka), isNil(vb, okb)
		switch {
		case na && nb:
			return 0
		case na:
			return 1
		case nb:
			return -1
		}
		c := s.Compare(va, vb)
		if spec.Dir == Desc {
			return -c
		}
		return c
	})
	return out
}
