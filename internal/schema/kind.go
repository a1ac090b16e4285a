package schema

import (
	"fmt"
	"strings"
)

// Kind: вид рендерера поля. Набор закрыт, неизвестное имя не загрузится.
type Kind int

const (
	KindText Kind = iota
	KindTextarea
	KindEmail
	KindNumber
	KindCurrency
	KindPercentage
	KindBoolean
	KindDate
	KindDateTime
	KindSelect
	KindAsyncSelect
	KindArray
	KindLink
	KindImage
	KindReadonly

	kindCount
)

var kindNames = [kindCount]string{
	KindText:        "text",
	KindTextarea:    "textarea",
	KindEmail:       "email",
	KindNumber:      "number",
	KindCurrency:    "currency",
	KindPercentage:  "percentage",
	KindBoolean:     "boolean",
	KindDate:        "date",
	KindDateTime:    "datetime",
	KindSelect:      "select",
	KindAsyncSelect: "async-select",
	KindArray:       "array",
	KindLink:        "link",
	KindImage:       "image",
	KindReadonly:    "readonly",
}

// Kinds возвращает все виды в порядке объявления.
func Kinds() []Kind {
	out := make([]Kind, 0, kindCount)
	for k := Kind(0); k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

func (k Kind) String() string {
	if k < 0 || k >= kindCount {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind разбирает имя вида. Пустая строка: text.
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return KindText, nil
	case "string":
		return KindText, nil
	case "int", "float":
		return KindNumber, nil
	case "money":
		return KindCurrency, nil
	case "bool":
		return KindBoolean, nil
	case "enum":
		return KindSelect, nil
	case "ref", "asyncselect":
		return KindAsyncSelect, nil
	}
	for i, name := range kindNames {
		if name == s {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown field kind %q", s)
}

// Numeric: значения вида сравниваются и фильтруются как числа.
func (k Kind) Numeric() bool {
	return k == KindNumber || k == KindCurrency || k == KindPercentage
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}
