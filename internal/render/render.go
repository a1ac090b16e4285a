// Package render превращает значение поля в ячейку по виду рендерера.
package render

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"crmconsole/internal/schema"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
)

// Cell: готовое к показу значение.
type Cell struct {
	Key   string      `json:"key"`
	Kind  schema.Kind `json:"kind"`
	Value any         `json:"value,omitempty"`
	Text  string      `json:"text"`
	Href  string      `json:"href,omitempty"`
	Src   string      `json:"src,omitempty"`
	Color string      `json:"color,omitempty"`
	Count int         `json:"count,omitempty"`
}

const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02 15:04"
)

// Format строит ячейку поля f для записи rec. Вычисляемые поля считаются по записи.
func Format(f schema.Field, rec schema.Record) Cell {
	v := rec[f.Key]
	if f.IsComputed() {
		if cv, err := f.Compute(schema.RecordEnv(rec)); err == nil {
			v = cv
		}
	}
	return Value(f, v, rec)
}

// Value форматирует уже известное значение.
func Value(f schema.Field, v any, rec schema.Record) Cell {
	c := Cell{Key: f.Key, Kind: f.Kind, Value: v}
	if v == nil && f.Kind != schema.KindAsyncSelect {
		return c
	}

	switch f.Kind {
	case schema.KindText, schema.KindTextarea, schema.KindReadonly:
		c.Text = cast.ToString(v)
	case schema.KindEmail:
		c.Text = cast.ToString(v)
		if c.Text != "" {
			c.Href = "mailto:" + c.Text
		}
	case schema.KindNumber:
		c.Text = number(v, f.Precision)
	case schema.KindCurrency:
		c.Text = Currency(v, f.Currency, precisionOr(f.Precision, 2))
	case schema.KindPercentage:
		c.Text = number(v, f.Precision) + "%"
	case schema.KindBoolean:
		if cast.ToBool(v) {
			c.Text = "Yes"
		} else {
			c.Text = "No"
		}
	case schema.KindDate:
		c.Text = timeText(v, DateLayout)
	case schema.KindDateTime:
		c.Text = timeText(v, DateTimeLayout)
	case schema.KindSelect:
		s := cast.ToString(v)
		c.Text = s
		for _, o := range f.Options {
			if o.Value == s {
				if o.Label != "" {
					c.Text = o.Label
				}
				c.Color = o.Color
				break
			}
		}
	case schema.KindAsyncSelect:
		// подпись из обогащения, иначе сырой идентификатор
		if d := rec.String(schema.DisplayKey(f.Key)); d != "" {
			c.Text = d
		} else if v != nil {
			c.Text = cast.ToString(v)
		}
	case schema.KindArray:
		c.Count = len(rec.Items(f.Key))
		if c.Count == 0 {
			if arr, ok := v.([]any); ok {
				c.Count = len(arr)
			}
		}
		c.Text = strconv.Itoa(c.Count) + " items"
		if c.Count == 1 {
			c.Text = "1 item"
		}
	case schema.KindLink:
		c.Text = cast.ToString(v)
		c.Href = link(f.Href, c.Text, rec)
	case schema.KindImage:
		c.Src = cast.ToString(v)
		c.Text = f.Title()
	default:
		panic(fmt.Sprintf("render: unhandled kind %s", f.Kind))
	}
	return c
}

func precisionOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func number(v any, precision *int) string {
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return cast.ToString(v)
	}
	d := decimal.NewFromFloat(f)
	if precision != nil {
		return d.StringFixed(int32(*precision))
	}
	return d.String()
}

// Currency форматирует сумму с разделителем тысяч и символом валюты.
func Currency(v any, symbol string, precision int) string {
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return cast.ToString(v)
	}
	s := decimal.NewFromFloat(f).StringFixed(int32(precision))
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String()
	if frac != "" {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return symbol + out
}

func timeText(v any, layout string) string {
	t, err := cast.ToTimeE(v)
	if err != nil || t.IsZero() {
		return cast.ToString(v)
	}
	return t.Format(layout)
}

// link подставляет {value} и {<ключ записи>} в шаблон ссылки.
func link(tpl, value string, rec schema.Record) string {
	if tpl == "" {
		return value
	}
	out := strings.ReplaceAll(tpl, "{value}", url.PathEscape(value))
	for k := range rec {
		ph := "{" + k + "}"
		if strings.Contains(out, ph) {
			out = strings.ReplaceAll(out, ph, url.PathEscape(rec.String(k)))
		}
	}
	return out
}
