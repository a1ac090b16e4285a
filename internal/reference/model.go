package reference

import "crmconsole/internal/schema"

// Catalog: справочник значений (статусы сделок, стадии лидов и т.д.).
type Catalog struct {
	Name  string `yaml:"name"`
	Items []Item `yaml:"items"`
}

type Item struct {
	Code  string `yaml:"code"`
	Name  string `yaml:"name"`
	Color string `yaml:"color,omitempty"`
	Order int    `yaml:"order,omitempty"`
	// Hidden: значение допустимо в данных, но не предлагается в формах и фильтрах.
	Hidden bool `yaml:"hidden,omitempty"`
}

// Options возвращает видимые значения справочника в порядке Order (стабильно).
func (c Catalog) Options() []schema.Option {
	items := make([]Item, 0, len(c.Items))
	for _, it := range c.Items {
		if !it.Hidden {
			items = append(items, it)
		}
	}
	sortItems(items)
	out := make([]schema.Option, 0, len(items))
	for _, it := range items {
		out = append(out, schema.Option{Value: it.Code, Label: it.Name, Color: it.Color})
	}
	return out
}
