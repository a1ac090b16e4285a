package reference

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"crmconsole/internal/schema"

	"gopkg.in/yaml.v3"
)

// LoadCatalogs читает все справочники из папки (*.yaml, *.yml).
func LoadCatalogs(dir string) (map[string]Catalog, error) {
	result := make(map[string]Catalog)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !(strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		var c Catalog
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("catalog %s: %w", name, err)
		}
		// имя справочника: из файла, если не задано явно
		if c.Name == "" {
			c.Name = strings.TrimSuffix(name, filepath.Ext(name))
		}
		if _, dup := result[c.Name]; dup {
			return nil, fmt.Errorf("duplicate catalog %q (file: %s)", c.Name, name)
		}
		result[c.Name] = c
	}
	return result, nil
}

func sortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].Order < items[j].Order })
}

// Bind подставляет значения справочников в поля, фильтры и колонки доски по options_ref.
// Неизвестная ссылка: проблема схемы, возвращается как Issue.
func Bind(screens map[string]*schema.Screen, catalogs map[string]Catalog) []schema.Issue {
	var issues []schema.Issue
	lookup := func(screen, field, ref string) ([]schema.Option, bool) {
		c, ok := catalogs[ref]
		if !ok {
			issues = append(issues, schema.Issue{
				Screen:  screen,
				Field:   field,
				Code:    "catalog_unknown",
				Message: fmt.Sprintf("options_ref %q does not name a catalog", ref),
			})
			return nil, false
		}
		return c.Options(), true
	}

	for name, s := range screens {
		for i := range s.Fields {
			f := &s.Fields[i]
			if f.OptionsRef == "" || len(f.Options) > 0 {
				continue
			}
			if opts, ok := lookup(name, f.Key, f.OptionsRef); ok {
				f.Options = opts
			}
		}
		for i := range s.Filters {
			f := &s.Filters[i]
			if f.OptionsRef == "" || len(f.Options) > 0 {
				continue
			}
			if opts, ok := lookup(name, f.Key, f.OptionsRef); ok {
				f.Options = opts
			}
		}
		if b := s.Board; b != nil && b.OptionsRef != "" && len(b.Columns) == 0 {
			if opts, ok := lookup(name, b.StatusField, b.OptionsRef); ok {
				for _, o := range opts {
					b.Columns = append(b.Columns, schema.BoardColumn{Value: o.Value, Label: o.Label, Color: o.Color})
				}
			}
		}
	}
	return issues
}
