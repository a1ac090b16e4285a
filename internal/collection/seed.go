package collection

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SeedFile: начальные записи одной коллекции.
type SeedFile struct {
	Collection string           `yaml:"collection"`
	Records    []map[string]any `yaml:"records"`
}

// Seed загружает *.yaml/*.yml из dir в store. Возвращает число созданных записей.
func Seed(ctx context.Context, store Store, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return n, err
		}
		var sf SeedFile
		if err := yaml.Unmarshal(data, &sf); err != nil {
			return n, fmt.Errorf("parse %s: %w", path, err)
		}
		if sf.Collection == "" {
			sf.Collection = strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		}
		for _, rec := range sf.Records {
			// повторный запуск не дублирует записи с явным id
			if id, ok := rec["id"].(string); ok && id != "" {
				if _, err := store.Get(ctx, sf.Collection, id); err == nil {
					continue
				}
			}
			if _, err := store.Create(ctx, sf.Collection, rec); err != nil {
				return n, fmt.Errorf("seed %s: %w", sf.Collection, err)
			}
			n++
		}
	}
	return n, nil
}
