package schema

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseScreen читает один экран из YAML. name: запасное имя (имя файла).
func ParseScreen(data []byte, name string) (*Screen, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Screen
	if err := dec.Decode(&s); err != nil {
		return nil, err
	}
	if s.Name == "" {
		s.Name = name
	}
	if err := s.Prepare(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Prepare компилирует вычисляемые выражения. Вызывается один раз при загрузке.
func (s *Screen) Prepare() error {
	for i := range s.Fields {
		if err := s.Fields[i].Compile(); err != nil {
			return fmt.Errorf("screen %q: %w", s.Name, err)
		}
	}
	return nil
}

// LoadScreen читает экран из файла.
func LoadScreen(path string) (*Screen, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return ParseScreen(data, base)
}

// LoadAllScreens обходит каталог и загружает все *.yaml/*.yml экраны.
func LoadAllScreens(root string) (map[string]*Screen, error) {
	result := make(map[string]*Screen)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if d.IsDir() || (ext != ".yaml" && ext != ".yml") {
			return nil
		}

		s, err := LoadScreen(path)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if _, exists := result[s.Name]; exists {
			return fmt.Errorf("duplicate screen %q (file: %s)", s.Name, path)
		}
		result[s.Name] = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
