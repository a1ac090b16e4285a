package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"

	"crmconsole/internal/config"
	"crmconsole/internal/reference"
	"crmconsole/internal/schema"
)

type bundle struct {
	screens  map[string]*schema.Screen
	catalogs map[string]reference.Catalog
	issues   []schema.Issue
}

// loadBundle читает экраны и справочники, связывает options_ref и прогоняет lint.
// Каталога справочников может не быть.
func loadBundle(cfg config.Config) (*bundle, error) {
	screens, err := schema.LoadAllScreens(cfg.ScreensDir)
	if err != nil {
		return nil, fmt.Errorf("load screens: %w", err)
	}
	catalogs, err := reference.LoadCatalogs(cfg.CatalogsDir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load catalogs: %w", err)
		}
		catalogs = map[string]reference.Catalog{}
	}
	b := &bundle{screens: screens, catalogs: catalogs}
	b.issues = append(b.issues, reference.Bind(screens, catalogs)...)
	b.issues = append(b.issues, schema.Lint(screens)...)
	return b, nil
}

func runLint(out io.Writer, cfg config.Config) error {
	b, err := loadBundle(cfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "screens: %d, catalogs: %d\n", len(b.screens), len(b.catalogs))
	if err := schema.Err(b.issues); err != nil {
		fmt.Fprintln(out, err)
		return fmt.Errorf("lint: %d issue(s)", len(b.issues))
	}
	fmt.Fprintln(out, "ok")
	return nil
}
