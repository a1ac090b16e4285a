package api

import (
	"sort"
	"strings"

	"crmconsole/internal/schema"
)

// screen ищет экран по имени: сначала точное совпадение, затем
// регистронезависимое, если оно единственное.
func (c *Console) screen(name string) (*schema.Screen, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false
	}
	if s, ok := c.screens[name]; ok {
		return s, true
	}
	var found *schema.Screen
	for n, s := range c.screens {
		if strings.EqualFold(n, name) {
			if found != nil {
				// неоднозначно
				return nil, false
			}
			found = s
		}
	}
	return found, found != nil
}

func (c *Console) screenNames() []string {
	names := make([]string, 0, len(c.screens))
	for n := range c.screens {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
