package enrich

import (
	"sync"

	"crmconsole/internal/schema"
)

// Cache: индексы коллекций, endpoint -> (значение внешнего ключа -> запись).
// Живёт столько же, сколько экземпляр компонента; сбрасывается только явно.
type Cache struct {
	mu      sync.RWMutex
	indexes map[string]map[string]schema.Record
	// misses: ключи, которых нет и по одиночному запросу; повторно не спрашиваем
	misses map[string]map[string]struct{}
}

func NewCache() *Cache {
	return &Cache{
		indexes: make(map[string]map[string]schema.Record),
		misses:  make(map[string]map[string]struct{}),
	}
}

func cacheKey(endpoint, fk string) string { return endpoint + "#" + fk }

// Index возвращает индекс коллекции, если он уже загружен.
func (c *Cache) Index(endpoint, fk string) (map[string]schema.Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, ok := c.indexes[cacheKey(endpoint, fk)]
	return idx, ok
}

func (c *Cache) store(endpoint, fk string, idx map[string]schema.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indexes[cacheKey(endpoint, fk)] = idx
}

func (c *Cache) add(endpoint, fk, key string, rec schema.Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := cacheKey(endpoint, fk)
	if c.indexes[k] == nil {
		c.indexes[k] = make(map[string]schema.Record)
	}
	c.indexes[k][key] = rec
}

func (c *Cache) miss(endpoint, fk, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := cacheKey(endpoint, fk)
	if c.misses[k] == nil {
		c.misses[k] = make(map[string]struct{})
	}
	c.misses[k][key] = struct{}{}
}

func (c *Cache) missed(endpoint, fk, key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.misses[cacheKey(endpoint, fk)][key]
	return ok
}

// Invalidate сбрасывает индексы одного endpoint (для всех внешних ключей).
func (c *Cache) Invalidate(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := endpoint + "#"
	for k := range c.indexes {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(c.indexes, k)
			delete(c.misses, k)
		}
	}
}

// Clear сбрасывает всё.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indexes = make(map[string]map[string]schema.Record)
	c.misses = make(map[string]map[string]struct{})
}

// Len: число загруженных индексов.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.indexes)
}
