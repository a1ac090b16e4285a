package collection

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore: коллекции в памяти с мягким удалением и версиями.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]*Record // коллекция -> id -> запись
	ids  *idSource
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]map[string]*Record),
		ids:  newIDSource(),
	}
}

func copyRecord(r *Record) *Record {
	c := *r
	c.Data = make(map[string]any, len(r.Data))
	for k, v := range r.Data {
		c.Data[k] = v
	}
	return &c
}

// List возвращает живые записи в порядке создания.
func (s *MemoryStore) List(_ context.Context, collection string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, 0, len(s.data[collection]))
	for _, r := range s.data[collection] {
		if !r.Deleted {
			out = append(out, copyRecord(r))
		}
	}
	// ulid монотонен, порядок id совпадает с порядком создания
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, collection, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r := s.data[collection][id]
	if r == nil || r.Deleted {
		return nil, ErrNotFound
	}
	return copyRecord(r), nil
}

func (s *MemoryStore) Create(_ context.Context, collection string, data map[string]any) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[collection] == nil {
		s.data[collection] = make(map[string]*Record)
	}
	now := time.Now().UTC()
	rec := &Record{
		ID:        s.ids.next(),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
		Data:      stripSystem(data),
	}
	// id из тела (импорт, сиды) сохраняем
	if id, ok := data["id"].(string); ok && id != "" {
		rec.ID = id
	}
	s.data[collection][rec.ID] = rec
	return copyRecord(rec), nil
}

func (s *MemoryStore) live(collection, id string, expected int64) (*Record, error) {
	r := s.data[collection][id]
	if r == nil || r.Deleted {
		return nil, ErrNotFound
	}
	if expected > 0 && r.Version != expected {
		return nil, ErrVersionConflict
	}
	return r, nil
}

func (s *MemoryStore) Update(_ context.Context, collection, id string, data map[string]any, expected int64) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.live(collection, id, expected)
	if err != nil {
		return nil, err
	}
	r.Data = stripSystem(data)
	r.Version++
	r.UpdatedAt = time.Now().UTC()
	return copyRecord(r), nil
}

func (s *MemoryStore) Patch(_ context.Context, collection, id string, patch map[string]any, expected int64) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.live(collection, id, expected)
	if err != nil {
		return nil, err
	}
	next := make(map[string]any, len(r.Data)+len(patch))
	for k, v := range r.Data {
		next[k] = v
	}
	for k, v := range stripSystem(patch) {
		next[k] = v
	}
	r.Data = next
	r.Version++
	r.UpdatedAt = time.Now().UTC()
	return copyRecord(r), nil
}

// Delete: мягкое удаление.
func (s *MemoryStore) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, err := s.live(collection, id, 0)
	if err != nil {
		return err
	}
	r.Deleted = true
	r.Version++
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) Restore(_ context.Context, collection, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.data[collection][id]
	if r == nil {
		return nil, ErrNotFound
	}
	if r.Deleted {
		r.Deleted = false
		r.Version++
		r.UpdatedAt = time.Now().UTC()
	}
	return copyRecord(r), nil
}

func (s *MemoryStore) Close() error { return nil }
