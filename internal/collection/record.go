// Package collection: коллекции записей для разработки и тестов:
// REST по соглашениям консоли поверх памяти или Postgres.
package collection

import (
	"errors"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrVersionConflict = errors.New("version conflict")
)

type Record struct {
	ID        string         `json:"id"`
	Version   int64          `json:"version"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Deleted   bool           `json:"-"`
	Data      map[string]any `json:"data"`
}

// system: служебные ключи плоской записи.
var system = map[string]struct{}{"id": {}, "version": {}, "created_at": {}, "updated_at": {}}

// flatten: плоское представление для ответа, служебные поля плюс данные.
func flatten(rec *Record) map[string]any {
	out := map[string]any{
		"id":         rec.ID,
		"version":    rec.Version,
		"created_at": rec.CreatedAt.Format(time.RFC3339),
		"updated_at": rec.UpdatedAt.Format(time.RFC3339),
	}
	for k, v := range rec.Data {
		// служебные поля пользователь не перетирает
		if _, clash := out[k]; clash {
			out["data."+k] = v
			continue
		}
		out[k] = v
	}
	return out
}

// stripSystem убирает служебные ключи из тела запроса.
func stripSystem(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		if _, ok := system[k]; ok {
			continue
		}
		out[k] = v
	}
	return out
}

// idSource: монотонные ulid; ulid.Monotonic не потокобезопасен.
type idSource struct {
	mu      sync.Mutex
	entropy io.Reader
}

func newIDSource() *idSource {
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &idSource{entropy: ulid.Monotonic(src, 0)}
}

func (s *idSource) next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}
