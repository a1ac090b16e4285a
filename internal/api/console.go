// Package api: HTTP-поверхность консоли. Описание экранов и сессии,
// в которых живут таблицы, доски, формы и async-select.
package api

import (
	"context"
	"net/url"
	"time"

	"crmconsole/internal/grid"
	"crmconsole/internal/reference"
	"crmconsole/internal/schema"

	"go.uber.org/zap"
)

// Backend: коллекции, с которыми работают компоненты (remote.Client).
type Backend interface {
	List(ctx context.Context, endpoint string, params url.Values) ([]schema.Record, error)
	Get(ctx context.Context, endpoint, id string) (schema.Record, error)
	Create(ctx context.Context, endpoint string, rec schema.Record) (schema.Record, error)
	Update(ctx context.Context, endpoint, id string, rec schema.Record) (schema.Record, error)
	Patch(ctx context.Context, endpoint, id string, patch schema.Record) (schema.Record, error)
	Delete(ctx context.Context, endpoint, id string) error
	Bulk(ctx context.Context, endpoint string, ids []string, action string) error
}

type Console struct {
	screens  map[string]*schema.Screen
	catalogs map[string]reference.Catalog
	backend  Backend
	sessions *Sessions
	sorter   *grid.Sorter
	log      *zap.Logger

	pageSize int
	debounce time.Duration
	timeout  time.Duration
}

type Option func(*Console)

func WithLogger(l *zap.Logger) Option                      { return func(c *Console) { c.log = l } }
func WithCatalogs(cat map[string]reference.Catalog) Option { return func(c *Console) { c.catalogs = cat } }
func WithLocale(locale string) Option                      { return func(c *Console) { c.sorter = grid.NewSorter(locale) } }
func WithPageSize(n int) Option                            { return func(c *Console) { c.pageSize = n } }
func WithDebounce(d time.Duration) Option                  { return func(c *Console) { c.debounce = d } }
func WithSessionTTL(ttl time.Duration) Option              { return func(c *Console) { c.sessions = NewSessions(ttl) } }
func WithTimeout(d time.Duration) Option                   { return func(c *Console) { c.timeout = d } }

func NewConsole(screens map[string]*schema.Screen, backend Backend, opts ...Option) *Console {
	c := &Console{
		screens:  screens,
		catalogs: map[string]reference.Catalog{},
		backend:  backend,
		sessions: NewSessions(DefaultSessionTTL),
		log:      zap.NewNop(),
		timeout:  30 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	if c.sorter == nil {
		c.sorter = grid.NewSorter("en")
	}
	return c
}

func (c *Console) Sessions() *Sessions { return c.sessions }

// Close закрывает все сессии.
func (c *Console) Close() { c.sessions.Close() }

// background: контекст для обратных вызовов движка, у которых нет запроса.
func (c *Console) background() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.timeout)
}
