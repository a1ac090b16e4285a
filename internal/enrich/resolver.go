// Package enrich присоединяет к строкам записи из связанных коллекций.
package enrich

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"crmconsole/internal/schema"

	"github.com/spf13/cast"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Fetcher читает коллекцию целиком и запись по id.
type Fetcher interface {
	List(ctx context.Context, endpoint string, params url.Values) ([]schema.Record, error)
	Get(ctx context.Context, endpoint, id string) (schema.Record, error)
}

// Result: обогащённые копии строк.
type Result struct {
	Rows    []schema.Record
	Loading bool
	// Degraded: загрузка не удалась, строки возвращены без обогащения.
	Degraded bool
}

// maxByID: параллельность одиночных дозапросов.
const maxByID = 8

type Resolver struct {
	fetch    Fetcher
	cache    *Cache
	identity schema.IdentityFunc
	log      *zap.Logger

	mu      sync.Mutex
	lastSig string
	last    Result
	hasLast bool
	loading atomic.Bool
	fetches atomic.Int64
}

type Option func(*Resolver)

func WithLogger(l *zap.Logger) Option { return func(r *Resolver) { r.log = l } }

// WithIdentity задаёт аксессор идентичности строк для сигнатуры.
func WithIdentity(fn schema.IdentityFunc) Option { return func(r *Resolver) { r.identity = fn } }

func New(fetch Fetcher, cache *Cache, opts ...Option) *Resolver {
	if cache == nil {
		cache = NewCache()
	}
	r := &Resolver{
		fetch:    fetch,
		cache:    cache,
		identity: schema.KeyIdentity(schema.KeyID),
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Resolver) Cache() *Cache { return r.cache }

// Loading: идёт загрузка коллекций.
func (r *Resolver) Loading() bool { return r.loading.Load() }

// Fetches: сколько сетевых запросов сделал резолвер (для диагностики).
func (r *Resolver) Fetches() int64 { return r.fetches.Load() }

// Reset забывает последнюю сигнатуру и сбрасывает кэш: следующий Resolve пойдёт в сеть.
func (r *Resolver) Reset() {
	r.mu.Lock()
	r.hasLast = false
	r.lastSig = ""
	r.mu.Unlock()
	r.cache.Clear()
}

// signature: идентификаторы строк (со значениями обогащаемых ключей) и дескрипторы полей.
func (r *Resolver) signature(rows []schema.Record, fields []schema.Field) string {
	var b strings.Builder
	for _, f := range fields {
		b.WriteString(f.Key)
		b.WriteByte('=')
		b.WriteString(f.Enrich.Signature())
		b.WriteByte(';')
	}
	b.WriteByte('|')
	for i, row := range rows {
		id, _ := r.identity(row, i)
		b.WriteString(id)
		for _, f := range fields {
			b.WriteByte(':')
			b.WriteString(cast.ToString(row[f.Key]))
		}
		b.WriteByte(',')
	}
	return b.String()
}

// Resolve возвращает обогащённые копии rows. Исходные строки не меняются.
// При неизменной сигнатуре возвращается прошлый результат без запросов.
func (r *Resolver) Resolve(ctx context.Context, rows []schema.Record, fields []schema.Field) Result {
	enriched := make([]schema.Field, 0, len(fields))
	for _, f := range fields {
		if f.Enrich != nil && f.Enrich.Endpoint != "" {
			enriched = append(enriched, f)
		}
	}
	if len(enriched) == 0 || len(rows) == 0 {
		return Result{Rows: rows}
	}

	sig := r.signature(rows, enriched)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hasLast && sig == r.lastSig {
		return r.last
	}

	r.loading.Store(true)
	defer r.loading.Store(false)

	if err := r.load(ctx, enriched); err != nil {
		r.log.Warn("enrichment degraded", zap.Error(err))
		res := Result{Rows: rows, Degraded: true}
		r.lastSig, r.last, r.hasLast = sig, res, true
		return res
	}
	r.fillMisses(ctx, rows, enriched)

	out := make([]schema.Record, len(rows))
	for i, row := range rows {
		out[i] = r.join(row, enriched)
	}
	res := Result{Rows: out}
	r.lastSig, r.last, r.hasLast = sig, res, true
	return res
}

type target struct{ endpoint, fk string }

// load подтягивает все ещё не закэшированные коллекции параллельно; общий endpoint: один запрос.
func (r *Resolver) load(ctx context.Context, fields []schema.Field) error {
	seen := map[target]bool{}
	var todo []target
	for _, f := range fields {
		t := target{f.Enrich.Endpoint, f.Enrich.Key()}
		if seen[t] {
			continue
		}
		seen[t] = true
		if _, ok := r.cache.Index(t.endpoint, t.fk); !ok {
			todo = append(todo, t)
		}
	}
	if len(todo) == 0 {
		return nil
	}

	// один List на endpoint даже при разных внешних ключах
	byEndpoint := map[string][]string{}
	for _, t := range todo {
		byEndpoint[t.endpoint] = append(byEndpoint[t.endpoint], t.fk)
	}

	g, gctx := errgroup.WithContext(ctx)
	for endpoint, fks := range byEndpoint {
		g.Go(func() error {
			r.fetches.Add(1)
			recs, err := r.fetch.List(gctx, endpoint, nil)
			if err != nil {
				return err
			}
			for _, fk := range fks {
				idx := make(map[string]schema.Record, len(recs))
				for _, rec := range recs {
					if k := rec.String(fk); k != "" {
						idx[k] = rec
					}
				}
				r.cache.store(endpoint, fk, idx)
			}
			return nil
		})
	}
	return g.Wait()
}

// fillMisses дозапрашивает по id ключи, которых нет в индексе (только для fk=id).
func (r *Resolver) fillMisses(ctx context.Context, rows []schema.Record, fields []schema.Field) {
	type want struct{ endpoint, key string }
	seen := map[want]bool{}
	var todo []want
	for _, f := range fields {
		if f.Enrich.Key() != schema.KeyID {
			continue
		}
		idx, _ := r.cache.Index(f.Enrich.Endpoint, schema.KeyID)
		for _, row := range rows {
			for _, k := range keysOf(row[f.Key]) {
				w := want{f.Enrich.Endpoint, k}
				if _, ok := idx[k]; ok || seen[w] || r.cache.missed(w.endpoint, schema.KeyID, k) {
					continue
				}
				seen[w] = true
				todo = append(todo, w)
			}
		}
	}
	if len(todo) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(maxByID)
	for _, w := range todo {
		g.Go(func() error {
			r.fetches.Add(1)
			rec, err := r.fetch.Get(ctx, w.endpoint, w.key)
			if err != nil || rec == nil {
				r.log.Debug("enrichment by id missed",
					zap.String("endpoint", w.endpoint), zap.String("id", w.key), zap.Error(err))
				r.cache.miss(w.endpoint, schema.KeyID, w.key)
				return nil
			}
			r.cache.add(w.endpoint, schema.KeyID, w.key, rec)
			return nil
		})
	}
	_ = g.Wait()
}

func keysOf(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(t))
		for _, it := range t {
			if s := cast.ToString(it); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return t
	}
	if s := cast.ToString(v); s != "" {
		return []string{s}
	}
	return nil
}

func (r *Resolver) join(row schema.Record, fields []schema.Field) schema.Record {
	out := make(schema.Record, len(row)+2*len(fields))
	for k, v := range row {
		out[k] = v
	}
	for _, f := range fields {
		idx, ok := r.cache.Index(f.Enrich.Endpoint, f.Enrich.Key())
		if !ok {
			continue
		}
		v := row[f.Key]
		if arr, isArr := v.([]any); isArr {
			var recs []schema.Record
			var labels []string
			for _, k := range keysOf(arr) {
				if rec, hit := idx[k]; hit {
					recs = append(recs, rec)
					labels = append(labels, Display(rec, *f.Enrich))
				}
			}
			if len(recs) > 0 {
				out[schema.EnrichedKey(f.Key)] = recs
				out[schema.DisplayKey(f.Key)] = strings.Join(labels, ", ")
			}
			continue
		}
		if rec, hit := idx[cast.ToString(v)]; hit && v != nil {
			out[schema.EnrichedKey(f.Key)] = rec
			out[schema.DisplayKey(f.Key)] = Display(rec, *f.Enrich)
		}
	}
	return out
}

var displayCandidates = []string{"name", "title", "label", "email", "code"}

// Display: подпись присоединённой записи по display_field/display_fields.
func Display(rec schema.Record, e schema.Enrichment) string {
	if len(e.DisplayFields) > 0 {
		parts := make([]string, 0, len(e.DisplayFields))
		for _, k := range e.DisplayFields {
			if s := strings.TrimSpace(rec.String(k)); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, e.Sep())
	}
	if e.DisplayField != "" {
		return rec.String(e.DisplayField)
	}
	for _, k := range displayCandidates {
		if s := rec.String(k); s != "" {
			return s
		}
	}
	return rec.String(e.Key())
}
