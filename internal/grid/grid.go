// Package grid: табличное представление экрана. Фильтры, сортировка,
// страницы, выбор строк и массовые действия.
package grid

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"crmconsole/internal/enrich"
	"crmconsole/internal/render"
	"crmconsole/internal/schema"

	"go.uber.org/zap"
)

var (
	ErrActionNotAllowed = errors.New("action not allowed")
	ErrUnknownFilter    = errors.New("unknown filter")
	ErrNotSortable      = errors.New("column is not sortable")
	ErrEmptySelection   = errors.New("nothing selected")
	ErrNoEndpoint       = errors.New("endpoint not configured")
	ErrNoIdentity       = errors.New("row has no stable identity")
)

// BulkActionDelete: действие массового удаления в теле {ids, action}.
const BulkActionDelete = "delete"

// Backend: коллекция, с которой работает таблица.
type Backend interface {
	List(ctx context.Context, endpoint string, params url.Values) ([]schema.Record, error)
	Delete(ctx context.Context, endpoint, id string) error
	Bulk(ctx context.Context, endpoint string, ids []string, action string) error
}

// Permission: внешний предикат прав на действие.
type Permission func(act schema.Action) bool

// Notify получает ошибки мутаций для показа пользователю.
type Notify func(err error)

type Column struct {
	Key      string      `json:"key"`
	Label    string      `json:"label"`
	Kind     schema.Kind `json:"kind"`
	Sortable bool        `json:"sortable"`
	Sort     Direction   `json:"sort,omitempty"`
	Width    int         `json:"width,omitempty"`
}

type Row struct {
	ID         string        `json:"id"`
	Positional bool          `json:"positional,omitempty"`
	Selected   bool          `json:"selected"`
	Cells      []render.Cell `json:"cells"`
}

// View: модель для отрисовки таблицы.
type View struct {
	Title       string                 `json:"title"`
	Columns     []Column               `json:"columns"`
	Rows        []Row                  `json:"rows"`
	Page        int                    `json:"page"`
	Pages       int                    `json:"pages"`
	Total       int                    `json:"total"`
	PageSize    int                    `json:"pageSize"`
	Sort        SortSpec               `json:"sort"`
	Filters     map[string]string      `json:"filters"`
	ServerSide  bool                   `json:"serverSideFiltering"`
	AllSelected bool                   `json:"allSelected"`
	Selected    []string               `json:"selected"`
	Actions     map[schema.Action]bool `json:"actions"`
	Loading     bool                   `json:"loading"`
	Degraded    bool                   `json:"degraded,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

type Grid struct {
	screen       *schema.Screen
	backend      Backend
	enricher     *enrich.Resolver
	sorter       *Sorter
	address      Address
	identity     schema.IdentityFunc
	log          *zap.Logger
	can          Permission
	notify       Notify
	onDataChange func()

	mu          sync.Mutex
	source      []schema.Record
	rows        []schema.Record
	filters     Predicate
	sort        SortSpec
	page        int
	pageSize    int
	passthrough url.Values
	sel         Selection
	current     Page
	positional  map[string]bool
	err         error
	loading     bool
	degraded    bool
	seq         uint64
}

type Option func(*Grid)

func WithLogger(l *zap.Logger) Option            { return func(g *Grid) { g.log = l } }
func WithPermission(p Permission) Option         { return func(g *Grid) { g.can = p } }
func WithNotify(n Notify) Option                 { return func(g *Grid) { g.notify = n } }
func OnDataChange(fn func()) Option              { return func(g *Grid) { g.onDataChange = fn } }
func WithSorter(s *Sorter) Option                { return func(g *Grid) { g.sorter = s } }
func WithEnricher(r *enrich.Resolver) Option     { return func(g *Grid) { g.enricher = r } }
func WithIdentity(fn schema.IdentityFunc) Option { return func(g *Grid) { g.identity = fn } }

// WithPageSize переопределяет размер страницы экрана.
func WithPageSize(n int) Option {
	return func(g *Grid) {
		if n > 0 {
			g.pageSize = n
		}
	}
}

// New создаёт таблицу экрана. Если backend умеет Get, обогащение подключается само.
func New(screen *schema.Screen, backend Backend, opts ...Option) *Grid {
	g := &Grid{
		screen:   screen,
		backend:  backend,
		address:  NewAddress(screen),
		identity: screen.Identity(),
		log:      zap.NewNop(),
		page:     1,
		pageSize: screen.PageSize,
		filters:  NewPredicate(nil),
	}
	for _, o := range opts {
		o(g)
	}
	if g.pageSize <= 0 {
		g.pageSize = DefaultPageSize
	}
	if g.sorter == nil {
		g.sorter = NewSorter("en")
	}
	if g.enricher == nil {
		if f, ok := backend.(enrich.Fetcher); ok {
			g.enricher = enrich.New(f, nil, enrich.WithIdentity(g.identity), enrich.WithLogger(g.log))
		}
	}
	g.log = g.log.With(zap.String("screen", screen.Name))
	g.recomputeLocked()
	return g
}

func (g *Grid) Screen() *schema.Screen { return g.screen }

// Enricher: резолвер обогащения таблицы (может быть nil).
func (g *Grid) Enricher() *enrich.Resolver { return g.enricher }

func (g *Grid) enrichRows(ctx context.Context, rows []schema.Record) ([]schema.Record, bool) {
	if g.enricher == nil {
		return rows, false
	}
	res := g.enricher.Resolve(ctx, rows, g.screen.Fields)
	return res.Rows, res.Degraded
}

// SetRows подставляет данные вызывающего (экран без list endpoint).
func (g *Grid) SetRows(ctx context.Context, rows []schema.Record) {
	enriched, degraded := g.enrichRows(ctx, rows)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	g.source = rows
	g.rows = enriched
	g.degraded = degraded
	g.loading = false
	g.err = nil
	g.recomputeLocked()
}

// Refresh перечитывает коллекцию. Ошибка остаётся в баннере, прежние данные не теряются.
// Запоздавший ответ старого запроса отбрасывается.
func (g *Grid) Refresh(ctx context.Context) error {
	endpoint := g.screen.Endpoints.List
	if endpoint == "" || g.backend == nil {
		g.mu.Lock()
		src := g.source
		g.mu.Unlock()
		g.SetRows(ctx, src)
		return nil
	}

	g.mu.Lock()
	g.seq++
	seq := g.seq
	g.loading = true
	var params url.Values
	if g.screen.ServerSideFiltering {
		params = g.filters.Params()
	}
	g.mu.Unlock()

	recs, err := g.backend.List(ctx, endpoint, params)
	var enriched []schema.Record
	var degraded bool
	if err == nil {
		enriched, degraded = g.enrichRows(ctx, recs)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if seq != g.seq {
		return nil
	}
	g.loading = false
	if err != nil {
		g.err = err
		g.log.Warn("list fetch failed", zap.String("endpoint", endpoint), zap.Error(err))
		return fmt.Errorf("list %s: %w", endpoint, err)
	}
	g.err = nil
	g.source = recs
	g.rows = enriched
	g.degraded = degraded
	g.recomputeLocked()
	return nil
}

// Retry: повтор загрузки после ошибки; кэш обогащения при этом сбрасывается.
func (g *Grid) Retry(ctx context.Context) error {
	if g.enricher != nil {
		g.enricher.Reset()
	}
	return g.Refresh(ctx)
}

// recomputeLocked: фильтр -> сортировка -> страница -> видимые id.
func (g *Grid) recomputeLocked() {
	rows := g.rows
	if !g.screen.ServerSideFiltering && !g.filters.Empty() {
		rows = g.filters.Apply(rows)
	}
	sorted := g.sorter.Sort(rows, g.sort)
	g.current = Paginate(sorted, g.page, g.pageSize)
	g.page = g.current.Number

	ids := make([]string, len(g.current.Rows))
	g.positional = make(map[string]bool)
	offset := (g.current.Number - 1) * g.current.Size
	for i, r := range g.current.Rows {
		id, pos := g.identity(r, offset+i)
		ids[i] = id
		if pos {
			g.positional[id] = true
		}
	}
	if len(g.positional) > 0 {
		g.log.Debug("rows without identity, using positional ids", zap.Int("count", len(g.positional)))
	}
	g.sel.SetVisible(ids)
}

// SetFilter меняет один фильтр; пустое значение его снимает. Страница сбрасывается на 1.
func (g *Grid) SetFilter(ctx context.Context, key, value string) error {
	if !g.address.Declared(key) {
		return fmt.Errorf("%w: %s", ErrUnknownFilter, key)
	}
	g.mu.Lock()
	next := g.filters.With(key, value)
	g.mu.Unlock()
	return g.applyFilters(ctx, next)
}

// SetFilters заменяет все фильтры. Необъявленные ключи отбрасываются.
func (g *Grid) SetFilters(ctx context.Context, values map[string]string) error {
	clean := make(map[string]string, len(values))
	for k, v := range values {
		if g.address.Declared(k) {
			clean[k] = v
		}
	}
	return g.applyFilters(ctx, NewPredicate(clean))
}

func (g *Grid) ClearFilters(ctx context.Context) error {
	return g.applyFilters(ctx, NewPredicate(nil))
}

func (g *Grid) applyFilters(ctx context.Context, next Predicate) error {
	g.mu.Lock()
	if next.Equal(g.filters) {
		g.mu.Unlock()
		return nil
	}
	g.filters = next
	g.page = 1
	if g.screen.ServerSideFiltering && g.screen.Endpoints.List != "" {
		g.mu.Unlock()
		return g.Refresh(ctx)
	}
	g.recomputeLocked()
	g.mu.Unlock()
	return nil
}

// ToggleSort: тот же ключ меняет направление, новый начинает с asc.
func (g *Grid) ToggleSort(key string) error {
	if !g.address.Sortable(key) {
		return fmt.Errorf("%w: %s", ErrNotSortable, key)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sort = g.sort.Toggle(key)
	g.recomputeLocked()
	return nil
}

func (g *Grid) SetPage(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.page = n
	g.recomputeLocked()
}

func (g *Grid) SelectRow(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sel.SelectRow(id)
}

func (g *Grid) SelectAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sel.SelectAll()
}

func (g *Grid) ClearSelection() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sel.Clear()
}

func (g *Grid) Selected() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sel.IDs()
}

// State: текущее адресуемое состояние.
func (g *Grid) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return State{Filters: g.filters.Values(), Sort: g.sort, Page: g.page}
}

// Address: query-параметры текущего состояния вместе с посторонними параметрами.
func (g *Grid) Address() url.Values {
	st := g.State()
	g.mu.Lock()
	base := g.passthrough
	g.mu.Unlock()
	return g.address.Encode(st, base)
}

// ApplyAddress восстанавливает состояние из адреса (перезагрузка, ссылка).
func (g *Grid) ApplyAddress(ctx context.Context, q url.Values) error {
	st := g.address.Decode(q)
	next := NewPredicate(st.Filters)

	g.mu.Lock()
	g.passthrough = g.address.Passthrough(q)
	changed := !next.Equal(g.filters)
	g.filters = next
	g.sort = st.Sort
	g.page = st.Page
	needFetch := changed && g.screen.ServerSideFiltering && g.screen.Endpoints.List != ""
	if !needFetch {
		g.recomputeLocked()
	}
	g.mu.Unlock()

	if needFetch {
		return g.Refresh(ctx)
	}
	return nil
}

// ClearAddress: адрес без фильтров; сортировка и посторонние параметры остаются.
func (g *Grid) ClearAddress() url.Values {
	return g.address.ClearFilters(g.Address())
}

// Can: действие разрешено схемой и внешним предикатом.
func (g *Grid) Can(act schema.Action) bool {
	if !g.screen.Actions.Allows(act) {
		return false
	}
	return g.can == nil || g.can(act)
}

func (g *Grid) fail(op string, err error) error {
	g.log.Warn("mutation failed", zap.String("op", op), zap.Error(err))
	if g.notify != nil {
		g.notify(err)
	}
	return err
}

func (g *Grid) changed(ctx context.Context) {
	if g.onDataChange != nil {
		g.onDataChange()
	}
	if g.screen.Endpoints.List != "" {
		_ = g.Refresh(ctx)
	}
}

func (g *Grid) deleteEndpoint() string {
	if g.screen.Endpoints.Delete != "" {
		return g.screen.Endpoints.Delete
	}
	return g.screen.Endpoints.List
}

// Delete удаляет одну запись.
func (g *Grid) Delete(ctx context.Context, id string) error {
	if !g.Can(schema.ActionDelete) {
		return ErrActionNotAllowed
	}
	endpoint := g.deleteEndpoint()
	if endpoint == "" || g.backend == nil {
		return ErrNoEndpoint
	}
	g.mu.Lock()
	positional := g.positional[id]
	g.mu.Unlock()
	if positional {
		return ErrNoIdentity
	}
	if err := g.backend.Delete(ctx, endpoint, id); err != nil {
		return g.fail("delete", fmt.Errorf("delete %s: %w", id, err))
	}
	g.changed(ctx)
	return nil
}

// BulkDelete удаляет выбранные строки одним запросом {ids, action}.
// При ошибке выбор сохраняется.
func (g *Grid) BulkDelete(ctx context.Context) error {
	if !g.Can(schema.ActionBulkDelete) {
		return ErrActionNotAllowed
	}
	endpoint := g.screen.Endpoints.BulkDelete
	if endpoint == "" || g.backend == nil {
		return ErrNoEndpoint
	}

	g.mu.Lock()
	ids := g.sel.IDs()
	for _, id := range ids {
		if g.positional[id] {
			g.mu.Unlock()
			return ErrNoIdentity
		}
	}
	g.mu.Unlock()
	if len(ids) == 0 {
		return ErrEmptySelection
	}

	if err := g.backend.Bulk(ctx, endpoint, ids, BulkActionDelete); err != nil {
		return g.fail("bulk_delete", fmt.Errorf("bulk delete: %w", err))
	}
	g.mu.Lock()
	g.sel.Clear()
	g.mu.Unlock()
	g.changed(ctx)
	return nil
}

// Rows: отфильтрованные и отсортированные строки текущей страницы.
func (g *Grid) Rows() []schema.Record {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]schema.Record(nil), g.current.Rows...)
}

func (g *Grid) View() View {
	g.mu.Lock()
	defer g.mu.Unlock()

	fields := g.screen.TableFields()
	cols := make([]Column, len(fields))
	for i, f := range fields {
		cols[i] = Column{Key: f.Key, Label: f.Title(), Kind: f.Kind, Sortable: f.Sortable, Width: f.Width}
		if g.sort.Key == f.Key {
			cols[i].Sort = g.sort.Dir
		}
	}

	offset := (g.current.Number - 1) * g.current.Size
	rows := make([]Row, len(g.current.Rows))
	for i, r := range g.current.Rows {
		id, pos := g.identity(r, offset+i)
		cells := make([]render.Cell, len(fields))
		for j, f := range fields {
			cells[j] = render.Format(f, r)
		}
		rows[i] = Row{ID: id, Positional: pos, Selected: g.sel.Has(id), Cells: cells}
	}

	actions := make(map[schema.Action]bool)
	for _, act := range []schema.Action{
		schema.ActionCreate, schema.ActionEdit, schema.ActionDelete,
		schema.ActionBulkDelete, schema.ActionExport,
	} {
		actions[act] = g.Can(act)
	}

	v := View{
		Title:       g.screen.Title,
		Columns:     cols,
		Rows:        rows,
		Page:        g.current.Number,
		Pages:       g.current.Pages,
		Total:       g.current.Total,
		PageSize:    g.current.Size,
		Sort:        g.sort,
		Filters:     g.filters.Values(),
		ServerSide:  g.screen.ServerSideFiltering,
		AllSelected: g.sel.AllSelected(),
		Selected:    g.sel.IDs(),
		Actions:     actions,
		Loading:     g.loading || (g.enricher != nil && g.enricher.Loading()),
		Degraded:    g.degraded,
	}
	if g.err != nil {
		v.Error = g.err.Error()
	}
	return v
}
