// Package board: канбан, карточки сгруппированы по полю статуса,
// перемещение применяется оптимистично и откатывается при ошибке сервера.
package board

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
	ErrColumnFull           = errors.New("column is full")
	ErrTransitionNotAllowed = errors.New("transition not allowed")
	ErrUnknownItem          = errors.New("unknown item")
	ErrUnknownColumn        = errors.New("unknown column")
	ErrNoEndpoint           = errors.New("status endpoint not configured")
	ErrNoBoard              = errors.New("screen has no board")
	ErrTransitionPending    = errors.New("transition already in flight")
)

// Backend: чтение коллекции и частичное обновление статуса.
type Backend interface {
	List(ctx context.Context, endpoint string, params url.Values) ([]schema.Record, error)
	Patch(ctx context.Context, endpoint, id string, patch schema.Record) (schema.Record, error)
}

type Notify func(err error)

type Card struct {
	ID      string        `json:"id"`
	Title   string        `json:"title"`
	Pending bool          `json:"pending,omitempty"`
	Cells   []render.Cell `json:"cells"`
}

type Group struct {
	Value string `json:"value"`
	Label string `json:"label"`
	Color string `json:"color,omitempty"`
	Limit int    `json:"limit,omitempty"`
	Count int    `json:"count"`
	Full  bool   `json:"full"`
	Cards []Card `json:"cards"`
}

type View struct {
	Title    string  `json:"title"`
	Groups   []Group `json:"groups"`
	Loading  bool    `json:"loading"`
	Degraded bool    `json:"degraded,omitempty"`
	Error    string  `json:"error,omitempty"`
}

type Board struct {
	screen       *schema.Screen
	spec         schema.BoardSpec
	backend      Backend
	enricher     *enrich.Resolver
	identity     schema.IdentityFunc
	log          *zap.Logger
	notify       Notify
	onDataChange func()

	mu       sync.Mutex
	items    []schema.Record
	pending  map[string]*Transition
	err      error
	loading  bool
	degraded bool
}

type Option func(*Board)

func WithLogger(l *zap.Logger) Option        { return func(b *Board) { b.log = l } }
func WithNotify(n Notify) Option             { return func(b *Board) { b.notify = n } }
func OnDataChange(fn func()) Option          { return func(b *Board) { b.onDataChange = fn } }
func WithEnricher(r *enrich.Resolver) Option { return func(b *Board) { b.enricher = r } }

func New(screen *schema.Screen, backend Backend, opts ...Option) (*Board, error) {
	if screen.Board == nil || screen.Board.StatusField == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoBoard, screen.Name)
	}
	b := &Board{
		screen:   screen,
		spec:     *screen.Board,
		backend:  backend,
		identity: screen.Identity(),
		log:      zap.NewNop(),
		pending:  make(map[string]*Transition),
	}
	for _, o := range opts {
		o(b)
	}
	if b.enricher == nil {
		if f, ok := backend.(enrich.Fetcher); ok {
			b.enricher = enrich.New(f, nil, enrich.WithIdentity(b.identity), enrich.WithLogger(b.log))
		}
	}
	b.log = b.log.With(zap.String("screen", screen.Name))
	return b, nil
}

func (b *Board) Screen() *schema.Screen { return b.screen }

func (b *Board) Enricher() *enrich.Resolver { return b.enricher }

// SetItems подставляет данные вызывающего. Строки копируются.
func (b *Board) SetItems(ctx context.Context, rows []schema.Record) {
	if b.enricher != nil {
		res := b.enricher.Resolve(ctx, rows, b.screen.Fields)
		rows = res.Rows
		b.mu.Lock()
		b.degraded = res.Degraded
		b.mu.Unlock()
	}
	items := make([]schema.Record, len(rows))
	for i, r := range rows {
		items[i] = r.Clone()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = items
	b.pending = make(map[string]*Transition)
	b.err = nil
}

// Refresh перечитывает коллекцию; ошибка остаётся в баннере, прежние карточки сохраняются.
func (b *Board) Refresh(ctx context.Context) error {
	endpoint := b.screen.Endpoints.List
	if endpoint == "" || b.backend == nil {
		return nil
	}
	b.mu.Lock()
	b.loading = true
	b.mu.Unlock()

	recs, err := b.backend.List(ctx, endpoint, nil)

	b.mu.Lock()
	b.loading = false
	if err != nil {
		b.err = err
		b.mu.Unlock()
		b.log.Warn("list fetch failed", zap.String("endpoint", endpoint), zap.Error(err))
		return fmt.Errorf("list %s: %w", endpoint, err)
	}
	b.mu.Unlock()
	b.SetItems(ctx, recs)
	return nil
}

func (b *Board) indexLocked(id string) int {
	for i, it := range b.items {
		if got, _ := b.identity(it, i); got == id {
			return i
		}
	}
	return -1
}

func (b *Board) statusLocked(id string) string {
	i := b.indexLocked(id)
	if i < 0 {
		return ""
	}
	return b.items[i].String(b.spec.StatusField)
}

// setStatusLocked заменяет карточку копией с новым статусом.
func (b *Board) setStatusLocked(id, status string) {
	i := b.indexLocked(id)
	if i < 0 {
		return
	}
	next := b.items[i].Clone()
	next[b.spec.StatusField] = status
	b.items[i] = next
}

// columns: объявленные колонки, затем статусы карточек, которых нет среди объявленных.
func (b *Board) columnsLocked() []schema.BoardColumn {
	cols := append([]schema.BoardColumn(nil), b.spec.Columns...)
	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		seen[c.Value] = true
	}
	for _, it := range b.items {
		s := it.String(b.spec.StatusField)
		if !seen[s] {
			seen[s] = true
			cols = append(cols, schema.BoardColumn{Value: s, Label: s})
		}
	}
	return cols
}

func (b *Board) countLocked(status string) int {
	n := 0
	for _, it := range b.items {
		if it.String(b.spec.StatusField) == status {
			n++
		}
	}
	return n
}

func (b *Board) declared(status string) (schema.BoardColumn, bool) {
	for _, c := range b.spec.Columns {
		if c.Value == status {
			return c, true
		}
	}
	return schema.BoardColumn{}, len(b.spec.Columns) == 0
}

// begin проверяет перемещение и применяет его оптимистично.
// nil без ошибки: перенос в ту же колонку, делать нечего.
func (b *Board) begin(id, to string) (*Transition, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := b.indexLocked(id)
	if i < 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownItem, id)
	}
	if _, positional := b.identity(b.items[i], i); positional {
		return nil, fmt.Errorf("%w: item without identity", ErrUnknownItem)
	}
	// откат предыдущего перемещения восстановил бы статус поверх нового
	if b.pending[id] != nil {
		return nil, fmt.Errorf("%w: %s", ErrTransitionPending, id)
	}
	from := b.items[i].String(b.spec.StatusField)
	if from == to {
		return nil, nil
	}
	col, ok := b.declared(to)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, to)
	}
	if err := validateTransition(b.spec.Transitions, from, to); err != nil {
		return nil, err
	}
	if col.Limit > 0 && b.countLocked(to) >= col.Limit {
		return nil, fmt.Errorf("%w: %s (limit %d)", ErrColumnFull, to, col.Limit)
	}

	t := &Transition{ID: id, From: from, To: to}
	b.apply(t)
	return t, nil
}

func (b *Board) statusEndpoint() string {
	switch {
	case b.screen.Endpoints.UpdateStatus != "":
		return b.screen.Endpoints.UpdateStatus
	case b.screen.Endpoints.Update != "":
		return b.screen.Endpoints.Update
	}
	return b.screen.Endpoints.List
}

// Move переносит карточку в колонку to:
// apply -> PATCH {status} -> commit | rollback.
func (b *Board) Move(ctx context.Context, id, to string) error {
	endpoint := b.statusEndpoint()
	if endpoint == "" || b.backend == nil {
		return ErrNoEndpoint
	}

	t, err := b.begin(id, to)
	if err != nil {
		return b.fail(err)
	}
	if t == nil {
		return nil
	}

	_, err = b.backend.Patch(ctx, endpoint, id, schema.Record{b.spec.StatusField: to})
	if err != nil {
		reverted := b.rollback(t)
		b.log.Warn("status update failed",
			zap.String("id", id), zap.String("from", t.From), zap.String("to", t.To),
			zap.Bool("reverted", reverted), zap.Error(err))
		return b.fail(fmt.Errorf("move %s to %s: %w", id, to, err))
	}
	b.commit(t)
	if b.onDataChange != nil {
		b.onDataChange()
	}
	return nil
}

func (b *Board) fail(err error) error {
	if b.notify != nil {
		b.notify(err)
	}
	return err
}

// Status: текущий (возможно оптимистичный) статус карточки.
func (b *Board) Status(id string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statusLocked(id)
}

// Items: копия текущих карточек.
func (b *Board) Items() []schema.Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]schema.Record(nil), b.items...)
}

func (b *Board) View() View {
	b.mu.Lock()
	defer b.mu.Unlock()

	var fields []schema.Field
	for _, f := range b.screen.TableFields() {
		if f.Key != b.spec.StatusField && f.Key != b.spec.TitleField {
			fields = append(fields, f)
		}
	}

	cols := b.columnsLocked()
	groups := make([]Group, len(cols))
	pos := make(map[string]int, len(cols))
	for i, c := range cols {
		label := c.Label
		if label == "" {
			label = c.Value
		}
		groups[i] = Group{Value: c.Value, Label: label, Color: c.Color, Limit: c.Limit, Cards: []Card{}}
		pos[c.Value] = i
	}
	for i, it := range b.items {
		id, _ := b.identity(it, i)
		g := &groups[pos[it.String(b.spec.StatusField)]]
		cells := make([]render.Cell, len(fields))
		for j, f := range fields {
			cells[j] = render.Format(f, it)
		}
		_, pending := b.pending[id]
		g.Cards = append(g.Cards, Card{ID: id, Title: b.titleOf(it, id), Pending: pending, Cells: cells})
	}
	for i := range groups {
		groups[i].Count = len(groups[i].Cards)
		groups[i].Full = groups[i].Limit > 0 && groups[i].Count >= groups[i].Limit
	}

	v := View{Title: b.screen.Title, Groups: groups, Loading: b.loading, Degraded: b.degraded}
	if b.enricher != nil && b.enricher.Loading() {
		v.Loading = true
	}
	if b.err != nil {
		v.Error = b.err.Error()
	}
	return v
}

func (b *Board) titleOf(it schema.Record, id string) string {
	if b.spec.TitleField != "" {
		if f, ok := b.screen.Field(b.spec.TitleField); ok {
			if c := render.Format(f, it); c.Text != "" {
				return c.Text
			}
		}
		if s := it.String(b.spec.TitleField); s != "" {
			return s
		}
	}
	return id
}
