// Package lookup: поиск по удалённой коллекции для async-select.
//
// Resolver: конечный автомат с состояниями Idle, Searching, ResolvingLabel и
// Selected. Переходы происходят только по событиям: SetValue (значение пришло
// снаружи), Input (ввод в поиск), Select, Clear и завершение запросов.
// Эхо собственного выбора распознаётся состоянием Selected, а не флагом или таймером.
package lookup

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"crmconsole/internal/schema"

	"go.uber.org/zap"
)

// DefaultDebounce: пауза ввода перед поиском.
const DefaultDebounce = 300 * time.Millisecond

type State int

const (
	Idle State = iota
	Searching
	ResolvingLabel
	Selected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Searching:
		return "searching"
	case ResolvingLabel:
		return "resolving-label"
	case Selected:
		return "selected"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Fetcher: то, что резолверу нужно от коллекции.
type Fetcher interface {
	List(ctx context.Context, endpoint string, params url.Values) ([]schema.Record, error)
	Get(ctx context.Context, endpoint, id string) (schema.Record, error)
}

// Timer: отменяемый отложенный вызов.
type Timer interface {
	Stop() bool
}

// Clock планирует отложенные вызовы; в тестах подменяется.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// ChangeFunc получает выбранное значение и исходную запись (nil при очистке).
type ChangeFunc func(value string, raw schema.Record)

// Option: вариант из результатов поиска.
type Option struct {
	Value string        `json:"value"`
	Label string        `json:"label"`
	Raw   schema.Record `json:"raw,omitempty"`
}

// View: снимок состояния для отрисовки.
type View struct {
	State     State    `json:"state"`
	Value     string   `json:"value"`
	Label     string   `json:"label"`
	Unlabeled bool     `json:"unlabeled,omitempty"`
	Query     string   `json:"query"`
	Hint      string   `json:"hint,omitempty"`
	Options   []Option `json:"options"`
	Error     string   `json:"error,omitempty"`
}

type Resolver struct {
	cfg      schema.Lookup
	fetch    Fetcher
	clock    Clock
	debounce time.Duration
	onChange ChangeFunc
	log      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	state     State
	value     string
	label     string
	unlabeled bool
	query     string
	hint      string
	options   []Option
	err       string
	searchSeq uint64
	labelSeq  uint64
	timer     Timer
}

type ResolverOption func(*Resolver)

func WithClock(c Clock) ResolverOption            { return func(r *Resolver) { r.clock = c } }
func WithDebounce(d time.Duration) ResolverOption { return func(r *Resolver) { r.debounce = d } }
func WithLogger(l *zap.Logger) ResolverOption     { return func(r *Resolver) { r.log = l } }
func OnChange(fn ChangeFunc) ResolverOption       { return func(r *Resolver) { r.onChange = fn } }

func New(cfg schema.Lookup, fetch Fetcher, opts ...ResolverOption) *Resolver {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Resolver{
		cfg:      cfg.WithDefaults(),
		fetch:    fetch,
		clock:    realClock{},
		debounce: DefaultDebounce,
		log:      zap.NewNop(),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SetValue: значение пришло извне (пропс/запись формы).
func (r *Resolver) SetValue(v string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.state == Selected && v == r.value:
		// эхо собственного выбора: подпись уже известна
		r.state = Idle
		return
	case v == r.value && r.state != Selected:
		return
	case v == "":
		r.labelSeq++
		r.value, r.label, r.unlabeled = "", "", false
		r.state = Idle
		return
	}

	r.labelSeq++
	seq := r.labelSeq
	r.value, r.label, r.unlabeled = v, "", false
	r.state = ResolvingLabel

	r.wg.Add(1)
	go r.resolveLabel(seq, v)
}

func (r *Resolver) resolveLabel(seq uint64, v string) {
	defer r.wg.Done()

	rec, err := r.fetch.Get(r.ctx, r.cfg.Endpoint, v)

	r.mu.Lock()
	defer r.mu.Unlock()
	// подпись отменяют только новое значение, выбор и сброс; ввод в поиск её не отменяет
	if seq != r.labelSeq {
		return
	}
	if r.state == ResolvingLabel {
		r.state = Idle
	}
	if err != nil {
		// не блокируем форму: значение валидно, просто без подписи
		r.log.Warn("lookup label resolution failed",
			zap.String("endpoint", r.cfg.Endpoint), zap.String("value", v), zap.Error(err))
		r.label, r.unlabeled = v, true
		return
	}
	if l := rec.String(r.cfg.LabelKey); l != "" {
		r.label = l
		return
	}
	r.label, r.unlabeled = v, true
}

// Input: ввод в строку поиска. Короткие запросы не уходят в сеть.
func (r *Resolver) Input(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.searchSeq++
	seq := r.searchSeq
	r.query = text
	r.err = ""
	r.stopTimerLocked()

	if utf8.RuneCountInString(strings.TrimSpace(text)) < r.cfg.MinChars {
		r.options = nil
		r.hint = fmt.Sprintf("Type at least %d characters", r.cfg.MinChars)
		if r.state == Searching {
			r.state = Idle
		}
		return
	}
	r.hint = ""
	r.state = Searching
	r.timer = r.clock.AfterFunc(r.debounce, func() { r.fire(seq) })
}

func (r *Resolver) stopTimerLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *Resolver) fire(seq uint64) {
	r.mu.Lock()
	if seq != r.searchSeq || r.state != Searching {
		r.mu.Unlock()
		return
	}
	q := strings.TrimSpace(r.query)
	r.timer = nil
	r.wg.Add(1)
	r.mu.Unlock()

	go r.search(seq, q)
}

func (r *Resolver) search(seq uint64, q string) {
	defer r.wg.Done()

	params := url.Values{}
	params.Set(r.cfg.QueryParamKey, q)
	if r.cfg.Limit > 0 {
		params.Set("limit", strconv.Itoa(r.cfg.Limit))
	}
	rows, err := r.fetch.List(r.ctx, r.cfg.Endpoint, params)

	r.mu.Lock()
	defer r.mu.Unlock()
	// побеждает последний ввод, а не последний ответ сети
	if seq != r.searchSeq || r.state != Searching {
		return
	}
	r.state = Idle
	if err != nil {
		r.log.Warn("lookup search failed", zap.String("endpoint", r.cfg.Endpoint), zap.Error(err))
		r.err = err.Error()
		r.options = nil
		return
	}
	r.options = make([]Option, 0, len(rows))
	for _, row := range rows {
		v := row.String(r.cfg.ValueKey)
		if v == "" {
			continue
		}
		l := row.String(r.cfg.LabelKey)
		if l == "" {
			l = v
		}
		r.options = append(r.options, Option{Value: v, Label: l, Raw: row})
	}
}

// Select фиксирует выбор и ровно один раз вызывает onChange.
func (r *Resolver) Select(opt Option) {
	r.mu.Lock()
	r.stopTimerLocked()
	r.searchSeq++
	r.labelSeq++
	r.value, r.label, r.unlabeled = opt.Value, opt.Label, false
	if r.label == "" {
		r.label = opt.Value
	}
	r.query, r.hint, r.err = "", "", ""
	r.options = nil
	r.state = Selected
	fn := r.onChange
	r.mu.Unlock()

	if fn != nil {
		fn(opt.Value, opt.Raw)
	}
}

// SelectValue выбирает вариант из текущих результатов по значению.
func (r *Resolver) SelectValue(v string) bool {
	r.mu.Lock()
	var found *Option
	for i := range r.options {
		if r.options[i].Value == v {
			o := r.options[i]
			found = &o
			break
		}
	}
	r.mu.Unlock()
	if found == nil {
		return false
	}
	r.Select(*found)
	return true
}

// Clear сбрасывает выбор: onChange("", nil).
func (r *Resolver) Clear() {
	r.mu.Lock()
	r.stopTimerLocked()
	r.searchSeq++
	r.labelSeq++
	r.value, r.label, r.unlabeled = "", "", false
	r.query, r.hint, r.err = "", "", ""
	r.options = nil
	r.state = Idle
	fn := r.onChange
	r.mu.Unlock()

	if fn != nil {
		fn("", nil)
	}
}

func (r *Resolver) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return View{
		State:     r.state,
		Value:     r.value,
		Label:     r.label,
		Unlabeled: r.unlabeled,
		Query:     r.query,
		Hint:      r.hint,
		Options:   append([]Option(nil), r.options...),
		Error:     r.err,
	}
}

// Wait ждёт уже запущенные запросы.
func (r *Resolver) Wait() { r.wg.Wait() }

// Close отменяет запросы и таймер.
func (r *Resolver) Close() {
	r.mu.Lock()
	r.stopTimerLocked()
	r.searchSeq++
	r.labelSeq++
	r.mu.Unlock()
	r.cancel()
	r.wg.Wait()
}
